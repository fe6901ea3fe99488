package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"weatherdesk/internal/dashboard"
	"weatherdesk/internal/grid"
	"weatherdesk/internal/policy"
	"weatherdesk/internal/types"
)

func (c *cli) dashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Show the landing view for your role",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := c.authorized(cmd.Context(), policy.ViewDashboard)
			if err != nil {
				return err
			}
			view, err := c.loader.Load(cmd.Context(), sess.Identity(), c.manager(sess))
			if err != nil {
				return err
			}
			return renderDashboard(view)
		},
	}
}

func renderDashboard(view *dashboard.View) error {
	pterm.DefaultSection.Printfln("%s (%s)", view.Identity.Username, view.Identity.Role)
	switch {
	case view.Admin != nil:
		return renderUsers(view.Admin.Users, view.Admin.Pending)
	case view.User != nil:
		return pterm.DefaultTable.WithData(pterm.TableData{
			{"Access", string(view.User.Status)},
			{"Can predict", yesNo(view.User.CanPredict)},
		}).Render()
	case view.Debugger != nil:
		if len(view.Debugger.Logs) == 0 {
			pterm.Info.Println("Audit log is empty")
			return nil
		}
		data := pterm.TableData{{"Time", "User", "Action", "Details"}}
		for _, e := range view.Debugger.Logs {
			data = append(data, []string{e.Timestamp, e.Username, e.Action, string(e.Details)})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	}
	return nil
}

func (c *cli) weatherCmd() *cobra.Command {
	var lat, lon float64
	cmd := &cobra.Command{
		Use:   "weather",
		Short: "Show current conditions, air quality and the past week",
		Long: `Shows the weather panel for --lat/--lon, or for London when neither
is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			at, err := coordinateFlags(cmd, lat, lon, true)
			if err != nil {
				return err
			}
			if _, err := c.authorized(cmd.Context(), policy.ReadWeather); err != nil {
				return err
			}
			report, err := c.loader.Weather(cmd.Context(), c.weather, at)
			if err != nil {
				return err
			}
			return renderWeather(report)
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "Latitude in decimal degrees")
	cmd.Flags().Float64Var(&lon, "lon", 0, "Longitude in decimal degrees")
	return cmd
}

func renderWeather(r *dashboard.Report) error {
	pterm.DefaultSection.Printfln("Weather at %.4f, %.4f", r.Location.Lat, r.Location.Lon)
	cur := r.Current
	rows := pterm.TableData{
		{"Temperature", formatFloat(cur.Temperature) + " °C"},
		{"Feels like", formatFloat(cur.ApparentTemperature) + " °C"},
		{"Humidity", formatFloat(cur.RelativeHumidity) + " %"},
		{"Dew point", formatFloat(r.DewPoint) + " °C"},
		{"Wind", fmt.Sprintf("%s km/h from %.0f°", formatFloat(cur.WindSpeed), cur.WindDirection)},
		{"Pressure", formatFloat(cur.SurfacePressure) + " hPa"},
		{"Visibility", formatFloat(r.VisibilityKm) + " km"},
		{"Precipitation", formatFloat(cur.Precipitation) + " mm"},
		{"Air quality", fmt.Sprintf("%.0f (%s)", r.AQI, r.AQILabel)},
	}
	if r.Today != nil {
		rows = append(rows,
			[]string{"Today", fmt.Sprintf("%s / %s °C", formatFloat(r.Today.TemperatureMin), formatFloat(r.Today.TemperatureMax))},
			[]string{"Sunrise / sunset", r.Today.Sunrise + " / " + r.Today.Sunset},
			[]string{"UV index", formatFloat(r.Today.UVIndexMax)},
		)
	}
	if err := pterm.DefaultTable.WithData(rows).Render(); err != nil {
		return err
	}
	if r.AQIElevated {
		pterm.Warning.Println("Air quality is elevated")
	}
	if len(r.History) == 0 {
		return nil
	}
	history := pterm.TableData{{"Date", "Mean °C"}}
	for _, h := range r.History {
		history = append(history, []string{h.Date, formatFloat(h.Temperature)})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(history).Render()
}

func (c *cli) predictCmd() *cobra.Command {
	var (
		lat, lon float64
		property string
	)
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Run an LLM forecast for a point",
		Long: `Runs the multi-day LLM forecast of one property (T2M, RH2M or WS2M)
at --lat/--lon. Requires approved access.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := c.session(cmd.Context())
			if err != nil {
				return err
			}

			q := types.ForecastQuery{Property: types.Property(property)}
			if cmd.Flags().Changed("lat") {
				q.Lat = &lat
			}
			if cmd.Flags().Changed("lon") {
				q.Lon = &lon
			}
			if err := c.dispatcher.Validate(q); err != nil {
				return err
			}
			if err := c.manager(sess).RequirePredict(cmd.Context()); err != nil {
				return err
			}

			spinner, _ := pterm.DefaultSpinner.Start("Forecasting " + property)
			result, err := c.dispatcher.Predict(cmd.Context(), q)
			if spinner != nil {
				_ = spinner.Stop()
			}
			if err != nil {
				return err
			}

			data := pterm.TableData{{"Date", property}}
			for _, p := range result {
				data = append(data, []string{p.Date, formatFloat(p.Value)})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "Latitude in decimal degrees")
	cmd.Flags().Float64Var(&lon, "lon", 0, "Longitude in decimal degrees")
	cmd.Flags().StringVar(&property, "property", string(types.PropertyT2M), "T2M, RH2M or WS2M")
	return cmd
}

func (c *cli) gridCmd() *cobra.Command {
	var (
		lat, lon float64
		property string
	)
	cmd := &cobra.Command{
		Use:   "grid",
		Short: "Sample current values on a 5x5 lattice around a point",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			focal, err := coordinateFlags(cmd, lat, lon, false)
			if err != nil {
				return err
			}
			prop := types.Property(property)
			if !prop.Valid() {
				return types.NewAppError(types.ErrCodeValidationInvalidProperty, "property must be one of T2M, RH2M, WS2M", nil)
			}
			if _, err := c.authorized(cmd.Context(), policy.SampleGrid); err != nil {
				return err
			}

			res, err := c.sampleGrid(cmd.Context(), *focal, prop)
			if err != nil {
				return err
			}
			if types.IsCode(res.Err, types.ErrCodePartialGridBatch) {
				pterm.Warning.Println("The weather service returned an unusable batch; no values to show")
				return nil
			}
			if res.Err != nil {
				return res.Err
			}
			return renderGrid(res.Points, prop)
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "Latitude of the focal point")
	cmd.Flags().Float64Var(&lon, "lon", 0, "Longitude of the focal point")
	cmd.Flags().StringVar(&property, "property", string(types.PropertyT2M), "T2M, RH2M or WS2M")
	return cmd
}

// sampleGrid runs one generation through a grid.View and waits for it.
func (c *cli) sampleGrid(ctx context.Context, focal types.Coordinate, prop types.Property) (grid.Result, error) {
	results := make(chan grid.Result, 1)
	view := grid.NewView(c.sampler, func(r grid.Result) {
		select {
		case results <- r:
		default:
		}
	})
	defer view.Close()

	view.Update(ctx, focal, prop)
	select {
	case r := <-results:
		return r, nil
	case <-ctx.Done():
		return grid.Result{}, ctx.Err()
	}
}

// renderGrid prints the lattice with north at the top.
func renderGrid(points []types.GridPoint, prop types.Property) error {
	n := len(grid.Offsets)
	header := []string{"lat \\ lon"}
	for col := 0; col < n && col < len(points); col++ {
		header = append(header, strconv.FormatFloat(points[col].Lon, 'f', 2, 64))
	}
	data := pterm.TableData{header}
	for row := n - 1; row >= 0; row-- {
		if (row+1)*n > len(points) {
			continue
		}
		line := []string{strconv.FormatFloat(points[row*n].Lat, 'f', 2, 64)}
		for _, p := range points[row*n : (row+1)*n] {
			line = append(line, formatFloat(p.Value)+" "+p.Band.Label)
		}
		data = append(data, line)
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return err
	}

	legend := make([]string, 0, len(grid.Legend(prop)))
	for _, b := range grid.Legend(prop) {
		legend = append(legend, b.Label)
	}
	pterm.Info.Printfln("%s bands: %v", prop, legend)
	return nil
}
