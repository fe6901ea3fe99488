package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"weatherdesk/internal/access"
	"weatherdesk/internal/auth"
	"weatherdesk/internal/dashboard"
	"weatherdesk/internal/forecast"
	"weatherdesk/internal/grid"
	"weatherdesk/internal/policy"
	"weatherdesk/internal/queue"
	"weatherdesk/internal/session"
	"weatherdesk/internal/types"
)

// Directory is everything the CLI asks of the directory service.
type Directory interface {
	auth.Directory
	access.Directory
	dashboard.AuditSource
}

// Weather serves the weather panel and the grid lookups.
type Weather interface {
	dashboard.WeatherSource
	grid.BatchSource
}

type deps struct {
	directory  Directory
	weather    Weather
	predictors map[types.Property]forecast.Predictor
	store      session.Store
	policy     *policy.Enforcer
	logger     *slog.Logger
	level      *slog.LevelVar
	version    string

	// confirm answers destructive prompts; nil prompts on the terminal.
	confirm access.Confirmer
	// password reads a secret; nil prompts on the terminal.
	password func(prompt string) (string, error)
}

type cli struct {
	deps

	auth       *auth.Service
	loader     *dashboard.Loader
	dispatcher *forecast.Dispatcher
	sampler    *grid.Sampler

	yes     bool
	verbose bool
}

func newCLI(d deps) *cli {
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return &cli{
		deps:       d,
		auth:       auth.NewService(d.directory, nil, d.logger.With("component", "auth")),
		loader:     dashboard.NewLoader(d.directory, d.policy, d.logger.With("component", "dashboard")),
		dispatcher: forecast.NewDispatcher(d.predictors, d.logger.With("component", "forecast")),
		sampler:    grid.NewSampler(d.weather, d.logger.With("component", "grid")),
	}
}

func (c *cli) root() *cobra.Command {
	root := &cobra.Command{
		Use:   "deskctl",
		Short: "WeatherDesk CLI - weather, forecasts and account access",
		Long: `deskctl is the command-line client for WeatherDesk. Sign in once with
"deskctl login"; the identity is kept in a local session file until logout.`,
		Version:       c.version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if c.verbose && c.level != nil {
				c.level.Set(slog.LevelDebug)
			}
		},
	}
	root.PersistentFlags().BoolVar(&c.verbose, "verbose", false, "Log service calls to stderr")

	root.AddCommand(
		c.loginCmd(),
		c.signupCmd(),
		c.logoutCmd(),
		c.whoamiCmd(),
		c.dashboardCmd(),
		c.weatherCmd(),
		c.accessCmd(),
		c.usersCmd(),
		c.accountCmd(),
		c.predictCmd(),
		c.gridCmd(),
	)
	return root
}

// session loads the signed in identity.
func (c *cli) session(ctx context.Context) (*session.Session, error) {
	return session.Load(ctx, c.store)
}

// authorized loads the session and checks that its role holds capability.
func (c *cli) authorized(ctx context.Context, capability policy.Capability) (*session.Session, error) {
	sess, err := c.session(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.policy.Authorize(sess.Identity().Role, capability); err != nil {
		return nil, err
	}
	return sess, nil
}

func (c *cli) manager(sess *session.Session) *access.Manager {
	logger := c.logger.With("component", "access")
	return access.NewManager(c.directory, sess, c.policy, c.confirmer(), queue.LogPublisher{Logger: logger}, logger)
}

func (c *cli) confirmer() access.Confirmer {
	switch {
	case c.yes:
		return access.Confirmed(true)
	case c.confirm != nil:
		return c.confirm
	}
	return access.ConfirmFunc(func(_ context.Context, prompt string) (bool, error) {
		return pterm.DefaultInteractiveConfirm.WithDefaultValue(false).Show(prompt)
	})
}

func (c *cli) readPassword(prompt string) (string, error) {
	if c.password != nil {
		return c.password(prompt)
	}
	return pterm.DefaultInteractiveTextInput.WithMask("*").Show(prompt)
}

// addYesFlag registers --yes on a destructive command.
func (c *cli) addYesFlag(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&c.yes, "yes", "y", false, "Skip the confirmation prompt")
}

// declined turns a refused confirmation into a quiet no-op.
func declined(err error) error {
	if types.IsCode(err, types.ErrCodeConfirmationDeclined) {
		pterm.Info.Println("Cancelled")
		return nil
	}
	return err
}

// coordinateFlags reads --lat and --lon. Both absent yields nil when
// optional is set; otherwise each must be present and in range.
func coordinateFlags(cmd *cobra.Command, lat, lon float64, optional bool) (*types.Coordinate, error) {
	latSet, lonSet := cmd.Flags().Changed("lat"), cmd.Flags().Changed("lon")
	if optional && !latSet && !lonSet {
		return nil, nil
	}
	if !latSet {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "--lat is required", nil)
	}
	if !lonSet {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "--lon is required", nil)
	}
	if !(lat >= -90 && lat <= 90) {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidLat, "lat must be between -90 and 90", nil)
	}
	if !(lon >= -180 && lon <= 180) {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidLon, "lon must be between -180 and 180", nil)
	}
	return &types.Coordinate{Lat: lat, Lon: lon}, nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}
