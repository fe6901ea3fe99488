package main

import (
	"errors"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"weatherdesk/internal/auth"
	"weatherdesk/internal/session"
)

func (c *cli) credentials(username, password string) (auth.Credentials, error) {
	if password == "" {
		p, err := c.readPassword("Password")
		if err != nil {
			return auth.Credentials{}, err
		}
		password = p
	}
	return auth.Credentials{Username: username, Password: password}, nil
}

func (c *cli) loginCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Sign in and remember the identity locally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := c.credentials(args[0], password)
			if err != nil {
				return err
			}
			sess, err := c.auth.Login(cmd.Context(), c.store, creds)
			if err != nil {
				return err
			}
			id := sess.Identity()
			pterm.Success.Printfln("Signed in as %s (%s)", id.Username, id.Role)
			if fs, ok := c.store.(*session.FileStore); ok {
				pterm.Info.Printfln("Session saved to %s", fs.Path())
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (prompted when omitted)")
	return cmd
}

func (c *cli) signupCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "signup <username>",
		Short: "Create a user account",
		Long: `Creates a user account in the directory. New accounts have no LLM
forecast access; request it with "deskctl access request" after signing in.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := c.credentials(args[0], password)
			if err != nil {
				return err
			}
			if err := c.auth.Signup(cmd.Context(), creds); err != nil {
				return err
			}
			pterm.Success.Printfln("Account %s created; sign in with `deskctl login %s`", creds.Username, creds.Username)
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (prompted when omitted)")
	return cmd
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the local session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := c.session(cmd.Context())
			if errors.Is(err, session.ErrNoSession) {
				pterm.Info.Println("Not signed in")
				return nil
			}
			if err != nil {
				return err
			}
			if err := c.auth.Logout(cmd.Context(), sess); err != nil {
				return err
			}
			pterm.Success.Printfln("Signed out %s", sess.Identity().Username)
			return nil
		},
	}
}

func (c *cli) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed in identity and what it may do",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := c.session(cmd.Context())
			if err != nil {
				return err
			}
			id := sess.Identity()
			caps := c.policy.Capabilities(id.Role)
			names := make([]string, len(caps))
			for i, cp := range caps {
				names[i] = cp.String()
			}
			return pterm.DefaultTable.WithData(pterm.TableData{
				{"Username", id.Username},
				{"Role", string(id.Role)},
				{"Capabilities", strings.Join(names, ", ")},
			}).Render()
		},
	}
}

func (c *cli) accountCmd() *cobra.Command {
	account := &cobra.Command{
		Use:   "account",
		Short: "Manage your own account",
	}
	del := &cobra.Command{
		Use:   "delete",
		Short: "Delete your account and sign out",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := c.session(cmd.Context())
			if err != nil {
				return err
			}
			username := sess.Identity().Username
			if err := declined(c.manager(sess).DeleteUser(cmd.Context(), username)); err != nil {
				return err
			}
			if !sess.Active() {
				pterm.Success.Printfln("Account %s deleted; you have been signed out", username)
			}
			return nil
		},
	}
	c.addYesFlag(del)
	account.AddCommand(del)
	return account
}
