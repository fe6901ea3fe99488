package main

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"weatherdesk/internal/policy"
	"weatherdesk/internal/types"
)

func (c *cli) accessCmd() *cobra.Command {
	group := &cobra.Command{
		Use:   "access",
		Short: "Request, inspect or give up LLM forecast access",
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show your access status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := c.authorized(cmd.Context(), policy.ReadOwnStatus)
			if err != nil {
				return err
			}
			m := c.manager(sess)
			ok, err := m.CanPredict(cmd.Context())
			if err != nil {
				return err
			}
			return pterm.DefaultTable.WithData(pterm.TableData{
				{"Username", sess.Identity().Username},
				{"Status", string(m.Status())},
				{"Can predict", yesNo(ok)},
			}).Render()
		},
	}

	request := &cobra.Command{
		Use:   "request",
		Short: "Ask an admin for LLM forecast access",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := c.session(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.manager(sess).RequestAccess(cmd.Context()); err != nil {
				return err
			}
			pterm.Success.Println("Access requested; an admin will review it")
			return nil
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke",
		Short: "Give up your LLM forecast access",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := c.session(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.manager(sess).Revoke(cmd.Context(), sess.Identity().Username); err != nil {
				return declined(err)
			}
			pterm.Success.Println("Access revoked")
			return nil
		},
	}
	c.addYesFlag(revoke)

	group.AddCommand(status, request, revoke)
	return group
}

func (c *cli) usersCmd() *cobra.Command {
	group := &cobra.Command{
		Use:   "users",
		Short: "Administer accounts (admin only)",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List accounts and pending requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := c.authorized(cmd.Context(), policy.ListUsers)
			if err != nil {
				return err
			}
			m := c.manager(sess)
			if err := m.Load(cmd.Context()); err != nil {
				return err
			}
			return renderUsers(m.Users(), m.Pending())
		},
	}

	approve := &cobra.Command{
		Use:   "approve <username>",
		Short: "Grant a pending access request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := c.session(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.manager(sess).Approve(cmd.Context(), args[0]); err != nil {
				return err
			}
			pterm.Success.Printfln("Approved %s", args[0])
			return nil
		},
	}

	toggle := &cobra.Command{
		Use:   "access <username> <on|off>",
		Short: "Set a user's access flag directly",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var desired bool
			switch args[1] {
			case "on":
				desired = true
			case "off":
			default:
				return types.NewAppError(types.ErrCodeValidationInvalidValue, fmt.Sprintf("access must be on or off, got %q", args[1]), nil)
			}
			sess, err := c.session(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.manager(sess).ToggleAccess(cmd.Context(), args[0], desired); err != nil {
				return declined(err)
			}
			pterm.Success.Printfln("Access for %s is now %s", args[0], args[1])
			return nil
		},
	}
	c.addYesFlag(toggle)

	revoke := &cobra.Command{
		Use:   "revoke <username>",
		Short: "Revoke a user's access",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := c.session(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.manager(sess).Revoke(cmd.Context(), args[0]); err != nil {
				return declined(err)
			}
			pterm.Success.Printfln("Revoked access for %s", args[0])
			return nil
		},
	}
	c.addYesFlag(revoke)

	del := &cobra.Command{
		Use:   "delete <username>",
		Short: "Delete a user account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := c.session(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.manager(sess).DeleteUser(cmd.Context(), args[0]); err != nil {
				return declined(err)
			}
			pterm.Success.Printfln("Deleted %s", args[0])
			return nil
		},
	}
	c.addYesFlag(del)

	group.AddCommand(list, approve, toggle, revoke, del)
	return group
}

func renderUsers(users []types.UserRecord, pending []string) error {
	data := pterm.TableData{{"Username", "Role", "Status", "LLM access"}}
	for _, u := range users {
		data = append(data, []string{u.Username, string(u.Role), string(u.Status()), yesNo(u.HasLLMAccess)})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return err
	}
	if len(pending) == 0 {
		pterm.Info.Println("No pending requests")
		return nil
	}
	pterm.Info.Printfln("%d pending request(s)", len(pending))
	items := make([]pterm.BulletListItem, len(pending))
	for i, p := range pending {
		items[i] = pterm.BulletListItem{Level: 0, Text: p}
	}
	return pterm.DefaultBulletList.WithItems(items).Render()
}
