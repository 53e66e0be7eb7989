package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gamerequest/gamerequest-server/internal/domain"
	"github.com/gamerequest/gamerequest-server/internal/service"
	"github.com/gamerequest/gamerequest-server/internal/store"
)

func newUserCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}
	cmd.AddCommand(newCreateAdminCommand(ctx))
	cmd.AddCommand(newUserListCommand(ctx))
	cmd.AddCommand(newSetActiveCommand(ctx, "enable", true))
	cmd.AddCommand(newSetActiveCommand(ctx, "disable", false))
	return cmd
}

func newSetActiveCommand(ctx *commandContext, verb string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <username>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.store()
			if err != nil {
				return err
			}
			user, err := st.GetUserByUsername(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("user %q: %w", args[0], err)
			}
			user, err = st.SetUserActive(cmd.Context(), user.ID, active)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s active: %s\n", user.Username, yesNo(user.Active))
			return nil
		},
	}
}

func newCreateAdminCommand(ctx *commandContext) *cobra.Command {
	var req service.RegisterRequest

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an administrator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			authService, err := invoke[*service.AuthService](ctx)
			if err != nil {
				return err
			}
			user, err := authService.CreateUser(cmd.Context(), req, domain.RoleAdmin)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created admin %s (%s)\n", user.Username, user.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Username, "username", "", "Username")
	cmd.Flags().StringVar(&req.Email, "email", "", "Email address")
	cmd.Flags().StringVar(&req.Password, "password", "", "Password (at least 8 characters)")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newUserListCommand(ctx *commandContext) *cobra.Command {
	var offset, limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.store()
			if err != nil {
				return err
			}
			users, total, err := st.ListUsers(cmd.Context(), store.PageParams{Offset: offset, Limit: limit})
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(users))
			for _, u := range users {
				rows = append(rows, []string{
					u.Username,
					u.Email,
					string(u.Role),
					yesNo(u.Active),
					u.CreatedAt.Format("2006-01-02"),
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]string{"Username", "Email", "Role", "Active", "Created"}, rows, nil))
			fmt.Fprintln(out, strconv.Itoa(total)+" accounts")
			return nil
		},
	}

	cmd.Flags().IntVar(&offset, "offset", 0, "Rows to skip")
	cmd.Flags().IntVar(&limit, "limit", 50, "Rows to show")
	return cmd
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
