package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskdesk/internal/app"
	"taskdesk/internal/domain"
	"taskdesk/internal/engine/policy"
)

func userCmd() *cobra.Command {
	u := &cobra.Command{Use: "user", Short: "Manage accounts"}
	u.AddCommand(userListCmd())
	u.AddCommand(userCreateCmd())
	u.AddCommand(userRoleCmd())
	u.AddCommand(userDepartmentCmd())
	u.AddCommand(userDeleteCmd())
	return u
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts visible to you",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				if err := s.Reload(ctx, domain.KindAccount); err != nil {
					return err
				}
				items := s.Accounts.List()
				if viper.GetBool("json") {
					return printJSON(items)
				}
				actor := s.Actor()
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Username", "Role", "Department", "Created", "Can manage"})
				for _, r := range items {
					a := r.(domain.Account)
					tw.AppendRow(table.Row{
						a.ID, a.Username, a.Role, a.Department, a.CreatedAt,
						yesNo(policy.CanMutate(actor, a, policy.ActionChangeRole)),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func userCreateCmd() *cobra.Command {
	var username, password, department, role string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" || password == "" || department == "" {
				return fmt.Errorf("--username, --password and --department required")
			}
			r, err := domain.ParseRole(role)
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				res, err := s.Accounts.RequestCreate(ctx, domain.Fields{
					"username":             username,
					"password":             password,
					domain.FieldDepartment: department,
					domain.FieldRole:       string(r),
				}, s.Actor())
				if err != nil {
					return err
				}
				a := res.(domain.Account)
				return printJSONOrText(a, fmt.Sprintf("created account %s (%s)", a.Username, a.ID))
			})
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "initial password")
	cmd.Flags().StringVarP(&department, "department", "d", "", "department")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleUser), "role: user, manager, admin")
	return cmd
}

func userRoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "role <id> <role>",
		Short: "Change an account's role (admin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := domain.ParseRole(args[1])
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				if err := s.Reload(ctx, domain.KindAccount); err != nil {
					return err
				}
				res, err := s.Accounts.RequestRoleChange(ctx, args[0], role, s.Actor())
				if err != nil {
					return err
				}
				a := res.(domain.Account)
				return printJSONOrText(a, fmt.Sprintf("%s is now %s", a.Username, a.Role))
			})
		},
	}
}

func userDepartmentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "department <id> <department>",
		Short: "Move an account to another department (admin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				if err := s.Reload(ctx, domain.KindAccount); err != nil {
					return err
				}
				res, err := s.Accounts.RequestDepartmentChange(ctx, args[0], args[1], s.Actor())
				if err != nil {
					return err
				}
				a := res.(domain.Account)
				return printJSONOrText(a, fmt.Sprintf("%s moved to %s", a.Username, a.Department))
			})
		},
	}
}

func userDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an account and its tasks (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				if err := s.Reload(ctx, domain.KindAccount); err != nil {
					return err
				}
				if err := s.Accounts.RequestDelete(ctx, args[0], s.Actor()); err != nil {
					return err
				}
				return printJSONOrText(map[string]string{"deleted": args[0]}, "deleted account "+args[0])
			})
		},
	}
}
