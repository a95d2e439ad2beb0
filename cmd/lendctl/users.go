package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evetabi/lendpool/internal/domain"
	"github.com/evetabi/lendpool/internal/service"
)

func newUsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "manage staff and feeder accounts",
	}

	var (
		req  service.RegisterRequest
		role string
	)
	create := &cobra.Command{
		Use:     "create",
		Short:   "create a user with the given role",
		Example: "lendctl users create --username feeder1 --email feeder@example.com --password '…' --role price_feeder",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r := domain.UserRole(role)
			if !r.IsValid() {
				return fmt.Errorf("unknown role %q", role)
			}
			if len(req.Password) < 8 {
				return fmt.Errorf("password must be at least 8 characters")
			}
			return withEnv(cmd, func(ctx context.Context, e *env) error {
				u, err := e.svcs.Auth.CreateUser(ctx, req, r)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s) role=%s account=%s\n", u.Username, u.ID, u.Role, u.AccountID())
				return nil
			})
		},
	}
	create.Flags().StringVar(&req.Username, "username", "", "login name")
	create.Flags().StringVar(&req.Email, "email", "", "email address")
	create.Flags().StringVar(&req.Password, "password", "", "initial password")
	create.Flags().StringVar(&role, "role", string(domain.RoleUser), "user, admin, risk, ops, price_feeder, token_receiver or readonly")
	for _, f := range []string{"username", "email", "password"} {
		_ = create.MarkFlagRequired(f)
	}
	cmd.AddCommand(create)
	return cmd
}
