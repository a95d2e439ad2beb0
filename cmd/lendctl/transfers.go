package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newTransfersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transfers",
		Short: "maintain the outgoing transfer outbox",
	}

	var (
		status string
		limit  int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "print transfers, optionally filtered by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnv(cmd, func(ctx context.Context, e *env) error {
				rows, total, err := e.svcs.Transfer.List(ctx, status, limit, 0)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{"total": total, "transfers": rows})
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "pending, sent, failed or compensated")
	list.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "dispatch",
		Short: "deliver one batch of pending transfers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnv(cmd, func(ctx context.Context, e *env) error {
				if !e.svcs.Transfer.GatewayEnabled() {
					return fmt.Errorf("TRANSFER_GATEWAY_URL is not set")
				}
				stats, err := e.svcs.Transfer.DispatchBatch(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), stats)
			})
		},
	})

	cmd.AddCommand(transferActionCmd("retry", "re-queue a failed transfer", func(ctx context.Context, e *env, id uuid.UUID) (interface{}, error) {
		return e.svcs.Transfer.Retry(ctx, id)
	}))
	cmd.AddCommand(transferActionCmd("compensate", "credit an undelivered transfer back to its receiver", func(ctx context.Context, e *env, id uuid.UUID) (interface{}, error) {
		return e.svcs.Transfer.Compensate(ctx, id)
	}))
	return cmd
}

func transferActionCmd(name, short string, fn func(ctx context.Context, e *env, id uuid.UUID) (interface{}, error)) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <transfer-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid transfer id %q: %w", args[0], err)
			}
			return withEnv(cmd, func(ctx context.Context, e *env) error {
				t, err := fn(ctx, e, id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), t)
			})
		},
	}
}
