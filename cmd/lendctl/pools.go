package main

import (
	"context"

	"github.com/spf13/cobra"
)

func newPoolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pools",
		Short: "inspect lending pools",
	}

	var (
		from  int64
		limit int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "print a page of pools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnv(cmd, func(ctx context.Context, e *env) error {
				pools, err := e.svcs.Pools.ListPools(ctx, from, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), pools)
			})
		},
	}
	list.Flags().Int64Var(&from, "from", 0, "first pool id")
	list.Flags().IntVar(&limit, "limit", 20, "page size")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "positions <account-id>",
		Short: "print an account's position in every pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, func(ctx context.Context, e *env) error {
				state, err := e.svcs.Pools.AccountState(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), state)
			})
		},
	})
	return cmd
}

func newRiskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "risk",
		Short: "collateral ratio monitoring",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "scan",
		Short: "scan every borrower once and print the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnv(cmd, func(ctx context.Context, e *env) error {
				report, err := e.svcs.Risk.Scan(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	})
	return cmd
}
