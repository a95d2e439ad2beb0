package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/evetabi/lendpool/internal/app"
	"github.com/evetabi/lendpool/internal/config"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "lendctl",
		Short:         "operator tooling for the lendpool service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newMigrateCmd(),
		newTokensCmd(),
		newPoolsCmd(),
		newRiskCmd(),
		newTransfersCmd(),
		newUsersCmd(),
	)
	return root
}

// env is what every command that touches the database gets.
type env struct {
	cfg  *config.Config
	db   *sqlx.DB
	svcs *app.Services
}

// withEnv loads config, connects and builds the services, runs fn and
// closes the database.
func withEnv(cmd *cobra.Command, fn func(ctx context.Context, e *env) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg)
	ctx := cmd.Context()

	db, err := app.OpenDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	svcs, err := app.NewServices(db, cfg, nil, logger)
	if err != nil {
		return err
	}
	return fn(ctx, &env{cfg: cfg, db: db, svcs: svcs})
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
