package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/lushonline/moodle-mod-externalcontent/internal/config"
	"github.com/lushonline/moodle-mod-externalcontent/internal/logging"
	"github.com/lushonline/moodle-mod-externalcontent/internal/sqliteutil"
	"github.com/lushonline/moodle-mod-externalcontent/internal/store"
)

type rootOptions struct {
	ConfigPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "lrs",
		Short:         "xAPI learning record store for externalcontent modules",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config (LRS_* env vars override it)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newWorkerCommand(opts))
	cmd.AddCommand(newSeedCommand(opts))
	cmd.AddCommand(newReportCommand(opts))
	cmd.AddCommand(newCredentialsCommand(opts))
	return cmd
}

// runtime is what every subcommand needs: config, logger and an
// initialised store.
type runtime struct {
	cfg    config.Config
	logger *slog.Logger
	store  *store.Store
	close  func() error
}

func openRuntime(ctx context.Context, opts *rootOptions) (*runtime, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.Log.Format, cfg.Log.Level)

	db, err := sqliteutil.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	st := store.New(db)
	if err := st.Init(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init lrs schema: %w", err)
	}
	return &runtime{cfg: cfg, logger: logger, store: st, close: db.Close}, nil
}
