// Package cli is the operator command line for the reservation service.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hackgods/venue-reservations/internal/app"
	"github.com/hackgods/venue-reservations/internal/config"
	"github.com/hackgods/venue-reservations/internal/logger"
	"github.com/hackgods/venue-reservations/internal/migrate"
)

var (
	Version   = "dev"
	CommitSHA = "none"
	BuildDate = "unknown"
)

type rootOptions struct {
	noRedis bool
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "reservectl",
		Short:         "Operate the venue reservation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&opts.noRedis, "no-redis", false, "serialize jobs in-process instead of taking a Redis lock")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newSlotsCmd(opts))
	root.AddCommand(newSweepCmd(opts))
	root.AddCommand(newLifecycleCmd(opts))

	return root
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// open loads configuration and connects everything a command needs. The
// returned cleanup closes connections and flushes the logger.
func open(ctx context.Context, opts *rootOptions) (*app.App, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log := logger.Must(cfg.Env)

	a, err := app.New(ctx, cfg, log, app.Options{Redis: !opts.noRedis})
	if err != nil {
		_ = log.Sync()
		return nil, nil, err
	}
	return a, func() {
		a.Close()
		_ = log.Sync()
	}, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "reservectl %s (commit=%s, built=%s)\n", Version, CommitSHA, BuildDate)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			// Migrations run here explicitly, not as a side effect of open.
			cfg.MigrateOnStart = false
			log := logger.Must(cfg.Env)
			defer func() { _ = log.Sync() }()

			a, err := app.New(ctx, cfg, log, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			applied, err := migrate.Up(ctx, a.Pool, a.Log)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
			}
			log.Info("migrations applied", zap.Int("count", len(applied)))
			return nil
		},
	}
}
