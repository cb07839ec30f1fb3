package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/device-presence-service/internal/config"
	"github.com/sandeepkv93/device-presence-service/internal/di"
	"github.com/sandeepkv93/device-presence-service/internal/tools/common"
)

var envFile string

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "presence-api",
		Short:        "Device presence and session tracking service",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional KEY=VALUE file loaded before config")
	cmd.AddCommand(newServeCommand(), newMigrateCommand(), newSweepCommand(), newBootstrapAdminCommand())
	return cmd
}

func loadConfig() (*config.Config, error) {
	if err := common.LoadEnvFile(envFile); err != nil {
		return nil, err
	}
	return config.Load()
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background session sweep",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if cfg.BootstrapAdminEmail != "" {
				if err := bootstrapAdmin(ctx, cfg); err != nil {
					return err
				}
			}

			a, cleanup, err := di.InitializeApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()
			if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			core, cleanup, err := di.InitializeCore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()
			core.Logger.InfoContext(cmd.Context(), "schema migrated")
			return nil
		},
	}
}

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Purge expired and revoked sessions once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			core, cleanup, err := di.InitializeCore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()
			purged, err := core.Sweeper.SweepOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d sessions\n", purged)
			return nil
		},
	}
}

func newBootstrapAdminCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap-admin",
		Short: "Create the administrator named by BOOTSTRAP_ADMIN_EMAIL if missing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.BootstrapAdminEmail == "" {
				return errors.New("BOOTSTRAP_ADMIN_EMAIL is not set")
			}
			return bootstrapAdmin(cmd.Context(), cfg)
		},
	}
}

func bootstrapAdmin(ctx context.Context, cfg *config.Config) error {
	core, cleanup, err := di.InitializeCore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	admin, created, err := core.Clients.EnsureAdmin(ctx, core.Audit, cfg.BootstrapAdminEmail, cfg.BootstrapAdminPassword)
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	core.Logger.InfoContext(ctx, "bootstrap admin ready", "client_id", admin.ID, "created", created)
	return nil
}
