package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"nero/internal/infrastructure/postgres"
	"nero/internal/infrastructure/postgres/listener"
	"nero/internal/shared/auth"
	"nero/internal/shared/config"
	"nero/internal/shared/telemetry"
)

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "admin",
		Short: "Nero Admin CLI - management commands for the Nero API",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newMigrateCommand(),
		newSweepCommand(),
		newStaleCommand(),
		newSyncCommand(),
		newLogsCommand(),
		newTokenCommand(),
	)
	return rootCmd
}

func newMigrateCommand() *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return postgres.Migrate(cfg.Database.URL())
		},
	})

	var steps int
	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := postgres.MigrateDown(cfg.Database.URL(), steps); err != nil {
				return err
			}
			log.Printf("Rolled back %d migration(s)", steps)
			return nil
		},
	}
	downCmd.Flags().IntVar(&steps, "steps", 1, "Number of migrations to roll back")
	migrateCmd.AddCommand(downCmd)

	return migrateCmd
}

func newSweepCommand() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run a full sweep of every sweepable connection now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), timeout, func(ctx context.Context, app *app) error {
				report, err := app.sweeper.RunFullSweep(ctx)
				if report != nil {
					printJSON(report)
				}
				return err
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Hour, "Timeout for the whole sweep")
	return cmd
}

func newStaleCommand() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "stale",
		Short: "Run one staleness check now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), timeout, func(ctx context.Context, app *app) error {
				report, err := app.sweeper.RunStalenessCheck(ctx)
				if report != nil {
					printJSON(report)
				}
				return err
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", time.Hour, "Timeout for the check")
	return cmd
}

func newSyncCommand() *cobra.Command {
	var (
		notify  bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "sync <user-id> <connection-id>",
		Short: "Sync one connection",
		Long: `Sync one connection in this process, or with --notify ask the running
API to sync it through the connection_sync_requested channel.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, connectionID := strings.TrimSpace(args[0]), strings.TrimSpace(args[1])

			if notify {
				return withDB(cmd.Context(), func(ctx context.Context, db *postgres.DB) error {
					if err := listener.RequestSync(ctx, db, userID, connectionID); err != nil {
						return err
					}
					log.Printf("Sync of connection %s requested", connectionID)
					return nil
				})
			}

			return withApp(cmd.Context(), timeout, func(ctx context.Context, app *app) error {
				run, err := app.sweeper.SyncOne(ctx, userID, connectionID)
				if run != nil {
					printJSON(run)
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&notify, "notify", false, "Ask the running API to sync instead of syncing here")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "Timeout for the sync")
	return cmd
}

func newLogsCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "logs <connection-id>",
		Short: "Show the latest sync attempts of a connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), func(ctx context.Context, db *postgres.DB) error {
				entries, err := postgres.NewSyncLogRepository(db).ListByConnection(ctx, args[0], limit)
				if err != nil {
					return err
				}
				for _, e := range entries {
					msg := ""
					if e.ErrorMessage != nil {
						msg = *e.ErrorMessage
					}
					fmt.Printf("%s  %-8s %-8s accounts=%d transactions=%d %s\n",
						e.StartedAt.Format(time.RFC3339), e.SyncType, e.Status, e.AccountsSynced, e.TransactionsSynced, msg)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of entries to show")
	return cmd
}

func newTokenCommand() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue an API bearer token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			token, err := auth.NewJWT(cfg.JWT.Secret).Generate(args[0], email)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Email claim of the token")
	return cmd
}

func withDB(ctx context.Context, fn func(ctx context.Context, db *postgres.DB) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(ctx, db)
}

func withApp(ctx context.Context, timeout time.Duration, fn func(ctx context.Context, app *app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Spans of a one-shot command are flushed on exit. Metrics stay in
	// process since nothing scrapes a short-lived command.
	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.Init(ctx, telemetryConfig(cfg))
		if err != nil {
			return err
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(flushCtx); err != nil {
				log.Printf("Error shutting down telemetry: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.db.Close()

	start := time.Now()
	err = fn(ctx, a)
	log.Printf("Completed in %v", time.Since(start))
	return err
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Printf("Error encoding output: %v", err)
	}
}
