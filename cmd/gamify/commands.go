package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/feedbackhub/gamification/internal/application/command"
	"github.com/feedbackhub/gamification/internal/application/saga"
	"github.com/feedbackhub/gamification/internal/domain/shared"
	"github.com/feedbackhub/gamification/internal/infrastructure/persistence/postgres"
	"github.com/feedbackhub/gamification/pkg/logger"
	"github.com/feedbackhub/gamification/pkg/retry"
	"github.com/feedbackhub/gamification/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATE
// ══════════════════════════════════════════════════════════════════════════════

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(cmd.Context(), opts, func(ctx context.Context, m *postgres.Migrator) error {
					n, err := m.Migrate(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(cmd.Context(), opts, func(ctx context.Context, m *postgres.Migrator) error {
					v, err := m.Rollback(ctx)
					if err != nil {
						return err
					}
					if v == 0 {
						fmt.Fprintln(cmd.OutOrStdout(), "nothing to roll back")
						return nil
					}
					fmt.Fprintf(cmd.OutOrStdout(), "rolled back migration %d\n", v)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show which migrations are applied",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(cmd.Context(), opts, func(ctx context.Context, m *postgres.Migrator) error {
					list, err := m.Status(ctx)
					if err != nil {
						return err
					}
					printMigrations(cmd.OutOrStdout(), list)
					return nil
				})
			},
		},
	)
	return cmd
}

func withMigrator(ctx context.Context, opts *rootOptions, fn func(context.Context, *postgres.Migrator) error) error {
	cfg, log, err := opts.bootstrap()
	if err != nil {
		return err
	}
	if cfg.UsesMemoryStorage() {
		return errors.New("migrations need STORAGE_DRIVER=postgres")
	}

	conn, err := postgres.NewConnection(ctx, postgresConfig(cfg), log)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close()

	return fn(ctx, postgres.NewMigrator(conn))
}

func printMigrations(w io.Writer, list []postgres.Migration) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED")
	for _, m := range list {
		applied := "pending"
		if m.IsApplied {
			applied = m.AppliedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", m.Version, m.Name, applied)
	}
	_ = tw.Flush()
}

// ══════════════════════════════════════════════════════════════════════════════
// SEED
// ══════════════════════════════════════════════════════════════════════════════

func newSeedCmd(opts *rootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert achievement definitions from a YAML catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, log, err := opts.bootstrap()
			if err != nil {
				return err
			}

			store, err := openStorage(ctx, cfg, log, false)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := seedCatalog(ctx, store.Catalog, file)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d achievement(s) from %s\n", n, file)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "configs/achievements.yaml", "catalog file")
	return cmd
}

// ══════════════════════════════════════════════════════════════════════════════
// PROFILE
// ══════════════════════════════════════════════════════════════════════════════

func newProfileCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage user profiles",
	}
	cmd.AddCommand(newProfileCreateCmd(opts))
	return cmd
}

func newProfileCreateCmd(opts *rootOptions) *cobra.Command {
	var (
		userID    string
		createdAt string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Provision a level-1 profile for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				c := command.CreateProfileCommand{UserID: userID}
				if createdAt != "" {
					t, err := timeutil.ParseDate(createdAt, a.cfg.Gamification.Location)
					if err != nil {
						return fmt.Errorf("invalid --created-at %q: %w", createdAt, err)
					}
					c.AccountCreatedAt = t
				}

				res, err := a.createProfile.Handle(ctx, c)
				if res != nil {
					if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "user ID")
	cmd.Flags().StringVar(&createdAt, "created-at", "", "account creation date (YYYY-MM-DD), defaults to now")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// ══════════════════════════════════════════════════════════════════════════════
// SYNC POINTS / EVALUATE
// ══════════════════════════════════════════════════════════════════════════════

func newSyncPointsCmd(opts *rootOptions) *cobra.Command {
	var (
		userID  string
		retries int
	)

	cmd := &cobra.Command{
		Use:   "sync-points",
		Short: "Recompute a user's points and level from the activity ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				res, err := retry.DoWithData(ctx, storagePolicy(a.log, retries), func(ctx context.Context) (*command.SyncPointsResult, error) {
					return a.syncPoints.Handle(ctx, command.SyncPointsCommand{UserID: userID})
				})
				if res != nil {
					if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "user ID")
	cmd.Flags().IntVar(&retries, "retries", 3, "attempts on storage failures")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newEvaluateCmd(opts *rootOptions) *cobra.Command {
	var (
		userID  string
		retries int
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Award every achievement a user qualifies for",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				// A failed attempt may already have written some awards; the
				// next attempt no longer sees them as candidates.
				var earlier *saga.EvaluateAchievementsResult
				res, err := retry.DoWithData(ctx, storagePolicy(a.log, retries), func(ctx context.Context) (*saga.EvaluateAchievementsResult, error) {
					res, err := a.evaluate.Execute(ctx, saga.EvaluateAchievementsInput{UserID: userID})
					if res != nil {
						res.MergeEarlier(earlier)
						earlier = res
					}
					return res, err
				})
				if res != nil {
					if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "user ID")
	cmd.Flags().IntVar(&retries, "retries", 3, "attempts on storage failures")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// storagePolicy retries only collaborator failures. Re-running either
// operation is safe: reconciliation is a recomputation and awards are
// at most once per user.
func storagePolicy(log *logger.Logger, attempts int) retry.Policy {
	return retry.StorageFailures(attempts, shared.IsRetryable,
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			log.Warn("retrying",
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
				logger.Err(err),
			)
		}),
	)
}

func withApp(ctx context.Context, opts *rootOptions, fn func(context.Context, *app) error) error {
	cfg, log, err := opts.bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	a, err := newApp(ctx, cfg, log, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ══════════════════════════════════════════════════════════════════════════════
// VERSION
// ══════════════════════════════════════════════════════════════════════════════

func newVersionCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := version
			if v == "" {
				cfg, _, err := opts.bootstrap()
				if err != nil {
					return err
				}
				v = cfg.App.Version
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	}
}
