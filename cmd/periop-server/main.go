package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/periop/periop/internal/config"
	"github.com/periop/periop/internal/domain/roster"
	"github.com/periop/periop/internal/domain/staff"
	"github.com/periop/periop/internal/platform/archive"
	"github.com/periop/periop/internal/platform/db"
	"github.com/periop/periop/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "periop-server",
		Short: "Perioperative case and staffing API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(facilityCmd())
	rootCmd.AddCommand(staffCmd())
	rootCmd.AddCommand(rosterCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// connect loads config and opens the pool for one-shot commands.
func connect(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func facilityFlag(cmd *cobra.Command, cfg *config.Config) (string, error) {
	facility, _ := cmd.Flags().GetString("facility")
	if facility == "" {
		facility = cfg.DefaultFacility
	}
	if !db.ValidFacilityID(facility) {
		return "", fmt.Errorf("invalid facility identifier %q", facility)
	}
	return facility, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations to a facility schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			facility, err := facilityFlag(cmd, cfg)
			if err != nil {
				return err
			}
			schema := db.SchemaName(facility)
			fmt.Printf("Running migrations on schema: %s\n", schema)

			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("facility", "", "Facility identifier (defaults to DEFAULT_FACILITY)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			facility, err := facilityFlag(cmd, cfg)
			if err != nil {
				return err
			}
			schema := db.SchemaName(facility)
			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("facility", "", "Facility identifier (defaults to DEFAULT_FACILITY)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func facilityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "facility",
		Short: "Manage facilities",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a facility schema and migrate it",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			ctx := cmd.Context()
			_, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating facility schema: %s\n", db.SchemaName(name))
			if err := db.CreateFacilitySchema(ctx, pool, name, db.NewMigrator(pool, migrations.FS)); err != nil {
				return err
			}
			fmt.Println("Facility created. Add it to FACILITIES so background refreshes include it.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Facility identifier (alphanumeric)")

	cmd.AddCommand(createCmd)
	return cmd
}

func staffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "staff",
		Short: "Manage the staff directory",
	}

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Upsert staff members from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			if path == "" {
				return fmt.Errorf("--file is required")
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			members, err := readStaffFile(f)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			ctx := cmd.Context()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			facility, err := facilityFlag(cmd, cfg)
			if err != nil {
				return err
			}
			svc := staff.NewService(staff.NewRepoPG(pool))
			return db.WithFacilityConn(ctx, pool, facility, func(ctx context.Context) error {
				n, err := svc.Import(ctx, members)
				if err != nil {
					return fmt.Errorf("import stopped after %d member(s): %w", n, err)
				}
				fmt.Printf("Imported %d staff member(s) into %s.\n", n, facility)
				return nil
			})
		},
	}
	importCmd.Flags().String("file", "", "JSON array of staff members")
	importCmd.Flags().String("facility", "", "Facility identifier (defaults to DEFAULT_FACILITY)")

	cmd.AddCommand(importCmd)
	return cmd
}

func rosterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roster",
		Short: "Shift roster maintenance",
	}

	archiveCmd := &cobra.Command{
		Use:   "archive",
		Short: "Archive a day's shift assignment",
		RunE: func(cmd *cobra.Command, args []string) error {
			dayFlag, _ := cmd.Flags().GetString("day")
			day, err := roster.ParseDay(dayFlag)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			facility, err := facilityFlag(cmd, cfg)
			if err != nil {
				return err
			}
			store, err := archive.Open(ctx, archiveConfig(cfg))
			if err != nil {
				return err
			}
			defer store.Close()

			archiver := roster.NewArchiver(roster.NewShiftRepoPG(pool), store, newLogger(cfg.Env))
			return db.WithFacilityConn(ctx, pool, facility, func(ctx context.Context) error {
				snap, created, err := archiver.Archive(ctx, facility, day)
				if err != nil {
					return err
				}
				if created {
					fmt.Printf("Archived %s as %s.\n", day, snap.ID)
				} else {
					fmt.Printf("Version already archived as %s.\n", snap.ID)
				}
				return nil
			})
		},
	}
	archiveCmd.Flags().String("day", "", "Day to archive (YYYY-MM-DD)")
	archiveCmd.Flags().String("facility", "", "Facility identifier (defaults to DEFAULT_FACILITY)")

	cmd.AddCommand(archiveCmd)
	return cmd
}
