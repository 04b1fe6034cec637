package cli

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/aihub/docsearch/internal/config"
	"github.com/aihub/docsearch/internal/database"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	_ "github.com/lib/pq" // PostgreSQL driver
)

var migrationsDir string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the document database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: withMigrations(func(cmd *cobra.Command, mm *database.MigrationManager, _ []string) error {
		cmd.Println("Running migrations up...")
		if err := mm.Up(); err != nil {
			return fmt.Errorf("migration up failed: %w", err)
		}
		cmd.Println("Migrations completed successfully")
		return nil
	}),
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the last migration",
	Args:  cobra.NoArgs,
	RunE: withMigrations(func(cmd *cobra.Command, mm *database.MigrationManager, _ []string) error {
		cmd.Println("Rolling back last migration...")
		if err := mm.Down(); err != nil {
			return fmt.Errorf("migration down failed: %w", err)
		}
		cmd.Println("Rollback completed successfully")
		return nil
	}),
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the schema version and whether migrations are pending",
	Args:  cobra.NoArgs,
	RunE: withMigrations(func(cmd *cobra.Command, mm *database.MigrationManager, _ []string) error {
		version, dirty, err := mm.Version()
		if err != nil {
			return fmt.Errorf("failed to get version: %w", err)
		}
		cmd.Printf("Current version: %d", version)
		if dirty {
			cmd.Print(" (dirty - manual intervention required)")
		}
		cmd.Println()

		pending, err := mm.Pending()
		if err != nil {
			return fmt.Errorf("failed to check pending migrations: %w", err)
		}
		if pending {
			cmd.Println("Status: Pending migrations available")
		} else {
			cmd.Println("Status: All migrations applied")
		}
		return nil
	}),
}

var migrateGotoCmd = &cobra.Command{
	Use:   "goto [version]",
	Short: "Migrate up or down to a specific version",
	Args:  cobra.ExactArgs(1),
	RunE: withMigrations(func(cmd *cobra.Command, mm *database.MigrationManager, args []string) error {
		version, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil || version == 0 {
			return fmt.Errorf("invalid version %q", args[0])
		}
		if err := mm.MigrateTo(uint(version)); err != nil {
			return fmt.Errorf("migration to version %d failed: %w", version, err)
		}
		cmd.Printf("Successfully migrated to version %d\n", version)
		return nil
	}),
}

var migrateForceCmd = &cobra.Command{
	Use:   "force [version]",
	Short: "Set the schema version without running migrations",
	Args:  cobra.ExactArgs(1),
	RunE: withMigrations(func(cmd *cobra.Command, mm *database.MigrationManager, args []string) error {
		version, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version %q", args[0])
		}
		if err := mm.ForceVersion(uint(version)); err != nil {
			return err
		}
		cmd.Printf("Forced version %d\n", version)
		return nil
	}),
}

var migrateCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create an empty up/down migration pair",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := migrationsDir
		if dir == "" {
			dir = "internal/database/migrations"
		}
		up, down, err := database.CreateMigrationFile(dir, args[0], time.Now())
		if err != nil {
			return err
		}
		cmd.Printf("Created %s\nCreated %s\n", up, down)
		return nil
	},
}

func init() {
	migrateCmd.PersistentFlags().StringVar(&migrationsDir, "dir", "", "migrations directory (defaults to the embedded set)")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd, migrateGotoCmd, migrateForceCmd, migrateCreateCmd)
	rootCmd.AddCommand(migrateCmd)
}

// withMigrations 只加载配置与数据库连接，不构建完整依赖图
func withMigrations(fn func(cmd *cobra.Command, mm *database.MigrationManager, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		if err := config.LoadConfig(); err != nil {
			return err
		}

		db, err := sql.Open("postgres", config.AppConfig.Database.URL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()
		if err := db.PingContext(cmd.Context()); err != nil {
			return fmt.Errorf("failed to ping database: %w", err)
		}

		log := logrus.New()
		log.SetOutput(os.Stderr)
		log.SetLevel(logrus.InfoLevel)

		dir := migrationsDir
		if dir == "" {
			dir = config.AppConfig.Database.MigrationsDir
		}
		mm, err := database.NewMigrationManager(db, dir, log)
		if err != nil {
			return err
		}
		defer mm.Close()

		return fn(cmd, mm, args)
	}
}
