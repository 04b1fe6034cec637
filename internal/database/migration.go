package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// MigrationManager 数据库迁移管理器
type MigrationManager struct {
	migrate *migrate.Migrate
	source  source.Driver
	logger  *logrus.Logger
}

// NewMigrationManager 创建迁移管理器；migrationPath 为空时使用内置迁移
func NewMigrationManager(db *sql.DB, migrationPath string, logger *logrus.Logger) (*MigrationManager, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	src, sourceName, err := openMigrationSource(migrationPath)
	if err != nil {
		return nil, err
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	m, err := migrate.NewWithInstance(sourceName, src, "postgres", driver)
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	return &MigrationManager{
		migrate: m,
		source:  src,
		logger:  logger,
	}, nil
}

func openMigrationSource(migrationPath string) (source.Driver, string, error) {
	if migrationPath == "" {
		src, err := iofs.New(embeddedMigrations, "migrations")
		if err != nil {
			return nil, "", fmt.Errorf("failed to open embedded migrations: %w", err)
		}
		return src, "iofs", nil
	}

	absPath, err := filepath.Abs(migrationPath)
	if err == nil {
		migrationPath = absPath
	}
	src, err := source.Open("file://" + migrationPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open migrations at %s: %w", migrationPath, err)
	}
	return src, "file", nil
}

// Up 执行所有待执行的迁移
func (mm *MigrationManager) Up() error {
	mm.logger.Info("Starting database migration up")

	err := mm.migrate.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		mm.logger.Info("No migrations to apply")
	} else {
		mm.logger.Info("Database migrations completed successfully")
	}
	return nil
}

// Down 回滚最后一次迁移
func (mm *MigrationManager) Down() error {
	mm.logger.Info("Rolling back last migration")

	if err := mm.migrate.Steps(-1); err != nil {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}

	mm.logger.Info("Migration rollback completed")
	return nil
}

// MigrateTo 迁移到指定版本（向上或向下）
func (mm *MigrationManager) MigrateTo(version uint) error {
	mm.logger.Infof("Migrating to version %d", version)

	err := mm.migrate.Migrate(version)
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to migrate to version %d: %w", version, err)
	}

	mm.logger.Infof("Successfully migrated to version %d", version)
	return nil
}

// Version 获取当前数据库版本，未执行过迁移时返回 0
func (mm *MigrationManager) Version() (uint, bool, error) {
	version, dirty, err := mm.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}

// Pending 检查是否有待执行的迁移
func (mm *MigrationManager) Pending() (bool, error) {
	version, dirty, err := mm.Version()
	if err != nil {
		return false, err
	}
	if dirty {
		return false, fmt.Errorf("database is in dirty state at version %d", version)
	}

	if version == 0 {
		_, err = mm.source.First()
	} else {
		_, err = mm.source.Next(version)
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read migration source: %w", err)
	}
	return true, nil
}

// ForceVersion 强制设置数据库版本（用于修复脏状态）
func (mm *MigrationManager) ForceVersion(version uint) error {
	mm.logger.Warnf("Force setting migration version to %d", version)

	if err := mm.migrate.Force(int(version)); err != nil {
		return fmt.Errorf("failed to force version %d: %w", version, err)
	}
	return nil
}

// Close 关闭迁移管理器
func (mm *MigrationManager) Close() error {
	sourceErr, dbErr := mm.migrate.Close()
	if sourceErr != nil {
		mm.logger.Errorf("Error closing migration source: %v", sourceErr)
	}
	if dbErr != nil {
		mm.logger.Errorf("Error closing migration database: %v", dbErr)
	}

	if sourceErr != nil || dbErr != nil {
		return fmt.Errorf("errors occurred while closing migrator: source=%v, db=%v", sourceErr, dbErr)
	}
	return nil
}

var migrationNamePattern = regexp.MustCompile(`[^a-z0-9]+`)

// CreateMigrationFile 在目录中创建一对空的 up/down 迁移文件，返回文件路径
func CreateMigrationFile(migrationPath, name string, now time.Time) (string, string, error) {
	slug := strings.Trim(migrationNamePattern.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if slug == "" {
		return "", "", fmt.Errorf("invalid migration name %q", name)
	}
	if err := os.MkdirAll(migrationPath, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create migration dir: %w", err)
	}

	base := fmt.Sprintf("%s_%s", now.UTC().Format("20060102150405"), slug)
	up := filepath.Join(migrationPath, base+".up.sql")
	down := filepath.Join(migrationPath, base+".down.sql")

	for _, path := range []string{up, down} {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			return "", "", fmt.Errorf("failed to create %s: %w", path, err)
		}
		_ = f.Close()
	}
	return up, down, nil
}
