package database

import (
	"fmt"

	"github.com/aihub/docsearch/internal/config"
	"github.com/aihub/docsearch/internal/logger"
	"github.com/aihub/docsearch/internal/models"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open 按配置建立 gorm 连接并设置连接池
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.URL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)

	if cfg.AutoMigrate {
		if err := AutoMigrate(db); err != nil {
			logger.Warn("Database auto migration failed", zap.Error(err))
		}
	}
	return db, nil
}

// AutoMigrate 创建文档表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&models.Document{})
}

// Close 关闭底层连接
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
