package database

import (
	"context"
	"fmt"
	"time"

	"github.com/aihub/docsearch/internal/config"
	"github.com/aihub/docsearch/internal/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// InitRedis 连接 Redis；未启用时返回 nil
func InitRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		DB:   cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis connected successfully", zap.String("addr", rdb.Options().Addr))
	return rdb, nil
}
