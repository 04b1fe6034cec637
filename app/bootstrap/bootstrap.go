package bootstrap

import (
	"context"
	"log"

	"github.com/aihub/docsearch/internal/config"
	"github.com/aihub/docsearch/internal/database"
	"github.com/aihub/docsearch/internal/di"
	"github.com/aihub/docsearch/internal/kafka"
	"github.com/aihub/docsearch/internal/knowledge"
	"github.com/aihub/docsearch/internal/logger"
	"github.com/aihub/docsearch/internal/services"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Options 控制进程内启动哪些后台组件
type Options struct {
	// StartWorkers 在本进程内启动处理工作池
	StartWorkers bool
	// StartHealthChecks 启动后台数据库健康检查
	StartHealthChecks bool
}

// App encapsulates lifecycle resources that need to be cleaned up on shutdown.
type App struct {
	Config    *config.Config
	Container *dig.Container

	ctx            context.Context
	cancel         context.CancelFunc
	cleanupTasks   []func() error
	workersStarted bool
}

// Init bootstraps configuration, logger, the dependency graph and the
// background components selected by opts.
func Init(opts Options) (*App, error) {
	// Load environment variables from .env if present (non-fatal if missing).
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	if err := logger.InitLogger(); err != nil {
		return nil, err
	}

	if err := config.LoadConfig(); err != nil {
		return nil, err
	}

	container, err := di.Build(config.AppConfig)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		Config:    config.AppConfig,
		Container: container,
		ctx:       ctx,
		cancel:    cancel,
	}

	err = container.Invoke(func(db *gorm.DB, rdb *redis.Client, registry *knowledge.ModelRegistry, closers *di.Closers) {
		app.cleanupTasks = append(app.cleanupTasks, func() error { return database.Close(db) })
		if rdb != nil {
			app.cleanupTasks = append(app.cleanupTasks, rdb.Close)
		}
		app.cleanupTasks = append(app.cleanupTasks, registry.Close)
		// 按需打开的索引句柄先于模型与数据库关闭
		app.cleanupTasks = append(app.cleanupTasks, closers.Close)
	})
	if err != nil {
		app.Shutdown()
		return nil, err
	}

	if opts.StartHealthChecks {
		err = container.Invoke(func(hc *database.HealthChecker) {
			hc.Start(ctx)
			app.cleanupTasks = append(app.cleanupTasks, func() error {
				hc.Stop()
				return nil
			})
		})
		if err != nil {
			app.Shutdown()
			return nil, err
		}
	}

	// 未启用 Kafka 时上传的任务只能由本进程消费
	if opts.StartWorkers || !app.Config.Kafka.Enabled {
		if err := app.StartWorkers(); err != nil {
			app.Shutdown()
			return nil, err
		}
	}

	err = container.Invoke(func(queue services.JobQueue) {
		if producer, ok := queue.(*kafka.Producer); ok {
			app.cleanupTasks = append(app.cleanupTasks, producer.Close)
		}
	})
	if err != nil {
		app.Shutdown()
		return nil, err
	}

	logger.Info("application initialized",
		zap.String("env", app.Config.Server.Env),
		zap.Bool("kafka", app.Config.Kafka.Enabled),
		zap.String("vectorStore", app.Config.Knowledge.VectorStore.Provider))
	return app, nil
}

// StartWorkers 启动进程内工作池，重复调用只启动一次
func (a *App) StartWorkers() error {
	if a.workersStarted {
		return nil
	}
	a.workersStarted = true
	return a.Container.Invoke(func(pool *services.IngestWorkerPool) error {
		if err := pool.Start(a.ctx); err != nil {
			return err
		}
		a.cleanupTasks = append(a.cleanupTasks, func() error {
			pool.Close()
			return nil
		})
		return nil
	})
}

// Context 进程生命周期上下文，Shutdown 时取消
func (a *App) Context() context.Context {
	return a.ctx
}

// Invoke 从容器解析依赖
func (a *App) Invoke(function interface{}) error {
	return a.Container.Invoke(function)
}

// Shutdown flushes/logs and closes resources gracefully.
func (a *App) Shutdown() {
	a.cancel()

	// Execute cleanup tasks in reverse order (best effort).
	for i := len(a.cleanupTasks) - 1; i >= 0; i-- {
		if err := a.cleanupTasks[i](); err != nil {
			log.Printf("Cleanup error: %v\n", err)
		}
	}
	a.cleanupTasks = nil

	// Flush logger buffers.
	logger.Sync()
}
