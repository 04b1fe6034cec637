// Package cli 实现 docsearch 命令行工具
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aihub/docsearch/app/bootstrap"
	"github.com/aihub/docsearch/internal/knowledge"
	"github.com/aihub/docsearch/internal/models"
	"github.com/aihub/docsearch/internal/services"
	"github.com/spf13/cobra"
)

// DocumentService 命令行使用的文档操作
type DocumentService interface {
	Upload(ctx context.Context, req services.UploadRequest) (*models.Document, error)
	Reprocess(ctx context.Context, id int64) (*models.Document, error)
	Get(ctx context.Context, id int64) (*models.Document, error)
	List(ctx context.Context, page, limit int, status string) ([]models.Document, int64, error)
	Status(ctx context.Context, id int64) (*services.DocumentStatus, error)
}

// AnswerService 命令行使用的检索与问答
type AnswerService interface {
	Search(ctx context.Context, selector, query string) ([]knowledge.RankedResult, error)
	Answer(ctx context.Context, selector, query string) (*services.AnswerResult, error)
}

// Runtime 命令执行所需的服务
type Runtime struct {
	Docs    DocumentService
	Answers AnswerService
	Close   func()
}

// openRuntime 构建完整依赖图；测试中替换
var openRuntime = func() (*Runtime, error) {
	app, err := bootstrap.Init(bootstrap.Options{})
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Close: app.Shutdown}
	err = app.Invoke(func(docs *services.DocumentService, answers *services.AnswerService) {
		rt.Docs = docs
		rt.Answers = answers
	})
	if err != nil {
		app.Shutdown()
		return nil, err
	}
	return rt, nil
}

var rootCmd = &cobra.Command{
	Use:   "docsearch",
	Short: "Ingest documents and ask questions about them",
	Long: `docsearch stores documents, extracts their text (with OCR fallback),
indexes them for semantic search and answers questions with a local LLM.`,
	SilenceUsage: true,
}

// Execute 运行根命令
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// withRuntime 打开运行时并在命令结束后释放
func withRuntime(fn func(rt *Runtime) error) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	if rt.Close != nil {
		defer rt.Close()
	}
	return fn(rt)
}
