package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aihub/docsearch/internal/knowledge"
	"github.com/aihub/docsearch/internal/logger"
	"github.com/aihub/docsearch/internal/storage"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var watchSettle time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Ingest files dropped into a directory",
	Long: `Watches a directory and ingests every supported file created in it.
A file is picked up once it has not been written to for the settle period.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchSettle, "settle", 2*time.Second, "quiet period before a new file is ingested")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	return withRuntime(func(rt *Runtime) error {
		folder := &DropFolder{
			Dir:    args[0],
			Settle: watchSettle,
			Ingest: func(ctx context.Context, path string) error {
				doc, err := uploadFile(ctx, rt.Docs, path)
				if err != nil {
					return err
				}
				cmd.Printf("document %d queued (%s)\n", doc.ID, doc.Filename)
				return nil
			},
		}
		cmd.Printf("watching %s\n", args[0])
		return folder.Run(cmd.Context())
	})
}

// DropFolder 监听目录中新建的文件
type DropFolder struct {
	Dir    string
	Settle time.Duration
	Ingest func(ctx context.Context, path string) error

	// ready 在监听就绪后关闭，测试用
	ready chan struct{}
}

// Run 阻塞直到 ctx 结束
func (d *DropFolder) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(d.Dir); err != nil {
		return err
	}
	if d.ready != nil {
		close(d.ready)
	}

	var (
		mu      sync.Mutex
		pending = make(map[string]*time.Timer)
		settled = make(chan string)
	)
	defer func() {
		mu.Lock()
		for _, t := range pending {
			t.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			mu.Lock()
			if t, seen := pending[ev.Name]; seen {
				// 仍在写入，推迟处理
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					t.Reset(d.Settle)
				}
			} else if ev.Has(fsnotify.Create) && eligibleDropFile(ev.Name) {
				path := ev.Name
				pending[path] = time.AfterFunc(d.Settle, func() {
					select {
					case settled <- path:
					case <-ctx.Done():
					}
				})
			}
			mu.Unlock()

		case path := <-settled:
			mu.Lock()
			delete(pending, path)
			mu.Unlock()
			if !eligibleDropFile(path) {
				continue
			}
			if err := d.Ingest(ctx, path); err != nil {
				logger.Warn("failed to ingest dropped file", zap.String("path", path), zap.Error(err))
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", zap.String("dir", d.Dir), zap.Error(err))
		}
	}
}

// eligibleDropFile 非隐藏、支持类型的普通文件
func eligibleDropFile(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return knowledge.IsSupportedContentType(storage.ContentTypeFor(path))
}
