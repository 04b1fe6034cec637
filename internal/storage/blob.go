package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/aihub/docsearch/internal/config"
	"github.com/google/uuid"
)

// BlobStore 原始上传文件的存储
type BlobStore interface {
	// Put 保存文件并返回存储键
	Put(ctx context.Context, filename string, r io.Reader, size int64, contentType string) (string, error)
	// Get 读取完整文件内容
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// New 按配置选择存储实现
func New(ctx context.Context, cfg config.ObjectStorageConfig) (BlobStore, error) {
	switch cfg.Provider {
	case "", "local":
		return NewLocalStore(cfg.BasePath)
	case "minio":
		return NewMinIOStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported storage provider %q", cfg.Provider)
	}
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// objectKey 生成 "<uuid>_<安全文件名>" 形式的存储键
func objectKey(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	base = strings.Trim(unsafeNameChars.ReplaceAllString(base, "_"), "_.")
	if base == "" {
		base = "upload"
	}
	return uuid.NewString() + "_" + base
}

// ContentTypeFor 按扩展名推断内容类型
func ContentTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".txt":
		return "text/plain"
	case ".md":
		return "text/markdown"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".tif", ".tiff":
		return "image/tiff"
	case ".bmp":
		return "image/bmp"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
