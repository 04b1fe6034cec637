package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aihub/docsearch/internal/config"
	"github.com/aihub/docsearch/internal/logger"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// MinIOStore MinIO对象存储
type MinIOStore struct {
	client *minio.Client
	bucket string
}

// NewMinIOStore 创建MinIO存储并确保 bucket 存在
func NewMinIOStore(ctx context.Context, cfg config.ObjectStorageConfig) (*MinIOStore, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint not configured")
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "documents"
	}

	// minio.New 不接受协议前缀
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "http://"), "https://")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	store := &MinIOStore{client: client, bucket: bucket}
	if err := store.ensureBucket(ctx, 5); err != nil {
		return nil, err
	}
	return store, nil
}

// ensureBucket MinIO 可能晚于本进程启动，按递增间隔重试
func (s *MinIOStore) ensureBucket(ctx context.Context, attempts int) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err == nil && exists {
			return nil
		}
		if err == nil {
			err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
			code := minio.ToErrorResponse(err).Code
			if err == nil || code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
				logger.Info("MinIO bucket ready", zap.String("bucket", s.bucket))
				return nil
			}
		}
		lastErr = err

		wait := time.Duration(i+1) * 2 * time.Second
		logger.Warn("MinIO bucket check failed, retrying",
			zap.Int("attempt", i+1), zap.Duration("wait", wait), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("failed to prepare bucket %s: %w", s.bucket, lastErr)
}

func (s *MinIOStore) Put(ctx context.Context, filename string, r io.Reader, size int64, contentType string) (string, error) {
	key := objectKey(filename)
	if contentType == "" {
		contentType = ContentTypeFor(filename)
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to save file to storage: %w", err)
	}
	return key, nil
}

func (s *MinIOStore) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to open object %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return data, nil
}

func (s *MinIOStore) Delete(ctx context.Context, key string) error {
	return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
}
