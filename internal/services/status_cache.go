package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aihub/docsearch/internal/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DocumentStatus 缓存中的文档状态
type DocumentStatus struct {
	DocumentID   int64     `json:"document_id"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RedisStatusCache 文档状态缓存与单文档处理锁。client 为 nil 时所有操作为空实现
type RedisStatusCache struct {
	client redis.Cmdable
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStatusCache 创建状态缓存
func NewRedisStatusCache(client redis.Cmdable, ttl time.Duration) *RedisStatusCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisStatusCache{client: client, ttl: ttl, now: time.Now}
}

func (c *RedisStatusCache) enabled() bool {
	return c != nil && c.client != nil
}

func statusKey(docID int64) string {
	return fmt.Sprintf("docsearch:doc:%d:status", docID)
}

func lockKey(docID int64) string {
	return fmt.Sprintf("docsearch:doc:%d:lock", docID)
}

// StatusChanged 实现 StatusObserver；写缓存失败只记日志
func (c *RedisStatusCache) StatusChanged(ctx context.Context, docID int64, status, errorMessage string) {
	if !c.enabled() {
		return
	}
	payload, err := json.Marshal(DocumentStatus{
		DocumentID:   docID,
		Status:       status,
		ErrorMessage: errorMessage,
		UpdatedAt:    c.now().UTC(),
	})
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, statusKey(docID), payload, c.ttl).Err(); err != nil {
		logger.Warn("failed to cache document status", zap.Int64("documentID", docID), zap.Error(err))
	}
}

// Get 读取缓存状态，未命中返回 (nil, nil)
func (c *RedisStatusCache) Get(ctx context.Context, docID int64) (*DocumentStatus, error) {
	if !c.enabled() {
		return nil, nil
	}
	raw, err := c.client.Get(ctx, statusKey(docID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var st DocumentStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Invalidate 删除缓存状态
func (c *RedisStatusCache) Invalidate(ctx context.Context, docID int64) error {
	if !c.enabled() {
		return nil
	}
	return c.client.Del(ctx, statusKey(docID)).Err()
}

var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// LockHeld 查询处理锁是否被持有；未启用 Redis 时 known 为 false
func (c *RedisStatusCache) LockHeld(ctx context.Context, docID int64) (held, known bool, err error) {
	if !c.enabled() {
		return false, false, nil
	}
	n, err := c.client.Exists(ctx, lockKey(docID)).Result()
	if err != nil {
		return false, false, err
	}
	return n > 0, true, nil
}

// AcquireLock 尝试获取单文档处理锁，返回释放函数。
// 未启用 Redis 时总是成功。
func (c *RedisStatusCache) AcquireLock(ctx context.Context, docID int64, owner string, ttl time.Duration) (bool, func(), error) {
	if !c.enabled() {
		return true, func() {}, nil
	}
	ok, err := c.client.SetNX(ctx, lockKey(docID), owner, ttl).Result()
	if err != nil || !ok {
		return false, func() {}, err
	}
	release := func() {
		if err := releaseLockScript.Run(context.WithoutCancel(ctx), c.client, []string{lockKey(docID)}, owner).Err(); err != nil {
			logger.Warn("failed to release document lock", zap.Int64("documentID", docID), zap.Error(err))
		}
	}
	return true, release, nil
}
