package database

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DependencyCheck 单个依赖的探活函数
type DependencyCheck func(ctx context.Context) error

// SQLPing 对 database/sql 连接执行 ping
func SQLPing(db *sql.DB) DependencyCheck {
	return db.PingContext
}

// RedisPing 对 Redis 执行 PING
func RedisPing(rdb redis.UniversalClient) DependencyCheck {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}

// ComponentStatus 单个依赖的检查结果
type ComponentStatus struct {
	Healthy      bool   `json:"healthy"`
	LastError    string `json:"last_error,omitempty"`
	ResponseTime string `json:"response_time,omitempty"`
}

// HealthCheckResult 健康检查结果
type HealthCheckResult struct {
	Healthy    bool                       `json:"healthy"`
	LastCheck  time.Time                  `json:"last_check"`
	Components map[string]ComponentStatus `json:"components"`
}

// HealthChecker 依赖健康检查器，第一个注册的探针视为必需
type HealthChecker struct {
	checks        map[string]DependencyCheck
	order         []string
	logger        *logrus.Logger
	checkInterval time.Duration
	timeout       time.Duration
	retryDelay    time.Duration
	maxRetries    int

	mu        sync.RWMutex
	status    map[string]ComponentStatus
	lastCheck time.Time
	stopChan  chan struct{}
	running   bool
}

// NewHealthChecker 创建以数据库为必需依赖的健康检查器
func NewHealthChecker(db *sql.DB, logger *logrus.Logger) *HealthChecker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	hc := &HealthChecker{
		checks:        map[string]DependencyCheck{},
		logger:        logger,
		checkInterval: 30 * time.Second,
		timeout:       5 * time.Second,
		retryDelay:    5 * time.Second,
		maxRetries:    3,
		status:        map[string]ComponentStatus{},
		stopChan:      make(chan struct{}),
	}
	hc.AddCheck("database", SQLPing(db))
	return hc
}

// AddCheck 注册额外依赖
func (hc *HealthChecker) AddCheck(name string, check DependencyCheck) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	if _, exists := hc.checks[name]; !exists {
		hc.order = append(hc.order, name)
	}
	hc.checks[name] = check
}

// SetCheckInterval 设置检查间隔
func (hc *HealthChecker) SetCheckInterval(interval time.Duration) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checkInterval = interval
}

// SetRetryConfig 设置重试配置
func (hc *HealthChecker) SetRetryConfig(delay time.Duration, maxRetries int) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.retryDelay = delay
	hc.maxRetries = maxRetries
}

// Start 周期检查，直到 ctx 结束或调用 Stop
func (hc *HealthChecker) Start(ctx context.Context) {
	hc.mu.Lock()
	if hc.running {
		hc.mu.Unlock()
		return
	}
	hc.running = true
	interval := hc.checkInterval
	hc.mu.Unlock()

	hc.logger.Info("Starting health checker")
	go hc.checkAndUpdate(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			hc.markStopped()
			return
		case <-hc.stopChan:
			hc.markStopped()
			return
		case <-ticker.C:
			go hc.checkAndUpdate(ctx)
		}
	}
}

func (hc *HealthChecker) markStopped() {
	hc.mu.Lock()
	hc.running = false
	hc.mu.Unlock()
	hc.logger.Info("Health checker stopped")
}

// Stop 停止周期检查
func (hc *HealthChecker) Stop() {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	if !hc.running {
		return
	}
	close(hc.stopChan)
}

// Check 执行所有探针；返回必需依赖的错误
func (hc *HealthChecker) Check(ctx context.Context) error {
	hc.mu.RLock()
	names := append([]string(nil), hc.order...)
	checks := make([]DependencyCheck, len(names))
	for i, name := range names {
		checks[i] = hc.checks[name]
	}
	timeout := hc.timeout
	hc.mu.RUnlock()

	results := make(map[string]ComponentStatus, len(names))
	var requiredErr error
	for i, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		err := checks[i](checkCtx)
		cancel()

		st := ComponentStatus{Healthy: err == nil, ResponseTime: time.Since(start).String()}
		if err != nil {
			st.LastError = err.Error()
			if i == 0 {
				requiredErr = err
			}
		}
		results[name] = st
	}

	hc.mu.Lock()
	for _, name := range names {
		prev, seen := hc.status[name]
		cur := results[name]
		switch {
		case !cur.Healthy:
			hc.logger.WithFields(logrus.Fields{
				"component":     name,
				"error":         cur.LastError,
				"response_time": cur.ResponseTime,
			}).Warn("Health check failed")
		case seen && !prev.Healthy:
			hc.logger.WithField("component", name).Info("Connection restored")
		default:
			hc.logger.WithField("component", name).Debug("Health check passed")
		}
		hc.status[name] = cur
	}
	hc.lastCheck = time.Now()
	hc.mu.Unlock()

	return requiredErr
}

func (hc *HealthChecker) checkAndUpdate(ctx context.Context) {
	if err := hc.Check(ctx); err != nil {
		hc.retryWithBackoff(ctx)
	}
}

func (hc *HealthChecker) retryWithBackoff(ctx context.Context) {
	hc.mu.RLock()
	delay, maxRetries := hc.retryDelay, hc.maxRetries
	hc.mu.RUnlock()

	for i := 0; i < maxRetries; i++ {
		hc.logger.WithField("attempt", i+1).Info("Retrying health check")

		timer := time.NewTimer(delay * time.Duration(i+1))
		select {
		case <-timer.C:
			if err := hc.Check(ctx); err == nil {
				return
			}
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}

	hc.logger.Error("Required dependency still unhealthy after all retries")
}

// IsHealthy 必需依赖是否健康
func (hc *HealthChecker) IsHealthy() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	if len(hc.order) == 0 {
		return false
	}
	return hc.status[hc.order[0]].Healthy
}

// GetHealthResult 获取最近一次检查结果
func (hc *HealthChecker) GetHealthResult() HealthCheckResult {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	result := HealthCheckResult{
		LastCheck:  hc.lastCheck,
		Components: make(map[string]ComponentStatus, len(hc.status)),
	}
	for name, st := range hc.status {
		result.Components[name] = st
	}
	if len(hc.order) > 0 {
		result.Healthy = hc.status[hc.order[0]].Healthy
	}
	return result
}

// WaitForHealthy 等待必需依赖变为健康
func (hc *HealthChecker) WaitForHealthy(ctx context.Context, timeout time.Duration) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		if hc.IsHealthy() {
			return nil
		}
		select {
		case <-timeoutCtx.Done():
			return timeoutCtx.Err()
		case <-ticker.C:
		}
	}
}
