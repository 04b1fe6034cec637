package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aihub/docsearch/internal/logger"
	"github.com/aihub/docsearch/internal/metrics"
	"go.uber.org/zap"
)

// 默认重试策略：共 3 次尝试，间隔 5 秒
const (
	DefaultMaxAttempts = 3
	DefaultBackoff     = 5 * time.Second
	DefaultLockTTL     = 30 * time.Minute
)

var (
	ErrPoolClosed   = errors.New("ingest worker pool is closed")
	ErrDocumentBusy = errors.New("document is already being processed")
)

// JobQueue 投递处理任务
type JobQueue interface {
	Enqueue(ctx context.Context, job IngestJob) error
}

// DocumentLocker 单文档互斥
type DocumentLocker interface {
	AcquireLock(ctx context.Context, docID int64, owner string, ttl time.Duration) (bool, func(), error)
}

// WorkerEnvFactory 为每个 worker 创建独立的会话与索引句柄
type WorkerEnvFactory func(ctx context.Context, workerID int) (WorkerEnv, func(), error)

// WorkerPoolOptions 工作池参数
type WorkerPoolOptions struct {
	Workers     int
	MaxAttempts int
	Backoff     time.Duration
	LockTTL     time.Duration
	QueueSize   int
}

// IngestWorkerPool 文档处理工作池，负责重试循环与退避计时
type IngestWorkerPool struct {
	svc     *IngestionService
	newEnv  WorkerEnvFactory
	locker  DocumentLocker
	opts    WorkerPoolOptions
	jobs    chan queuedJob
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	results chan<- JobReport
}

type queuedJob struct {
	job IngestJob
}

// JobReport 一个任务的最终结果
type JobReport struct {
	Job      IngestJob
	Attempts int
	Result   AttemptResult
}

// NewIngestWorkerPool 创建工作池，locker 可为 nil
func NewIngestWorkerPool(svc *IngestionService, newEnv WorkerEnvFactory, locker DocumentLocker, opts WorkerPoolOptions) *IngestWorkerPool {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Backoff < 0 {
		opts.Backoff = 0
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = DefaultLockTTL
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 100
	}
	return &IngestWorkerPool{
		svc:    svc,
		newEnv: newEnv,
		locker: locker,
		opts:   opts,
		jobs:   make(chan queuedJob, opts.QueueSize),
	}
}

// ReportTo 设置任务结果通知通道，需在 Start 之前调用
func (p *IngestWorkerPool) ReportTo(ch chan<- JobReport) {
	p.results = ch
}

// Start 启动 worker；ctx 结束后 worker 退出
func (p *IngestWorkerPool) Start(ctx context.Context) error {
	envs := make([]WorkerEnv, 0, p.opts.Workers)
	closers := make([]func(), 0, p.opts.Workers)
	for i := 0; i < p.opts.Workers; i++ {
		env, closeEnv, err := p.newEnv(ctx, i)
		if err != nil {
			for _, c := range closers {
				c()
			}
			return fmt.Errorf("failed to prepare worker %d: %w", i, err)
		}
		envs = append(envs, env)
		closers = append(closers, closeEnv)
	}

	for i := range envs {
		p.wg.Add(1)
		go func(id int, env WorkerEnv, closeEnv func()) {
			defer p.wg.Done()
			defer closeEnv()
			p.run(ctx, id, env)
		}(i, envs[i], closers[i])
	}

	logger.Info("ingest worker pool started", zap.Int("workers", p.opts.Workers))
	return nil
}

// Enqueue 实现 JobQueue，投递后立即返回
func (p *IngestWorkerPool) Enqueue(ctx context.Context, job IngestJob) error {
	return p.push(ctx, queuedJob{job: job})
}

func (p *IngestWorkerPool) push(ctx context.Context, qj queuedJob) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- qj:
		metrics.QueueDepth.Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 停止接收任务并等待在途任务结束
func (p *IngestWorkerPool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *IngestWorkerPool) run(ctx context.Context, id int, env WorkerEnv) {
	owner := fmt.Sprintf("worker-%d-%d", id, time.Now().UnixNano())
	for {
		select {
		case <-ctx.Done():
			return
		case qj, ok := <-p.jobs:
			if !ok {
				return
			}
			metrics.QueueDepth.Dec()
			report := p.handle(ctx, owner, env, qj.job)
			logReport(report)
			if p.results != nil {
				select {
				case p.results <- report:
				case <-ctx.Done():
				}
			}
		}
	}
}

func (p *IngestWorkerPool) handle(ctx context.Context, owner string, env WorkerEnv, job IngestJob) JobReport {
	if p.locker != nil {
		ok, release, err := p.locker.AcquireLock(ctx, job.DocumentID, owner, p.opts.LockTTL)
		if err != nil {
			logger.Warn("document lock unavailable, processing without it",
				zap.Int64("documentID", job.DocumentID), zap.Error(err))
		} else if !ok {
			logger.Info("document already being processed, skipping job", zap.Int64("documentID", job.DocumentID))
			return JobReport{Job: job, Result: AttemptResult{Outcome: AttemptFatal, Err: ErrDocumentBusy}}
		} else {
			defer release()
		}
	}
	return p.Process(ctx, env, job)
}

func logReport(report JobReport) {
	fields := []zap.Field{
		zap.Int64("documentID", report.Job.DocumentID),
		zap.Int("attempts", report.Attempts),
		zap.String("outcome", report.Result.Outcome.String()),
	}
	if report.Result.Err != nil {
		logger.Warn("document processing finished with error", append(fields, zap.Error(report.Result.Err))...)
		return
	}
	logger.Info("document processed", fields...)
}

// Process 执行任务并按策略重试，最多 MaxAttempts 次
func (p *IngestWorkerPool) Process(ctx context.Context, env WorkerEnv, job IngestJob) JobReport {
	var res AttemptResult
	attempt := 0
	for {
		attempt++
		res = p.svc.Attempt(ctx, env, job)
		if res.Outcome != AttemptRetryable {
			break
		}
		if attempt >= p.opts.MaxAttempts {
			logger.Error("document processing failed after all attempts",
				zap.Int64("documentID", job.DocumentID),
				zap.Int("attempts", attempt),
				zap.Error(res.Err))
			break
		}

		logger.Info("retrying document processing",
			zap.Int64("documentID", job.DocumentID),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", p.opts.Backoff))

		timer := time.NewTimer(p.opts.Backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return JobReport{Job: job, Attempts: attempt, Result: res}
		}
	}
	return JobReport{Job: job, Attempts: attempt, Result: res}
}
