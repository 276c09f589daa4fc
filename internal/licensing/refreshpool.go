package licensing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// refreshTask is a fire-and-forget cache refresh unit. No caller awaits its
// result; failures are logged and swallowed.
type refreshTask struct {
	userID string
	run    func(ctx context.Context)
}

// RefreshPool runs asynchronous cache-refresh tasks off the request path on
// a bounded worker pool with a bounded backlog. When the backlog is full a
// submission is dropped rather than blocking the request path; the next
// read of the same key simply re-triggers the refresh.
type RefreshPool struct {
	tasks    chan refreshTask
	workers  int
	wg       sync.WaitGroup
	logger   *slog.Logger
	shutdown chan struct{}
	once     sync.Once
}

// NewRefreshPool creates a pool with the given worker count and backlog
// capacity.
func NewRefreshPool(workers, backlog int, logger *slog.Logger) *RefreshPool {
	if workers <= 0 {
		workers = 2
	}
	if backlog <= 0 {
		backlog = workers * 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RefreshPool{
		tasks:    make(chan refreshTask, backlog),
		workers:  workers,
		logger:   logger.With(slog.String("component", "refreshpool")),
		shutdown: make(chan struct{}),
	}
}

// Start launches the worker goroutines.
func (p *RefreshPool) Start(ctx context.Context) {
	p.logger.Info("starting refresh pool", slog.Int("workers", p.workers))
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop drains the pool, waiting up to timeout for in-flight tasks.
func (p *RefreshPool) Stop(timeout time.Duration) error {
	p.once.Do(func() { close(p.shutdown) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("refresh pool stopped")
		return nil
	case <-time.After(timeout):
		p.logger.Warn("refresh pool stop timeout exceeded")
		return fmt.Errorf("timeout waiting for refresh workers to finish")
	}
}

// Submit enqueues a refresh task. Returns false when the backlog is full or
// the pool is shutting down; the task is dropped in either case.
func (p *RefreshPool) Submit(userID string, run func(ctx context.Context)) bool {
	select {
	case <-p.shutdown:
		return false
	default:
	}

	select {
	case p.tasks <- refreshTask{userID: userID, run: run}:
		return true
	default:
		p.logger.Warn("refresh backlog full, dropping task",
			slog.String("user_id", userID))
		return false
	}
}

func (p *RefreshPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.shutdown:
			return
		case <-ctx.Done():
			return
		case task := <-p.tasks:
			p.execute(ctx, id, task)
		}
	}
}

// execute runs a single task, converting panics into log records so a bad
// refresh can never take down a worker.
func (p *RefreshPool) execute(ctx context.Context, workerID int, task refreshTask) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("refresh task panicked",
				slog.Int("worker", workerID),
				slog.String("user_id", task.userID),
				slog.Any("panic", rec),
			)
		}
	}()
	task.run(ctx)
}
