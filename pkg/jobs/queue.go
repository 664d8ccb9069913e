package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is a unit of background work, typically a notification dispatch.
type Job struct {
	Name       string
	MaxRetries int
	Run        func(ctx context.Context) error
}

// ErrQueueFull is returned by Enqueue when the buffer has no room.
var ErrQueueFull = errors.New("jobs: queue is full")

// ErrStopped is returned by Enqueue after Stop has been called.
var ErrStopped = errors.New("jobs: queue is stopped")

// Queue runs jobs on a fixed pool of workers. Jobs that return an
// error are retried up to their MaxRetries with a fixed delay.
type Queue struct {
	jobs       chan Job
	workers    int
	retryDelay time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewQueue builds a queue with the given worker count and buffer size.
func NewQueue(workers, buffer int, retryDelay time.Duration, logger *zap.Logger) *Queue {
	if workers < 1 {
		workers = 1
	}
	if buffer < 1 {
		buffer = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		jobs:       make(chan Job, buffer),
		workers:    workers,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// Start launches the worker pool. It must be called once.
func (q *Queue) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	q.mu.Lock()
	q.cancel = cancel
	q.mu.Unlock()

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
	q.logger.Info("job queue started", zap.Int("workers", q.workers), zap.Int("buffer", cap(q.jobs)))
}

// Stop drains queued jobs, waits for in-flight ones and shuts the pool down.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	close(q.jobs)
	q.mu.Unlock()

	q.wg.Wait()
	q.mu.Lock()
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Unlock()
	q.logger.Info("job queue stopped")
}

// Enqueue schedules a job. It never blocks; callers must treat a full
// queue as a degraded delivery, not a request failure.
func (q *Queue) Enqueue(job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return ErrStopped
	}
	// The send must stay under the lock: Stop closes the channel
	// while holding it.
	select {
	case q.jobs <- job:
		return nil
	default:
		q.logger.Warn("job queue full, dropping job", zap.String("job", job.Name))
		return ErrQueueFull
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	for job := range q.jobs {
		q.run(ctx, id, job)
	}
}

func (q *Queue) run(ctx context.Context, workerID int, job Job) {
	attempts := job.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		err := job.Run(ctx)
		if err == nil {
			return
		}
		q.logger.Warn("job failed",
			zap.String("job", job.Name),
			zap.Int("worker", workerID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == attempts {
			q.logger.Error("job exhausted retries", zap.String("job", job.Name), zap.Error(err))
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(q.retryDelay):
		}
	}
}
