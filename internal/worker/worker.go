package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/storybook-be/internal/book"
	"github.com/cuongbtq/storybook-be/internal/pipeline"
	"github.com/cuongbtq/storybook-be/internal/progress"
	"github.com/cuongbtq/storybook-be/internal/worker/domain"
	"github.com/cuongbtq/storybook-be/shared/rabbitmq"
)

// Store is the job state the worker reads and keeps alive
type Store interface {
	Get(ctx context.Context, id string) (*book.Book, error)
	Touch(ctx context.Context, id string) error
	Transition(ctx context.Context, id string, from []book.Stage, to book.Stage, u book.Update) (*book.Book, error)
}

// Runner executes the body of a book's current stage
type Runner interface {
	Handles(stage book.Stage) bool
	Run(ctx context.Context, b *book.Book) (pipeline.Result, error)
}

// Dispatcher enqueues follow-up stages
type Dispatcher interface {
	Enqueue(ctx context.Context, bookID string, stage book.Stage, run int) error
}

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	RabbitClient      *rabbitmq.Client
	Store             Store
	Runner            Runner
	Locker            *progress.Locker
	Dispatcher        Dispatcher
	WorkerID          string
	QueueName         string
	Concurrency       int
	PrefetchCount     int
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
	// LockTTL bounds how long a crashed holder blocks the book. Defaults to
	// three heartbeat intervals; the heartbeat keeps a live holder's lock.
	LockTTL time.Duration
	// BusyDelay is waited before a message for a locked book is requeued.
	BusyDelay time.Duration
}

// Worker consumes stage messages and runs them on a fixed pool of goroutines
type Worker struct {
	logger            *slog.Logger
	rabbitClient      *rabbitmq.Client
	store             Store
	runner            Runner
	locker            *progress.Locker
	dispatcher        Dispatcher
	workerID          string
	queueName         string
	concurrency       int
	prefetchCount     int
	jobTimeout        time.Duration
	heartbeatInterval time.Duration
	lockTTL           time.Duration
	busyDelay         time.Duration
	jobsChan          chan *domain.StageJob
	wg                sync.WaitGroup
	stopChan          chan struct{}
	stopOnce          sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = 30 * time.Minute
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= heartbeat {
		lockTTL = 3 * heartbeat
	}
	busyDelay := cfg.BusyDelay
	if busyDelay <= 0 {
		busyDelay = 5 * time.Second
	}

	return &Worker{
		logger:            cfg.Logger,
		rabbitClient:      cfg.RabbitClient,
		store:             cfg.Store,
		runner:            cfg.Runner,
		locker:            cfg.Locker,
		dispatcher:        cfg.Dispatcher,
		workerID:          cfg.WorkerID,
		queueName:         cfg.QueueName,
		concurrency:       concurrency,
		prefetchCount:     prefetch,
		jobTimeout:        jobTimeout,
		heartbeatInterval: heartbeat,
		lockTTL:           lockTTL,
		busyDelay:         busyDelay,
		jobsChan:          make(chan *domain.StageJob),
		stopChan:          make(chan struct{}),
	}
}

// Start consumes stage messages until ctx is cancelled or Stop is called
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return fmt.Errorf("failed to set up consumer: %w", err)
	}

	w.spawnWorkerPool(ctx)
	w.startMessageDispatcher(ctx, deliveries)

	return nil
}

// Stop stops taking new messages and waits for in-flight stages to finish.
// Stages keep their context, so callers cancel it only after Stop returns or
// their shutdown budget runs out.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...")
		close(w.stopChan)
		w.wg.Wait()
		w.logger.Info("Worker stopped")
	})
}
