package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/storybook-be/internal/worker/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Debug("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Debug("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Debug("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case job := <-w.jobsChan:
			w.handle(ctx, job)
		}
	}
}

// handle processes one stage message and settles its delivery
func (w *Worker) handle(ctx context.Context, job *domain.StageJob) {
	logger := w.logger.With(
		slog.String("book_id", job.BookID),
		slog.String("stage", job.Stage.String()),
		slog.Int("run", job.Run),
	)

	err := w.processStage(ctx, job.Message)
	if err == nil {
		if ackErr := job.Delivery.Ack(false); ackErr != nil {
			logger.Error("Failed to ACK message", slog.Any("error", ackErr))
		}
		return
	}

	requeue := shouldRequeue(err)
	logger.Warn("Stage message not processed",
		slog.Bool("requeue", requeue),
		slog.Any("error", err),
	)

	if nackErr := job.Delivery.Nack(false, requeue); nackErr != nil {
		logger.Error("Failed to NACK message", slog.Any("error", nackErr))
	}
}

// shouldRequeue requeues only transient infrastructure failures
func shouldRequeue(err error) bool {
	return domain.IsTransient(err)
}
