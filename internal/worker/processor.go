package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/storybook-be/internal/book"
	"github.com/cuongbtq/storybook-be/internal/dispatch"
	"github.com/cuongbtq/storybook-be/internal/progress"
	"github.com/cuongbtq/storybook-be/internal/worker/domain"
)

const releaseTimeout = 5 * time.Second

// processStage runs one stage message under the book's stage lock. A nil
// return acknowledges the message, a TransientError requeues it.
func (w *Worker) processStage(ctx context.Context, msg dispatch.Message) error {
	logger := w.logger.With(
		slog.String("book_id", msg.BookID),
		slog.String("stage", msg.Stage.String()),
		slog.Int("run", msg.Run),
	)

	if !w.runner.Handles(msg.Stage) {
		logger.Warn("No stage body for message, dropping it")
		return nil
	}

	// Step 1: Take the stage lock so one book never runs two stages at once
	lock, err := w.locker.Acquire(ctx, msg.BookID, w.lockTTL)
	if err != nil {
		if errors.Is(err, progress.ErrLocked) {
			logger.Info("Book is busy, delaying requeue", slog.Duration("delay", w.busyDelay))
			w.backoff(ctx)
			return domain.Transient(fmt.Errorf("%w: %s", domain.ErrStageBusy, msg.BookID))
		}
		return domain.Transient(err)
	}

	released := false
	release := func() {
		if released {
			return
		}
		released = true
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := lock.Release(rctx); err != nil {
			logger.Warn("Failed to release stage lock", slog.Any("error", err))
		}
	}
	defer release()

	// Step 2: Re-read the book and drop messages from another stage or run
	b, err := w.store.Get(ctx, msg.BookID)
	if err != nil {
		if errors.Is(err, book.ErrNotFound) {
			logger.Warn("Book not found, dropping message")
			return nil
		}
		return domain.Transient(fmt.Errorf("failed to read book: %w", err))
	}

	if b.Stage != msg.Stage || b.Run != msg.Run {
		logger.Info("Stale stage message, skipping",
			slog.String("current_stage", b.Stage.String()),
			slog.Int("current_run", b.Run),
		)
		return nil
	}

	// Step 3: Run the stage with a timeout and a heartbeat
	stageCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	heartbeatDone := make(chan struct{})
	go w.sendHeartbeat(stageCtx, b.ID, lock, heartbeatDone)

	res, err := w.runner.Run(stageCtx, b)
	close(heartbeatDone)
	if err != nil {
		return domain.Transient(err)
	}

	// Step 4: Release before chaining so the next stage can take the lock
	release()

	if res.Next != "" && res.Book != nil {
		w.chain(ctx, res.Book, res.Next)
	}

	return nil
}

// backoff holds a message for a busy book so it does not bounce straight
// back from the broker. Stop and cancellation cut the wait short.
func (w *Worker) backoff(ctx context.Context) {
	timer := time.NewTimer(w.busyDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	case <-w.stopChan:
	}
}

// chain enqueues the follow-up stage. A book that cannot be scheduled is
// failed so it does not wait for a message that never comes.
func (w *Worker) chain(ctx context.Context, b *book.Book, next book.Stage) {
	err := w.dispatcher.Enqueue(ctx, b.ID, next, b.Run)
	if err == nil {
		return
	}

	w.logger.Error("Failed to enqueue follow-up stage",
		slog.String("book_id", b.ID),
		slog.String("stage", next.String()),
		slog.Any("error", err),
	)

	u := book.Status(0, "Could not continue generation")
	u.ErrorMessage = book.Ptr(err.Error())
	if _, ferr := w.store.Transition(context.WithoutCancel(ctx), b.ID, []book.Stage{next}, book.StageFailed, u); ferr != nil {
		w.logger.Error("Failed to mark unscheduled book as failed",
			slog.String("book_id", b.ID),
			slog.Any("error", ferr),
		)
	}
}

// sendHeartbeat refreshes heartbeat_at and the stage lock while the stage runs
func (w *Worker) sendHeartbeat(ctx context.Context, bookID string, lock *progress.Lock, done <-chan struct{}) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case <-ctx.Done():
			return

		case <-ticker.C:
			if err := w.store.Touch(ctx, bookID); err != nil {
				w.logger.Warn("Failed to update heartbeat",
					slog.String("book_id", bookID),
					slog.Any("error", err),
				)
			}
			if err := lock.Refresh(ctx); err != nil {
				w.logger.Warn("Failed to refresh stage lock",
					slog.String("book_id", bookID),
					slog.Any("error", err),
				)
			}
		}
	}
}
