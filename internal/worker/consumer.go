package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/storybook-be/internal/dispatch"
	"github.com/cuongbtq/storybook-be/internal/worker/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// setupConsumer sets the prefetch window and starts consuming
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	if err := w.rabbitClient.Qos(w.prefetchCount); err != nil {
		return nil, err
	}

	w.logger.Info("RabbitMQ QoS configured",
		slog.Int("prefetch_count", w.prefetchCount),
	)

	deliveries, err := w.rabbitClient.Consume(w.workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", w.workerID),
		slog.String("queue", w.queueName),
	)

	return deliveries, nil
}

// startMessageDispatcher validates deliveries and hands them to the pool
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) {
	w.logger.Info("Message dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return

		case <-w.stopChan:
			w.logger.Info("Message dispatcher stopped - worker stopping")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			job, ok := w.decode(delivery)
			if !ok {
				continue
			}

			select {
			case w.jobsChan <- job:
				w.logger.Debug("Stage dispatched to worker pool",
					slog.String("book_id", job.BookID),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				w.logger.Info("Message dispatcher stopped while dispatching stage")
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					w.logger.Error("Failed to NACK message on shutdown",
						slog.Any("error", nackErr),
					)
				}
				return
			case <-w.stopChan:
				w.logger.Info("Message dispatcher stopped while dispatching stage")
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					w.logger.Error("Failed to NACK message on shutdown",
						slog.Any("error", nackErr),
					)
				}
				return
			}
		}
	}
}

// decode parses a delivery. Invalid messages are dead-lettered.
func (w *Worker) decode(delivery amqp.Delivery) (*domain.StageJob, bool) {
	msg, err := dispatch.Parse(delivery.Body)
	if err != nil {
		w.logger.Error("Invalid stage message",
			slog.String("body", string(delivery.Body)),
			slog.Any("error", err),
		)
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			w.logger.Error("Failed to NACK invalid message",
				slog.Any("error", nackErr),
			)
		}
		return nil, false
	}

	return &domain.StageJob{Message: msg, Delivery: delivery}, true
}
