// Package progress fans stage progress out over Redis pub/sub and guards
// each book with a Redis lock so at most one stage runs per book.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/storybook-be/internal/book"
	goredis "github.com/redis/go-redis/v9"
)

// Event is one progress checkpoint of a book
type Event struct {
	BookID        string     `json:"book_id"`
	Stage         book.Stage `json:"stage"`
	Progress      int        `json:"progress"`
	StatusMessage string     `json:"status_message"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	At            time.Time  `json:"at"`
}

// EventFor snapshots the observable state of b
func EventFor(b *book.Book) Event {
	return Event{
		BookID:        b.ID,
		Stage:         b.Stage,
		Progress:      b.Progress,
		StatusMessage: b.StatusMessage,
		ErrorMessage:  b.ErrorMessage,
		At:            b.UpdatedAt,
	}
}

// Channel is the pub/sub channel of a book
func Channel(bookID string) string {
	return "book:" + bookID + ":progress"
}

// Publisher publishes and subscribes to progress events
type Publisher struct {
	rdb    *goredis.Client
	logger *slog.Logger
}

// NewPublisher creates a new Publisher
func NewPublisher(rdb *goredis.Client, logger *slog.Logger) *Publisher {
	return &Publisher{rdb: rdb, logger: logger}
}

// Publish sends the event to the book's channel
func (p *Publisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal progress event: %w", err)
	}

	if err := p.rdb.Publish(ctx, Channel(event.BookID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish progress event: %w", err)
	}

	return nil
}

// Subscription is a live stream of one book's progress events
type Subscription struct {
	pubsub *goredis.PubSub
	events chan Event
}

// Subscribe listens to the book's channel until ctx is done or Close is called
func (p *Publisher) Subscribe(ctx context.Context, bookID string) (*Subscription, error) {
	pubsub := p.rdb.Subscribe(ctx, Channel(bookID))

	// Wait for the subscription to be confirmed so no event published after
	// Subscribe returns is lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to progress: %w", err)
	}

	sub := &Subscription{
		pubsub: pubsub,
		events: make(chan Event, 16),
	}

	go func() {
		defer close(sub.events)

		for msg := range pubsub.Channel() {
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				p.logger.Warn("Dropping malformed progress event",
					slog.String("book_id", bookID),
					slog.Any("error", err),
				)
				continue
			}

			select {
			case sub.events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()

	return sub, nil
}

// Events returns the event stream. It is closed when the subscription ends.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close ends the subscription
func (s *Subscription) Close() error {
	return s.pubsub.Close()
}
