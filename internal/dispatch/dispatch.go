// Package dispatch enqueues stage executions. The API and the worker hand
// work to each other only through these messages; progress is observed
// through the state store.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/storybook-be/internal/book"
	"github.com/google/uuid"
)

// ErrInvalidMessage is returned for a message that can never be processed
var ErrInvalidMessage = errors.New("invalid stage message")

// Message asks a worker to run one stage of one book
type Message struct {
	BookID string     `json:"book_id"`
	Stage  book.Stage `json:"stage"`
	// Run must match the book's run, otherwise the message is stale.
	Run int `json:"run"`
}

// Validate checks the message is well formed
func (m Message) Validate() error {
	if _, err := uuid.Parse(m.BookID); err != nil {
		return fmt.Errorf("%w: book_id %q is not a uuid", ErrInvalidMessage, m.BookID)
	}
	if !m.Stage.Valid() {
		return fmt.Errorf("%w: unknown stage %q", ErrInvalidMessage, m.Stage)
	}
	if m.Run < 0 {
		return fmt.Errorf("%w: negative run %d", ErrInvalidMessage, m.Run)
	}
	return nil
}

// Parse decodes and validates a message body
func Parse(body []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Publisher delivers a message body to the broker
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Dispatcher enqueues stage messages
type Dispatcher struct {
	publisher Publisher
	logger    *slog.Logger
}

// New creates a new Dispatcher
func New(publisher Publisher, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{publisher: publisher, logger: logger}
}

// Enqueue schedules the stage for the book's current run
func (d *Dispatcher) Enqueue(ctx context.Context, bookID string, stage book.Stage, run int) error {
	msg := Message{BookID: bookID, Stage: stage, Run: run}
	if err := msg.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal stage message: %w", err)
	}

	if err := d.publisher.PublishWithRetry(ctx, body, "application/json"); err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", stage, err)
	}

	d.logger.Info("Stage enqueued",
		slog.String("book_id", bookID),
		slog.String("stage", stage.String()),
		slog.Int("run", run),
	)

	return nil
}
