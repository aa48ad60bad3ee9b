package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/storybook-be/internal/book"
	"github.com/cuongbtq/storybook-be/internal/generation"
	"github.com/cuongbtq/storybook-be/internal/progress"
	"github.com/cuongbtq/storybook-be/internal/retry"
	"github.com/cuongbtq/storybook-be/internal/service"
	"github.com/cuongbtq/storybook-be/internal/store"
)

// BookService is the set of book operations exposed over HTTP
type BookService interface {
	Create(ctx context.Context, in service.CreateInput) (*book.Book, error)
	Get(ctx context.Context, id string) (*book.Book, error)
	Status(ctx context.Context, id string) (service.Status, error)
	List(ctx context.Context, filter store.ListFilter) (service.Page, error)
	Approve(ctx context.Context, id string) (*book.Book, error)
	Regenerate(ctx context.Context, id string) (*book.Book, error)
	Purchase(ctx context.Context, id string) (*book.Book, error)
	Download(ctx context.Context, id string) (service.Download, error)
}

// ProgressSubscriber streams progress events of one book
type ProgressSubscriber interface {
	Subscribe(ctx context.Context, bookID string) (*progress.Subscription, error)
}

// AssetStorage stores uploaded photos and wizard portraits
type AssetStorage interface {
	Put(ctx context.Context, data []byte, key, contentType string) (string, error)
}

// HealthCheck pings one backing service
type HealthCheck func(ctx context.Context) error

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger        *slog.Logger
	Books         BookService
	Progress      ProgressSubscriber
	WebhookSecret string
	HealthChecks  map[string]HealthCheck
	Assets        AssetStorage
	Characters    generation.CharacterSynthesizer
	// Retry bounds character preview synthesis. Zero uses retry.DefaultPolicy.
	Retry        retry.Policy
	DefaultStyle string
}

// BookHandler handles book-related HTTP requests
type BookHandler struct {
	logger        *slog.Logger
	books         BookService
	progress      ProgressSubscriber
	webhookSecret string
}

// NewBookHandler creates a new BookHandler instance
func NewBookHandler(deps *Dependencies) *BookHandler {
	return &BookHandler{
		logger:        deps.Logger,
		books:         deps.Books,
		progress:      deps.Progress,
		webhookSecret: deps.WebhookSecret,
	}
}
