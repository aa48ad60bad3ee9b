// Package service implements the book operations behind the HTTP API:
// intake, status reads and the approve, regenerate and purchase signals.
// Every stage change is a compare-and-set on the store followed by an
// enqueue of the next stage.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/cuongbtq/storybook-be/internal/book"
	"github.com/cuongbtq/storybook-be/internal/progress"
	"github.com/cuongbtq/storybook-be/internal/store"
	"github.com/google/uuid"
)

// ErrInvalidInput is returned for intake requests that cannot start a book
var ErrInvalidInput = errors.New("invalid input")

// Store is the job state the service reads and moves
type Store interface {
	Create(ctx context.Context, b *book.Book) error
	Get(ctx context.Context, id string) (*book.Book, error)
	Transition(ctx context.Context, id string, from []book.Stage, to book.Stage, u book.Update) (*book.Book, error)
	ListByOwner(ctx context.Context, filter store.ListFilter) ([]book.Book, error)
}

// Dispatcher schedules stage executions
type Dispatcher interface {
	Enqueue(ctx context.Context, bookID string, stage book.Stage, run int) error
}

// Downloads signs links to stored documents
type Downloads interface {
	DownloadURL(ctx context.Context, ref, filename string) (string, error)
}

// Notifier receives the transitions made here
type Notifier interface {
	Publish(ctx context.Context, event progress.Event) error
}

// Dependencies holds the collaborators of the service
type Dependencies struct {
	Logger       *slog.Logger
	Store        Store
	Dispatcher   Dispatcher
	Downloads    Downloads
	Notifier     Notifier
	DefaultStyle string
}

// Service implements the book operations
type Service struct {
	logger       *slog.Logger
	store        Store
	dispatcher   Dispatcher
	downloads    Downloads
	notifier     Notifier
	defaultStyle string
}

// New creates a new Service
func New(deps Dependencies) *Service {
	return &Service{
		logger:       deps.Logger,
		store:        deps.Store,
		dispatcher:   deps.Dispatcher,
		downloads:    deps.Downloads,
		notifier:     deps.Notifier,
		defaultStyle: deps.DefaultStyle,
	}
}

// CreateInput is the intake request
type CreateInput struct {
	UserID               string
	ChildName            string
	Theme                string
	Style                string
	ChildPhotoURL        string
	ApprovedCharacterURL string
}

// Create stores a new book and schedules its character stage
func (s *Service) Create(ctx context.Context, in CreateInput) (*book.Book, error) {
	name := strings.TrimSpace(in.ChildName)
	if name == "" {
		return nil, fmt.Errorf("%w: child_name is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.UserID) == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.ChildPhotoURL) == "" {
		return nil, fmt.Errorf("%w: child_photo_url is required", ErrInvalidInput)
	}

	theme, err := book.NormalizeTheme(in.Theme)
	if err != nil {
		return nil, err
	}

	style := strings.TrimSpace(in.Style)
	if style == "" {
		style = s.defaultStyle
	}

	now := time.Now().UTC()
	b := &book.Book{
		ID:            uuid.New().String(),
		UserID:        in.UserID,
		Stage:         book.StageCreatingCharacter,
		StatusMessage: "Preparing your character",
		Inputs: book.Inputs{
			ChildName:            name,
			Theme:                theme,
			Style:                style,
			ChildPhotoURL:        strings.TrimSpace(in.ChildPhotoURL),
			ApprovedCharacterURL: strings.TrimSpace(in.ApprovedCharacterURL),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to create book: %w", err)
	}

	s.logger.Info("Book created",
		slog.String("book_id", b.ID),
		slog.String("user_id", b.UserID),
		slog.String("theme", theme),
		slog.Bool("pre_approved", b.ApprovedCharacterURL != ""),
	)

	return s.schedule(ctx, b)
}

// Get returns the full book
func (s *Service) Get(ctx context.Context, id string) (*book.Book, error) {
	return s.store.Get(ctx, id)
}

// Status returns what a polling client may see of the book
func (s *Service) Status(ctx context.Context, id string) (Status, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return Status{}, err
	}
	return StatusOf(b), nil
}

// Page is one page of a user's books
type Page struct {
	Books []book.Book
	Next  *store.Cursor
}

// List returns a page of the user's books, newest first
func (s *Service) List(ctx context.Context, filter store.ListFilter) (Page, error) {
	books, err := s.store.ListByOwner(ctx, filter)
	if err != nil {
		return Page{}, err
	}

	var next *store.Cursor
	if len(books) > filter.PageSize {
		books = books[:filter.PageSize]
		last := books[len(books)-1]
		next = &store.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}

	return Page{Books: books, Next: next}, nil
}

// Approve accepts the character and schedules the preview. Approving a book
// that is already past approval returns it unchanged.
func (s *Service) Approve(ctx context.Context, id string) (*book.Book, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if pastApproval(b.Stage) {
		return b, nil
	}
	if b.Stage != book.StageWaitingForApproval {
		return nil, fmt.Errorf("%w: cannot approve a book in %s", book.ErrConflict, b.Stage)
	}
	if b.CharacterImageURL == "" {
		return nil, fmt.Errorf("%w: %w: character image", book.ErrConflict, book.ErrMissingArtifact)
	}

	next, err := s.store.Transition(ctx, id,
		[]book.Stage{book.StageWaitingForApproval},
		book.StageGeneratingPreview,
		book.Status(0, "Character approved"),
	)
	if err != nil {
		return s.settle(ctx, id, err, pastApproval)
	}

	s.logger.Info("Character approved", slog.String("book_id", id))
	return s.schedule(ctx, next)
}

// Regenerate discards the character and runs the character stage again with
// a new run number. The pre-approved portrait is not reused.
func (s *Service) Regenerate(ctx context.Context, id string) (*book.Book, error) {
	u := book.Status(0, "Creating a new character")
	u.ErrorMessage = book.Ptr("")
	u.BumpRun = true

	next, err := s.store.Transition(ctx, id,
		[]book.Stage{book.StageWaitingForApproval, book.StageFailed},
		book.StageCreatingCharacter,
		u,
	)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Character regeneration requested",
		slog.String("book_id", id),
		slog.Int("run", next.Run),
	)
	return s.schedule(ctx, next)
}

// Purchase records the payment and schedules the full book. A book already
// being finished or completed is returned unchanged.
func (s *Service) Purchase(ctx context.Context, id string) (*book.Book, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if purchased(b.Stage) {
		return b, nil
	}

	next, err := s.store.Transition(ctx, id,
		[]book.Stage{book.StageReadyForPurchase},
		book.StageProcessingFullBook,
		book.Status(0, "Payment received"),
	)
	if err != nil {
		return s.settle(ctx, id, err, purchased)
	}

	s.logger.Info("Book purchased", slog.String("book_id", id))
	return s.schedule(ctx, next)
}

// Download is a signed link to the finished document
type Download struct {
	URL      string
	Filename string
}

// Download signs a link to the finished document
func (s *Service) Download(ctx context.Context, id string) (Download, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return Download{}, err
	}
	if b.Stage != book.StageCompleted || b.PDFURL == "" {
		return Download{}, fmt.Errorf("%w: book is %s", book.ErrConflict, b.Stage)
	}

	filename := Filename(b)
	url, err := s.downloads.DownloadURL(ctx, b.PDFURL, filename)
	if err != nil {
		return Download{}, fmt.Errorf("failed to sign download: %w", err)
	}
	return Download{URL: url, Filename: filename}, nil
}

// schedule enqueues the book's current stage. A book that cannot be
// scheduled is failed so it does not sit in a stage nobody will run.
func (s *Service) schedule(ctx context.Context, b *book.Book) (*book.Book, error) {
	s.notify(ctx, b)

	err := s.dispatcher.Enqueue(ctx, b.ID, b.Stage, b.Run)
	if err == nil {
		return b, nil
	}

	s.logger.Error("Failed to schedule stage",
		slog.String("book_id", b.ID),
		slog.String("stage", b.Stage.String()),
		slog.Any("error", err),
	)

	u := book.Status(0, "Could not start generation")
	u.ErrorMessage = book.Ptr(err.Error())
	failed, ferr := s.store.Transition(context.WithoutCancel(ctx), b.ID, []book.Stage{b.Stage}, book.StageFailed, u)
	if ferr != nil {
		s.logger.Error("Failed to mark unscheduled book as failed",
			slog.String("book_id", b.ID),
			slog.Any("error", ferr),
		)
	} else {
		s.notify(ctx, failed)
	}

	return nil, fmt.Errorf("failed to schedule %s: %w", b.Stage, err)
}

// settle resolves a lost compare-and-set. When the book has already moved
// past the operation the call is a no-op, otherwise the conflict stands.
func (s *Service) settle(ctx context.Context, id string, err error, done func(book.Stage) bool) (*book.Book, error) {
	if !errors.Is(err, book.ErrConflict) {
		return nil, err
	}
	b, getErr := s.store.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if done(b.Stage) {
		return b, nil
	}
	return nil, err
}

func (s *Service) notify(ctx context.Context, b *book.Book) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(ctx, progress.EventFor(b)); err != nil {
		s.logger.Warn("Failed to publish progress",
			slog.String("book_id", b.ID),
			slog.Any("error", err),
		)
	}
}

func pastApproval(st book.Stage) bool {
	switch st {
	case book.StageGeneratingPreview, book.StageReadyForPurchase, book.StageProcessingFullBook, book.StageCompleted:
		return true
	}
	return false
}

func purchased(st book.Stage) bool {
	return st == book.StageProcessingFullBook || st == book.StageCompleted
}

// Filename is the download name of the finished document
func Filename(b *book.Book) string {
	base := b.StoryTitle
	if base == "" {
		base = b.ChildName + " storybook"
	}

	var sb strings.Builder
	dash := false
	for _, r := range strings.ToLower(base) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
			dash = false
		case !dash && sb.Len() > 0:
			sb.WriteByte('-')
			dash = true
		}
	}

	name := strings.TrimSuffix(sb.String(), "-")
	if name == "" {
		name = "storybook"
	}
	return name + ".pdf"
}
