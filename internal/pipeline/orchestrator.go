// Package pipeline drives a book through its generation stages. Each stage
// body reads persisted artifacts, calls the generation services through the
// retry wrapper, and records its outcome as a stage transition.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/storybook-be/internal/book"
	"github.com/cuongbtq/storybook-be/internal/generation"
	"github.com/cuongbtq/storybook-be/internal/progress"
	"github.com/cuongbtq/storybook-be/internal/retry"
)

const failTimeout = 15 * time.Second

// ErrInterrupted is returned when the stage context was cancelled before the
// body finished. Nothing is recorded and the stage runs again on redelivery.
var ErrInterrupted = errors.New("stage interrupted")

// Store is the job state the stages read and write
type Store interface {
	Get(ctx context.Context, id string) (*book.Book, error)
	Update(ctx context.Context, id string, u book.Update) (*book.Book, error)
	Transition(ctx context.Context, id string, from []book.Stage, to book.Stage, u book.Update) (*book.Book, error)
}

// Storage holds every artifact a later stage references
type Storage interface {
	Put(ctx context.Context, data []byte, key, contentType string) (string, error)
	Fetch(ctx context.Context, ref string) (generation.Image, error)
	Rehost(ctx context.Context, ref, key string) (string, generation.Image, error)
}

// Notifier receives every progress checkpoint
type Notifier interface {
	Publish(ctx context.Context, event progress.Event) error
}

// Config holds the orchestration constants
type Config struct {
	Retry        retry.Policy
	SceneCount   int
	KeyScenes    []int
	SceneDelay   time.Duration
	AgeBand      string
	DefaultStyle string
}

// Dependencies are the collaborators of the stage bodies
type Dependencies struct {
	Logger     *slog.Logger
	Store      Store
	Storage    Storage
	Notifier   Notifier
	Characters generation.CharacterSynthesizer
	Analyzer   generation.FeatureAnalyzer
	Stories    generation.StoryGenerator
	Renderer   generation.SceneRenderer
	Compositor generation.Compositor
	Documents  generation.DocumentAssembler
	// TemplateFor picks the mockup template of a scene.
	TemplateFor func(sceneID int) string
}

// Result is the outcome of one stage execution
type Result struct {
	// Book is the state after the stage, nil when nothing was recorded.
	Book *book.Book
	// Next is the stage to enqueue right away, empty when the book parks or ends.
	Next book.Stage
}

// StageFunc is the body of one stage
type StageFunc func(ctx context.Context, b *book.Book) (Result, error)

// Orchestrator runs stage bodies and records their outcome
type Orchestrator struct {
	deps   Dependencies
	cfg    Config
	logger *slog.Logger
	stages map[book.Stage]StageFunc
}

// New creates an Orchestrator with the character, preview and completion
// stages registered
func New(deps Dependencies, cfg Config) *Orchestrator {
	if deps.TemplateFor == nil {
		deps.TemplateFor = func(int) string { return "" }
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultPolicy()
	}

	o := &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		logger: deps.Logger,
		stages: make(map[book.Stage]StageFunc),
	}

	o.Register(book.StageCreatingCharacter, o.createCharacter)
	o.Register(book.StageGeneratingPreview, o.generatePreview)
	o.Register(book.StageProcessingFullBook, o.completeBook)

	return o
}

// Register binds a body to a stage, replacing any previous one
func (o *Orchestrator) Register(stage book.Stage, fn StageFunc) {
	o.stages[stage] = fn
}

// Handles reports whether stage has a body
func (o *Orchestrator) Handles(stage book.Stage) bool {
	_, ok := o.stages[stage]
	return ok
}

// Run executes the body of the book's current stage. A failing or panicking
// body moves the book to FAILED and is not returned as an error. The error
// return is reserved for failures to record that outcome and for bodies cut
// short by a cancelled context, which return ErrInterrupted.
func (o *Orchestrator) Run(ctx context.Context, b *book.Book) (res Result, err error) {
	fn, ok := o.stages[b.Stage]
	if !ok {
		o.logger.Debug("No body for stage, skipping",
			slog.String("book_id", b.ID),
			slog.String("stage", b.Stage.String()),
		)
		return Result{Book: b}, nil
	}

	logger := o.logger.With(
		slog.String("book_id", b.ID),
		slog.String("stage", b.Stage.String()),
		slog.Int("run", b.Run),
	)
	start := time.Now()
	logger.Info("Stage started")

	defer func() {
		if r := recover(); r != nil {
			res, err = o.fail(ctx, b, fmt.Errorf("stage panicked: %v", r))
		}
	}()

	res, stageErr := fn(ctx, b)
	if stageErr != nil && interrupted(ctx) {
		logger.Warn("Stage interrupted, leaving book for redelivery",
			slog.Duration("elapsed", time.Since(start)),
			slog.Any("error", stageErr),
		)
		return Result{}, fmt.Errorf("%w: %w", ErrInterrupted, stageErr)
	}
	if stageErr != nil {
		logger.Error("Stage failed",
			slog.Duration("elapsed", time.Since(start)),
			slog.Any("error", stageErr),
		)
		return o.fail(ctx, b, stageErr)
	}

	attrs := []any{slog.Duration("elapsed", time.Since(start))}
	if res.Book != nil {
		attrs = append(attrs, slog.String("to", res.Book.Stage.String()))
	}
	if res.Next != "" {
		attrs = append(attrs, slog.String("next", res.Next.String()))
	}
	logger.Info("Stage finished", attrs...)

	return res, nil
}

// interrupted reports whether the stage context was cancelled from outside.
// A stage that ran out of its own time budget is a failure, not an interruption.
func interrupted(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}

// fail records a stage failure. The write outlives a cancelled or timed out
// stage context.
func (o *Orchestrator) fail(ctx context.Context, b *book.Book, cause error) (Result, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failTimeout)
	defer cancel()

	u := book.Update{
		Progress:      book.Ptr(0),
		StatusMessage: book.Ptr("Something went wrong"),
		ErrorMessage:  book.Ptr(cause.Error()),
	}

	failed, err := o.deps.Store.Transition(ctx, b.ID, []book.Stage{b.Stage}, book.StageFailed, u)
	if err != nil {
		if errors.Is(err, book.ErrConflict) {
			o.logger.Warn("Book left stage before failure was recorded",
				slog.String("book_id", b.ID),
				slog.String("stage", b.Stage.String()),
				slog.Any("error", err),
			)
			return Result{}, nil
		}
		return Result{}, fmt.Errorf("failed to record stage failure: %w", err)
	}

	o.notify(ctx, failed)
	return Result{Book: failed}, nil
}

// checkpoint merges u into the book and publishes the new progress
func (o *Orchestrator) checkpoint(ctx context.Context, b *book.Book, u book.Update) (*book.Book, error) {
	updated, err := o.deps.Store.Update(ctx, b.ID, u)
	if err != nil {
		return nil, fmt.Errorf("failed to record progress: %w", err)
	}
	o.notify(ctx, updated)
	return updated, nil
}

// advance moves the book out of its current stage
func (o *Orchestrator) advance(ctx context.Context, b *book.Book, to book.Stage, u book.Update) (*book.Book, error) {
	next, err := o.deps.Store.Transition(ctx, b.ID, []book.Stage{b.Stage}, to, u)
	if err != nil {
		return nil, fmt.Errorf("failed to move book to %s: %w", to, err)
	}
	o.notify(ctx, next)
	return next, nil
}

func (o *Orchestrator) notify(ctx context.Context, b *book.Book) {
	if o.deps.Notifier == nil {
		return
	}
	if err := o.deps.Notifier.Publish(ctx, progress.EventFor(b)); err != nil {
		o.logger.Warn("Failed to publish progress",
			slog.String("book_id", b.ID),
			slog.Any("error", err),
		)
	}
}

func (o *Orchestrator) style(b *book.Book) string {
	if b.Style != "" {
		return b.Style
	}
	return o.cfg.DefaultStyle
}

// consistency is the character description used in every prompt
func consistency(b *book.Book) string {
	if b.ConsistencyDescription != "" {
		return b.ConsistencyDescription
	}
	return "child named " + b.ChildName
}

func missing(what string) error {
	return book.Permanent(fmt.Errorf("%w: %s", book.ErrMissingArtifact, what))
}

// call runs one external call of a stage through the retry wrapper
func call[T any](ctx context.Context, o *Orchestrator, b *book.Book, op string, fn func(context.Context) (T, error)) (T, error) {
	logger := o.logger.With(slog.String("book_id", b.ID))
	return retry.Invoke(ctx, logger, o.cfg.Retry, op, fn)
}
