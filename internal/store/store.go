// Package store is the PostgreSQL-backed job state store. It is the only
// shared mutable resource of the pipeline; every write is a partial merge
// that refreshes updated_at.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/storybook-be/internal/book"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const bookColumns = `
	id, user_id, stage, progress, status_message, error_message, run,
	child_name, theme, style, child_photo_url, approved_character_url,
	character_image_url, consistency_description, story_title,
	scenes, preview_images, preview_scenes, pages, pdf_url,
	heartbeat_at, created_at, updated_at`

// Store handles all database operations on books
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// New creates a new Store
func New(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new book
func (s *Store) Create(ctx context.Context, b *book.Book) error {
	query := `
		INSERT INTO books (
			id, user_id, stage, progress, status_message, run,
			child_name, theme, style, child_photo_url, approved_character_url,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		b.ID,
		b.UserID,
		b.Stage,
		b.Progress,
		b.StatusMessage,
		b.Run,
		b.ChildName,
		b.Theme,
		b.Style,
		b.ChildPhotoURL,
		b.ApprovedCharacterURL,
		b.CreatedAt,
		b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create book: %w", err)
	}

	return nil
}

// Get returns a book by id or book.ErrNotFound
func (s *Store) Get(ctx context.Context, id string) (*book.Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books WHERE id = $1`

	var b book.Book
	if err := s.db.GetContext(ctx, &b, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, book.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get book: %w", err)
	}

	return &b, nil
}

// Update merges the non-nil fields of u into the book and returns the result
func (s *Store) Update(ctx context.Context, id string, u book.Update) (*book.Book, error) {
	sets, args := assignments(u, 1)
	args = append(args, id)

	query := fmt.Sprintf(
		`UPDATE books SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), bookColumns,
	)

	var b book.Book
	if err := s.db.GetContext(ctx, &b, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, book.ErrNotFound
		}
		return nil, fmt.Errorf("failed to update book: %w", err)
	}

	return &b, nil
}

// Transition moves the book to stage `to` only if its current stage is one
// of `from`, merging u in the same statement. It returns book.ErrConflict when
// the stage did not match and book.ErrNotFound when the book does not exist.
func (s *Store) Transition(ctx context.Context, id string, from []book.Stage, to book.Stage, u book.Update) (*book.Book, error) {
	if len(from) == 0 {
		return nil, fmt.Errorf("%w: no source stage", book.ErrInvalidTransition)
	}

	fromNames := make([]string, len(from))
	for i, f := range from {
		if !book.CanTransition(f, to) {
			return nil, fmt.Errorf("%w: %s -> %s", book.ErrInvalidTransition, f, to)
		}
		fromNames[i] = string(f)
	}

	sets, args := assignments(u, 2)
	sets = append([]string{"stage = $1"}, sets...)
	args = append([]any{to}, args...)
	args = append(args, id, pq.StringArray(fromNames))

	query := fmt.Sprintf(
		`UPDATE books SET %s WHERE id = $%d AND stage = ANY($%d) RETURNING %s`,
		strings.Join(sets, ", "), len(args)-1, len(args), bookColumns,
	)

	var b book.Book
	err := s.db.GetContext(ctx, &b, query, args...)
	if err == nil {
		s.logger.Info("Book stage transitioned",
			slog.String("book_id", id),
			slog.String("to", to.String()),
		)
		return &b, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to transition book: %w", err)
	}

	current, getErr := s.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}

	s.logger.Warn("Book stage transition rejected",
		slog.String("book_id", id),
		slog.String("current", current.Stage.String()),
		slog.String("to", to.String()),
	)

	return nil, fmt.Errorf("%w: book is %s", book.ErrConflict, current.Stage)
}

// Touch refreshes heartbeat_at while a stage is executing. It is not a state
// mutation, so updated_at is left alone.
func (s *Store) Touch(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE books SET heartbeat_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return book.ErrNotFound
	}

	return nil
}

// ListFilter selects one page of a user's books
type ListFilter struct {
	UserID   string
	PageSize int
	Cursor   *Cursor
}

// Cursor is the keyset position of the last row of the previous page
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// ListByOwner returns the user's books newest first. It fetches one row more
// than PageSize so callers can tell whether another page exists.
func (s *Store) ListByOwner(ctx context.Context, filter ListFilter) ([]book.Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books WHERE user_id = $1`
	args := []any{filter.UserID}
	argIdx := 2

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.ID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var books []book.Book
	if err := s.db.SelectContext(ctx, &books, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}

	return books, nil
}

// assignments renders the SET clause for u with placeholders starting at next.
// updated_at is always refreshed.
func assignments(u book.Update, next int) ([]string, []any) {
	var (
		sets []string
		args []any
	)

	add := func(column string, value any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, next))
		args = append(args, value)
		next++
	}

	if u.Progress != nil {
		add("progress", *u.Progress)
	}
	if u.StatusMessage != nil {
		add("status_message", *u.StatusMessage)
	}
	if u.ErrorMessage != nil {
		add("error_message", *u.ErrorMessage)
	}
	if u.BumpRun {
		sets = append(sets, "run = run + 1")
	}
	if u.CharacterImageURL != nil {
		add("character_image_url", *u.CharacterImageURL)
	}
	if u.ConsistencyDescription != nil {
		add("consistency_description", *u.ConsistencyDescription)
	}
	if u.StoryTitle != nil {
		add("story_title", *u.StoryTitle)
	}
	if u.Scenes != nil {
		add("scenes", u.Scenes)
	}
	if u.PreviewImages != nil {
		add("preview_images", u.PreviewImages)
	}
	if u.PreviewScenes != nil {
		add("preview_scenes", u.PreviewScenes)
	}
	if u.Pages != nil {
		add("pages", u.Pages)
	}
	if u.PDFURL != nil {
		add("pdf_url", *u.PDFURL)
	}

	sets = append(sets, "updated_at = NOW()")
	return sets, args
}
