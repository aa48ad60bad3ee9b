// Package storetest provides an in-memory job state store with the same
// transition rules as the PostgreSQL store.
package storetest

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cuongbtq/storybook-be/internal/book"
	"github.com/cuongbtq/storybook-be/internal/store"
)

// Memory is a goroutine-safe in-memory store
type Memory struct {
	mu      sync.Mutex
	books   map[string]*book.Book
	history map[string][]book.Stage
	now     func() time.Time
}

// NewMemory creates an empty store
func NewMemory() *Memory {
	return &Memory{
		books:   make(map[string]*book.Book),
		history: make(map[string][]book.Stage),
		now:     time.Now,
	}
}

// Create stores a copy of b
func (m *Memory) Create(_ context.Context, b *book.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.books[b.ID]; ok {
		return fmt.Errorf("book %s already exists", b.ID)
	}

	c := clone(b)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.now()
	}
	c.UpdatedAt = c.CreatedAt
	m.books[b.ID] = c
	m.history[b.ID] = []book.Stage{c.Stage}
	return nil
}

// Put stores b as is, replacing any existing book, without validating the stage.
func (m *Memory) Put(b *book.Book) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[b.ID] = clone(b)
	m.history[b.ID] = []book.Stage{b.Stage}
}

func (m *Memory) Get(_ context.Context, id string) (*book.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.books[id]
	if !ok {
		return nil, book.ErrNotFound
	}
	return clone(b), nil
}

func (m *Memory) Update(_ context.Context, id string, u book.Update) (*book.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.books[id]
	if !ok {
		return nil, book.ErrNotFound
	}
	u.Apply(b)
	b.UpdatedAt = m.now()
	return clone(b), nil
}

func (m *Memory) Transition(_ context.Context, id string, from []book.Stage, to book.Stage, u book.Update) (*book.Book, error) {
	for _, f := range from {
		if !book.CanTransition(f, to) {
			return nil, fmt.Errorf("%w: %s -> %s", book.ErrInvalidTransition, f, to)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.books[id]
	if !ok {
		return nil, book.ErrNotFound
	}
	if !slices.Contains(from, b.Stage) {
		return nil, fmt.Errorf("%w: book is %s", book.ErrConflict, b.Stage)
	}

	b.Stage = to
	u.Apply(b)
	b.UpdatedAt = m.now()
	m.history[id] = append(m.history[id], to)
	return clone(b), nil
}

func (m *Memory) Touch(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.books[id]
	if !ok {
		return book.ErrNotFound
	}
	now := m.now()
	b.HeartbeatAt = &now
	return nil
}

// ListByOwner mirrors the keyset pagination of the SQL store
func (m *Memory) ListByOwner(_ context.Context, filter store.ListFilter) ([]book.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []book.Book
	for _, b := range m.books {
		if b.UserID != filter.UserID {
			continue
		}
		if c := filter.Cursor; c != nil {
			if b.CreatedAt.After(c.CreatedAt) || (b.CreatedAt.Equal(c.CreatedAt) && b.ID >= c.ID) {
				continue
			}
		}
		out = append(out, *clone(b))
	}

	slices.SortFunc(out, func(a, b book.Book) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})

	if len(out) > filter.PageSize+1 {
		out = out[:filter.PageSize+1]
	}
	return out, nil
}

// History returns every stage the book has been in, in order
func (m *Memory) History(id string) []book.Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.history[id])
}

func clone(b *book.Book) *book.Book {
	c := *b
	c.Scenes = b.Scenes.Clone()
	c.PreviewScenes = b.PreviewScenes.Clone()
	c.PreviewImages = slices.Clone(b.PreviewImages)
	c.Pages = slices.Clone(b.Pages)
	if b.HeartbeatAt != nil {
		t := *b.HeartbeatAt
		c.HeartbeatAt = &t
	}
	return &c
}
