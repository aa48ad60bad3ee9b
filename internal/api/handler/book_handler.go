package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/storybook-be/internal/api/dto"
	"github.com/cuongbtq/storybook-be/internal/book"
	"github.com/cuongbtq/storybook-be/internal/service"
	"github.com/cuongbtq/storybook-be/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CreateBook handles POST /api/v1/books
// Registers a new book and schedules its character stage
func (h *BookHandler) CreateBook(c *gin.Context) {
	var req dto.CreateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	b, err := h.books.Create(c.Request.Context(), service.CreateInput{
		UserID:               req.UserID,
		ChildName:            req.ChildName,
		Theme:                req.Theme,
		Style:                req.Style,
		ChildPhotoURL:        req.ChildPhotoURL,
		ApprovedCharacterURL: req.ApprovedCharacterURL,
	})
	if err != nil {
		h.respondError(c, "create book", err)
		return
	}

	c.JSON(http.StatusAccepted, dto.NewStatusResponse(service.StatusOf(b)))
}

// GetStatus handles GET /api/v1/books/:book_id/status
func (h *BookHandler) GetStatus(c *gin.Context) {
	id, ok := h.bookID(c)
	if !ok {
		return
	}

	st, err := h.books.Status(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "get status", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewStatusResponse(st))
}

// GetBook handles GET /api/v1/books/:book_id
func (h *BookHandler) GetBook(c *gin.Context) {
	id, ok := h.bookID(c)
	if !ok {
		return
	}

	b, err := h.books.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "get book", err)
		return
	}

	c.JSON(http.StatusOK, dto.NewBookDTO(b))
}

// ListBooks handles GET /api/v1/books
// Lists a user's books, newest first, with cursor pagination
func (h *BookHandler) ListBooks(c *gin.Context) {
	var req dto.ListBooksRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "user_id is required",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeBookCursor(req.Cursor)
	if err != nil {
		h.logger.Warn("Invalid cursor", slog.String("cursor", req.Cursor), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	page, err := h.books.List(c.Request.Context(), store.ListFilter{
		UserID:   req.UserID,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.respondError(c, "list books", err)
		return
	}

	books := make([]dto.BookDTO, 0, len(page.Books))
	for i := range page.Books {
		books = append(books, dto.NewBookDTO(&page.Books[i]))
	}

	c.JSON(http.StatusOK, dto.ListBooksResponse{
		Books:      books,
		NextCursor: EncodeBookCursor(page.Next),
	})
}

// ApproveCharacter handles POST /api/v1/books/:book_id/approve
func (h *BookHandler) ApproveCharacter(c *gin.Context) {
	h.signal(c, "approve character", h.books.Approve)
}

// RegenerateCharacter handles POST /api/v1/books/:book_id/regenerate
func (h *BookHandler) RegenerateCharacter(c *gin.Context) {
	h.signal(c, "regenerate character", h.books.Regenerate)
}

// PurchaseBook handles POST /api/v1/books/:book_id/purchase
func (h *BookHandler) PurchaseBook(c *gin.Context) {
	h.signal(c, "purchase book", h.books.Purchase)
}

// DownloadBook handles GET /api/v1/books/:book_id/download
func (h *BookHandler) DownloadBook(c *gin.Context) {
	id, ok := h.bookID(c)
	if !ok {
		return
	}

	dl, err := h.books.Download(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "download book", err)
		return
	}

	c.JSON(http.StatusOK, dto.DownloadResponse{
		DownloadURL: dl.URL,
		Filename:    dl.Filename,
	})
}

type signalFunc func(ctx context.Context, id string) (*book.Book, error)

func (h *BookHandler) signal(c *gin.Context, op string, fn signalFunc) {
	id, ok := h.bookID(c)
	if !ok {
		return
	}

	b, err := fn(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, op, err)
		return
	}

	c.JSON(http.StatusAccepted, dto.NewStatusResponse(service.StatusOf(b)))
}

func (h *BookHandler) bookID(c *gin.Context) (string, bool) {
	id := c.Param("book_id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "book_id must be a valid UUID",
		})
		return "", false
	}
	return id, true
}

// respondError maps domain errors to status codes
func (h *BookHandler) respondError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, book.ErrUnknownTheme):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, book.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Book not found"})
	case errors.Is(err, book.ErrConflict), errors.Is(err, book.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Failed to "+op,
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to " + op,
		})
	}
}
