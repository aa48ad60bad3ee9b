package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cuongbtq/storybook-be/internal/api/dto"
	"github.com/cuongbtq/storybook-be/internal/book"
	"github.com/cuongbtq/storybook-be/internal/generation"
	"github.com/cuongbtq/storybook-be/internal/objectstore"
	"github.com/cuongbtq/storybook-be/internal/retry"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MaxUploadBytes caps a single uploaded photo
const MaxUploadBytes = 10 << 20

// multipart overhead on top of the file itself
const formOverhead = 1 << 20

var errNotImage = errors.New("file must be a JPEG, PNG, GIF or WebP image")

// AssetHandler serves photo uploads and the character preview wizard
type AssetHandler struct {
	logger       *slog.Logger
	assets       AssetStorage
	characters   generation.CharacterSynthesizer
	retry        retry.Policy
	defaultStyle string
}

// NewAssetHandler creates a new AssetHandler instance
func NewAssetHandler(deps *Dependencies) *AssetHandler {
	policy := deps.Retry
	if policy.MaxAttempts <= 0 {
		policy = retry.DefaultPolicy()
	}

	return &AssetHandler{
		logger:       deps.Logger,
		assets:       deps.Assets,
		characters:   deps.Characters,
		retry:        policy,
		defaultStyle: deps.DefaultStyle,
	}
}

// UploadPhoto handles POST /api/v1/upload
// Stores a child photo and returns the reference to pass as child_photo_url
func (h *AssetHandler) UploadPhoto(c *gin.Context) {
	limitBody(c)

	img, ok := h.readImage(c)
	if !ok {
		return
	}

	key := objectstore.UploadKey(uuid.NewString()) + objectstore.ExtensionFor(img.MIMEType)
	url, err := h.assets.Put(c.Request.Context(), img.Data, key, img.MIMEType)
	if err != nil {
		h.logger.Error("Failed to store upload",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to store upload",
		})
		return
	}

	c.JSON(http.StatusCreated, dto.UploadResponse{URL: url})
}

// GenerateCharacterPreview handles POST /api/v1/generate-character-preview
// Synthesizes a character portrait from a photo before any book exists. The
// returned approved_character_url lets the book skip its own synthesis.
func (h *AssetHandler) GenerateCharacterPreview(c *gin.Context) {
	limitBody(c)

	var req dto.CharacterPreviewRequest
	if err := c.ShouldBind(&req); err != nil {
		if tooLarge(c, err) {
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "name is required",
		})
		return
	}

	photo, ok := h.readImage(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	previewID := uuid.NewString()
	logger := h.logger.With(slog.String("preview_id", previewID))

	style := req.Style
	if style == "" {
		style = h.defaultStyle
	}
	prompt := generation.SubjectPrompt(style, generation.Subject(req.Gender))

	originalKey := objectstore.WizardKey(previewID, "original") + objectstore.ExtensionFor(photo.MIMEType)
	originalURL, err := h.assets.Put(ctx, photo.Data, originalKey, photo.MIMEType)
	if err != nil {
		logger.Error("Failed to store original photo", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to store photo",
		})
		return
	}

	character, err := retry.Invoke(ctx, logger, h.retry, "synthesize character preview", func(ctx context.Context) (generation.Image, error) {
		return h.characters.SynthesizeCharacter(ctx, photo, prompt)
	})
	if err != nil {
		logger.Error("Character preview failed",
			slog.String("name", req.Name),
			slog.String("error", err.Error()),
		)
		if book.IsPermanent(err) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error": "Could not create a character from this photo",
			})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "Character generation is unavailable, try again later",
		})
		return
	}

	generatedKey := objectstore.WizardKey(previewID, "generated") + objectstore.ExtensionFor(character.MIMEType)
	generatedURL, err := h.assets.Put(ctx, character.Data, generatedKey, character.MIMEType)
	if err != nil {
		logger.Error("Failed to store character preview", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to store character",
		})
		return
	}

	logger.Info("Character preview generated", slog.String("style", style))

	c.JSON(http.StatusOK, dto.CharacterPreviewResponse{
		PreviewID:            previewID,
		OriginalURL:          originalURL,
		ApprovedCharacterURL: generatedURL,
	})
}

func limitBody(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadBytes+formOverhead)
}

// tooLarge answers 413 when err comes from an oversized body
func tooLarge(c *gin.Context, err error) bool {
	var maxErr *http.MaxBytesError
	if !errors.As(err, &maxErr) {
		return false
	}
	c.JSON(http.StatusRequestEntityTooLarge, gin.H{
		"error": fmt.Sprintf("file exceeds %d bytes", MaxUploadBytes),
	})
	return true
}

// readImage reads the "file" form field and checks its content is an image.
// It writes the error response itself.
func (h *AssetHandler) readImage(c *gin.Context) (generation.Image, bool) {
	fh, err := c.FormFile("file")
	if err != nil {
		if tooLarge(c, err) {
			return generation.Image{}, false
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "file is required",
		})
		return generation.Image{}, false
	}

	if fh.Size > MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": fmt.Sprintf("file exceeds %d bytes", MaxUploadBytes),
		})
		return generation.Image{}, false
	}

	f, err := fh.Open()
	if err != nil {
		h.logger.Error("Failed to open upload", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "file could not be read",
		})
		return generation.Image{}, false
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "file could not be read",
		})
		return generation.Image{}, false
	}

	// The declared content type is not trusted
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") || objectstore.ExtensionFor(mime) == ".bin" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": errNotImage.Error(),
		})
		return generation.Image{}, false
	}

	return generation.Image{Data: data, MIMEType: mime}, true
}
