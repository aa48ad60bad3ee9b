// Package gemini implements character synthesis, feature analysis and scene
// rendering on the Google Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cuongbtq/storybook-be/internal/book"
	"github.com/cuongbtq/storybook-be/internal/generation"
	"github.com/cuongbtq/storybook-be/internal/retry"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Config holds Gemini client settings
type Config struct {
	APIKey     string
	ImageModel string
	TextModel  string
}

// Client wraps a Gemini client with one image model and one text model
type Client struct {
	client     *genai.Client
	imageModel *genai.GenerativeModel
	textModel  *genai.GenerativeModel
	traits     *traitsValidator
	logger     *slog.Logger
}

var (
	_ generation.CharacterSynthesizer = (*Client)(nil)
	_ generation.FeatureAnalyzer      = (*Client)(nil)
	_ generation.SceneRenderer        = (*Client)(nil)
)

// NewClient creates a new Gemini client
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	validator, err := newTraitsValidator()
	if err != nil {
		client.Close()
		return nil, err
	}

	textModel := client.GenerativeModel(cfg.TextModel)
	textModel.ResponseMIMEType = "application/json"
	textModel.SetTemperature(0)

	logger.Info("Gemini client initialized",
		slog.String("image_model", cfg.ImageModel),
		slog.String("text_model", cfg.TextModel),
	)

	return &Client{
		client:     client,
		imageModel: client.GenerativeModel(cfg.ImageModel),
		textModel:  textModel,
		traits:     validator,
		logger:     logger,
	}, nil
}

// Close releases the underlying connection
func (c *Client) Close() error {
	return c.client.Close()
}

// generateImage sends the parts to the image model and returns the first
// inline image of the response.
func (c *Client) generateImage(ctx context.Context, parts ...genai.Part) (generation.Image, error) {
	resp, err := c.imageModel.GenerateContent(ctx, parts...)
	if err != nil {
		return generation.Image{}, classify(err)
	}

	return firstImage(resp)
}

func firstImage(resp *genai.GenerateContentResponse) (generation.Image, error) {
	if resp == nil {
		return generation.Image{}, book.Permanent(errors.New("empty response"))
	}

	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if blob, ok := part.(genai.Blob); ok && len(blob.Data) > 0 {
				return generation.Image{Data: blob.Data, MIMEType: blob.MIMEType}, nil
			}
		}
	}

	// Models occasionally answer with text only; another attempt usually succeeds.
	return generation.Image{}, fmt.Errorf("no image in response (%d candidates)", len(resp.Candidates))
}

func firstText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", book.Permanent(errors.New("empty response"))
	}

	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
		if sb.Len() > 0 {
			return sb.String(), nil
		}
	}

	return "", fmt.Errorf("no text in response (%d candidates)", len(resp.Candidates))
}

func blob(img generation.Image) genai.Blob {
	mime := img.MIMEType
	if mime == "" {
		mime = http.DetectContentType(img.Data)
	}
	return genai.Blob{MIMEType: mime, Data: img.Data}
}

// classify maps provider errors onto the retry taxonomy. Rejected input and
// blocked content are permanent; throttling is tagged as rate limited.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return book.Permanent(err)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusTooManyRequests:
			return retry.RateLimited(err)
		case gerr.Code >= 400 && gerr.Code < 500 && gerr.Code != http.StatusRequestTimeout:
			return book.Permanent(err)
		}
		return err
	}

	switch status.Code(err) {
	case codes.ResourceExhausted:
		return retry.RateLimited(err)
	case codes.InvalidArgument, codes.FailedPrecondition, codes.PermissionDenied,
		codes.Unauthenticated, codes.NotFound:
		return book.Permanent(err)
	}

	return err
}
