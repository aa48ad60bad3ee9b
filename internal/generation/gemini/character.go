package gemini

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/storybook-be/internal/book"
	"github.com/cuongbtq/storybook-be/internal/generation"
	"github.com/google/generative-ai-go/genai"
)

// SynthesizeCharacter turns the photo into a stylised character portrait
func (c *Client) SynthesizeCharacter(ctx context.Context, photo generation.Image, prompt string) (generation.Image, error) {
	if photo.Empty() {
		return generation.Image{}, book.Permanent(fmt.Errorf("photo is empty"))
	}

	img, err := c.generateImage(ctx, blob(photo), genai.Text(prompt))
	if err != nil {
		return generation.Image{}, fmt.Errorf("failed to synthesize character: %w", err)
	}

	c.logger.Debug("Character synthesized", slog.Int("bytes", len(img.Data)))
	return img, nil
}
