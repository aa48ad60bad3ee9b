package gemini

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/storybook-be/internal/book"
	"github.com/cuongbtq/storybook-be/internal/generation"
	"github.com/google/generative-ai-go/genai"
)

const (
	coverBackground = "Replace the clean white background of the reference image with the environment described below."
	coverQuality    = "Detailed texture, sharp focus on the eyes, cinematic portrait lighting, masterpiece."
)

// RenderScene renders a scene around the character reference
func (c *Client) RenderScene(ctx context.Context, req generation.SceneRequest) (generation.Image, error) {
	if req.Character.Empty() {
		return generation.Image{}, book.Permanent(fmt.Errorf("character reference is required"))
	}

	img, err := c.generateImage(ctx, blob(req.Character), genai.Text(scenePrompt(req)))
	if err != nil {
		return generation.Image{}, fmt.Errorf("failed to render scene: %w", err)
	}

	c.logger.Debug("Scene rendered",
		slog.Bool("cover", req.Cover),
		slog.Int("bytes", len(img.Data)),
	)
	return img, nil
}

func scenePrompt(req generation.SceneRequest) string {
	prompt := "Illustration in " + generation.StylePrompt(req.Style) + " style. " +
		"Keep the character from the reference image exactly as shown. " + req.Directive
	if req.Cover {
		prompt = coverBackground + " " + prompt + " " + coverQuality
	}
	return prompt
}
