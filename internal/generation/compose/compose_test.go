package compose

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/cuongbtq/storybook-be/internal/generation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/sfnt"
)

func pngEncoder(img image.Image) (generation.Image, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return generation.Image{}, err
	}
	return generation.Image{Data: buf.Bytes(), MIMEType: "image/png"}, nil
}

func solidPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestCompositor() *Compositor {
	return NewWithEncoder(pngEncoder, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestTemplateFor(t *testing.T) {
	assert.Equal(t, TemplateCover, TemplateFor(0))
	assert.Equal(t, TemplateNursery, TemplateFor(1))
	assert.Equal(t, TemplateCarpet, TemplateFor(2))
	assert.Equal(t, TemplateClean, TemplateFor(3))
	assert.Equal(t, TemplateNursery, TemplateFor(7))
	assert.Equal(t, TemplateNursery, TemplateFor(13))
}

func TestCompose_Layouts(t *testing.T) {
	red := color.RGBA{R: 255, A: 255}
	render := solidPNG(t, 64, 64, red)

	tests := []struct {
		name     string
		template string
		size     image.Point
		sample   image.Point
	}{
		{name: "cover", template: TemplateCover, size: image.Pt(1024, 1024), sample: image.Pt(500, 400)},
		{name: "open book", template: TemplateCarpet, size: image.Pt(1024, 571), sample: image.Pt(750, 300)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := newTestCompositor().Compose(context.Background(), generation.ComposeRequest{
				Render:   generation.Image{Data: render, MIMEType: "image/png"},
				Template: tt.template,
				Title:    "Mia and the Great Star Journey",
				PageText: "One night Mia spotted a star that shone brighter than all the others.",
			})
			require.NoError(t, err)
			assert.Equal(t, "image/png", out.MIMEType)

			img, err := png.Decode(bytes.NewReader(out.Data))
			require.NoError(t, err)
			assert.Equal(t, tt.size, img.Bounds().Size())

			r, g, b, _ := img.At(tt.sample.X, tt.sample.Y).RGBA()
			assert.InDelta(t, 0xffff, r, 0x200)
			assert.InDelta(t, 0, g, 0x200)
			assert.InDelta(t, 0, b, 0x200)
		})
	}
}

func TestCompose_Errors(t *testing.T) {
	c := newTestCompositor()

	_, err := c.Compose(context.Background(), generation.ComposeRequest{
		Render:   generation.Image{Data: []byte("not an image")},
		Template: TemplateClean,
	})
	assert.ErrorContains(t, err, "failed to decode render")

	_, err = c.Compose(context.Background(), generation.ComposeRequest{Template: "poster"})
	assert.ErrorContains(t, err, "unknown mockup template")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Compose(ctx, generation.ComposeRequest{Template: TemplateClean})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWrap(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		width int
		want  []string
	}{
		{name: "fits", text: "a short line", width: 20, want: []string{"a short line"}},
		{name: "breaks on words", text: "one two three four", width: 9, want: []string{"one two", "three", "four"}},
		{name: "long word kept whole", text: "supercalifragilistic", width: 5, want: []string{"supercalifragilistic"}},
		{name: "empty", text: "   ", width: 10, want: nil},
		{name: "zero width", text: "abc", width: 0, want: nil},
		{name: "counts runes not bytes", text: "Jürgen übt Öl", width: 10, want: []string{"Jürgen übt", "Öl"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, wrap(tt.text, tt.width, utf8.RuneCountInString))
		})
	}
}

func TestWrap_MeasuresGlyphs(t *testing.T) {
	face, err := newFace(bodySize)
	require.NoError(t, err)
	defer face.Close()

	measure := func(s string) int { return font.MeasureString(face, s).Ceil() }
	text := "Mia und Jürgen fliegen zum Mond und zählen die Sterne über der Erde"
	width := 200

	lines := wrap(text, width, measure)
	require.Greater(t, len(lines), 1)
	for _, line := range lines {
		assert.LessOrEqual(t, measure(line), width, line)
	}
	assert.Equal(t, text, strings.Join(lines, " "))
}

func TestTextFont_HasUmlautGlyphs(t *testing.T) {
	f, err := textFont()
	require.NoError(t, err)

	var buf sfnt.Buffer
	for _, r := range "äöüßÄÖÜé" {
		idx, err := f.GlyphIndex(&buf, r)
		require.NoError(t, err)
		assert.NotZero(t, idx, string(r))
	}
}
