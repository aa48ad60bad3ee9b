// Package compose builds presentation-ready preview mockups: the raw scene
// render is framed as a closed book cover or an open book spread and encoded
// as WebP.
package compose

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"strings"
	"sync"

	"github.com/cuongbtq/storybook-be/internal/generation"
	_ "github.com/kolesa-team/go-webp/decoder"
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	bodySize  = 18
	titleSize = 26
)

// textFont covers Latin-1 and Latin Extended, so names like "Jürgen" render.
var textFont = sync.OnceValues(func() (*opentype.Font, error) {
	return opentype.Parse(goregular.TTF)
})

// newFace returns a face of the text font. Faces hold glyph buffers and are
// not shared between calls.
func newFace(size float64) (font.Face, error) {
	f, err := textFont()
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}
	return opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
}

// Template names
const (
	TemplateCover   = "cover"
	TemplateNursery = "nursery"
	TemplateCarpet  = "carpet"
	TemplateClean   = "clean"
)

type layout struct {
	size       image.Point
	background color.RGBA
	// picture is where the render goes. For open books it is the right page.
	picture image.Rectangle
	// text is the left page of an open book; empty for the cover.
	text image.Rectangle
}

var (
	paper  = color.RGBA{R: 250, G: 245, B: 232, A: 255}
	ink    = color.RGBA{R: 51, G: 41, B: 33, A: 255}
	shadow = color.RGBA{A: 90}
)

var layouts = map[string]layout{
	TemplateCover: {
		size:       image.Pt(1024, 1024),
		background: color.RGBA{R: 139, G: 98, B: 64, A: 255},
		picture:    image.Rect(270, 200, 755, 800),
	},
	TemplateNursery: {
		size:       image.Pt(1024, 571),
		background: color.RGBA{R: 214, G: 228, B: 240, A: 255},
		text:       image.Rect(50, 50, 490, 520),
		picture:    image.Rect(530, 50, 970, 520),
	},
	TemplateCarpet: {
		size:       image.Pt(1024, 571),
		background: color.RGBA{R: 176, G: 74, B: 66, A: 255},
		text:       image.Rect(55, 40, 485, 520),
		picture:    image.Rect(535, 40, 965, 520),
	},
	TemplateClean: {
		size:       image.Pt(1024, 571),
		background: color.RGBA{R: 255, G: 255, B: 255, A: 255},
		text:       image.Rect(32, 25, 482, 545),
		picture:    image.Rect(540, 25, 990, 545),
	},
}

var openTemplates = []string{TemplateNursery, TemplateCarpet, TemplateClean}

// TemplateFor picks the mockup for a scene. Scene 0 is always the cover.
func TemplateFor(sceneID int) string {
	if sceneID == 0 {
		return TemplateCover
	}
	return openTemplates[(sceneID-1)%len(openTemplates)]
}

// EncodeFunc encodes the finished mockup
type EncodeFunc func(img image.Image) (generation.Image, error)

// Compositor implements generation.Compositor
type Compositor struct {
	encode EncodeFunc
	logger *slog.Logger
}

var _ generation.Compositor = (*Compositor)(nil)

// New creates a Compositor that writes lossy WebP at the given quality
func New(quality float32, logger *slog.Logger) (*Compositor, error) {
	options, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, quality)
	if err != nil {
		return nil, fmt.Errorf("failed to create WebP encoder options: %w", err)
	}

	encode := func(img image.Image) (generation.Image, error) {
		var buf bytes.Buffer
		if err := webp.Encode(&buf, img, options); err != nil {
			return generation.Image{}, fmt.Errorf("failed to encode WebP: %w", err)
		}
		return generation.Image{Data: buf.Bytes(), MIMEType: "image/webp"}, nil
	}

	return NewWithEncoder(encode, logger), nil
}

// NewWithEncoder creates a Compositor with a custom output encoder
func NewWithEncoder(encode EncodeFunc, logger *slog.Logger) *Compositor {
	return &Compositor{encode: encode, logger: logger}
}

// Compose frames the render with the requested template
func (c *Compositor) Compose(ctx context.Context, req generation.ComposeRequest) (generation.Image, error) {
	if err := ctx.Err(); err != nil {
		return generation.Image{}, err
	}

	l, ok := layouts[req.Template]
	if !ok {
		return generation.Image{}, fmt.Errorf("unknown mockup template %q", req.Template)
	}

	render, _, err := image.Decode(bytes.NewReader(req.Render.Data))
	if err != nil {
		return generation.Image{}, fmt.Errorf("failed to decode render: %w", err)
	}

	size := float64(bodySize)
	if l.text.Empty() {
		size = titleSize
	}
	face, err := newFace(size)
	if err != nil {
		return generation.Image{}, err
	}
	defer face.Close()

	canvas := image.NewRGBA(image.Rectangle{Max: l.size})
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(l.background), image.Point{}, draw.Src)

	if l.text.Empty() {
		drawCover(canvas, face, l, render, req.Title)
	} else {
		drawSpread(canvas, face, l, render, req.PageText)
	}

	out, err := c.encode(canvas)
	if err != nil {
		return generation.Image{}, err
	}

	c.logger.Debug("Mockup composed",
		slog.String("template", req.Template),
		slog.Int("bytes", len(out.Data)),
	)
	return out, nil
}

func drawCover(canvas *image.RGBA, face font.Face, l layout, render image.Image, title string) {
	draw.Draw(canvas, l.picture.Add(image.Pt(12, 12)), image.NewUniform(shadow), image.Point{}, draw.Over)
	xdraw.CatmullRom.Scale(canvas, l.picture, render, render.Bounds(), xdraw.Over, nil)

	if title == "" {
		return
	}

	band := image.Rect(l.picture.Min.X, l.picture.Max.Y-60, l.picture.Max.X, l.picture.Max.Y)
	draw.Draw(canvas, band, image.NewUniform(color.RGBA{R: 255, G: 255, B: 255, A: 200}), image.Point{}, draw.Over)
	drawLines(canvas, face, band.Inset(10), []string{title}, true)
}

func drawSpread(canvas *image.RGBA, face font.Face, l layout, render image.Image, text string) {
	spread := l.text.Union(l.picture)
	draw.Draw(canvas, spread.Add(image.Pt(8, 8)), image.NewUniform(shadow), image.Point{}, draw.Over)
	draw.Draw(canvas, l.text, image.NewUniform(paper), image.Point{}, draw.Src)
	xdraw.CatmullRom.Scale(canvas, l.picture, render, render.Bounds(), xdraw.Src, nil)

	area := l.text.Inset(24)
	measure := func(s string) int {
		return font.MeasureString(face, s).Ceil()
	}
	drawLines(canvas, face, area, wrap(text, area.Dx(), measure), false)
}

func drawLines(dst draw.Image, face font.Face, area image.Rectangle, lines []string, center bool) {
	metrics := face.Metrics()
	lineHeight := metrics.Height.Ceil() + 6

	d := &font.Drawer{Dst: dst, Src: image.NewUniform(ink), Face: face}
	y := area.Min.Y + metrics.Ascent.Ceil()
	for _, line := range lines {
		if y > area.Max.Y {
			break
		}
		x := area.Min.X
		if center {
			x += (area.Dx() - d.MeasureString(line).Round()) / 2
		}
		d.Dot = fixed.P(x, y)
		d.DrawString(line)
		y += lineHeight
	}
}

// wrap breaks text on word boundaries into lines no wider than width, as
// reported by measure. A single word wider than width gets a line of its own.
func wrap(text string, width int, measure func(string) int) []string {
	if width <= 0 {
		return nil
	}

	var (
		lines   []string
		current string
	)
	for _, word := range strings.Fields(text) {
		if current == "" {
			current = word
			continue
		}
		if candidate := current + " " + word; measure(candidate) <= width {
			current = candidate
			continue
		}
		lines = append(lines, current)
		current = word
	}
	if current != "" {
		lines = append(lines, current)
	}
	return lines
}
