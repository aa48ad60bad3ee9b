package document

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"testing"

	"github.com/cuongbtq/storybook-be/internal/generation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestAssembler_Assemble(t *testing.T) {
	a := NewAssembler(slog.New(slog.NewTextHandler(io.Discard, nil)))
	img := generation.Image{Data: testPNG(t), MIMEType: "image/png"}

	out, err := a.Assemble(context.Background(), generation.DocumentRequest{
		ChildName: "Zoë",
		Title:     "Zoë and the Great Star Journey",
		Pages: []generation.DocumentPage{
			{Number: 1, Text: "Zoë and the Great Star Journey", Image: img},
			{Number: 2, Text: "", Image: img},
			{Number: 3, Text: "One night Zoë saw a star.", Image: img},
			{Number: 4, Text: "It twinkled."},
		},
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
}

func TestAssembler_Errors(t *testing.T) {
	a := NewAssembler(slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := a.Assemble(context.Background(), generation.DocumentRequest{Title: "x"})
	assert.ErrorContains(t, err, "no pages")

	_, err = a.Assemble(context.Background(), generation.DocumentRequest{
		Title: "x",
		Pages: []generation.DocumentPage{
			{Number: 1, Image: generation.Image{Data: []byte("garbage"), MIMEType: "image/webp"}},
		},
	})
	assert.Error(t, err)
}

func TestPrintable(t *testing.T) {
	data := testPNG(t)

	got, kind, err := printable(generation.Image{Data: data, MIMEType: "image/png"})
	require.NoError(t, err)
	assert.Equal(t, "PNG", kind)
	assert.Equal(t, data, got)

	_, kind, err = printable(generation.Image{Data: data, MIMEType: "application/octet-stream"})
	require.NoError(t, err)
	assert.Equal(t, "PNG", kind)
}
