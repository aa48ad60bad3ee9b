// Package document assembles the final printable book as a PDF.
package document

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"log/slog"
	"strconv"

	"github.com/cuongbtq/storybook-be/internal/generation"
	"github.com/go-pdf/fpdf"
	_ "github.com/kolesa-team/go-webp/decoder"
)

const (
	pageW   = 210.0
	pageH   = 297.0
	margin  = 15.0
	imageH  = 180.0
	textTop = margin + imageH + 10
	font    = "Helvetica"
)

// Assembler implements generation.DocumentAssembler on fpdf
type Assembler struct {
	logger *slog.Logger
}

var _ generation.DocumentAssembler = (*Assembler)(nil)

// NewAssembler creates a new Assembler
func NewAssembler(logger *slog.Logger) *Assembler {
	return &Assembler{logger: logger}
}

// Assemble renders the cover, one PDF page per book page, and a closing page
func (a *Assembler) Assemble(ctx context.Context, req generation.DocumentRequest) ([]byte, error) {
	if len(req.Pages) == 0 {
		return nil, fmt.Errorf("document has no pages")
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(req.Title, true)
	pdf.SetAuthor("Storybook", true)
	pdf.SetAutoPageBreak(false, 0)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	registered := make(map[string]bool)
	register := func(key string, img generation.Image) (string, error) {
		if registered[key] {
			return key, nil
		}
		data, imageType, err := printable(img)
		if err != nil {
			return "", err
		}
		pdf.RegisterImageOptionsReader(key, fpdf.ImageOptions{ImageType: imageType}, bytes.NewReader(data))
		if pdf.Err() {
			return "", fmt.Errorf("failed to register image %s: %w", key, pdf.Error())
		}
		registered[key] = true
		return key, nil
	}

	// Cover
	pdf.AddPage()
	if cover := req.Pages[0].Image; !cover.Empty() {
		name, err := register("page-"+strconv.Itoa(req.Pages[0].Number), cover)
		if err != nil {
			return nil, err
		}
		pdf.ImageOptions(name, margin, margin+20, pageW-2*margin, imageH, false, fpdf.ImageOptions{}, 0, "")
	}
	pdf.SetFont(font, "B", 26)
	pdf.SetXY(margin, margin)
	pdf.MultiCell(pageW-2*margin, 10, tr(req.Title), "", "C", false)
	pdf.SetFont(font, "I", 14)
	pdf.SetXY(margin, textTop+20)
	pdf.MultiCell(pageW-2*margin, 8, tr("A story for "+req.ChildName), "", "C", false)

	for _, page := range req.Pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pdf.AddPage()
		if !page.Image.Empty() {
			name, err := register("page-"+strconv.Itoa(page.Number), page.Image)
			if err != nil {
				return nil, err
			}
			pdf.ImageOptions(name, margin, margin, pageW-2*margin, imageH, false, fpdf.ImageOptions{}, 0, "")
		}

		pdf.SetFont(font, "", 15)
		pdf.SetXY(margin+5, textTop)
		pdf.MultiCell(pageW-2*margin-10, 8, tr(page.Text), "", "C", false)

		pdf.SetFont(font, "", 10)
		pdf.SetXY(margin, pageH-margin)
		pdf.CellFormat(pageW-2*margin, 5, strconv.Itoa(page.Number), "", 0, "C", false, 0, "")
	}

	pdf.AddPage()
	pdf.SetFont(font, "I", 16)
	pdf.SetXY(margin, pageH/2-10)
	pdf.MultiCell(pageW-2*margin, 9, tr("The End\n\nMade with love for "+req.ChildName), "", "C", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to write pdf: %w", err)
	}

	a.logger.Info("Document assembled",
		slog.Int("pages", len(req.Pages)),
		slog.Int("bytes", buf.Len()),
	)

	return buf.Bytes(), nil
}

// printable returns image data in a format fpdf can embed, converting
// anything other than PNG, JPEG or GIF to PNG.
func printable(img generation.Image) ([]byte, string, error) {
	switch img.MIMEType {
	case "image/png":
		return img.Data, "PNG", nil
	case "image/jpeg", "image/jpg":
		return img.Data, "JPG", nil
	case "image/gif":
		return img.Data, "GIF", nil
	}

	decoded, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode %s image: %w", img.MIMEType, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, decoded); err != nil {
		return nil, "", fmt.Errorf("failed to convert image to png: %w", err)
	}
	return buf.Bytes(), "PNG", nil
}
