package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/storybook-be/internal/book"
	"github.com/cuongbtq/storybook-be/internal/generation"
	"github.com/cuongbtq/storybook-be/internal/objectstore"
	"github.com/cuongbtq/storybook-be/internal/retry"
)

// completeBook renders every scene the preview skipped, lays out the pages
// and publishes the document. The document reference is only written by the
// final transition.
func (o *Orchestrator) completeBook(ctx context.Context, b *book.Book) (Result, error) {
	if b.CharacterImageURL == "" {
		return Result{}, missing("character image")
	}

	b, err := o.checkpoint(ctx, b, book.Status(10, "Finishing your book"))
	if err != nil {
		return Result{}, err
	}

	scenes := b.Scenes.Clone()
	title := b.StoryTitle
	if len(scenes) != o.cfg.SceneCount {
		// Story was not persisted by the preview, write it again.
		if scenes, title, err = o.writeStory(ctx, b); err != nil {
			return Result{}, err
		}
	}

	var pending []int
	for i := range scenes {
		if scenes[i].ImageURL == "" {
			pending = append(pending, i)
		}
	}

	if len(pending) > 0 {
		character, err := call(ctx, o, b, "fetch character", func(ctx context.Context) (generation.Image, error) {
			return o.deps.Storage.Fetch(ctx, b.CharacterImageURL)
		})
		if err != nil {
			return Result{}, err
		}

		for n, i := range pending {
			if n > 0 {
				if err := retry.Sleep(ctx, o.cfg.SceneDelay); err != nil {
					return Result{}, err
				}
			}

			_, url, err := o.renderScene(ctx, b, character, scenes[i])
			if err != nil {
				return Result{}, err
			}
			scenes[i].ImageURL = url

			u := book.Status(10+(n+1)*70/len(pending), fmt.Sprintf("Illustrated %d/%d pages", n+1, len(pending)))
			u.Scenes = scenes
			if b, err = o.checkpoint(ctx, b, u); err != nil {
				return Result{}, err
			}
		}
	}

	if !scenes.Rendered() {
		return Result{}, missing("scene illustrations")
	}

	pages := scenes.Pages()
	u := book.Status(90, "Assembling your book")
	u.StoryTitle = &title
	u.Scenes = scenes
	u.Pages = pages
	if b, err = o.checkpoint(ctx, b, u); err != nil {
		return Result{}, err
	}

	pdfURL, err := o.publishDocument(ctx, b, title, pages)
	if err != nil {
		return Result{}, err
	}

	done := book.Status(100, "Your book is ready")
	done.PDFURL = &pdfURL
	next, err := o.advance(ctx, b, book.StageCompleted, done)
	if err != nil {
		return Result{}, err
	}
	return Result{Book: next}, nil
}

// publishDocument assembles and stores the final document
func (o *Orchestrator) publishDocument(ctx context.Context, b *book.Book, title string, pages book.Pages) (string, error) {
	images := make(map[string]generation.Image)
	docPages := make([]generation.DocumentPage, 0, len(pages))
	for _, p := range pages {
		if p.ImageURL == "" {
			return "", missing(fmt.Sprintf("image of page %d", p.PageNumber))
		}

		img, ok := images[p.ImageURL]
		if !ok {
			ref := p.ImageURL
			fetched, err := call(ctx, o, b, fmt.Sprintf("fetch page %d", p.PageNumber), func(ctx context.Context) (generation.Image, error) {
				return o.deps.Storage.Fetch(ctx, ref)
			})
			if err != nil {
				return "", err
			}
			images[ref] = fetched
			img = fetched
		}

		docPages = append(docPages, generation.DocumentPage{Number: p.PageNumber, Text: p.Text, Image: img})
	}

	req := generation.DocumentRequest{ChildName: b.ChildName, Title: title, Pages: docPages}
	doc, err := call(ctx, o, b, "assemble document", func(ctx context.Context) ([]byte, error) {
		return o.deps.Documents.Assemble(ctx, req)
	})
	if err != nil {
		return "", err
	}

	key := objectstore.DocumentKey(b.ID, b.Run)
	url, err := call(ctx, o, b, "store document", func(ctx context.Context) (string, error) {
		return o.deps.Storage.Put(ctx, doc, key, "application/pdf")
	})
	if err != nil {
		return "", err
	}

	o.logger.Info("Document published",
		slog.String("book_id", b.ID),
		slog.Int("pages", len(docPages)),
		slog.Int("bytes", len(doc)),
	)

	return url, nil
}
