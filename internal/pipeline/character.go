package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"github.com/cuongbtq/storybook-be/internal/book"
	"github.com/cuongbtq/storybook-be/internal/generation"
	"github.com/cuongbtq/storybook-be/internal/objectstore"
)

type storedImage struct {
	url string
	img generation.Image
}

// createCharacter produces the character portrait and its consistency
// description. Both are written in the same transition. A pre-approved
// portrait is re-hosted instead of synthesized, except on a regenerated run.
func (o *Orchestrator) createCharacter(ctx context.Context, b *book.Book) (Result, error) {
	b, err := o.checkpoint(ctx, b, book.Status(10, "Creating your character"))
	if err != nil {
		return Result{}, err
	}

	preApproved := b.ApprovedCharacterURL != "" && b.Run == 0

	var character storedImage
	if preApproved {
		character, err = o.rehostCharacter(ctx, b)
	} else {
		character, err = o.synthesizeCharacter(ctx, b)
	}
	if err != nil {
		return Result{}, err
	}

	description := o.describe(ctx, b, character.img)

	u := book.Update{
		CharacterImageURL:      &character.url,
		ConsistencyDescription: &description,
	}

	if preApproved {
		u.Progress = book.Ptr(0)
		u.StatusMessage = book.Ptr("Character ready, starting preview")
		next, err := o.advance(ctx, b, book.StageGeneratingPreview, u)
		if err != nil {
			return Result{}, err
		}
		return Result{Book: next, Next: book.StageGeneratingPreview}, nil
	}

	u.Progress = book.Ptr(50)
	u.StatusMessage = book.Ptr("Character ready for approval")
	next, err := o.advance(ctx, b, book.StageWaitingForApproval, u)
	if err != nil {
		return Result{}, err
	}
	return Result{Book: next}, nil
}

func (o *Orchestrator) rehostCharacter(ctx context.Context, b *book.Book) (storedImage, error) {
	key := objectstore.CharacterKey(b.ID, b.Run)
	return call(ctx, o, b, "rehost character", func(ctx context.Context) (storedImage, error) {
		url, img, err := o.deps.Storage.Rehost(ctx, b.ApprovedCharacterURL, key)
		return storedImage{url: url, img: img}, err
	})
}

func (o *Orchestrator) synthesizeCharacter(ctx context.Context, b *book.Book) (storedImage, error) {
	if b.ChildPhotoURL == "" {
		return storedImage{}, missing("child photo")
	}

	photo, err := call(ctx, o, b, "fetch photo", func(ctx context.Context) (generation.Image, error) {
		return o.deps.Storage.Fetch(ctx, b.ChildPhotoURL)
	})
	if err != nil {
		return storedImage{}, err
	}

	prompt := generation.CharacterPrompt(o.style(b))
	img, err := call(ctx, o, b, "synthesize character", func(ctx context.Context) (generation.Image, error) {
		return o.deps.Characters.SynthesizeCharacter(ctx, photo, prompt)
	})
	if err != nil {
		return storedImage{}, err
	}

	key := objectstore.CharacterKey(b.ID, b.Run) + objectstore.ExtensionFor(img.MIMEType)
	url, err := call(ctx, o, b, "store character", func(ctx context.Context) (string, error) {
		return o.deps.Storage.Put(ctx, img.Data, key, img.MIMEType)
	})
	if err != nil {
		return storedImage{}, err
	}

	return storedImage{url: url, img: img}, nil
}

// describe extracts the consistency description. Analysis is best effort:
// a failure falls back to a description built from the child's name.
func (o *Orchestrator) describe(ctx context.Context, b *book.Book, character generation.Image) string {
	fallback := "child named " + b.ChildName

	traits, err := call(ctx, o, b, "analyze character", func(ctx context.Context) (generation.Traits, error) {
		return o.deps.Analyzer.AnalyzeFeatures(ctx, character)
	})
	if err != nil {
		o.logger.Warn("Character analysis failed, using fallback description",
			slog.String("book_id", b.ID),
			slog.Any("error", err),
		)
		return fallback
	}

	if d := strings.TrimSpace(traits.ConsistencyDescription); d != "" {
		return d
	}
	return fallback
}
