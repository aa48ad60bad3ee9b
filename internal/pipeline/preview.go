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

// generatePreview writes the story, then renders and composes the key
// scenes one after another.
func (o *Orchestrator) generatePreview(ctx context.Context, b *book.Book) (Result, error) {
	if b.CharacterImageURL == "" {
		return Result{}, missing("character image")
	}

	b, err := o.checkpoint(ctx, b, book.Status(15, "Writing the story"))
	if err != nil {
		return Result{}, err
	}

	scenes, title, err := o.writeStory(ctx, b)
	if err != nil {
		return Result{}, err
	}

	previews := make(book.PreviewScenes, len(scenes))
	for i, sc := range scenes {
		previews[i] = book.PreviewScene{SceneID: sc.SceneID, Status: book.SceneLocked}
	}

	u := book.Status(30, "Story ready")
	u.StoryTitle = &title
	u.Scenes = scenes
	u.PreviewScenes = previews
	u.Pages = scenes.Pages()
	if b, err = o.checkpoint(ctx, b, u); err != nil {
		return Result{}, err
	}

	character, err := call(ctx, o, b, "fetch character", func(ctx context.Context) (generation.Image, error) {
		return o.deps.Storage.Fetch(ctx, b.CharacterImageURL)
	})
	if err != nil {
		return Result{}, err
	}

	if b, err = o.checkpoint(ctx, b, book.Status(35, "Sketching scenes")); err != nil {
		return Result{}, err
	}

	keys := o.cfg.KeyScenes
	previewImages := make(book.StringList, 0, len(keys))
	for n, sceneID := range keys {
		scene, ok := scenes.SceneByID(sceneID)
		if !ok {
			return Result{}, book.Permanent(fmt.Errorf("key scene %d not in story", sceneID))
		}

		if n > 0 {
			if err := retry.Sleep(ctx, o.cfg.SceneDelay); err != nil {
				return Result{}, err
			}
		}

		previews[sceneID].Status = book.SceneGenerating
		if b, err = o.checkpoint(ctx, b, book.Update{PreviewScenes: previews}); err != nil {
			return Result{}, err
		}

		render, renderURL, err := o.renderScene(ctx, b, character, *scene)
		if err != nil {
			return Result{}, err
		}
		scene.ImageURL = renderURL

		previewURL := o.composePreview(ctx, b, title, *scene, render)
		previews[sceneID] = book.PreviewScene{
			SceneID:      sceneID,
			Status:       book.SceneUnlocked,
			ImageURL:     previewURL,
			ThumbnailURL: renderURL,
		}
		previewImages = append(previewImages, previewURL)

		u := book.Status(min(45+len(previewImages)*12, 95), fmt.Sprintf("Preview %d/%d ready", len(previewImages), len(keys)))
		u.Scenes = scenes
		u.PreviewScenes = previews
		u.PreviewImages = previewImages
		if b, err = o.checkpoint(ctx, b, u); err != nil {
			return Result{}, err
		}
	}

	next, err := o.advance(ctx, b, book.StageReadyForPurchase, book.Status(100, "Preview ready"))
	if err != nil {
		return Result{}, err
	}
	return Result{Book: next}, nil
}

// writeStory generates the story and checks its shape
func (o *Orchestrator) writeStory(ctx context.Context, b *book.Book) (book.Scenes, string, error) {
	req := generation.StoryRequest{
		ChildName:              b.ChildName,
		Theme:                  b.Theme,
		AgeBand:                o.cfg.AgeBand,
		ConsistencyDescription: consistency(b),
	}

	story, err := call(ctx, o, b, "generate story", func(ctx context.Context) (generation.Story, error) {
		return o.deps.Stories.GenerateStory(ctx, req)
	})
	if err != nil {
		return nil, "", err
	}

	if len(story.Scenes) != o.cfg.SceneCount {
		return nil, "", book.Permanent(fmt.Errorf("story has %d scenes, want %d", len(story.Scenes), o.cfg.SceneCount))
	}

	scenes := make(book.Scenes, len(story.Scenes))
	for i, sc := range story.Scenes {
		scenes[i] = book.Scene{
			SceneID:        i,
			Text:           sc.Text,
			ImageDirective: sc.ImageDirective,
		}
	}

	o.logger.Info("Story written",
		slog.String("book_id", b.ID),
		slog.String("title", story.Title),
		slog.Int("scenes", len(scenes)),
	)

	return scenes, story.Title, nil
}

// renderScene renders one scene and stores the raw image
func (o *Orchestrator) renderScene(ctx context.Context, b *book.Book, character generation.Image, scene book.Scene) (generation.Image, string, error) {
	req := generation.SceneRequest{
		Character: character,
		Directive: scene.ImageDirective,
		Style:     o.style(b),
		Cover:     scene.SceneID == 0,
	}

	render, err := call(ctx, o, b, fmt.Sprintf("render scene %d", scene.SceneID), func(ctx context.Context) (generation.Image, error) {
		return o.deps.Renderer.RenderScene(ctx, req)
	})
	if err != nil {
		return generation.Image{}, "", err
	}

	key := objectstore.SceneKey(b.ID, b.Run, scene.SceneID) + objectstore.ExtensionFor(render.MIMEType)
	url, err := call(ctx, o, b, fmt.Sprintf("store scene %d", scene.SceneID), func(ctx context.Context) (string, error) {
		return o.deps.Storage.Put(ctx, render.Data, key, render.MIMEType)
	})
	if err != nil {
		return generation.Image{}, "", err
	}

	return render, url, nil
}

// composePreview returns the stored mockup of a scene, or the raw render
// when composition or its upload fails.
func (o *Orchestrator) composePreview(ctx context.Context, b *book.Book, title string, scene book.Scene, render generation.Image) string {
	req := generation.ComposeRequest{
		Render:   render,
		Template: o.deps.TemplateFor(scene.SceneID),
	}
	if scene.SceneID == 0 {
		req.Title = title
	} else {
		req.PageText = scene.Text
	}

	url, err := call(ctx, o, b, fmt.Sprintf("compose scene %d", scene.SceneID), func(ctx context.Context) (string, error) {
		mockup, err := o.deps.Compositor.Compose(ctx, req)
		if err != nil {
			return "", book.Permanent(err)
		}
		if mockup.Empty() {
			return "", book.Permanent(fmt.Errorf("compositor returned no image"))
		}
		key := objectstore.PreviewKey(b.ID, b.Run, scene.SceneID) + objectstore.ExtensionFor(mockup.MIMEType)
		return o.deps.Storage.Put(ctx, mockup.Data, key, mockup.MIMEType)
	})
	if err != nil {
		o.logger.Warn("Mockup failed, using raw render",
			slog.String("book_id", b.ID),
			slog.Int("scene_id", scene.SceneID),
			slog.Any("error", err),
		)
		return scene.ImageURL
	}
	return url
}
