package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/storybook-be/internal/book"
	"github.com/cuongbtq/storybook-be/internal/generation"
	"github.com/cuongbtq/storybook-be/internal/progress"
	"github.com/cuongbtq/storybook-be/internal/retry"
	"github.com/cuongbtq/storybook-be/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testBookID   = "0b9d6c1e-5f6a-4a8e-9d43-2f1e8c7b6a51"
	testPhotoURL = "https://photos.test/mia.jpg"
	testApproved = "https://wizard.test/approved.png"
)

var (
	pngImage  = generation.Image{Data: []byte("png-bytes"), MIMEType: "image/png"}
	webpImage = generation.Image{Data: []byte("webp-bytes"), MIMEType: "image/webp"}
)

type fakeStorage struct {
	mu        sync.Mutex
	objects   map[string]generation.Image
	external  map[string]generation.Image
	rehosts   int
	rehostErr error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		objects: make(map[string]generation.Image),
		external: map[string]generation.Image{
			testPhotoURL: {Data: []byte("photo"), MIMEType: "image/jpeg"},
			testApproved: pngImage,
		},
	}
}

func (s *fakeStorage) Put(_ context.Context, data []byte, key, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	url := "https://cdn.test/" + key
	s.objects[url] = generation.Image{Data: data, MIMEType: contentType}
	return url, nil
}

func (s *fakeStorage) Fetch(_ context.Context, ref string) (generation.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if img, ok := s.objects[ref]; ok {
		return img, nil
	}
	if img, ok := s.external[ref]; ok {
		return img, nil
	}
	return generation.Image{}, book.Permanent(fmt.Errorf("no object at %s", ref))
}

func (s *fakeStorage) Rehost(ctx context.Context, ref, key string) (string, generation.Image, error) {
	s.mu.Lock()
	s.rehosts++
	rehostErr := s.rehostErr
	s.mu.Unlock()

	if rehostErr != nil {
		return "", generation.Image{}, rehostErr
	}

	img, err := s.Fetch(ctx, ref)
	if err != nil {
		return "", generation.Image{}, err
	}
	url, err := s.Put(ctx, img.Data, key+".png", img.MIMEType)
	return url, img, err
}

type fakeCharacters struct {
	calls int
	err   error
}

func (f *fakeCharacters) SynthesizeCharacter(_ context.Context, photo generation.Image, prompt string) (generation.Image, error) {
	f.calls++
	if f.err != nil {
		return generation.Image{}, f.err
	}
	if photo.Empty() || prompt == "" {
		return generation.Image{}, errors.New("missing input")
	}
	return pngImage, nil
}

type fakeAnalyzer struct {
	traits generation.Traits
	err    error
}

func (f *fakeAnalyzer) AnalyzeFeatures(context.Context, generation.Image) (generation.Traits, error) {
	return f.traits, f.err
}

type fakeStories struct {
	calls   int
	scenes  int
	lastReq generation.StoryRequest
}

func (f *fakeStories) GenerateStory(_ context.Context, req generation.StoryRequest) (generation.Story, error) {
	f.calls++
	f.lastReq = req
	story := generation.Story{Title: req.ChildName + " and the Stars"}
	for i := 0; i < f.scenes; i++ {
		story.Scenes = append(story.Scenes, generation.StoryScene{
			Text:           fmt.Sprintf("Scene %d begins. Then scene %d ends.", i, i),
			ImageDirective: fmt.Sprintf("directive %d", i),
		})
	}
	return story, nil
}

type fakeRenderer struct {
	mu     sync.Mutex
	calls  int
	covers int
	err    error
	// hold, when set, runs before the render returns and may fail it.
	hold func(ctx context.Context) error
}

func (f *fakeRenderer) RenderScene(ctx context.Context, req generation.SceneRequest) (generation.Image, error) {
	f.mu.Lock()
	f.calls++
	if req.Cover {
		f.covers++
	}
	hold := f.hold
	f.mu.Unlock()

	if hold != nil {
		if err := hold(ctx); err != nil {
			return generation.Image{}, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return generation.Image{}, f.err
	}
	return pngImage, nil
}

type fakeCompositor struct {
	calls     int
	templates []string
	err       error
}

func (f *fakeCompositor) Compose(_ context.Context, req generation.ComposeRequest) (generation.Image, error) {
	f.calls++
	f.templates = append(f.templates, req.Template)
	if f.err != nil {
		return generation.Image{}, f.err
	}
	return webpImage, nil
}

type fakeDocuments struct {
	lastReq generation.DocumentRequest
	err     error
}

func (f *fakeDocuments) Assemble(_ context.Context, req generation.DocumentRequest) ([]byte, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return []byte("%PDF-1.3 fake"), nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []progress.Event
}

func (f *fakeNotifier) Publish(_ context.Context, e progress.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

type fixture struct {
	store      *storetest.Memory
	storage    *fakeStorage
	characters *fakeCharacters
	analyzer   *fakeAnalyzer
	stories    *fakeStories
	renderer   *fakeRenderer
	compositor *fakeCompositor
	documents  *fakeDocuments
	notifier   *fakeNotifier
	orch       *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:      storetest.NewMemory(),
		storage:    newFakeStorage(),
		characters: &fakeCharacters{},
		analyzer:   &fakeAnalyzer{traits: generation.Traits{ConsistencyDescription: "girl, curly red hair, green eyes"}},
		stories:    &fakeStories{scenes: 14},
		renderer:   &fakeRenderer{},
		compositor: &fakeCompositor{},
		documents:  &fakeDocuments{},
		notifier:   &fakeNotifier{},
	}

	f.orch = New(Dependencies{
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:       f.store,
		Storage:     f.storage,
		Notifier:    f.notifier,
		Characters:  f.characters,
		Analyzer:    f.analyzer,
		Stories:     f.stories,
		Renderer:    f.renderer,
		Compositor:  f.compositor,
		Documents:   f.documents,
		TemplateFor: func(id int) string { return fmt.Sprintf("tpl-%d", id) },
	}, Config{
		Retry:        retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, CallTimeout: time.Second},
		SceneCount:   14,
		KeyScenes:    []int{0, 1, 7, 13},
		AgeBand:      "4-6",
		DefaultStyle: "pixar_3d",
	})

	return f
}

func (f *fixture) seed(t *testing.T, b *book.Book) *book.Book {
	t.Helper()
	f.store.Put(b)
	got, err := f.store.Get(context.Background(), b.ID)
	require.NoError(t, err)
	return got
}

func newBook(stage book.Stage) *book.Book {
	return &book.Book{
		ID:     testBookID,
		UserID: "user-1",
		Stage:  stage,
		Inputs: book.Inputs{
			ChildName:     "Mia",
			Theme:         book.ThemeSpace,
			Style:         "pixar_3d",
			ChildPhotoURL: testPhotoURL,
		},
		CreatedAt: time.Now(),
	}
}

func (f *fixture) run(t *testing.T) Result {
	t.Helper()
	b, err := f.store.Get(context.Background(), testBookID)
	require.NoError(t, err)
	res, err := f.orch.Run(context.Background(), b)
	require.NoError(t, err)
	return res
}

func (f *fixture) current(t *testing.T) *book.Book {
	t.Helper()
	b, err := f.store.Get(context.Background(), testBookID)
	require.NoError(t, err)
	return b
}

func TestCharacterStage_WaitsForApproval(t *testing.T) {
	f := newFixture(t)
	f.seed(t, newBook(book.StageCreatingCharacter))

	res := f.run(t)

	assert.Empty(t, res.Next)
	b := f.current(t)
	assert.Equal(t, book.StageWaitingForApproval, b.Stage)
	assert.Equal(t, 50, b.Progress)
	assert.Equal(t, "https://cdn.test/books/"+testBookID+"/run-0/character.png", b.CharacterImageURL)
	assert.Equal(t, "girl, curly red hair, green eyes", b.ConsistencyDescription)
	assert.Equal(t, 1, f.characters.calls)
	assert.Zero(t, f.storage.rehosts)
	assert.Equal(t, []book.Stage{book.StageCreatingCharacter, book.StageWaitingForApproval}, f.store.History(testBookID))
}

func TestCharacterStage_DescriptionFallback(t *testing.T) {
	tests := []struct {
		name     string
		analyzer *fakeAnalyzer
	}{
		{name: "analysis fails", analyzer: &fakeAnalyzer{err: book.Permanent(errors.New("blocked"))}},
		{name: "analysis empty", analyzer: &fakeAnalyzer{traits: generation.Traits{ConsistencyDescription: "  "}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.orch.deps.Analyzer = tt.analyzer
			f.seed(t, newBook(book.StageCreatingCharacter))

			f.run(t)

			b := f.current(t)
			assert.Equal(t, book.StageWaitingForApproval, b.Stage)
			assert.Equal(t, "child named Mia", b.ConsistencyDescription)
		})
	}
}

func TestCharacterStage_PreApprovedChainsIntoPreview(t *testing.T) {
	f := newFixture(t)
	b := newBook(book.StageCreatingCharacter)
	b.ApprovedCharacterURL = testApproved
	f.seed(t, b)

	res := f.run(t)
	require.Equal(t, book.StageGeneratingPreview, res.Next)
	require.NotNil(t, res.Book)
	assert.Equal(t, book.StageGeneratingPreview, res.Book.Stage)
	assert.Equal(t, 0, res.Book.Progress)
	assert.Zero(t, f.characters.calls)
	assert.Equal(t, 1, f.storage.rehosts)
	assert.True(t, strings.HasPrefix(res.Book.CharacterImageURL, "https://cdn.test/books/"))

	res = f.run(t)
	assert.Empty(t, res.Next)

	got := f.current(t)
	assert.Equal(t, book.StageReadyForPurchase, got.Stage)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, []book.Stage{
		book.StageCreatingCharacter,
		book.StageGeneratingPreview,
		book.StageReadyForPurchase,
	}, f.store.History(testBookID))
}

func TestCharacterStage_RegeneratedRunIgnoresPreApproved(t *testing.T) {
	f := newFixture(t)
	b := newBook(book.StageCreatingCharacter)
	b.ApprovedCharacterURL = testApproved
	b.Run = 1
	f.seed(t, b)

	res := f.run(t)

	assert.Empty(t, res.Next)
	assert.Equal(t, 1, f.characters.calls)
	assert.Zero(t, f.storage.rehosts)
	got := f.current(t)
	assert.Equal(t, book.StageWaitingForApproval, got.Stage)
	assert.Contains(t, got.CharacterImageURL, "/run-1/character")
}

func TestCharacterStage_Failures(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCalls int
	}{
		{name: "transient failures exhaust attempts", err: errors.New("503 backend unavailable"), wantCalls: 3},
		{name: "rate limited exhausts attempts", err: retry.RateLimited(errors.New("slow down")), wantCalls: 3},
		{name: "permanent failure is not retried", err: book.Permanent(errors.New("photo rejected")), wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.characters.err = tt.err
			f.seed(t, newBook(book.StageCreatingCharacter))

			res := f.run(t)

			assert.Empty(t, res.Next)
			assert.Equal(t, tt.wantCalls, f.characters.calls)

			b := f.current(t)
			assert.Equal(t, book.StageFailed, b.Stage)
			assert.Equal(t, 0, b.Progress)
			assert.NotEmpty(t, b.ErrorMessage)
			assert.Empty(t, b.CharacterImageURL)
			assert.Empty(t, b.ConsistencyDescription)
		})
	}
}

func TestCharacterStage_PreApprovedRehostFailure(t *testing.T) {
	f := newFixture(t)
	f.storage.rehostErr = book.Permanent(errors.New("approved character is not an image"))
	b := newBook(book.StageCreatingCharacter)
	b.ApprovedCharacterURL = testApproved
	f.seed(t, b)

	res := f.run(t)

	assert.Empty(t, res.Next)
	assert.Equal(t, 1, f.storage.rehosts)
	assert.Zero(t, f.characters.calls)

	got := f.current(t)
	assert.Equal(t, book.StageFailed, got.Stage)
	assert.Equal(t, 0, got.Progress)
	assert.Contains(t, got.ErrorMessage, "not an image")
	assert.Empty(t, got.CharacterImageURL)
	assert.Empty(t, got.ConsistencyDescription)
	assert.Empty(t, f.storage.objects)
}

func TestCharacterStage_MissingPhoto(t *testing.T) {
	f := newFixture(t)
	b := newBook(book.StageCreatingCharacter)
	b.ChildPhotoURL = ""
	f.seed(t, b)

	f.run(t)

	got := f.current(t)
	assert.Equal(t, book.StageFailed, got.Stage)
	assert.Contains(t, got.ErrorMessage, book.ErrMissingArtifact.Error())
	assert.Zero(t, f.characters.calls)
}

func approvedBook() *book.Book {
	b := newBook(book.StageGeneratingPreview)
	b.CharacterImageURL = testApproved
	b.ConsistencyDescription = "girl, curly red hair"
	return b
}

func TestPreviewStage(t *testing.T) {
	f := newFixture(t)
	f.seed(t, approvedBook())

	res := f.run(t)
	assert.Empty(t, res.Next)

	b := f.current(t)
	assert.Equal(t, book.StageReadyForPurchase, b.Stage)
	assert.Equal(t, 100, b.Progress)
	assert.Equal(t, "Mia and the Stars", b.StoryTitle)
	assert.Equal(t, "girl, curly red hair", f.stories.lastReq.ConsistencyDescription)
	assert.Equal(t, "4-6", f.stories.lastReq.AgeBand)

	assert.Equal(t, 4, f.renderer.calls)
	assert.Equal(t, 1, f.renderer.covers)
	assert.Equal(t, []string{"tpl-0", "tpl-1", "tpl-7", "tpl-13"}, f.compositor.templates)

	require.Len(t, b.Scenes, 14)
	require.Len(t, b.PreviewScenes, 14)
	require.Len(t, b.PreviewImages, 4)
	assert.Len(t, b.Pages, 28)

	keys := map[int]bool{0: true, 1: true, 7: true, 13: true}
	for i, ps := range b.PreviewScenes {
		assert.Equal(t, i, ps.SceneID)
		if keys[i] {
			assert.Equal(t, book.SceneUnlocked, ps.Status)
			assert.Contains(t, ps.ImageURL, fmt.Sprintf("/previews/%02d.webp", i))
			assert.Contains(t, ps.ThumbnailURL, fmt.Sprintf("/scenes/%02d.png", i))
			assert.Equal(t, ps.ThumbnailURL, b.Scenes[i].ImageURL)
		} else {
			assert.Equal(t, book.SceneLocked, ps.Status)
			assert.Empty(t, ps.ImageURL)
			assert.Empty(t, b.Scenes[i].ImageURL)
		}
	}
	assert.Equal(t, b.PreviewScenes[0].ImageURL, b.PreviewImages[0])
}

func TestPreviewStage_ProgressCheckpoints(t *testing.T) {
	f := newFixture(t)
	f.seed(t, approvedBook())

	f.run(t)

	var seen []int
	for _, e := range f.notifier.events {
		if e.Stage == book.StageGeneratingPreview {
			seen = append(seen, e.Progress)
		}
	}
	require.NotEmpty(t, seen)
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1], "progress went backwards at %d", i)
	}
	assert.Equal(t, 15, seen[0])
	assert.Contains(t, seen, 30)
	assert.Contains(t, seen, 35)
	assert.Contains(t, seen, 57)
	assert.Contains(t, seen, 93)

	last := f.notifier.events[len(f.notifier.events)-1]
	assert.Equal(t, book.StageReadyForPurchase, last.Stage)
	assert.Equal(t, 100, last.Progress)
}

func TestPreviewStage_CompositionFallsBackToRender(t *testing.T) {
	f := newFixture(t)
	f.compositor.err = errors.New("template missing")
	f.seed(t, approvedBook())

	f.run(t)

	b := f.current(t)
	assert.Equal(t, book.StageReadyForPurchase, b.Stage)
	assert.Equal(t, 4, f.compositor.calls)
	for _, id := range []int{0, 1, 7, 13} {
		ps := b.PreviewScenes[id]
		assert.Equal(t, book.SceneUnlocked, ps.Status)
		assert.Equal(t, ps.ThumbnailURL, ps.ImageURL)
	}
}

func TestPreviewStage_RenderFailureKeepsStory(t *testing.T) {
	f := newFixture(t)
	f.renderer.err = errors.New("upstream timeout")
	f.seed(t, approvedBook())

	f.run(t)

	b := f.current(t)
	assert.Equal(t, book.StageFailed, b.Stage)
	assert.Equal(t, 0, b.Progress)
	assert.Equal(t, 3, f.renderer.calls)
	assert.Len(t, b.Scenes, 14)
	assert.Equal(t, "Mia and the Stars", b.StoryTitle)
	assert.Equal(t, []book.Stage{book.StageGeneratingPreview, book.StageFailed}, f.store.History(testBookID))
}

func TestPreviewStage_Preconditions(t *testing.T) {
	t.Run("missing character", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, newBook(book.StageGeneratingPreview))

		f.run(t)

		assert.Equal(t, book.StageFailed, f.current(t).Stage)
		assert.Zero(t, f.stories.calls)
	})

	t.Run("wrong scene count", func(t *testing.T) {
		f := newFixture(t)
		f.stories.scenes = 10
		f.seed(t, approvedBook())

		f.run(t)

		b := f.current(t)
		assert.Equal(t, book.StageFailed, b.Stage)
		assert.Equal(t, 1, f.stories.calls)
		assert.Zero(t, f.renderer.calls)
	})
}

func purchasedBook(t *testing.T, f *fixture) {
	t.Helper()
	f.seed(t, approvedBook())
	f.run(t)
	_, err := f.store.Transition(context.Background(), testBookID,
		[]book.Stage{book.StageReadyForPurchase}, book.StageProcessingFullBook, book.Status(0, "Purchased"))
	require.NoError(t, err)
	f.renderer.calls = 0
	f.stories.calls = 0
}

func TestCompletionStage(t *testing.T) {
	f := newFixture(t)
	purchasedBook(t, f)

	res := f.run(t)
	assert.Empty(t, res.Next)

	b := f.current(t)
	assert.Equal(t, book.StageCompleted, b.Stage)
	assert.Equal(t, 100, b.Progress)
	assert.Equal(t, "https://cdn.test/books/"+testBookID+"/run-0/book.pdf", b.PDFURL)
	assert.Equal(t, 10, f.renderer.calls)
	assert.Zero(t, f.stories.calls)
	assert.True(t, b.Scenes.Rendered())

	require.Len(t, b.Pages, 28)
	for i, p := range b.Pages {
		assert.Equal(t, i+1, p.PageNumber)
		assert.Equal(t, b.Scenes[i/2].ImageURL, p.ImageURL)
	}
	assert.Equal(t, "Scene 3 begins.", b.Pages[6].Text)
	assert.Equal(t, "Then scene 3 ends.", b.Pages[7].Text)

	req := f.documents.lastReq
	assert.Equal(t, "Mia", req.ChildName)
	assert.Equal(t, "Mia and the Stars", req.Title)
	require.Len(t, req.Pages, 28)
	assert.False(t, req.Pages[27].Image.Empty())

	assert.Equal(t, []book.Stage{
		book.StageGeneratingPreview,
		book.StageReadyForPurchase,
		book.StageProcessingFullBook,
		book.StageCompleted,
	}, f.store.History(testBookID))
}

func TestCompletionStage_RewritesMissingStory(t *testing.T) {
	f := newFixture(t)
	b := approvedBook()
	b.Stage = book.StageProcessingFullBook
	f.seed(t, b)

	f.run(t)

	got := f.current(t)
	assert.Equal(t, book.StageCompleted, got.Stage)
	assert.Equal(t, 1, f.stories.calls)
	assert.Equal(t, 14, f.renderer.calls)
	assert.Equal(t, "Mia and the Stars", got.StoryTitle)
}

func TestCompletionStage_InterruptedStaysProcessing(t *testing.T) {
	f := newFixture(t)
	purchasedBook(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var renders int
	f.renderer.hold = func(rctx context.Context) error {
		renders++
		if renders < 3 {
			return nil
		}
		cancel()
		<-rctx.Done()
		return rctx.Err()
	}

	b := f.current(t)
	res, err := f.orch.Run(ctx, b)

	require.ErrorIs(t, err, ErrInterrupted)
	assert.Nil(t, res.Book)
	assert.Empty(t, res.Next)

	got := f.current(t)
	assert.Equal(t, book.StageProcessingFullBook, got.Stage)
	assert.Empty(t, got.ErrorMessage)
	assert.Empty(t, got.PDFURL)
	assert.NotContains(t, f.store.History(testBookID), book.StageFailed)

	// redelivery picks the stage up where the checkpoints left it
	f.renderer.hold = nil
	f.run(t)
	assert.Equal(t, book.StageCompleted, f.current(t).Stage)
}

func TestCompletionStage_TimeoutFailsBook(t *testing.T) {
	f := newFixture(t)
	purchasedBook(t, f)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	f.renderer.hold = func(rctx context.Context) error {
		<-rctx.Done()
		return rctx.Err()
	}

	b := f.current(t)
	_, err := f.orch.Run(ctx, b)
	require.NoError(t, err)

	got := f.current(t)
	assert.Equal(t, book.StageFailed, got.Stage)
	assert.Equal(t, 0, got.Progress)
}

func TestCompletionStage_AssemblyFailureLeavesNoDocument(t *testing.T) {
	f := newFixture(t)
	purchasedBook(t, f)
	f.documents.err = book.Permanent(errors.New("layout failed"))

	f.run(t)

	b := f.current(t)
	assert.Equal(t, book.StageFailed, b.Stage)
	assert.Empty(t, b.PDFURL)
	assert.Contains(t, b.ErrorMessage, "layout failed")
}

func TestOrchestrator_Run(t *testing.T) {
	t.Run("parked stage is ignored", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, newBook(book.StageWaitingForApproval))

		res := f.run(t)

		assert.Equal(t, book.StageWaitingForApproval, res.Book.Stage)
		assert.Empty(t, f.notifier.events)
		assert.False(t, f.orch.Handles(book.StageWaitingForApproval))
		assert.True(t, f.orch.Handles(book.StageGeneratingPreview))
	})

	t.Run("panic moves book to failed", func(t *testing.T) {
		f := newFixture(t)
		f.orch.Register(book.StageCreatingCharacter, func(context.Context, *book.Book) (Result, error) {
			panic("boom")
		})
		f.seed(t, newBook(book.StageCreatingCharacter))

		res := f.run(t)

		require.NotNil(t, res.Book)
		assert.Equal(t, book.StageFailed, res.Book.Stage)
		assert.Contains(t, res.Book.ErrorMessage, "boom")
	})

	t.Run("zero retry policy falls back to defaults", func(t *testing.T) {
		o := New(Dependencies{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}, Config{})
		assert.Equal(t, retry.DefaultPolicy(), o.cfg.Retry)
	})

	t.Run("failure after book moved on is not recorded", func(t *testing.T) {
		f := newFixture(t)
		seeded := f.seed(t, newBook(book.StageCreatingCharacter))
		f.orch.Register(book.StageCreatingCharacter, func(ctx context.Context, b *book.Book) (Result, error) {
			_, err := f.store.Transition(ctx, b.ID, []book.Stage{book.StageCreatingCharacter}, book.StageWaitingForApproval, book.Update{})
			require.NoError(t, err)
			return Result{}, errors.New("late failure")
		})

		res, err := f.orch.Run(context.Background(), seeded)

		require.NoError(t, err)
		assert.Nil(t, res.Book)
		assert.Equal(t, book.StageWaitingForApproval, f.current(t).Stage)
	})
}
