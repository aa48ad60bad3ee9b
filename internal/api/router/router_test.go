package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"mime/multipart"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cuongbtq/storybook-be/internal/api/dto"
	"github.com/cuongbtq/storybook-be/internal/api/handler"
	"github.com/cuongbtq/storybook-be/internal/book"
	"github.com/cuongbtq/storybook-be/internal/generation"
	"github.com/cuongbtq/storybook-be/internal/progress"
	"github.com/cuongbtq/storybook-be/internal/retry"
	"github.com/cuongbtq/storybook-be/internal/service"
	"github.com/cuongbtq/storybook-be/internal/store/storetest"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"
)

const (
	testBookID    = "7f3e2d1c-0b9a-4c8d-9e7f-6a5b4c3d2e1f"
	testSecret    = "whsec_test"
	testPDFRef    = "https://cdn.test/books/book.pdf"
	testCharacter = "https://cdn.test/character.png"
)

type fakeDispatcher struct {
	stages []book.Stage
}

func (d *fakeDispatcher) Enqueue(_ context.Context, _ string, stage book.Stage, _ int) error {
	d.stages = append(d.stages, stage)
	return nil
}

type fakeDownloads struct{}

func (fakeDownloads) DownloadURL(_ context.Context, ref, filename string) (string, error) {
	return ref + "?signed=1", nil
}

type fakeAssets struct {
	mu      sync.Mutex
	objects map[string]generation.Image
}

func (f *fakeAssets) Put(_ context.Context, data []byte, key, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = generation.Image{Data: data, MIMEType: contentType}
	return "https://cdn.test/" + key, nil
}

type fakeCharacters struct {
	calls   int
	prompts []string
	err     error
}

func (f *fakeCharacters) SynthesizeCharacter(_ context.Context, photo generation.Image, prompt string) (generation.Image, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return generation.Image{}, f.err
	}
	return generation.Image{Data: pngBytes, MIMEType: "image/png"}, nil
}

var (
	pngBytes  = []byte("\x89PNG\r\n\x1a\n0000")
	jpegBytes = []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10}
)

type testAPI struct {
	router     *gin.Engine
	mem        *storetest.Memory
	dispatcher *fakeDispatcher
	publisher  *progress.Publisher
	assets     *fakeAssets
	characters *fakeCharacters
}

func newTestAPI(t *testing.T, checks map[string]handler.HealthCheck) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	mem := storetest.NewMemory()
	disp := &fakeDispatcher{}
	pub := progress.NewPublisher(rdb, logger)

	svc := service.New(service.Dependencies{
		Logger:       logger,
		Store:        mem,
		Dispatcher:   disp,
		Downloads:    fakeDownloads{},
		Notifier:     pub,
		DefaultStyle: "pixar_3d",
	})

	assets := &fakeAssets{objects: make(map[string]generation.Image)}
	characters := &fakeCharacters{}

	r := SetupRouter(&handler.Dependencies{
		Logger:        logger,
		Books:         svc,
		Progress:      pub,
		WebhookSecret: testSecret,
		HealthChecks:  checks,
		Assets:        assets,
		Characters:    characters,
		Retry:         retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond},
		DefaultStyle:  "pixar_3d",
	})

	return &testAPI{
		router:     r,
		mem:        mem,
		dispatcher: disp,
		publisher:  pub,
		assets:     assets,
		characters: characters,
	}
}

func (a *testAPI) seed(stage book.Stage, mutate ...func(*book.Book)) {
	b := &book.Book{
		ID:            testBookID,
		UserID:        "user-1",
		Stage:         stage,
		StatusMessage: "working",
		Inputs: book.Inputs{
			ChildName:     "Mia",
			Theme:         book.ThemeSpace,
			Style:         "pixar_3d",
			ChildPhotoURL: "https://photos.test/mia.jpg",
		},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	for _, m := range mutate {
		m(b)
	}
	a.mem.Put(b)
}

func (a *testAPI) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *testAPI) upload(t *testing.T, path string, file []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		part, err := mw.CreateFormFile("file", "mia.jpg")
		require.NoError(t, err)
		_, err = part.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestCreateBook(t *testing.T) {
	tests := []struct {
		name       string
		body       map[string]any
		wantStatus int
	}{
		{
			name: "accepted",
			body: map[string]any{
				"user_id":         "user-1",
				"child_name":      "Mia",
				"theme":           "dinosaur",
				"child_photo_url": "https://photos.test/mia.jpg",
			},
			wantStatus: http.StatusAccepted,
		},
		{
			name: "unknown theme",
			body: map[string]any{
				"user_id":         "user-1",
				"child_name":      "Mia",
				"theme":           "cooking",
				"child_photo_url": "https://photos.test/mia.jpg",
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "missing photo",
			body: map[string]any{
				"user_id":    "user-1",
				"child_name": "Mia",
				"theme":      "space",
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "photo is not a url",
			body: map[string]any{
				"user_id":         "user-1",
				"child_name":      "Mia",
				"theme":           "space",
				"child_photo_url": "mia.jpg",
			},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI(t, nil)

			w := api.do(http.MethodPost, "/api/v1/books", tt.body)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())

			if tt.wantStatus != http.StatusAccepted {
				assert.Empty(t, api.dispatcher.stages)
				return
			}

			resp := decode[dto.StatusResponse](t, w)
			assert.NotEmpty(t, resp.ID)
			assert.Equal(t, book.StageCreatingCharacter, resp.Stage)
			assert.Equal(t, []book.Stage{book.StageCreatingCharacter}, api.dispatcher.stages)

			stored, err := api.mem.Get(context.Background(), resp.ID)
			require.NoError(t, err)
			assert.Equal(t, book.ThemeDino, stored.Theme)
		})
	}
}

func TestGetStatus(t *testing.T) {
	api := newTestAPI(t, nil)
	api.seed(book.StageGeneratingPreview, func(b *book.Book) {
		b.Progress = 45
		b.CharacterImageURL = testCharacter
		b.PreviewImages = book.StringList{"https://cdn.test/preview-0.png"}
	})

	w := api.do(http.MethodGet, "/api/v1/books/"+testBookID+"/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[dto.StatusResponse](t, w)
	assert.Equal(t, 45, resp.Progress)
	assert.Equal(t, testCharacter, resp.CharacterImageURL)
	assert.Empty(t, resp.PreviewImages, "previews are hidden until the preview stage finishes")

	t.Run("invalid id", func(t *testing.T) {
		w := api.do(http.MethodGet, "/api/v1/books/not-a-uuid/status", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown book", func(t *testing.T) {
		w := api.do(http.MethodGet, "/api/v1/books/00000000-0000-4000-8000-000000000000/status", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestGetBook(t *testing.T) {
	api := newTestAPI(t, nil)
	api.seed(book.StageReadyForPurchase, func(b *book.Book) {
		b.StoryTitle = "Mia and the Moon"
		b.Scenes = book.Scenes{{SceneID: 0, Text: "Cover"}}
	})

	w := api.do(http.MethodGet, "/api/v1/books/"+testBookID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[dto.BookDTO](t, w)
	assert.Equal(t, "Mia and the Moon", resp.StoryTitle)
	assert.Len(t, resp.Scenes, 1)
	assert.Equal(t, "Mia", resp.ChildName)
}

func TestListBooks(t *testing.T) {
	api := newTestAPI(t, nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		api.mem.Put(&book.Book{
			ID:        fmt.Sprintf("00000000-0000-4000-8000-00000000000%d", i),
			UserID:    "user-1",
			Stage:     book.StageCreatingCharacter,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	w := api.do(http.MethodGet, "/api/v1/books?user_id=user-1&page_size=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	first := decode[dto.ListBooksResponse](t, w)
	require.Len(t, first.Books, 2)
	assert.Equal(t, "00000000-0000-4000-8000-000000000002", first.Books[0].ID)
	require.NotEmpty(t, first.NextCursor)

	w = api.do(http.MethodGet, "/api/v1/books?user_id=user-1&page_size=2&cursor="+first.NextCursor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	second := decode[dto.ListBooksResponse](t, w)
	require.Len(t, second.Books, 1)
	assert.Equal(t, "00000000-0000-4000-8000-000000000000", second.Books[0].ID)
	assert.Empty(t, second.NextCursor)

	t.Run("missing user", func(t *testing.T) {
		w := api.do(http.MethodGet, "/api/v1/books", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("bad cursor", func(t *testing.T) {
		w := api.do(http.MethodGet, "/api/v1/books?user_id=user-1&cursor=not-base64!", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSignals(t *testing.T) {
	withCharacter := func(b *book.Book) { b.CharacterImageURL = testCharacter }

	tests := []struct {
		name       string
		stage      book.Stage
		path       string
		wantStatus int
		wantStage  book.Stage
		wantQueued []book.Stage
	}{
		{"approve", book.StageWaitingForApproval, "approve", http.StatusAccepted, book.StageGeneratingPreview, []book.Stage{book.StageGeneratingPreview}},
		{"approve twice", book.StageGeneratingPreview, "approve", http.StatusAccepted, book.StageGeneratingPreview, nil},
		{"approve too early", book.StageCreatingCharacter, "approve", http.StatusConflict, book.StageCreatingCharacter, nil},
		{"regenerate", book.StageWaitingForApproval, "regenerate", http.StatusAccepted, book.StageCreatingCharacter, []book.Stage{book.StageCreatingCharacter}},
		{"regenerate after failure", book.StageFailed, "regenerate", http.StatusAccepted, book.StageCreatingCharacter, []book.Stage{book.StageCreatingCharacter}},
		{"regenerate after purchase", book.StageProcessingFullBook, "regenerate", http.StatusConflict, book.StageProcessingFullBook, nil},
		{"purchase", book.StageReadyForPurchase, "purchase", http.StatusAccepted, book.StageProcessingFullBook, []book.Stage{book.StageProcessingFullBook}},
		{"purchase twice", book.StageCompleted, "purchase", http.StatusAccepted, book.StageCompleted, nil},
		{"purchase before preview", book.StageWaitingForApproval, "purchase", http.StatusConflict, book.StageWaitingForApproval, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI(t, nil)
			api.seed(tt.stage, withCharacter)

			w := api.do(http.MethodPost, "/api/v1/books/"+testBookID+"/"+tt.path, nil)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())

			stored, err := api.mem.Get(context.Background(), testBookID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStage, stored.Stage)
			assert.Equal(t, tt.wantQueued, api.dispatcher.stages)
		})
	}

	t.Run("unknown book", func(t *testing.T) {
		api := newTestAPI(t, nil)
		w := api.do(http.MethodPost, "/api/v1/books/"+testBookID+"/approve", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestDownloadBook(t *testing.T) {
	t.Run("completed", func(t *testing.T) {
		api := newTestAPI(t, nil)
		api.seed(book.StageCompleted, func(b *book.Book) {
			b.StoryTitle = "Mia and the Moon"
			b.PDFURL = testPDFRef
		})

		w := api.do(http.MethodGet, "/api/v1/books/"+testBookID+"/download", nil)
		require.Equal(t, http.StatusOK, w.Code)

		resp := decode[dto.DownloadResponse](t, w)
		assert.Equal(t, testPDFRef+"?signed=1", resp.DownloadURL)
		assert.Equal(t, "mia-and-the-moon.pdf", resp.Filename)
	})

	t.Run("not finished", func(t *testing.T) {
		api := newTestAPI(t, nil)
		api.seed(book.StageProcessingFullBook)

		w := api.do(http.MethodGet, "/api/v1/books/"+testBookID+"/download", nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func signedWebhook(t *testing.T, payload []byte, secret string) *http.Request {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	return req
}

func checkoutEvent(eventType, bookID string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_test",
		"object": "event",
		"type": %q,
		"data": {"object": {"id": "cs_test", "object": "checkout.session", "metadata": {"book_id": %q}}}
	}`, eventType, bookID))
}

func TestStripeWebhook(t *testing.T) {
	tests := []struct {
		name       string
		eventType  string
		secret     string
		wantStatus int
		wantStage  book.Stage
	}{
		{"checkout completed", "checkout.session.completed", testSecret, http.StatusOK, book.StageProcessingFullBook},
		{"other event", "payment_intent.created", testSecret, http.StatusOK, book.StageReadyForPurchase},
		{"bad signature", "checkout.session.completed", "whsec_other", http.StatusBadRequest, book.StageReadyForPurchase},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI(t, nil)
			api.seed(book.StageReadyForPurchase)

			w := httptest.NewRecorder()
			api.router.ServeHTTP(w, signedWebhook(t, checkoutEvent(tt.eventType, testBookID), tt.secret))
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())

			stored, err := api.mem.Get(context.Background(), testBookID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStage, stored.Stage)
		})
	}

	t.Run("redelivery is idempotent", func(t *testing.T) {
		api := newTestAPI(t, nil)
		api.seed(book.StageReadyForPurchase)
		payload := checkoutEvent("checkout.session.completed", testBookID)

		for i := 0; i < 2; i++ {
			w := httptest.NewRecorder()
			api.router.ServeHTTP(w, signedWebhook(t, payload, testSecret))
			require.Equal(t, http.StatusOK, w.Code)
		}
		assert.Equal(t, []book.Stage{book.StageProcessingFullBook}, api.dispatcher.stages)
	})
}

func TestStreamProgress(t *testing.T) {
	api := newTestAPI(t, nil)
	api.seed(book.StageProcessingFullBook, func(b *book.Book) { b.Progress = 10 })

	srv := httptest.NewServer(api.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/books/" + testBookID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var initial dto.StatusResponse
	require.NoError(t, conn.ReadJSON(&initial))
	assert.Equal(t, book.StageProcessingFullBook, initial.Stage)
	assert.Equal(t, 10, initial.Progress)

	ctx := context.Background()
	require.NoError(t, api.publisher.Publish(ctx, progress.Event{BookID: testBookID, Stage: book.StageProcessingFullBook, Progress: 45}))
	require.NoError(t, api.publisher.Publish(ctx, progress.Event{BookID: testBookID, Stage: book.StageCompleted, Progress: 100}))

	var update dto.StatusResponse
	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, 45, update.Progress)

	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, book.StageCompleted, update.Stage)

	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
}

func TestStreamProgress_UnknownBook(t *testing.T) {
	api := newTestAPI(t, nil)

	w := api.do(http.MethodGet, "/api/v1/books/"+testBookID+"/ws", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealth(t *testing.T) {
	healthy := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name       string
		checks     map[string]handler.HealthCheck
		wantStatus int
	}{
		{"all up", map[string]handler.HealthCheck{"postgres": healthy, "redis": healthy}, http.StatusOK},
		{"database down", map[string]handler.HealthCheck{"postgres": down, "redis": healthy}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI(t, tt.checks)

			w := api.do(http.MethodGet, "/health", nil)
			require.Equal(t, tt.wantStatus, w.Code)

			body := decode[map[string]any](t, w)
			checks := body["checks"].(map[string]any)
			assert.Len(t, checks, len(tt.checks))
		})
	}
}

func TestUploadPhoto(t *testing.T) {
	tests := []struct {
		name       string
		file       []byte
		wantStatus int
		wantExt    string
	}{
		{name: "jpeg", file: jpegBytes, wantStatus: http.StatusCreated, wantExt: ".jpg"},
		{name: "png", file: pngBytes, wantStatus: http.StatusCreated, wantExt: ".png"},
		{name: "html labelled as jpeg", file: []byte("<html><script>alert(1)</script></html>"), wantStatus: http.StatusBadRequest},
		{name: "missing file", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI(t, nil)

			w := api.upload(t, "/api/v1/upload", tt.file, nil)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())

			if tt.wantStatus != http.StatusCreated {
				assert.Empty(t, api.assets.objects)
				return
			}

			resp := decode[dto.UploadResponse](t, w)
			assert.True(t, strings.HasPrefix(resp.URL, "https://cdn.test/uploads/"))
			assert.True(t, strings.HasSuffix(resp.URL, tt.wantExt))
			require.Len(t, api.assets.objects, 1)
			for _, obj := range api.assets.objects {
				assert.Equal(t, tt.file, obj.Data)
			}
		})
	}
}

func TestGenerateCharacterPreview(t *testing.T) {
	t.Run("stores original and portrait", func(t *testing.T) {
		api := newTestAPI(t, nil)

		w := api.upload(t, "/api/v1/generate-character-preview", jpegBytes, map[string]string{
			"name":   "Jürgen",
			"gender": "Junge",
			"style":  "watercolor",
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		resp := decode[dto.CharacterPreviewResponse](t, w)
		require.NotEmpty(t, resp.PreviewID)
		assert.Equal(t, "https://cdn.test/previews/"+resp.PreviewID+"/original.jpg", resp.OriginalURL)
		assert.Equal(t, "https://cdn.test/previews/"+resp.PreviewID+"/generated.png", resp.ApprovedCharacterURL)

		require.Len(t, api.characters.prompts, 1)
		assert.Contains(t, api.characters.prompts[0], "Transform this boy into a whimsical watercolor")
		assert.Len(t, api.assets.objects, 2)
	})

	t.Run("default style", func(t *testing.T) {
		api := newTestAPI(t, nil)

		w := api.upload(t, "/api/v1/generate-character-preview", pngBytes, map[string]string{"name": "Mia"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, api.characters.prompts[0], "Transform this child into a 3D animated")
	})

	tests := []struct {
		name       string
		fields     map[string]string
		file       []byte
		err        error
		wantStatus int
		wantCalls  int
	}{
		{name: "missing name", file: jpegBytes, wantStatus: http.StatusBadRequest},
		{name: "not an image", fields: map[string]string{"name": "Mia"}, file: []byte("%PDF-1.4"), wantStatus: http.StatusBadRequest},
		{
			name:       "photo rejected",
			fields:     map[string]string{"name": "Mia"},
			file:       jpegBytes,
			err:        book.Permanent(errors.New("no face found")),
			wantStatus: http.StatusUnprocessableEntity,
			wantCalls:  1,
		},
		{
			name:       "model unavailable",
			fields:     map[string]string{"name": "Mia"},
			file:       jpegBytes,
			err:        errors.New("503 backend unavailable"),
			wantStatus: http.StatusBadGateway,
			wantCalls:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI(t, nil)
			api.characters.err = tt.err

			w := api.upload(t, "/api/v1/generate-character-preview", tt.file, tt.fields)

			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			assert.Equal(t, tt.wantCalls, api.characters.calls)
		})
	}
}

func TestRequestID(t *testing.T) {
	api := newTestAPI(t, nil)

	w := api.do(http.MethodGet, "/health", nil)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w = httptest.NewRecorder()
	api.router.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
}
