// Package objectstore re-hosts every generated or third-party artifact on
// S3-compatible storage so later stages only reference durable URLs.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/cuongbtq/storybook-be/internal/book"
	"github.com/cuongbtq/storybook-be/internal/generation"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	maxFetchBytes = 25 << 20
	// S3 caps presigned URLs at seven days.
	maxURLExpiry = 7 * 24 * time.Hour
)

var (
	// ErrTooLarge is returned for artifacts over the fetch limit
	ErrTooLarge = errors.New("artifact too large")
	// ErrNotImage is returned when a third-party artifact is not an image
	ErrNotImage = errors.New("artifact is not an image")
)

// Config holds object storage settings
type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	Region        string
	UseSSL        bool
	PublicBaseURL string
	URLExpiry     time.Duration
	FetchTimeout  time.Duration
}

// Store uploads and downloads artifacts
type Store struct {
	client        *minio.Client
	bucket        string
	publicBaseURL string
	urlExpiry     time.Duration
	http          *http.Client
	logger        *slog.Logger
}

// New connects to the object store and makes sure the bucket exists
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		logger.Info("Bucket created", slog.String("bucket", cfg.Bucket))
	}

	expiry := cfg.URLExpiry
	if expiry <= 0 || expiry > maxURLExpiry {
		expiry = maxURLExpiry
	}

	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = 30 * time.Second
	}

	logger.Info("Object storage initialized",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("bucket", cfg.Bucket),
	)

	return &Store{
		client:        client,
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		urlExpiry:     expiry,
		http:          newFetchClient(fetchTimeout, publicAddress),
		logger:        logger,
	}, nil
}

// Put uploads data under key and returns its durable reference. An empty
// contentType is derived from the key's extension.
func (s *Store) Put(ctx context.Context, data []byte, key, contentType string) (string, error) {
	if contentType == "" {
		contentType = ContentTypeFor(key)
	}

	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}

	ref, err := s.reference(ctx, key)
	if err != nil {
		return "", err
	}

	s.logger.Debug("Object uploaded",
		slog.String("key", key),
		slog.Int("bytes", len(data)),
	)
	return ref, nil
}

// Fetch downloads an image. References into this store are read directly,
// anything else over HTTP.
func (s *Store) Fetch(ctx context.Context, ref string) (generation.Image, error) {
	if key, ok := s.objectKey(ref); ok {
		return s.get(ctx, key)
	}
	return s.download(ctx, ref)
}

// Rehost downloads a third-party artifact and stores a copy under key
func (s *Store) Rehost(ctx context.Context, ref, key string) (string, generation.Image, error) {
	img, err := s.Fetch(ctx, ref)
	if err != nil {
		return "", generation.Image{}, err
	}

	if path.Ext(key) == "" {
		key += ExtensionFor(img.MIMEType)
	}

	durable, err := s.Put(ctx, img.Data, key, img.MIMEType)
	if err != nil {
		return "", generation.Image{}, err
	}
	return durable, img, nil
}

// DownloadURL returns a short-lived link that saves the object as filename
func (s *Store) DownloadURL(ctx context.Context, ref, filename string) (string, error) {
	key, ok := s.objectKey(ref)
	if !ok {
		return "", fmt.Errorf("%w: %s is not a stored object", book.ErrMissingArtifact, ref)
	}

	params := make(url.Values)
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", filename))

	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.urlExpiry, params)
	if err != nil {
		return "", fmt.Errorf("failed to sign download url: %w", err)
	}
	return u.String(), nil
}

func (s *Store) reference(ctx context.Context, key string) (string, error) {
	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + key, nil
	}

	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.urlExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to sign url for %s: %w", key, err)
	}
	return u.String(), nil
}

func (s *Store) get(ctx context.Context, key string) (generation.Image, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return generation.Image{}, fmt.Errorf("failed to open %s: %w", key, err)
	}
	defer obj.Close()

	data, err := readLimited(obj, key)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return generation.Image{}, book.Permanent(fmt.Errorf("%w: %s", book.ErrMissingArtifact, key))
		}
		if book.IsPermanent(err) {
			return generation.Image{}, err
		}
		return generation.Image{}, fmt.Errorf("failed to read %s: %w", key, err)
	}

	return generation.Image{Data: data, MIMEType: ContentTypeFor(key)}, nil
}

func (s *Store) download(ctx context.Context, ref string) (generation.Image, error) {
	u, err := url.Parse(ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return generation.Image{}, book.Permanent(fmt.Errorf("invalid url %q: only http(s) is fetched", ref))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return generation.Image{}, book.Permanent(fmt.Errorf("invalid url %q: %w", ref, err))
	}

	resp, err := s.http.Do(req)
	if err != nil {
		if errors.Is(err, ErrForbiddenAddress) {
			return generation.Image{}, book.Permanent(fmt.Errorf("refused to download %s: %w", ref, err))
		}
		return generation.Image{}, fmt.Errorf("failed to download %s: %w", ref, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("failed to download %s: status %d", ref, resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
			resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusRequestTimeout {
			return generation.Image{}, book.Permanent(err)
		}
		return generation.Image{}, err
	}

	if resp.ContentLength > maxFetchBytes {
		return generation.Image{}, book.Permanent(fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, ref, resp.ContentLength))
	}

	data, err := readLimited(resp.Body, ref)
	if err != nil {
		if book.IsPermanent(err) {
			return generation.Image{}, err
		}
		return generation.Image{}, fmt.Errorf("failed to read %s: %w", ref, err)
	}

	// The body decides, a server may label anything as an image.
	sniffed := http.DetectContentType(data)
	if !strings.HasPrefix(sniffed, "image/") {
		return generation.Image{}, book.Permanent(fmt.Errorf("%w: %s is %s", ErrNotImage, ref, sniffed))
	}

	mime := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	if !strings.HasPrefix(mime, "image/") {
		mime = sniffed
	}

	return generation.Image{Data: data, MIMEType: mime}, nil
}

// readLimited reads r up to maxFetchBytes. Larger inputs are refused rather
// than cut. Read errors are returned as is.
func readLimited(r io.Reader, name string) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxFetchBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxFetchBytes {
		return nil, book.Permanent(fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, name, maxFetchBytes))
	}
	return data, nil
}

// objectKey resolves a reference produced by this store back to its key.
func (s *Store) objectKey(ref string) (string, bool) {
	if s.publicBaseURL != "" && strings.HasPrefix(ref, s.publicBaseURL+"/") {
		return strings.TrimPrefix(ref, s.publicBaseURL+"/"), true
	}

	u, err := url.Parse(ref)
	if err != nil || s.client == nil {
		return "", false
	}
	if u.Host != s.client.EndpointURL().Host {
		return "", false
	}

	prefix := "/" + s.bucket + "/"
	if !strings.HasPrefix(u.Path, prefix) {
		return "", false
	}
	return strings.TrimPrefix(u.Path, prefix), true
}

// ContentTypeFor guesses the content type from a key's extension
func ContentTypeFor(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	}
	return "application/octet-stream"
}

// ExtensionFor returns the file extension for a content type
func ExtensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "application/pdf":
		return ".pdf"
	}
	return ".bin"
}
