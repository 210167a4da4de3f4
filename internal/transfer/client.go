// Package transfer moves image bytes between public URLs and the media bucket.
package transfer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"storefront/worker/internal/media/sniffer"
	"storefront/worker/internal/storage"
)

var (
	ErrDownload     = errors.New("download failed")
	ErrUpload       = errors.New("upload failed")
	ErrEmptyPayload = errors.New("empty image payload")
	ErrObjectExists = storage.ErrObjectExists
	ErrTooLarge     = errors.New("image exceeds size limit")
)

const (
	defaultFileName = "image"
	// uploads ask downstream caches to revalidate instead of serving a stale copy
	uploadCacheControl = "no-cache, max-age=0"
)

// ObjectWriter is the media bucket as seen by the transfer client.
type ObjectWriter interface {
	Exists(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key string, body io.Reader, size int64, opts storage.PutOptions) error
	PublicURL(key string) string
}

type UploadResult struct {
	URL string
	ID  string
}

type Options struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	MaxBytes   int64
	Logger     zerolog.Logger
}

type Client struct {
	http     *http.Client
	objects  ObjectWriter
	maxBytes int64
	logger   zerolog.Logger
}

func NewClient(objects ObjectWriter, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 20 << 20
	}
	return &Client{
		http:     httpClient,
		objects:  objects,
		maxBytes: maxBytes,
		logger:   opts.Logger,
	}
}

// DownloadAsEncodedBytes fetches rawURL and returns its body base64-encoded.
func (c *Client) DownloadAsEncodedBytes(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: build request: %w", ErrDownload, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDownload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %s returned status %d", ErrDownload, rawURL, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %w", ErrDownload, err)
	}
	if int64(len(data)) > c.maxBytes {
		return "", fmt.Errorf("%w: %w (%d bytes)", ErrDownload, ErrTooLarge, c.maxBytes)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: %w", ErrDownload, ErrEmptyPayload)
	}

	c.logger.Debug().
		Str("url", rawURL).
		Int("bytes", len(data)).
		Msg("source image downloaded")

	return base64.StdEncoding.EncodeToString(data), nil
}

// UploadEncodedImage stores a base64 image at folder/fileName.<ext>. Existing
// objects are never overwritten.
func (c *Client) UploadEncodedImage(ctx context.Context, encoded, folder, fileName, mimeType string) (UploadResult, error) {
	if strings.TrimSpace(encoded) == "" {
		return UploadResult{}, fmt.Errorf("%w: %w", ErrUpload, ErrEmptyPayload)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return UploadResult{}, fmt.Errorf("%w: decode payload: %w", ErrUpload, err)
	}
	if len(data) == 0 {
		return UploadResult{}, fmt.Errorf("%w: %w", ErrUpload, ErrEmptyPayload)
	}

	if mimeType == "" {
		mimeType = sniffer.MIMEOrDefault(data, "image/png")
	}
	ext := sniffer.Extension(mimeType)
	if ext == "" {
		ext = sniffer.Extension(sniffer.MIMEOrDefault(data, "image/png"))
	}

	id := path.Join(strings.Trim(folder, "/"), fileName)
	key := id + "." + ext

	exists, err := c.objects.Exists(ctx, key)
	if err != nil {
		return UploadResult{}, fmt.Errorf("%w: %w", ErrUpload, err)
	}
	// fast path only; the conditional put below is what rejects a racing writer
	if exists {
		return UploadResult{}, fmt.Errorf("%w: %w: %s", ErrUpload, ErrObjectExists, key)
	}

	sum := sha256.Sum256(data)
	err = c.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{
		ContentType:  mimeType,
		CacheControl: uploadCacheControl,
		Metadata: map[string]string{
			"checksum-sha256": hex.EncodeToString(sum[:]),
		},
		IfAbsent: true,
	})
	if err != nil {
		return UploadResult{}, fmt.Errorf("%w: %w", ErrUpload, err)
	}

	return UploadResult{
		URL: c.objects.PublicURL(key),
		ID:  id,
	}, nil
}

// ExtractFileName returns the last path segment of rawURL without its extension.
func ExtractFileName(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	} else if idx := strings.IndexAny(p, "?#"); idx >= 0 {
		p = p[:idx]
	}

	segment := p
	if idx := strings.LastIndex(p, "/"); idx >= 0 {
		segment = p[idx+1:]
	}
	name := strings.TrimSuffix(segment, path.Ext(segment))
	if name == "" {
		return defaultFileName
	}
	return name
}
