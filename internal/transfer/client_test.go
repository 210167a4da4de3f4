package transfer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/worker/internal/storage"
)

type putCall struct {
	Key  string
	Data []byte
	Opts storage.PutOptions
}

type fakeObjects struct {
	existing map[string]bool
	existErr error
	putErr   error
	puts     []putCall
}

func (f *fakeObjects) Exists(ctx context.Context, key string) (bool, error) {
	if f.existErr != nil {
		return false, f.existErr
	}
	return f.existing[key], nil
}

func (f *fakeObjects) Put(ctx context.Context, key string, body io.Reader, size int64, opts storage.PutOptions) error {
	if f.putErr != nil {
		return f.putErr
	}
	data, _ := io.ReadAll(body)
	f.puts = append(f.puts, putCall{Key: key, Data: data, Opts: opts})
	return nil
}

func (f *fakeObjects) PublicURL(key string) string {
	return "https://cdn/" + key
}

var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 1, 2, 3}

func newTestClient(objects ObjectWriter, maxBytes int64) *Client {
	return NewClient(objects, Options{MaxBytes: maxBytes, Logger: zerolog.Nop()})
}

func TestDownloadAsEncodedBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/x/photo.jpg", r.URL.Path)
		_, _ = w.Write(pngBytes)
	}))
	defer srv.Close()

	encoded, err := newTestClient(&fakeObjects{}, 0).DownloadAsEncodedBytes(context.Background(), srv.URL+"/x/photo.jpg")
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString(pngBytes), encoded)
}

func TestDownloadAsEncodedBytes_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/empty":
			w.WriteHeader(http.StatusOK)
		default:
			_, _ = w.Write(make([]byte, 64))
		}
	}))
	defer srv.Close()

	client := newTestClient(&fakeObjects{}, 32)
	ctx := context.Background()

	_, err := client.DownloadAsEncodedBytes(ctx, srv.URL+"/missing")
	assert.ErrorIs(t, err, ErrDownload)
	assert.Contains(t, err.Error(), "status 404")

	_, err = client.DownloadAsEncodedBytes(ctx, srv.URL+"/empty")
	assert.ErrorIs(t, err, ErrDownload)
	assert.ErrorIs(t, err, ErrEmptyPayload)

	_, err = client.DownloadAsEncodedBytes(ctx, srv.URL+"/big")
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = client.DownloadAsEncodedBytes(ctx, "http://127.0.0.1:0/unreachable")
	assert.ErrorIs(t, err, ErrDownload)
}

func TestUploadEncodedImage(t *testing.T) {
	objects := &fakeObjects{}
	client := newTestClient(objects, 0)

	result, err := client.UploadEncodedImage(context.Background(),
		base64.StdEncoding.EncodeToString(pngBytes), "products/s1", "photo_enhanced", "image/png")
	require.NoError(t, err)

	assert.Equal(t, "https://cdn/products/s1/photo_enhanced.png", result.URL)
	assert.Equal(t, "products/s1/photo_enhanced", result.ID)

	require.Len(t, objects.puts, 1)
	put := objects.puts[0]
	assert.Equal(t, "products/s1/photo_enhanced.png", put.Key)
	assert.Equal(t, pngBytes, put.Data)
	assert.Equal(t, "image/png", put.Opts.ContentType)
	assert.Equal(t, "no-cache, max-age=0", put.Opts.CacheControl)
	assert.Len(t, put.Opts.Metadata["checksum-sha256"], 64)
	assert.True(t, put.Opts.IfAbsent)
}

func TestUploadEncodedImage_SniffsMissingMIME(t *testing.T) {
	objects := &fakeObjects{}
	client := newTestClient(objects, 0)

	result, err := client.UploadEncodedImage(context.Background(),
		base64.StdEncoding.EncodeToString(pngBytes), "/products/s1/", "photo_enhanced", "")
	require.NoError(t, err)
	assert.Equal(t, "products/s1/photo_enhanced", result.ID)
	assert.Equal(t, "image/png", objects.puts[0].Opts.ContentType)
}

func TestUploadEncodedImage_Failures(t *testing.T) {
	ctx := context.Background()
	encoded := base64.StdEncoding.EncodeToString(pngBytes)

	t.Run("empty payload", func(t *testing.T) {
		objects := &fakeObjects{}
		_, err := newTestClient(objects, 0).UploadEncodedImage(ctx, "", "products/s1", "a", "image/png")
		assert.ErrorIs(t, err, ErrUpload)
		assert.ErrorIs(t, err, ErrEmptyPayload)
		assert.Empty(t, objects.puts)
	})

	t.Run("invalid base64", func(t *testing.T) {
		_, err := newTestClient(&fakeObjects{}, 0).UploadEncodedImage(ctx, "%%%", "products/s1", "a", "image/png")
		assert.ErrorIs(t, err, ErrUpload)
	})

	t.Run("name collision", func(t *testing.T) {
		objects := &fakeObjects{existing: map[string]bool{"products/s1/a.png": true}}
		_, err := newTestClient(objects, 0).UploadEncodedImage(ctx, encoded, "products/s1", "a", "image/png")
		assert.ErrorIs(t, err, ErrObjectExists)
		assert.Empty(t, objects.puts)
	})

	t.Run("collision at write time", func(t *testing.T) {
		objects := &fakeObjects{putErr: fmt.Errorf("put object products/s1/a.png: %w", storage.ErrObjectExists)}
		_, err := newTestClient(objects, 0).UploadEncodedImage(ctx, encoded, "products/s1", "a", "image/png")
		assert.ErrorIs(t, err, ErrUpload)
		assert.ErrorIs(t, err, ErrObjectExists)
	})

	t.Run("provider rejection", func(t *testing.T) {
		objects := &fakeObjects{putErr: errors.New("AccessDenied: invalid credentials")}
		_, err := newTestClient(objects, 0).UploadEncodedImage(ctx, encoded, "products/s1", "a", "image/png")
		assert.ErrorIs(t, err, ErrUpload)
		assert.Contains(t, err.Error(), "AccessDenied")
	})
}

// bucketRace lets every uploader through Exists before any of them writes,
// then stores keys with conditional-put semantics.
type bucketRace struct {
	arrived sync.WaitGroup

	mu      sync.Mutex
	objects map[string][]byte
}

func (b *bucketRace) Exists(ctx context.Context, key string) (bool, error) {
	b.arrived.Done()
	b.arrived.Wait()
	return false, nil
}

func (b *bucketRace) Put(ctx context.Context, key string, body io.Reader, size int64, opts storage.PutOptions) error {
	data, _ := io.ReadAll(body)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[key]; ok {
		if opts.IfAbsent {
			return fmt.Errorf("put object %s: %w", key, storage.ErrObjectExists)
		}
	}
	b.objects[key] = data
	return nil
}

func (b *bucketRace) PublicURL(key string) string {
	return "https://cdn/" + key
}

func TestUploadEncodedImage_ConcurrentSameName(t *testing.T) {
	const uploaders = 2
	objects := &bucketRace{objects: map[string][]byte{}}
	objects.arrived.Add(uploaders)
	client := newTestClient(objects, 0)

	payloads := []string{
		base64.StdEncoding.EncodeToString(append([]byte{}, pngBytes...)),
		base64.StdEncoding.EncodeToString(append(append([]byte{}, pngBytes...), 9)),
	}
	errs := make([]error, uploaders)
	var wg sync.WaitGroup
	for i := 0; i < uploaders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = client.UploadEncodedImage(context.Background(), payloads[i], "products/s1", "a_enhanced", "image/png")
		}(i)
	}
	wg.Wait()

	var ok, collided int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrObjectExists):
			collided++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, collided)
	assert.Len(t, objects.objects, 1)
}

func TestExtractFileName(t *testing.T) {
	cases := map[string]string{
		"https://cdn/x/photo.jpg":                     "photo",
		"https://cdn/x/photo.final.png?w=200#frag":    "photo.final",
		"https://storage/o/products%2Fs1%2Fshoe.webp": "shoe",
		"https://cdn/x/noext":                         "noext",
		"https://cdn/":                                "image",
		"":                                            "image",
		"relative/path/item.jpeg":                     "item",
	}
	for in, want := range cases {
		assert.Equal(t, want, ExtractFileName(in), in)
	}
}
