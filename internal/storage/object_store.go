package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"storefront/worker/internal/config"
)

// bucketClient is the part of *minio.Client the store relies on.
type bucketClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// ErrObjectExists is returned by a conditional Put when the key is taken.
var ErrObjectExists = errors.New("object already exists")

type PutOptions struct {
	ContentType  string
	CacheControl string
	Metadata     map[string]string
	// IfAbsent makes the write fail with ErrObjectExists instead of
	// replacing an object that is already stored under the key.
	IfAbsent bool
}

// ObjectStore is built once at startup and shared by every job. Bucket
// provisioning is deferred to the first call that needs it.
type ObjectStore struct {
	client bucketClient
	cfg    config.StorageConfig

	mu    sync.Mutex
	ready bool
}

func NewObjectStore(cfg config.StorageConfig) (*ObjectStore, error) {
	endpoint := cfg.Endpoint
	useSSL := cfg.UseSSL

	if strings.HasPrefix(endpoint, "http") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse endpoint: %w", err)
		}
		endpoint = u.Host
		useSSL = u.Scheme == "https"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}

	return newObjectStore(client, cfg), nil
}

func newObjectStore(client bucketClient, cfg config.StorageConfig) *ObjectStore {
	return &ObjectStore{
		client: client,
		cfg:    cfg,
	}
}

// EnsureBucket provisions the media bucket exactly once. Concurrent callers
// wait for the first; a failed attempt leaves the store unconfigured so the
// next caller retries.
func (s *ObjectStore) EnsureBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready {
		return nil
	}

	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("bucket exists %s: %w", s.cfg.Bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
			return fmt.Errorf("create bucket %s: %w", s.cfg.Bucket, err)
		}
	}

	s.ready = true
	return nil
}

func (s *ObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := s.EnsureBucket(ctx); err != nil {
		return false, err
	}

	_, err := s.client.StatObject(ctx, s.cfg.Bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if code := minio.ToErrorResponse(err).Code; code == "NoSuchKey" || code == "NotFound" {
		return false, nil
	}
	return false, fmt.Errorf("stat object %s: %w", key, err)
}

func (s *ObjectStore) Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) error {
	if err := s.EnsureBucket(ctx); err != nil {
		return err
	}

	putOpts := minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		CacheControl: opts.CacheControl,
		UserMetadata: opts.Metadata,
	}
	if opts.IfAbsent {
		// sent as If-None-Match: *
		putOpts.SetMatchETagExcept("*")
	}

	_, err := s.client.PutObject(ctx, s.cfg.Bucket, key, body, size, putOpts)
	if err != nil {
		if isPreconditionFailed(err) {
			return fmt.Errorf("put object %s: %w", key, ErrObjectExists)
		}
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.StatusCode == http.StatusPreconditionFailed || resp.Code == "PreconditionFailed"
}

// PublicURL maps an object key to the address storefronts load it from.
func (s *ObjectStore) PublicURL(key string) string {
	if base := strings.TrimSuffix(s.cfg.PublicBaseURL, "/"); base != "" {
		return fmt.Sprintf("%s/%s", base, key)
	}

	base := strings.TrimSuffix(s.cfg.Endpoint, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		scheme := "http://"
		if s.cfg.UseSSL {
			scheme = "https://"
		}
		base = scheme + base
	}
	return fmt.Sprintf("%s/%s/%s", base, s.cfg.Bucket, key)
}
