package artifacts

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"mediaconvert/logger"
)

// GCSStore keeps artifacts in a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
	expiry time.Duration
}

// NewGCSStore connects with the base64 encoded service account key when one
// is given, or with application default credentials otherwise.
func NewGCSStore(ctx context.Context, bucket, credentialsB64 string, expiry time.Duration) (*GCSStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs artifact backend requires GCS_BUCKET")
	}
	if expiry <= 0 {
		expiry = time.Hour
	}

	var opts []option.ClientOption
	if credentialsB64 != "" {
		credentialsJSON, err := base64.StdEncoding.DecodeString(credentialsB64)
		if err != nil {
			return nil, fmt.Errorf("decode GCS credentials: %w", err)
		}
		opts = append(opts, option.WithCredentialsJSON(credentialsJSON))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage.NewClient: %w", err)
	}
	return &GCSStore{client: client, bucket: client.Bucket(bucket), name: bucket, expiry: expiry}, nil
}

func (s *GCSStore) Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	ref, err := cleanRef(key)
	if err != nil {
		return "", err
	}

	wc := s.bucket.Object(ref).NewWriter(ctx)
	wc.ContentType = contentType
	if _, err := io.Copy(wc, r); err != nil {
		wc.Close()
		return "", fmt.Errorf("io.Copy: %w", err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("Writer.Close: %w", err)
	}

	logger.Debugf("Uploaded object '%s' to bucket '%s'", ref, s.name)
	return ref, nil
}

func (s *GCSStore) Get(ctx context.Context, ref string) (io.ReadCloser, error) {
	rc, err := s.bucket.Object(ref).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("failed to read object %s: %w", ref, err)
	}
	return rc, nil
}

func (s *GCSStore) Delete(ctx context.Context, ref string) error {
	err := s.bucket.Object(ref).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete object %s: %w", ref, err)
	}
	return nil
}

// URL returns a V4 signed URL, or the public object URL when the credentials
// cannot sign.
func (s *GCSStore) URL(_ context.Context, ref string) (string, error) {
	signed, err := s.bucket.SignedURL(ref, &storage.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(s.expiry),
		Scheme:  storage.SigningSchemeV4,
	})
	if err == nil {
		return signed, nil
	}
	logger.Warnf("Could not sign URL for %s, falling back to public URL: %v", ref, err)
	return "https://storage.googleapis.com/" + s.name + "/" + (&url.URL{Path: ref}).EscapedPath(), nil
}

func (s *GCSStore) Ping(ctx context.Context) error {
	if _, err := s.bucket.Attrs(ctx); err != nil {
		return fmt.Errorf("bucket %s unavailable: %w", s.name, err)
	}
	return nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}
