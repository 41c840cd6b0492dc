package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"mediaconvert/config"
	"mediaconvert/logger"
)

var (
	ErrNotFound   = errors.New("artifact not found")
	ErrInvalidRef = errors.New("invalid artifact reference")
)

// Store is the blob store holding originals, converted outputs and thumbnails.
// A ref is the opaque locator returned by Put; callers never interpret it.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
	Get(ctx context.Context, ref string) (io.ReadCloser, error)
	// Delete removes an artifact. Deleting a missing artifact is not an error.
	Delete(ctx context.Context, ref string) error
	// URL returns a durable (or signed) address clients can fetch the artifact from.
	URL(ctx context.Context, ref string) (string, error)
	Ping(ctx context.Context) error
}

// New returns the artifact store selected by cfg.ArtifactBackend.
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.ArtifactBackend {
	case "", "local":
		return NewLocalStore(cfg.LocalDir, cfg.PublicBaseURL+"/files")
	case "s3":
		return NewS3Store(S3Options{
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			Endpoint:     cfg.S3Endpoint,
			UsePathStyle: cfg.S3UsePathStyle,
			URLExpiry:    cfg.URLExpiry,
		})
	case "gcs":
		return NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSCredentialsJSON, cfg.URLExpiry)
	case "sftp":
		return NewSFTPStore(SFTPOptions{
			Host:       cfg.SFTPHost,
			Port:       cfg.SFTPPort,
			User:       cfg.SFTPUser,
			Password:   cfg.SFTPPassword,
			PrivateKey: cfg.SFTPPrivateKey,
			RootDir:    cfg.SFTPRootDir,
			PublicURL:  cfg.SFTPPublicURL,
		}), nil
	default:
		return nil, fmt.Errorf("unknown artifact backend: %s", cfg.ArtifactBackend)
	}
}

// cleanRef rejects refs that could escape the store root.
func cleanRef(ref string) (string, error) {
	if ref == "" || strings.HasPrefix(ref, "/") || strings.Contains(ref, `\`) {
		return "", fmt.Errorf("%w: '%s'", ErrInvalidRef, ref)
	}
	cleaned := path.Clean(ref)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: '%s'", ErrInvalidRef, ref)
	}
	return cleaned, nil
}

// Download copies an artifact into a local file, creating parent directories.
func Download(ctx context.Context, s Store, ref, dst string) error {
	rc, err := s.Get(ctx, ref)
	if err != nil {
		return err
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}
	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", dst, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, rc); err != nil {
		return fmt.Errorf("failed to copy artifact %s: %w", ref, err)
	}
	return nil
}

// Upload stores a local file under key and returns its ref.
func Upload(ctx context.Context, s Store, key, src, contentType string) (string, error) {
	f, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer f.Close()
	return s.Put(ctx, key, f, contentType)
}

// DeleteAll removes every ref, logging and skipping individual failures.
// It returns the number of refs that could not be deleted.
func DeleteAll(ctx context.Context, s Store, refs []string) int {
	failed := 0
	for _, ref := range refs {
		if err := s.Delete(ctx, ref); err != nil {
			failed++
			logger.Warnf("Failed to delete artifact %s: %v", ref, err)
		}
	}
	return failed
}
