package artifacts

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mediaconvert/config"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir(), "http://localhost:8080/files/")
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	ref, err := s.Put(ctx, "converted/job-1.webp", strings.NewReader("webp bytes"), "image/webp")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if ref != "converted/job-1.webp" {
		t.Errorf("unexpected ref %q", ref)
	}

	rc, err := s.Get(ctx, ref)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "webp bytes" {
		t.Errorf("unexpected content %q", data)
	}

	url, err := s.URL(ctx, ref)
	if err != nil {
		t.Fatalf("URL failed: %v", err)
	}
	if url != "http://localhost:8080/files/converted/job-1.webp" {
		t.Errorf("unexpected url %s", url)
	}

	if err := s.Delete(ctx, ref); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := s.Delete(ctx, ref); err != nil {
		t.Errorf("deleting a missing artifact should succeed, got %v", err)
	}
	if _, err := s.Get(ctx, ref); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir(), "http://localhost/files")
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	for _, ref := range []string{"../escape.txt", "/etc/passwd", "a/../../b", "", `..\win`} {
		if _, err := s.Put(ctx, ref, strings.NewReader("x"), ""); !errors.Is(err, ErrInvalidRef) {
			t.Errorf("Put(%q): expected ErrInvalidRef, got %v", ref, err)
		}
		if _, err := s.Get(ctx, ref); !errors.Is(err, ErrInvalidRef) {
			t.Errorf("Get(%q): expected ErrInvalidRef, got %v", ref, err)
		}
	}
}

func TestDownloadUploadHelpers(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewLocalStore(filepath.Join(dir, "serve"), "http://localhost/files")
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	src := filepath.Join(dir, "input.png")
	if err := os.WriteFile(src, []byte("png bytes"), 0644); err != nil {
		t.Fatal(err)
	}

	ref, err := Upload(ctx, s, "originals/input.png", src, "image/png")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	dst := filepath.Join(dir, "scratch", "nested", "copy.png")
	if err := Download(ctx, s, ref, dst); err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil || string(data) != "png bytes" {
		t.Errorf("unexpected downloaded content %q (err %v)", data, err)
	}

	if err := Download(ctx, s, "originals/missing.png", dst); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteAllToleratesFailures(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir(), "http://localhost/files")
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	ref, _ := s.Put(ctx, "originals/a.png", strings.NewReader("a"), "")

	failed := DeleteAll(ctx, s, []string{"../bad", ref, "originals/never-existed.png"})
	if failed != 1 {
		t.Errorf("expected 1 failure, got %d", failed)
	}
	if _, err := s.Get(ctx, ref); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected %s to be deleted despite earlier failure", ref)
	}
}

func TestS3PresignedURL(t *testing.T) {
	s, err := NewS3Store(S3Options{
		Bucket:       "media",
		Region:       "us-east-1",
		AccessKey:    "AKIDEXAMPLE",
		SecretKey:    "secret",
		Endpoint:     "http://localhost:9000",
		UsePathStyle: true,
		URLExpiry:    15 * time.Minute,
	})
	if err != nil {
		t.Fatalf("NewS3Store failed: %v", err)
	}

	url, err := s.URL(context.Background(), "converted/job-1.webp")
	if err != nil {
		t.Fatalf("URL failed: %v", err)
	}
	if !strings.HasPrefix(url, "http://localhost:9000/media/converted/job-1.webp?") {
		t.Errorf("unexpected presigned url %s", url)
	}
	if !strings.Contains(url, "X-Amz-Signature=") || !strings.Contains(url, "X-Amz-Expires=900") {
		t.Errorf("presigned url missing signature parameters: %s", url)
	}
}

func TestS3RequiresBucketAndKeys(t *testing.T) {
	if _, err := NewS3Store(S3Options{AccessKey: "a", SecretKey: "b"}); err == nil {
		t.Error("expected error without bucket")
	}
	if _, err := NewS3Store(S3Options{Bucket: "media"}); err == nil {
		t.Error("expected error without keys")
	}
}

func TestSFTPURL(t *testing.T) {
	s := NewSFTPStore(SFTPOptions{Host: "sftp.example.com", User: "u", PublicURL: "https://cdn.example.com/"})
	url, err := s.URL(context.Background(), "thumbnails/job-1.jpeg")
	if err != nil {
		t.Fatalf("URL failed: %v", err)
	}
	if url != "https://cdn.example.com/thumbnails/job-1.jpeg" {
		t.Errorf("unexpected url %s", url)
	}

	if _, err := NewSFTPStore(SFTPOptions{}).URL(context.Background(), "a"); err == nil {
		t.Error("expected error without public url")
	}
}

func TestNewSelectsBackend(t *testing.T) {
	cfg := &config.Config{ArtifactBackend: "local", LocalDir: t.TempDir(), PublicBaseURL: "http://localhost:8080"}
	s, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := s.(*LocalStore); !ok {
		t.Errorf("expected *LocalStore, got %T", s)
	}

	cfg.ArtifactBackend = "ftp"
	if _, err := New(context.Background(), cfg); err == nil {
		t.Error("expected error for unknown backend")
	}
}
