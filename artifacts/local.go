package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"mediaconvert/logger"
)

// LocalStore writes artifacts under a directory that the HTTP server exposes
// under /files/.
type LocalStore struct {
	baseDir string
	baseURL string
}

func NewLocalStore(baseDir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(baseDir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &LocalStore{baseDir: baseDir, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Dir returns the directory artifacts are served from.
func (s *LocalStore) Dir() string { return s.baseDir }

func (s *LocalStore) fullPath(ref string) (string, error) {
	cleaned, err := cleanRef(ref)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(cleaned)), nil
}

func (s *LocalStore) Put(_ context.Context, key string, r io.Reader, _ string) (string, error) {
	ref, err := cleanRef(key)
	if err != nil {
		return "", err
	}
	fullPath := filepath.Join(s.baseDir, filepath.FromSlash(ref))
	fullDir := filepath.Dir(fullPath)
	if err := os.MkdirAll(fullDir, os.ModePerm); err != nil {
		return "", fmt.Errorf("failed to create directories: %w", err)
	}

	// write to a temp file first so readers never see a partial artifact
	tmp, err := os.CreateTemp(fullDir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create file in %s: %w", fullDir, err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write to file %s: %w", fullPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close file %s: %w", fullPath, err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to move file into place %s: %w", fullPath, err)
	}

	logger.Debugf("Saved artifact '%s' to '%s'", key, fullPath)
	return ref, nil
}

func (s *LocalStore) Get(_ context.Context, ref string) (io.ReadCloser, error) {
	fullPath, err := s.fullPath(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, err
	}
	return f, nil
}

func (s *LocalStore) Delete(_ context.Context, ref string) error {
	fullPath, err := s.fullPath(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", ref, err)
	}
	return nil
}

func (s *LocalStore) URL(_ context.Context, ref string) (string, error) {
	cleaned, err := cleanRef(ref)
	if err != nil {
		return "", err
	}
	return s.baseURL + "/" + cleaned, nil
}

func (s *LocalStore) Ping(_ context.Context) error {
	info, err := os.Stat(s.baseDir)
	if err != nil {
		return fmt.Errorf("artifact directory unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("artifact path %s is not a directory", s.baseDir)
	}
	return nil
}
