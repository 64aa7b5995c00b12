package upload

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Abdullah-AboOun/CertifyChain/internal/apperr"
)

// LocalStore writes objects below a directory served by the API under baseURL.
type LocalStore struct {
	dir     string
	baseURL string
}

// NewLocalStore creates dir when needed.
func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("upload directory not set")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	if baseURL == "" {
		baseURL = "/uploads"
	}
	return &LocalStore{dir: dir, baseURL: baseURL}, nil
}

// Dir returns the directory objects are written to.
func (s *LocalStore) Dir() string {
	return s.dir
}

func (s *LocalStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	target := filepath.Join(s.dir, filepath.FromSlash(key))
	if !strings.HasPrefix(target, filepath.Clean(s.dir)+string(os.PathSeparator)) {
		return "", apperr.Validation("invalid object key %q", key)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload dir: %w", err)
	}

	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", apperr.Wrap(apperr.KindStoreUnavailable, err, "failed to create %s", key)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(target)
		return "", apperr.Wrap(apperr.KindStoreUnavailable, err, "failed to write %s", key)
	}
	if err := f.Close(); err != nil {
		os.Remove(target)
		return "", apperr.Wrap(apperr.KindStoreUnavailable, err, "failed to write %s", key)
	}
	return joinURL(s.baseURL, key), nil
}

func (s *LocalStore) Close() error {
	return nil
}
