// Package upload stores certificate document images on the local disk, in an
// S3 bucket or in a Google Cloud Storage bucket, and returns the URL the
// document is served from.
package upload

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Abdullah-AboOun/CertifyChain/internal/apperr"
	"github.com/Abdullah-AboOun/CertifyChain/internal/config"
)

// SniffLen is the number of leading bytes inspected to detect the image type.
const SniffLen = 512

var imageExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Store persists an object under key and returns its public URL.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	Close() error
}

// New builds the store selected by cfg.Backend.
func New(ctx context.Context, cfg config.UploadConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("upload")

	switch cfg.Backend {
	case "", "local":
		return NewLocalStore(cfg.LocalDir, cfg.PublicBaseURL)
	case "s3":
		return NewS3Store(ctx, cfg, logger)
	case "gcs":
		return NewGCSStore(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported upload backend: %s", cfg.Backend)
	}
}

// DetectImage returns the content type and file extension of an image from
// its first bytes. Anything but PNG, JPEG, GIF or WebP is rejected.
func DetectImage(head []byte) (string, string, error) {
	contentType := http.DetectContentType(head)
	ext, ok := imageExtensions[contentType]
	if !ok {
		return "", "", apperr.Validation("only image uploads are allowed, got %s", contentType)
	}
	return contentType, ext, nil
}

// NewKey returns a unique object key with the given extension.
func NewKey(ext string) string {
	return uuid.NewString() + ext
}

func objectKey(prefix, key string) string {
	return path.Join(strings.Trim(prefix, "/"), key)
}

func joinURL(base, key string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(key, "/")
}
