package upload

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/Abdullah-AboOun/CertifyChain/internal/apperr"
	"github.com/Abdullah-AboOun/CertifyChain/internal/config"
)

// GCSStore writes objects to a Google Cloud Storage bucket.
type GCSStore struct {
	client  *storage.Client
	bucket  *storage.BucketHandle
	prefix  string
	baseURL string
	logger  *zap.Logger
}

// NewGCSStore uses cfg.CredentialsFile when set and application default
// credentials otherwise.
func NewGCSStore(ctx context.Context, cfg config.UploadConfig, logger *zap.Logger) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs upload: bucket not set")
	}
	opts := []option.ClientOption{storage.WithDisabledClientMetrics()}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs upload: failed in creating storage client: %w", err)
	}

	baseURL := cfg.PublicBaseURL
	if baseURL == "" {
		baseURL = "https://storage.googleapis.com/" + cfg.Bucket
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GCSStore{
		client:  client,
		bucket:  client.Bucket(cfg.Bucket),
		prefix:  cfg.Prefix,
		baseURL: baseURL,
		logger:  logger,
	}, nil
}

func (s *GCSStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	fullKey := objectKey(s.prefix, key)
	w := s.bucket.Object(fullKey).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return "", s.fail(fullKey, err)
	}
	if err := w.Close(); err != nil {
		return "", s.fail(fullKey, err)
	}
	return joinURL(s.baseURL, fullKey), nil
}

func (s *GCSStore) fail(key string, err error) error {
	s.logger.Error("GCS upload failed",
		zap.String("key", key),
		zap.Error(err),
	)
	return apperr.Wrap(apperr.KindStoreUnavailable, err, "failed to upload %s", key)
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}
