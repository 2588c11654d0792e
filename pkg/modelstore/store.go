// Package modelstore locates the artifact pair of a network variant and can
// fetch missing artifacts from S3-compatible object storage.
package modelstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"ventmapper/internal/models"
	"ventmapper/pkg/inference"
)

// ErrMissingArtifact is returned when a model file is neither present locally
// nor obtainable from the remote store.
var ErrMissingArtifact = errors.New("model artifact not found")

// ObjectAPI is the subset of the MinIO client used by the store.
type ObjectAPI interface {
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	FGetObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.GetObjectOptions) error
}

// RemoteConfig describes the object store holding published models.
type RemoteConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Region          string
	Bucket          string
	Prefix          string
}

// NewMinIO creates a client for cfg.
func NewMinIO(cfg RemoteConfig) (*minio.Client, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	return client, nil
}

// Store resolves variants to artifact paths under Dir.
type Store struct {
	Dir    string
	Remote ObjectAPI
	Bucket string
	Prefix string
	Logger *zap.Logger

	// mu serialises downloads between concurrent subjects.
	mu sync.Mutex
}

// New returns a local-only store.
func New(dir string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{Dir: dir, Logger: logger}
}

// WithRemote enables fetching missing artifacts from bucket/prefix.
func (s *Store) WithRemote(api ObjectAPI, bucket, prefix string) *Store {
	s.Remote, s.Bucket, s.Prefix = api, bucket, prefix
	return s
}

// Paths returns where the artifacts of v live, whether or not they exist.
func (s *Store) Paths(v models.Variant) inference.Artifacts {
	return inference.Artifacts{
		Architecture: filepath.Join(s.Dir, v.ModelFile()),
		Weights:      filepath.Join(s.Dir, v.WeightsFile()),
	}
}

// Check reports the first missing artifact of v without touching the remote.
func (s *Store) Check(v models.Variant) error {
	a := s.Paths(v)
	for _, p := range []string{a.Architecture, a.Weights} {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("%w: %s", ErrMissingArtifact, p)
		}
	}
	return nil
}

// Resolve returns the artifacts of v, downloading missing files when a
// remote is configured.
func (s *Store) Resolve(ctx context.Context, v models.Variant) (inference.Artifacts, error) {
	a := s.Paths(v)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range []string{a.Architecture, a.Weights} {
		if _, err := os.Stat(p); err == nil {
			continue
		}
		if s.Remote == nil {
			return inference.Artifacts{}, fmt.Errorf("%w: %s (download the models and rerun)", ErrMissingArtifact, p)
		}
		if err := s.fetch(ctx, filepath.Base(p), p); err != nil {
			return inference.Artifacts{}, err
		}
	}
	return a, nil
}

func (s *Store) fetch(ctx context.Context, name, dest string) error {
	key := path.Join(s.Prefix, name)
	info, err := s.Remote.StatObject(ctx, s.Bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return fmt.Errorf("%w: s3://%s/%s", ErrMissingArtifact, s.Bucket, key)
		}
		return fmt.Errorf("stat s3://%s/%s: %w", s.Bucket, key, err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create models dir: %w", err)
	}
	// artifacts appear under their final name only once complete
	tmp := dest + ".part"
	if err := s.Remote.FGetObject(ctx, s.Bucket, key, tmp, minio.GetObjectOptions{}); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("download s3://%s/%s: %w", s.Bucket, key, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("install %s: %w", dest, err)
	}
	s.Logger.Info("downloaded model artifact",
		zap.String("bucket", s.Bucket),
		zap.String("key", key),
		zap.Int64("size", info.Size),
		zap.String("path", dest))
	return nil
}
