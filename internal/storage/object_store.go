package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"mestredb/api/internal/audit"
	"mestredb/api/internal/config"
)

// ObjectStore archives audit events in an S3-compatible bucket.
type ObjectStore struct {
	client *minio.Client
	cfg    config.ArchiveConfig
}

func NewObjectStore(cfg config.ArchiveConfig) (*ObjectStore, error) {
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

	return &ObjectStore{
		client: client,
		cfg:    cfg,
	}, nil
}

func (s *ObjectStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("bucket exists %s: %w", s.cfg.Bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.cfg.Bucket, err)
	}
	return nil
}

// Archive stores the event as JSON. Writing the same event twice overwrites
// the same object, so redelivered messages are harmless.
func (s *ObjectStore) Archive(ctx context.Context, event audit.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.ID, err)
	}

	key := ObjectKey(event)
	_, err = s.client.PutObject(ctx, s.cfg.Bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			"event-type": string(event.Type),
		},
	})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", s.cfg.Bucket, key, err)
	}
	return nil
}

// ObjectKey lays events out by UTC day: yyyy/mm/dd/<event id>.json.
func ObjectKey(event audit.Event) string {
	at := event.OccurredAt.UTC()
	return path.Join(at.Format("2006"), at.Format("01"), at.Format("02"), event.ID+".json")
}
