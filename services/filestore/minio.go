// Package filestore keeps uploaded documents in an S3 compatible object store.
package filestore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"

	"github.com/sayghamsari/daftarrabet/core"
)

type MinioStore struct {
	client *minio.Client
	bucket string
}

var _ core.FileStore = (*MinioStore)(nil)

// normaliseEndpoint accepts "minio:9000" as well as "http(s)://minio:9000".
func normaliseEndpoint(raw string, useSSL bool) (endpoint string, secure bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, errors.New("empty storage endpoint")
	}
	if !strings.Contains(raw, "://") {
		return raw, useSSL, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", false, errors.Wrap(err, "parsing storage endpoint")
	}
	if u.Host == "" {
		return "", false, errors.New("invalid storage endpoint")
	}
	if u.Path != "" && u.Path != "/" {
		return "", false, errors.New("storage endpoint must not contain a path")
	}
	return u.Host, u.Scheme == "https", nil
}

// NewMinioStore connects to the configured object store and creates the bucket if needed.
func NewMinioStore(ctx context.Context, conf core.StorageConfig) (*MinioStore, error) {
	endpoint, secure, err := normaliseEndpoint(conf.Endpoint, conf.UseSSL)
	if err != nil {
		return nil, err
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(conf.AccessKey, conf.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating storage client")
	}

	exists, err := client.BucketExists(ctx, conf.Bucket)
	if err != nil {
		return nil, errors.Wrap(err, "checking bucket")
	}
	if !exists {
		if err = client.MakeBucket(ctx, conf.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, errors.Wrapf(err, "creating bucket %s", conf.Bucket)
		}
	}
	return &MinioStore{client: client, bucket: conf.Bucket}, nil
}

func (s *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	return errors.Wrapf(err, "storing %s", key)
}

func (s *MinioStore) URL(ctx context.Context, key, filename string, expiry time.Duration) (string, error) {
	params := make(url.Values)
	if filename != "" {
		params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", filename))
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, params)
	if err != nil {
		return "", errors.Wrapf(err, "signing %s", key)
	}
	return u.String(), nil
}

func (s *MinioStore) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	return errors.Wrapf(err, "removing %s", key)
}

// StatusCheck reports whether the bucket is reachable.
func (s *MinioStore) StatusCheck(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}
