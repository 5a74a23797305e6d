package remotecache

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/thomasjiangcy/pkgrep/pkg/config"
	pkgreperrors "github.com/thomasjiangcy/pkgrep/pkg/errors"
)

// s3Store talks to any S3-compatible endpoint.
type s3Store struct {
	client *minio.Client
	bucket string
}

func newS3Store(cfg *config.Config) (ObjectStore, error) {
	endpoint, secure, err := s3Endpoint(cfg.ObjectStore.Endpoint)
	if err != nil {
		return nil, err
	}

	region := os.Getenv("PKGREP_OBJECT_STORE_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "auto"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  s3Credentials(),
		Secure: secure,
		Region: region,
	})
	if err != nil {
		return nil, pkgreperrors.Wrap(pkgreperrors.KindBackendRequirement, err,
			"failed to create S3 client for endpoint %s", endpoint)
	}

	return &s3Store{client: client, bucket: cfg.ObjectStore.Bucket}, nil
}

// s3Endpoint splits a configured endpoint URL into the host form the client
// wants, defaulting to AWS S3 over TLS when unset.
func s3Endpoint(configured string) (string, bool, error) {
	if configured == "" {
		return "s3.amazonaws.com", true, nil
	}

	if !strings.Contains(configured, "://") {
		return configured, true, nil
	}

	parsed, err := url.Parse(configured)
	if err != nil || parsed.Host == "" {
		return "", false, pkgreperrors.New(pkgreperrors.KindBackendRequirement,
			"invalid object_store.endpoint: %s", configured)
	}
	return parsed.Host, parsed.Scheme != "http", nil
}

// s3Credentials prefers the PKGREP_OBJECT_STORE_* variables and falls back
// to the standard AWS environment.
func s3Credentials() *credentials.Credentials {
	accessKeyID := os.Getenv("PKGREP_OBJECT_STORE_ACCESS_KEY_ID")
	secretAccessKey := os.Getenv("PKGREP_OBJECT_STORE_SECRET_ACCESS_KEY")
	sessionToken := os.Getenv("PKGREP_OBJECT_STORE_SESSION_TOKEN")
	if accessKeyID != "" && secretAccessKey != "" {
		return credentials.NewStaticV4(accessKeyID, secretAccessKey, sessionToken)
	}
	return credentials.NewEnvAWS()
}

func (s *s3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *s3Store) Read(ctx context.Context, key string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		if isS3NotFound(err) {
			return nil, ErrObjectNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *s3Store) Write(ctx context.Context, key string, payload []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	return err
}

func isS3NotFound(err error) bool {
	response := minio.ToErrorResponse(err)
	return response.Code == "NoSuchKey" || response.StatusCode == 404
}
