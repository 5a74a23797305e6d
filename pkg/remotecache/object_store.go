// Package remotecache archives and restores cached checkouts through a
// remote object store, keyed by the same identity scheme as the local cache.
//
// Two objects exist per (ecosystem, locator, revision): a metadata.json
// naming the fingerprint, and a tarball addressed by that fingerprint. The
// archive is immutable by content; the metadata is last-writer-wins.
package remotecache

import (
	"context"
	"errors"

	"github.com/thomasjiangcy/pkgrep/pkg/config"
	pkgreperrors "github.com/thomasjiangcy/pkgrep/pkg/errors"
)

// ErrObjectNotFound is the distinguished not-found error every driver maps
// its backend's miss onto. Callers discriminate it with errors.Is.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore is the driver contract: byte blobs by string key.
type ObjectStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, payload []byte) error
}

// NewObjectStore builds the driver for the configured backend. Local-style
// backends have no object store; callers get (nil, nil) and skip remote
// behavior entirely.
func NewObjectStore(cfg *config.Config) (ObjectStore, error) {
	switch cfg.Backend {
	case config.BackendLocal, config.BackendAgentFs:
		return nil, nil
	case config.BackendS3:
		if cfg.ObjectStore.Bucket == "" {
			return nil, pkgreperrors.New(pkgreperrors.KindBackendRequirement,
				"object_store.bucket must be set for backend=s3")
		}
		return newS3Store(cfg)
	case config.BackendAzureBlob:
		if cfg.ObjectStore.Bucket == "" {
			return nil, pkgreperrors.New(pkgreperrors.KindBackendRequirement,
				"object_store.bucket must be set for backend=azure_blob")
		}
		return newAzureBlobStore(cfg)
	default:
		return nil, pkgreperrors.New(pkgreperrors.KindBackendRequirement,
			"no object store driver for backend=%s", cfg.Backend)
	}
}
