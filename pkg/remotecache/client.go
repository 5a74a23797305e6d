package remotecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/thomasjiangcy/pkgrep/pkg/config"
	"github.com/thomasjiangcy/pkgrep/pkg/depspec"
	pkgreperrors "github.com/thomasjiangcy/pkgrep/pkg/errors"
	"github.com/thomasjiangcy/pkgrep/pkg/source"
)

const (
	metadataFileName      = "metadata.json"
	metadataSchemaVersion = 1
)

// HydrateStatus is the outcome class of one hydrate attempt.
type HydrateStatus int

const (
	// HydrateNotFound means the remote store has no metadata for the
	// target.
	HydrateNotFound HydrateStatus = iota
	// HydrateAlreadyPresent means the checkout already existed locally;
	// only the project link was refreshed.
	HydrateAlreadyPresent
	// Hydrated means the checkout was restored from the remote archive.
	Hydrated
)

// HydrateResult pairs the status with the materialization (nil for
// HydrateNotFound).
type HydrateResult struct {
	Status       HydrateStatus
	Materialized *source.MaterializedSource
}

// Client archives and restores checkouts through an object store.
type Client struct {
	store  ObjectStore
	prefix string
}

// NewClient builds a remote cache client from config. Local-style backends
// return (nil, nil): no client, no remote behavior.
func NewClient(cfg *config.Config) (*Client, error) {
	store, err := NewObjectStore(cfg)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, nil
	}
	return &Client{
		store:  store,
		prefix: strings.Trim(cfg.ObjectStore.Prefix, "/"),
	}, nil
}

// NewClientWithStore wires an explicit driver; used by tests and embedded
// callers.
func NewClientWithStore(store ObjectStore, prefix string) *Client {
	return &Client{store: store, prefix: strings.Trim(prefix, "/")}
}

// remoteSourceMetadata is the persisted metadata.json schema.
type remoteSourceMetadata struct {
	SchemaVersion     int    `json:"schema_version"`
	Ecosystem         string `json:"ecosystem"`
	Locator           string `json:"locator"`
	GitURL            string `json:"git_url"`
	RequestedRevision string `json:"requested_revision"`
	SourceFingerprint string `json:"source_fingerprint"`
	ArchiveObjectKey  string `json:"archive_object_key"`
}

// HydrateGitSource restores one target from the remote cache. Metadata that
// exists but does not validate is an error, never a miss.
func (c *Client) HydrateGitSource(cwd, cacheRoot string, target source.GitPullTarget) (*HydrateResult, error) {
	ctx := context.Background()

	metadataKey := c.metadataKey(target)
	metadataBytes, err := c.store.Read(ctx, metadataKey)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return &HydrateResult{Status: HydrateNotFound}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", metadataKey, err)
	}

	var metadata remoteSourceMetadata
	if err := json.Unmarshal(metadataBytes, &metadata); err != nil {
		return nil, pkgreperrors.Wrap(pkgreperrors.KindRemoteMetadata, err, "failed to parse %s", metadataKey)
	}
	if err := validateMetadata(target, &metadata); err != nil {
		return nil, fmt.Errorf("invalid metadata at %s: %w", metadataKey, err)
	}

	cacheKey := depspec.CacheKey(target.Ecosystem, target.Locator, target.RequestedRevision, metadata.SourceFingerprint)
	checkoutPath := source.CheckoutPathFor(cacheRoot, cacheKey)

	if _, err := os.Stat(checkoutPath); err == nil {
		projectLinkPath, err := source.LinkCheckout(cwd, target, checkoutPath)
		if err != nil {
			return nil, err
		}
		return &HydrateResult{
			Status: HydrateAlreadyPresent,
			Materialized: &source.MaterializedSource{
				CacheKey:          cacheKey,
				SourceFingerprint: metadata.SourceFingerprint,
				CheckoutPath:      checkoutPath,
				ProjectLinkPath:   projectLinkPath,
			},
		}, nil
	}

	archiveBytes, err := c.store.Read(ctx, metadata.ArchiveObjectKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive object %s: %w", metadata.ArchiveObjectKey, err)
	}
	if err := unpackArchiveIntoDir(archiveBytes, checkoutPath); err != nil {
		return nil, err
	}
	projectLinkPath, err := source.LinkCheckout(cwd, target, checkoutPath)
	if err != nil {
		return nil, err
	}

	return &HydrateResult{
		Status: Hydrated,
		Materialized: &source.MaterializedSource{
			CacheKey:          cacheKey,
			SourceFingerprint: metadata.SourceFingerprint,
			CheckoutPath:      checkoutPath,
			ProjectLinkPath:   projectLinkPath,
		},
	}, nil
}

// PublishGitSource uploads the checkout archive (if its key is absent) and
// always rewrites the metadata. Called only after a local git
// materialization.
func (c *Client) PublishGitSource(target source.GitPullTarget, materialized *source.MaterializedSource) error {
	ctx := context.Background()

	archiveKey := c.archiveKey(target, materialized.SourceFingerprint)
	exists, err := c.store.Exists(ctx, archiveKey)
	if err != nil {
		return fmt.Errorf("failed to check existence of %s: %w", archiveKey, err)
	}
	if !exists {
		archive, err := archiveDirectory(materialized.CheckoutPath)
		if err != nil {
			return err
		}
		if err := c.store.Write(ctx, archiveKey, archive); err != nil {
			return fmt.Errorf("failed to write %s: %w", archiveKey, err)
		}
	}

	metadata := remoteSourceMetadata{
		SchemaVersion:     metadataSchemaVersion,
		Ecosystem:         target.Ecosystem.String(),
		Locator:           target.Locator,
		GitURL:            target.GitURL,
		RequestedRevision: target.RequestedRevision,
		SourceFingerprint: materialized.SourceFingerprint,
		ArchiveObjectKey:  archiveKey,
	}
	payload, err := json.MarshalIndent(&metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize remote source metadata: %w", err)
	}

	metadataKey := c.metadataKey(target)
	if err := c.store.Write(ctx, metadataKey, payload); err != nil {
		return fmt.Errorf("failed to write %s: %w", metadataKey, err)
	}
	return nil
}

func validateMetadata(target source.GitPullTarget, metadata *remoteSourceMetadata) error {
	if metadata.SchemaVersion != metadataSchemaVersion {
		return pkgreperrors.New(pkgreperrors.KindRemoteMetadata,
			"unsupported metadata schema version %d (expected %d)", metadata.SchemaVersion, metadataSchemaVersion)
	}
	if metadata.Ecosystem != target.Ecosystem.String() {
		return pkgreperrors.New(pkgreperrors.KindRemoteMetadata,
			"metadata ecosystem mismatch: expected %s got %s", target.Ecosystem, metadata.Ecosystem)
	}
	if metadata.Locator != target.Locator {
		return pkgreperrors.New(pkgreperrors.KindRemoteMetadata,
			"metadata locator mismatch: expected %s got %s", target.Locator, metadata.Locator)
	}
	if metadata.RequestedRevision != target.RequestedRevision {
		return pkgreperrors.New(pkgreperrors.KindRemoteMetadata,
			"metadata requested_revision mismatch: expected %s got %s", target.RequestedRevision, metadata.RequestedRevision)
	}
	if metadata.SourceFingerprint == "" {
		return pkgreperrors.New(pkgreperrors.KindRemoteMetadata, "metadata source_fingerprint is empty")
	}
	if metadata.ArchiveObjectKey == "" {
		return pkgreperrors.New(pkgreperrors.KindRemoteMetadata, "metadata archive_object_key is empty")
	}
	return nil
}

func (c *Client) metadataKey(target source.GitPullTarget) string {
	return c.targetPrefix(target) + "/" + metadataFileName
}

func (c *Client) archiveKey(target source.GitPullTarget, sourceFingerprint string) string {
	return c.targetPrefix(target) + "/" + sourceFingerprint + ".tar.gz"
}

func (c *Client) targetPrefix(target source.GitPullTarget) string {
	relative := fmt.Sprintf("sources/%s/%s/%s",
		target.Ecosystem, depspec.NormalizeLocator(target.Locator), target.RequestedRevision)
	if c.prefix == "" {
		return relative
	}
	return c.prefix + "/" + relative
}
