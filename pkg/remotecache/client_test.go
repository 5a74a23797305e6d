package remotecache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/thomasjiangcy/pkgrep/pkg/depspec"
	pkgreperrors "github.com/thomasjiangcy/pkgrep/pkg/errors"
	"github.com/thomasjiangcy/pkgrep/pkg/source"
)

// memoryStore is an in-memory ObjectStore for tests.
type memoryStore struct {
	objects map[string][]byte
	writes  []string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}}
}

func (m *memoryStore) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memoryStore) Read(_ context.Context, key string) ([]byte, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return data, nil
}

func (m *memoryStore) Write(_ context.Context, key string, payload []byte) error {
	m.objects[key] = append([]byte(nil), payload...)
	m.writes = append(m.writes, key)
	return nil
}

func testTarget(gitURL string) source.GitPullTarget {
	return source.GitPullTarget{
		Ecosystem:         depspec.Git,
		Locator:           gitURL,
		GitURL:            gitURL,
		RequestedRevision: "v1",
	}
}

// buildCheckout fakes a materialized checkout on disk: a .git marker and a
// README.
func buildCheckout(t *testing.T, cacheRoot string, target source.GitPullTarget, fingerprint string) *source.MaterializedSource {
	t.Helper()
	cacheKey := depspec.CacheKey(target.Ecosystem, target.Locator, target.RequestedRevision, fingerprint)
	checkoutPath := source.CheckoutPathFor(cacheRoot, cacheKey)
	if err := os.MkdirAll(filepath.Join(checkoutPath, ".git"), 0755); err != nil {
		t.Fatalf("mkdir checkout: %v", err)
	}
	if err := os.WriteFile(filepath.Join(checkoutPath, ".git", "HEAD"), []byte(fingerprint+"\n"), 0644); err != nil {
		t.Fatalf("write .git/HEAD: %v", err)
	}
	if err := os.WriteFile(filepath.Join(checkoutPath, "README.md"), []byte("# fixture\n"), 0644); err != nil {
		t.Fatalf("write README: %v", err)
	}
	return &source.MaterializedSource{
		CacheKey:          cacheKey,
		SourceFingerprint: fingerprint,
		CheckoutPath:      checkoutPath,
	}
}

func TestPublishThenHydrate_Roundtrip(t *testing.T) {
	store := newMemoryStore()
	client := NewClientWithStore(store, "team-prefix")
	target := testTarget("https://example.com/repo.git")

	publishRoot := t.TempDir()
	materialized := buildCheckout(t, publishRoot, target, "aaaa1111")
	if err := client.PublishGitSource(target, materialized); err != nil {
		t.Fatalf("PublishGitSource() error: %v", err)
	}

	wantPrefix := "team-prefix/sources/git/" + depspec.NormalizeLocator(target.Locator) + "/v1"
	if _, ok := store.objects[wantPrefix+"/metadata.json"]; !ok {
		t.Fatalf("metadata key missing; keys = %v", keys(store.objects))
	}
	if _, ok := store.objects[wantPrefix+"/aaaa1111.tar.gz"]; !ok {
		t.Fatalf("archive key missing; keys = %v", keys(store.objects))
	}

	// Hydrate into a different machine: fresh cwd and cache root.
	cwd := t.TempDir()
	cacheRoot := t.TempDir()
	result, err := client.HydrateGitSource(cwd, cacheRoot, target)
	if err != nil {
		t.Fatalf("HydrateGitSource() error: %v", err)
	}
	if result.Status != Hydrated {
		t.Fatalf("status = %v, want Hydrated", result.Status)
	}
	if result.Materialized.SourceFingerprint != "aaaa1111" {
		t.Errorf("fingerprint = %q", result.Materialized.SourceFingerprint)
	}
	if _, err := os.Stat(filepath.Join(result.Materialized.CheckoutPath, "README.md")); err != nil {
		t.Errorf("hydrated checkout missing README.md: %v", err)
	}
	if _, err := os.Stat(filepath.Join(result.Materialized.CheckoutPath, ".git", "HEAD")); err != nil {
		t.Errorf("hydrated checkout missing inner .git: %v", err)
	}

	linkTarget, err := os.Readlink(result.Materialized.ProjectLinkPath)
	if err != nil {
		t.Fatalf("project link missing: %v", err)
	}
	if linkTarget != result.Materialized.CheckoutPath {
		t.Errorf("link target = %q, want %q", linkTarget, result.Materialized.CheckoutPath)
	}
}

func TestHydrate_NotFound(t *testing.T) {
	client := NewClientWithStore(newMemoryStore(), "")
	result, err := client.HydrateGitSource(t.TempDir(), t.TempDir(), testTarget("https://example.com/repo.git"))
	if err != nil {
		t.Fatalf("HydrateGitSource() error: %v", err)
	}
	if result.Status != HydrateNotFound {
		t.Errorf("status = %v, want HydrateNotFound", result.Status)
	}
}

func TestHydrate_AlreadyPresentRefreshesLink(t *testing.T) {
	store := newMemoryStore()
	client := NewClientWithStore(store, "")
	target := testTarget("https://example.com/repo.git")

	cwd := t.TempDir()
	cacheRoot := t.TempDir()
	materialized := buildCheckout(t, cacheRoot, target, "aaaa1111")
	if err := client.PublishGitSource(target, materialized); err != nil {
		t.Fatalf("PublishGitSource() error: %v", err)
	}

	result, err := client.HydrateGitSource(cwd, cacheRoot, target)
	if err != nil {
		t.Fatalf("HydrateGitSource() error: %v", err)
	}
	if result.Status != HydrateAlreadyPresent {
		t.Errorf("status = %v, want HydrateAlreadyPresent", result.Status)
	}
	if _, err := os.Lstat(result.Materialized.ProjectLinkPath); err != nil {
		t.Errorf("project link missing: %v", err)
	}
}

func TestHydrate_MetadataMismatchIsError(t *testing.T) {
	store := newMemoryStore()
	client := NewClientWithStore(store, "")
	target := testTarget("https://example.com/repo.git")

	metadata := remoteSourceMetadata{
		SchemaVersion:     metadataSchemaVersion,
		Ecosystem:         "git",
		Locator:           "https://example.com/OTHER.git",
		GitURL:            "https://example.com/OTHER.git",
		RequestedRevision: "v1",
		SourceFingerprint: "aaaa",
		ArchiveObjectKey:  "whatever",
	}
	payload, _ := json.Marshal(&metadata)
	store.objects["sources/git/"+depspec.NormalizeLocator(target.Locator)+"/v1/metadata.json"] = payload

	_, err := client.HydrateGitSource(t.TempDir(), t.TempDir(), target)
	if err == nil {
		t.Fatal("expected mismatch error, not a cache miss")
	}
	if !strings.Contains(err.Error(), "locator mismatch") {
		t.Errorf("error = %q", err)
	}
	if !pkgreperrors.IsKind(err, pkgreperrors.KindRemoteMetadata) {
		t.Error("error is not KindRemoteMetadata")
	}
}

func TestHydrate_UnsupportedSchemaVersion(t *testing.T) {
	store := newMemoryStore()
	client := NewClientWithStore(store, "")
	target := testTarget("https://example.com/repo.git")

	store.objects["sources/git/"+depspec.NormalizeLocator(target.Locator)+"/v1/metadata.json"] =
		[]byte(`{"schema_version": 2, "ecosystem": "git"}`)

	_, err := client.HydrateGitSource(t.TempDir(), t.TempDir(), target)
	if err == nil || !strings.Contains(err.Error(), "unsupported metadata schema version") {
		t.Errorf("error = %v", err)
	}
}

func TestPublish_ArchiveIsImmutableMetadataIsNot(t *testing.T) {
	store := newMemoryStore()
	client := NewClientWithStore(store, "")
	target := testTarget("https://example.com/repo.git")

	cacheRoot := t.TempDir()
	materialized := buildCheckout(t, cacheRoot, target, "aaaa1111")

	for i := 0; i < 2; i++ {
		if err := client.PublishGitSource(target, materialized); err != nil {
			t.Fatalf("PublishGitSource() #%d error: %v", i+1, err)
		}
	}

	archiveWrites, metadataWrites := 0, 0
	for _, key := range store.writes {
		if strings.HasSuffix(key, ".tar.gz") {
			archiveWrites++
		}
		if strings.HasSuffix(key, "metadata.json") {
			metadataWrites++
		}
	}
	if archiveWrites != 1 {
		t.Errorf("archive writes = %d, want 1 (put only if absent)", archiveWrites)
	}
	if metadataWrites != 2 {
		t.Errorf("metadata writes = %d, want 2 (always overwritten)", metadataWrites)
	}
}

func TestUnpackArchive_RefusesExistingDirAndCleansUpOnError(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "existing")
	if err := os.MkdirAll(existing, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := unpackArchiveIntoDir([]byte("irrelevant"), existing); err == nil {
		t.Fatal("expected refusal to unpack into existing directory")
	}

	// Garbage bytes: the partially created directory must be removed.
	fresh := filepath.Join(dir, "fresh")
	if err := unpackArchiveIntoDir([]byte("not a gzip stream"), fresh); err == nil {
		t.Fatal("expected error for invalid archive")
	}
	if _, err := os.Stat(fresh); !os.IsNotExist(err) {
		t.Error("partial checkout directory left behind")
	}
}

func TestArchiveRoundtripPreservesSymlinks(t *testing.T) {
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "file.txt"), []byte("data"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Symlink("file.txt", filepath.Join(src, "link.txt")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	archive, err := archiveDirectory(src)
	if err != nil {
		t.Fatalf("archiveDirectory() error: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "out")
	if err := unpackArchiveIntoDir(archive, dest); err != nil {
		t.Fatalf("unpackArchiveIntoDir() error: %v", err)
	}

	linkTarget, err := os.Readlink(filepath.Join(dest, "link.txt"))
	if err != nil || linkTarget != "file.txt" {
		t.Errorf("symlink not preserved: %q, %v", linkTarget, err)
	}
	data, err := os.ReadFile(filepath.Join(dest, "file.txt"))
	if err != nil || string(data) != "data" {
		t.Errorf("file not preserved: %q, %v", data, err)
	}
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
