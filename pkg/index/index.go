// Package index maintains pkgrep's two persistent indexes: the per-project
// manifest (which dep specs a project links, and where) and the global ref
// index (which projects reference each cached checkout).
//
// Both are pretty-printed JSON, always rewritten atomically via a temp file
// and rename, so concurrent readers observe either the old or the new whole
// file.
package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/thomasjiangcy/pkgrep/pkg/source"
)

const (
	projectManifestSchemaVersion = 1
	globalRefIndexSchemaVersion  = 1
)

// ProjectManifest records the dependency links of one project.
type ProjectManifest struct {
	SchemaVersion int                             `json:"schema_version"`
	Entries       map[string]ProjectManifestEntry `json:"entries"`
}

// ProjectManifestEntry maps a dep spec to its link and cache key.
type ProjectManifestEntry struct {
	LinkPath string `json:"link_path"`
	CacheKey string `json:"cache_key"`
}

// GlobalRefIndex is the cache-wide reverse reference: for each cache key,
// the set of project roots that still link it.
type GlobalRefIndex struct {
	SchemaVersion int                       `json:"schema_version"`
	Entries       map[string]GlobalRefEntry `json:"entries"`
}

// GlobalRefEntry describes one cached checkout and its referencing projects.
type GlobalRefEntry struct {
	DepSpec      string `json:"dep_spec"`
	CheckoutPath string `json:"checkout_path"`
	// Projects holds canonical absolute project roots. Stored as a sorted
	// map-to-empty-struct would not survive JSON; a sorted slice with set
	// semantics does.
	Projects []string `json:"projects"`
}

// ProjectManifestPath returns <project>/.pkgrep/manifest.json.
func ProjectManifestPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".pkgrep", "manifest.json")
}

// GlobalRefIndexPath returns <cache_root>/index/project_refs.json.
func GlobalRefIndexPath(cacheRoot string) string {
	return filepath.Join(cacheRoot, "index", "project_refs.json")
}

// RecordLink updates both indexes after a successful pull or hydrate.
func RecordLink(cwd, cacheRoot string, target source.GitPullTarget, materialized *source.MaterializedSource) error {
	depSpec := target.DepSpecString()
	projectRoot := normalizeProjectRoot(cwd)
	linkPath := pathForManifest(cwd, materialized.ProjectLinkPath)

	err := updateProjectManifest(cwd, func(manifest *ProjectManifest) {
		manifest.Entries[depSpec] = ProjectManifestEntry{
			LinkPath: linkPath,
			CacheKey: materialized.CacheKey,
		}
	})
	if err != nil {
		return err
	}

	return updateGlobalRefIndex(cacheRoot, func(index *GlobalRefIndex) {
		entry := index.Entries[materialized.CacheKey]
		entry.DepSpec = depSpec
		entry.CheckoutPath = materialized.CheckoutPath
		entry.Projects = insertSorted(entry.Projects, projectRoot)
		index.Entries[materialized.CacheKey] = entry
	})
}

// RecordUnlink updates both indexes after a link was removed. symlinkTarget
// is the removed link's target when it was a symlink; only targets under the
// cache root's sources directory decrement the global index.
func RecordUnlink(cwd, cacheRoot, removedLinkPath, symlinkTarget string) error {
	removedLink := pathForManifest(cwd, removedLinkPath)
	err := updateProjectManifest(cwd, func(manifest *ProjectManifest) {
		for depSpec, entry := range manifest.Entries {
			if entry.LinkPath == removedLink {
				delete(manifest.Entries, depSpec)
			}
		}
	})
	if err != nil {
		return err
	}

	if symlinkTarget == "" {
		return nil
	}
	cacheKey, ok := cacheKeyFromCheckoutPath(cacheRoot, symlinkTarget)
	if !ok {
		return nil
	}
	projectRoot := normalizeProjectRoot(cwd)

	return updateGlobalRefIndex(cacheRoot, func(index *GlobalRefIndex) {
		entry, exists := index.Entries[cacheKey]
		if !exists {
			return
		}
		entry.Projects = removeSorted(entry.Projects, projectRoot)
		if len(entry.Projects) == 0 {
			delete(index.Entries, cacheKey)
			return
		}
		index.Entries[cacheKey] = entry
	})
}

func updateProjectManifest(projectRoot string, mutate func(*ProjectManifest)) error {
	path := ProjectManifestPath(projectRoot)
	var manifest ProjectManifest
	if err := readJSONOrDefault(path, &manifest); err != nil {
		return err
	}
	ensureProjectManifestDefaults(&manifest)
	mutate(&manifest)
	return writeJSONAtomic(path, &manifest)
}

func updateGlobalRefIndex(cacheRoot string, mutate func(*GlobalRefIndex)) error {
	path := GlobalRefIndexPath(cacheRoot)
	var index GlobalRefIndex
	if err := readJSONOrDefault(path, &index); err != nil {
		return err
	}
	ensureGlobalRefIndexDefaults(&index)
	mutate(&index)
	return writeJSONAtomic(path, &index)
}

func readJSONOrDefault(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read JSON file %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse JSON file %s: %w", path, err)
	}
	return nil
}

func writeJSONAtomic(path string, value any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory %s: %w", filepath.Dir(path), err)
	}

	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize JSON payload: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, payload, 0644); err != nil {
		return fmt.Errorf("failed to write temporary JSON file %s: %w", tempPath, err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to atomically replace JSON file %s: %w", path, err)
	}
	return nil
}

func ensureProjectManifestDefaults(manifest *ProjectManifest) {
	if manifest.SchemaVersion == 0 {
		manifest.SchemaVersion = projectManifestSchemaVersion
	}
	if manifest.Entries == nil {
		manifest.Entries = map[string]ProjectManifestEntry{}
	}
}

func ensureGlobalRefIndexDefaults(index *GlobalRefIndex) {
	if index.SchemaVersion == 0 {
		index.SchemaVersion = globalRefIndexSchemaVersion
	}
	if index.Entries == nil {
		index.Entries = map[string]GlobalRefEntry{}
	}
}

func normalizeProjectRoot(cwd string) string {
	resolved, err := filepath.EvalSymlinks(cwd)
	if err != nil {
		resolved = cwd
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return resolved
	}
	return abs
}

// pathForManifest stores paths relative to the project root when possible.
func pathForManifest(projectRoot, path string) string {
	if rel, err := filepath.Rel(projectRoot, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return path
}

// cacheKeyFromCheckoutPath derives the cache key from a checkout path under
// <cache_root>/sources.
func cacheKeyFromCheckoutPath(cacheRoot, checkoutPath string) (string, bool) {
	sourcesRoot := source.SourcesRoot(cacheRoot)
	rel, err := filepath.Rel(sourcesRoot, checkoutPath)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func insertSorted(values []string, value string) []string {
	for i, existing := range values {
		if existing == value {
			return values
		}
		if existing > value {
			return append(values[:i], append([]string{value}, values[i:]...)...)
		}
	}
	return append(values, value)
}

func removeSorted(values []string, value string) []string {
	for i, existing := range values {
		if existing == value {
			return append(values[:i], values[i+1:]...)
		}
	}
	return values
}
