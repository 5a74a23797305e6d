package index

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/thomasjiangcy/pkgrep/pkg/source"
)

// MirrorRef identifies one bare mirror: ecosystem plus normalized locator.
type MirrorRef struct {
	Ecosystem         string
	NormalizedLocator string
}

// ReconcileResult reports what reconciliation changed and which cache
// entries are still live.
type ReconcileResult struct {
	StaleProjectReferencesRemoved int
	EmptyEntriesRemoved           int
	IndexUpdated                  bool
	LiveCacheKeys                 map[string]bool
	LiveMirrorRefs                map[MirrorRef]bool
}

// ReconcileGlobalIndex cross-checks the global index against each referenced
// project's manifest, drops references the manifests no longer carry, and
// rewrites the index if anything changed.
func ReconcileGlobalIndex(cacheRoot string) (*ReconcileResult, error) {
	path := GlobalRefIndexPath(cacheRoot)
	var index GlobalRefIndex
	if err := readJSONOrDefault(path, &index); err != nil {
		return nil, err
	}
	ensureGlobalRefIndexDefaults(&index)

	// Each project manifest is loaded once and memoized, however many cache
	// keys reference the project.
	projectCacheKeys := map[string]map[string]bool{}
	loadKeys := func(projectRoot string) map[string]bool {
		if keys, ok := projectCacheKeys[projectRoot]; ok {
			return keys
		}
		keys := loadProjectCacheKeys(projectRoot)
		projectCacheKeys[projectRoot] = keys
		return keys
	}

	result := &ReconcileResult{
		LiveCacheKeys:  map[string]bool{},
		LiveMirrorRefs: map[MirrorRef]bool{},
	}

	for cacheKey, entry := range index.Entries {
		kept := entry.Projects[:0:0]
		for _, projectRoot := range entry.Projects {
			if keys := loadKeys(projectRoot); keys != nil && keys[cacheKey] {
				kept = append(kept, projectRoot)
			}
		}

		result.StaleProjectReferencesRemoved += len(entry.Projects) - len(kept)
		if len(kept) != len(entry.Projects) {
			result.IndexUpdated = true
		}

		if len(kept) == 0 {
			delete(index.Entries, cacheKey)
			result.EmptyEntriesRemoved++
			result.IndexUpdated = true
			continue
		}
		entry.Projects = kept
		index.Entries[cacheKey] = entry
	}

	if result.IndexUpdated {
		if err := writeJSONAtomic(path, &index); err != nil {
			return nil, err
		}
	}

	for cacheKey := range index.Entries {
		result.LiveCacheKeys[cacheKey] = true
		if ref, ok := mirrorRefFromCacheKey(cacheKey); ok {
			result.LiveMirrorRefs[ref] = true
		}
	}

	return result, nil
}

// loadProjectCacheKeys returns the cache keys a project manifest references,
// or nil when the manifest is missing or unreadable (an unreadable project
// keeps no references alive).
func loadProjectCacheKeys(projectRoot string) map[string]bool {
	var manifest ProjectManifest
	data, err := os.ReadFile(ProjectManifestPath(projectRoot))
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil
	}

	keys := map[string]bool{}
	for _, entry := range manifest.Entries {
		keys[entry.CacheKey] = true
	}
	return keys
}

func mirrorRefFromCacheKey(cacheKey string) (MirrorRef, bool) {
	parts := strings.SplitN(cacheKey, "/", 3)
	if len(parts) < 2 {
		return MirrorRef{}, false
	}
	ecosystem := strings.TrimSpace(parts[0])
	normalizedLocator := strings.TrimSpace(parts[1])
	if ecosystem == "" || normalizedLocator == "" {
		return MirrorRef{}, false
	}
	return MirrorRef{Ecosystem: ecosystem, NormalizedLocator: normalizedLocator}, true
}

// PrunableCheckout is an on-disk checkout no live cache key claims.
type PrunableCheckout struct {
	Path     string
	CacheKey string
}

// PrunableMirror is an on-disk mirror no live cache key claims.
type PrunableMirror struct {
	Path              string
	Ecosystem         string
	NormalizedLocator string
}

// CollectPrunableCheckouts walks <cache_root>/sources for directories
// containing a .git child and reports those whose cache key is not live.
func CollectPrunableCheckouts(cacheRoot string, liveCacheKeys map[string]bool) ([]PrunableCheckout, error) {
	sourcesRoot := source.SourcesRoot(cacheRoot)
	var checkoutPaths []string
	if err := collectCheckoutDirs(sourcesRoot, &checkoutPaths); err != nil {
		return nil, err
	}

	var candidates []PrunableCheckout
	for _, path := range checkoutPaths {
		cacheKey, ok := cacheKeyFromCheckoutPath(cacheRoot, path)
		if !ok {
			continue
		}
		if !liveCacheKeys[cacheKey] {
			candidates = append(candidates, PrunableCheckout{Path: path, CacheKey: cacheKey})
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Path < candidates[j].Path })
	return candidates, nil
}

func collectCheckoutDirs(root string, out *[]string) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(root, entry.Name())
		if _, err := os.Stat(filepath.Join(path, ".git")); err == nil {
			*out = append(*out, path)
			continue
		}
		if err := collectCheckoutDirs(path, out); err != nil {
			return err
		}
	}
	return nil
}

// CollectPrunableMirrors walks <cache_root>/repos/<ecosystem>/<name>.git and
// reports mirrors whose (ecosystem, locator) pair is not live.
func CollectPrunableMirrors(cacheRoot string, liveMirrorRefs map[MirrorRef]bool) ([]PrunableMirror, error) {
	reposRoot := filepath.Join(cacheRoot, "repos")
	ecosystems, err := os.ReadDir(reposRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var candidates []PrunableMirror
	for _, ecosystemEntry := range ecosystems {
		if !ecosystemEntry.IsDir() {
			continue
		}
		ecosystem := ecosystemEntry.Name()
		ecosystemPath := filepath.Join(reposRoot, ecosystem)

		mirrors, err := os.ReadDir(ecosystemPath)
		if err != nil {
			return nil, err
		}
		for _, mirrorEntry := range mirrors {
			if !mirrorEntry.IsDir() {
				continue
			}
			normalizedLocator, found := strings.CutSuffix(mirrorEntry.Name(), ".git")
			if !found {
				continue
			}

			ref := MirrorRef{Ecosystem: ecosystem, NormalizedLocator: normalizedLocator}
			if !liveMirrorRefs[ref] {
				candidates = append(candidates, PrunableMirror{
					Path:              filepath.Join(ecosystemPath, mirrorEntry.Name()),
					Ecosystem:         ecosystem,
					NormalizedLocator: normalizedLocator,
				})
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Path < candidates[j].Path })
	return candidates, nil
}
