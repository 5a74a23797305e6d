package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/thomasjiangcy/pkgrep/pkg/config"
	"github.com/thomasjiangcy/pkgrep/pkg/depspec"
	pkgreperrors "github.com/thomasjiangcy/pkgrep/pkg/errors"
	"github.com/thomasjiangcy/pkgrep/pkg/index"
	"github.com/thomasjiangcy/pkgrep/pkg/source"
)

func TestCacheClean_RefusesRoot(t *testing.T) {
	cfg := &config.Config{Backend: config.BackendLocal, CacheDir: "/", WorkerPoolSize: 4}

	err := runCacheClean(t.TempDir(), cfg, true)
	if err == nil {
		t.Fatal("expected refusal for cache_dir=/")
	}
	if !strings.Contains(err.Error(), "refusing to clean cache_dir=/") {
		t.Errorf("error = %q", err)
	}
	if !pkgreperrors.IsKind(err, pkgreperrors.KindSafeguardRefusal) {
		t.Error("error is not KindSafeguardRefusal")
	}
}

func TestCacheClean_WithoutYesIsNoOp(t *testing.T) {
	cwd := t.TempDir()
	cfg := localConfig(t)
	if err := os.MkdirAll(cfg.CacheDir, 0755); err != nil {
		t.Fatalf("mkdir cache: %v", err)
	}

	if err := runCacheClean(cwd, cfg, false); err != nil {
		t.Fatalf("runCacheClean() error: %v", err)
	}
	if _, err := os.Stat(cfg.CacheDir); err != nil {
		t.Error("cache dir should survive a no-op clean")
	}
}

func TestCacheClean_DeletesCacheDir(t *testing.T) {
	cwd := t.TempDir()
	cfg := localConfig(t)
	if err := os.MkdirAll(filepath.Join(cfg.CacheDir, "sources"), 0755); err != nil {
		t.Fatalf("mkdir cache: %v", err)
	}

	if err := runCacheClean(cwd, cfg, true); err != nil {
		t.Fatalf("runCacheClean() error: %v", err)
	}
	if _, err := os.Stat(cfg.CacheDir); !os.IsNotExist(err) {
		t.Error("cache dir should be gone")
	}

	// Cleaning a missing dir is still a success.
	if err := runCacheClean(cwd, cfg, true); err != nil {
		t.Fatalf("second runCacheClean() error: %v", err)
	}
}

func TestCacheHydrate_RequiresRemoteBackend(t *testing.T) {
	cwd := t.TempDir()
	cfg := localConfig(t)

	err := runCacheHydrate(cwd, cfg, nil)
	if err == nil {
		t.Fatal("expected backend requirement error")
	}
	if !strings.Contains(err.Error(), "hydrate_requires_remote_backend") {
		t.Errorf("error = %q", err)
	}
	if !pkgreperrors.IsKind(err, pkgreperrors.KindBackendRequirement) {
		t.Error("error is not KindBackendRequirement")
	}
}

// TestPullRemovePruneLifecycle walks the full local lifecycle: pull creates
// one checkout and one mirror, remove drops the link, prune collects both
// and empties the global index.
func TestPullRemovePruneLifecycle(t *testing.T) {
	repoDir, commit := initSourceRepo(t)
	cwd := t.TempDir()
	cfg := localConfig(t)
	spec := "git:" + repoDir + "@" + commit
	cacheRoot := source.CacheRootFor(cwd, cfg.CacheDir)
	sourcesGit := filepath.Join(cacheRoot, "sources", "git")
	reposGit := filepath.Join(cacheRoot, "repos", "git")

	if got := countDirs(t, sourcesGit); got != 0 {
		t.Fatalf("initial checkout count = %d", got)
	}

	if err := runPull(cwd, cfg, []string{spec}); err != nil {
		t.Fatalf("runPull() error: %v", err)
	}
	if got := countDirs(t, sourcesGit); got != 1 {
		t.Errorf("checkout locator count after pull = %d, want 1", got)
	}
	if got := countDirs(t, reposGit); got != 1 {
		t.Errorf("mirror count after pull = %d, want 1", got)
	}

	if err := runRemove(cwd, cfg, []string{spec}, true); err != nil {
		t.Fatalf("runRemove() error: %v", err)
	}
	// Checkout and mirror survive remove; only the link and index entries go.
	if got := countDirs(t, sourcesGit); got != 1 {
		t.Errorf("checkout locator count after remove = %d, want 1", got)
	}

	if err := runCachePrune(cwd, cfg, true); err != nil {
		t.Fatalf("runCachePrune() error: %v", err)
	}
	if got := countDirs(t, sourcesGit); got != 0 {
		t.Errorf("checkout locator count after prune = %d, want 0", got)
	}
	if got := countDirs(t, reposGit); got != 0 {
		t.Errorf("mirror count after prune = %d, want 0", got)
	}

	var globalIndex index.GlobalRefIndex
	data, err := os.ReadFile(index.GlobalRefIndexPath(cacheRoot))
	if err != nil {
		t.Fatalf("global index missing: %v", err)
	}
	if err := json.Unmarshal(data, &globalIndex); err != nil {
		t.Fatalf("global index unparsable: %v", err)
	}
	if len(globalIndex.Entries) != 0 {
		t.Errorf("global index entries = %v, want empty", globalIndex.Entries)
	}
}

func TestCachePrune_WithoutYesListsButKeeps(t *testing.T) {
	repoDir, commit := initSourceRepo(t)
	cwd := t.TempDir()
	cfg := localConfig(t)
	spec := "git:" + repoDir + "@" + commit

	if err := runPull(cwd, cfg, []string{spec}); err != nil {
		t.Fatalf("runPull() error: %v", err)
	}
	if err := runRemove(cwd, cfg, []string{spec}, true); err != nil {
		t.Fatalf("runRemove() error: %v", err)
	}

	// Dry-run prune keeps everything on disk.
	if err := runCachePrune(cwd, cfg, false); err != nil {
		t.Fatalf("runCachePrune() error: %v", err)
	}
	cacheRoot := source.CacheRootFor(cwd, cfg.CacheDir)
	if got := countDirs(t, filepath.Join(cacheRoot, "sources", "git")); got != 1 {
		t.Errorf("checkout locator count after dry-run prune = %d, want 1", got)
	}
}

func TestRemove_WithoutYesIsNoOp(t *testing.T) {
	repoDir, commit := initSourceRepo(t)
	cwd := t.TempDir()
	cfg := localConfig(t)
	spec := "git:" + repoDir + "@" + commit

	if err := runPull(cwd, cfg, []string{spec}); err != nil {
		t.Fatalf("runPull() error: %v", err)
	}
	if err := runRemove(cwd, cfg, []string{spec}, false); err != nil {
		t.Fatalf("runRemove() error: %v", err)
	}

	if _, err := os.Stat(filepath.Join(cwd, ".pkgrep")); err != nil {
		t.Error("links should survive remove without --yes")
	}
}

func TestRemove_DropsManifestEntry(t *testing.T) {
	repoDir, commit := initSourceRepo(t)
	cwd := t.TempDir()
	cfg := localConfig(t)
	spec := "git:" + repoDir + "@" + commit

	if err := runPull(cwd, cfg, []string{spec}); err != nil {
		t.Fatalf("runPull() error: %v", err)
	}
	if err := runRemove(cwd, cfg, []string{spec}, true); err != nil {
		t.Fatalf("runRemove() error: %v", err)
	}

	manifestData, err := os.ReadFile(index.ProjectManifestPath(cwd))
	if err != nil {
		t.Fatalf("manifest missing: %v", err)
	}
	var manifest index.ProjectManifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		t.Fatalf("manifest unparsable: %v", err)
	}
	if len(manifest.Entries) != 0 {
		t.Errorf("manifest entries = %v, want empty", manifest.Entries)
	}
}

func TestRemovalCandidates_VersionlessMatchesAllVersions(t *testing.T) {
	cwd := t.TempDir()
	// Two linked versions of the same locator plus an unrelated neighbor.
	linksDir := filepath.Join(cwd, ".pkgrep", "deps", "npm")
	if err := os.MkdirAll(linksDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, name := range []string{"zod@3.23.8", "zod@3.24.0", "zodiac@1.0.0"} {
		if err := os.WriteFile(filepath.Join(linksDir, name), []byte("x"), 0644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	spec, err := depspec.Parse("npm:zod")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	candidates, err := removalCandidates(cwd, spec)
	if err != nil {
		t.Fatalf("removalCandidates() error: %v", err)
	}
	if len(candidates) != 2 {
		t.Errorf("candidates = %v, want the two zod@ links only", candidates)
	}
	for _, candidate := range candidates {
		if strings.Contains(candidate, "zodiac") {
			t.Errorf("zodiac must not match the zod@ prefix: %v", candidates)
		}
	}
}

func TestRunPath(t *testing.T) {
	repoDir, commit := initSourceRepo(t)
	cwd := t.TempDir()
	cfg := localConfig(t)
	spec := "git:" + repoDir + "@" + commit

	// Before pull: fails with the expected path in the message.
	err := runPath(cwd, spec)
	if err == nil {
		t.Fatal("expected error before pull")
	}
	if !strings.Contains(err.Error(), "dependency is not linked in this project") {
		t.Errorf("error = %q", err)
	}

	if err := runPull(cwd, cfg, []string{spec}); err != nil {
		t.Fatalf("runPull() error: %v", err)
	}
	if err := runPath(cwd, spec); err != nil {
		t.Errorf("runPath() after pull error: %v", err)
	}

	// Registry specs are rejected.
	if err := runPath(cwd, "npm:zod@3.23.8"); err == nil ||
		!strings.Contains(err.Error(), "git-backed dependency specs only") {
		t.Errorf("error = %v", err)
	}
}
