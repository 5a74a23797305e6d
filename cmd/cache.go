package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thomasjiangcy/pkgrep/pkg/config"
	"github.com/thomasjiangcy/pkgrep/pkg/depspec"
	pkgreperrors "github.com/thomasjiangcy/pkgrep/pkg/errors"
	"github.com/thomasjiangcy/pkgrep/pkg/index"
	"github.com/thomasjiangcy/pkgrep/pkg/output"
	"github.com/thomasjiangcy/pkgrep/pkg/remotecache"
	"github.com/thomasjiangcy/pkgrep/pkg/source"
)

var (
	cacheCleanYesFlag bool
	cachePruneYesFlag bool
)

// cacheCmd represents the cache command
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Cache operations",
}

var cacheHydrateCmd = &cobra.Command{
	Use:   "hydrate [spec...]",
	Short: "Hydrate local cache entries from remote object store cache",
	Long: `Hydrate restores checkouts from the remote object store instead of
fetching from git. Requires backend=s3 or backend=azure_blob. With no
specs, the project lockfiles are read the same way pull reads them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, cfg, err := commandContext()
		if err != nil {
			return err
		}
		return runCacheHydrate(cwd, cfg, args)
	},
}

var cacheCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean local cache entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, cfg, err := commandContext()
		if err != nil {
			return err
		}
		return runCacheClean(cwd, cfg, cacheCleanYesFlag)
	},
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Prune unreferenced cached checkouts and mirrors",
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, cfg, err := commandContext()
		if err != nil {
			return err
		}
		return runCachePrune(cwd, cfg, cachePruneYesFlag)
	},
}

func init() {
	cacheCleanCmd.Flags().BoolVar(&cacheCleanYesFlag, "yes", false, "Required for destructive action")
	cachePruneCmd.Flags().BoolVar(&cachePruneYesFlag, "yes", false, "Required for destructive action")
	cacheCmd.AddCommand(cacheHydrateCmd)
	cacheCmd.AddCommand(cacheCleanCmd)
	cacheCmd.AddCommand(cachePruneCmd)
	rootCmd.AddCommand(cacheCmd)
}

func runCacheHydrate(cwd string, cfg *config.Config, depSpecs []string) error {
	if !cfg.Backend.IsRemote() {
		return pkgreperrors.New(pkgreperrors.KindBackendRequirement,
			"hydrate_requires_remote_backend: cache hydrate requires backend=s3 or backend=azure_blob")
	}

	resolved, err := resolvePullResolution(cwd, depSpecs)
	if err != nil {
		return err
	}

	if len(depSpecs) == 0 {
		if resolved.discoveredLockfiles == 0 {
			fmt.Printf("No-op: no dep specs provided and no supported project lockfiles found in %s\n", cwd)
			return nil
		}
		if len(resolved.targets) == 0 {
			fmt.Printf("No-op: detected %d dependency entries from %d lockfile(s), but none had git source hints (git-only mode).\n",
				resolved.discoveredDependencies, resolved.discoveredLockfiles)
			return nil
		}
	}

	slog.Info("cache hydrate requested",
		"dep_spec_count", len(depSpecs),
		"hydrate_target_count", len(resolved.targets))

	client, err := remotecache.NewClient(cfg)
	if err != nil {
		return err
	}
	if client == nil {
		return fmt.Errorf("remote backend client initialization failed")
	}
	cacheRoot := source.CacheRootFor(cwd, cfg.CacheDir)

	var hydratedCount, alreadyPresentCount, notFoundCount int
	totalTargets := len(resolved.targets)

	for i, target := range resolved.targets {
		fmt.Printf("[%d/%d] hydrate %s@%s\n", i+1, totalTargets, target.GitURL, target.RequestedRevision)

		result, err := client.HydrateGitSource(cwd, cacheRoot, target)
		if err != nil {
			return fmt.Errorf("failed to hydrate git source %s@%s: %w",
				target.GitURL, target.RequestedRevision, err)
		}

		switch result.Status {
		case remotecache.Hydrated:
			hydratedCount++
			recordHydrateLink(cwd, cacheRoot, target, result.Materialized)
			fmt.Printf("  -> hydrated and linked %s\n", result.Materialized.ProjectLinkPath)
		case remotecache.HydrateAlreadyPresent:
			alreadyPresentCount++
			recordHydrateLink(cwd, cacheRoot, target, result.Materialized)
			fmt.Printf("  -> already present locally; refreshed link %s\n", result.Materialized.ProjectLinkPath)
		case remotecache.HydrateNotFound:
			notFoundCount++
			fmt.Println("  -> not found in remote cache")
			slog.Warn("dependency source not found in remote cache",
				"git_url", target.GitURL, "requested_revision", target.RequestedRevision)
		}
	}

	fmt.Printf("Hydrate completed: total=%d hydrated=%d already_present=%d not_found=%d\n",
		totalTargets, hydratedCount, alreadyPresentCount, notFoundCount)
	return nil
}

func recordHydrateLink(cwd, cacheRoot string, target source.GitPullTarget, materialized *source.MaterializedSource) {
	if err := index.RecordLink(cwd, cacheRoot, target, materialized); err != nil {
		slog.Warn("failed to update local index files after hydrate",
			"git_url", target.GitURL,
			"requested_revision", target.RequestedRevision,
			"error", err)
	}
}

func runCacheClean(cwd string, cfg *config.Config, yes bool) error {
	cacheDir := source.CacheRootFor(cwd, cfg.CacheDir)

	if !yes {
		slog.Warn("cache clean called without --yes; no-op", "cache_dir", cacheDir)
		fmt.Printf("No-op: pass --yes to clean local cache at %s\n", cacheDir)
		return nil
	}

	if cacheDir == "/" {
		return pkgreperrors.New(pkgreperrors.KindSafeguardRefusal, "refusing to clean cache_dir=/")
	}

	slog.Info("cache clean requested", "cache_dir", cacheDir)

	err := os.RemoveAll(cacheDir)
	if err != nil {
		return fmt.Errorf("failed to clean local cache directory %s: %w", cacheDir, err)
	}
	fmt.Printf("Cleaned local cache at %s\n", cacheDir)
	return nil
}

func runCachePrune(cwd string, cfg *config.Config, yes bool) error {
	cacheRoot := source.CacheRootFor(cwd, cfg.CacheDir)
	if cacheRoot == "/" {
		return pkgreperrors.New(pkgreperrors.KindSafeguardRefusal, "refusing to prune cache_dir=/")
	}

	slog.Info("cache prune requested", "cache_dir", cacheRoot, "dry_run", !yes)

	reconcile, err := index.ReconcileGlobalIndex(cacheRoot)
	if err != nil {
		return fmt.Errorf("failed to reconcile global ref index under %s: %w", cacheRoot, err)
	}

	checkoutCandidates, err := index.CollectPrunableCheckouts(cacheRoot, reconcile.LiveCacheKeys)
	if err != nil {
		return fmt.Errorf("failed to scan prunable checkouts under %s: %w", cacheRoot, err)
	}
	mirrorCandidates, err := index.CollectPrunableMirrors(cacheRoot, reconcile.LiveMirrorRefs)
	if err != nil {
		return fmt.Errorf("failed to scan prunable mirrors under %s: %w", cacheRoot, err)
	}

	fmt.Printf("Prune scan: stale_project_refs_removed=%d stale_index_entries_removed=%d index_updated=%v checkout_candidates=%d mirror_candidates=%d\n",
		reconcile.StaleProjectReferencesRemoved,
		reconcile.EmptyEntriesRemoved,
		reconcile.IndexUpdated,
		len(checkoutCandidates),
		len(mirrorCandidates))

	if err := renderPruneCandidates(checkoutCandidates, mirrorCandidates); err != nil {
		return err
	}

	if !yes {
		fmt.Printf("No-op: pass --yes to prune local cache entries under %s\n", cacheRoot)
		return nil
	}

	removedCheckouts, err := removeCandidateDirs(pruneCandidatePaths(checkoutCandidates))
	if err != nil {
		return err
	}
	// Drop the revision, locator and ecosystem directories a removed checkout
	// leaves empty; the walk stops at the first non-empty parent.
	sourcesRoot := source.SourcesRoot(cacheRoot)
	for _, candidate := range checkoutCandidates {
		for dir := filepath.Dir(candidate.Path); strings.HasPrefix(dir, sourcesRoot+string(filepath.Separator)); dir = filepath.Dir(dir) {
			if os.Remove(dir) != nil {
				break
			}
		}
	}
	removedMirrors, err := removeCandidateDirs(prunableMirrorPaths(mirrorCandidates))
	if err != nil {
		return err
	}

	fmt.Printf("Prune completed: removed_checkouts=%d removed_mirrors=%d retained_checkouts=%d retained_mirrors=%d\n",
		removedCheckouts, removedMirrors,
		len(checkoutCandidates)-removedCheckouts,
		len(mirrorCandidates)-removedMirrors)
	return nil
}

// renderPruneCandidates lists the candidates with their human-readable
// identity recovered from the normalized locator.
func renderPruneCandidates(checkouts []index.PrunableCheckout, mirrors []index.PrunableMirror) error {
	table := output.NewTable("TYPE", "DEPENDENCY", "PATH")
	for _, candidate := range checkouts {
		table.AddRow("checkout", describeCheckoutCandidate(candidate), candidate.Path)
	}
	for _, candidate := range mirrors {
		table.AddRow("mirror", describeMirrorCandidate(candidate), candidate.Path)
	}
	return table.Render(os.Stdout)
}

func describeCheckoutCandidate(candidate index.PrunableCheckout) string {
	parts := strings.Split(candidate.CacheKey, "/")
	if len(parts) < 4 {
		return candidate.CacheKey
	}

	ecosystem := parts[0]
	locator := parts[1]
	if raw, ok := depspec.DenormalizeLocator(locator); ok {
		locator = raw
	}
	fingerprint := parts[len(parts)-1]
	revision := strings.Join(parts[2:len(parts)-1], "/")

	return fmt.Sprintf("%s:%s@%s (%s)", ecosystem, locator, revision, fingerprint)
}

func describeMirrorCandidate(candidate index.PrunableMirror) string {
	locator := candidate.NormalizedLocator
	if raw, ok := depspec.DenormalizeLocator(locator); ok {
		locator = raw
	}
	return candidate.Ecosystem + ":" + locator
}

func removeCandidateDirs(paths []string) (int, error) {
	removed := 0
	for _, path := range paths {
		if _, err := os.Lstat(path); os.IsNotExist(err) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			return removed, fmt.Errorf("failed to remove prunable cache entry %s: %w", path, err)
		}
		removed++
	}
	return removed, nil
}

func pruneCandidatePaths(candidates []index.PrunableCheckout) []string {
	paths := make([]string, len(candidates))
	for i, candidate := range candidates {
		paths[i] = candidate.Path
	}
	return paths
}

func prunableMirrorPaths(candidates []index.PrunableMirror) []string {
	paths := make([]string, len(candidates))
	for i, candidate := range candidates {
		paths[i] = candidate.Path
	}
	return paths
}

