package cmd

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thomasjiangcy/pkgrep/pkg/config"
	"github.com/thomasjiangcy/pkgrep/pkg/depspec"
	pkgreperrors "github.com/thomasjiangcy/pkgrep/pkg/errors"
	"github.com/thomasjiangcy/pkgrep/pkg/index"
	"github.com/thomasjiangcy/pkgrep/pkg/providers"
	"github.com/thomasjiangcy/pkgrep/pkg/registry"
	"github.com/thomasjiangcy/pkgrep/pkg/remotecache"
	"github.com/thomasjiangcy/pkgrep/pkg/source"
)

// pullCmd represents the pull command
var pullCmd = &cobra.Command{
	Use:   "pull [spec...]",
	Short: "Pull dependency source code into cache and link into the project",
	Long: `Pull materializes dependency sources as pinned git checkouts and links
each one into the project under .pkgrep/deps.

Specs:
  git:https://github.com/org/repo.git@<rev>
  git:https://github.com/org/repo.git#<rev>   (useful when rev contains '@')
  npm:zod@<version>
  pypi:requests@<version>
  zod@<version>   (implicit scheme when a single supported lockfile ecosystem is detected)

With no specs, the project lockfiles (package-lock.json, uv.lock) are read
and every git-backed dependency they pin is pulled.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, cfg, err := commandContext()
		if err != nil {
			return err
		}
		return runPull(cwd, cfg, args)
	},
}

func init() {
	rootCmd.AddCommand(pullCmd)
}

// pullResolution is the resolved target list plus lockfile discovery
// counters for the no-op messages.
type pullResolution struct {
	targets                   []source.GitPullTarget
	discoveredLockfiles       int
	discoveredDependencies    int
	skippedNonGitDependencies int
}

func runPull(cwd string, cfg *config.Config, depSpecs []string) error {
	resolved, err := resolvePullResolution(cwd, depSpecs)
	if err != nil {
		return err
	}

	if len(depSpecs) == 0 {
		if resolved.discoveredLockfiles == 0 {
			slog.Warn("pull called without explicit dep specs and no supported lockfiles were detected", "cwd", cwd)
			fmt.Printf("No-op: no dep specs provided and no supported project lockfiles found in %s\n", cwd)
			return nil
		}
		if len(resolved.targets) == 0 {
			slog.Warn("supported lockfiles were found, but no git-backed dependencies were available",
				"discovered_lockfiles", resolved.discoveredLockfiles,
				"discovered_dependencies", resolved.discoveredDependencies,
				"skipped_non_git_dependencies", resolved.skippedNonGitDependencies)
			fmt.Printf("No-op: detected %d dependency entries from %d lockfile(s), but none had git source hints (git-only mode).\n",
				resolved.discoveredDependencies, resolved.discoveredLockfiles)
			return nil
		}
	}

	slog.Info("pull requested",
		"dep_spec_count", len(depSpecs),
		"pull_target_count", len(resolved.targets),
		"discovered_lockfiles", resolved.discoveredLockfiles,
		"discovered_dependencies", resolved.discoveredDependencies,
		"skipped_non_git_dependencies", resolved.skippedNonGitDependencies)

	remoteClient, err := remotecache.NewClient(cfg)
	if err != nil {
		return err
	}
	cacheRoot := source.CacheRootFor(cwd, cfg.CacheDir)

	var hydratedFromRemote, resolvedViaGit, fetchedFromGit, publishedToRemote int
	totalTargets := len(resolved.targets)

	for i, target := range resolved.targets {
		fmt.Printf("[%d/%d] pull %s@%s\n", i+1, totalTargets, target.GitURL, target.RequestedRevision)

		var materialized *source.MaterializedSource
		if remoteClient != nil {
			fmt.Println("  -> checking remote cache")
			result, err := remoteClient.HydrateGitSource(cwd, cacheRoot, target)
			if err != nil {
				return fmt.Errorf("failed to hydrate git source %s@%s from remote cache: %w",
					target.GitURL, target.RequestedRevision, err)
			}

			if result.Status == remotecache.HydrateNotFound {
				fmt.Println("  -> remote cache miss; resolving via local git mirror")
				materialized, err = materializeViaGit(cwd, cacheRoot, target, &resolvedViaGit, &fetchedFromGit)
				if err != nil {
					return err
				}
				if publishErr := remoteClient.PublishGitSource(target, materialized); publishErr != nil {
					slog.Warn("failed to publish source to remote cache after git fetch",
						"git_url", target.GitURL,
						"requested_revision", target.RequestedRevision,
						"error", publishErr)
					fmt.Println("  -> warning: publish to remote cache failed")
				} else {
					publishedToRemote++
					fmt.Println("  -> published to remote cache")
				}
			} else {
				hydratedFromRemote++
				materialized = result.Materialized
				fmt.Println("  -> hydrated from remote cache")
			}
		} else {
			fmt.Println("  -> resolving via local git mirror")
			materialized, err = materializeViaGit(cwd, cacheRoot, target, &resolvedViaGit, &fetchedFromGit)
			if err != nil {
				return err
			}
		}

		if err := index.RecordLink(cwd, cacheRoot, target, materialized); err != nil {
			slog.Warn("failed to update local index files after link",
				"git_url", target.GitURL,
				"requested_revision", target.RequestedRevision,
				"error", err)
		}
		fmt.Printf("  -> linked %s\n", materialized.ProjectLinkPath)

		slog.Info("materialized git source and linked into project",
			"git_url", target.GitURL,
			"requested_revision", target.RequestedRevision,
			"source_fingerprint", materialized.SourceFingerprint,
			"cache_key", materialized.CacheKey,
			"checkout_path", materialized.CheckoutPath,
			"link_path", materialized.ProjectLinkPath)
	}

	fmt.Printf("Pull completed: total=%d hydrated_from_remote=%d resolved_via_git=%d fetched_from_git=%d published_to_remote=%d\n",
		totalTargets, hydratedFromRemote, resolvedViaGit, fetchedFromGit, publishedToRemote)
	return nil
}

func materializeViaGit(cwd, cacheRoot string, target source.GitPullTarget, resolvedViaGit, fetchedFromGit *int) (*source.MaterializedSource, error) {
	materialized, err := source.MaterializeGitSource(cwd, cacheRoot, target)
	if err != nil {
		return nil, fmt.Errorf("failed to materialize git source %s@%s: %w",
			target.GitURL, target.RequestedRevision, err)
	}
	*resolvedViaGit++
	if materialized.GitFetchPerformed {
		*fetchedFromGit++
		fmt.Println("  -> fetched requested revision from origin")
	} else {
		fmt.Println("  -> reused requested revision from local mirror")
	}
	return materialized, nil
}

// resolvePullResolution resolves targets either from explicit specs or, when
// none are given, from the project lockfiles.
func resolvePullResolution(cwd string, depSpecs []string) (*pullResolution, error) {
	if len(depSpecs) == 0 {
		return resolvePullTargetsFromProject(cwd)
	}
	targets, err := resolvePullTargetsFromSpecs(cwd, depSpecs)
	if err != nil {
		return nil, err
	}
	return &pullResolution{targets: targets}, nil
}

func resolvePullTargetsFromSpecs(cwd string, depSpecs []string) ([]source.GitPullTarget, error) {
	normalized, err := normalizeExplicitDepSpecsForPull(cwd, depSpecs)
	if err != nil {
		return nil, err
	}
	parsed, err := parseDepSpecs(normalized)
	if err != nil {
		return nil, err
	}

	var targets []source.GitPullTarget
	for _, spec := range parsed {
		switch spec.Kind {
		case depspec.SourceGit:
			targets = append(targets, source.GitPullTarget{
				Ecosystem:         spec.Ecosystem,
				Locator:           spec.GitURL,
				GitURL:            spec.GitURL,
				RequestedRevision: spec.RequestedRevision,
			})
		case depspec.SourceRegistry:
			specLabel := spec.Ecosystem.String() + ":" + spec.Locator
			if spec.Version != "" {
				specLabel += "@" + spec.Version
			}
			fmt.Printf("resolving package metadata for %s\n", specLabel)
			resolution, err := registry.ResolveRegistrySpec(spec)
			if err != nil {
				return nil, err
			}
			fmt.Printf("  -> resolved to %s@%s (package version %s)\n",
				resolution.Target.GitURL, resolution.Target.RequestedRevision, resolution.PackageVersion)
			targets = append(targets, resolution.Target)
		}
	}

	return deduplicatePullTargets(targets), nil
}

// normalizeExplicitDepSpecsForPull rewrites implicit specs (no scheme) with
// the single lockfile-inferred ecosystem.
func normalizeExplicitDepSpecsForPull(cwd string, depSpecs []string) ([]string, error) {
	hasImplicit := false
	for _, spec := range depSpecs {
		if !hasExplicitScheme(spec) {
			hasImplicit = true
			break
		}
	}
	if !hasImplicit {
		return depSpecs, nil
	}

	inferred, err := inferDefaultRegistryEcosystem(cwd)
	if err != nil {
		return nil, err
	}

	normalized := make([]string, 0, len(depSpecs))
	for _, spec := range depSpecs {
		if hasExplicitScheme(spec) {
			normalized = append(normalized, spec)
			continue
		}
		rewritten := inferred.String() + ":" + spec
		fmt.Printf("inferred shorthand '%s' as '%s'\n", spec, rewritten)
		normalized = append(normalized, rewritten)
	}
	return normalized, nil
}

func hasExplicitScheme(spec string) bool {
	return strings.Contains(spec, ":")
}

func inferDefaultRegistryEcosystem(cwd string) (depspec.Ecosystem, error) {
	inputs := providers.DetectSupportedProjectFiles(cwd)
	if len(inputs) == 0 {
		return "", pkgreperrors.New(pkgreperrors.KindSpecParse,
			"cannot infer shorthand dependency ecosystem in %s: no supported lockfiles detected; use explicit specs such as 'npm:<name>' or 'pypi:<name>'", cwd)
	}

	ecosystems := map[depspec.Ecosystem]bool{}
	lockfiles := map[string]bool{}
	for _, input := range inputs {
		ecosystems[input.Kind.Ecosystem()] = true
		lockfiles[filepath.Base(input.Path)] = true
	}

	if len(ecosystems) != 1 {
		return "", pkgreperrors.New(pkgreperrors.KindSpecParse,
			"cannot infer shorthand dependency ecosystem in %s: multiple supported lockfile ecosystems detected (%s) via [%s]; use explicit specs such as 'npm:<name>' or 'pypi:<name>'",
			cwd, joinSortedEcosystems(ecosystems), joinSortedKeys(lockfiles))
	}

	for ecosystem := range ecosystems {
		return ecosystem, nil
	}
	return "", fmt.Errorf("failed to infer shorthand dependency ecosystem")
}

func resolvePullTargetsFromProject(cwd string) (*pullResolution, error) {
	inputs := providers.DetectSupportedProjectFiles(cwd)
	resolution := &pullResolution{discoveredLockfiles: len(inputs)}
	if len(inputs) == 0 {
		return resolution, nil
	}

	var targets []source.GitPullTarget
	for _, input := range inputs {
		deps, err := providers.ParseProviderInput(input)
		if err != nil {
			return nil, fmt.Errorf("failed to parse project provider input at %s: %w", input.Path, err)
		}
		for _, dep := range deps {
			resolution.discoveredDependencies++
			if dep.GitHint == nil {
				resolution.skippedNonGitDependencies++
				continue
			}
			targets = append(targets, source.GitPullTarget{
				Ecosystem:         dep.Ecosystem,
				Locator:           dep.GitHint.URL,
				GitURL:            dep.GitHint.URL,
				RequestedRevision: dep.GitHint.RequestedRevision,
			})
		}
	}

	resolution.targets = deduplicatePullTargets(targets)
	return resolution, nil
}

// deduplicatePullTargets keeps the first occurrence of each
// (ecosystem, git URL, revision) triple, preserving input order.
func deduplicatePullTargets(targets []source.GitPullTarget) []source.GitPullTarget {
	seen := map[string]bool{}
	var deduped []source.GitPullTarget
	for _, target := range targets {
		key := target.Ecosystem.String() + "||" + target.GitURL + "||" + target.RequestedRevision
		if seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, target)
	}
	return deduped
}

func parseDepSpecs(depSpecs []string) ([]depspec.DepSpec, error) {
	parsed := make([]depspec.DepSpec, 0, len(depSpecs))
	for _, raw := range depSpecs {
		spec, err := depspec.Parse(raw)
		if err != nil {
			return nil, &pkgreperrors.TypedError{Kind: pkgreperrors.KindSpecParse, Err: err}
		}
		parsed = append(parsed, spec)
	}
	return parsed, nil
}

func joinSortedEcosystems(set map[depspec.Ecosystem]bool) string {
	values := make([]string, 0, len(set))
	for ecosystem := range set {
		values = append(values, ecosystem.String())
	}
	sort.Strings(values)
	return strings.Join(values, ", ")
}

func joinSortedKeys(set map[string]bool) string {
	values := make([]string, 0, len(set))
	for key := range set {
		values = append(values, key)
	}
	sort.Strings(values)
	return strings.Join(values, ", ")
}
