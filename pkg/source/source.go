// Package source materializes git-backed dependency sources.
//
// Every dependency, whatever its origin (explicit git spec, registry
// metadata, lockfile hint), ends up here as a GitPullTarget. The engine
// keeps one bare mirror per (ecosystem, git URL), fetches only the refs
// needed to resolve the requested revision, and produces an immutable
// detached-HEAD checkout under the content-addressed cache key, linked into
// the project via a symlink.
package source

import (
	"path/filepath"

	"github.com/thomasjiangcy/pkgrep/pkg/depspec"
)

// GitPullTarget is the canonical post-resolution request: everything the
// engine needs to materialize one dependency.
type GitPullTarget struct {
	Ecosystem depspec.Ecosystem
	// Locator keeps the human-facing name: the registry package name for
	// registry-resolved specs, the git URL otherwise.
	Locator string
	// GitURL is always the URL git fetches from.
	GitURL            string
	RequestedRevision string
}

// DepSpecString renders the canonical "git:<url>@<revision>" form used as
// the project manifest key.
func (t GitPullTarget) DepSpecString() string {
	return "git:" + t.GitURL + "@" + t.RequestedRevision
}

// MaterializedSource describes a completed materialization.
type MaterializedSource struct {
	CacheKey string
	// SourceFingerprint is the full commit id the requested revision
	// resolved to in the mirror.
	SourceFingerprint string
	CheckoutPath      string
	ProjectLinkPath   string
	// GitFetchPerformed reports whether this materialization touched the
	// network. False when the revision was already resolvable locally.
	GitFetchPerformed bool
}

// CacheRootFor resolves the cache root for an invocation. A relative
// configured cache dir is anchored at the working directory.
func CacheRootFor(cwd, configuredCacheDir string) string {
	if filepath.IsAbs(configuredCacheDir) {
		return configuredCacheDir
	}
	return filepath.Join(cwd, configuredCacheDir)
}

// SourcesRoot returns the directory all checkouts live under.
func SourcesRoot(cacheRoot string) string {
	return filepath.Join(cacheRoot, "sources")
}

// CheckoutPathFor returns the checkout directory for a cache key.
func CheckoutPathFor(cacheRoot, cacheKey string) string {
	return filepath.Join(SourcesRoot(cacheRoot), filepath.FromSlash(cacheKey))
}

// MaterializeGitSource runs the full pipeline for one target: ensure the
// mirror, resolve the revision to a commit fingerprint, ensure the checkout,
// and link it into the project.
func MaterializeGitSource(cwd, cacheRoot string, target GitPullTarget) (*MaterializedSource, error) {
	mirrorPath := MirrorRepoPath(cacheRoot, target.Ecosystem, target.GitURL)

	mirror, fetchPerformed, err := ensureMirrorRepo(target.GitURL, mirrorPath, target.RequestedRevision)
	if err != nil {
		return nil, err
	}

	fingerprint, err := resolveCommitFingerprint(mirror, target.RequestedRevision)
	if err != nil {
		return nil, err
	}

	cacheKey := depspec.CacheKey(target.Ecosystem, target.Locator, target.RequestedRevision, fingerprint)
	checkoutPath := CheckoutPathFor(cacheRoot, cacheKey)
	if err := ensureCheckoutExists(mirrorPath, checkoutPath, fingerprint); err != nil {
		return nil, err
	}

	projectLinkPath, err := LinkCheckout(cwd, target, checkoutPath)
	if err != nil {
		return nil, err
	}

	return &MaterializedSource{
		CacheKey:          cacheKey,
		SourceFingerprint: fingerprint,
		CheckoutPath:      checkoutPath,
		ProjectLinkPath:   projectLinkPath,
		GitFetchPerformed: fetchPerformed,
	}, nil
}

// LinkCheckout creates (or refreshes) the project symlink for a checkout and
// returns its path.
func LinkCheckout(cwd string, target GitPullTarget, checkoutPath string) (string, error) {
	projectLinkPath := filepath.Join(cwd, depspec.LinkPath(target.Ecosystem, target.Locator, target.RequestedRevision))
	if err := ensureSymlink(checkoutPath, projectLinkPath); err != nil {
		return "", err
	}
	return projectLinkPath, nil
}

// MirrorRepoPath returns the bare mirror location for an ecosystem and git
// URL: <cache_root>/repos/<ecosystem>/<normalized-url>.git.
func MirrorRepoPath(cacheRoot string, ecosystem depspec.Ecosystem, gitURL string) string {
	return filepath.Join(cacheRoot, "repos", ecosystem.String(), depspec.NormalizeLocator(gitURL)+".git")
}
