package source

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	git "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"

	pkgreperrors "github.com/thomasjiangcy/pkgrep/pkg/errors"
)

// ensureMirrorRepo opens or creates the bare mirror and makes sure the
// requested revision is resolvable in it, fetching from origin only when
// necessary. The bool result reports whether a fetch happened.
func ensureMirrorRepo(gitURL, mirrorRepoPath, requestedRevision string) (*git.Repository, bool, error) {
	if err := os.MkdirAll(filepath.Dir(mirrorRepoPath), 0755); err != nil {
		return nil, false, pkgreperrors.Wrap(pkgreperrors.KindCheckout, err,
			"failed to create mirror repo parent directory %s", filepath.Dir(mirrorRepoPath))
	}

	var repo *git.Repository
	if _, statErr := os.Stat(mirrorRepoPath); statErr == nil {
		opened, err := git.PlainOpen(mirrorRepoPath)
		if err != nil {
			return nil, false, pkgreperrors.Wrap(pkgreperrors.KindCheckout, err,
				"failed to open existing mirror repo at %s", mirrorRepoPath)
		}
		repo = opened
	} else {
		slog.Debug("creating bare mirror repository",
			"git_url", gitURL, "mirror_repo_path", mirrorRepoPath)
		initialized, err := git.PlainInit(mirrorRepoPath, true)
		if err != nil {
			return nil, false, pkgreperrors.Wrap(pkgreperrors.KindCheckout, err,
				"failed to initialize bare mirror repo at %s", mirrorRepoPath)
		}
		if _, err := initialized.CreateRemote(&gitconfig.RemoteConfig{
			Name: "origin",
			URLs: []string{gitURL},
		}); err != nil {
			return nil, false, pkgreperrors.Wrap(pkgreperrors.KindCheckout, err,
				"failed to configure origin remote for %s", gitURL)
		}
		repo = initialized
	}

	fetchPerformed, err := ensureRevisionAvailable(repo, gitURL, requestedRevision)
	if err != nil {
		return nil, false, err
	}
	return repo, fetchPerformed, nil
}

// ensureRevisionAvailable resolves the revision locally first; only when
// that fails does it run the targeted fetch. An already-resolvable revision
// therefore never touches the network.
func ensureRevisionAvailable(repo *git.Repository, gitURL, requestedRevision string) (bool, error) {
	if _, ok := tryResolveCommitFingerprint(repo, requestedRevision); ok {
		slog.Debug("requested revision already present in mirror repo; skipping fetch",
			"requested_revision", requestedRevision)
		return false, nil
	}

	if err := fetchTargetedRevision(repo, gitURL, requestedRevision); err != nil {
		return false, err
	}

	if _, ok := tryResolveCommitFingerprint(repo, requestedRevision); !ok {
		return false, pkgreperrors.New(pkgreperrors.KindGitResolve,
			"requested revision '%s' is unavailable after targeted fetch", requestedRevision)
	}

	return true, nil
}

// fetchTargetedRevision tries the targeted refspec candidates in order. Each
// successful fetch re-checks resolvability before returning; the first
// candidate that makes the revision resolvable wins.
func fetchTargetedRevision(repo *git.Repository, gitURL, requestedRevision string) error {
	remote, err := repo.Remote("origin")
	if err != nil {
		return pkgreperrors.Wrap(pkgreperrors.KindGitFetch, err, "failed to find origin remote in mirror repo")
	}

	remoteURL := gitURL
	if urls := remote.Config().URLs; len(urls) > 0 {
		remoteURL = urls[0]
	}

	refspecs := targetedRefspecs(requestedRevision)
	shallow := supportsShallowFetch(remoteURL)
	slog.Debug("fetching targeted revision from origin",
		"remote_url", remoteURL,
		"requested_revision", requestedRevision,
		"refspecs", refspecs,
		"shallow", shallow)

	var attemptErrors []string
	for _, refspec := range refspecs {
		options := &git.FetchOptions{
			RemoteName: "origin",
			RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec(refspec)},
			// Tag auto-follow is disabled on every fetch; only the refs the
			// refspec names come over.
			Tags: git.NoTags,
		}
		if shallow {
			options.Depth = 1
		}

		err := remote.Fetch(options)
		if err != nil && err != git.NoErrAlreadyUpToDate {
			slog.Debug("targeted fetch attempt failed",
				"remote_url", remoteURL,
				"requested_revision", requestedRevision,
				"refspec", refspec,
				"error", err)
			attemptErrors = append(attemptErrors, "refspec '"+refspec+"': "+err.Error())
			continue
		}

		if _, ok := tryResolveCommitFingerprint(repo, requestedRevision); ok {
			return nil
		}
		slog.Debug("fetch completed but requested revision is still unresolved; trying next refspec",
			"remote_url", remoteURL,
			"requested_revision", requestedRevision,
			"refspec", refspec)
	}

	return pkgreperrors.New(pkgreperrors.KindGitFetch,
		"failed to fetch requested revision '%s' from %s via targeted refspecs [%s]",
		requestedRevision, remoteURL, strings.Join(attemptErrors, "; "))
}

// supportsShallowFetch reports whether the remote is network-like. Local
// path remotes disable shallow fetching.
func supportsShallowFetch(remoteURL string) bool {
	isLocalPath := strings.HasPrefix(remoteURL, "/") ||
		strings.HasPrefix(remoteURL, "./") ||
		strings.HasPrefix(remoteURL, "../") ||
		strings.HasPrefix(remoteURL, "file://")
	return !isLocalPath
}

// targetedRefspecs builds the fetch candidates for a revision. Wildcard
// refspecs are never produced; each candidate names exactly the refs it
// wants.
func targetedRefspecs(requestedRevision string) []string {
	if strings.HasPrefix(requestedRevision, "refs/") {
		return []string{
			requestedRevision + ":" + requestedRevision,
			"+" + requestedRevision + ":" + requestedRevision,
		}
	}

	if looksLikeHexRevision(requestedRevision) {
		return []string{
			requestedRevision + ":refs/pkgrep/requested",
			"HEAD:refs/heads/pkgrep-head",
			"refs/heads/main:refs/heads/main",
			"refs/heads/master:refs/heads/master",
		}
	}

	revisions := []string{requestedRevision}
	if alt, ok := alternateTagRevision(requestedRevision); ok {
		revisions = append(revisions, alt)
	}

	var refspecs []string
	for _, revision := range revisions {
		refspecs = pushUnique(refspecs, "refs/tags/"+revision+":refs/tags/"+revision)
		refspecs = pushUnique(refspecs, "refs/heads/"+revision+":refs/heads/"+revision)
	}
	return refspecs
}

// alternateTagRevision toggles the 'v' prefix on semver-shaped revisions, so
// v1.2.3 also tries 1.2.3 and vice versa.
func alternateTagRevision(requestedRevision string) (string, bool) {
	if !looksLikeSemverRevision(requestedRevision) {
		return "", false
	}

	if stripped, found := strings.CutPrefix(requestedRevision, "v"); found {
		if looksLikePlainSemver(stripped) {
			return stripped, true
		}
		return "", false
	}
	return "v" + requestedRevision, true
}

func looksLikeSemverRevision(requestedRevision string) bool {
	normalized := strings.TrimPrefix(requestedRevision, "v")
	return looksLikePlainSemver(normalized)
}

// looksLikePlainSemver matches N.N.N with an optional -suffix on the patch.
func looksLikePlainSemver(input string) bool {
	parts := strings.Split(input, ".")
	if len(parts) != 3 {
		return false
	}

	if !isASCIIDigits(parts[0]) || !isASCIIDigits(parts[1]) {
		return false
	}

	patchCore := parts[2]
	if idx := strings.Index(patchCore, "-"); idx >= 0 {
		patchCore = patchCore[:idx]
	}
	return patchCore != "" && isASCIIDigits(patchCore)
}

func isASCIIDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return true
}

func pushUnique(out []string, value string) []string {
	for _, existing := range out {
		if existing == value {
			return out
		}
	}
	return append(out, value)
}

func looksLikeHexRevision(requestedRevision string) bool {
	if len(requestedRevision) < 7 {
		return false
	}
	for _, ch := range requestedRevision {
		isHex := ch >= '0' && ch <= '9' || ch >= 'a' && ch <= 'f' || ch >= 'A' && ch <= 'F'
		if !isHex {
			return false
		}
	}
	return true
}

// tryResolveCommitFingerprint resolves a revision (or its semver-toggled
// variant) to a commit id in the repo.
func tryResolveCommitFingerprint(repo *git.Repository, requestedRevision string) (string, bool) {
	for _, revision := range revisionCandidates(requestedRevision) {
		hash, err := repo.ResolveRevision(plumbing.Revision(revision))
		if err != nil || hash == nil {
			continue
		}
		// ResolveRevision peels annotated tags; make sure what we got is a
		// commit before trusting it as a fingerprint.
		if _, err := repo.CommitObject(*hash); err != nil {
			continue
		}
		return hash.String(), true
	}
	return "", false
}

func resolveCommitFingerprint(repo *git.Repository, requestedRevision string) (string, error) {
	fingerprint, ok := tryResolveCommitFingerprint(repo, requestedRevision)
	if !ok {
		return "", pkgreperrors.New(pkgreperrors.KindGitResolve,
			"failed to resolve git revision '%s' to a commit", requestedRevision)
	}
	return fingerprint, nil
}

func revisionCandidates(requestedRevision string) []string {
	out := []string{requestedRevision}
	if alt, ok := alternateTagRevision(requestedRevision); ok {
		out = append(out, alt)
	}
	return out
}
