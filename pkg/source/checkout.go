package source

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	git "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"

	pkgreperrors "github.com/thomasjiangcy/pkgrep/pkg/errors"
)

// ensureCheckoutExists materializes the checkout for a fingerprint. An
// existing directory is reused as-is: checkouts are immutable once created,
// so the same cache key always holds the same tree.
func ensureCheckoutExists(mirrorRepoPath, checkoutPath, sourceFingerprint string) error {
	if info, err := os.Stat(checkoutPath); err == nil {
		if info.IsDir() {
			return nil
		}
		return pkgreperrors.New(pkgreperrors.KindCheckout,
			"cache checkout path exists and is not a directory: %s", checkoutPath)
	}

	if err := os.MkdirAll(checkoutPath, 0755); err != nil {
		return pkgreperrors.Wrap(pkgreperrors.KindCheckout, err,
			"failed to create cache checkout directory %s", checkoutPath)
	}

	if err := cloneMirrorIntoCheckout(mirrorRepoPath, checkoutPath, sourceFingerprint); err != nil {
		// A half-created checkout must not survive: its cache key would
		// otherwise claim content it does not have.
		_ = os.RemoveAll(checkoutPath)
		return err
	}
	return nil
}

// cloneMirrorIntoCheckout creates a full working-tree repository at
// checkoutPath with the mirror as origin, copies the mirror's refs over, and
// detaches HEAD at the fingerprint commit.
func cloneMirrorIntoCheckout(mirrorRepoPath, checkoutPath, sourceFingerprint string) error {
	repo, err := git.PlainInit(checkoutPath, false)
	if err != nil {
		return pkgreperrors.Wrap(pkgreperrors.KindCheckout, err,
			"failed to create cache checkout from %s at %s", mirrorRepoPath, checkoutPath)
	}

	if _, err := repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{mirrorRepoPath},
	}); err != nil {
		return pkgreperrors.Wrap(pkgreperrors.KindCheckout, err,
			"failed to configure mirror remote for checkout at %s", checkoutPath)
	}

	// The mirror lives on the same disk, so this copies every ref and the
	// objects behind them; the targeted-fetch discipline applies only to
	// origin fetches into the mirror.
	err = repo.Fetch(&git.FetchOptions{
		RemoteName: "origin",
		RefSpecs:   []gitconfig.RefSpec{"+refs/*:refs/*"},
		Tags:       git.NoTags,
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return pkgreperrors.Wrap(pkgreperrors.KindCheckout, err,
			"failed to copy mirror refs from %s into %s", mirrorRepoPath, checkoutPath)
	}

	hash := plumbing.NewHash(sourceFingerprint)
	if hash.IsZero() {
		return pkgreperrors.New(pkgreperrors.KindCheckout,
			"resolved source fingerprint is not a valid object id: %s", sourceFingerprint)
	}
	if _, err := repo.CommitObject(hash); err != nil {
		return pkgreperrors.Wrap(pkgreperrors.KindCheckout, err,
			"failed to find commit %s in checkout repo", sourceFingerprint)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return pkgreperrors.Wrap(pkgreperrors.KindCheckout, err,
			"failed to open worktree at %s", checkoutPath)
	}
	// Checkout by hash leaves HEAD detached at exactly that commit.
	if err := worktree.Checkout(&git.CheckoutOptions{Hash: hash, Force: true}); err != nil {
		return pkgreperrors.Wrap(pkgreperrors.KindCheckout, err,
			"failed to checkout commit %s into %s", sourceFingerprint, checkoutPath)
	}

	slog.Debug("materialized checkout",
		"checkout_path", checkoutPath, "source_fingerprint", sourceFingerprint)
	return nil
}

// ensureSymlink makes link point at target. An identical symlink is kept, a
// different symlink or regular file is replaced, and a real directory is
// never touched.
func ensureSymlink(target, link string) error {
	if err := os.MkdirAll(filepath.Dir(link), 0755); err != nil {
		return pkgreperrors.Wrap(pkgreperrors.KindCheckout, err,
			"failed to create project link parent directory %s", filepath.Dir(link))
	}

	info, err := os.Lstat(link)
	switch {
	case err == nil:
		if info.Mode()&fs.ModeSymlink != 0 {
			existingTarget, readErr := os.Readlink(link)
			if readErr != nil {
				return pkgreperrors.Wrap(pkgreperrors.KindCheckout, readErr,
					"failed to read existing symlink at %s", link)
			}
			if existingTarget == target {
				return nil
			}
			if removeErr := os.Remove(link); removeErr != nil {
				return pkgreperrors.Wrap(pkgreperrors.KindCheckout, removeErr,
					"failed to remove existing symlink at %s", link)
			}
		} else if info.Mode().IsRegular() {
			if removeErr := os.Remove(link); removeErr != nil {
				return pkgreperrors.Wrap(pkgreperrors.KindCheckout, removeErr,
					"failed to remove existing file at %s", link)
			}
		} else {
			return pkgreperrors.New(pkgreperrors.KindCheckout,
				"refusing to replace existing directory at %s; expected a symlink", link)
		}
	case errors.Is(err, fs.ErrNotExist):
		// Nothing to replace.
	default:
		return pkgreperrors.Wrap(pkgreperrors.KindCheckout, err,
			"failed to inspect existing path at %s", link)
	}

	if err := os.Symlink(target, link); err != nil {
		return pkgreperrors.Wrap(pkgreperrors.KindCheckout, err,
			"failed to create symlink %s -> %s", link, target)
	}
	return nil
}
