package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gobwas/glob"
	"github.com/spf13/cobra"

	"github.com/thomasjiangcy/pkgrep/pkg/config"
	"github.com/thomasjiangcy/pkgrep/pkg/depspec"
	"github.com/thomasjiangcy/pkgrep/pkg/index"
	"github.com/thomasjiangcy/pkgrep/pkg/source"
)

var removeYesFlag bool

// removeCmd represents the remove command
var removeCmd = &cobra.Command{
	Use:   "remove <spec>...",
	Short: "Remove linked dependency sources from .pkgrep/deps",
	Long: `Remove deletes project links created by pull. A spec with a version
removes that one link; a spec without a version removes every linked
version of the locator. The cached checkouts stay behind until
'cache prune' collects them.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, cfg, err := commandContext()
		if err != nil {
			return err
		}
		return runRemove(cwd, cfg, args, removeYesFlag)
	},
}

func init() {
	removeCmd.Flags().BoolVar(&removeYesFlag, "yes", false, "Required for destructive action")
	rootCmd.AddCommand(removeCmd)
}

func runRemove(cwd string, cfg *config.Config, depSpecs []string, yes bool) error {
	parsed, err := parseDepSpecs(depSpecs)
	if err != nil {
		return err
	}

	if !yes {
		slog.Warn("remove called without --yes; no-op", "dep_spec_count", len(parsed))
		fmt.Printf("No-op: pass --yes to remove linked dependencies under %s/.pkgrep/deps\n", cwd)
		return nil
	}

	slog.Info("remove requested", "dep_spec_count", len(parsed))
	cacheRoot := source.CacheRootFor(cwd, cfg.CacheDir)

	var removed, notFound, skipped int
	for _, spec := range parsed {
		candidates, err := removalCandidates(cwd, spec)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			notFound++
			continue
		}

		for _, candidate := range candidates {
			outcome, symlinkTarget, err := removeLinkCandidate(candidate)
			if err != nil {
				return err
			}
			switch outcome {
			case removeOutcomeRemoved:
				removed++
				if err := index.RecordUnlink(cwd, cacheRoot, candidate, symlinkTarget); err != nil {
					slog.Warn("failed to update local index files after remove",
						"candidate", candidate, "error", err)
				}
			case removeOutcomeNotFound:
				notFound++
			case removeOutcomeSkipped:
				skipped++
			}
		}
	}

	fmt.Printf("Remove completed: removed=%d not_found=%d skipped=%d (non-symlink paths are skipped)\n",
		removed, notFound, skipped)
	return nil
}

// removalCandidates lists the link paths a spec names: exactly one for a
// versioned spec, every matching "<leaf>@*" entry otherwise.
func removalCandidates(cwd string, spec depspec.DepSpec) ([]string, error) {
	if spec.Version != "" {
		return []string{filepath.Join(cwd, depspec.LinkPath(spec.Ecosystem, spec.Locator, spec.Version))}, nil
	}

	prefixPath := filepath.Join(cwd, depspec.LinkPathPrefix(spec.Ecosystem, spec.Locator))
	linksDir := filepath.Dir(prefixPath)
	leafPrefix := filepath.Base(prefixPath)

	entries, err := os.ReadDir(linksDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read link directory %s: %w", linksDir, err)
	}

	matcher, err := glob.Compile(glob.QuoteMeta(leafPrefix) + "*")
	if err != nil {
		return nil, fmt.Errorf("failed to compile link matcher for %s: %w", leafPrefix, err)
	}

	var matches []string
	for _, entry := range entries {
		if matcher.Match(entry.Name()) {
			matches = append(matches, filepath.Join(linksDir, entry.Name()))
		}
	}
	return matches, nil
}

type removeOutcome int

const (
	removeOutcomeRemoved removeOutcome = iota
	removeOutcomeNotFound
	removeOutcomeSkipped
)

// removeLinkCandidate deletes one candidate path. Symlinks report their
// target so the indexes can decrement; real directories are skipped.
func removeLinkCandidate(candidate string) (removeOutcome, string, error) {
	info, err := os.Lstat(candidate)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return removeOutcomeNotFound, "", nil
		}
		return 0, "", fmt.Errorf("failed to inspect candidate path for removal %s: %w", candidate, err)
	}

	if info.Mode()&fs.ModeSymlink != 0 {
		symlinkTarget, _ := os.Readlink(candidate)
		if err := os.Remove(candidate); err != nil {
			return 0, "", fmt.Errorf("failed to remove candidate path %s: %w", candidate, err)
		}
		return removeOutcomeRemoved, symlinkTarget, nil
	}

	if info.Mode().IsRegular() {
		if err := os.Remove(candidate); err != nil {
			return 0, "", fmt.Errorf("failed to remove candidate path %s: %w", candidate, err)
		}
		return removeOutcomeRemoved, "", nil
	}

	slog.Warn("skipping non-symlink directory while removing links", "candidate", candidate)
	return removeOutcomeSkipped, "", nil
}
