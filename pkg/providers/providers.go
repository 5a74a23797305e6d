// Package providers reads project lockfiles and emits normalized
// dependencies. A provider never resolves anything over the network; it only
// reports what the lockfile pins, including git source hints when the
// lockfile carries them.
package providers

import (
	"os"
	"path/filepath"

	"github.com/thomasjiangcy/pkgrep/pkg/depspec"
)

const (
	packageLockFileName = "package-lock.json"
	uvLockFileName      = "uv.lock"
)

// Kind identifies a supported lockfile format.
type Kind int

const (
	NpmPackageLock Kind = iota
	PythonUvLock
)

// Ecosystem returns the registry ecosystem a provider kind belongs to.
func (k Kind) Ecosystem() depspec.Ecosystem {
	switch k {
	case NpmPackageLock:
		return depspec.Npm
	case PythonUvLock:
		return depspec.Pypi
	default:
		return ""
	}
}

// InputMatch is a detected lockfile in a project root.
type InputMatch struct {
	Kind Kind
	Path string
}

// GitSourceHint is a git URL and pinned revision a lockfile recorded for a
// dependency.
type GitSourceHint struct {
	URL               string
	RequestedRevision string
}

// NormalizedDependency is one dependency entry from a lockfile. GitHint is
// the only field the pull pipeline consumes; entries without one are counted
// and skipped in lockfile-only mode.
type NormalizedDependency struct {
	Ecosystem     depspec.Ecosystem
	Name          string
	Version       string
	GitHint       *GitSourceHint
	RepositoryURL string
}

// DetectSupportedProjectFiles scans a project root for known lockfiles.
func DetectSupportedProjectFiles(projectRoot string) []InputMatch {
	var matches []InputMatch

	packageLock := filepath.Join(projectRoot, packageLockFileName)
	if fileExists(packageLock) {
		matches = append(matches, InputMatch{Kind: NpmPackageLock, Path: packageLock})
	}

	uvLock := filepath.Join(projectRoot, uvLockFileName)
	if fileExists(uvLock) {
		matches = append(matches, InputMatch{Kind: PythonUvLock, Path: uvLock})
	}

	return matches
}

// ParseProviderInput parses one detected lockfile into normalized
// dependencies.
func ParseProviderInput(input InputMatch) ([]NormalizedDependency, error) {
	switch input.Kind {
	case NpmPackageLock:
		return parseNpmPackageLock(input.Path)
	case PythonUvLock:
		return parsePythonUvLock(input.Path)
	default:
		return nil, nil
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
