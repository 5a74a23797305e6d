package providers

import (
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/thomasjiangcy/pkgrep/pkg/depspec"
	pkgreperrors "github.com/thomasjiangcy/pkgrep/pkg/errors"
)

type uvLock struct {
	Package []uvPackage `toml:"package"`
}

type uvPackage struct {
	Name    string   `toml:"name"`
	Version string   `toml:"version"`
	Source  uvSource `toml:"source"`
}

type uvSource struct {
	Git    string `toml:"git"`
	Rev    string `toml:"rev"`
	Tag    string `toml:"tag"`
	Branch string `toml:"branch"`
}

func parsePythonUvLock(path string) ([]NormalizedDependency, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgreperrors.Wrap(pkgreperrors.KindProvider, err, "failed to read provider input %s", path)
	}

	var lock uvLock
	if err := toml.Unmarshal(raw, &lock); err != nil {
		return nil, pkgreperrors.Wrap(pkgreperrors.KindProvider, err, "failed to parse TOML provider input %s", path)
	}

	var deps []NormalizedDependency
	for _, pkg := range lock.Package {
		if pkg.Name == "" || pkg.Version == "" {
			continue
		}

		deps = append(deps, NormalizedDependency{
			Ecosystem: depspec.Pypi,
			Name:      pkg.Name,
			Version:   pkg.Version,
			GitHint:   gitHintFromUvSource(pkg.Source),
		})
	}

	return deps, nil
}

func gitHintFromUvSource(source uvSource) *GitSourceHint {
	if source.Git == "" {
		return nil
	}

	revision := source.Rev
	if revision == "" {
		revision = source.Tag
	}
	if revision == "" {
		revision = source.Branch
	}
	if revision == "" {
		revision = "HEAD"
	}

	return &GitSourceHint{URL: source.Git, RequestedRevision: revision}
}
