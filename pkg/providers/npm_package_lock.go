package providers

import (
	"encoding/json"
	"os"
	"sort"
	"strings"

	"github.com/thomasjiangcy/pkgrep/pkg/depspec"
	pkgreperrors "github.com/thomasjiangcy/pkgrep/pkg/errors"
)

type npmPackageLock struct {
	Packages     map[string]npmPackageEntry       `json:"packages"`
	Dependencies map[string]npmTopLevelDependency `json:"dependencies"`
}

type npmPackageEntry struct {
	Version      string            `json:"version"`
	Resolved     string            `json:"resolved"`
	Dependencies map[string]string `json:"dependencies"`
}

// npmTopLevelDependency tolerates both the lockfile-v1 object form and a
// bare version string.
type npmTopLevelDependency struct {
	Version  string
	Resolved string
	Raw      string
}

func (d *npmTopLevelDependency) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err == nil {
		d.Raw = raw
		return nil
	}

	var obj struct {
		Version  string `json:"version"`
		Resolved string `json:"resolved"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	d.Version = obj.Version
	d.Resolved = obj.Resolved
	return nil
}

func parseNpmPackageLock(path string) ([]NormalizedDependency, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgreperrors.Wrap(pkgreperrors.KindProvider, err, "failed to read provider input %s", path)
	}

	var lock npmPackageLock
	if err := json.Unmarshal(raw, &lock); err != nil {
		return nil, pkgreperrors.Wrap(pkgreperrors.KindProvider, err, "failed to parse JSON provider input %s", path)
	}

	type depKey struct{ name, version string }
	deps := map[depKey]NormalizedDependency{}

	merge := func(candidate NormalizedDependency) {
		key := depKey{candidate.Name, candidate.Version}
		if existing, ok := deps[key]; ok && existing.GitHint != nil {
			// An entry with a git hint wins over one without.
			return
		}
		deps[key] = candidate
	}

	var rootDependencies map[string]string
	for key, entry := range lock.Packages {
		if key == "" {
			// Root entry; its dependencies map only matters as the
			// lockfile-v1 fallback below when no installed entries exist.
			rootDependencies = entry.Dependencies
			continue
		}

		if entry.Version == "" {
			continue
		}

		name, ok := packageNameFromLockKey(key)
		if !ok {
			continue
		}

		merge(NormalizedDependency{
			Ecosystem: depspec.Npm,
			Name:      name,
			Version:   entry.Version,
			GitHint:   parseGitHintFromNpmResolved(entry.Resolved),
		})
	}

	if len(deps) == 0 {
		for name, version := range rootDependencies {
			merge(NormalizedDependency{Ecosystem: depspec.Npm, Name: name, Version: version})
		}
	}

	if len(deps) == 0 && len(lock.Dependencies) > 0 {
		for name, dep := range lock.Dependencies {
			version := dep.Version
			if version == "" {
				version = dep.Raw
			}
			if version == "" {
				continue
			}
			merge(NormalizedDependency{
				Ecosystem: depspec.Npm,
				Name:      name,
				Version:   version,
				GitHint:   parseGitHintFromNpmResolved(dep.Resolved),
			})
		}
	}

	out := make([]NormalizedDependency, 0, len(deps))
	for _, dep := range deps {
		out = append(out, dep)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}

// packageNameFromLockKey derives the package name from the substring after
// the last "node_modules/" in a packages key.
func packageNameFromLockKey(key string) (string, bool) {
	const marker = "node_modules/"
	idx := strings.LastIndex(key, marker)
	if idx < 0 {
		return "", false
	}
	name := key[idx+len(marker):]
	if name == "" {
		return "", false
	}
	return name, true
}

// parseGitHintFromNpmResolved extracts a git hint from a resolved URL of the
// form git+<url>#<rev> or <url>#<rev>.
func parseGitHintFromNpmResolved(resolved string) *GitSourceHint {
	if resolved == "" {
		return nil
	}
	trimmed := strings.TrimPrefix(resolved, "git+")
	idx := strings.LastIndex(trimmed, "#")
	if idx < 0 {
		return nil
	}
	url, revision := trimmed[:idx], trimmed[idx+1:]
	if url == "" || revision == "" {
		return nil
	}
	return &GitSourceHint{URL: url, RequestedRevision: revision}
}
