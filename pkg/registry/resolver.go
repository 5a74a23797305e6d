// Package registry resolves registry dep specs (npm, PyPI) into git pull
// targets by fetching package metadata and deriving a repository URL plus a
// pinned revision.
//
// The resolver never returns a non-git target: a package without a usable
// repository URL fails resolution.
package registry

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/thomasjiangcy/pkgrep/pkg/depspec"
	pkgreperrors "github.com/thomasjiangcy/pkgrep/pkg/errors"
	"github.com/thomasjiangcy/pkgrep/pkg/source"
)

const (
	defaultNpmRegistryBase  = "https://registry.npmjs.org"
	defaultPypiRegistryBase = "https://pypi.org/pypi"

	userAgent = "pkgrep"
)

var httpClient = &http.Client{Timeout: 30 * time.Second}

// Resolution is a resolved registry spec: the pull target plus the package
// version it was selected for.
type Resolution struct {
	Target         source.GitPullTarget
	PackageVersion string
}

// ResolveRegistrySpec resolves a registry dep spec into a git pull target.
func ResolveRegistrySpec(spec depspec.DepSpec) (*Resolution, error) {
	if spec.Kind == depspec.SourceGit {
		return nil, fmt.Errorf("ResolveRegistrySpec called with git source spec")
	}

	switch spec.Ecosystem {
	case depspec.Npm:
		return resolveNpm(spec)
	case depspec.Pypi:
		return resolvePypi(spec)
	default:
		return nil, pkgreperrors.New(pkgreperrors.KindRegistryResolve,
			"unsupported registry ecosystem '%s' for package-based pull; supported: npm, pypi", spec.Ecosystem)
	}
}

type npmRegistryPackage struct {
	DistTags   map[string]string          `json:"dist-tags"`
	Versions   map[string]npmVersionEntry `json:"versions"`
	Repository repositoryField            `json:"repository"`
}

type npmVersionEntry struct {
	Repository repositoryField `json:"repository"`
	GitHead    string          `json:"gitHead"`
	Dist       struct {
		GitHead string `json:"gitHead"`
	} `json:"dist"`
}

// repositoryField tolerates both a plain string and a {url: ...} object.
type repositoryField struct {
	URL string
}

func (f *repositoryField) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err == nil {
		f.URL = raw
		return nil
	}

	var obj struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		// Unknown repository shapes are treated as absent.
		return nil
	}
	f.URL = obj.URL
	return nil
}

func resolveNpm(spec depspec.DepSpec) (*Resolution, error) {
	packageName := spec.Locator
	endpoint, err := npmEndpoint(packageName)
	if err != nil {
		return nil, err
	}

	var metadata npmRegistryPackage
	if err := fetchJSON(endpoint, &metadata); err != nil {
		return nil, pkgreperrors.Wrap(pkgreperrors.KindRegistryResolve, err,
			"npm metadata request failed for package '%s'", packageName)
	}

	selectedVersion := spec.Version
	if selectedVersion == "" {
		selectedVersion = metadata.DistTags["latest"]
		if selectedVersion == "" {
			return nil, pkgreperrors.New(pkgreperrors.KindRegistryResolve,
				"npm package '%s' has no latest dist-tag", packageName)
		}
	}

	versionEntry, ok := metadata.Versions[selectedVersion]
	if !ok {
		return nil, pkgreperrors.New(pkgreperrors.KindRegistryResolve,
			"npm package '%s' does not contain requested version '%s'", packageName, selectedVersion)
	}

	repositoryURL := versionEntry.Repository.URL
	if repositoryURL == "" {
		repositoryURL = metadata.Repository.URL
	}
	if repositoryURL == "" {
		return nil, pkgreperrors.New(pkgreperrors.KindRegistryResolve,
			"npm package '%s' does not provide a repository URL for version '%s'", packageName, selectedVersion)
	}

	gitURL, ok := NormalizeGitRepositoryURL(repositoryURL)
	if !ok {
		return nil, pkgreperrors.New(pkgreperrors.KindRegistryResolve,
			"npm package '%s' repository URL is not a supported git URL: %s", packageName, repositoryURL)
	}

	requestedRevision := versionEntry.GitHead
	if requestedRevision == "" {
		requestedRevision = versionEntry.Dist.GitHead
	}
	if requestedRevision == "" {
		requestedRevision = selectedVersion
	}

	return &Resolution{
		Target: source.GitPullTarget{
			Ecosystem:         depspec.Npm,
			Locator:           packageName,
			GitURL:            gitURL,
			RequestedRevision: requestedRevision,
		},
		PackageVersion: selectedVersion,
	}, nil
}

type pypiPackageResponse struct {
	Info pypiInfo `json:"info"`
}

type pypiInfo struct {
	Version     string            `json:"version"`
	ProjectURLs map[string]string `json:"project_urls"`
	HomePage    string            `json:"home_page"`
}

func resolvePypi(spec depspec.DepSpec) (*Resolution, error) {
	packageName := spec.Locator
	endpoint, err := pypiEndpoint(packageName)
	if err != nil {
		return nil, err
	}

	var metadata pypiPackageResponse
	if err := fetchJSON(endpoint, &metadata); err != nil {
		return nil, pkgreperrors.Wrap(pkgreperrors.KindRegistryResolve, err,
			"pypi metadata request failed for package '%s'", packageName)
	}

	selectedVersion := spec.Version
	if selectedVersion == "" {
		selectedVersion = metadata.Info.Version
	}

	repositoryURL, ok := pypiRepositoryURL(metadata.Info)
	if !ok {
		return nil, pkgreperrors.New(pkgreperrors.KindRegistryResolve,
			"pypi package '%s' does not provide a repository/source URL in metadata", packageName)
	}

	gitURL, ok := NormalizeGitRepositoryURL(repositoryURL)
	if !ok {
		return nil, pkgreperrors.New(pkgreperrors.KindRegistryResolve,
			"pypi package '%s' repository URL is not a supported git URL: %s", packageName, repositoryURL)
	}

	return &Resolution{
		Target: source.GitPullTarget{
			Ecosystem:         depspec.Pypi,
			Locator:           packageName,
			GitURL:            gitURL,
			RequestedRevision: selectedVersion,
		},
		PackageVersion: selectedVersion,
	}, nil
}

func npmEndpoint(packageName string) (string, error) {
	base := os.Getenv("PKGREP_NPM_REGISTRY_URL")
	if base == "" {
		base = defaultNpmRegistryBase
	}
	return joinRegistryPath(base, "invalid npm registry URL", packageName)
}

func pypiEndpoint(packageName string) (string, error) {
	base := os.Getenv("PKGREP_PYPI_REGISTRY_URL")
	if base == "" {
		base = defaultPypiRegistryBase
	}
	return joinRegistryPath(base, "invalid pypi registry URL", packageName, "json")
}

func joinRegistryPath(base, invalidMsg string, segments ...string) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", pkgreperrors.New(pkgreperrors.KindRegistryResolve, "%s: %s", invalidMsg, base)
	}
	joined := parsed.JoinPath(segments...)
	return joined.String(), nil
}

func fetchJSON(endpoint string, out any) error {
	req, err := http.NewRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", endpoint, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch metadata from %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("metadata request to %s returned status %d", endpoint, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read metadata response from %s: %w", endpoint, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse metadata JSON from %s: %w", endpoint, err)
	}
	return nil
}

// pypiRepositoryURL picks the most repository-like project URL, preferring
// explicit source keys over anything else, then falling back to any project
// URL, then the home page.
func pypiRepositoryURL(info pypiInfo) (string, bool) {
	preferredKeys := []string{"Source", "Source Code", "Repository", "Code", "Homepage"}
	for _, key := range preferredKeys {
		if u := info.ProjectURLs[key]; u != "" {
			return u, true
		}
	}

	// Any project URL beats the bare home_page; iterate keys sorted for
	// determinism.
	if len(info.ProjectURLs) > 0 {
		keys := make([]string, 0, len(info.ProjectURLs))
		for key := range info.ProjectURLs {
			keys = append(keys, key)
		}
		minKey := keys[0]
		for _, key := range keys[1:] {
			if key < minKey {
				minKey = key
			}
		}
		if u := info.ProjectURLs[minKey]; u != "" {
			return u, true
		}
	}

	if info.HomePage != "" {
		return info.HomePage, true
	}
	return "", false
}

// NormalizeGitRepositoryURL rewrites the repository URL shapes registries
// publish into a fetchable git URL. Returns false for unsupported shapes.
func NormalizeGitRepositoryURL(raw string) (string, bool) {
	u := strings.TrimSpace(raw)

	u = strings.TrimPrefix(u, "git+")
	if stripped, found := strings.CutPrefix(u, "github:"); found {
		u = "https://github.com/" + stripped
	}
	if stripped, found := strings.CutPrefix(u, "git@github.com:"); found {
		u = "https://github.com/" + stripped
	}
	if idx := strings.Index(u, "#"); idx >= 0 {
		u = u[:idx]
	}
	if stripped, found := strings.CutPrefix(u, "git://"); found {
		u = "https://" + stripped
	}

	supported := false
	for _, scheme := range []string{"https://", "http://", "ssh://"} {
		if strings.HasPrefix(u, scheme) {
			supported = true
			break
		}
	}
	if !supported {
		return "", false
	}

	if !strings.HasSuffix(u, ".git") {
		u += ".git"
	}
	return u, true
}
