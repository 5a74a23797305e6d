package depspec

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestParse_RegistrySpecWithVersion(t *testing.T) {
	spec, err := Parse("npm:react@18.3.1")
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if spec.Ecosystem != Npm {
		t.Errorf("ecosystem = %q, want npm", spec.Ecosystem)
	}
	if spec.Locator != "react" {
		t.Errorf("locator = %q, want react", spec.Locator)
	}
	if spec.Version != "18.3.1" {
		t.Errorf("version = %q, want 18.3.1", spec.Version)
	}
	if spec.Kind != SourceRegistry {
		t.Errorf("kind = %v, want SourceRegistry", spec.Kind)
	}
}

func TestParse_RegistrySpecWithoutVersion(t *testing.T) {
	spec, err := Parse("pypi:requests")
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if spec.Ecosystem != Pypi || spec.Locator != "requests" || spec.Version != "" {
		t.Errorf("unexpected spec: %+v", spec)
	}
}

func TestParse_OtherSchemeIsOpaque(t *testing.T) {
	spec, err := Parse("cargo:serde@1.0.0")
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if spec.Ecosystem != Ecosystem("cargo") {
		t.Errorf("ecosystem = %q, want cargo", spec.Ecosystem)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantMsg string
	}{
		{"missing scheme", "react", "missing '<scheme>:' prefix"},
		{"empty scheme", ":react", "scheme must not be empty"},
		{"empty rest", "npm:", "locator must not be empty"},
		{"empty version", "npm:react@", "version marker '@' present but version is empty"},
		{"git without revision", "git:https://github.com/org/repo.git", "must include a revision"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			if err == nil {
				t.Fatalf("Parse(%q) expected error", tt.input)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Parse(%q) error = %q, want containing %q", tt.input, err, tt.wantMsg)
			}
		})
	}
}

func TestParse_GitSpec(t *testing.T) {
	spec, err := Parse("git:https://github.com/org/repo.git@a1b2c3")
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if spec.Ecosystem != Git {
		t.Errorf("ecosystem = %q, want git", spec.Ecosystem)
	}
	if spec.GitURL != "https://github.com/org/repo.git" {
		t.Errorf("git URL = %q", spec.GitURL)
	}
	if spec.RequestedRevision != "a1b2c3" {
		t.Errorf("requested revision = %q", spec.RequestedRevision)
	}
	if spec.Kind != SourceGit {
		t.Errorf("kind = %v, want SourceGit", spec.Kind)
	}
}

func TestParse_GitSpecWithHashSeparator(t *testing.T) {
	spec, err := Parse("git:https://github.com/org/repo.git#release@2026.02")
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if spec.GitURL != "https://github.com/org/repo.git" {
		t.Errorf("git URL = %q", spec.GitURL)
	}
	if spec.RequestedRevision != "release@2026.02" {
		t.Errorf("requested revision = %q", spec.RequestedRevision)
	}
}

func TestParse_GitSpecWithRevisionContainingAt(t *testing.T) {
	// The ".git@" rule: the revision after a .git URL may itself contain '@'.
	spec, err := Parse("git:https://github.com/openworkflowdev/openworkflow.git@openworkflow@0.7.3")
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if spec.GitURL != "https://github.com/openworkflowdev/openworkflow.git" {
		t.Errorf("git URL = %q", spec.GitURL)
	}
	if spec.RequestedRevision != "openworkflow@0.7.3" {
		t.Errorf("requested revision = %q", spec.RequestedRevision)
	}
}

func TestNormalizeLocator_Roundtrip(t *testing.T) {
	inputs := []string{
		"https://github.com/openworkflowdev/openworkflow.git",
		"react",
		"@types/node",
		"git@github.com:org/repo.git",
		"",
		"with spaces and ünïcode",
	}
	for _, input := range inputs {
		normalized := NormalizeLocator(input)
		if !strings.HasPrefix(normalized, "b64_") {
			t.Errorf("NormalizeLocator(%q) = %q, missing b64_ prefix", input, normalized)
		}
		decoded, ok := DenormalizeLocator(normalized)
		if !ok {
			t.Fatalf("DenormalizeLocator(%q) failed", normalized)
		}
		if decoded != input {
			t.Errorf("roundtrip of %q = %q", input, decoded)
		}
	}
}

func TestNormalizeLocator_Injective(t *testing.T) {
	inputs := []string{"a", "b", "a/b", "a-b", "a_b", "https://x", "https://y"}
	seen := map[string]string{}
	for _, input := range inputs {
		normalized := NormalizeLocator(input)
		if prior, dup := seen[normalized]; dup {
			t.Errorf("NormalizeLocator collision: %q and %q both map to %q", prior, input, normalized)
		}
		seen[normalized] = input
	}
}

func TestDenormalizeLocator_RejectsNonNormalized(t *testing.T) {
	if _, ok := DenormalizeLocator("react"); ok {
		t.Error("DenormalizeLocator accepted input without b64_ prefix")
	}
	if _, ok := DenormalizeLocator("b64_!!!not-base64!!!"); ok {
		t.Error("DenormalizeLocator accepted invalid base64")
	}
}

func TestCacheKey_NamespacedByEcosystem(t *testing.T) {
	npm := CacheKey(Npm, "react", "18.3.1", "abc")
	pypi := CacheKey(Pypi, "react", "18.3.1", "abc")
	if npm == pypi {
		t.Errorf("cache keys collide across ecosystems: %q", npm)
	}
}

func TestCacheKey_Shape(t *testing.T) {
	key := CacheKey(Git, "https://example.com/repo.git", "v1.2.3", "deadbeef")
	want := "git/" + NormalizeLocator("https://example.com/repo.git") + "/v1.2.3/deadbeef"
	if key != want {
		t.Errorf("CacheKey = %q, want %q", key, want)
	}
}

func TestLinkPath_GitURLIsHumanReadable(t *testing.T) {
	path := LinkPath(Git, "https://github.com/openworkflowdev/openworkflow.git", "openworkflow@0.7.3")
	want := filepath.Join(".pkgrep", "deps", "git", "github.com", "openworkflowdev", "openworkflow.git@openworkflow@0.7.3")
	if path != want {
		t.Errorf("LinkPath = %q, want %q", path, want)
	}
}

func TestLinkPathPrefix_GitURL(t *testing.T) {
	path := LinkPathPrefix(Git, "https://github.com/openworkflowdev/openworkflow.git")
	want := filepath.Join(".pkgrep", "deps", "git", "github.com", "openworkflowdev", "openworkflow.git@")
	if path != want {
		t.Errorf("LinkPathPrefix = %q, want %q", path, want)
	}
}

func TestLinkPath_SanitizesSeparatorsInRevision(t *testing.T) {
	path := LinkPath(Git, "https://github.com/openworkflowdev/openworkflow.git", "refs/tags/v1.2.3")
	want := filepath.Join(".pkgrep", "deps", "git", "github.com", "openworkflowdev", "openworkflow.git@refs-tags-v1.2.3")
	if path != want {
		t.Errorf("LinkPath = %q, want %q", path, want)
	}
}

func TestLinkPath_ScpLikeLocator(t *testing.T) {
	path := LinkPath(Git, "git@github.com:org/repo.git", "main")
	want := filepath.Join(".pkgrep", "deps", "git", "github.com", "org", "repo.git@main")
	if path != want {
		t.Errorf("LinkPath = %q, want %q", path, want)
	}
}

func TestLinkPath_NamespacedByEcosystem(t *testing.T) {
	npm := LinkPath(Npm, "react", "18.3.1")
	pypi := LinkPath(Pypi, "react", "18.3.1")
	if npm == pypi {
		t.Errorf("link paths collide across ecosystems: %q", npm)
	}
}

func TestSanitizeLocatorComponent(t *testing.T) {
	tests := []struct {
		raw     string
		allowAt bool
		want    string
	}{
		{"repo", false, "repo"},
		{"re po", false, "re-po"},
		{"a!!!b", false, "a-b"},
		{"--a--", false, "a"},
		{"..", false, "_"},
		{".", false, "_"},
		{"", false, "_"},
		{"v1@rc", false, "v1-rc"},
		{"v1@rc", true, "v1@rc"},
	}
	for _, tt := range tests {
		got := sanitizeLocatorComponent(tt.raw, tt.allowAt)
		if got != tt.want {
			t.Errorf("sanitizeLocatorComponent(%q, %v) = %q, want %q", tt.raw, tt.allowAt, got, tt.want)
		}
	}
}
