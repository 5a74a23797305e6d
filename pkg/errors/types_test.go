package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew_CarriesKindAndMessage(t *testing.T) {
	err := New(KindSafeguardRefusal, "refusing to clean cache_dir=%s", "/")
	if !IsKind(err, KindSafeguardRefusal) {
		t.Errorf("IsKind = false, want true")
	}
	if !strings.Contains(err.Error(), "refusing to clean cache_dir=/") {
		t.Errorf("message = %q", err.Error())
	}
}

func TestWrap_PreservesWrappedError(t *testing.T) {
	inner := stderrors.New("boom")
	err := Wrap(KindGitFetch, inner, "failed to fetch requested revision '%s'", "v1")

	if !stderrors.Is(err, inner) {
		t.Error("errors.Is does not find the wrapped error")
	}
	kind, ok := KindOf(err)
	if !ok || kind != KindGitFetch {
		t.Errorf("KindOf = (%v, %v), want (KindGitFetch, true)", kind, ok)
	}
}

func TestKindOf_UntypedError(t *testing.T) {
	if _, ok := KindOf(stderrors.New("plain")); ok {
		t.Error("KindOf reported a kind for an untyped error")
	}
}

func TestKindOf_ThroughWrapping(t *testing.T) {
	typed := New(KindRemoteMetadata, "unsupported metadata schema version 2")
	wrapped := fmt.Errorf("invalid metadata at key: %w", typed)
	if !IsKind(wrapped, KindRemoteMetadata) {
		t.Error("kind lost through fmt.Errorf wrapping")
	}
}

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindSpecParse, "spec_parse"},
		{KindConfig, "config"},
		{KindBackendRequirement, "backend_requirement"},
		{Kind(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}
