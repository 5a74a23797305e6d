// Package errors provides typed errors for pkgrep's failure classes.
//
// Every error the orchestrator can surface belongs to one of a small set of
// kinds; the kind determines nothing about control flow by itself, but lets
// commands and tests discriminate failure classes without string matching.
package errors

import (
	"errors"
	"fmt"
)

// Kind is the failure class of an error.
type Kind int

const (
	// KindSpecParse covers malformed dependency specs. These fail the
	// batch before any side effect.
	KindSpecParse Kind = iota

	// KindConfig covers invalid or unreadable configuration. These fail
	// before execution.
	KindConfig

	// KindProvider covers unreadable or unparsable lockfile inputs.
	KindProvider

	// KindRegistryResolve covers registry metadata that cannot be turned
	// into a git pull target.
	KindRegistryResolve

	// KindGitFetch covers exhausted targeted fetch attempts.
	KindGitFetch

	// KindGitResolve covers revisions that cannot be resolved to a commit.
	KindGitResolve

	// KindCheckout covers clone/checkout/symlink failures.
	KindCheckout

	// KindRemoteMetadata covers invalid or mismatched remote cache
	// metadata. Never treated as a cache miss.
	KindRemoteMetadata

	// KindBackendRequirement covers operations that need a remote backend
	// or object store settings that are absent.
	KindBackendRequirement

	// KindSafeguardRefusal covers refusals to act on dangerous targets.
	KindSafeguardRefusal
)

// String returns the string representation of an error kind
func (k Kind) String() string {
	switch k {
	case KindSpecParse:
		return "spec_parse"
	case KindConfig:
		return "config"
	case KindProvider:
		return "provider"
	case KindRegistryResolve:
		return "registry_resolve"
	case KindGitFetch:
		return "git_fetch"
	case KindGitResolve:
		return "git_resolve"
	case KindCheckout:
		return "checkout"
	case KindRemoteMetadata:
		return "remote_metadata"
	case KindBackendRequirement:
		return "backend_requirement"
	case KindSafeguardRefusal:
		return "safeguard_refusal"
	default:
		return "unknown"
	}
}

// TypedError is an error with a kind
type TypedError struct {
	Kind Kind
	Err  error
}

// Error implements the error interface
func (e *TypedError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the wrapped error
func (e *TypedError) Unwrap() error {
	return e.Err
}

// New creates a typed error from a formatted message.
func New(kind Kind, format string, args ...any) error {
	return &TypedError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a kind and context to an existing error.
func Wrap(kind Kind, err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return &TypedError{Kind: kind, Err: fmt.Errorf("%s: %w", msg, err)}
}

// KindOf returns the kind of an error and whether the error is typed.
func KindOf(err error) (Kind, bool) {
	var te *TypedError
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return 0, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
