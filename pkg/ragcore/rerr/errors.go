// Package rerr models the error taxonomy every ragcore collaborator call
// can fail with, so callers can branch on Kind instead of string-matching.
package rerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure the way the retry/fallback policy needs to see
// it, independent of which upstream produced it.
type Kind string

const (
	KindTransientUpstream  Kind = "transient_upstream"  // 5xx, timeout, 429 — retry with backoff
	KindPermanentUpstream  Kind = "permanent_upstream"  // 4xx except 429, schema violation
	KindEmbedFailure       Kind = "embed_failure"       // embedder exhausted retries
	KindIndexWriteFailure  Kind = "index_write_failure" // vector/lexical upsert left inconsistent
	KindTenantScopeViolation Kind = "tenant_scope_violation"
	KindQuotaExceeded      Kind = "quota_exceeded"
	KindCancelledByClient  Kind = "cancelled_by_client"
)

// Error wraps a causing error with a Kind so the orchestrator and worker
// can decide recovery without inspecting upstream-specific types.
type Error struct {
	Kind    Kind
	Op      string // component/operation that produced the failure
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an *Error for op failing with kind, wrapping cause.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// Is reports whether err (or anything it wraps) carries kind.
func Is(err error, kind Kind) bool {
	var re *Error
	for errors.As(err, &re) {
		if re.Kind == kind {
			return true
		}
		err = re.Cause
	}
	return false
}

// KindOf extracts the Kind from err, or "" if err isn't a *Error.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

// Retryable reports whether the kind is one the caller should retry with
// exponential backoff rather than fail the request/job immediately.
func Retryable(kind Kind) bool {
	return kind == KindTransientUpstream
}
