// Package apperrors names the engine's error taxonomy so callers can branch
// on disposition (log-and-continue vs. escalate vs. fatal) without string
// matching.
package apperrors

import "errors"

// Kind classifies an error by its operational disposition.
type Kind string

const (
	KindTransientUpstream  Kind = "transient_upstream"
	KindDataGap            Kind = "data_gap"
	KindOutOfOrderTick     Kind = "out_of_order_tick"
	KindIndexInconsistency Kind = "index_inconsistency"
	KindJournalIO          Kind = "journal_io"
	KindPredicateUndefined Kind = "predicate_undefined"
	KindConfiguration      Kind = "configuration"
)

// Error wraps an underlying cause with a disposition Kind.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind wrapping cause.
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// Is reports whether err (or anything it wraps) is an *Error of kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
