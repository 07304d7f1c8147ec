package ai

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies provider failures for the caller's recovery decision.
type Kind int

const (
	KindUnknown Kind = iota
	KindRateLimited
	KindUnauthorized
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	}
	return "unknown"
}

// Error is a classified provider failure. It carries the HTTP status when
// one was involved, so the retry layer can key off it.
type Error struct {
	Kind   Kind
	Status int
	Msg    string
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("ai: %s (http %d): %s", e.Kind, e.Status, e.Msg)
	}
	return fmt.Sprintf("ai: %s: %s", e.Kind, e.Msg)
}

// StatusCode satisfies retrylimit.HTTPError.
func (e *Error) StatusCode() int { return e.Status }

// classify maps an HTTP status to an Error.
func classify(status int, msg string) *Error {
	kind := KindUnknown
	switch status {
	case http.StatusTooManyRequests:
		kind = KindRateLimited
	case http.StatusUnauthorized:
		kind = KindUnauthorized
	case http.StatusForbidden:
		kind = KindForbidden
	}
	return &Error{Kind: kind, Status: status, Msg: msg}
}

// IsKind reports whether err is a provider Error of the given kind.
func IsKind(err error, k Kind) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == k
}
