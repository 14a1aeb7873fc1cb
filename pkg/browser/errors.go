package browser

import (
	"errors"
	"fmt"
)

// Kind classifies operation failures.
type Kind string

const (
	KindEnvironment   Kind = "environment"
	KindNoSession     Kind = "no_session"
	KindConfiguration Kind = "configuration"
	KindValidation    Kind = "validation"
	KindNavigation    Kind = "navigation"
	KindElement       Kind = "element"
	KindExtraction    Kind = "extraction"
	KindInternal      Kind = "internal"
)

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrEnvironment   = &Error{Kind: KindEnvironment}
	ErrNoSession     = &Error{Kind: KindNoSession}
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrValidation    = &Error{Kind: KindValidation}
	ErrNavigation    = &Error{Kind: KindNavigation}
	ErrElement       = &Error{Kind: KindElement}
	ErrExtraction    = &Error{Kind: KindExtraction}
	ErrInternal      = &Error{Kind: KindInternal}
)

// Error is the failure returned by every Manager operation.
type Error struct {
	Kind       Kind
	Op         string
	Message    string
	Suggestion string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Message == "" && e.Err == nil:
		return string(e.Kind)
	case e.Message == "":
		return e.Err.Error()
	case e.Err == nil:
		return e.Message
	default:
		return e.Message + ": " + e.Err.Error()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind equality against a sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Op == "" && t.Kind == e.Kind
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// SuggestionOf returns the advisory text attached to err, if any.
func SuggestionOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Suggestion
	}
	return ""
}

func noPage(op string) error {
	return &Error{
		Kind:       KindNoSession,
		Op:         op,
		Message:    "No active page",
		Suggestion: "Start a session with POST /login/interactive or POST /login/load first",
	}
}

func noSession(op string) error {
	return &Error{
		Kind:       KindNoSession,
		Op:         op,
		Message:    "No active browser session",
		Suggestion: "Start a session with POST /login/interactive or POST /login/load first",
	}
}

func noBaseURL(op string) error {
	return &Error{
		Kind:       KindConfiguration,
		Op:         op,
		Message:    "DRUPAL_BASE_URL is not configured",
		Suggestion: "Set DRUPAL_BASE_URL to the site origin, e.g. https://cms.example.edu",
	}
}

func invalid(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

func navigationFailed(op, target string, err error) error {
	return &Error{
		Kind:    KindNavigation,
		Op:      op,
		Message: fmt.Sprintf("navigation to %s failed", target),
		Err:     err,
	}
}
