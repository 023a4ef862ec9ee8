package taxonomy

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"
)

// Builder is a fluent constructor for *Error, modeled on the rich-error
// builder pattern: NewBuilder seeds the category, severity, recoverable
// flag, context map, and timestamp with defaults, and Build() returns the
// error as configured.
type Builder struct {
	err *Error
}

// NewBuilder starts a fluent error construction.
func NewBuilder() *Builder {
	return &Builder{err: &Error{
		Category:    CategoryExecution,
		Severity:    SeverityError,
		Recoverable: true,
		Ctx:         Context{},
		Timestamp:   time.Now(),
	}}
}

func (b *Builder) Code(code string) *Builder           { b.err.Code = code; return b }
func (b *Builder) Message(msg string) *Builder         { b.err.Message = msg; return b }
func (b *Builder) Category(c Category) *Builder        { b.err.Category = c; return b }
func (b *Builder) Severity(s Severity) *Builder        { b.err.Severity = s; return b }
func (b *Builder) Recoverable(r bool) *Builder         { b.err.Recoverable = r; return b }
func (b *Builder) Cause(err error) *Builder            { b.err.Cause = err; return b }
func (b *Builder) Suggest(actions ...RecoveryAction) *Builder {
	b.err.Suggested = append(b.err.Suggested, actions...)
	return b
}
func (b *Builder) Context(key string, value any) *Builder {
	if b.err.Ctx == nil {
		b.err.Ctx = Context{}
	}
	b.err.Ctx[key] = value
	return b
}

// Build returns the constructed error.
func (b *Builder) Build() *Error {
	return b.err
}

// Classify inspects an arbitrary error and returns a taxonomy error for it,
// applying the general-purpose classifier described by the spec: an unknown
// error is recoverable unless it is a context cancellation; network/timeout errors
// suggest retry, missing-file suggests fallback then manual intervention,
// permission suggests manual intervention, anything else suggests retry
// then manual intervention. Errors already in the taxonomy pass through
// unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return te
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return New("OPERATION_TIMEOUT", CategoryTimeout, err.Error()).
			WithCause(err).
			WithSuggested(ActionRetry)
	case errors.Is(err, context.Canceled):
		return New("OPERATION_CANCELLED", CategoryExecution, err.Error()).
			WithCause(err).
			WithRecoverable(false).
			WithSuggested(ActionAbort)
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, os.ErrNotExist):
		return New("FILE_NOT_FOUND", CategoryIO, err.Error()).
			WithCause(err).
			WithSuggested(ActionFallback, ActionManualIntervention)
	case errors.Is(err, fs.ErrPermission), errors.Is(err, os.ErrPermission):
		return New("PERMISSION_DENIED", CategoryPermission, err.Error()).
			WithCause(err).
			WithSuggested(ActionManualIntervention)
	case isNetworkLike(err):
		return New("NETWORK_ERROR", CategoryNetwork, err.Error()).
			WithCause(err).
			WithSuggested(ActionRetry)
	default:
		return New("UNKNOWN_ERROR", CategoryExecution, err.Error()).
			WithCause(err).
			WithSuggested(ActionRetry, ActionManualIntervention)
	}
}

func isNetworkLike(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, kw := range []string{"connection refused", "connection reset", "no such host", "network is unreachable", "timeout", "timed out"} {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// Wrap formats a message around a cause, preserving it for errors.Unwrap
// the same way fmt.Errorf("%w", ...) would, but returns a taxonomy error so
// callers get structured fields along the way.
func Wrap(code string, category Category, cause error, format string, args ...any) *Error {
	return New(code, category, fmt.Sprintf(format, args...)).WithCause(cause)
}
