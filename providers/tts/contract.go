// Package tts defines the speech-synthesis provider boundary shared by the
// concrete adapters. Providers turn one text unit into an MP3 audio stream;
// failure classification happens here at the boundary so callers never match
// on provider error text.
package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Request is one synthesis job.
type Request struct {
	Text   string
	Locale string
}

// Provider synthesizes speech. The returned stream is MP3 audio; the caller
// owns closing it.
type Provider interface {
	Name() string
	Synthesize(ctx context.Context, req Request) (io.ReadCloser, error)
}

// ErrorKind classifies synthesis failures.
type ErrorKind string

const (
	// KindUnavailable covers network failures, timeouts, overload and server
	// errors; callers may retry or fall back to another provider.
	KindUnavailable ErrorKind = "tts_unavailable"
	// KindRejected covers malformed input and authorization failures.
	KindRejected ErrorKind = "tts_rejected"
)

// Error is a classified synthesis failure.
type Error struct {
	Provider string
	Kind     ErrorKind
	Status   int
	Message  string
	cause    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Provider, e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Retryable reports whether another attempt could help.
func (e *Error) Retryable() bool { return e.Kind == KindUnavailable }

// NewError builds a classified provider error wrapping cause.
func NewError(provider string, kind ErrorKind, status int, message string, cause error) *Error {
	return &Error{Provider: provider, Kind: kind, Status: status, Message: message, cause: cause}
}

// IsRetryable reports whether err carries a retryable classification.
func IsRetryable(err error) bool {
	var provErr *Error
	return errors.As(err, &provErr) && provErr.Retryable()
}

// PrimaryLanguage reduces a BCP 47 tag to its lowercase primary subtag, so
// voice tables key on "ja" whether the client sent "ja", "ja-JP" or "JA".
func PrimaryLanguage(locale string) string {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if i := strings.IndexAny(locale, "-_"); i >= 0 {
		locale = locale[:i]
	}
	return locale
}
