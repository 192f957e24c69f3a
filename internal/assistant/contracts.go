// Package assistant defines the boundary to the external conversational-AI
// service: an opaque thread handle preserving multi-turn context, user
// message append, run start/poll, and the final answer with citation file
// references. Whether a failure is worth retrying is decided here, at the
// adapter boundary, and carried as a typed property; nothing upstream
// matches on error text.
package assistant

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies adapter failures.
type ErrorKind string

const (
	// KindUnavailable covers network failures, timeouts, overload and server
	// errors; the backoff executor may retry these.
	KindUnavailable ErrorKind = "external_service_unavailable"
	// KindRejected covers malformed or unauthorized requests; retrying
	// cannot help.
	KindRejected ErrorKind = "external_service_rejected"
)

// Error is a classified adapter failure.
type Error struct {
	Kind    ErrorKind
	Status  int
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Retryable reports whether the backoff executor should retry.
func (e *Error) Retryable() bool { return e.Kind == KindUnavailable }

// NewError builds a classified adapter error wrapping cause.
func NewError(kind ErrorKind, status int, message string, cause error) *Error {
	return &Error{Kind: kind, Status: status, Message: message, cause: cause}
}

// IsRetryable reports whether err carries a retryable classification.
// Unclassified errors are not retried.
func IsRetryable(err error) bool {
	var adapterErr *Error
	return errors.As(err, &adapterErr) && adapterErr.Retryable()
}

// RunStatus is the external run lifecycle state.
type RunStatus string

const (
	RunQueued     RunStatus = "queued"
	RunInProgress RunStatus = "in_progress"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
	RunCancelled  RunStatus = "cancelled"
	RunExpired    RunStatus = "expired"
)

// Terminal reports whether the run has stopped progressing.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled, RunExpired:
		return true
	default:
		return false
	}
}

// Citation is a knowledge-file reference attached to an answer.
type Citation struct {
	FileID   string
	Filename string
}

// Answer is the completed assistant response for one turn.
type Answer struct {
	Text      string
	Citations []Citation
}

// Client is the conversational-AI collaborator boundary.
type Client interface {
	// CreateThread opens a fresh conversation context and returns its
	// opaque handle.
	CreateThread(ctx context.Context) (string, error)
	// ThreadAlive reports whether a previously issued handle can still be
	// resumed.
	ThreadAlive(ctx context.Context, threadRef string) (bool, error)
	// AppendUserMessage adds the user's utterance to the thread.
	AppendUserMessage(ctx context.Context, threadRef, text string) error
	// StartRun begins generating the assistant answer and returns a run id.
	StartRun(ctx context.Context, threadRef string) (string, error)
	// PollRun reports the run's current status.
	PollRun(ctx context.Context, threadRef, runID string) (RunStatus, error)
	// FinalAnswer reads the completed answer text and citation refs.
	FinalAnswer(ctx context.Context, threadRef string) (Answer, error)
}
