package assistant

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsRetryableClassification(t *testing.T) {
	t.Parallel()

	unavailable := NewError(KindUnavailable, 503, "upstream down", nil)
	if !IsRetryable(unavailable) {
		t.Fatalf("expected unavailable to be retryable")
	}

	rejected := NewError(KindRejected, 400, "bad request", nil)
	if IsRetryable(rejected) {
		t.Fatalf("expected rejected to be fatal")
	}

	wrapped := fmt.Errorf("dispatch: %w", unavailable)
	if !IsRetryable(wrapped) {
		t.Fatalf("expected classification to survive wrapping")
	}

	if IsRetryable(errors.New("plain error")) {
		t.Fatalf("unclassified errors must not be retried")
	}
}

func TestRunStatusTerminal(t *testing.T) {
	t.Parallel()

	for _, s := range []RunStatus{RunCompleted, RunFailed, RunCancelled, RunExpired} {
		if !s.Terminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	for _, s := range []RunStatus{RunQueued, RunInProgress} {
		if s.Terminal() {
			t.Fatalf("expected %s to be non-terminal", s)
		}
	}
}
