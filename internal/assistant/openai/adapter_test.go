package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/liberty/conversation-pipeline/internal/assistant"
)

func newTestAdapter(t *testing.T, handler http.Handler) *Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	adapter, err := NewAdapter(Config{
		APIKey:      "test-key",
		Endpoint:    server.URL,
		AssistantID: "asst_1",
	}, server.Client())
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return adapter
}

func TestThreadLifecycle(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /threads", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "thread_1"})
	})
	mux.HandleFunc("GET /threads/thread_1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "thread_1"})
	})
	mux.HandleFunc("GET /threads/thread_dead", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	adapter := newTestAdapter(t, mux)

	ref, err := adapter.CreateThread(context.Background())
	if err != nil {
		t.Fatalf("create thread: %v", err)
	}
	if ref != "thread_1" {
		t.Fatalf("unexpected thread ref %q", ref)
	}

	alive, err := adapter.ThreadAlive(context.Background(), "thread_1")
	if err != nil || !alive {
		t.Fatalf("expected live thread, got alive=%v err=%v", alive, err)
	}

	// A dead thread is a normal answer, not an error.
	alive, err = adapter.ThreadAlive(context.Background(), "thread_dead")
	if err != nil || alive {
		t.Fatalf("expected dead thread without error, got alive=%v err=%v", alive, err)
	}
}

func TestRunAndFinalAnswerWithCitations(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /threads/thread_1/messages", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["role"] != "user" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "msg_1"})
	})
	mux.HandleFunc("POST /threads/thread_1/runs", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "run_1", "status": "queued"})
	})
	polls := 0
	mux.HandleFunc("GET /threads/thread_1/runs/run_1", func(w http.ResponseWriter, r *http.Request) {
		polls++
		status := "in_progress"
		if polls >= 2 {
			status = "completed"
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "run_1", "status": status})
	})
	mux.HandleFunc("GET /threads/thread_1/messages", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"role":"assistant","content":[{"type":"text","text":{"value":"高性能な製品です。","annotations":[{"type":"file_citation","file_citation":{"file_id":"file_1"}},{"type":"file_citation","file_citation":{"file_id":"file_1"}}]}}]}]}`))
	})
	mux.HandleFunc("GET /files/file_1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"filename": "商品カタログ2025.pdf"})
	})
	adapter := newTestAdapter(t, mux)
	ctx := context.Background()

	if err := adapter.AppendUserMessage(ctx, "thread_1", "商品の特徴を教えてください"); err != nil {
		t.Fatalf("append message: %v", err)
	}
	runID, err := adapter.StartRun(ctx, "thread_1")
	if err != nil || runID != "run_1" {
		t.Fatalf("start run: id=%q err=%v", runID, err)
	}

	status, err := adapter.PollRun(ctx, "thread_1", "run_1")
	if err != nil || status != assistant.RunInProgress {
		t.Fatalf("first poll: status=%q err=%v", status, err)
	}
	status, err = adapter.PollRun(ctx, "thread_1", "run_1")
	if err != nil || status != assistant.RunCompleted {
		t.Fatalf("second poll: status=%q err=%v", status, err)
	}

	answer, err := adapter.FinalAnswer(ctx, "thread_1")
	if err != nil {
		t.Fatalf("final answer: %v", err)
	}
	if answer.Text != "高性能な製品です。" {
		t.Fatalf("unexpected answer text %q", answer.Text)
	}
	// Duplicate annotations collapse to one citation.
	if len(answer.Citations) != 1 || answer.Citations[0].Filename != "商品カタログ2025.pdf" {
		t.Fatalf("unexpected citations %+v", answer.Citations)
	}
}

func TestErrorClassificationAtBoundary(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"server_error", http.StatusInternalServerError, true},
		{"overload", http.StatusTooManyRequests, true},
		{"gateway_timeout", http.StatusGatewayTimeout, true},
		{"bad_request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			_, err := adapter.CreateThread(context.Background())
			if err == nil {
				t.Fatalf("expected error for status %d", tc.status)
			}
			var adapterErr *assistant.Error
			if !errors.As(err, &adapterErr) {
				t.Fatalf("expected classified error, got %T", err)
			}
			if adapterErr.Retryable() != tc.retryable {
				t.Fatalf("status %d retryable = %v, want %v", tc.status, adapterErr.Retryable(), tc.retryable)
			}
		})
	}
}

func TestNewAdapterRequiresAssistantID(t *testing.T) {
	t.Parallel()

	if _, err := NewAdapter(Config{}, nil); err == nil {
		t.Fatalf("expected missing assistant id to fail")
	}
}
