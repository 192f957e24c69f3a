package elevenlabs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/liberty/conversation-pipeline/providers/tts"
)

func newTestProvider(t *testing.T, handler http.Handler) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p, err := New(Config{APIKey: "test-key", Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return p
}

func TestSynthesizeStreamsAudio(t *testing.T) {
	t.Parallel()

	var gotPath, gotKey string
	var gotBody synthBody
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("xi-api-key")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("mp3-premium"))
	}))

	audio, err := p.Synthesize(context.Background(), tts.Request{Text: "ようこそ。", Locale: "ja-JP"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	defer audio.Close()

	raw, _ := io.ReadAll(audio)
	if string(raw) != "mp3-premium" {
		t.Fatalf("audio = %q", raw)
	}
	if !strings.HasSuffix(gotPath, "/stream") || !strings.Contains(gotPath, "GxxMAMfQkDlnqjpzjLHH") {
		t.Fatalf("path = %q, want ja voice stream endpoint", gotPath)
	}
	if gotKey != "test-key" {
		t.Fatalf("api key header = %q", gotKey)
	}
	if gotBody.Text != "ようこそ。" || gotBody.ModelID != "eleven_multilingual_v2" {
		t.Fatalf("body = %+v", gotBody)
	}
}

func TestSynthesizeStatusClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{name: "overload", status: http.StatusTooManyRequests, retryable: true},
		{name: "server error", status: http.StatusBadGateway, retryable: true},
		{name: "unauthorized", status: http.StatusUnauthorized, retryable: false},
		{name: "bad request", status: http.StatusUnprocessableEntity, retryable: false},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tc.status)
			}))
			_, err := p.Synthesize(context.Background(), tts.Request{Text: "音声", Locale: "ja"})
			var provErr *tts.Error
			if !errors.As(err, &provErr) {
				t.Fatalf("err = %v, want classified provider error", err)
			}
			if provErr.Status != tc.status || provErr.Retryable() != tc.retryable {
				t.Fatalf("got status=%d retryable=%v, want %d/%v", provErr.Status, provErr.Retryable(), tc.status, tc.retryable)
			}
		})
	}
}

func TestSynthesizeUnmappedLocaleUsesDefaultVoice(t *testing.T) {
	t.Parallel()

	var gotPath string
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte("mp3"))
	}))
	audio, err := p.Synthesize(context.Background(), tts.Request{Text: "bonjour", Locale: "fr-FR"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	audio.Close()
	if !strings.Contains(gotPath, "GxxMAMfQkDlnqjpzjLHH") {
		t.Fatalf("path = %q, want default voice", gotPath)
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected missing api key error")
	}
}
