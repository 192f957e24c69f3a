package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"github.com/liberty/conversation-pipeline/api/wire"
	"github.com/liberty/conversation-pipeline/internal/license"
)

type memoryPlayer struct {
	mu     sync.Mutex
	spoken []string
}

func (p *memoryPlayer) Play(ctx context.Context, audio io.Reader) error {
	raw, err := io.ReadAll(audio)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.spoken = append(p.spoken, strings.TrimPrefix(string(raw), "mp3:"))
	p.mu.Unlock()
	return nil
}

func (p *memoryPlayer) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.spoken...)
}

type serverScript struct {
	mu         sync.Mutex
	frames     [][]wire.Frame
	turn       int
	chatReqs   []wire.ChatRequest
	speakTexts []string
	chatStatus int
	chatErr    wire.ErrorResponse
}

func (s *serverScript) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat/stream", func(w http.ResponseWriter, r *http.Request) {
		var req wire.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.chatReqs = append(s.chatReqs, req)
		if s.chatStatus != 0 {
			status, body := s.chatStatus, s.chatErr
			s.mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(body)
			return
		}
		frames := s.frames[s.turn%len(s.frames)]
		s.turn++
		s.mu.Unlock()

		w.Header().Set("Content-Type", wire.ContentType)
		w.WriteHeader(http.StatusOK)
		enc := json.NewEncoder(w)
		for _, f := range frames {
			enc.Encode(f)
			if fl, ok := w.(http.Flusher); ok {
				fl.Flush()
			}
		}
	})
	mux.HandleFunc("POST /voice/speak", func(w http.ResponseWriter, r *http.Request) {
		var req wire.SpeakRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.speakTexts = append(s.speakTexts, req.Text)
		s.mu.Unlock()
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("mp3:" + req.Text))
	})
	return mux
}

func testLicense() license.Payload {
	return license.Payload{
		LicenseKey: "LIB-TEST-0001",
		CompanyID:  "acme",
		Features:   license.Features{Chat: true, TTS: true},
	}
}

func newTestEngine(t *testing.T, script *serverScript, player *memoryPlayer) *Engine {
	t.Helper()
	srv := httptest.NewServer(script.handler())
	t.Cleanup(srv.Close)
	e := New(Config{BaseURL: srv.URL, Locale: "ja", HTTP: srv.Client()}, testLicense(), player, nil)
	t.Cleanup(e.Close)
	return e
}

func TestAskReassemblesAnswerAndSpeaksSentencesInOrder(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	script := &serverScript{frames: [][]wire.Frame{{
		{Delta: "本製品は高耐久", SessionRef: "thread_1"},
		{Delta: "設計です。詳細は"},
		{Delta: "資料をご覧ください。"},
		{Done: true, Citations: []wire.Citation{{Title: "onboarding-guide.pdf"}}},
	}}}
	player := &memoryPlayer{}
	e := newTestEngine(t, script, player)

	turn, err := e.Ask(context.Background(), "耐久性は？")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	e.WaitForSpeech()

	if turn.Text != "本製品は高耐久設計です。詳細は資料をご覧ください。" {
		t.Fatalf("turn text = %q", turn.Text)
	}
	if !turn.Complete || len(turn.Citations) != 1 {
		t.Fatalf("turn not complete: %+v", turn)
	}
	if e.SessionRef() != "thread_1" {
		t.Fatalf("session ref = %q", e.SessionRef())
	}

	spoken := player.snapshot()
	want := []string{"本製品は高耐久設計です。", "詳細は資料をご覧ください。"}
	if len(spoken) != len(want) {
		t.Fatalf("spoken = %v, want %v", spoken, want)
	}
	for i := range want {
		if spoken[i] != want[i] {
			t.Fatalf("order violation: %v", spoken)
		}
	}
}

func TestAskCarriesSessionRefAndHistoryForward(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	script := &serverScript{frames: [][]wire.Frame{
		{{Delta: "一回目の回答。", SessionRef: "thread_1"}, {Done: true}},
		{{Delta: "二回目の回答。", SessionRef: "thread_1"}, {Done: true}},
	}}
	player := &memoryPlayer{}
	e := newTestEngine(t, script, player)

	if _, err := e.Ask(context.Background(), "最初の質問"); err != nil {
		t.Fatalf("first ask: %v", err)
	}
	if _, err := e.Ask(context.Background(), "次の質問"); err != nil {
		t.Fatalf("second ask: %v", err)
	}
	e.WaitForSpeech()

	if len(script.chatReqs) != 2 {
		t.Fatalf("chat requests = %d", len(script.chatReqs))
	}
	second := script.chatReqs[1]
	if second.SessionRef != "thread_1" {
		t.Fatalf("second request session ref = %q", second.SessionRef)
	}
	// user, assistant, user
	if len(second.Messages) != 3 || second.Messages[1].Role != wire.RoleAssistant {
		t.Fatalf("history not carried: %+v", second.Messages)
	}
}

func TestAskFinalizesPartialStreamWithoutDone(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	script := &serverScript{frames: [][]wire.Frame{{
		{Delta: "途中までの回答", SessionRef: "thread_1"},
	}}}
	player := &memoryPlayer{}
	e := newTestEngine(t, script, player)

	turn, err := e.Ask(context.Background(), "質問")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	e.WaitForSpeech()

	if turn.Complete || !turn.Finalized {
		t.Fatalf("expected soft finalize, got %+v", turn)
	}
	if turn.Text != "途中までの回答" {
		t.Fatalf("turn text = %q", turn.Text)
	}
	// The held-back fragment is flushed once the stream ends.
	spoken := player.snapshot()
	if len(spoken) != 1 || spoken[0] != "途中までの回答" {
		t.Fatalf("spoken = %v", spoken)
	}
}

func TestAskSurfacesServerErrors(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	script := &serverScript{
		chatStatus: http.StatusTooManyRequests,
		chatErr:    wire.ErrorResponse{Message: "monthly quota exceeded"},
	}
	e := newTestEngine(t, script, &memoryPlayer{})

	_, err := e.Ask(context.Background(), "質問")
	if err == nil || !strings.Contains(err.Error(), "monthly quota exceeded") {
		t.Fatalf("err = %v", err)
	}
}

func TestPushToTalkLifecycle(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	script := &serverScript{frames: [][]wire.Frame{{
		{Delta: "はい、聞こえています。", SessionRef: "thread_1"},
		{Done: true},
	}}}
	player := &memoryPlayer{}
	e := newTestEngine(t, script, player)

	if err := e.PressToTalk(); err != nil {
		t.Fatalf("press: %v", err)
	}
	turn, err := e.ReleaseToTalk(context.Background(), "聞こえますか")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if turn.Text == "" {
		t.Fatalf("transcript was not submitted")
	}
	e.WaitForSpeech()

	// Empty transcripts are discarded without a request.
	if err := e.PressToTalk(); err != nil {
		t.Fatalf("press again: %v", err)
	}
	turn, err = e.ReleaseToTalk(context.Background(), "   ")
	if err != nil || turn.Text != "" {
		t.Fatalf("empty release: turn=%+v err=%v", turn, err)
	}
	if len(script.chatReqs) != 1 {
		t.Fatalf("chat requests = %d, want 1", len(script.chatReqs))
	}
}

func TestClearSessionStartsFresh(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	script := &serverScript{frames: [][]wire.Frame{
		{{Delta: "回答。", SessionRef: "thread_1"}, {Done: true}},
	}}
	e := newTestEngine(t, script, &memoryPlayer{})

	if _, err := e.Ask(context.Background(), "質問"); err != nil {
		t.Fatalf("ask: %v", err)
	}
	e.WaitForSpeech()
	e.ClearSession()

	if e.SessionRef() != "" {
		t.Fatalf("session ref survived clear")
	}
	if _, err := e.Ask(context.Background(), "新しい質問"); err != nil {
		t.Fatalf("ask after clear: %v", err)
	}
	e.WaitForSpeech()
	if got := script.chatReqs[1]; got.SessionRef != "" || len(got.Messages) != 1 {
		t.Fatalf("stale session leaked: %+v", got)
	}
}
