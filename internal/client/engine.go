// Package client is the conversation engine embedded in the kiosk front
// end: it submits turns, reassembles the frame stream, cuts the growing
// answer into speakable sentences and keeps the playback queue fed. Voice
// input runs through the push-to-talk state machine so recognition and
// playback never overlap.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/liberty/conversation-pipeline/api/wire"
	"github.com/liberty/conversation-pipeline/internal/license"
	"github.com/liberty/conversation-pipeline/internal/speech"
	wirecodec "github.com/liberty/conversation-pipeline/internal/wire"
)

// Config controls the engine.
type Config struct {
	BaseURL string
	Locale  string
	// TurnTimeout bounds one whole turn including streaming.
	TurnTimeout time.Duration
	HTTP        *http.Client
}

func (c Config) withDefaults() Config {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Locale == "" {
		c.Locale = "ja"
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = 2 * time.Minute
	}
	if c.HTTP == nil {
		c.HTTP = &http.Client{}
	}
	return c
}

// Engine drives turns against the pipeline server.
type Engine struct {
	cfg     Config
	license license.Payload
	logger  *zap.Logger

	queue *speech.Queue
	voice *speech.VoiceInput
	// seg persists across turns so sequence numbers stay globally unique
	// for the queue's duplicate rejection.
	seg *speech.Segmenter

	mu         sync.Mutex
	sessionRef string
	history    []wire.Message
}

// New constructs an engine. player receives synthesized audio; speech for
// each sentence is fetched from the server's synthesis endpoint.
func New(cfg Config, lic license.Payload, player speech.Player, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:     cfg,
		license: lic,
		logger:  logger.Named("client"),
		voice:   speech.NewVoiceInput(),
		seg:     speech.NewSegmenter(),
	}
	synth := &remoteSynthesizer{engine: e}
	e.queue = speech.NewQueue(synth, player, logger)
	return e
}

// SessionRef returns the persisted conversation handle, if any.
func (e *Engine) SessionRef() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionRef
}

// RestoreSessionRef seeds the handle from client-side storage.
func (e *Engine) RestoreSessionRef(ref string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessionRef = ref
}

// ClearSession drops the conversation handle and local history.
func (e *Engine) ClearSession() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessionRef = ""
	e.history = nil
}

// WaitForSpeech blocks until queued playback finishes.
func (e *Engine) WaitForSpeech() { e.queue.Wait() }

// Speaking reports whether playback is in progress.
func (e *Engine) Speaking() bool { return e.queue.Speaking() }

// Close stops the playback queue.
func (e *Engine) Close() { e.queue.Close() }

// Ask submits one user turn and blocks until the answer stream ends.
// Sentences are enqueued for playback as soon as they complete; the returned
// turn carries the full text and citations. Turns are sequential; Ask must
// not be called concurrently.
func (e *Engine) Ask(ctx context.Context, text string) (wirecodec.Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return wirecodec.Turn{}, fmt.Errorf("empty question")
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.TurnTimeout)
	defer cancel()

	e.mu.Lock()
	e.history = append(e.history, wire.Message{Role: wire.RoleUser, Content: text, Locale: e.cfg.Locale})
	req := wire.ChatRequest{
		Messages:   append([]wire.Message(nil), e.history...),
		Locale:     e.cfg.Locale,
		License:    e.license,
		SessionRef: e.sessionRef,
	}
	e.mu.Unlock()

	resp, err := e.postJSON(ctx, "/chat/stream", req)
	if err != nil {
		return wirecodec.Turn{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return wirecodec.Turn{}, decodeError(resp)
	}

	seg := e.seg
	seg.Reset()
	dec := wirecodec.NewDecoder(resp.Body)
	turn, err := wirecodec.ReadTurn(dec, func(t wirecodec.Turn) {
		if t.SessionRef != "" {
			e.persistSessionRef(t.SessionRef)
		}
		e.enqueueUnits(seg.Feed(t.Text, false))
	})
	if err != nil {
		return turn, fmt.Errorf("read stream: %w", err)
	}
	if n := dec.Skipped(); n > 0 {
		e.logger.Warn("skipped malformed frames", zap.Int("count", n))
	}
	e.enqueueUnits(seg.Feed(turn.Text, true))

	if turn.Text != "" {
		e.mu.Lock()
		e.history = append(e.history, wire.Message{Role: wire.RoleAssistant, Content: turn.Text})
		e.mu.Unlock()
	}
	return turn, nil
}

// PressToTalk starts voice capture. Rejected while playback or submission is
// in progress.
func (e *Engine) PressToTalk() error {
	e.voice.SetStreaming(e.queue.Speaking())
	return e.voice.Press()
}

// ReleaseToTalk ends voice capture and, given a transcript, submits it as a
// turn.
func (e *Engine) ReleaseToTalk(ctx context.Context, transcript string) (wirecodec.Turn, error) {
	state, err := e.voice.Release(strings.TrimSpace(transcript))
	if err != nil {
		return wirecodec.Turn{}, err
	}
	if state != speech.VoiceSubmitting {
		return wirecodec.Turn{}, nil
	}
	defer e.voice.SubmitDone()
	return e.Ask(ctx, transcript)
}

func (e *Engine) persistSessionRef(ref string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sessionRef != ref {
		e.sessionRef = ref
	}
}

func (e *Engine) enqueueUnits(units []speech.Unit) {
	if len(units) == 0 {
		return
	}
	e.queue.Enqueue(units...)
}

func (e *Engine) postJSON(ctx context.Context, path string, body any) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.cfg.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", path, err)
	}
	return resp, nil
}

func decodeError(resp *http.Response) error {
	defer resp.Body.Close()
	var body wire.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err == nil && body.Message != "" {
		return fmt.Errorf("server status %d: %s", resp.StatusCode, body.Message)
	}
	return fmt.Errorf("server status %d", resp.StatusCode)
}

// remoteSynthesizer fetches MP3 audio for one sentence from the server.
type remoteSynthesizer struct {
	engine *Engine
}

func (r *remoteSynthesizer) Synthesize(ctx context.Context, text string) (io.ReadCloser, error) {
	e := r.engine
	resp, err := e.postJSON(ctx, "/voice/speak", wire.SpeakRequest{
		Text:    text,
		Locale:  e.cfg.Locale,
		License: e.license,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}
	return resp.Body, nil
}
