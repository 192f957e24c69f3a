// Package wirecodec reads and writes the turn protocol: newline-delimited
// JSON frames over a chunked response body.
package wirecodec

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"unicode/utf8"

	"github.com/liberty/conversation-pipeline/api/wire"
)

// Encoder serializes frames for one turn. The session ref rides on the first
// frame so the client can persist it before the turn finishes; exactly one
// done frame terminates the turn.
type Encoder struct {
	w          io.Writer
	flusher    http.Flusher
	sessionRef string
	wroteFirst bool
	wroteDone  bool
}

// NewEncoder wraps w for one turn. sessionRef may be empty. When w is an
// http.ResponseWriter the stream is flushed after every frame.
func NewEncoder(w io.Writer, sessionRef string) *Encoder {
	flusher, _ := w.(http.Flusher)
	return &Encoder{w: w, flusher: flusher, sessionRef: sessionRef}
}

// WriteDelta emits one delta frame. Empty deltas are dropped.
func (e *Encoder) WriteDelta(delta string) error {
	if delta == "" {
		return nil
	}
	return e.write(wire.Frame{Delta: delta})
}

// WriteDone emits the terminal frame carrying the citations. A second call
// is a protocol bug and fails.
func (e *Encoder) WriteDone(citations []wire.Citation) error {
	if e.wroteDone {
		return fmt.Errorf("done frame already written")
	}
	e.wroteDone = true
	return e.write(wire.Frame{Citations: citations, Done: true})
}

func (e *Encoder) write(frame wire.Frame) error {
	if !e.wroteFirst {
		frame.SessionRef = e.sessionRef
		e.wroteFirst = true
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if _, err := e.w.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}

// ChunkText splits text into delta-sized slices on rune boundaries. The
// split size is a latency knob, not part of the protocol contract:
// concatenation of the chunks always equals text.
func ChunkText(text string, maxRunes int) []string {
	if text == "" {
		return nil
	}
	if maxRunes < 1 || utf8.RuneCountInString(text) <= maxRunes {
		return []string{text}
	}
	var chunks []string
	current := make([]rune, 0, maxRunes)
	for _, r := range text {
		current = append(current, r)
		if len(current) == maxRunes {
			chunks = append(chunks, string(current))
			current = current[:0]
		}
	}
	if len(current) > 0 {
		chunks = append(chunks, string(current))
	}
	return chunks
}
