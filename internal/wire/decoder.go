package wirecodec

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/liberty/conversation-pipeline/api/wire"
)

// Decoder reads frames from a chunked byte stream. Lines split across reads
// are re-buffered and parsed only when complete; an unparsable line is a
// protocol desync, counted and skipped, never fatal.
type Decoder struct {
	r       *bufio.Reader
	pending error
	skipped int
}

// NewDecoder wraps r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next returns the next decoded frame, or io.EOF when the stream ends.
func (d *Decoder) Next() (wire.Frame, error) {
	if d.pending != nil {
		err := d.pending
		d.pending = nil
		return wire.Frame{}, err
	}
	for {
		line, err := d.r.ReadString('\n')
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			var frame wire.Frame
			if jsonErr := json.Unmarshal([]byte(trimmed), &frame); jsonErr != nil {
				d.skipped++
				if err != nil {
					return wire.Frame{}, err
				}
				continue
			}
			if err != nil {
				// Hold the stream-end error until the caller asks again.
				d.pending = err
			}
			return frame, nil
		}
		if err != nil {
			return wire.Frame{}, err
		}
	}
}

// Skipped reports how many unparsable lines were dropped.
func (d *Decoder) Skipped() int {
	return d.skipped
}

// Turn is the live assistant message being reassembled from delta frames.
// It grows while streaming and is frozen once finalized.
type Turn struct {
	Text       string
	Citations  []wire.Citation
	SessionRef string
	// Complete means the done frame arrived. A turn finalized at stream end
	// without a done frame has Finalized true and Complete false.
	Complete  bool
	Finalized bool
}

// Apply folds one frame into the turn. Frames after finalization are
// ignored.
func (t *Turn) Apply(frame wire.Frame) {
	if t.Finalized {
		return
	}
	if frame.SessionRef != "" && t.SessionRef == "" {
		t.SessionRef = frame.SessionRef
	}
	t.Text += frame.Delta
	if frame.Citations != nil {
		t.Citations = frame.Citations
	}
	if frame.Done {
		t.Complete = true
		t.Finalized = true
	}
}

// FinalizeAtStreamEnd freezes the turn when the stream ended without a done
// frame. Whatever text accumulated stands; partial failure is tolerated.
func (t *Turn) FinalizeAtStreamEnd() {
	t.Finalized = true
}

// ReadTurn drains dec into a turn, invoking onFrame (if non-nil) after each
// applied frame. The turn is finalized either by the done frame or by stream
// end, whichever comes first.
func ReadTurn(dec *Decoder, onFrame func(Turn)) (Turn, error) {
	var turn Turn
	for {
		frame, err := dec.Next()
		if err != nil {
			if err == io.EOF {
				turn.FinalizeAtStreamEnd()
				return turn, nil
			}
			turn.FinalizeAtStreamEnd()
			return turn, err
		}
		turn.Apply(frame)
		if onFrame != nil {
			onFrame(turn)
		}
		if turn.Finalized {
			return turn, nil
		}
	}
}
