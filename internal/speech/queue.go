package speech

import (
	"context"
	"io"
	"sync"

	"go.uber.org/zap"
)

// Synthesizer produces playable audio for one sentence. Implementations are
// network clients; calls may be slow.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (io.ReadCloser, error)
}

// Player plays one audio stream to completion before returning.
type Player interface {
	Play(ctx context.Context, audio io.Reader) error
}

// Queue is the single-consumer speech queue. Units are appended in sequence
// order with duplicates rejected; one drain goroutine at a time consumes
// them FIFO, holding the speaking flag for the whole drain session and
// re-checking the queue after each unit. Per unit the consumer synthesizes,
// plays to completion, then releases the audio before pulling the next
// unit — unit n+1 never starts before unit n's playback has ended.
//
// A new turn does not purge a previous turn's unconsumed units; callers that
// want interruption call Reset explicitly.
type Queue struct {
	synth  Synthesizer
	player Player
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	cond     *sync.Cond
	items    []Unit
	enqueued map[int]bool
	speaking bool
	closed   bool
}

// NewQueue constructs a stopped queue; the drain goroutine starts on the
// first enqueue.
func NewQueue(synth Synthesizer, player Player, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		synth:    synth,
		player:   player,
		logger:   logger.Named("speech"),
		ctx:      ctx,
		cancel:   cancel,
		enqueued: make(map[int]bool),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends units in order, rejecting any sequence number it has seen
// before, and starts a drain session if none is running. It returns the
// number of units accepted.
func (q *Queue) Enqueue(units ...Unit) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0
	}

	accepted := 0
	for _, unit := range units {
		if unit.Text == "" || q.enqueued[unit.SequenceNo] {
			continue
		}
		q.enqueued[unit.SequenceNo] = true
		q.items = append(q.items, unit)
		accepted++
	}
	if accepted > 0 && !q.speaking {
		q.speaking = true
		go q.drain()
	}
	return accepted
}

// Speaking reports whether a drain session is active.
func (q *Queue) Speaking() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.speaking
}

// Pending reports the number of queued, unconsumed units.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Wait blocks until the queue is empty and the speaking flag is cleared.
func (q *Queue) Wait() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.speaking {
		q.cond.Wait()
	}
}

// Reset drops all pending units. The unit currently being spoken, if any,
// finishes; interruption of in-flight playback is the caller's concern.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

// Close cancels in-flight synthesis/playback and waits for the drain
// session to end.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	q.cancel()
	q.Wait()
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.speaking = false
			q.cond.Broadcast()
			q.mu.Unlock()
			return
		}
		unit := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		q.speak(unit)
	}
}

// speak synthesizes and plays one unit. Failures abandon the unit and let
// the drain session continue with the next one rather than stalling.
func (q *Queue) speak(unit Unit) {
	audio, err := q.synth.Synthesize(q.ctx, unit.Text)
	if err != nil {
		q.logger.Warn("synthesis failed, unit abandoned",
			zap.Int("sequence", unit.SequenceNo), zap.Error(err))
		return
	}
	defer audio.Close()

	if err := q.player.Play(q.ctx, audio); err != nil {
		q.logger.Warn("playback failed, unit abandoned",
			zap.Int("sequence", unit.SequenceNo), zap.Error(err))
	}
}
