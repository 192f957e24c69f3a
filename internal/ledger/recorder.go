package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// RecorderConfig controls the bounded write-behind queue.
type RecorderConfig struct {
	QueueCapacity int
	WriteTimeout  time.Duration
}

func (c RecorderConfig) withDefaults() RecorderConfig {
	if c.QueueCapacity < 1 {
		c.QueueCapacity = 256
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 2 * time.Second
	}
	return c
}

// RecorderStats captures recorder counters.
type RecorderStats struct {
	Enqueued      uint64
	Dropped       uint64
	Written       uint64
	WriteFailures uint64
	QueueDepth    int
}

type recordEntry struct {
	usage    *UsageEvent
	errorLog *ErrorLog
}

// Recorder performs fire-and-forget ledger writes. Enqueueing never blocks
// and never fails the caller; a full queue or a down sink costs an entry and
// a log line, nothing more.
type Recorder struct {
	sink   Sink
	cfg    RecorderConfig
	logger *zap.Logger

	queue chan recordEntry
	stop  chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup

	enqueued      atomic.Uint64
	dropped       atomic.Uint64
	written       atomic.Uint64
	writeFailures atomic.Uint64
}

// NewRecorder constructs and starts a recorder draining into sink.
func NewRecorder(sink Sink, cfg RecorderConfig, logger *zap.Logger) *Recorder {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{
		sink:   sink,
		cfg:    cfg,
		logger: logger.Named("ledger"),
		queue:  make(chan recordEntry, cfg.QueueCapacity),
		stop:   make(chan struct{}),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// RecordUsage enqueues a usage event without blocking.
func (r *Recorder) RecordUsage(event UsageEvent) {
	r.enqueue(recordEntry{usage: &event})
}

// RecordError enqueues an error-log entry without blocking.
func (r *Recorder) RecordError(entry ErrorLog) {
	r.enqueue(recordEntry{errorLog: &entry})
}

// Close drains pending entries and stops the background writer.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		close(r.stop)
		r.wg.Wait()
	})
	return nil
}

// Stats returns current counter snapshots.
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Enqueued:      r.enqueued.Load(),
		Dropped:       r.dropped.Load(),
		Written:       r.written.Load(),
		WriteFailures: r.writeFailures.Load(),
		QueueDepth:    len(r.queue),
	}
}

func (r *Recorder) enqueue(entry recordEntry) {
	select {
	case r.queue <- entry:
		r.enqueued.Add(1)
	default:
		r.dropped.Add(1)
		r.logger.Warn("ledger queue full, entry dropped")
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for {
		select {
		case entry := <-r.queue:
			r.write(entry)
		case <-r.stop:
			for {
				select {
				case entry := <-r.queue:
					r.write(entry)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(entry recordEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.WriteTimeout)
	defer cancel()

	var err error
	switch {
	case entry.usage != nil:
		err = r.sink.AppendUsage(ctx, *entry.usage)
	case entry.errorLog != nil:
		err = r.sink.AppendErrorLog(ctx, *entry.errorLog)
	default:
		return
	}
	if err != nil {
		r.writeFailures.Add(1)
		r.logger.Warn("ledger write failed", zap.Error(err))
		return
	}
	r.written.Add(1)
}
