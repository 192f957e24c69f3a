// Package orchestrator runs one conversational turn end to end: license and
// quota admission, thread resolution against the external assistant service,
// run start and polling, delta emission, and fire-and-forget usage
// accounting. One orchestrator serves all tenants; per-tenant session state
// lives in an internal store keyed by tenant id.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/liberty/conversation-pipeline/api/wire"
	"github.com/liberty/conversation-pipeline/internal/assistant"
	"github.com/liberty/conversation-pipeline/internal/ledger"
	"github.com/liberty/conversation-pipeline/internal/license"
	"github.com/liberty/conversation-pipeline/internal/quota"
	"github.com/liberty/conversation-pipeline/internal/retry"
	wirecodec "github.com/liberty/conversation-pipeline/internal/wire"
)

// State is the turn lifecycle position.
type State string

const (
	StateIdle          State = "idle"
	StateQuotaChecking State = "quota_checking"
	StateDispatching   State = "dispatching"
	StateStreaming     State = "streaming"
	StateFinalizing    State = "finalizing"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
)

var turnTransitions = map[State][]State{
	StateIdle:          {StateQuotaChecking},
	StateQuotaChecking: {StateDispatching, StateFailed},
	StateDispatching:   {StateStreaming, StateFailed},
	StateStreaming:     {StateFinalizing, StateFailed},
	StateFinalizing:    {StateCompleted, StateFailed},
}

// Config controls orchestrator behavior. Zero values take the defaults
// below; Now and Sleep are injectable for deterministic tests.
type Config struct {
	PollInterval    time.Duration
	PollTimeout     time.Duration
	DeltaChunkRunes int
	Retry           retry.Options
	Now             func() time.Time
	Sleep           func(ctx context.Context, d time.Duration) error
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 60 * time.Second
	}
	if c.DeltaChunkRunes < 1 {
		c.DeltaChunkRunes = 120
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Sleep == nil {
		c.Sleep = func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		}
	}
	return c
}

// RequestMeta is the request context attached to error-ledger entries.
type RequestMeta struct {
	Path      string
	UserAgent string
	IP        string
}

// Input is one turn's worth of request data.
type Input struct {
	License    license.Payload
	UserText   string
	Locale     string
	SessionRef string
	Request    RequestMeta
}

// Result summarizes a completed turn.
type Result struct {
	SessionRef string
	Text       string
	Citations  []wire.Citation
}

// Emitter receives the turn's output frames.
type Emitter interface {
	WriteDelta(delta string) error
	WriteDone(citations []wire.Citation) error
}

// OpenStream is called exactly once per successful turn, after the answer is
// known, with the resolved session ref. Failures before the answer therefore
// never produce partial output; the caller can still map them to a plain
// error response.
type OpenStream func(sessionRef string) (Emitter, error)

// Orchestrator drives conversational turns against the assistant boundary.
type Orchestrator struct {
	client   assistant.Client
	guard    *quota.Guard
	recorder *ledger.Recorder
	cfg      Config
	logger   *zap.Logger
	sessions *sessionStore
}

// New constructs an orchestrator. recorder may be nil when accounting is
// disabled.
func New(client assistant.Client, guard *quota.Guard, recorder *ledger.Recorder, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		client:   client,
		guard:    guard,
		recorder: recorder,
		cfg:      cfg.withDefaults(),
		logger:   logger.Named("orchestrator"),
		sessions: newSessionStore(),
	}
}

// Session returns a copy of the tenant's session, if one exists.
func (o *Orchestrator) Session(tenantID string) (Session, bool) {
	return o.sessions.get(tenantID)
}

// ResetSession drops the tenant's session so the next turn starts a fresh
// thread.
func (o *Orchestrator) ResetSession(tenantID string) {
	o.sessions.reset(tenantID)
}

// RunTurn executes one turn. Admission failures and dispatch failures return
// before open is called; once open succeeds the full answer is emitted as
// delta frames followed by a single done frame.
func (o *Orchestrator) RunTurn(ctx context.Context, in Input, open OpenStream) (Result, error) {
	tenant := in.License.TenantID()
	t := o.newTurn(tenant)

	t.advance(StateQuotaChecking)
	if in.License.Expired(o.cfg.Now()) || !in.License.Feature(license.FeatureChat) {
		err := &FeatureDisabledError{Feature: license.FeatureChat}
		o.fail(t, in, tenant, err)
		return Result{}, err
	}
	status := o.guard.Check(ctx, tenant, quota.MetricChat)
	if !status.Allowed {
		err := &QuotaExceededError{Used: status.Used, Limit: status.Limit, ResetAt: status.ResetAt}
		o.fail(t, in, tenant, err)
		return Result{}, err
	}

	t.advance(StateDispatching)
	o.sessions.ensure(tenant, o.cfg.Now())
	threadRef, err := o.resolveThread(ctx, tenant, in.SessionRef)
	if err != nil {
		o.fail(t, in, tenant, err)
		return Result{}, fmt.Errorf("resolve thread: %w", err)
	}
	if _, err := dispatchWithRetry(ctx, o, "messages.append", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.client.AppendUserMessage(ctx, threadRef, in.UserText)
	}); err != nil {
		o.fail(t, in, tenant, err)
		return Result{}, fmt.Errorf("append message: %w", err)
	}
	runID, err := dispatchWithRetry(ctx, o, "runs.start", func(ctx context.Context) (string, error) {
		return o.client.StartRun(ctx, threadRef)
	})
	if err != nil {
		o.fail(t, in, tenant, err)
		return Result{}, fmt.Errorf("start run: %w", err)
	}

	t.advance(StateStreaming)
	if err := o.awaitRun(ctx, threadRef, runID); err != nil {
		o.fail(t, in, tenant, err)
		return Result{}, fmt.Errorf("await run: %w", err)
	}
	answer, err := dispatchWithRetry(ctx, o, "messages.final", func(ctx context.Context) (assistant.Answer, error) {
		return o.client.FinalAnswer(ctx, threadRef)
	})
	if err != nil {
		o.fail(t, in, tenant, err)
		return Result{}, fmt.Errorf("read answer: %w", err)
	}

	em, err := open(threadRef)
	if err != nil {
		o.fail(t, in, tenant, err)
		return Result{}, fmt.Errorf("open stream: %w", err)
	}
	for _, chunk := range wirecodec.ChunkText(answer.Text, o.cfg.DeltaChunkRunes) {
		if err := em.WriteDelta(chunk); err != nil {
			o.fail(t, in, tenant, err)
			return Result{}, fmt.Errorf("write delta: %w", err)
		}
	}

	t.advance(StateFinalizing)
	citations := toWireCitations(answer.Citations)
	if err := em.WriteDone(citations); err != nil {
		o.fail(t, in, tenant, err)
		return Result{}, fmt.Errorf("write done: %w", err)
	}

	o.sessions.commit(tenant, threadRef, o.cfg.Now())
	o.recordUsage(tenant, in, answer, threadRef)
	t.advance(StateCompleted)
	return Result{SessionRef: threadRef, Text: answer.Text, Citations: citations}, nil
}

// resolveThread reuses the requested or cached thread when the service still
// knows it and transparently starts a fresh one otherwise. The caller never
// sees the difference beyond a changed session ref.
func (o *Orchestrator) resolveThread(ctx context.Context, tenant, requested string) (string, error) {
	ref := requested
	if ref == "" {
		if sess, ok := o.sessions.get(tenant); ok {
			ref = sess.ThreadRef
		}
	}
	if ref != "" {
		alive, err := dispatchWithRetry(ctx, o, "threads.check", func(ctx context.Context) (bool, error) {
			return o.client.ThreadAlive(ctx, ref)
		})
		if err == nil && alive {
			return ref, nil
		}
		if err != nil {
			o.logger.Warn("thread liveness check failed, starting fresh",
				zap.String("tenant", tenant), zap.Error(err))
		} else {
			o.logger.Info("thread expired, starting fresh", zap.String("tenant", tenant))
		}
	}
	return dispatchWithRetry(ctx, o, "threads.create", func(ctx context.Context) (string, error) {
		return o.client.CreateThread(ctx)
	})
}

func (o *Orchestrator) awaitRun(ctx context.Context, threadRef, runID string) error {
	deadline := o.cfg.Now().Add(o.cfg.PollTimeout)
	for {
		status, err := dispatchWithRetry(ctx, o, "runs.poll", func(ctx context.Context) (assistant.RunStatus, error) {
			return o.client.PollRun(ctx, threadRef, runID)
		})
		if err != nil {
			return err
		}
		if status.Terminal() {
			if status != assistant.RunCompleted {
				return assistant.NewError(assistant.KindUnavailable, 0,
					fmt.Sprintf("run ended with status %s", status), nil)
			}
			return nil
		}
		if o.cfg.Now().After(deadline) {
			return assistant.NewError(assistant.KindUnavailable, 0, "run did not finish in time", nil)
		}
		if err := o.cfg.Sleep(ctx, o.cfg.PollInterval); err != nil {
			return err
		}
	}
}

// dispatchWithRetry hands the call to the backoff executor but stops the run
// as soon as the adapter classifies a failure as not retryable.
func dispatchWithRetry[T any](ctx context.Context, o *Orchestrator, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	retryCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var fatal error
	opts := o.cfg.Retry
	opts.OnRetry = func(err error, attempt int) {
		if fatal != nil {
			return
		}
		o.logger.Warn("assistant call failed, retrying",
			zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
	}
	out, err := retry.Execute(retryCtx, func(ctx context.Context) (T, error) {
		v, err := fn(ctx)
		if err != nil && !assistant.IsRetryable(err) {
			fatal = err
			cancel()
		}
		return v, err
	}, opts)
	if fatal != nil {
		return out, fatal
	}
	return out, err
}

func (o *Orchestrator) fail(t *turn, in Input, tenant string, err error) {
	t.advance(StateFailed)
	o.logger.Error("turn failed", zap.String("tenant", tenant), zap.Error(err))
	if o.recorder == nil {
		return
	}
	o.recorder.RecordError(ledger.ErrorLog{
		TenantID:     tenant,
		ErrorType:    errorType(err),
		ErrorMessage: err.Error(),
		RequestPath:  in.Request.Path,
		UserAgent:    in.Request.UserAgent,
		IPAddress:    in.Request.IP,
		Timestamp:    o.cfg.Now(),
	})
}

func (o *Orchestrator) recordUsage(tenant string, in Input, answer assistant.Answer, threadRef string) {
	if o.recorder == nil {
		return
	}
	o.recorder.RecordUsage(ledger.UsageEvent{
		TenantID:  tenant,
		EventType: ledger.EventChatTurn,
		EventData: map[string]any{
			"question_length": len([]rune(in.UserText)),
			"answer_length":   len([]rune(answer.Text)),
			"citations":       len(answer.Citations),
			"thread_ref":      threadRef,
			"locale":          in.Locale,
		},
		Timestamp: o.cfg.Now(),
	})
}

func errorType(err error) string {
	var feature *FeatureDisabledError
	var exceeded *QuotaExceededError
	var adapterErr *assistant.Error
	switch {
	case errors.As(err, &feature):
		return "feature_disabled"
	case errors.As(err, &exceeded):
		return "quota_exceeded"
	case errors.As(err, &adapterErr):
		return string(adapterErr.Kind)
	default:
		return "internal"
	}
}

func toWireCitations(in []assistant.Citation) []wire.Citation {
	if len(in) == 0 {
		return nil
	}
	out := make([]wire.Citation, 0, len(in))
	for _, c := range in {
		title := c.Filename
		if title == "" {
			title = c.FileID
		}
		out = append(out, wire.Citation{Title: title})
	}
	return out
}

type turn struct {
	state  State
	logger *zap.Logger
}

func (o *Orchestrator) newTurn(tenant string) *turn {
	return &turn{
		state: StateIdle,
		logger: o.logger.With(
			zap.String("tenant", tenant),
			zap.String("turn_id", uuid.NewString())),
	}
}

func (t *turn) advance(next State) {
	legal := false
	for _, s := range turnTransitions[t.state] {
		if s == next {
			legal = true
			break
		}
	}
	if !legal {
		t.logger.DPanic("illegal turn transition",
			zap.String("from", string(t.state)), zap.String("to", string(next)))
	}
	t.logger.Debug("turn state", zap.String("from", string(t.state)), zap.String("to", string(next)))
	t.state = next
}
