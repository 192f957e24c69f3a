// Package ledger is the pipeline's view of the external usage ledger: an
// append-only sink for usage and error events plus the per-tenant quota
// rows derived from it. The ledger provides its own atomicity for
// increments; this package never mutates quota rows directly.
package ledger

import (
	"context"
	"time"
)

// Usage event types appended after a turn completes.
const (
	EventChatTurn       = "chat_turn"
	EventSpeechSynthesis = "speech_synthesis"
)

// QuotaRecord is the current-period usage row for one tenant and metric.
type QuotaRecord struct {
	TenantID    string
	Metric      string
	PeriodStart time.Time
	Used        int
	Limit       int
}

// UsageEvent is one append-only usage entry.
type UsageEvent struct {
	TenantID  string
	EventType string
	EventData map[string]any
	Timestamp time.Time
}

// ErrorLog is one append-only error entry with request context attached for
// operability.
type ErrorLog struct {
	TenantID     string
	ErrorType    string
	ErrorMessage string
	RequestPath  string
	UserAgent    string
	IPAddress    string
	Timestamp    time.Time
}

// Sink is the external ledger boundary. Implementations live outside this
// core; tests use in-memory fakes.
type Sink interface {
	ReadQuota(ctx context.Context, tenantID, metric string) (QuotaRecord, error)
	AppendUsage(ctx context.Context, event UsageEvent) error
	AppendErrorLog(ctx context.Context, entry ErrorLog) error
}
