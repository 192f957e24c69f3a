// Package quota enforces per-tenant monthly usage limits read from the
// external usage ledger. The guard is fail-open: an accounting outage must
// never block the conversation pipeline.
package quota

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/liberty/conversation-pipeline/internal/ledger"
)

// Metrics tracked by the ledger.
const (
	MetricChat            = "chat"
	MetricVideo           = "video"
	MetricKnowledgeUpload = "knowledge_upload"
)

// Conservative limits assumed when the ledger cannot be read.
const (
	defaultChatLimit            = 1000
	defaultVideoLimit           = 500
	defaultKnowledgeUploadLimit = 100
)

// Status is the outcome of one quota check.
type Status struct {
	Allowed bool
	Used    int
	Limit   int
	ResetAt time.Time
}

// Config controls guard behavior. Now is injectable for deterministic tests.
type Config struct {
	Now func() time.Time
}

// Guard reads current-period quota rows and decides admission.
type Guard struct {
	sink   ledger.Sink
	now    func() time.Time
	logger *zap.Logger
}

// NewGuard constructs a guard over the given ledger sink.
func NewGuard(sink ledger.Sink, cfg Config, logger *zap.Logger) *Guard {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{sink: sink, now: cfg.Now, logger: logger.Named("quota")}
}

// Check reads the tenant's current-period record for metric and reports
// whether the operation is allowed. Any read failure, including a missing
// record, fails open with the metric's conservative default limit. The guard
// never increments usage; the orchestrator records usage after the turn.
func (g *Guard) Check(ctx context.Context, tenantID, metric string) Status {
	resetAt := nextMonthStart(g.now())

	record, err := g.sink.ReadQuota(ctx, tenantID, metric)
	if err != nil {
		g.logger.Warn("quota read failed, failing open",
			zap.String("tenant", tenantID),
			zap.String("metric", metric),
			zap.Error(err))
		return Status{Allowed: true, Used: 0, Limit: defaultLimit(metric), ResetAt: resetAt}
	}

	return Status{
		Allowed: record.Used < record.Limit,
		Used:    record.Used,
		Limit:   record.Limit,
		ResetAt: resetAt,
	}
}

func defaultLimit(metric string) int {
	switch metric {
	case MetricVideo:
		return defaultVideoLimit
	case MetricKnowledgeUpload:
		return defaultKnowledgeUploadLimit
	default:
		return defaultChatLimit
	}
}

// nextMonthStart returns the first instant of the next calendar month in the
// reference clock's location.
func nextMonthStart(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, now.Location())
}
