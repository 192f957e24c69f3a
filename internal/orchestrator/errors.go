package orchestrator

import (
	"fmt"
	"time"
)

// FeatureDisabledError fails a turn before any external call when the
// tenant's chat feature is off or the license has lapsed.
type FeatureDisabledError struct {
	Feature string
}

func (e *FeatureDisabledError) Error() string {
	return fmt.Sprintf("feature %q is disabled for this license", e.Feature)
}

// QuotaExceededError carries the usage context the client displays.
type QuotaExceededError struct {
	Used    int
	Limit   int
	ResetAt time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("monthly quota exceeded (%d/%d), resets %s",
		e.Used, e.Limit, e.ResetAt.Format("2006-01-02"))
}
