package account

import (
	"time"

	"github.com/anthropics/cloudcode-relay/internal/config"
)

// RecordSuccess updates modelID's health record after a successful attempt
// (spec §3 Health Record Lifecycle).
func (a *Account) RecordSuccess(modelID string) {
	h := a.healthFor(modelID)
	h.SuccessCount++
	h.ConsecutiveFailures = 0
	h.HealthScore = clampScore(h.HealthScore + 1)
}

// RecordFailure updates modelID's health record after a classified failure
// of the given kind (one of "rate_limit", "auth", "server", "network"),
// auto-disabling the account once consecutiveFailures reaches the
// configured threshold.
func (a *Account) RecordFailure(modelID, kind string, threshold int) {
	h := a.healthFor(modelID)
	h.FailCount++
	h.ConsecutiveFailures++
	h.HealthScore = clampScore(h.HealthScore - config.HealthPenalty(kind))
	h.LastFailureAt = time.Now()

	if h.ConsecutiveFailures >= threshold {
		a.Enabled = false
	}
}

// MaybeAutoRecover re-enables an account that was auto-disabled for
// consecutive failures once autoRecoveryMs has elapsed since the last one,
// for any model. Pool-wide enabled/disabled is a single flag, so recovery
// looks at the most recent failure across all models.
func (a *Account) MaybeAutoRecover(autoRecoveryMs int64) {
	if a.Enabled {
		return
	}
	var lastFailure time.Time
	for _, h := range a.ModelHealth {
		if h.LastFailureAt.After(lastFailure) {
			lastFailure = h.LastFailureAt
		}
	}
	if lastFailure.IsZero() {
		return
	}
	if time.Since(lastFailure) >= time.Duration(autoRecoveryMs)*time.Millisecond {
		a.Enabled = true
		for _, h := range a.ModelHealth {
			h.ConsecutiveFailures = 0
		}
	}
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

// MarkRateLimited idempotently records a rate-limit hit for modelID,
// keeping the later of any existing resetTime and the new one (spec §4.2).
func (a *Account) MarkRateLimited(modelID string, resetTime time.Time, reason string) {
	if a.ModelRateLimits == nil {
		a.ModelRateLimits = make(map[string]*ModelRateLimit)
	}
	rl, ok := a.ModelRateLimits[modelID]
	if !ok {
		rl = &ModelRateLimit{}
		a.ModelRateLimits[modelID] = rl
	}
	if rl.IsRateLimited && rl.ResetTime.After(resetTime) {
		resetTime = rl.ResetTime
	}
	rl.IsRateLimited = true
	rl.ResetTime = resetTime
	rl.HitAt = time.Now()
	rl.Reason = reason
}
