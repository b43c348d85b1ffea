// Package strategies implements the four account-selection strategies
// described in spec §4.1, all behind one Strategy interface so the
// controller can treat them interchangeably.
package strategies

import (
	"time"

	"github.com/anthropics/cloudcode-relay/internal/account"
	"github.com/anthropics/cloudcode-relay/internal/config"
	"github.com/anthropics/cloudcode-relay/internal/utils"
)

// Selection is the result of a scheduling pass.
type Selection struct {
	Account *account.Account
	WaitMs  int64
}

// Strategy is the single capability set every account-selection strategy
// implements.
type Strategy interface {
	// SelectAccount picks an account for modelID from pool, given the
	// current time (for rate-limit/eligibility checks). Returns a nil
	// Account with WaitMs > 0 to ask the caller to sleep then retry, or a
	// nil Account with WaitMs == 0 when nothing is available at all.
	SelectAccount(pool *account.Pool, modelID string, now time.Time) Selection
	OnSuccess(a *account.Account, modelID string)
	OnRateLimit(a *account.Account, modelID string)
	OnFailure(a *account.Account, modelID string)
}

// New constructs a strategy by canonical name (see config.NormalizeStrategy
// for alias resolution — callers should normalize before calling New).
func New(name string, cfg *config.Config) Strategy {
	switch name {
	case config.StrategySticky:
		return NewSticky(cfg)
	case config.StrategyRoundRobin:
		return NewRoundRobin(cfg)
	case config.StrategyOnDemand:
		return NewOnDemand(cfg)
	case config.StrategyAggressive:
		return NewAggressive(cfg)
	default:
		utils.Warn("[strategies] unknown strategy %q, falling back to %s", name, config.DefaultSelectionStrategy)
		return NewAggressive(cfg)
	}
}

// globalThreshold reads the configured global quota threshold.
func globalThreshold(cfg *config.Config) float64 {
	if cfg == nil {
		return 0
	}
	return cfg.GlobalQuotaThreshold
}

func modelFamily(modelID string) config.ModelFamily {
	return config.GetModelFamily(modelID)
}
