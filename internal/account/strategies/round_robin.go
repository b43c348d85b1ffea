package strategies

import (
	"time"

	"github.com/anthropics/cloudcode-relay/internal/account"
	"github.com/anthropics/cloudcode-relay/internal/config"
	"github.com/anthropics/cloudcode-relay/internal/utils"
)

// RoundRobin starts its scan just past the pool-wide active index and
// returns the first eligible account, so load spreads evenly across the
// pool rather than favoring one account's cache (spec §4.1).
type RoundRobin struct {
	cfg *config.Config
}

// NewRoundRobin creates a RoundRobin strategy.
func NewRoundRobin(cfg *config.Config) *RoundRobin {
	return &RoundRobin{cfg: cfg}
}

func (s *RoundRobin) SelectAccount(pool *account.Pool, modelID string, now time.Time) Selection {
	n := pool.Len()
	if n == 0 {
		return Selection{}
	}
	pool.ClearExpired(now)
	accounts := pool.Accounts()
	thr := globalThreshold(s.cfg)
	start := pool.ActiveIndex()

	for i := 1; i <= n; i++ {
		idx := (start + i) % n
		a := accounts[idx]
		if account.Usable(a, modelID, thr, now) {
			pool.SetActiveIndex(idx)
			a.LastUsed = now
			return Selection{Account: a}
		}
	}

	// Nothing cleared the threshold check; fall back to the best
	// eligible-ignoring-threshold account by remaining fraction.
	if thr > 0 {
		best := -1
		var bestFrac float64 = -1
		for idx, a := range accounts {
			if !account.Usable(a, modelID, 0, now) {
				continue
			}
			frac := 1.0
			if f := a.RemainingFractionFor(modelID); f != nil {
				frac = *f
			}
			if frac > bestFrac {
				bestFrac = frac
				best = idx
			}
		}
		if best >= 0 {
			utils.Warn("[RoundRobin] all accounts below quota threshold for %s, using highest remaining fraction", modelID)
			pool.SetActiveIndex(best)
			accounts[best].LastUsed = now
			return Selection{Account: accounts[best]}
		}
	}

	return Selection{}
}

func (s *RoundRobin) OnSuccess(a *account.Account, modelID string)   { a.RecordSuccess(modelID) }
func (s *RoundRobin) OnRateLimit(a *account.Account, modelID string) {}
func (s *RoundRobin) OnFailure(a *account.Account, modelID string)   {}
