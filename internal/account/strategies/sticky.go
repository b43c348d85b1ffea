package strategies

import (
	"time"

	"github.com/anthropics/cloudcode-relay/internal/account"
	"github.com/anthropics/cloudcode-relay/internal/config"
	"github.com/anthropics/cloudcode-relay/internal/utils"
)

// Sticky keeps using the same account (per model family, for cache
// continuity) until it becomes unavailable, matching spec §4.1.
type Sticky struct {
	cfg *config.Config
}

// NewSticky creates a Sticky strategy.
func NewSticky(cfg *config.Config) *Sticky {
	return &Sticky{cfg: cfg}
}

func (s *Sticky) SelectAccount(pool *account.Pool, modelID string, now time.Time) Selection {
	n := pool.Len()
	if n == 0 {
		return Selection{}
	}
	pool.ClearExpired(now)
	accounts := pool.Accounts()
	thr := globalThreshold(s.cfg)
	family := modelFamily(modelID)

	idx := pool.ActiveIndexForFamily(family)
	if idx >= n {
		idx = n - 1
	}
	current := accounts[idx]

	if account.Usable(current, modelID, thr, now) {
		current.LastUsed = now
		return Selection{Account: current}
	}

	// Current is unusable: scan the rest for the best alternative —
	// largest remainingFraction, tie-broken by smallest cooldown, then index.
	bestIdx := -1
	var bestFrac float64 = -1
	var bestCooldown time.Duration = -1
	for i := 1; i <= n; i++ {
		j := (idx + i) % n
		a := accounts[j]
		if !account.Usable(a, modelID, thr, now) {
			continue
		}
		frac := 1.0
		if f := a.RemainingFractionFor(modelID); f != nil {
			frac = *f
		}
		cooldown := a.CooldownRemaining(modelID, now)
		switch {
		case bestIdx == -1:
			bestIdx, bestFrac, bestCooldown = j, frac, cooldown
		case frac > bestFrac:
			bestIdx, bestFrac, bestCooldown = j, frac, cooldown
		case frac == bestFrac && cooldown < bestCooldown:
			bestIdx, bestFrac, bestCooldown = j, frac, cooldown
		}
	}

	if bestIdx >= 0 {
		pool.SetActiveIndexForFamily(family, bestIdx)
		accounts[bestIdx].LastUsed = now
		utils.Info("[Sticky] switched to %s for family %s", accounts[bestIdx].Email, family)
		return Selection{Account: accounts[bestIdx]}
	}

	// No alternative: if current is merely cooling down within the
	// tolerable wait window, ask the caller to wait for it.
	if !current.IsInvalid && current.Enabled {
		cooldown := current.CooldownRemaining(modelID, now)
		if cooldown > 0 && int64(cooldown/time.Millisecond) <= config.MaxWaitBeforeErrorMs {
			return Selection{WaitMs: int64(cooldown / time.Millisecond)}
		}
	}

	return Selection{}
}

func (s *Sticky) OnSuccess(a *account.Account, modelID string)   {}
func (s *Sticky) OnRateLimit(a *account.Account, modelID string) {}
func (s *Sticky) OnFailure(a *account.Account, modelID string)   {}
