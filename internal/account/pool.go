package account

import (
	"fmt"
	"time"

	"github.com/anthropics/cloudcode-relay/internal/config"
)

// Pool is the ordered set of accounts the scheduler chooses from. Every
// mutation — adding/removing an account, flipping a rate-limit or health
// record, advancing an index — happens under the owning Manager's lock
// (Pool itself has no lock), matching the single-writer discipline
// spec.md §5 requires.
type Pool struct {
	accounts          []*Account
	activeIndex       int
	activeIndexByFamily map[config.ModelFamily]int
	settings          map[string]interface{}
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{
		accounts:            make([]*Account, 0),
		activeIndexByFamily: make(map[config.ModelFamily]int),
		settings:            make(map[string]interface{}),
	}
}

// Len returns the number of accounts in the pool.
func (p *Pool) Len() int { return len(p.accounts) }

// Add appends an account, rejecting duplicate emails.
func (p *Pool) Add(a *Account) error {
	for _, existing := range p.accounts {
		if existing.Email == a.Email {
			return fmt.Errorf("account %s already exists", a.Email)
		}
	}
	p.accounts = append(p.accounts, a)
	return nil
}

// Remove deletes an account by email, clamping any index that pointed past
// the new end of the slice.
func (p *Pool) Remove(email string) bool {
	for i, a := range p.accounts {
		if a.Email == email {
			p.accounts = append(p.accounts[:i], p.accounts[i+1:]...)
			p.clampIndices()
			return true
		}
	}
	return false
}

func (p *Pool) clampIndices() {
	n := len(p.accounts)
	if n == 0 {
		p.activeIndex = 0
		for f := range p.activeIndexByFamily {
			p.activeIndexByFamily[f] = 0
		}
		return
	}
	if p.activeIndex >= n {
		p.activeIndex = n - 1
	}
	for f, idx := range p.activeIndexByFamily {
		if idx >= n {
			p.activeIndexByFamily[f] = n - 1
		}
	}
}

// Accounts returns the live slice of accounts. Callers must hold the
// manager's lock while iterating or mutating through it.
func (p *Pool) Accounts() []*Account { return p.accounts }

// ByEmail finds an account by email.
func (p *Pool) ByEmail(email string) (*Account, bool) {
	for _, a := range p.accounts {
		if a.Email == email {
			return a, true
		}
	}
	return nil, false
}

// ActiveIndex returns the pool-wide active index (used by Round-Robin).
func (p *Pool) ActiveIndex() int { return p.activeIndex }

// SetActiveIndex sets the pool-wide active index.
func (p *Pool) SetActiveIndex(i int) { p.activeIndex = i }

// ActiveIndexForFamily returns the per-family active index (used by
// Sticky), initializing it from the pool-wide index on first access so a
// freshly-added family line agrees with whichever account the pool was
// already "on."
func (p *Pool) ActiveIndexForFamily(family config.ModelFamily) int {
	if idx, ok := p.activeIndexByFamily[family]; ok {
		return idx
	}
	idx := p.activeIndex
	if n := len(p.accounts); n > 0 && idx >= n {
		idx = n - 1
	}
	p.activeIndexByFamily[family] = idx
	return idx
}

// SetActiveIndexForFamily sets the per-family active index.
func (p *Pool) SetActiveIndexForFamily(family config.ModelFamily, i int) {
	p.activeIndexByFamily[family] = i
}

// ActiveIndexByFamily returns a copy of the per-family active index map,
// for persistence.
func (p *Pool) ActiveIndexByFamily() map[config.ModelFamily]int {
	out := make(map[config.ModelFamily]int, len(p.activeIndexByFamily))
	for k, v := range p.activeIndexByFamily {
		out[k] = v
	}
	return out
}

// SetActiveIndexByFamilyMap replaces the per-family active index map
// wholesale, used when restoring a persisted snapshot.
func (p *Pool) SetActiveIndexByFamilyMap(m map[config.ModelFamily]int) {
	if m == nil {
		m = make(map[config.ModelFamily]int)
	}
	p.activeIndexByFamily = m
}

// ClearExpired marks rate-limit records whose reset time has passed as no
// longer rate-limited (the records are kept) for every account. Called lazily before each selection pass.
func (p *Pool) ClearExpired(now time.Time) {
	for _, a := range p.accounts {
		for modelID := range a.ModelRateLimits {
			a.clearExpiredRateLimit(modelID, now)
		}
	}
}

// Usable implements the common eligibility predicate shared by every
// strategy (spec §4.1).
func Usable(a *Account, modelID string, globalThreshold float64, now time.Time) bool {
	if a.IsInvalid {
		return false
	}
	if !a.Enabled {
		return false
	}
	return usableIgnoringEnabled(a, modelID, globalThreshold, now)
}

// UsableForOnDemand is Usable without the `enabled` gate: On-Demand's whole
// premise is selecting among accounts that are normally disabled and
// flipping them on for the lifetime of one request (spec §4.1), so its
// eligibility check can't itself require Enabled to already be true.
func UsableForOnDemand(a *Account, modelID string, globalThreshold float64, now time.Time) bool {
	if a.IsInvalid {
		return false
	}
	return usableIgnoringEnabled(a, modelID, globalThreshold, now)
}

func usableIgnoringEnabled(a *Account, modelID string, globalThreshold float64, now time.Time) bool {
	if rl := a.rateLimitFor(modelID); rl != nil && rl.IsRateLimited && rl.ResetTime.After(now) {
		return false
	}

	effThr := globalThreshold
	if t, ok := a.ModelQuotaThresholds[modelID]; ok {
		effThr = t
	} else if a.QuotaThreshold != nil {
		effThr = *a.QuotaThreshold
	}
	if effThr > 0 {
		if frac := a.remainingFractionFor(modelID); frac != nil && *frac < effThr {
			return false
		}
	}
	return true
}
