package strategies

import (
	"sync"
	"time"

	"github.com/anthropics/cloudcode-relay/internal/account"
	"github.com/anthropics/cloudcode-relay/internal/config"
	"github.com/anthropics/cloudcode-relay/internal/utils"
)

// Aggressive rotates off an account once it has accumulated enough issues,
// so a single flaky account can't monopolize retries (spec §4.1). It is
// also the strategy the deprecated "hybrid" alias resolves to.
type Aggressive struct {
	cfg *config.Config

	mu           sync.Mutex
	issueTracker map[string]int
	cursor       int
}

// NewAggressive creates an Aggressive strategy.
func NewAggressive(cfg *config.Config) *Aggressive {
	return &Aggressive{cfg: cfg, issueTracker: make(map[string]int)}
}

func (s *Aggressive) switchThreshold() int {
	if s.cfg != nil && s.cfg.AccountSelection.SwitchThreshold > 0 {
		return s.cfg.AccountSelection.SwitchThreshold
	}
	return 3
}

func (s *Aggressive) SelectAccount(pool *account.Pool, modelID string, now time.Time) Selection {
	n := pool.Len()
	if n == 0 {
		return Selection{}
	}
	pool.ClearExpired(now)
	accounts := pool.Accounts()
	thr := globalThreshold(s.cfg)

	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := s.switchThreshold()
	start := pool.ActiveIndex()

	// Prefer the current account while it's under threshold.
	if start < n {
		cur := accounts[start]
		if account.Usable(cur, modelID, thr, now) && s.issueTracker[cur.Email] < threshold {
			cur.LastUsed = now
			return Selection{Account: cur}
		}
	}

	for i := 1; i <= n; i++ {
		idx := (start + i) % n
		a := accounts[idx]
		if !account.Usable(a, modelID, thr, now) {
			continue
		}
		if s.issueTracker[a.Email] < threshold {
			pool.SetActiveIndex(idx)
			a.LastUsed = now
			return Selection{Account: a}
		}
	}

	// Every eligible account is over threshold: reset and try once more
	// (a "fresh generation"), since accumulated issues may be stale.
	allOverThreshold := true
	for _, a := range accounts {
		if account.Usable(a, modelID, thr, now) {
			allOverThreshold = allOverThreshold && s.issueTracker[a.Email] >= threshold
		}
	}
	if allOverThreshold {
		utils.Info("[Aggressive] every account over issue threshold for %s, resetting counters", modelID)
		for email := range s.issueTracker {
			s.issueTracker[email] = 0
		}
		for i := 0; i < n; i++ {
			idx := (start + i) % n
			a := accounts[idx]
			if account.Usable(a, modelID, thr, now) {
				pool.SetActiveIndex(idx)
				a.LastUsed = now
				return Selection{Account: a}
			}
		}
	}

	return Selection{}
}

func (s *Aggressive) OnSuccess(a *account.Account, modelID string) {
	a.RecordSuccess(modelID)
	s.mu.Lock()
	s.issueTracker[a.Email] = 0
	s.mu.Unlock()
}

func (s *Aggressive) OnRateLimit(a *account.Account, modelID string) {
	s.mu.Lock()
	s.issueTracker[a.Email]++
	s.mu.Unlock()
}

func (s *Aggressive) OnFailure(a *account.Account, modelID string) {
	s.mu.Lock()
	s.issueTracker[a.Email]++
	s.mu.Unlock()
}
