package strategies

import (
	"sync"
	"time"

	"github.com/anthropics/cloudcode-relay/internal/account"
	"github.com/anthropics/cloudcode-relay/internal/config"
)

type demandEntry struct {
	email        string
	wasDisabled  bool
}

// OnDemand finds any non-invalid account for each request, temporarily
// enabling it for the lifetime of that request and restoring its prior
// `enabled` value on release unless another in-flight request still
// references it (spec §4.1).
type OnDemand struct {
	cfg *config.Config

	mu            sync.Mutex
	cursor        int
	activeRequests map[string]demandEntry // requestID -> entry
	refcount      map[string]int          // email -> in-flight count
}

// NewOnDemand creates an OnDemand strategy.
func NewOnDemand(cfg *config.Config) *OnDemand {
	return &OnDemand{
		cfg:            cfg,
		activeRequests: make(map[string]demandEntry),
		refcount:       make(map[string]int),
	}
}

func (s *OnDemand) SelectAccount(pool *account.Pool, modelID string, now time.Time) Selection {
	n := pool.Len()
	if n == 0 {
		return Selection{}
	}
	pool.ClearExpired(now)
	accounts := pool.Accounts()
	thr := globalThreshold(s.cfg)

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < n; i++ {
		idx := (s.cursor + i) % n
		a := accounts[idx]
		if !account.UsableForOnDemand(a, modelID, thr, now) {
			continue
		}
		s.cursor = (idx + 1) % n
		a.LastUsed = now
		return Selection{Account: a}
	}
	return Selection{}
}

// Acquire marks requestID as using a.Email, temporarily enabling the
// account if it was disabled. Call before dispatching the attempt.
func (s *OnDemand) Acquire(requestID string, a *account.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wasDisabled := !a.Enabled
	if wasDisabled {
		a.Enabled = true
	}
	if s.refcount[a.Email] > 0 {
		// Inherit the state recorded by a request already holding it.
		for _, e := range s.activeRequests {
			if e.email == a.Email {
				wasDisabled = e.wasDisabled
				break
			}
		}
	}
	s.activeRequests[requestID] = demandEntry{email: a.Email, wasDisabled: wasDisabled}
	s.refcount[a.Email]++
}

// Release drops requestID's reference, restoring `enabled = false` on the
// account if it was disabled before the first of its in-flight requests
// acquired it and no other in-flight request still references it.
func (s *OnDemand) Release(requestID string, pool *account.Pool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.activeRequests[requestID]
	if !ok {
		return
	}
	delete(s.activeRequests, requestID)
	s.refcount[entry.email]--

	if entry.wasDisabled && s.refcount[entry.email] <= 0 {
		if a, found := pool.ByEmail(entry.email); found {
			a.Enabled = false
		}
		delete(s.refcount, entry.email)
	}
}

func (s *OnDemand) OnSuccess(a *account.Account, modelID string)   { a.RecordSuccess(modelID) }
func (s *OnDemand) OnRateLimit(a *account.Account, modelID string) {}
func (s *OnDemand) OnFailure(a *account.Account, modelID string)   {}
