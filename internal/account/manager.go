// Package account manages the pool of upstream accounts, their rate-limit
// and health state, and the strategies used to pick one for a request.
package account

import (
	"context"
	"sync"
	"time"

	"github.com/anthropics/cloudcode-relay/internal/account/strategies"
	"github.com/anthropics/cloudcode-relay/internal/config"
	"github.com/anthropics/cloudcode-relay/internal/utils"
)

// Manager is the single owner of account state: it holds the Pool, the
// active Strategy, and the Store used to persist every mutation, under
// one coarse lock (spec §5's single-writer discipline).
type Manager struct {
	mu sync.RWMutex

	pool         *Pool
	settings     map[string]any
	strategy     strategies.Strategy
	strategyName string
	store        *Store
	tokens       TokenProvider
	cfg          *config.Config
}

// NewManager constructs a Manager with an empty pool. Call Initialize to
// load the persisted account file before serving requests.
func NewManager(cfg *config.Config, tokens TokenProvider) *Manager {
	name := cfg.GetStrategy()
	return &Manager{
		pool:         NewPool(),
		settings:     make(map[string]any),
		strategy:     strategies.New(name, cfg),
		strategyName: name,
		store:        NewStore(""),
		tokens:       tokens,
		cfg:          cfg,
	}
}

// Initialize loads the persisted account file, replacing the in-memory
// pool. Safe to call once at startup.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pool, settings, err := m.store.Load()
	if err != nil {
		return err
	}
	m.pool = pool
	m.settings = settings
	return nil
}

func (m *Manager) persistLocked() {
	if err := m.store.Save(m.pool, m.settings); err != nil {
		utils.Warn("[account.Manager] failed to persist accounts: %v", err)
	}
}

// AddAccount appends a new account and persists.
func (m *Manager) AddAccount(a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.pool.Add(a); err != nil {
		return err
	}
	m.persistLocked()
	return nil
}

// RemoveAccount deletes an account by email and persists.
func (m *Manager) RemoveAccount(email string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ok := m.pool.Remove(email)
	if ok {
		m.persistLocked()
	}
	return ok
}

// SetStrategy swaps the active selection strategy at runtime.
func (m *Manager) SetStrategy(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategy = strategies.New(name, m.cfg)
	m.strategyName = name
}

// acquirer and releaser are implemented by strategies.OnDemand to
// temporarily enable a normally-disabled account for the lifetime of one
// attempt (spec §4.1). Strategies that don't implement them are no-ops.
type acquirer interface {
	Acquire(requestID string, a *Account)
}
type releaser interface {
	Release(requestID string, pool *Pool)
}

// AcquireForRequest lets the active strategy flip a on for requestID's
// duration if the strategy supports it (On-Demand); every other strategy
// ignores the call.
func (m *Manager) AcquireForRequest(requestID string, a *Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.strategy.(acquirer); ok {
		s.Acquire(requestID, a)
	}
}

// ReleaseForRequest drops requestID's reference on whatever account it
// acquired, restoring the account's prior enabled state once no other
// in-flight request references it. No-op for strategies without Release.
func (m *Manager) ReleaseForRequest(requestID string, a *Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.strategy.(releaser); ok {
		s.Release(requestID, m.pool)
	}
}

// ClearExpiredLimits drops expired rate-limit records across the pool.
func (m *Manager) ClearExpiredLimits() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pool.ClearExpired(time.Now())
}

// SelectAccount runs one scheduling pass for modelID: it recovers any
// accounts whose auto-recovery window has elapsed, clears expired
// rate-limit records, then delegates to the active strategy.
func (m *Manager) SelectAccount(modelID string) strategies.Selection {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, a := range m.pool.Accounts() {
		a.MaybeAutoRecover(m.cfg.AutoRecoveryMs)
	}
	m.pool.ClearExpired(now)
	return m.strategy.SelectAccount(m.pool, modelID, now)
}

// NotifySuccess records a successful attempt against (account, modelID).
func (m *Manager) NotifySuccess(a *Account, modelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.RecordSuccess(modelID)
	a.LastUsed = time.Now()
	m.strategy.OnSuccess(a, modelID)
	m.persistLocked()
}

// NotifyFailure records a classified, non-rate-limit failure.
func (m *Manager) NotifyFailure(a *Account, modelID, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.RecordFailure(modelID, kind, m.cfg.MaxConsecutiveFailures)
	m.strategy.OnFailure(a, modelID)
	m.persistLocked()
}

// NotifyRateLimit marks (account, modelID) rate-limited until now+resetMs
// and notifies the strategy.
func (m *Manager) NotifyRateLimit(a *Account, modelID string, resetMs int64, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.MarkRateLimited(modelID, time.Now().Add(time.Duration(resetMs)*time.Millisecond), reason)
	m.strategy.OnRateLimit(a, modelID)
	m.persistLocked()
}

// MarkInvalid flags an account as permanently invalid (spec §4.3
// auth_fail). The controller calls it on the first upstream 401.
func (m *Manager) MarkInvalid(email, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.pool.ByEmail(email)
	if !ok {
		return
	}
	a.IsInvalid = true
	a.InvalidReason = reason
	m.persistLocked()
}

// MarkValidationRequired flags an account invalid with a re-verification
// URL (spec §4.3 validation_required).
func (m *Manager) MarkValidationRequired(email, reason, verifyURL string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.pool.ByEmail(email)
	if !ok {
		return
	}
	a.IsInvalid = true
	a.InvalidReason = reason
	a.VerifyURL = verifyURL
	m.persistLocked()
}

// GetToken resolves an access token for a, via the configured
// TokenProvider (possibly cached).
func (m *Manager) GetToken(ctx context.Context, a *Account) (string, error) {
	return m.tokens.GetToken(ctx, a)
}

// RefreshToken forces a fresh token for a, bypassing any cache.
func (m *Manager) RefreshToken(ctx context.Context, a *Account) (string, error) {
	return m.tokens.Refresh(ctx, a)
}

// GetProject resolves a's upstream project id.
func (m *Manager) GetProject(ctx context.Context, a *Account) (string, error) {
	return m.tokens.GetProject(ctx, a)
}

// ClearTokenCache drops every cached token, forcing the next GetToken call
// for any account to refresh. No-op if the configured TokenProvider
// doesn't cache (e.g. an uncached Refresher wrapper).
func (m *Manager) ClearTokenCache() {
	if c, ok := m.tokens.(interface{ ClearCache() }); ok {
		c.ClearCache()
	}
}

// GetAccountCount returns the number of accounts in the pool.
func (m *Manager) GetAccountCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pool.Len()
}

// GetAllAccounts returns a snapshot slice of every account in the pool.
func (m *Manager) GetAllAccounts() []*Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Account, len(m.pool.Accounts()))
	copy(out, m.pool.Accounts())
	return out
}

// GetAvailableAccounts returns every account currently usable for
// modelID (spec §4.1 eligibility predicate). Under the On-Demand
// strategy, disabled accounts are eligible too — that strategy's entire
// premise is selecting from accounts Enabled=false excludes.
func (m *Manager) GetAvailableAccounts(modelID string) []*Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now()
	thr := m.cfg.GlobalQuotaThreshold
	onDemand := m.strategyName == config.StrategyOnDemand
	var out []*Account
	for _, a := range m.pool.Accounts() {
		usable := Usable(a, modelID, thr, now)
		if !usable && onDemand {
			usable = UsableForOnDemand(a, modelID, thr, now)
		}
		if usable {
			out = append(out, a)
		}
	}
	return out
}

// IsAllRateLimited reports whether every otherwise-eligible account is
// currently cooling down for modelID.
func (m *Manager) IsAllRateLimited(modelID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now()
	onDemand := m.strategyName == config.StrategyOnDemand
	sawEligible := false
	for _, a := range m.pool.Accounts() {
		if a.IsInvalid || (!a.Enabled && !onDemand) {
			continue
		}
		sawEligible = true
		if a.CooldownRemaining(modelID, now) <= 0 {
			return false
		}
	}
	return sawEligible
}

// GetMinWaitTimeMs returns the shortest cooldown, in milliseconds, across
// every rate-limited, otherwise-eligible account for modelID, or 0 if
// none are currently cooling down.
func (m *Manager) GetMinWaitTimeMs(modelID string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now()
	onDemand := m.strategyName == config.StrategyOnDemand
	var min int64 = -1
	for _, a := range m.pool.Accounts() {
		if a.IsInvalid || (!a.Enabled && !onDemand) {
			continue
		}
		ms := a.CooldownRemaining(modelID, now).Milliseconds()
		if ms <= 0 {
			continue
		}
		if min == -1 || ms < min {
			min = ms
		}
	}
	if min == -1 {
		return 0
	}
	return min
}

// ResetAllRateLimits clears every account's rate-limit records (used by
// the --trigger-reset operational runbook).
func (m *Manager) ResetAllRateLimits() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.pool.Accounts() {
		a.ModelRateLimits = make(map[string]*ModelRateLimit)
	}
	m.persistLocked()
}

// UpdateAccountQuota records the last-observed quota for (email, modelID).
func (m *Manager) UpdateAccountQuota(email, modelID string, quota ModelQuota) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.pool.ByEmail(email)
	if !ok {
		return
	}
	if a.Quota.Models == nil {
		a.Quota.Models = make(map[string]ModelQuota)
	}
	a.Quota.Models[modelID] = quota
	a.Quota.LastChecked = time.Now()
	m.persistLocked()
}

// UpdateAccountSubscription records email's detected subscription tier.
func (m *Manager) UpdateAccountSubscription(email string, sub Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.pool.ByEmail(email)
	if !ok {
		return
	}
	a.Subscription = sub
	m.persistLocked()
}

// GetStatus returns a snapshot suitable for the /health endpoint: account
// pool summary plus per-account per-model quota/rate-limit view.
func (m *Manager) GetStatus() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	accounts := make([]map[string]any, 0, m.pool.Len())
	for _, a := range m.pool.Accounts() {
		accounts = append(accounts, map[string]any{
			"email":           a.Email,
			"enabled":         a.Enabled,
			"isInvalid":       a.IsInvalid,
			"invalidReason":   a.InvalidReason,
			"verifyUrl":       a.VerifyURL,
			"lastUsed":        a.LastUsed,
			"modelRateLimits": a.ModelRateLimits,
			"modelHealth":     a.ModelHealth,
			"quota":           a.Quota,
			"subscription":    a.Subscription,
		})
	}

	return map[string]any{
		"accountCount":    m.pool.Len(),
		"strategy":        m.strategyName,
		"fallbackEnabled": m.cfg.FallbackEnabled,
		"accounts":        accounts,
	}
}
