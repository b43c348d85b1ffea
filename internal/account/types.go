// Package account manages the pool of upstream accounts, their rate-limit
// and health state, and the strategies used to pick one for a request.
package account

import "time"

// Source identifies how an account's credentials are obtained.
type Source string

const (
	SourceOAuth        Source = "oauth"
	SourceAPIKey       Source = "apiKey"
	SourceHostDatabase Source = "hostDatabase"
)

// CredentialHandle is opaque token/refresh material owned by the external
// token provider. This repository never inspects or refreshes it directly;
// it only carries it through to the transport layer. An upstream 401 marks
// the account invalid without asking the provider for a refresh; POST
// /refresh-token only clears the provider's token cache (Manager.ClearTokenCache).
type CredentialHandle struct {
	Ref string `json:"ref"`
}

// ModelRateLimit records whether a given model is currently rate-limited on
// an account.
type ModelRateLimit struct {
	IsRateLimited bool      `json:"isRateLimited"`
	ResetTime     time.Time `json:"resetTime,omitempty"`
	HitAt         time.Time `json:"hitAt,omitempty"`
	Reason        string    `json:"reason,omitempty"`
}

// ModelHealth tracks success/failure history for one (account, model) pair.
type ModelHealth struct {
	SuccessCount        int       `json:"successCount"`
	FailCount           int       `json:"failCount"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	HealthScore         float64   `json:"healthScore"`
	LastFailureAt       time.Time `json:"lastFailureAt,omitempty"`
}

// ModelQuota is the last-known remaining fraction of quota for a model.
type ModelQuota struct {
	RemainingFraction *float64  `json:"remainingFraction"`
	ResetTime         time.Time `json:"resetTime,omitempty"`
}

// Quota bundles per-model quota observations for an account.
type Quota struct {
	Models      map[string]ModelQuota `json:"models"`
	LastChecked time.Time             `json:"lastChecked,omitempty"`
}

// Subscription records the detected Google subscription tier for an account.
type Subscription struct {
	Tier       string    `json:"tier"`
	DetectedAt time.Time `json:"detectedAt,omitempty"`
}

// Account is one upstream identity the proxy can route requests through.
type Account struct {
	Email            string                    `json:"email"`
	Source           Source                    `json:"source"`
	CredentialHandle CredentialHandle          `json:"credentialRef"`
	ProjectID        string                    `json:"projectId,omitempty"`
	Enabled          bool                      `json:"enabled"`
	IsInvalid        bool                      `json:"isInvalid"`
	InvalidReason    string                    `json:"invalidReason,omitempty"`
	VerifyURL        string                    `json:"verifyUrl,omitempty"`
	AddedAt          time.Time                 `json:"addedAt,omitempty"`
	LastUsed         time.Time                 `json:"lastUsed,omitempty"`
	ModelRateLimits  map[string]*ModelRateLimit `json:"modelRateLimits"`
	ModelHealth      map[string]*ModelHealth    `json:"modelHealth"`
	Quota            Quota                     `json:"quota"`
	QuotaThreshold   *float64                  `json:"quotaThreshold,omitempty"`
	ModelQuotaThresholds map[string]float64    `json:"modelQuotaThresholds,omitempty"`
	Subscription     Subscription              `json:"subscription"`
}

// rateLimitFor returns the rate-limit record for a model, creating none if
// absent (callers must check for nil).
func (a *Account) rateLimitFor(modelID string) *ModelRateLimit {
	if a.ModelRateLimits == nil {
		return nil
	}
	return a.ModelRateLimits[modelID]
}

// healthFor returns (creating if absent) the health record for a model.
func (a *Account) healthFor(modelID string) *ModelHealth {
	if a.ModelHealth == nil {
		a.ModelHealth = make(map[string]*ModelHealth)
	}
	h, ok := a.ModelHealth[modelID]
	if !ok {
		h = &ModelHealth{HealthScore: 100}
		a.ModelHealth[modelID] = h
	}
	return h
}

// quotaFor returns the quota observation for a model, if any.
func (a *Account) quotaFor(modelID string) (ModelQuota, bool) {
	q, ok := a.Quota.Models[modelID]
	return q, ok
}

// remainingFractionFor returns the last-known remaining quota fraction for
// a model, or nil if unknown.
func (a *Account) remainingFractionFor(modelID string) *float64 {
	q, ok := a.quotaFor(modelID)
	if !ok {
		return nil
	}
	return q.RemainingFraction
}

// RemainingFractionFor is the exported form of remainingFractionFor, used
// by strategies outside this package.
func (a *Account) RemainingFractionFor(modelID string) *float64 {
	return a.remainingFractionFor(modelID)
}

// CooldownRemaining is the exported form of cooldownRemaining.
func (a *Account) CooldownRemaining(modelID string, now time.Time) time.Duration {
	return a.cooldownRemaining(modelID, now)
}

// cooldownRemaining returns how long until modelID's rate limit clears, or
// zero if it isn't currently rate-limited.
func (a *Account) cooldownRemaining(modelID string, now time.Time) time.Duration {
	rl := a.rateLimitFor(modelID)
	if rl == nil || !rl.IsRateLimited {
		return 0
	}
	d := rl.ResetTime.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// clearExpiredRateLimit marks modelID's rate-limit record as no longer
// rate-limited if it has expired; the record itself is kept.
func (a *Account) clearExpiredRateLimit(modelID string, now time.Time) {
	rl := a.rateLimitFor(modelID)
	if rl != nil && rl.IsRateLimited && !rl.ResetTime.After(now) {
		rl.IsRateLimited = false
	}
}
