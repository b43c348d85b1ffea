package account

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestAccount(email string) *Account {
	return &Account{
		Email:           email,
		Enabled:         true,
		ModelRateLimits: make(map[string]*ModelRateLimit),
	}
}

func TestPool_AddRejectsDuplicateEmail(t *testing.T) {
	p := NewPool()
	require.NoError(t, p.Add(newTestAccount("a@example.com")))
	err := p.Add(newTestAccount("a@example.com"))
	require.Error(t, err)
	require.Equal(t, 1, p.Len())
}

func TestPool_RemoveClampsActiveIndex(t *testing.T) {
	p := NewPool()
	require.NoError(t, p.Add(newTestAccount("a@example.com")))
	require.NoError(t, p.Add(newTestAccount("b@example.com")))
	require.NoError(t, p.Add(newTestAccount("c@example.com")))

	p.SetActiveIndex(2)
	require.True(t, p.Remove("c@example.com"))
	require.Equal(t, 2, p.Len())
	require.Equal(t, 1, p.ActiveIndex())
}

func TestPool_RemoveClearsIndicesWhenEmpty(t *testing.T) {
	p := NewPool()
	require.NoError(t, p.Add(newTestAccount("a@example.com")))
	p.SetActiveIndex(0)
	p.SetActiveIndexForFamily("claude", 0)

	require.True(t, p.Remove("a@example.com"))
	require.Equal(t, 0, p.ActiveIndex())
	require.Equal(t, 0, p.ActiveIndexForFamily("claude"))
}

func TestPool_ActiveIndexForFamily_InitializesFromPoolWide(t *testing.T) {
	p := NewPool()
	require.NoError(t, p.Add(newTestAccount("a@example.com")))
	require.NoError(t, p.Add(newTestAccount("b@example.com")))
	p.SetActiveIndex(1)

	require.Equal(t, 1, p.ActiveIndexForFamily("gemini"))
}

func TestPool_ByEmail(t *testing.T) {
	p := NewPool()
	acc := newTestAccount("a@example.com")
	require.NoError(t, p.Add(acc))

	found, ok := p.ByEmail("a@example.com")
	require.True(t, ok)
	require.Same(t, acc, found)

	_, ok = p.ByEmail("missing@example.com")
	require.False(t, ok)
}

func TestPool_ClearExpired(t *testing.T) {
	p := NewPool()
	acc := newTestAccount("a@example.com")
	now := time.Now()
	acc.ModelRateLimits["claude-sonnet-4-5"] = &ModelRateLimit{
		IsRateLimited: true,
		ResetTime:     now.Add(-time.Minute),
	}
	require.NoError(t, p.Add(acc))

	p.ClearExpired(now)
	require.False(t, acc.ModelRateLimits["claude-sonnet-4-5"].IsRateLimited)
}

func TestPool_ClearExpired_Idempotent(t *testing.T) {
	p := NewPool()
	acc := newTestAccount("a@example.com")
	now := time.Now()
	acc.ModelRateLimits["claude-sonnet-4-5"] = &ModelRateLimit{
		IsRateLimited: true,
		ResetTime:     now.Add(time.Minute),
	}
	require.NoError(t, p.Add(acc))

	p.ClearExpired(now)
	require.True(t, acc.ModelRateLimits["claude-sonnet-4-5"].IsRateLimited)

	p.ClearExpired(now.Add(2 * time.Minute))
	require.False(t, acc.ModelRateLimits["claude-sonnet-4-5"].IsRateLimited)

	// Clearing again after it's already cleared must not panic or flip it back on.
	p.ClearExpired(now.Add(3 * time.Minute))
	require.False(t, acc.ModelRateLimits["claude-sonnet-4-5"].IsRateLimited)
}

func TestUsable_RejectsInvalidAccount(t *testing.T) {
	a := newTestAccount("a@example.com")
	a.IsInvalid = true
	require.False(t, Usable(a, "claude-sonnet-4-5", 0, time.Now()))
}

func TestUsable_RejectsDisabledAccount(t *testing.T) {
	a := newTestAccount("a@example.com")
	a.Enabled = false
	require.False(t, Usable(a, "claude-sonnet-4-5", 0, time.Now()))
}

func TestUsable_RejectsActiveRateLimit(t *testing.T) {
	a := newTestAccount("a@example.com")
	now := time.Now()
	a.ModelRateLimits["claude-sonnet-4-5"] = &ModelRateLimit{
		IsRateLimited: true,
		ResetTime:     now.Add(time.Hour),
	}
	require.False(t, Usable(a, "claude-sonnet-4-5", 0, now))
}

func TestUsable_AllowsExpiredRateLimit(t *testing.T) {
	a := newTestAccount("a@example.com")
	now := time.Now()
	a.ModelRateLimits["claude-sonnet-4-5"] = &ModelRateLimit{
		IsRateLimited: true,
		ResetTime:     now.Add(-time.Hour),
	}
	require.True(t, Usable(a, "claude-sonnet-4-5", 0, now))
}

func TestUsable_RejectsBelowQuotaThreshold(t *testing.T) {
	a := newTestAccount("a@example.com")
	frac := 0.05
	a.Quota.Models = map[string]ModelQuota{
		"claude-sonnet-4-5": {RemainingFraction: &frac},
	}
	require.False(t, Usable(a, "claude-sonnet-4-5", 0.10, time.Now()))
}

func TestUsable_PerModelThresholdOverridesAccountDefault(t *testing.T) {
	a := newTestAccount("a@example.com")
	frac := 0.08
	a.Quota.Models = map[string]ModelQuota{
		"claude-sonnet-4-5": {RemainingFraction: &frac},
	}
	defaultThr := 0.5
	a.QuotaThreshold = &defaultThr
	a.ModelQuotaThresholds = map[string]float64{"claude-sonnet-4-5": 0.01}

	require.True(t, Usable(a, "claude-sonnet-4-5", 0, time.Now()))
}

func TestUsableForOnDemand_AllowsDisabledAccount(t *testing.T) {
	a := newTestAccount("a@example.com")
	a.Enabled = false
	require.True(t, UsableForOnDemand(a, "claude-sonnet-4-5", 0, time.Now()))
}

func TestUsableForOnDemand_StillRejectsInvalidAccount(t *testing.T) {
	a := newTestAccount("a@example.com")
	a.Enabled = false
	a.IsInvalid = true
	require.False(t, UsableForOnDemand(a, "claude-sonnet-4-5", 0, time.Now()))
}

func TestUsableForOnDemand_StillRejectsActiveRateLimit(t *testing.T) {
	a := newTestAccount("a@example.com")
	a.Enabled = false
	now := time.Now()
	a.ModelRateLimits["claude-sonnet-4-5"] = &ModelRateLimit{
		IsRateLimited: true,
		ResetTime:     now.Add(time.Hour),
	}
	require.False(t, UsableForOnDemand(a, "claude-sonnet-4-5", 0, now))
}
