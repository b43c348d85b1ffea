package account

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordSuccess_IncrementsScoreAndResetsFailures(t *testing.T) {
	a := newTestAccount("a@example.com")
	a.ModelHealth = map[string]*ModelHealth{
		"claude-sonnet-4-5": {HealthScore: 50, ConsecutiveFailures: 2},
	}

	a.RecordSuccess("claude-sonnet-4-5")

	h := a.ModelHealth["claude-sonnet-4-5"]
	require.Equal(t, 51.0, h.HealthScore)
	require.Equal(t, 0, h.ConsecutiveFailures)
	require.Equal(t, 1, h.SuccessCount)
}

func TestRecordSuccess_ScoreClampedAt100(t *testing.T) {
	a := newTestAccount("a@example.com")
	a.RecordSuccess("claude-sonnet-4-5") // starts fresh at 100 via healthFor
	h := a.ModelHealth["claude-sonnet-4-5"]
	require.Equal(t, 100.0, h.HealthScore)
}

func TestRecordFailure_DecrementsScoreByPenalty(t *testing.T) {
	a := newTestAccount("a@example.com")
	a.RecordFailure("claude-sonnet-4-5", "rate_limit", 5)

	h := a.ModelHealth["claude-sonnet-4-5"]
	require.Equal(t, 95.0, h.HealthScore)
	require.Equal(t, 1, h.FailCount)
	require.Equal(t, 1, h.ConsecutiveFailures)
	require.False(t, h.LastFailureAt.IsZero())
}

func TestRecordFailure_ScoreClampedAt0(t *testing.T) {
	a := newTestAccount("a@example.com")
	for i := 0; i < 30; i++ {
		a.RecordFailure("claude-sonnet-4-5", "auth", 1000)
	}
	h := a.ModelHealth["claude-sonnet-4-5"]
	require.Equal(t, 0.0, h.HealthScore)
}

func TestRecordFailure_AutoDisablesAtThreshold(t *testing.T) {
	a := newTestAccount("a@example.com")
	require.True(t, a.Enabled)

	a.RecordFailure("claude-sonnet-4-5", "server", 3)
	require.True(t, a.Enabled)
	a.RecordFailure("claude-sonnet-4-5", "server", 3)
	require.True(t, a.Enabled)
	a.RecordFailure("claude-sonnet-4-5", "server", 3)
	require.False(t, a.Enabled)
}

func TestRecordSuccess_InterruptsConsecutiveFailureStreak(t *testing.T) {
	a := newTestAccount("a@example.com")
	a.RecordFailure("claude-sonnet-4-5", "server", 3)
	a.RecordFailure("claude-sonnet-4-5", "server", 3)
	a.RecordSuccess("claude-sonnet-4-5")
	a.RecordFailure("claude-sonnet-4-5", "server", 3)

	require.True(t, a.Enabled, "the failure streak was broken by a success, so threshold of 3 consecutive should not yet be hit")
}

func TestMaybeAutoRecover_NoOpWhenAlreadyEnabled(t *testing.T) {
	a := newTestAccount("a@example.com")
	a.Enabled = true
	a.MaybeAutoRecover(1000)
	require.True(t, a.Enabled)
}

func TestMaybeAutoRecover_NoOpBeforeElapsed(t *testing.T) {
	a := newTestAccount("a@example.com")
	a.Enabled = false
	a.ModelHealth = map[string]*ModelHealth{
		"claude-sonnet-4-5": {LastFailureAt: time.Now()},
	}
	a.MaybeAutoRecover(int64(time.Hour / time.Millisecond))
	require.False(t, a.Enabled)
}

func TestMaybeAutoRecover_RecoversAfterElapsedAndResetsFailures(t *testing.T) {
	a := newTestAccount("a@example.com")
	a.Enabled = false
	a.ModelHealth = map[string]*ModelHealth{
		"claude-sonnet-4-5": {
			LastFailureAt:       time.Now().Add(-time.Hour),
			ConsecutiveFailures: 5,
		},
	}
	a.MaybeAutoRecover(1000) // 1s threshold, well under an hour ago

	require.True(t, a.Enabled)
	require.Equal(t, 0, a.ModelHealth["claude-sonnet-4-5"].ConsecutiveFailures)
}

func TestMaybeAutoRecover_NoOpWithNoFailureHistory(t *testing.T) {
	a := newTestAccount("a@example.com")
	a.Enabled = false
	a.MaybeAutoRecover(1)
	require.False(t, a.Enabled, "an account with no recorded failures has nothing to recover from")
}

func TestMarkRateLimited_SetsResetTimeAndReason(t *testing.T) {
	a := newTestAccount("a@example.com")
	resetTime := time.Now().Add(time.Hour)
	a.MarkRateLimited("claude-sonnet-4-5", resetTime, "quota_exhausted")

	rl := a.ModelRateLimits["claude-sonnet-4-5"]
	require.True(t, rl.IsRateLimited)
	require.Equal(t, resetTime, rl.ResetTime)
	require.Equal(t, "quota_exhausted", rl.Reason)
}

func TestMarkRateLimited_IdempotentKeepsLaterResetTime(t *testing.T) {
	a := newTestAccount("a@example.com")
	now := time.Now()
	earlier := now.Add(time.Minute)
	later := now.Add(time.Hour)

	a.MarkRateLimited("claude-sonnet-4-5", later, "rate_limited")
	a.MarkRateLimited("claude-sonnet-4-5", earlier, "rate_limited")

	rl := a.ModelRateLimits["claude-sonnet-4-5"]
	require.Equal(t, later, rl.ResetTime, "a second, earlier hit must not move the reset time backwards")
}

func TestMarkRateLimited_NewerResetTimeAdvancesIt(t *testing.T) {
	a := newTestAccount("a@example.com")
	now := time.Now()
	first := now.Add(time.Minute)
	second := now.Add(time.Hour)

	a.MarkRateLimited("claude-sonnet-4-5", first, "rate_limited")
	a.MarkRateLimited("claude-sonnet-4-5", second, "rate_limited")

	rl := a.ModelRateLimits["claude-sonnet-4-5"]
	require.Equal(t, second, rl.ResetTime)
}

func TestCooldownRemaining_ZeroWhenNotRateLimited(t *testing.T) {
	a := newTestAccount("a@example.com")
	require.Equal(t, time.Duration(0), a.CooldownRemaining("claude-sonnet-4-5", time.Now()))
}

func TestCooldownRemaining_ZeroWhenExpired(t *testing.T) {
	a := newTestAccount("a@example.com")
	now := time.Now()
	a.ModelRateLimits["claude-sonnet-4-5"] = &ModelRateLimit{
		IsRateLimited: true,
		ResetTime:     now.Add(-time.Minute),
	}
	require.Equal(t, time.Duration(0), a.CooldownRemaining("claude-sonnet-4-5", now))
}

func TestCooldownRemaining_PositiveWhileActive(t *testing.T) {
	a := newTestAccount("a@example.com")
	now := time.Now()
	a.ModelRateLimits["claude-sonnet-4-5"] = &ModelRateLimit{
		IsRateLimited: true,
		ResetTime:     now.Add(time.Minute),
	}
	d := a.CooldownRemaining("claude-sonnet-4-5", now)
	require.Greater(t, d, time.Duration(0))
	require.LessOrEqual(t, d, time.Minute)
}
