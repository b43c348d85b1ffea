package strategies

import (
	"testing"
	"time"

	"github.com/anthropics/cloudcode-relay/internal/account"
	"github.com/anthropics/cloudcode-relay/internal/config"
	"github.com/stretchr/testify/require"
)

func TestSticky_StaysOnCurrentAccountWhileUsable(t *testing.T) {
	pool := account.NewPool()
	mustAddAccount(t, pool, enabledAccount("a@example.com"))
	mustAddAccount(t, pool, enabledAccount("b@example.com"))
	pool.SetActiveIndex(0)

	sticky := NewSticky(config.DefaultConfig())
	now := time.Now()

	first := sticky.SelectAccount(pool, "claude-sonnet-4-5", now)
	second := sticky.SelectAccount(pool, "claude-sonnet-4-5", now)

	require.NotNil(t, first.Account)
	require.NotNil(t, second.Account)
	require.Equal(t, first.Account.Email, second.Account.Email)
}

func TestSticky_SwitchesWhenCurrentBecomesRateLimited(t *testing.T) {
	pool := account.NewPool()
	a := enabledAccount("a@example.com")
	mustAddAccount(t, pool, a)
	mustAddAccount(t, pool, enabledAccount("b@example.com"))
	pool.SetActiveIndexForFamily(config.ModelFamilyClaude, 0)

	now := time.Now()
	a.MarkRateLimited("claude-sonnet-4-5", now.Add(time.Hour), "rate_limited")

	sticky := NewSticky(config.DefaultConfig())
	sel := sticky.SelectAccount(pool, "claude-sonnet-4-5", now)

	require.NotNil(t, sel.Account)
	require.Equal(t, "b@example.com", sel.Account.Email)
}

func TestSticky_PrefersHigherRemainingFractionOnSwitch(t *testing.T) {
	pool := account.NewPool()
	current := enabledAccount("current@example.com")
	now := time.Now()
	current.MarkRateLimited("claude-sonnet-4-5", now.Add(time.Hour), "rate_limited")
	mustAddAccount(t, pool, current)

	low := enabledAccount("low@example.com")
	lowFrac := 0.2
	low.Quota.Models = map[string]account.ModelQuota{"claude-sonnet-4-5": {RemainingFraction: &lowFrac}}
	mustAddAccount(t, pool, low)

	high := enabledAccount("high@example.com")
	highFrac := 0.9
	high.Quota.Models = map[string]account.ModelQuota{"claude-sonnet-4-5": {RemainingFraction: &highFrac}}
	mustAddAccount(t, pool, high)

	pool.SetActiveIndexForFamily(config.ModelFamilyClaude, 0)

	sticky := NewSticky(config.DefaultConfig())
	sel := sticky.SelectAccount(pool, "claude-sonnet-4-5", now)

	require.NotNil(t, sel.Account)
	require.Equal(t, "high@example.com", sel.Account.Email)
}

func TestSticky_WaitsWithinToleranceWhenNoAlternative(t *testing.T) {
	pool := account.NewPool()
	a := enabledAccount("a@example.com")
	now := time.Now()
	a.MarkRateLimited("claude-sonnet-4-5", now.Add(time.Second), "rate_limited")
	mustAddAccount(t, pool, a)
	pool.SetActiveIndexForFamily(config.ModelFamilyClaude, 0)

	sticky := NewSticky(config.DefaultConfig())
	sel := sticky.SelectAccount(pool, "claude-sonnet-4-5", now)

	require.Nil(t, sel.Account)
	require.Greater(t, sel.WaitMs, int64(0))
	require.LessOrEqual(t, sel.WaitMs, int64(config.MaxWaitBeforeErrorMs))
}

func TestSticky_GivesUpWhenCooldownExceedsTolerance(t *testing.T) {
	pool := account.NewPool()
	a := enabledAccount("a@example.com")
	now := time.Now()
	a.MarkRateLimited("claude-sonnet-4-5", now.Add(time.Hour*24), "rate_limited")
	mustAddAccount(t, pool, a)
	pool.SetActiveIndexForFamily(config.ModelFamilyClaude, 0)

	sticky := NewSticky(config.DefaultConfig())
	sel := sticky.SelectAccount(pool, "claude-sonnet-4-5", now)

	require.Nil(t, sel.Account)
	require.Zero(t, sel.WaitMs)
}

func TestSticky_EmptyPoolReturnsEmptySelection(t *testing.T) {
	pool := account.NewPool()
	sticky := NewSticky(config.DefaultConfig())
	sel := sticky.SelectAccount(pool, "claude-sonnet-4-5", time.Now())
	require.Nil(t, sel.Account)
}
