package strategies

import (
	"testing"
	"time"

	"github.com/anthropics/cloudcode-relay/internal/account"
	"github.com/anthropics/cloudcode-relay/internal/config"
	"github.com/stretchr/testify/require"
)

func mustAddAccount(t *testing.T, pool *account.Pool, a *account.Account) {
	t.Helper()
	require.NoError(t, pool.Add(a))
}

func enabledAccount(email string) *account.Account {
	return &account.Account{
		Email:           email,
		Enabled:         true,
		ModelRateLimits: make(map[string]*account.ModelRateLimit),
	}
}

func TestRoundRobin_AdvancesPastActiveIndex(t *testing.T) {
	pool := account.NewPool()
	mustAddAccount(t, pool, enabledAccount("a@example.com"))
	mustAddAccount(t, pool, enabledAccount("b@example.com"))
	mustAddAccount(t, pool, enabledAccount("c@example.com"))
	pool.SetActiveIndex(0)

	rr := NewRoundRobin(config.DefaultConfig())
	sel := rr.SelectAccount(pool, "claude-sonnet-4-5", time.Now())

	require.NotNil(t, sel.Account)
	require.Equal(t, "b@example.com", sel.Account.Email)
}

func TestRoundRobin_SkipsUnusableAccounts(t *testing.T) {
	pool := account.NewPool()
	mustAddAccount(t, pool, enabledAccount("a@example.com"))
	disabled := enabledAccount("b@example.com")
	disabled.Enabled = false
	mustAddAccount(t, pool, disabled)
	mustAddAccount(t, pool, enabledAccount("c@example.com"))
	pool.SetActiveIndex(0)

	rr := NewRoundRobin(config.DefaultConfig())
	sel := rr.SelectAccount(pool, "claude-sonnet-4-5", time.Now())

	require.NotNil(t, sel.Account)
	require.Equal(t, "c@example.com", sel.Account.Email)
}

func TestRoundRobin_WrapsAround(t *testing.T) {
	pool := account.NewPool()
	mustAddAccount(t, pool, enabledAccount("a@example.com"))
	mustAddAccount(t, pool, enabledAccount("b@example.com"))
	pool.SetActiveIndex(1)

	rr := NewRoundRobin(config.DefaultConfig())
	sel := rr.SelectAccount(pool, "claude-sonnet-4-5", time.Now())

	require.NotNil(t, sel.Account)
	require.Equal(t, "a@example.com", sel.Account.Email)
}

func TestRoundRobin_EmptyPoolReturnsEmptySelection(t *testing.T) {
	pool := account.NewPool()
	rr := NewRoundRobin(config.DefaultConfig())
	sel := rr.SelectAccount(pool, "claude-sonnet-4-5", time.Now())
	require.Nil(t, sel.Account)
	require.Zero(t, sel.WaitMs)
}

func TestRoundRobin_AllBelowThresholdFallsBackToBestFraction(t *testing.T) {
	pool := account.NewPool()
	low := enabledAccount("low@example.com")
	lowFrac := 0.02
	low.Quota.Models = map[string]account.ModelQuota{"claude-sonnet-4-5": {RemainingFraction: &lowFrac}}
	mustAddAccount(t, pool, low)

	high := enabledAccount("high@example.com")
	highFrac := 0.08
	high.Quota.Models = map[string]account.ModelQuota{"claude-sonnet-4-5": {RemainingFraction: &highFrac}}
	mustAddAccount(t, pool, high)

	cfg := config.DefaultConfig()
	cfg.GlobalQuotaThreshold = 0.10

	rr := NewRoundRobin(cfg)
	sel := rr.SelectAccount(pool, "claude-sonnet-4-5", time.Now())

	require.NotNil(t, sel.Account)
	require.Equal(t, "high@example.com", sel.Account.Email, "when every account is below threshold, the highest remaining fraction wins")
}

func TestRoundRobin_OnSuccessRecordsHealth(t *testing.T) {
	a := enabledAccount("a@example.com")
	rr := NewRoundRobin(config.DefaultConfig())
	rr.OnSuccess(a, "claude-sonnet-4-5")
	require.Equal(t, 1, a.ModelHealth["claude-sonnet-4-5"].SuccessCount)
}
