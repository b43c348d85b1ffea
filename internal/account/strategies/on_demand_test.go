package strategies

import (
	"testing"
	"time"

	"github.com/anthropics/cloudcode-relay/internal/account"
	"github.com/anthropics/cloudcode-relay/internal/config"
	"github.com/stretchr/testify/require"
)

func disabledAccount(email string) *account.Account {
	a := enabledAccount(email)
	a.Enabled = false
	return a
}

func TestOnDemand_SelectsDisabledAccount(t *testing.T) {
	pool := account.NewPool()
	mustAddAccount(t, pool, disabledAccount("a@example.com"))

	od := NewOnDemand(config.DefaultConfig())
	sel := od.SelectAccount(pool, "claude-sonnet-4-5", time.Now())

	require.NotNil(t, sel.Account, "on-demand must be able to pick a normally-disabled account")
	require.Equal(t, "a@example.com", sel.Account.Email)
}

func TestOnDemand_AcquireEnablesAndReleaseRestoresDisabled(t *testing.T) {
	pool := account.NewPool()
	a := disabledAccount("a@example.com")
	mustAddAccount(t, pool, a)

	od := NewOnDemand(config.DefaultConfig())
	od.Acquire("req-1", a)
	require.True(t, a.Enabled)

	od.Release("req-1", pool)
	require.False(t, a.Enabled, "releasing the sole in-flight request should restore the prior disabled state")
}

func TestOnDemand_AcquireLeavesAlreadyEnabledAccountAloneOnRelease(t *testing.T) {
	pool := account.NewPool()
	a := enabledAccount("a@example.com")
	mustAddAccount(t, pool, a)

	od := NewOnDemand(config.DefaultConfig())
	od.Acquire("req-1", a)
	require.True(t, a.Enabled)

	od.Release("req-1", pool)
	require.True(t, a.Enabled, "an account that was already enabled before Acquire should stay enabled")
}

func TestOnDemand_RefcountKeepsAccountEnabledUntilLastReleaser(t *testing.T) {
	pool := account.NewPool()
	a := disabledAccount("a@example.com")
	mustAddAccount(t, pool, a)

	od := NewOnDemand(config.DefaultConfig())
	od.Acquire("req-1", a)
	od.Acquire("req-2", a)
	require.True(t, a.Enabled)

	od.Release("req-1", pool)
	require.True(t, a.Enabled, "a second in-flight request still references the account")

	od.Release("req-2", pool)
	require.False(t, a.Enabled, "the last releaser should restore the disabled state")
}

func TestOnDemand_ReleaseUnknownRequestIDIsNoOp(t *testing.T) {
	pool := account.NewPool()
	a := disabledAccount("a@example.com")
	mustAddAccount(t, pool, a)

	od := NewOnDemand(config.DefaultConfig())
	od.Release("never-acquired", pool)
	require.False(t, a.Enabled)
}

func TestOnDemand_SkipsInvalidAccounts(t *testing.T) {
	pool := account.NewPool()
	invalid := disabledAccount("invalid@example.com")
	invalid.IsInvalid = true
	mustAddAccount(t, pool, invalid)
	mustAddAccount(t, pool, disabledAccount("valid@example.com"))

	od := NewOnDemand(config.DefaultConfig())
	sel := od.SelectAccount(pool, "claude-sonnet-4-5", time.Now())

	require.NotNil(t, sel.Account)
	require.Equal(t, "valid@example.com", sel.Account.Email)
}

func TestOnDemand_SkipsActivelyRateLimitedAccounts(t *testing.T) {
	pool := account.NewPool()
	limited := disabledAccount("limited@example.com")
	limited.MarkRateLimited("claude-sonnet-4-5", time.Now().Add(time.Hour), "rate_limited")
	mustAddAccount(t, pool, limited)
	mustAddAccount(t, pool, disabledAccount("ok@example.com"))

	od := NewOnDemand(config.DefaultConfig())
	sel := od.SelectAccount(pool, "claude-sonnet-4-5", time.Now())

	require.NotNil(t, sel.Account)
	require.Equal(t, "ok@example.com", sel.Account.Email)
}

func TestOnDemand_EmptyPoolReturnsEmptySelection(t *testing.T) {
	pool := account.NewPool()
	od := NewOnDemand(config.DefaultConfig())
	sel := od.SelectAccount(pool, "claude-sonnet-4-5", time.Now())
	require.Nil(t, sel.Account)
}
