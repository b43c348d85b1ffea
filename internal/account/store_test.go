package account

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/anthropics/cloudcode-relay/internal/config"
	"github.com/stretchr/testify/require"
)

func TestStore_LoadMissingFileReturnsEmptyPool(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "nonexistent.json"))
	pool, settings, err := s.Load()
	require.NoError(t, err)
	require.Equal(t, 0, pool.Len())
	require.Empty(t, settings)
}

func TestStore_LoadUnparsableFileReturnsEmptyPool(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0644))

	s := NewStore(path)
	pool, _, err := s.Load()
	require.NoError(t, err)
	require.Equal(t, 0, pool.Len())
}

func TestStore_SaveThenLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json")
	s := NewStore(path)

	pool := NewPool()
	a := &Account{Email: "a@example.com", Enabled: true}
	require.NoError(t, pool.Add(a))
	pool.SetActiveIndex(0)
	pool.SetActiveIndexForFamily(config.ModelFamilyClaude, 0)

	require.NoError(t, s.Save(pool, map[string]any{"strategy": "sticky"}))

	loaded, settings, err := s.Load()
	require.NoError(t, err)
	require.Equal(t, 1, loaded.Len())
	got, ok := loaded.ByEmail("a@example.com")
	require.True(t, ok)
	require.Equal(t, "a@example.com", got.Email)
	require.Equal(t, "sticky", settings["strategy"])
	require.Equal(t, 0, loaded.ActiveIndexForFamily(config.ModelFamilyClaude))
}

func TestStore_LoadClearsInvalidFlagWithoutPendingVerification(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json")
	s := NewStore(path)

	pool := NewPool()
	require.NoError(t, pool.Add(&Account{Email: "a@example.com", IsInvalid: true, InvalidReason: "stale"}))
	require.NoError(t, s.Save(pool, nil))

	loaded, _, err := s.Load()
	require.NoError(t, err)
	got, _ := loaded.ByEmail("a@example.com")
	require.False(t, got.IsInvalid, "a reload without a pending verifyUrl should clear the invalid flag")
	require.Equal(t, "", got.InvalidReason)
}

func TestStore_LoadKeepsInvalidFlagWithPendingVerification(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json")
	s := NewStore(path)

	pool := NewPool()
	require.NoError(t, pool.Add(&Account{Email: "a@example.com", IsInvalid: true, VerifyURL: "https://verify.example.com"}))
	require.NoError(t, s.Save(pool, nil))

	loaded, _, err := s.Load()
	require.NoError(t, err)
	got, _ := loaded.ByEmail("a@example.com")
	require.True(t, got.IsInvalid, "a pending verification must survive reload")
}

func TestStore_LoadForcesDisabledAccountsEnabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.json")
	s := NewStore(path)

	pool := NewPool()
	require.NoError(t, pool.Add(&Account{Email: "a@example.com", Enabled: false}))
	require.NoError(t, s.Save(pool, nil))

	loaded, _, err := s.Load()
	require.NoError(t, err)
	got, _ := loaded.ByEmail("a@example.com")
	require.True(t, got.Enabled)
}

func TestStore_SaveCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "accounts.json")
	s := NewStore(path)
	require.NoError(t, s.Save(NewPool(), nil))
	require.FileExists(t, path)
}

func TestStore_SaveDoesNotLeaveTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accounts.json")
	s := NewStore(path)
	require.NoError(t, s.Save(NewPool(), nil))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "accounts.json", entries[0].Name())
}

func TestNewStore_DefaultsPathWhenEmpty(t *testing.T) {
	s := NewStore("")
	require.Equal(t, config.AccountConfigPath, s.Path())
}
