package account

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/anthropics/cloudcode-relay/internal/config"
	"github.com/anthropics/cloudcode-relay/internal/utils"
)

// persistedFile is the on-disk shape of the account file (spec §6):
// {accounts, settings, activeIndex, activeIndexByFamily}.
type persistedFile struct {
	Accounts            []*Account     `json:"accounts"`
	Settings            map[string]any `json:"settings"`
	ActiveIndex         int            `json:"activeIndex"`
	ActiveIndexByFamily map[string]int `json:"activeIndexByFamily,omitempty"`
}

// Store loads and atomically persists the single JSON account file. It
// owns no account state itself — Pool does — it only marshals/unmarshals
// snapshots of it.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a Store backed by path, defaulting to
// config.AccountConfigPath when empty.
func NewStore(path string) *Store {
	if path == "" {
		path = config.AccountConfigPath
	}
	return &Store{path: path}
}

// Path returns the file path this store reads from and writes to.
func (s *Store) Path() string { return s.path }

// Load reads the account file into a fresh Pool. A missing or unparsable
// file yields an empty pool rather than an error, matching the teacher's
// treat-absent-as-empty behavior.
func (s *Store) Load() (*Pool, map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pool := NewPool()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return pool, map[string]any{}, nil
		}
		utils.Error("[account.Store] failed to read %s: %v", s.path, err)
		return pool, map[string]any{}, nil
	}

	var pf persistedFile
	if err := json.Unmarshal(data, &pf); err != nil {
		utils.Error("[account.Store] failed to parse %s: %v", s.path, err)
		return pool, map[string]any{}, nil
	}

	for _, a := range pf.Accounts {
		if a.ModelRateLimits == nil {
			a.ModelRateLimits = make(map[string]*ModelRateLimit)
		}
		if a.ModelHealth == nil {
			a.ModelHealth = make(map[string]*ModelHealth)
		}
		if a.Quota.Models == nil {
			a.Quota.Models = make(map[string]ModelQuota)
		}
		// Startup rule (spec §6): isInvalid clears unless a verifyUrl is
		// still pending re-verification.
		if a.IsInvalid && a.VerifyURL == "" {
			a.IsInvalid = false
			a.InvalidReason = ""
		}
		if !a.Enabled {
			a.Enabled = true
		}
		_ = pool.Add(a)
	}

	pool.SetActiveIndex(pf.ActiveIndex)
	famIdx := make(map[config.ModelFamily]int, len(pf.ActiveIndexByFamily))
	for k, v := range pf.ActiveIndexByFamily {
		famIdx[config.ModelFamily(k)] = v
	}
	pool.SetActiveIndexByFamilyMap(famIdx)

	utils.Info("[account.Store] loaded %d account(s) from %s", pool.Len(), s.path)
	if pf.Settings == nil {
		pf.Settings = map[string]any{}
	}
	return pool, pf.Settings, nil
}

// Save atomically writes pool's current state (temp file + rename),
// serialized so no two writers interleave.
func (s *Store) Save(pool *Pool, settings map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	famIdx := make(map[string]int)
	for k, v := range pool.ActiveIndexByFamily() {
		famIdx[string(k)] = v
	}

	out := persistedFile{
		Accounts:            pool.Accounts(),
		Settings:            settings,
		ActiveIndex:         pool.ActiveIndex(),
		ActiveIndexByFamily: famIdx,
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".accounts-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return err
	}

	success = true
	return nil
}
