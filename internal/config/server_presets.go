package config

// ServerPreset is a named bundle of retry/cooldown/threshold tuning,
// useful as a quick reconfiguration starting point. Presets are static:
// nothing in this repository edits them at runtime (the dashboard that
// did is out of scope). They are reachable through FindServerPreset and
// ApplyPreset; there is no `--preset` flag and nothing at startup applies one.
type ServerPreset struct {
	Name                 string  `json:"name"`
	Description          string  `json:"description"`
	MaxRetries           int     `json:"maxRetries"`
	DefaultCooldownMs    int64   `json:"defaultCooldownMs"`
	MaxWaitBeforeErrorMs int64   `json:"maxWaitBeforeErrorMs"`
	GlobalQuotaThreshold float64 `json:"globalQuotaThreshold"`
	Strategy             string  `json:"strategy"`
}

// DefaultServerPresets are the built-in presets.
var DefaultServerPresets = []ServerPreset{
	{
		Name:                 "balanced",
		Description:          "Default tuning: moderate retries, short cooldowns.",
		MaxRetries:           MaxRetries,
		DefaultCooldownMs:    DefaultCooldownMs,
		MaxWaitBeforeErrorMs: MaxWaitBeforeErrorMs,
		GlobalQuotaThreshold: 0,
		Strategy:             StrategyAggressive,
	},
	{
		Name:                 "conservative",
		Description:          "Fewer retries, longer cooldowns, avoids near-exhausted accounts.",
		MaxRetries:           3,
		DefaultCooldownMs:    30000,
		MaxWaitBeforeErrorMs: 60000,
		GlobalQuotaThreshold: 0.10,
		Strategy:             StrategySticky,
	},
	{
		Name:                 "aggressive-throughput",
		Description:          "Maximizes request throughput across a large pool.",
		MaxRetries:           8,
		DefaultCooldownMs:    5000,
		MaxWaitBeforeErrorMs: 30000,
		GlobalQuotaThreshold: 0,
		Strategy:             StrategyRoundRobin,
	},
}

// FindServerPreset looks up a preset by name.
func FindServerPreset(name string) (ServerPreset, bool) {
	for _, p := range DefaultServerPresets {
		if p.Name == name {
			return p, true
		}
	}
	return ServerPreset{}, false
}

// ApplyPreset overlays a preset's values onto the config, replacing
// whatever the flags, env and config file set for those fields.
func (c *Config) ApplyPreset(p ServerPreset) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.MaxRetries = p.MaxRetries
	c.DefaultCooldownMs = p.DefaultCooldownMs
	c.MaxWaitBeforeErrorMs = p.MaxWaitBeforeErrorMs
	c.GlobalQuotaThreshold = p.GlobalQuotaThreshold
	c.AccountSelection.Strategy = p.Strategy
}
