// Package config provides runtime configuration management.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/anthropics/cloudcode-relay/internal/utils"
)

// HealthScoreConfig configures health scoring for the Aggressive strategy.
type HealthScoreConfig struct {
	Initial         float64 `json:"initial"`
	SuccessReward   float64 `json:"successReward"`
	RecoveryPerHour float64 `json:"recoveryPerHour"`
	MinUsable       float64 `json:"minUsable"`
	MaxScore        float64 `json:"maxScore"`
}

// QuotaConfig configures quota thresholds consulted by the eligibility
// predicate shared by all strategies.
type QuotaConfig struct {
	LowThreshold      float64 `json:"lowThreshold"`
	CriticalThreshold float64 `json:"criticalThreshold"`
	StaleMs           int64   `json:"staleMs"`
}

// AccountSelectionConfig configures account selection behavior.
type AccountSelectionConfig struct {
	Strategy        string      `json:"strategy"`
	SwitchThreshold int         `json:"switchThreshold"`
	HealthScore     HealthScoreConfig `json:"healthScore"`
	Quota           QuotaConfig       `json:"quota"`
}

// Config represents the runtime configuration.
type Config struct {
	mu sync.RWMutex

	APIKey string `json:"apiKey"`

	Debug    bool   `json:"debug"`
	DevMode  bool   `json:"devMode"`
	LogLevel string `json:"logLevel"`

	MaxRetries  int   `json:"maxRetries"`
	RetryBaseMs int64 `json:"retryBaseMs"`
	RetryMaxMs  int64 `json:"retryMaxMs"`

	DefaultCooldownMs    int64 `json:"defaultCooldownMs"`
	MaxWaitBeforeErrorMs int64 `json:"maxWaitBeforeErrorMs"`

	MaxAccounts          int     `json:"maxAccounts"`
	GlobalQuotaThreshold float64 `json:"globalQuotaThreshold"`

	RateLimitDedupWindowMs int64 `json:"rateLimitDedupWindowMs"`
	MaxConsecutiveFailures int   `json:"maxConsecutiveFailures"`
	AutoRecoveryMs         int64 `json:"autoRecoveryMs"`
	MaxCapacityRetries     int   `json:"maxCapacityRetries"`

	AccountSelection AccountSelectionConfig `json:"accountSelection"`

	Port int    `json:"port"`
	Host string `json:"host"`

	FallbackEnabled bool `json:"fallbackEnabled"`

	// InlineThinkingMode controls how literal <thinking> tags embedded in a
	// model's text output are handled: "passthrough" (default, leave as
	// plain text), "strip" (discard the tagged text), or "native"
	// (resynthesize as a proper thinking content block).
	InlineThinkingMode string `json:"inlineThinkingMode"`
}

// DefaultConfig returns a new Config with default values.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:               "info",
		MaxRetries:             MaxRetries,
		RetryBaseMs:            1000,
		RetryMaxMs:             30000,
		DefaultCooldownMs:      DefaultCooldownMs,
		MaxWaitBeforeErrorMs:   MaxWaitBeforeErrorMs,
		MaxAccounts:            MaxAccounts,
		GlobalQuotaThreshold:   0,
		RateLimitDedupWindowMs: RateLimitDedupWindowMs,
		MaxConsecutiveFailures: MaxConsecutiveFailures,
		AutoRecoveryMs:         AutoRecoveryMs,
		MaxCapacityRetries:     MaxCapacityRetries,
		AccountSelection: AccountSelectionConfig{
			Strategy:        DefaultSelectionStrategy,
			SwitchThreshold: 3,
			HealthScore: HealthScoreConfig{
				Initial:         100,
				SuccessReward:   1,
				RecoveryPerHour: 2,
				MinUsable:       1,
				MaxScore:        100,
			},
			Quota: QuotaConfig{
				LowThreshold:      0.10,
				CriticalThreshold: 0.05,
				StaleMs:           300000,
			},
		},
		Port:                DefaultPort,
		Host:                "0.0.0.0",
		FallbackEnabled:     false,
		InlineThinkingMode:  "passthrough",
	}
}

var (
	configDir  string
	configFile string
)

func init() {
	home := utils.GetHomeDir()
	configDir = filepath.Join(home, ".config", "cloudcode-relay")
	configFile = filepath.Join(configDir, "config.json")
}

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
)

// GetConfig returns the global config instance.
func GetConfig() *Config {
	globalConfigOnce.Do(func() {
		globalConfig = DefaultConfig()
		globalConfig.Load()
	})
	return globalConfig
}

// Load loads configuration from file and environment.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := utils.EnsureDir(configDir); err != nil {
		utils.Warn("Failed to create config directory: %v", err)
	}

	if utils.FileExists(configFile) {
		if err := c.loadFromFile(configFile); err != nil {
			utils.Warn("Failed to load config from %s: %v", configFile, err)
		}
	} else if localConfig := filepath.Join(".", "config.json"); utils.FileExists(localConfig) {
		if err := c.loadFromFile(localConfig); err != nil {
			utils.Warn("Failed to load local config: %v", err)
		}
	}

	c.loadFromEnv()

	if c.Debug && !c.DevMode {
		c.DevMode = true
	}
	utils.SetDebug(c.Debug || c.DevMode)

	return nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	tempConfig := DefaultConfig()
	if err := json.Unmarshal(data, tempConfig); err != nil {
		return err
	}

	c.APIKey = tempConfig.APIKey
	c.Debug = tempConfig.Debug
	c.DevMode = tempConfig.DevMode
	c.LogLevel = tempConfig.LogLevel
	c.MaxRetries = tempConfig.MaxRetries
	c.RetryBaseMs = tempConfig.RetryBaseMs
	c.RetryMaxMs = tempConfig.RetryMaxMs
	c.DefaultCooldownMs = tempConfig.DefaultCooldownMs
	c.MaxWaitBeforeErrorMs = tempConfig.MaxWaitBeforeErrorMs
	c.MaxAccounts = tempConfig.MaxAccounts
	c.GlobalQuotaThreshold = tempConfig.GlobalQuotaThreshold
	c.RateLimitDedupWindowMs = tempConfig.RateLimitDedupWindowMs
	c.MaxConsecutiveFailures = tempConfig.MaxConsecutiveFailures
	c.AutoRecoveryMs = tempConfig.AutoRecoveryMs
	c.MaxCapacityRetries = tempConfig.MaxCapacityRetries
	c.AccountSelection = tempConfig.AccountSelection
	c.Port = tempConfig.Port
	c.Host = tempConfig.Host
	c.FallbackEnabled = tempConfig.FallbackEnabled
	c.InlineThinkingMode = tempConfig.InlineThinkingMode

	return nil
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv("API_KEY"); v != "" {
		c.APIKey = v
	}
	if os.Getenv("DEBUG") == "true" {
		c.Debug = true
	}
	if os.Getenv("DEV_MODE") == "true" {
		c.DevMode = true
	}
	if os.Getenv("FALLBACK") == "true" {
		c.FallbackEnabled = true
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, ok := parsePort(v); ok {
			c.Port = p
		}
	}
	if v := os.Getenv("STRATEGY"); v != "" {
		if name, ok := NormalizeStrategy(v); ok {
			if v == StrategyHybrid {
				utils.Warn("[Config] STRATEGY %q is a deprecated alias for %q", v, name)
			}
			c.AccountSelection.Strategy = name
		}
	}
}

func parsePort(s string) (int, bool) {
	n := 0
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

// GetStrategy returns the current account selection strategy.
func (c *Config) GetStrategy() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.AccountSelection.Strategy
}

// SetStrategy updates the account selection strategy.
func (c *Config) SetStrategy(strategy string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.AccountSelection.Strategy = strategy
}

// IsDevMode returns whether dev mode is enabled.
func (c *Config) IsDevMode() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.DevMode
}

// GetPublic returns a copy of the config with sensitive fields redacted.
func (c *Config) GetPublic() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return map[string]interface{}{
		"apiKey":                 redact(c.APIKey),
		"debug":                  c.Debug,
		"devMode":                c.DevMode,
		"logLevel":               c.LogLevel,
		"maxRetries":             c.MaxRetries,
		"defaultCooldownMs":      c.DefaultCooldownMs,
		"maxWaitBeforeErrorMs":   c.MaxWaitBeforeErrorMs,
		"maxAccounts":            c.MaxAccounts,
		"globalQuotaThreshold":   c.GlobalQuotaThreshold,
		"maxConsecutiveFailures": c.MaxConsecutiveFailures,
		"autoRecoveryMs":         c.AutoRecoveryMs,
		"accountSelection":       c.AccountSelection,
		"port":                   c.Port,
		"host":                   c.Host,
		"fallbackEnabled":        c.FallbackEnabled,
		"inlineThinkingMode":     c.InlineThinkingMode,
	}
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

// GetPort returns the server port from global config.
func GetPort() int { return GetConfig().Port }

// GetHost returns the server host from global config.
func GetHost() string { return GetConfig().Host }

// IsDebug returns whether debug mode is enabled.
func IsDebug() bool {
	cfg := GetConfig()
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()
	return cfg.Debug
}

// IsDevModeEnabled returns whether dev mode is enabled.
func IsDevModeEnabled() bool { return GetConfig().IsDevMode() }

// GetGlobalQuotaThreshold returns the global quota threshold.
func GetGlobalQuotaThreshold() float64 {
	cfg := GetConfig()
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()
	return cfg.GlobalQuotaThreshold
}
