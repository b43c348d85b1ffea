// Package config provides configuration constants and runtime configuration
// management for the relay.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
)

// Version information
const Version = "1.0.0"

// Cloud Code API endpoints (in fallback order)
const (
	EndpointDaily = "https://daily-cloudcode-pa.googleapis.com"
	EndpointProd  = "https://cloudcode-pa.googleapis.com"
)

// EndpointFallbacks is the endpoint fallback order for generateContent.
var EndpointFallbacks = []string{
	EndpointDaily,
	EndpointProd,
}

// LoadCodeAssistEndpoints is the endpoint order for loadCodeAssist (prod
// first — it behaves better for fresh/unprovisioned accounts).
var LoadCodeAssistEndpoints = []string{
	EndpointProd,
	EndpointDaily,
}

// DefaultProjectID is used when an account has no cached project id yet.
const DefaultProjectID = "rising-fact-p41fc"

// RequestHeaders are the fixed headers sent with every upstream request.
func RequestHeaders() map[string]string {
	return map[string]string{
		"User-Agent":         platformUserAgent(),
		"X-Goog-Api-Client":  "google-cloud-sdk relay-go/1.0",
		"Client-Metadata":    clientMetadata(),
	}
}

func platformUserAgent() string {
	return fmt.Sprintf("cloudcode-relay/%s %s/%s", Version, runtime.GOOS, runtime.GOARCH)
}

// Platform enum values expected by the Cloud Code client-metadata field.
const (
	platformUnspecified = 0
	platformWindows     = 1
	platformLinux       = 2
	platformMacOS       = 3
)

func platformEnum() int {
	switch runtime.GOOS {
	case "darwin":
		return platformMacOS
	case "windows":
		return platformWindows
	case "linux":
		return platformLinux
	default:
		return platformUnspecified
	}
}

func clientMetadata() string {
	data, _ := json.Marshal(map[string]int{
		"platform": platformEnum(),
	})
	return string(data)
}

// Timing constants
const (
	RequestBodyLimit int64 = 50 * 1024 * 1024
	DefaultPort            = 8080
)

// AccountConfigPath is the path to the single persisted account file.
var AccountConfigPath = filepath.Join(homeDir(), ".config", "cloudcode-relay", "accounts.json")

// Rate limit and retry constants
const (
	DefaultCooldownMs      = 10 * 1000
	MaxRetries             = 5
	MaxAccounts            = 10
	MaxWaitBeforeErrorMs   = 120000
	RateLimitDedupWindowMs = 2000
	MaxConsecutiveFailures = 3
	AutoRecoveryMs         = 60000
	MaxCapacityRetries     = 5
)

// QuotaExhaustedBackoffTiersMs is the tiered backoff for repeated
// quota_exhausted classifications on the same (account, model): 1m, 5m,
// 30m, 2h.
var QuotaExhaustedBackoffTiersMs = []int64{60000, 300000, 1800000, 7200000}

// CapacityBackoffTiersMs is the tiered backoff for repeated model-capacity
// exhaustion on the same (account, model): 5s, 15s, 45s, 2m.
var CapacityBackoffTiersMs = []int64{5000, 15000, 45000, 120000}

// CapacityJitterMaxMs bounds the random jitter added on top of a capacity
// backoff tier so concurrent retries don't all wake at once.
const CapacityJitterMaxMs = 1000

// FirstRetryDelayMs is how long the failover controller waits before the
// very first retry of a freshly-classified failure, before any tiered
// backoff applies.
const FirstRetryDelayMs = 500

// MinBackoffMs is the floor applied to any computed backoff duration.
const MinBackoffMs = 250

// RateLimitStateResetMs is how long a rate-limit dedup/backoff state is
// kept before being swept by the periodic cleanup.
const RateLimitStateResetMs = 10 * 60 * 1000

// SwitchAccountDelayMs is the pause before trying the next account after a
// failover, giving the previous account's rate-limit window a moment to
// settle before it's reselected.
const SwitchAccountDelayMs = 200

// MaxEmptyResponseRetries is a retry count for upstream responses that
// parse successfully but carry no usable content. The request path does not
// read it: an empty response counts as one failed attempt and the
// controller moves on to the next account, like other retryable failures.
const MaxEmptyResponseRetries = 2

// BackoffByErrorType gives a base backoff, in milliseconds, per classified
// error kind, used by the smart-backoff calculator alongside any
// server-supplied Retry-After.
var BackoffByErrorType = map[string]int64{
	"RATE_LIMIT_EXCEEDED":      2000,
	"MODEL_CAPACITY_EXHAUSTED": 5000,
	"SERVER_ERROR":             1000,
	"UNKNOWN":                  1000,
}

// GeminiSignatureCacheTTLMs is how long a cached thinking signature stays
// valid before eviction.
const GeminiSignatureCacheTTLMs = 30 * 60 * 1000

// GeminiMaxOutputTokens is the default output token ceiling applied to
// Gemini requests that don't specify one.
const GeminiMaxOutputTokens = 65536

// ModelValidationCacheTTLMs is how long a model's validity (from the model
// list endpoint) is cached before being re-checked.
const ModelValidationCacheTTLMs = 10 * 60 * 1000

// LoadCodeAssistHeaders are the headers sent with loadCodeAssist /
// onboardUser calls, a subset of RequestHeaders without the metadata tied
// to generateContent.
func LoadCodeAssistHeaders() map[string]string {
	return map[string]string{
		"User-Agent":        platformUserAgent(),
		"X-Goog-Api-Client": "google-cloud-sdk relay-go/1.0",
	}
}

// HealthPenalty returns the health-score penalty for a classified failure
// kind, per the authoritative table.
func HealthPenalty(kind string) float64 {
	switch kind {
	case "rate_limit":
		return 5
	case "auth":
		return 20
	case "server":
		return 10
	case "network":
		return 3
	default:
		return 10
	}
}

// Thinking model constants
const MinSignatureLength = 50

// GeminiSkipSignature is the sentinel thoughtSignature value sent when a
// Gemini tool_use part has no real signature to forward (no Claude
// equivalent and nothing cached), telling the model to treat the turn as
// unsigned rather than rejecting it.
const GeminiSkipSignature = "skip_thought_signature_validator"

// Account selection strategies
const (
	StrategySticky     = "sticky"
	StrategyRoundRobin = "round-robin"
	StrategyAggressive = "aggressive"
	StrategyOnDemand   = "on-demand"

	// StrategyHybrid is a deprecated alias for StrategyAggressive, carried
	// forward from earlier config files and CLI scripts.
	StrategyHybrid = "hybrid"

	DefaultSelectionStrategy = StrategyAggressive
)

var validStrategies = map[string]bool{
	StrategySticky:     true,
	StrategyRoundRobin: true,
	StrategyAggressive: true,
	StrategyOnDemand:   true,
}

// NormalizeStrategy resolves deprecated aliases and validates a strategy
// name, returning the canonical name.
func NormalizeStrategy(name string) (string, bool) {
	if name == StrategyHybrid {
		return StrategyAggressive, true
	}
	if validStrategies[name] {
		return name, true
	}
	return "", false
}

// ModelFallbackMap maps a primary model to the model attempted next when
// every account has exhausted it. The graph must be acyclic; this is
// re-verified at startup via DFS (see config.ValidateFallbackMap).
var ModelFallbackMap = map[string]string{
	"gemini-3-pro-high": "claude-opus-4-6-thinking",
	"claude-opus-4-6-thinking": "gemini-3-pro-low",
	"gemini-3-pro-low":  "claude-sonnet-4-5",
	"claude-sonnet-4-5": "gemini-3-flash",
	"gemini-3-flash":    "claude-sonnet-4-5-thinking",
	// claude-sonnet-4-5-thinking is terminal: no further fallback.
}

// ValidateFallbackMap runs a DFS over ModelFallbackMap (or an override) and
// returns an error describing the first cycle found, if any.
func ValidateFallbackMap(m map[string]string) error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(m))

	var visit func(node string, path []string) error
	visit = func(node string, path []string) error {
		switch state[node] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("model fallback cycle detected: %s", strings.Join(append(path, node), " -> "))
		}
		next, ok := m[node]
		if !ok {
			state[node] = done
			return nil
		}
		state[node] = visiting
		if err := visit(next, append(path, node)); err != nil {
			return err
		}
		state[node] = done
		return nil
	}

	for node := range m {
		if err := visit(node, nil); err != nil {
			return err
		}
	}
	return nil
}

// ModelFamily represents the model family type.
type ModelFamily string

const (
	ModelFamilyClaude  ModelFamily = "claude"
	ModelFamilyGemini  ModelFamily = "gemini"
	ModelFamilyUnknown ModelFamily = "unknown"
)

// GetModelFamily returns the model family for a model id by name sniffing.
func GetModelFamily(modelName string) ModelFamily {
	lower := strings.ToLower(modelName)
	switch {
	case strings.Contains(lower, "claude"):
		return ModelFamilyClaude
	case strings.Contains(lower, "gemini"):
		return ModelFamilyGemini
	default:
		return ModelFamilyUnknown
	}
}

var geminiVersionRe = regexp.MustCompile(`gemini-(\d+)`)

// IsThinkingModel reports whether a model emits thinking/reasoning content.
func IsThinkingModel(modelName string) bool {
	lower := strings.ToLower(modelName)

	if strings.Contains(lower, "claude") && strings.Contains(lower, "thinking") {
		return true
	}

	if strings.Contains(lower, "gemini") {
		if strings.Contains(lower, "thinking") {
			return true
		}
		if m := geminiVersionRe.FindStringSubmatch(lower); len(m) >= 2 {
			if v, err := strconv.Atoi(m[1]); err == nil && v >= 3 {
				return true
			}
		}
	}

	return false
}

// GetFallbackModel returns the configured fallback for a model, if any.
func GetFallbackModel(modelName string) (string, bool) {
	fallback, ok := ModelFallbackMap[modelName]
	return fallback, ok
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
