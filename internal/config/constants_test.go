package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateFallbackMap_DefaultGraphIsAcyclic(t *testing.T) {
	require.NoError(t, ValidateFallbackMap(ModelFallbackMap))
}

func TestValidateFallbackMap_DetectsCycle(t *testing.T) {
	cyclic := map[string]string{
		"a": "b",
		"b": "c",
		"c": "a",
	}
	err := ValidateFallbackMap(cyclic)
	require.Error(t, err)
	require.Contains(t, err.Error(), "cycle")
}

func TestValidateFallbackMap_SelfLoop(t *testing.T) {
	err := ValidateFallbackMap(map[string]string{"a": "a"})
	require.Error(t, err)
}

func TestValidateFallbackMap_TerminalNodeOK(t *testing.T) {
	m := map[string]string{
		"a": "b",
		// b has no entry - terminal.
	}
	require.NoError(t, ValidateFallbackMap(m))
}

func TestNormalizeStrategy(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantOK  bool
	}{
		{"round-robin passthrough", StrategyRoundRobin, StrategyRoundRobin, true},
		{"sticky passthrough", StrategySticky, StrategySticky, true},
		{"aggressive passthrough", StrategyAggressive, StrategyAggressive, true},
		{"on-demand passthrough", StrategyOnDemand, StrategyOnDemand, true},
		{"hybrid aliases to aggressive", StrategyHybrid, StrategyAggressive, true},
		{"unknown strategy rejected", "bogus", "", false},
		{"empty string rejected", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeStrategy(tt.input)
			require.Equal(t, tt.wantOK, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestHealthPenalty(t *testing.T) {
	require.Equal(t, 5.0, HealthPenalty("rate_limit"))
	require.Equal(t, 20.0, HealthPenalty("auth"))
	require.Equal(t, 10.0, HealthPenalty("server"))
	require.Equal(t, 3.0, HealthPenalty("network"))
	require.Equal(t, 10.0, HealthPenalty("something_unclassified"))
}

func TestGetModelFamily(t *testing.T) {
	require.Equal(t, ModelFamilyClaude, GetModelFamily("claude-sonnet-4-5"))
	require.Equal(t, ModelFamilyGemini, GetModelFamily("gemini-3-pro-high"))
	require.Equal(t, ModelFamilyUnknown, GetModelFamily("some-other-model"))
}

func TestIsThinkingModel(t *testing.T) {
	tests := []struct {
		model string
		want  bool
	}{
		{"claude-sonnet-4-5-thinking", true},
		{"claude-sonnet-4-5", false},
		{"gemini-3-pro-high", true},
		{"gemini-2-flash", false},
		{"gemini-2-flash-thinking", true},
		{"gemini-3-flash", true},
		{"unknown-model", false},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			require.Equal(t, tt.want, IsThinkingModel(tt.model))
		})
	}
}

func TestGetFallbackModel(t *testing.T) {
	fallback, ok := GetFallbackModel("gemini-3-pro-high")
	require.True(t, ok)
	require.Equal(t, "claude-opus-4-6-thinking", fallback)

	_, ok = GetFallbackModel("claude-sonnet-4-5-thinking")
	require.False(t, ok)
}
