package cloudcode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTierID(t *testing.T) {
	cases := map[string]string{
		"":                "unknown",
		"standard-tier":   "pro",
		"free-tier":       "free",
		"GOOGLE_ONE_ULTRA": "ultra",
		"premium-plan":    "pro",
		"some-free-thing": "free",
		"totally-unknown": "unknown",
	}
	for in, want := range cases {
		require.Equal(t, want, ParseTierID(in), "input=%q", in)
	}
}

func TestIsSupportedModel(t *testing.T) {
	require.True(t, isSupportedModel("claude-sonnet-4-5"))
	require.True(t, isSupportedModel("gemini-3-flash"))
	require.False(t, isSupportedModel("gpt-4"))
}
