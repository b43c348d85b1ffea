package format

import (
	"testing"
	"time"

	"github.com/anthropics/cloudcode-relay/internal/config"
	"github.com/stretchr/testify/require"
)

func TestSignatureCache_RoundTrip(t *testing.T) {
	c := NewSignatureCache()
	c.CacheSignature("toolu_1", "sig-abc")
	require.Equal(t, "sig-abc", c.GetCachedSignature("toolu_1"))
}

func TestSignatureCache_MissingKeyReturnsEmpty(t *testing.T) {
	c := NewSignatureCache()
	require.Equal(t, "", c.GetCachedSignature("never-cached"))
}

func TestSignatureCache_EmptyKeyOrSignatureIgnored(t *testing.T) {
	c := NewSignatureCache()
	c.CacheSignature("", "sig")
	c.CacheSignature("toolu_1", "")
	require.Equal(t, "", c.GetCachedSignature("toolu_1"))
	require.Equal(t, "", c.GetCachedSignature(""))
}

func TestSignatureCache_ThinkingSignatureBelowMinLengthDropped(t *testing.T) {
	c := NewSignatureCache()
	c.CacheThinkingSignature("short", "claude")
	require.Equal(t, "", c.GetCachedSignatureFamily("short"))
}

func TestSignatureCache_ThinkingSignatureRoundTrip(t *testing.T) {
	c := NewSignatureCache()
	sig := make([]byte, config.MinSignatureLength)
	for i := range sig {
		sig[i] = 'a'
	}
	c.CacheThinkingSignature(string(sig), "gemini")
	require.Equal(t, "gemini", c.GetCachedSignatureFamily(string(sig)))
}

func TestSignatureCache_ClearThinkingCache(t *testing.T) {
	c := NewSignatureCache()
	sig := make([]byte, config.MinSignatureLength)
	for i := range sig {
		sig[i] = 'b'
	}
	c.CacheThinkingSignature(string(sig), "claude")
	c.ClearThinkingSignatureCache()
	require.Equal(t, "", c.GetCachedSignatureFamily(string(sig)))
}

func TestSignatureCache_GlobalInstanceIsSingleton(t *testing.T) {
	a := GetGlobalSignatureCache()
	b := GetGlobalSignatureCache()
	require.Same(t, a, b)
}

// TestSignatureCache_ExpiredEntryEvictedOnRead exercises the TTL-gated path via
// a manually backdated entry, since the cache has no clock injection point.
func TestSignatureCache_ExpiredEntryEvictedOnRead(t *testing.T) {
	c := NewSignatureCache()
	c.mu.Lock()
	c.memoryCache["toolu_old"] = &signatureEntry{
		Signature: "stale",
		Timestamp: time.Now().Add(-time.Duration(config.GeminiSignatureCacheTTLMs+1000) * time.Millisecond),
	}
	c.mu.Unlock()

	require.Equal(t, "", c.GetCachedSignature("toolu_old"))

	c.mu.RLock()
	_, stillPresent := c.memoryCache["toolu_old"]
	c.mu.RUnlock()
	require.False(t, stillPresent, "an expired entry should be evicted on read, not just masked")
}
