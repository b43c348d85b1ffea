// Package format provides conversion between Anthropic and Google Generative AI formats.
// This file corresponds to src/format/signature-cache.js in the Node.js version.
package format

import (
	"sync"
	"time"

	"github.com/anthropics/cloudcode-relay/internal/config"
)

// maxSignatureCacheEntries bounds each map's size; once full, the oldest
// entry by insertion time is evicted to make room for the new one.
const maxSignatureCacheEntries = 10000

// SignatureCache caches Gemini thoughtSignatures for tool calls and thinking
// blocks. Gemini models require thoughtSignature on tool calls, but Claude
// Code strips non-standard fields; this process-local, bounded cache lets a
// signature be restored in a later turn of the same conversation.
type SignatureCache struct {
	mu            sync.RWMutex
	memoryCache   map[string]*signatureEntry
	thinkingCache map[string]*thinkingEntry
}

type signatureEntry struct {
	Signature string
	Timestamp time.Time
}

type thinkingEntry struct {
	ModelFamily string
	Timestamp   time.Time
}

// NewSignatureCache creates an empty SignatureCache.
func NewSignatureCache() *SignatureCache {
	return &SignatureCache{
		memoryCache:   make(map[string]*signatureEntry),
		thinkingCache: make(map[string]*thinkingEntry),
	}
}

// CacheSignature stores a signature for a tool_use_id.
func (c *SignatureCache) CacheSignature(toolUseID, signature string) {
	if toolUseID == "" || signature == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	evictOldestSignature(c.memoryCache, toolUseID)
	c.memoryCache[toolUseID] = &signatureEntry{
		Signature: signature,
		Timestamp: time.Now(),
	}
}

// GetCachedSignature retrieves a cached signature for a tool_use_id.
func (c *SignatureCache) GetCachedSignature(toolUseID string) string {
	if toolUseID == "" {
		return ""
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.memoryCache[toolUseID]
	if !ok {
		return ""
	}

	ttl := time.Duration(config.GeminiSignatureCacheTTLMs) * time.Millisecond
	if time.Since(entry.Timestamp) > ttl {
		delete(c.memoryCache, toolUseID)
		return ""
	}

	return entry.Signature
}

// CacheThinkingSignature caches a thinking block signature with its model family.
func (c *SignatureCache) CacheThinkingSignature(signature, modelFamily string) {
	if signature == "" || len(signature) < config.MinSignatureLength {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	evictOldestThinking(c.thinkingCache, signature)
	c.thinkingCache[signature] = &thinkingEntry{
		ModelFamily: modelFamily,
		Timestamp:   time.Now(),
	}
}

// GetCachedSignatureFamily returns the cached model family for a thinking signature.
func (c *SignatureCache) GetCachedSignatureFamily(signature string) string {
	if signature == "" {
		return ""
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.thinkingCache[signature]
	if !ok {
		return ""
	}

	ttl := time.Duration(config.GeminiSignatureCacheTTLMs) * time.Millisecond
	if time.Since(entry.Timestamp) > ttl {
		delete(c.thinkingCache, signature)
		return ""
	}

	return entry.ModelFamily
}

// ClearThinkingSignatureCache clears all entries from the thinking signature cache.
func (c *SignatureCache) ClearThinkingSignatureCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.thinkingCache = make(map[string]*thinkingEntry)
}

// sweepExpired drops every entry past its TTL from both maps. Called
// periodically by StartSignatureCacheSweep so a cache that never revisits a
// key still bounds its own memory.
func (c *SignatureCache) sweepExpired() {
	ttl := time.Duration(config.GeminiSignatureCacheTTLMs) * time.Millisecond
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for k, v := range c.memoryCache {
		if now.Sub(v.Timestamp) > ttl {
			delete(c.memoryCache, k)
		}
	}
	for k, v := range c.thinkingCache {
		if now.Sub(v.Timestamp) > ttl {
			delete(c.thinkingCache, k)
		}
	}
}

func evictOldestSignature(m map[string]*signatureEntry, skipKey string) {
	if len(m) < maxSignatureCacheEntries {
		return
	}
	var oldestKey string
	var oldestAt time.Time
	for k, v := range m {
		if k == skipKey {
			continue
		}
		if oldestKey == "" || v.Timestamp.Before(oldestAt) {
			oldestKey, oldestAt = k, v.Timestamp
		}
	}
	if oldestKey != "" {
		delete(m, oldestKey)
	}
}

func evictOldestThinking(m map[string]*thinkingEntry, skipKey string) {
	if len(m) < maxSignatureCacheEntries {
		return
	}
	var oldestKey string
	var oldestAt time.Time
	for k, v := range m {
		if k == skipKey {
			continue
		}
		if oldestKey == "" || v.Timestamp.Before(oldestAt) {
			oldestKey, oldestAt = k, v.Timestamp
		}
	}
	if oldestKey != "" {
		delete(m, oldestKey)
	}
}

// Global instance for convenience.
var (
	globalSignatureCache     *SignatureCache
	globalSignatureCacheOnce sync.Once
)

// InitGlobalSignatureCache initializes the global signature cache.
func InitGlobalSignatureCache() {
	globalSignatureCacheOnce.Do(func() {
		globalSignatureCache = NewSignatureCache()
	})
}

// GetGlobalSignatureCache returns the global signature cache instance,
// lazily creating it if InitGlobalSignatureCache was never called.
func GetGlobalSignatureCache() *SignatureCache {
	if globalSignatureCache == nil {
		InitGlobalSignatureCache()
	}
	return globalSignatureCache
}

// ClearThinkingSignatureCache clears the global thinking signature cache.
func ClearThinkingSignatureCache() {
	GetGlobalSignatureCache().ClearThinkingSignatureCache()
}

// StartSignatureCacheSweep launches a background goroutine that sweeps
// expired entries out of the global cache every interval, so a long-running
// process doesn't grow unbounded between key reuses.
func StartSignatureCacheSweep(interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			GetGlobalSignatureCache().sweepExpired()
		}
	}()
}
