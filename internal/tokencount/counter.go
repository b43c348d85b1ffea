// Package tokencount provides local, upstream-free token estimation for the
// /v1/messages/count_tokens endpoint. It never calls the Cloud Code API and
// so never consumes upstream quota.
package tokencount

import (
	"encoding/json"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/anthropics/cloudcode-relay/internal/config"
	"github.com/anthropics/cloudcode-relay/pkg/anthropic"
)

// claudeEncoding and geminiEncoding are the tiktoken BPE encodings used as a
// local stand-in for each family's own (closed-source) tokenizer. Neither
// Anthropic nor Google publishes a tokenizer usable offline, so both counts
// are approximate; Count scales the raw count by the family's factor in
// perFamilyFudge.
const (
	claudeEncoding = "cl100k_base"
	geminiEncoding = "o200k_base"
)

var (
	encodingCache   = map[string]*tiktoken.Tiktoken{}
	encodingCacheMu sync.Mutex
)

func encodingFor(name string) (*tiktoken.Tiktoken, error) {
	encodingCacheMu.Lock()
	defer encodingCacheMu.Unlock()

	if enc, ok := encodingCache[name]; ok {
		return enc, nil
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, err
	}
	encodingCache[name] = enc
	return enc, nil
}

// Counter estimates token counts for a MessagesRequest without contacting
// any upstream. Per spec §2 item 8, estimation is model-family dependent.
type Counter struct{}

// New constructs a Counter.
func New() *Counter {
	return &Counter{}
}

// perFamilyFudge nudges the raw BPE count toward each family's observed
// average tokens-per-word; it is not a precise reproduction of either
// vendor's tokenizer.
var perFamilyFudge = map[config.ModelFamily]float64{
	config.ModelFamilyClaude:  1.0,
	config.ModelFamilyGemini:  0.92,
	config.ModelFamilyUnknown: 1.0,
}

// Count returns an estimated input token count for req, covering system
// prompt, message content (text, thinking, tool_use input, tool_result,
// images counted at a fixed per-image token cost), and tool schemas.
func (c *Counter) Count(req anthropic.MessagesRequest) (int, error) {
	family := config.GetModelFamily(req.Model)
	encName := claudeEncoding
	if family == config.ModelFamilyGemini {
		encName = geminiEncoding
	}
	enc, err := encodingFor(encName)
	if err != nil {
		return 0, err
	}

	total := 0
	total += countSystem(enc, req.System)

	for _, msg := range req.Messages {
		for _, block := range msg.Content {
			total += c.countBlock(enc, block)
		}
	}

	for _, tool := range req.Tools {
		total += len(enc.Encode(tool.Name, nil, nil))
		total += len(enc.Encode(tool.Description, nil, nil))
		total += len(enc.Encode(string(tool.InputSchema), nil, nil))
	}

	fudge := perFamilyFudge[family]
	return int(float64(total) * fudge), nil
}

func (c *Counter) countBlock(enc *tiktoken.Tiktoken, block anthropic.ContentBlock) int {
	switch block.Type {
	case "text":
		return len(enc.Encode(block.Text, nil, nil))
	case "thinking", "redacted_thinking":
		return len(enc.Encode(block.Thinking, nil, nil))
	case "tool_use":
		n := len(enc.Encode(block.Name, nil, nil))
		n += len(enc.Encode(string(block.Input), nil, nil))
		return n
	case "tool_result":
		return len(enc.Encode(toolResultText(block.Content), nil, nil))
	case "image":
		// Fixed estimate; the wire size of a base64 image payload is not a
		// useful proxy for its token cost under either vendor's vision
		// tokenizer.
		return imageTokenEstimate
	default:
		return 0
	}
}

// imageTokenEstimate approximates the token cost of a single inlined image,
// following the rough per-tile budgets both Anthropic and Google document
// for moderate-resolution images.
const imageTokenEstimate = 1600

func toolResultText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func countSystem(enc *tiktoken.Tiktoken, system anthropic.SystemContent) int {
	switch v := system.(type) {
	case nil:
		return 0
	case string:
		return len(enc.Encode(v, nil, nil))
	default:
		// System may be delivered as a list of {type, text} blocks, matching
		// the request converter's handling in internal/format.
		raw, err := json.Marshal(v)
		if err != nil {
			return 0
		}
		var blocks []struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(raw, &blocks); err != nil {
			return len(enc.Encode(string(raw), nil, nil))
		}
		total := 0
		for _, b := range blocks {
			total += len(enc.Encode(b.Text, nil, nil))
		}
		return total
	}
}
