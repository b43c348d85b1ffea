package format

import (
	"testing"

	"github.com/anthropics/cloudcode-relay/pkg/anthropic"
	"github.com/stretchr/testify/require"
)

func simpleAnthropicRequest(model string) *anthropic.MessagesRequest {
	return &anthropic.MessagesRequest{
		Model:     model,
		MaxTokens: 1024,
		Messages: []anthropic.Message{
			{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "hello"}}},
		},
	}
}

func TestClampThinkingBudget_UnboundedWhenMaxTokensUnset(t *testing.T) {
	require.Equal(t, 5000, clampThinkingBudget(5000, 0))
}

func TestClampThinkingBudget_ClampsToMaxTokensMinusOne(t *testing.T) {
	require.Equal(t, 99, clampThinkingBudget(5000, 100))
}

func TestClampThinkingBudget_PassesThroughWhenUnderCeiling(t *testing.T) {
	require.Equal(t, 50, clampThinkingBudget(50, 100))
}

func TestConvertAnthropicToGoogle_ClaudeThinkingBudgetClampedNotInflated(t *testing.T) {
	req := simpleAnthropicRequest("claude-sonnet-4-5-thinking")
	req.MaxTokens = 100
	req.Thinking = &anthropic.ThinkingConfig{BudgetTokens: 5000}

	out := ConvertAnthropicToGoogle(req)

	require.Equal(t, 100, out.GenerationConfig.MaxOutputTokens, "max_tokens must not be inflated to fit the budget")
	require.Equal(t, 99, out.GenerationConfig.ThinkingConfig.ThinkingBudget)
}

func TestConvertAnthropicToGoogle_ClaudeThinkingBudgetDroppedWhenClampHitsZero(t *testing.T) {
	req := simpleAnthropicRequest("claude-sonnet-4-5-thinking")
	req.MaxTokens = 1
	req.Thinking = &anthropic.ThinkingConfig{BudgetTokens: 5000}

	out := ConvertAnthropicToGoogle(req)

	require.Equal(t, 0, out.GenerationConfig.ThinkingConfig.ThinkingBudget)
	require.True(t, out.GenerationConfig.ThinkingConfig.IncludeThoughts, "thinking should still be enabled even with no explicit budget")
}

func TestConvertAnthropicToGoogle_GeminiThinkingDefaultsBudgetWhenUnspecified(t *testing.T) {
	req := simpleAnthropicRequest("gemini-3-pro-high")
	req.MaxTokens = 100000

	out := ConvertAnthropicToGoogle(req)

	require.Equal(t, 16000, out.GenerationConfig.ThinkingConfig.ThinkingBudgetGemini)
	require.True(t, out.GenerationConfig.ThinkingConfig.IncludeThoughtsGemini)
}

func TestConvertAnthropicToGoogle_SystemStringBecomesSystemInstruction(t *testing.T) {
	req := simpleAnthropicRequest("gemini-3-flash")
	req.System = "be nice"

	out := ConvertAnthropicToGoogle(req)

	require.NotNil(t, out.SystemInstruction)
	require.Equal(t, "be nice", out.SystemInstruction.Parts[0].Text)
}

func TestConvertAnthropicToGoogle_SystemArrayOfTextBlocks(t *testing.T) {
	req := simpleAnthropicRequest("gemini-3-flash")
	req.System = []interface{}{
		map[string]interface{}{"type": "text", "text": "first"},
		map[string]interface{}{"type": "text", "text": "second"},
	}

	out := ConvertAnthropicToGoogle(req)

	require.NotNil(t, out.SystemInstruction)
	require.Len(t, out.SystemInstruction.Parts, 1)
	require.Equal(t, "first\n\nsecond", out.SystemInstruction.Parts[0].Text)
	require.NotContains(t, out.SystemInstruction.Parts[0].Text, "\n\n\n")
}

func TestConvertAnthropicToGoogle_RoleMapping(t *testing.T) {
	req := simpleAnthropicRequest("gemini-3-flash")
	req.Messages = append(req.Messages, anthropic.Message{
		Role:    "assistant",
		Content: []anthropic.ContentBlock{{Type: "text", Text: "hi back"}},
	})

	out := ConvertAnthropicToGoogle(req)

	require.Equal(t, "user", out.Contents[0].Role)
	require.Equal(t, "model", out.Contents[1].Role)
}

func TestConvertAnthropicToGoogle_ToolsConvertedWithSanitizedSchema(t *testing.T) {
	req := simpleAnthropicRequest("claude-sonnet-4-5")
	req.Tools = []anthropic.Tool{
		{
			Name:        "search web!",
			Description: "searches the web",
			InputSchema: []byte(`{"type":"object","properties":{"q":{"type":"string"}},"required":["q"]}`),
		},
	}

	out := ConvertAnthropicToGoogle(req)

	require.Len(t, out.Tools, 1)
	decl := out.Tools[0].FunctionDeclarations[0]
	require.Equal(t, "search_web_", decl.Name, "tool names must be sanitized to the allowed charset")
	require.Equal(t, "OBJECT", decl.Parameters["type"])
	require.NotNil(t, out.ToolConfig)
	require.Equal(t, "VALIDATED", out.ToolConfig.FunctionCallingConfig.Mode)
}

func TestConvertAnthropicToGoogle_ToolsOmittedWhenNoneProvided(t *testing.T) {
	req := simpleAnthropicRequest("claude-sonnet-4-5")
	out := ConvertAnthropicToGoogle(req)
	require.Nil(t, out.Tools)
	require.Nil(t, out.ToolConfig)
}

func TestConvertAnthropicToGoogle_CapsGeminiMaxOutputTokens(t *testing.T) {
	req := simpleAnthropicRequest("gemini-3-flash")
	req.MaxTokens = 200000

	out := ConvertAnthropicToGoogle(req)

	require.LessOrEqual(t, out.GenerationConfig.MaxOutputTokens, 65536)
}

func TestConvertAnthropicToGoogle_EmptyPartsGetsPlaceholder(t *testing.T) {
	req := simpleAnthropicRequest("gemini-3-flash")
	req.Messages = []anthropic.Message{
		{Role: "assistant", Content: []anthropic.ContentBlock{{Type: "thinking", Thinking: "unsigned", Signature: ""}}},
	}

	out := ConvertAnthropicToGoogle(req)

	require.Len(t, out.Contents, 1)
	require.NotEmpty(t, out.Contents[0].Parts)
}

func TestCleanToolName(t *testing.T) {
	require.Equal(t, "search_web_", cleanToolName("search web!"))
	require.Equal(t, "already_ok-1", cleanToolName("already_ok-1"))
	require.Len(t, cleanToolName(string(make([]byte, 100))), 64, "names longer than 64 chars must be truncated")
}
