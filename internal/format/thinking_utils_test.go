package format

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validSig() string {
	sig := make([]byte, 60)
	for i := range sig {
		sig[i] = 's'
	}
	return string(sig)
}

func TestCleanCacheControl_StripsCacheControlField(t *testing.T) {
	messages := []Message{
		{
			Role: "user",
			Content: []ContentBlock{
				{Type: "text", Text: "hi", CacheControl: map[string]interface{}{"type": "ephemeral"}},
			},
		},
	}
	out := CleanCacheControl(messages)
	require.Nil(t, out[0].Content[0].CacheControl)
	require.Equal(t, "hi", out[0].Content[0].Text)
}

func TestCleanCacheControl_EmptyInputPassthrough(t *testing.T) {
	require.Nil(t, CleanCacheControl(nil))
}

func TestCleanCacheControl_MessageWithNoContentPreserved(t *testing.T) {
	messages := []Message{{Role: "user"}}
	out := CleanCacheControl(messages)
	require.Len(t, out, 1)
	require.Equal(t, "user", out[0].Role)
}

func TestHasGeminiHistory_DetectsToolUseThoughtSignature(t *testing.T) {
	messages := []Message{
		{Role: "assistant", Content: []ContentBlock{{Type: "tool_use", ThoughtSignature: "abc"}}},
	}
	require.True(t, HasGeminiHistory(messages))
}

func TestHasGeminiHistory_FalseWithoutSignature(t *testing.T) {
	messages := []Message{
		{Role: "assistant", Content: []ContentBlock{{Type: "tool_use"}}},
	}
	require.False(t, HasGeminiHistory(messages))
}

func TestHasUnsignedThinkingBlocks_TrueWhenSignatureTooShort(t *testing.T) {
	messages := []Message{
		{Role: "assistant", Content: []ContentBlock{{Type: "thinking", Thinking: "...", Signature: "short"}}},
	}
	require.True(t, HasUnsignedThinkingBlocks(messages))
}

func TestHasUnsignedThinkingBlocks_FalseWithValidSignature(t *testing.T) {
	messages := []Message{
		{Role: "assistant", Content: []ContentBlock{{Type: "thinking", Thinking: "...", Signature: validSig()}}},
	}
	require.False(t, HasUnsignedThinkingBlocks(messages))
}

func TestHasUnsignedThinkingBlocks_IgnoresUserMessages(t *testing.T) {
	messages := []Message{
		{Role: "user", Content: []ContentBlock{{Type: "thinking", Thinking: "..."}}},
	}
	require.False(t, HasUnsignedThinkingBlocks(messages))
}

func TestRestoreThinkingSignatures_DropsUnsignedKeepsSignedSanitized(t *testing.T) {
	content := []ContentBlock{
		{Type: "thinking", Thinking: "unsigned", Signature: ""},
		{Type: "thinking", Thinking: "signed", Signature: validSig(), ThoughtSignature: "extra-field-should-be-dropped"},
		{Type: "text", Text: "keep me"},
	}
	out := RestoreThinkingSignatures(content)

	require.Len(t, out, 2)
	require.Equal(t, "thinking", out[0].Type)
	require.Equal(t, "signed", out[0].Thinking)
	require.Equal(t, "", out[0].ThoughtSignature, "sanitization must strip fields beyond type/thinking/signature")
	require.Equal(t, "text", out[1].Type)
}

func TestRemoveTrailingThinkingBlocks_RemovesOnlyUnsignedTrailing(t *testing.T) {
	content := []ContentBlock{
		{Type: "text", Text: "body"},
		{Type: "thinking", Thinking: "trailing unsigned", Signature: ""},
	}
	out := RemoveTrailingThinkingBlocks(content)
	require.Len(t, out, 1)
	require.Equal(t, "text", out[0].Type)
}

func TestRemoveTrailingThinkingBlocks_StopsAtSignedThinkingBlock(t *testing.T) {
	content := []ContentBlock{
		{Type: "text", Text: "body"},
		{Type: "thinking", Thinking: "signed", Signature: validSig()},
	}
	out := RemoveTrailingThinkingBlocks(content)
	require.Len(t, out, 2, "a signed trailing thinking block must be kept")
}

func TestReorderAssistantContent_OrdersThinkingTextToolUse(t *testing.T) {
	content := []ContentBlock{
		{Type: "tool_use", Name: "search", ID: "toolu_1"},
		{Type: "text", Text: "explanation"},
		{Type: "thinking", Thinking: "reasoning", Signature: validSig()},
	}
	out := ReorderAssistantContent(content)

	require.Len(t, out, 3)
	require.Equal(t, "thinking", out[0].Type)
	require.Equal(t, "text", out[1].Type)
	require.Equal(t, "tool_use", out[2].Type)
}

func TestReorderAssistantContent_DropsEmptyTextBlocks(t *testing.T) {
	content := []ContentBlock{
		{Type: "text", Text: ""},
		{Type: "text", Text: "kept"},
	}
	out := ReorderAssistantContent(content)
	require.Len(t, out, 1)
	require.Equal(t, "kept", out[0].Text)
}

func TestReorderAssistantContent_SingleElementStillSanitized(t *testing.T) {
	content := []ContentBlock{
		{Type: "thinking", Thinking: "solo", Signature: validSig(), ThoughtSignature: "drop-me"},
	}
	out := ReorderAssistantContent(content)
	require.Len(t, out, 1)
	require.Equal(t, "", out[0].ThoughtSignature)
}

func TestNeedsThinkingRecovery_FalseOutsideToolLoop(t *testing.T) {
	messages := []Message{
		{Role: "user", Content: []ContentBlock{{Type: "text", Text: "hi"}}},
		{Role: "assistant", Content: []ContentBlock{{Type: "text", Text: "hello"}}},
	}
	require.False(t, NeedsThinkingRecovery(messages))
}

func TestNeedsThinkingRecovery_TrueInToolLoopWithoutThinking(t *testing.T) {
	messages := []Message{
		{Role: "assistant", Content: []ContentBlock{{Type: "tool_use", ID: "toolu_1", Name: "search"}}},
		{Role: "user", Content: []ContentBlock{{Type: "tool_result", ToolUseID: "toolu_1"}}},
	}
	require.True(t, NeedsThinkingRecovery(messages))
}

func TestNeedsThinkingRecovery_FalseInToolLoopWithValidThinking(t *testing.T) {
	messages := []Message{
		{Role: "assistant", Content: []ContentBlock{
			{Type: "thinking", Thinking: "...", Signature: validSig()},
			{Type: "tool_use", ID: "toolu_1", Name: "search"},
		}},
		{Role: "user", Content: []ContentBlock{{Type: "tool_result", ToolUseID: "toolu_1"}}},
	}
	require.False(t, NeedsThinkingRecovery(messages))
}

func TestCloseToolLoopForThinking_InjectsContinuationForToolLoop(t *testing.T) {
	messages := []Message{
		{Role: "assistant", Content: []ContentBlock{{Type: "tool_use", ID: "toolu_1", Name: "search"}}},
		{Role: "user", Content: []ContentBlock{{Type: "tool_result", ToolUseID: "toolu_1"}}},
	}
	out := CloseToolLoopForThinking(messages, "claude")

	require.Len(t, out, len(messages)+2)
	require.Equal(t, "assistant", out[len(out)-2].Role)
	require.Equal(t, "user", out[len(out)-1].Role)
}

func TestCloseToolLoopForThinking_InjectsAcknowledgementForInterruptedTool(t *testing.T) {
	messages := []Message{
		{Role: "assistant", Content: []ContentBlock{{Type: "tool_use", ID: "toolu_1", Name: "search"}}},
		{Role: "user", Content: []ContentBlock{{Type: "text", Text: "never mind"}}},
	}
	out := CloseToolLoopForThinking(messages, "claude")

	require.Len(t, out, len(messages)+1)
	require.Equal(t, "assistant", out[1].Role)
	require.Equal(t, "[Tool call was interrupted.]", out[1].Content[0].Text)
}

func TestCloseToolLoopForThinking_NoOpWhenNotInToolLoop(t *testing.T) {
	messages := []Message{
		{Role: "user", Content: []ContentBlock{{Type: "text", Text: "hi"}}},
	}
	out := CloseToolLoopForThinking(messages, "claude")
	require.Equal(t, messages, out)
}
