package cloudcode

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func drainEvents(t *testing.T, events <-chan *SSEEvent, errs <-chan error) []*SSEEvent {
	t.Helper()
	var collected []*SSEEvent
	for events != nil || errs != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			collected = append(collected, ev)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			require.NoError(t, err)
		}
	}
	return collected
}

func eventTypes(events []*SSEEvent) []string {
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

func TestStreamSSEResponse_HappyPathTextSequence(t *testing.T) {
	body := `data: {"candidates":[{"content":{"parts":[{"text":"hello"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":5,"candidatesTokenCount":2}}` + "\n\n"

	events, errs := StreamSSEResponse(strings.NewReader(body), "gemini-3-flash")
	collected := drainEvents(t, events, errs)

	types := eventTypes(collected)
	require.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, types)

	require.Equal(t, "text", collected[1].ContentBlock.Type)
	require.Equal(t, "hello", collected[2].Delta["text"])
	require.Equal(t, "end_turn", collected[4].Delta["stop_reason"])
}

func TestStreamSSEResponse_IndexIsMonotonicAcrossBlocks(t *testing.T) {
	body := `data: {"candidates":[{"content":{"parts":[{"text":"thinking out loud","thought":true,"thoughtSignature":"` + strings.Repeat("s", 60) + `"},{"functionCall":{"name":"search","args":{"q":"x"}}}]},"finishReason":"TOOL_USE"}]}` + "\n\n"

	events, errs := StreamSSEResponse(strings.NewReader(body), "gemini-3-pro-high")
	collected := drainEvents(t, events, errs)

	var starts []*SSEEvent
	for _, e := range collected {
		if e.Type == "content_block_start" {
			starts = append(starts, e)
		}
	}
	require.Len(t, starts, 2)
	require.Equal(t, 0, starts[0].Index)
	require.Equal(t, 1, starts[1].Index)
}

func TestStreamSSEResponse_SignatureDeltaPrecedesContentBlockStop(t *testing.T) {
	sig := strings.Repeat("s", 60)
	body := `data: {"candidates":[{"content":{"parts":[{"text":"reasoning","thought":true,"thoughtSignature":"` + sig + `"},{"text":"the answer"}]},"finishReason":"STOP"}]}` + "\n\n"

	events, errs := StreamSSEResponse(strings.NewReader(body), "gemini-3-pro-high")
	collected := drainEvents(t, events, errs)

	var sigDeltaIdx, stopIdx int = -1, -1
	for i, e := range collected {
		if e.Type == "content_block_delta" && e.Delta["type"] == "signature_delta" {
			sigDeltaIdx = i
		}
		if sigDeltaIdx >= 0 && e.Type == "content_block_stop" && stopIdx == -1 {
			stopIdx = i
		}
	}
	require.NotEqual(t, -1, sigDeltaIdx)
	require.NotEqual(t, -1, stopIdx)
	require.Less(t, sigDeltaIdx, stopIdx, "signature_delta must be emitted before the thinking block's content_block_stop")
}

func TestStreamSSEResponse_ToolCallEventSequence(t *testing.T) {
	body := `data: {"candidates":[{"content":{"parts":[{"functionCall":{"id":"call_1","name":"search","args":{"q":"weather"}}}]},"finishReason":"TOOL_USE"}]}` + "\n\n"

	events, errs := StreamSSEResponse(strings.NewReader(body), "claude-sonnet-4-5")
	collected := drainEvents(t, events, errs)

	types := eventTypes(collected)
	require.Contains(t, types, "content_block_start")
	var toolStart *SSEEvent
	for _, e := range collected {
		if e.Type == "content_block_start" && e.ContentBlock.Type == "tool_use" {
			toolStart = e
		}
	}
	require.NotNil(t, toolStart)
	require.Equal(t, "call_1", toolStart.ContentBlock.ID)
	require.Equal(t, "search", toolStart.ContentBlock.Name)

	last := collected[len(collected)-1]
	require.Equal(t, "message_stop", last.Type)
	var msgDelta *SSEEvent
	for _, e := range collected {
		if e.Type == "message_delta" {
			msgDelta = e
		}
	}
	require.Equal(t, "tool_use", msgDelta.Delta["stop_reason"])
}

func TestStreamSSEResponse_NoContentPartsReturnsError(t *testing.T) {
	body := `data: {"candidates":[{"finishReason":"STOP"}]}` + "\n\n"

	events, errs := StreamSSEResponse(strings.NewReader(body), "gemini-3-flash")
	var gotErr error
	for events != nil || errs != nil {
		select {
		case _, ok := <-events:
			if !ok {
				events = nil
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			gotErr = err
		}
	}
	require.Error(t, gotErr)
}

func TestStreamSSEResponseWithMode_NativeInlineThinkingResynthesizesBlock(t *testing.T) {
	body := `data: {"candidates":[{"content":{"parts":[{"text":"<thinking>secret reasoning</thinking>visible answer"}]},"finishReason":"STOP"}]}` + "\n\n"

	events, errs := StreamSSEResponseWithMode(strings.NewReader(body), "gemini-3-flash", InlineThinkingNative)
	collected := drainEvents(t, events, errs)

	var sawThinkingBlock, sawTextBlock bool
	for _, e := range collected {
		if e.Type == "content_block_start" && e.ContentBlock.Type == "thinking" {
			sawThinkingBlock = true
		}
		if e.Type == "content_block_start" && e.ContentBlock.Type == "text" {
			sawTextBlock = true
		}
	}
	require.True(t, sawThinkingBlock)
	require.True(t, sawTextBlock)
}

func TestStreamSSEResponseWithMode_StripInlineThinkingOmitsThinkingBlock(t *testing.T) {
	body := `data: {"candidates":[{"content":{"parts":[{"text":"<thinking>secret reasoning</thinking>visible answer"}]},"finishReason":"STOP"}]}` + "\n\n"

	events, errs := StreamSSEResponseWithMode(strings.NewReader(body), "gemini-3-flash", InlineThinkingStrip)
	collected := drainEvents(t, events, errs)

	for _, e := range collected {
		require.NotEqual(t, "thinking", func() string {
			if e.ContentBlock != nil {
				return e.ContentBlock.Type
			}
			return ""
		}())
	}
}

func TestMapFinishReason(t *testing.T) {
	cases := map[string]string{
		"MAX_TOKENS": "max_tokens",
		"TOOL_USE":   "tool_use",
		"SAFETY":     "content_filter",
		"RECITATION": "content_filter",
		"STOP":       "end_turn",
		"":           "end_turn",
		"WEIRD":      "end_turn",
	}
	for reason, want := range cases {
		require.Equal(t, want, mapFinishReason(reason), "reason=%s", reason)
	}
}

func TestGenerateHexID_LengthAndUniqueness(t *testing.T) {
	a := generateHexID(16)
	b := generateHexID(16)
	require.Len(t, a, 32)
	require.NotEqual(t, a, b)
}
