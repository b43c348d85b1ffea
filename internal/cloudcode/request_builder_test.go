package cloudcode

import (
	"strings"
	"testing"

	"github.com/anthropics/cloudcode-relay/pkg/anthropic"
	"github.com/stretchr/testify/require"
)

func TestBuildCloudCodeRequest_WrapsAnthropicRequest(t *testing.T) {
	req := &anthropic.MessagesRequest{
		Model:     "gemini-3-flash",
		MaxTokens: 100,
		Messages: []anthropic.Message{
			{Role: "user", Content: []anthropic.ContentBlock{{Type: "text", Text: "hi"}}},
		},
	}

	payload, err := BuildCloudCodeRequest(req, "my-project")
	require.NoError(t, err)
	require.Equal(t, "my-project", payload.Project)
	require.Equal(t, "gemini-3-flash", payload.Model)
	require.Equal(t, "agent", payload.RequestType)
	require.True(t, strings.HasPrefix(payload.RequestID, "agent-"))
	require.NotEmpty(t, payload.Request["sessionId"])
}

func TestBuildHeaders_IncludesAuthAndContentType(t *testing.T) {
	headers := BuildHeaders("my-token", "gemini-3-flash", "")
	require.Equal(t, "Bearer my-token", headers["Authorization"])
	require.Equal(t, "application/json", headers["Content-Type"])
	require.NotContains(t, headers, "Accept", "default accept should not add an explicit header")
}

func TestBuildHeaders_NonDefaultAcceptIsSet(t *testing.T) {
	headers := BuildHeaders("tok", "gemini-3-flash", "text/event-stream")
	require.Equal(t, "text/event-stream", headers["Accept"])
}

func TestBuildHeaders_InterleavedThinkingHeaderOnlyForClaudeThinkingModels(t *testing.T) {
	claude := BuildHeaders("tok", "claude-sonnet-4-5-thinking", "")
	require.Equal(t, "interleaved-thinking-2025-05-14", claude["anthropic-beta"])

	gemini := BuildHeaders("tok", "gemini-3-pro-high", "")
	require.NotContains(t, gemini, "anthropic-beta")

	claudeNonThinking := BuildHeaders("tok", "claude-sonnet-4-5", "")
	require.NotContains(t, claudeNonThinking, "anthropic-beta")
}
