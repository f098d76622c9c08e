package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenUsage_EstimateCost(t *testing.T) {
	u := TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	assert.InDelta(t, 18.0, u.EstimateCost("claude-sonnet-4-5-20250929"), 1e-9)
	assert.Zero(t, u.EstimateCost("unknown-model"))

	cached := TokenUsage{CacheCreationInputTokens: 1_000_000, CacheReadInputTokens: 1_000_000}
	assert.InDelta(t, 3.0*1.25+3.0*0.1, cached.EstimateCost("claude-sonnet-4-5-20250929"), 1e-9)
}

func TestTokenUsage_Add(t *testing.T) {
	u := TokenUsage{InputTokens: 1, OutputTokens: 2}
	u.Add(TokenUsage{InputTokens: 10, OutputTokens: 20, CacheReadInputTokens: 5})
	assert.Equal(t, TokenUsage{InputTokens: 11, OutputTokens: 22, CacheReadInputTokens: 5}, u)
}

func TestMessageResponse_Text(t *testing.T) {
	r := &MessageResponse{Content: []ContentBlock{
		{Type: "text", Text: "{\"a\":"},
		{Type: "thinking", Text: "ignored"},
		{Type: "text", Text: "1}"},
	}}
	assert.Equal(t, `{"a":1}`, r.Text())
}

func TestBuildCachedSystemBlocks(t *testing.T) {
	blocks := BuildCachedSystemBlocks("prompt", "5m")
	assert.Len(t, blocks, 1)
	assert.Equal(t, "prompt", blocks[0].Text)
	assert.Equal(t, "5m", blocks[0].CacheControl.TTL)
}
