package testutils

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePrompt = `Audit the following call transcript.

Criteria:
1. [Opening] Did the agent greet the customer?
2. [Closing] Did the agent offer further help?
   Guidance: Any closing offer counts.

Transcript:
agent: 1. [Fake] not a criterion
`

func TestParsePromptCriteria(t *testing.T) {
	got := ParsePromptCriteria(samplePrompt)
	assert.Equal(t, [][2]string{
		{"Opening", "Did the agent greet the customer?"},
		{"Closing", "Did the agent offer further help?"},
	}, got)
	assert.Empty(t, ParsePromptCriteria("no criteria here"))
}

func TestMockLLMClient_CompleteWithUsage(t *testing.T) {
	client := NewMockLLMClient("mock-model").Fail("Did the agent offer further help?").SetUsage(100, 20)

	resp, in, out, err := client.CompleteWithUsage(context.Background(), samplePrompt, map[string]any{"max_tokens": 10})
	require.NoError(t, err)
	assert.Equal(t, 100, in)
	assert.Equal(t, 20, out)

	var decoded struct {
		Answers []mockAnswer `json:"answers"`
	}
	require.NoError(t, json.Unmarshal([]byte(resp), &decoded))
	require.Len(t, decoded.Answers, 2)
	assert.True(t, decoded.Answers[0].Complies)
	assert.False(t, decoded.Answers[1].Complies)

	assert.Equal(t, 1, client.Calls())
	assert.Equal(t, samplePrompt, client.LastPrompt())
	assert.Equal(t, 10, client.LastOptions()["max_tokens"])
	assert.Equal(t, "mock-model", client.GetModel())
}

func TestMockLLMClient_Overrides(t *testing.T) {
	ctx := context.Background()

	t.Run("raw response", func(t *testing.T) {
		client := NewMockLLMClient("m").SetResponse("not json")
		resp, err := client.Complete(ctx, samplePrompt, nil)
		require.NoError(t, err)
		assert.Equal(t, "not json", resp)
	})

	t.Run("error", func(t *testing.T) {
		boom := errors.New("boom")
		client := NewMockLLMClient("m").SetError(boom)
		_, err := client.Complete(ctx, samplePrompt, nil)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, client.Calls())
	})

	t.Run("empty prompt", func(t *testing.T) {
		_, err := NewMockLLMClient("m").Complete(ctx, "", nil)
		assert.Error(t, err)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		client := NewMockLLMClient("m")
		_, err := client.Complete(cctx, samplePrompt, nil)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, client.Calls())
	})
}

func TestMockLLMClient_EstimateTokens(t *testing.T) {
	client := NewMockLLMClient("m")
	n, err := client.EstimateTokens("")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, _ = client.EstimateTokens("abc")
	assert.Equal(t, 1, n)

	n, _ = client.EstimateTokens("abcdefghijklmnop")
	assert.Equal(t, 4, n)
}
