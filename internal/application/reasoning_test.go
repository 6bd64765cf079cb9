package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/internal/ports"
	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/internal/testutils"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func buildCallRequest(t *testing.T) ReasoningRequest {
	t.Helper()
	a, err := NewAssembler(AssemblerConfig{MaxTokens: 1024})
	require.NoError(t, err)
	it := testutils.CallInteraction()
	req, err := a.BuildRequest(&it, testutils.CallCriteria())
	require.NoError(t, err)
	return req
}

func TestReasoningClient_Evaluate(t *testing.T) {
	req := buildCallRequest(t)
	llm := testutils.NewMockLLMClient("gpt-4o-mini").Fail(testutils.QuestionOffer).SetUsage(900, 150)
	client := NewReasoningClient(llm, 0, discardLogger())

	res, err := client.Evaluate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 900, res.TokensIn)
	assert.Equal(t, 150, res.TokensOut)
	assert.Equal(t, "gpt-4o-mini", res.Model)

	require.Len(t, res.Verdicts, 4)
	for i, v := range res.Verdicts {
		assert.Equal(t, req.Criteria[i].Question, v.Question)
		assert.Equal(t, req.Criteria[i].Category, v.Category)
	}
	assert.False(t, res.Verdicts[2].Complies)
	assert.True(t, res.Verdicts[0].Complies)
}

func TestReasoningClient_ParseRejectsMismatchedAnswers(t *testing.T) {
	req := buildCallRequest(t)
	q := func(i int) string { return req.Criteria[i].Question }
	answer := func(question string) string {
		return fmt.Sprintf(`{"category":"c","question":%q,"complies":true,"explanation":"ok"}`, question)
	}

	tests := []struct {
		name     string
		response string
		wantOK   bool
	}{
		{
			name:     "fenced json with prose",
			response: "Here is the audit:\n```json\n{\"answers\":[" + answer(q(3)) + "," + answer(q(0)) + "," + answer(q(1)) + "," + answer(q(2)) + "]}\n```",
			wantOK:   true,
		},
		{
			name:     "not json",
			response: "I cannot help with that.",
		},
		{
			name:     "missing answer",
			response: `{"answers":[` + answer(q(0)) + "," + answer(q(1)) + "," + answer(q(2)) + `]}`,
		},
		{
			name:     "extra answer",
			response: `{"answers":[` + answer(q(0)) + "," + answer(q(1)) + "," + answer(q(2)) + "," + answer(q(3)) + "," + answer("Invented?") + `]}`,
		},
		{
			name:     "unknown question replaces a criterion",
			response: `{"answers":[` + answer(q(0)) + "," + answer(q(1)) + "," + answer(q(2)) + "," + answer("Invented?") + `]}`,
		},
		{
			name:     "duplicate question",
			response: `{"answers":[` + answer(q(0)) + "," + answer(q(0)) + "," + answer(q(2)) + "," + answer(q(3)) + `]}`,
		},
		{
			name:     "complies omitted",
			response: `{"answers":[{"category":"c","question":"` + q(0) + `","explanation":"ok"}]}`,
		},
		{
			name:     "explanation omitted",
			response: `{"answers":[{"category":"c","question":"` + q(0) + `","complies":false}]}`,
		},
		{
			name:     "empty answers",
			response: `{"answers":[]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := testutils.NewMockLLMClient("m").SetResponse(tt.response)
			res, err := NewReasoningClient(llm, 0, discardLogger()).Evaluate(context.Background(), req)
			if tt.wantOK {
				require.NoError(t, err)
				require.Len(t, res.Verdicts, 4)
				assert.Equal(t, q(0), res.Verdicts[0].Question, "verdicts follow criterion order")
				assert.Equal(t, req.Criteria[0].Category, res.Verdicts[0].Category)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidVerdicts)
			assert.ErrorIs(t, err, ports.ErrInvalidResponse)
			var rerr *ReasoningError
			require.ErrorAs(t, err, &rerr)
			assert.Equal(t, ReasoningUnknown, rerr.Kind)
			assert.Equal(t, "REASONING_FAILED", rerr.Code())
		})
	}
}

func TestReasoningClient_ClassifiesProviderErrors(t *testing.T) {
	req := buildCallRequest(t)

	tests := []struct {
		name      string
		err       error
		kind      ReasoningErrorKind
		code      string
		retryable bool
	}{
		{"authentication", fmt.Errorf("openai: %w", ports.ErrAuthenticationFailed), ReasoningAuthFailure, "REASONING_AUTH_FAILED", false},
		{"model missing", fmt.Errorf("anthropic: %w", ports.ErrModelUnavailable), ReasoningModelUnavailable, "REASONING_MODEL_UNAVAILABLE", false},
		{"payload", fmt.Errorf("google: %w", ports.ErrPayloadTooLarge), ReasoningPayloadTooLarge, "TRANSCRIPT_TOO_LARGE", false},
		{"provider timeout", fmt.Errorf("request failed after 3 attempts: %w", ports.ErrTimeout), ReasoningTimeout, "REASONING_TIMEOUT", true},
		{"context deadline", context.DeadlineExceeded, ReasoningTimeout, "REASONING_TIMEOUT", true},
		{"rate limited", fmt.Errorf("x: %w", ports.ErrRateLimited), ReasoningUnknown, "REASONING_FAILED", true},
		{"service unavailable", fmt.Errorf("x: %w", ports.ErrServiceUnavailable), ReasoningUnknown, "REASONING_FAILED", true},
		{"plain error", errors.New("socket closed"), ReasoningUnknown, "REASONING_FAILED", false},
		{"message mentions timeout but is untyped", errors.New("401 timeout unauthorized"), ReasoningUnknown, "REASONING_FAILED", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := testutils.NewMockLLMClient("m").SetError(tt.err)
			_, err := NewReasoningClient(llm, 0, discardLogger()).Evaluate(context.Background(), req)

			var rerr *ReasoningError
			require.ErrorAs(t, err, &rerr)
			assert.Equal(t, tt.kind, rerr.Kind)
			assert.Equal(t, tt.code, rerr.Code())
			assert.Equal(t, tt.retryable, rerr.Retryable())
			assert.NotEmpty(t, rerr.Message())
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestReasoningClient_PreflightPayloadCheck(t *testing.T) {
	req := buildCallRequest(t)
	llm := testutils.NewMockLLMClient("m")

	_, err := NewReasoningClient(llm, 10, discardLogger()).Evaluate(context.Background(), req)
	var rerr *ReasoningError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, ReasoningPayloadTooLarge, rerr.Kind)
	assert.ErrorIs(t, err, ports.ErrPayloadTooLarge)
	assert.Zero(t, llm.Calls(), "oversized prompts never reach the provider")

	_, err = NewReasoningClient(llm, 1_000_000, discardLogger()).Evaluate(context.Background(), req)
	assert.NoError(t, err)
}

func TestNewReasoningError_KeepsExistingClassification(t *testing.T) {
	orig := &ReasoningError{Kind: ReasoningTimeout, Err: errors.New("slow")}
	assert.Same(t, orig, NewReasoningError(fmt.Errorf("wrapped: %w", orig)))
	assert.Equal(t, "timeout", ReasoningTimeout.String())
	assert.Equal(t, "unknown", ReasoningErrorKind(99).String())
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{`Sure! {"a":{"b":2}} Hope this helps.`, `{"a":{"b":2}}`},
		{"no json", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, extractJSON(tt.in))
	}
}

