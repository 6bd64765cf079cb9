package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/internal/ports"
)

// MockLLMClient implements ports.LLMClient for audit prompts. It answers
// every numbered criterion it finds in the prompt, so the assembler and
// reasoning client can be exercised end to end without a provider.
//
// Criteria are compliant unless listed in Failing. Response, when set, is
// returned verbatim instead of the generated answer, and Err short-circuits
// the call.
type MockLLMClient struct {
	mu sync.Mutex

	model     string
	failing   map[string]bool
	response  string
	err       error
	tokensIn  int
	tokensOut int

	calls   int
	prompts []string
	options []map[string]any
}

var _ ports.LLMClient = (*MockLLMClient)(nil)

// NewMockLLMClient returns a client that judges every criterion compliant.
func NewMockLLMClient(model string) *MockLLMClient {
	return &MockLLMClient{
		model:     model,
		failing:   make(map[string]bool),
		tokensIn:  1200,
		tokensOut: 300,
	}
}

// Fail marks questions as non-compliant in generated answers.
func (m *MockLLMClient) Fail(questions ...string) *MockLLMClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range questions {
		m.failing[q] = true
	}
	return m
}

// SetResponse makes the client return raw instead of generated answers.
func (m *MockLLMClient) SetResponse(raw string) *MockLLMClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = raw
	return m
}

// SetError makes every call fail with err.
func (m *MockLLMClient) SetError(err error) *MockLLMClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// SetUsage sets the token counts reported by CompleteWithUsage.
func (m *MockLLMClient) SetUsage(in, out int) *MockLLMClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokensIn, m.tokensOut = in, out
	return m
}

// Complete implements ports.LLMClient.
func (m *MockLLMClient) Complete(ctx context.Context, prompt string, options map[string]any) (string, error) {
	resp, _, _, err := m.CompleteWithUsage(ctx, prompt, options)
	return resp, err
}

// CompleteWithUsage implements ports.LLMClient.
func (m *MockLLMClient) CompleteWithUsage(ctx context.Context, prompt string, options map[string]any) (string, int, int, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, 0, err
	}
	if prompt == "" {
		return "", 0, 0, fmt.Errorf("prompt cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.prompts = append(m.prompts, prompt)
	m.options = append(m.options, options)

	if m.err != nil {
		return "", 0, 0, m.err
	}
	if m.response != "" {
		return m.response, m.tokensIn, m.tokensOut, nil
	}
	return m.answer(prompt), m.tokensIn, m.tokensOut, nil
}

// EstimateTokens approximates four characters per token.
func (m *MockLLMClient) EstimateTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	tokens := len(text) / 4
	if tokens == 0 {
		tokens = 1
	}
	return tokens, nil
}

// GetModel implements ports.LLMClient.
func (m *MockLLMClient) GetModel() string { return m.model }

// Calls returns how many completions were requested.
func (m *MockLLMClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastPrompt returns the most recent prompt, or "".
func (m *MockLLMClient) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return ""
	}
	return m.prompts[len(m.prompts)-1]
}

// LastOptions returns the options of the most recent call.
func (m *MockLLMClient) LastOptions() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.options) == 0 {
		return nil
	}
	return m.options[len(m.options)-1]
}

var criterionLine = regexp.MustCompile(`^\d+\. \[(.*?)\] (.+)$`)

// ParsePromptCriteria extracts (category, question) pairs from an audit
// prompt's numbered criteria list.
func ParsePromptCriteria(prompt string) [][2]string {
	var out [][2]string
	inCriteria := false
	for _, line := range strings.Split(prompt, "\n") {
		switch strings.TrimSpace(line) {
		case "Criteria:":
			inCriteria = true
			continue
		case "Transcript:":
			return out
		}
		if !inCriteria {
			continue
		}
		if m := criterionLine.FindStringSubmatch(line); m != nil {
			out = append(out, [2]string{m[1], m[2]})
		}
	}
	return out
}

type mockAnswer struct {
	Category    string `json:"category"`
	Question    string `json:"question"`
	Complies    bool   `json:"complies"`
	Explanation string `json:"explanation"`
}

func (m *MockLLMClient) answer(prompt string) string {
	criteria := ParsePromptCriteria(prompt)
	answers := make([]mockAnswer, 0, len(criteria))
	for _, c := range criteria {
		complies := !m.failing[c[1]]
		explanation := "The agent did this as required."
		if !complies {
			explanation = "The transcript shows no evidence of this."
		}
		answers = append(answers, mockAnswer{Category: c[0], Question: c[1], Complies: complies, Explanation: explanation})
	}
	raw, _ := json.Marshal(map[string]any{"answers": answers})
	return string(raw)
}
