package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/internal/domain"
	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/internal/ports"
)

// ErrInvalidVerdicts reports a reasoning response that does not reconcile
// with the submitted criteria. It matches ports.ErrInvalidResponse.
var ErrInvalidVerdicts = fmt.Errorf("verdicts do not match submitted criteria: %w", ports.ErrInvalidResponse)

// ReasoningErrorKind classifies reasoning failures for callers and
// operators.
type ReasoningErrorKind int

const (
	ReasoningUnknown ReasoningErrorKind = iota
	ReasoningAuthFailure
	ReasoningModelUnavailable
	ReasoningPayloadTooLarge
	ReasoningTimeout
)

func (k ReasoningErrorKind) String() string {
	switch k {
	case ReasoningAuthFailure:
		return "auth_failure"
	case ReasoningModelUnavailable:
		return "model_unavailable"
	case ReasoningPayloadTooLarge:
		return "payload_too_large"
	case ReasoningTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// ReasoningError is the classified failure of an evaluation.
type ReasoningError struct {
	Kind ReasoningErrorKind
	Err  error
}

func (e *ReasoningError) Error() string {
	return fmt.Sprintf("reasoning %s: %v", e.Kind, e.Err)
}

func (e *ReasoningError) Unwrap() error { return e.Err }

// Code is the stable machine-readable identifier of the failure.
func (e *ReasoningError) Code() string {
	switch e.Kind {
	case ReasoningAuthFailure:
		return "REASONING_AUTH_FAILED"
	case ReasoningModelUnavailable:
		return "REASONING_MODEL_UNAVAILABLE"
	case ReasoningPayloadTooLarge:
		return "TRANSCRIPT_TOO_LARGE"
	case ReasoningTimeout:
		return "REASONING_TIMEOUT"
	default:
		return "REASONING_FAILED"
	}
}

// Message is safe to show to API callers.
func (e *ReasoningError) Message() string {
	switch e.Kind {
	case ReasoningAuthFailure:
		return "The reasoning service rejected the configured credentials."
	case ReasoningModelUnavailable:
		return "The configured reasoning model is not available."
	case ReasoningPayloadTooLarge:
		return "The transcript is too large to evaluate."
	case ReasoningTimeout:
		return "The reasoning service did not respond in time."
	default:
		return "The audit could not be generated."
	}
}

// Retryable reports whether repeating the request may succeed.
func (e *ReasoningError) Retryable() bool {
	switch e.Kind {
	case ReasoningTimeout:
		return true
	case ReasoningUnknown:
		return errors.Is(e.Err, ports.ErrRateLimited) || errors.Is(e.Err, ports.ErrServiceUnavailable)
	default:
		return false
	}
}

// NewReasoningError classifies err by the sentinels the llm layer maps its
// provider errors onto.
func NewReasoningError(err error) *ReasoningError {
	var re *ReasoningError
	if errors.As(err, &re) {
		return re
	}
	return &ReasoningError{Kind: classifyReasoningError(err), Err: err}
}

func classifyReasoningError(err error) ReasoningErrorKind {
	switch {
	case errors.Is(err, ports.ErrAuthenticationFailed):
		return ReasoningAuthFailure
	case errors.Is(err, ports.ErrModelUnavailable):
		return ReasoningModelUnavailable
	case errors.Is(err, ports.ErrPayloadTooLarge):
		return ReasoningPayloadTooLarge
	case errors.Is(err, ports.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ReasoningTimeout
	default:
		return ReasoningUnknown
	}
}

// ReasoningResult holds reconciled verdicts in criterion order.
type ReasoningResult struct {
	Verdicts  []domain.Verdict
	TokensIn  int
	TokensOut int
	Model     string
}

// ReasoningClient sends evaluation requests and turns replies into verdicts.
type ReasoningClient struct {
	llm             ports.LLMClient
	validator       *validator.Validate
	maxPromptTokens int
	log             *slog.Logger
}

// NewReasoningClient wraps an LLM client. maxPromptTokens of zero disables
// the pre-flight size check.
func NewReasoningClient(client ports.LLMClient, maxPromptTokens int, log *slog.Logger) *ReasoningClient {
	if log == nil {
		log = slog.Default()
	}
	return &ReasoningClient{
		llm:             client,
		validator:       validator.New(),
		maxPromptTokens: maxPromptTokens,
		log:             log,
	}
}

// Model returns the configured reasoning model.
func (c *ReasoningClient) Model() string { return c.llm.GetModel() }

// Evaluate runs one reasoning call. Every failure is a *ReasoningError.
func (c *ReasoningClient) Evaluate(ctx context.Context, req ReasoningRequest) (*ReasoningResult, error) {
	if c.maxPromptTokens > 0 {
		n, err := c.llm.EstimateTokens(req.System + "\n" + req.Prompt)
		if err == nil && n > c.maxPromptTokens {
			return nil, &ReasoningError{
				Kind: ReasoningPayloadTooLarge,
				Err:  fmt.Errorf("prompt of ~%d tokens exceeds limit %d: %w", n, c.maxPromptTokens, ports.ErrPayloadTooLarge),
			}
		}
	}

	response, tokensIn, tokensOut, err := c.llm.CompleteWithUsage(ctx, req.Prompt, req.Options)
	if err != nil {
		rerr := NewReasoningError(err)
		c.log.Warn("reasoning call failed",
			"interaction_id", req.InteractionID,
			"kind", string(req.Kind),
			"error_kind", rerr.Kind.String(),
			"retryable", rerr.Retryable(),
			"error", err.Error(),
		)
		return nil, rerr
	}

	verdicts, err := c.parse(response, req.Criteria)
	if err != nil {
		c.log.Warn("reasoning response rejected",
			"interaction_id", req.InteractionID,
			"kind", string(req.Kind),
			"response_chars", len(response),
			"error", err.Error(),
		)
		return nil, &ReasoningError{Kind: ReasoningUnknown, Err: err}
	}

	return &ReasoningResult{
		Verdicts:  verdicts,
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
		Model:     c.llm.GetModel(),
	}, nil
}

type reasoningResponse struct {
	Answers []reasoningAnswer `json:"answers" validate:"required,min=1,dive"`
}

type reasoningAnswer struct {
	Category    string `json:"category"`
	Question    string `json:"question" validate:"required"`
	Complies    *bool  `json:"complies" validate:"required"`
	Explanation string `json:"explanation" validate:"required"`
}

// parse decodes the answers and reconciles them one-to-one with criteria.
// The result follows criteria order and takes categories from the rubric.
func (c *ReasoningClient) parse(response string, criteria []domain.Criterion) ([]domain.Verdict, error) {
	raw := extractJSON(response)
	if raw == "" {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrInvalidVerdicts)
	}

	var decoded reasoningResponse
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerdicts, err)
	}
	if err := c.validator.Struct(decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerdicts, err)
	}
	if len(decoded.Answers) != len(criteria) {
		return nil, fmt.Errorf("%w: got %d answers for %d criteria", ErrInvalidVerdicts, len(decoded.Answers), len(criteria))
	}

	byQuestion := make(map[string]domain.Verdict, len(decoded.Answers))
	for _, a := range decoded.Answers {
		q := strings.TrimSpace(a.Question)
		if _, dup := byQuestion[q]; dup {
			return nil, fmt.Errorf("%w: duplicate answer for %q", ErrInvalidVerdicts, q)
		}
		byQuestion[q] = domain.Verdict{
			Category:    a.Category,
			Question:    q,
			Complies:    *a.Complies,
			Explanation: strings.TrimSpace(a.Explanation),
		}
	}

	verdicts := make([]domain.Verdict, 0, len(criteria))
	for _, cr := range criteria {
		v, ok := byQuestion[strings.TrimSpace(cr.Question)]
		if !ok {
			return nil, fmt.Errorf("%w: no answer for %q", ErrInvalidVerdicts, cr.Question)
		}
		v.Question = cr.Question
		v.Category = cr.Category
		verdicts = append(verdicts, v)
	}
	return verdicts, nil
}

// extractJSON returns the outermost JSON object in a reply that may wrap it
// in a markdown fence or prose.
func extractJSON(response string) string {
	response = strings.TrimSpace(response)

	if start := strings.Index(response, "```"); start != -1 {
		body := response[start+3:]
		if nl := strings.Index(body, "\n"); nl != -1 {
			body = body[nl+1:]
		}
		if end := strings.Index(body, "```"); end != -1 {
			candidate := strings.TrimSpace(body[:end])
			if strings.HasPrefix(candidate, "{") {
				return candidate
			}
		}
	}

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end <= start {
		return ""
	}
	return response[start : end+1]
}
