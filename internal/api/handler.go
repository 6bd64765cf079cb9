// Package api exposes the audit operations over HTTP with gin.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/internal/application"
	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/internal/domain"
)

// ActorHeader names the caller recorded as the audit's author.
const ActorHeader = "X-Audit-Actor"

// DefaultActor is recorded when the request carries no actor header.
const DefaultActor = "api"

// Auditor is the audit use-case surface the handlers drive.
type Auditor interface {
	Generate(ctx context.Context, interactionID string, kind domain.InteractionKind, actor string, opts application.GenerateOptions) (*domain.AuditResult, error)
	Regenerate(ctx context.Context, interactionID string, kind domain.InteractionKind, actor string, opts application.GenerateOptions) (*domain.AuditResult, error)
	ApplyCorrectedVerdicts(ctx context.Context, interactionID string, kind domain.InteractionKind, verdicts []domain.Verdict, actor string) (*domain.AuditResult, error)
}

var _ Auditor = (*application.Orchestrator)(nil)

// GenerateRequest selects the interaction to audit. IsCall defaults to true.
type GenerateRequest struct {
	InteractionID string `json:"interaction_id" binding:"required"`
	IsCall        *bool  `json:"is_call"`
	EnforceQuota  bool   `json:"enforce_quota"`
}

// VerdictInput is one reviewer-corrected judgment.
type VerdictInput struct {
	Question    string `json:"question" binding:"required"`
	Complies    *bool  `json:"complies" binding:"required"`
	Explanation string `json:"explanation"`
}

// CorrectVerdictsRequest replaces the verdicts of an existing audit.
type CorrectVerdictsRequest struct {
	InteractionID string         `json:"interaction_id" binding:"required"`
	IsCall        *bool          `json:"is_call"`
	Verdicts      []VerdictInput `json:"verdicts" binding:"required,min=1,dive"`
}

// AuditResponse is the body of every successful audit operation.
type AuditResponse struct {
	Success         bool             `json:"success"`
	AuditID         int64            `json:"audit_id"`
	InteractionID   string           `json:"interaction_id"`
	Kind            string           `json:"kind"`
	CampaignID      int64            `json:"campaign_id"`
	SubjectID       string           `json:"subject_id"`
	Score           float64          `json:"score"`
	IsFailure       bool             `json:"is_failure"`
	Verdicts        []domain.Verdict `json:"verdicts"`
	GeneratedBy     string           `json:"generated_by"`
	Existing        bool             `json:"existing"`
	CriteriaChanged bool             `json:"criteria_changed"`
}

// Handler serves the audit endpoint group.
type Handler struct {
	Auditor Auditor
	Logger  *slog.Logger
}

// NewHandler creates a Handler. A nil logger uses slog.Default.
func NewHandler(auditor Auditor, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{Auditor: auditor, Logger: log}
}

// Generate handles POST /audit/generate.
func (h *Handler) Generate(c *gin.Context) {
	var req GenerateRequest
	if !h.bind(c, &req) {
		return
	}
	id, ok := h.interactionID(c, req.InteractionID)
	if !ok {
		return
	}
	res, err := h.Auditor.Generate(c.Request.Context(), id, kindOf(req.IsCall), actorOf(c),
		application.GenerateOptions{EnforceQuota: req.EnforceQuota})
	h.respond(c, id, res, err)
}

// Regenerate handles POST /audit/regenerate.
func (h *Handler) Regenerate(c *gin.Context) {
	var req GenerateRequest
	if !h.bind(c, &req) {
		return
	}
	id, ok := h.interactionID(c, req.InteractionID)
	if !ok {
		return
	}
	res, err := h.Auditor.Regenerate(c.Request.Context(), id, kindOf(req.IsCall), actorOf(c),
		application.GenerateOptions{EnforceQuota: req.EnforceQuota})
	h.respond(c, id, res, err)
}

// CorrectVerdicts handles PUT /audit/verdicts.
func (h *Handler) CorrectVerdicts(c *gin.Context) {
	var req CorrectVerdictsRequest
	if !h.bind(c, &req) {
		return
	}
	id, ok := h.interactionID(c, req.InteractionID)
	if !ok {
		return
	}
	verdicts := make([]domain.Verdict, 0, len(req.Verdicts))
	for _, v := range req.Verdicts {
		verdicts = append(verdicts, domain.Verdict{
			Question:    strings.TrimSpace(v.Question),
			Complies:    *v.Complies,
			Explanation: v.Explanation,
		})
	}
	res, err := h.Auditor.ApplyCorrectedVerdicts(c.Request.Context(), id, kindOf(req.IsCall), verdicts, actorOf(c))
	h.respond(c, id, res, err)
}

func (h *Handler) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: CodeInvalidRequest, Message: "invalid request payload: " + err.Error()})
		return false
	}
	return true
}

// interactionID validates and canonicalizes an interaction UUID.
func (h *Handler) interactionID(c *gin.Context, raw string) (string, bool) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: CodeInvalidRequest, Message: "interaction_id must be a UUID"})
		return "", false
	}
	return id.String(), true
}

func (h *Handler) respond(c *gin.Context, interactionID string, res *domain.AuditResult, err error) {
	if err != nil {
		status, body, known := errorStatus(err)
		attrs := []any{
			"interaction_id", interactionID,
			"status", status,
			"code", body.Code,
			"error", err.Error(),
		}
		switch {
		case !known || status >= http.StatusInternalServerError:
			h.Logger.ErrorContext(c.Request.Context(), "audit request failed", attrs...)
		default:
			h.Logger.InfoContext(c.Request.Context(), "audit request rejected", attrs...)
		}
		c.JSON(status, body)
		return
	}

	a := res.Audit
	c.JSON(http.StatusOK, AuditResponse{
		Success:         true,
		AuditID:         a.ID,
		InteractionID:   a.InteractionID,
		Kind:            string(a.Kind),
		CampaignID:      a.CampaignID,
		SubjectID:       a.SubjectID,
		Score:           a.Score,
		IsFailure:       a.IsFailure,
		Verdicts:        a.Verdicts,
		GeneratedBy:     a.GeneratedBy,
		Existing:        res.Existing,
		CriteriaChanged: res.CriteriaChanged,
	})
}

func kindOf(isCall *bool) domain.InteractionKind {
	if isCall == nil || *isCall {
		return domain.KindCall
	}
	return domain.KindChat
}

func actorOf(c *gin.Context) string {
	if actor := strings.TrimSpace(c.GetHeader(ActorHeader)); actor != "" {
		return actor
	}
	return DefaultActor
}
