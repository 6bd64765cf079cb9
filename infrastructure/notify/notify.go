// Package notify delivers best-effort "audit created" notifications to
// downstream collaborators. Delivery failures are returned to the caller,
// which logs them without failing the audit.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/internal/domain"
	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/internal/ports"
)

const (
	// EventAuditCreated is the event name carried by every payload.
	EventAuditCreated = "audit.created"

	defaultWebhookTimeout = 5 * time.Second
	maxErrorBodyBytes     = 4 << 10
)

var (
	_ ports.Notifier = (*WebhookNotifier)(nil)
	_ ports.Notifier = (*LogNotifier)(nil)
	_ ports.Notifier = Noop{}
)

// Payload is the JSON document posted for each new audit. Verdict details
// stay out of the payload; receivers fetch the audit when they need them.
type Payload struct {
	Event         string    `json:"event"`
	AuditID       int64     `json:"audit_id"`
	InteractionID string    `json:"interaction_id"`
	Kind          string    `json:"kind"`
	CampaignID    int64     `json:"campaign_id"`
	SubjectID     string    `json:"subject_id"`
	Score         float64   `json:"score"`
	IsFailure     bool      `json:"is_failure"`
	Failed        []string  `json:"failed_questions,omitempty"`
	GeneratedBy   string    `json:"generated_by"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewPayload summarizes audit for delivery.
func NewPayload(audit *domain.Audit) Payload {
	p := Payload{
		Event:         EventAuditCreated,
		AuditID:       audit.ID,
		InteractionID: audit.InteractionID,
		Kind:          string(audit.Kind),
		CampaignID:    audit.CampaignID,
		SubjectID:     audit.SubjectID,
		Score:         audit.Score,
		IsFailure:     audit.IsFailure,
		GeneratedBy:   audit.GeneratedBy,
		CreatedAt:     audit.CreatedAt.UTC(),
	}
	for _, v := range audit.Verdicts {
		if !v.Complies {
			p.Failed = append(p.Failed, v.Question)
		}
	}
	return p
}

// WebhookNotifier posts a Payload to a fixed URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a notifier posting to url. A non-positive
// timeout uses five seconds.
func NewWebhookNotifier(url string, timeout time.Duration) (*WebhookNotifier, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("notify: missing webhook url")
	}
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookNotifier{url: url, client: &http.Client{Timeout: timeout}}, nil
}

// AuditCreated posts the audit summary. Any non-2xx response is an error.
func (n *WebhookNotifier) AuditCreated(ctx context.Context, audit *domain.Audit) error {
	if audit == nil {
		return errors.New("notify: nil audit")
	}
	body, err := json.Marshal(NewPayload(audit))
	if err != nil {
		return fmt.Errorf("notify: encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Audit-Event", EventAuditCreated)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return fmt.Errorf("notify: webhook returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// LogNotifier writes one structured log line per audit.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-only notifier. A nil logger uses slog.Default.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

// AuditCreated logs the audit summary and never fails.
func (n *LogNotifier) AuditCreated(ctx context.Context, audit *domain.Audit) error {
	if audit == nil {
		return nil
	}
	p := NewPayload(audit)
	n.log.InfoContext(ctx, "audit created",
		"audit_id", p.AuditID,
		"interaction_id", p.InteractionID,
		"kind", p.Kind,
		"campaign_id", p.CampaignID,
		"subject_id", p.SubjectID,
		"score", p.Score,
		"is_failure", p.IsFailure,
		"failed_questions", len(p.Failed),
	)
	return nil
}

// Noop discards notifications.
type Noop struct{}

// AuditCreated does nothing.
func (Noop) AuditCreated(context.Context, *domain.Audit) error { return nil }

// New builds the notifier selected by mode: "webhook", "log" or "none".
func New(mode, webhookURL string, timeout time.Duration, log *slog.Logger) (ports.Notifier, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "webhook":
		n, err := NewWebhookNotifier(webhookURL, timeout)
		if err != nil {
			return nil, err
		}
		return n, nil
	case "log", "":
		return NewLogNotifier(log), nil
	case "none":
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("notify: unknown mode %q", mode)
	}
}
