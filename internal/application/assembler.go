package application

import (
	"fmt"
	"strings"
	"text/template"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/internal/domain"
)

// ReasoningRequest is everything the reasoning client needs for one
// evaluation. Criteria are exactly the criteria rendered into the prompt,
// in position order; the response is reconciled against them.
type ReasoningRequest struct {
	InteractionID string
	Kind          domain.InteractionKind
	System        string
	Prompt        string
	Criteria      []domain.Criterion
	Options       map[string]any
}

// AssemblerConfig tunes the generated request.
type AssemblerConfig struct {
	MaxTokens   int
	Temperature float64
}

// Assembler renders an interaction and its rubric into a ReasoningRequest.
type Assembler struct {
	cfg  AssemblerConfig
	tmpl *template.Template
}

const systemPrompt = `You are a quality auditor for a contact center. You judge whether an agent complied with each audit criterion using only the transcript provided. Answer every criterion exactly once, copying its category and question verbatim. Respond with JSON only.`

const promptTemplate = `Audit the following {{.KindLabel}} transcript.

Agent: {{.Subject}}
{{- if .Direction}}
Direction: {{.Direction}}
{{- end}}
{{- if .Language}}
Language: {{.Language}}
{{- end}}

Criteria:
{{- range $i, $c := .Criteria}}
{{add $i 1}}. [{{$c.Category}}] {{$c.Question}}
{{- if $c.Description}}
   Guidance: {{$c.Description}}
{{- end}}
{{- end}}

Transcript:
{{- range .Utterances}}
{{speaker .Speaker}}: {{.Text}}
{{- end}}

Return a JSON object of the form:
{"answers":[{"category":"<category>","question":"<question>","complies":true|false,"explanation":"<one or two sentences citing the transcript>"}]}
with exactly {{len .Criteria}} answers, one per criterion, in the order listed.`

type promptData struct {
	KindLabel  string
	Subject    string
	Direction  string
	Language   string
	Criteria   []domain.Criterion
	Utterances []domain.Utterance
}

// NewAssembler parses the prompt template.
func NewAssembler(cfg AssemblerConfig) (*Assembler, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	tmpl, err := template.New("audit").Funcs(template.FuncMap{
		"add": func(a, b int) int { return a + b },
		"speaker": func(s string) string {
			if strings.TrimSpace(s) == "" {
				return "Unknown"
			}
			return s
		},
	}).Parse(promptTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt template: %w", err)
	}
	return &Assembler{cfg: cfg, tmpl: tmpl}, nil
}

// BuildRequest renders the prompt for an interaction. Only active criteria
// are submitted and the full transcript is included.
func (a *Assembler) BuildRequest(it *domain.Interaction, criteria []domain.Criterion) (ReasoningRequest, error) {
	active := domain.ActiveCriteria(criteria)
	if len(active) == 0 {
		return ReasoningRequest{}, domain.NewValidationError(domain.FieldRubric, "campaign has no active criteria")
	}
	if it == nil || !it.HasTranscript() {
		return ReasoningRequest{}, domain.NewValidationError(domain.FieldTranscript, "interaction has no transcript")
	}

	subject := it.SubjectName
	if subject == "" {
		subject = it.SubjectID
	}
	data := promptData{
		KindLabel:  kindLabel(it.Kind),
		Subject:    subject,
		Direction:  it.Direction,
		Language:   languageName(it.Language),
		Criteria:   active,
		Utterances: it.Utterances,
	}

	var b strings.Builder
	if err := a.tmpl.Execute(&b, data); err != nil {
		return ReasoningRequest{}, fmt.Errorf("failed to render prompt: %w", err)
	}

	return ReasoningRequest{
		InteractionID: it.ID,
		Kind:          it.Kind,
		System:        systemPrompt,
		Prompt:        b.String(),
		Criteria:      active,
		Options: map[string]any{
			"system":          systemPrompt,
			"max_tokens":      a.cfg.MaxTokens,
			"temperature":     a.cfg.Temperature,
			"response_format": "json_object",
		},
	}, nil
}

func kindLabel(k domain.InteractionKind) string {
	if k == domain.KindChat {
		return "chat"
	}
	return "call"
}

// languageName renders a BCP 47 tag as "Spanish (es)". Unparseable tags are
// passed through unchanged.
func languageName(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return ""
	}
	t, err := language.Parse(tag)
	if err != nil {
		return tag
	}
	name := display.English.Tags().Name(t)
	if name == "" {
		return tag
	}
	return fmt.Sprintf("%s (%s)", name, t.String())
}
