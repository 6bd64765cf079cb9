package domain

import "time"

// InteractionKind distinguishes the two interaction sources that can be
// audited. Criteria, transcripts and audits are scoped per kind.
type InteractionKind string

const (
	// KindCall identifies a recorded phone call.
	KindCall InteractionKind = "call"
	// KindChat identifies a chat conversation.
	KindChat InteractionKind = "chat"
)

// Valid reports whether k is a known interaction kind.
func (k InteractionKind) Valid() bool { return k == KindCall || k == KindChat }

// InteractionStatus is the audit state of an interaction.
type InteractionStatus string

const (
	// StatusUnaudited marks an interaction with no audit on record.
	StatusUnaudited InteractionStatus = "unaudited"
	// StatusAudited marks an interaction whose audit has been persisted.
	StatusAudited InteractionStatus = "audited"
)

// Utterance is a single speaker turn in a transcript.
// Start and End are offsets in seconds from the start of the interaction.
type Utterance struct {
	Speaker string  `json:"speaker"`
	Text    string  `json:"text"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// Interaction is a call or chat produced by the upstream ingestion pipeline.
// Apart from Status it is immutable from the audit core's perspective.
type Interaction struct {
	// ID is the interaction UUID.
	ID string `json:"id"`

	// Kind selects the rubric collection and transcript source.
	Kind InteractionKind `json:"kind"`

	// CampaignID references the owning campaign. Nil when the interaction
	// was never assigned to one.
	CampaignID *int64 `json:"campaign_id,omitempty"`

	// SubjectID is the operator (calls) or user (chats) being audited.
	SubjectID string `json:"subject_id"`

	// SubjectName is the display name used for role framing in the prompt.
	SubjectName string `json:"subject_name"`

	// Direction is "inbound" or "outbound" for calls and empty for chats.
	Direction string `json:"direction,omitempty"`

	// Language is the detected BCP 47 language tag of the transcript.
	Language string `json:"language,omitempty"`

	Status InteractionStatus `json:"status"`

	// AudioSeconds is the processed audio duration; zero for chats.
	AudioSeconds float64 `json:"audio_seconds"`

	Utterances []Utterance `json:"utterances"`

	CreatedAt time.Time `json:"created_at"`
}

// HasTranscript reports whether at least one utterance carries text.
func (i *Interaction) HasTranscript() bool {
	for _, u := range i.Utterances {
		if u.Text != "" {
			return true
		}
	}
	return false
}
