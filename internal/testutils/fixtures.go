package testutils

import (
	"time"

	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/internal/domain"
)

// Fixture identifiers shared by the audit tests.
const (
	FixtureCampaignID = int64(42)
	FixtureCallID     = "6f1d2c3b-4a5e-4f60-8a7b-9c0d1e2f3a4b"
	FixtureChatID     = "1a2b3c4d-5e6f-4a7b-8c9d-0e1f2a3b4c5d"
	FixtureSubjectID  = "agent-17"
)

// Fixture rubric questions.
const (
	QuestionGreeting = "Did the agent greet the customer by name?"
	QuestionIdentity = "Did the agent verify the customer's identity?"
	QuestionOffer    = "Did the agent present the retention offer?"
	QuestionClosing  = "Did the agent offer further help before closing?"
	QuestionChatTone = "Did the agent keep a courteous tone?"
)

// FixtureTime is the reference clock for fixtures.
var FixtureTime = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

// CallInteraction returns a transcribed call assigned to the fixture campaign.
func CallInteraction() domain.Interaction {
	campaign := FixtureCampaignID
	return domain.Interaction{
		ID:           FixtureCallID,
		Kind:         domain.KindCall,
		CampaignID:   &campaign,
		SubjectID:    FixtureSubjectID,
		SubjectName:  "Lucia Perez",
		Direction:    "inbound",
		Language:     "es",
		Status:       domain.StatusUnaudited,
		AudioSeconds: 180,
		Utterances: []domain.Utterance{
			{Speaker: "agent", Text: "Buenos dias senor Gomez, habla Lucia.", Start: 0, End: 2.5},
			{Speaker: "customer", Text: "Quiero cancelar mi plan.", Start: 2.6, End: 4},
			{Speaker: "agent", Text: "Puedo ofrecerle un descuento del 20 por ciento.", Start: 4.1, End: 7},
		},
		CreatedAt: FixtureTime.Add(-time.Hour),
	}
}

// ChatInteraction returns a chat assigned to the fixture campaign.
func ChatInteraction() domain.Interaction {
	campaign := FixtureCampaignID
	return domain.Interaction{
		ID:          FixtureChatID,
		Kind:        domain.KindChat,
		CampaignID:  &campaign,
		SubjectID:   FixtureSubjectID,
		SubjectName: "Lucia Perez",
		Language:    "es",
		Status:      domain.StatusUnaudited,
		Utterances: []domain.Utterance{
			{Speaker: "customer", Text: "Hola, tengo un problema con mi factura."},
			{Speaker: "agent", Text: "Con gusto le ayudo."},
		},
		CreatedAt: FixtureTime.Add(-time.Hour),
	}
}

// CallCriteria returns the fixture call rubric. The identity check is
// critical; the others deduct their target score.
func CallCriteria() []domain.Criterion {
	updated := FixtureTime.Add(-24 * time.Hour)
	return []domain.Criterion{
		{ID: 1, CampaignID: FixtureCampaignID, Kind: domain.KindCall, Category: "Opening", Question: QuestionGreeting, TargetScore: 10, Position: 1, Active: true, UpdatedAt: updated},
		{ID: 2, CampaignID: FixtureCampaignID, Kind: domain.KindCall, Category: "Compliance", Question: QuestionIdentity, Critical: true, Position: 2, Active: true, UpdatedAt: updated},
		{ID: 3, CampaignID: FixtureCampaignID, Kind: domain.KindCall, Category: "Retention", Question: QuestionOffer, TargetScore: 25, Position: 3, Active: true, UpdatedAt: updated},
		{ID: 4, CampaignID: FixtureCampaignID, Kind: domain.KindCall, Category: "Closing", Question: QuestionClosing, TargetScore: 5, Position: 4, Active: true, UpdatedAt: updated},
		{ID: 5, CampaignID: FixtureCampaignID, Kind: domain.KindCall, Category: "Legacy", Question: "Did the agent read the old script?", TargetScore: 50, Position: 5, Active: false, UpdatedAt: updated},
	}
}

// ChatCriteria returns the fixture chat rubric.
func ChatCriteria() []domain.Criterion {
	return []domain.Criterion{
		{ID: 10, CampaignID: FixtureCampaignID, Kind: domain.KindChat, Category: "Tone", Question: QuestionChatTone, TargetScore: 40, Position: 1, Active: true},
	}
}

// Policy returns the fixture campaign policy with approval score 70.
func Policy() domain.CampaignPolicy {
	return domain.CampaignPolicy{
		CampaignID:      FixtureCampaignID,
		Name:            "Retention Q1",
		ApprovalScore:   domain.DefaultApprovalScore,
		RubricUpdatedAt: FixtureTime.Add(-24 * time.Hour),
	}
}

// SeededStore returns a MemoryStore holding the call and chat fixtures.
func SeededStore() *MemoryStore {
	s := NewMemoryStore()
	s.AddInteraction(CallInteraction())
	s.AddInteraction(ChatInteraction())
	s.AddPolicy(Policy())
	s.SetCriteria(FixtureCampaignID, append(CallCriteria(), ChatCriteria()...))
	return s
}
