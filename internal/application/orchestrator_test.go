package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/internal/domain"
	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/internal/ports"
	"github.com/LinkSolution-Desarrollo/AuditorIA-External-API-Service/internal/testutils"
)

const actor = "api-key:qa-team"

type orchestratorFixture struct {
	orch     *Orchestrator
	store    *testutils.MemoryStore
	llm      *testutils.MockLLMClient
	notifier *testutils.RecordingNotifier
	metrics  *testutils.RecordingMetrics
}

func newOrchestratorFixture(t *testing.T, store *testutils.MemoryStore, llm ports.LLMClient, mutate ...func(*OrchestratorDeps)) *Orchestrator {
	t.Helper()
	assembler, err := NewAssembler(AssemblerConfig{MaxTokens: 1024, Temperature: 0.3})
	require.NoError(t, err)

	deps := OrchestratorDeps{
		Interactions: store,
		Rubrics:      store,
		Policies:     store,
		Audits:       store,
		Usage:        store,
		Assembler:    assembler,
		Reasoning:    NewReasoningClient(llm, 0, discardLogger()),
		Logger:       discardLogger(),
		Now:          func() time.Time { return testutils.FixtureTime },
	}
	for _, m := range mutate {
		m(&deps)
	}
	orch, err := NewOrchestrator(deps)
	require.NoError(t, err)
	return orch
}

func newFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	f := &orchestratorFixture{
		store:    testutils.SeededStore(),
		llm:      testutils.NewMockLLMClient("gpt-4o-mini"),
		notifier: &testutils.RecordingNotifier{},
		metrics:  &testutils.RecordingMetrics{},
	}
	f.orch = newOrchestratorFixture(t, f.store, f.llm, func(d *OrchestratorDeps) {
		d.Notifier = f.notifier
		d.Metrics = f.metrics
	})
	return f
}

func TestOrchestrator_GenerateForCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.orch.GenerateForCall(ctx, testutils.FixtureCallID, actor, GenerateOptions{})
	require.NoError(t, err)
	require.NotNil(t, res.Audit)
	assert.False(t, res.Existing)
	assert.False(t, res.CriteriaChanged)

	a := res.Audit
	assert.NotZero(t, a.ID)
	assert.Equal(t, testutils.FixtureCallID, a.InteractionID)
	assert.Equal(t, domain.KindCall, a.Kind)
	assert.Equal(t, testutils.FixtureCampaignID, a.CampaignID)
	assert.Equal(t, testutils.FixtureSubjectID, a.SubjectID)
	assert.Equal(t, 100.0, a.Score)
	assert.False(t, a.IsFailure)
	assert.Equal(t, actor, a.GeneratedBy)
	assert.Len(t, a.Verdicts, 4)
	assert.Equal(t, testutils.FixtureTime, a.CreatedAt)

	assert.Equal(t, domain.StatusAudited, f.store.Status(testutils.FixtureCallID, domain.KindCall))
	f.orch.WaitNotifications()
	require.Len(t, f.notifier.Audits(), 1)
	assert.Equal(t, a.ID, f.notifier.Audits()[0].ID)

	events := f.store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "call_audit", events[0].EventType)
	assert.Equal(t, 1200, events[0].InputTokens)
	assert.Equal(t, 300, events[0].OutputTokens)
	assert.InDelta(t, 0.003, events[0].EstimatedCostUSD, 1e-12)
	assert.InDelta(t, 3.0, events[0].AudioMinutes, 1e-12)
	assert.Equal(t, "gpt-4o-mini", events[0].Model)

	counters := f.metrics.Counters("audits_generated_total")
	require.Len(t, counters, 1)
	assert.Equal(t, "created", counters[0].Labels["outcome"])
	assert.Len(t, f.metrics.Histograms("audit_score"), 1)

	opts := f.llm.LastOptions()
	assert.Equal(t, "json_object", opts["response_format"])
}

func TestOrchestrator_Scoring(t *testing.T) {
	tests := []struct {
		name        string
		failing     []string
		wantScore   float64
		wantFailure bool
	}{
		{"all compliant", nil, 100, false},
		{"deductions exactly at threshold pass", []string{testutils.QuestionOffer, testutils.QuestionClosing}, 70, false},
		{"deductions below threshold fail", []string{testutils.QuestionOffer, testutils.QuestionGreeting}, 65, true},
		{"critical non-compliance zeroes the score", []string{testutils.QuestionIdentity}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.llm.Fail(tt.failing...)

			res, err := f.orch.GenerateForCall(context.Background(), testutils.FixtureCallID, actor, GenerateOptions{})
			require.NoError(t, err)
			assert.Equal(t, tt.wantScore, res.Audit.Score)
			assert.Equal(t, tt.wantFailure, res.Audit.IsFailure)
		})
	}
}

func TestOrchestrator_GenerateForChat(t *testing.T) {
	f := newFixture(t)
	f.llm.Fail(testutils.QuestionChatTone)

	res, err := f.orch.GenerateForChat(context.Background(), testutils.FixtureChatID, actor, GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.KindChat, res.Audit.Kind)
	assert.Equal(t, 60.0, res.Audit.Score)
	assert.True(t, res.Audit.IsFailure)
	assert.Contains(t, f.llm.LastPrompt(), "chat transcript")

	events := f.store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "chat_audit", events[0].EventType)
	assert.Zero(t, events[0].AudioMinutes)
}

func TestOrchestrator_ExistingAuditShortCircuits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.orch.GenerateForCall(ctx, testutils.FixtureCallID, actor, GenerateOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, f.llm.Calls())

	again, err := f.orch.GenerateForCall(ctx, testutils.FixtureCallID, "someone-else", GenerateOptions{})
	require.NoError(t, err)
	assert.True(t, again.Existing)
	assert.False(t, again.CriteriaChanged)
	assert.Equal(t, first.Audit.ID, again.Audit.ID)
	assert.Equal(t, actor, again.Audit.GeneratedBy)
	assert.Equal(t, 1, f.llm.Calls(), "no second reasoning call")
	f.orch.WaitNotifications()
	assert.Len(t, f.notifier.Audits(), 1)

	f.store.TouchRubric(testutils.FixtureCampaignID, testutils.FixtureTime.Add(time.Hour))
	drifted, err := f.orch.GenerateForCall(ctx, testutils.FixtureCallID, actor, GenerateOptions{})
	require.NoError(t, err)
	assert.True(t, drifted.Existing)
	assert.True(t, drifted.CriteriaChanged)

	f.store.SetError("detect_drift", errors.New("boom"))
	res, err := f.orch.GenerateForCall(ctx, testutils.FixtureCallID, actor, GenerateOptions{})
	require.NoError(t, err, "drift check failure is not fatal")
	assert.False(t, res.CriteriaChanged)
}

func TestOrchestrator_ValidationErrors(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(s *testutils.MemoryStore)
		wantField string
		wantErr   error
	}{
		{
			name:    "interaction not found",
			setup:   func(s *testutils.MemoryStore) { s.SetError("get_interaction", domain.NewNotFoundError("call", testutils.FixtureCallID)) },
			wantErr: domain.ErrNotFound,
		},
		{
			name: "missing campaign",
			setup: func(s *testutils.MemoryStore) {
				it := testutils.CallInteraction()
				it.CampaignID = nil
				s.AddInteraction(it)
			},
			wantField: domain.FieldCampaign,
		},
		{
			name: "missing subject",
			setup: func(s *testutils.MemoryStore) {
				it := testutils.CallInteraction()
				it.SubjectID = ""
				s.AddInteraction(it)
			},
			wantField: domain.FieldSubject,
		},
		{
			name: "missing policy",
			setup: func(s *testutils.MemoryStore) {
				s.SetError("get_policy", domain.NewNotFoundError("campaign", "42"))
			},
			wantField: domain.FieldPolicy,
		},
		{
			name:      "empty rubric",
			setup:     func(s *testutils.MemoryStore) { s.SetCriteria(testutils.FixtureCampaignID, nil) },
			wantField: domain.FieldRubric,
		},
		{
			name: "negative target score",
			setup: func(s *testutils.MemoryStore) {
				c := testutils.CallCriteria()
				c[0].TargetScore = -5
				s.SetCriteria(testutils.FixtureCampaignID, c)
			},
			wantField: domain.FieldRubric,
		},
		{
			name: "duplicate active question",
			setup: func(s *testutils.MemoryStore) {
				c := testutils.CallCriteria()
				c[3].Question = " " + c[0].Question
				s.SetCriteria(testutils.FixtureCampaignID, c)
			},
			wantField: domain.FieldRubric,
		},
		{
			name: "missing transcript",
			setup: func(s *testutils.MemoryStore) {
				it := testutils.CallInteraction()
				it.Utterances = nil
				s.AddInteraction(it)
			},
			wantField: domain.FieldTranscript,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutils.SeededStore()
			tt.setup(store)
			llm := testutils.NewMockLLMClient("m")
			orch := newOrchestratorFixture(t, store, llm)

			_, err := orch.GenerateForCall(context.Background(), testutils.FixtureCallID, actor, GenerateOptions{})
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantField != "" {
				var verr *domain.ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, tt.wantField, verr.Field)
			}
			assert.Zero(t, llm.Calls())
			assert.Zero(t, store.AuditCount())
		})
	}
}

func TestOrchestrator_QuotaGate(t *testing.T) {
	ctx := context.Background()
	setup := func() *testutils.MemoryStore {
		store := testutils.SeededStore()
		p := testutils.Policy()
		limit := int64(1000)
		p.Quota = &domain.QuotaLimits{MonthlyTokenLimit: &limit, EnforcementMode: domain.EnforcementHard}
		store.AddPolicy(p)
		_ = store.RecordUsage(ctx, domain.UsageEvent{
			CampaignID:  testutils.FixtureCampaignID,
			InputTokens: 5000,
			CreatedAt:   time.Now().UTC(),
		})
		return store
	}

	t.Run("enforced", func(t *testing.T) {
		store := setup()
		llm := testutils.NewMockLLMClient("m")
		orch := newOrchestratorFixture(t, store, llm)

		_, err := orch.GenerateForCall(ctx, testutils.FixtureCallID, actor, GenerateOptions{EnforceQuota: true})
		var qerr *domain.QuotaExceededError
		require.ErrorAs(t, err, &qerr)
		assert.Equal(t, domain.DimensionTokens, qerr.Dimension)
		assert.Zero(t, llm.Calls())
		assert.Zero(t, store.AuditCount())
	})

	t.Run("not requested", func(t *testing.T) {
		store := setup()
		llm := testutils.NewMockLLMClient("m")
		orch := newOrchestratorFixture(t, store, llm)

		_, err := orch.GenerateForCall(ctx, testutils.FixtureCallID, actor, GenerateOptions{})
		require.NoError(t, err)
		assert.Equal(t, 1, llm.Calls())
	})
}

type blockingLLM struct{ *testutils.MockLLMClient }

func (b blockingLLM) CompleteWithUsage(ctx context.Context, _ string, _ map[string]any) (string, int, int, error) {
	<-ctx.Done()
	return "", 0, 0, ctx.Err()
}

func TestOrchestrator_ReasoningFailureWritesNothing(t *testing.T) {
	t.Run("provider error", func(t *testing.T) {
		store := testutils.SeededStore()
		llm := testutils.NewMockLLMClient("m").SetError(ports.ErrAuthenticationFailed)
		orch := newOrchestratorFixture(t, store, llm)

		_, err := orch.GenerateForCall(context.Background(), testutils.FixtureCallID, actor, GenerateOptions{})
		var rerr *ReasoningError
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, ReasoningAuthFailure, rerr.Kind)
		assert.Zero(t, store.AuditCount())
		assert.Equal(t, domain.StatusUnaudited, store.Status(testutils.FixtureCallID, domain.KindCall))
		assert.Empty(t, store.Events())
	})

	t.Run("timeout", func(t *testing.T) {
		store := testutils.SeededStore()
		llm := blockingLLM{testutils.NewMockLLMClient("m")}
		orch := newOrchestratorFixture(t, store, llm, func(d *OrchestratorDeps) {
			d.ReasoningTimeout = 20 * time.Millisecond
		})

		_, err := orch.GenerateForCall(context.Background(), testutils.FixtureCallID, actor, GenerateOptions{})
		var rerr *ReasoningError
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, ReasoningTimeout, rerr.Kind)
		assert.True(t, rerr.Retryable())
		assert.Zero(t, store.AuditCount())
	})
}

func TestOrchestrator_LosingInsertRaceReturnsWinner(t *testing.T) {
	f := newFixture(t)
	var once sync.Once
	var winnerID int64
	f.store.BeforeInsert = func(a *domain.Audit) {
		once.Do(func() {
			winner := *a
			winner.GeneratedBy = "other-request"
			f.store.PutAudit(winner)
			got, _ := f.store.GetExisting(context.Background(), a.InteractionID, a.Kind)
			winnerID = got.ID
		})
	}

	res, err := f.orch.GenerateForCall(context.Background(), testutils.FixtureCallID, actor, GenerateOptions{})
	require.NoError(t, err)
	assert.True(t, res.Existing)
	assert.Equal(t, winnerID, res.Audit.ID)
	assert.Equal(t, "other-request", res.Audit.GeneratedBy)
	assert.Equal(t, 1, f.store.AuditCount())
	f.orch.WaitNotifications()
	assert.Empty(t, f.notifier.Audits(), "the winner notifies, not the loser")
	assert.Empty(t, f.store.Events())
}

func TestOrchestrator_ConcurrentGenerateKeepsOneAudit(t *testing.T) {
	f := newFixture(t)
	const workers = 6

	var wg sync.WaitGroup
	ids := make([]int64, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.orch.GenerateForCall(context.Background(), testutils.FixtureCallID, actor, GenerateOptions{})
			errs[i] = err
			if err == nil {
				ids[i] = res.Audit.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Equal(t, 1, f.store.AuditCount())
}

func TestOrchestrator_PersistenceFailure(t *testing.T) {
	f := newFixture(t)
	f.store.SetError("insert", domain.NewPersistenceError("insert audit", 2, errors.New("disk I/O error")))

	_, err := f.orch.GenerateForCall(context.Background(), testutils.FixtureCallID, actor, GenerateOptions{})
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.Equal(t, domain.StatusUnaudited, f.store.Status(testutils.FixtureCallID, domain.KindCall))
	f.orch.WaitNotifications()
	assert.Empty(t, f.notifier.Audits())

	counters := f.metrics.Counters("audits_generated_total")
	require.Len(t, counters, 1)
	assert.Equal(t, "persistence_error", counters[0].Labels["outcome"])
}

func TestOrchestrator_SideEffectFailuresAreNotFatal(t *testing.T) {
	f := newFixture(t)
	f.store.SetError("set_status", errors.New("status column locked"))
	f.store.SetError("record_usage", errors.New("ledger offline"))
	f.notifier.Err = errors.New("webhook 503")

	res, err := f.orch.GenerateForCall(context.Background(), testutils.FixtureCallID, actor, GenerateOptions{})
	require.NoError(t, err)
	assert.NotZero(t, res.Audit.ID)
	assert.Equal(t, 1, f.store.AuditCount())
	f.orch.WaitNotifications()

	effects := map[string]bool{}
	for _, s := range f.metrics.Counters("audit_side_effect_failures_total") {
		effects[s.Labels["effect"]] = true
	}
	assert.Equal(t, map[string]bool{"status": true, "usage": true, "notify": true}, effects)
}

func TestOrchestrator_NotificationDoesNotDelayResponse(t *testing.T) {
	f := newFixture(t)
	f.notifier.Block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.orch.GenerateForCall(context.Background(), testutils.FixtureCallID, actor, GenerateOptions{})
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("generation waited for the notifier")
	}
	assert.Empty(t, f.notifier.Audits())

	close(f.notifier.Block)
	f.orch.WaitNotifications()
	require.Len(t, f.notifier.Audits(), 1)
	assert.Equal(t, testutils.FixtureCallID, f.notifier.Audits()[0].InteractionID)
}

func TestOrchestrator_NotificationOutlivesRequestContext(t *testing.T) {
	f := newFixture(t)
	f.notifier.Block = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	_, err := f.orch.GenerateForCall(ctx, testutils.FixtureCallID, actor, GenerateOptions{})
	require.NoError(t, err)
	cancel()

	close(f.notifier.Block)
	f.orch.WaitNotifications()
	assert.Len(t, f.notifier.Audits(), 1)
	assert.Empty(t, f.metrics.Counters("audit_side_effect_failures_total"))
}

func TestOrchestrator_NotificationTimeout(t *testing.T) {
	store := testutils.SeededStore()
	notifier := &testutils.RecordingNotifier{Block: make(chan struct{})}
	defer close(notifier.Block)
	metrics := &testutils.RecordingMetrics{}
	orch := newOrchestratorFixture(t, store, testutils.NewMockLLMClient("m"), func(d *OrchestratorDeps) {
		d.Notifier = notifier
		d.Metrics = metrics
		d.NotifyTimeout = 20 * time.Millisecond
	})

	_, err := orch.GenerateForCall(context.Background(), testutils.FixtureCallID, actor, GenerateOptions{})
	require.NoError(t, err)
	orch.WaitNotifications()

	assert.Empty(t, notifier.Audits())
	counters := metrics.Counters("audit_side_effect_failures_total")
	require.Len(t, counters, 1)
	assert.Equal(t, "notify", counters[0].Labels["effect"])
}

func TestOrchestrator_Regenerate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.orch.GenerateForCall(ctx, testutils.FixtureCallID, actor, GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 100.0, first.Audit.Score)

	f.llm.Fail(testutils.QuestionIdentity)
	again, err := f.orch.Regenerate(ctx, testutils.FixtureCallID, domain.KindCall, "reviewer", GenerateOptions{})
	require.NoError(t, err)
	assert.False(t, again.Existing)
	assert.NotEqual(t, first.Audit.ID, again.Audit.ID)
	assert.Equal(t, 0.0, again.Audit.Score)
	assert.Equal(t, "reviewer", again.Audit.GeneratedBy)
	assert.Equal(t, 2, f.llm.Calls())
	assert.Equal(t, 1, f.store.AuditCount())
	assert.Equal(t, domain.StatusAudited, f.store.Status(testutils.FixtureCallID, domain.KindCall))

	_, err = f.orch.Regenerate(ctx, "missing", domain.KindCall, actor, GenerateOptions{})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.orch.Regenerate(ctx, testutils.FixtureCallID, "fax", actor, GenerateOptions{})
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestOrchestrator_ApplyCorrectedVerdicts(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) *orchestratorFixture {
		f := newFixture(t)
		_, err := f.orch.GenerateForCall(ctx, testutils.FixtureCallID, actor, GenerateOptions{})
		require.NoError(t, err)
		return f
	}
	v := func(q string, complies bool) domain.Verdict {
		return domain.Verdict{Question: q, Complies: complies, Explanation: "reviewed"}
	}

	t.Run("rescored from verdicts", func(t *testing.T) {
		f := setup(t)
		res, err := f.orch.ApplyCorrectedVerdicts(ctx, testutils.FixtureCallID, domain.KindCall, []domain.Verdict{
			v(testutils.QuestionClosing, false),
			v(testutils.QuestionGreeting, true),
			v(testutils.QuestionOffer, false),
			v(testutils.QuestionIdentity, true),
		}, "supervisor")
		require.NoError(t, err)
		assert.True(t, res.Existing)
		assert.Equal(t, 70.0, res.Audit.Score)
		assert.False(t, res.Audit.IsFailure)
		assert.Equal(t, "supervisor", res.Audit.GeneratedBy)
		require.Len(t, res.Audit.Verdicts, 4)
		assert.Equal(t, testutils.QuestionGreeting, res.Audit.Verdicts[0].Question, "stored in rubric order")
		assert.Equal(t, "Opening", res.Audit.Verdicts[0].Category)
		assert.Len(t, f.metrics.Counters("audits_corrected_total"), 1)
	})

	t.Run("omitted criteria count as compliant", func(t *testing.T) {
		f := setup(t)
		res, err := f.orch.ApplyCorrectedVerdicts(ctx, testutils.FixtureCallID, domain.KindCall, []domain.Verdict{
			v(testutils.QuestionOffer, false),
		}, "supervisor")
		require.NoError(t, err)
		assert.Equal(t, 75.0, res.Audit.Score)
		assert.Len(t, res.Audit.Verdicts, 1)
	})

	t.Run("critical correction", func(t *testing.T) {
		f := setup(t)
		res, err := f.orch.ApplyCorrectedVerdicts(ctx, testutils.FixtureCallID, domain.KindCall, []domain.Verdict{
			v(testutils.QuestionIdentity, false),
		}, "supervisor")
		require.NoError(t, err)
		assert.Equal(t, 0.0, res.Audit.Score)
		assert.True(t, res.Audit.IsFailure)
	})

	invalid := []struct {
		name     string
		verdicts []domain.Verdict
	}{
		{"empty", nil},
		{"unknown question", []domain.Verdict{v("Did the agent sing?", true)}},
		{"duplicate question", []domain.Verdict{v(testutils.QuestionOffer, true), v(testutils.QuestionOffer, false)}},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			before, _ := f.store.GetExisting(ctx, testutils.FixtureCallID, domain.KindCall)

			_, err := f.orch.ApplyCorrectedVerdicts(ctx, testutils.FixtureCallID, domain.KindCall, tt.verdicts, "supervisor")
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, domain.FieldVerdicts, verr.Field)

			after, _ := f.store.GetExisting(ctx, testutils.FixtureCallID, domain.KindCall)
			assert.Equal(t, before, after, "audit unchanged")
		})
	}

	t.Run("no audit", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.orch.ApplyCorrectedVerdicts(ctx, testutils.FixtureCallID, domain.KindCall, []domain.Verdict{
			v(testutils.QuestionOffer, true),
		}, "supervisor")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestNewOrchestrator_RequiresDependencies(t *testing.T) {
	_, err := NewOrchestrator(OrchestratorDeps{})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)

	store := testutils.SeededStore()
	_, err = NewOrchestrator(OrchestratorDeps{
		Interactions: store, Rubrics: store, Policies: store, Audits: store, Usage: store,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestNearestQuestion(t *testing.T) {
	hint, dist := nearestQuestion("Did the agent greet the customer?", []string{
		"Did the agent offer help?",
		"DID THE AGENT GREET THE CUSTOMER",
	})
	assert.Equal(t, "DID THE AGENT GREET THE CUSTOMER", hint)
	assert.Equal(t, 1, dist)

	hint, dist = nearestQuestion("anything", nil)
	assert.Empty(t, hint)
	assert.Equal(t, -1, dist)
}
