package skills

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seerlord/internal/domain"
	"seerlord/internal/usecase/evolution"
)

type stubStore struct {
	best         domain.Skill
	bestReason   string
	bestErr      error
	related      []domain.Skill
	relatedErr   error
	relatedQuery string
	added        []*domain.Skill
	addTenant    string
	addErr       error
	marked       map[string]bool
}

func (s *stubStore) AddSkill(_ context.Context, skill *domain.Skill, tenantID, _ string) error {
	if s.addErr != nil {
		return s.addErr
	}
	s.added = append(s.added, skill)
	s.addTenant = tenantID
	return nil
}

func (s *stubStore) RetrieveBestSkill(context.Context, string, domain.SkillFilter) (domain.Skill, string, error) {
	return s.best, s.bestReason, s.bestErr
}

func (s *stubStore) RetrieveRelatedSkills(_ context.Context, query string, _ domain.SkillFilter, _ int) ([]domain.Skill, error) {
	s.relatedQuery = query
	return s.related, s.relatedErr
}

func (s *stubStore) GetSkill(context.Context, string) (*domain.Skill, error) {
	return nil, domain.ErrNotFound
}

func (s *stubStore) MarkSkillUsed(_ context.Context, id string, success bool) error {
	if s.marked == nil {
		s.marked = make(map[string]bool)
	}
	s.marked[id] = success
	return nil
}

func (s *stubStore) DeleteSkill(context.Context, string) error { return nil }

type stubEngine struct {
	result   evolution.Result
	requests []evolution.Request
}

func (e *stubEngine) Evolve(_ context.Context, req evolution.Request) evolution.Result {
	e.requests = append(e.requests, req)
	return e.result
}

type recordingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBus) Publish(_ context.Context, ev domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func (b *recordingBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (b *recordingBus) SubscribeAll(domain.EventHandler) func()                { return func() {} }

func (b *recordingBus) types() []domain.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.EventType, len(b.events))
	for i, ev := range b.events {
		out[i] = ev.Type
	}
	return out
}

func specificSkill() domain.Skill {
	return domain.Skill{
		ID:          "skill-wifi",
		Name:        "WifiTroubleshooter",
		Description: "Diagnoses wifi problems.",
		Level:       domain.LevelSpecific,
		Content:     domain.SkillContent{PromptTemplate: "fix: {task}"},
	}
}

func TestNonMetaSkillSkipsEvolution(t *testing.T) {
	store := &stubStore{best: specificSkill(), bestReason: "vector match (specific)"}
	engine := &stubEngine{}
	bus := &recordingBus{}
	m := NewManager(store, engine, bus, nil)

	skill, reason, err := m.GetOrEvolveSkill(context.Background(), "wifi down", domain.SkillFilter{TenantID: "t1"}, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "WifiTroubleshooter", skill.Name)
	assert.Equal(t, "vector match (specific)", reason)
	assert.Empty(t, engine.requests)
	assert.Equal(t, []domain.EventType{domain.EventSkillRetrieved}, bus.types())
}

func TestMetaSkillTriggersEvolution(t *testing.T) {
	evolved := specificSkill()
	evolved.ID = "skill-new"
	nearMiss := specificSkill()
	nearMiss.ID = "skill-near"
	nearMiss.Name = "RouterSetup"
	store := &stubStore{
		best:       domain.DefaultMetaSkill(),
		bestReason: "fallback (no skill found)",
		related:    []domain.Skill{nearMiss},
	}
	engine := &stubEngine{result: evolution.Result{ProposedSkill: &evolved, Report: "drafted"}}
	bus := &recordingBus{}
	m := NewManager(store, engine, bus, nil)

	skill, reason, err := m.GetOrEvolveSkill(context.Background(), "wifi down",
		domain.SkillFilter{TenantID: "t1", UserID: "u1"}, "network support agent", nil)
	require.NoError(t, err)
	assert.Equal(t, "skill-new", skill.ID)
	assert.Equal(t, ReasonEvolved, reason)

	// Persisted into the shared global scope, not the caller's tenant.
	require.Len(t, store.added, 1)
	assert.Equal(t, domain.GlobalSkillTenant, store.addTenant)

	// The engine saw the near-miss skills plus the meta fallback as
	// related context.
	require.Len(t, engine.requests, 1)
	req := engine.requests[0]
	assert.Nil(t, req.SkillToRefine)
	require.Len(t, req.RelatedSkills, 2)
	assert.Equal(t, "RouterSetup", req.RelatedSkills[0].Name)
	assert.Equal(t, domain.LevelMeta, req.RelatedSkills[1].Level)
	assert.Equal(t, "wifi down", store.relatedQuery)
	assert.Equal(t, "network support agent", req.AgentDescription)

	assert.Equal(t, []domain.EventType{
		domain.EventSkillRetrieved,
		domain.EventSkillEvolutionStart,
		domain.EventSkillEvolved,
	}, bus.types())
}

func TestEvolutionFailureDegradesToMeta(t *testing.T) {
	store := &stubStore{best: domain.DefaultMetaSkill(), bestReason: "fallback (no skill found)"}
	engine := &stubEngine{result: evolution.Result{Report: "llm unavailable"}}
	bus := &recordingBus{}
	m := NewManager(store, engine, bus, nil)

	skill, reason, err := m.GetOrEvolveSkill(context.Background(), "wifi down", domain.SkillFilter{TenantID: "t1"}, "", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.LevelMeta, skill.Level)
	assert.Equal(t, "fallback (no skill found)", reason)
	assert.Empty(t, store.added)

	// The start event fires even when evolution degrades.
	assert.Equal(t, []domain.EventType{
		domain.EventSkillRetrieved,
		domain.EventSkillEvolutionStart,
	}, bus.types())
}

func TestRelatedLookupFailureStillDrafts(t *testing.T) {
	evolved := specificSkill()
	evolved.ID = "skill-new"
	store := &stubStore{
		best:       domain.DefaultMetaSkill(),
		bestReason: "fallback (no skill found)",
		relatedErr: errors.New("index offline"),
	}
	engine := &stubEngine{result: evolution.Result{ProposedSkill: &evolved}}
	m := NewManager(store, engine, nil, nil)

	skill, reason, err := m.GetOrEvolveSkill(context.Background(), "wifi down", domain.SkillFilter{TenantID: "t1"}, "", nil)
	require.NoError(t, err)
	assert.Equal(t, ReasonEvolved, reason)
	assert.Equal(t, "skill-new", skill.ID)

	// Drafting proceeds with the meta fallback as the only context.
	require.Len(t, engine.requests, 1)
	require.Len(t, engine.requests[0].RelatedSkills, 1)
	assert.Equal(t, domain.LevelMeta, engine.requests[0].RelatedSkills[0].Level)
}

func TestRetrievalErrorPropagates(t *testing.T) {
	store := &stubStore{bestErr: domain.WrapOp("RetrieveBestSkill", domain.ErrSkillStore)}
	m := NewManager(store, &stubEngine{}, nil, nil)

	_, _, err := m.GetOrEvolveSkill(context.Background(), "q", domain.SkillFilter{TenantID: "t1"}, "", nil)
	assert.ErrorIs(t, err, domain.ErrSkillStore)
}

func TestEvolvedSkillPersistErrorPropagates(t *testing.T) {
	evolved := specificSkill()
	store := &stubStore{
		best:       domain.DefaultMetaSkill(),
		bestReason: "fallback (no skill found)",
		addErr:     errors.New("disk full"),
	}
	engine := &stubEngine{result: evolution.Result{ProposedSkill: &evolved}}
	m := NewManager(store, engine, nil, nil)

	_, _, err := m.GetOrEvolveSkill(context.Background(), "q", domain.SkillFilter{TenantID: "t1"}, "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestRefineExistingSkillPersistsAndEmits(t *testing.T) {
	original := specificSkill()
	refined := specificSkill()
	refined.ID = "skill-refined"
	refined.ParentID = original.ID

	store := &stubStore{}
	engine := &stubEngine{result: evolution.Result{ProposedSkill: &refined}}
	bus := &recordingBus{}
	m := NewManager(store, engine, bus, nil)

	got := m.RefineExistingSkill(context.Background(), &original, "too shallow", domain.SkillFilter{TenantID: "t1"})
	require.NotNil(t, got)
	assert.Equal(t, "skill-refined", got.ID)
	assert.Equal(t, domain.GlobalSkillTenant, store.addTenant)
	assert.Equal(t, []domain.EventType{domain.EventSkillRefined}, bus.types())

	require.Len(t, engine.requests, 1)
	assert.Equal(t, &original, engine.requests[0].SkillToRefine)
	assert.Equal(t, "too shallow", engine.requests[0].ExecutionFeedback)
}

func TestRefineFailureReturnsNil(t *testing.T) {
	original := specificSkill()
	store := &stubStore{}
	engine := &stubEngine{result: evolution.Result{Report: "parse failure"}}
	bus := &recordingBus{}
	m := NewManager(store, engine, bus, nil)

	got := m.RefineExistingSkill(context.Background(), &original, "bad", domain.SkillFilter{TenantID: "t1"})
	assert.Nil(t, got)
	assert.Empty(t, store.added)
	assert.Empty(t, bus.types())
}

func TestRefinePersistFailureReturnsNil(t *testing.T) {
	original := specificSkill()
	refined := specificSkill()
	store := &stubStore{addErr: errors.New("db closed")}
	engine := &stubEngine{result: evolution.Result{ProposedSkill: &refined}}
	m := NewManager(store, engine, nil, nil)

	got := m.RefineExistingSkill(context.Background(), &original, "bad", domain.SkillFilter{TenantID: "t1"})
	assert.Nil(t, got)
}

func TestRecordUsage(t *testing.T) {
	store := &stubStore{}
	m := NewManager(store, &stubEngine{}, nil, nil)

	require.NoError(t, m.RecordUsage(context.Background(), "skill-1", true))
	assert.True(t, store.marked["skill-1"])
}
