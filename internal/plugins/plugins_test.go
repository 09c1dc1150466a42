package plugins

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seerlord/internal/adapter/llm"
	"seerlord/internal/domain"
	"seerlord/internal/infra/config"
	"seerlord/internal/usecase/evolution"
	"seerlord/internal/usecase/skills"
)

type stubStore struct {
	best   domain.Skill
	reason string
	added  []*domain.Skill
	marked map[string]bool
}

func (s *stubStore) AddSkill(_ context.Context, skill *domain.Skill, _, _ string) error {
	s.added = append(s.added, skill)
	return nil
}

func (s *stubStore) RetrieveBestSkill(context.Context, string, domain.SkillFilter) (domain.Skill, string, error) {
	return s.best, s.reason, nil
}

func (s *stubStore) RetrieveRelatedSkills(context.Context, string, domain.SkillFilter, int) ([]domain.Skill, error) {
	return nil, nil
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
	result evolution.Result
	calls  []evolution.Request
}

func (e *stubEngine) Evolve(_ context.Context, req evolution.Request) evolution.Result {
	e.calls = append(e.calls, req)
	return e.result
}

func wifiSkill() domain.Skill {
	return domain.Skill{
		ID:          "skill-wifi",
		Name:        "WifiTroubleshooter",
		Description: "Diagnoses wifi problems.",
		Level:       domain.LevelSpecific,
		Content: domain.SkillContent{
			PromptTemplate: "Troubleshoot the wifi issue: {task}",
			KnowledgeBase:  []string{"Check the router lights first."},
		},
	}
}

func testDeps(provider domain.LLMProvider, store domain.SkillStore, engine skills.EvolutionEngine) Deps {
	return Deps{
		LLM:    provider,
		Model:  "test-model",
		Skills: skills.NewManager(store, engine, nil, nil),
		Graph:  config.Defaults().Graph,
	}
}

func initialState(content string) domain.State {
	return domain.State{
		domain.StateKeyMessages: []domain.Message{domain.UserMessage(content)},
		domain.StateKeyTenantID: "t1",
		domain.StateKeyUserID:   "u1",
	}
}

func TestVoyagerSingleSectionInjectsSkillContext(t *testing.T) {
	store := &stubStore{best: wifiSkill(), reason: "vector match (specific)"}
	provider := llm.NewMockProvider(
		llm.MockTurn{Content: `{"sections": ["answer"]}`},
		llm.MockTurn{Content: "Reboot the router."},
	)
	v, err := NewVoyager(testDeps(provider, store, &stubEngine{}))
	require.NoError(t, err)

	final, err := v.Graph().Invoke(context.Background(), initialState("my wifi is down"))
	require.NoError(t, err)
	assert.Equal(t, "Reboot the router.", final.String(domain.StateKeyResult))
	assert.Equal(t, "vector match (specific)", final.String(domain.StateKeySkillReason))

	// The answering call must see the skill's prompt template as context.
	answerReq := provider.Requests()[1]
	var found bool
	for _, m := range answerReq.Messages {
		if m.Role == domain.RoleSystem && strings.Contains(m.Content, "Troubleshoot the wifi issue") {
			found = true
		}
	}
	assert.True(t, found)
	assert.True(t, store.marked["skill-wifi"])
}

func TestVoyagerMultiSectionFanOut(t *testing.T) {
	store := &stubStore{best: wifiSkill(), reason: "vector match (specific)"}
	provider := llm.NewMockProvider(
		llm.MockTurn{Content: `{"sections": ["Causes", "Fixes"]}`},
		llm.MockTurn{Content: "section body"},
	)
	v, err := NewVoyager(testDeps(provider, store, &stubEngine{}))
	require.NoError(t, err)

	final, err := v.Graph().Invoke(context.Background(), initialState("why does wifi drop and how do I fix it"))
	require.NoError(t, err)

	result := final.String(domain.StateKeyResult)
	assert.Contains(t, result, "## Causes")
	assert.Contains(t, result, "## Fixes")
	// One outline call plus one per section.
	assert.Equal(t, 3, provider.CallCount())
}

func TestVoyagerOutlineFailureAnswersDirectly(t *testing.T) {
	store := &stubStore{best: wifiSkill(), reason: "vector match (specific)"}
	provider := llm.NewMockProvider(
		llm.MockTurn{Content: "no json here"},
		llm.MockTurn{Content: "direct answer"},
	)
	v, err := NewVoyager(testDeps(provider, store, &stubEngine{}))
	require.NoError(t, err)

	final, err := v.Graph().Invoke(context.Background(), initialState("quick question"))
	require.NoError(t, err)
	assert.Equal(t, "direct answer", final.String(domain.StateKeyResult))
}

func TestTutorCritiqueRefineLoop(t *testing.T) {
	store := &stubStore{best: wifiSkill(), reason: "vector match (specific)"}
	refined := wifiSkill()
	refined.ID = "skill-wifi-2"
	refined.ParentID = "skill-wifi"
	engine := &stubEngine{result: evolution.Result{ProposedSkill: &refined}}

	provider := llm.NewMockProvider(
		llm.MockTurn{Content: "first explanation"},
		llm.MockTurn{Content: `{"needs_refinement": true, "feedback": "no worked example"}`},
		llm.MockTurn{Content: "better explanation with example"},
		llm.MockTurn{Content: `{"needs_refinement": false, "feedback": ""}`},
	)
	tutor, err := NewTutor(testDeps(provider, store, engine))
	require.NoError(t, err)

	final, err := tutor.Graph().Invoke(context.Background(), initialState("explain how wifi works"))
	require.NoError(t, err)
	assert.Equal(t, "better explanation with example", final.String(domain.StateKeyResult))

	// The rejected round refined the skill back into the store.
	require.Len(t, engine.calls, 1)
	assert.Equal(t, "no worked example", engine.calls[0].ExecutionFeedback)
	require.Len(t, store.added, 1)
	assert.Equal(t, "skill-wifi-2", store.added[0].ID)
}

func TestTutorCritiqueLoopIsBounded(t *testing.T) {
	store := &stubStore{best: wifiSkill(), reason: "vector match (specific)"}
	engine := &stubEngine{result: evolution.Result{Report: "refinement failed"}}

	// The critic never approves; the round bound must end the loop anyway.
	provider := llm.NewMockProvider(
		llm.MockTurn{Content: "explanation"},
		llm.MockTurn{Content: `{"needs_refinement": true, "feedback": "still bad"}`},
	)
	tutor, err := NewTutor(testDeps(provider, store, engine))
	require.NoError(t, err)

	final, err := tutor.Graph().Invoke(context.Background(), initialState("explain dns"))
	require.NoError(t, err)
	assert.NotEmpty(t, final.String(domain.StateKeyResult))
	rounds, _ := final[stateCritiqueRounds].(int)
	assert.Equal(t, tutorMaxCritiqueRounds, rounds)
}

func TestEvolverIsSystemPluginAndEvolves(t *testing.T) {
	evolved := wifiSkill()
	evolved.ID = "skill-evolved"
	store := &stubStore{best: domain.DefaultMetaSkill(), reason: "fallback (no skill found)"}
	engine := &stubEngine{result: evolution.Result{ProposedSkill: &evolved}}

	e, err := NewEvolver(testDeps(llm.NewMockProvider(), store, engine))
	require.NoError(t, err)
	assert.True(t, domain.IsSystemPlugin(e.Name()))

	final, err := e.Graph().Invoke(context.Background(), initialState("troubleshoot wifi outages"))
	require.NoError(t, err)
	assert.Contains(t, final.String(domain.StateKeyResult), "WifiTroubleshooter")
	assert.Contains(t, final.String(domain.StateKeyResult), "evolved new skill")
	require.Len(t, store.added, 1)
}

func TestMailComposes(t *testing.T) {
	provider := llm.NewMockProvider(llm.MockTurn{Content: "Subject: Hello\n\nBody."})
	m, err := NewMail(testDeps(provider, &stubStore{}, &stubEngine{}))
	require.NoError(t, err)
	assert.True(t, domain.IsSystemPlugin(m.Name()))

	state := initialState("write a short greeting email")
	state[domain.StateKeyInstruction] = "write a short greeting email"
	final, err := m.Graph().Invoke(context.Background(), state)
	require.NoError(t, err)
	assert.Contains(t, final.String(domain.StateKeyResult), "Subject: Hello")
}

type contractPlugin struct {
	name   string
	caps   domain.PluginCapabilities
	rubric string
}

func (p *contractPlugin) Name() string                            { return p.name }
func (p *contractPlugin) Description() string                     { return "test plugin" }
func (p *contractPlugin) Graph() domain.ExecutableGraph           { return nil }
func (p *contractPlugin) Capabilities() domain.PluginCapabilities { return p.caps }
func (p *contractPlugin) CritiqueInstructions() string            { return p.rubric }

func TestAssembleGraphFollowsDeclaredCapabilities(t *testing.T) {
	store := &stubStore{best: wifiSkill(), reason: "vector match (specific)"}
	provider := llm.NewMockProvider(llm.MockTurn{Content: "plain answer"})
	deps := testDeps(provider, store, &stubEngine{})

	// Skills disabled: the store must never be consulted.
	plain := &contractPlugin{name: "plain"}
	g, err := assembleGraph(plain, deps, "answer", generateNode(deps, "You answer plainly."), 0)
	require.NoError(t, err)

	final, err := g.Invoke(context.Background(), initialState("hello"))
	require.NoError(t, err)
	assert.Equal(t, "plain answer", final.String(domain.StateKeyResult))
	assert.Nil(t, final[domain.StateKeySkill])

	// Declaring EnableSkills wires retrieval ahead of the domain node.
	skilled := &contractPlugin{name: "skilled", caps: domain.PluginCapabilities{EnableSkills: true}}
	g2, err := assembleGraph(skilled, deps, "answer", generateNode(deps, "You answer plainly."), 0)
	require.NoError(t, err)

	final2, err := g2.Invoke(context.Background(), initialState("hello"))
	require.NoError(t, err)
	loaded, _ := final2[domain.StateKeySkill].(*domain.Skill)
	require.NotNil(t, loaded)
	assert.Equal(t, "skill-wifi", loaded.ID)
}

func TestAssembleGraphWiresCritiqueFromInstructions(t *testing.T) {
	provider := llm.NewMockProvider(
		llm.MockTurn{Content: "the answer"},
		llm.MockTurn{Content: `{"needs_refinement": false, "feedback": ""}`},
	)
	deps := testDeps(provider, &stubStore{}, &stubEngine{})

	reviewed := &contractPlugin{name: "reviewed", rubric: "Must be complete."}
	g, err := assembleGraph(reviewed, deps, "answer", generateNode(deps, "You answer."), 2)
	require.NoError(t, err)

	final, err := g.Invoke(context.Background(), initialState("question"))
	require.NoError(t, err)
	assert.Equal(t, "the answer", final.String(domain.StateKeyResult))
	rounds, _ := final[stateCritiqueRounds].(int)
	assert.Equal(t, 1, rounds)

	// The critic saw the plugin's own rubric.
	critiqueReq := provider.Requests()[1]
	assert.Contains(t, critiqueReq.Messages[1].Content, "Must be complete.")
}

func TestAllConstructsEveryPlugin(t *testing.T) {
	all, err := All(testDeps(llm.NewMockProvider(), &stubStore{}, &stubEngine{}))
	require.NoError(t, err)
	require.Len(t, all, 4)

	var system, user int
	for _, p := range all {
		if domain.IsSystemPlugin(p.Name()) {
			system++
		} else {
			user++
		}
	}
	assert.Equal(t, 2, system)
	assert.Equal(t, 2, user)
}
