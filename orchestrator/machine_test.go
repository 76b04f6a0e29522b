package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/medrag/ai"
	"github.com/poiesic/medrag/ai/mock"
	"github.com/poiesic/medrag/answer"
	"github.com/poiesic/medrag/core"
	"github.com/poiesic/medrag/reflection"
	"github.com/poiesic/medrag/retrieval"
	"github.com/poiesic/medrag/storage/badger"
	"github.com/poiesic/medrag/structurer"
	"github.com/poiesic/medrag/websearch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type classifierFunc func(ctx context.Context, text string) core.Intent

func (f classifierFunc) Classify(ctx context.Context, text string) core.Intent { return f(ctx, text) }

type structurerFunc func(ctx context.Context, text string) string

func (f structurerFunc) Structure(ctx context.Context, text string) string { return f(ctx, text) }

type evaluatorFunc func(ctx context.Context, sq, evidence string) core.Verdict

func (f evaluatorFunc) Evaluate(ctx context.Context, sq, evidence string) core.Verdict {
	return f(ctx, sq, evidence)
}

type retrieveCall struct {
	query string
	pass  retrieval.Pass
}

type recordingRetriever struct {
	mu    sync.Mutex
	calls []retrieveCall
	fn    func(ctx context.Context, query string, pass retrieval.Pass) []core.EvidenceItem
}

func (r *recordingRetriever) Retrieve(ctx context.Context, query string, pass retrieval.Pass) []core.EvidenceItem {
	r.mu.Lock()
	r.calls = append(r.calls, retrieveCall{query, pass})
	n := len(r.calls)
	r.mu.Unlock()
	if r.fn != nil {
		return r.fn(ctx, query, pass)
	}
	return []core.EvidenceItem{core.WebEvidence("https://example.com/"+string(rune('a'+n-1)), "evidence for "+query)}
}

type recordingMonitor struct {
	states   []State
	degraded []State
	finished bool
	maxIter  int
}

func (m *recordingMonitor) Transition(_, to State, s Session) {
	m.states = append(m.states, to)
	if to == StateAnswer && s.Iteration > m.maxIter {
		m.maxIter = s.Iteration
	}
}
func (m *recordingMonitor) Degraded(state State, _ error) { m.degraded = append(m.degraded, state) }
func (m *recordingMonitor) Finish(Session)                { m.finished = true }

type failingStore struct{}

func (failingStore) SaveTurn(context.Context, string, string, string, string) (*core.ConversationTurn, error) {
	return nil, errors.New("db down")
}
func (failingStore) GetHistory(context.Context, string, string, int) ([]*core.ConversationTurn, error) {
	return nil, errors.New("db down")
}
func (failingStore) Close() error { return nil }

type stubWeb struct{}

func (stubWeb) SearchURLs(context.Context, string) ([]string, error) {
	return []string{"https://vinmec.com/aspirin"}, nil
}
func (stubWeb) FetchAll(context.Context, []string) []websearch.Page {
	return []websearch.Page{{URL: "https://vinmec.com/aspirin", Text: "Aspirin thins the blood.", Success: true}}
}

func medical(context.Context, string) core.Intent { return core.IntentMedical }

func echoStructure(_ context.Context, text string) string { return "sq: " + text }

func alwaysSufficient(context.Context, string, string) core.Verdict {
	return core.Verdict{Sufficient: true}
}

func query(text string) core.Query {
	return core.Query{Text: text, UserID: "u1", ConversationID: "c1"}
}

func newStores(t *testing.T) *badger.MemoryStores {
	t.Helper()
	stores, err := badger.NewMemoryStores()
	require.NoError(t, err)
	t.Cleanup(func() { stores.Close() })
	return stores
}

func newMachine(t *testing.T, deps Deps, opts ...Option) *Machine {
	t.Helper()
	m, err := New(deps, opts...)
	require.NoError(t, err)
	return m
}

func TestNew_RequiresDeps(t *testing.T) {
	stores := newStores(t)
	gen := mock.NewMockGenerator()
	answerer, err := answer.NewAnswerer(gen)
	require.NoError(t, err)

	full := Deps{
		Classifier:    classifierFunc(medical),
		Structurer:    structurerFunc(echoStructure),
		Retriever:     &recordingRetriever{},
		Evaluator:     evaluatorFunc(alwaysSufficient),
		Answerer:      answerer,
		Conversations: stores.Conversations,
	}
	_, err = New(full)
	require.NoError(t, err)

	missing := full
	missing.Retriever = nil
	_, err = New(missing)
	assert.ErrorIs(t, err, ErrRetrieverRequired)

	missing = full
	missing.Conversations = nil
	_, err = New(missing)
	assert.ErrorIs(t, err, ErrConversationStoreRequired)

	m, err := New(full, WithMaxRetries(-3))
	require.NoError(t, err)
	assert.Equal(t, 0, m.MaxRetries())
}

func TestRun_InvalidQuery(t *testing.T) {
	stores := newStores(t)
	gen := mock.NewMockGenerator()
	answerer, _ := answer.NewAnswerer(gen)
	m := newMachine(t, Deps{
		Classifier:    classifierFunc(medical),
		Structurer:    structurerFunc(echoStructure),
		Retriever:     &recordingRetriever{},
		Evaluator:     evaluatorFunc(alwaysSufficient),
		Answerer:      answerer,
		Conversations: stores.Conversations,
	})

	_, err := m.Run(context.Background(), core.Query{Text: "aspirin?", ConversationID: "c1"})
	assert.ErrorIs(t, err, core.ErrInvalidQuery)
	assert.ErrorIs(t, err, core.ErrMissingUserID)
	assert.Empty(t, gen.Calls())
}

func TestRun_MedicalEndToEnd(t *testing.T) {
	ctx := context.Background()
	stores := newStores(t)

	for i := 0; i < 2; i++ {
		_, err := stores.Conversations.SaveTurn(ctx, "u1", "c1", "earlier", "reply")
		require.NoError(t, err)
	}

	var answerContext string
	var answerHistory []*core.ConversationTurn
	gen := mock.NewMockGenerator().WithGenerateFunc(func(_ context.Context, kind ai.PromptKind, args ai.PromptArgs) (string, error) {
		switch kind {
		case ai.PromptStructure:
			return `{"structured_query": "aspirin, blood thinning"}`, nil
		case ai.PromptReflect:
			return `{"sufficient": true, "follow_up_query": ""}`, nil
		case ai.PromptAnswer:
			answerContext = args.Context
			answerHistory = args.History
			return "Aspirin is an antiplatelet drug.", nil
		}
		return "", errors.New("unexpected prompt " + string(kind))
	})

	failingEmbedder := mock.NewMockEmbedder().WithEmbedTextFunc(func(context.Context, string) ([]float32, error) {
		return nil, errors.New("embedding service unreachable")
	})
	coordinator, err := retrieval.New(failingEmbedder, stores.Knowledge, retrieval.WithWebSearcher(stubWeb{}))
	require.NoError(t, err)
	s, err := structurer.New(gen)
	require.NoError(t, err)
	evaluator, err := reflection.New(gen)
	require.NoError(t, err)
	answerer, err := answer.NewAnswerer(gen)
	require.NoError(t, err)

	monitor := &recordingMonitor{}
	m := newMachine(t, Deps{
		Classifier:    classifierFunc(medical),
		Structurer:    s,
		Retriever:     coordinator,
		Evaluator:     evaluator,
		Answerer:      answerer,
		Conversations: stores.Conversations,
	}, WithMonitor(monitor))

	session, err := m.Run(ctx, query("Does aspirin thin the blood?"))
	require.NoError(t, err)

	assert.Equal(t, StateEnd, session.State)
	assert.Equal(t, core.IntentMedical, session.Intent)
	assert.Equal(t, "aspirin, blood thinning", session.StructuredQuery)
	assert.Equal(t, "Aspirin is an antiplatelet drug.", session.Answer)
	assert.Equal(t, 0, session.Iteration)
	assert.Empty(t, session.Degraded)

	require.Equal(t, 1, session.Evidence.Len())
	assert.Equal(t, core.SourceWeb, session.Evidence.Items()[0].SourceType)
	assert.Contains(t, answerContext, "Web sources:")
	assert.Contains(t, answerContext, "https://vinmec.com/aspirin")
	assert.NotContains(t, answerContext, "Knowledge base:")
	assert.Len(t, answerHistory, 2)

	require.NotNil(t, session.Turn)
	assert.Equal(t, uint64(3), session.Turn.TurnIndex)

	assert.Equal(t, []State{
		StateClassifyIntent, StateStructureQuery, StateRetrieve, StateReflect,
		StateAnswer, StatePersist, StateEnd,
	}, monitor.states)
	assert.True(t, monitor.finished)
}

func TestRun_GeneralSkipsRetrieval(t *testing.T) {
	ctx := context.Background()
	stores := newStores(t)
	_, err := stores.Conversations.SaveTurn(ctx, "u1", "c1", "hello", "hi there")
	require.NoError(t, err)

	var generalHistory []*core.ConversationTurn
	gen := mock.NewMockGenerator().WithGenerateFunc(func(_ context.Context, kind ai.PromptKind, args ai.PromptArgs) (string, error) {
		generalHistory = args.History
		return "I can help with medicine questions.", nil
	})
	answerer, err := answer.NewAnswerer(gen)
	require.NoError(t, err)

	retriever := &recordingRetriever{}
	evaluated := 0
	monitor := &recordingMonitor{}
	m := newMachine(t, Deps{
		Classifier: classifierFunc(func(context.Context, string) core.Intent { return core.IntentGeneral }),
		Structurer: structurerFunc(func(context.Context, string) string {
			t.Fatal("structurer must not run on the general branch")
			return ""
		}),
		Retriever: retriever,
		Evaluator: evaluatorFunc(func(context.Context, string, string) core.Verdict {
			evaluated++
			return core.Verdict{Sufficient: true}
		}),
		Answerer:      answerer,
		Conversations: stores.Conversations,
	}, WithMonitor(monitor))

	session, err := m.Run(ctx, query("what's the weather?"))
	require.NoError(t, err)

	assert.Equal(t, core.IntentGeneral, session.Intent)
	assert.Equal(t, "I can help with medicine questions.", session.Answer)
	assert.Empty(t, retriever.calls)
	assert.Equal(t, 0, evaluated)
	assert.Equal(t, []ai.PromptKind{ai.PromptGeneral}, gen.Calls())
	require.Len(t, generalHistory, 1)
	assert.Equal(t, "hello", generalHistory[0].Query)
	assert.Equal(t, []State{StateClassifyIntent, StateGeneralAnswer, StatePersist, StateEnd}, monitor.states)
	require.NotNil(t, session.Turn)
	assert.Equal(t, uint64(2), session.Turn.TurnIndex)
}

func TestRun_IterationBound(t *testing.T) {
	for _, maxRetries := range []int{0, 1, 2, 4} {
		t.Run(fmt.Sprintf("max retries %d", maxRetries), func(t *testing.T) {
			stores := newStores(t)
			answerer, err := answer.NewAnswerer(mock.NewMockGenerator())
			require.NoError(t, err)

			retriever := &recordingRetriever{}
			monitor := &recordingMonitor{}
			m := newMachine(t, Deps{
				Classifier: classifierFunc(medical),
				Structurer: structurerFunc(echoStructure),
				Retriever:  retriever,
				Evaluator: evaluatorFunc(func(context.Context, string, string) core.Verdict {
					return core.Verdict{Sufficient: false, FollowUpQuery: "more please"}
				}),
				Answerer:      answerer,
				Conversations: stores.Conversations,
			}, WithMaxRetries(maxRetries), WithMonitor(monitor))

			session, err := m.Run(context.Background(), query("aspirin dose"))
			require.NoError(t, err)

			assert.Equal(t, StateEnd, session.State)
			assert.Equal(t, maxRetries, session.Iteration)
			assert.LessOrEqual(t, monitor.maxIter, maxRetries)
			require.Len(t, retriever.calls, maxRetries+1)
			assert.Equal(t, retrieval.PassFirst, retriever.calls[0].pass)
			for _, call := range retriever.calls[1:] {
				assert.Equal(t, retrieval.PassFollowUp, call.pass)
				assert.Equal(t, "more please", call.query)
			}
			assert.Equal(t, maxRetries+1, session.Evidence.Len(), "evidence accumulates across passes")
			assert.Equal(t, "answer: aspirin dose", session.Answer)
		})
	}
}

func TestRun_FollowUpAppendsEvidence(t *testing.T) {
	stores := newStores(t)
	answerer, err := answer.NewAnswerer(mock.NewMockGenerator())
	require.NoError(t, err)

	reflections := 0
	var secondEvidence string
	retriever := &recordingRetriever{fn: func(_ context.Context, q string, pass retrieval.Pass) []core.EvidenceItem {
		if pass == retrieval.PassFirst {
			return []core.EvidenceItem{
				core.WebEvidence("https://a.org", "first a"),
				core.WebEvidence("https://b.org", "first b"),
			}
		}
		return []core.EvidenceItem{
			core.WebEvidence("https://a.org", "duplicate of a"),
			core.WebEvidence("https://c.org", "follow-up c"),
		}
	}}
	m := newMachine(t, Deps{
		Classifier: classifierFunc(medical),
		Structurer: structurerFunc(echoStructure),
		Retriever:  retriever,
		Evaluator: evaluatorFunc(func(_ context.Context, _ string, evidence string) core.Verdict {
			reflections++
			if reflections == 1 {
				return core.Verdict{FollowUpQuery: "interactions"}
			}
			secondEvidence = evidence
			return core.Verdict{Sufficient: true}
		}),
		Answerer:      answerer,
		Conversations: stores.Conversations,
	})

	session, err := m.Run(context.Background(), query("warfarin"))
	require.NoError(t, err)

	assert.Equal(t, 1, session.Iteration)
	items := session.Evidence.Items()
	require.Len(t, items, 3)
	assert.Equal(t, "first a", items[0].Content)
	assert.Equal(t, "first b", items[1].Content)
	assert.Equal(t, "follow-up c", items[2].Content)
	assert.Equal(t, "interactions", retriever.calls[1].query)
	assert.Contains(t, secondEvidence, "follow-up c")
	assert.Less(t, strings.Index(secondEvidence, "first a"), strings.Index(secondEvidence, "follow-up c"))
}

func TestRun_SummaryContextOverridesEvidence(t *testing.T) {
	stores := newStores(t)
	var answerContext string
	gen := mock.NewMockGenerator().WithGenerateFunc(func(_ context.Context, kind ai.PromptKind, args ai.PromptArgs) (string, error) {
		answerContext = args.Context
		return "ok", nil
	})
	answerer, err := answer.NewAnswerer(gen)
	require.NoError(t, err)

	m := newMachine(t, Deps{
		Classifier: classifierFunc(medical),
		Structurer: structurerFunc(echoStructure),
		Retriever:  &recordingRetriever{},
		Evaluator: evaluatorFunc(func(context.Context, string, string) core.Verdict {
			return core.Verdict{Sufficient: true, SummaryContext: "condensed facts"}
		}),
		Answerer:      answerer,
		Conversations: stores.Conversations,
	})

	session, err := m.Run(context.Background(), query("aspirin"))
	require.NoError(t, err)
	assert.Equal(t, "condensed facts", answerContext)
	assert.Equal(t, "condensed facts", session.ContextOverride)
}

func TestRun_PanicsAreContained(t *testing.T) {
	stores := newStores(t)
	gen := mock.NewMockGenerator().WithGenerateFunc(func(_ context.Context, kind ai.PromptKind, _ ai.PromptArgs) (string, error) {
		if kind == ai.PromptAnswer {
			panic("answer model crashed")
		}
		return "", nil
	})
	answerer, err := answer.NewAnswerer(gen)
	require.NoError(t, err)

	retriever := &recordingRetriever{}
	monitor := &recordingMonitor{}
	m := newMachine(t, Deps{
		Classifier: classifierFunc(medical),
		Structurer: structurerFunc(func(context.Context, string) string { panic("structurer bug") }),
		Retriever:  retriever,
		Evaluator: evaluatorFunc(func(context.Context, string, string) core.Verdict {
			panic("evaluator bug")
		}),
		Answerer:      answerer,
		Conversations: stores.Conversations,
	}, WithMonitor(monitor))

	session, err := m.Run(context.Background(), query("ibuprofen"))
	require.NoError(t, err)

	assert.Equal(t, StateEnd, session.State)
	assert.Equal(t, "ibuprofen", session.StructuredQuery, "falls back to the original text")
	assert.Equal(t, "ibuprofen", retriever.calls[0].query)
	assert.Equal(t, answer.Apology, session.Answer)
	assert.Equal(t, []State{StateStructureQuery, StateReflect, StateAnswer}, session.Degraded)
	assert.Equal(t, session.Degraded, monitor.degraded)
	require.NotNil(t, session.Turn, "persistence still happens")
	assert.Equal(t, answer.Apology, session.Turn.Answer)
}

func TestRun_EverythingFails(t *testing.T) {
	gen := mock.NewMockGenerator().WithGenerateFunc(func(context.Context, ai.PromptKind, ai.PromptArgs) (string, error) {
		return "", errors.New("generator down")
	})
	answerer, err := answer.NewAnswerer(gen)
	require.NoError(t, err)
	s, err := structurer.New(gen)
	require.NoError(t, err)
	evaluator, err := reflection.New(gen)
	require.NoError(t, err)

	m := newMachine(t, Deps{
		Classifier: classifierFunc(func(context.Context, string) core.Intent { panic("index gone") }),
		Structurer: s,
		Retriever: &recordingRetriever{fn: func(context.Context, string, retrieval.Pass) []core.EvidenceItem {
			panic("retriever gone")
		}},
		Evaluator:     evaluator,
		Answerer:      answerer,
		Conversations: failingStore{},
	})

	session, err := m.Run(context.Background(), query("metformin"))
	require.NoError(t, err)

	assert.Equal(t, StateEnd, session.State)
	assert.Equal(t, core.IntentMedical, session.Intent)
	assert.Equal(t, answer.Apology, session.Answer)
	assert.Nil(t, session.Turn)
	assert.LessOrEqual(t, session.Iteration, DefaultMaxRetries)
	assert.Contains(t, session.Degraded, StateStart)
	assert.Contains(t, session.Degraded, StatePersist)
}

func TestRun_StepTimeout(t *testing.T) {
	stores := newStores(t)
	answerer, err := answer.NewAnswerer(mock.NewMockGenerator())
	require.NoError(t, err)

	retriever := &recordingRetriever{fn: func(ctx context.Context, _ string, _ retrieval.Pass) []core.EvidenceItem {
		<-ctx.Done()
		return nil
	}}
	m := newMachine(t, Deps{
		Classifier:    classifierFunc(medical),
		Structurer:    structurerFunc(echoStructure),
		Retriever:     retriever,
		Evaluator:     evaluatorFunc(alwaysSufficient),
		Answerer:      answerer,
		Conversations: stores.Conversations,
	}, WithStepTimeout(50*time.Millisecond))

	start := time.Now()
	session, err := m.Run(context.Background(), query("aspirin"))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, "answer: aspirin", session.Answer)
	assert.Equal(t, 0, session.Evidence.Len())
}

func TestSessionTransitionsDoNotAlias(t *testing.T) {
	s := newSession(query("q"), 2)
	s = s.withDegraded(StateStart)

	next := s.withDegraded(StateReflect).to(StateAnswer)
	assert.Equal(t, StateStart, s.State)
	assert.Equal(t, []State{StateStart}, s.Degraded)
	assert.Equal(t, []State{StateStart, StateReflect}, next.Degraded)

	history := []*core.ConversationTurn{{Query: "a"}}
	withHistory := s.withHistory(history)
	history[0] = &core.ConversationTurn{Query: "changed"}
	assert.Equal(t, "a", withHistory.History[0].Query)
}

func TestShouldAnswer(t *testing.T) {
	assert.True(t, shouldAnswer(core.Verdict{Sufficient: true}, 0, 2))
	assert.False(t, shouldAnswer(core.Verdict{}, 1, 2))
	assert.True(t, shouldAnswer(core.Verdict{}, 2, 2))
	assert.True(t, shouldAnswer(core.Verdict{}, 0, 0))
}
