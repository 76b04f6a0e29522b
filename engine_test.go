package medrag

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/poiesic/medrag/ai"
	"github.com/poiesic/medrag/ai/mock"
	"github.com/poiesic/medrag/core"
	"github.com/poiesic/medrag/orchestrator"
	"github.com/poiesic/medrag/storage"
	"github.com/poiesic/medrag/websearch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWeb struct {
	mu      sync.Mutex
	queries []string
}

func (f *fakeWeb) SearchURLs(ctx context.Context, query string) ([]string, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	return []string{"https://example.org/metformin"}, nil
}

func (f *fakeWeb) FetchAll(ctx context.Context, urls []string) []websearch.Page {
	pages := make([]websearch.Page, len(urls))
	for i, u := range urls {
		pages[i] = websearch.Page{URL: u, Text: "Metformin lowers blood glucose.", Success: true}
	}
	return pages
}

type recordingMonitor struct {
	mu       sync.Mutex
	finished []orchestrator.Session
}

func (m *recordingMonitor) Transition(_, _ orchestrator.State, _ orchestrator.Session) {}
func (m *recordingMonitor) Degraded(_ orchestrator.State, _ error)                    {}
func (m *recordingMonitor) Finish(s orchestrator.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, s)
}

func openTestEngine(t *testing.T, cfg Config, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithProvider(mock.NewMockProvider())}, opts...)
	e, err := Open(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestOpen_Validation(t *testing.T) {
	ctx := context.Background()

	t.Run("nil provider", func(t *testing.T) {
		_, err := Open(ctx, DefaultConfig(), WithProvider(nil))
		assert.ErrorIs(t, err, ErrProviderRequired)
	})

	t.Run("unknown index backend", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.IndexBackend = "sqlite"
		_, err := Open(ctx, cfg, WithProvider(mock.NewMockProvider()))
		assert.ErrorIs(t, err, ErrUnknownBackend)
	})

	t.Run("unknown conversation backend", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ConversationBackend = "redis"
		_, err := Open(ctx, cfg, WithProvider(mock.NewMockProvider()))
		assert.ErrorIs(t, err, ErrUnknownBackend)
	})

	t.Run("postgres without dsn", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.ConversationBackend = BackendPostgres
		_, err := Open(ctx, cfg, WithProvider(mock.NewMockProvider()))
		assert.ErrorIs(t, err, ErrPostgresDSNRequired)
	})

	t.Run("invalid AI config", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.AI = ai.NewConfig(ai.WithEmbeddingModel(""))
		_, err := Open(ctx, cfg)
		assert.Error(t, err)
	})
}

func TestEngine_AnswerMedical(t *testing.T) {
	ctx := context.Background()
	web := &fakeWeb{}
	monitor := &recordingMonitor{}
	e := openTestEngine(t, DefaultConfig(), WithWebSearcher(web), WithMonitor(monitor))

	stats, err := e.IndexKnowledge(ctx, strings.NewReader(
		"name,group,category\nMetformin,Biguanide,Endocrine\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Indexed)

	result, err := e.Answer(ctx, "What is metformin for?", "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, core.IntentMedical, result.Intent)
	assert.Contains(t, result.Answer, "answer:")
	assert.Equal(t, uint64(1), result.Turn)
	assert.Equal(t, 0, result.Iterations)
	assert.Len(t, web.queries, 1)

	require.Len(t, monitor.finished, 1)
	evidence := monitor.finished[0].Evidence
	assert.Len(t, evidence.BySource(core.SourceVector), 1)
	assert.Len(t, evidence.BySource(core.SourceWeb), 1)

	result, err = e.Answer(ctx, "And the usual dose?", "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), result.Turn)

	history, err := e.History(ctx, "u1", "c1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "What is metformin for?", history[0].Query)
}

func TestEngine_AnswerGeneral(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.DisableWeb = true
	e := openTestEngine(t, cfg)

	_, err := e.IndexIntents(ctx, strings.NewReader("query,label\nbest pizza in town,general\n"))
	require.NoError(t, err)

	result, err := e.Answer(ctx, "best pizza in town", "u1", "c2")
	require.NoError(t, err)
	assert.Equal(t, core.IntentGeneral, result.Intent)
	assert.Equal(t, "general: best pizza in town", result.Answer)
}

func TestEngine_InvalidQuery(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DisableWeb = true
	e := openTestEngine(t, cfg)

	_, err := e.Answer(context.Background(), "   ", "u1", "c1")
	assert.ErrorIs(t, err, core.ErrInvalidQuery)
	assert.ErrorIs(t, err, core.ErrEmptyQueryText)

	_, err = e.Answer(context.Background(), "hi", "", "c1")
	assert.ErrorIs(t, err, core.ErrMissingUserID)
}

func TestEngine_HealthAndClose(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DisableWeb = true
	cfg.DataDir = filepath.Join(t.TempDir(), "medrag")

	e, err := Open(context.Background(), cfg, WithProvider(mock.NewMockProvider()))
	require.NoError(t, err)
	assert.NoError(t, e.Health(context.Background()))

	require.NoError(t, e.Close())
	assert.ErrorIs(t, e.Health(context.Background()), storage.ErrStorageClosed)
	assert.NoError(t, e.Close())
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{MaxRetries: 0, RerankTopK: 0}.withDefaults()
	assert.Equal(t, 5, cfg.TopKFirst)
	assert.Equal(t, 3, cfg.TopKFollowUp)
	assert.Equal(t, 5, cfg.IntentNeighbors)
	assert.GreaterOrEqual(t, cfg.PoolSize, 1)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, 0, cfg.RerankTopK)
}
