package milvus

import (
	"context"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/poiesic/medrag/ai/mock"
	"github.com/poiesic/medrag/core"
	"github.com/poiesic/medrag/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(cols []entity.Column) columnLookup {
	byName := make(map[string]entity.Column, len(cols))
	for _, c := range cols {
		byName[c.Name()] = c
	}
	return func(name string) entity.Column { return byName[name] }
}

func TestPrimaryKeyRoundTrip(t *testing.T) {
	for _, id := range []core.ID{0, 1, core.ID(math.MaxUint64), core.IDFromContent("aspirin")} {
		assert.Equal(t, id, fromPrimaryKey(toPrimaryKey(id)))
	}
}

func TestKnowledgeColumnsRoundTrip(t *testing.T) {
	chunks := []*core.KnowledgeChunk{
		{Id: core.ID(math.MaxUint64), Content: "c1", Category: "cat", Recommendation: "rec", Description: "desc", Vector: []float32{1, 0}},
		{Id: 7, Content: "c2", Vector: []float32{0, 1}},
	}
	cols := knowledgeColumns(2, chunks)
	require.Len(t, cols, 6)

	lookup := lookupFrom(cols)
	first := knowledgeHitAt(lookup, 0, 0.9)
	assert.Equal(t, chunks[0].Id, first.Chunk.Id)
	assert.Equal(t, "cat", first.Chunk.Category)
	assert.Equal(t, "rec", first.Chunk.Recommendation)
	assert.Equal(t, "desc", first.Chunk.Description)
	assert.Equal(t, float32(0.9), first.Score)

	second := knowledgeHitAt(lookup, 1, 0.1)
	assert.Equal(t, core.ID(7), second.Chunk.Id)
	assert.Equal(t, "c2", second.Chunk.Content)
}

func TestIntentColumnsRoundTrip(t *testing.T) {
	examples := []*core.IntentExample{
		{Id: 3, Query: "what dose", Label: core.IntentMedical, Vector: []float32{1}},
	}
	lookup := lookupFrom(intentColumns(1, examples))
	match := intentMatchAt(lookup, 0, 0.5)
	assert.Equal(t, core.IntentMedical, match.Example.Label)
	assert.Equal(t, "what dose", match.Example.Query)
}

func TestFitVarChar(t *testing.T) {
	assert.Equal(t, "short", fitVarChar("short", 10))
	assert.Equal(t, "abc", fitVarChar("abcdef", 3))
	// "ố" is three bytes; a cut inside it backs off to the rune start.
	assert.Equal(t, "thu", fitVarChar("thuốc", 4))
	assert.Equal(t, "thuố", fitVarChar("thuốc", 6))
}

func TestKnowledgeColumns_CapsOverlongFields(t *testing.T) {
	chunks := []*core.KnowledgeChunk{
		{Id: 1, Content: "ok", Category: strings.Repeat("é", 400), Vector: []float32{1}},
		{Id: 2, Content: "fine", Category: "analgesic", Vector: []float32{1}},
	}
	lookup := lookupFrom(knowledgeColumns(1, chunks))

	long := knowledgeHitAt(lookup, 0, 1).Chunk.Category
	assert.LessOrEqual(t, len(long), maxShortLength)
	assert.True(t, utf8.ValidString(long))
	assert.Equal(t, strings.Repeat("é", maxShortLength/2), long)
	assert.Equal(t, "analgesic", knowledgeHitAt(lookup, 1, 1).Chunk.Category)
}

func TestIntentColumns_CapsLabel(t *testing.T) {
	examples := []*core.IntentExample{
		{Id: 1, Query: "q", Label: core.Intent(strings.Repeat("x", 40)), Vector: []float32{1}},
	}
	match := intentMatchAt(lookupFrom(intentColumns(1, examples)), 0, 1)
	assert.Len(t, string(match.Example.Label), maxLabelLength)
}

func TestMissingColumnsYieldZeroValues(t *testing.T) {
	lookup := lookupFrom(nil)
	hit := knowledgeHitAt(lookup, 0, 1)
	assert.Empty(t, hit.Chunk.Content)
	assert.Equal(t, core.ID(0), hit.Chunk.Id)
}

func TestSchemas(t *testing.T) {
	schema := knowledgeSchema("kb", 8)
	assert.Equal(t, "kb", schema.CollectionName)
	require.NotEmpty(t, schema.Fields)
	assert.True(t, schema.Fields[0].PrimaryKey)
	assert.Equal(t, "8", schema.Fields[1].TypeParams["dim"])

	assert.Equal(t, "intent_queries", Config{}.withDefaults().IntentCollection)
	assert.Equal(t, "knowledge_base", Config{}.withDefaults().KnowledgeCollection)
}

func TestNewClient_ValidatesConfig(t *testing.T) {
	_, err := NewClient(context.Background(), Config{Dimension: 4})
	assert.Error(t, err)
	_, err = NewClient(context.Background(), Config{Address: "localhost:19530"})
	assert.Error(t, err)
}

// TestLiveMilvus runs against a real server when MEDRAG_MILVUS_ADDR is set.
func TestLiveMilvus(t *testing.T) {
	addr := os.Getenv("MEDRAG_MILVUS_ADDR")
	if addr == "" {
		t.Skip("MEDRAG_MILVUS_ADDR not set")
	}
	ctx := context.Background()
	const dim = 16

	suffix := strconv.FormatInt(int64(os.Getpid()), 10)
	c, err := NewClient(ctx, Config{
		Address:             addr,
		KnowledgeCollection: "medrag_test_kb_" + suffix,
		IntentCollection:    "medrag_test_intent_" + suffix,
		Dimension:           dim,
	})
	require.NoError(t, err)
	defer func() {
		_ = c.milvus.DropCollection(ctx, c.config.KnowledgeCollection)
		_ = c.milvus.DropCollection(ctx, c.config.IntentCollection)
		c.Close()
	}()

	require.NoError(t, c.EnsureCollections(ctx))
	require.NoError(t, c.HealthCheck(ctx))

	embedder := mock.NewMockEmbedder()
	embedder.Dim = dim
	vec := func(s string) []float32 {
		v, err := embedder.EmbedText(ctx, s)
		require.NoError(t, err)
		return v
	}

	kb := NewKnowledgeIndex(c)
	require.NoError(t, kb.Insert(ctx,
		&core.KnowledgeChunk{Id: 1, Content: "aspirin", Vector: vec("aspirin")},
		&core.KnowledgeChunk{Id: 2, Content: "ibuprofen", Vector: vec("ibuprofen")},
	))
	hits, err := kb.Search(ctx, vec("aspirin"), 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "aspirin", hits[0].Chunk.Content)

	_, err = kb.Search(ctx, []float32{1}, 1)
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
}
