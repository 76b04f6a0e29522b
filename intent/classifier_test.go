package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/poiesic/medrag/ai/mock"
	"github.com/poiesic/medrag/core"
	"github.com/poiesic/medrag/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingIndex struct{}

func (failingIndex) Nearest(context.Context, []float32, int) ([]*core.IntentMatch, error) {
	return nil, errors.New("index offline")
}
func (failingIndex) Insert(context.Context, ...*core.IntentExample) error { return nil }
func (failingIndex) Close() error                                         { return nil }

func TestVote(t *testing.T) {
	m, g := core.IntentMedical, core.IntentGeneral
	tests := []struct {
		name   string
		labels []core.Intent
		want   core.Intent
	}{
		{"majority medical", []core.Intent{m, m, g}, m},
		{"tie goes medical", []core.Intent{m, g}, m},
		{"majority general", []core.Intent{g, g, m}, g},
		{"empty goes medical", nil, m},
		{"unknown labels ignored", []core.Intent{"sports", "sports", g}, g},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Vote(tt.labels))
		})
	}
}

func TestNew(t *testing.T) {
	stores, err := badger.NewMemoryStores()
	require.NoError(t, err)
	defer stores.Close()

	_, err = New(nil, stores.Intents)
	assert.ErrorIs(t, err, ErrEmbedderRequired)
	_, err = New(mock.NewMockEmbedder(), nil)
	assert.ErrorIs(t, err, ErrIndexRequired)
	_, err = New(mock.NewMockEmbedder(), stores.Intents, WithNeighbors(0))
	assert.ErrorIs(t, err, ErrInvalidNeighbors)
}

func TestClassify(t *testing.T) {
	ctx := context.Background()
	stores, err := badger.NewMemoryStores()
	require.NoError(t, err)
	defer stores.Close()

	embedder := mock.NewMockEmbedder()
	examples := []struct {
		query string
		label core.Intent
	}{
		{"what is the dose of aspirin", core.IntentMedical},
		{"side effects of ibuprofen", core.IntentMedical},
		{"what is the weather today", core.IntentGeneral},
		{"who won the football match", core.IntentGeneral},
		{"tell me a joke", core.IntentGeneral},
	}
	for _, ex := range examples {
		vec, err := embedder.EmbedText(ctx, ex.query)
		require.NoError(t, err)
		require.NoError(t, stores.Intents.Insert(ctx, &core.IntentExample{
			Id: core.IDFromContent(ex.query), Query: ex.query, Label: ex.label, Vector: vec,
		}))
	}

	t.Run("nearest neighbours vote", func(t *testing.T) {
		c, err := New(embedder, stores.Intents, WithNeighbors(1))
		require.NoError(t, err)
		// The deterministic embedder maps identical text to identical vectors.
		assert.Equal(t, core.IntentGeneral, c.Classify(ctx, "tell me a joke"))
		assert.Equal(t, core.IntentMedical, c.Classify(ctx, "side effects of ibuprofen"))
	})

	t.Run("majority over all references", func(t *testing.T) {
		c, err := New(embedder, stores.Intents, WithNeighbors(5))
		require.NoError(t, err)
		assert.Equal(t, core.IntentGeneral, c.Classify(ctx, "anything"))
	})

	t.Run("embedding failure defaults to medical", func(t *testing.T) {
		failing := mock.NewMockEmbedder().WithEmbedTextFunc(func(context.Context, string) ([]float32, error) {
			return nil, errors.New("embedder down")
		})
		c, err := New(failing, stores.Intents)
		require.NoError(t, err)
		assert.Equal(t, core.IntentMedical, c.Classify(ctx, "tell me a joke"))
	})

	t.Run("lookup failure defaults to medical", func(t *testing.T) {
		c, err := New(embedder, failingIndex{})
		require.NoError(t, err)
		assert.Equal(t, core.IntentMedical, c.Classify(ctx, "tell me a joke"))
	})
}
