package structurer

import (
	"context"
	"errors"
	"testing"

	"github.com/poiesic/medrag/ai"
	"github.com/poiesic/medrag/ai/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	const original = "what does meloxicam do for arthritis?"
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"strict json", `{"structured_query": "meloxicam, arthritis"}`, "meloxicam, arthritis"},
		{"json with whitespace", "\n  {\"structured_query\":\"meloxicam\"}  \n", "meloxicam"},
		{"embedded in prose", `Sure! Here you go: {"structured_query": "meloxicam, arthritis"} hope it helps`, "meloxicam, arthritis"},
		{"escaped quote in prose", `result "structured_query": "the \"COX-2\" inhibitor" done`, `the "COX-2" inhibitor`},
		{"truncated json", `{"structured_query": "meloxicam", "extra": `, "meloxicam"},
		{"missing field", `{"query": "meloxicam"}`, original},
		{"empty value", `{"structured_query": "   "}`, original},
		{"not json", "I cannot help with that", original},
		{"empty output", "", original},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.raw, original))
		})
	}
}

func TestNew(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrGeneratorRequired)
}

func TestStructure(t *testing.T) {
	ctx := context.Background()

	t.Run("uses generator output", func(t *testing.T) {
		gen := mock.NewMockGenerator().WithGenerateFunc(func(_ context.Context, kind ai.PromptKind, args ai.PromptArgs) (string, error) {
			assert.Equal(t, ai.PromptStructure, kind)
			assert.Equal(t, "cough and CYP2D6, hydrocodone?", args.Query)
			return `{"structured_query": "cough, CYP2D6, hydrocodone"}`, nil
		})
		s, err := New(gen)
		require.NoError(t, err)
		assert.Equal(t, "cough, CYP2D6, hydrocodone", s.Structure(ctx, "cough and CYP2D6, hydrocodone?"))
	})

	t.Run("generator error returns original", func(t *testing.T) {
		gen := mock.NewMockGenerator().WithGenerateFunc(func(context.Context, ai.PromptKind, ai.PromptArgs) (string, error) {
			return "", errors.New("timeout")
		})
		s, err := New(gen, WithLogger(nil))
		require.NoError(t, err)
		assert.Equal(t, "original text", s.Structure(ctx, "original text"))
	})
}
