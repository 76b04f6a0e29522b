package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateQuery(t *testing.T) {
	valid := Query{Text: "what is meloxicam?", UserID: "u1", ConversationID: "c1"}

	t.Run("valid query", func(t *testing.T) {
		assert.NoError(t, ValidateQuery(valid))
	})

	t.Run("empty text", func(t *testing.T) {
		q := valid
		q.Text = "   "
		err := ValidateQuery(q)
		assert.ErrorIs(t, err, ErrInvalidQuery)
		assert.ErrorIs(t, err, ErrEmptyQueryText)
	})

	t.Run("missing user", func(t *testing.T) {
		q := valid
		q.UserID = ""
		err := ValidateQuery(q)
		assert.ErrorIs(t, err, ErrInvalidQuery)
		assert.ErrorIs(t, err, ErrMissingUserID)
	})

	t.Run("missing conversation", func(t *testing.T) {
		q := valid
		q.ConversationID = ""
		assert.ErrorIs(t, ValidateQuery(q), ErrMissingConversationID)
	})
}

func TestValidateKnowledgeChunk(t *testing.T) {
	assert.ErrorIs(t, ValidateKnowledgeChunk(nil), ErrInvalidChunk)
	assert.ErrorIs(t, ValidateKnowledgeChunk(&KnowledgeChunk{Vector: []float32{1}}), ErrEmptyContent)
	assert.ErrorIs(t, ValidateKnowledgeChunk(&KnowledgeChunk{Content: "x"}), ErrMissingVector)
	assert.NoError(t, ValidateKnowledgeChunk(&KnowledgeChunk{Content: "x", Vector: []float32{1}}))
}

func TestValidateIntentExample(t *testing.T) {
	assert.ErrorIs(t, ValidateIntentExample(nil), ErrInvalidExample)
	assert.ErrorIs(t, ValidateIntentExample(&IntentExample{Query: "q", Label: "other", Vector: []float32{1}}), ErrInvalidIntent)
	assert.ErrorIs(t, ValidateIntentExample(&IntentExample{Query: "q", Label: IntentGeneral}), ErrMissingVector)
	assert.NoError(t, ValidateIntentExample(&IntentExample{Query: "q", Label: IntentMedical, Vector: []float32{1}}))
}
