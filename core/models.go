package core

//go:generate go run ../cmd/musgen

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for indexed entities.
// It is generated using content-based hashing.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// Intent is the routing label assigned to a query.
type Intent string

const (
	// IntentMedical marks an in-domain question.
	IntentMedical Intent = "medical"
	// IntentGeneral marks an out-of-domain question.
	IntentGeneral Intent = "general"
)

// ParseIntent converts a stored label into an Intent.
func ParseIntent(label string) (Intent, error) {
	switch Intent(label) {
	case IntentMedical, IntentGeneral:
		return Intent(label), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidIntent, label)
}

// Query is a single user request. It is created once at request entry and
// never modified afterwards.
type Query struct {
	Text           string
	UserID         string
	ConversationID string
}

// ConversationTurn is one persisted question/answer exchange.
// TurnIndex is assigned by the conversation store and grows by one per
// (UserID, ConversationID) pair.
type ConversationTurn struct {
	UserID         string
	ConversationID string
	TurnIndex      uint64
	Query          string
	Answer         string
	CreatedAt      time.Time
}

// KnowledgeChunk is one passage of the medical knowledge base together with
// the structured metadata carried into the answer context.
type KnowledgeChunk struct {
	Id             ID
	Content        string
	Category       string
	Recommendation string
	Description    string
	Vector         []float32 // Embedding vector (populated during indexing)
}

// KnowledgeHit is a knowledge chunk returned by a similarity search.
type KnowledgeHit struct {
	Chunk *KnowledgeChunk
	Score float32
}

// IntentExample is a labeled reference query used by the intent classifier.
type IntentExample struct {
	Id     ID
	Query  string
	Label  Intent
	Vector []float32
}

// IntentMatch is a reference query returned by a nearest-neighbor lookup.
type IntentMatch struct {
	Example *IntentExample
	Score   float32
}
