package core

import (
	"fmt"
	"strings"
)

func ValidateQuery(q Query) error {
	if strings.TrimSpace(q.Text) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidQuery, ErrEmptyQueryText)
	}
	if strings.TrimSpace(q.UserID) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidQuery, ErrMissingUserID)
	}
	if strings.TrimSpace(q.ConversationID) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidQuery, ErrMissingConversationID)
	}
	return nil
}

func ValidateKnowledgeChunk(chunk *KnowledgeChunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: chunk is nil", ErrInvalidChunk)
	}
	if chunk.Content == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrEmptyContent)
	}
	if len(chunk.Vector) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrMissingVector)
	}
	return nil
}

func ValidateIntentExample(example *IntentExample) error {
	if example == nil {
		return fmt.Errorf("%w: example is nil", ErrInvalidExample)
	}
	if example.Query == "" {
		return fmt.Errorf("%w: %w", ErrInvalidExample, ErrEmptyContent)
	}
	if _, err := ParseIntent(string(example.Label)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidExample, err)
	}
	if len(example.Vector) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidExample, ErrMissingVector)
	}
	return nil
}
