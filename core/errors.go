package core

import "errors"

var (
	// ErrInvalidQuery indicates a Query failed validation.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrEmptyQueryText indicates the query text is empty.
	ErrEmptyQueryText = errors.New("query text cannot be empty")

	// ErrMissingUserID indicates the query has no user ID.
	ErrMissingUserID = errors.New("user id is required")

	// ErrMissingConversationID indicates the query has no conversation ID.
	ErrMissingConversationID = errors.New("conversation id is required")

	// ErrInvalidIntent indicates an unknown intent label.
	ErrInvalidIntent = errors.New("invalid intent label")

	// ErrInvalidChunk indicates a KnowledgeChunk failed validation.
	ErrInvalidChunk = errors.New("invalid knowledge chunk")

	// ErrInvalidExample indicates an IntentExample failed validation.
	ErrInvalidExample = errors.New("invalid intent example")

	// ErrEmptyContent indicates the content field is empty.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrMissingVector indicates an entity was stored without an embedding.
	ErrMissingVector = errors.New("embedding vector is required")
)
