package retrieval

import "errors"

var (
	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrKnowledgeIndexRequired is returned when a knowledge index is not provided.
	ErrKnowledgeIndexRequired = errors.New("knowledge index required")

	// ErrInvalidTopK is returned for non-positive top-K values.
	ErrInvalidTopK = errors.New("invalid top-k")

	// ErrInvalidWebBudget is returned for a non-positive page budget.
	ErrInvalidWebBudget = errors.New("invalid web budget")

	// ErrPathPanicked wraps a panic recovered inside a retrieval path.
	ErrPathPanicked = errors.New("retrieval path panicked")
)
