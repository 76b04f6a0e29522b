package orchestrator

import "errors"

var (
	// ErrClassifierRequired is returned when an intent classifier is not provided.
	ErrClassifierRequired = errors.New("intent classifier required")

	// ErrStructurerRequired is returned when a query structurer is not provided.
	ErrStructurerRequired = errors.New("query structurer required")

	// ErrRetrieverRequired is returned when a retriever is not provided.
	ErrRetrieverRequired = errors.New("retriever required")

	// ErrEvaluatorRequired is returned when a reflection evaluator is not provided.
	ErrEvaluatorRequired = errors.New("reflection evaluator required")

	// ErrAnswererRequired is returned when an answerer is not provided.
	ErrAnswererRequired = errors.New("answerer required")

	// ErrConversationStoreRequired is returned when a conversation store is not provided.
	ErrConversationStoreRequired = errors.New("conversation store required")

	// ErrStatePanicked wraps a panic recovered at a state boundary.
	ErrStatePanicked = errors.New("state panicked")

	// ErrUnknownState is returned for a state with no handler.
	ErrUnknownState = errors.New("unknown state")
)
