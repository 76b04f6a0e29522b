package ai

import (
	"context"

	"github.com/poiesic/medrag/core"
)

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	// Returns an error if the embedding generation fails.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// The returned slice contains embeddings in the same order as the input texts.
	// Returns an error if any embedding generation fails.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator produces text for one of the fixed prompt kinds.
// Implementations must be thread-safe for concurrent use.
type Generator interface {
	// Generate renders the prompt for kind from args and returns the raw
	// model output. JSON prompt kinds return the JSON text with any markdown
	// fences removed; parsing is left to the caller.
	Generate(ctx context.Context, kind PromptKind, args PromptArgs) (string, error)
}

// RelevanceJudge scores how relevant each document is to a query.
// Implementations must be thread-safe for concurrent use.
type RelevanceJudge interface {
	// Score returns one probability in [0,1] per document, in input order.
	Score(ctx context.Context, query string, documents []string) ([]float64, error)
}

// PromptKind names a generation contract.
type PromptKind string

const (
	// PromptStructure extracts {"structured_query": string} from the original query.
	PromptStructure PromptKind = "structure"
	// PromptReflect judges evidence sufficiency as
	// {"sufficient": bool, "follow_up_query": string, "summary_context"?: string}.
	PromptReflect PromptKind = "reflect"
	// PromptSummary condenses web content for a follow-up query. Free text.
	PromptSummary PromptKind = "summary"
	// PromptAnswer answers from assembled context and recent history. Free text.
	PromptAnswer PromptKind = "answer"
	// PromptGeneral answers an out-of-domain question from history only. Free text.
	PromptGeneral PromptKind = "general"
)

// IsJSON reports whether the prompt kind expects a JSON object back.
func (k PromptKind) IsJSON() bool {
	return k == PromptStructure || k == PromptReflect
}

// PromptArgs carries the inputs a prompt kind may reference.
// Unused fields are ignored.
type PromptArgs struct {
	Query           string
	StructuredQuery string
	Evidence        string
	Context         string
	History         []*core.ConversationTurn
}

// AIProvider aggregates AI services for convenient initialization and lifecycle management.
type AIProvider interface {
	// Embedder returns the text embedding service.
	Embedder() Embedder

	// Generator returns the generative judge/answerer.
	Generator() Generator

	// RelevanceJudge returns the relevance scoring service used by the reranker.
	RelevanceJudge() RelevanceJudge

	// Close releases resources held by the provider and its services.
	// After Close is called, the provider and its services should not be used.
	Close() error
}
