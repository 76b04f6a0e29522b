// Package mock provides test double implementations of AI service interfaces.
//
// This package contains mock implementations of ai.Embedder, ai.Generator,
// ai.RelevanceJudge and ai.AIProvider for use in unit tests. The mocks run
// without external services and are safe for concurrent use.
//
// # Usage in Tests
//
//	// Basic usage with default behavior
//	mockProvider := mock.NewMockProvider()
//	vec, err := mockProvider.Embedder().EmbedText(ctx, "test")
//
//	// Custom behavior injection
//	gen := mock.NewMockGenerator().
//	    WithGenerateFunc(func(ctx context.Context, kind ai.PromptKind, args ai.PromptArgs) (string, error) {
//	        return `{"sufficient": false, "follow_up_query": "dosage"}`, nil
//	    })
//
//	// Check calls
//	n := gen.CallCount(ai.PromptReflect)
//
// # Default Behavior
//
//   - MockEmbedder: deterministic unit vectors based on text hash
//   - MockGenerator: echoes the query as structured query, reports evidence as sufficient
//   - MockRelevanceJudge: fraction of query words found in each document
package mock
