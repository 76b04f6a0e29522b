// Package ai provides abstractions for the model services used by medrag.
//
// Three collaborator contracts are defined here:
//
//   - Embedder: turns text into vectors for the knowledge and intent indexes
//   - Generator: renders one of the fixed prompt kinds and returns model text
//   - RelevanceJudge: scores (query, document) pairs for the reranker
//
// AIProvider bundles the three so callers can initialize and close them together.
//
// # Implementation Packages
//
//   - ai/openai: production implementation over OpenAI-compatible APIs (langchaingo)
//   - ai/mock: test doubles with injectable behavior and call counters
//
// Public constructors in ai/openai return interface types. Mock constructors
// return concrete types so tests can inject behavior and inspect call counts.
//
// # Usage Example
//
//	config := ai.NewConfig(ai.WithHost("http://localhost:11434"))
//	provider, err := openai.NewProvider(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	vec, err := provider.Embedder().EmbedText(ctx, "meloxicam for arthritis")
//	out, err := provider.Generator().Generate(ctx, ai.PromptStructure, ai.PromptArgs{Query: q})
package ai
