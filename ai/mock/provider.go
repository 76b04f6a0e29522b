package mock

import "github.com/poiesic/medrag/ai"

// MockProvider is a test double for ai.AIProvider.
// It aggregates the mock embedder, generator and relevance judge.
type MockProvider struct {
	embedder  *MockEmbedder
	generator *MockGenerator
	judge     *MockRelevanceJudge
}

// NewMockProvider creates a new mock provider with default mock services.
//
// Returns ai.AIProvider interface for consistency with production constructors.
// Use the GetMock* methods to access concrete types for test assertions.
func NewMockProvider() ai.AIProvider {
	return &MockProvider{
		embedder:  NewMockEmbedder(),
		generator: NewMockGenerator(),
		judge:     NewMockRelevanceJudge(),
	}
}

// NewMockProviderWithServices creates a mock provider with custom mock services.
// Nil arguments are replaced with default mocks.
func NewMockProviderWithServices(embedder *MockEmbedder, generator *MockGenerator, judge *MockRelevanceJudge) ai.AIProvider {
	if embedder == nil {
		embedder = NewMockEmbedder()
	}
	if generator == nil {
		generator = NewMockGenerator()
	}
	if judge == nil {
		judge = NewMockRelevanceJudge()
	}
	return &MockProvider{
		embedder:  embedder,
		generator: generator,
		judge:     judge,
	}
}

// Embedder returns the mock embedder.
func (p *MockProvider) Embedder() ai.Embedder {
	return p.embedder
}

// Generator returns the mock generator.
func (p *MockProvider) Generator() ai.Generator {
	return p.generator
}

// RelevanceJudge returns the mock relevance judge.
func (p *MockProvider) RelevanceJudge() ai.RelevanceJudge {
	return p.judge
}

// Close is a no-op for mock provider.
func (p *MockProvider) Close() error {
	return nil
}

// GetMockEmbedder returns the underlying mock embedder for test assertions.
func (p *MockProvider) GetMockEmbedder() *MockEmbedder {
	return p.embedder
}

// GetMockGenerator returns the underlying mock generator for test assertions.
func (p *MockProvider) GetMockGenerator() *MockGenerator {
	return p.generator
}

// GetMockJudge returns the underlying mock relevance judge for test assertions.
func (p *MockProvider) GetMockJudge() *MockRelevanceJudge {
	return p.judge
}
