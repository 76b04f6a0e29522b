package mock

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/poiesic/medrag/ai"
)

// MockGenerator is a test double for ai.Generator.
type MockGenerator struct {
	// GenerateFunc is called by Generate if set.
	// If nil, uses default behavior per prompt kind.
	GenerateFunc func(ctx context.Context, kind ai.PromptKind, args ai.PromptArgs) (string, error)

	mu    sync.Mutex
	calls []ai.PromptKind
}

var _ ai.Generator = (*MockGenerator)(nil)

// NewMockGenerator creates a mock generator with default behavior.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{}
}

// WithGenerateFunc sets GenerateFunc and returns the mock for chaining.
func (m *MockGenerator) WithGenerateFunc(fn func(ctx context.Context, kind ai.PromptKind, args ai.PromptArgs) (string, error)) *MockGenerator {
	m.GenerateFunc = fn
	return m
}

// Generate records the call and returns canned output.
//
// Defaults: structure echoes the query as structured_query, reflect reports
// sufficient, summary echoes the evidence, answer and general prefix the query.
func (m *MockGenerator) Generate(ctx context.Context, kind ai.PromptKind, args ai.PromptArgs) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, kind)
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, kind, args)
	}

	switch kind {
	case ai.PromptStructure:
		bs, _ := json.Marshal(map[string]string{"structured_query": args.Query})
		return string(bs), nil
	case ai.PromptReflect:
		return `{"sufficient": true, "follow_up_query": ""}`, nil
	case ai.PromptSummary:
		return args.Evidence, nil
	case ai.PromptGeneral:
		return "general: " + args.Query, nil
	default:
		return "answer: " + args.Query, nil
	}
}

// Calls returns the prompt kinds requested so far, in order.
func (m *MockGenerator) Calls() []ai.PromptKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ai.PromptKind(nil), m.calls...)
}

// CallCount returns how many times kind was requested.
func (m *MockGenerator) CallCount(kind ai.PromptKind) int {
	n := 0
	for _, k := range m.Calls() {
		if k == kind {
			n++
		}
	}
	return n
}

// Reset clears recorded calls and injected behavior.
func (m *MockGenerator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.GenerateFunc = nil
}
