// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package retrieval gathers candidate evidence for a query from the
// knowledge index and the web concurrently.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/medrag/ai"
	"github.com/poiesic/medrag/core"
	"github.com/poiesic/medrag/storage"
	"github.com/poiesic/medrag/websearch"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultFirstTopK is the vector hit count for the first pass.
	DefaultFirstTopK = 5
	// DefaultFollowUpTopK is the vector hit count for follow-up passes.
	DefaultFollowUpTopK = 3
	// DefaultWebBudget caps each fetched page, in characters, before it is
	// summarized or scored.
	DefaultWebBudget = 10000
)

// Pass distinguishes the initial retrieval from reflection follow-ups.
type Pass int

const (
	PassFirst Pass = iota
	PassFollowUp
)

func (p Pass) String() string {
	if p == PassFollowUp {
		return "follow-up"
	}
	return "first"
}

// WebSearcher finds and fetches pages for a query.
type WebSearcher interface {
	SearchURLs(ctx context.Context, query string) ([]string, error)
	FetchAll(ctx context.Context, urls []string) []websearch.Page
}

// Reranker orders and prunes merged candidates.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []core.EvidenceItem) []core.EvidenceItem
}

// Summarizer condenses web content for a follow-up query.
type Summarizer interface {
	Summarize(ctx context.Context, query, content string) string
}

// Coordinator runs the vector and web paths and merges their results.
type Coordinator struct {
	embedder     ai.Embedder
	knowledge    storage.KnowledgeIndex
	web          WebSearcher
	reranker     Reranker
	summarizer   Summarizer
	firstTopK    int
	followUpTopK int
	webBudget    int
	logger       *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator) error

// WithWebSearcher enables the web path.
func WithWebSearcher(web WebSearcher) Option {
	return func(c *Coordinator) error {
		c.web = web
		return nil
	}
}

// WithReranker reranks each pass's merged candidates.
// Without one, candidates are returned in path order.
func WithReranker(r Reranker) Option {
	return func(c *Coordinator) error {
		c.reranker = r
		return nil
	}
}

// WithSummarizer condenses web pages fetched on follow-up passes.
func WithSummarizer(s Summarizer) Option {
	return func(c *Coordinator) error {
		c.summarizer = s
		return nil
	}
}

// WithTopK sets the vector hit counts for first and follow-up passes.
func WithTopK(first, followUp int) Option {
	return func(c *Coordinator) error {
		if first <= 0 || followUp <= 0 {
			return fmt.Errorf("%w: first=%d follow-up=%d", ErrInvalidTopK, first, followUp)
		}
		c.firstTopK = first
		c.followUpTopK = followUp
		return nil
	}
}

// WithWebBudget caps the characters kept from each fetched page.
// Default is DefaultWebBudget.
func WithWebBudget(budget int) Option {
	return func(c *Coordinator) error {
		if budget <= 0 {
			return fmt.Errorf("%w: %d", ErrInvalidWebBudget, budget)
		}
		c.webBudget = budget
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger.With("component", "retrieval")
		return nil
	}
}

// New creates a coordinator over the knowledge index.
func New(embedder ai.Embedder, knowledge storage.KnowledgeIndex, opts ...Option) (*Coordinator, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if knowledge == nil {
		return nil, ErrKnowledgeIndexRequired
	}
	c := &Coordinator{
		embedder:     embedder,
		knowledge:    knowledge,
		firstTopK:    DefaultFirstTopK,
		followUpTopK: DefaultFollowUpTopK,
		webBudget:    DefaultWebBudget,
		logger:       slog.Default().With("component", "retrieval"),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Retrieve runs both paths concurrently and joins them. A failing path
// contributes nothing; the other path's results are still returned. The
// merged list holds vector items before web items and is reranked against
// query when a reranker is configured.
func (c *Coordinator) Retrieve(ctx context.Context, query string, pass Pass) []core.EvidenceItem {
	var vectorItems, webItems []core.EvidenceItem

	var g errgroup.Group
	g.Go(func() error {
		items, err := c.vectorPath(ctx, query, c.topK(pass))
		if err != nil {
			c.logger.Warn("vector path failed", "pass", pass, "err", err)
			return nil
		}
		vectorItems = items
		return nil
	})
	if c.web != nil {
		g.Go(func() error {
			items, err := c.webPath(ctx, query, pass)
			if err != nil {
				c.logger.Warn("web path failed", "pass", pass, "err", err)
				return nil
			}
			webItems = items
			return nil
		})
	}
	_ = g.Wait()

	merged := make([]core.EvidenceItem, 0, len(vectorItems)+len(webItems))
	merged = append(merged, vectorItems...)
	merged = append(merged, webItems...)

	c.logger.Debug("retrieved candidates", "pass", pass, "vector", len(vectorItems), "web", len(webItems))
	if c.reranker != nil && len(merged) > 0 {
		merged = c.reranker.Rerank(ctx, query, merged)
	}
	return merged
}

func (c *Coordinator) topK(pass Pass) int {
	if pass == PassFollowUp {
		return c.followUpTopK
	}
	return c.firstTopK
}

// vectorPath recovers from panics in collaborators so one path can never
// take down the join.
func (c *Coordinator) vectorPath(ctx context.Context, query string, topK int) (items []core.EvidenceItem, err error) {
	defer recoverPath(&err)

	vec, err := c.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := c.knowledge.Search(ctx, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("knowledge search: %w", err)
	}
	for _, hit := range hits {
		if hit == nil || hit.Chunk == nil {
			continue
		}
		items = append(items, core.VectorEvidence(hit))
	}
	return items, nil
}

func (c *Coordinator) webPath(ctx context.Context, query string, pass Pass) (items []core.EvidenceItem, err error) {
	defer recoverPath(&err)

	urls, err := c.web.SearchURLs(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(urls) == 0 {
		return nil, nil
	}
	for _, page := range c.web.FetchAll(ctx, urls) {
		if !page.Success || page.Text == "" {
			continue
		}
		text := core.TruncateRunes(page.Text, c.webBudget)
		if pass == PassFollowUp && c.summarizer != nil {
			text = c.summarizer.Summarize(ctx, query, text)
		}
		items = append(items, core.WebEvidence(page.URL, text))
	}
	return items, nil
}

func recoverPath(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %v", ErrPathPanicked, r)
	}
}
