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

// Package intent routes a query to the medical or general branch by a
// nearest-neighbour vote over labelled reference queries.
package intent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/medrag/ai"
	"github.com/poiesic/medrag/core"
	"github.com/poiesic/medrag/storage"
)

// DefaultNeighbors is the number of reference queries consulted per vote.
const DefaultNeighbors = 5

// Classifier labels queries by majority vote of their nearest references.
type Classifier struct {
	embedder ai.Embedder
	index    storage.IntentIndex
	k        int
	logger   *slog.Logger
}

// Option configures a Classifier.
type Option func(*Classifier) error

// WithNeighbors sets how many reference queries vote.
// Default is DefaultNeighbors.
func WithNeighbors(k int) Option {
	return func(c *Classifier) error {
		if k <= 0 {
			return fmt.Errorf("%w: %d", ErrInvalidNeighbors, k)
		}
		c.k = k
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Classifier) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger.With("component", "intent")
		return nil
	}
}

// New creates a classifier over the given reference index.
func New(embedder ai.Embedder, index storage.IntentIndex, opts ...Option) (*Classifier, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if index == nil {
		return nil, ErrIndexRequired
	}
	c := &Classifier{
		embedder: embedder,
		index:    index,
		k:        DefaultNeighbors,
		logger:   slog.Default().With("component", "intent"),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Classify returns the majority label of the query's nearest references.
// Ties, empty neighbourhoods and any failure yield core.IntentMedical.
func (c *Classifier) Classify(ctx context.Context, text string) core.Intent {
	vec, err := c.embedder.EmbedText(ctx, text)
	if err != nil {
		c.logger.Warn("embedding failed, defaulting to medical", "err", err)
		return core.IntentMedical
	}

	matches, err := c.index.Nearest(ctx, vec, c.k)
	if err != nil {
		c.logger.Warn("reference lookup failed, defaulting to medical", "err", err)
		return core.IntentMedical
	}

	labels := make([]core.Intent, 0, len(matches))
	for _, m := range matches {
		if m != nil && m.Example != nil {
			labels = append(labels, m.Example.Label)
		}
	}
	result := Vote(labels)
	c.logger.Debug("classified query", "neighbors", len(labels), "intent", result)
	return result
}

// Vote returns IntentGeneral only when general labels strictly outnumber
// medical ones. Unknown labels do not count.
func Vote(labels []core.Intent) core.Intent {
	medical, general := 0, 0
	for _, l := range labels {
		switch l {
		case core.IntentMedical:
			medical++
		case core.IntentGeneral:
			general++
		}
	}
	if general > medical {
		return core.IntentGeneral
	}
	return core.IntentMedical
}
