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

package ingestion

import (
	"context"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/medrag/ai"
	"github.com/poiesic/medrag/core"
	"github.com/poiesic/medrag/storage"
)

const (
	// DefaultBatchSize is the number of texts embedded per request.
	DefaultBatchSize = 32
	// DefaultRetryAttempts is how many times a failed embedding request is tried.
	DefaultRetryAttempts = 3
	// DefaultRetryDelay is the wait before the first retry; it doubles after each.
	DefaultRetryDelay = 500 * time.Millisecond
)

// DefaultPoolSize is half the CPU count, with a minimum of 1.
func DefaultPoolSize() int {
	return max(runtime.NumCPU()/2, 1)
}

// Stats summarizes one indexing run.
type Stats struct {
	Rows    int // data rows read
	Skipped int // rows that produced nothing to index
	Chunks  int // records built from rows
	Indexed int // records embedded and stored
	Failed  int // records in batches that failed
}

// Pipeline embeds knowledge chunks and intent examples in batches on a
// worker pool and stores them in their indexes.
type Pipeline struct {
	knowledge storage.KnowledgeIndex
	intents   storage.IntentIndex
	embedder  ai.Embedder
	pool      *ants.Pool
	batchSize int
	attempts  int
	delay     time.Duration
	progress  io.Writer
	logger    *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the worker pool size for concurrent batches.
// Default is DefaultPoolSize().
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		if p.pool != nil {
			p.pool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		p.pool = pool
		return nil
	}
}

// WithBatchSize sets how many texts are embedded per request.
// Default is DefaultBatchSize.
func WithBatchSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			return ErrInvalidBatchSize
		}
		p.batchSize = size
		return nil
	}
}

// WithRetries sets how many times an embedding request is attempted and the
// initial backoff between attempts.
// Default is DefaultRetryAttempts and DefaultRetryDelay.
func WithRetries(attempts int, baseDelay time.Duration) Option {
	return func(p *Pipeline) error {
		if attempts < 1 {
			return ErrInvalidRetries
		}
		p.attempts = attempts
		p.delay = baseDelay
		return nil
	}
}

// WithProgress prints a progress line to w as batches complete.
func WithProgress(w io.Writer) Option {
	return func(p *Pipeline) error {
		p.progress = w
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger.With("component", "ingestion")
		return nil
	}
}

// NewPipeline creates an indexing pipeline. Either index may be nil if the
// caller only indexes into the other.
func NewPipeline(knowledge storage.KnowledgeIndex, intents storage.IntentIndex, embedder ai.Embedder, opts ...Option) (*Pipeline, error) {
	if knowledge == nil && intents == nil {
		return nil, ErrIndexRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	pool, err := ants.NewPool(DefaultPoolSize())
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		knowledge: knowledge,
		intents:   intents,
		embedder:  embedder,
		pool:      pool,
		batchSize: DefaultBatchSize,
		attempts:  DefaultRetryAttempts,
		delay:     DefaultRetryDelay,
		logger:    slog.Default().With("component", "ingestion"),
	}
	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}
	return p, nil
}

// Release releases the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}

// IndexKnowledge embeds and stores chunks. Failed batches are logged and
// counted; the run continues with the remaining batches.
func (p *Pipeline) IndexKnowledge(ctx context.Context, chunks []*core.KnowledgeChunk) (indexed, failed int, err error) {
	if p.knowledge == nil {
		return 0, 0, ErrIndexRequired
	}
	indexed, failed = runBatches(ctx, p, chunks,
		func(c *core.KnowledgeChunk) string { return c.Content },
		func(ctx context.Context, batch []*core.KnowledgeChunk, vectors [][]float32) error {
			for i := range batch {
				batch[i].Vector = vectors[i]
			}
			return p.knowledge.Insert(ctx, batch...)
		})
	return indexed, failed, nil
}

// IndexIntents embeds and stores labelled reference queries.
func (p *Pipeline) IndexIntents(ctx context.Context, examples []*core.IntentExample) (indexed, failed int, err error) {
	if p.intents == nil {
		return 0, 0, ErrIndexRequired
	}
	indexed, failed = runBatches(ctx, p, examples,
		func(e *core.IntentExample) string { return e.Query },
		func(ctx context.Context, batch []*core.IntentExample, vectors [][]float32) error {
			for i := range batch {
				batch[i].Vector = vectors[i]
			}
			return p.intents.Insert(ctx, batch...)
		})
	return indexed, failed, nil
}

// runBatches splits items into batches, embeds each batch on the pool and
// hands it to store. It returns how many items were stored and how many
// were lost to failed batches.
func runBatches[T any](ctx context.Context, p *Pipeline, items []T,
	text func(T) string,
	store func(ctx context.Context, batch []T, vectors [][]float32) error,
) (int, int) {
	var indexed, failed atomic.Int64
	var wg sync.WaitGroup
	tracker := newProgress(p.progress, len(items))

	for start := 0; start < len(items); start += p.batchSize {
		batch := items[start:min(start+p.batchSize, len(items))]
		wg.Add(1)
		task := func() {
			defer wg.Done()
			defer tracker.add(len(batch))
			if err := processBatch(ctx, p.embedWithRetry, batch, text, store); err != nil {
				p.logger.Error("error indexing batch", "offset", start, "size", len(batch), "err", err)
				failed.Add(int64(len(batch)))
				return
			}
			indexed.Add(int64(len(batch)))
		}
		if err := p.pool.Submit(task); err != nil {
			p.logger.Warn("pool unavailable, indexing batch inline", "err", err)
			task()
		}
	}
	wg.Wait()
	tracker.finish()
	return int(indexed.Load()), int(failed.Load())
}

// embedWithRetry embeds texts, retrying failed requests with backoff.
func (p *Pipeline) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32
	err := retryWithBackoff(ctx, p.logger, p.attempts, p.delay, func() error {
		var err error
		vectors, err = p.embedder.EmbedTexts(ctx, texts)
		return err
	})
	return vectors, err
}
