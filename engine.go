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

// Package medrag answers user questions with an agentic retrieval loop:
// classify the intent, restructure the query, gather evidence from a
// vector index and the web, reflect on its sufficiency, and answer.
package medrag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/medrag/ai"
	"github.com/poiesic/medrag/ai/openai"
	"github.com/poiesic/medrag/answer"
	"github.com/poiesic/medrag/core"
	"github.com/poiesic/medrag/ingestion"
	"github.com/poiesic/medrag/intent"
	"github.com/poiesic/medrag/orchestrator"
	"github.com/poiesic/medrag/reflection"
	"github.com/poiesic/medrag/rerank"
	"github.com/poiesic/medrag/retrieval"
	"github.com/poiesic/medrag/storage"
	"github.com/poiesic/medrag/storage/badger"
	"github.com/poiesic/medrag/storage/milvus"
	"github.com/poiesic/medrag/storage/postgres"
	"github.com/poiesic/medrag/structurer"
	"github.com/poiesic/medrag/websearch"
)

// Storage backend names.
const (
	BackendBadger   = "badger"
	BackendMilvus   = "milvus"
	BackendPostgres = "postgres"
)

// Config selects the storage backends and tunes the retrieval loop.
type Config struct {
	// AI configures the OpenAI-compatible provider. Ignored when a provider
	// is passed with WithProvider.
	AI *ai.Config

	// IndexBackend stores knowledge chunks and intent references: badger or milvus.
	IndexBackend string
	// ConversationBackend stores conversation turns: badger or postgres.
	ConversationBackend string

	// DataDir is the badger directory. Empty keeps badger in memory.
	DataDir string

	MilvusAddress  string
	MilvusUsername string
	MilvusPassword string
	// EmbeddingDimension sizes the Milvus collections. Zero detects it from the embedder.
	EmbeddingDimension int

	PostgresDSN string

	MaxRetries      int
	TopKFirst       int
	TopKFollowUp    int
	RerankTopK      int
	IntentNeighbors int
	HistoryWindow   int
	WebBudget       int // per-page character budget for web evidence
	StepTimeout     time.Duration

	// DisableWeb turns off the web search path.
	DisableWeb bool
	Web        websearch.Config

	// PoolSize bounds concurrent embedding batches during indexing.
	PoolSize int
}

// DefaultConfig returns a Config that keeps everything in an in-memory
// badger store and talks to a local OpenAI-compatible service.
func DefaultConfig() Config {
	return Config{
		AI:                  ai.DefaultConfig(),
		IndexBackend:        BackendBadger,
		ConversationBackend: BackendBadger,
		MaxRetries:          orchestrator.DefaultMaxRetries,
		TopKFirst:           retrieval.DefaultFirstTopK,
		TopKFollowUp:        retrieval.DefaultFollowUpTopK,
		RerankTopK:          rerank.DefaultTopK,
		IntentNeighbors:     intent.DefaultNeighbors,
		HistoryWindow:       answer.DefaultHistoryWindow,
		WebBudget:           answer.DefaultWebBudget,
		StepTimeout:         orchestrator.DefaultStepTimeout,
		Web:                 websearch.DefaultConfig(),
		PoolSize:            ingestion.DefaultPoolSize(),
	}
}

// withDefaults fills unset retrieval knobs. MaxRetries and RerankTopK
// keep their zero values, which are meaningful.
func (c Config) withDefaults() Config {
	if c.TopKFirst <= 0 {
		c.TopKFirst = retrieval.DefaultFirstTopK
	}
	if c.TopKFollowUp <= 0 {
		c.TopKFollowUp = retrieval.DefaultFollowUpTopK
	}
	if c.IntentNeighbors <= 0 {
		c.IntentNeighbors = intent.DefaultNeighbors
	}
	if c.WebBudget <= 0 {
		c.WebBudget = answer.DefaultWebBudget
	}
	if c.PoolSize <= 0 {
		c.PoolSize = ingestion.DefaultPoolSize()
	}
	return c
}

// Result is the reply to one query.
type Result struct {
	Answer     string
	Intent     core.Intent
	Turn       uint64 // persisted turn index, 0 if the turn was not stored
	Iterations int    // follow-up retrieval passes performed
}

// Option configures an Engine.
type Option func(*Engine) error

// WithProvider uses provider instead of building one from Config.AI.
// The engine does not close a provider passed this way.
func WithProvider(provider ai.AIProvider) Option {
	return func(e *Engine) error {
		if provider == nil {
			return ErrProviderRequired
		}
		e.provider = provider
		return nil
	}
}

// WithWebSearcher replaces the built-in web search client.
func WithWebSearcher(web retrieval.WebSearcher) Option {
	return func(e *Engine) error {
		e.web = web
		return nil
	}
}

// WithMonitor observes state machine transitions.
func WithMonitor(monitor orchestrator.Monitor) Option {
	return func(e *Engine) error {
		e.monitor = monitor
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger
		return nil
	}
}

// Engine owns the stores, AI provider and state machine that answer queries.
type Engine struct {
	config   Config
	provider ai.AIProvider
	web      retrieval.WebSearcher
	monitor  orchestrator.Monitor
	logger   *slog.Logger

	conversations storage.ConversationStore
	knowledge     storage.KnowledgeIndex
	intents       storage.IntentIndex
	health        map[string]storage.HealthChecker
	closers       []func() error

	machine *orchestrator.Machine
}

// Open builds an Engine from cfg. Resources acquired before a failure are
// released before returning.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Engine, error) {
	e := &Engine{
		config: cfg.withDefaults(),
		logger: slog.Default(),
		health: make(map[string]storage.HealthChecker),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	if err := e.open(ctx); err != nil {
		if closeErr := e.Close(); closeErr != nil {
			e.logger.Error("error releasing resources after failed open", "err", closeErr)
		}
		return nil, err
	}
	return e, nil
}

func (e *Engine) open(ctx context.Context) error {
	if e.provider == nil {
		if e.config.AI == nil {
			e.config.AI = ai.DefaultConfig()
		}
		provider, err := openai.NewProvider(e.config.AI)
		if err != nil {
			return fmt.Errorf("failed to create AI provider: %w", err)
		}
		e.provider = provider
		e.closers = append(e.closers, provider.Close)
	}

	if err := e.openStores(ctx); err != nil {
		return err
	}
	if e.web == nil && !e.config.DisableWeb {
		client, err := websearch.NewClient(e.config.Web, websearch.WithLogger(e.logger))
		if err != nil {
			return fmt.Errorf("failed to create web search client: %w", err)
		}
		e.web = client
		e.closers = append(e.closers, func() error { client.Release(); return nil })
	}
	return e.buildMachine()
}

func (e *Engine) openStores(ctx context.Context) error {
	var backend *badger.Backend
	openBadger := func() (*badger.Backend, error) {
		if backend != nil {
			return backend, nil
		}
		b, err := badger.OpenBackend(e.config.DataDir, e.config.DataDir == "")
		if err != nil {
			return nil, fmt.Errorf("failed to open badger: %w", err)
		}
		backend = b
		e.closers = append(e.closers, b.Close)
		return b, nil
	}

	switch e.config.IndexBackend {
	case "", BackendBadger:
		b, err := openBadger()
		if err != nil {
			return err
		}
		e.knowledge = badger.NewKnowledgeIndex(b)
		e.intents = badger.NewIntentIndex(b)
	case BackendMilvus:
		client, err := e.openMilvus(ctx)
		if err != nil {
			return err
		}
		e.knowledge = milvus.NewKnowledgeIndex(client)
		e.intents = milvus.NewIntentIndex(client)
		e.health[BackendMilvus] = client
	default:
		return fmt.Errorf("%w: index backend %q", ErrUnknownBackend, e.config.IndexBackend)
	}

	switch e.config.ConversationBackend {
	case "", BackendBadger:
		b, err := openBadger()
		if err != nil {
			return err
		}
		store := badger.NewConversationStore(b)
		e.conversations = store
		e.health[BackendBadger] = store
	case BackendPostgres:
		if e.config.PostgresDSN == "" {
			return ErrPostgresDSNRequired
		}
		store, err := postgres.Open(ctx, e.config.PostgresDSN)
		if err != nil {
			return err
		}
		e.conversations = store
		e.health[BackendPostgres] = store
		e.closers = append(e.closers, store.Close)
	default:
		return fmt.Errorf("%w: conversation backend %q", ErrUnknownBackend, e.config.ConversationBackend)
	}
	return nil
}

func (e *Engine) openMilvus(ctx context.Context) (*milvus.Client, error) {
	dim := e.config.EmbeddingDimension
	if dim <= 0 {
		sample, err := e.provider.Embedder().EmbedText(ctx, "dimension check")
		if err != nil {
			return nil, fmt.Errorf("failed to detect embedding dimension: %w", err)
		}
		dim = len(sample)
		e.logger.Info("detected embedding dimension", "dimension", dim)
	}

	client, err := milvus.NewClient(ctx, milvus.Config{
		Address:   e.config.MilvusAddress,
		Username:  e.config.MilvusUsername,
		Password:  e.config.MilvusPassword,
		Dimension: dim,
	})
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, client.Close)
	if err := client.EnsureCollections(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

func (e *Engine) buildMachine() error {
	logger := e.logger
	embedder := e.provider.Embedder()
	generator := e.provider.Generator()

	classifier, err := intent.New(embedder, e.intents,
		intent.WithNeighbors(e.config.IntentNeighbors), intent.WithLogger(logger))
	if err != nil {
		return err
	}
	structure, err := structurer.New(generator, structurer.WithLogger(logger))
	if err != nil {
		return err
	}
	evaluator, err := reflection.New(generator, reflection.WithLogger(logger))
	if err != nil {
		return err
	}
	reranker, err := rerank.New(e.provider.RelevanceJudge(),
		rerank.WithTopK(e.config.RerankTopK), rerank.WithLogger(logger))
	if err != nil {
		return err
	}

	retrievalOpts := []retrieval.Option{
		retrieval.WithReranker(reranker),
		retrieval.WithSummarizer(evaluator),
		retrieval.WithTopK(e.config.TopKFirst, e.config.TopKFollowUp),
		retrieval.WithWebBudget(e.config.WebBudget),
		retrieval.WithLogger(logger),
	}
	if e.web != nil {
		retrievalOpts = append(retrievalOpts, retrieval.WithWebSearcher(e.web))
	}
	retriever, err := retrieval.New(embedder, e.knowledge, retrievalOpts...)
	if err != nil {
		return err
	}

	answerer, err := answer.NewAnswerer(generator, answer.WithLogger(logger))
	if err != nil {
		return err
	}

	machineOpts := []orchestrator.Option{
		orchestrator.WithMaxRetries(e.config.MaxRetries),
		orchestrator.WithAssembler(answer.NewAssembler(e.config.WebBudget, e.config.HistoryWindow)),
		orchestrator.WithLogger(logger),
	}
	if e.config.StepTimeout > 0 {
		machineOpts = append(machineOpts, orchestrator.WithStepTimeout(e.config.StepTimeout))
	}
	if e.monitor != nil {
		machineOpts = append(machineOpts, orchestrator.WithMonitor(e.monitor))
	}

	e.machine, err = orchestrator.New(orchestrator.Deps{
		Classifier:    classifier,
		Structurer:    structure,
		Retriever:     retriever,
		Evaluator:     evaluator,
		Answerer:      answerer,
		Conversations: e.conversations,
	}, machineOpts...)
	return err
}

// Answer runs one query through the retrieval loop. The only error
// returned is a wrapped core.ErrInvalidQuery; every other failure is
// absorbed into a degraded answer.
func (e *Engine) Answer(ctx context.Context, query, userID, conversationID string) (*Result, error) {
	s, err := e.machine.Run(ctx, core.Query{
		Text:           query,
		UserID:         userID,
		ConversationID: conversationID,
	})
	if err != nil {
		return nil, err
	}
	result := &Result{
		Answer:     s.Answer,
		Intent:     s.Intent,
		Iterations: s.Iteration,
	}
	if s.Turn != nil {
		result.Turn = s.Turn.TurnIndex
	}
	return result, nil
}

// History returns up to limit recent turns of a conversation, oldest first.
func (e *Engine) History(ctx context.Context, userID, conversationID string, limit int) ([]*core.ConversationTurn, error) {
	return e.conversations.GetHistory(ctx, userID, conversationID, limit)
}

func (e *Engine) newPipeline() (*ingestion.Pipeline, error) {
	return ingestion.NewPipeline(e.knowledge, e.intents, e.provider.Embedder(),
		ingestion.WithPoolSize(e.config.PoolSize), ingestion.WithLogger(e.logger))
}

// IndexKnowledge reads a knowledge CSV and indexes its chunks.
func (e *Engine) IndexKnowledge(ctx context.Context, r io.Reader) (ingestion.Stats, error) {
	p, err := e.newPipeline()
	if err != nil {
		return ingestion.Stats{}, err
	}
	defer p.Release()
	return p.IndexKnowledgeCSV(ctx, r)
}

// IndexIntents reads an intent reference CSV and indexes its examples.
func (e *Engine) IndexIntents(ctx context.Context, r io.Reader) (ingestion.Stats, error) {
	p, err := e.newPipeline()
	if err != nil {
		return ingestion.Stats{}, err
	}
	defer p.Release()
	return p.IndexIntentsCSV(ctx, r)
}

// Health checks every storage backend and joins their failures.
func (e *Engine) Health(ctx context.Context) error {
	var errs []error
	for name, checker := range e.health {
		if err := checker.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Close releases everything Open acquired, most recent first.
func (e *Engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.logger.Error("error closing engine resource", "err", err)
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}
