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

// Package orchestrator drives one request through intent classification,
// retrieval, bounded reflection, answering and persistence.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/medrag/answer"
	"github.com/poiesic/medrag/core"
	"github.com/poiesic/medrag/retrieval"
	"github.com/poiesic/medrag/storage"
)

const (
	// DefaultMaxRetries bounds RETRIEVE_MORE iterations.
	DefaultMaxRetries = 2
	// DefaultStepTimeout bounds the work of a single state.
	DefaultStepTimeout = 2 * time.Minute
)

// IntentClassifier routes a query to a branch.
type IntentClassifier interface {
	Classify(ctx context.Context, text string) core.Intent
}

// QueryStructurer rewrites a query into its structured form.
type QueryStructurer interface {
	Structure(ctx context.Context, text string) string
}

// Retriever gathers evidence for one pass.
type Retriever interface {
	Retrieve(ctx context.Context, query string, pass retrieval.Pass) []core.EvidenceItem
}

// Evaluator judges evidence sufficiency.
type Evaluator interface {
	Evaluate(ctx context.Context, structuredQuery, evidence string) core.Verdict
}

// Answerer produces the final reply.
type Answerer interface {
	Answer(ctx context.Context, query, evidence string, history []*core.ConversationTurn) string
	General(ctx context.Context, query string, history []*core.ConversationTurn) string
}

// Deps are the collaborators a Machine drives.
type Deps struct {
	Classifier    IntentClassifier
	Structurer    QueryStructurer
	Retriever     Retriever
	Evaluator     Evaluator
	Answerer      Answerer
	Conversations storage.ConversationStore
}

func (d Deps) validate() error {
	switch {
	case d.Classifier == nil:
		return ErrClassifierRequired
	case d.Structurer == nil:
		return ErrStructurerRequired
	case d.Retriever == nil:
		return ErrRetrieverRequired
	case d.Evaluator == nil:
		return ErrEvaluatorRequired
	case d.Answerer == nil:
		return ErrAnswererRequired
	case d.Conversations == nil:
		return ErrConversationStoreRequired
	}
	return nil
}

// Machine is the orchestration state machine. It holds no per-request
// state and is safe for concurrent use.
type Machine struct {
	deps        Deps
	assembler   answer.Assembler
	maxRetries  int
	stepTimeout time.Duration
	monitor     Monitor
	logger      *slog.Logger
}

// Option configures a Machine.
type Option func(*Machine) error

// WithMaxRetries sets the RETRIEVE_MORE bound. Negative values mean 0.
// Default is DefaultMaxRetries.
func WithMaxRetries(n int) Option {
	return func(m *Machine) error {
		m.maxRetries = max(n, 0)
		return nil
	}
}

// WithStepTimeout bounds each state's work. Zero disables the bound.
func WithStepTimeout(d time.Duration) Option {
	return func(m *Machine) error {
		if d < 0 {
			return fmt.Errorf("negative step timeout: %s", d)
		}
		m.stepTimeout = d
		return nil
	}
}

// WithAssembler sets the context assembler.
func WithAssembler(a answer.Assembler) Option {
	return func(m *Machine) error {
		m.assembler = a
		return nil
	}
}

// WithMonitor installs transition hooks.
func WithMonitor(monitor Monitor) Option {
	return func(m *Machine) error {
		if monitor == nil {
			monitor = &noopMonitor{}
		}
		m.monitor = monitor
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) error {
		if logger == nil {
			logger = slog.Default()
		}
		m.logger = logger.With("component", "orchestrator")
		return nil
	}
}

// New creates a machine over deps.
func New(deps Deps, opts ...Option) (*Machine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	m := &Machine{
		deps:        deps,
		assembler:   answer.NewAssembler(0, 0),
		maxRetries:  DefaultMaxRetries,
		stepTimeout: DefaultStepTimeout,
		monitor:     &noopMonitor{},
		logger:      slog.Default().With("component", "orchestrator"),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// MaxRetries returns the configured reflection bound.
func (m *Machine) MaxRetries() int {
	return m.maxRetries
}

// stepLimit is the longest legal path plus slack; reaching it means a
// transition bug, and the request is ended with whatever answer it has.
func (m *Machine) stepLimit() int {
	return 10 + 2*m.maxRetries
}

// Run drives q from START to END. Only query validation errors are
// returned; every later failure degrades into a valid session.
func (m *Machine) Run(ctx context.Context, q core.Query) (Session, error) {
	if err := core.ValidateQuery(q); err != nil {
		return Session{}, err
	}

	started := time.Now()
	s := newSession(q, m.maxRetries)
	m.logger.Info("request started", "user", q.UserID, "conversation", q.ConversationID)

	for s.State != StateEnd {
		if s.Steps >= m.stepLimit() {
			m.logger.Error("step limit reached, ending request", "state", s.State, "steps", s.Steps)
			if s.Answer == "" {
				s.Answer = answer.Apology
			}
			s = s.to(StateEnd)
			break
		}
		from := s.State
		s = m.step(ctx, s)
		m.monitor.Transition(from, s.State, s)
		m.logger.Debug("transition", "from", from, "to", s.State, "iteration", s.Iteration)
	}

	m.monitor.Finish(s)
	m.logger.Info("request finished",
		"intent", s.Intent,
		"iterations", s.Iteration,
		"evidence", s.Evidence.Len(),
		"degraded", len(s.Degraded),
		"elapsed", time.Since(started))
	return s, nil
}

// step runs the current state's work inside a boundary that turns errors
// and panics into the state's fallback successor.
func (m *Machine) step(ctx context.Context, s Session) Session {
	next, err := m.guarded(ctx, s)
	if err != nil {
		m.logger.Error("state failed, degrading", "state", s.State, "err", err)
		m.monitor.Degraded(s.State, err)
		next = m.degrade(s, err).withDegraded(s.State)
	}
	next.Steps = s.Steps + 1
	return next
}

func (m *Machine) guarded(ctx context.Context, s Session) (next Session, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", ErrStatePanicked, s.State, r)
		}
	}()

	if m.stepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.stepTimeout)
		defer cancel()
	}
	return m.handle(ctx, s)
}

func (m *Machine) handle(ctx context.Context, s Session) (Session, error) {
	switch s.State {
	case StateStart:
		return m.start(ctx, s)
	case StateClassifyIntent:
		return m.classify(ctx, s)
	case StateGeneralAnswer:
		return m.generalAnswer(ctx, s)
	case StateStructureQuery:
		return m.structure(ctx, s)
	case StateRetrieve:
		return m.retrieve(ctx, s)
	case StateReflect:
		return m.reflect(ctx, s)
	case StateRetrieveMore:
		return m.retrieveMore(ctx, s)
	case StateAnswer:
		return m.answer(ctx, s)
	case StatePersist:
		return m.persist(ctx, s)
	}
	return s, fmt.Errorf("%w: %q", ErrUnknownState, s.State)
}

// degrade returns the successor used when s.State's work failed.
func (m *Machine) degrade(s Session, _ error) Session {
	switch s.State {
	case StateStart:
		return s.withHistory(nil).to(StateClassifyIntent)
	case StateClassifyIntent:
		s.Intent = core.IntentMedical
		return s.to(StateStructureQuery)
	case StateGeneralAnswer, StateAnswer:
		s.Answer = answer.Apology
		return s.to(StatePersist)
	case StateStructureQuery:
		s.StructuredQuery = s.Query.Text
		return s.to(StateRetrieve)
	case StateRetrieve:
		return s.to(StateReflect)
	case StateReflect:
		s.Verdict = core.Verdict{Sufficient: false}
		return s.to(StateAnswer)
	case StateRetrieveMore:
		s.Iteration++
		return s.to(StateReflect)
	case StatePersist:
		return s.to(StateEnd)
	}
	if s.Answer == "" {
		s.Answer = answer.Apology
	}
	return s.to(StateEnd)
}

func (m *Machine) start(ctx context.Context, s Session) (Session, error) {
	history, err := m.deps.Conversations.GetHistory(ctx, s.Query.UserID, s.Query.ConversationID, m.assembler.HistoryWindow())
	if err != nil {
		return s, fmt.Errorf("load history: %w", err)
	}
	return s.withHistory(m.assembler.History(history)).to(StateClassifyIntent), nil
}

func (m *Machine) classify(ctx context.Context, s Session) (Session, error) {
	s.Intent = m.deps.Classifier.Classify(ctx, s.Query.Text)
	if s.Intent == core.IntentGeneral {
		return s.to(StateGeneralAnswer), nil
	}
	s.Intent = core.IntentMedical
	return s.to(StateStructureQuery), nil
}

func (m *Machine) generalAnswer(ctx context.Context, s Session) (Session, error) {
	s.Answer = m.deps.Answerer.General(ctx, s.Query.Text, s.History)
	return s.to(StatePersist), nil
}

func (m *Machine) structure(ctx context.Context, s Session) (Session, error) {
	s.StructuredQuery = m.deps.Structurer.Structure(ctx, s.Query.Text)
	if s.StructuredQuery == "" {
		s.StructuredQuery = s.Query.Text
	}
	return s.to(StateRetrieve), nil
}

func (m *Machine) retrieve(ctx context.Context, s Session) (Session, error) {
	items := m.deps.Retriever.Retrieve(ctx, s.StructuredQuery, retrieval.PassFirst)
	s.Evidence = s.Evidence.Append(items...)
	return s.to(StateReflect), nil
}

func (m *Machine) reflect(ctx context.Context, s Session) (Session, error) {
	s.Verdict = m.deps.Evaluator.Evaluate(ctx, s.StructuredQuery, m.assembler.RenderEvidence(s.Evidence))
	if s.Verdict.SummaryContext != "" {
		s.ContextOverride = s.Verdict.SummaryContext
	}
	if shouldAnswer(s.Verdict, s.Iteration, s.MaxRetries) {
		return s.to(StateAnswer), nil
	}
	return s.to(StateRetrieveMore), nil
}

func (m *Machine) retrieveMore(ctx context.Context, s Session) (Session, error) {
	query := s.followUpQuery()
	items := m.deps.Retriever.Retrieve(ctx, query, retrieval.PassFollowUp)
	s.Evidence = s.Evidence.Append(items...)
	// A summary written before this pass does not cover the new evidence.
	s.ContextOverride = ""
	s.Iteration++
	return s.to(StateReflect), nil
}

func (m *Machine) answer(ctx context.Context, s Session) (Session, error) {
	evidence := s.ContextOverride
	if evidence == "" {
		evidence = m.assembler.RenderEvidence(s.Evidence)
	}
	s.Answer = m.deps.Answerer.Answer(ctx, s.Query.Text, evidence, s.History)
	return s.to(StatePersist), nil
}

func (m *Machine) persist(ctx context.Context, s Session) (Session, error) {
	turn, err := m.deps.Conversations.SaveTurn(ctx, s.Query.UserID, s.Query.ConversationID, s.Query.Text, s.Answer)
	if err != nil {
		return s, fmt.Errorf("save turn: %w", err)
	}
	s.Turn = turn
	return s.to(StateEnd), nil
}
