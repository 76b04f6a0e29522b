package orchestrator

import (
	"slices"

	"github.com/poiesic/medrag/core"
)

// State names a node of the orchestration graph.
type State string

const (
	StateStart          State = "START"
	StateClassifyIntent State = "CLASSIFY_INTENT"
	StateGeneralAnswer  State = "GENERAL_ANSWER"
	StateStructureQuery State = "STRUCTURE_QUERY"
	StateRetrieve       State = "RETRIEVE"
	StateReflect        State = "REFLECT"
	StateRetrieveMore   State = "RETRIEVE_MORE"
	StateAnswer         State = "ANSWER"
	StatePersist        State = "PERSIST"
	StateEnd            State = "END"
)

// Session is the per-request state record. Transitions receive a Session
// by value and return a new one; slices held by a Session are never
// modified in place.
type Session struct {
	Query           core.Query
	State           State
	Intent          core.Intent
	History         []*core.ConversationTurn
	StructuredQuery string
	Evidence        core.EvidenceSet
	Verdict         core.Verdict
	Iteration       int
	MaxRetries      int
	ContextOverride string // reflection summary used instead of rendered evidence
	Answer          string
	Turn            *core.ConversationTurn // persisted turn, nil if persistence failed
	Steps           int
	Degraded        []State // states whose work failed and was replaced by a fallback
}

func newSession(q core.Query, maxRetries int) Session {
	return Session{
		Query:      q,
		State:      StateStart,
		MaxRetries: maxRetries,
	}
}

// to returns a copy of s moved to state.
func (s Session) to(state State) Session {
	s.State = state
	return s
}

func (s Session) withHistory(history []*core.ConversationTurn) Session {
	s.History = slices.Clone(history)
	return s
}

func (s Session) withDegraded(state State) Session {
	s.Degraded = append(slices.Clone(s.Degraded), state)
	return s
}

// followUpQuery is the query for the next RETRIEVE_MORE pass.
func (s Session) followUpQuery() string {
	if s.Verdict.FollowUpQuery != "" {
		return s.Verdict.FollowUpQuery
	}
	return s.StructuredQuery
}

// shouldAnswer reports whether reflection may stop looping.
func shouldAnswer(v core.Verdict, iteration, maxRetries int) bool {
	return v.Sufficient || iteration >= maxRetries
}
