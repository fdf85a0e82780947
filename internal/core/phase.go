package core

import "fmt"

// EvaluationPhase is a state of the per-evaluation round state machine.
type EvaluationPhase string

const (
	// PhaseInitializing creates or reuses the topic and publishes the start marker.
	PhaseInitializing EvaluationPhase = "initializing"

	// PhaseScoring is round 0: every judge scores independently.
	PhaseScoring EvaluationPhase = "scoring"

	// PhaseDiscussing covers rounds 1..max-1 where judges see peer opinions.
	PhaseDiscussing EvaluationPhase = "discussing"

	// PhaseConverging runs the aggregator and decides whether to loop.
	PhaseConverging EvaluationPhase = "converging"

	// PhaseCompleted is terminal: the final event was published.
	PhaseCompleted EvaluationPhase = "completed"

	// PhaseFailed is terminal and reachable from any non-terminal phase.
	PhaseFailed EvaluationPhase = "failed"
)

// AllPhases returns the non-failure phases in execution order.
func AllPhases() []EvaluationPhase {
	return []EvaluationPhase{PhaseInitializing, PhaseScoring, PhaseDiscussing, PhaseConverging, PhaseCompleted}
}

var phaseTransitions = map[EvaluationPhase][]EvaluationPhase{
	PhaseInitializing: {PhaseScoring},
	PhaseScoring:      {PhaseConverging},
	PhaseDiscussing:   {PhaseConverging},
	PhaseConverging:   {PhaseDiscussing, PhaseCompleted},
}

// IsTerminal returns true for Completed and Failed.
func (p EvaluationPhase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// CanTransitionTo reports whether next is a legal successor of p.
// Completed is additionally reachable from Scoring and Discussing when the
// overall deadline forces a best-effort finish.
func (p EvaluationPhase) CanTransitionTo(next EvaluationPhase) bool {
	if p.IsTerminal() {
		return false
	}
	if next == PhaseFailed {
		return true
	}
	if next == PhaseCompleted && (p == PhaseScoring || p == PhaseDiscussing) {
		return true
	}
	for _, allowed := range phaseTransitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ValidPhase checks if a phase string is valid.
func ValidPhase(p EvaluationPhase) bool {
	switch p {
	case PhaseInitializing, PhaseScoring, PhaseDiscussing, PhaseConverging, PhaseCompleted, PhaseFailed:
		return true
	default:
		return false
	}
}

// ParsePhase converts a string to EvaluationPhase.
func ParsePhase(s string) (EvaluationPhase, error) {
	p := EvaluationPhase(s)
	if !ValidPhase(p) {
		return "", fmt.Errorf("invalid phase: %s", s)
	}
	return p, nil
}

// PhaseMachine tracks the current phase of one evaluation.
// It is owned by a single orchestrator run and is not safe for concurrent use.
type PhaseMachine struct {
	current EvaluationPhase
	history []EvaluationPhase
}

// NewPhaseMachine starts in PhaseInitializing.
func NewPhaseMachine() *PhaseMachine {
	return &PhaseMachine{
		current: PhaseInitializing,
		history: []EvaluationPhase{PhaseInitializing},
	}
}

// Current returns the current phase.
func (m *PhaseMachine) Current() EvaluationPhase {
	return m.current
}

// History returns every phase entered so far, in order.
func (m *PhaseMachine) History() []EvaluationPhase {
	out := make([]EvaluationPhase, len(m.history))
	copy(out, m.history)
	return out
}

// Transition moves to next or returns an INVALID_STATE error.
func (m *PhaseMachine) Transition(next EvaluationPhase) error {
	if !m.current.CanTransitionTo(next) {
		return ErrState(CodeInvalidState, fmt.Sprintf("cannot transition from %s to %s", m.current, next))
	}
	m.current = next
	m.history = append(m.history, next)
	return nil
}
