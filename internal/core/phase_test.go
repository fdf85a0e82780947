package core

import "testing"

func TestPhase_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to EvaluationPhase
		want     bool
	}{
		{PhaseInitializing, PhaseScoring, true},
		{PhaseInitializing, PhaseConverging, false},
		{PhaseInitializing, PhaseFailed, true},
		{PhaseScoring, PhaseConverging, true},
		{PhaseScoring, PhaseDiscussing, false},
		{PhaseScoring, PhaseCompleted, true},
		{PhaseConverging, PhaseDiscussing, true},
		{PhaseConverging, PhaseCompleted, true},
		{PhaseConverging, PhaseScoring, false},
		{PhaseDiscussing, PhaseConverging, true},
		{PhaseDiscussing, PhaseCompleted, true},
		{PhaseDiscussing, PhaseFailed, true},
		{PhaseCompleted, PhaseFailed, false},
		{PhaseFailed, PhaseScoring, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestPhase_IsTerminal(t *testing.T) {
	for _, p := range AllPhases() {
		want := p == PhaseCompleted
		if p.IsTerminal() != want {
			t.Errorf("%s.IsTerminal() = %v", p, p.IsTerminal())
		}
	}
	if !PhaseFailed.IsTerminal() {
		t.Error("failed should be terminal")
	}
}

func TestParsePhase(t *testing.T) {
	p, err := ParsePhase("discussing")
	if err != nil || p != PhaseDiscussing {
		t.Fatalf("ParsePhase(discussing) = %v, %v", p, err)
	}
	if _, err := ParsePhase("analyze"); err == nil {
		t.Fatal("expected error for unknown phase")
	}
}

func TestPhaseMachine(t *testing.T) {
	m := NewPhaseMachine()
	if m.Current() != PhaseInitializing {
		t.Fatalf("initial phase = %s", m.Current())
	}

	for _, next := range []EvaluationPhase{PhaseScoring, PhaseConverging, PhaseDiscussing, PhaseConverging, PhaseCompleted} {
		if err := m.Transition(next); err != nil {
			t.Fatalf("Transition(%s) error = %v", next, err)
		}
	}

	err := m.Transition(PhaseFailed)
	if err == nil {
		t.Fatal("transition out of a terminal phase should fail")
	}
	if GetCode(err) != CodeInvalidState {
		t.Errorf("code = %q, want %q", GetCode(err), CodeInvalidState)
	}

	history := m.History()
	if len(history) != 6 || history[5] != PhaseCompleted {
		t.Errorf("history = %v", history)
	}
	history[0] = PhaseFailed
	if m.History()[0] != PhaseInitializing {
		t.Error("History() should return a copy")
	}
}
