package orchestrator

import (
	"encoding/json"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-judge/internal/core"
)

// Outcome is the structured result of one evaluation. Run always returns
// one, failed or not.
type Outcome struct {
	EvaluationID string
	TopicID      string
	Status       core.EvaluationStatus
	Phase        core.EvaluationPhase
	Consensus    *core.ConsensusResult
	Rounds       []core.Round
	Warnings     []string
	Failure      *core.DomainError
	// VarianceTrend is set for delphi_method: one entry per executed round.
	VarianceTrend []float64
	// DeadlineReached marks a best-effort completion cut short by the
	// overall evaluation deadline.
	DeadlineReached bool
	StartedAt       time.Time
	FinishedAt      time.Time
}

// Err returns the failure, or nil for a completed evaluation.
func (o *Outcome) Err() error {
	if o.Failure == nil {
		return nil
	}
	return o.Failure
}

// Completed reports whether a consensus was produced.
func (o *Outcome) Completed() bool {
	return o.Status == core.EvaluationStatusCompleted && o.Consensus != nil
}

// Duration returns the wall time of the run.
func (o *Outcome) Duration() time.Duration {
	if o.FinishedAt.IsZero() {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}

type outcomeJSON struct {
	EvaluationID     string                `json:"evaluationId"`
	TopicID          string                `json:"topicId"`
	Status           core.EvaluationStatus `json:"status"`
	Phase            core.EvaluationPhase  `json:"phase"`
	ConsensusResult  *core.ConsensusResult `json:"consensusResult,omitempty"`
	EvaluationRounds []core.Round          `json:"evaluationRounds"`
	Warnings         []string              `json:"warnings,omitempty"`
	VarianceTrend    []float64             `json:"varianceTrend,omitempty"`
	DeadlineReached  bool                  `json:"deadlineReached,omitempty"`
	Error            *outcomeError         `json:"error,omitempty"`
}

type outcomeError struct {
	Code     string `json:"code"`
	Category string `json:"category"`
	Message  string `json:"message"`
}

// MarshalJSON renders the caller-facing result shape.
func (o *Outcome) MarshalJSON() ([]byte, error) {
	out := outcomeJSON{
		EvaluationID:     o.EvaluationID,
		TopicID:          o.TopicID,
		Status:           o.Status,
		Phase:            o.Phase,
		ConsensusResult:  o.Consensus,
		EvaluationRounds: o.Rounds,
		Warnings:         o.Warnings,
		VarianceTrend:    o.VarianceTrend,
		DeadlineReached:  o.DeadlineReached,
	}
	if out.EvaluationRounds == nil {
		out.EvaluationRounds = []core.Round{}
	}
	if o.Failure != nil {
		out.Error = &outcomeError{
			Code:     o.Failure.Code,
			Category: string(o.Failure.Category),
			Message:  o.Failure.Error(),
		}
	}
	return json.Marshal(out)
}
