package core

import (
	"fmt"
	"strings"
	"time"
)

// EvaluationStatus represents the lifecycle status of an evaluation request.
type EvaluationStatus string

const (
	EvaluationStatusPending    EvaluationStatus = "pending"
	EvaluationStatusProcessing EvaluationStatus = "processing"
	EvaluationStatusCompleted  EvaluationStatus = "completed"
	EvaluationStatusFailed     EvaluationStatus = "failed"
)

// IsTerminal reports whether no further transitions are possible.
func (s EvaluationStatus) IsTerminal() bool {
	return s == EvaluationStatusCompleted || s == EvaluationStatusFailed
}

// EvaluationRequest is what a caller submits for deliberation.
type EvaluationRequest struct {
	ID        string           `json:"id"`
	Content   string           `json:"content"`
	Criteria  []string         `json:"criteria"`
	Agents    []string         `json:"agents"`
	Status    EvaluationStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`

	// TopicID reuses an existing topic instead of creating one.
	TopicID string `json:"topic_id,omitempty"`
	// Algorithm overrides the configured aggregation algorithm.
	Algorithm string `json:"algorithm,omitempty"`
	// Weights carries optional per-agent reputation weights.
	Weights map[string]float64 `json:"weights,omitempty"`
}

// NewEvaluationRequest creates a pending request.
func NewEvaluationRequest(id, content string, criteria, agents []string) *EvaluationRequest {
	return &EvaluationRequest{
		ID:        id,
		Content:   content,
		Criteria:  criteria,
		Agents:    agents,
		Status:    EvaluationStatusPending,
		CreatedAt: time.Now(),
	}
}

// Validate checks request invariants.
func (r *EvaluationRequest) Validate() error {
	if r.ID == "" {
		return ErrValidation(CodeInvalidConfig, "evaluation id required")
	}
	if strings.TrimSpace(r.Content) == "" {
		return ErrValidation(CodeEmptyContent, "content cannot be empty")
	}
	if len(r.Criteria) == 0 {
		return ErrValidation(CodeNoCriteria, "at least one criterion required")
	}
	if len(r.Agents) == 0 {
		return ErrValidation(CodeNoAgents, "at least one agent required")
	}
	seen := make(map[string]bool, len(r.Agents))
	for _, a := range r.Agents {
		if a == "" {
			return ErrValidation(CodeNoAgents, "agent id cannot be empty")
		}
		if seen[a] {
			return ErrValidation(CodeNoAgents, fmt.Sprintf("agent %s requested twice", a))
		}
		seen[a] = true
	}
	return nil
}

// AgentScore is one judge's verdict for one round. Immutable once recorded.
type AgentScore struct {
	AgentID    string             `json:"agent_id"`
	Score      float64            `json:"score"`
	Confidence float64            `json:"confidence"`
	Reasoning  string             `json:"reasoning"`
	Aspects    map[string]float64 `json:"aspects,omitempty"`
	Round      int                `json:"round"`
}

// ConsensusResult is the single reduction computed at the end of the final round.
type ConsensusResult struct {
	FinalScore        float64            `json:"finalScore"`
	Confidence        float64            `json:"confidence"`
	Variance          float64            `json:"variance"`
	Algorithm         string             `json:"algorithm"`
	ConvergenceRounds int                `json:"convergenceRounds"`
	IndividualScores  map[string]float64 `json:"individualScores"`
	Outliers          []string           `json:"outliers,omitempty"`
}

// PublishedMessage records one logical event as written to the ordered log.
// Chunked events span several sequence numbers; FirstSequence is the header.
type PublishedMessage struct {
	Type          string    `json:"type"`
	AgentName     string    `json:"agentName,omitempty"`
	RoundNumber   int       `json:"roundNumber"`
	FirstSequence int64     `json:"firstSequence"`
	LastSequence  int64     `json:"lastSequence"`
	Chunks        int       `json:"chunks"`
	PublishedAt   time.Time `json:"publishedAt"`
}

// Round groups the messages published during one scoring or discussion round.
type Round struct {
	Number       int                `json:"roundNumber"`
	StartedAt    time.Time          `json:"startedAt"`
	EndedAt      time.Time          `json:"endedAt"`
	Messages     []PublishedMessage `json:"messages"`
	Abstained    []string           `json:"abstained,omitempty"`
	Variance     float64            `json:"variance"`
	Participants int                `json:"participants"`
}

// Duration returns how long the round was open.
func (r *Round) Duration() time.Duration {
	if r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// LogEntry is one raw entry of an ordered log topic.
type LogEntry struct {
	TopicID            string    `json:"topic_id"`
	SequenceNumber     int64     `json:"sequence_number"`
	ConsensusTimestamp time.Time `json:"consensus_timestamp"`
	Payload            []byte    `json:"message"`
}

// EvaluationSummary is what the persistence collaborator records on completion.
type EvaluationSummary struct {
	ConsensusScore    float64          `json:"consensus_score"`
	Confidence        float64          `json:"confidence"`
	Variance          float64          `json:"variance"`
	ConvergenceRounds int              `json:"convergence_rounds"`
	Algorithm         string           `json:"algorithm"`
	Status            EvaluationStatus `json:"status"`
	TopicID           string           `json:"hcs_topic_id"`
	Error             string           `json:"error,omitempty"`
}

// EvaluationRecord is a stored evaluation with its latest summary.
type EvaluationRecord struct {
	Request   EvaluationRequest `json:"request"`
	Summary   EvaluationSummary `json:"summary"`
	UpdatedAt time.Time         `json:"updated_at"`
}
