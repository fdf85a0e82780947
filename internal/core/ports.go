package core

import (
	"context"
	"time"
)

// =============================================================================
// Judge Port
// =============================================================================

// JudgeAgent scores content against criteria, optionally after seeing peers.
type JudgeAgent interface {
	// Name returns the agent identifier used in requests and on the log.
	Name() string

	// Evaluate produces a score for the request or fails. Implementations
	// must honor ctx cancellation; the orchestrator treats a missed round
	// deadline as an abstention either way.
	Evaluate(ctx context.Context, req JudgeRequest) (JudgeResponse, error)
}

// JudgeRequest is the input handed to a judge each round.
type JudgeRequest struct {
	EvaluationID string
	Content      string
	Criteria     []string
	Round        int
	// Peer is nil in round 0.
	Peer *PeerContext
}

// JudgeResponse is a judge's verdict for a single round.
type JudgeResponse struct {
	Score      float64            `json:"score" yaml:"score"`
	Confidence float64            `json:"confidence" yaml:"confidence"`
	Reasoning  string             `json:"reasoning" yaml:"reasoning"`
	Aspects    map[string]float64 `json:"aspects,omitempty" yaml:"aspects,omitempty"`
	// Comment is free-form discussion text; used when the score is unchanged.
	Comment string `json:"comment,omitempty" yaml:"comment,omitempty"`
}

// PeerContext is what a judge sees of the previous round.
type PeerContext struct {
	PreviousRound int
	// OwnScore is the judge's current best score.
	OwnScore float64
	// Peers lists other judges' opinions. Empty in anonymous (Delphi) mode.
	Peers []PeerOpinion
	// Distribution summarizes the whole group without identities.
	Distribution ScoreDistribution
}

// PeerOpinion is one other judge's latest score and reasoning.
type PeerOpinion struct {
	AgentID    string
	Score      float64
	Confidence float64
	Reasoning  string
}

// ScoreDistribution is an anonymous summary of a score set.
type ScoreDistribution struct {
	Count  int
	Mean   float64
	Median float64
	Min    float64
	Max    float64
	StdDev float64
}

// JudgeRegistry resolves judges by name.
type JudgeRegistry interface {
	Get(name string) (JudgeAgent, error)
	Names() []string
}

// =============================================================================
// Ordered Log Port
// =============================================================================

// OrderedLog is an append-only, externally sequenced message channel.
// The log assigns sequence numbers and timestamps; publishers never do.
type OrderedLog interface {
	// CreateTopic creates a new topic and returns its id.
	CreateTopic(ctx context.Context, memo string) (string, error)

	// Publish appends payload and returns the assigned sequence number.
	Publish(ctx context.Context, topicID string, payload []byte) (int64, error)

	// ReadFrom returns entries with sequence number strictly greater than
	// afterSequence, ascending.
	ReadFrom(ctx context.Context, topicID string, afterSequence int64) ([]LogEntry, error)
}

// EntryPublisher is implemented by logs that can return the stored entry,
// timestamp included, from a publish.
type EntryPublisher interface {
	PublishEntry(ctx context.Context, topicID string, payload []byte) (LogEntry, error)
}

// LogReader is the read half of OrderedLog, all a consumer needs.
type LogReader interface {
	ReadFrom(ctx context.Context, topicID string, afterSequence int64) ([]LogEntry, error)
}

// =============================================================================
// Persistence Port
// =============================================================================

// EvaluationStore persists evaluation summary records.
type EvaluationStore interface {
	CreateEvaluation(ctx context.Context, req *EvaluationRequest) error
	UpdateEvaluation(ctx context.Context, id string, summary EvaluationSummary) error
	GetEvaluation(ctx context.Context, id string) (*EvaluationRecord, error)
	ListEvaluations(ctx context.Context, limit int) ([]*EvaluationRecord, error)
	Close() error
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }
