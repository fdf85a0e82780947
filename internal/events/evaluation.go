package events

import "time"

// Event type constants for evaluation progress.
const (
	TypePhaseChanged        = "phase_changed"
	TypeRoundStarted        = "round_started"
	TypeRoundClosed         = "round_closed"
	TypeAgentAbstained      = "agent_abstained"
	TypeMessagePublished    = "message_published"
	TypeEvaluationCompleted = "evaluation_completed"
)

// PhaseChangedEvent is emitted on every state machine transition.
type PhaseChangedEvent struct {
	BaseEvent
	From string `json:"from"`
	To   string `json:"to"`
}

// NewPhaseChangedEvent creates a new phase changed event.
func NewPhaseChangedEvent(evaluationID, from, to string) PhaseChangedEvent {
	return PhaseChangedEvent{
		BaseEvent: NewBaseEvent(TypePhaseChanged, evaluationID),
		From:      from,
		To:        to,
	}
}

// RoundStartedEvent is emitted when judges are asked for a round.
type RoundStartedEvent struct {
	BaseEvent
	Round  int      `json:"round"`
	Agents []string `json:"agents"`
}

// NewRoundStartedEvent creates a new round started event.
func NewRoundStartedEvent(evaluationID string, round int, agents []string) RoundStartedEvent {
	return RoundStartedEvent{
		BaseEvent: NewBaseEvent(TypeRoundStarted, evaluationID),
		Round:     round,
		Agents:    agents,
	}
}

// RoundClosedEvent is emitted when a round's responses are collected.
type RoundClosedEvent struct {
	BaseEvent
	Round     int           `json:"round"`
	Responded int           `json:"responded"`
	Abstained []string      `json:"abstained,omitempty"`
	Variance  float64       `json:"variance"`
	Duration  time.Duration `json:"duration"`
}

// NewRoundClosedEvent creates a new round closed event.
func NewRoundClosedEvent(evaluationID string, round, responded int, abstained []string, variance float64, d time.Duration) RoundClosedEvent {
	return RoundClosedEvent{
		BaseEvent: NewBaseEvent(TypeRoundClosed, evaluationID),
		Round:     round,
		Responded: responded,
		Abstained: abstained,
		Variance:  variance,
		Duration:  d,
	}
}

// AgentAbstainedEvent is emitted when a judge times out or fails.
type AgentAbstainedEvent struct {
	BaseEvent
	Agent  string `json:"agent"`
	Round  int    `json:"round"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// NewAgentAbstainedEvent creates a new agent abstained event.
func NewAgentAbstainedEvent(evaluationID, agent string, round int, code, reason string) AgentAbstainedEvent {
	return AgentAbstainedEvent{
		BaseEvent: NewBaseEvent(TypeAgentAbstained, evaluationID),
		Agent:     agent,
		Round:     round,
		Code:      code,
		Reason:    reason,
	}
}

// MessagePublishedEvent is emitted after an envelope lands on the log.
type MessagePublishedEvent struct {
	BaseEvent
	MessageType   string `json:"message_type"`
	Agent         string `json:"agent,omitempty"`
	Round         int    `json:"round"`
	FirstSequence int64  `json:"first_sequence"`
	LastSequence  int64  `json:"last_sequence"`
	Chunks        int    `json:"chunks"`
}

// NewMessagePublishedEvent creates a new message published event.
func NewMessagePublishedEvent(evaluationID, messageType, agent string, round int, first, last int64, chunks int) MessagePublishedEvent {
	return MessagePublishedEvent{
		BaseEvent:     NewBaseEvent(TypeMessagePublished, evaluationID),
		MessageType:   messageType,
		Agent:         agent,
		Round:         round,
		FirstSequence: first,
		LastSequence:  last,
		Chunks:        chunks,
	}
}

// EvaluationCompletedEvent is emitted once per evaluation, on success or failure.
type EvaluationCompletedEvent struct {
	BaseEvent
	Status            string  `json:"status"`
	TopicID           string  `json:"topic_id"`
	FinalScore        float64 `json:"final_score"`
	Confidence        float64 `json:"confidence"`
	ConvergenceRounds int     `json:"convergence_rounds"`
	Error             string  `json:"error,omitempty"`
}

// NewEvaluationCompletedEvent creates a new evaluation completed event.
func NewEvaluationCompletedEvent(evaluationID, status, topicID string, finalScore, confidence float64, rounds int, errMsg string) EvaluationCompletedEvent {
	return EvaluationCompletedEvent{
		BaseEvent:         NewBaseEvent(TypeEvaluationCompleted, evaluationID),
		Status:            status,
		TopicID:           topicID,
		FinalScore:        finalScore,
		Confidence:        confidence,
		ConvergenceRounds: rounds,
		Error:             errMsg,
	}
}
