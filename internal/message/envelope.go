// Package message defines the wire envelope published to the ordered log and
// the typed payload variants it carries.
package message

import (
	"encoding/json"
	"fmt"

	"github.com/hugo-lorenzo-mato/quorum-judge/internal/core"
)

// Type discriminates envelope payloads.
type Type string

const (
	TypeInitial    Type = "initial"
	TypeScore      Type = "score"
	TypeDiscussion Type = "discussion"
	TypeAdjustment Type = "adjustment"
	TypeFinal      Type = "final"
	TypeError      Type = "error"
)

// AllTypes returns every known envelope type.
func AllTypes() []Type {
	return []Type{TypeInitial, TypeScore, TypeDiscussion, TypeAdjustment, TypeFinal, TypeError}
}

// Valid reports whether t is a known envelope type.
func (t Type) Valid() bool {
	switch t {
	case TypeInitial, TypeScore, TypeDiscussion, TypeAdjustment, TypeFinal, TypeError:
		return true
	default:
		return false
	}
}

// Envelope is the JSON object written to the log.
type Envelope struct {
	Type        Type            `json:"type"`
	AgentName   string          `json:"agentName"`
	RoundNumber int             `json:"roundNumber"`
	Data        json.RawMessage `json:"data"`
}

// Payload is implemented by every variant carried in Envelope.Data.
type Payload interface {
	MessageType() Type
}

// InitialPayload is the start marker of an evaluation.
type InitialPayload struct {
	EvaluationID         string   `json:"evaluationId"`
	Content              string   `json:"content"`
	Criteria             []string `json:"criteria"`
	Agents               []string `json:"agents"`
	Algorithm            string   `json:"algorithm"`
	MaxDiscussionRounds  int      `json:"maxDiscussionRounds"`
	ConvergenceThreshold float64  `json:"convergenceThreshold"`
	OutlierDetection     bool     `json:"outlierDetection"`
}

// ScorePayload is a round-0 score.
type ScorePayload struct {
	Score      float64            `json:"score"`
	Confidence float64            `json:"confidence"`
	Reasoning  string             `json:"reasoning"`
	Aspects    map[string]float64 `json:"aspects,omitempty"`
}

// DiscussionPayload is commentary without a score change.
type DiscussionPayload struct {
	Comment      string  `json:"comment"`
	CurrentScore float64 `json:"currentScore"`
}

// AdjustmentPayload records a revised score after seeing peers.
type AdjustmentPayload struct {
	OriginalScore float64            `json:"originalScore"`
	AdjustedScore float64            `json:"adjustedScore"`
	Confidence    float64            `json:"confidence"`
	Reasoning     string             `json:"reasoning"`
	Aspects       map[string]float64 `json:"aspects,omitempty"`
}

// FinalPayload carries the consensus result. Reasoning holds the individual
// scores as a JSON object string so plain-text readers can still see them.
type FinalPayload struct {
	FinalScore        float64  `json:"finalScore"`
	Confidence        float64  `json:"confidence"`
	Variance          float64  `json:"variance"`
	Algorithm         string   `json:"algorithm"`
	ConvergenceRounds int      `json:"convergenceRounds"`
	Reasoning         string   `json:"reasoning"`
	Outliers          []string `json:"outliers,omitempty"`
}

// ErrorPayload reports a failure, either from the orchestrator or from a
// reader that could not reassemble a chunk group.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Preview string `json:"preview,omitempty"`
}

func (InitialPayload) MessageType() Type    { return TypeInitial }
func (ScorePayload) MessageType() Type      { return TypeScore }
func (DiscussionPayload) MessageType() Type { return TypeDiscussion }
func (AdjustmentPayload) MessageType() Type { return TypeAdjustment }
func (FinalPayload) MessageType() Type      { return TypeFinal }
func (ErrorPayload) MessageType() Type      { return TypeError }

// New builds an envelope around a payload.
func New(agent string, round int, p Payload) (Envelope, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshaling %s payload: %w", p.MessageType(), err)
	}
	return Envelope{
		Type:        p.MessageType(),
		AgentName:   agent,
		RoundNumber: round,
		Data:        data,
	}, nil
}

// Marshal serializes the envelope.
func (e Envelope) Marshal() ([]byte, error) {
	if !e.Type.Valid() {
		return nil, core.ErrProtocol(core.CodeUnknownMessageType, fmt.Sprintf("unknown message type %q", e.Type))
	}
	return json.Marshal(e)
}

// Unmarshal parses raw JSON into an envelope.
func Unmarshal(raw []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Envelope{}, core.ErrProtocol(core.CodeMalformedPayload, "invalid envelope JSON").WithCause(err)
	}
	if !e.Type.Valid() {
		return Envelope{}, core.ErrProtocol(core.CodeUnknownMessageType, fmt.Sprintf("unknown message type %q", e.Type))
	}
	return e, nil
}

// Payload decodes Data into the variant named by Type.
func (e Envelope) Payload() (Payload, error) {
	switch e.Type {
	case TypeInitial:
		return decode[InitialPayload](e)
	case TypeScore:
		return decode[ScorePayload](e)
	case TypeDiscussion:
		return decode[DiscussionPayload](e)
	case TypeAdjustment:
		return decode[AdjustmentPayload](e)
	case TypeFinal:
		return decode[FinalPayload](e)
	case TypeError:
		return decode[ErrorPayload](e)
	default:
		return nil, core.ErrProtocol(core.CodeUnknownMessageType, fmt.Sprintf("unknown message type %q", e.Type))
	}
}

func decode[T Payload](e Envelope) (Payload, error) {
	var p T
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return nil, core.ErrProtocol(core.CodeMalformedPayload,
			fmt.Sprintf("invalid %s payload", e.Type)).WithCause(err)
	}
	return p, nil
}

// Score returns the score a message contributes for its agent, if any.
// Score events yield their score and adjustments their adjusted score.
func (e Envelope) Score() (float64, bool) {
	p, err := e.Payload()
	if err != nil {
		return 0, false
	}
	switch v := p.(type) {
	case ScorePayload:
		return v.Score, true
	case AdjustmentPayload:
		return v.AdjustedScore, true
	case FinalPayload:
		return v.FinalScore, true
	default:
		return 0, false
	}
}

// EncodeIndividualScores renders the per-agent map for FinalPayload.Reasoning.
func EncodeIndividualScores(scores map[string]float64) string {
	data, err := json.Marshal(scores)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// DecodeIndividualScores parses FinalPayload.Reasoning back into a map.
func DecodeIndividualScores(reasoning string) (map[string]float64, error) {
	scores := make(map[string]float64)
	if reasoning == "" {
		return scores, nil
	}
	if err := json.Unmarshal([]byte(reasoning), &scores); err != nil {
		return nil, fmt.Errorf("parsing individual scores: %w", err)
	}
	return scores, nil
}
