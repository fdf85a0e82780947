package consumer

import (
	"sort"

	"github.com/hugo-lorenzo-mato/quorum-judge/internal/codec"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/message"
)

// RoundView groups the messages of one round.
type RoundView struct {
	Number   int       `json:"roundNumber"`
	Messages []Message `json:"messages"`
	// Scores holds each agent's score as of the end of this round,
	// carrying forward scores from earlier rounds.
	Scores map[string]float64 `json:"scores"`
	// Comments holds discussion text keyed by agent.
	Comments map[string]string `json:"comments,omitempty"`
}

// Snapshot is a reader-side reconstruction of an evaluation.
type Snapshot struct {
	TopicID      string                  `json:"topicId"`
	Initial      *message.InitialPayload `json:"initial,omitempty"`
	Rounds       []RoundView             `json:"rounds"`
	Final        *message.FinalPayload   `json:"final,omitempty"`
	Errors       []message.ErrorPayload  `json:"errors,omitempty"`
	LastSequence int64                   `json:"lastSequence"`
	// Pending is a chunk group whose shards have not all arrived.
	Pending *codec.PendingGroup `json:"pendingGroup,omitempty"`
}

// Done reports whether the evaluation published a final or error message.
func (s Snapshot) Done() bool {
	return s.Final != nil || len(s.Errors) > 0
}

// Snapshot builds a round-grouped view of everything seen so far.
func (c *Consumer) Snapshot() Snapshot {
	c.mu.Lock()
	msgs := c.sortedLocked()
	snap := Snapshot{TopicID: c.topicID, LastSequence: c.lastSeq}
	if c.final != nil {
		f := *c.final
		snap.Final = &f
	}
	if pg, ok := c.decoder.Pending(); ok {
		snap.Pending = &pg
	}
	c.mu.Unlock()

	byRound := make(map[int]*RoundView)
	for _, m := range msgs {
		switch p := m.Payload.(type) {
		case message.InitialPayload:
			initial := p
			snap.Initial = &initial
			continue
		case message.FinalPayload:
			continue
		case message.ErrorPayload:
			snap.Errors = append(snap.Errors, p)
			continue
		}
		if m.Payload == nil {
			continue
		}
		rv, ok := byRound[m.Envelope.RoundNumber]
		if !ok {
			rv = &RoundView{Number: m.Envelope.RoundNumber, Scores: make(map[string]float64)}
			byRound[m.Envelope.RoundNumber] = rv
		}
		rv.Messages = append(rv.Messages, m)
		if score, ok := m.Score(); ok {
			rv.Scores[m.Envelope.AgentName] = score
		}
		if d, ok := m.Payload.(message.DiscussionPayload); ok {
			if rv.Comments == nil {
				rv.Comments = make(map[string]string)
			}
			rv.Comments[m.Envelope.AgentName] = d.Comment
		}
	}

	numbers := make([]int, 0, len(byRound))
	for n := range byRound {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	carried := make(map[string]float64)
	for _, n := range numbers {
		rv := byRound[n]
		for agent, score := range rv.Scores {
			carried[agent] = score
		}
		rv.Scores = make(map[string]float64, len(carried))
		for agent, score := range carried {
			rv.Scores[agent] = score
		}
		snap.Rounds = append(snap.Rounds, *rv)
	}
	return snap
}
