package tui

import (
	"fmt"
	"strings"
	"sync"

	"github.com/hugo-lorenzo-mato/quorum-judge/internal/events"
)

// Progress prints evaluation events as they happen. It drains its own
// subscription so a slow terminal never blocks the orchestrator.
type Progress struct {
	bus   *events.EventBus
	ch    <-chan events.Event
	r     *Renderer
	done  chan struct{}
	close sync.Once
}

// NewProgress subscribes to bus and starts printing through r.
func NewProgress(bus *events.EventBus, r *Renderer) *Progress {
	p := &Progress{
		bus:  bus,
		ch:   bus.Subscribe(),
		r:    r,
		done: make(chan struct{}),
	}
	go p.run()
	return p
}

// Close unsubscribes and waits for buffered events to be printed.
func (p *Progress) Close() {
	p.close.Do(func() {
		p.bus.Unsubscribe(p.ch)
		<-p.done
	})
}

func (p *Progress) run() {
	defer close(p.done)
	for e := range p.ch {
		if line := p.r.eventLine(e); line != "" {
			_, _ = fmt.Fprintln(p.r.w, line)
		}
	}
}

// eventLine formats one event, or returns "" for events not worth showing.
func (r *Renderer) eventLine(e events.Event) string {
	switch e := e.(type) {
	case events.RoundStartedEvent:
		return r.paint(RunningStyle, fmt.Sprintf("round %d", e.Round)) +
			r.paint(SubtleStyle, fmt.Sprintf(" asking %s", strings.Join(e.Agents, ", ")))
	case events.AgentAbstainedEvent:
		return r.paint(WarnStyle, fmt.Sprintf("  %s abstained (%s)", e.Agent, e.Code))
	case events.MessagePublishedEvent:
		who := e.Agent
		if who == "" {
			who = "-"
		}
		return r.paint(SubtleStyle, fmt.Sprintf("  %s %s #%d", e.MessageType, who, e.FirstSequence))
	case events.RoundClosedEvent:
		return r.paint(SubtleStyle, fmt.Sprintf("  %d responded, variance %.4f, %s",
			e.Responded, e.Variance, e.Duration.Round(1e6)))
	case events.EvaluationCompletedEvent:
		if e.Error != "" {
			return r.paint(FailedStyle, "evaluation failed: "+e.Error)
		}
		return r.paint(CompletedStyle, fmt.Sprintf("evaluation %s: %.2f", e.Status, e.FinalScore))
	default:
		return ""
	}
}
