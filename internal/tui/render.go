package tui

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/hugo-lorenzo-mato/quorum-judge/internal/consumer"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/message"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/orchestrator"
)

const previewLen = 80

// Renderer writes human-readable evaluation output.
type Renderer struct {
	w        io.Writer
	color    bool
	scoreMin float64
	scoreMax float64
}

// NewRenderer creates a renderer. With color off no escape codes are written.
func NewRenderer(w io.Writer, color bool) *Renderer {
	return &Renderer{w: w, color: color, scoreMin: 0, scoreMax: 10}
}

// WithScoreRange sets the range used to grade score colors.
func (r *Renderer) WithScoreRange(min, max float64) *Renderer {
	r.scoreMin, r.scoreMax = min, max
	return r
}

func (r *Renderer) paint(s lipgloss.Style, text string) string {
	if !r.color {
		return text
	}
	return s.Render(text)
}

func (r *Renderer) label(name string) string {
	if !r.color {
		return fmt.Sprintf("%-12s", name)
	}
	return LabelStyle.Render(name)
}

func (r *Renderer) score(v float64) string {
	text := fmt.Sprintf("%.2f", v)
	return r.paint(lipgloss.NewStyle().Foreground(scoreColor(v, r.scoreMin, r.scoreMax)).Bold(true), text)
}

// Outcome prints the result of a finished evaluation.
func (r *Renderer) Outcome(o *orchestrator.Outcome) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s%s  %s\n", r.label("Evaluation"), o.EvaluationID,
		r.paint(StatusStyle(string(o.Status)), string(o.Status)))
	if o.TopicID != "" {
		fmt.Fprintf(&b, "%s%s\n", r.label("Topic"), o.TopicID)
	}

	if c := o.Consensus; c != nil {
		fmt.Fprintf(&b, "%s%s  %s\n", r.label("Consensus"), r.score(c.FinalScore), r.paint(SubtleStyle, c.Algorithm))
		fmt.Fprintf(&b, "%s%.2f\n", r.label("Confidence"), c.Confidence)
		fmt.Fprintf(&b, "%s%.4f\n", r.label("Variance"), c.Variance)
		fmt.Fprintf(&b, "%s%d  %s\n", r.label("Rounds"), c.ConvergenceRounds, r.paint(SubtleStyle, o.Duration().Round(1e6).String()))
		if len(o.VarianceTrend) > 0 {
			trend := make([]string, len(o.VarianceTrend))
			for i, v := range o.VarianceTrend {
				trend[i] = fmt.Sprintf("%.3f", v)
			}
			fmt.Fprintf(&b, "%s%s\n", r.label("Trend"), strings.Join(trend, " → "))
		}

		outliers := make(map[string]bool, len(c.Outliers))
		for _, id := range c.Outliers {
			outliers[id] = true
		}
		b.WriteString("\n")
		for _, agent := range sortedAgents(c.IndividualScores) {
			line := fmt.Sprintf("  %-16s %s", agent, r.score(c.IndividualScores[agent]))
			if outliers[agent] {
				line += "  " + r.paint(OutlierStyle, "outlier")
			}
			b.WriteString(line + "\n")
		}
	}

	if o.DeadlineReached {
		b.WriteString(r.paint(WarnStyle, "deadline reached, result is best effort") + "\n")
	}
	if len(o.Warnings) > 0 {
		b.WriteString("\n")
		for _, w := range o.Warnings {
			b.WriteString(r.paint(WarnStyle, "! "+w) + "\n")
		}
	}
	if o.Failure != nil {
		b.WriteString("\n" + r.paint(FailedStyle, o.Failure.Code) + " " + o.Failure.Message + "\n")
	}

	out := strings.TrimRight(b.String(), "\n")
	if r.color {
		out = BoxStyle.Render(out)
	}
	_, err := fmt.Fprintln(r.w, out)
	return err
}

// Message prints one decoded log message on a single line.
func (r *Renderer) Message(m consumer.Message) error {
	typ := string(m.Envelope.Type)
	seq := fmt.Sprintf("#%d", m.SequenceNumber)
	if m.Chunks > 0 {
		seq = fmt.Sprintf("#%d-%d", m.SequenceNumber, m.LastSequence)
	}
	head := fmt.Sprintf("%-9s %s", seq, r.paint(TypeBadge(typ), fmt.Sprintf("%-10s", typ)))
	if m.Envelope.RoundNumber >= 0 {
		head += fmt.Sprintf(" r%d", m.Envelope.RoundNumber)
	}
	if m.Envelope.AgentName != "" {
		head += " " + m.Envelope.AgentName
	}

	_, err := fmt.Fprintln(r.w, head+"  "+r.describe(m.Payload))
	return err
}

func (r *Renderer) describe(p message.Payload) string {
	switch p := p.(type) {
	case message.InitialPayload:
		return fmt.Sprintf("%d agents, %s, criteria: %s",
			len(p.Agents), p.Algorithm, strings.Join(p.Criteria, ", "))
	case message.ScorePayload:
		return r.score(p.Score) + "  " + r.paint(SubtleStyle, preview(p.Reasoning))
	case message.DiscussionPayload:
		return r.score(p.CurrentScore) + "  " + r.paint(SubtleStyle, preview(p.Comment))
	case message.AdjustmentPayload:
		return fmt.Sprintf("%.2f → %s  %s", p.OriginalScore, r.score(p.AdjustedScore), r.paint(SubtleStyle, preview(p.Reasoning)))
	case message.FinalPayload:
		return fmt.Sprintf("%s  %s, confidence %.2f, %d rounds",
			r.score(p.FinalScore), p.Algorithm, p.Confidence, p.ConvergenceRounds)
	case message.ErrorPayload:
		text := p.Code + ": " + p.Message
		if p.Preview != "" {
			text += " [" + preview(p.Preview) + "]"
		}
		return r.paint(FailedStyle, text)
	default:
		return r.paint(SubtleStyle, "(undecodable payload)")
	}
}

// Snapshot prints a round-by-round summary of a topic.
func (r *Renderer) Snapshot(s consumer.Snapshot) error {
	var b strings.Builder
	b.WriteString(r.paint(TitleStyle, "Topic "+s.TopicID) + "\n")
	if s.Initial != nil {
		fmt.Fprintf(&b, "%s%s\n", r.label("Evaluation"), s.Initial.EvaluationID)
		fmt.Fprintf(&b, "%s%s\n", r.label("Algorithm"), s.Initial.Algorithm)
	}
	for _, round := range s.Rounds {
		fmt.Fprintf(&b, "\nround %d\n", round.Number)
		for _, agent := range sortedAgents(round.Scores) {
			line := fmt.Sprintf("  %-16s %s", agent, r.score(round.Scores[agent]))
			if c := round.Comments[agent]; c != "" {
				line += "  " + r.paint(SubtleStyle, preview(c))
			}
			b.WriteString(line + "\n")
		}
	}
	if s.Final != nil {
		fmt.Fprintf(&b, "\n%s%s  %s\n", r.label("Consensus"), r.score(s.Final.FinalScore), r.paint(SubtleStyle, s.Final.Algorithm))
	}
	for _, e := range s.Errors {
		b.WriteString(r.paint(FailedStyle, e.Code+": "+e.Message) + "\n")
	}
	if s.Pending != nil {
		fmt.Fprintf(&b, "%s\n", r.paint(SubtleStyle, fmt.Sprintf("waiting for chunk group at #%d (%d/%d shards)",
			s.Pending.HeaderSequence, s.Pending.Collected, s.Pending.Expected)))
	}
	if !s.Done() {
		b.WriteString(r.paint(RunningStyle, "in progress") + "\n")
	}
	_, err := fmt.Fprint(r.w, b.String())
	return err
}

func sortedAgents(scores map[string]float64) []string {
	names := make([]string, 0, len(scores))
	for name := range scores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= previewLen {
		return s
	}
	return s[:previewLen-3] + "..."
}
