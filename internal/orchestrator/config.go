package orchestrator

import (
	"fmt"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-judge/internal/codec"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/consensus"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/core"
)

// Config holds the per-evaluation deliberation settings.
type Config struct {
	Algorithm        consensus.Algorithm
	OutlierDetection bool
	MADMultiplier    float64
	TrimFraction     float64

	// ConvergenceThreshold stops the loop once variance is at or below it.
	ConvergenceThreshold float64
	// MaxDiscussionRounds caps the total rounds, round 0 included.
	MaxDiscussionRounds int
	// MinDiscussionRounds forces that many discussion rounds before an
	// early convergence stop. Zero allows stopping after round 0.
	MinDiscussionRounds int
	EnableDiscussion    bool

	RoundTimeout      time.Duration
	EvaluationTimeout time.Duration
	// FinalizeTimeout bounds the final publish, which runs detached from
	// the caller's context.
	FinalizeTimeout time.Duration

	MaxParallelAgents int
	// AdjustmentEpsilon is the smallest score change published as an adjustment.
	AdjustmentEpsilon float64
	ScoreMin          float64
	ScoreMax          float64

	ChunkThreshold int
	// MaxChunks caps the shards of one chunk group. Envelopes needing more
	// fail with ENTRY_TOO_LARGE instead of being written.
	MaxChunks int
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		Algorithm:            consensus.SimpleAverage,
		MADMultiplier:        consensus.DefaultMADMultiplier,
		TrimFraction:         consensus.DefaultTrimFraction,
		ConvergenceThreshold: 0.5,
		MaxDiscussionRounds:  3,
		EnableDiscussion:     true,
		RoundTimeout:         30 * time.Second,
		EvaluationTimeout:    5 * time.Minute,
		FinalizeTimeout:      15 * time.Second,
		MaxParallelAgents:    8,
		AdjustmentEpsilon:    0.01,
		ScoreMin:             0,
		ScoreMax:             10,
		ChunkThreshold:       codec.DefaultThreshold,
		MaxChunks:            codec.DefaultMaxChunks,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if _, err := consensus.ParseAlgorithm(string(c.Algorithm)); err != nil {
		return err
	}
	switch {
	case c.MaxDiscussionRounds < 1:
		return invalidConfig("max discussion rounds must be at least 1, got %d", c.MaxDiscussionRounds)
	case c.MinDiscussionRounds < 0:
		return invalidConfig("min discussion rounds cannot be negative")
	case c.MinDiscussionRounds >= c.MaxDiscussionRounds && c.MinDiscussionRounds > 0:
		return invalidConfig("min discussion rounds (%d) must be below max discussion rounds (%d)",
			c.MinDiscussionRounds, c.MaxDiscussionRounds)
	case c.ConvergenceThreshold < 0:
		return invalidConfig("convergence threshold cannot be negative")
	case c.RoundTimeout <= 0:
		return core.ErrValidation(core.CodeInvalidTimeout, "round timeout must be positive")
	case c.EvaluationTimeout < 0 || c.FinalizeTimeout < 0:
		return core.ErrValidation(core.CodeInvalidTimeout, "timeouts cannot be negative")
	case c.MaxParallelAgents < 1:
		return invalidConfig("max parallel agents must be at least 1")
	case c.ScoreMax <= c.ScoreMin:
		return invalidConfig("score range [%g, %g] is empty", c.ScoreMin, c.ScoreMax)
	case c.AdjustmentEpsilon < 0:
		return invalidConfig("adjustment epsilon cannot be negative")
	case c.ChunkThreshold < 1:
		return invalidConfig("chunk threshold must be positive")
	case c.MaxChunks < 0:
		return invalidConfig("max chunks cannot be negative")
	}
	return nil
}

func invalidConfig(format string, args ...interface{}) error {
	return core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf(format, args...))
}

func (c Config) aggregatorConfig(alg consensus.Algorithm) consensus.Config {
	return consensus.Config{
		Algorithm:        alg,
		OutlierDetection: c.OutlierDetection,
		MADMultiplier:    c.MADMultiplier,
		TrimFraction:     c.TrimFraction,
	}
}
