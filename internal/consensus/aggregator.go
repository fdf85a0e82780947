// Package consensus reduces per-agent scores to a single consensus value.
package consensus

import (
	"fmt"
	"math"

	"github.com/hugo-lorenzo-mato/quorum-judge/internal/core"
)

// Algorithm names a reduction strategy.
type Algorithm string

const (
	SimpleAverage        Algorithm = "simple_average"
	WeightedAverage      Algorithm = "weighted_average"
	Median               Algorithm = "median"
	TrimmedMean          Algorithm = "trimmed_mean"
	IterativeConvergence Algorithm = "iterative_convergence"
	DelphiMethod         Algorithm = "delphi_method"
)

// AllAlgorithms returns every supported algorithm.
func AllAlgorithms() []Algorithm {
	return []Algorithm{SimpleAverage, WeightedAverage, Median, TrimmedMean, IterativeConvergence, DelphiMethod}
}

// ParseAlgorithm validates an algorithm name.
func ParseAlgorithm(s string) (Algorithm, error) {
	a := Algorithm(s)
	for _, known := range AllAlgorithms() {
		if a == known {
			return a, nil
		}
	}
	return "", core.ErrValidation(core.CodeUnsupportedAlgorithm, fmt.Sprintf("unsupported algorithm %q", s))
}

// Anonymous reports whether judges should only see the group distribution.
func (a Algorithm) Anonymous() bool {
	return a == DelphiMethod
}

const (
	DefaultTrimFraction  = 0.10
	DefaultMADMultiplier = 3.0
	DefaultMaxIterations = 25

	// meanADScale makes the mean absolute deviation comparable to MAD for
	// normally distributed data; used when MAD collapses to zero.
	meanADScale = 1.253314

	iterationTolerance = 1e-6
)

// Config configures an Aggregator.
type Config struct {
	Algorithm        Algorithm
	OutlierDetection bool
	MADMultiplier    float64
	TrimFraction     float64
	MaxIterations    int
}

// DefaultConfig returns the default aggregator configuration.
func DefaultConfig() Config {
	return Config{
		Algorithm:     SimpleAverage,
		MADMultiplier: DefaultMADMultiplier,
		TrimFraction:  DefaultTrimFraction,
		MaxIterations: DefaultMaxIterations,
	}
}

// Input is one reduction request.
type Input struct {
	Scores []core.AgentScore
	// Weights are optional reputation weights keyed by agent id.
	Weights map[string]float64
	// History holds earlier rounds' score maps, oldest first. Used by
	// delphi_method to report the variance trend; each round goes through
	// the same outlier exclusion as Scores.
	History []map[string]float64
}

// Result is the output of one reduction.
type Result struct {
	FinalScore       float64
	Confidence       float64
	Variance         float64
	Algorithm        Algorithm
	IndividualScores map[string]float64
	Outliers         []string
	Included         int
	// VarianceTrend lists the variance of each history round followed by
	// the current one. Only set for delphi_method.
	VarianceTrend []float64
	// Iterations is the number of reweighting passes for iterative_convergence.
	Iterations int
}

// Converging reports whether the variance shrank across the trend without
// ever growing. A trend ending at zero spread counts as converged, and a
// single round has nothing to compare.
func (r Result) Converging() bool {
	n := len(r.VarianceTrend)
	if n < 2 {
		return true
	}
	for i := 1; i < n; i++ {
		if r.VarianceTrend[i] > r.VarianceTrend[i-1] {
			return false
		}
	}
	return r.VarianceTrend[n-1] < r.VarianceTrend[0] || r.VarianceTrend[n-1] == 0
}

// Aggregator reduces score sets. It holds no mutable state.
type Aggregator struct {
	cfg Config
}

// New creates an aggregator, filling zero-valued settings with defaults.
func New(cfg Config) (*Aggregator, error) {
	if cfg.Algorithm == "" {
		cfg.Algorithm = SimpleAverage
	}
	if _, err := ParseAlgorithm(string(cfg.Algorithm)); err != nil {
		return nil, err
	}
	if cfg.MADMultiplier <= 0 {
		cfg.MADMultiplier = DefaultMADMultiplier
	}
	if cfg.TrimFraction <= 0 || cfg.TrimFraction >= 0.5 {
		cfg.TrimFraction = DefaultTrimFraction
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	return &Aggregator{cfg: cfg}, nil
}

// Config returns the effective configuration.
func (a *Aggregator) Config() Config {
	return a.cfg
}

// WithAlgorithm returns a copy of the aggregator using a different algorithm.
func (a *Aggregator) WithAlgorithm(alg Algorithm) (*Aggregator, error) {
	cfg := a.cfg
	cfg.Algorithm = alg
	return New(cfg)
}

// Aggregate reduces in.Scores to a consensus value.
func (a *Aggregator) Aggregate(in Input) (Result, error) {
	if len(in.Scores) == 0 {
		return Result{}, core.ErrValidation(core.CodeNoScores, "no scores to aggregate")
	}

	individual := make(map[string]float64, len(in.Scores))
	samples := make([]sample, 0, len(in.Scores))
	for _, s := range in.Scores {
		if math.IsNaN(s.Score) || math.IsInf(s.Score, 0) {
			return Result{}, core.ErrValidation(core.CodeInvalidScore, fmt.Sprintf("agent %s has non-finite score", s.AgentID))
		}
		if _, dup := individual[s.AgentID]; dup {
			return Result{}, core.ErrValidation(core.CodeInvalidScore, fmt.Sprintf("agent %s scored twice", s.AgentID))
		}
		individual[s.AgentID] = s.Score
		samples = append(samples, sample{agent: s.AgentID, score: s.Score, weight: weightFor(s, in.Weights)})
	}

	var outliers []string
	included := samples
	if a.cfg.OutlierDetection {
		included, outliers = a.excludeOutliers(samples)
	}

	scores := scoresOf(included)
	res := Result{
		Algorithm:        a.cfg.Algorithm,
		IndividualScores: individual,
		Outliers:         outliers,
		Included:         len(included),
		Variance:         variance(scores),
	}

	switch a.cfg.Algorithm {
	case SimpleAverage:
		res.FinalScore = mean(scores)
	case WeightedAverage:
		res.FinalScore = weightedMean(included)
	case Median:
		res.FinalScore = median(scores)
	case TrimmedMean:
		res.FinalScore = a.trimmedMean(included)
	case IterativeConvergence:
		res.FinalScore, res.Iterations = a.iterate(included)
	case DelphiMethod:
		res.FinalScore = median(scores)
		res.VarianceTrend = a.varianceTrend(in.History, res.Variance)
	default:
		return Result{}, core.ErrValidation(core.CodeUnsupportedAlgorithm, fmt.Sprintf("unsupported algorithm %q", a.cfg.Algorithm))
	}

	res.Confidence = ConfidenceFromVariance(res.Variance)
	return res, nil
}

// ConfidenceFromVariance maps variance to a confidence in [0,1].
func ConfidenceFromVariance(v float64) float64 {
	if v < 0 {
		v = 0
	}
	return clamp(1/(1+v), 0, 1)
}

// weightFor picks reputation weight, then confidence, then 1.
func weightFor(s core.AgentScore, weights map[string]float64) float64 {
	if w, ok := weights[s.AgentID]; ok && w > 0 {
		return w
	}
	if s.Confidence > 0 {
		return s.Confidence
	}
	return 1
}

// excludeOutliers splits samples by distance from the median in MAD units.
func (a *Aggregator) excludeOutliers(samples []sample) ([]sample, []string) {
	if len(samples) < 3 {
		return samples, nil
	}
	scores := scoresOf(samples)
	med, mad := medianAbsoluteDeviation(scores)
	spread := mad
	if spread == 0 {
		spread = meanAbsoluteDeviation(scores, med) * meanADScale
	}
	if spread == 0 {
		return samples, nil
	}

	limit := a.cfg.MADMultiplier * spread
	kept := make([]sample, 0, len(samples))
	var outliers []string
	for _, s := range sortSamples(samples) {
		if math.Abs(s.score-med) > limit {
			outliers = append(outliers, s.agent)
			continue
		}
		kept = append(kept, s)
	}
	return kept, outliers
}

// trimmedMean drops floor(n*fraction) samples from each end.
func (a *Aggregator) trimmedMean(samples []sample) float64 {
	n := len(samples)
	k := int(math.Floor(float64(n) * a.cfg.TrimFraction))
	if n < 3 || k == 0 || n-2*k < 1 {
		return mean(scoresOf(samples))
	}
	sorted := sortSamples(samples)
	return mean(scoresOf(sorted[k : n-k]))
}

// iterate repeatedly reweights agents by their distance from the current
// weighted mean until the mean settles.
func (a *Aggregator) iterate(samples []sample) (float64, int) {
	work := make([]sample, len(samples))
	copy(work, samples)

	current := weightedMean(work)
	for i := 1; i <= a.cfg.MaxIterations; i++ {
		for j := range work {
			work[j].weight *= 1 / (1 + math.Abs(work[j].score-current))
		}
		next := weightedMean(work)
		if math.Abs(next-current) < iterationTolerance {
			return next, i
		}
		current = next
	}
	return current, a.cfg.MaxIterations
}

// varianceTrend measures every history round over the same included set
// the current round uses, then appends current.
func (a *Aggregator) varianceTrend(history []map[string]float64, current float64) []float64 {
	trend := make([]float64, 0, len(history)+1)
	for _, round := range history {
		samples := make([]sample, 0, len(round))
		for agent, v := range round {
			samples = append(samples, sample{agent: agent, score: v, weight: 1})
		}
		if a.cfg.OutlierDetection {
			samples, _ = a.excludeOutliers(samples)
		}
		trend = append(trend, variance(scoresOf(samples)))
	}
	return append(trend, current)
}
