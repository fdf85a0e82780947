package consensus

import (
	"math"
	"sort"
)

// sample is one agent's score paired with its reduction weight.
type sample struct {
	agent  string
	score  float64
	weight float64
}

// sortSamples orders by score, then agent id, so equal scores resolve the
// same way on every run.
func sortSamples(samples []sample) []sample {
	out := make([]sample, len(samples))
	copy(out, samples)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score < out[j].score
		}
		return out[i].agent < out[j].agent
	})
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// variance is the population variance.
func variance(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	sum := 0.0
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return sum / float64(len(values))
}

// median of values; for even counts the mean of the two central values.
func median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func weightedMean(samples []sample) float64 {
	total, sum := 0.0, 0.0
	for _, s := range samples {
		total += s.weight
		sum += s.score * s.weight
	}
	if total == 0 {
		return mean(scoresOf(samples))
	}
	return sum / total
}

func scoresOf(samples []sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.score
	}
	return out
}

// medianAbsoluteDeviation returns the median and MAD of values.
func medianAbsoluteDeviation(values []float64) (float64, float64) {
	med := median(values)
	deviations := make([]float64, len(values))
	for i, v := range values {
		deviations[i] = math.Abs(v - med)
	}
	return med, median(deviations)
}

// meanAbsoluteDeviation around center.
func meanAbsoluteDeviation(values []float64, center float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += math.Abs(v - center)
	}
	return sum / float64(len(values))
}

// Distribution summarizes a score set.
type Distribution struct {
	Count  int
	Mean   float64
	Median float64
	Min    float64
	Max    float64
	StdDev float64
}

// Describe computes the anonymous distribution of values.
func Describe(values []float64) Distribution {
	if len(values) == 0 {
		return Distribution{}
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return Distribution{
		Count:  len(values),
		Mean:   mean(values),
		Median: median(values),
		Min:    lo,
		Max:    hi,
		StdDev: math.Sqrt(variance(values)),
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
