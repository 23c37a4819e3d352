// Package stats computes descriptive statistics over journey latencies and
// per-point residency samples.
package stats

import (
	"fmt"
	"math"
	"sort"

	"github.com/m-lab/latrace/pkg/journey"
	"github.com/m-lab/latrace/pkg/topology"
	"github.com/m-lab/latrace/pkg/trace"
)

// quantileLevels are the fixed quantile points reported in every Summary,
// matching the source's latseq_stats output exactly.
var quantileLevels = [5]float64{0.10, 0.25, 0.50, 0.75, 0.90}

// Summary is a descriptive-statistics snapshot of a distribution of
// millisecond durations.
type Summary struct {
	Size      int
	Mean      float64
	Stdev     float64
	Min       float64
	Max       float64
	Quantiles [5]float64
}

// Summarize computes a Summary over values. An empty input yields the zero
// Summary rather than an error: spec.md's DegenerateStatistics error kind
// is explicitly non-fatal.
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(len(sorted))

	var sqDiff float64
	for _, v := range sorted {
		d := v - mean
		sqDiff += d * d
	}
	stdev := math.Sqrt(sqDiff / float64(len(sorted)))

	s := Summary{
		Size:  len(sorted),
		Mean:  mean,
		Stdev: stdev,
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
	}
	for i, q := range quantileLevels {
		s.Quantiles[i] = linearInterpolatedQuantile(sorted, q)
	}
	return s
}

// linearInterpolatedQuantile computes the q-quantile of an already-sorted
// slice using linear interpolation between closest ranks, matching
// numpy.quantile's default ("linear") method.
func linearInterpolatedQuantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// JourneyLatencies extracts the end-to-end latency, in milliseconds, of
// every completed journey.
func JourneyLatencies(journeys []*journey.Journey) []float64 {
	out := make([]float64, 0, len(journeys))
	for _, j := range journeys {
		if !j.Completed {
			continue
		}
		out = append(out, j.LatencyMillis())
	}
	return out
}

// PointResidencies returns the residency samples recorded against one
// measurement point, in the order map iteration gives them. Callers that
// need a stable order should sort the result themselves.
func PointResidencies(topo *topology.Topology, point string) []float64 {
	p, ok := topo.Graph[point]
	if !ok {
		return nil
	}
	out := make([]float64, 0, len(p.ResidencySamples))
	for _, v := range p.ResidencySamples {
		out = append(out, v)
	}
	return out
}

// MeanSeparation returns the mean absolute gap, in seconds, between
// consecutive timestamps in a timestamp-sorted record sequence. It errors
// for fewer than two records, mirroring the source's ValueError on an
// empty diff array; callers treat this as a non-fatal, omit-from-report
// condition.
func MeanSeparation(records []trace.Record) (float64, error) {
	if len(records) < 2 {
		return 0, fmt.Errorf("stats: need at least 2 records to compute a separation time, got %d", len(records))
	}
	var sum float64
	for i := 1; i < len(records); i++ {
		sum += math.Abs(records[i].Timestamp - records[i-1].Timestamp)
	}
	return sum / float64(len(records)-1), nil
}
