package stats

import (
	"math"
	"testing"

	"github.com/m-lab/latrace/pkg/journey"
	"github.com/m-lab/latrace/pkg/trace"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

// S6 — four completed downlink journeys with latencies {0.5, 1.0, 2.0, 4.0}ms.
func TestSummarizeS6(t *testing.T) {
	s := Summarize([]float64{0.5, 1.0, 2.0, 4.0})
	if s.Size != 4 {
		t.Fatalf("Size = %d, want 4", s.Size)
	}
	if !almostEqual(s.Mean, 1.875, 1e-9) {
		t.Errorf("Mean = %v, want 1.875", s.Mean)
	}
	if !almostEqual(s.Stdev, 1.340476, 1e-5) {
		t.Errorf("Stdev = %v, want ~1.340476 (population stdev)", s.Stdev)
	}
	if s.Min != 0.5 || s.Max != 4.0 {
		t.Errorf("Min/Max = %v/%v, want 0.5/4.0", s.Min, s.Max)
	}
}

func TestSummarizeEmptyIsZeroValueNotError(t *testing.T) {
	s := Summarize(nil)
	if s.Size != 0 || s.Mean != 0 || s.Stdev != 0 {
		t.Errorf("Summarize(nil) = %+v, want zero value", s)
	}
}

func TestLinearInterpolatedQuantileMedianOfFour(t *testing.T) {
	sorted := []float64{0.5, 1.0, 2.0, 4.0}
	got := linearInterpolatedQuantile(sorted, 0.50)
	want := 1.5 // interpolated between 1.0 and 2.0 at position 1.5
	if !almostEqual(got, want, 1e-9) {
		t.Errorf("median = %v, want %v", got, want)
	}
}

func TestLinearInterpolatedQuantileSingleValue(t *testing.T) {
	if got := linearInterpolatedQuantile([]float64{7.0}, 0.9); got != 7.0 {
		t.Errorf("quantile of a single-element slice = %v, want 7.0", got)
	}
}

func TestJourneyLatenciesSkipsIncomplete(t *testing.T) {
	journeys := []*journey.Journey{
		{TsIn: 1.000, TsOut: 1.002, Completed: true},
		{TsIn: 1.000, Completed: false},
	}
	latencies := JourneyLatencies(journeys)
	if len(latencies) != 1 {
		t.Fatalf("len(latencies) = %d, want 1", len(latencies))
	}
	if !almostEqual(latencies[0], 2.0, 1e-9) {
		t.Errorf("latencies[0] = %v, want 2.0", latencies[0])
	}
}

func TestMeanSeparation(t *testing.T) {
	records := []trace.Record{{Timestamp: 1.0}, {Timestamp: 1.5}, {Timestamp: 3.0}}
	got, err := MeanSeparation(records)
	if err != nil {
		t.Fatalf("MeanSeparation() error = %v", err)
	}
	want := ((0.5) + (1.5)) / 2
	if !almostEqual(got, want, 1e-9) {
		t.Errorf("MeanSeparation() = %v, want %v", got, want)
	}
}

func TestMeanSeparationErrorsUnderTwoRecords(t *testing.T) {
	if _, err := MeanSeparation([]trace.Record{{Timestamp: 1.0}}); err == nil {
		t.Errorf("expected an error for fewer than 2 records")
	}
}
