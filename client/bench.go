package client

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/montanaflynn/stats"
)

// PhaseStats summarises the durations of one phase, in milliseconds.
type PhaseStats struct {
	Name    string
	Samples int
	Mean    float64
	Median  float64
	StdDev  float64
}

func newPhaseStats(name string, durations []time.Duration) (PhaseStats, error) {
	values := make(stats.Float64Data, len(durations))
	for i, d := range durations {
		values[i] = float64(d.Nanoseconds()) / 1e6
	}

	ps := PhaseStats{Name: name, Samples: len(values)}

	var err error
	if ps.Mean, err = stats.Mean(values); err != nil {
		return ps, fmt.Errorf("%s: %w", name, err)
	}
	if ps.Median, err = stats.Median(values); err != nil {
		return ps, fmt.Errorf("%s: %w", name, err)
	}
	if ps.StdDev, err = stats.StandardDeviation(values); err != nil {
		return ps, fmt.Errorf("%s: %w", name, err)
	}
	return ps, nil
}

// BenchReport is the result of Bench.
type BenchReport struct {
	Phases  []PhaseStats
	Summary Summary
}

// Print writes the report in a human readable form.
func (r BenchReport) Print(w io.Writer) {
	for _, p := range r.Phases {
		fmt.Fprintf(w, "%s averaged duration stats over %d runs:\n", p.Name, p.Samples)
		fmt.Fprintf(w, "  Mean: %.3f ms\n", p.Mean)
		fmt.Fprintf(w, "  Median: %.3f ms\n", p.Median)
		fmt.Fprintf(w, "  Standard Deviation: %.3f ms\n", p.StdDev)
	}
	fmt.Fprintf(w, "Totals after benchmark: runs=%d distance=%d hours=%d\n", r.Summary.Runs, r.Summary.Distance, r.Summary.Hours)
}

// Bench submits runs random records and then fetches the totals rounds
// times, timing the encryption, the submission, the aggregation and the
// decryption. It adds records to the server.
func Bench(ctx context.Context, s *Session, runs, rounds int) (BenchReport, error) {
	if runs < 1 || rounds < 1 {
		return BenchReport{}, fmt.Errorf("runs and rounds must be positive")
	}

	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	encrypt := make([]time.Duration, 0, runs)
	submit := make([]time.Duration, 0, runs)

	for i := 0; i < runs; i++ {
		start := time.Now()
		item, err := s.Encrypt(r.Int63n(50), r.Int63n(5))
		if err != nil {
			return BenchReport{}, err
		}
		encrypt = append(encrypt, time.Since(start))

		start = time.Now()
		if _, err = s.api.SubmitRecord(ctx, item); err != nil {
			return BenchReport{}, err
		}
		submit = append(submit, time.Since(start))
	}

	aggregate := make([]time.Duration, 0, rounds)
	decrypt := make([]time.Duration, 0, rounds)

	var report BenchReport

	for i := 0; i < rounds; i++ {
		start := time.Now()
		res, err := s.api.GetAggregate(ctx)
		if err != nil {
			return BenchReport{}, err
		}
		aggregate = append(aggregate, time.Since(start))

		start = time.Now()
		if report.Summary, err = s.Decrypt(res); err != nil {
			return BenchReport{}, err
		}
		decrypt = append(decrypt, time.Since(start))
	}

	for _, phase := range []struct {
		name      string
		durations []time.Duration
	}{
		{"Encrypt", encrypt},
		{"Submit", submit},
		{"Aggregate", aggregate},
		{"Decrypt", decrypt},
	} {
		ps, err := newPhaseStats(phase.name, phase.durations)
		if err != nil {
			return BenchReport{}, err
		}
		report.Phases = append(report.Phases, ps)
	}

	return report, nil
}
