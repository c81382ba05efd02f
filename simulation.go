// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Estimation by Simulation: OLS, IV and the Power of the t-Test
// Class: 02-613 at Carnegie Mellon University

package ivsim

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"ivsim/internal/logging"
)

// SimulationOptions configures a Runner or a PowerCurveBuilder.
type SimulationOptions struct {
	// Seed of the stream that hands out per-repetition seeds
	Seed int64

	// Parallel workers (0 = runtime.NumCPU()). Results do not depend on it.
	Workers int

	// Repetitions used by RunDefault and by the power curve (0 = DefaultRepetitions)
	Repetitions int

	// Confidence level of the two-sided t-test (0 = 0.95, critical value 1.96)
	ConfidenceLevel float64

	// Optional logger; nil discards
	Logger *slog.Logger
}

func (o SimulationOptions) workers(jobs int) int {
	n := o.Workers
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if n > jobs {
		n = jobs
	}
	if n < 1 {
		n = 1
	}
	return n
}

func (o SimulationOptions) repetitions() int {
	if o.Repetitions > 0 {
		return o.Repetitions
	}
	return DefaultRepetitions
}

func (o SimulationOptions) confidenceLevel() float64 {
	if o.ConfidenceLevel == 0 {
		return 0.95
	}
	return o.ConfidenceLevel
}

func (o SimulationOptions) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Runner repeats generate -> estimate -> test on fresh IV samples.
// A Runner owns its random stream: consecutive runs continue the stream, and
// two Runners built with the same seed produce identical results.
type Runner struct {
	opts    SimulationOptions
	sampler *Sampler
	log     *slog.Logger

	// repetition draws and estimates one sample; replaced in tests
	repetition func(p IVParams, s *Sampler, critical float64) repetitionOutcome
}

// NewRunner returns a Runner whose stream is seeded with opts.Seed
func NewRunner(opts SimulationOptions) *Runner {
	return &Runner{
		opts:       opts,
		sampler:    NewSampler(opts.Seed),
		log:        opts.logger(),
		repetition: runRepetition,
	}
}

// repetitionOutcome holds what one repetition contributes to the result
type repetitionOutcome struct {
	iv       float64
	ols      float64
	rejected bool
	err      error
}

// RunDefault runs the configured (or default, 5000) number of repetitions
func (r *Runner) RunDefault(ctx context.Context, p IVParams) (*SimulationResult, error) {
	return r.Run(ctx, p, r.opts.repetitions())
}

// Run simulates `repetitions` independent IV samples from p, estimates each
// one and counts how often |t| exceeds the critical value (1.96 at the
// default 95% level). Each repetition gets its own seed, drawn from the
// runner's stream in repetition order, so the output is the same for any
// number of workers. The first failing repetition (by index) fails the
// whole run.
func (r *Runner) Run(ctx context.Context, p IVParams, repetitions int) (*SimulationResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if repetitions < 1 {
		return nil, invalidf("repetitions must be >= 1, got %d", repetitions)
	}
	critical, err := CriticalValue(r.opts.confidenceLevel())
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	log := r.log.With("run_id", runID)

	// 1. Per-repetition seeds so no RNG is shared across goroutines
	seeds := make([]int64, repetitions)
	for b := range seeds {
		seeds[b] = r.sampler.Int63()
	}

	numWorkers := r.opts.workers(repetitions)
	log.Info("simulation started",
		"n", p.SampleSize, "beta", p.TrueCoefficient, "F", p.FirstStageStrength,
		"rho", p.Endogeneity, "repetitions", repetitions, "workers", numWorkers,
		"critical", critical)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 2. Worker pool; every repetition writes only its own slot
	outcomes := make([]repetitionOutcome, repetitions)
	jobs := make(chan int)

	var wg sync.WaitGroup
	wg.Add(numWorkers)

	worker := func() {
		defer wg.Done()
		s := NewSampler(0)
		for b := range jobs {
			s.Reseed(seeds[b])
			outcomes[b] = r.repetition(p, s, critical)
			if outcomes[b].err != nil {
				cancel()
				continue
			}
			log.Log(runCtx, logging.LevelTrace, "repetition done",
				"repetition", b, "iv", outcomes[b].iv, "ols", outcomes[b].ols, "reject", outcomes[b].rejected)
		}
	}

	for w := 0; w < numWorkers; w++ {
		go worker()
	}

	// Feed jobs until done or cancelled
	go func() {
		defer close(jobs)
		for b := 0; b < repetitions; b++ {
			select {
			case jobs <- b:
			case <-runCtx.Done():
				return
			}
		}
	}()

	wg.Wait()

	// 3. Failures are reported in repetition order
	for b := range outcomes {
		if outcomes[b].err != nil {
			log.Error("repetition failed", "repetition", b, "error", outcomes[b].err)
			return nil, &RepetitionError{Index: b, Coefficient: p.TrueCoefficient, Err: outcomes[b].err}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("simulation cancelled: %w", err)
	}

	// 4. Aggregate
	res := &SimulationResult{
		RunID:        runID,
		Params:       p,
		Repetitions:  repetitions,
		Estimates:    make([]float64, repetitions),
		OLSEstimates: make([]float64, repetitions),
	}
	for b, o := range outcomes {
		res.Estimates[b] = o.iv
		res.OLSEstimates[b] = o.ols
		if o.rejected {
			res.Rejections++
		}
	}
	res.Power = float64(res.Rejections) / float64(repetitions)

	log.Info("simulation finished", "rejections", res.Rejections, "power", res.Power)
	return res, nil
}

// runRepetition draws one sample, estimates it by IV and by naive OLS and
// tests beta = 0 at the given critical value
func runRepetition(p IVParams, s *Sampler, critical float64) repetitionOutcome {
	sample, err := GenerateIV(p, s)
	if err != nil {
		return repetitionOutcome{err: err}
	}

	iv, err := EstimateIVSample(sample)
	if err != nil {
		return repetitionOutcome{err: err}
	}

	// z = x gives OLS without intercept
	ols, err := EstimateIV(sample.X, sample.Y, sample.X)
	if err != nil {
		return repetitionOutcome{err: err}
	}

	return repetitionOutcome{iv: iv.Coefficient, ols: ols.Coefficient, rejected: iv.TStatistic > critical}
}

// Summary describes the distribution of the IV estimates
func (r *SimulationResult) Summary() (Summary, error) {
	return summarize(r.Estimates)
}

// OLSSummary describes the distribution of the naive OLS estimates
func (r *SimulationResult) OLSSummary() (Summary, error) {
	return summarize(r.OLSEstimates)
}

func summarize(data []float64) (Summary, error) {
	var out Summary
	var err error

	if out.Mean, err = stats.Mean(data); err != nil {
		return Summary{}, err
	}
	if out.Median, err = stats.Median(data); err != nil {
		return Summary{}, err
	}
	if out.StdDev, err = stats.StandardDeviationSample(data); err != nil {
		return Summary{}, err
	}
	if out.Lower, err = stats.Percentile(data, 2.5); err != nil {
		return Summary{}, err
	}
	if out.Upper, err = stats.Percentile(data, 97.5); err != nil {
		return Summary{}, err
	}
	return out, nil
}

// PowerCurveBuilder runs one simulation per grid value of the true coefficient.
type PowerCurveBuilder struct {
	opts    SimulationOptions
	sampler *Sampler
	log     *slog.Logger
}

// NewPowerCurveBuilder returns a builder whose stream is seeded with opts.Seed
func NewPowerCurveBuilder(opts SimulationOptions) *PowerCurveBuilder {
	return &PowerCurveBuilder{
		opts:    opts,
		sampler: NewSampler(opts.Seed),
		log:     opts.logger(),
	}
}

// Build returns the power of the t-test at each grid value. Every grid point
// uses base with only the true coefficient replaced, and its own seed drawn
// from the builder's stream in grid order. Grid points run concurrently.
func (pb *PowerCurveBuilder) Build(ctx context.Context, base IVParams, grid []float64) (*PowerCurve, error) {
	if err := base.Validate(); err != nil {
		return nil, err
	}
	if len(grid) == 0 {
		return nil, invalidf("coefficient grid is empty")
	}
	for i, beta := range grid {
		if !isFinite(beta) {
			return nil, invalidf("grid value %d is not finite: %v", i, beta)
		}
	}

	seeds := make([]int64, len(grid))
	for i := range seeds {
		seeds[i] = pb.sampler.Int63()
	}

	reps := pb.opts.repetitions()
	curve := &PowerCurve{
		Params: base,
		Grid:   append([]float64(nil), grid...),
		Power:  make([]float64, len(grid)),
	}

	pb.log.Info("power curve started", "points", len(grid), "repetitions", reps)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pb.opts.workers(len(grid)))

	for i, beta := range grid {
		g.Go(func() error {
			runner := NewRunner(SimulationOptions{
				Seed:            seeds[i],
				Workers:         1,
				ConfidenceLevel: pb.opts.ConfidenceLevel,
				Logger:          pb.opts.Logger,
			})
			res, err := runner.Run(gctx, base.WithCoefficient(beta), reps)
			if err != nil {
				return fmt.Errorf("grid point %d: %w", i, err)
			}
			curve.Power[i] = res.Power
			pb.log.Debug("grid point done", "beta", beta, "power", res.Power)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	pb.log.Info("power curve finished", "points", len(grid))
	return curve, nil
}

// Size returns the power at a true coefficient of 0 (the empirical size of
// the test), if 0 is on the grid.
func (c *PowerCurve) Size() (float64, bool) {
	for i, beta := range c.Grid {
		if beta == 0 {
			return c.Power[i], true
		}
	}
	return 0, false
}

// maxGridPoints bounds the length of a coefficient grid
const maxGridPoints = 1_000_000

// Grid returns the evenly spaced values from, from+step, ... up to and
// including to when the range is a whole number of steps; otherwise the last
// value is the largest one not above to. Values within rounding distance of
// zero are snapped to 0.
func Grid(from, to, step float64) ([]float64, error) {
	if !isFinite(from) || !isFinite(to) || !isFinite(step) {
		return nil, invalidf("grid bounds and step must be finite")
	}
	if step <= 0 {
		return nil, invalidf("grid step must be > 0, got %v", step)
	}
	if to < from {
		return nil, invalidf("grid end %v is below start %v", to, from)
	}

	steps := (to - from) / step
	if !isFinite(steps) || steps >= maxGridPoints {
		return nil, invalidf("grid from %v to %v by %v has more than %d points", from, to, step, maxGridPoints)
	}

	n := int(math.Floor(steps+1e-9)) + 1
	if n == 1 {
		return []float64{from}, nil
	}

	last := math.Min(from+float64(n-1)*step, to)
	grid := floats.Span(make([]float64, n), from, last)
	for i, v := range grid {
		if math.Abs(v) < step*1e-9 {
			grid[i] = 0
		}
	}
	return grid, nil
}
