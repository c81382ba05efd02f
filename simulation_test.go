// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Estimation by Simulation: OLS, IV and the Power of the t-Test
// Class: 02-613 at Carnegie Mellon University

package ivsim

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ivsim/internal/logging"
)

func TestRunner_SizeAtZero(t *testing.T) {
	if testing.Short() {
		t.Skip("5000 repetitions")
	}

	p := IVParams{SampleSize: 1000, TrueCoefficient: 0, FirstStageStrength: 100, Endogeneity: 0}
	res, err := NewRunner(SimulationOptions{Seed: 2024}).RunDefault(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, DefaultRepetitions, res.Repetitions)
	assert.Len(t, res.Estimates, DefaultRepetitions)
	assert.InDelta(t, 0.05, res.Power, 0.02)
	assert.Equal(t, float64(res.Rejections)/float64(res.Repetitions), res.Power)
}

func TestRunner_IVConsistentOLSBiased(t *testing.T) {
	p := IVParams{SampleSize: 1000, TrueCoefficient: 1, FirstStageStrength: 100, Endogeneity: 0.8}
	res, err := NewRunner(SimulationOptions{Seed: 8}).Run(context.Background(), p, 300)
	require.NoError(t, err)

	iv, err := res.Summary()
	require.NoError(t, err)
	ols, err := res.OLSSummary()
	require.NoError(t, err)

	// plim OLS = beta + rho / (pi^2 N + 1) = 1 + 0.8/1.1
	assert.InDelta(t, 1.0, iv.Mean, 0.05)
	assert.InDelta(t, 1+0.8/1.1, ols.Mean, 0.05)
	assert.LessOrEqual(t, iv.Lower, iv.Median)
	assert.LessOrEqual(t, iv.Median, iv.Upper)
	assert.Greater(t, iv.StdDev, ols.StdDev)
}

func TestRunner_DeterministicAcrossWorkers(t *testing.T) {
	p := IVParams{SampleSize: 100, TrueCoefficient: 0.2, FirstStageStrength: 20, Endogeneity: 0.5}

	var results []*SimulationResult
	for _, workers := range []int{1, 3, 8} {
		res, err := NewRunner(SimulationOptions{Seed: 77, Workers: workers}).Run(context.Background(), p, 200)
		require.NoError(t, err)
		results = append(results, res)
	}

	for _, res := range results[1:] {
		assert.Equal(t, results[0].Estimates, res.Estimates)
		assert.Equal(t, results[0].OLSEstimates, res.OLSEstimates)
		assert.Equal(t, results[0].Rejections, res.Rejections)
		assert.Equal(t, results[0].Power, res.Power)
	}
	// run ids are unique even when the draws are not
	assert.NotEqual(t, results[0].RunID, results[1].RunID)
}

func TestRunner_ConsecutiveRunsContinueStream(t *testing.T) {
	p := IVParams{SampleSize: 50, TrueCoefficient: 0, FirstStageStrength: 10, Endogeneity: 0}
	r := NewRunner(SimulationOptions{Seed: 1, Workers: 2})

	first, err := r.Run(context.Background(), p, 20)
	require.NoError(t, err)
	second, err := r.Run(context.Background(), p, 20)
	require.NoError(t, err)
	assert.NotEqual(t, first.Estimates, second.Estimates)

	again, err := NewRunner(SimulationOptions{Seed: 1, Workers: 2}).Run(context.Background(), p, 20)
	require.NoError(t, err)
	assert.Equal(t, first.Estimates, again.Estimates)
}

func TestRunner_RunDefaultUsesConfiguredRepetitions(t *testing.T) {
	p := IVParams{SampleSize: 30, FirstStageStrength: 10}
	res, err := NewRunner(SimulationOptions{Seed: 3, Repetitions: 25}).RunDefault(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 25, res.Repetitions)

	assert.Equal(t, DefaultRepetitions, SimulationOptions{}.repetitions())
}

func TestRunner_InvalidInput(t *testing.T) {
	r := NewRunner(SimulationOptions{Seed: 1})
	good := IVParams{SampleSize: 30, FirstStageStrength: 10}

	_, err := r.Run(context.Background(), good, 0)
	assert.ErrorIs(t, err, ErrInvalidParameters)

	_, err = r.Run(context.Background(), IVParams{SampleSize: 30, Endogeneity: 2}, 10)
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestRunner_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := IVParams{SampleSize: 30, FirstStageStrength: 10}
	_, err := NewRunner(SimulationOptions{Seed: 1, Workers: 2}).Run(ctx, p, 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunner_Logs(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	p := IVParams{SampleSize: 30, FirstStageStrength: 10}
	res, err := NewRunner(SimulationOptions{Seed: 1, Logger: log}).Run(context.Background(), p, 5)
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "simulation started")
	assert.Contains(t, buf.String(), "simulation finished")
	assert.Contains(t, buf.String(), "run_id="+res.RunID)
}

func TestRepetitionError(t *testing.T) {
	err := fmt.Errorf("grid point 2: %w", &RepetitionError{Index: 17, Coefficient: 0.5, Err: ErrWeakInstrument})

	var repErr *RepetitionError
	require.True(t, errors.As(err, &repErr))
	assert.Equal(t, 17, repErr.Index)
	assert.Equal(t, 0.5, repErr.Coefficient)
	assert.ErrorIs(t, err, ErrWeakInstrument)
	assert.Contains(t, err.Error(), "repetition 17 (beta = 0.5)")
}

func TestRunner_ReportsLowestFailingRepetition(t *testing.T) {
	const reps = 60

	// the runner hands repetition b the b-th draw of its stream
	seeds := make([]int64, reps)
	stream := NewSampler(21)
	for b := range seeds {
		seeds[b] = stream.Int63()
	}
	failing := map[int64]bool{seeds[12]: true, seeds[40]: true}

	p := IVParams{SampleSize: 30, TrueCoefficient: 0.3, FirstStageStrength: 10}
	for _, workers := range []int{1, 4, 8} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			r := NewRunner(SimulationOptions{Seed: 21, Workers: workers})
			r.repetition = func(p IVParams, s *Sampler, critical float64) repetitionOutcome {
				if failing[s.Seed()] {
					return repetitionOutcome{err: ErrWeakInstrument}
				}
				return runRepetition(p, s, critical)
			}

			res, err := r.Run(context.Background(), p, reps)
			assert.Nil(t, res)

			var repErr *RepetitionError
			require.ErrorAs(t, err, &repErr)
			assert.Equal(t, 12, repErr.Index)
			assert.Equal(t, 0.3, repErr.Coefficient)
			assert.ErrorIs(t, err, ErrWeakInstrument)
		})
	}
}

func TestRunner_FailureStopsRemainingRepetitions(t *testing.T) {
	const reps = 1000

	var calls atomic.Int64
	r := NewRunner(SimulationOptions{Seed: 4, Workers: 1})
	r.repetition = func(p IVParams, s *Sampler, critical float64) repetitionOutcome {
		if calls.Add(1) == 3 {
			return repetitionOutcome{err: ErrSingularDesign}
		}
		return repetitionOutcome{}
	}

	_, err := r.Run(context.Background(), IVParams{SampleSize: 30, FirstStageStrength: 10}, reps)

	var repErr *RepetitionError
	require.ErrorAs(t, err, &repErr)
	assert.Equal(t, 2, repErr.Index)
	assert.ErrorIs(t, err, ErrSingularDesign)
	assert.Less(t, calls.Load(), int64(reps))
}

func TestRunner_ConfidenceLevel(t *testing.T) {
	p := IVParams{SampleSize: 100, TrueCoefficient: 0.2, FirstStageStrength: 20, Endogeneity: 0.5}

	rejections := map[float64]int{}
	for _, level := range []float64{0.5, 0.95, 0.99} {
		res, err := NewRunner(SimulationOptions{Seed: 77, ConfidenceLevel: level}).Run(context.Background(), p, 300)
		require.NoError(t, err)
		rejections[level] = res.Rejections
	}

	// same draws, stricter cutoffs reject less often
	assert.GreaterOrEqual(t, rejections[0.5], rejections[0.95])
	assert.GreaterOrEqual(t, rejections[0.95], rejections[0.99])

	// the default level is the 1.96 cutoff
	def, err := NewRunner(SimulationOptions{Seed: 77}).Run(context.Background(), p, 300)
	require.NoError(t, err)
	assert.Equal(t, rejections[0.95], def.Rejections)

	_, err = NewRunner(SimulationOptions{Seed: 77, ConfidenceLevel: 1.5}).Run(context.Background(), p, 10)
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestRunner_TraceLogsRepetitions(t *testing.T) {
	var buf bytes.Buffer
	p := IVParams{SampleSize: 30, FirstStageStrength: 10}

	_, err := NewRunner(SimulationOptions{Seed: 1, Logger: logging.NewLogger("trace", &buf)}).
		Run(context.Background(), p, 3)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "level=TRACE")
	assert.Contains(t, buf.String(), "repetition done")

	buf.Reset()
	_, err = NewRunner(SimulationOptions{Seed: 1, Logger: logging.NewLogger("debug", &buf)}).
		Run(context.Background(), p, 3)
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), "repetition done")
}

func TestSimulationOptions_Workers(t *testing.T) {
	assert.Equal(t, 4, SimulationOptions{Workers: 4}.workers(100))
	assert.Equal(t, 3, SimulationOptions{Workers: 8}.workers(3))
	assert.Equal(t, 1, SimulationOptions{Workers: 8}.workers(0))
	assert.GreaterOrEqual(t, SimulationOptions{}.workers(100), 1)
}

func TestPowerCurve_Monotone(t *testing.T) {
	base := IVParams{SampleSize: 1000, FirstStageStrength: 100, Endogeneity: 0}
	grid := []float64{0, 0.1, 0.2, 0.4}

	curve, err := NewPowerCurveBuilder(SimulationOptions{Seed: 5, Repetitions: 1000}).
		Build(context.Background(), base, grid)
	require.NoError(t, err)

	require.Len(t, curve.Power, len(grid))
	assert.Equal(t, grid, curve.Grid)
	assert.Equal(t, base, curve.Params)

	// se is about 1/sqrt(F) = 0.1, so t is about beta / 0.1
	want := []float64{0.05, 0.17, 0.52, 0.98}
	for i := range grid {
		assert.InDelta(t, want[i], curve.Power[i], 0.06, "beta = %v", grid[i])
	}
	for i := 1; i < len(grid); i++ {
		assert.GreaterOrEqual(t, curve.Power[i], curve.Power[i-1])
	}

	size, ok := curve.Size()
	require.True(t, ok)
	assert.Equal(t, curve.Power[0], size)
}

func TestPowerCurve_DeterministicAcrossWorkers(t *testing.T) {
	base := IVParams{SampleSize: 100, FirstStageStrength: 10, Endogeneity: 0.3}
	grid := []float64{-0.5, 0, 0.5}

	a, err := NewPowerCurveBuilder(SimulationOptions{Seed: 9, Workers: 1, Repetitions: 100}).
		Build(context.Background(), base, grid)
	require.NoError(t, err)
	b, err := NewPowerCurveBuilder(SimulationOptions{Seed: 9, Workers: 3, Repetitions: 100}).
		Build(context.Background(), base, grid)
	require.NoError(t, err)

	assert.Equal(t, a.Power, b.Power)
}

func TestPowerCurve_Invalid(t *testing.T) {
	pb := NewPowerCurveBuilder(SimulationOptions{Seed: 1, Repetitions: 10})
	base := IVParams{SampleSize: 30, FirstStageStrength: 10}

	_, err := pb.Build(context.Background(), base, nil)
	assert.ErrorIs(t, err, ErrInvalidParameters)

	_, err = pb.Build(context.Background(), base, []float64{0, math.NaN()})
	assert.ErrorIs(t, err, ErrInvalidParameters)

	_, err = pb.Build(context.Background(), IVParams{SampleSize: 1}, []float64{0})
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestPowerCurve_SizeOffGrid(t *testing.T) {
	curve := &PowerCurve{Grid: []float64{0.5, 1}, Power: []float64{0.3, 0.9}}
	_, ok := curve.Size()
	assert.False(t, ok)
}

func TestGrid(t *testing.T) {
	grid, err := Grid(-2, 2, 0.1)
	require.NoError(t, err)
	require.Len(t, grid, 41)
	assert.Equal(t, -2.0, grid[0])
	assert.InDelta(t, 2.0, grid[40], 1e-12)
	assert.Equal(t, 0.0, grid[20])

	grid, err = Grid(1, 1, 0.5)
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, grid)

	grid, err = Grid(0, 1, 0.25)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.25, 0.5, 0.75, 1}, grid)

	_, err = Grid(0, 1, 0)
	assert.ErrorIs(t, err, ErrInvalidParameters)
	_, err = Grid(0, math.NaN(), 0.1)
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestGrid_StepDoesNotDivideRange(t *testing.T) {
	tests := []struct {
		from, to, step float64
		want           []float64
	}{
		{0, 1, 0.4, []float64{0, 0.4, 0.8}},
		{-1, 1, 0.75, []float64{-1, -0.25, 0.5}},
		{0, 0.3, 0.5, []float64{0}},
	}
	for _, tt := range tests {
		grid, err := Grid(tt.from, tt.to, tt.step)
		require.NoError(t, err)
		require.Len(t, grid, len(tt.want), "Grid(%v, %v, %v)", tt.from, tt.to, tt.step)
		assert.InDeltaSlice(t, tt.want, grid, 1e-12)
		for _, v := range grid {
			assert.LessOrEqual(t, v, tt.to)
		}
	}
}

func TestGrid_TooManyPoints(t *testing.T) {
	_, err := Grid(-1e308, 1e308, 1e-300)
	assert.ErrorIs(t, err, ErrInvalidParameters)

	_, err = Grid(0, 1e7, 1)
	assert.ErrorIs(t, err, ErrInvalidParameters)

	_, err = Grid(0, 1, 1e-300)
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestGrid_Reversed(t *testing.T) {
	_, err := Grid(1, 0, 0.1)
	assert.ErrorIs(t, err, ErrInvalidParameters)
}
