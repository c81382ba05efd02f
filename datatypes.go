// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Estimation by Simulation: OLS, IV and the Power of the t-Test
// Class: 02-613 at Carnegie Mellon University

package ivsim

import (
	"gonum.org/v1/gonum/mat"
)

// Default number of Monte Carlo repetitions per simulation run
const DefaultRepetitions = 5000

// Two-sided 5% critical value used for every interval and test
const CriticalValue95 = 1.96

// OLSParams describes y = Intercept + Slope*x + e with x, e ~ N(0,1)
type OLSParams struct {
	// Number of observations
	SampleSize int
	Intercept  float64
	Slope      float64
}

// IVParams describes the just-identified IV design:
//
//	x = pi*z + v,  y = TrueCoefficient*x + e,  corr(e, v) = Endogeneity
//
// with pi = sqrt(FirstStageStrength / SampleSize).
type IVParams struct {
	SampleSize      int
	TrueCoefficient float64
	// First stage strength (F), non-negative
	FirstStageStrength float64
	// Endogeneity (rho), correlation between e and v, in [-1, 1]
	Endogeneity float64
}

// WithCoefficient returns a copy of p with the true coefficient replaced.
func (p IVParams) WithCoefficient(beta float64) IVParams {
	p.TrueCoefficient = beta
	return p
}

// OLSSample holds one draw of the OLS design
type OLSSample struct {
	// N x 2 regressor matrix [1 | x]
	X *mat.Dense
	// Outcome, length N
	Y *mat.VecDense
}

// IVSample holds one draw of the IV design. All vectors have length N.
type IVSample struct {
	// Endogenous regressor
	X *mat.VecDense
	// Outcome
	Y *mat.VecDense
	// Instrument
	Z *mat.VecDense
}

// Interval is a closed confidence interval [Low, High].
type Interval struct {
	Low  float64
	High float64
}

// Width returns High - Low
func (ci Interval) Width() float64 { return ci.High - ci.Low }

// Contains reports whether v lies inside the interval
func (ci Interval) Contains(v float64) bool { return ci.Low <= v && v <= ci.High }

// OLSResult holds the output of EstimateOLS and its inference.
type OLSResult struct {
	// [intercept, slope]
	Coefficients []float64

	// Standard errors, same order as Coefficients
	SEHomoskedastic   []float64
	SEHeteroskedastic []float64

	// 95% intervals for the slope
	CIHomoskedastic   Interval
	CIHeteroskedastic Interval

	// Variance-covariance matrices (2x2)
	CovHomoskedastic   *mat.SymDense
	CovHeteroskedastic *mat.SymDense

	// Average squared residual e'e/N
	Sigma2 float64
}

// Slope returns the coefficient of interest
func (r *OLSResult) Slope() float64 { return r.Coefficients[1] }

// IVResult holds the output of EstimateIV and its inference.
type IVResult struct {
	Coefficient     float64
	SEHomoskedastic float64
	CIHomoskedastic Interval
	// |beta / se| for the null that the coefficient is 0
	TStatistic float64
	// Average squared residual e'e/N
	Sigma2 float64
}

// Rejects reports whether the t-test rejects the zero null at the 1.96 cutoff
func (r *IVResult) Rejects() bool { return r.TStatistic > CriticalValue95 }

// SimulationResult collects the Monte Carlo output of one Runner.Run call.
type SimulationResult struct {
	// Run identifier, for logs and reports
	RunID string

	Params      IVParams
	Repetitions int
	Rejections  int

	// IV estimates in repetition order
	Estimates []float64
	// Naive OLS (no intercept) estimate of the same samples, in repetition order
	OLSEstimates []float64

	// Rejections / Repetitions
	Power float64
}

// Summary describes an empirical distribution of estimates.
type Summary struct {
	Mean   float64
	Median float64
	StdDev float64
	// 2.5th and 97.5th percentiles
	Lower float64
	Upper float64
}

// PowerCurve stores the power of the t-test along a grid of true coefficients.
type PowerCurve struct {
	Params IVParams
	// True coefficient values in traversal order
	Grid []float64
	// Power at each grid value, same length as Grid
	Power []float64
}
