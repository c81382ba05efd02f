// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Estimation by Simulation: OLS, IV and the Power of the t-Test
// Class: 02-613 at Carnegie Mellon University

package ivsim

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// weakInstrumentTol is the relative size of z'x, against ||z||*||x||, below
// which the instrument is treated as having no identifying power.
const weakInstrumentTol = 1e-12

// ---------------------------------------------------------------------------
// Parameter checks
// ---------------------------------------------------------------------------

// Validate checks that the OLS design can be estimated
func (p OLSParams) Validate() error {
	if p.SampleSize < 2 {
		return invalidf("sample size must be >= 2, got %d", p.SampleSize)
	}
	if !isFinite(p.Intercept) || !isFinite(p.Slope) {
		return invalidf("intercept and slope must be finite")
	}
	return nil
}

// Validate checks the IV design
func (p IVParams) Validate() error {
	if p.SampleSize < 2 {
		return invalidf("sample size must be >= 2, got %d", p.SampleSize)
	}
	if math.IsNaN(p.Endogeneity) || math.Abs(p.Endogeneity) > 1 {
		return invalidf("endogeneity must be in [-1, 1], got %v", p.Endogeneity)
	}
	if math.IsNaN(p.FirstStageStrength) || p.FirstStageStrength < 0 || math.IsInf(p.FirstStageStrength, 1) {
		return invalidf("first stage strength must be finite and >= 0, got %v", p.FirstStageStrength)
	}
	if !isFinite(p.TrueCoefficient) {
		return invalidf("true coefficient must be finite, got %v", p.TrueCoefficient)
	}
	return nil
}

// FirstStageCoefficient returns pi = sqrt(F / N)
func (p IVParams) FirstStageCoefficient() float64 {
	return math.Sqrt(p.FirstStageStrength / float64(p.SampleSize))
}

// ---------------------------------------------------------------------------
// Data generation
// ---------------------------------------------------------------------------

// GenerateOLS draws one sample of y = a + b*x + e.
// x and e are independent N(0,1); X = [1 | x].
func GenerateOLS(p OLSParams, s *Sampler) (*OLSSample, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	N := p.SampleSize
	x := s.Gaussian(N)
	e := s.Gaussian(N)

	X := mat.NewDense(N, 2, nil)
	y := mat.NewVecDense(N, nil)
	for i := 0; i < N; i++ {
		X.Set(i, 0, 1.0)
		X.Set(i, 1, x[i])
		y.SetVec(i, p.Intercept+p.Slope*x[i]+e[i])
	}

	return &OLSSample{X: X, Y: y}, nil
}

// GenerateIV draws one sample of the IV design.
// (e, v) is a correlated pair with correlation p.Endogeneity, z ~ N(0,1)
// independent of both, x = pi*z + v and y = beta*x + e.
func GenerateIV(p IVParams, s *Sampler) (*IVSample, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	N := p.SampleSize
	e, v, err := s.CorrelatedPair(N, p.Endogeneity)
	if err != nil {
		return nil, err
	}
	z := s.Gaussian(N)

	pi := p.FirstStageCoefficient()

	x := make([]float64, N)
	y := make([]float64, N)
	for i := 0; i < N; i++ {
		x[i] = pi*z[i] + v[i]
		y[i] = p.TrueCoefficient*x[i] + e[i]
	}

	return &IVSample{
		X: mat.NewVecDense(N, x),
		Y: mat.NewVecDense(N, y),
		Z: mat.NewVecDense(N, z),
	}, nil
}

// ---------------------------------------------------------------------------
// Estimation
// ---------------------------------------------------------------------------

// EstimateOLS computes b = (X'X)^(-1) X'y for the N x 2 design [1 | x], the
// homoskedastic covariance s2*(X'X)^(-1) and the White sandwich
// (X'X)^(-1) X' diag(e^2) X (X'X)^(-1), with s2 = e'e/N.
func EstimateOLS(X mat.Matrix, y mat.Vector) (*OLSResult, error) {
	if X == nil || y == nil {
		return nil, invalidf("design matrix and outcome must be provided")
	}

	N, k := X.Dims()
	if k != 2 {
		return nil, invalidf("design matrix must have 2 columns, got %d", k)
	}
	if y.Len() != N {
		return nil, invalidf("outcome has length %d, design has %d rows", y.Len(), N)
	}
	if N < k {
		return nil, fmt.Errorf("%w: need at least %d observations, got %d", ErrSingularDesign, k, N)
	}

	// X'X and its inverse; a Condition error means X'X is singular for
	// computational purposes
	var xtx mat.Dense
	xtx.Mul(X.T(), X)

	var xtxInv mat.Dense
	if err := xtxInv.Inverse(&xtx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingularDesign, err)
	}

	// b = (X'X)^(-1) X'y
	var xty mat.VecDense
	xty.MulVec(X.T(), y)

	var b mat.VecDense
	b.MulVec(&xtxInv, &xty)

	// Residuals
	var yhat mat.VecDense
	yhat.MulVec(X, &b)

	var resid mat.VecDense
	resid.SubVec(y, &yhat)

	sigma2 := mat.Dot(&resid, &resid) / float64(N)

	// Homoskedastic: s2 * (X'X)^(-1)
	covHom := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			covHom.SetSym(i, j, sigma2*xtxInv.At(i, j))
		}
	}

	// Heteroskedastic: bread * meat * bread, meat = X' diag(e^2) X
	meat := mat.NewDense(k, k, nil)
	for t := 0; t < N; t++ {
		e2 := resid.AtVec(t) * resid.AtVec(t)
		for i := 0; i < k; i++ {
			for j := 0; j < k; j++ {
				meat.Set(i, j, meat.At(i, j)+e2*X.At(t, i)*X.At(t, j))
			}
		}
	}

	var sandwich mat.Dense
	sandwich.Product(&xtxInv, meat, &xtxInv)

	covHet := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			// average the two triangles to absorb rounding asymmetry
			covHet.SetSym(i, j, 0.5*(sandwich.At(i, j)+sandwich.At(j, i)))
		}
	}

	coefs := []float64{b.AtVec(0), b.AtVec(1)}
	seHom := standardErrors(covHom)
	seHet := standardErrors(covHet)

	for _, vals := range [][]float64{coefs, seHom, seHet} {
		for _, v := range vals {
			if !isFinite(v) {
				return nil, fmt.Errorf("%w: non-finite estimate", ErrSingularDesign)
			}
		}
	}

	return &OLSResult{
		Coefficients:       coefs,
		SEHomoskedastic:    seHom,
		SEHeteroskedastic:  seHet,
		CIHomoskedastic:    ConfidenceInterval(coefs[1], seHom[1], CriticalValue95),
		CIHeteroskedastic:  ConfidenceInterval(coefs[1], seHet[1], CriticalValue95),
		CovHomoskedastic:   covHom,
		CovHeteroskedastic: covHet,
		Sigma2:             sigma2,
	}, nil
}

// EstimateIV computes the scalar IV estimator b = z'y / z'x with homoskedastic
// variance s2 * z'z / (z'x)^2, s2 = e'e/N. With z = x this is the
// no-intercept OLS estimator.
func EstimateIV(x, y, z mat.Vector) (*IVResult, error) {
	if x == nil || y == nil || z == nil {
		return nil, invalidf("x, y and z must be provided")
	}

	N := x.Len()
	if y.Len() != N || z.Len() != N {
		return nil, invalidf("length mismatch: x=%d, y=%d, z=%d", N, y.Len(), z.Len())
	}
	if N < 1 {
		return nil, invalidf("empty sample")
	}

	zx := mat.Dot(z, x)
	zy := mat.Dot(z, y)
	zz := mat.Dot(z, z)
	xx := mat.Dot(x, x)

	if zx == 0 || math.Abs(zx) <= weakInstrumentTol*math.Sqrt(zz)*math.Sqrt(xx) {
		return nil, fmt.Errorf("%w: z'x = %g", ErrWeakInstrument, zx)
	}

	beta := zy / zx

	var fitted, resid mat.VecDense
	fitted.ScaleVec(beta, x)
	resid.SubVec(y, &fitted)

	sigma2 := mat.Dot(&resid, &resid) / float64(N)
	variance := sigma2 * zz / (zx * zx)
	se := math.Sqrt(variance)

	if !isFinite(beta) || !isFinite(se) {
		return nil, fmt.Errorf("%w: non-finite estimate (z'x = %g)", ErrWeakInstrument, zx)
	}

	return &IVResult{
		Coefficient:     beta,
		SEHomoskedastic: se,
		CIHomoskedastic: ConfidenceInterval(beta, se, CriticalValue95),
		TStatistic:      TStatistic(beta, se),
		Sigma2:          sigma2,
	}, nil
}

// EstimateIVSample is EstimateIV on the vectors of s
func EstimateIVSample(s *IVSample) (*IVResult, error) {
	if s == nil {
		return nil, invalidf("sample not provided")
	}
	return EstimateIV(s.X, s.Y, s.Z)
}

// EstimateOLSSample is EstimateOLS on the design of s
func EstimateOLSSample(s *OLSSample) (*OLSResult, error) {
	if s == nil {
		return nil, invalidf("sample not provided")
	}
	return EstimateOLS(s.X, s.Y)
}

// ---------------------------------------------------------------------------
// Inference
// ---------------------------------------------------------------------------

// ConfidenceInterval returns [est - c*se, est + c*se]
func ConfidenceInterval(estimate, se, c float64) Interval {
	return Interval{Low: estimate - c*se, High: estimate + c*se}
}

// TStatistic returns |estimate / se|. A zero standard error (exact fit) gives
// 0 for a zero estimate and +Inf otherwise.
func TStatistic(estimate, se float64) float64 {
	if se == 0 {
		if estimate == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return math.Abs(estimate / se)
}

// CriticalValue returns the two-sided normal critical value for a confidence
// level in (0, 1). The 95% level returns exactly 1.96.
func CriticalValue(level float64) (float64, error) {
	if math.IsNaN(level) || level <= 0 || level >= 1 {
		return 0, invalidf("confidence level must be in (0, 1), got %v", level)
	}
	if level == 0.95 {
		return CriticalValue95, nil
	}
	return distuv.UnitNormal.Quantile(1 - (1-level)/2), nil
}

// standardErrors returns the square roots of the diagonal of cov
func standardErrors(cov *mat.SymDense) []float64 {
	n := cov.SymmetricDim()
	se := make([]float64, n)
	for i := 0; i < n; i++ {
		se[i] = math.Sqrt(cov.At(i, i))
	}
	return se
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
