// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Estimation by Simulation: OLS, IV and the Power of the t-Test
// Class: 02-613 at Carnegie Mellon University

package ivsim

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// Sampler is an explicitly owned, seedable Gaussian stream.
// It is not safe for concurrent use; give each goroutine its own Sampler.
type Sampler struct {
	seed uint64
	src  *rand.PCG
	rng  *rand.Rand
}

// NewSampler returns a Sampler seeded with seed
func NewSampler(seed int64) *Sampler {
	s := &Sampler{src: rand.NewPCG(0, 0)}
	s.rng = rand.New(s.src)
	s.Reseed(seed)
	return s
}

// Reseed resets the stream so the next draws repeat those after NewSampler(seed)
func (s *Sampler) Reseed(seed int64) {
	s.seed = uint64(seed)
	// second PCG word is fixed so that a single integer identifies the stream
	s.src.Seed(s.seed, 0x9e3779b97f4a7c15)
}

// Seed returns the seed the stream was last (re)seeded with
func (s *Sampler) Seed() int64 { return int64(s.seed) }

// Int63 advances the stream once and returns a child seed
func (s *Sampler) Int63() int64 { return s.rng.Int64() }

// Gaussian returns n independent N(0,1) draws
func (s *Sampler) Gaussian(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = s.rng.NormFloat64()
	}
	return out
}

// GaussianMatrix returns an n x k matrix of independent N(0,1) draws, filled row by row
func (s *Sampler) GaussianMatrix(n, k int) *mat.Dense {
	return mat.NewDense(n, k, s.Gaussian(n*k))
}

// CorrelatedPair returns two length n vectors that are jointly normal with unit
// variances and correlation rho. An n x 2 standard normal matrix is multiplied by
// the upper Cholesky factor of [[1, rho], [rho, 1]]; |rho| = 1 gives perfectly
// correlated output.
func (s *Sampler) CorrelatedPair(n int, rho float64) ([]float64, []float64, error) {
	if n <= 0 {
		return nil, nil, invalidf("n must be > 0, got %d", n)
	}
	if math.IsNaN(rho) || rho < -1 || rho > 1 {
		return nil, nil, invalidf("correlation must be in [-1, 1], got %v", rho)
	}

	U := choleskyUpper(rho)

	draws := s.GaussianMatrix(n, 2)
	var pair mat.Dense
	pair.Mul(draws, U) // n x 2

	u1 := make([]float64, n)
	u2 := make([]float64, n)
	mat.Col(u1, 0, &pair)
	mat.Col(u2, 1, &pair)
	return u1, u2, nil
}

// choleskyUpper returns U with U'U = [[1, rho], [rho, 1]].
func choleskyUpper(rho float64) *mat.TriDense {
	sigma := mat.NewSymDense(2, []float64{1, rho, rho, 1})

	U := mat.NewTriDense(2, mat.Upper, nil)
	var chol mat.Cholesky
	if chol.Factorize(sigma) {
		chol.UTo(U)
		return U
	}

	// Not positive definite (|rho| = 1): the factor is still real, with a zero
	// in the bottom right corner.
	U.SetTri(0, 0, 1)
	U.SetTri(0, 1, rho)
	U.SetTri(1, 1, math.Sqrt(math.Max(0, 1-rho*rho)))
	return U
}
