// Authors: Rohan Adla, Arrio Gonsalves, Shreyan Nalwad, Dylan Setiawan
// Date: Dec 12th 2025
// Project: Estimation by Simulation: OLS, IV and the Power of the t-Test
// Class: 02-613 at Carnegie Mellon University

package ivsim

import (
	"errors"
	"fmt"
)

// Error kinds reported by the generators, estimators and the simulation loop.
// Use errors.Is to tell them apart.
var (
	// ErrInvalidParameters: bad sample size, correlation outside [-1,1],
	// negative first stage strength or a non-positive repetition count.
	ErrInvalidParameters = errors.New("ivsim: invalid parameters")

	// ErrSingularDesign: X'X cannot be inverted.
	ErrSingularDesign = errors.New("ivsim: singular design matrix")

	// ErrWeakInstrument: z'x is zero or numerically indistinguishable from zero.
	ErrWeakInstrument = errors.New("ivsim: weak instrument")
)

// invalidf wraps ErrInvalidParameters with a formatted reason
func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidParameters, fmt.Sprintf(format, args...))
}

// RepetitionError reports the repetition (and grid value, for power curves)
// at which a simulation run failed.
type RepetitionError struct {
	Index       int
	Coefficient float64
	Err         error
}

func (e *RepetitionError) Error() string {
	return fmt.Sprintf("repetition %d (beta = %g): %v", e.Index, e.Coefficient, e.Err)
}

func (e *RepetitionError) Unwrap() error {
	return e.Err
}
