// Package panel defines the canonical choice-panel record shared by the
// simulator, the survey ingestion path, and the estimation gateway.
package panel

import (
	"errors"
	"fmt"
)

// ErrUnsupportedCovariates is returned whenever more than one demographic
// covariate is requested. Multi-covariate panels are not implemented.
var ErrUnsupportedCovariates = errors.New("multiple demographic covariates are not supported")

// ErrShapeMismatch marks a structural inconsistency between the declared
// dimensions and the data actually present in a record.
var ErrShapeMismatch = errors.New("shape mismatch")

// ErrInvalidDims indicates a non-positive dimension scalar.
var ErrInvalidDims = errors.New("dimensions must be positive")

// Dims holds the dimension scalars of one panel.
type Dims struct {
	R int `json:"R" yaml:"respondents"`  // respondents
	T int `json:"T" yaml:"tasks"`        // tasks per respondent
	A int `json:"A" yaml:"alternatives"` // alternatives per task
	L int `json:"L" yaml:"levels"`       // attribute levels per alternative
	C int `json:"C" yaml:"covariates"`   // demographic covariates
}

// Validate checks that every dimension is positive and that exactly one
// covariate is declared. The covariate check runs first so callers can
// rely on ErrUnsupportedCovariates before anything else is inspected.
func (d Dims) Validate() error {
	if d.C > 1 {
		return fmt.Errorf("%w: C=%d", ErrUnsupportedCovariates, d.C)
	}
	switch {
	case d.R < 1:
		return fmt.Errorf("%w: R=%d", ErrInvalidDims, d.R)
	case d.T < 1:
		return fmt.Errorf("%w: T=%d", ErrInvalidDims, d.T)
	case d.A < 1:
		return fmt.Errorf("%w: A=%d", ErrInvalidDims, d.A)
	case d.L < 1:
		return fmt.Errorf("%w: L=%d", ErrInvalidDims, d.L)
	case d.C < 1:
		return fmt.Errorf("%w: C=%d", ErrInvalidDims, d.C)
	}
	return nil
}

// String renders the dimensions compactly, e.g. "R=5 T=5 A=3 L=10 C=1".
func (d Dims) String() string {
	return fmt.Sprintf("R=%d T=%d A=%d L=%d C=%d", d.R, d.T, d.A, d.L, d.C)
}
