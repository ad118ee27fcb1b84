package panel

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// DefaultHoldout is the number of trailing tasks reserved for testing when
// a real survey panel is loaded.
const DefaultHoldout = 5

// Kind records where a panel came from.
type Kind string

const (
	KindSimulated Kind = "simulated"
	KindSurvey    Kind = "survey"
)

// Record is the canonical data record handed to the estimation gateway.
// It is assembled once and treated as read-only afterwards.
type Record struct {
	Kind Kind
	Dims Dims

	X *Design    // [R, T, A, L]
	Z *mat.Dense // [R, C]
	Y *Choices   // [R, T]

	// B and Gamma are the true respondent part-worths [L, R] and population
	// means [C·L]. They are only known for simulated panels.
	B     *mat.Dense
	Gamma []float64

	// Split is the positional train/holdout split along the task axis.
	Split *Split
}

// Split holds the leading training block and trailing holdout block of a
// panel, both taken per respondent along the task axis.
type Split struct {
	Holdout int
	Xtrain  *Design
	Ytrain  *Choices
	Xtest   *Design
	Ytest   *Choices
}

// Ones returns an R×C covariate matrix filled with the constant 1, the
// single intercept covariate every respondent carries.
func Ones(dims Dims) (*mat.Dense, error) {
	if err := dims.Validate(); err != nil {
		return nil, err
	}
	z := mat.NewDense(dims.R, dims.C, nil)
	for r := 0; r < dims.R; r++ {
		for c := 0; c < dims.C; c++ {
			z.Set(r, c, 1)
		}
	}
	return z, nil
}

// Assemble bundles simulated components into a validated record.
// Nothing is truncated or padded; any inconsistency is returned as an
// error wrapping ErrShapeMismatch.
func Assemble(dims Dims, x *Design, z *mat.Dense, b *mat.Dense, y *Choices, gamma []float64) (*Record, error) {
	rec := &Record{
		Kind:  KindSimulated,
		Dims:  dims,
		X:     x,
		Z:     z,
		Y:     y,
		B:     b,
		Gamma: gamma,
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("assembling record: %w", err)
	}
	return rec, nil
}

// NewSplit splits x and y positionally: the last holdout tasks of every
// respondent go to the test block, the leading tasks to the training block.
func NewSplit(x *Design, y *Choices, holdout int) (*Split, error) {
	if x.T != y.T || x.R != y.R {
		return nil, fmt.Errorf("%w: design %v vs choices [%d %d]", ErrShapeMismatch, x.Shape(), y.R, y.T)
	}
	if holdout < 1 || holdout >= x.T {
		return nil, fmt.Errorf("%w: holdout %d must be in [1, %d) for T=%d", ErrShapeMismatch, holdout, x.T, x.T)
	}
	cut := x.T - holdout
	return &Split{
		Holdout: holdout,
		Xtrain:  x.Tasks(0, cut),
		Ytrain:  y.Tasks(0, cut),
		Xtest:   x.Tasks(cut, x.T),
		Ytest:   y.Tasks(cut, y.T),
	}, nil
}

// WithHoldout attaches a positional train/holdout split to the record.
func (rec *Record) WithHoldout(holdout int) error {
	split, err := NewSplit(rec.X, rec.Y, holdout)
	if err != nil {
		return err
	}
	rec.Split = split
	return nil
}

// Validate checks every structural invariant of the record.
func (rec *Record) Validate() error {
	d := rec.Dims
	if err := d.Validate(); err != nil {
		return err
	}
	if rec.X == nil || rec.Y == nil || rec.Z == nil {
		return fmt.Errorf("%w: X, Y and Z are required", ErrShapeMismatch)
	}
	if err := checkDesign("X", rec.X, d.R, d.T, d.A, d.L); err != nil {
		return err
	}
	if err := checkChoices("Y", rec.Y, d.R, d.T, d.A); err != nil {
		return err
	}
	if r, c := rec.Z.Dims(); r != d.R || c != d.C {
		return fmt.Errorf("%w: Z is %dx%d, want %dx%d", ErrShapeMismatch, r, c, d.R, d.C)
	}
	if rec.B != nil {
		if l, r := rec.B.Dims(); l != d.L || r != d.R {
			return fmt.Errorf("%w: B is %dx%d, want %dx%d", ErrShapeMismatch, l, r, d.L, d.R)
		}
	}
	if rec.Gamma != nil && len(rec.Gamma) != d.C*d.L {
		return fmt.Errorf("%w: Gamma has %d entries, want %d", ErrShapeMismatch, len(rec.Gamma), d.C*d.L)
	}
	if rec.Split != nil {
		if err := rec.validateSplit(); err != nil {
			return err
		}
	}
	return nil
}

func (rec *Record) validateSplit() error {
	d, s := rec.Dims, rec.Split
	if s.Holdout < 1 || s.Holdout >= d.T {
		return fmt.Errorf("%w: holdout %d out of range for T=%d", ErrShapeMismatch, s.Holdout, d.T)
	}
	train := d.T - s.Holdout
	if err := checkDesign("Xtrain", s.Xtrain, d.R, train, d.A, d.L); err != nil {
		return err
	}
	if err := checkDesign("Xtest", s.Xtest, d.R, s.Holdout, d.A, d.L); err != nil {
		return err
	}
	if err := checkChoices("Ytrain", s.Ytrain, d.R, train, d.A); err != nil {
		return err
	}
	if err := checkChoices("Ytest", s.Ytest, d.R, s.Holdout, d.A); err != nil {
		return err
	}

	x, err := ConcatDesigns(s.Xtrain, s.Xtest)
	if err != nil {
		return err
	}
	for i, v := range x.Data {
		if v != rec.X.Data[i] {
			return fmt.Errorf("%w: Xtrain+Xtest does not reconstruct X", ErrShapeMismatch)
		}
	}
	y, err := ConcatChoices(s.Ytrain, s.Ytest)
	if err != nil {
		return err
	}
	for i, v := range y.Data {
		if v != rec.Y.Data[i] {
			return fmt.Errorf("%w: Ytrain+Ytest does not reconstruct Y", ErrShapeMismatch)
		}
	}
	return nil
}

func checkDesign(name string, x *Design, r, t, a, l int) error {
	if x == nil {
		return fmt.Errorf("%w: %s is missing", ErrShapeMismatch, name)
	}
	if x.Shape() != [4]int{r, t, a, l} {
		return fmt.Errorf("%w: %s is %v, want [%d %d %d %d]", ErrShapeMismatch, name, x.Shape(), r, t, a, l)
	}
	if len(x.Data) != r*t*a*l {
		return fmt.Errorf("%w: %s holds %d values, want %d", ErrShapeMismatch, name, len(x.Data), r*t*a*l)
	}
	for i, v := range x.Data {
		if v != 0 && v != 1 {
			return fmt.Errorf("%w: %s entry %d is %g, want 0 or 1", ErrShapeMismatch, name, i, v)
		}
	}
	return nil
}

func checkChoices(name string, y *Choices, r, t, a int) error {
	if y == nil {
		return fmt.Errorf("%w: %s is missing", ErrShapeMismatch, name)
	}
	if y.R != r || y.T != t || len(y.Data) != r*t {
		return fmt.Errorf("%w: %s is [%d %d] with %d values, want [%d %d]", ErrShapeMismatch, name, y.R, y.T, len(y.Data), r, t)
	}
	for i, v := range y.Data {
		if v < 1 || v > a {
			return fmt.Errorf("%w: %s entry %d is %d, want 1..%d", ErrShapeMismatch, name, i, v, a)
		}
	}
	return nil
}

// StanData renders the record as the loosely-typed mapping the estimation
// engine consumes. When train is set and the record carries a split, X, Y
// and T describe the training block only; the holdout arrays are always
// included when a split exists.
func (rec *Record) StanData(train bool) map[string]any {
	d := rec.Dims
	data := map[string]any{
		"R": d.R,
		"T": d.T,
		"A": d.A,
		"L": d.L,
		"C": d.C,
		"X": rec.X.Nested(),
		"Y": rec.Y.Nested(),
		"Z": nestedMatrix(rec.Z),
	}
	if rec.B != nil {
		data["B"] = nestedMatrix(rec.B)
	}
	if s := rec.Split; s != nil {
		data["Xtrain"] = s.Xtrain.Nested()
		data["Ytrain"] = s.Ytrain.Nested()
		data["Xtest"] = s.Xtest.Nested()
		data["Ytest"] = s.Ytest.Nested()
		if train {
			data["T"] = d.T - s.Holdout
			data["X"] = data["Xtrain"]
			data["Y"] = data["Ytrain"]
		}
	}
	return data
}
