package ingest

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nvandessel/choice-lab/internal/panel"
)

// File names LoadDir expects inside a survey directory.
const (
	DesignFile  = "X.csv"
	ChoicesFile = "Y.csv"
)

// LoadDir reads X.csv and Y.csv from dir and assembles a survey record with
// a single intercept covariate and a positional holdout split. A holdout of
// zero uses panel.DefaultHoldout.
func LoadDir(dir string, holdout int) (*panel.Record, error) {
	x, err := readFile(filepath.Join(dir, DesignFile), ReadDesign)
	if err != nil {
		return nil, err
	}
	y, err := readFile(filepath.Join(dir, ChoicesFile), ReadChoices)
	if err != nil {
		return nil, err
	}
	return Build(x, y, holdout)
}

// Build assembles a survey record from a parsed design and choice table.
func Build(x *panel.Design, y *panel.Choices, holdout int) (*panel.Record, error) {
	if x.R != y.R || x.T != y.T {
		return nil, fmt.Errorf("%w: design has R=%d T=%d, choices have R=%d T=%d",
			panel.ErrShapeMismatch, x.R, x.T, y.R, y.T)
	}
	dims := panel.Dims{R: x.R, T: x.T, A: x.A, L: x.L, C: 1}
	z, err := panel.Ones(dims)
	if err != nil {
		return nil, err
	}
	rec := &panel.Record{
		Kind: panel.KindSurvey,
		Dims: dims,
		X:    x,
		Z:    z,
		Y:    y,
	}
	if holdout == 0 {
		holdout = panel.DefaultHoldout
	}
	if err := rec.WithHoldout(holdout); err != nil {
		return nil, err
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

func readFile[T any](path string, parse func(io.Reader) (T, error)) (T, error) {
	var zero T
	f, err := os.Open(path)
	if err != nil {
		return zero, fmt.Errorf("opening %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	v, err := parse(f)
	if err != nil {
		return zero, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	return v, nil
}
