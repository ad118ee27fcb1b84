// Package design generates synthetic experimental designs for discrete
// choice surveys.
package design

import (
	"math/rand/v2"

	"github.com/nvandessel/choice-lab/internal/panel"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// LevelProbability is the chance that any single attribute level is shown
// in an alternative.
const LevelProbability = 0.5

// Generate draws a fully randomized binary design X of shape [R, T, A, L]
// and the R×C covariate matrix Z.
//
// Every cell is an independent Bernoulli(0.5) draw; no balance or
// orthogonality constraint is applied. Cells are drawn respondent by
// respondent, task by task, alternative by alternative, so the result is
// fully determined by src.
//
// Dimensions are validated before anything is allocated; C > 1 fails with
// panel.ErrUnsupportedCovariates.
func Generate(dims panel.Dims, src rand.Source) (*panel.Design, *mat.Dense, error) {
	if err := dims.Validate(); err != nil {
		return nil, nil, err
	}

	x := panel.NewDesign(dims.R, dims.T, dims.A, dims.L)
	coin := distuv.Bernoulli{P: LevelProbability, Src: src}
	for i := range x.Data {
		x.Data[i] = coin.Rand()
	}

	z, err := panel.Ones(dims)
	if err != nil {
		return nil, nil, err
	}
	return x, z, nil
}

// LevelFrequencies returns, for each attribute level, the share of
// alternatives across the whole design in which it is shown.
func LevelFrequencies(x *panel.Design) []float64 {
	freq := make([]float64, x.L)
	rows := x.R * x.T * x.A
	if rows == 0 {
		return freq
	}
	for i, v := range x.Data {
		freq[i%x.L] += v
	}
	for l := range freq {
		freq[l] /= float64(rows)
	}
	return freq
}
