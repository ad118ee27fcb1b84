package simulation

import (
	"time"

	"github.com/nvandessel/choice-lab/internal/choice"
	"github.com/nvandessel/choice-lab/internal/panel"
	"github.com/nvandessel/choice-lab/internal/preference"
)

// DemoDims are the dimensions of the reference demo run.
var DemoDims = panel.Dims{R: 5, T: 5, A: 3, L: 10, C: 1}

// Scenario defines one synthetic panel.
type Scenario struct {
	Name string
	Dims panel.Dims

	// Seed is the master seed. Zero draws a fresh seed, which is reported
	// in the Result.
	Seed uint64

	// Noise selects the error dimensionality. Empty means
	// choice.NoiseCovariate.
	Noise choice.NoiseMode

	// NoiseOverride, when non-nil, replaces the seeded Gumbel source.
	// Tests use choice.ZeroSource{} to check the decision rule alone.
	NoiseOverride choice.NoiseSource

	// Holdout, when positive, attaches a positional train/holdout split
	// with this many trailing tasks.
	Holdout int

	// Workers bounds the goroutines used by respondent loops. Zero uses
	// GOMAXPROCS.
	Workers int
}

// Result is the outcome of one simulation run.
type Result struct {
	Name    string
	Seed    uint64
	Noise   choice.NoiseMode
	Record  *panel.Record
	Hyper   *preference.Hyper
	Elapsed time.Duration
}

// ChoiceShares returns the fraction of all tasks in which each alternative
// position was chosen.
func (r *Result) ChoiceShares() []float64 {
	return ChoiceShares(r.Record.Y, r.Record.Dims.A)
}

// ChoiceShares returns the fraction of tasks in y won by each of the a
// alternative positions.
func ChoiceShares(y *panel.Choices, a int) []float64 {
	shares := make([]float64, a)
	if len(y.Data) == 0 {
		return shares
	}
	for _, v := range y.Data {
		shares[v-1]++
	}
	for i := range shares {
		shares[i] /= float64(len(y.Data))
	}
	return shares
}
