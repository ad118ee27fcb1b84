package choice

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// NoiseMode selects how many idiosyncratic error draws are made per task.
type NoiseMode string

const (
	// NoiseCovariate draws a noise vector of length C (always 1) and adds
	// it to every alternative. This reproduces the reference generative
	// process exactly: the shift is common to all alternatives and only
	// matters when deterministic utilities tie.
	NoiseCovariate NoiseMode = "covariate"

	// NoisePerAlternative draws one independent Gumbel error per
	// alternative, which makes the simulated choices follow the
	// multinomial-logit probabilities.
	NoisePerAlternative NoiseMode = "alternative"
)

// ParseNoiseMode maps a configuration value to a NoiseMode. The empty
// string selects NoiseCovariate.
func ParseNoiseMode(s string) (NoiseMode, error) {
	switch NoiseMode(s) {
	case "", NoiseCovariate:
		return NoiseCovariate, nil
	case NoisePerAlternative:
		return NoisePerAlternative, nil
	default:
		return "", fmt.Errorf("invalid noise mode %q (valid: %s, %s)", s, NoiseCovariate, NoisePerAlternative)
	}
}

// Noise fills dst with idiosyncratic utility errors.
type Noise interface {
	Fill(dst []float64)
}

// NoiseSource hands out the private noise stream of each respondent.
type NoiseSource interface {
	ForRespondent(r int) Noise
}

// StandardGumbel maps u in (0, 1) to a standard Gumbel variate through the
// inverse CDF, -log(-log(u)).
func StandardGumbel(u float64) float64 {
	return -math.Log(-math.Log(u))
}

// GumbelSource draws standard Gumbel errors from per-respondent sources.
type GumbelSource struct {
	Sources func(r int) rand.Source
}

// ForRespondent implements NoiseSource.
func (g GumbelSource) ForRespondent(r int) Noise {
	return &gumbelNoise{u: distuv.Uniform{Min: 0, Max: 1, Src: g.Sources(r)}}
}

type gumbelNoise struct {
	u distuv.Uniform
}

func (g *gumbelNoise) Fill(dst []float64) {
	for i := range dst {
		u := g.u.Rand()
		for u == 0 {
			u = g.u.Rand()
		}
		dst[i] = StandardGumbel(u)
	}
}

// ZeroSource produces no noise at all, turning the choice rule into a pure
// argmax of deterministic utilities.
type ZeroSource struct{}

// ForRespondent implements NoiseSource.
func (ZeroSource) ForRespondent(int) Noise { return zeroNoise{} }

type zeroNoise struct{}

func (zeroNoise) Fill(dst []float64) {
	for i := range dst {
		dst[i] = 0
	}
}
