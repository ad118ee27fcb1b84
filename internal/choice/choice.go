// Package choice simulates discrete choices under random-utility
// maximization: each respondent picks the alternative whose utility,
// a linear function of the design plus Gumbel noise, is highest.
package choice

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"github.com/nvandessel/choice-lab/internal/panel"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Simulator computes the choice matrix Y from a design and part-worths.
type Simulator struct {
	Noise   NoiseSource
	Mode    NoiseMode
	Workers int // <= 0 uses GOMAXPROCS
}

// Simulate returns Y[r, t] = argmax(X[r,t]·B[:,r] + ε) + 1 for every
// respondent and task. Respondents draw noise from their own stream, so
// the result does not depend on Workers.
func (s *Simulator) Simulate(ctx context.Context, x *panel.Design, b *mat.Dense, dims panel.Dims) (*panel.Choices, error) {
	if err := dims.Validate(); err != nil {
		return nil, err
	}
	if x.Shape() != [4]int{dims.R, dims.T, dims.A, dims.L} {
		return nil, fmt.Errorf("%w: X is %v for %s", panel.ErrShapeMismatch, x.Shape(), dims)
	}
	if l, r := b.Dims(); l != dims.L || r != dims.R {
		return nil, fmt.Errorf("%w: B is %dx%d for %s", panel.ErrShapeMismatch, l, r, dims)
	}
	mode := s.Mode
	if mode == "" {
		mode = NoiseCovariate
	}
	noiseLen := dims.C
	if mode == NoisePerAlternative {
		noiseLen = dims.A
	}
	src := s.Noise
	if src == nil {
		src = ZeroSource{}
	}
	workers := s.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	y := panel.NewChoices(dims.R, dims.T)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for r := 0; r < dims.R; r++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			beta := mat.NewVecDense(dims.L, mat.Col(nil, r, b))
			noise := src.ForRespondent(r)
			eps := make([]float64, noiseLen)
			u := mat.NewVecDense(dims.A, nil)
			for t := 0; t < dims.T; t++ {
				u.MulVec(x.Task(r, t), beta)
				noise.Fill(eps)
				addNoise(u.RawVector().Data, eps)
				y.Set(r, t, Decide(u.RawVector().Data))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return y, nil
}

// addNoise adds eps to u, broadcasting a single draw to every alternative.
func addNoise(u, eps []float64) {
	if len(eps) == 1 {
		floats.AddConst(eps[0], u)
		return
	}
	floats.Add(u, eps)
}

// Utilities returns the deterministic utility X·β of every alternative in
// one task.
func Utilities(task mat.Matrix, beta []float64) []float64 {
	a, _ := task.Dims()
	var u mat.VecDense
	u.MulVec(task, mat.NewVecDense(len(beta), beta))
	out := make([]float64, a)
	for i := range out {
		out[i] = u.AtVec(i)
	}
	return out
}

// Decide returns the 1-based index of the highest utility. Ties go to the
// lowest index.
func Decide(u []float64) int {
	return floats.MaxIdx(u) + 1
}

// Probabilities returns the multinomial-logit choice probabilities
// softmax(u). Adding i.i.d. standard Gumbel noise to u and taking the
// argmax selects alternative i with exactly this probability.
func Probabilities(u []float64) []float64 {
	lse := floats.LogSumExp(u)
	p := make([]float64, len(u))
	for i, v := range u {
		p[i] = math.Exp(v - lse)
	}
	return p
}
