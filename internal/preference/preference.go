// Package preference draws population-level hyperparameters and
// respondent-level part-worths from a hierarchical multivariate-normal prior.
package preference

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime"

	"github.com/nvandessel/choice-lab/internal/panel"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"
)

// Bounds of the uniform prior on the population mean part-worths.
const (
	GammaMin = -3.0
	GammaMax = 4.0
)

// OffDiagonal is the covariance shared by every pair of attribute levels
// in V_β. With the diagonal at 1.5 the implied correlation is 1/3.
const OffDiagonal = 0.5

// psdTolerance absorbs rounding in the eigenvalue check.
const psdTolerance = 1e-10

// ErrNotPSD indicates a covariance matrix that is not positive semi-definite.
var ErrNotPSD = errors.New("covariance is not positive semi-definite")

// Hyper holds the population-level parameters of one run. It is built once
// by DrawHyper and never mutated afterwards.
type Hyper struct {
	Gamma []float64     // population mean part-worths, length C·L
	VBeta *mat.SymDense // L×L covariance shared by every respondent

	chol *mat.Cholesky
}

// L returns the number of attribute levels.
func (h *Hyper) L() int {
	return h.VBeta.SymmetricDim()
}

// Covariance returns I_L + 0.5·J_L: variance 1.5 per level and a uniform
// 0.5 covariance between every pair of levels. It is positive definite
// with eigenvalues 1 (multiplicity L-1) and 1+0.5·L.
func Covariance(l int) *mat.SymDense {
	v := mat.NewSymDense(l, nil)
	for i := 0; i < l; i++ {
		for j := i; j < l; j++ {
			c := OffDiagonal
			if i == j {
				c += 1
			}
			v.SetSym(i, j, c)
		}
	}
	return v
}

// CheckPSD reports whether v is positive semi-definite.
func CheckPSD(v mat.Symmetric) error {
	var eig mat.EigenSym
	if ok := eig.Factorize(v, false); !ok {
		return fmt.Errorf("%w: eigen-decomposition failed", ErrNotPSD)
	}
	for i, ev := range eig.Values(nil) {
		if ev < -psdTolerance {
			return fmt.Errorf("%w: eigenvalue %d is %g", ErrNotPSD, i, ev)
		}
	}
	return nil
}

// DrawHyper draws Γ with each of its C·L entries uniform on [-3, 4] and
// builds V_β. C > 1 fails with panel.ErrUnsupportedCovariates before
// anything is allocated.
func DrawHyper(dims panel.Dims, src rand.Source) (*Hyper, error) {
	if err := dims.Validate(); err != nil {
		return nil, err
	}

	gamma := make([]float64, dims.C*dims.L)
	u := distuv.Uniform{Min: GammaMin, Max: GammaMax, Src: src}
	for i := range gamma {
		gamma[i] = u.Rand()
	}

	return NewHyper(gamma, Covariance(dims.L))
}

// NewHyper validates and freezes a set of hyperparameters.
func NewHyper(gamma []float64, vbeta *mat.SymDense) (*Hyper, error) {
	l := vbeta.SymmetricDim()
	if len(gamma) != l {
		return nil, fmt.Errorf("%w: Gamma has %d entries for %d levels", panel.ErrShapeMismatch, len(gamma), l)
	}
	if err := CheckPSD(vbeta); err != nil {
		return nil, err
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(vbeta); !ok {
		return nil, fmt.Errorf("%w: Cholesky factorization failed", ErrNotPSD)
	}
	return &Hyper{Gamma: gamma, VBeta: vbeta, chol: &chol}, nil
}

// DrawRespondent draws one part-worth vector from MultivariateNormal(Γ, V_β).
// It depends only on the hyperparameters and src.
func DrawRespondent(h *Hyper, src rand.Source) []float64 {
	return distmv.NewNormalChol(h.Gamma, h.chol, src).Rand(nil)
}

// DrawPanel fills the L×R part-worth matrix B, drawing column r from the
// source returned by sources(r). Respondents are independent given h, so
// the loop runs on up to workers goroutines without changing the result.
// workers <= 0 uses GOMAXPROCS.
func DrawPanel(ctx context.Context, h *Hyper, respondents int, sources func(r int) rand.Source, workers int) (*mat.Dense, error) {
	if respondents < 1 {
		return nil, fmt.Errorf("%w: R=%d", panel.ErrInvalidDims, respondents)
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	b := mat.NewDense(h.L(), respondents, nil)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for r := 0; r < respondents; r++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			b.SetCol(r, DrawRespondent(h, sources(r)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return b, nil
}
