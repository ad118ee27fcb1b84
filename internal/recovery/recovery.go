// Package recovery scores a fit against the panel it was made on: how close
// the posterior means land to the true simulated parameters, and how well
// the fitted part-worths predict held-out choices.
package recovery

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/nvandessel/choice-lab/internal/choice"
	"github.com/nvandessel/choice-lab/internal/gateway"
	"github.com/nvandessel/choice-lab/internal/panel"
)

// Parameter names in the fitted model.
const (
	ParamBeta  = "B"
	ParamGamma = "Gamma"
)

// ErrNothingToCompare is returned when neither true parameters nor a
// holdout split are available.
var ErrNothingToCompare = errors.New("record has no true parameters and no holdout split")

// Report summarizes parameter recovery and predictive accuracy. Fields that
// cannot be computed for a record are left nil.
type Report struct {
	Draws int `json:"draws"`

	BetaRMSE *float64 `json:"beta_rmse,omitempty"`
	// BetaCorr is nil when the correlation is undefined: a single
	// part-worth, or constant true or estimated values.
	BetaCorr *float64 `json:"beta_corr,omitempty"`

	GammaRMSE *float64 `json:"gamma_rmse,omitempty"`

	// HitRate is the in-sample share of tasks where the highest-utility
	// alternative under the posterior-mean part-worths is the observed
	// choice. With a split it covers the training tasks only.
	HitRate *float64 `json:"hit_rate,omitempty"`

	// HoldoutHitRate and HoldoutLogLik score the trailing holdout tasks.
	// HoldoutLogLik is the mean per-task log probability of the observed
	// choice under the logit model.
	HoldoutHitRate *float64 `json:"holdout_hit_rate,omitempty"`
	HoldoutLogLik  *float64 `json:"holdout_loglik,omitempty"`
}

// Compare scores draws against rec.
func Compare(rec *panel.Record, draws *gateway.Draws) (*Report, error) {
	if rec.B == nil && rec.Split == nil {
		return nil, ErrNothingToCompare
	}
	bhat, err := draws.MeanMatrix(ParamBeta)
	if err != nil {
		return nil, fmt.Errorf("posterior part-worths: %w", err)
	}
	if r, c := bhat.Dims(); r != rec.Dims.L || c != rec.Dims.R {
		return nil, fmt.Errorf("%w: posterior %s is %dx%d, want %dx%d", panel.ErrShapeMismatch, ParamBeta, r, c, rec.Dims.L, rec.Dims.R)
	}

	report := &Report{Draws: draws.Len()}

	if rec.B != nil {
		truth := denseData(rec.B)
		est := denseData(bhat)
		report.BetaRMSE = ptr(RMSE(truth, est))
		report.BetaCorr = correlation(truth, est)
	}

	if rec.Gamma != nil {
		ghat, _, err := draws.Mean(ParamGamma)
		switch {
		case errors.Is(err, gateway.ErrUnknownParam):
			// model without a population mean
		case err != nil:
			return nil, fmt.Errorf("posterior population means: %w", err)
		case len(ghat) != len(rec.Gamma):
			return nil, fmt.Errorf("%w: posterior %s has %d entries, want %d", panel.ErrShapeMismatch, ParamGamma, len(ghat), len(rec.Gamma))
		default:
			report.GammaRMSE = ptr(RMSE(rec.Gamma, ghat))
		}
	}

	if s := rec.Split; s != nil {
		hits, _ := Score(s.Xtrain, s.Ytrain, bhat)
		report.HitRate = ptr(hits)
		hits, loglik := Score(s.Xtest, s.Ytest, bhat)
		report.HoldoutHitRate = ptr(hits)
		report.HoldoutLogLik = ptr(loglik)
	} else {
		hits, _ := Score(rec.X, rec.Y, bhat)
		report.HitRate = ptr(hits)
	}
	return report, nil
}

// Score predicts every task in x with the part-worths in b (L×R) and returns
// the hit rate and the mean log probability of the observed choices.
func Score(x *panel.Design, y *panel.Choices, b *mat.Dense) (hitRate, meanLogLik float64) {
	var hits, loglik float64
	n := 0
	for r := 0; r < x.R; r++ {
		beta := mat.Col(nil, r, b)
		for t := 0; t < x.T; t++ {
			u := choice.Utilities(x.Task(r, t), beta)
			observed := y.At(r, t)
			if choice.Decide(u) == observed {
				hits++
			}
			loglik += u[observed-1] - floats.LogSumExp(u)
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return hits / float64(n), loglik / float64(n)
}

// RMSE is the root mean squared difference between a and b.
func RMSE(a, b []float64) float64 {
	if len(a) == 0 {
		return 0
	}
	return floats.Distance(a, b, 2) / math.Sqrt(float64(len(a)))
}

func denseData(m *mat.Dense) []float64 {
	r, c := m.Dims()
	out := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		out = append(out, m.RawRowView(i)...)
	}
	return out
}

// correlation returns the Pearson correlation of a and b, or nil when
// either side has fewer than two values or no variance.
func correlation(a, b []float64) *float64 {
	if len(a) < 2 || stat.Variance(a, nil) == 0 || stat.Variance(b, nil) == 0 {
		return nil
	}
	return ptr(stat.Correlation(a, b, nil))
}

// ptr returns nil for non-finite v so reports always encode as JSON.
func ptr(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
