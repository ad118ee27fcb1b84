// Package gateway is the boundary to the external Bayesian sampler. It
// hands a canonical panel record to a Sampler in the sampler's data layout
// and returns the posterior draws, which it treats as opaque apart from
// lookup by parameter name.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nvandessel/choice-lab/internal/logging"
	"github.com/nvandessel/choice-lab/internal/panel"
)

// DefaultModel is the hierarchical Bayesian multinomial logit model shipped
// with dcesim.
const DefaultModel = "hbmnl"

// ErrInvalidOptions reports fit options that cannot be passed to a sampler.
var ErrInvalidOptions = errors.New("invalid fit options")

// Options control a single fit.
type Options struct {
	Model   string `json:"model" yaml:"model"`
	Chains  int    `json:"chains" yaml:"chains"`
	Warmup  int    `json:"warmup" yaml:"warmup"`
	Samples int    `json:"samples" yaml:"samples"`
	Seed    uint64 `json:"seed,omitempty" yaml:"seed"`

	// Parallel bounds how many chains run at once. Zero runs every chain
	// concurrently.
	Parallel int `json:"parallel,omitempty" yaml:"parallel"`

	// Train fits the leading training block only when the record carries a
	// holdout split.
	Train bool `json:"train,omitempty" yaml:"train"`
}

// DefaultOptions returns four chains of 1000 warmup and 1000 sampling
// iterations.
func DefaultOptions() Options {
	return Options{
		Model:   DefaultModel,
		Chains:  4,
		Warmup:  1000,
		Samples: 1000,
	}
}

// Validate checks that the options describe a runnable fit.
func (o Options) Validate() error {
	switch {
	case o.Model == "":
		return fmt.Errorf("%w: model name is required", ErrInvalidOptions)
	case o.Chains < 1:
		return fmt.Errorf("%w: chains must be at least 1, got %d", ErrInvalidOptions, o.Chains)
	case o.Samples < 1:
		return fmt.Errorf("%w: samples must be at least 1, got %d", ErrInvalidOptions, o.Samples)
	case o.Warmup < 0:
		return fmt.Errorf("%w: warmup must not be negative, got %d", ErrInvalidOptions, o.Warmup)
	case o.Parallel < 0:
		return fmt.Errorf("%w: parallel must not be negative, got %d", ErrInvalidOptions, o.Parallel)
	}
	return nil
}

// Sampler runs a model against sampler-layout data and returns the draws.
// Implementations may block for a long time; they must honor ctx.
type Sampler interface {
	Fit(ctx context.Context, data map[string]any, opts Options) (*Draws, error)
}

// Gateway validates records and forwards them to a Sampler.
type Gateway struct {
	sampler Sampler
	logger  *slog.Logger
	events  *logging.RunLogger
}

// New creates a gateway. A nil logger discards output; a nil events logger
// records nothing.
func New(sampler Sampler, logger *slog.Logger, events *logging.RunLogger) *Gateway {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Gateway{sampler: sampler, logger: logger, events: events}
}

// Fit validates rec, renders it in the sampler's data layout and runs the
// sampler. Structural problems abort before the sampler is called. Sampler
// errors are returned exactly as the sampler produced them.
func (g *Gateway) Fit(ctx context.Context, rec *panel.Record, opts Options) (*Draws, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("refusing to fit: %w", err)
	}
	if opts.Train && rec.Split == nil {
		return nil, fmt.Errorf("%w: train requested but record has no holdout split", ErrInvalidOptions)
	}

	data := rec.StanData(opts.Train)
	log := g.logger.With("model", opts.Model, "dims", rec.Dims.String())
	log.Info("fit started", "chains", opts.Chains, "warmup", opts.Warmup, "samples", opts.Samples, "train", opts.Train)
	log.Log(ctx, logging.LevelTrace, "fit data keys", "keys", sortedKeys(data))

	start := time.Now()
	draws, err := g.sampler.Fit(ctx, data, opts)
	elapsed := time.Since(start)
	if err != nil {
		log.Error("fit failed", "error", err, "elapsed", elapsed)
		return nil, err
	}
	if draws == nil {
		return nil, fmt.Errorf("sampler returned no draws")
	}

	log.Info("fit finished", "draws", draws.Len(), "params", len(draws.Columns()), "elapsed", elapsed)
	g.events.Log(map[string]any{
		"event":   "fit",
		"model":   opts.Model,
		"dims":    rec.Dims,
		"chains":  opts.Chains,
		"draws":   draws.Len(),
		"elapsed": elapsed.String(),
	})
	return draws, nil
}
