package simulation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nvandessel/choice-lab/internal/choice"
	"github.com/nvandessel/choice-lab/internal/design"
	"github.com/nvandessel/choice-lab/internal/logging"
	"github.com/nvandessel/choice-lab/internal/panel"
	"github.com/nvandessel/choice-lab/internal/preference"
	"github.com/nvandessel/choice-lab/internal/random"
)

// Runner orchestrates the generative pipeline for a Scenario.
type Runner struct {
	logger *slog.Logger
	events *logging.RunLogger
}

// NewRunner creates a runner. A nil logger discards output; a nil events
// logger records nothing.
func NewRunner(logger *slog.Logger, events *logging.RunLogger) *Runner {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Runner{logger: logger, events: events}
}

// Run executes the scenario and returns the assembled record. It either
// returns a fully populated, validated record or an error; there is no
// partial result.
func (r *Runner) Run(ctx context.Context, sc Scenario) (*Result, error) {
	start := time.Now()
	dims := sc.Dims

	if err := dims.Validate(); err != nil {
		return nil, err
	}
	mode, err := choice.ParseNoiseMode(string(sc.Noise))
	if err != nil {
		return nil, err
	}
	if mode == choice.NoisePerAlternative {
		r.logger.Warn("per-alternative noise deviates from the reference generative process", "scenario", sc.Name)
	}
	seed, err := random.Resolve(sc.Seed)
	if err != nil {
		return nil, err
	}
	seeds := random.Seeds{Master: seed}
	log := r.logger.With("scenario", sc.Name, "seed", seed)
	log.Debug("simulation started", "dims", dims.String(), "noise", string(mode))

	// Phase 1: experimental design.
	x, z, err := design.Generate(dims, seeds.Source(random.StreamDesign, 0))
	if err != nil {
		return nil, fmt.Errorf("generating design: %w", err)
	}

	// Phase 2: population hyperparameters and respondent part-worths.
	hyper, err := preference.DrawHyper(dims, seeds.Source(random.StreamHyper, 0))
	if err != nil {
		return nil, fmt.Errorf("drawing hyperparameters: %w", err)
	}
	b, err := preference.DrawPanel(ctx, hyper, dims.R, seeds.Respondent(random.StreamPreference), sc.Workers)
	if err != nil {
		return nil, fmt.Errorf("drawing part-worths: %w", err)
	}
	log.Log(ctx, logging.LevelTrace, "hyperparameters drawn", "gamma", hyper.Gamma)

	// Phase 3: choices.
	noise := sc.NoiseOverride
	if noise == nil {
		noise = choice.GumbelSource{Sources: seeds.Respondent(random.StreamNoise)}
	}
	sim := &choice.Simulator{Noise: noise, Mode: mode, Workers: sc.Workers}
	y, err := sim.Simulate(ctx, x, b, dims)
	if err != nil {
		return nil, fmt.Errorf("simulating choices: %w", err)
	}

	// Phase 4: assemble the canonical record.
	rec, err := panel.Assemble(dims, x, z, b, y, hyper.Gamma)
	if err != nil {
		return nil, err
	}
	if sc.Holdout > 0 {
		if err := rec.WithHoldout(sc.Holdout); err != nil {
			return nil, fmt.Errorf("splitting holdout: %w", err)
		}
	}

	result := &Result{
		Name:    sc.Name,
		Seed:    seed,
		Noise:   mode,
		Record:  rec,
		Hyper:   hyper,
		Elapsed: time.Since(start),
	}

	log.Info("panel simulated", "dims", dims.String(), "elapsed", result.Elapsed)
	r.events.Log(map[string]any{
		"event":    "simulate",
		"scenario": sc.Name,
		"seed":     seed,
		"dims":     dims,
		"noise":    string(mode),
		"holdout":  sc.Holdout,
		"shares":   result.ChoiceShares(),
	})

	return result, nil
}
