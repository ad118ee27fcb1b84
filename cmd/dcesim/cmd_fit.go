package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/choice-lab/internal/gateway"
	"github.com/nvandessel/choice-lab/internal/recovery"
	"github.com/nvandessel/choice-lab/internal/store"
)

// newSampler builds the sampler used by fit. Tests replace it.
var newSampler = cmdStanSampler

// cmdStanSampler wires CmdStan to a model cache under sampler.cache_dir,
// defaulting to ~/.dcesim/models.
func cmdStanSampler(a *app) (gateway.Sampler, error) {
	home := a.cfg.CmdStanHome()
	if home == "" {
		return nil, fmt.Errorf("%w: set sampler.cmdstan_home or $CMDSTAN", gateway.ErrNoCmdStan)
	}
	cacheDir := a.cfg.Sampler.CacheDir
	if cacheDir == "" {
		global, err := store.GlobalPath()
		if err != nil {
			return nil, err
		}
		cacheDir = filepath.Join(global, "models")
	}

	cs := &gateway.CmdStan{
		Home:       home,
		KeepOutput: a.cfg.Sampler.KeepOutput,
		Logger:     a.logger,
	}
	cs.Cache = &gateway.ModelCache{
		Dir:       cacheDir,
		SourceDir: a.cfg.Sampler.ModelsDir,
		Compiler:  cs,
		Logger:    a.logger,
	}
	return cs, nil
}

type fitResult struct {
	FitID     string           `json:"fit_id"`
	RunID     string           `json:"run_id"`
	Model     string           `json:"model"`
	Chains    int              `json:"chains"`
	Draws     int              `json:"draws"`
	Train     bool             `json:"train,omitempty"`
	ElapsedMs int64            `json:"elapsed_ms"`
	Report    *recovery.Report `json:"report,omitempty"`
}

func newFitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fit <run-id>",
		Short: "Fit an HB-MNL model to a registered run",
		Long: `Fit a hierarchical Bayesian multinomial logit model to a run with
CmdStan. The model is compiled once per source revision and cached under
sampler.cache_dir. Chains run as separate CmdStan processes.

When the run carries true part-worths or a holdout split, the posterior is
scored against them and the recovery report is stored with the fit.

Examples:
  dcesim fit 3f2a9c1e-...                      # Sampler settings from config
  dcesim fit <run-id> --chains 2 --samples 500
  dcesim fit <run-id> --train --timeout 30m    # Fit training tasks only`,
		Args: cobra.ExactArgs(1),
		RunE: runFit,
	}

	cmd.Flags().String("model", "", "Model name (built-in or from sampler.models_dir)")
	cmd.Flags().Int("chains", 0, "Number of chains")
	cmd.Flags().Int("warmup", 0, "Warmup iterations per chain")
	cmd.Flags().Int("samples", 0, "Sampling iterations per chain")
	cmd.Flags().Uint64("seed", 0, "Sampler seed; 0 lets CmdStan choose")
	cmd.Flags().Int("parallel", 0, "Chains run at once; 0 runs all")
	cmd.Flags().Bool("train", false, "Fit only the training tasks of a holdout split")
	cmd.Flags().Duration("timeout", 0, "Abort the fit after this long")

	return cmd
}

func runFit(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := a.cfg.Sampler.Options()
	flags := cmd.Flags()
	if flags.Changed("model") {
		opts.Model, _ = flags.GetString("model")
	}
	if flags.Changed("chains") {
		opts.Chains, _ = flags.GetInt("chains")
	}
	if flags.Changed("warmup") {
		opts.Warmup, _ = flags.GetInt("warmup")
	}
	if flags.Changed("samples") {
		opts.Samples, _ = flags.GetInt("samples")
	}
	if flags.Changed("seed") {
		opts.Seed, _ = flags.GetUint64("seed")
	}
	if flags.Changed("parallel") {
		opts.Parallel, _ = flags.GetInt("parallel")
	}
	opts.Train, _ = flags.GetBool("train")
	timeout := a.cfg.Sampler.Timeout
	if flags.Changed("timeout") {
		timeout, _ = flags.GetDuration("timeout")
	}
	if err := opts.Validate(); err != nil {
		return err
	}

	runs, err := a.openStore()
	if err != nil {
		return err
	}
	defer runs.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	run, err := runs.GetRun(ctx, args[0])
	if err != nil {
		return err
	}

	sampler, err := newSampler(a)
	if err != nil {
		return err
	}

	fitCtx := ctx
	if timeout > 0 {
		var stop context.CancelFunc
		fitCtx, stop = context.WithTimeout(ctx, timeout)
		defer stop()
	}

	start := time.Now()
	draws, err := gateway.New(sampler, a.logger, a.events).Fit(fitCtx, run.Record, opts)
	if err != nil {
		return fmt.Errorf("fit failed: %w", err)
	}
	elapsed := time.Since(start)

	report, err := recovery.Compare(run.Record, draws)
	switch {
	case errors.Is(err, recovery.ErrNothingToCompare):
		a.logger.Info("no recovery report", "run", run.ID, "reason", err)
	case err != nil:
		return fmt.Errorf("scoring fit: %w", err)
	}

	var summary json.RawMessage
	if report != nil {
		if summary, err = json.Marshal(report); err != nil {
			return fmt.Errorf("encoding report: %w", err)
		}
	}
	fit, err := runs.SaveFit(ctx, store.Fit{
		RunID:   run.ID,
		Model:   opts.Model,
		Chains:  opts.Chains,
		Draws:   draws.Len(),
		Elapsed: elapsed,
		Summary: summary,
	})
	if err != nil {
		return fmt.Errorf("saving fit: %w", err)
	}

	out := fitResult{
		FitID:     fit.ID,
		RunID:     run.ID,
		Model:     opts.Model,
		Chains:    opts.Chains,
		Draws:     draws.Len(),
		Train:     opts.Train,
		ElapsedMs: elapsed.Milliseconds(),
		Report:    report,
	}
	if a.jsonOut {
		return writeJSON(cmd, out)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Fit %s: %s on run %s, %d chains, %d draws in %v\n",
		out.FitID, out.Model, out.RunID, out.Chains, out.Draws, elapsed.Round(time.Millisecond))
	if report != nil {
		printReport(cmd, report)
	}
	return nil
}

func printReport(cmd *cobra.Command, r *recovery.Report) {
	w := cmd.OutOrStdout()
	line := func(label string, v *float64) {
		if v != nil {
			fmt.Fprintf(w, "  %-17s %.4f\n", label+":", *v)
		}
	}
	line("beta rmse", r.BetaRMSE)
	line("beta corr", r.BetaCorr)
	line("gamma rmse", r.GammaRMSE)
	line("hit rate", r.HitRate)
	line("holdout hit rate", r.HoldoutHitRate)
	line("holdout loglik", r.HoldoutLogLik)
}
