package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/choice-lab/internal/archive"
	"github.com/nvandessel/choice-lab/internal/panel"
	"github.com/nvandessel/choice-lab/internal/simulation"
	"github.com/nvandessel/choice-lab/internal/store"
)

type simulateResult struct {
	RunID     string     `json:"run_id,omitempty"`
	Name      string     `json:"name,omitempty"`
	Seed      uint64     `json:"seed"`
	Noise     string     `json:"noise"`
	Dims      panel.Dims `json:"dims"`
	Holdout   int        `json:"holdout,omitempty"`
	Shares    []float64  `json:"shares"`
	ElapsedMs int64      `json:"elapsed_ms"`
	Archive   string     `json:"archive,omitempty"`
	Pruned    []string   `json:"pruned,omitempty"`
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Simulate a choice panel with known part-worths",
		Long: `Simulate a discrete-choice panel: a binary design, individual
part-worths drawn from a hierarchical prior, and the choices a logit
decision maker would make. Unset flags fall back to the simulation
section of ~/.dcesim/config.yaml.

The panel is registered as a run unless --no-save is given. With
--archive the record is also written to .dcesim/archives/ and old
archives are pruned according to the store settings.

Examples:
  dcesim simulate                              # Demo panel from config
  dcesim simulate --respondents 2 --tasks 3 --seed 7
  dcesim simulate --holdout 5 --archive        # Keep a holdout split and an archive
  dcesim simulate --noise alternative --json`,
		RunE: runSimulate,
	}

	cmd.Flags().String("name", "", "Label stored with the run")
	cmd.Flags().Int("respondents", 0, "Number of respondents R")
	cmd.Flags().Int("tasks", 0, "Choice tasks per respondent T")
	cmd.Flags().Int("alternatives", 0, "Alternatives per task A")
	cmd.Flags().Int("levels", 0, "Attribute levels per alternative L")
	cmd.Flags().Int("covariates", 0, "Respondent covariates C (only 1 is supported)")
	cmd.Flags().Uint64("seed", 0, "Master seed; 0 draws a fresh one")
	cmd.Flags().String("noise", "", "Error dimensionality: covariate or alternative")
	cmd.Flags().Int("holdout", 0, "Trailing tasks held out for validation")
	cmd.Flags().Int("workers", 0, "Respondents simulated in parallel; 0 uses GOMAXPROCS")
	cmd.Flags().Bool("no-save", false, "Simulate without registering a run")
	cmd.Flags().Bool("archive", false, "Also write the record to .dcesim/archives")

	return cmd
}

func runSimulate(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	sim := a.cfg.Simulation
	flags := cmd.Flags()
	if flags.Changed("respondents") {
		sim.Respondents, _ = flags.GetInt("respondents")
	}
	if flags.Changed("tasks") {
		sim.Tasks, _ = flags.GetInt("tasks")
	}
	if flags.Changed("alternatives") {
		sim.Alternatives, _ = flags.GetInt("alternatives")
	}
	if flags.Changed("levels") {
		sim.Levels, _ = flags.GetInt("levels")
	}
	if flags.Changed("covariates") {
		sim.Covariates, _ = flags.GetInt("covariates")
	}
	if flags.Changed("seed") {
		sim.Seed, _ = flags.GetUint64("seed")
	}
	if flags.Changed("noise") {
		sim.Noise, _ = flags.GetString("noise")
	}
	if flags.Changed("holdout") {
		sim.Holdout, _ = flags.GetInt("holdout")
	}
	if flags.Changed("workers") {
		sim.Workers, _ = flags.GetInt("workers")
	}
	name, _ := flags.GetString("name")
	noSave, _ := flags.GetBool("no-save")
	doArchive, _ := flags.GetBool("archive")

	scenario, err := sim.Scenario(name)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	res, err := simulation.NewRunner(a.logger, a.events).Run(ctx, scenario)
	if err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}

	out := simulateResult{
		Name:      name,
		Seed:      res.Seed,
		Noise:     string(res.Noise),
		Dims:      res.Record.Dims,
		Holdout:   scenario.Holdout,
		Shares:    res.ChoiceShares(),
		ElapsedMs: res.Elapsed.Milliseconds(),
	}

	if !noSave {
		runs, err := a.openStore()
		if err != nil {
			return err
		}
		defer runs.Close()

		run, err := runs.SaveRun(ctx, store.Run{
			Name:   name,
			Seed:   res.Seed,
			Noise:  string(res.Noise),
			Source: "simulate",
			Record: res.Record,
		})
		if err != nil {
			return fmt.Errorf("saving run: %w", err)
		}
		out.RunID = run.ID
	}

	if doArchive {
		path, pruned, err := a.archiveRecord(res.Record, out.RunID, map[string]string{
			"run_id": out.RunID,
			"name":   name,
			"seed":   fmt.Sprint(res.Seed),
			"noise":  string(res.Noise),
			"source": "simulate",
		})
		if err != nil {
			return err
		}
		out.Archive = path
		out.Pruned = pruned
	}

	if a.jsonOut {
		return writeJSON(cmd, out)
	}

	w := cmd.OutOrStdout()
	if out.RunID != "" {
		fmt.Fprintf(w, "Simulated %s with seed %d -> run %s\n", out.Dims, out.Seed, out.RunID)
	} else {
		fmt.Fprintf(w, "Simulated %s with seed %d (not saved)\n", out.Dims, out.Seed)
	}
	fmt.Fprintf(w, "  noise:   %s\n", out.Noise)
	if out.Holdout > 0 {
		fmt.Fprintf(w, "  holdout: %d tasks\n", out.Holdout)
	}
	fmt.Fprintf(w, "  shares: ")
	for i, s := range out.Shares {
		fmt.Fprintf(w, " %d:%.3f", i+1, s)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  elapsed: %v\n", res.Elapsed.Round(time.Millisecond))
	if out.Archive != "" {
		fmt.Fprintf(w, "  archive: %s\n", out.Archive)
		for _, p := range out.Pruned {
			fmt.Fprintf(w, "  pruned:  %s\n", filepath.Base(p))
		}
	}
	return nil
}

// archiveRecord writes rec into the project's archive directory and applies
// the configured retention. It returns the new path and any pruned paths.
func (a *app) archiveRecord(rec *panel.Record, runID string, metadata map[string]string) (string, []string, error) {
	dir := store.ArchivePath(a.root)
	path := filepath.Join(dir, archiveName(time.Now(), runID))
	if _, err := archive.Write(path, rec, metadata); err != nil {
		return "", nil, fmt.Errorf("writing archive: %w", err)
	}

	var pruned []string
	if n := a.cfg.Store.KeepArchives; n > 0 {
		deleted, err := archive.Prune(dir, &archive.CountPolicy{MaxCount: n})
		if err != nil {
			return path, pruned, fmt.Errorf("pruning archives: %w", err)
		}
		pruned = append(pruned, deleted...)
	}
	if age := a.cfg.Store.MaxArchiveAge; age > 0 {
		deleted, err := archive.Prune(dir, &archive.AgePolicy{MaxAge: age})
		if err != nil {
			return path, pruned, fmt.Errorf("pruning archives: %w", err)
		}
		pruned = append(pruned, deleted...)
	}
	return path, pruned, nil
}

// archiveName is a sortable file name for an archive written at t.
func archiveName(t time.Time, runID string) string {
	name := "dcesim-" + t.UTC().Format("20060102-150405.000")
	if runID != "" {
		name += "-" + shortID(runID)
	}
	return name + archive.Ext
}

// shortID returns the first eight characters of a run ID.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
