package mcp

import (
	"time"

	"github.com/nvandessel/choice-lab/internal/panel"
	"github.com/nvandessel/choice-lab/internal/store"
)

// SimulateInput defines the input for the dce_simulate tool. Zero values
// fall back to the configured simulation defaults.
type SimulateInput struct {
	Name         string `json:"name,omitempty" jsonschema:"label stored with the run"`
	Respondents  int    `json:"respondents,omitempty" jsonschema:"number of respondents R"`
	Tasks        int    `json:"tasks,omitempty" jsonschema:"choice tasks per respondent T"`
	Alternatives int    `json:"alternatives,omitempty" jsonschema:"alternatives per task A"`
	Levels       int    `json:"levels,omitempty" jsonschema:"attribute levels per alternative L"`
	Seed         uint64 `json:"seed,omitempty" jsonschema:"master seed; 0 draws a fresh one"`
	Noise        string `json:"noise,omitempty" jsonschema:"error dimensionality: covariate (default) or alternative"`
	Holdout      int    `json:"holdout,omitempty" jsonschema:"trailing tasks held out for validation; 0 for none"`
	DryRun       bool   `json:"dry_run,omitempty" jsonschema:"simulate without saving the run"`
}

// SimulateOutput defines the output for the dce_simulate tool.
type SimulateOutput struct {
	RunID     string     `json:"run_id,omitempty" jsonschema:"ID of the saved run; empty on dry runs"`
	Seed      uint64     `json:"seed" jsonschema:"master seed used, for reproduction"`
	Noise     string     `json:"noise" jsonschema:"error dimensionality used"`
	Dims      panel.Dims `json:"dims" jsonschema:"panel dimensions"`
	Shares    []float64  `json:"shares" jsonschema:"fraction of tasks won by each alternative position"`
	ElapsedMs int64      `json:"elapsed_ms" jsonschema:"simulation wall time"`
	Message   string     `json:"message" jsonschema:"human-readable result message"`
}

// LoadInput defines the input for the dce_load tool.
type LoadInput struct {
	Dir     string `json:"dir" jsonschema:"directory holding X.csv and Y.csv, relative to the project root"`
	Name    string `json:"name,omitempty" jsonschema:"label stored with the run"`
	Holdout int    `json:"holdout,omitempty" jsonschema:"trailing tasks held out for validation; 0 uses the configured default"`
}

// LoadOutput defines the output for the dce_load tool.
type LoadOutput struct {
	RunID   string     `json:"run_id" jsonschema:"ID of the saved run"`
	Dims    panel.Dims `json:"dims" jsonschema:"panel dimensions inferred from the files"`
	Holdout int        `json:"holdout" jsonschema:"trailing tasks held out"`
	Message string     `json:"message" jsonschema:"human-readable result message"`
}

// RunsInput defines the input for the dce_runs tool.
type RunsInput struct {
	RunID string `json:"run_id,omitempty" jsonschema:"show one run and its fits instead of listing"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum runs to list; 0 lists 20"`
}

// RunsOutput defines the output for the dce_runs tool.
type RunsOutput struct {
	Runs  []RunItem `json:"runs" jsonschema:"registered runs, newest first"`
	Fits  []FitItem `json:"fits,omitempty" jsonschema:"fits made against run_id"`
	Count int       `json:"count" jsonschema:"number of runs returned"`
}

// RunItem is a list view of a stored run.
type RunItem struct {
	ID        string     `json:"id"`
	Name      string     `json:"name,omitempty"`
	Kind      string     `json:"kind"`
	CreatedAt string     `json:"created_at"`
	Seed      uint64     `json:"seed,omitempty"`
	Noise     string     `json:"noise,omitempty"`
	Dims      panel.Dims `json:"dims"`
	Holdout   int        `json:"holdout,omitempty"`
	Source    string     `json:"source,omitempty"`
}

// FitItem is a list view of a stored fit.
type FitItem struct {
	ID        string `json:"id"`
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Chains    int    `json:"chains"`
	Draws     int    `json:"draws"`
	ElapsedMs int64  `json:"elapsed_ms"`
	Summary   string `json:"summary,omitempty"`
}

func runItem(r store.Run) RunItem {
	return RunItem{
		ID:        r.ID,
		Name:      r.Name,
		Kind:      string(r.Kind),
		CreatedAt: r.CreatedAt.Format(time.RFC3339),
		Seed:      r.Seed,
		Noise:     r.Noise,
		Dims:      r.Dims,
		Holdout:   r.Holdout,
		Source:    r.Source,
	}
}

func fitItem(f store.Fit) FitItem {
	return FitItem{
		ID:        f.ID,
		Model:     f.Model,
		CreatedAt: f.CreatedAt.Format(time.RFC3339),
		Chains:    f.Chains,
		Draws:     f.Draws,
		ElapsedMs: f.Elapsed.Milliseconds(),
		Summary:   string(f.Summary),
	}
}
