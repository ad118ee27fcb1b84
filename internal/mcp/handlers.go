package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/choice-lab/internal/ingest"
	"github.com/nvandessel/choice-lab/internal/pathutil"
	"github.com/nvandessel/choice-lab/internal/store"
)

// defaultRunsLimit caps dce_runs listings when no limit is given.
const defaultRunsLimit = 20

// runDataPrefix is the resource URI prefix serving a run's sampler data.
const runDataPrefix = "dcesim://runs/"

// registerTools registers all dcesim MCP tools with the server.
func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "dce_simulate",
		Description: "Simulate a discrete-choice panel with known part-worths and register it as a run",
	}, s.handleSimulate)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "dce_load",
		Description: "Load a real survey panel from X.csv and Y.csv and register it as a run",
	}, s.handleLoad)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "dce_runs",
		Description: "List registered runs, or show one run with the model fits made against it",
	}, s.handleRuns)
}

// registerResources exposes each run's sampler input as JSON.
func (s *Server) registerResources() {
	s.server.AddResourceTemplate(&sdk.ResourceTemplate{
		URITemplate: runDataPrefix + "{id}/data",
		Name:        "dcesim-run-data",
		Description: "Sampler input for a run: design, covariates, choices and dimension scalars in Stan JSON layout.",
		MIMEType:    "application/json",
	}, s.handleRunDataResource)
}

// handleSimulate implements the dce_simulate tool.
func (s *Server) handleSimulate(ctx context.Context, req *sdk.CallToolRequest, args SimulateInput) (_ *sdk.CallToolResult, _ SimulateOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("dce_simulate", start, retErr, auditParams(map[string]any{
			"name": args.Name, "respondents": args.Respondents, "tasks": args.Tasks,
			"alternatives": args.Alternatives, "levels": args.Levels, "seed": args.Seed,
			"noise": args.Noise, "holdout": args.Holdout, "dry_run": args.DryRun,
		}))
	}()

	if err := s.limits.Check("dce_simulate"); err != nil {
		return nil, SimulateOutput{}, err
	}

	sim := s.settings.Simulation
	override(&sim.Respondents, args.Respondents)
	override(&sim.Tasks, args.Tasks)
	override(&sim.Alternatives, args.Alternatives)
	override(&sim.Levels, args.Levels)
	override(&sim.Holdout, args.Holdout)
	if args.Seed != 0 {
		sim.Seed = args.Seed
	}
	if args.Noise != "" {
		sim.Noise = args.Noise
	}
	scenario, err := sim.Scenario(args.Name)
	if err != nil {
		return nil, SimulateOutput{}, err
	}

	res, err := s.runner.Run(ctx, scenario)
	if err != nil {
		return nil, SimulateOutput{}, fmt.Errorf("simulation failed: %w", err)
	}

	out := SimulateOutput{
		Seed:      res.Seed,
		Noise:     string(res.Noise),
		Dims:      res.Record.Dims,
		Shares:    res.ChoiceShares(),
		ElapsedMs: res.Elapsed.Milliseconds(),
	}
	if args.DryRun {
		out.Message = fmt.Sprintf("Simulated %s with seed %d (not saved)", out.Dims, out.Seed)
		return nil, out, nil
	}

	run, err := s.store.SaveRun(ctx, store.Run{
		Name:   args.Name,
		Seed:   res.Seed,
		Noise:  string(res.Noise),
		Source: "simulate",
		Record: res.Record,
	})
	if err != nil {
		return nil, SimulateOutput{}, fmt.Errorf("saving run: %w", err)
	}
	out.RunID = run.ID
	out.Message = fmt.Sprintf("Simulated %s with seed %d → run %s", out.Dims, out.Seed, run.ID)
	return nil, out, nil
}

// handleLoad implements the dce_load tool.
func (s *Server) handleLoad(ctx context.Context, req *sdk.CallToolRequest, args LoadInput) (_ *sdk.CallToolResult, _ LoadOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("dce_load", start, retErr, auditParams(map[string]any{
			"dir": args.Dir, "name": args.Name, "holdout": args.Holdout,
		}))
	}()

	if err := s.limits.Check("dce_load"); err != nil {
		return nil, LoadOutput{}, err
	}
	if args.Dir == "" {
		return nil, LoadOutput{}, errors.New("'dir' parameter is required")
	}

	allowed, err := pathutil.DataDirs(s.root)
	if err != nil {
		return nil, LoadOutput{}, err
	}
	dir, err := pathutil.Within(args.Dir, s.root, allowed)
	if err != nil {
		return nil, LoadOutput{}, fmt.Errorf("panel directory rejected: %w", err)
	}

	holdout := args.Holdout
	if holdout == 0 {
		holdout = s.settings.Ingest.Holdout
	}
	rec, err := ingest.LoadDir(dir, holdout)
	if err != nil {
		return nil, LoadOutput{}, fmt.Errorf("loading panel: %w", err)
	}

	run, err := s.store.SaveRun(ctx, store.Run{
		Name:   args.Name,
		Source: pathutil.RedactPath(dir),
		Record: rec,
	})
	if err != nil {
		return nil, LoadOutput{}, fmt.Errorf("saving run: %w", err)
	}
	s.logger.Info("survey panel loaded", "run", run.ID, "dims", rec.Dims.String())

	return nil, LoadOutput{
		RunID:   run.ID,
		Dims:    rec.Dims,
		Holdout: run.Holdout,
		Message: fmt.Sprintf("Loaded %s with %d holdout tasks → run %s", rec.Dims, run.Holdout, run.ID),
	}, nil
}

// handleRuns implements the dce_runs tool.
func (s *Server) handleRuns(ctx context.Context, req *sdk.CallToolRequest, args RunsInput) (_ *sdk.CallToolResult, _ RunsOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("dce_runs", start, retErr, auditParams(map[string]any{
			"run_id": args.RunID, "limit": args.Limit,
		}))
	}()

	if err := s.limits.Check("dce_runs"); err != nil {
		return nil, RunsOutput{}, err
	}

	if args.RunID != "" {
		run, err := s.store.GetRun(ctx, args.RunID)
		if err != nil {
			return nil, RunsOutput{}, err
		}
		fits, err := s.store.ListFits(ctx, run.ID)
		if err != nil {
			return nil, RunsOutput{}, fmt.Errorf("listing fits: %w", err)
		}
		out := RunsOutput{Runs: []RunItem{runItem(*run)}, Fits: make([]FitItem, 0, len(fits)), Count: 1}
		for _, f := range fits {
			out.Fits = append(out.Fits, fitItem(f))
		}
		return nil, out, nil
	}

	limit := args.Limit
	if limit <= 0 {
		limit = defaultRunsLimit
	}
	runs, err := s.store.ListRuns(ctx, limit)
	if err != nil {
		return nil, RunsOutput{}, fmt.Errorf("listing runs: %w", err)
	}
	out := RunsOutput{Runs: make([]RunItem, 0, len(runs)), Count: len(runs)}
	for _, r := range runs {
		out.Runs = append(out.Runs, runItem(r))
	}
	return nil, out, nil
}

// handleRunDataResource serves dcesim://runs/{id}/data.
func (s *Server) handleRunDataResource(ctx context.Context, req *sdk.ReadResourceRequest) (*sdk.ReadResourceResult, error) {
	uri := req.Params.URI
	id, ok := strings.CutPrefix(uri, runDataPrefix)
	if ok {
		id, ok = strings.CutSuffix(id, "/data")
	}
	if !ok || id == "" || strings.Contains(id, "/") {
		return nil, sdk.ResourceNotFoundError(uri)
	}

	run, err := s.store.GetRun(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, sdk.ResourceNotFoundError(uri)
	}
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(run.Record.StanData(false))
	if err != nil {
		return nil, fmt.Errorf("encoding sampler data: %w", err)
	}
	return &sdk.ReadResourceResult{
		Contents: []*sdk.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

// override replaces *dst with v when v is set.
func override(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
