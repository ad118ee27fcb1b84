// Package simulation runs the full synthetic-panel pipeline: experimental
// design, hierarchical preference draws, random-utility choices, and record
// assembly.
//
// Every stage reads from its own seeded stream, and per-respondent stages
// use one stream per respondent, so a Scenario with a fixed Seed always
// yields byte-identical X, B and Y regardless of how many workers run the
// respondent loops.
//
// Usage:
//
//	runner := simulation.NewRunner(logger, nil)
//	result, err := runner.Run(ctx, simulation.Scenario{
//	    Name: "demo",
//	    Dims: panel.Dims{R: 5, T: 5, A: 3, L: 10, C: 1},
//	    Seed: 42,
//	})
//	if err != nil {
//	    return err
//	}
//	draws, err := gw.Fit(ctx, result.Record, opts)
package simulation
