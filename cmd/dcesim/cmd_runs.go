package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/choice-lab/internal/archive"
	"github.com/nvandessel/choice-lab/internal/store"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and manage registered runs",
		Long: `List, show, export, import and delete the runs registered under
.dcesim/ in the project root.

Examples:
  dcesim runs list                     # Newest runs first
  dcesim runs show <run-id>            # One run and its fits
  dcesim runs export <run-id> out.dce.gz
  dcesim runs import out.dce.gz
  dcesim runs delete <run-id>`,
	}

	cmd.AddCommand(
		newRunsListCmd(),
		newRunsShowCmd(),
		newRunsExportCmd(),
		newRunsImportCmd(),
		newRunsDeleteCmd(),
	)
	return cmd
}

func newRunsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			runs, err := a.openStore()
			if err != nil {
				return err
			}
			defer runs.Close()

			list, err := runs.ListRuns(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("listing runs: %w", err)
			}

			if a.jsonOut {
				if list == nil {
					list = []store.Run{}
				}
				return writeJSON(cmd, map[string]any{"runs": list, "count": len(list)})
			}

			w := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(w, "No runs registered.")
				return nil
			}
			fmt.Fprintf(w, "Runs (%d):\n\n", len(list))
			for i, r := range list {
				fmt.Fprintf(w, "  %d. %s  %-7s %s  %s\n",
					i+1, r.ID, r.Kind, r.Dims, r.CreatedAt.Local().Format(time.DateTime))
				if r.Name != "" {
					fmt.Fprintf(w, "     name: %s\n", r.Name)
				}
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum runs to list; 0 lists all")
	return cmd
}

func newRunsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run and the fits made against it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			runs, err := a.openStore()
			if err != nil {
				return err
			}
			defer runs.Close()

			run, err := runs.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fits, err := runs.ListFits(cmd.Context(), run.ID)
			if err != nil {
				return fmt.Errorf("listing fits: %w", err)
			}

			if a.jsonOut {
				if fits == nil {
					fits = []store.Fit{}
				}
				return writeJSON(cmd, map[string]any{"run": run, "fits": fits})
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Run %s\n", run.ID)
			if run.Name != "" {
				fmt.Fprintf(w, "  name:     %s\n", run.Name)
			}
			fmt.Fprintf(w, "  kind:     %s\n", run.Kind)
			fmt.Fprintf(w, "  dims:     %s\n", run.Dims)
			fmt.Fprintf(w, "  created:  %s\n", run.CreatedAt.Local().Format(time.DateTime))
			if run.Seed != 0 {
				fmt.Fprintf(w, "  seed:     %d\n", run.Seed)
			}
			if run.Noise != "" {
				fmt.Fprintf(w, "  noise:    %s\n", run.Noise)
			}
			if run.Holdout > 0 {
				fmt.Fprintf(w, "  holdout:  %d tasks\n", run.Holdout)
			}
			if run.Source != "" {
				fmt.Fprintf(w, "  source:   %s\n", run.Source)
			}
			fmt.Fprintf(w, "  checksum: %s\n", run.Checksum)

			if len(fits) == 0 {
				fmt.Fprintln(w, "\nNo fits.")
				return nil
			}
			fmt.Fprintf(w, "\nFits (%d):\n", len(fits))
			for _, f := range fits {
				fmt.Fprintf(w, "  %s  %s  %d chains, %d draws, %v\n",
					f.ID, f.Model, f.Chains, f.Draws, f.Elapsed.Round(time.Millisecond))
				if len(f.Summary) > 0 {
					fmt.Fprintf(w, "    %s\n", f.Summary)
				}
			}
			return nil
		},
	}
}

func newRunsExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <run-id> [path]",
		Short: "Write a run's record to an archive file",
		Long: `Write a run's record to a compressed archive file. Without a path the
archive goes to .dcesim/archives/ and the retention settings apply.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			runs, err := a.openStore()
			if err != nil {
				return err
			}
			defer runs.Close()

			run, err := runs.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			meta := runMetadata(run)

			var path string
			if len(args) == 2 {
				path = args[1]
				if _, err := archive.Write(path, run.Record, meta); err != nil {
					return fmt.Errorf("writing archive: %w", err)
				}
			} else if path, _, err = a.archiveRecord(run.Record, run.ID, meta); err != nil {
				return err
			}

			if a.jsonOut {
				return writeJSON(cmd, map[string]any{"run_id": run.ID, "path": path})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported run %s to %s\n", run.ID, path)
			return nil
		},
	}
}

func newRunsImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <path>",
		Short: "Register the record in an archive file as a new run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, header, err := archive.Read(args[0])
			if err != nil {
				return fmt.Errorf("reading archive: %w", err)
			}
			if name == "" {
				name = header.Metadata["name"]
			}
			var seed uint64
			if s := header.Metadata["seed"]; s != "" {
				if _, err := fmt.Sscan(s, &seed); err != nil {
					return fmt.Errorf("archive seed %q: %w", s, err)
				}
			}

			runs, err := a.openStore()
			if err != nil {
				return err
			}
			defer runs.Close()

			abs, _ := filepath.Abs(args[0])
			run, err := runs.SaveRun(cmd.Context(), store.Run{
				Name:   name,
				Seed:   seed,
				Noise:  header.Metadata["noise"],
				Source: abs,
				Record: rec,
			})
			if err != nil {
				return fmt.Errorf("saving run: %w", err)
			}

			if a.jsonOut {
				return writeJSON(cmd, map[string]any{"run_id": run.ID, "dims": run.Dims, "checksum": run.Checksum})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %s -> run %s\n", run.Dims, run.ID)
			return nil
		},
	}
	cmd.Flags().String("name", "", "Label stored with the run; defaults to the archived name")
	return cmd
}

func newRunsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a run and its fits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			runs, err := a.openStore()
			if err != nil {
				return err
			}
			defer runs.Close()

			if err := runs.DeleteRun(cmd.Context(), args[0]); err != nil {
				return err
			}
			if a.jsonOut {
				return writeJSON(cmd, map[string]any{"status": "deleted", "run_id": args[0]})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", args[0])
			return nil
		},
	}
}

// runMetadata is the archive header metadata describing run.
func runMetadata(run *store.Run) map[string]string {
	meta := map[string]string{"run_id": run.ID}
	if run.Name != "" {
		meta["name"] = run.Name
	}
	if run.Seed != 0 {
		meta["seed"] = fmt.Sprint(run.Seed)
	}
	if run.Noise != "" {
		meta["noise"] = run.Noise
	}
	return meta
}
