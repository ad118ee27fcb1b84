package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/choice-lab/internal/archive"
	"github.com/nvandessel/choice-lab/internal/store"
)

func newArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Manage record archives",
		Long: `List, verify and prune the record archives in .dcesim/archives/.

Archives are written by 'simulate --archive', 'load --archive' and
'runs export'. Each holds one panel record behind a header carrying its
SHA-256 checksum.`,
	}
	cmd.AddCommand(
		newArchiveListCmd(),
		newArchiveVerifyCmd(),
		newArchivePruneCmd(),
	)
	return cmd
}

func newArchiveListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List archives with their header metadata",
		Long: `List archive files, newest first, with kind, dimensions and size.

Examples:
  dcesim archive list
  dcesim archive list --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			archives, err := archive.List(store.ArchivePath(a.root))
			if err != nil {
				return fmt.Errorf("failed to list archives: %w", err)
			}

			if a.jsonOut {
				type jsonEntry struct {
					Path      string            `json:"path"`
					Size      int64             `json:"size_bytes"`
					CreatedAt string            `json:"created_at"`
					Kind      string            `json:"kind,omitempty"`
					Dims      string            `json:"dims,omitempty"`
					Checksum  string            `json:"checksum,omitempty"`
					Metadata  map[string]string `json:"metadata,omitempty"`
				}
				entries := make([]jsonEntry, 0, len(archives))
				for _, info := range archives {
					entry := jsonEntry{
						Path:      info.Path,
						Size:      info.Size,
						CreatedAt: info.CreatedAt.Format(time.RFC3339),
					}
					if h := info.Header; h != nil {
						entry.Kind = string(h.Kind)
						entry.Dims = h.Dims.String()
						entry.Checksum = h.Checksum
						entry.Metadata = h.Metadata
					}
					entries = append(entries, entry)
				}
				return writeJSON(cmd, map[string]any{"archives": entries, "count": len(entries)})
			}

			w := cmd.OutOrStdout()
			if len(archives) == 0 {
				fmt.Fprintln(w, "No archives found.")
				return nil
			}
			fmt.Fprintf(w, "Archives (%d):\n\n", len(archives))
			for i, info := range archives {
				fmt.Fprintf(w, "  %d. %s\n", i+1, filepath.Base(info.Path))
				fmt.Fprintf(w, "     Created: %s  Size: %s\n",
					info.CreatedAt.Local().Format(time.DateTime), formatSize(info.Size))
				if h := info.Header; h != nil {
					fmt.Fprintf(w, "     Kind: %s  Dims: %s\n", h.Kind, h.Dims)
					if id := h.Metadata["run_id"]; id != "" {
						fmt.Fprintf(w, "     Run: %s\n", id)
					}
				} else {
					fmt.Fprintln(w, "     (unreadable header)")
				}
			}
			return nil
		},
	}
}

func newArchiveVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify [file...]",
		Short: "Verify archive checksums",
		Long: `Verify the SHA-256 checksum of each archive. Without arguments every
archive in .dcesim/archives/ is checked.

Examples:
  dcesim archive verify
  dcesim archive verify .dcesim/archives/dcesim-20260206-120000.000.dce.gz`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			paths := args
			if len(paths) == 0 {
				archives, err := archive.List(store.ArchivePath(a.root))
				if err != nil {
					return fmt.Errorf("failed to list archives: %w", err)
				}
				for _, info := range archives {
					paths = append(paths, info.Path)
				}
			}

			type result struct {
				File  string `json:"file"`
				Valid bool   `json:"valid"`
				Error string `json:"error,omitempty"`
			}
			results := make([]result, 0, len(paths))
			failed := 0
			for _, p := range paths {
				r := result{File: p, Valid: true}
				if err := archive.Verify(p); err != nil {
					r.Valid = false
					r.Error = err.Error()
					failed++
				}
				results = append(results, r)
			}

			if a.jsonOut {
				if err := writeJSON(cmd, map[string]any{"results": results, "failed": failed}); err != nil {
					return err
				}
			} else {
				w := cmd.OutOrStdout()
				if len(results) == 0 {
					fmt.Fprintln(w, "No archives to verify.")
				}
				for _, r := range results {
					if r.Valid {
						fmt.Fprintf(w, "OK: %s\n", r.File)
					} else {
						fmt.Fprintf(w, "FAILED: %s\n  %s\n", r.File, r.Error)
					}
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d archives failed verification", failed, len(results))
			}
			return nil
		},
	}
}

func newArchivePruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete archives outside the retention policy",
		Long: `Delete old archives. Unset flags fall back to store.keep_archives and
store.max_archive_age.

Examples:
  dcesim archive prune                 # Apply configured retention
  dcesim archive prune --keep 5
  dcesim archive prune --max-age 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			keep := a.cfg.Store.KeepArchives
			if cmd.Flags().Changed("keep") {
				keep, _ = cmd.Flags().GetInt("keep")
			}
			maxAge := a.cfg.Store.MaxArchiveAge
			if cmd.Flags().Changed("max-age") {
				maxAge, _ = cmd.Flags().GetDuration("max-age")
			}
			if keep < 0 || maxAge < 0 {
				return errors.New("--keep and --max-age must not be negative")
			}

			dir := store.ArchivePath(a.root)
			var deleted []string
			if keep > 0 {
				d, err := archive.Prune(dir, &archive.CountPolicy{MaxCount: keep})
				deleted = append(deleted, d...)
				if err != nil {
					return err
				}
			}
			if maxAge > 0 {
				d, err := archive.Prune(dir, &archive.AgePolicy{MaxAge: maxAge})
				deleted = append(deleted, d...)
				if err != nil {
					return err
				}
			}

			if a.jsonOut {
				if deleted == nil {
					deleted = []string{}
				}
				return writeJSON(cmd, map[string]any{"deleted": deleted, "count": len(deleted)})
			}
			w := cmd.OutOrStdout()
			if len(deleted) == 0 {
				fmt.Fprintln(w, "Nothing to prune.")
				return nil
			}
			for _, p := range deleted {
				fmt.Fprintf(w, "Deleted %s\n", filepath.Base(p))
			}
			return nil
		},
	}
	cmd.Flags().Int("keep", 0, "Keep this many most recent archives; 0 disables the count limit")
	cmd.Flags().Duration("max-age", 0, "Delete archives older than this; 0 disables the age limit")
	return cmd
}

// formatSize renders a byte count for humans.
func formatSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}
