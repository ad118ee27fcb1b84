package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nvandessel/choice-lab/internal/panel"
)

// ErrNotFound is returned when a run or fit ID is unknown.
var ErrNotFound = errors.New("not found")

// Run is one registered panel.
type Run struct {
	ID        string     `json:"id"`
	Name      string     `json:"name,omitempty"`
	Kind      panel.Kind `json:"kind"`
	CreatedAt time.Time  `json:"created_at"`
	Seed      uint64     `json:"seed,omitempty"`
	Noise     string     `json:"noise,omitempty"`
	Dims      panel.Dims `json:"dims"`
	Holdout   int        `json:"holdout,omitempty"`
	Source    string     `json:"source,omitempty"`
	Checksum  string     `json:"checksum"`

	// Record is populated by GetRun only; listings leave it nil.
	Record *panel.Record `json:"-"`
}

// Fit is one model fit made against a run.
type Fit struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id"`
	Model     string          `json:"model"`
	CreatedAt time.Time       `json:"created_at"`
	Chains    int             `json:"chains"`
	Draws     int             `json:"draws"`
	Elapsed   time.Duration   `json:"elapsed"`
	Summary   json.RawMessage `json:"summary,omitempty"`
}

// RunStore is the run registry contract.
type RunStore interface {
	// SaveRun persists run and its record, assigning an ID and creation time
	// when unset. It returns the stored run.
	SaveRun(ctx context.Context, run Run) (*Run, error)

	// GetRun returns the run with its decoded record.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns runs newest-first without records. A limit of zero
	// or less returns every run.
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	// DeleteRun removes a run and its fits.
	DeleteRun(ctx context.Context, id string) error

	// SaveFit records a fit against an existing run.
	SaveFit(ctx context.Context, fit Fit) (*Fit, error)

	// ListFits returns the fits made against runID, newest-first.
	ListFits(ctx context.Context, runID string) ([]Fit, error)

	Close() error
}
