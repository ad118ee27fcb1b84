package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nvandessel/choice-lab/internal/archive"
	"github.com/nvandessel/choice-lab/internal/panel"
	"github.com/nvandessel/choice-lab/internal/sanitize"
)

// timeLayout is fixed-width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements RunStore on SQLite.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	dir    string
	dbPath string
}

var _ RunStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the registry at
// <root>/.dcesim/dcesim.db.
func NewSQLiteStore(root string) (*SQLiteStore, error) {
	dir := LocalPath(root)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s directory: %w", DirName, err)
	}
	dbPath := filepath.Join(dir, DBFile)

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db, dir: dir, dbPath: dbPath}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// SaveRun implements RunStore.
func (s *SQLiteStore) SaveRun(ctx context.Context, run Run) (*Run, error) {
	if run.Record == nil {
		return nil, fmt.Errorf("saving run: record is required")
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	run.CreatedAt = run.CreatedAt.UTC()
	run.Name = sanitize.RunName(run.Name)
	run.Kind = run.Record.Kind
	run.Dims = run.Record.Dims
	if run.Record.Split != nil {
		run.Holdout = run.Record.Split.Holdout
	}

	meta := map[string]string{"run_id": run.ID}
	if run.Name != "" {
		meta["name"] = run.Name
	}
	blob, err := archive.Marshal(run.Record, meta)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	header, err := archive.ReadHeaderBytes(blob)
	if err != nil {
		return nil, err
	}
	run.Checksum = header.Checksum

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, name, kind, created_at, seed, noise,
			respondents, tasks, alternatives, levels, covariates, holdout,
			source, record, checksum)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, nullString(run.Name), string(run.Kind), run.CreatedAt.Format(timeLayout),
		formatSeed(run.Seed), nullString(run.Noise),
		run.Dims.R, run.Dims.T, run.Dims.A, run.Dims.L, run.Dims.C, run.Holdout,
		nullString(run.Source), blob, run.Checksum)
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}
	return &run, nil
}

const runColumns = `id, name, kind, created_at, seed, noise,
	respondents, tasks, alternatives, levels, covariates, holdout, source, checksum`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner, extra ...any) (*Run, error) {
	var (
		run                       Run
		name, seed, noise, source sql.NullString
		kind, created             string
	)
	dest := []any{&run.ID, &name, &kind, &created, &seed, &noise,
		&run.Dims.R, &run.Dims.T, &run.Dims.A, &run.Dims.L, &run.Dims.C, &run.Holdout,
		&source, &run.Checksum}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	run.Name = name.String
	run.Kind = panel.Kind(kind)
	run.Noise = noise.String
	run.Source = source.String
	if seed.String != "" {
		v, err := strconv.ParseUint(seed.String, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("run %s: bad seed %q: %w", run.ID, seed.String, err)
		}
		run.Seed = v
	}
	t, err := time.Parse(timeLayout, created)
	if err != nil {
		return nil, fmt.Errorf("run %s: bad created_at %q: %w", run.ID, created, err)
	}
	run.CreatedAt = t
	return &run, nil
}

// GetRun implements RunStore.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var blob []byte
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+`, record FROM runs WHERE id = ?`, id)
	run, err := scanRun(row, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	rec, _, err := archive.Unmarshal(blob)
	if err != nil {
		return nil, fmt.Errorf("run %s: decoding record: %w", id, err)
	}
	run.Record = rec
	return run, nil
}

// ListRuns implements RunStore.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// DeleteRun implements RunStore.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// SaveFit implements RunStore.
func (s *SQLiteStore) SaveFit(ctx context.Context, fit Fit) (*Fit, error) {
	if fit.ID == "" {
		fit.ID = uuid.NewString()
	}
	if fit.CreatedAt.IsZero() {
		fit.CreatedAt = time.Now()
	}
	fit.CreatedAt = fit.CreatedAt.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE id = ?`, fit.RunID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check run: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("run %s: %w", fit.RunID, ErrNotFound)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO fits (id, run_id, model, created_at, chains, draws, elapsed_ms, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		fit.ID, fit.RunID, fit.Model, fit.CreatedAt.Format(timeLayout),
		fit.Chains, fit.Draws, fit.Elapsed.Milliseconds(), nullBytes(fit.Summary))
	if err != nil {
		return nil, fmt.Errorf("failed to insert fit: %w", err)
	}
	return &fit, nil
}

// ListFits implements RunStore.
func (s *SQLiteStore) ListFits(ctx context.Context, runID string) ([]Fit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, model, created_at, chains, draws, elapsed_ms, summary
		FROM fits WHERE run_id = ? ORDER BY created_at DESC, id DESC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list fits: %w", err)
	}
	defer rows.Close()

	var fits []Fit
	for rows.Next() {
		var (
			fit       Fit
			created   string
			elapsedMS int64
			summary   sql.NullString
		)
		if err := rows.Scan(&fit.ID, &fit.RunID, &fit.Model, &created, &fit.Chains, &fit.Draws, &elapsedMS, &summary); err != nil {
			return nil, fmt.Errorf("failed to scan fit: %w", err)
		}
		t, err := time.Parse(timeLayout, created)
		if err != nil {
			return nil, fmt.Errorf("fit %s: bad created_at %q: %w", fit.ID, created, err)
		}
		fit.CreatedAt = t
		fit.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		if summary.Valid {
			fit.Summary = []byte(summary.String)
		}
		fits = append(fits, fit)
	}
	return fits, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func formatSeed(seed uint64) sql.NullString {
	if seed == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: strconv.FormatUint(seed, 10), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
