// Package ingest loads real survey panels from CSV exports into the same
// canonical record the simulator produces.
//
// Two tables are expected. The design table has one row per
// (respondent, task, alternative) with the key columns resp, task and alt
// followed by one column per attribute level. The choice table has one row
// per respondent with a resp column followed by one column per task holding
// the chosen 1-based alternative.
package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/csv"

	"github.com/nvandessel/choice-lab/internal/panel"
)

// Key column names in the design table.
const (
	ColResp = "resp"
	ColTask = "task"
	ColAlt  = "alt"
)

// chunkRows is the number of CSV rows decoded into each arrow record.
const chunkRows = 4096

// table is a decoded CSV: header names and one float64 slice per column.
type table struct {
	names []string
	cols  [][]float64
	rows  int
}

func (tb *table) index(name string) int {
	for i, n := range tb.names {
		if n == name {
			return i
		}
	}
	return -1
}

// readTable decodes a headered numeric CSV. Every column is read as float64
// so that exports which write integers as "1.0" still load.
func readTable(r io.Reader) (*table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading csv: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\ufeff"))

	names, err := headerNames(data)
	if err != nil {
		return nil, err
	}
	fields := make([]arrow.Field, len(names))
	seen := make(map[string]bool, len(names))
	for i, n := range names {
		if seen[n] {
			return nil, fmt.Errorf("%w: duplicate column %q", panel.ErrShapeMismatch, n)
		}
		seen[n] = true
		fields[i] = arrow.Field{Name: n, Type: arrow.PrimitiveTypes.Float64, Nullable: true}
	}

	rd := csv.NewReader(bytes.NewReader(data), arrow.NewSchema(fields, nil),
		csv.WithHeader(true),
		csv.WithComment('#'),
		csv.WithChunk(chunkRows),
	)
	defer rd.Release()

	tb := &table{names: names, cols: make([][]float64, len(names))}
	for rd.Next() {
		rec := rd.Record()
		n := int(rec.NumRows())
		for c := range names {
			col, ok := rec.Column(c).(*array.Float64)
			if !ok {
				return nil, fmt.Errorf("%w: column %q is not numeric", panel.ErrShapeMismatch, names[c])
			}
			for i := 0; i < n; i++ {
				if col.IsNull(i) {
					return nil, fmt.Errorf("%w: missing value in column %q, row %d", panel.ErrShapeMismatch, names[c], tb.rows+i+1)
				}
				tb.cols[c] = append(tb.cols[c], col.Value(i))
			}
		}
		tb.rows += n
	}
	if err := rd.Err(); err != nil {
		return nil, fmt.Errorf("parsing csv: %w", err)
	}
	return tb, nil
}

// headerNames lets arrow's inferring reader parse the header, so quoted
// names containing commas or quotes survive. Only the first data row is
// decoded.
func headerNames(data []byte) ([]string, error) {
	rd := csv.NewInferringReader(bytes.NewReader(data),
		csv.WithHeader(true),
		csv.WithComment('#'),
		csv.WithChunk(1),
	)
	defer rd.Release()

	if !rd.Next() {
		if err := rd.Err(); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: reading header: %v", panel.ErrShapeMismatch, err)
		}
		return nil, fmt.Errorf("%w: no header or no data rows", panel.ErrShapeMismatch)
	}
	fields := rd.Schema().Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.TrimSpace(f.Name)
	}
	return names, nil
}

// key converts a key cell to a 1-based index, rejecting fractions and
// values below 1.
func key(v float64, name string, row int) (int, error) {
	if v < 1 || v != math.Trunc(v) || v > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %s=%g in row %d is not a positive integer", panel.ErrShapeMismatch, name, v, row)
	}
	return int(v), nil
}

func maxKey(col []float64, name string) (int, error) {
	m := 0
	for i, v := range col {
		k, err := key(v, name, i+1)
		if err != nil {
			return 0, err
		}
		m = max(m, k)
	}
	return m, nil
}

// ReadDesign parses a design table into an [R, T, A, L] tensor. R, T and A
// are the maxima of the resp, task and alt keys; L is the number of
// remaining columns. Every (resp, task, alt) triple must appear exactly
// once.
func ReadDesign(r io.Reader) (*panel.Design, error) {
	tb, err := readTable(r)
	if err != nil {
		return nil, err
	}
	ri, ti, ai := tb.index(ColResp), tb.index(ColTask), tb.index(ColAlt)
	if ri < 0 || ti < 0 || ai < 0 {
		return nil, fmt.Errorf("%w: design table needs %s, %s and %s columns, got %v",
			panel.ErrShapeMismatch, ColResp, ColTask, ColAlt, tb.names)
	}
	var attrs []int
	for i := range tb.names {
		if i != ri && i != ti && i != ai {
			attrs = append(attrs, i)
		}
	}
	if len(attrs) == 0 {
		return nil, fmt.Errorf("%w: design table has no attribute columns", panel.ErrShapeMismatch)
	}
	if tb.rows == 0 {
		return nil, fmt.Errorf("%w: design table has no rows", panel.ErrShapeMismatch)
	}

	nr, err := maxKey(tb.cols[ri], ColResp)
	if err != nil {
		return nil, err
	}
	nt, err := maxKey(tb.cols[ti], ColTask)
	if err != nil {
		return nil, err
	}
	na, err := maxKey(tb.cols[ai], ColAlt)
	if err != nil {
		return nil, err
	}
	if want := nr * nt * na; tb.rows != want {
		return nil, fmt.Errorf("%w: design table has %d rows, want R·T·A = %d·%d·%d = %d",
			panel.ErrShapeMismatch, tb.rows, nr, nt, na, want)
	}

	x := panel.NewDesign(nr, nt, na, len(attrs))
	seen := make([]bool, nr*nt*na)
	for i := 0; i < tb.rows; i++ {
		rr, tt, aa := int(tb.cols[ri][i])-1, int(tb.cols[ti][i])-1, int(tb.cols[ai][i])-1
		slot := (rr*nt+tt)*na + aa
		if seen[slot] {
			return nil, fmt.Errorf("%w: duplicate row for resp=%d task=%d alt=%d",
				panel.ErrShapeMismatch, rr+1, tt+1, aa+1)
		}
		seen[slot] = true
		for l, c := range attrs {
			x.Set(rr, tt, aa, l, tb.cols[c][i])
		}
	}
	return x, nil
}

// ReadChoices parses a choice table into an [R, T] matrix. Task columns are
// taken in header order after removing the resp column. Every respondent
// from 1 to R must appear exactly once.
func ReadChoices(r io.Reader) (*panel.Choices, error) {
	tb, err := readTable(r)
	if err != nil {
		return nil, err
	}
	ri := tb.index(ColResp)
	if ri < 0 {
		return nil, fmt.Errorf("%w: choice table needs a %s column, got %v", panel.ErrShapeMismatch, ColResp, tb.names)
	}
	var tasks []int
	for i := range tb.names {
		if i != ri {
			tasks = append(tasks, i)
		}
	}
	if len(tasks) == 0 || tb.rows == 0 {
		return nil, fmt.Errorf("%w: choice table is empty", panel.ErrShapeMismatch)
	}

	nr, err := maxKey(tb.cols[ri], ColResp)
	if err != nil {
		return nil, err
	}
	if tb.rows != nr {
		return nil, fmt.Errorf("%w: choice table has %d rows for %d respondents", panel.ErrShapeMismatch, tb.rows, nr)
	}

	y := panel.NewChoices(nr, len(tasks))
	seen := make([]bool, nr)
	for i := 0; i < tb.rows; i++ {
		rr := int(tb.cols[ri][i]) - 1
		if seen[rr] {
			return nil, fmt.Errorf("%w: duplicate row for resp=%d", panel.ErrShapeMismatch, rr+1)
		}
		seen[rr] = true
		for t, c := range tasks {
			v, err := key(tb.cols[c][i], tb.names[c], i+1)
			if err != nil {
				return nil, err
			}
			y.Set(rr, t, v)
		}
	}
	return y, nil
}
