package gateway

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ErrUnknownParam is returned when a parameter name has no columns in the
// draws.
var ErrUnknownParam = errors.New("unknown parameter")

// Draws is a table of posterior draws: one row per draw, one column per
// scalar parameter element.
type Draws struct {
	columns []string
	index   map[string]int
	rows    [][]float64
}

// NewDraws builds a draw table. Every row must have one value per column.
func NewDraws(columns []string, rows [][]float64) (*Draws, error) {
	d := &Draws{columns: columns, index: make(map[string]int, len(columns)), rows: rows}
	for i, c := range columns {
		if _, dup := d.index[c]; dup {
			return nil, fmt.Errorf("duplicate draw column %q", c)
		}
		d.index[c] = i
	}
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("draw %d has %d values for %d columns", i, len(row), len(columns))
		}
	}
	return d, nil
}

// ConcatDraws stacks draw tables that share the same columns, such as the
// output of several chains.
func ConcatDraws(parts ...*Draws) (*Draws, error) {
	if len(parts) == 0 {
		return NewDraws(nil, nil)
	}
	cols := parts[0].columns
	var rows [][]float64
	for i, p := range parts {
		if len(p.columns) != len(cols) {
			return nil, fmt.Errorf("draw table %d has %d columns, want %d", i, len(p.columns), len(cols))
		}
		for j, c := range p.columns {
			if c != cols[j] {
				return nil, fmt.Errorf("draw table %d column %d is %q, want %q", i, j, c, cols[j])
			}
		}
		rows = append(rows, p.rows...)
	}
	return NewDraws(cols, rows)
}

// Columns returns the column names in table order.
func (d *Draws) Columns() []string {
	return d.columns
}

// Len returns the number of draws.
func (d *Draws) Len() int {
	return len(d.rows)
}

// Param holds the draws of one named parameter. Values has one row per draw;
// each row stores the parameter's elements in row-major order of Dims.
// Scalars have empty Dims and one value per draw.
type Param struct {
	Name   string
	Dims   []int
	Values [][]float64
}

// Size returns the number of scalar elements in the parameter.
func (p *Param) Size() int {
	n := 1
	for _, d := range p.Dims {
		n *= d
	}
	return n
}

// Mean returns the posterior mean of every element.
func (p *Param) Mean() []float64 {
	mean := make([]float64, p.Size())
	col := make([]float64, len(p.Values))
	for j := range mean {
		for i, row := range p.Values {
			col[i] = row[j]
		}
		mean[j] = stat.Mean(col, nil)
	}
	return mean
}

// splitName parses "B.2.3" (CmdStan) or "B[2,3]" (PyStan) into the base name
// and 1-based indices.
func splitName(col string) (string, []int, bool) {
	if i := strings.IndexByte(col, '['); i > 0 && strings.HasSuffix(col, "]") {
		idx, ok := parseIndices(strings.Split(col[i+1:len(col)-1], ","))
		return col[:i], idx, ok
	}
	parts := strings.Split(col, ".")
	if len(parts) == 1 {
		return col, nil, true
	}
	idx, ok := parseIndices(parts[1:])
	if !ok {
		// A dotted name without numeric suffixes is a plain scalar.
		return col, nil, true
	}
	return parts[0], idx, true
}

func parseIndices(parts []string) ([]int, bool) {
	idx := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 1 {
			return nil, false
		}
		idx[i] = n
	}
	return idx, true
}

// Extract collects the draws of the named parameter. Its shape is inferred
// from the largest index seen in each position; every element of that shape
// must be present.
func (d *Draws) Extract(name string) (*Param, error) {
	type cell struct {
		col int
		idx []int
	}
	var cells []cell
	var dims []int
	for i, c := range d.columns {
		base, idx, ok := splitName(c)
		if !ok || base != name {
			continue
		}
		if len(cells) > 0 && len(idx) != len(dims) {
			return nil, fmt.Errorf("parameter %q has inconsistent index rank in column %q", name, c)
		}
		if dims == nil {
			dims = make([]int, len(idx))
		}
		for k, v := range idx {
			dims[k] = max(dims[k], v)
		}
		cells = append(cells, cell{col: i, idx: idx})
	}
	if len(cells) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownParam, name)
	}

	p := &Param{Name: name, Dims: dims}
	size := p.Size()
	if len(cells) != size {
		return nil, fmt.Errorf("parameter %q has %d columns, want %d for shape %v", name, len(cells), size, dims)
	}

	offsets := make([]int, len(cells))
	seen := make([]bool, size)
	for i, c := range cells {
		off := 0
		for k, v := range c.idx {
			off = off*dims[k] + (v - 1)
		}
		if seen[off] {
			return nil, fmt.Errorf("parameter %q repeats element %v", name, c.idx)
		}
		seen[off] = true
		offsets[i] = off
	}

	p.Values = make([][]float64, len(d.rows))
	for r, row := range d.rows {
		vals := make([]float64, size)
		for i, c := range cells {
			vals[offsets[i]] = row[c.col]
		}
		p.Values[r] = vals
	}
	return p, nil
}

// Mean returns the posterior mean of the named parameter with its shape.
func (d *Draws) Mean(name string) ([]float64, []int, error) {
	p, err := d.Extract(name)
	if err != nil {
		return nil, nil, err
	}
	return p.Mean(), p.Dims, nil
}

// MeanMatrix returns the posterior mean of a two-dimensional parameter.
func (d *Draws) MeanMatrix(name string) (*mat.Dense, error) {
	mean, dims, err := d.Mean(name)
	if err != nil {
		return nil, err
	}
	if len(dims) != 2 {
		return nil, fmt.Errorf("parameter %q has shape %v, want a matrix", name, dims)
	}
	return mat.NewDense(dims[0], dims[1], mean), nil
}

// Params lists the distinct parameter names in the table, sorted.
func (d *Draws) Params() []string {
	seen := map[string]bool{}
	var names []string
	for _, c := range d.columns {
		base, _, _ := splitName(c)
		if !seen[base] {
			seen[base] = true
			names = append(names, base)
		}
	}
	sort.Strings(names)
	return names
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
