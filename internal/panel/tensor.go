package panel

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Design is the experimental design tensor X with shape [R, T, A, L],
// stored row-major so that each (respondent, task) block is a contiguous
// A×L matrix.
type Design struct {
	R    int       `json:"R"`
	T    int       `json:"T"`
	A    int       `json:"A"`
	L    int       `json:"L"`
	Data []float64 `json:"data"`
}

// NewDesign allocates a zeroed design tensor.
func NewDesign(r, t, a, l int) *Design {
	return &Design{R: r, T: t, A: a, L: l, Data: make([]float64, r*t*a*l)}
}

func (x *Design) offset(r, t int) int {
	return (r*x.T + t) * x.A * x.L
}

// At returns X[r, t, a, l].
func (x *Design) At(r, t, a, l int) float64 {
	return x.Data[x.offset(r, t)+a*x.L+l]
}

// Set assigns X[r, t, a, l].
func (x *Design) Set(r, t, a, l int, v float64) {
	x.Data[x.offset(r, t)+a*x.L+l] = v
}

// Task returns the A×L stimulus matrix shown to respondent r at task t.
// The matrix shares storage with the tensor.
func (x *Design) Task(r, t int) *mat.Dense {
	off := x.offset(r, t)
	return mat.NewDense(x.A, x.L, x.Data[off:off+x.A*x.L])
}

// Shape returns [R, T, A, L].
func (x *Design) Shape() [4]int {
	return [4]int{x.R, x.T, x.A, x.L}
}

// Tasks copies the task block [from, to) of every respondent into a new tensor.
func (x *Design) Tasks(from, to int) *Design {
	out := NewDesign(x.R, to-from, x.A, x.L)
	block := x.A * x.L
	for r := 0; r < x.R; r++ {
		start := x.offset(r, from)
		copy(out.Data[out.offset(r, 0):], x.Data[start:start+(to-from)*block])
	}
	return out
}

// Nested converts the tensor to nested slices, the layout the estimation
// engine expects for array[R, T] matrix[A, L].
func (x *Design) Nested() [][][][]float64 {
	out := make([][][][]float64, x.R)
	for r := range out {
		out[r] = make([][][]float64, x.T)
		for t := range out[r] {
			out[r][t] = make([][]float64, x.A)
			for a := range out[r][t] {
				row := make([]float64, x.L)
				copy(row, x.Data[x.offset(r, t)+a*x.L:])
				out[r][t][a] = row
			}
		}
	}
	return out
}

// ConcatDesigns joins two designs along the task axis.
func ConcatDesigns(head, tail *Design) (*Design, error) {
	if head.R != tail.R || head.A != tail.A || head.L != tail.L {
		return nil, fmt.Errorf("%w: cannot concatenate designs %v and %v", ErrShapeMismatch, head.Shape(), tail.Shape())
	}
	out := NewDesign(head.R, head.T+tail.T, head.A, head.L)
	block := head.A * head.L
	for r := 0; r < head.R; r++ {
		copy(out.Data[out.offset(r, 0):], head.Data[head.offset(r, 0):head.offset(r, 0)+head.T*block])
		copy(out.Data[out.offset(r, head.T):], tail.Data[tail.offset(r, 0):tail.offset(r, 0)+tail.T*block])
	}
	return out, nil
}

// Choices is the outcome matrix Y with shape [R, T]. Entries are 1-based
// alternative indices.
type Choices struct {
	R    int   `json:"R"`
	T    int   `json:"T"`
	Data []int `json:"data"`
}

// NewChoices allocates a zeroed choice matrix.
func NewChoices(r, t int) *Choices {
	return &Choices{R: r, T: t, Data: make([]int, r*t)}
}

// At returns Y[r, t].
func (y *Choices) At(r, t int) int {
	return y.Data[r*y.T+t]
}

// Set assigns Y[r, t].
func (y *Choices) Set(r, t, v int) {
	y.Data[r*y.T+t] = v
}

// Tasks copies the task block [from, to) of every respondent.
func (y *Choices) Tasks(from, to int) *Choices {
	out := NewChoices(y.R, to-from)
	for r := 0; r < y.R; r++ {
		copy(out.Data[r*out.T:(r+1)*out.T], y.Data[r*y.T+from:r*y.T+to])
	}
	return out
}

// Nested converts the matrix to [R][T] slices.
func (y *Choices) Nested() [][]int {
	out := make([][]int, y.R)
	for r := range out {
		out[r] = make([]int, y.T)
		copy(out[r], y.Data[r*y.T:(r+1)*y.T])
	}
	return out
}

// ConcatChoices joins two choice matrices along the task axis.
func ConcatChoices(head, tail *Choices) (*Choices, error) {
	if head.R != tail.R {
		return nil, fmt.Errorf("%w: cannot concatenate choices with R=%d and R=%d", ErrShapeMismatch, head.R, tail.R)
	}
	out := NewChoices(head.R, head.T+tail.T)
	for r := 0; r < head.R; r++ {
		copy(out.Data[r*out.T:], head.Data[r*head.T:(r+1)*head.T])
		copy(out.Data[r*out.T+head.T:], tail.Data[r*tail.T:(r+1)*tail.T])
	}
	return out, nil
}

// nestedMatrix converts a gonum matrix into row slices.
func nestedMatrix(m mat.Matrix) [][]float64 {
	rows, cols := m.Dims()
	out := make([][]float64, rows)
	for i := range out {
		out[i] = make([]float64, cols)
		for j := range out[i] {
			out[i][j] = m.At(i, j)
		}
	}
	return out
}
