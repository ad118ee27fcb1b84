package simulation

import (
	"testing"

	"github.com/nvandessel/choice-lab/internal/choice"
	"github.com/nvandessel/choice-lab/internal/panel"
	"gonum.org/v1/gonum/mat"
)

// AssertBinaryDesign asserts that X has shape [R, T, A, L] and holds only
// 0/1 entries.
func AssertBinaryDesign(t *testing.T, rec *panel.Record) {
	t.Helper()
	d := rec.Dims
	if rec.X.Shape() != [4]int{d.R, d.T, d.A, d.L} {
		t.Errorf("AssertBinaryDesign: X shape %v, want [%d %d %d %d]", rec.X.Shape(), d.R, d.T, d.A, d.L)
	}
	for i, v := range rec.X.Data {
		if v != 0 && v != 1 {
			t.Errorf("AssertBinaryDesign: X entry %d = %g", i, v)
			return
		}
	}
}

// AssertChoicesInRange asserts that Y has shape [R, T] and every entry is
// a valid 1-based alternative index.
func AssertChoicesInRange(t *testing.T, rec *panel.Record) {
	t.Helper()
	d := rec.Dims
	if rec.Y.R != d.R || rec.Y.T != d.T {
		t.Errorf("AssertChoicesInRange: Y shape [%d %d], want [%d %d]", rec.Y.R, rec.Y.T, d.R, d.T)
	}
	for i, v := range rec.Y.Data {
		if v < 1 || v > d.A {
			t.Errorf("AssertChoicesInRange: Y entry %d = %d, want 1..%d", i, v, d.A)
			return
		}
	}
}

// AssertArgmaxChoices asserts that every choice equals the alternative with
// the highest deterministic utility X[r,t]·B[:,r]. It only holds for
// noise-free runs, or for broadcast noise when no utilities tie.
func AssertArgmaxChoices(t *testing.T, rec *panel.Record) {
	t.Helper()
	for r := 0; r < rec.Dims.R; r++ {
		beta := mat.Col(nil, r, rec.B)
		for task := 0; task < rec.Dims.T; task++ {
			u := choice.Utilities(rec.X.Task(r, task), beta)
			if want := choice.Decide(u); rec.Y.At(r, task) != want {
				t.Errorf("AssertArgmaxChoices: Y[%d,%d] = %d, want %d (u=%v)", r, task, rec.Y.At(r, task), want, u)
			}
		}
	}
}

// AssertIdenticalPanels asserts that two records carry byte-identical X, B
// and Y.
func AssertIdenticalPanels(t *testing.T, a, b *panel.Record) {
	t.Helper()
	if a.Dims != b.Dims {
		t.Fatalf("AssertIdenticalPanels: dims %v vs %v", a.Dims, b.Dims)
	}
	for i := range a.X.Data {
		if a.X.Data[i] != b.X.Data[i] {
			t.Errorf("AssertIdenticalPanels: X differs at %d", i)
			break
		}
	}
	if !mat.Equal(a.B, b.B) {
		t.Error("AssertIdenticalPanels: B differs")
	}
	for i := range a.Y.Data {
		if a.Y.Data[i] != b.Y.Data[i] {
			t.Errorf("AssertIdenticalPanels: Y differs at %d", i)
			break
		}
	}
}
