package design

import (
	"errors"
	"math"
	"testing"

	"github.com/nvandessel/choice-lab/internal/panel"
	"github.com/nvandessel/choice-lab/internal/random"
)

func TestGenerateShapeAndValues(t *testing.T) {
	tests := []struct {
		name string
		dims panel.Dims
	}{
		{"demo panel", panel.Dims{R: 5, T: 5, A: 3, L: 10, C: 1}},
		{"minimal panel", panel.Dims{R: 2, T: 3, A: 2, L: 2, C: 1}},
		{"single respondent", panel.Dims{R: 1, T: 12, A: 4, L: 6, C: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := random.Seeds{Master: 1}.Source(random.StreamDesign, 0)
			x, z, err := Generate(tt.dims, src)
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}

			d := tt.dims
			if x.Shape() != [4]int{d.R, d.T, d.A, d.L} {
				t.Errorf("X shape = %v", x.Shape())
			}
			for i, v := range x.Data {
				if v != 0 && v != 1 {
					t.Fatalf("X entry %d = %g, want 0 or 1", i, v)
				}
			}

			rows, cols := z.Dims()
			if rows != d.R || cols != d.C {
				t.Errorf("Z is %dx%d, want %dx%d", rows, cols, d.R, d.C)
			}
			for r := 0; r < rows; r++ {
				if z.At(r, 0) != 1 {
					t.Errorf("Z[%d,0] = %g, want 1", r, z.At(r, 0))
				}
			}
		})
	}
}

func TestGenerateRejectsCovariates(t *testing.T) {
	dims := panel.Dims{R: 2, T: 3, A: 2, L: 2, C: 2}
	x, z, err := Generate(dims, random.Seeds{Master: 1}.Source(random.StreamDesign, 0))
	if !errors.Is(err, panel.ErrUnsupportedCovariates) {
		t.Fatalf("Generate() error = %v, want ErrUnsupportedCovariates", err)
	}
	if x != nil || z != nil {
		t.Error("Generate returned arrays alongside an error")
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	dims := panel.Dims{R: 4, T: 6, A: 3, L: 5, C: 1}
	seeds := random.Seeds{Master: 99}

	a, _, err := Generate(dims, seeds.Source(random.StreamDesign, 0))
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := Generate(dims, seeds.Source(random.StreamDesign, 0))
	if err != nil {
		t.Fatal(err)
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatalf("designs differ at %d", i)
		}
	}
}

func TestLevelFrequenciesNearHalf(t *testing.T) {
	dims := panel.Dims{R: 200, T: 10, A: 3, L: 4, C: 1}
	x, _, err := Generate(dims, random.Seeds{Master: 5}.Source(random.StreamDesign, 0))
	if err != nil {
		t.Fatal(err)
	}

	// 6000 Bernoulli(0.5) draws per level: sd of the share is about 0.0065.
	for l, f := range LevelFrequencies(x) {
		if math.Abs(f-LevelProbability) > 0.04 {
			t.Errorf("level %d shown in %.3f of alternatives, want about %.1f", l, f, LevelProbability)
		}
	}
}
