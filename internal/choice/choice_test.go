package choice

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/nvandessel/choice-lab/internal/panel"
	"github.com/nvandessel/choice-lab/internal/random"
	"gonum.org/v1/gonum/mat"
)

// identityTasks builds a design in which every task shows level 1 in
// alternative 1 and level 2 in alternative 2.
func identityTasks(dims panel.Dims) *panel.Design {
	x := panel.NewDesign(dims.R, dims.T, dims.A, dims.L)
	for r := 0; r < dims.R; r++ {
		for t := 0; t < dims.T; t++ {
			x.Set(r, t, 0, 0, 1)
			x.Set(r, t, 1, 1, 1)
		}
	}
	return x
}

func TestSimulateScenarioIdentityPreferences(t *testing.T) {
	dims := panel.Dims{R: 2, T: 3, A: 2, L: 2, C: 1}
	x := identityTasks(dims)
	// Respondent 1 favors level 1, respondent 2 favors level 2.
	b := mat.NewDense(2, 2, []float64{1, 0, 0, 1})

	sim := &Simulator{Noise: ZeroSource{}}
	y, err := sim.Simulate(context.Background(), x, b, dims)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}

	for task := 0; task < dims.T; task++ {
		if got := y.At(0, task); got != 1 {
			t.Errorf("respondent 1 task %d chose %d, want 1", task, got)
		}
		if got := y.At(1, task); got != 2 {
			t.Errorf("respondent 2 task %d chose %d, want 2", task, got)
		}
	}
}

func TestSimulateZeroNoiseIsArgmax(t *testing.T) {
	dims := panel.Dims{R: 6, T: 8, A: 4, L: 5, C: 1}
	seeds := random.Seeds{Master: 21}
	x := randomDesign(dims, seeds)
	b := mat.NewDense(dims.L, dims.R, nil)
	for i := 0; i < dims.L; i++ {
		for r := 0; r < dims.R; r++ {
			b.Set(i, r, float64((i*7+r*3)%11)-5)
		}
	}

	y, err := (&Simulator{Noise: ZeroSource{}}).Simulate(context.Background(), x, b, dims)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	for r := 0; r < dims.R; r++ {
		beta := mat.Col(nil, r, b)
		for task := 0; task < dims.T; task++ {
			u := Utilities(x.Task(r, task), beta)
			best := 0
			for a := range u {
				if u[a] > u[best] {
					best = a
				}
			}
			if got := y.At(r, task); got != best+1 {
				t.Errorf("Y[%d,%d] = %d, want %d (u=%v)", r, task, got, best+1, u)
			}
		}
	}
}

func TestCovariateNoiseMatchesArgmaxWithoutTies(t *testing.T) {
	dims := panel.Dims{R: 10, T: 10, A: 3, L: 6, C: 1}
	seeds := random.Seeds{Master: 4}
	x := randomDesign(dims, seeds)
	b := mat.NewDense(dims.L, dims.R, nil)
	for i := 0; i < dims.L; i++ {
		for r := 0; r < dims.R; r++ {
			// Distinct powers of two keep every subset sum distinct.
			b.Set(i, r, math.Pow(2, float64((i+r)%dims.L)))
		}
	}

	ctx := context.Background()
	noisy, err := (&Simulator{Noise: GumbelSource{Sources: seeds.Respondent(random.StreamNoise)}, Mode: NoiseCovariate}).Simulate(ctx, x, b, dims)
	if err != nil {
		t.Fatal(err)
	}
	plain, err := (&Simulator{Noise: ZeroSource{}}).Simulate(ctx, x, b, dims)
	if err != nil {
		t.Fatal(err)
	}

	for r := 0; r < dims.R; r++ {
		for task := 0; task < dims.T; task++ {
			u := Utilities(x.Task(r, task), mat.Col(nil, r, b))
			if hasTie(u) {
				continue
			}
			if noisy.At(r, task) != plain.At(r, task) {
				t.Errorf("Y[%d,%d]: broadcast noise changed the choice", r, task)
			}
		}
	}
}

func TestPerAlternativeNoiseFollowsLogitProbabilities(t *testing.T) {
	// One task repeated for many respondents sharing the same part-worths.
	const respondents = 20000
	dims := panel.Dims{R: respondents, T: 1, A: 3, L: 3, C: 1}
	x := panel.NewDesign(dims.R, 1, 3, 3)
	for r := 0; r < respondents; r++ {
		for a := 0; a < 3; a++ {
			x.Set(r, 0, a, a, 1)
		}
	}
	beta := []float64{0.5, 0, -1}
	b := mat.NewDense(3, respondents, nil)
	for r := 0; r < respondents; r++ {
		b.SetCol(r, beta)
	}

	sim := &Simulator{
		Noise: GumbelSource{Sources: random.Seeds{Master: 77}.Respondent(random.StreamNoise)},
		Mode:  NoisePerAlternative,
	}
	y, err := sim.Simulate(context.Background(), x, b, dims)
	if err != nil {
		t.Fatal(err)
	}

	counts := make([]float64, 3)
	for _, v := range y.Data {
		counts[v-1]++
	}
	want := Probabilities(beta)
	for a := range counts {
		share := counts[a] / respondents
		if math.Abs(share-want[a]) > 0.02 {
			t.Errorf("alternative %d share = %.3f, want about %.3f", a+1, share, want[a])
		}
	}
}

func TestSimulateIndependentOfWorkers(t *testing.T) {
	dims := panel.Dims{R: 40, T: 5, A: 3, L: 4, C: 1}
	seeds := random.Seeds{Master: 9}
	x := randomDesign(dims, seeds)
	b := mat.NewDense(dims.L, dims.R, nil)
	b.Apply(func(i, j int, _ float64) float64 { return float64(i-j%3) * 0.1 }, b)

	run := func(workers int) *panel.Choices {
		sim := &Simulator{
			Noise:   GumbelSource{Sources: seeds.Respondent(random.StreamNoise)},
			Mode:    NoisePerAlternative,
			Workers: workers,
		}
		y, err := sim.Simulate(context.Background(), x, b, dims)
		if err != nil {
			t.Fatal(err)
		}
		return y
	}

	a, c := run(1), run(16)
	for i := range a.Data {
		if a.Data[i] != c.Data[i] {
			t.Fatalf("choices depend on worker count at %d", i)
		}
	}
}

func TestSimulateRejectsBadInput(t *testing.T) {
	dims := panel.Dims{R: 2, T: 3, A: 2, L: 2, C: 1}
	x := identityTasks(dims)
	sim := &Simulator{Noise: ZeroSource{}}
	ctx := context.Background()

	tests := []struct {
		name    string
		x       *panel.Design
		b       *mat.Dense
		dims    panel.Dims
		wantErr error
	}{
		{"covariates", x, mat.NewDense(2, 2, nil), panel.Dims{R: 2, T: 3, A: 2, L: 2, C: 2}, panel.ErrUnsupportedCovariates},
		{"design shape", panel.NewDesign(2, 2, 2, 2), mat.NewDense(2, 2, nil), dims, panel.ErrShapeMismatch},
		{"beta shape", x, mat.NewDense(3, 2, nil), dims, panel.ErrShapeMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := sim.Simulate(ctx, tt.x, tt.b, tt.dims); !errors.Is(err, tt.wantErr) {
				t.Fatalf("Simulate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecideTiesGoToFirst(t *testing.T) {
	if got := Decide([]float64{1, 3, 3, 2}); got != 2 {
		t.Errorf("Decide = %d, want 2", got)
	}
}

func TestProbabilitiesSumToOne(t *testing.T) {
	p := Probabilities([]float64{1000, 999, -5})
	sum := 0.0
	for _, v := range p {
		sum += v
	}
	if math.Abs(sum-1) > 1e-12 {
		t.Errorf("sum = %g", sum)
	}
	if p[0] <= p[1] {
		t.Errorf("p = %v, want p[0] > p[1]", p)
	}
}

func TestStandardGumbel(t *testing.T) {
	// The Gumbel median is -log(log 2).
	if got, want := StandardGumbel(0.5), -math.Log(math.Log(2)); math.Abs(got-want) > 1e-12 {
		t.Errorf("StandardGumbel(0.5) = %g, want %g", got, want)
	}
}

func TestParseNoiseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    NoiseMode
		wantErr bool
	}{
		{"", NoiseCovariate, false},
		{"covariate", NoiseCovariate, false},
		{"alternative", NoisePerAlternative, false},
		{"gaussian", "", true},
	}
	for _, tt := range tests {
		got, err := ParseNoiseMode(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseNoiseMode(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func randomDesign(dims panel.Dims, seeds random.Seeds) *panel.Design {
	src := seeds.Source(random.StreamDesign, 0)
	x := panel.NewDesign(dims.R, dims.T, dims.A, dims.L)
	for i := range x.Data {
		x.Data[i] = float64(src.Uint64() & 1)
	}
	return x
}

func hasTie(u []float64) bool {
	for i := range u {
		for j := i + 1; j < len(u); j++ {
			if u[i] == u[j] {
				return true
			}
		}
	}
	return false
}
