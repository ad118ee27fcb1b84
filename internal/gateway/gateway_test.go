package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/nvandessel/choice-lab/internal/panel"
	"github.com/nvandessel/choice-lab/internal/simulation"
)

func simulatedRecord(t *testing.T, holdout int) *panel.Record {
	t.Helper()
	res, err := simulation.NewRunner(nil, nil).Run(context.Background(), simulation.Scenario{
		Dims:    panel.Dims{R: 3, T: 6, A: 2, L: 2, C: 1},
		Seed:    11,
		Holdout: holdout,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res.Record
}

func fixedDraws(t *testing.T) *Draws {
	t.Helper()
	d, err := NewDraws([]string{"lp__", "B.1.1"}, [][]float64{{-1, 0.5}, {-2, 1.5}})
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestGatewayFit(t *testing.T) {
	stub := &StubSampler{Draws: fixedDraws(t)}
	gw := New(stub, nil, nil)

	draws, err := gw.Fit(context.Background(), simulatedRecord(t, 0), DefaultOptions())
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	if draws != stub.Draws {
		t.Error("Fit() did not return the sampler's draws")
	}

	calls := stub.Calls()
	if len(calls) != 1 {
		t.Fatalf("sampler called %d times, want 1", len(calls))
	}
	for _, key := range []string{"X", "Z", "Y", "A", "R", "C", "T", "L", "B"} {
		if _, ok := calls[0][key]; !ok {
			t.Errorf("sampler data missing key %q", key)
		}
	}
}

func TestGatewayFitTrainBlock(t *testing.T) {
	stub := &StubSampler{Draws: fixedDraws(t)}
	opts := DefaultOptions()
	opts.Train = true

	if _, err := New(stub, nil, nil).Fit(context.Background(), simulatedRecord(t, 2), opts); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	data := stub.Calls()[0]
	if data["T"] != 4 {
		t.Errorf("T = %v, want 4", data["T"])
	}
	if _, ok := data["Xtest"]; !ok {
		t.Error("holdout block missing from sampler data")
	}

	if _, err := New(stub, nil, nil).Fit(context.Background(), simulatedRecord(t, 0), opts); !errors.Is(err, ErrInvalidOptions) {
		t.Errorf("Fit(train) without split error = %v, want ErrInvalidOptions", err)
	}
}

func TestGatewayFitRejectsInconsistentRecord(t *testing.T) {
	stub := &StubSampler{Draws: fixedDraws(t)}
	rec := simulatedRecord(t, 0)
	rec.Dims.T = 5

	_, err := New(stub, nil, nil).Fit(context.Background(), rec, DefaultOptions())
	if !errors.Is(err, panel.ErrShapeMismatch) {
		t.Fatalf("Fit() error = %v, want ErrShapeMismatch", err)
	}
	if len(stub.Calls()) != 0 {
		t.Error("sampler was called with an inconsistent record")
	}
}

func TestGatewayFitReturnsSamplerErrorUnmodified(t *testing.T) {
	failure := errors.New("divergent transitions")
	stub := &StubSampler{Err: failure}

	_, err := New(stub, nil, nil).Fit(context.Background(), simulatedRecord(t, 0), DefaultOptions())
	if err != failure {
		t.Errorf("Fit() error = %v, want the sampler's error itself", err)
	}
}

func TestGatewayFitNilDraws(t *testing.T) {
	_, err := New(&StubSampler{}, nil, nil).Fit(context.Background(), simulatedRecord(t, 0), DefaultOptions())
	if err == nil {
		t.Error("Fit() accepted a sampler that returned no draws")
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
		valid  bool
	}{
		{"defaults", func(*Options) {}, true},
		{"no model", func(o *Options) { o.Model = "" }, false},
		{"zero chains", func(o *Options) { o.Chains = 0 }, false},
		{"zero samples", func(o *Options) { o.Samples = 0 }, false},
		{"no warmup", func(o *Options) { o.Warmup = 0 }, true},
		{"negative warmup", func(o *Options) { o.Warmup = -1 }, false},
		{"negative parallel", func(o *Options) { o.Parallel = -1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := DefaultOptions()
			tt.mutate(&o)
			err := o.Validate()
			if tt.valid && err != nil {
				t.Errorf("Validate() error = %v", err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalidOptions) {
				t.Errorf("Validate() error = %v, want ErrInvalidOptions", err)
			}
		})
	}
}

func TestOptionsArgs(t *testing.T) {
	o := Options{Samples: 200, Warmup: 100, Seed: 42}
	got := o.Args(2, "/w/data.json", "/w/out.csv")
	want := []string{"sample", "num_samples=200", "num_warmup=100",
		"data", "file=/w/data.json", "output", "file=/w/out.csv",
		"random", "seed=42", "id=2"}
	if len(got) != len(want) {
		t.Fatalf("Args() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Args()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	o.Seed = 0
	for _, a := range o.Args(1, "d", "o") {
		if a == "random" {
			t.Error("Args() sets a seed when none was requested")
		}
	}
}
