package gateway

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// fakeChain stands in for a compiled model: it writes a fixed Stan CSV to
// the path given after "output file=".
const fakeChain = `#!/bin/sh
out=""
prev=""
for a in "$@"; do
  case "$a" in
    file=*) if [ "$prev" = "output" ]; then out="${a#file=}"; fi ;;
  esac
  prev="$a"
done
cat > "$out" <<'CSV'
# model = hbmnl
lp__,B.1.1,B.2.1
# Adaptation terminated
-1.0,1.0,2.0
-2.0,3.0,4.0
CSV
`

const failingChain = `#!/bin/sh
echo "Rejecting initial value" >&2
exit 70
`

// scriptCompiler installs a shell script as the model artifact.
type scriptCompiler struct{ script string }

func (c scriptCompiler) Compile(ctx context.Context, name string, source []byte, dir string) (string, error) {
	path := filepath.Join(dir, name)
	return path, os.WriteFile(path, []byte(c.script), 0755)
}

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
}

func TestCmdStanFitRunsEveryChain(t *testing.T) {
	skipWithoutShell(t)
	sampler := &CmdStan{
		Cache:   &ModelCache{Dir: t.TempDir(), Compiler: scriptCompiler{fakeChain}},
		WorkDir: t.TempDir(),
	}
	opts := DefaultOptions()
	opts.Chains = 3
	opts.Parallel = 2
	opts.Seed = 7

	draws, err := sampler.Fit(context.Background(), map[string]any{"R": 1}, opts)
	if err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	if draws.Len() != 6 {
		t.Errorf("Len() = %d, want 6 (3 chains x 2 draws)", draws.Len())
	}
	mean, _, err := draws.Mean("B")
	if err != nil {
		t.Fatal(err)
	}
	if mean[0] != 2 || mean[1] != 3 {
		t.Errorf("mean B = %v, want [2 3]", mean)
	}

	entries, err := os.ReadDir(sampler.WorkDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("work directory not cleaned up: %d entries", len(entries))
	}
}

func TestCmdStanFitKeepOutput(t *testing.T) {
	skipWithoutShell(t)
	sampler := &CmdStan{
		Cache:      &ModelCache{Dir: t.TempDir(), Compiler: scriptCompiler{fakeChain}},
		WorkDir:    t.TempDir(),
		KeepOutput: true,
	}
	opts := DefaultOptions()
	opts.Chains = 1
	if _, err := sampler.Fit(context.Background(), map[string]any{"R": 1}, opts); err != nil {
		t.Fatal(err)
	}
	matches, err := filepath.Glob(filepath.Join(sampler.WorkDir, "dcesim-fit-*", "data.json"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("data file not kept: %v %v", matches, err)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(data)) != `{"R":1}` {
		t.Errorf("data.json = %s", data)
	}
}

func TestCmdStanFitChainFailure(t *testing.T) {
	skipWithoutShell(t)
	sampler := &CmdStan{
		Cache:   &ModelCache{Dir: t.TempDir(), Compiler: scriptCompiler{failingChain}},
		WorkDir: t.TempDir(),
	}
	opts := DefaultOptions()
	opts.Chains = 2

	_, err := sampler.Fit(context.Background(), map[string]any{}, opts)
	var chainErr *ChainError
	if !errors.As(err, &chainErr) {
		t.Fatalf("Fit() error = %v, want *ChainError", err)
	}
	if !strings.Contains(chainErr.Stderr, "Rejecting initial value") {
		t.Errorf("Stderr = %q", chainErr.Stderr)
	}
}

func TestCmdStanRequiresSetup(t *testing.T) {
	if _, err := (&CmdStan{}).Compile(context.Background(), "m", nil, t.TempDir()); !errors.Is(err, ErrNoCmdStan) {
		t.Errorf("Compile() error = %v, want ErrNoCmdStan", err)
	}
	if _, err := (&CmdStan{}).Fit(context.Background(), nil, DefaultOptions()); err == nil {
		t.Error("Fit() without a cache succeeded")
	}
}

func TestTail(t *testing.T) {
	long := strings.Repeat("x", maxStderr+10)
	if got := tail(long); len(got) != maxStderr+3 || !strings.HasPrefix(got, "...") {
		t.Errorf("tail() length = %d", len(got))
	}
	if got := tail("  short \n"); got != "short" {
		t.Errorf("tail() = %q", got)
	}
}
