package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/nvandessel/choice-lab/internal/logging"
)

// ErrNoCmdStan is returned when no CmdStan installation is configured.
var ErrNoCmdStan = errors.New("cmdstan home not configured")

// maxStderr bounds the tool output kept in errors.
const maxStderr = 4096

// ChainError reports a failed sampler process. Stderr holds the tail of the
// process output.
type ChainError struct {
	Chain  int
	Err    error
	Stderr string
}

func (e *ChainError) Error() string {
	msg := fmt.Sprintf("chain %d: %v", e.Chain, e.Err)
	if e.Stderr != "" {
		msg += "\n" + e.Stderr
	}
	return msg
}

func (e *ChainError) Unwrap() error { return e.Err }

// CmdStan compiles and samples models with a local CmdStan installation.
// It implements both Compiler and Sampler.
type CmdStan struct {
	// Home is the CmdStan installation directory (the one holding the
	// makefile).
	Home string

	// Cache supplies compiled models to Fit.
	Cache *ModelCache

	// WorkDir is where per-fit scratch directories are created. Empty uses
	// the system temp directory.
	WorkDir string

	// KeepOutput leaves the data file and per-chain CSV files on disk.
	KeepOutput bool

	Logger *slog.Logger
}

var (
	_ Compiler = (*CmdStan)(nil)
	_ Sampler  = (*CmdStan)(nil)
)

func (s *CmdStan) logger() *slog.Logger {
	if s.Logger == nil {
		return logging.Discard()
	}
	return s.Logger
}

// Compile writes the source into dir and builds it with CmdStan's make.
func (s *CmdStan) Compile(ctx context.Context, name string, source []byte, dir string) (string, error) {
	if s.Home == "" {
		return "", ErrNoCmdStan
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(abs, name+".stan"), source, 0644); err != nil {
		return "", fmt.Errorf("writing model source: %w", err)
	}

	exe := filepath.Join(abs, name)
	if runtime.GOOS == "windows" {
		exe += ".exe"
	}
	// make works on the target path with forward slashes on every platform
	cmd := exec.CommandContext(ctx, "make", "-C", s.Home, filepath.ToSlash(exe))
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	s.logger().Log(ctx, logging.LevelTrace, "compiling model", "cmd", cmd.String())
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("make %s: %w\n%s", name, err, tail(out.String()))
	}
	return exe, nil
}

// Args returns the command-line arguments for one sampling chain.
func (o Options) Args(chain int, dataFile, outputFile string) []string {
	args := []string{
		"sample",
		"num_samples=" + strconv.Itoa(o.Samples),
		"num_warmup=" + strconv.Itoa(o.Warmup),
		"data", "file=" + dataFile,
		"output", "file=" + outputFile,
	}
	if o.Seed != 0 {
		args = append(args, "random", "seed="+strconv.FormatUint(o.Seed, 10))
	}
	return append(args, "id="+strconv.Itoa(chain))
}

// Fit implements Sampler. Chains run as separate processes, at most
// opts.Parallel at a time, and their draws are stacked in chain order.
func (s *CmdStan) Fit(ctx context.Context, data map[string]any, opts Options) (*Draws, error) {
	if s.Cache == nil {
		return nil, errors.New("cmdstan: no model cache configured")
	}
	model, err := s.Cache.Get(ctx, opts.Model)
	if err != nil {
		return nil, err
	}

	work, err := os.MkdirTemp(s.WorkDir, "dcesim-fit-")
	if err != nil {
		return nil, fmt.Errorf("creating work directory: %w", err)
	}
	log := s.logger().With("model", opts.Model, "workdir", work)
	if s.KeepOutput {
		log.Info("keeping sampler output")
	} else {
		defer os.RemoveAll(work)
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshaling sampler data: %w", err)
	}
	dataFile := filepath.Join(work, "data.json")
	if err := os.WriteFile(dataFile, payload, 0600); err != nil {
		return nil, fmt.Errorf("writing sampler data: %w", err)
	}

	parts := make([]*Draws, opts.Chains)
	g, gctx := errgroup.WithContext(ctx)
	if opts.Parallel > 0 {
		g.SetLimit(opts.Parallel)
	}
	for chain := 1; chain <= opts.Chains; chain++ {
		g.Go(func() error {
			out := filepath.Join(work, fmt.Sprintf("output_%d.csv", chain))
			cmd := exec.CommandContext(gctx, model.Artifact, opts.Args(chain, dataFile, out)...)
			cmd.Dir = work
			var stderr bytes.Buffer
			cmd.Stderr = &stderr
			log.Log(gctx, logging.LevelTrace, "starting chain", "cmd", cmd.String())
			if err := cmd.Run(); err != nil {
				return &ChainError{Chain: chain, Err: err, Stderr: tail(stderr.String())}
			}

			f, err := os.Open(out)
			if err != nil {
				return &ChainError{Chain: chain, Err: err}
			}
			defer f.Close()
			d, err := ReadStanCSV(f)
			if err != nil {
				return &ChainError{Chain: chain, Err: err}
			}
			log.Debug("chain finished", "chain", chain, "draws", d.Len())
			parts[chain-1] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ConcatDraws(parts...)
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderr {
		return "..." + s[len(s)-maxStderr:]
	}
	return s
}
