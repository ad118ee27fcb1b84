package gateway

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/nvandessel/choice-lab/internal/logging"
)

//go:embed models/*.stan
var builtinModels embed.FS

// ErrModelNotFound is returned when no source exists for a model name.
var ErrModelNotFound = errors.New("model not found")

// manifestFile records which source a cached artifact was compiled from.
const manifestFile = "manifest.json"

var modelName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// Compiler turns model source into an executable artifact inside dir and
// returns the artifact path.
type Compiler interface {
	Compile(ctx context.Context, name string, source []byte, dir string) (string, error)
}

// Model is a compiled, cached model.
type Model struct {
	Name       string    `json:"name"`
	SourceHash string    `json:"source_sha256"`
	Artifact   string    `json:"artifact"`
	CompiledAt time.Time `json:"compiled_at"`
}

// ModelCache compiles each model at most once per source revision and keeps
// the artifact on disk under <Dir>/<name>/.
type ModelCache struct {
	// Dir is the cache root.
	Dir string

	// SourceDir, when set, is searched for <name>.stan before the models
	// built into dcesim.
	SourceDir string

	Compiler Compiler
	Logger   *slog.Logger

	mu sync.Mutex
}

// Source returns the Stan source for name.
func (c *ModelCache) Source(name string) ([]byte, error) {
	if !modelName.MatchString(name) {
		return nil, fmt.Errorf("%w: invalid model name %q", ErrModelNotFound, name)
	}
	if c.SourceDir != "" {
		data, err := os.ReadFile(filepath.Join(c.SourceDir, name+".stan"))
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading model source: %w", err)
		}
	}
	data, err := builtinModels.ReadFile("models/" + name + ".stan")
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, name)
	}
	return data, nil
}

// Get returns the compiled model for name. A cached artifact is reused only
// when its manifest matches the current source hash and the artifact file
// still exists; otherwise the model is compiled afresh and re-cached.
func (c *ModelCache) Get(ctx context.Context, name string) (*Model, error) {
	source, err := c.Source(name)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(source)
	hash := hex.EncodeToString(sum[:])

	c.mu.Lock()
	defer c.mu.Unlock()

	log := c.logger().With("model", name)
	dir := filepath.Join(c.Dir, name)
	if m, err := readManifest(dir); err == nil {
		if m.SourceHash == hash && artifactExists(m.Artifact) {
			log.Debug("model cache hit", "artifact", m.Artifact)
			return m, nil
		}
		log.Info("model cache stale, recompiling")
	} else {
		log.Info("model cache miss, compiling", "reason", err)
	}

	if c.Compiler == nil {
		return nil, fmt.Errorf("compiling %s: no compiler configured", name)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	start := time.Now()
	artifact, err := c.Compiler.Compile(ctx, name, source, dir)
	if err != nil {
		return nil, fmt.Errorf("compiling %s: %w", name, err)
	}
	m := &Model{Name: name, SourceHash: hash, Artifact: artifact, CompiledAt: time.Now().UTC()}
	if err := writeManifest(dir, m); err != nil {
		return nil, err
	}
	log.Info("model compiled", "artifact", artifact, "elapsed", time.Since(start))
	return m, nil
}

func (c *ModelCache) logger() *slog.Logger {
	if c.Logger == nil {
		return logging.Discard()
	}
	return c.Logger
}

func readManifest(dir string) (*Model, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, err
	}
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("corrupt manifest: %w", err)
	}
	return &m, nil
}

func writeManifest(dir string, m *Model) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	tmp := filepath.Join(dir, manifestFile+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, manifestFile)); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

func artifactExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}
