// Package config loads engine configuration from CUE files. CUE is used
// only for configuration (workspace layout, budgets, watch settings, and
// declared process targets); rules are authored in Go.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
)

// Watch configures the filesystem watcher.
type Watch struct {
	// DebounceMS is the coalescing window for change bursts.
	DebounceMS int `json:"debounce_ms"`
	// Ignore lists path prefixes the watcher never descends into.
	Ignore []string `json:"ignore"`
}

// Debounce returns the coalescing window as a duration.
func (w Watch) Debounce() time.Duration {
	return time.Duration(w.DebounceMS) * time.Millisecond
}

// Target is a declared process execution, runnable by name from the CLI.
type Target struct {
	Argv        []string `json:"argv"`
	Env         []string `json:"env"`
	Dir         string   `json:"dir"`
	Description string   `json:"description"`
}

// Config is the decoded engine configuration.
type Config struct {
	// Workspace is the root directory rules read from.
	Workspace string `json:"workspace"`
	// Parallelism bounds concurrent rule executions per session. Zero means
	// the engine default.
	Parallelism int `json:"parallelism"`
	// CacheDir holds the content-addressed store and process scratch space.
	CacheDir string `json:"cache_dir"`

	Watch   Watch             `json:"watch"`
	Targets map[string]Target `json:"-"`
}

// Default returns the configuration used when no CUE files are present.
func Default() *Config {
	return &Config{
		Workspace: ".",
		CacheDir:  ".pants.d",
		Watch: Watch{
			DebounceMS: 100,
			Ignore:     []string{".git", ".pants.d"},
		},
		Targets: map[string]Target{},
	}
}

// Load reads and validates configuration from the CUE package in dir. The
// decoded values are layered over Default; a missing "engine" section keeps
// the defaults, and a directory with no CUE files at all yields Default.
func Load(dir string) (*Config, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("config directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("config path is not a directory: %s", dir)
	}

	hasCUE, err := hasCUEFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("scan config directory: %w", err)
	}
	if !hasCUE {
		return Default(), nil
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances in %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("load CUE files: %w", inst.Err)
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("build CUE value: %w", err)
	}

	cfg := Default()

	engineVal := value.LookupPath(cue.ParsePath("engine"))
	if engineVal.Exists() {
		if err := engineVal.Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode engine config: %w", err)
		}
	}

	targetsVal := value.LookupPath(cue.ParsePath("target"))
	if targetsVal.Exists() {
		iter, err := targetsVal.Fields()
		if err != nil {
			return nil, fmt.Errorf("iterate targets: %w", err)
		}
		for iter.Next() {
			var t Target
			if err := iter.Value().Decode(&t); err != nil {
				return nil, fmt.Errorf("decode target %q: %w", iter.Label(), err)
			}
			cfg.Targets[iter.Label()] = t
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func hasCUEFiles(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".cue" {
			return true, nil
		}
	}
	return false, nil
}

func (c *Config) validate() error {
	if c.Workspace == "" {
		return fmt.Errorf("engine.workspace must not be empty")
	}
	if c.Parallelism < 0 {
		return fmt.Errorf("engine.parallelism must not be negative, got %d", c.Parallelism)
	}
	if c.Watch.DebounceMS < 0 {
		return fmt.Errorf("engine.watch.debounce_ms must not be negative, got %d", c.Watch.DebounceMS)
	}
	for name, t := range c.Targets {
		if len(t.Argv) == 0 {
			return fmt.Errorf("target %q has empty argv", name)
		}
	}
	return nil
}
