package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is one declarative end-to-end test: an initial workspace, a
// sequence of requests and file edits, and expectations about values and
// rule executions.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Workspace maps workspace-relative paths to initial file contents.
	Workspace map[string]string `yaml:"workspace,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Runs asserts, after all steps, how many times each named rule
	// actually executed. Rules not listed are unconstrained.
	Runs map[string]int `yaml:"runs,omitempty"`
}

// Step is one scenario action. Exactly one field must be set.
type Step struct {
	// Request evaluates one request against the engine.
	Request *RequestStep `yaml:"request,omitempty"`

	// Write creates or overwrites a workspace file. It does not invalidate;
	// pair it with an invalidate step, as a build tool's watcher would.
	Write *WriteStep `yaml:"write,omitempty"`

	// Remove deletes a workspace file.
	Remove string `yaml:"remove,omitempty"`

	// Invalidate feeds changed paths into the graph.
	Invalidate []string `yaml:"invalidate,omitempty"`
}

// RequestStep evaluates one request. The param is given by exactly one of
// Path, Dir, Globs, or Argv.
type RequestStep struct {
	// Output is the requested type ID, e.g. "demo.LineCount".
	Output string `yaml:"output"`

	Path  string   `yaml:"path,omitempty"`
	Dir   string   `yaml:"dir,omitempty"`
	Globs []string `yaml:"globs,omitempty"`
	Argv  []string `yaml:"argv,omitempty"`

	// Expect validates the outcome. Nil means only "no error".
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect validates one request outcome.
type Expect struct {
	// Value is matched against the outcome value's %v rendering.
	Value string `yaml:"value,omitempty"`

	// Error, when non-empty, requires a failure whose message contains it.
	Error string `yaml:"error,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func (s *Scenario) validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	for i, step := range s.Steps {
		set := 0
		if step.Request != nil {
			set++
			if err := step.Request.validate(); err != nil {
				return fmt.Errorf("steps[%d]: %w", i, err)
			}
		}
		if step.Write != nil {
			set++
			if step.Write.Path == "" {
				return fmt.Errorf("steps[%d]: write.path is required", i)
			}
		}
		if step.Remove != "" {
			set++
		}
		if len(step.Invalidate) > 0 {
			set++
		}
		if set != 1 {
			return fmt.Errorf("steps[%d]: exactly one of request/write/remove/invalidate is required", i)
		}
	}
	return nil
}

func (r *RequestStep) validate() error {
	if r.Output == "" {
		return fmt.Errorf("request.output is required")
	}
	set := 0
	if r.Path != "" {
		set++
	}
	if r.Dir != "" {
		set++
	}
	if len(r.Globs) > 0 {
		set++
	}
	if len(r.Argv) > 0 {
		set++
	}
	if set != 1 {
		return fmt.Errorf("request needs exactly one of path/dir/globs/argv")
	}
	if r.Expect != nil && r.Expect.Value != "" && r.Expect.Error != "" {
		return fmt.Errorf("expect.value and expect.error are mutually exclusive")
	}
	return nil
}

// WriteStep creates or overwrites one workspace file.
type WriteStep struct {
	Path    string `yaml:"path"`
	Content string `yaml:"content"`
}
