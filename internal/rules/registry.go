package rules

import (
	"fmt"
	"sort"
)

// Registry collects rule descriptors before compilation. It is not
// concurrency-safe; registration happens once at startup, after which the
// compiled rule graph is the immutable source of truth.
type Registry struct {
	byName map[string]*Rule
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Rule)}
}

// Register adds a rule. Duplicate names, missing run functions, and missing
// output types are structural errors surfaced immediately.
func (r *Registry) Register(rule *Rule) error {
	if rule.Name == "" {
		return fmt.Errorf("rule has no name")
	}
	if rule.Output == "" {
		return fmt.Errorf("rule %q has no output type", rule.Name)
	}
	if rule.Run == nil {
		return fmt.Errorf("rule %q has no run function", rule.Name)
	}
	seen := make(map[string]bool, len(rule.Params))
	for _, p := range rule.Params {
		if seen[string(p)] {
			return fmt.Errorf("rule %q declares param type %q twice", rule.Name, p)
		}
		seen[string(p)] = true
	}
	if _, dup := r.byName[rule.Name]; dup {
		return fmt.Errorf("rule %q already registered", rule.Name)
	}
	r.byName[rule.Name] = rule
	return nil
}

// MustRegister is like Register but panics on error. Intended for static
// rule sets wired at startup, where a failure is a programming error.
func (r *Registry) MustRegister(rule *Rule) {
	if err := r.Register(rule); err != nil {
		panic(err)
	}
}

// Rules returns all registered rules sorted by name, for deterministic
// compilation and rendering.
func (r *Registry) Rules() []*Rule {
	out := make([]*Rule, 0, len(r.byName))
	for _, rule := range r.byName {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup returns a rule by name.
func (r *Registry) Lookup(name string) (*Rule, bool) {
	rule, ok := r.byName[name]
	return rule, ok
}

// Len returns the number of registered rules.
func (r *Registry) Len() int {
	return len(r.byName)
}
