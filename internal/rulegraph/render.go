package rulegraph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/snuderl/pants/internal/rules"
)

// Render produces a stable, human-readable listing of the compiled graph:
// every query root and every resolved entry with its Get edges. The output
// is deterministic and golden-testable.
func (g *RuleGraph) Render() string {
	var b strings.Builder

	b.WriteString("queries:\n")
	for _, q := range g.queries {
		entry, _ := g.Lookup(q.Output, q.Params)
		b.WriteString(fmt.Sprintf("  %s %s -> %s\n", q.Output, idSetString(q.Params), entryLabel(entry)))
	}

	keys := make([]memoKey, 0, len(g.entries))
	for k := range g.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].output != keys[j].output {
			return keys[i].output < keys[j].output
		}
		return keys[i].availKey < keys[j].availKey
	})

	b.WriteString("entries:\n")
	for _, k := range keys {
		e := g.entries[k]
		b.WriteString(fmt.Sprintf("  %s %s -> %s\n", k.output, idSetString(e.Avail), entryLabel(e)))
		if e.Kind != EntryRule {
			continue
		}
		gets := make([]string, 0, len(e.childs))
		for gk, child := range e.childs {
			gets = append(gets, fmt.Sprintf("    get %s -> %s\n", gk.output, entryLabel(child)))
		}
		sort.Strings(gets)
		for _, line := range gets {
			b.WriteString(line)
		}
	}

	return b.String()
}

func entryLabel(e *Entry) string {
	switch {
	case e == nil:
		return "<unresolved>"
	case e.Kind == EntryParam:
		return "param " + string(e.Param)
	default:
		return "rule " + e.Rule.Name + " " + ruleSignature(e.Rule)
	}
}

// ruleSignature renders a rule's type signature for errors and listings,
// e.g. "(fs.Path) -> LineCount".
func ruleSignature(r *rules.Rule) string {
	params := make([]string, len(r.Params))
	for i, p := range r.Params {
		params[i] = string(p)
	}
	return fmt.Sprintf("(%s) -> %s", strings.Join(params, ", "), r.Output)
}
