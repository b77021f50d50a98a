// Package types defines the identity and hashing contracts shared by every
// value that flows through the engine: type IDs, params, and rule outputs.
//
// Type identity is a plain string token fixed at registration time. All
// requestable types are statically enumerable; nothing in the engine
// dispatches on reflection at runtime.
package types

import (
	"fmt"
	"sort"
	"strings"

	"github.com/snuderl/pants/internal/hashing"
)

// ID identifies a value type within the rule graph, e.g. "fs.FileContent".
type ID string

// Value is a typed, immutable, content-hashable value. Rule outputs and
// params both satisfy Value; equality everywhere in the engine is digest
// equality.
//
// Determinism is a documented precondition: a Value's fingerprint must be a
// pure function of its contents. Values embedding timestamps or other
// nondeterminism silently degrade equality short-circuiting to always-dirty
// propagation.
type Value interface {
	TypeID() ID
	Fingerprint() (hashing.Digest, error)
}

// Param is a client-supplied value that seeds a request. Params are ordinary
// Values; the distinct name marks intent at API boundaries.
type Param = Value

// ParamSet is a set of params with distinct type IDs, the unit of "what is
// in scope" for a request. The zero ParamSet is empty and usable.
type ParamSet struct {
	byType map[ID]Param
}

// NewParamSet builds a ParamSet, rejecting params with duplicate type IDs.
func NewParamSet(params ...Param) (ParamSet, error) {
	s := ParamSet{byType: make(map[ID]Param, len(params))}
	for _, p := range params {
		if _, dup := s.byType[p.TypeID()]; dup {
			return ParamSet{}, fmt.Errorf("duplicate param type %q in param set", p.TypeID())
		}
		s.byType[p.TypeID()] = p
	}
	return s, nil
}

// Get returns the param with the given type ID, if present.
func (s ParamSet) Get(id ID) (Param, bool) {
	p, ok := s.byType[id]
	return p, ok
}

// Len returns the number of params in the set.
func (s ParamSet) Len() int {
	return len(s.byType)
}

// TypeIDs returns the sorted type IDs present in the set.
func (s ParamSet) TypeIDs() []ID {
	ids := make([]ID, 0, len(s.byType))
	for id := range s.byType {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// With returns a copy of the set with extra params layered on top. An extra
// param with a type already present replaces it, matching the scoping rule
// for Gets that introduce their own params.
func (s ParamSet) With(extra ...Param) ParamSet {
	out := ParamSet{byType: make(map[ID]Param, len(s.byType)+len(extra))}
	for id, p := range s.byType {
		out.byType[id] = p
	}
	for _, p := range extra {
		out.byType[p.TypeID()] = p
	}
	return out
}

// Select returns the subset of the set covering exactly the given type IDs.
// It fails if any ID is absent; the result is what a rule invocation sees.
func (s ParamSet) Select(ids []ID) (ParamSet, error) {
	out := ParamSet{byType: make(map[ID]Param, len(ids))}
	for _, id := range ids {
		p, ok := s.byType[id]
		if !ok {
			return ParamSet{}, fmt.Errorf("param type %q not in scope", id)
		}
		out.byType[id] = p
	}
	return out, nil
}

// Fingerprint computes the order-independent digest of the set, the params
// component of a NodeKey. Equal sets always produce equal digests.
func (s ParamSet) Fingerprint() (hashing.Digest, error) {
	obj := make(map[string]any, len(s.byType))
	for id, p := range s.byType {
		d, err := p.Fingerprint()
		if err != nil {
			return hashing.Digest{}, fmt.Errorf("fingerprint param %q: %w", id, err)
		}
		obj[string(id)] = d
	}
	return hashing.OfValue(hashing.DomainParams, obj)
}

// String renders the set's type IDs for error messages, e.g. "(fs.Path, Root)".
func (s ParamSet) String() string {
	ids := s.TypeIDs()
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// IDSetKey returns a stable string key for a set of type IDs, used by the
// rule graph compiler to memoize (output, available params) queries.
func IDSetKey(ids []ID) string {
	sorted := make([]string, len(ids))
	for i, id := range ids {
		sorted[i] = string(id)
	}
	sort.Strings(sorted)
	return strings.Join(sorted, "+")
}
