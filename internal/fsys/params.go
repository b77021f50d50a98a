package fsys

import (
	"github.com/snuderl/pants/internal/hashing"
	"github.com/snuderl/pants/internal/types"
)

// Path is the param selecting one workspace-relative file.
type Path string

func (p Path) TypeID() types.ID { return TypePath }

func (p Path) Fingerprint() (hashing.Digest, error) {
	return hashing.OfValue(hashing.DomainValue, map[string]any{
		"type": string(TypePath),
		"path": string(p),
	})
}

// Dir is the param selecting one workspace-relative directory.
type Dir string

func (d Dir) TypeID() types.ID { return TypeDir }

func (d Dir) Fingerprint() (hashing.Digest, error) {
	return hashing.OfValue(hashing.DomainValue, map[string]any{
		"type": string(TypeDir),
		"dir":  string(d),
	})
}

// Globs doubles as the glob expansion param; pattern order is semantically
// irrelevant but kept in the fingerprint as given, so callers should build
// glob sets deterministically.
func (g Globs) TypeID() types.ID { return TypeGlobs }

func (g Globs) Fingerprint() (hashing.Digest, error) {
	return hashing.OfValue(hashing.DomainValue, map[string]any{
		"type":    string(TypeGlobs),
		"include": g.Include,
		"exclude": g.Exclude,
	})
}
