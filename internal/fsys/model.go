// Package fsys models the workspace filesystem as hashable values and
// provides the intrinsic leaf rules that read it. Everything above these
// rules sees files only as immutable snapshots; the rules themselves record
// their reads so filesystem changes dirty exactly the right nodes.
package fsys

import (
	"github.com/snuderl/pants/internal/hashing"
	"github.com/snuderl/pants/internal/types"
)

// Type IDs for the filesystem value and param types.
const (
	TypePath        = types.ID("fs.Path")
	TypeDir         = types.ID("fs.Dir")
	TypeGlobs       = types.ID("fs.Globs")
	TypeStat        = types.ID("fs.Stat")
	TypeFileContent = types.ID("fs.FileContent")
	TypeDirEntries  = types.ID("fs.DirEntries")
	TypeSnapshot    = types.ID("fs.Snapshot")
)

// EntryKind classifies a directory entry.
type EntryKind string

const (
	KindFile EntryKind = "file"
	KindDir  EntryKind = "dir"
	KindLink EntryKind = "link"
)

// Stat is the metadata snapshot of one path: its kind and, for files,
// whether it is executable. Size and mtime are deliberately absent; identity
// is content-based and mtimes would poison fingerprints.
type Stat struct {
	Path       string
	Kind       EntryKind
	Executable bool
}

func (s Stat) TypeID() types.ID { return TypeStat }

func (s Stat) Fingerprint() (hashing.Digest, error) {
	return hashing.OfValue(hashing.DomainValue, map[string]any{
		"type":       string(TypeStat),
		"path":       s.Path,
		"kind":       string(s.Kind),
		"executable": s.Executable,
	})
}

// FileContent is the captured content of one file.
type FileContent struct {
	Path    string
	Content []byte
}

func (f FileContent) TypeID() types.ID { return TypeFileContent }

func (f FileContent) Fingerprint() (hashing.Digest, error) {
	return hashing.OfValue(hashing.DomainValue, map[string]any{
		"type":    string(TypeFileContent),
		"path":    f.Path,
		"content": f.Content,
	})
}

// DirEntries is the sorted immediate listing of one directory.
type DirEntries struct {
	Dir     string
	Entries []Stat
}

func (d DirEntries) TypeID() types.ID { return TypeDirEntries }

func (d DirEntries) Fingerprint() (hashing.Digest, error) {
	entries := make([]any, len(d.Entries))
	for i, e := range d.Entries {
		entries[i] = map[string]any{
			"path":       e.Path,
			"kind":       string(e.Kind),
			"executable": e.Executable,
		}
	}
	return hashing.OfValue(hashing.DomainValue, map[string]any{
		"type":    string(TypeDirEntries),
		"dir":     d.Dir,
		"entries": entries,
	})
}

// Snapshot is the result of expanding a glob set: the sorted matching file
// paths plus a digest binding each path to its content. Two snapshots are
// equal exactly when the same files hold the same bytes.
type Snapshot struct {
	Files  []string
	Digest hashing.Digest
}

func (s Snapshot) TypeID() types.ID { return TypeSnapshot }

func (s Snapshot) Fingerprint() (hashing.Digest, error) {
	return hashing.OfValue(hashing.DomainValue, map[string]any{
		"type":   string(TypeSnapshot),
		"files":  s.Files,
		"digest": s.Digest,
	})
}
