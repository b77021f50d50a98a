package fsys

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/snuderl/pants/internal/hashing"
	"github.com/snuderl/pants/internal/rules"
	"github.com/snuderl/pants/internal/types"
)

// Rules returns the intrinsic leaf rules rooted at the given workspace
// directory. They are the only rules that touch the filesystem directly, and
// each records its reads through the task so the watch index can dirty it on
// change.
func Rules(root string) []*rules.Rule {
	return []*rules.Rule{
		{
			Name:   "fs.read_file",
			Params: []types.ID{TypePath},
			Output: TypeFileContent,
			Run: func(t rules.Task) (types.Value, error) {
				p, _ := t.Param(TypePath)
				rel := string(p.(Path))
				t.TrackFile(rel)
				content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
				if err != nil {
					return nil, fmt.Errorf("read %s: %w", rel, err)
				}
				return FileContent{Path: rel, Content: content}, nil
			},
		},
		{
			Name:   "fs.stat",
			Params: []types.ID{TypePath},
			Output: TypeStat,
			Run: func(t rules.Task) (types.Value, error) {
				p, _ := t.Param(TypePath)
				rel := string(p.(Path))
				t.TrackFile(rel)
				info, err := os.Lstat(filepath.Join(root, filepath.FromSlash(rel)))
				if err != nil {
					return nil, fmt.Errorf("stat %s: %w", rel, err)
				}
				return statOf(rel, info), nil
			},
		},
		{
			Name:   "fs.list_dir",
			Params: []types.ID{TypeDir},
			Output: TypeDirEntries,
			Run: func(t rules.Task) (types.Value, error) {
				p, _ := t.Param(TypeDir)
				rel := string(p.(Dir))
				t.TrackDir(rel)
				entries, err := os.ReadDir(filepath.Join(root, filepath.FromSlash(rel)))
				if err != nil {
					return nil, fmt.Errorf("list %s: %w", rel, err)
				}
				out := DirEntries{Dir: rel, Entries: make([]Stat, 0, len(entries))}
				for _, e := range entries {
					info, err := e.Info()
					if err != nil {
						return nil, fmt.Errorf("list %s: %w", rel, err)
					}
					out.Entries = append(out.Entries, statOf(joinRel(rel, e.Name()), info))
				}
				return out, nil
			},
		},
		{
			Name:   "fs.expand_globs",
			Params: []types.ID{TypeGlobs},
			Output: TypeSnapshot,
			Run: func(t rules.Task) (types.Value, error) {
				p, _ := t.Param(TypeGlobs)
				globs := p.(Globs)

				patterns := append([]string(nil), globs.Include...)
				for _, ex := range globs.Exclude {
					patterns = append(patterns, "!"+ex)
				}
				t.TrackGlobs(patterns)

				return expand(root, globs)
			},
		},
	}
}

func statOf(rel string, info fs.FileInfo) Stat {
	s := Stat{Path: rel}
	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		s.Kind = KindLink
	case info.IsDir():
		s.Kind = KindDir
	default:
		s.Kind = KindFile
		s.Executable = info.Mode()&0o111 != 0
	}
	return s
}

func joinRel(dir, name string) string {
	if dir == "" || dir == "." {
		return name
	}
	return dir + "/" + name
}

// expand walks the workspace collecting files selected by the glob set. The
// snapshot digest binds each matched path to its content digest, so edits
// inside an unchanged file list still change the snapshot.
func expand(root string, globs Globs) (Snapshot, error) {
	byPath := make(map[string]any)
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !globs.Selects(rel) {
			return nil
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		byPath[rel] = hashing.OfBytes(hashing.DomainBlob, content)
		return nil
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("expand globs: %w", err)
	}

	files := make([]string, 0, len(byPath))
	for rel := range byPath {
		files = append(files, rel)
	}
	sort.Strings(files)

	digest, err := hashing.OfValue(hashing.DomainValue, byPath)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Files: files, Digest: digest}, nil
}
