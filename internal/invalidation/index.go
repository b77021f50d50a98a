// Package invalidation translates filesystem change notifications into the
// minimal correct set of dirty markings. It maintains a reverse index from
// watched paths (exact files, directory listings, and glob sets) to the leaf
// node keys that read them, and a coalescing fsnotify watcher that feeds the
// index in batches.
package invalidation

import (
	"path"
	"sync"

	"github.com/snuderl/pants/internal/fsys"
)

// Index is the reverse watch index. K is the node key type; the index treats
// keys as opaque identifiers. All methods are safe for concurrent use: the
// index is written by nodes settling after filesystem reads and read by the
// invalidation feed.
type Index[K comparable] struct {
	mu    sync.RWMutex
	files map[string]map[K]struct{}
	dirs  map[string]map[K]struct{}
	globs map[K][]fsys.Globs
}

// NewIndex creates an empty index.
func NewIndex[K comparable]() *Index[K] {
	return &Index[K]{
		files: make(map[string]map[K]struct{}),
		dirs:  make(map[string]map[K]struct{}),
		globs: make(map[K][]fsys.Globs),
	}
}

// WatchFile records that key read the contents of path.
func (x *Index[K]) WatchFile(p string, key K) {
	x.mu.Lock()
	defer x.mu.Unlock()
	set, ok := x.files[p]
	if !ok {
		set = make(map[K]struct{})
		x.files[p] = set
	}
	set[key] = struct{}{}
}

// WatchDir records that key read the listing of dir. Any change to an
// immediate child of dir (or to dir itself) invalidates the key.
func (x *Index[K]) WatchDir(dir string, key K) {
	x.mu.Lock()
	defer x.mu.Unlock()
	set, ok := x.dirs[dir]
	if !ok {
		set = make(map[K]struct{})
		x.dirs[dir] = set
	}
	set[key] = struct{}{}
}

// WatchGlobs records that key expanded the given glob set.
func (x *Index[K]) WatchGlobs(globs fsys.Globs, key K) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.globs[key] = append(x.globs[key], globs)
}

// Drop removes every watch registered for key. Called before a node re-runs
// so its recorded reads exactly reflect the newest computation.
func (x *Index[K]) Drop(key K) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for p, set := range x.files {
		delete(set, key)
		if len(set) == 0 {
			delete(x.files, p)
		}
	}
	for p, set := range x.dirs {
		delete(set, key)
		if len(set) == 0 {
			delete(x.dirs, p)
		}
	}
	delete(x.globs, key)
}

// Match returns the deduplicated keys affected by the changed paths. Paths
// with no watchers contribute nothing; an entirely unwatched batch returns
// an empty slice, never an error.
func (x *Index[K]) Match(changed []string) []K {
	x.mu.RLock()
	defer x.mu.RUnlock()

	hit := make(map[K]struct{})
	for _, p := range changed {
		for key := range x.files[p] {
			hit[key] = struct{}{}
		}
		// A change to p alters the listing of its parent, and of p itself
		// when p is a watched directory.
		for key := range x.dirs[path.Dir(p)] {
			hit[key] = struct{}{}
		}
		for key := range x.dirs[p] {
			hit[key] = struct{}{}
		}
		for key, sets := range x.globs {
			for _, g := range sets {
				if g.Selects(p) {
					hit[key] = struct{}{}
					break
				}
			}
		}
	}

	out := make([]K, 0, len(hit))
	for key := range hit {
		out = append(out, key)
	}
	return out
}

// Reset clears the whole index, used on whole-graph invalidation.
func (x *Index[K]) Reset() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.files = make(map[string]map[K]struct{})
	x.dirs = make(map[string]map[K]struct{})
	x.globs = make(map[K][]fsys.Globs)
}
