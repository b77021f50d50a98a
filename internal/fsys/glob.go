package fsys

import (
	"path"
	"strings"
)

// Match reports whether a slash-separated relative path matches a glob
// pattern. Patterns support the usual per-segment wildcards of path.Match
// plus "**", which matches any number of path segments (including zero).
//
// Patterns and paths are workspace-relative; absolute paths never match.
func Match(pattern, relpath string) bool {
	return matchSegments(splitSegments(pattern), splitSegments(relpath))
}

func splitSegments(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func matchSegments(pattern, segs []string) bool {
	if len(pattern) == 0 {
		return len(segs) == 0
	}
	if pattern[0] == "**" {
		// "**" absorbs zero or more leading segments.
		for skip := 0; skip <= len(segs); skip++ {
			if matchSegments(pattern[1:], segs[skip:]) {
				return true
			}
		}
		return false
	}
	if len(segs) == 0 {
		return false
	}
	ok, err := path.Match(pattern[0], segs[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pattern[1:], segs[1:])
}

// Globs is a set of include patterns with gitignore-style excludes. A path
// is selected when it matches at least one include and no exclude.
type Globs struct {
	Include []string
	Exclude []string
}

// Selects reports whether the glob set selects the given relative path.
func (g Globs) Selects(relpath string) bool {
	included := false
	for _, p := range g.Include {
		if Match(p, relpath) {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, p := range g.Exclude {
		if Match(p, relpath) {
			return false
		}
	}
	return true
}
