package hook

import (
	"strings"
	"sync"

	"github.com/gobwas/glob"
)

// matcher compiles consumer capability patterns once and reuses them.
type matcher struct {
	mu    sync.Mutex
	globs map[string]glob.Glob
}

func newMatcher() *matcher {
	return &matcher{globs: make(map[string]glob.Glob)}
}

func (m *matcher) compile(pattern string) glob.Glob {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.globs[pattern]; ok {
		return g
	}
	g, err := glob.Compile(pattern, ':')
	if err != nil {
		// Not a valid pattern: only an exact match counts.
		g = literal(pattern)
	}
	m.globs[pattern] = g
	return g
}

type literal string

func (l literal) Match(s string) bool { return string(l) == s }

// satisfies reports whether every required capability is matched by at
// least one offered capability.
func (m *matcher) satisfies(required, offered []string) bool {
	for _, req := range required {
		ok := false
		for _, off := range offered {
			if off == req || (strings.ContainsAny(off, "*?[{") && m.compile(off).Match(req)) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}
