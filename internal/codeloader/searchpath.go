package codeloader

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/oriys/fnbridge/internal/metrics"
)

// SearchPath is the ordered list of directories probed for modules. It only
// grows: entries are appended once and never removed or reordered.
type SearchPath struct {
	mu      sync.RWMutex
	entries []string
}

var defaultSearchPath = NewSearchPath()

// DefaultSearchPath returns the process-wide search path. It is the one
// piece of global state shared by every resolver in the process.
func DefaultSearchPath() *SearchPath {
	return defaultSearchPath
}

func NewSearchPath() *SearchPath {
	return &SearchPath{}
}

// Append adds dirs that are not yet present, either exactly or with a
// trailing separator, and returns how many were added.
func (s *SearchPath) Append(dirs ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, d := range dirs {
		if d == "" || s.containsLocked(d) {
			continue
		}
		s.entries = append(s.entries, d)
		added++
	}
	if added > 0 && s == defaultSearchPath {
		metrics.SetSearchPathEntries(len(s.entries))
	}
	return added
}

func (s *SearchPath) Contains(dir string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.containsLocked(dir)
}

func (s *SearchPath) containsLocked(dir string) bool {
	withSep := dir + string(os.PathSeparator)
	for _, e := range s.entries {
		if e == dir || e == withSep {
			return true
		}
	}
	return false
}

// Entries returns a copy of the search path in order.
func (s *SearchPath) Entries() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.entries...)
}

func (s *SearchPath) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// probe returns the first file named <dir>/<module path><ext> over the search
// path, trying each extension in turn per directory.
func (s *SearchPath) probe(module string, exts ...string) (string, bool) {
	rel := filepath.FromSlash(strings.ReplaceAll(module, ".", "/"))
	for _, dir := range s.Entries() {
		for _, ext := range exts {
			p := filepath.Join(dir, rel+ext)
			if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() {
				return p, true
			}
		}
	}
	return "", false
}
