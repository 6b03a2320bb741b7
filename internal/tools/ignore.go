package tools

import (
	"bytes"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// defaultIgnores apply to every workspace before its .gitignore
var defaultIgnores = []string{
	".git/", ".hg/", ".svn/",
	"node_modules/", "vendor/", ".venv/", "__pycache__/",
	"dist/", "build/", "target/",
	".idea/", ".vscode/",
	"*.log", "*.tmp",
	"*.min.js", "*.min.css",
	"go.sum", "package-lock.json", "yarn.lock",
}

// binaryExts are skipped without opening the file
var binaryExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true, ".ico": true,
	".pdf": true, ".zip": true, ".gz": true, ".tar": true,
	".exe": true, ".so": true, ".dylib": true, ".wasm": true,
	".db": true, ".sqlite": true,
}

// sniffLen is how much of a file isBinary inspects
const sniffLen = 512

type ignoreRule struct {
	glob     string
	negate   bool
	dirOnly  bool
	anchored bool
}

// ignoreMatcher holds gitignore-style rules for one workspace. Paths are
// slash separated and relative to the workspace root.
type ignoreMatcher struct {
	rules []ignoreRule
}

func newIgnoreMatcher(root string) *ignoreMatcher {
	m := &ignoreMatcher{}
	for _, line := range defaultIgnores {
		m.add(line)
	}
	if data, err := os.ReadFile(filepath.Join(root, ".gitignore")); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			m.add(line)
		}
	}
	return m
}

func (m *ignoreMatcher) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}
	var r ignoreRule
	if strings.HasPrefix(line, "!") {
		r.negate = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	r.anchored = strings.Contains(line, "/")
	line = strings.TrimPrefix(line, "/")
	// dir/** ignores everything below dir, which pruning dir already does
	line = strings.TrimSuffix(line, "/**")
	if line == "" {
		return
	}
	r.glob = line
	m.rules = append(m.rules, r)
}

// Match reports whether rel is ignored. The last matching rule wins, so a
// negated rule can re-include a path an earlier rule excluded.
func (m *ignoreMatcher) Match(rel string, isDir bool) bool {
	rel = filepath.ToSlash(rel)
	ignored := false
	for _, r := range m.rules {
		if r.matches(rel, isDir) {
			ignored = !r.negate
		}
	}
	return ignored
}

// matches tests rel and each of its parent directories against the rule.
// Anchored rules compare whole prefixes, the rest compare one segment.
func (r ignoreRule) matches(rel string, isDir bool) bool {
	segments := strings.Split(rel, "/")
	for i := len(segments); i > 0; i-- {
		if r.dirOnly && i == len(segments) && !isDir {
			continue
		}
		candidate := segments[i-1]
		if r.anchored {
			candidate = strings.Join(segments[:i], "/")
		}
		if ok, _ := path.Match(r.glob, candidate); ok {
			return true
		}
	}
	return false
}

// isBinary reports whether the file at p should not be offered as text: a
// known binary extension, a NUL byte or invalid UTF-8 near the start.
func isBinary(p string) bool {
	if binaryExts[strings.ToLower(filepath.Ext(p))] {
		return true
	}
	f, err := os.Open(p)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, sniffLen)
	n, _ := io.ReadFull(f, buf)
	buf = buf[:n]
	if bytes.IndexByte(buf, 0) >= 0 {
		return true
	}
	if n == sniffLen {
		// the block may end inside a multi-byte rune
		for i := 0; i < utf8.UTFMax-1 && !utf8.Valid(buf); i++ {
			buf = buf[:len(buf)-1]
		}
	}
	return !utf8.Valid(buf)
}
