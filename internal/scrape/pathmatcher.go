package scrape

import (
	"net/url"
	"path"
	"strings"
)

// skipAssets are binary or sign-in paths that never hold readable text.
var skipAssets = []string{
	"*.zip", "*.exe", "*.dmg",
	"*.jpg", "*.jpeg", "*.png", "*.gif",
	"*.mp4", "*.mp3",
	"/login/*", "/signin/*",
}

// pathRule is one lowercased exclude glob.
type pathRule struct {
	glob string
	// dir is set for "/x/*" globs and matches /x and everything below it.
	dir string
	// anyDepth is set for unrooted globs, which also match the last segment.
	anyDepth bool
}

func compileRule(glob string) pathRule {
	glob = strings.ToLower(glob)
	r := pathRule{glob: glob, anyDepth: !strings.HasPrefix(glob, "/")}
	if d, ok := strings.CutSuffix(glob, "/*"); ok {
		r.dir = d
	}
	return r
}

func (r pathRule) matches(p string) bool {
	if ok, _ := path.Match(r.glob, p); ok {
		return true
	}
	if r.anyDepth {
		if ok, _ := path.Match(r.glob, path.Base(p)); ok {
			return true
		}
	}
	return r.dir != "" && (p == r.dir || strings.HasPrefix(p, r.dir+"/"))
}

// PathMatcher rejects URLs whose path matches a glob such as "/login/*" or
// "*.zip". Matching ignores case.
type PathMatcher struct {
	patterns []string
	rules    []pathRule
}

// NewPathMatcher compiles patterns, using a built-in asset list when none
// are given.
func NewPathMatcher(patterns []string) *PathMatcher {
	if len(patterns) == 0 {
		patterns = skipAssets
	}
	m := &PathMatcher{patterns: patterns, rules: make([]pathRule, 0, len(patterns))}
	for _, p := range patterns {
		m.rules = append(m.rules, compileRule(p))
	}
	return m
}

// Patterns returns the globs the matcher was built from.
func (m *PathMatcher) Patterns() []string {
	return m.patterns
}

// IsExcluded reports whether rawURL should be skipped. Unparseable URLs are
// always skipped.
func (m *PathMatcher) IsExcluded(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	p := strings.ToLower(u.Path)
	for _, r := range m.rules {
		if r.matches(p) {
			return true
		}
	}
	return false
}
