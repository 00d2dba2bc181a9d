// Package pathfilter implements the comma-union glob pattern language used
// throughout the storage engine to select paths: find(), diff(), history(),
// watch() and findLatestRevision() all take a pattern compiled by this
// package.
//
// Grammar (per pattern, before the comma-union): a sequence of '/'-separated
// segments where "**" matches zero or more whole segments, "*" matches any
// run of non-'/' characters within a single segment, and any other segment
// must match literally. A pattern with a leading '/' is anchored at the
// root; one without is implicitly anchored with a leading "**/" so that it
// matches at any depth. The sole pattern "/" matches the root directory only.
//
// This mirrors the token-based matching approach of the wildmatch package
// (component / doubleStar tokens) rather than compiling to a regular
// expression, simplified to the segment grammar this store actually needs.
package pathfilter

import "strings"

// token is one compiled path-segment matcher.
type token interface {
	// match attempts to consume zero or more leading elements of segs and
	// calls rest with what remains; it returns true the first time rest
	// returns true for some consumption.
	match(segs []string, rest func([]string) bool) bool
}

// literal matches a single verbatim segment.
type literal string

func (l literal) match(segs []string, rest func([]string) bool) bool {
	if len(segs) == 0 || segs[0] != string(l) {
		return false
	}
	return rest(segs[1:])
}

// glob matches a single segment against a '*'-wildcard pattern (no '/').
type glob string

func (g glob) match(segs []string, rest func([]string) bool) bool {
	if len(segs) == 0 || !matchSegment(string(g), segs[0]) {
		return false
	}
	return rest(segs[1:])
}

// matchSegment matches a single filename-style glob (only '*' is special)
// against a single path segment.
func matchSegment(pattern, name string) bool {
	// Standard greedy glob match restricted to one segment (no '/' in
	// either operand by construction).
	var memo = map[[2]int]bool{}
	var rec func(pi, ni int) bool
	rec = func(pi, ni int) bool {
		key := [2]int{pi, ni}
		if v, ok := memo[key]; ok {
			return v
		}
		var result bool
		switch {
		case pi == len(pattern):
			result = ni == len(name)
		case pattern[pi] == '*':
			result = rec(pi+1, ni) || (ni < len(name) && rec(pi, ni+1))
		case ni < len(name) && pattern[pi] == name[ni]:
			result = rec(pi+1, ni+1)
		default:
			result = false
		}
		memo[key] = result
		return result
	}
	return rec(0, 0)
}

// doubleStar matches zero or more whole segments, backtracking over every
// possible split point.
type doubleStar struct{}

func (doubleStar) match(segs []string, rest func([]string) bool) bool {
	for i := 0; i <= len(segs); i++ {
		if rest(segs[i:]) {
			return true
		}
	}
	return false
}

// subPattern is one compiled comma-union member.
type subPattern struct {
	tokens []token
	// rootOnly is set for the literal pattern "/": matches only the root.
	rootOnly bool
}

func compileSub(p string) subPattern {
	if p == "/" {
		return subPattern{rootOnly: true}
	}
	anchored := strings.HasPrefix(p, "/")
	p = strings.TrimPrefix(p, "/")
	parts := strings.Split(p, "/")
	tokens := make([]token, 0, len(parts)+1)
	if !anchored {
		tokens = append(tokens, doubleStar{})
	}
	for _, part := range parts {
		if part == "**" {
			tokens = append(tokens, doubleStar{})
			continue
		}
		if strings.ContainsRune(part, '*') {
			tokens = append(tokens, glob(part))
			continue
		}
		tokens = append(tokens, literal(part))
	}
	return subPattern{tokens: tokens}
}

func (s subPattern) matches(segs []string) bool {
	if s.rootOnly {
		return len(segs) == 0
	}
	var run func(i int, rem []string) bool
	run = func(i int, rem []string) bool {
		if i == len(s.tokens) {
			return len(rem) == 0
		}
		return s.tokens[i].match(rem, func(next []string) bool {
			return run(i+1, next)
		})
	}
	return run(0, segs)
}

// Filter matches absolute paths against a comma-union of glob patterns.
type Filter struct {
	raw      string
	subs     []subPattern
	matchAll bool
}

// Compile parses a comma-separated union of glob patterns. An empty pattern
// matches nothing.
func Compile(pattern string) *Filter {
	f := &Filter{raw: pattern}
	if pattern == "/**" {
		f.matchAll = true
		return f
	}
	for _, p := range strings.Split(pattern, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		f.subs = append(f.subs, compileSub(p))
	}
	return f
}

// String returns the original pattern text.
func (f *Filter) String() string {
	return f.raw
}

// MatchesAll reports whether this filter is the trivial "/**" sentinel,
// letting callers short-circuit a full tree traversal.
func (f *Filter) MatchesAll() bool {
	return f.matchAll
}

// Matches reports whether path (an absolute, '/'-rooted path such as
// "/a/b.json", or "/" for the root) satisfies the filter.
func (f *Filter) Matches(path string) bool {
	if f.matchAll {
		return true
	}
	segs := splitPath(path)
	for _, s := range f.subs {
		if s.matches(segs) {
			return true
		}
	}
	return false
}

func splitPath(path string) []string {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
