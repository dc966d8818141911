// ABOUTME: Ant-style path patterns for authorization rules and the public allowlist
// ABOUTME: "*" matches within one segment, "**" matches any number of segments

package auth

import (
	"fmt"
	"path"
	"strings"
)

// pathPattern is a compiled Ant-style pattern
type pathPattern struct {
	raw  string
	segs []string
}

func compilePattern(p string) (pathPattern, error) {
	if !strings.HasPrefix(p, "/") {
		return pathPattern{}, fmt.Errorf("pattern %q must start with /", p)
	}
	segs := splitPath(p)
	for _, s := range segs {
		if s == "**" {
			continue
		}
		if strings.Contains(s, "**") {
			return pathPattern{}, fmt.Errorf("pattern %q: ** must be a whole segment", p)
		}
		if _, err := path.Match(s, ""); err != nil {
			return pathPattern{}, fmt.Errorf("pattern %q: %w", p, err)
		}
	}
	return pathPattern{raw: p, segs: segs}, nil
}

func compilePatterns(patterns []string) ([]pathPattern, error) {
	out := make([]pathPattern, 0, len(patterns))
	for _, p := range patterns {
		c, err := compilePattern(p)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// cleanPath normalizes a request path so "/a/../b" cannot dodge a rule for "/b".
func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	return path.Clean(p)
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// match reports whether the request path matches the pattern
func (pp pathPattern) match(requestPath string) bool {
	return matchSegments(pp.segs, splitPath(cleanPath(requestPath)))
}

func matchSegments(pat, segs []string) bool {
	for len(pat) > 0 {
		if pat[0] == "**" {
			rest := pat[1:]
			for i := 0; i <= len(segs); i++ {
				if matchSegments(rest, segs[i:]) {
					return true
				}
			}
			return false
		}
		if len(segs) == 0 {
			return false
		}
		if ok, _ := path.Match(pat[0], segs[0]); !ok {
			return false
		}
		pat, segs = pat[1:], segs[1:]
	}
	return len(segs) == 0
}

// covers reports whether every path matched by other is also matched by pp.
// It is conservative: false means "could not prove coverage".
func (pp pathPattern) covers(other pathPattern) bool {
	return coversSegments(pp.segs, other.segs)
}

func coversSegments(a, b []string) bool {
	if len(a) == 0 {
		return len(b) == 0
	}
	if a[0] == "**" {
		for k := 0; k <= len(b); k++ {
			if coversSegments(a[1:], b[k:]) {
				return true
			}
		}
		return false
	}
	if len(b) == 0 || b[0] == "**" {
		return false
	}
	if !segmentCovers(a[0], b[0]) {
		return false
	}
	return coversSegments(a[1:], b[1:])
}

func segmentCovers(a, b string) bool {
	if a == "*" || a == b {
		return true
	}
	if strings.ContainsAny(b, `*?[\`) {
		return false
	}
	ok, _ := path.Match(a, b)
	return ok
}
