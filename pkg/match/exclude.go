package match

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/3leaps/memosweep/pkg/remote"
)

// Exclusions holds lowercase exclusion rules.
//
// A rule without glob metacharacters is a raw prefix: any path starting
// with it is excluded. A rule with metacharacters is a doublestar pattern
// matched against the path and each of its ancestors, so "**/archive"
// excludes every archive folder and its whole subtree.
//
// Exclusions is immutable and safe for concurrent use.
type Exclusions struct {
	prefixes []string
	globs    []string
}

// NewExclusions compiles rules. Empty rules are ignored.
func NewExclusions(rules []string) (*Exclusions, error) {
	ex := &Exclusions{}
	for _, rule := range rules {
		rule = strings.TrimSpace(rule)
		if rule == "" {
			continue
		}
		rule = NormalizePattern(strings.ToLower(rule))
		if IsGlobPattern(rule) {
			glob := strings.TrimPrefix(rule, "/")
			if !doublestar.ValidatePattern(glob) {
				return nil, &PatternError{Pattern: rule, Err: ErrInvalidPattern}
			}
			ex.globs = append(ex.globs, glob)
			continue
		}
		rule = UnescapeRule(rule)
		if !strings.HasPrefix(rule, "/") {
			rule = "/" + rule
		}
		ex.prefixes = append(ex.prefixes, rule)
	}
	return ex, nil
}

// Excludes reports whether p is excluded. Matching is case-insensitive.
func (e *Exclusions) Excludes(p string) bool {
	if e == nil || p == "" {
		return false
	}
	p = strings.ToLower(p)
	for _, prefix := range e.prefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	if len(e.globs) == 0 {
		return false
	}
	for cur := p; cur != ""; cur = remote.Parent(cur) {
		rel := strings.TrimPrefix(cur, "/")
		for _, g := range e.globs {
			if ok, _ := doublestar.Match(g, rel); ok {
				return true
			}
		}
	}
	return false
}

// Rules returns the compiled rules, prefixes first.
func (e *Exclusions) Rules() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.prefixes)+len(e.globs))
	out = append(out, e.prefixes...)
	out = append(out, e.globs...)
	return out
}

// Len returns the number of rules.
func (e *Exclusions) Len() int {
	if e == nil {
		return 0
	}
	return len(e.prefixes) + len(e.globs)
}
