// Package match classifies remote entries for memosweep.
//
// IsTarget decides whether a file name is a deletion target. Exclusions
// decides whether a path lies under an excluded prefix or glob.
package match

import (
	"errors"
	"regexp"
)

// DefaultPatterns are the "memo style" name patterns. They are compiled
// case-insensitively and anchored at the end of the name.
var DefaultPatterns = []string{
	`memostyle\.pdf$`,
	`memo[\s\-_]*style\.pdf$`,
	`memo[\s\-_]*style.*\.pdf$`,
}

// ErrNoPatterns is returned when a Pattern is built from an empty list.
var ErrNoPatterns = errors.New("at least one target pattern is required")

// PatternError wraps a regular expression compile failure.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// Pattern is a compiled set of target name patterns. A name is a target
// when any pattern matches. Pattern is immutable and safe for concurrent use.
type Pattern struct {
	res []*regexp.Regexp
}

// NewPattern compiles exprs case-insensitively.
func NewPattern(exprs ...string) (*Pattern, error) {
	if len(exprs) == 0 {
		return nil, ErrNoPatterns
	}
	p := &Pattern{res: make([]*regexp.Regexp, 0, len(exprs))}
	for _, expr := range exprs {
		re, err := regexp.Compile("(?i)" + expr)
		if err != nil {
			return nil, &PatternError{Pattern: expr, Err: err}
		}
		p.res = append(p.res, re)
	}
	return p, nil
}

// IsTarget reports whether name matches any of the pattern's expressions.
func (p *Pattern) IsTarget(name string) bool {
	for _, re := range p.res {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

var defaultPattern = mustPattern(DefaultPatterns...)

func mustPattern(exprs ...string) *Pattern {
	p, err := NewPattern(exprs...)
	if err != nil {
		panic(err)
	}
	return p
}

// Default returns the compiled default memo-style pattern.
func Default() *Pattern { return defaultPattern }

// IsTarget reports whether name is a memo-style PDF.
func IsTarget(name string) bool {
	return defaultPattern.IsTarget(name)
}
