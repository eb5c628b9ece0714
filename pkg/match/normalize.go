package match

import (
	"errors"
	"strings"
)

// Characters a backslash escapes in exclusion rules. * and ? cannot appear
// in Windows names, so a backslash before them is a path separator.
const globEscapable = `[]{}\`

// ErrInvalidPattern is returned when an exclusion glob cannot be compiled.
var ErrInvalidPattern = errors.New("invalid glob pattern")

// NormalizePattern converts a user-provided exclusion rule to canonical form.
//
// Backslashes become forward slashes so Windows-style rules such as
// `\Archive\**` work, except before [ ] { } or another backslash, which stay
// escaped for literal matching.
//
//	"/archive/**"        → "/archive/**"
//	"\archive\**"        → "/archive/**"
//	"\archive\*.pdf"     → "/archive/*.pdf"
//	"/old\[2019\]/**"    → "/old\[2019\]/**"
func NormalizePattern(pattern string) string {
	if pattern == "" {
		return ""
	}

	var result strings.Builder
	result.Grow(len(pattern))

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '\\' {
			result.WriteRune(r)
			continue
		}
		if i+1 < len(runes) && strings.ContainsRune(globEscapable, runes[i+1]) {
			result.WriteRune('\\')
			result.WriteRune(runes[i+1])
			i++
			continue
		}
		result.WriteRune('/')
	}

	return result.String()
}

// IsGlobPattern reports whether rule contains an unescaped glob
// metacharacter (* ? [ {).
func IsGlobPattern(rule string) bool {
	for i := 0; i < len(rule); i++ {
		c := rule[i]
		if c == '\\' && i+1 < len(rule) {
			i++
			continue
		}
		if c == '*' || c == '?' || c == '[' || c == '{' {
			return true
		}
	}
	return false
}

// UnescapeRule removes escape backslashes from a literal rule, turning
// `/old\[2019\]` into the path prefix `/old[2019]`.
func UnescapeRule(rule string) string {
	if !strings.ContainsRune(rule, '\\') {
		return rule
	}

	var result strings.Builder
	result.Grow(len(rule))
	for i := 0; i < len(rule); i++ {
		c := rule[i]
		if c == '\\' && i+1 < len(rule) && strings.IndexByte(globEscapable, rule[i+1]) >= 0 {
			result.WriteByte(rule[i+1])
			i++
			continue
		}
		result.WriteByte(c)
	}
	return result.String()
}
