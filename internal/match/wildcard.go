package match

import "strings"

// WildcardPattern is a compiled '*' wildcard matcher.
// Params: internal split parts and anchor flags.
// Returns: reusable matcher for many Match calls.
type WildcardPattern struct {
	parts    []string
	anyStart bool
	anyEnd   bool
	matchAll bool
}

// CompileWildcard compiles pattern into reusable wildcard matcher.
// Params: pattern may contain '*' wildcards.
// Returns: compiled matcher and false when pattern is empty.
func CompileWildcard(pattern string) (WildcardPattern, bool) {
	p := strings.TrimSpace(pattern)
	if p == "" {
		return WildcardPattern{}, false
	}
	if strings.Trim(p, "*") == "" {
		return WildcardPattern{matchAll: true}, true
	}

	parts := strings.Split(p, "*")
	literal := parts[:0]
	for _, part := range parts {
		if part != "" {
			literal = append(literal, part)
		}
	}

	return WildcardPattern{
		parts:    literal,
		anyStart: strings.HasPrefix(p, "*"),
		anyEnd:   strings.HasSuffix(p, "*"),
	}, true
}

// Match evaluates compiled wildcard pattern against value.
// Params: value is compared text.
// Returns: true on pattern match.
func (p WildcardPattern) Match(value string) bool {
	if p.matchAll {
		return true
	}
	if len(p.parts) == 0 {
		return false
	}

	rest := value
	last := len(p.parts) - 1
	for idx, part := range p.parts {
		switch {
		case idx == 0 && !p.anyStart:
			if !strings.HasPrefix(rest, part) {
				return false
			}
			rest = rest[len(part):]
			if idx == last && !p.anyEnd {
				return rest == ""
			}
		case idx == last && !p.anyEnd:
			return strings.HasSuffix(rest, part)
		default:
			offset := strings.Index(rest, part)
			if offset < 0 {
				return false
			}
			rest = rest[offset+len(part):]
		}
	}

	return true
}

// WildcardMatch evaluates '*' wildcard pattern against value.
// Params: pattern may contain '*' wildcards; value is compared text.
// Returns: true on pattern match.
func WildcardMatch(pattern, value string) bool {
	compiled, ok := CompileWildcard(pattern)
	if !ok {
		return false
	}
	return compiled.Match(value)
}

// KeySelector keeps names matching any filter mask and none of the drop masks.
// The zero value allows everything.
type KeySelector struct {
	filter []WildcardPattern
	drop   []WildcardPattern
}

// NewKeySelector compiles filter/drop masks; blank masks are skipped.
func NewKeySelector(filter, drop []string) KeySelector {
	return KeySelector{
		filter: compileAll(filter),
		drop:   compileAll(drop),
	}
}

// Allow reports whether name survives the masks.
func (s KeySelector) Allow(name string) bool {
	if len(s.filter) > 0 && !anyMatch(s.filter, name) {
		return false
	}
	return !anyMatch(s.drop, name)
}

func compileAll(patterns []string) []WildcardPattern {
	if len(patterns) == 0 {
		return nil
	}

	compiled := make([]WildcardPattern, 0, len(patterns))
	for _, pattern := range patterns {
		if parsed, ok := CompileWildcard(pattern); ok {
			compiled = append(compiled, parsed)
		}
	}
	return compiled
}

func anyMatch(patterns []WildcardPattern, name string) bool {
	for _, pattern := range patterns {
		if pattern.Match(name) {
			return true
		}
	}
	return false
}
