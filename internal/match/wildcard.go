package match

import "strings"

// Pattern is a compiled '*' wildcard mask.
// Params: literal segments between stars and anchor flags.
// Returns: reusable matcher for many Match calls.
type Pattern struct {
	raw      string
	segments []string
	prefix   bool
	suffix   bool
	all      bool
}

// Compile compiles mask into reusable wildcard matcher.
// Params: mask may contain '*' wildcards.
// Returns: compiled matcher and false when mask is blank.
func Compile(mask string) (Pattern, bool) {
	trimmed := strings.TrimSpace(mask)
	if trimmed == "" {
		return Pattern{}, false
	}
	if strings.Trim(trimmed, "*") == "" {
		return Pattern{raw: trimmed, all: true}, true
	}

	return Pattern{
		raw:      trimmed,
		segments: strings.Split(trimmed, "*"),
		prefix:   !strings.HasPrefix(trimmed, "*"),
		suffix:   !strings.HasSuffix(trimmed, "*"),
	}, true
}

// CompileAll compiles masks and skips blank entries.
// Params: masks wildcard strings.
// Returns: compiled patterns, nil when none.
func CompileAll(masks []string) []Pattern {
	var out []Pattern
	for _, mask := range masks {
		if pattern, ok := Compile(mask); ok {
			out = append(out, pattern)
		}
	}
	return out
}

// String returns the source mask.
func (p Pattern) String() string {
	return p.raw
}

// Match reports whether value matches compiled mask.
// Params: value compared text.
// Returns: true on match.
func (p Pattern) Match(value string) bool {
	if p.all {
		return true
	}
	switch len(p.segments) {
	case 0:
		return false
	case 1:
		return value == p.segments[0]
	}

	rest := value
	middle := p.segments
	if p.prefix {
		if !strings.HasPrefix(rest, middle[0]) {
			return false
		}
		rest = rest[len(middle[0]):]
		middle = middle[1:]
	}

	var tail string
	if p.suffix {
		tail = middle[len(middle)-1]
		middle = middle[:len(middle)-1]
	}

	for _, segment := range middle {
		if segment == "" {
			continue
		}
		at := strings.Index(rest, segment)
		if at < 0 {
			return false
		}
		rest = rest[at+len(segment):]
	}

	if !p.suffix {
		return true
	}
	return len(rest) >= len(tail) && strings.HasSuffix(rest, tail)
}

// AnyMatch reports whether any pattern matches value.
// Params: patterns compiled masks; value compared text.
// Returns: true on first match.
func AnyMatch(patterns []Pattern, value string) bool {
	for _, pattern := range patterns {
		if pattern.Match(value) {
			return true
		}
	}
	return false
}
