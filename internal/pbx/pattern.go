package pbx

import "strings"

// MatchResult is the totally-ordered outcome of comparing a dialed
// string against a pattern. Callers compare results with the ordinary
// relational operators: FAILURE < INCOMPLETE < POSSIBLE < STRETCHABLE
// < EXACT < OVERLENGTH.
type MatchResult int

const (
	MatchFailure MatchResult = iota
	MatchIncomplete
	MatchPossible
	MatchStretchable
	MatchExact
	MatchOverlength
)

func (m MatchResult) String() string {
	switch m {
	case MatchFailure:
		return "FAILURE"
	case MatchIncomplete:
		return "INCOMPLETE"
	case MatchPossible:
		return "POSSIBLE"
	case MatchStretchable:
		return "STRETCHABLE"
	case MatchExact:
		return "EXACT"
	case MatchOverlength:
		return "OVERLENGTH"
	default:
		return "UNKNOWN"
	}
}

// AcceptsExists reports whether m is good enough for exists/find
// queries (EXACT, STRETCHABLE or POSSIBLE).
func (m MatchResult) AcceptsExists() bool {
	return m == MatchExact || m == MatchStretchable || m == MatchPossible
}

// AcceptsCanMatch additionally accepts INCOMPLETE over AcceptsExists.
func (m MatchResult) AcceptsCanMatch() bool {
	return m == MatchIncomplete || m.AcceptsExists()
}

// AcceptsMatchMore accepts only INCOMPLETE or STRETCHABLE; POSSIBLE is
// recorded by the caller as a fallback, not accepted outright.
func (m MatchResult) AcceptsMatchMore() bool {
	return m == MatchIncomplete || m == MatchStretchable
}

// MatchPattern compares a dialed string against an extension pattern.
// A pattern beginning with '_' uses the classed syntax (X/Z/N digit
// classes, [a-c] character classes, '.' one-or-more wildcard, '!'
// zero-or-more wildcard); anything else is a literal, exact-only
// match. Spaces and dashes in the pattern are skipped, the traditional
// punctuation allowed in dialplan patterns for readability.
func MatchPattern(pattern, dialed string) MatchResult {
	if !strings.HasPrefix(pattern, "_") {
		if pattern == dialed {
			return MatchExact
		}
		return MatchFailure
	}
	return matchClassed(pattern[1:], dialed)
}

func matchClassed(pattern, dialed string) MatchResult {
	pi, di := 0, 0

	for pi < len(pattern) {
		pc := pattern[pi]

		if pc == ' ' || pc == '-' {
			pi++
			continue
		}

		if pc == '.' {
			if di >= len(dialed) {
				return MatchIncomplete
			}
			return MatchStretchable
		}

		if pc == '!' {
			return MatchPossible
		}

		if di >= len(dialed) {
			return MatchIncomplete
		}
		dc := dialed[di]

		if pc == '[' {
			end := strings.IndexByte(pattern[pi:], ']')
			if end < 0 {
				return MatchFailure
			}
			class := pattern[pi+1 : pi+end]
			if !matchCharClass(class, dc) {
				return MatchFailure
			}
			pi += end + 1
			di++
			continue
		}

		if !matchClassChar(pc, dc) {
			return MatchFailure
		}
		pi++
		di++
	}

	if di < len(dialed) {
		return MatchOverlength
	}
	return MatchExact
}

func matchClassChar(pc, dc byte) bool {
	switch pc {
	case 'X', 'x':
		return dc >= '0' && dc <= '9'
	case 'Z', 'z':
		return dc >= '1' && dc <= '9'
	case 'N', 'n':
		return dc >= '2' && dc <= '9'
	default:
		return pc == dc
	}
}

// matchCharClass evaluates a `[...]`-bracketed class body, which may
// contain literal characters and dash ranges, e.g. "abc-fg".
func matchCharClass(class string, dc byte) bool {
	i := 0
	for i < len(class) {
		if i+2 < len(class) && class[i+1] == '-' {
			lo, hi := class[i], class[i+2]
			if dc >= lo && dc <= hi {
				return true
			}
			i += 3
			continue
		}
		if class[i] == dc {
			return true
		}
		i++
	}
	return false
}
