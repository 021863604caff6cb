package jsonpath

import (
	"strconv"
	"strings"
)

// Parse parses a path in either textual form. Dollar expressions start
// with "$", pointer expressions with "/". "" and "$" both denote the root.
func Parse(input string) (Path, error) {
	if input == "" || input == "$" {
		return Path{}, nil
	}
	switch input[0] {
	case '$':
		return parseDollar(input)
	case '/':
		return ParsePointer(input)
	default:
		return Path{}, invalidPath(input, 0, "expression must start with '$' or '/'")
	}
}

// MustParse parses a path expression and panics on error. Intended for
// package-level rule tables and tests.
func MustParse(input string) Path {
	p, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return p
}

// parseDollar scans dot and bracket notation: ".key", "[0]", "[*]",
// and quoted member names in brackets for keys that are not identifiers.
// Recursive descent ("..") and slices are not part of the path model.
func parseDollar(input string) (Path, error) {
	var segs []Segment
	i := 1 // skip '$'
	for i < len(input) {
		switch input[i] {
		case '.':
			i++
			if i < len(input) && input[i] == '.' {
				return Path{}, invalidPath(input, i, "recursive descent is not supported")
			}
			if i < len(input) && input[i] == '*' {
				segs = append(segs, WildcardSegment())
				i++
				continue
			}
			start := i
			for i < len(input) && input[i] != '.' && input[i] != '[' {
				i++
			}
			if i == start {
				return Path{}, invalidPath(input, start, "empty member name")
			}
			segs = append(segs, KeySegment(input[start:i]))
		case '[':
			seg, next, err := parseBracket(input, i)
			if err != nil {
				return Path{}, err
			}
			segs = append(segs, seg)
			i = next
		default:
			return Path{}, invalidPath(input, i, "expected '.' or '['")
		}
	}
	return Path{segs: segs}, nil
}

// parseBracket parses one bracket selector starting at input[open] == '['
// and returns the segment and the offset just past the closing bracket.
func parseBracket(input string, open int) (Segment, int, error) {
	i := open + 1
	if i >= len(input) {
		return Segment{}, 0, invalidPath(input, open, "unterminated bracket")
	}

	switch input[i] {
	case '*':
		if i+1 >= len(input) || input[i+1] != ']' {
			return Segment{}, 0, invalidPath(input, i, "expected ']' after '*'")
		}
		return WildcardSegment(), i + 2, nil

	case '\'', '"':
		quote := input[i]
		i++
		var b strings.Builder
		for i < len(input) && input[i] != quote {
			if input[i] == '\\' && i+1 < len(input) {
				i++
			}
			b.WriteByte(input[i])
			i++
		}
		if i >= len(input) {
			return Segment{}, 0, invalidPath(input, open, "unterminated quoted member name")
		}
		i++ // closing quote
		if i >= len(input) || input[i] != ']' {
			return Segment{}, 0, invalidPath(input, i, "expected ']' after quoted member name")
		}
		return KeySegment(b.String()), i + 1, nil

	default:
		start := i
		for i < len(input) && input[i] != ']' {
			i++
		}
		if i >= len(input) {
			return Segment{}, 0, invalidPath(input, open, "unterminated bracket")
		}
		token := input[start:i]
		idx, err := strconv.Atoi(token)
		if err != nil || idx < 0 || (len(token) > 1 && token[0] == '0') {
			return Segment{}, 0, invalidPath(input, start, "bracket selector must be a non-negative index, '*', or a quoted name")
		}
		return IndexSegment(idx), i + 1, nil
	}
}

// ParsePointer parses the RFC 6901 pointer form. Tokens that are valid
// array indices (digits, no leading zero) become index segments, "*"
// becomes a wildcard, and everything else becomes a key. "~0" and "~1"
// unescape to "~" and "/" per the RFC.
func ParsePointer(input string) (Path, error) {
	if input == "" {
		return Path{}, nil
	}
	if input[0] != '/' {
		return Path{}, invalidPath(input, 0, "pointer must start with '/'")
	}
	tokens := strings.Split(input[1:], "/")
	segs := make([]Segment, 0, len(tokens))
	pos := 1
	for _, token := range tokens {
		switch {
		case token == "*":
			segs = append(segs, WildcardSegment())
		case isPointerIndex(token):
			idx, err := strconv.Atoi(token)
			if err != nil {
				return Path{}, invalidPath(input, pos, "index out of range")
			}
			segs = append(segs, IndexSegment(idx))
		default:
			unescaped, ok := unescapePointerToken(token)
			if !ok {
				return Path{}, invalidPath(input, pos, "invalid '~' escape")
			}
			segs = append(segs, KeySegment(unescaped))
		}
		pos += len(token) + 1
	}
	return Path{segs: segs}, nil
}

// isPointerIndex follows the RFC 6901 array-index grammar: "0", or digits
// without a leading zero. Anything else is treated as an object key, so
// "/items/01" selects the member named "01" rather than index 1.
func isPointerIndex(token string) bool {
	if token == "" {
		return false
	}
	if len(token) > 1 && token[0] == '0' {
		return false
	}
	for i := 0; i < len(token); i++ {
		if token[i] < '0' || token[i] > '9' {
			return false
		}
	}
	return true
}

func unescapePointerToken(token string) (string, bool) {
	if !strings.Contains(token, "~") {
		return token, true
	}
	var b strings.Builder
	b.Grow(len(token))
	for i := 0; i < len(token); i++ {
		if token[i] != '~' {
			b.WriteByte(token[i])
			continue
		}
		if i+1 >= len(token) {
			return "", false
		}
		switch token[i+1] {
		case '0':
			b.WriteByte('~')
		case '1':
			b.WriteByte('/')
		default:
			return "", false
		}
		i++
	}
	return b.String(), true
}
