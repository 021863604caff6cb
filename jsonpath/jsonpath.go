// Package jsonpath provides immutable structural paths into JSON documents.
//
// A Path is an ordered sequence of segments descending from the document
// root: object keys, array indices, and single-level wildcards. Paths have
// two textual forms, both accepted by Parse:
//
//	$.user.posts[0]   dollar form (canonical, returned by String)
//	/user/posts/0     pointer form (RFC 6901 style, returned by Pointer)
//
// Path values are immutable. Builder methods (Key, Index, Wildcard) return
// new Paths and never mutate the receiver, so a Path can be shared freely
// across goroutines and stored in frames without copying.
package jsonpath

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/c360/pjstream/errors"
)

// Kind identifies the type of a path segment.
type Kind uint8

const (
	// KindKey selects an object member by name.
	KindKey Kind = iota + 1
	// KindIndex selects an array element by position.
	KindIndex
	// KindWildcard matches any single object member or array element.
	KindWildcard
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindKey:
		return "key"
	case KindIndex:
		return "index"
	case KindWildcard:
		return "wildcard"
	default:
		return "unknown"
	}
}

// Segment is one step of a Path. The zero value is not a valid segment;
// use KeySegment, IndexSegment, or WildcardSegment.
type Segment struct {
	kind  Kind
	key   string
	index int
}

// KeySegment returns a segment selecting the object member name.
func KeySegment(name string) Segment {
	return Segment{kind: KindKey, key: name}
}

// IndexSegment returns a segment selecting the array element at position i.
func IndexSegment(i int) Segment {
	return Segment{kind: KindIndex, index: i}
}

// WildcardSegment returns a segment matching any single member or element.
func WildcardSegment() Segment {
	return Segment{kind: KindWildcard}
}

// Kind returns the segment kind.
func (s Segment) Kind() Kind { return s.kind }

// Key returns the member name for KindKey segments, "" otherwise.
func (s Segment) Key() string { return s.key }

// Index returns the array position for KindIndex segments, 0 otherwise.
func (s Segment) Index() int { return s.index }

// String renders the segment in dollar form, e.g. ".user", "[0]", "[*]".
func (s Segment) String() string {
	switch s.kind {
	case KindKey:
		if isIdentifier(s.key) {
			return "." + s.key
		}
		return `["` + escapeKey(s.key) + `"]`
	case KindIndex:
		return "[" + strconv.Itoa(s.index) + "]"
	case KindWildcard:
		return "[*]"
	default:
		return ".<invalid>"
	}
}

// Matches reports whether the segment matches other. Wildcards match any
// segment; keys and indices match only their exact counterpart.
func (s Segment) Matches(other Segment) bool {
	if s.kind == KindWildcard || other.kind == KindWildcard {
		return true
	}
	if s.kind != other.kind {
		return false
	}
	if s.kind == KindKey {
		return s.key == other.key
	}
	return s.index == other.index
}

// Path is an immutable location in a JSON document. The zero value is the
// document root.
type Path struct {
	segs []Segment
}

// Root returns the path of the document root.
func Root() Path { return Path{} }

// New builds a path from segments in root-to-leaf order.
func New(segments ...Segment) Path {
	if len(segments) == 0 {
		return Path{}
	}
	segs := make([]Segment, len(segments))
	copy(segs, segments)
	return Path{segs: segs}
}

// Key returns a new path descending into the object member name.
func (p Path) Key(name string) Path {
	return p.child(KeySegment(name))
}

// Index returns a new path descending into the array element at position i.
func (p Path) Index(i int) Path {
	return p.child(IndexSegment(i))
}

// Wildcard returns a new path with a wildcard appended.
func (p Path) Wildcard() Path {
	return p.child(WildcardSegment())
}

// child appends with a full copy so sibling paths built from the same
// parent never alias the same backing array.
func (p Path) child(s Segment) Path {
	segs := make([]Segment, len(p.segs)+1)
	copy(segs, p.segs)
	segs[len(p.segs)] = s
	return Path{segs: segs}
}

// IsRoot reports whether the path is the document root.
func (p Path) IsRoot() bool { return len(p.segs) == 0 }

// Len returns the number of segments.
func (p Path) Len() int { return len(p.segs) }

// Depth returns the nesting depth, which equals Len. The root has depth 0.
func (p Path) Depth() int { return len(p.segs) }

// Segments returns a copy of the path's segments in root-to-leaf order.
func (p Path) Segments() []Segment {
	if len(p.segs) == 0 {
		return nil
	}
	segs := make([]Segment, len(p.segs))
	copy(segs, p.segs)
	return segs
}

// At returns the segment at position i. It panics if i is out of range,
// matching slice indexing semantics.
func (p Path) At(i int) Segment { return p.segs[i] }

// Parent returns the path one level up. The root's parent is the root.
func (p Path) Parent() Path {
	if len(p.segs) == 0 {
		return Path{}
	}
	return New(p.segs[:len(p.segs)-1]...)
}

// Last returns the leaf segment and true, or the zero Segment and false
// for the root.
func (p Path) Last() (Segment, bool) {
	if len(p.segs) == 0 {
		return Segment{}, false
	}
	return p.segs[len(p.segs)-1], true
}

// HasWildcard reports whether any segment is a wildcard.
func (p Path) HasWildcard() bool {
	for _, s := range p.segs {
		if s.kind == KindWildcard {
			return true
		}
	}
	return false
}

// Equal reports whether both paths have identical segments. A wildcard
// only equals another wildcard; use Matches for pattern matching.
func (p Path) Equal(other Path) bool {
	if len(p.segs) != len(other.segs) {
		return false
	}
	for i, s := range p.segs {
		if s != other.segs[i] {
			return false
		}
	}
	return true
}

// Matches reports whether the path, treated as a pattern, matches the
// concrete path. Both must have the same length; wildcard segments match
// any segment at their position.
func (p Path) Matches(concrete Path) bool {
	if len(p.segs) != len(concrete.segs) {
		return false
	}
	for i, s := range p.segs {
		if !s.Matches(concrete.segs[i]) {
			return false
		}
	}
	return true
}

// IsAncestorOf reports whether the path is a strict prefix of other.
func (p Path) IsAncestorOf(other Path) bool {
	if len(p.segs) >= len(other.segs) {
		return false
	}
	for i, s := range p.segs {
		if !s.Matches(other.segs[i]) {
			return false
		}
	}
	return true
}

// String renders the canonical dollar form, e.g. "$.user.posts[0]".
// The root renders as "$".
func (p Path) String() string {
	if len(p.segs) == 0 {
		return "$"
	}
	var b strings.Builder
	b.Grow(2 + len(p.segs)*8)
	b.WriteByte('$')
	for _, s := range p.segs {
		b.WriteString(s.String())
	}
	return b.String()
}

// Pointer renders the RFC 6901 pointer form, e.g. "/user/posts/0".
// The root renders as "". Wildcards render as the token "*", an extension
// the pointer grammar reserves for no other purpose.
func (p Path) Pointer() string {
	if len(p.segs) == 0 {
		return ""
	}
	var b strings.Builder
	b.Grow(1 + len(p.segs)*8)
	for _, s := range p.segs {
		b.WriteByte('/')
		switch s.kind {
		case KindKey:
			b.WriteString(escapePointerToken(s.key))
		case KindIndex:
			b.WriteString(strconv.Itoa(s.index))
		case KindWildcard:
			b.WriteByte('*')
		}
	}
	return b.String()
}

// MarshalText implements encoding.TextMarshaler using the dollar form,
// so Paths embedded in frames serialize as plain JSON strings.
func (p Path) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler accepting either form.
func (p *Path) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// isIdentifier reports whether the key can appear in dot notation without
// bracket quoting.
func isIdentifier(key string) bool {
	if key == "" {
		return false
	}
	for i, r := range key {
		switch {
		case r == '_':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func escapeKey(key string) string {
	key = strings.ReplaceAll(key, `\`, `\\`)
	return strings.ReplaceAll(key, `"`, `\"`)
}

func escapePointerToken(token string) string {
	token = strings.ReplaceAll(token, "~", "~0")
	return strings.ReplaceAll(token, "/", "~1")
}

func invalidPath(input string, pos int, reason string) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %q at offset %d: %s", errors.ErrInvalidPath, input, pos, reason),
		"Path", "Parse", "parse path expression")
}
