package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/c360/pjstream/frame"
)

// clearScreen homes the cursor and wipes the terminal between repaints.
var clearScreen = []byte("\033[H\033[2J")

// palette maps document elements to ANSI codes. The zero value has
// every code empty, so writes through it are no-ops.
type palette struct {
	key      []byte // object keys
	str      []byte // strings
	num      []byte // numbers
	boolean  []byte // booleans
	null     []byte // nulls
	dim      []byte // status lines and elisions
	skeleton []byte // skeleton frame markers
	complete []byte // complete frame markers
	failure  []byte // error frame markers
	reset    []byte
}

// terminalPalette follows the scheme terminal JSON tools use: keys
// bright blue, strings green, numbers yellow, nulls dim.
var terminalPalette = palette{
	key:      []byte("\033[34;1m"),
	str:      []byte("\033[32m"),
	num:      []byte("\033[33m"),
	boolean:  []byte("\033[37m"),
	null:     []byte("\033[37;2m"),
	dim:      []byte("\033[37;2m"),
	skeleton: []byte("\033[36m"),
	complete: []byte("\033[32m"),
	failure:  []byte("\033[31m"),
	reset:    []byte("\033[0m"),
}

var plainPalette palette

// kind returns the marker color for a frame kind. Patch frames stay
// uncolored; they are the bulk of every listing.
func (p palette) kind(k frame.Kind) []byte {
	switch k {
	case frame.KindSkeleton:
		return p.skeleton
	case frame.KindComplete:
		return p.complete
	case frame.KindError:
		return p.failure
	default:
		return nil
	}
}

// renderValue pretty-prints a reconstructed document fragment with two
// space indentation. Object keys are sorted so successive repaints of a
// filling document stay stable.
func renderValue(out *bufio.Writer, value any, depth int, pal palette) {
	switch v := value.(type) {
	case map[string]any:
		if len(v) == 0 {
			out.WriteString("{}")
			return
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out.WriteString("{\n")
		for i, k := range keys {
			writeIndent(out, depth+1)
			out.Write(pal.key)
			writeScalar(out, k)
			out.Write(pal.reset)
			out.WriteString(": ")
			renderValue(out, v[k], depth+1, pal)
			if i < len(keys)-1 {
				out.WriteByte(',')
			}
			out.WriteByte('\n')
		}
		writeIndent(out, depth)
		out.WriteByte('}')
	case []any:
		if len(v) == 0 {
			out.WriteString("[]")
			return
		}
		out.WriteString("[\n")
		for i, elem := range v {
			writeIndent(out, depth+1)
			renderValue(out, elem, depth+1, pal)
			if i < len(v)-1 {
				out.WriteByte(',')
			}
			out.WriteByte('\n')
		}
		writeIndent(out, depth)
		out.WriteByte(']')
	case string:
		out.Write(pal.str)
		writeScalar(out, v)
		out.Write(pal.reset)
	case float64:
		out.Write(pal.num)
		writeScalar(out, v)
		out.Write(pal.reset)
	case bool:
		out.Write(pal.boolean)
		writeScalar(out, v)
		out.Write(pal.reset)
	case nil:
		out.Write(pal.null)
		out.WriteString("null")
		out.Write(pal.reset)
	default:
		// Reconstructed state only holds canonical JSON types.
		fmt.Fprintf(out, "%v", v)
	}
}

// writeScalar emits a JSON scalar. encoding/json keeps string escaping
// and number formatting identical to what the wire carries.
func writeScalar(out *bufio.Writer, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		out.WriteString("null")
		return
	}
	out.Write(b)
}

func writeIndent(out *bufio.Writer, depth int) {
	for range depth {
		out.WriteString("  ")
	}
}
