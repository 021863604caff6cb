// Package compress provides the payload codecs used for optional frame
// compression on the websocket transport. Codecs are stateless values;
// the zstd implementation switches between cgo and pure-Go backends at
// build time.
package compress

import (
	"fmt"

	"github.com/c360/pjstream/errors"
)

// Type identifies a compression algorithm on the wire.
type Type string

const (
	// None passes payloads through untouched.
	None Type = "none"
	// Zstd trades CPU for the best ratio.
	Zstd Type = "zstd"
	// S2 is the fastest option at a modest ratio.
	S2 Type = "s2"
	// LZ4 sits between S2 and Zstd.
	LZ4 Type = "lz4"
)

// Valid reports whether the type names a built-in codec.
func (t Type) Valid() bool {
	switch t {
	case None, Zstd, S2, LZ4:
		return true
	}
	return false
}

func (t Type) String() string { return string(t) }

// Compressor compresses a payload. The returned slice is owned by the
// caller; the input is never modified.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
}

// Decompressor reverses Compress. Corrupted or mismatched input fails
// with an error rather than garbage output.
type Decompressor interface {
	Decompress(data []byte) ([]byte, error)
}

// Codec combines both directions.
type Codec interface {
	Compressor
	Decompressor
}

var builtin = map[Type]Codec{
	None: NoopCodec{},
	Zstd: ZstdCodec{},
	S2:   S2Codec{},
	LZ4:  LZ4Codec{},
}

// ForType returns the built-in codec for t. The empty type maps to
// None so unnegotiated streams need no special casing.
func ForType(t Type) (Codec, error) {
	if t == "" {
		t = None
	}
	codec, ok := builtin[t]
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: unknown compression type %q", errors.ErrInvalidConfig, t),
			"compress", "ForType", "select codec")
	}
	return codec, nil
}
