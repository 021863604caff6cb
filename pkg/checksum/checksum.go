// Package checksum computes stable document digests for end-to-end
// verification of streamed documents. The producer stamps the digest on
// the complete frame; the receiver recomputes it over the reconstructed
// state.
package checksum

import (
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/c360/pjstream/errors"
)

// Hasher digests documents with xxHash64 over their canonical JSON
// encoding. encoding/json sorts object keys, so equal documents hash
// equal regardless of key insertion order.
type Hasher struct{}

// New returns the default document hasher.
func New() Hasher { return Hasher{} }

// Sum returns the hex digest of the document.
func (Hasher) Sum(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrInvalidInput, err),
			"Hasher", "Sum", "encode document")
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(data)), nil
}

// Sum digests a document with the default hasher.
func Sum(value any) (string, error) {
	return Hasher{}.Sum(value)
}
