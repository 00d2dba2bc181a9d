// Package plumbing contains the low-level primitives shared by every
// storage component: content hashes, the repository error taxonomy and
// path/name validation.
package plumbing

import (
	"encoding/hex"
	"encoding/json"

	"github.com/zeebo/blake3"
)

const (
	// HashSize is the digest size, in bytes, of a content id.
	HashSize = 32
)

// ZeroHash is the Hash with all-zero bytes, used as a sentinel "no object".
var ZeroHash Hash

// Hash is a content id: the BLAKE3 digest of an object's canonical encoding.
// Blobs, trees and commits are all addressed by Hash.
type Hash [HashSize]byte

// NewHash parses a hex-encoded hash. Malformed input yields the zero hash,
// mirroring the teacher's lenient plumbing.Hash constructor.
func NewHash(s string) Hash {
	b, _ := hex.DecodeString(s)
	var h Hash
	copy(h[:], b)
	return h
}

// SumBytes hashes a single buffer into a Hash.
func SumBytes(b []byte) Hash {
	return Hash(blake3.Sum256(b))
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

func (h *Hash) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*h = NewHash(s)
	return nil
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	*h = NewHash(string(text))
	return nil
}
