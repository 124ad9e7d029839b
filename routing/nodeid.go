// Package routing implements the 160-bit node address space, k-buckets and
// the Kademlia routing table that sits above the transport layer.
package routing

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/TheoBaudoinLighting/kadmesh/common"
)

// IDLength is the size of a NodeID in bytes (160 bits).
const IDLength = common.IDBits / 8

// NodeID is a fixed 160-bit identifier, ordered lexicographically over its
// bytes.
type NodeID [IDLength]byte

// ZeroID is the all-zero NodeID: the distance of any id to itself, and
// useful as a sentinel in tests.
var ZeroID NodeID

// RandomID generates a NodeID from a cryptographically seeded source. The
// spec only requires a cryptographically seeded generator, not a uniquely
// collision-resistant one.
func RandomID() (NodeID, error) {
	var id NodeID
	if _, err := rand.Read(id[:]); err != nil {
		return id, fmt.Errorf("generate random node id: %w", err)
	}
	return id, nil
}

// IDFromHex decodes a 40-character hex string into a NodeID. Any other
// length, or any non-hex character, is rejected.
func IDFromHex(s string) (NodeID, error) {
	var id NodeID
	if len(s) != IDLength*2 {
		return id, fmt.Errorf("node id hex length must be %d, got %d: %w", IDLength*2, len(s), common.ErrInvalidArgument)
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("node id is not valid hex: %w", common.ErrInvalidArgument)
	}
	copy(id[:], decoded)
	return id, nil
}

// String renders the NodeID as 40 lowercase hex characters.
func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// Equal reports whether two NodeIDs are identical.
func (id NodeID) Equal(other NodeID) bool {
	return id == other
}

// Less orders NodeIDs lexicographically over their bytes.
func (id NodeID) Less(other NodeID) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

// Distance returns the bytewise XOR distance between id and other, itself a
// valid NodeID suitable for use as a map key or for further XOR comparisons.
func (id NodeID) Distance(other NodeID) NodeID {
	var d NodeID
	for i := range id {
		d[i] = id[i] ^ other[i]
	}
	return d
}

// BucketIndex returns the index in [0, IDBits) of the k-bucket that other
// belongs in relative to self: the position of the most significant set bit
// of (self XOR other), scanned from the most significant byte. Returns -1 if
// self equals other.
func (self NodeID) BucketIndex(other NodeID) int {
	d := self.Distance(other)
	for byteIdx, b := range d {
		if b == 0 {
			continue
		}
		for bitIdx := 0; bitIdx < 8; bitIdx++ {
			if b&(0x80>>uint(bitIdx)) != 0 {
				return byteIdx*8 + bitIdx
			}
		}
	}
	return -1
}

// AtDistance returns a NodeID that differs from from in exactly bit position
// k (0 is the most significant bit of the first byte), required for bucket
// refresh tests. k must be in [0, IDBits).
func AtDistance(from NodeID, k int) (NodeID, error) {
	if k < 0 || k >= common.IDBits {
		return NodeID{}, fmt.Errorf("bit position %d out of range [0,%d): %w", k, common.IDBits, common.ErrInvalidArgument)
	}
	id := from
	byteIdx := k / 8
	bitIdx := k % 8
	id[byteIdx] ^= 0x80 >> uint(bitIdx)
	return id, nil
}
