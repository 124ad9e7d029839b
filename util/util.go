// Package util holds small cryptographically-seeded random helpers shared
// by node id generation and the DHT's (intentionally faithful, see the open
// question in DESIGN.md) temporary cache-key behaviour.
package util

import (
	"crypto/rand"
)

// CryptoRandBytes returns size cryptographically seeded random bytes.
func CryptoRandBytes(size int) ([]byte, error) {
	buf := make([]byte, size)
	_, err := rand.Read(buf)

	if err != nil {
		return nil, err
	}

	return buf, nil
}
