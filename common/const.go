// Package common holds size limits and error kinds shared across the
// transport, routing and DHT layers, mirroring the way the teacher keeps its
// cross-cutting constants in one small package rather than duplicating them.
package common

import "time"

const (
	// HeaderSize is the fixed length of a frame header: one type tag byte
	// followed by a four byte little-endian body length.
	HeaderSize = 5

	// MaxBodySize is the largest body a single frame may carry.
	MaxBodySize = 1 << 20 // 1 MiB

	// MaxStoreValueSize is the largest value a STORE may carry locally.
	MaxStoreValueSize = MaxBodySize / 2

	// DefaultTTL is how long a locally stored DHT entry remains valid.
	DefaultTTL = 24 * time.Hour

	// MaintenanceInterval is how often the DHT reaps expired local entries.
	MaintenanceInterval = 10 * time.Minute

	// LookupDeadline bounds a single iterative FIND_NODE/FIND_VALUE lookup.
	LookupDeadline = 5 * time.Second

	// LookupPollInterval is the pause an iterative FIND_NODE lookup takes
	// after a round of queries that added no new contact. FIND_VALUE lookups
	// do not pause and do not re-check local storage.
	LookupPollInterval = 100 * time.Millisecond

	// Alpha is the concurrency factor for iterative lookups.
	Alpha = 3

	// BucketSize (K) is the maximum number of contacts held per k-bucket, and
	// the width of a FIND_NODE/FIND_VALUE reply.
	BucketSize = 20

	// ReplicationFactor is the number of distinct nodes a STORE tries to
	// place a value on, counting the local write.
	ReplicationFactor = 3

	// IDBits is the width of a NodeID in bits (160 bits / 20 bytes).
	IDBits = 160
)
