package routing

import (
	"sort"

	"github.com/TheoBaudoinLighting/kadmesh/common"
)

// Table is the Kademlia routing table: IDBits k-buckets, indexed by the
// most significant differing bit between selfID and a contact's id. A
// contact appears in at most one bucket; selfID is never inserted.
//
// This adapts the teacher's dht/netdb.go in-memory table (table [][]Address)
// into a set of independently locked KBuckets, dropping the SQLite-backed
// entry store that netdb.go layered underneath it - the spec carries no
// on-disk persistence of DHT contents, and a bucket only ever needs to know
// about Contacts, not arbitrary stored entries.
type Table struct {
	selfID  NodeID
	buckets [common.IDBits]*KBucket
}

// NewTable builds an empty table for selfID.
func NewTable(selfID NodeID) *Table {
	t := &Table{selfID: selfID}
	for i := range t.buckets {
		t.buckets[i] = NewKBucket(common.BucketSize)
	}
	return t
}

// SelfID returns the owning node's ID.
func (t *Table) SelfID() NodeID {
	return t.selfID
}

// Update observes a contact, inserting or refreshing it per the bucket
// update policy. Self updates and updates with no address or port 0 are
// ignored.
func (t *Table) Update(c Contact) {
	if c.ID == t.selfID {
		return
	}
	if !c.Valid() {
		return
	}
	idx := t.selfID.BucketIndex(c.ID)
	if idx < 0 {
		return
	}
	t.buckets[idx].Update(c)
}

// FindClosest collects contacts from every bucket, orders them by ascending
// XOR distance to target, and returns the count closest. O(N log N) in the
// number of held contacts, as in the spec.
func (t *Table) FindClosest(target NodeID, count int) []Contact {
	all := make([]Contact, 0, common.BucketSize*4)
	for _, b := range t.buckets {
		all = append(all, b.Contacts()...)
	}

	sort.Slice(all, func(i, j int) bool {
		di := target.Distance(all[i].ID)
		dj := target.Distance(all[j].ID)
		return di.Less(dj)
	})

	if count > len(all) {
		count = len(all)
	}
	return all[:count]
}

// Size returns the total number of contacts held across every bucket.
func (t *Table) Size() int {
	total := 0
	for _, b := range t.buckets {
		total += b.Len()
	}
	return total
}
