package routing

import (
	"testing"
	"time"

	"github.com/TheoBaudoinLighting/kadmesh/common"
)

func contactAt(t *testing.T, from NodeID, bit int, port int) Contact {
	id, err := AtDistance(from, bit)
	if err != nil {
		t.Fatal(err)
	}
	return Contact{ID: id, Address: "127.0.0.1", Port: port, LastSeen: time.Now()}
}

func TestBucketCapacityAndNoDuplicates(t *testing.T) {
	self, _ := RandomID()
	table := NewTable(self)

	// All of these fall in the same bucket (distance bit 5).
	for i := 0; i < common.BucketSize+5; i++ {
		c := contactAt(t, self, 5, 1000+i)
		c.ID[len(c.ID)-1] ^= byte(i) // vary low bits, same bucket
		table.Update(c)
	}

	idx := self.BucketIndex(contactAt(t, self, 5, 0).ID)
	n := table.buckets[idx].Len()
	if n > common.BucketSize {
		t.Errorf("bucket holds %d contacts, want <= %d", n, common.BucketSize)
	}

	seen := map[NodeID]bool{}
	for _, c := range table.buckets[idx].Contacts() {
		if seen[c.ID] {
			t.Errorf("duplicate contact %v in bucket", c.ID)
		}
		seen[c.ID] = true
	}
}

func TestUpdateRefreshesExistingContact(t *testing.T) {
	self, _ := RandomID()
	table := NewTable(self)

	c := contactAt(t, self, 10, 1234)
	table.Update(c)

	c.Port = 5678
	table.Update(c)

	idx := self.BucketIndex(c.ID)
	contacts := table.buckets[idx].Contacts()
	if len(contacts) != 1 {
		t.Fatalf("expected 1 contact after refresh, got %d", len(contacts))
	}
	if contacts[0].Port != 5678 {
		t.Errorf("port = %d, want 5678 (refreshed)", contacts[0].Port)
	}
}

func TestUpdateIgnoresSelfAndInvalid(t *testing.T) {
	self, _ := RandomID()
	table := NewTable(self)

	table.Update(Contact{ID: self, Address: "1.2.3.4", Port: 1})
	if table.Size() != 0 {
		t.Errorf("self update should be ignored, size = %d", table.Size())
	}

	other, _ := RandomID()
	table.Update(Contact{ID: other, Address: "", Port: 1})
	table.Update(Contact{ID: other, Address: "1.2.3.4", Port: 0})
	if table.Size() != 0 {
		t.Errorf("invalid updates should be ignored, size = %d", table.Size())
	}
}

func TestFindClosestAscendingAndBounded(t *testing.T) {
	self, _ := RandomID()
	table := NewTable(self)

	for bit := 0; bit < common.IDBits; bit += 3 {
		table.Update(contactAt(t, self, bit, 2000+bit))
	}

	target, _ := RandomID()
	closest := table.FindClosest(target, common.BucketSize)

	if len(closest) > common.BucketSize {
		t.Fatalf("returned %d contacts, want <= %d", len(closest), common.BucketSize)
	}
	for i := 1; i < len(closest); i++ {
		prev := target.Distance(closest[i-1].ID)
		cur := target.Distance(closest[i].ID)
		if !prev.Less(cur) && prev != cur {
			t.Errorf("results not ascending at index %d", i)
		}
	}
}
