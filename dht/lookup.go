package dht

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/TheoBaudoinLighting/kadmesh/common"
	"github.com/TheoBaudoinLighting/kadmesh/proto"
	"github.com/TheoBaudoinLighting/kadmesh/routing"
)

// sortByDistance orders contacts by ascending XOR distance to target, the
// same ordering routing.Table.FindClosest produces.
func sortByDistance(contacts []routing.Contact, target routing.NodeID) {
	sort.Slice(contacts, func(i, j int) bool {
		return target.Distance(contacts[i].ID).Less(target.Distance(contacts[j].ID))
	})
}

// LookupNode runs the iterative FIND_NODE procedure against target: up to
// Alpha contacts are queried concurrently from the current shortlist, the
// shortlist is refined with whatever comes back, and the loop stops once
// every known contact has been queried or the deadline expires. A round that
// adds nothing new is followed by a LookupPollInterval pause.
func (d *DHT) LookupNode(ctx context.Context, target routing.NodeID) ([]routing.Contact, error) {
	if !d.running() {
		return nil, ErrNotStarted
	}

	ctx, cancel := context.WithTimeout(ctx, common.LookupDeadline)
	defer cancel()

	shortlist := newShortlist(target, d.table.FindClosest(target, common.BucketSize))
	queried := map[routing.NodeID]bool{}

	for {
		batch := shortlist.next(common.Alpha, queried)
		if len(batch) == 0 {
			break
		}

		select {
		case <-ctx.Done():
			return shortlist.closest(common.BucketSize), ctx.Err()
		default:
		}

		var wg sync.WaitGroup
		var mu sync.Mutex
		progressed := false

		for _, c := range batch {
			queried[c.ID] = true
			wg.Add(1)
			go func(c routing.Contact) {
				defer wg.Done()
				contacts, err := d.queryFindNode(ctx, c, target)
				if err != nil {
					return
				}
				mu.Lock()
				if shortlist.merge(contacts) {
					progressed = true
				}
				mu.Unlock()
				d.table.Update(c)
			}(c)
		}
		wg.Wait()

		if !progressed {
			time.Sleep(common.LookupPollInterval)
		}

		select {
		case <-ctx.Done():
			return shortlist.closest(common.BucketSize), ctx.Err()
		default:
		}
	}

	return shortlist.closest(common.BucketSize), nil
}

// Retrieve runs an iterative FIND_VALUE lookup: the same shortlist expansion
// as LookupNode, but a query can short-circuit the whole search by returning
// a value directly.
func (d *DHT) Retrieve(ctx context.Context, key []byte) ([]byte, bool, error) {
	if !d.running() {
		return nil, false, ErrNotStarted
	}

	id := KeyID(key)
	if value, ok := d.store.get(id); ok {
		return value, true, nil
	}

	ctx, cancel := context.WithTimeout(ctx, common.LookupDeadline)
	defer cancel()

	shortlist := newShortlist(id, d.table.FindClosest(id, common.BucketSize))
	queried := map[routing.NodeID]bool{}

	for {
		batch := shortlist.next(common.Alpha, queried)
		if len(batch) == 0 {
			return nil, false, nil
		}

		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		default:
		}

		type result struct {
			value []byte
			found bool
		}
		results := make(chan result, len(batch))
		var wg sync.WaitGroup

		for _, c := range batch {
			queried[c.ID] = true
			wg.Add(1)
			go func(c routing.Contact) {
				defer wg.Done()
				value, found, contacts, err := d.queryFindValue(ctx, c, id)
				if err != nil {
					return
				}
				if found {
					results <- result{value: value, found: true}
					return
				}
				shortlist.merge(contacts)
				d.table.Update(c)
			}(c)
		}
		wg.Wait()
		close(results)

		for r := range results {
			if r.found {
				return r.value, true, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		default:
		}
	}
}

// queryFindNode sends a DHT_FIND_NODE to c and waits (via the connection's
// message stream, correlated through pending) for its reply.
func (d *DHT) queryFindNode(ctx context.Context, c routing.Contact, target routing.NodeID) ([]routing.Contact, error) {
	conn, err := d.dialer.Dial(ctx, c.Address, c.Port)
	if err != nil {
		return nil, err
	}

	body, err := encodeJSON(findNodePayload{Target: target.String(), Sender: d.dialer.Self().ID.String()})
	if err != nil {
		return nil, err
	}
	msg, err := proto.NewMessage(proto.DHTFindNode, body)
	if err != nil {
		return nil, err
	}

	replyCh := d.awaitFindNodeReply(conn)
	defer d.clearFindNodeReply(conn)
	conn.Send(msg)

	select {
	case reply := <-replyCh:
		return contactsFromJSON(reply), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// queryFindValue sends a DHT_FIND_VALUE to c and waits for its reply.
func (d *DHT) queryFindValue(ctx context.Context, c routing.Contact, id routing.NodeID) ([]byte, bool, []routing.Contact, error) {
	conn, err := d.dialer.Dial(ctx, c.Address, c.Port)
	if err != nil {
		return nil, false, nil, err
	}

	body, err := encodeJSON(findValuePayload{Key: id.String(), Sender: d.dialer.Self().ID.String()})
	if err != nil {
		return nil, false, nil, err
	}
	msg, err := proto.NewMessage(proto.DHTFindValue, body)
	if err != nil {
		return nil, false, nil, err
	}

	replyCh := d.awaitFindValueReply(conn)
	defer d.clearFindValueReply(conn)
	conn.Send(msg)

	select {
	case reply := <-replyCh:
		if reply.Found {
			return []byte(reply.Value), true, nil, nil
		}
		return nil, false, contactsFromJSON(reply.Contacts), nil
	case <-ctx.Done():
		return nil, false, nil, ctx.Err()
	}
}

// shortlist is the mutable candidate set an iterative lookup narrows as
// replies arrive, always kept sorted by ascending XOR distance to target.
type shortlist struct {
	target routing.NodeID
	mu     sync.Mutex
	seen   map[routing.NodeID]routing.Contact
}

func newShortlist(target routing.NodeID, initial []routing.Contact) *shortlist {
	s := &shortlist{target: target, seen: make(map[routing.NodeID]routing.Contact)}
	s.merge(initial)
	return s
}

// merge adds any not-yet-seen contacts and reports whether it added any.
func (s *shortlist) merge(contacts []routing.Contact) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := false
	for _, c := range contacts {
		if !c.Valid() {
			continue
		}
		if _, ok := s.seen[c.ID]; !ok {
			s.seen[c.ID] = c
			added = true
		}
	}
	return added
}

// next returns up to n not-yet-queried contacts, closest first.
func (s *shortlist) next(n int, queried map[routing.NodeID]bool) []routing.Contact {
	closest := s.closest(0)
	out := make([]routing.Contact, 0, n)
	for _, c := range closest {
		if queried[c.ID] {
			continue
		}
		out = append(out, c)
		if len(out) == n {
			break
		}
	}
	return out
}

// closest returns every known contact sorted by distance to target, capped
// to limit entries (0 means unlimited).
func (s *shortlist) closest(limit int) []routing.Contact {
	s.mu.Lock()
	contacts := make([]routing.Contact, 0, len(s.seen))
	for _, c := range s.seen {
		contacts = append(contacts, c)
	}
	s.mu.Unlock()

	sortByDistance(contacts, s.target)
	if limit > 0 && len(contacts) > limit {
		contacts = contacts[:limit]
	}
	return contacts
}
