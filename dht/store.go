package dht

import (
	"context"

	"github.com/TheoBaudoinLighting/kadmesh/common"
	"github.com/TheoBaudoinLighting/kadmesh/proto"
	"github.com/TheoBaudoinLighting/kadmesh/routing"
)

// Store validates key/value, writes the entry locally, and replicates it to
// the nodes closest to the key's derived id (found via a FIND_NODE lookup),
// stopping once ReplicationFactor dispatches have succeeded (the local write
// counts as one) or the candidate list is exhausted. A dispatch succeeds when
// a connection was obtained and the STORE frame enqueued; STORE_REPLYs are
// not waited for.
func (d *DHT) Store(ctx context.Context, key, value []byte) error {
	if !d.running() {
		return ErrNotStarted
	}
	if err := validateStoreValue(key, value); err != nil {
		return err
	}

	id := KeyID(key)
	d.store.put(id, value, d.ttl)

	closest, err := d.LookupNode(ctx, id)
	if err != nil && len(closest) == 0 {
		return err
	}

	replicated := 1 // the local write above
	for _, c := range closest {
		if replicated >= common.ReplicationFactor {
			break
		}
		if err := d.replicateTo(ctx, c, id, value); err == nil {
			replicated++
		}
	}
	return nil
}

func (d *DHT) replicateTo(ctx context.Context, c routing.Contact, id routing.NodeID, value []byte) error {
	conn, err := d.dialer.Dial(ctx, c.Address, c.Port)
	if err != nil {
		return err
	}

	body, err := encodeJSON(storePayload{Key: id.String(), Value: value, TTL: int64(d.ttl)})
	if err != nil {
		return err
	}
	msg, err := proto.NewMessage(proto.DHTStore, body)
	if err != nil {
		return err
	}
	conn.Send(msg)
	return nil
}
