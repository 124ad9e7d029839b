package dht

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TheoBaudoinLighting/kadmesh/common"
	"github.com/TheoBaudoinLighting/kadmesh/proto"
	"github.com/TheoBaudoinLighting/kadmesh/routing"
)

// state is the DHT engine's lifecycle, per the spec's Created/Started/Stopped
// machine: handlers and lookups are rejected outside Started.
type state int

const (
	stateCreated state = iota
	stateStarted
	stateStopped
)

// Dialer is how the engine reaches other nodes without importing the root
// package's Peer type directly - Peer implements this against its Session's
// existing-connection lookup, falling back to dialing a fresh Connection.
type Dialer interface {
	Dial(ctx context.Context, address string, port int) (*proto.Connection, error)
	Self() routing.Contact
}

// DHT is the facade the Peer layer drives: Start/Stop bracket the
// maintenance ticker, and HandleMessage/Lookup/Store are the operations the
// rest of the spec's §4.G describes.
type DHT struct {
	mu    sync.Mutex
	state state

	dialer Dialer
	table  *routing.Table
	store  *store
	log    *logrus.Entry

	ttl           time.Duration
	maintInterval time.Duration

	maintDone chan struct{}

	// pendingValue correlates an outbound DHT_FIND_VALUE to the reply it
	// expects, keyed by the Connection the request went out on. The wire
	// schema's FIND_VALUE_REPLY carries no key field, and the reference
	// handler caches incoming values under a fresh random id rather than
	// the queried one (see DESIGN.md); this map is the faithful-but-usable
	// side channel that lets our own Retrieve still observe the right
	// value without touching that cache behaviour.
	pendingMu    sync.Mutex
	pendingNode  map[*proto.Connection]chan []contactJSON
	pendingValue map[*proto.Connection]chan findValueReplyPayload
}

// Option configures a DHT at construction time, the way
// Arceliar/ironwood's network.Option configures its router/peer/path
// timeouts - used here for the entry TTL and maintenance interval
// overrides config.Config exposes.
type Option func(*DHT)

// WithTTL overrides the lifetime assigned to locally stored entries,
// in place of common.DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(d *DHT) {
		d.ttl = ttl
	}
}

// WithMaintenanceInterval overrides how often the maintenance loop reaps
// expired entries, in place of common.MaintenanceInterval.
func WithMaintenanceInterval(interval time.Duration) Option {
	return func(d *DHT) {
		d.maintInterval = interval
	}
}

// NewDHT constructs an engine bound to table and dialer. It is created in
// the Created state; call Start before HandleMessage, Lookup, or Store.
func NewDHT(dialer Dialer, table *routing.Table, log *logrus.Entry, opts ...Option) *DHT {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	d := &DHT{
		state:         stateCreated,
		dialer:        dialer,
		table:         table,
		store:         newStore(),
		log:           log.WithField("component", "dht"),
		ttl:           common.DefaultTTL,
		maintInterval: common.MaintenanceInterval,
		pendingNode:   make(map[*proto.Connection]chan []contactJSON),
		pendingValue:  make(map[*proto.Connection]chan findValueReplyPayload),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start transitions Created -> Started and launches the maintenance loop.
// Calling Start twice, or after Stop, is an error.
func (d *DHT) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != stateCreated {
		return wrapInvalid("dht already started or stopped")
	}

	d.state = stateStarted
	d.maintDone = make(chan struct{})
	go d.maintenanceLoop(d.maintDone)
	d.log.Info("dht started")
	return nil
}

// Stop transitions to Stopped and halts the maintenance loop. Stop is
// idempotent: stopping an already-stopped engine is a no-op, and stopping a
// never-started engine moves it straight to Stopped, so it cannot be started
// afterwards.
func (d *DHT) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != stateStarted {
		d.state = stateStopped
		return
	}

	close(d.maintDone)
	d.state = stateStopped
	d.log.Info("dht stopped")
}

func (d *DHT) running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == stateStarted
}

// Stats reports a coarse snapshot for the CLI's `dht stats` command.
type Stats struct {
	RoutingTableSize int
	StoredEntries    int
}

func (d *DHT) Stats() Stats {
	return Stats{
		RoutingTableSize: d.table.Size(),
		StoredEntries:    d.store.size(),
	}
}
