// Peer is the node's listener, dialer and connection reactor: it accepts
// inbound TCP, dials outbound TCP, hands every accepted or dialed Connection
// to the Session registry, and implements dht.Dialer so the DHT engine can
// open connections on demand during lookups and replication. This replaces
// the teacher's Peer (peer.go), which wrapped a StreamManager and
// file-sharing RPCs; here a Peer wraps one TCP endpoint and the node's own
// identity.

package kadmesh

import (
	"context"
	"fmt"
	"net"

	"github.com/Arceliar/phony"
	log "github.com/sirupsen/logrus"

	"github.com/TheoBaudoinLighting/kadmesh/dht"
	"github.com/TheoBaudoinLighting/kadmesh/proto"
	"github.com/TheoBaudoinLighting/kadmesh/routing"
)

// Peer is the local node: its identity, its listening socket, and the
// Session registry of everything it's connected to. It embeds a phony.Inbox,
// per §5's reactor model, to serialize the one field Listen mutates after
// construction (self.Port, once the OS has assigned it) against concurrent
// reads from Self(), which DHT lookup goroutines call from outside the
// accept loop's goroutine.
type Peer struct {
	phony.Inbox

	self    routing.Contact
	maxConn int

	listener net.Listener
	session  *Session
	table    *routing.Table
	dht      *dht.DHT

	log *log.Entry
}

// NewPeer creates a node identified by id, reachable at address:port once
// Listen is called. maxConn caps the Session size: an inbound connection is
// rejected while the Session (inbound and dialed connections together) holds
// maxConn or more; a value of 0 leaves it uncapped.
func NewPeer(id routing.NodeID, address string, port int, maxConn int) *Peer {
	table := routing.NewTable(id)
	p := &Peer{
		self:    routing.Contact{ID: id, Address: address, Port: port},
		maxConn: maxConn,
		table:   table,
		log:     log.WithField("component", "peer"),
	}
	p.session = NewSession(nil)
	return p
}

// Self returns the node's own contact, satisfying dht.Dialer.
func (p *Peer) Self() routing.Contact {
	var self routing.Contact
	phony.Block(p, func() {
		self = p.self
	})
	return self
}

// Table exposes the node's routing table, e.g. for CLI `connections`/`dht
// stats` reporting.
func (p *Peer) Table() *routing.Table {
	return p.table
}

// Session exposes the node's connection registry.
func (p *Peer) Session() *Session {
	return p.session
}

// EnableDHT constructs and starts the DHT engine bound to this Peer's
// dialer and routing table. It may only be called once the reactor is
// running, i.e. after Listen/Start; calling it before, or calling it more
// than once, is an error. opts (dht.WithTTL, dht.WithMaintenanceInterval)
// let the caller override the engine's entry lifetime and reaping cadence,
// e.g. from config.Config.DHT.
func (p *Peer) EnableDHT(opts ...dht.Option) error {
	if p.listener == nil {
		return fmt.Errorf("dht requires the peer to be listening: call Listen first")
	}
	if p.dht != nil {
		return fmt.Errorf("dht already enabled")
	}
	p.dht = dht.NewDHT(p, p.table, p.log, opts...)
	p.session.dht = p.dht
	return p.dht.Start()
}

// DHT returns the engine enabled by EnableDHT, or nil.
func (p *Peer) DHT() *dht.DHT {
	return p.dht
}

// Start rebinds the node to port and listens on it, for the CLI's `start
// <port>` command. Calling it while already listening is an error.
func (p *Peer) Start(port int) error {
	if p.listener != nil {
		return fmt.Errorf("already listening on port %d", p.Port())
	}
	phony.Block(p, func() {
		p.self.Port = port
	})
	return p.Listen()
}

// Listen opens the node's listening socket and begins accepting inbound
// connections in the background. Stop closes it.
func (p *Peer) Listen() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", p.self.Port))
	if err != nil {
		return err
	}
	p.listener = ln
	boundPort := ln.Addr().(*net.TCPAddr).Port
	phony.Block(p, func() {
		p.self.Port = boundPort
	})
	go p.acceptLoop()
	p.log.WithField("port", boundPort).Info("listening")
	return nil
}

// Port returns the port actually bound by Listen, which may differ from
// the one passed to NewPeer when that was 0.
func (p *Peer) Port() int {
	return p.Self().Port
}

func (p *Peer) acceptLoop() {
	for {
		raw, err := p.listener.Accept()
		if err != nil {
			return
		}
		if p.maxConn > 0 && p.session.Count() >= p.maxConn {
			p.log.WithField("max", p.maxConn).Warn("rejecting connection: session full")
			raw.Close()
			continue
		}
		p.adopt(raw)
	}
}

func (p *Peer) adopt(raw net.Conn) *proto.Connection {
	conn := proto.NewConnection(raw)
	p.session.Add(conn, raw.RemoteAddr().String())
	return conn
}

// Connect dials address:port, performs the handshake, and returns once the
// Connection is registered in the Session.
func (p *Peer) Connect(address string, port int) (*proto.Connection, error) {
	addr := fmt.Sprintf("%s:%d", address, port)
	if existing, ok := p.session.GetByAddress(addr); ok {
		return existing, nil
	}

	raw, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	p.log.WithField("address", addr).Debug("connected")
	return p.adopt(raw), nil
}

// Dial satisfies dht.Dialer: it reuses an existing connection to
// address:port if one is registered, otherwise dials a fresh one. ctx is not
// consulted: the dial goes through Connect's plain net.Dial, as the
// teacher's dial path (peer.go's Connect) was likewise unconditional.
func (p *Peer) Dial(ctx context.Context, address string, port int) (*proto.Connection, error) {
	return p.Connect(address, port)
}

// Stop closes the listening socket and every live connection.
func (p *Peer) Stop() {
	if p.listener != nil {
		_ = p.listener.Close()
	}
	if p.dht != nil {
		p.dht.Stop()
	}
	for _, conn := range p.session.Connections() {
		conn.Disconnect()
	}
}
