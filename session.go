// Package kadmesh ties the proto, routing and dht packages together into a
// running node: Session is the registry of live Connections (replacing the
// teacher's PeerManager, peermanager.go), and Peer (peer.go) is the
// listener/dialer that owns them.
package kadmesh

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/TheoBaudoinLighting/kadmesh/dht"
	"github.com/TheoBaudoinLighting/kadmesh/proto"
)

const pingInterval = 30 * time.Second

// Session is the registry of connections currently attached to this node.
// Every adopted Connection is assigned a monotonically increasing local id,
// never reused within the process lifetime, alongside its remote address -
// the id is what gets announced to the peer itself and what the CLI's send
// command addresses, the address is what Peer consults to reuse an existing
// dial. The CLI's connections command lists addresses only, not ids.
type Session struct {
	mu     sync.Mutex
	byID   map[uint64]*proto.Connection
	byAddr map[string]*proto.Connection
	idOf   map[*proto.Connection]uint64
	nextID uint64

	dht *dht.DHT
	log *log.Entry
}

// NewSession builds an empty registry. d may be nil if the node has not
// enabled the DHT.
func NewSession(d *dht.DHT) *Session {
	return &Session{
		byID:   make(map[uint64]*proto.Connection),
		byAddr: make(map[string]*proto.Connection),
		idOf:   make(map[*proto.Connection]uint64),
		dht:    d,
		log:    log.WithField("component", "session"),
	}
}

// Add registers conn under a freshly assigned id, starts its read loop, and
// sends it a HANDSHAKE welcome carrying that id, then announces its arrival
// to every other member. addr is the remote address key used by
// GetByAddress, and by Peer to reuse an existing dial.
func (s *Session) Add(conn *proto.Connection, addr string) uint64 {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.byID[id] = conn
	s.byAddr[addr] = conn
	s.idOf[conn] = id
	s.mu.Unlock()

	conn.Start(
		func(msg *proto.Message) { s.handleMessage(conn, id, msg) },
		func() { s.remove(conn, addr) },
	)

	welcome, err := proto.NewMessage(proto.Handshake, []byte(fmt.Sprintf("Welcome! Your connection ID is %d", id)))
	if err == nil {
		conn.Send(welcome)
	}

	s.broadcastExcept(conn, fmt.Sprintf("Peer %d joined", id))
	go s.heartbeat(conn)
	return id
}

func (s *Session) remove(conn *proto.Connection, addr string) {
	s.mu.Lock()
	id, ok := s.idOf[conn]
	if ok {
		delete(s.idOf, conn)
		delete(s.byID, id)
		delete(s.byAddr, addr)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	s.broadcastExcept(conn, fmt.Sprintf("Peer %d left", id))
}

// Get returns the connection bound to the local connection id, if any.
func (s *Session) Get(id uint64) (*proto.Connection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.byID[id]
	return conn, ok
}

// GetByAddress returns the connection dialed to or accepted from addr, if
// any.
func (s *Session) GetByAddress(addr string) (*proto.Connection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.byAddr[addr]
	return conn, ok
}

// Count returns the number of live connections.
func (s *Session) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// Broadcast sends msg to every live connection.
func (s *Session) Broadcast(msg *proto.Message) {
	for _, conn := range s.snapshot() {
		conn.Send(msg)
	}
}

// broadcastExcept sends a DATA frame with the given body to every live
// connection other than except.
func (s *Session) broadcastExcept(except *proto.Connection, body string) {
	msg, err := proto.NewMessage(proto.Data, []byte(body))
	if err != nil {
		return
	}
	for _, conn := range s.snapshot() {
		if conn == except {
			continue
		}
		conn.Send(msg)
	}
}

// Connections returns a snapshot of every live connection, e.g. for Peer.Stop
// to close them all.
func (s *Session) Connections() []*proto.Connection {
	return s.snapshot()
}

func (s *Session) snapshot() []*proto.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	conns := make([]*proto.Connection, 0, len(s.byID))
	for _, conn := range s.byID {
		conns = append(conns, conn)
	}
	return conns
}

func (s *Session) handleMessage(conn *proto.Connection, senderID uint64, msg *proto.Message) {
	switch {
	case msg.Type == proto.Handshake:
		s.log.WithField("peer", senderID).Debug("handshake received")
	case msg.Type == proto.Data:
		s.broadcastExcept(conn, fmt.Sprintf("Peer %d says: %s", senderID, msg.Body))
	case msg.Type == proto.Ping:
		pong, err := proto.NewMessage(proto.Pong, msg.Body)
		if err == nil {
			conn.Send(pong)
		}
	case msg.Type == proto.Pong:
		s.log.WithField("peer", senderID).Debug("pong received")
	case msg.Type == proto.Disconnect:
		conn.Disconnect()
	case msg.Type.IsDHT():
		if s.dht != nil {
			s.dht.HandleMessage(conn, msg)
		} else {
			s.log.WithField("type", msg.Type).Error("no dht handler installed")
		}
	default:
		s.log.WithField("type", msg.Type).Warn("unhandled message type")
	}
}

// heartbeat sends PING on an interval for as long as the connection stays
// up; it exits once the connection reports disconnected, mirroring the
// teacher's PeerManager.heartbeatPeer (peermanager.go) but driven off
// IsConnected rather than a map membership check.
func (s *Session) heartbeat(conn *proto.Connection) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for range ticker.C {
		if !conn.IsConnected() {
			return
		}
		ping, err := proto.NewMessage(proto.Ping, nil)
		if err != nil {
			continue
		}
		conn.Send(ping)
	}
}
