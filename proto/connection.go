package proto

import (
	"errors"
	"net"
	"strconv"
	"strings"

	"github.com/Arceliar/phony"
	log "github.com/sirupsen/logrus"

	"github.com/TheoBaudoinLighting/kadmesh/common"
)

// Connection is full-duplex framed I/O over one TCP endpoint. It embeds a
// phony.Inbox so that its write queue, in-flight flag and connected flag are
// only ever touched inside Act/Block closures - the actor-model reactor this
// module's design notes call for in place of the teacher's ad hoc locking
// (see proto/client.go and proto/streammanager.go for the pattern this
// replaces).
//
// A Connection is exclusively owned by the Peer that created it, and shared
// by reference with the Session registry.
type Connection struct {
	phony.Inbox

	conn net.Conn

	writeQueue [][]byte
	writing    bool
	connected  bool

	onMessage    func(*Message)
	onDisconnect func()
}

// NewConnection wraps an already-dialed or accepted net.Conn.
func NewConnection(conn net.Conn) *Connection {
	return &Connection{conn: conn, connected: true}
}

// Start begins the read loop. It must be called exactly once, after
// construction. onMessage is invoked once per frame in arrival order;
// onDisconnect fires exactly once, whenever the connection is torn down.
func (c *Connection) Start(onMessage func(*Message), onDisconnect func()) {
	c.onMessage = onMessage
	c.onDisconnect = onDisconnect
	go c.readLoop()
}

// readLoop reads HEADER then BODY in a tight cycle until an I/O error or a
// decode failure, at which point the connection is fatal and torn down.
func (c *Connection) readLoop() {
	for {
		msg, err := Deserialize(c.conn)
		if err != nil {
			c.Disconnect()
			return
		}
		c.onMessage(msg)
	}
}

// Send enqueues a serialized frame for transmission. The caller is not
// blocked: the work is posted to the connection's inbox and the outbound
// write, if any, happens on the inbox's own goroutine.
func (c *Connection) Send(msg *Message) {
	c.Act(nil, func() {
		c._send(msg)
	})
}

func (c *Connection) _send(msg *Message) {
	if !c.connected {
		log.WithError(common.ErrNotConnected).Debug("dropped send on disconnected connection")
		return
	}

	data, err := msg.Serialize()
	if err != nil {
		log.WithError(err).Error("failed to serialize outbound message")
		return
	}

	c.writeQueue = append(c.writeQueue, data)
	if !c.writing {
		c._drainWrites()
	}
}

// _drainWrites pops and writes frames until the queue is empty or a write
// fails, at which point the connection is disconnected. At most one frame is
// ever being written at a time, satisfying the "single in-flight write per
// Connection" invariant trivially, since this whole loop runs inside one Act
// closure.
func (c *Connection) _drainWrites() {
	c.writing = true
	for len(c.writeQueue) > 0 {
		frame := c.writeQueue[0]
		if _, err := c.conn.Write(frame); err != nil {
			log.WithError(err).Debug("write failed, disconnecting")
			c._disconnect()
			return
		}
		c.writeQueue = c.writeQueue[1:]
	}
	c.writing = false
}

// Disconnect closes both socket halves, marks the connection disconnected,
// and invokes onDisconnect exactly once, even if called concurrently with a
// read-loop error or another caller's Disconnect. The socket is closed right
// away, so a write blocked on it fails instead of holding up the inbox.
func (c *Connection) Disconnect() {
	_ = c.conn.Close()
	c.Act(nil, func() {
		c._disconnect()
	})
}

func (c *Connection) _disconnect() {
	if !c.connected {
		return
	}
	c.connected = false
	_ = c.conn.Close()
	if c.onDisconnect != nil {
		c.onDisconnect()
	}
}

// IsConnected reports the connection's current state, blocking briefly on
// the inbox to read it safely.
func (c *Connection) IsConnected() bool {
	var connected bool
	phony.Block(c, func() {
		connected = c.connected
	})
	return connected
}

// RemoteAddress returns the textual remote IP address, or "" if unavailable.
func (c *Connection) RemoteAddress() string {
	host, _, err := splitHostPort(c.conn.RemoteAddr())
	if err != nil {
		return ""
	}
	return host
}

// RemotePort returns the remote TCP port, or 0 if unavailable.
func (c *Connection) RemotePort() int {
	_, port, err := splitHostPort(c.conn.RemoteAddr())
	if err != nil {
		return 0
	}
	return port
}

func splitHostPort(addr net.Addr) (string, int, error) {
	if addr == nil {
		return "", 0, errors.New("no remote address")
	}
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return strings.TrimSpace(host), port, nil
}
