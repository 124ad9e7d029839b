package kadmesh

import (
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/TheoBaudoinLighting/kadmesh/proto"
	"github.com/TheoBaudoinLighting/kadmesh/routing"
)

func newTestPeer(t *testing.T) *Peer {
	t.Helper()
	return newTestPeerMax(t, 0)
}

func newTestPeerMax(t *testing.T, maxConn int) *Peer {
	t.Helper()
	id, err := routing.RandomID()
	if err != nil {
		t.Fatal(err)
	}
	p := NewPeer(id, "127.0.0.1", 0, maxConn)
	if err := p.Listen(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(p.Stop)
	return p
}

// readRawFrame reads one type-tagged, length-prefixed frame directly off a
// raw net.Conn, without going through a proto.Connection - used by tests
// that dial a Peer's listener straight from net.Dial, since a
// proto.Connection's read loop may only be started once and Peer.adopt has
// already started it for any connection obtained via Peer.Connect.
func readRawFrame(t *testing.T, c net.Conn) (proto.Type, []byte) {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(time.Second))
	header := make([]byte, 5)
	if _, err := io.ReadFull(c, header); err != nil {
		t.Fatalf("read header: %v", err)
	}
	bodyLen := int(header[1]) | int(header[2])<<8 | int(header[3])<<16 | int(header[4])<<24
	body := make([]byte, bodyLen)
	if bodyLen > 0 {
		if _, err := io.ReadFull(c, body); err != nil {
			t.Fatalf("read body: %v", err)
		}
	}
	return proto.Type(header[0]), body
}

func TestConnectRegistersConnection(t *testing.T) {
	a := newTestPeer(t)
	b := newTestPeer(t)

	conn, err := a.Connect("127.0.0.1", b.Port())
	if err != nil {
		t.Fatal(err)
	}
	if !conn.IsConnected() {
		t.Fatal("expected new connection to report connected")
	}

	deadline := time.Now().Add(time.Second)
	for b.Session().Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if b.Session().Count() != 1 {
		t.Fatalf("peer b has %d connections, want 1", b.Session().Count())
	}
}

func TestConnectReusesExistingConnection(t *testing.T) {
	a := newTestPeer(t)
	b := newTestPeer(t)

	first, err := a.Connect("127.0.0.1", b.Port())
	if err != nil {
		t.Fatal(err)
	}
	second, err := a.Connect("127.0.0.1", b.Port())
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatal("expected second Connect to reuse the existing connection")
	}
}

// TestLoopbackHandshakeWelcome covers S1: dialing into a listening Peer
// registers exactly one connection, and the dialer receives a HANDSHAKE
// whose payload begins "Welcome! Your connection ID is " followed by an
// ASCII integer.
func TestLoopbackHandshakeWelcome(t *testing.T) {
	b := newTestPeer(t)

	raw, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", b.Port()))
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()

	typ, body := readRawFrame(t, raw)
	if typ != proto.Handshake {
		t.Fatalf("type = %v, want Handshake", typ)
	}
	if !strings.HasPrefix(string(body), "Welcome! Your connection ID is ") {
		t.Fatalf("body = %q, want welcome prefix", body)
	}

	deadline := time.Now().Add(time.Second)
	for b.Session().Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if b.Session().Count() != 1 {
		t.Fatalf("b has %d connections, want 1", b.Session().Count())
	}
}

// TestPingPongEchoesBody covers S2: a PING carrying an arbitrary payload is
// answered with a PONG carrying the identical payload.
func TestPingPongEchoesBody(t *testing.T) {
	b := newTestPeer(t)

	raw, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", b.Port()))
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()

	readRawFrame(t, raw) // drain the HANDSHAKE welcome

	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	ping, err := proto.NewMessage(proto.Ping, payload)
	if err != nil {
		t.Fatal(err)
	}
	frame, err := ping.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := raw.Write(frame); err != nil {
		t.Fatal(err)
	}

	typ, body := readRawFrame(t, raw)
	if typ != proto.Pong {
		t.Fatalf("type = %v, want Pong", typ)
	}
	if string(body) != string(payload) {
		t.Fatalf("pong body = %x, want %x", body, payload)
	}
}

func TestMaxConnRejectsOverflow(t *testing.T) {
	b := newTestPeerMax(t, 1)

	a1 := newTestPeer(t)
	a2 := newTestPeer(t)

	if _, err := a1.Connect("127.0.0.1", b.Port()); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for b.Session().Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	conn, err := a2.Connect("127.0.0.1", b.Port())
	if err != nil {
		t.Fatal(err)
	}

	deadline = time.Now().Add(time.Second)
	for conn.IsConnected() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if conn.IsConnected() {
		t.Fatal("expected second connection to be rejected once session is full")
	}
	if b.Session().Count() != 1 {
		t.Fatalf("b has %d connections, want 1", b.Session().Count())
	}
}

func TestStopClosesConnections(t *testing.T) {
	a := newTestPeer(t)
	b := newTestPeer(t)

	conn, err := a.Connect("127.0.0.1", b.Port())
	if err != nil {
		t.Fatal(err)
	}

	a.Stop()

	deadline := time.Now().Add(time.Second)
	for conn.IsConnected() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if conn.IsConnected() {
		t.Fatal("expected connection to be disconnected after Stop")
	}
}

func TestEnableDHTTwiceIsError(t *testing.T) {
	a := newTestPeer(t)
	if err := a.EnableDHT(); err != nil {
		t.Fatal(err)
	}
	if err := a.EnableDHT(); err == nil {
		t.Fatal("expected error enabling dht twice")
	}
}

func TestEnableDHTBeforeListenIsError(t *testing.T) {
	id, err := routing.RandomID()
	if err != nil {
		t.Fatal(err)
	}
	p := NewPeer(id, "127.0.0.1", 0, 0)
	if err := p.EnableDHT(); err == nil {
		t.Fatal("expected error enabling dht before the peer is listening")
	}
}
