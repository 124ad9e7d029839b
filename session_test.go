package kadmesh

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/TheoBaudoinLighting/kadmesh/proto"
)

func TestSessionAddAssignsID(t *testing.T) {
	s := NewSession(nil)

	client, server := net.Pipe()
	defer client.Close()
	conn := proto.NewConnection(server)
	id := s.Add(conn, "test-addr")

	if s.Count() != 1 {
		t.Fatalf("count = %d, want 1", s.Count())
	}
	if _, ok := s.GetByAddress("test-addr"); !ok {
		t.Fatal("expected connection reachable by address")
	}
	if got, ok := s.Get(id); !ok || got != conn {
		t.Fatal("expected connection reachable by its assigned id")
	}

	header := make([]byte, 5)
	client.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := readFull(client, header); err != nil {
		t.Fatalf("expected a welcome handshake frame: %v", err)
	}
	bodyLen := int(header[1]) | int(header[2])<<8 | int(header[3])<<16 | int(header[4])<<24
	body := make([]byte, bodyLen)
	if _, err := readFull(client, body); err != nil {
		t.Fatal(err)
	}
	want := fmt.Sprintf("Welcome! Your connection ID is %d", id)
	if string(body) != want {
		t.Fatalf("welcome body = %q, want %q", body, want)
	}
}

func TestSessionRemoveOnDisconnect(t *testing.T) {
	s := NewSession(nil)

	client, server := net.Pipe()
	defer client.Close()
	conn := proto.NewConnection(server)
	s.Add(conn, "test-addr")

	conn.Disconnect()

	deadline := time.Now().Add(time.Second)
	for s.Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Count() != 0 {
		t.Fatalf("count = %d after disconnect, want 0", s.Count())
	}
}

func TestSessionBroadcast(t *testing.T) {
	s := NewSession(nil)

	client1, server1 := net.Pipe()
	client2, server2 := net.Pipe()
	defer client1.Close()
	defer client2.Close()

	s.Add(proto.NewConnection(server1), "addr1")
	s.Add(proto.NewConnection(server2), "addr2")

	drainWelcome(t, client1)
	drainWelcome(t, client2)
	drainWelcome(t, client1) // join notice for peer 2

	msg, _ := proto.NewMessage(proto.Data, []byte("hi"))
	s.Broadcast(msg)

	for _, c := range []net.Conn{client1, client2} {
		header := make([]byte, 5)
		c.SetReadDeadline(time.Now().Add(time.Second))
		if _, err := readFull(c, header); err != nil {
			t.Fatalf("expected broadcast frame, got error: %v", err)
		}
	}
}

// TestDataFanoutExcludesSender covers S3: three peers connected through one
// session, a DATA frame from the second is relayed to the third prefixed
// with the sender's id, and never echoed back to the sender.
func TestDataFanoutExcludesSender(t *testing.T) {
	s := NewSession(nil)

	clientA, serverA := net.Pipe()
	clientB, serverB := net.Pipe()
	clientC, serverC := net.Pipe()
	defer clientA.Close()
	defer clientB.Close()
	defer clientC.Close()

	s.Add(proto.NewConnection(serverA), "a")
	idB := s.Add(proto.NewConnection(serverB), "b")
	s.Add(proto.NewConnection(serverC), "c")

	drainWelcome(t, clientA)
	drainWelcome(t, clientB)
	drainWelcome(t, clientC)
	drainWelcome(t, clientA) // join: b
	drainWelcome(t, clientA) // join: c
	drainWelcome(t, clientB) // join: c

	msg, _ := proto.NewMessage(proto.Data, []byte("hello"))
	frame, _ := msg.Serialize()
	go clientB.Write(frame)

	got := readMessage(t, clientC)
	want := fmt.Sprintf("Peer %d says: hello", idB)
	if string(got.Body) != want {
		t.Fatalf("C received %q, want %q", got.Body, want)
	}

	clientB.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	header := make([]byte, 5)
	if _, err := readFull(clientB, header); err == nil {
		t.Fatal("sender B must not receive the forwarded copy")
	}
}

func drainWelcome(t *testing.T, c net.Conn) {
	t.Helper()
	readMessage(t, c)
}

func readMessage(t *testing.T, c net.Conn) *proto.Message {
	t.Helper()
	header := make([]byte, 5)
	c.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := readFull(c, header); err != nil {
		t.Fatalf("read header: %v", err)
	}
	bodyLen := int(header[1]) | int(header[2])<<8 | int(header[3])<<16 | int(header[4])<<24
	body := make([]byte, bodyLen)
	if bodyLen > 0 {
		if _, err := readFull(c, body); err != nil {
			t.Fatalf("read body: %v", err)
		}
	}
	return &proto.Message{Type: proto.Type(header[0]), Body: body}
}

func readFull(c net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
