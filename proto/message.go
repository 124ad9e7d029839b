// Package proto implements the wire framing and Connection type that carries
// typed messages between peers, adapting the teacher's proto.Message /
// proto.Client (proto/message.go, proto/client.go) from a msgpack+gzip
// application codec into the plain type-tag/length-prefix framing this spec
// requires.
package proto

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/TheoBaudoinLighting/kadmesh/common"
)

// Type is the one-byte message type tag.
type Type byte

const (
	Handshake  Type = 0
	Data       Type = 1
	Ping       Type = 2
	Pong       Type = 3
	Disconnect Type = 4

	DHTFindNode       Type = 10
	DHTFindNodeReply  Type = 11
	DHTFindValue      Type = 12
	DHTFindValueReply Type = 13
	DHTStore          Type = 14
	DHTStoreReply     Type = 15
)

// knownTypes lists every defined tag; anything else is rejected on decode.
var knownTypes = map[Type]bool{
	Handshake: true, Data: true, Ping: true, Pong: true, Disconnect: true,
	DHTFindNode: true, DHTFindNodeReply: true,
	DHTFindValue: true, DHTFindValueReply: true,
	DHTStore: true, DHTStoreReply: true,
}

// IsDHT reports whether t is one of the six DHT_* control tags.
func (t Type) IsDHT() bool {
	return t >= DHTFindNode && t <= DHTStoreReply
}

func (t Type) String() string {
	switch t {
	case Handshake:
		return "HANDSHAKE"
	case Data:
		return "DATA"
	case Ping:
		return "PING"
	case Pong:
		return "PONG"
	case Disconnect:
		return "DISCONNECT"
	case DHTFindNode:
		return "DHT_FIND_NODE"
	case DHTFindNodeReply:
		return "DHT_FIND_NODE_REPLY"
	case DHTFindValue:
		return "DHT_FIND_VALUE"
	case DHTFindValueReply:
		return "DHT_FIND_VALUE_REPLY"
	case DHTStore:
		return "DHT_STORE"
	case DHTStoreReply:
		return "DHT_STORE_REPLY"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", byte(t))
	}
}

// Message is a type-tagged, length-prefixed frame: one byte of type, a
// little-endian uint32 body length, then the body itself.
type Message struct {
	Type Type
	Body []byte
}

// NewMessage builds a Message, validating the body length eagerly so
// Serialize never fails on a Message built through this constructor.
func NewMessage(t Type, body []byte) (*Message, error) {
	if len(body) > common.MaxBodySize {
		return nil, fmt.Errorf("body of %d bytes exceeds max %d: %w", len(body), common.MaxBodySize, common.ErrTooLarge)
	}
	return &Message{Type: t, Body: body}, nil
}

// Serialize encodes m as HEADER (5 bytes: tag + little-endian u32 length)
// followed by the body.
func (m *Message) Serialize() ([]byte, error) {
	if len(m.Body) > common.MaxBodySize {
		return nil, fmt.Errorf("body of %d bytes exceeds max %d: %w", len(m.Body), common.MaxBodySize, common.ErrTooLarge)
	}
	buf := make([]byte, common.HeaderSize+len(m.Body))
	buf[0] = byte(m.Type)
	binary.LittleEndian.PutUint32(buf[1:common.HeaderSize], uint32(len(m.Body)))
	copy(buf[common.HeaderSize:], m.Body)
	return buf, nil
}

// DecodeHeader parses the 5-byte frame header, returning the type tag and
// declared body length. It fails with ErrShortBuffer if header is shorter
// than HeaderSize, ErrUnknownType if the tag is undefined, and ErrTooLarge if
// the declared length exceeds MaxBodySize.
func DecodeHeader(header []byte) (Type, uint32, error) {
	if len(header) < common.HeaderSize {
		return 0, 0, fmt.Errorf("header is %d bytes, need %d: %w", len(header), common.HeaderSize, common.ErrShortBuffer)
	}
	t := Type(header[0])
	if !knownTypes[t] {
		return 0, 0, fmt.Errorf("tag %d is not a defined message type: %w", header[0], common.ErrUnknownType)
	}
	n := binary.LittleEndian.Uint32(header[1:common.HeaderSize])
	if n > common.MaxBodySize {
		return t, n, fmt.Errorf("declared body length %d exceeds max %d: %w", n, common.MaxBodySize, common.ErrTooLarge)
	}
	return t, n, nil
}

// Deserialize reads a full frame (header then body) from r. A Connection's
// read loop calls it directly on its socket.
func Deserialize(r io.Reader) (*Message, error) {
	header := make([]byte, common.HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	t, n, err := DecodeHeader(header)
	if err != nil {
		return nil, err
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &Message{Type: t, Body: body}, nil
}
