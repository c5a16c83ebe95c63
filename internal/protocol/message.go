package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MessageType is the application-level kind of a Message.
type MessageType byte

// Message types, stored in bits 1-3 of the flag byte.
const (
	MessageRequest  MessageType = 0
	MessageNotify   MessageType = 1
	MessageResponse MessageType = 2
	MessagePush     MessageType = 3
)

// Flag byte layout.
const (
	flagCompressRoute byte = 0x01
	flagCompressGzip  byte = 0x10
	flagTypeShift          = 1
	flagTypeMask      byte = 0x07
)

// MaxRouteLength is the longest uncompressed route a 1-byte prefix can carry.
const MaxRouteLength = 255

// maxIDBytes bounds the varint id to what fits in a uint32.
const maxIDBytes = 5

var (
	// ErrTruncated means the message ended before a required field.
	ErrTruncated = errors.New("message truncated")

	// ErrInvalidMessageType means the flag byte carries an unknown type.
	ErrInvalidMessageType = errors.New("invalid message type")

	// ErrRouteTooLong means an uncompressed route exceeds MaxRouteLength bytes.
	ErrRouteTooLong = errors.New("route too long")

	// ErrIDOverflow means the varint id does not fit in 32 bits.
	ErrIDOverflow = errors.New("message id overflows uint32")
)

var messageTypeNames = map[MessageType]string{
	MessageRequest:  "request",
	MessageNotify:   "notify",
	MessageResponse: "response",
	MessagePush:     "push",
}

// String returns the lowercase name of the message type.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", byte(t))
}

// HasID reports whether messages of this type carry a correlation id.
func (t MessageType) HasID() bool {
	return t == MessageRequest || t == MessageResponse
}

// HasRoute reports whether messages of this type carry a route.
func (t MessageType) HasRoute() bool {
	return t == MessageRequest || t == MessageNotify || t == MessagePush
}

// Message is the envelope carried in the body of a Data package.
//
// When CompressRoute is set the route travels as RouteCode and Route is only
// meaningful after the receiver resolves the code through its RouteDict.
type Message struct {
	ID            uint32
	Type          MessageType
	CompressRoute bool
	Route         string
	RouteCode     uint16
	Body          []byte
	CompressGzip  bool
}

// EncodeMessage serializes m.
// Format: [flag:1][id:varint, request/response only][route, request/notify/push only][body...]
func EncodeMessage(m Message) ([]byte, error) {
	if _, ok := messageTypeNames[m.Type]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMessageType, m.Type)
	}
	if m.Type.HasRoute() && !m.CompressRoute && len(m.Route) > MaxRouteLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrRouteTooLong, len(m.Route))
	}

	flag := byte(m.Type) << flagTypeShift
	if m.CompressRoute {
		flag |= flagCompressRoute
	}
	if m.CompressGzip {
		flag |= flagCompressGzip
	}

	b := NewBuilder()
	b.WriteByte(flag)

	if m.Type.HasID() {
		b.WriteUvarint(m.ID)
	}

	if m.Type.HasRoute() {
		if m.CompressRoute {
			b.WriteUint16(m.RouteCode)
		} else {
			b.WriteShortString(m.Route)
		}
	}

	b.WriteBytes(m.Body)
	return b.Build(), nil
}

// DecodeMessage parses a Message from the body of a Data package.
// Truncated input is an error; the caller should close the connection.
// The returned body aliases data.
func DecodeMessage(data []byte) (Message, error) {
	r := bytes.NewReader(data)

	flag, err := r.ReadByte()
	if err != nil {
		return Message{}, fmt.Errorf("%w: missing flag", ErrTruncated)
	}

	m := Message{
		Type:          MessageType((flag >> flagTypeShift) & flagTypeMask),
		CompressRoute: flag&flagCompressRoute != 0,
		CompressGzip:  flag&flagCompressGzip != 0,
	}
	if _, ok := messageTypeNames[m.Type]; !ok {
		return Message{}, fmt.Errorf("%w: %d", ErrInvalidMessageType, m.Type)
	}

	if m.Type.HasID() {
		if m.ID, err = readUvarint(r); err != nil {
			return Message{}, err
		}
	}

	if m.Type.HasRoute() {
		if m.CompressRoute {
			if err := binary.Read(r, binary.BigEndian, &m.RouteCode); err != nil {
				return Message{}, fmt.Errorf("%w: route code", ErrTruncated)
			}
		} else {
			if m.Route, err = readShortString(r); err != nil {
				return Message{}, err
			}
		}
	}

	if rest := r.Len(); rest > 0 {
		m.Body = data[len(data)-rest:]
	}
	return m, nil
}

// readUvarint reads a base-128 id, stopping at the first byte with a clear high bit.
func readUvarint(r *bytes.Reader) (uint32, error) {
	var v uint64
	for i := 0; ; i++ {
		if i == maxIDBytes {
			return 0, ErrIDOverflow
		}
		c, err := r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("%w: id", ErrTruncated)
		}
		v |= uint64(c&0x7F) << (7 * i)
		if c&0x80 == 0 {
			break
		}
	}
	if v > 0xFFFFFFFF {
		return 0, ErrIDOverflow
	}
	return uint32(v), nil
}

func readShortString(r *bytes.Reader) (string, error) {
	length, err := r.ReadByte()
	if err != nil {
		return "", fmt.Errorf("%w: route length", ErrTruncated)
	}
	if length == 0 {
		return "", nil
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("%w: route", ErrTruncated)
	}
	return string(buf), nil
}
