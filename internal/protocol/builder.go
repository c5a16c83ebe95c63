package protocol

import (
	"bytes"
	"encoding/binary"
)

// Builder accumulates the fields of a Message body.
type Builder struct {
	buf bytes.Buffer
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// WriteByte writes a single byte.
func (b *Builder) WriteByte(v byte) *Builder {
	b.buf.WriteByte(v)
	return b
}

// WriteUint16 writes a uint16 in big-endian order.
func (b *Builder) WriteUint16(v uint16) *Builder {
	binary.Write(&b.buf, binary.BigEndian, v)
	return b
}

// WriteUvarint writes v in base 128, least significant group first.
// Every byte except the last has its high bit set.
func (b *Builder) WriteUvarint(v uint32) *Builder {
	for {
		group := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			b.buf.WriteByte(group | 0x80)
			continue
		}
		b.buf.WriteByte(group)
		return b
	}
}

// WriteShortString writes a 1-byte length followed by the string bytes.
// Callers must ensure len(s) <= 255.
func (b *Builder) WriteShortString(s string) *Builder {
	b.buf.WriteByte(byte(len(s)))
	b.buf.WriteString(s)
	return b
}

// WriteBytes writes raw bytes.
func (b *Builder) WriteBytes(data []byte) *Builder {
	b.buf.Write(data)
	return b
}

// Build returns the accumulated bytes.
func (b *Builder) Build() []byte {
	return b.buf.Bytes()
}
