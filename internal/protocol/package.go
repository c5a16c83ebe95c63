// Package protocol implements the binary wire format spoken between serpent
// servers and clients: the outer Package envelope, the Message envelope
// carried inside Data packages, the incremental stream framer, and the JSON
// handshake payloads. All multi-byte header fields are big-endian.
package protocol

import (
	"errors"
	"fmt"
)

// PackageType identifies the kind of protocol unit carried by a Package.
type PackageType byte

// Package types on the wire.
const (
	PackageHandshake    PackageType = 1 // Connection negotiation
	PackageHandshakeAck PackageType = 2 // Handshake acknowledgement
	PackageHeartbeat    PackageType = 3 // Liveness probe
	PackageData         PackageType = 4 // Carries an encoded Message
	PackageKick         PackageType = 5 // Forced disconnect
)

// HeaderSize is the size of the package header: type byte plus 24-bit length.
const HeaderSize = 4

// MaxBodyLength is the largest body a 24-bit length field can describe.
const MaxBodyLength = 1<<24 - 1

var (
	// ErrIncomplete means the buffer does not yet hold a whole package.
	// It is not a protocol failure: the caller should read more bytes.
	ErrIncomplete = errors.New("incomplete package")

	// ErrInvalidPackageType means the type byte is not one of the five known values.
	ErrInvalidPackageType = errors.New("invalid package type")

	// ErrBodyTooLarge means the body cannot be described by a 24-bit length.
	ErrBodyTooLarge = errors.New("package body too large")
)

var packageTypeNames = map[PackageType]string{
	PackageHandshake:    "handshake",
	PackageHandshakeAck: "handshake_ack",
	PackageHeartbeat:    "heartbeat",
	PackageData:         "data",
	PackageKick:         "kick",
}

// Valid reports whether t is one of the known package types.
func (t PackageType) Valid() bool {
	_, ok := packageTypeNames[t]
	return ok
}

// String returns the lowercase name of the package type.
func (t PackageType) String() string {
	if name, ok := packageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(0x%02X)", byte(t))
}

// Package is one framed protocol unit.
type Package struct {
	Type PackageType
	Body []byte
}

// Length returns the body length as carried in the header.
func (p Package) Length() int {
	return len(p.Body)
}

// EncodePackage frames body as a package of the given type.
// Format: [type:1][length:3 BE][body...]
func EncodePackage(t PackageType, body []byte) ([]byte, error) {
	if len(body) > MaxBodyLength {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrBodyTooLarge, len(body), MaxBodyLength)
	}

	out := make([]byte, HeaderSize+len(body))
	out[0] = byte(t)
	putUint24(out[1:HeaderSize], len(body))
	copy(out[HeaderSize:], body)
	return out, nil
}

// DecodePackage decodes the first package in buf and returns it together with
// the number of bytes it occupied. It returns ErrIncomplete when buf is shorter
// than the header or the declared body, and ErrInvalidPackageType when the type
// byte is unknown; the latter is fatal for the connection.
//
// The returned body aliases buf.
func DecodePackage(buf []byte) (Package, int, error) {
	if len(buf) < HeaderSize {
		return Package{}, 0, ErrIncomplete
	}

	t := PackageType(buf[0])
	if !t.Valid() {
		return Package{}, 0, fmt.Errorf("%w: 0x%02X", ErrInvalidPackageType, buf[0])
	}

	length := uint24(buf[1:HeaderSize])
	total := HeaderSize + length
	if len(buf) < total {
		return Package{}, 0, ErrIncomplete
	}

	return Package{Type: t, Body: buf[HeaderSize:total]}, total, nil
}

func putUint24(b []byte, v int) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func uint24(b []byte) int {
	return int(b[0])<<16 | int(b[1])<<8 | int(b[2])
}
