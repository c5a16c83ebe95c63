package protocol

import (
	"errors"
	"fmt"
)

type framerState int

const (
	readingHead framerState = iota
	readingBody
	framerBroken
)

// ErrFramerBroken is returned by Feed after a fatal framing error.
var ErrFramerBroken = errors.New("framer stopped after protocol violation")

// FrameError reports an unacceptable package header seen on the stream.
// Header holds the raw four bytes for diagnostics. Reason is
// ErrInvalidPackageType or ErrBodyTooLarge.
type FrameError struct {
	Header [HeaderSize]byte
	Reason error
}

func (e *FrameError) Error() string {
	if errors.Is(e.Reason, ErrBodyTooLarge) {
		return fmt.Sprintf("package header %x declares a %d byte body", e.Header[:], uint24(e.Header[1:]))
	}
	return fmt.Sprintf("invalid package header %x", e.Header[:])
}

func (e *FrameError) Unwrap() error {
	if e.Reason == nil {
		return ErrInvalidPackageType
	}
	return e.Reason
}

// Framer reassembles packages from a byte stream delivered in arbitrary chunks.
// A Framer is not safe for concurrent use; each connection owns one.
type Framer struct {
	state   framerState
	head    [HeaderSize]byte
	headN   int
	pkgTyp  PackageType
	body    []byte
	bodyN   int
	maxBody int
}

// NewFramer returns a Framer waiting for a package header.
func NewFramer() *Framer {
	return &Framer{}
}

// SetMaxBody rejects headers declaring a body longer than n bytes.
// Zero or less accepts anything a 24-bit length can describe.
func (f *Framer) SetMaxBody(n int) {
	f.maxBody = n
}

// Feed consumes data and calls emit once for every completed package, in
// stream order. Emitted bodies are owned by the callee.
//
// An invalid type byte or an oversized body length returns a *FrameError and
// the framer refuses further input. An error returned by emit stops processing and is returned as is.
func (f *Framer) Feed(data []byte, emit func(Package) error) error {
	if f.state == framerBroken {
		return ErrFramerBroken
	}

	for len(data) > 0 || f.bodyComplete() {
		switch f.state {
		case readingHead:
			n := copy(f.head[f.headN:], data)
			f.headN += n
			data = data[n:]
			if f.headN < HeaderSize {
				return nil
			}

			t := PackageType(f.head[0])
			if !t.Valid() {
				f.state = framerBroken
				return &FrameError{Header: f.head, Reason: ErrInvalidPackageType}
			}
			length := uint24(f.head[1:])
			if f.maxBody > 0 && length > f.maxBody {
				f.state = framerBroken
				return &FrameError{Header: f.head, Reason: ErrBodyTooLarge}
			}
			f.pkgTyp = t
			f.body = make([]byte, length)
			f.bodyN = 0
			f.state = readingBody

		case readingBody:
			n := copy(f.body[f.bodyN:], data)
			f.bodyN += n
			data = data[n:]
			if f.bodyN < len(f.body) {
				return nil
			}

			pkg := Package{Type: f.pkgTyp, Body: f.body}
			f.reset()
			if err := emit(pkg); err != nil {
				return err
			}
		}
	}
	return nil
}

// Pending returns the number of buffered bytes belonging to an unfinished package.
func (f *Framer) Pending() int {
	if f.state == readingBody {
		return HeaderSize + f.bodyN
	}
	return f.headN
}

// bodyComplete reports a zero-length body that is ready to emit without more input.
func (f *Framer) bodyComplete() bool {
	return f.state == readingBody && f.bodyN == len(f.body)
}

func (f *Framer) reset() {
	f.state = readingHead
	f.headN = 0
	f.body = nil
	f.bodyN = 0
}
