package protocol

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

// TestMessageRoundTrip covers every message type, both route encodings and the
// varint group boundaries of the id.
func TestMessageRoundTrip(t *testing.T) {
	t.Parallel()

	types := []MessageType{MessageRequest, MessageNotify, MessageResponse, MessagePush}
	ids := []uint32{0, 1, 127, 128, 16384}
	body := []byte(`{"data":"hello"}`)

	for _, typ := range types {
		for _, compress := range []bool{false, true} {
			for _, id := range ids {
				in := Message{Type: typ, CompressRoute: compress, Body: body}
				if typ.HasID() {
					in.ID = id
				}
				if typ.HasRoute() {
					if compress {
						in.RouteCode = 513
					} else {
						in.Route = "connector.entryHandler.hello"
					}
				}

				encoded, err := EncodeMessage(in)
				if err != nil {
					t.Fatalf("EncodeMessage(%+v) error = %v", in, err)
				}
				out, err := DecodeMessage(encoded)
				if err != nil {
					t.Fatalf("DecodeMessage() error = %v", err)
				}

				if out.Type != in.Type || out.ID != in.ID || out.CompressRoute != in.CompressRoute ||
					out.Route != in.Route || out.RouteCode != in.RouteCode || !bytes.Equal(out.Body, in.Body) {
					t.Errorf("round trip mismatch: in %+v, out %+v", in, out)
				}
			}
		}
	}
}

func TestEncodeMessageLayout(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  Message
		want []byte
	}{
		{
			name: "request with two byte id",
			msg:  Message{ID: 128, Type: MessageRequest, Route: "a.b", Body: []byte("x")},
			want: []byte{0x00, 0x80, 0x01, 0x03, 'a', '.', 'b', 'x'},
		},
		{
			name: "notify with compressed route",
			msg:  Message{Type: MessageNotify, CompressRoute: true, RouteCode: 0x0102},
			want: []byte{0x03, 0x01, 0x02},
		},
		{
			name: "response has no route",
			msg:  Message{ID: 5, Type: MessageResponse, Route: "ignored", Body: []byte("ok")},
			want: []byte{0x04, 0x05, 'o', 'k'},
		},
		{
			name: "push has no id",
			msg:  Message{ID: 9, Type: MessagePush, Route: "s"},
			want: []byte{0x06, 0x01, 's'},
		},
		{
			name: "gzip bit preserved",
			msg:  Message{Type: MessagePush, Route: "s", CompressGzip: true},
			want: []byte{0x16, 0x01, 's'},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := EncodeMessage(tt.msg)
			if err != nil {
				t.Fatalf("EncodeMessage() error = %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("EncodeMessage() = %x, want %x", got, tt.want)
			}
		})
	}
}

func TestEncodeMessageErrors(t *testing.T) {
	t.Parallel()

	_, err := EncodeMessage(Message{Type: MessageNotify, Route: strings.Repeat("r", MaxRouteLength+1)})
	if !errors.Is(err, ErrRouteTooLong) {
		t.Errorf("long route error = %v, want ErrRouteTooLong", err)
	}

	if _, err := EncodeMessage(Message{Type: MessageNotify, Route: strings.Repeat("r", MaxRouteLength)}); err != nil {
		t.Errorf("route of %d bytes error = %v", MaxRouteLength, err)
	}

	_, err = EncodeMessage(Message{Type: MessageType(5)})
	if !errors.Is(err, ErrInvalidMessageType) {
		t.Errorf("bad type error = %v, want ErrInvalidMessageType", err)
	}
}

func TestDecodeMessageErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   []byte
		wantErr error
	}{
		{name: "empty", input: nil, wantErr: ErrTruncated},
		{name: "unknown type", input: []byte{0x0A}, wantErr: ErrInvalidMessageType},
		{name: "id missing", input: []byte{0x00}, wantErr: ErrTruncated},
		{name: "id unterminated", input: []byte{0x00, 0x80, 0x80}, wantErr: ErrTruncated},
		{name: "id overflow", input: []byte{0x04, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x01}, wantErr: ErrIDOverflow},
		{name: "route length missing", input: []byte{0x02}, wantErr: ErrTruncated},
		{name: "route short", input: []byte{0x02, 0x05, 'a', 'b'}, wantErr: ErrTruncated},
		{name: "route code short", input: []byte{0x03, 0x01}, wantErr: ErrTruncated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if _, err := DecodeMessage(tt.input); !errors.Is(err, tt.wantErr) {
				t.Errorf("DecodeMessage(%x) error = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestDecodeMessageEmptyBody(t *testing.T) {
	t.Parallel()

	m, err := DecodeMessage([]byte{0x02, 0x00})
	if err != nil {
		t.Fatalf("DecodeMessage() error = %v", err)
	}
	if m.Type != MessageNotify || m.Route != "" || len(m.Body) != 0 {
		t.Errorf("DecodeMessage() = %+v, want empty notify", m)
	}
}
