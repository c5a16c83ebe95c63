package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func collect(t *testing.T, f *Framer, chunks ...[]byte) []Package {
	t.Helper()

	var got []Package
	for _, chunk := range chunks {
		err := f.Feed(chunk, func(p Package) error {
			got = append(got, p)
			return nil
		})
		if err != nil {
			t.Fatalf("Feed() error = %v", err)
		}
	}
	return got
}

// TestFramerEverySplit feeds one package split at every byte boundary.
func TestFramerEverySplit(t *testing.T) {
	t.Parallel()

	body := []byte(`{"code":200,"sys":{"heartbeat":10}}`)
	encoded, err := EncodePackage(PackageHandshake, body)
	if err != nil {
		t.Fatalf("EncodePackage() error = %v", err)
	}

	for split := 0; split <= len(encoded); split++ {
		f := NewFramer()
		got := collect(t, f, encoded[:split], encoded[split:])

		if len(got) != 1 {
			t.Fatalf("split %d: got %d packages, want 1", split, len(got))
		}
		if got[0].Type != PackageHandshake || !bytes.Equal(got[0].Body, body) {
			t.Errorf("split %d: got %s %q", split, got[0].Type, got[0].Body)
		}
		if f.Pending() != 0 {
			t.Errorf("split %d: pending = %d, want 0", split, f.Pending())
		}
	}
}

func TestFramerByteByByte(t *testing.T) {
	t.Parallel()

	encoded, _ := EncodePackage(PackageData, []byte("abcdef"))
	chunks := make([][]byte, len(encoded))
	for i := range encoded {
		chunks[i] = encoded[i : i+1]
	}

	got := collect(t, NewFramer(), chunks...)
	if len(got) != 1 || string(got[0].Body) != "abcdef" {
		t.Errorf("got %+v, want one data package", got)
	}
}

// TestFramerConcatenated checks that N packages in one read yield N packages in order.
func TestFramerConcatenated(t *testing.T) {
	t.Parallel()

	want := []Package{
		{Type: PackageHandshakeAck},
		{Type: PackageHeartbeat},
		{Type: PackageData, Body: []byte{1, 2, 3}},
		{Type: PackageHeartbeat},
		{Type: PackageKick, Body: []byte(`{"reason":"bye"}`)},
	}

	var stream []byte
	for _, p := range want {
		encoded, err := EncodePackage(p.Type, p.Body)
		if err != nil {
			t.Fatalf("EncodePackage() error = %v", err)
		}
		stream = append(stream, encoded...)
	}

	tests := []struct {
		name  string
		chunk int
	}{
		{name: "single read", chunk: len(stream)},
		{name: "three byte reads", chunk: 3},
		{name: "five byte reads", chunk: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var chunks [][]byte
			for i := 0; i < len(stream); i += tt.chunk {
				end := min(i+tt.chunk, len(stream))
				chunks = append(chunks, stream[i:end])
			}

			got := collect(t, NewFramer(), chunks...)
			if len(got) != len(want) {
				t.Fatalf("got %d packages, want %d", len(got), len(want))
			}
			for i := range want {
				if got[i].Type != want[i].Type || !bytes.Equal(got[i].Body, want[i].Body) {
					t.Errorf("package %d = %s %x, want %s %x", i, got[i].Type, got[i].Body, want[i].Type, want[i].Body)
				}
			}
		})
	}
}

func TestFramerInvalidType(t *testing.T) {
	t.Parallel()

	f := NewFramer()
	good, _ := EncodePackage(PackageHeartbeat, nil)
	stream := append(append([]byte{}, good...), 0x09, 0x00, 0x00, 0x01, 0xFF)

	emitted := 0
	err := f.Feed(stream, func(Package) error {
		emitted++
		return nil
	})

	var frameErr *FrameError
	if !errors.As(err, &frameErr) {
		t.Fatalf("Feed() error = %v, want *FrameError", err)
	}
	if !errors.Is(err, ErrInvalidPackageType) {
		t.Errorf("Feed() error does not match ErrInvalidPackageType")
	}
	if frameErr.Header != [HeaderSize]byte{0x09, 0x00, 0x00, 0x01} {
		t.Errorf("header = %x", frameErr.Header)
	}
	if emitted != 1 {
		t.Errorf("emitted = %d, want 1 package before the bad header", emitted)
	}

	if err := f.Feed(good, func(Package) error { return nil }); !errors.Is(err, ErrFramerBroken) {
		t.Errorf("Feed() after failure error = %v, want ErrFramerBroken", err)
	}
}

func TestFramerEmitErrorStops(t *testing.T) {
	t.Parallel()

	a, _ := EncodePackage(PackageHeartbeat, nil)
	b, _ := EncodePackage(PackageHeartbeat, nil)
	stop := errors.New("stop")

	calls := 0
	err := NewFramer().Feed(append(a, b...), func(Package) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Errorf("Feed() error = %v, want stop", err)
	}
	if calls != 1 {
		t.Errorf("emit calls = %d, want 1", calls)
	}
}

func TestFramerBodiesAreIndependent(t *testing.T) {
	t.Parallel()

	encoded, _ := EncodePackage(PackageData, []byte("keep"))
	got := collect(t, NewFramer(), encoded)
	for i := range encoded {
		encoded[i] = 0
	}
	if string(got[0].Body) != "keep" {
		t.Errorf("body = %q, want it unaffected by reuse of the read buffer", got[0].Body)
	}
}

func TestFramerMaxBody(t *testing.T) {
	t.Parallel()

	f := NewFramer()
	f.SetMaxBody(8)

	fits, _ := EncodePackage(PackageData, []byte("12345678"))
	if got := collect(t, f, fits); len(got) != 1 {
		t.Fatalf("got %d packages, want the 8 byte body accepted", len(got))
	}

	// Only the header of the oversized package is needed to reject it.
	err := f.Feed([]byte{byte(PackageData), 0xFF, 0xFF, 0xFF}, func(Package) error {
		t.Error("oversized package emitted")
		return nil
	})
	var frameErr *FrameError
	if !errors.As(err, &frameErr) {
		t.Fatalf("Feed() error = %v, want *FrameError", err)
	}
	if !errors.Is(err, ErrBodyTooLarge) || errors.Is(err, ErrInvalidPackageType) {
		t.Errorf("Feed() error = %v, want only ErrBodyTooLarge", err)
	}
	if f.Pending() != HeaderSize {
		t.Errorf("Pending() = %d, want no body buffered", f.Pending())
	}
	if err := f.Feed(fits, func(Package) error { return nil }); !errors.Is(err, ErrFramerBroken) {
		t.Errorf("Feed() after rejection error = %v, want ErrFramerBroken", err)
	}
}
