package codec

import (
	"bytes"
	"errors"
	"testing"
)

func TestCompressRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("constellation telemetry "), 500)
	c, err := Compress(data)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if len(c) >= len(data) {
		t.Fatalf("compressed %d bytes to %d, want smaller", len(data), len(c))
	}
	d, err := Decompress(c)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(d, data) {
		t.Fatalf("round trip mismatch")
	}
}

func TestCompressEmpty(t *testing.T) {
	c, err := Compress(nil)
	if err != nil {
		t.Fatalf("Compress(nil): %v", err)
	}
	d, err := Decompress(c)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if len(d) != 0 {
		t.Fatalf("len = %d, want 0", len(d))
	}
}

func TestDecompressGarbage(t *testing.T) {
	if _, err := Decompress([]byte("not an lz4 frame")); err == nil {
		t.Fatalf("Decompress(garbage) succeeded")
	}
}

func TestFragment(t *testing.T) {
	data := make([]byte, 2500)
	for i := range data {
		data[i] = byte(i)
	}
	frags, err := Fragment(data, 1024)
	if err != nil {
		t.Fatalf("Fragment: %v", err)
	}
	if len(frags) != 3 {
		t.Fatalf("len(frags) = %d, want 3", len(frags))
	}
	if len(frags[0]) != 1024 || len(frags[2]) != 452 {
		t.Fatalf("sizes = %d/%d/%d", len(frags[0]), len(frags[1]), len(frags[2]))
	}
	if !bytes.Equal(Reassemble(frags), data) {
		t.Fatalf("Reassemble mismatch")
	}

	frags, err = Fragment(nil, 1024)
	if err != nil || len(frags) != 0 {
		t.Fatalf("Fragment(nil) = %d, %v", len(frags), err)
	}
	if _, err := Fragment(data, 0); !errors.Is(err, ErrInvalidChunkSize) {
		t.Fatalf("err = %v, want ErrInvalidChunkSize", err)
	}
}

func TestChecksumAndParity(t *testing.T) {
	if got := Checksum([]byte{1, 2, 3, 250}); got != 256 {
		t.Fatalf("Checksum = %d, want 256", got)
	}
	p := XORParity([]byte{0xff, 0x0f, 0xaa}, []byte{0x0f, 0x0f})
	if !bytes.Equal(p, []byte{0xf0, 0x00}) {
		t.Fatalf("XORParity = %x", p)
	}
}
