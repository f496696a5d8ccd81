// Package codec compresses payloads and cuts them into fixed-size
// fragments for multipath delivery.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// ErrInvalidChunkSize is returned by Fragment for a non-positive size.
var ErrInvalidChunkSize = errors.New("invalid chunk size")

// DefaultChunkSize is the fragment size used by the transmission pipeline.
const DefaultChunkSize = 1024

// Compress encodes data as an LZ4 frame. Empty input compresses to an
// empty output.
func Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("lz4 write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4 close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress decodes an LZ4 frame produced by Compress.
func Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}
	out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("lz4 read: %w", err)
	}
	return out, nil
}

// Fragment splits data into ordered chunks of chunkSize bytes; the last
// chunk may be shorter. Chunks alias data. Empty input yields no chunks.
func Fragment(data []byte, chunkSize int) ([][]byte, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChunkSize, chunkSize)
	}
	out := make([][]byte, 0, (len(data)+chunkSize-1)/chunkSize)
	for off := 0; off < len(data); off += chunkSize {
		end := min(off+chunkSize, len(data))
		out = append(out, data[off:end:end])
	}
	return out, nil
}

// Reassemble concatenates fragments in order.
func Reassemble(fragments [][]byte) []byte {
	n := 0
	for _, f := range fragments {
		n += len(f)
	}
	out := make([]byte, 0, n)
	for _, f := range fragments {
		out = append(out, f...)
	}
	return out
}

// Checksum is the 32-bit wrapping sum of every byte.
func Checksum(data []byte) uint32 {
	var sum uint32
	for _, b := range data {
		sum += uint32(b)
	}
	return sum
}

// XORParity returns a XOR b over the shorter of the two lengths.
func XORParity(a, b []byte) []byte {
	n := min(len(a), len(b))
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = a[i] ^ b[i]
	}
	return out
}
