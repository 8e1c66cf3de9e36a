package bitstring

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"
	"math/bits"
)

// Bitstring is a fixed-length bit array. Bits are addressed MSB-first within
// each byte, matching the encoding used by published status list credentials.
type Bitstring struct {
	length int
	data   []byte
}

// New creates a Bitstring of the given length with all bits clear.
func New(length int) (*Bitstring, error) {
	if length <= 0 {
		return nil, fmt.Errorf("bitstring length must be positive, got %d", length)
	}
	return &Bitstring{
		length: length,
		data:   make([]byte, (length+7)/8),
	}, nil
}

// Len returns the number of bits in the bitstring.
func (b *Bitstring) Len() int {
	return b.length
}

// Get returns the bit at position i.
func (b *Bitstring) Get(i int) (bool, error) {
	if i < 0 || i >= b.length {
		return false, fmt.Errorf("bit position %d out of range [0, %d)", i, b.length)
	}
	return b.data[i/8]&(0x80>>(i%8)) != 0, nil
}

// Set sets the bit at position i to v.
func (b *Bitstring) Set(i int, v bool) error {
	if i < 0 || i >= b.length {
		return fmt.Errorf("bit position %d out of range [0, %d)", i, b.length)
	}
	if v {
		b.data[i/8] |= 0x80 >> (i % 8)
	} else {
		b.data[i/8] &^= 0x80 >> (i % 8)
	}
	return nil
}

// OnesCount returns the number of set bits.
func (b *Bitstring) OnesCount() int {
	count := 0
	for _, octet := range b.data {
		count += bits.OnesCount8(octet)
	}
	return count
}

// Encode compresses the bit array with gzip and returns it base64url-encoded
// without padding. The encoding is deterministic for a given bit pattern and
// length, so any reader can recompute derived counts from the stored string.
func (b *Bitstring) Encode() (string, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return "", fmt.Errorf("failed to create gzip writer: %w", err)
	}
	if _, err := zw.Write(b.data); err != nil {
		return "", fmt.Errorf("failed to compress bitstring: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("failed to finish compression: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode reverses Encode. The decoded length is the stored byte length times
// eight; callers tracking a shorter logical length ignore the padding bits,
// which Encode never sets.
func Decode(encoded string) (*Bitstring, error) {
	compressed, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode bitstring: %w", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress bitstring: %w", err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress bitstring: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("decoded bitstring is empty")
	}
	return &Bitstring{
		length: len(data) * 8,
		data:   data,
	}, nil
}
