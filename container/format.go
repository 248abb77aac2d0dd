package container

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Chunk blob layout:
//
//	┌──────────────────────────────┐
//	│ Magic "VSC1" (4 bytes)       │
//	│ Version (1 byte)             │
//	│ Plaintext size (uint32 LE)   │
//	│ Nonce size (uint16 LE)       │
//	│ Nonce (variable)             │
//	├──────────────────────────────┤
//	│ Ciphertext + auth tag        │
//	└──────────────────────────────┘

const (
	chunkMagic   = "VSC1"
	chunkVersion = 1

	// maxChunkPlaintext bounds the plaintext size field when reading, so a
	// corrupted header cannot drive a huge allocation.
	maxChunkPlaintext = 64 * 1024 * 1024

	maxNonceSize = 255
)

// chunkHeader is the per-blob metadata preceding the ciphertext.
type chunkHeader struct {
	PlaintextSize uint32
	Nonce         []byte
}

// WriteTo writes the header to w.
func (h *chunkHeader) WriteTo(w io.Writer) (int64, error) {
	buf := new(bytes.Buffer)
	buf.WriteString(chunkMagic)
	buf.WriteByte(chunkVersion)
	if err := binary.Write(buf, binary.LittleEndian, h.PlaintextSize); err != nil {
		return 0, fmt.Errorf("writing plaintext size: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, uint16(len(h.Nonce))); err != nil {
		return 0, fmt.Errorf("writing nonce size: %w", err)
	}
	buf.Write(h.Nonce)

	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

// ReadFrom reads and validates the header from r.
func (h *chunkHeader) ReadFrom(r io.Reader) (int64, error) {
	var total int64

	magic := make([]byte, 4)
	n, err := io.ReadFull(r, magic)
	total += int64(n)
	if err != nil {
		return total, fmt.Errorf("reading magic: %w", err)
	}
	if string(magic) != chunkMagic {
		return total, fmt.Errorf("invalid chunk magic %q", magic)
	}

	version := make([]byte, 1)
	n, err = io.ReadFull(r, version)
	total += int64(n)
	if err != nil {
		return total, fmt.Errorf("reading version: %w", err)
	}
	if version[0] != chunkVersion {
		return total, fmt.Errorf("unsupported chunk version %d", version[0])
	}

	fixed := make([]byte, 6)
	n, err = io.ReadFull(r, fixed)
	total += int64(n)
	if err != nil {
		return total, fmt.Errorf("reading sizes: %w", err)
	}
	h.PlaintextSize = binary.LittleEndian.Uint32(fixed[0:4])
	nonceSize := binary.LittleEndian.Uint16(fixed[4:6])
	if h.PlaintextSize > maxChunkPlaintext {
		return total, fmt.Errorf("plaintext size %d exceeds maximum %d", h.PlaintextSize, maxChunkPlaintext)
	}
	if nonceSize == 0 || nonceSize > maxNonceSize {
		return total, fmt.Errorf("invalid nonce size %d", nonceSize)
	}

	h.Nonce = make([]byte, nonceSize)
	n, err = io.ReadFull(r, h.Nonce)
	total += int64(n)
	if err != nil {
		return total, fmt.Errorf("reading nonce: %w", err)
	}
	return total, nil
}

// size returns the encoded header length.
func (h *chunkHeader) size() int64 {
	return int64(4 + 1 + 4 + 2 + len(h.Nonce))
}
