package vaultstream

import (
	"fmt"
	"io"
)

// FingerprintSampleSize is the width of the head and tail samples hashed
// into the resume fingerprint.
const FingerprintSampleSize = 64 * 1024

// SourceFingerprint computes the resume fingerprint of a source: a hash over
// its first FingerprintSampleSize bytes, its last FingerprintSampleSize
// bytes when the source is larger than twice the sample, and the declared
// total size.
//
// Two sources with the same fingerprint are treated as identical for resume
// purposes. This is a deliberate trade-off, not a cryptographic guarantee of
// full-content equality: hashing 50 GB to resume an import would cost more
// than the resume saves. The sample buffers are wiped before returning.
func SourceFingerprint(engine Engine, src io.ReaderAt, totalSize int64) ([]byte, error) {
	if engine == nil {
		return nil, ErrNilEngine
	}
	if src == nil {
		return nil, NewValidationError("src", nil, "source cannot be nil")
	}
	if totalSize < 0 {
		return nil, NewValidationError("totalSize", totalSize, "cannot be negative")
	}

	headLen := int64(FingerprintSampleSize)
	if totalSize < headLen {
		headLen = totalSize
	}
	head := make([]byte, headLen)
	if err := readFullAt(src, head, 0); err != nil {
		return nil, fmt.Errorf("reading head sample: %w", err)
	}
	defer Wipe(head)

	var tail []byte
	if totalSize > 2*FingerprintSampleSize {
		tail = make([]byte, FingerprintSampleSize)
		if err := readFullAt(src, tail, totalSize-FingerprintSampleSize); err != nil {
			Wipe(head)
			return nil, fmt.Errorf("reading tail sample: %w", err)
		}
		defer Wipe(tail)
	}

	return engine.Fingerprint(head, tail, totalSize), nil
}

// readFullAt reads exactly len(p) bytes at off, tolerating the io.EOF a
// ReaderAt may return alongside a complete final read.
func readFullAt(src io.ReaderAt, p []byte, off int64) error {
	if len(p) == 0 {
		return nil
	}
	n, err := src.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return err
}
