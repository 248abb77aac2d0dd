package vaultstream

import (
	"context"
	"time"
)

// FileHandle identifies a file stored in the container. It is issued by the
// engine and treated as opaque, immutable session state by the readers.
type FileHandle struct {
	// ID is the engine-assigned identifier of the stored file.
	ID string

	// Name is the display name recorded at import time.
	Name string

	// Size is the declared total plaintext size in bytes.
	Size int64

	// ChunkCount is the declared number of chunks in the container.
	ChunkCount uint32
}

// ImportState is the persisted state of one in-progress streaming import.
// CommittedChunks is the sole resume cursor: it only ever increases, and only
// after the corresponding chunk has been durably encrypted.
type ImportState struct {
	ID              string
	TargetName      string
	Fingerprint     []byte
	TotalBytes      int64
	ChunkSize       int64
	TotalChunks     uint32
	CommittedChunks uint32
	StartedAt       time.Time
}

// Progress is the per-chunk progress signal emitted by an import pipeline.
// All fields are monotonically non-decreasing within a session.
type Progress struct {
	BytesWritten    int64
	TotalBytes      int64
	ChunksCompleted uint32
	TotalChunks     uint32
}

// ProgressFunc receives progress updates during a streaming import.
// Implementations should be efficient as this is called after every chunk.
type ProgressFunc func(Progress)

// Engine is the cryptographic/storage capability the access layer is built
// on. Implementations own the cipher, the key hierarchy and the on-disk
// container layout; the core only sees decrypted chunk payloads and opaque
// session persistence.
//
// DecryptChunk returns a freshly allocated plaintext slice; ownership
// transfers to the caller, which is responsible for wiping it. EncryptChunk
// transfers no ownership: the engine must not retain the plaintext slice
// after returning, and the caller wipes its own copy regardless of outcome.
type Engine interface {
	// DecryptChunk loads and decrypts one chunk of a stored file.
	DecryptChunk(ctx context.Context, handle FileHandle, index uint32) ([]byte, error)

	// EncryptChunk durably encrypts one chunk of an in-progress import and
	// advances the session's committed chunk count.
	EncryptChunk(ctx context.Context, importID string, index uint32, plaintext []byte) error

	// Fingerprint computes the resume fingerprint over a head sample, an
	// optional tail sample and the declared total size.
	Fingerprint(head, tail []byte, totalSize int64) []byte

	// StartImport persists a fresh import session.
	StartImport(ctx context.Context, state ImportState) error

	// GetImportState returns the persisted state of an import session.
	GetImportState(ctx context.Context, importID string) (ImportState, error)

	// PendingImports lists all persisted, unfinished import sessions.
	PendingImports(ctx context.Context) ([]ImportState, error)

	// FinishImport finalizes a fully committed import and returns the handle
	// of the new file.
	FinishImport(ctx context.Context, importID string) (FileHandle, error)

	// AbortImport releases a session and securely removes its partial chunk
	// data.
	AbortImport(ctx context.Context, importID string) error
}
