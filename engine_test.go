package vaultstream

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

// testEngine is an in-memory Engine for tests. It stores chunk plaintexts
// directly, counts decrypt calls, and supports failure injection and
// artificial decrypt latency.
type testEngine struct {
	mu           sync.Mutex
	files        map[string][][]byte
	imports      map[string]*testImport
	decryptCalls map[uint32]int
	totalCalls   int
	decryptErr   func(index uint32, call int) error
	decryptDelay time.Duration
}

type testImport struct {
	state  ImportState
	chunks [][]byte
}

func newTestEngine() *testEngine {
	return &testEngine{
		files:        make(map[string][][]byte),
		imports:      make(map[string]*testImport),
		decryptCalls: make(map[uint32]int),
	}
}

// addFile splits data into chunkSize chunks and registers them under a new
// handle.
func (e *testEngine) addFile(id string, data []byte, chunkSize int64) FileHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	var chunks [][]byte
	for off := int64(0); off < int64(len(data)); off += chunkSize {
		end := off + chunkSize
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		chunk := make([]byte, end-off)
		copy(chunk, data[off:end])
		chunks = append(chunks, chunk)
	}
	e.files[id] = chunks
	return FileHandle{
		ID:         id,
		Name:       id,
		Size:       int64(len(data)),
		ChunkCount: uint32(len(chunks)),
	}
}

func (e *testEngine) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalCalls
}

func (e *testEngine) callsFor(index uint32) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.decryptCalls[index]
}

func (e *testEngine) DecryptChunk(ctx context.Context, handle FileHandle, index uint32) ([]byte, error) {
	e.mu.Lock()
	e.totalCalls++
	e.decryptCalls[index]++
	call := e.decryptCalls[index]
	failer := e.decryptErr
	delay := e.decryptDelay
	chunks, ok := e.files[handle.ID]
	e.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failer != nil {
		if err := failer(index, call); err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, ErrUnknownFile
	}
	if int(index) >= len(chunks) {
		return nil, fmt.Errorf("chunk %d out of range", index)
	}
	// Callers wipe what they receive, so hand out a copy.
	out := make([]byte, len(chunks[index]))
	copy(out, chunks[index])
	return out, nil
}

func (e *testEngine) EncryptChunk(ctx context.Context, importID string, index uint32, plaintext []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	imp, ok := e.imports[importID]
	if !ok {
		return ErrUnknownImport
	}
	if index != imp.state.CommittedChunks {
		return fmt.Errorf("chunk %d written out of order, want %d", index, imp.state.CommittedChunks)
	}
	chunk := make([]byte, len(plaintext))
	copy(chunk, plaintext)
	imp.chunks = append(imp.chunks, chunk)
	imp.state.CommittedChunks++
	return nil
}

func (e *testEngine) Fingerprint(head, tail []byte, totalSize int64) []byte {
	h := sha256.New()
	h.Write(head)
	h.Write(tail)
	var sz [8]byte
	binary.LittleEndian.PutUint64(sz[:], uint64(totalSize))
	h.Write(sz[:])
	return h.Sum(nil)
}

func (e *testEngine) StartImport(ctx context.Context, state ImportState) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.imports[state.ID]; ok {
		return fmt.Errorf("import %s already exists", state.ID)
	}
	e.imports[state.ID] = &testImport{state: state}
	return nil
}

func (e *testEngine) GetImportState(ctx context.Context, importID string) (ImportState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	imp, ok := e.imports[importID]
	if !ok {
		return ImportState{}, ErrUnknownImport
	}
	return imp.state, nil
}

func (e *testEngine) PendingImports(ctx context.Context) ([]ImportState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []ImportState
	for _, imp := range e.imports {
		out = append(out, imp.state)
	}
	return out, nil
}

func (e *testEngine) FinishImport(ctx context.Context, importID string) (FileHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	imp, ok := e.imports[importID]
	if !ok {
		return FileHandle{}, ErrUnknownImport
	}
	if imp.state.CommittedChunks < imp.state.TotalChunks {
		return FileHandle{}, ErrFinishBeforeComplete
	}
	fileID := "file-" + importID
	e.files[fileID] = imp.chunks
	delete(e.imports, importID)
	return FileHandle{
		ID:         fileID,
		Name:       imp.state.TargetName,
		Size:       imp.state.TotalBytes,
		ChunkCount: imp.state.TotalChunks,
	}, nil
}

func (e *testEngine) AbortImport(ctx context.Context, importID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.imports[importID]; !ok {
		return ErrUnknownImport
	}
	delete(e.imports, importID)
	return nil
}

// assembled returns the concatenated plaintext of a stored file.
func (e *testEngine) assembled(fileID string) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []byte
	for _, chunk := range e.files[fileID] {
		out = append(out, chunk...)
	}
	return out
}

// pattern fills a deterministic byte pattern for test data.
func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i%251)
	}
	return b
}
