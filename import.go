package vaultstream

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ImportRequest describes a streaming import to start or resume.
type ImportRequest struct {
	// TargetName is the display name the imported file will carry.
	TargetName string

	// TotalBytes is the declared plaintext size of the source.
	TotalBytes int64

	// ChunkSize is the chunk width to ingest with. Zero means the current
	// canonical size.
	ChunkSize int64

	// Fingerprint is the source fingerprint from SourceFingerprint. A
	// pending session with the same fingerprint is resumed instead of
	// starting over.
	Fingerprint []byte

	// OnProgress, if set, is called after every committed chunk.
	OnProgress ProgressFunc
}

// ImportPipeline is the resumable chunked encryption pipeline. The caller
// drives it chunk by chunk: exactly one chunk width of plaintext per
// WriteChunk call (the final chunk may be shorter), then Finish. The
// pipeline wipes every plaintext buffer it is handed, on success and on
// failure alike, so a retry of the same chunk needs a fresh copy.
type ImportPipeline struct {
	mu         sync.Mutex
	engine     Engine
	state      ImportState
	onProgress ProgressFunc
	resumed    bool
	terminal   bool
	log        *logrus.Entry
}

// StartImport creates a fresh import session, or resumes the pending session
// whose fingerprint and declared size match the request. On resume, the
// caller must skip CommittedChunks() chunk widths of source input before
// feeding WriteChunk again.
func StartImport(ctx context.Context, engine Engine, req ImportRequest, cfg Config) (*ImportPipeline, error) {
	if engine == nil {
		return nil, ErrNilEngine
	}
	cfg = cfg.withDefaults()
	if req.TotalBytes < 0 {
		return nil, NewValidationError("TotalBytes", req.TotalBytes, "cannot be negative")
	}
	if len(req.Fingerprint) == 0 {
		return nil, NewValidationError("Fingerprint", nil, "fingerprint is required")
	}
	chunkSize := req.ChunkSize
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkSize < 1 {
		return nil, NewValidationError("ChunkSize", chunkSize, "must be positive")
	}

	log := cfg.Logger.WithField("target", req.TargetName)

	pending, err := engine.PendingImports(ctx)
	if err != nil {
		return nil, &ImportError{Operation: "start", Message: "listing pending sessions failed", Err: err}
	}
	for _, st := range pending {
		if bytes.Equal(st.Fingerprint, req.Fingerprint) && st.TotalBytes == req.TotalBytes && st.ChunkSize == chunkSize {
			log.WithFields(logrus.Fields{
				"import":    st.ID,
				"committed": st.CommittedChunks,
				"total":     st.TotalChunks,
			}).Info("resuming pending import")
			return &ImportPipeline{
				engine:     engine,
				state:      st,
				onProgress: req.OnProgress,
				resumed:    true,
				log:        log.WithField("import", st.ID),
			}, nil
		}
	}

	state := ImportState{
		ID:          uuid.NewString(),
		TargetName:  req.TargetName,
		Fingerprint: append([]byte(nil), req.Fingerprint...),
		TotalBytes:  req.TotalBytes,
		ChunkSize:   chunkSize,
		TotalChunks: chunkCountFor(req.TotalBytes, chunkSize),
		StartedAt:   time.Now(),
	}
	if err := engine.StartImport(ctx, state); err != nil {
		return nil, &ImportError{Operation: "start", ImportID: state.ID, Message: "persisting session failed", Err: err}
	}
	return &ImportPipeline{
		engine:     engine,
		state:      state,
		onProgress: req.OnProgress,
		log:        log.WithField("import", state.ID),
	}, nil
}

// ResumeImport resumes a specific session by id. The supplied fingerprint
// must match the persisted one; a mismatch is rejected before any chunk is
// rewritten and the caller must restart the import fresh.
func ResumeImport(ctx context.Context, engine Engine, importID string, fingerprint []byte, onProgress ProgressFunc, cfg Config) (*ImportPipeline, error) {
	if engine == nil {
		return nil, ErrNilEngine
	}
	cfg = cfg.withDefaults()
	st, err := engine.GetImportState(ctx, importID)
	if err != nil {
		return nil, &ImportError{Operation: "start", ImportID: importID, Message: "loading session failed", Err: err}
	}
	if !bytes.Equal(st.Fingerprint, fingerprint) {
		return nil, ErrFingerprintMismatch
	}
	return &ImportPipeline{
		engine:     engine,
		state:      st,
		onProgress: onProgress,
		resumed:    true,
		log:        cfg.Logger.WithField("import", st.ID),
	}, nil
}

// Resumed reports whether this pipeline continues a prior session.
func (ip *ImportPipeline) Resumed() bool {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	return ip.resumed
}

// CommittedChunks returns the resume cursor.
func (ip *ImportPipeline) CommittedChunks() uint32 {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	return ip.state.CommittedChunks
}

// SkipBytes returns how many source bytes are already committed; a resuming
// caller seeks this far into the source before reading.
func (ip *ImportPipeline) SkipBytes() int64 {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	return committedBytes(ip.state)
}

// State returns a copy of the session state.
func (ip *ImportPipeline) State() ImportState {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	st := ip.state
	st.Fingerprint = append([]byte(nil), ip.state.Fingerprint...)
	return st
}

// WriteChunk encrypts and commits the next chunk. The plaintext must be
// exactly one chunk width, or the final remainder for the last chunk. The
// buffer is wiped before WriteChunk returns, success or failure.
func (ip *ImportPipeline) WriteChunk(ctx context.Context, plaintext []byte) (Progress, error) {
	defer Wipe(plaintext)

	ip.mu.Lock()
	defer ip.mu.Unlock()
	if ip.terminal {
		return Progress{}, ErrImportClosed
	}
	if ip.state.CommittedChunks >= ip.state.TotalChunks {
		return ip.progressLocked(), &ImportError{
			Operation: "write",
			ImportID:  ip.state.ID,
			ChunkIdx:  ip.state.CommittedChunks,
			Message:   "all chunks already committed",
			Err:       ErrChunkLengthMismatch,
		}
	}

	index := ip.state.CommittedChunks
	expected := chunkLenAt(ip.state, index)
	if int64(len(plaintext)) != expected {
		return ip.progressLocked(), &ImportError{
			Operation: "write",
			ImportID:  ip.state.ID,
			ChunkIdx:  index,
			Message:   fmt.Sprintf("expected %d plaintext bytes, got %d", expected, len(plaintext)),
			Err:       ErrChunkLengthMismatch,
		}
	}

	if err := ip.engine.EncryptChunk(ctx, ip.state.ID, index, plaintext); err != nil {
		return ip.progressLocked(), &ImportError{
			Operation: "write",
			ImportID:  ip.state.ID,
			ChunkIdx:  index,
			Message:   "chunk write failed",
			Err:       err,
		}
	}
	ip.state.CommittedChunks++

	progress := ip.progressLocked()
	if ip.onProgress != nil {
		ip.onProgress(progress)
	}
	return progress, nil
}

// Finish finalizes the import and returns the new file's handle. Finishing
// with uncommitted chunks fails closed; a truncated file is never finalized.
func (ip *ImportPipeline) Finish(ctx context.Context) (FileHandle, error) {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	if ip.terminal {
		return FileHandle{}, ErrImportClosed
	}
	if ip.state.CommittedChunks < ip.state.TotalChunks {
		return FileHandle{}, ErrFinishBeforeComplete
	}
	handle, err := ip.engine.FinishImport(ctx, ip.state.ID)
	if err != nil {
		return FileHandle{}, &ImportError{Operation: "finish", ImportID: ip.state.ID, Message: "finalize failed", Err: err}
	}
	ip.terminal = true
	ip.log.WithField("file", handle.ID).Info("import finished")
	return handle, nil
}

// Abort releases the session and removes partial chunk data. The engine is
// required to wipe persisted partial chunks, not merely unlink them. Safe to
// call on an already finished or aborted session.
func (ip *ImportPipeline) Abort(ctx context.Context) error {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	if ip.terminal {
		return nil
	}
	if err := ip.engine.AbortImport(ctx, ip.state.ID); err != nil {
		return &ImportError{Operation: "abort", ImportID: ip.state.ID, Message: "abort failed", Err: err}
	}
	ip.terminal = true
	ip.log.Info("import aborted")
	return nil
}

// progressLocked builds the progress snapshot. Caller holds mu.
func (ip *ImportPipeline) progressLocked() Progress {
	return Progress{
		BytesWritten:    committedBytes(ip.state),
		TotalBytes:      ip.state.TotalBytes,
		ChunksCompleted: ip.state.CommittedChunks,
		TotalChunks:     ip.state.TotalChunks,
	}
}

func committedBytes(st ImportState) int64 {
	b := int64(st.CommittedChunks) * st.ChunkSize
	if b > st.TotalBytes {
		b = st.TotalBytes
	}
	return b
}

// chunkLenAt returns the plaintext width of chunk index within a session:
// the full chunk size everywhere except the final remainder.
func chunkLenAt(st ImportState, index uint32) int64 {
	start := int64(index) * st.ChunkSize
	remaining := st.TotalBytes - start
	if remaining > st.ChunkSize {
		return st.ChunkSize
	}
	return remaining
}
