package vaultstream

import (
	"context"
	"io"
	"sync"
	"time"
)

// OpenSingleSlotReader opens a reader that keeps at most one decrypted chunk
// in memory. Geometry resolution is identical to OpenReader, but there is no
// pool and no prefetch: sequential playback (audio) dominates this path, and
// a request for a new chunk unconditionally wipes the previous one.
func OpenSingleSlotReader(ctx context.Context, engine Engine, handle FileHandle, cfg Config) (Reader, error) {
	if engine == nil {
		return nil, ErrNilEngine
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if handle.Size > cfg.MaxFileSize {
		return nil, &OversizeError{Size: handle.Size, Limit: cfg.MaxFileSize}
	}
	geo, err := ResolveGeometry(handle.Size, handle.ChunkCount)
	if err != nil {
		return nil, err
	}
	if geo.Estimated {
		cfg.Logger.WithField("file", handle.ID).Warn("non-standard container layout, using estimated chunk size")
	}
	r := &singleSlotReader{
		engine:  engine,
		handle:  handle,
		geo:     geo,
		retries: cfg.LoadRetries,
		backoff: cfg.LoadBackoff,
		timeout: cfg.LoadTimeout,
	}
	r.index = -1
	return r, nil
}

type singleSlotReader struct {
	mu      sync.Mutex
	engine  Engine
	handle  FileHandle
	geo     Geometry
	retries int
	backoff time.Duration
	timeout time.Duration

	buf    []byte // current decrypted chunk, nil when empty
	index  int64  // chunk index of buf, -1 when empty
	closed bool
}

func (r *singleSlotReader) ReadAt(p []byte, off int64) (int, error) {
	if err := validateReadAt(p, off); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrReaderClosed
	}
	if off >= r.geo.TotalSize {
		return 0, io.EOF
	}

	total := 0
	pos := off
	for total < len(p) && pos < r.geo.TotalSize {
		index, within := r.geo.IndexFor(pos)
		if err := r.ensureLoaded(index); err != nil {
			return total, err
		}
		if int64(len(r.buf)) != r.geo.ChunkLen(index) {
			return total, &ChunkLoadError{FileID: r.handle.ID, ChunkIdx: index, Attempts: 1, Err: ErrChunkLengthMismatch}
		}
		n := copy(p[total:], r.buf[within:])
		total += n
		pos += int64(n)
	}
	if total < len(p) {
		return total, io.EOF
	}
	return total, nil
}

// ensureLoaded makes the chunk at index current, wiping whatever was there
// before. Caller holds mu.
func (r *singleSlotReader) ensureLoaded(index uint32) error {
	if r.index == int64(index) && r.buf != nil {
		return nil
	}
	if r.buf != nil {
		Wipe(r.buf)
		r.buf = nil
		r.index = -1
	}

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= r.retries; attempt++ {
		attempts = attempt
		ctx := context.Background()
		cancel := func() {}
		if r.timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, r.timeout)
		}
		plaintext, err := r.engine.DecryptChunk(ctx, r.handle, index)
		cancel()
		if err == nil {
			r.buf = plaintext
			r.index = int64(index)
			return nil
		}
		lastErr = err
		if attempt < r.retries {
			time.Sleep(r.backoff)
		}
	}
	return &ChunkLoadError{FileID: r.handle.ID, ChunkIdx: index, Attempts: attempts, Err: lastErr}
}

func (r *singleSlotReader) Size() int64 {
	return r.geo.TotalSize
}

func (r *singleSlotReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.buf != nil {
		Wipe(r.buf)
		r.buf = nil
	}
	return nil
}
