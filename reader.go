package vaultstream

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Reader is the random-access read surface handed to a media decoder. Reads
// at arbitrary offsets never write decrypted bytes anywhere but the caller's
// buffer; Close wipes all resident plaintext before returning and is safe to
// call repeatedly and concurrently with in-flight reads.
//
// ReadAt follows io.ReaderAt semantics: a read starting at or past the end
// of the file returns (0, io.EOF); a read reaching the end returns the bytes
// up to it together with io.EOF. A short read anywhere else is an error,
// never a silent truncation.
type Reader interface {
	io.ReaderAt
	io.Closer

	// Size returns the total plaintext size. Constant for the session.
	Size() int64
}

// OpenReader opens a random-access reader for a stored file. Files at or
// below the preload threshold are decrypted once into a single owned buffer;
// larger files get the windowed cache with prefetch. Files declared larger
// than the hard ceiling are rejected outright.
func OpenReader(ctx context.Context, engine Engine, handle FileHandle, cfg Config) (Reader, error) {
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
	log := cfg.Logger.WithField("file", handle.ID)
	if geo.Estimated {
		log.WithFields(logrus.Fields{
			"size":       geo.TotalSize,
			"chunks":     geo.ChunkCount,
			"chunk_size": geo.ChunkSize,
		}).Warn("non-standard container layout, using estimated chunk size")
	}

	if handle.Size <= cfg.PreloadThreshold {
		return openPreloadReader(ctx, engine, handle, geo, cfg)
	}
	return newWindowedReader(engine, handle, geo, cfg, log), nil
}

// preloadReader holds the whole decrypted file in one owned buffer. Used for
// small files, where eviction machinery is not worth its complexity.
type preloadReader struct {
	mu     sync.RWMutex
	data   []byte
	size   int64
	closed bool
}

func openPreloadReader(ctx context.Context, engine Engine, handle FileHandle, geo Geometry, cfg Config) (*preloadReader, error) {
	pctx := ctx
	cancel := func() {}
	if cfg.PreloadTimeout > 0 {
		pctx, cancel = context.WithTimeout(ctx, cfg.PreloadTimeout)
	}
	defer cancel()

	data := make([]byte, handle.Size)
	for i := uint32(0); i < geo.ChunkCount; i++ {
		plaintext, err := engine.DecryptChunk(pctx, handle, i)
		if err != nil {
			Wipe(data)
			return nil, &ChunkLoadError{FileID: handle.ID, ChunkIdx: i, Attempts: 1, Err: err}
		}
		start, end := geo.ChunkRange(i)
		if int64(len(plaintext)) != end-start {
			Wipe(plaintext)
			Wipe(data)
			return nil, &ChunkLoadError{FileID: handle.ID, ChunkIdx: i, Attempts: 1, Err: ErrChunkLengthMismatch}
		}
		copy(data[start:end], plaintext)
		Wipe(plaintext)
	}
	return &preloadReader{data: data, size: handle.Size}, nil
}

func (r *preloadReader) ReadAt(p []byte, off int64) (int, error) {
	if err := validateReadAt(p, off); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return 0, ErrReaderClosed
	}
	if off >= r.size {
		return 0, io.EOF
	}
	n := copy(p, r.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (r *preloadReader) Size() int64 {
	return r.size
}

func (r *preloadReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	Wipe(r.data)
	r.data = nil
	return nil
}

// windowedReader serves large files from the bounded decrypted-chunk cache,
// warming it ahead of the cursor via the prefetcher.
type windowedReader struct {
	geo   Geometry
	cache *chunkCache
	pool  *bufferPool
	pf    *prefetcher
	log   *logrus.Entry

	// cancelDistance is the seek distance beyond which prefetch work for
	// the old cursor is discarded.
	cancelDistance int64

	// lastOffset is the end position of the previous read, -1 before the
	// first one. Used only for seek detection.
	lastOffset atomic.Int64

	closeOnce sync.Once
}

func newWindowedReader(engine Engine, handle FileHandle, geo Geometry, cfg Config, log *logrus.Entry) *windowedReader {
	pool := newBufferPool(geo.ChunkSize, poolTargetFor(geo.TotalSize, geo.ChunkSize, cfg), cfg.PoolRetainFactor)
	capacity := cacheCapacityFor(geo.TotalSize, geo.ChunkSize, cfg)
	load := func(ctx context.Context, index uint32) ([]byte, error) {
		return engine.DecryptChunk(ctx, handle, index)
	}
	cache := newChunkCache(handle.ID, capacity, cfg, pool, load, log)
	depth := prefetchDepthFor(geo.ChunkSize, cfg)
	r := &windowedReader{
		geo:            geo,
		cache:          cache,
		pool:           pool,
		pf:             newPrefetcher(cache, geo.ChunkCount, depth, log),
		log:            log,
		cancelDistance: cfg.SeekCancelFactor * geo.ChunkSize,
	}
	r.lastOffset.Store(-1)
	return r
}

func (r *windowedReader) ReadAt(p []byte, off int64) (int, error) {
	if err := validateReadAt(p, off); err != nil {
		return 0, err
	}
	if off >= r.geo.TotalSize {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	if prev := r.lastOffset.Swap(off); prev >= 0 {
		delta := off - prev
		if delta < 0 {
			delta = -delta
		}
		if delta > r.cancelDistance {
			r.pf.cancelAll()
		}
	}

	total := 0
	pos := off
	for total < len(p) && pos < r.geo.TotalSize {
		index, within := r.geo.IndexFor(pos)
		want := r.geo.ChunkLen(index) - within
		if remaining := int64(len(p) - total); want > remaining {
			want = remaining
		}
		n, err := r.cache.copyRange(context.Background(), index, within, p[total:total+int(want)])
		if err != nil {
			return total, err
		}
		if int64(n) < want {
			// The resident chunk is shorter than the geometry promised.
			// That is corruption, not EOF.
			return total + n, &ChunkLoadError{FileID: r.cache.fileID, ChunkIdx: index, Attempts: 1, Err: ErrChunkLengthMismatch}
		}
		total += n
		pos += int64(n)
		r.pf.schedule(index)
	}
	r.lastOffset.Store(pos)

	if total < len(p) {
		return total, io.EOF
	}
	return total, nil
}

func (r *windowedReader) Size() int64 {
	return r.geo.TotalSize
}

// Close joins the prefetch workers, wipes every resident chunk and drains
// the pool. It blocks until no plaintext from this session remains.
func (r *windowedReader) Close() error {
	r.closeOnce.Do(func() {
		r.pf.close()
		r.cache.close()
		r.pool.drain()
	})
	return nil
}

// validateReadAt checks the common preconditions of a ReadAt call.
func validateReadAt(p []byte, off int64) error {
	if p == nil {
		return ErrNilBuffer
	}
	if off < 0 {
		return ErrNegativeOffset
	}
	return nil
}
