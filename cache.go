package vaultstream

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// loaderFunc loads and decrypts one chunk. The returned slice is owned by
// the caller, which must wipe it.
type loaderFunc func(ctx context.Context, index uint32) ([]byte, error)

// cachedChunk is one decrypted chunk resident in the cache. The buffer is
// exclusively owned by the cache while resident; callers only ever see
// copies taken under the cache lock.
type cachedChunk struct {
	buf      []byte
	loadedAt time.Time
	seq      uint64
}

// chunkCache is a windowed cache of decrypted chunks: a bounded map from
// chunk index to plaintext with recency-aware eviction, retry-on-miss
// loading and secure erasure of everything that leaves residency. Each
// chunk moves through absent -> loading -> resident -> evicted; concurrent
// requests for a loading chunk wait for the in-flight load instead of
// duplicating the decrypt.
//
// A single mutex guards the whole cache. Copy-out to the caller happens
// while the lock is held, so an eviction on another goroutine can never
// wipe the source buffer mid-copy.
type chunkCache struct {
	mu      sync.Mutex
	entries map[uint32]*cachedChunk
	loading map[uint32]chan struct{}
	closed  bool
	seq     uint64

	capacity int
	window   time.Duration
	pool     *bufferPool
	load     loaderFunc
	fileID   string
	retries  int
	backoff  time.Duration
	timeout  time.Duration
	log      *logrus.Entry

	hits   uint64
	misses uint64
}

func newChunkCache(fileID string, capacity int, cfg Config, pool *bufferPool, load loaderFunc, log *logrus.Entry) *chunkCache {
	if capacity < 1 {
		capacity = 1
	}
	return &chunkCache{
		entries:  make(map[uint32]*cachedChunk, capacity),
		loading:  make(map[uint32]chan struct{}),
		capacity: capacity,
		window:   cfg.RecencyWindow,
		pool:     pool,
		load:     load,
		fileID:   fileID,
		retries:  cfg.LoadRetries,
		backoff:  cfg.LoadBackoff,
		timeout:  cfg.LoadTimeout,
		log:      log,
	}
}

// copyRange copies bytes [within, within+len(dst)) of the chunk at index
// into dst, loading the chunk first if it is not resident. Returns the
// number of bytes copied, which is short only when the chunk itself is
// short (the last chunk of the file).
func (c *chunkCache) copyRange(ctx context.Context, index uint32, within int64, dst []byte) (int, error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return 0, ErrReaderClosed
		}
		if e, ok := c.entries[index]; ok {
			n := copy(dst, e.buf[within:])
			c.hits++
			c.mu.Unlock()
			return n, nil
		}
		if ch, ok := c.loading[index]; ok {
			// Another goroutine is already decrypting this chunk; wait for
			// it and re-check.
			c.mu.Unlock()
			select {
			case <-ch:
			case <-ctx.Done():
				return 0, ctx.Err()
			}
			continue
		}
		ch := make(chan struct{})
		c.loading[index] = ch
		c.mu.Unlock()

		// Miss. The decrypt runs without the lock.
		buf, err := c.loadPooled(ctx, index)

		c.mu.Lock()
		delete(c.loading, index)
		close(ch)
		if err != nil {
			c.mu.Unlock()
			return 0, err
		}
		if c.closed {
			c.mu.Unlock()
			c.pool.release(buf)
			return 0, ErrReaderClosed
		}
		c.insertLocked(index, buf)
		n := copy(dst, buf[within:])
		c.misses++
		c.mu.Unlock()
		return n, nil
	}
}

// fill loads the chunk at index into the cache if it is neither resident
// nor already loading. Used by prefetch.
func (c *chunkCache) fill(ctx context.Context, index uint32) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrReaderClosed
	}
	if _, ok := c.entries[index]; ok {
		c.mu.Unlock()
		return nil
	}
	if _, ok := c.loading[index]; ok {
		c.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	c.loading[index] = ch
	c.mu.Unlock()

	buf, err := c.loadPooled(ctx, index)

	c.mu.Lock()
	delete(c.loading, index)
	close(ch)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if c.closed {
		c.mu.Unlock()
		c.pool.release(buf)
		return ErrReaderClosed
	}
	c.insertLocked(index, buf)
	c.mu.Unlock()
	return nil
}

// contains reports whether the chunk at index is resident.
func (c *chunkCache) contains(index uint32) bool {
	c.mu.Lock()
	_, ok := c.entries[index]
	c.mu.Unlock()
	return ok
}

// insertLocked inserts a loaded buffer, evicting as needed. Caller holds mu
// and has verified the index is absent.
func (c *chunkCache) insertLocked(index uint32, buf []byte) {
	for len(c.entries) >= c.capacity {
		c.evictOneLocked()
	}
	c.seq++
	c.entries[index] = &cachedChunk{
		buf:      buf,
		loadedAt: time.Now(),
		seq:      c.seq,
	}
}

// evictOneLocked removes one resident chunk. Preference goes to any entry
// loaded outside the recency-protection window, which absorbs the small
// back-and-forth seeks of a scrubbing player. When every entry is inside
// the window the oldest by insertion order goes anyway: protection is a
// soft guarantee and reads must always make progress.
func (c *chunkCache) evictOneLocked() {
	now := time.Now()
	victim := uint32(0)
	found := false
	for idx, e := range c.entries {
		if now.Sub(e.loadedAt) > c.window {
			victim, found = idx, true
			break
		}
	}
	if !found {
		var oldest uint64
		for idx, e := range c.entries {
			if !found || e.seq < oldest {
				victim, oldest, found = idx, e.seq, true
			}
		}
		c.log.WithField("chunk", victim).Debug("forced eviction inside recency window")
	}
	if !found {
		return
	}
	e := c.entries[victim]
	delete(c.entries, victim)
	c.pool.release(e.buf)
	e.buf = nil
}

// loadPooled runs the retry loop around the engine decrypt and lands the
// plaintext in a pooled buffer. The engine's own slice is wiped immediately
// after the copy.
func (c *chunkCache) loadPooled(ctx context.Context, index uint32) ([]byte, error) {
	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= c.retries; attempt++ {
		attempts = attempt
		actx := ctx
		cancel := func() {}
		if c.timeout > 0 {
			actx, cancel = context.WithTimeout(ctx, c.timeout)
		}
		plaintext, err := c.load(actx, index)
		cancel()
		if err == nil {
			buf := c.pool.acquire(len(plaintext))
			copy(buf, plaintext)
			Wipe(plaintext)
			return buf, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < c.retries {
			c.log.WithFields(logrus.Fields{
				"chunk":   index,
				"attempt": attempt,
			}).WithError(err).Warn("chunk load failed, retrying")
			time.Sleep(c.backoff)
		}
	}
	return nil, &ChunkLoadError{
		FileID:   c.fileID,
		ChunkIdx: index,
		Attempts: attempts,
		Err:      lastErr,
	}
}

// residentCount returns the number of resident chunks.
func (c *chunkCache) residentCount() int {
	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()
	return n
}

// stats returns the hit and miss counters.
func (c *chunkCache) stats() (hits, misses uint64) {
	c.mu.Lock()
	hits, misses = c.hits, c.misses
	c.mu.Unlock()
	return hits, misses
}

// close wipes every resident chunk and marks the cache unusable. The wipe
// happens under the cache lock, so close blocks until no in-flight copy can
// observe the plaintext. Idempotent.
func (c *chunkCache) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for idx, e := range c.entries {
		c.pool.release(e.buf)
		e.buf = nil
		delete(c.entries, idx)
	}
	c.mu.Unlock()
}
