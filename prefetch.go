package vaultstream

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// prefetcher warms the cache ahead of the read cursor. Tasks are
// fire-and-forget goroutines owned by the session: an in-flight set
// suppresses duplicate work, a generation counter discards work scheduled
// for an abandoned cursor, and close joins everything deterministically.
//
// Cancellation on seek is best-effort. A task that has already entered its
// decrypt call is not interrupted; only tasks that have not started are
// discarded. That race is inherent and accepted.
type prefetcher struct {
	mu       sync.Mutex
	inflight map[uint32]struct{}
	gen      uint64
	closed   bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	cache      *chunkCache
	chunkCount uint32
	depth      int
	log        *logrus.Entry
}

func newPrefetcher(cache *chunkCache, chunkCount uint32, depth int, log *logrus.Entry) *prefetcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &prefetcher{
		inflight:   make(map[uint32]struct{}),
		ctx:        ctx,
		cancel:     cancel,
		cache:      cache,
		chunkCount: chunkCount,
		depth:      depth,
		log:        log,
	}
}

// schedule queues background loads for up to depth chunks after index,
// skipping resident and already in-flight indices.
func (p *prefetcher) schedule(index uint32) {
	if p.depth <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	gen := p.gen
	scheduled := 0
	for i := index + 1; i < p.chunkCount && scheduled < p.depth; i++ {
		if _, busy := p.inflight[i]; busy {
			continue
		}
		if p.cache.contains(i) {
			continue
		}
		p.inflight[i] = struct{}{}
		p.wg.Add(1)
		go p.fetch(i, gen)
		scheduled++
	}
}

func (p *prefetcher) fetch(index uint32, gen uint64) {
	defer p.wg.Done()
	defer p.forget(index)

	p.mu.Lock()
	stale := p.closed || gen != p.gen
	p.mu.Unlock()
	if stale {
		return
	}

	if err := p.cache.fill(p.ctx, index); err != nil && p.ctx.Err() == nil {
		// Prefetch failures are not surfaced; the synchronous miss path
		// retries and reports in its own right.
		p.log.WithField("chunk", index).WithError(err).Debug("prefetch failed")
	}
}

func (p *prefetcher) forget(index uint32) {
	p.mu.Lock()
	delete(p.inflight, index)
	p.mu.Unlock()
}

// cancelAll discards all prefetch work scheduled for the old cursor. Called
// on large seeks, where look-ahead for the previous position is wasted and
// would compete with the now-urgent synchronous load.
func (p *prefetcher) cancelAll() {
	p.mu.Lock()
	p.gen++
	n := len(p.inflight)
	p.mu.Unlock()
	if n > 0 {
		p.log.WithField("inflight", n).Debug("prefetch cancelled on seek")
	}
}

// close stops all scheduling, cancels in-flight loads at the context level
// and waits for every task to exit.
func (p *prefetcher) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.gen++
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}
