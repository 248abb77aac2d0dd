package vaultstream

import "sync"

// bufferPool is a free list of reusable chunk buffers. It exists to avoid
// allocation and wipe churn on the hot read path: every buffer that leaves
// residency is wiped exactly once, on release, and is guaranteed clean when
// handed out again.
type bufferPool struct {
	mu        sync.Mutex
	free      [][]byte
	chunkSize int64
	retainMax int
}

// newBufferPool sizes the free list from the reader's geometry. target is
// the expected steady-state buffer demand; the pool retains at most
// retainFactor x target buffers and drops the rest.
func newBufferPool(chunkSize int64, target, retainFactor int) *bufferPool {
	retainMax := target * retainFactor
	if retainMax < 1 {
		retainMax = 1
	}
	return &bufferPool{
		free:      make([][]byte, 0, retainMax),
		chunkSize: chunkSize,
		retainMax: retainMax,
	}
}

// acquire returns a buffer of length size. A pooled buffer is reused when
// its capacity suffices; otherwise a fresh one is allocated. The returned
// buffer never contains residual data from a prior use.
func (p *bufferPool) acquire(size int) []byte {
	p.mu.Lock()
	for i := len(p.free) - 1; i >= 0; i-- {
		if cap(p.free[i]) >= size {
			buf := p.free[i]
			p.free = append(p.free[:i], p.free[i+1:]...)
			p.mu.Unlock()
			return buf[:size]
		}
	}
	p.mu.Unlock()
	return make([]byte, size)
}

// release wipes the buffer's full capacity and returns it to the free list.
// Odd-sized buffers and overflow beyond the retain limit are wiped and
// dropped instead of pooled.
func (p *bufferPool) release(buf []byte) {
	if buf == nil {
		return
	}
	full := buf[:cap(buf)]
	Wipe(full)

	if int64(cap(buf)) != p.chunkSize {
		return
	}
	p.mu.Lock()
	if len(p.free) < p.retainMax {
		p.free = append(p.free, full)
	}
	p.mu.Unlock()
}

// drain wipes and drops every pooled buffer. Called once on reader close;
// release remains safe to call afterwards (buffers are wiped and dropped).
func (p *bufferPool) drain() {
	p.mu.Lock()
	free := p.free
	p.free = nil
	p.retainMax = 0
	p.mu.Unlock()

	for _, buf := range free {
		Wipe(buf[:cap(buf)])
	}
}
