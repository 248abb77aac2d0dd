package vaultstream

import "testing"

func TestWipeZeroes(t *testing.T) {
	b := pattern(1024, 1)
	Wipe(b)
	for i, v := range b {
		if v != 0 {
			t.Fatalf("byte %d = %#x after wipe", i, v)
		}
	}
	// Zero-length and nil are no-ops.
	Wipe(nil)
	Wipe([]byte{})
}

func TestPoolReleaseWipes(t *testing.T) {
	p := newBufferPool(64, 4, 2)
	buf := p.acquire(64)
	copy(buf, pattern(64, 3))
	alias := buf
	p.release(buf)
	for i, v := range alias {
		if v != 0 {
			t.Fatalf("byte %d = %#x after release", i, v)
		}
	}
}

func TestPoolReusesCanonicalBuffers(t *testing.T) {
	p := newBufferPool(64, 4, 2)
	buf := p.acquire(64)
	p.release(buf)
	again := p.acquire(32)
	if cap(again) != 64 {
		t.Errorf("acquire(32) cap = %d, want pooled 64", cap(again))
	}
	if len(again) != 32 {
		t.Errorf("acquire(32) len = %d", len(again))
	}
}

func TestPoolDropsOddSizes(t *testing.T) {
	p := newBufferPool(64, 4, 2)
	p.release(make([]byte, 100))
	buf := p.acquire(100)
	if cap(buf) != 100 {
		// Fresh allocation expected; the odd buffer must not be pooled.
		t.Errorf("acquire(100) cap = %d", cap(buf))
	}
	p.mu.Lock()
	n := len(p.free)
	p.mu.Unlock()
	if n != 0 {
		t.Errorf("free list holds %d buffers, want 0", n)
	}
}

func TestPoolRetainLimit(t *testing.T) {
	p := newBufferPool(64, 2, 2) // retains at most 4
	for i := 0; i < 10; i++ {
		p.release(make([]byte, 64))
	}
	p.mu.Lock()
	n := len(p.free)
	p.mu.Unlock()
	if n != 4 {
		t.Errorf("free list holds %d buffers, want 4", n)
	}
}

func TestPoolDrain(t *testing.T) {
	p := newBufferPool(64, 4, 2)
	p.release(make([]byte, 64))
	p.release(make([]byte, 64))
	p.drain()
	p.mu.Lock()
	n := len(p.free)
	p.mu.Unlock()
	if n != 0 {
		t.Errorf("free list holds %d buffers after drain", n)
	}
	// Release after drain is harmless and pools nothing.
	p.release(make([]byte, 64))
	p.mu.Lock()
	n = len(p.free)
	p.mu.Unlock()
	if n != 0 {
		t.Errorf("free list holds %d buffers after post-drain release", n)
	}
}
