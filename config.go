package vaultstream

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// Default tuning values. All of them can be overridden per deployment
// through Config; zero fields fall back to these.
const (
	// DefaultPreloadThreshold is the file size below which the whole file is
	// decrypted into a single owned buffer instead of the windowed cache.
	DefaultPreloadThreshold = 150 * 1024 * 1024

	// DefaultMaxFileSize is the hard ceiling on declared file size. Opens
	// above it are rejected outright.
	DefaultMaxFileSize = 50 * 1024 * 1024 * 1024

	// DefaultRecencyWindow protects recently loaded chunks from eviction.
	DefaultRecencyWindow = 2 * time.Second

	// DefaultLookaheadBytes is the prefetch look-ahead byte budget.
	DefaultLookaheadBytes = 32 * 1024 * 1024

	// DefaultLoadRetries is the number of decrypt attempts per chunk load.
	DefaultLoadRetries = 3

	// DefaultLoadBackoff is the fixed pause between decrypt attempts.
	DefaultLoadBackoff = 250 * time.Millisecond

	// DefaultLoadTimeout bounds each decrypt attempt.
	DefaultLoadTimeout = 10 * time.Second

	// DefaultPreloadTimeout bounds a whole-file preload.
	DefaultPreloadTimeout = 60 * time.Second

	// DefaultSeekCancelFactor is the seek distance, in chunk widths, beyond
	// which outstanding prefetch work is cancelled.
	DefaultSeekCancelFactor = 4

	// DefaultPoolRetainFactor caps the free list at this multiple of the
	// pool's target size.
	DefaultPoolRetainFactor = 2
)

// Bounds for the derived cache capacity and pool target.
const (
	minCacheCapacity = 4
	maxCacheCapacity = 64
	minPoolTarget    = 2
	maxPoolTarget    = 96
)

// Config tunes the access layer. The zero value is usable: every zero field
// is replaced by its documented default.
type Config struct {
	// PreloadThreshold selects the whole-file preload strategy for files at
	// or below this size.
	PreloadThreshold int64

	// MaxFileSize rejects opens of files declared larger than this.
	MaxFileSize int64

	// CacheCapacity overrides the derived resident-chunk limit when > 0.
	CacheCapacity int

	// RecencyWindow protects chunks loaded within it from eviction. The
	// protection is soft: when every resident chunk is inside the window the
	// oldest entry by insertion order is evicted anyway.
	RecencyWindow time.Duration

	// LookaheadBytes is the prefetch budget ahead of the read cursor.
	LookaheadBytes int64

	// LoadRetries, LoadBackoff and LoadTimeout control the miss-path retry
	// loop around the engine's decrypt call.
	LoadRetries int
	LoadBackoff time.Duration
	LoadTimeout time.Duration

	// PreloadTimeout bounds decryption of an entire file in the preload
	// strategy.
	PreloadTimeout time.Duration

	// SeekCancelFactor is the seek distance in chunk widths beyond which
	// prefetch work scheduled for the old cursor is discarded.
	SeekCancelFactor int64

	// PoolRetainFactor caps the buffer pool free list at this multiple of
	// the target pool size.
	PoolRetainFactor int

	// Logger receives structured diagnostics. If nil, logging is discarded.
	Logger *logrus.Logger
}

// DefaultConfig returns a Config populated with every default.
func DefaultConfig() Config {
	var c Config
	return c.withDefaults()
}

// withDefaults returns a copy of c with zero fields filled in.
func (c Config) withDefaults() Config {
	if c.PreloadThreshold == 0 {
		c.PreloadThreshold = DefaultPreloadThreshold
	}
	if c.MaxFileSize == 0 {
		c.MaxFileSize = DefaultMaxFileSize
	}
	if c.RecencyWindow == 0 {
		c.RecencyWindow = DefaultRecencyWindow
	}
	if c.LookaheadBytes == 0 {
		c.LookaheadBytes = DefaultLookaheadBytes
	}
	if c.LoadRetries == 0 {
		c.LoadRetries = DefaultLoadRetries
	}
	if c.LoadBackoff == 0 {
		c.LoadBackoff = DefaultLoadBackoff
	}
	if c.LoadTimeout == 0 {
		c.LoadTimeout = DefaultLoadTimeout
	}
	if c.PreloadTimeout == 0 {
		c.PreloadTimeout = DefaultPreloadTimeout
	}
	if c.SeekCancelFactor == 0 {
		c.SeekCancelFactor = DefaultSeekCancelFactor
	}
	if c.PoolRetainFactor == 0 {
		c.PoolRetainFactor = DefaultPoolRetainFactor
	}
	if c.Logger == nil {
		c.Logger = quietLogger()
	}
	return c
}

// Validate checks the configuration for impossible values. It is called on
// the defaulted copy, so zero fields never fail here.
func (c *Config) Validate() error {
	if c.PreloadThreshold < 0 {
		return NewValidationError("PreloadThreshold", c.PreloadThreshold, "cannot be negative")
	}
	if c.MaxFileSize <= 0 {
		return NewValidationError("MaxFileSize", c.MaxFileSize, "must be positive")
	}
	if c.CacheCapacity < 0 {
		return NewValidationError("CacheCapacity", c.CacheCapacity, "cannot be negative")
	}
	if c.RecencyWindow < 0 {
		return NewValidationError("RecencyWindow", c.RecencyWindow, "cannot be negative")
	}
	if c.LookaheadBytes < 0 {
		return NewValidationError("LookaheadBytes", c.LookaheadBytes, "cannot be negative")
	}
	if c.LoadRetries < 1 {
		return NewValidationError("LoadRetries", c.LoadRetries, "must be at least 1")
	}
	if c.SeekCancelFactor < 1 {
		return NewValidationError("SeekCancelFactor", c.SeekCancelFactor, "must be at least 1")
	}
	if c.PoolRetainFactor < 1 {
		return NewValidationError("PoolRetainFactor", c.PoolRetainFactor, "must be at least 1")
	}
	return nil
}

// quietLogger returns a logger that discards everything. Callers that want
// diagnostics supply their own via Config.Logger.
func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// cacheCapacityFor derives the resident-chunk limit for one reader as a pure
// function of file geometry and configuration. Small files get a capacity
// equal to their chunk count; large files get twice the prefetch depth plus
// headroom for back-and-forth seeks, clamped to a fixed range.
func cacheCapacityFor(fileSize, chunkSize int64, cfg Config) int {
	if cfg.CacheCapacity > 0 {
		return cfg.CacheCapacity
	}
	count := chunkCountFor(fileSize, chunkSize)
	capacity := int(cfg.LookaheadBytes/chunkSize)*2 + 4
	if capacity < minCacheCapacity {
		capacity = minCacheCapacity
	}
	if capacity > maxCacheCapacity {
		capacity = maxCacheCapacity
	}
	if int64(capacity) > int64(count) && count > 0 {
		capacity = int(count)
	}
	return capacity
}

// poolTargetFor derives the buffer pool's target size: enough buffers for
// the full cache plus in-flight prefetch, clamped to a fixed range.
func poolTargetFor(fileSize, chunkSize int64, cfg Config) int {
	target := cacheCapacityFor(fileSize, chunkSize, cfg) + prefetchDepthFor(chunkSize, cfg)
	if target < minPoolTarget {
		target = minPoolTarget
	}
	if target > maxPoolTarget {
		target = maxPoolTarget
	}
	return target
}

// prefetchDepthFor derives the look-ahead depth in chunks from the byte
// budget. At least one chunk is always prefetched.
func prefetchDepthFor(chunkSize int64, cfg Config) int {
	if chunkSize <= 0 {
		return 0
	}
	depth := int(cfg.LookaheadBytes / chunkSize)
	if depth < 1 {
		depth = 1
	}
	return depth
}
