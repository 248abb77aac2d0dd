package vaultstream

import (
	"testing"
	"time"
)

func TestConfigDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.PreloadThreshold != DefaultPreloadThreshold {
		t.Errorf("PreloadThreshold = %d", cfg.PreloadThreshold)
	}
	if cfg.MaxFileSize != DefaultMaxFileSize {
		t.Errorf("MaxFileSize = %d", cfg.MaxFileSize)
	}
	if cfg.RecencyWindow != DefaultRecencyWindow {
		t.Errorf("RecencyWindow = %v", cfg.RecencyWindow)
	}
	if cfg.Logger == nil {
		t.Error("defaulted config has nil logger")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestConfigPartialOverride(t *testing.T) {
	cfg := Config{PreloadThreshold: 1024, LoadRetries: 5}.withDefaults()
	if cfg.PreloadThreshold != 1024 {
		t.Errorf("override lost: PreloadThreshold = %d", cfg.PreloadThreshold)
	}
	if cfg.LoadRetries != 5 {
		t.Errorf("override lost: LoadRetries = %d", cfg.LoadRetries)
	}
	if cfg.LoadBackoff != DefaultLoadBackoff {
		t.Errorf("default lost: LoadBackoff = %v", cfg.LoadBackoff)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Config)
	}{
		{"negative preload threshold", func(c *Config) { c.PreloadThreshold = -1 }},
		{"negative cache capacity", func(c *Config) { c.CacheCapacity = -1 }},
		{"negative recency window", func(c *Config) { c.RecencyWindow = -time.Second }},
		{"negative lookahead", func(c *Config) { c.LookaheadBytes = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mut(&cfg)
			if err := cfg.Validate(); !IsValidationError(err) {
				t.Errorf("got %v, want validation error", err)
			}
		})
	}
}

func TestCacheCapacityFor(t *testing.T) {
	cfg := DefaultConfig()

	// Override wins untouched.
	cfg.CacheCapacity = 200
	if got := cacheCapacityFor(1<<40, DefaultChunkSize, cfg); got != 200 {
		t.Errorf("override capacity = %d", got)
	}

	// Derived capacity is clamped to the fixed range.
	cfg.CacheCapacity = 0
	cfg.LookaheadBytes = 1 << 40
	if got := cacheCapacityFor(1<<40, DefaultChunkSize, cfg); got != maxCacheCapacity {
		t.Errorf("huge lookahead capacity = %d, want %d", got, maxCacheCapacity)
	}
	cfg.LookaheadBytes = 1
	if got := cacheCapacityFor(1<<40, DefaultChunkSize, cfg); got != minCacheCapacity {
		t.Errorf("tiny lookahead capacity = %d, want %d", got, minCacheCapacity)
	}

	// Never larger than the file itself.
	cfg.LookaheadBytes = DefaultLookaheadBytes
	if got := cacheCapacityFor(2*DefaultChunkSize, DefaultChunkSize, cfg); got != 2 {
		t.Errorf("capacity for 2-chunk file = %d", got)
	}
}

func TestPrefetchDepthFor(t *testing.T) {
	cfg := DefaultConfig()
	if got := prefetchDepthFor(DefaultChunkSize, cfg); got != int(DefaultLookaheadBytes/DefaultChunkSize) {
		t.Errorf("depth = %d", got)
	}
	cfg.LookaheadBytes = 1
	if got := prefetchDepthFor(DefaultChunkSize, cfg); got != 1 {
		t.Errorf("minimum depth = %d, want 1", got)
	}
}
