package vaultstream

// Canonical chunk sizes. Containers written by the legacy chunker use 1 MiB
// chunks; everything since uses 4 MiB. Geometry resolution tries both before
// falling back to an estimate, so containers from either generation (or an
// unknown one) stay readable.
const (
	LegacyChunkSize  int64 = 1 << 20
	DefaultChunkSize int64 = 4 << 20
)

// Geometry is the resolved chunk addressing scheme for one file. It is
// computed once at reader construction and is immutable afterwards.
type Geometry struct {
	ChunkSize  int64
	ChunkCount uint32
	TotalSize  int64

	// Estimated is true when neither canonical chunk size matched the
	// declared chunk count and the size was inferred instead. Non-fatal;
	// callers log it and carry on.
	Estimated bool
}

// ResolveGeometry infers the chunk size used by a container from its declared
// total size and chunk count. It tries the two canonical sizes in order and
// accepts the first whose implied chunk count matches exactly; otherwise it
// estimates ceil(size/count), floored at one byte. Deterministic and free of
// side effects.
func ResolveGeometry(totalSize int64, chunkCount uint32) (Geometry, error) {
	if totalSize < 0 {
		return Geometry{}, NewValidationError("totalSize", totalSize, "cannot be negative")
	}
	if totalSize > 0 && chunkCount == 0 {
		return Geometry{}, NewValidationError("chunkCount", chunkCount, "cannot be zero for a non-empty file")
	}
	if totalSize == 0 {
		return Geometry{ChunkSize: DefaultChunkSize}, nil
	}

	for _, candidate := range []int64{LegacyChunkSize, DefaultChunkSize} {
		if chunkCountFor(totalSize, candidate) == chunkCount {
			return Geometry{
				ChunkSize:  candidate,
				ChunkCount: chunkCount,
				TotalSize:  totalSize,
			}, nil
		}
	}

	estimate := (totalSize + int64(chunkCount) - 1) / int64(chunkCount)
	if estimate < 1 {
		estimate = 1
	}
	return Geometry{
		ChunkSize:  estimate,
		ChunkCount: chunkCount,
		TotalSize:  totalSize,
		Estimated:  true,
	}, nil
}

// ChunkRange returns the plaintext byte range [start, end) covered by the
// chunk at index, clamped to the total size.
func (g Geometry) ChunkRange(index uint32) (start, end int64) {
	start = int64(index) * g.ChunkSize
	if start > g.TotalSize {
		start = g.TotalSize
	}
	end = start + g.ChunkSize
	if end > g.TotalSize {
		end = g.TotalSize
	}
	return start, end
}

// ChunkLen returns the plaintext length of the chunk at index.
func (g Geometry) ChunkLen(index uint32) int64 {
	start, end := g.ChunkRange(index)
	return end - start
}

// IndexFor returns the chunk index containing the given plaintext offset and
// the offset within that chunk. The offset must be within [0, TotalSize).
func (g Geometry) IndexFor(offset int64) (uint32, int64) {
	return uint32(offset / g.ChunkSize), offset % g.ChunkSize
}

// chunkCountFor returns ceil(size/chunkSize).
func chunkCountFor(size, chunkSize int64) uint32 {
	if size <= 0 || chunkSize <= 0 {
		return 0
	}
	return uint32((size + chunkSize - 1) / chunkSize)
}
