package vaultstream

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

// feedImport writes source chunks [from, to) into the pipeline.
func feedImport(t *testing.T, ip *ImportPipeline, source []byte, chunkSize int64, from, to uint32) {
	t.Helper()
	for i := from; i < to; i++ {
		start := int64(i) * chunkSize
		end := start + chunkSize
		if end > int64(len(source)) {
			end = int64(len(source))
		}
		chunk := make([]byte, end-start)
		copy(chunk, source[start:end])
		if _, err := ip.WriteChunk(context.Background(), chunk); err != nil {
			t.Fatalf("WriteChunk(%d): %v", i, err)
		}
	}
}

func TestImportRoundTrip(t *testing.T) {
	eng := newTestEngine()
	const chunkSize = 4096
	source := pattern(5*chunkSize+1000, 17) // ragged tail
	fp := eng.Fingerprint(source[:64], source[len(source)-64:], int64(len(source)))

	var progress []Progress
	ip, err := StartImport(context.Background(), eng, ImportRequest{
		TargetName:  "movie.mkv",
		TotalBytes:  int64(len(source)),
		ChunkSize:   chunkSize,
		Fingerprint: fp,
		OnProgress:  func(p Progress) { progress = append(progress, p) },
	}, Config{})
	if err != nil {
		t.Fatalf("StartImport: %v", err)
	}
	if ip.Resumed() {
		t.Error("fresh import reported as resumed")
	}

	feedImport(t, ip, source, chunkSize, 0, 6)
	handle, err := ip.Finish(context.Background())
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if handle.Size != int64(len(source)) || handle.ChunkCount != 6 {
		t.Errorf("handle = %+v", handle)
	}
	if got := eng.assembled(handle.ID); !bytes.Equal(got, source) {
		t.Fatal("stored content differs from source")
	}

	// Progress is monotonic and complete.
	if len(progress) != 6 {
		t.Fatalf("progress callback fired %d times, want 6", len(progress))
	}
	for i, p := range progress {
		if p.ChunksCompleted != uint32(i)+1 {
			t.Errorf("progress %d reports %d chunks", i, p.ChunksCompleted)
		}
		if i > 0 && p.BytesWritten <= progress[i-1].BytesWritten {
			t.Errorf("progress not monotonic at %d", i)
		}
	}
	last := progress[len(progress)-1]
	if last.BytesWritten != int64(len(source)) || last.ChunksCompleted != last.TotalChunks {
		t.Errorf("final progress = %+v", last)
	}
}

func TestImportWipesPlaintext(t *testing.T) {
	eng := newTestEngine()
	const chunkSize = 1024
	source := pattern(chunkSize, 21)
	fp := eng.Fingerprint(source, nil, chunkSize)

	ip, err := StartImport(context.Background(), eng, ImportRequest{
		TotalBytes:  chunkSize,
		ChunkSize:   chunkSize,
		Fingerprint: fp,
	}, Config{})
	if err != nil {
		t.Fatalf("StartImport: %v", err)
	}

	buf := make([]byte, chunkSize)
	copy(buf, source)
	if _, err := ip.WriteChunk(context.Background(), buf); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}
	for i, v := range buf {
		if v != 0 {
			t.Fatalf("plaintext byte %d = %#x after WriteChunk", i, v)
		}
	}

	// The buffer is wiped on failure too.
	bad := pattern(chunkSize, 22)
	if _, err := ip.WriteChunk(context.Background(), bad); err == nil {
		t.Fatal("write past the declared size succeeded")
	}
	for i, v := range bad {
		if v != 0 {
			t.Fatalf("plaintext byte %d = %#x after failed WriteChunk", i, v)
		}
	}
}

func TestImportChunkLengthMismatch(t *testing.T) {
	eng := newTestEngine()
	const chunkSize = 1024
	source := pattern(3*chunkSize, 8)
	fp := eng.Fingerprint(source[:64], source[len(source)-64:], int64(len(source)))

	ip, err := StartImport(context.Background(), eng, ImportRequest{
		TotalBytes:  int64(len(source)),
		ChunkSize:   chunkSize,
		Fingerprint: fp,
	}, Config{})
	if err != nil {
		t.Fatalf("StartImport: %v", err)
	}

	_, err = ip.WriteChunk(context.Background(), make([]byte, chunkSize-1))
	if !IsImportError(err) {
		t.Fatalf("got %v, want ImportError", err)
	}
	if !errors.Is(err, ErrChunkLengthMismatch) {
		t.Errorf("error does not wrap ErrChunkLengthMismatch: %v", err)
	}
	// The rejected chunk was not committed.
	if ip.CommittedChunks() != 0 {
		t.Errorf("committed = %d after rejected write", ip.CommittedChunks())
	}
}

func TestImportFinishBeforeComplete(t *testing.T) {
	eng := newTestEngine()
	const chunkSize = 1024
	source := pattern(3*chunkSize, 4)
	fp := eng.Fingerprint(source[:64], source[len(source)-64:], int64(len(source)))

	ip, err := StartImport(context.Background(), eng, ImportRequest{
		TotalBytes:  int64(len(source)),
		ChunkSize:   chunkSize,
		Fingerprint: fp,
	}, Config{})
	if err != nil {
		t.Fatalf("StartImport: %v", err)
	}
	feedImport(t, ip, source, chunkSize, 0, 2)

	if _, err := ip.Finish(context.Background()); !errors.Is(err, ErrFinishBeforeComplete) {
		t.Fatalf("Finish with 2/3 chunks: %v, want ErrFinishBeforeComplete", err)
	}
	// The session survives the failed finish and can be completed.
	feedImport(t, ip, source, chunkSize, 2, 3)
	if _, err := ip.Finish(context.Background()); err != nil {
		t.Fatalf("Finish: %v", err)
	}
}

func TestImportResumeByFingerprint(t *testing.T) {
	eng := newTestEngine()
	const chunkSize = 2048
	source := pattern(7*chunkSize+500, 13)
	fp := eng.Fingerprint(source[:64], source[len(source)-64:], int64(len(source)))
	req := ImportRequest{
		TargetName:  "resume.bin",
		TotalBytes:  int64(len(source)),
		ChunkSize:   chunkSize,
		Fingerprint: fp,
	}

	// Simulate an interrupted run: three chunks committed, then the
	// pipeline object is dropped without Finish or Abort.
	ip, err := StartImport(context.Background(), eng, req, Config{})
	if err != nil {
		t.Fatalf("StartImport: %v", err)
	}
	feedImport(t, ip, source, chunkSize, 0, 3)
	importID := ip.State().ID

	resumed, err := StartImport(context.Background(), eng, req, Config{})
	if err != nil {
		t.Fatalf("StartImport (resume): %v", err)
	}
	if !resumed.Resumed() {
		t.Fatal("matching pending session was not resumed")
	}
	if resumed.State().ID != importID {
		t.Errorf("resume created a new session %s, want %s", resumed.State().ID, importID)
	}
	if resumed.CommittedChunks() != 3 {
		t.Errorf("resume cursor = %d, want 3", resumed.CommittedChunks())
	}
	if resumed.SkipBytes() != 3*chunkSize {
		t.Errorf("SkipBytes = %d, want %d", resumed.SkipBytes(), 3*chunkSize)
	}

	feedImport(t, resumed, source, chunkSize, 3, 8)
	handle, err := resumed.Finish(context.Background())
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if got := eng.assembled(handle.ID); !bytes.Equal(got, source) {
		t.Fatal("resumed import produced different content")
	}
}

func TestImportDifferentFingerprintStartsFresh(t *testing.T) {
	eng := newTestEngine()
	const chunkSize = 1024
	a := pattern(2*chunkSize, 1)
	b := pattern(2*chunkSize, 2)
	fpA := eng.Fingerprint(a[:64], a[len(a)-64:], int64(len(a)))
	fpB := eng.Fingerprint(b[:64], b[len(b)-64:], int64(len(b)))

	ipA, err := StartImport(context.Background(), eng, ImportRequest{
		TotalBytes: int64(len(a)), ChunkSize: chunkSize, Fingerprint: fpA,
	}, Config{})
	if err != nil {
		t.Fatalf("StartImport A: %v", err)
	}
	feedImport(t, ipA, a, chunkSize, 0, 1)

	ipB, err := StartImport(context.Background(), eng, ImportRequest{
		TotalBytes: int64(len(b)), ChunkSize: chunkSize, Fingerprint: fpB,
	}, Config{})
	if err != nil {
		t.Fatalf("StartImport B: %v", err)
	}
	if ipB.Resumed() {
		t.Error("different source resumed a foreign session")
	}
	if ipB.State().ID == ipA.State().ID {
		t.Error("two sources share one session")
	}
}

func TestResumeImportFingerprintMismatch(t *testing.T) {
	eng := newTestEngine()
	const chunkSize = 1024
	source := pattern(2*chunkSize, 6)
	fp := eng.Fingerprint(source[:64], source[len(source)-64:], int64(len(source)))

	ip, err := StartImport(context.Background(), eng, ImportRequest{
		TotalBytes: int64(len(source)), ChunkSize: chunkSize, Fingerprint: fp,
	}, Config{})
	if err != nil {
		t.Fatalf("StartImport: %v", err)
	}
	id := ip.State().ID

	_, err = ResumeImport(context.Background(), eng, id, []byte("wrong"), nil, Config{})
	if !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("got %v, want ErrFingerprintMismatch", err)
	}

	if _, err := ResumeImport(context.Background(), eng, id, fp, nil, Config{}); err != nil {
		t.Fatalf("ResumeImport with matching fingerprint: %v", err)
	}
}

func TestImportAbort(t *testing.T) {
	eng := newTestEngine()
	const chunkSize = 1024
	source := pattern(3*chunkSize, 19)
	fp := eng.Fingerprint(source[:64], source[len(source)-64:], int64(len(source)))

	ip, err := StartImport(context.Background(), eng, ImportRequest{
		TotalBytes: int64(len(source)), ChunkSize: chunkSize, Fingerprint: fp,
	}, Config{})
	if err != nil {
		t.Fatalf("StartImport: %v", err)
	}
	feedImport(t, ip, source, chunkSize, 0, 2)
	id := ip.State().ID

	if err := ip.Abort(context.Background()); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if err := ip.Abort(context.Background()); err != nil {
		t.Fatalf("second Abort: %v", err)
	}
	if _, err := ip.WriteChunk(context.Background(), make([]byte, chunkSize)); !errors.Is(err, ErrImportClosed) {
		t.Errorf("WriteChunk after abort: %v, want ErrImportClosed", err)
	}
	if _, err := ip.Finish(context.Background()); !errors.Is(err, ErrImportClosed) {
		t.Errorf("Finish after abort: %v, want ErrImportClosed", err)
	}
	if _, err := eng.GetImportState(context.Background(), id); !errors.Is(err, ErrUnknownImport) {
		t.Errorf("aborted session still persisted: %v", err)
	}
}

func TestImportTerminalAfterFinish(t *testing.T) {
	eng := newTestEngine()
	const chunkSize = 1024
	source := pattern(chunkSize, 23)
	fp := eng.Fingerprint(source, nil, chunkSize)

	ip, err := StartImport(context.Background(), eng, ImportRequest{
		TotalBytes: chunkSize, ChunkSize: chunkSize, Fingerprint: fp,
	}, Config{})
	if err != nil {
		t.Fatalf("StartImport: %v", err)
	}
	feedImport(t, ip, source, chunkSize, 0, 1)
	if _, err := ip.Finish(context.Background()); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if _, err := ip.WriteChunk(context.Background(), make([]byte, chunkSize)); !errors.Is(err, ErrImportClosed) {
		t.Errorf("WriteChunk after finish: %v, want ErrImportClosed", err)
	}
	if err := ip.Abort(context.Background()); err != nil {
		t.Errorf("Abort after finish: %v, want nil", err)
	}
}
