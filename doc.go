// Package vaultstream is the decrypt-on-demand access layer between an
// encrypted, chunked file container and the consumers of its plaintext:
// media decoders that issue arbitrary-offset reads, and import loops that
// feed very large source files into the container chunk by chunk.
//
// Decrypted bytes live only in memory, only for as long as they are needed,
// and only in bounded quantity regardless of file size. Every buffer that
// held plaintext is overwritten with random bytes and then zeroed before it
// is reused or released.
//
// # Reading
//
// OpenReader returns a random-access Reader for a stored file. Small files
// are decrypted once into a single owned buffer; large files are served from
// a windowed cache of decrypted chunks with recency-aware eviction, a
// reusable buffer pool and background prefetch ahead of the read cursor.
// Large seeks cancel outstanding prefetch so scrubbing stays responsive.
// OpenSingleSlotReader is the degenerate one-chunk variant for simple
// sequential media.
//
//	r, err := vaultstream.OpenReader(ctx, engine, handle, vaultstream.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer r.Close()
//	n, err := r.ReadAt(buf, offset)
//
// # Importing
//
// StartImport opens (or transparently resumes) a streaming import session.
// The caller reads the source in chunk-width windows and hands each window
// to WriteChunk; after every chunk the session's committed count is durably
// advanced, so an interrupted import resumes where it stopped. A cheap
// head+tail fingerprint (SourceFingerprint) confirms a resumed import still
// points at the same source bytes.
//
//	fp, _ := vaultstream.SourceFingerprint(engine, src, size)
//	ip, err := vaultstream.StartImport(ctx, engine, vaultstream.ImportRequest{
//	    TargetName:  "holiday.mkv",
//	    TotalBytes:  size,
//	    Fingerprint: fp,
//	}, cfg)
//	// read source at ip.SkipBytes(), then loop ip.WriteChunk(ctx, window)
//	handle, err := ip.Finish(ctx)
//
// # Engine
//
// The cryptographic and storage machinery is behind the Engine interface:
// decrypt chunk, encrypt chunk, fingerprint, and import-session persistence.
// The container subpackage provides an implementation over an absfs
// filesystem with a badger-backed registry; any other implementation works
// as long as it honors the ownership rules documented on Engine.
package vaultstream
