package container

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/absfs/absfs"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/richoarbianto/vaultstream"
)

const (
	filesDir   = "/files"
	importsDir = "/imports"

	saltKey      = "meta/salt"
	filePrefix   = "file/"
	importPrefix = "import/"
)

// Options configures a Store.
type Options struct {
	// FS is the filesystem holding the encrypted chunk blobs.
	FS absfs.FileSystem

	// MetaDir is the directory for the badger metadata registry. Empty runs
	// badger in memory, which is what tests want.
	MetaDir string

	// KeyProvider supplies the store key. Required.
	KeyProvider KeyProvider

	// Cipher selects the AEAD. Zero means AES-256-GCM.
	Cipher CipherSuite

	// Logger receives structured diagnostics. If nil, logging is discarded.
	Logger *logrus.Logger
}

// fileRecord is the registry entry of one stored file.
type fileRecord struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ChunkSize  int64     `json:"chunk_size"`
	ChunkCount uint32    `json:"chunk_count"`
	ImportedAt time.Time `json:"imported_at"`
}

// Store is an encrypted chunk container over an absfs filesystem with a
// badger-backed registry. It implements vaultstream.Engine.
type Store struct {
	fs     absfs.FileSystem
	db     *badger.DB
	engine *cipherEngine
	log    *logrus.Logger
}

var _ vaultstream.Engine = (*Store)(nil)

// Open opens (or initializes) a store. The key is derived once from the
// provider and the persisted salt; the derived copy is wiped after the AEAD
// is keyed.
func Open(opts Options) (*Store, error) {
	if opts.FS == nil {
		return nil, errors.New("filesystem cannot be nil")
	}
	if opts.KeyProvider == nil {
		return nil, errors.New("key provider cannot be nil")
	}
	if opts.Cipher == 0 {
		opts.Cipher = CipherAES256GCM
	}
	log := opts.Logger
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}

	bopts := badger.DefaultOptions(opts.MetaDir)
	if opts.MetaDir == "" {
		bopts = bopts.WithInMemory(true)
	}
	bopts.Logger = nil
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("opening metadata registry: %w", err)
	}

	salt, err := loadOrCreateSalt(db, opts.KeyProvider)
	if err != nil {
		db.Close()
		return nil, err
	}
	key, err := opts.KeyProvider.DeriveKey(salt)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("deriving store key: %w", err)
	}
	engine, err := newCipherEngine(opts.Cipher, key)
	vaultstream.Wipe(key)
	if err != nil {
		db.Close()
		return nil, err
	}

	for _, dir := range []string{filesDir, importsDir} {
		if err := opts.FS.MkdirAll(dir, 0700); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	return &Store{fs: opts.FS, db: db, engine: engine, log: log}, nil
}

// Close closes the metadata registry.
func (s *Store) Close() error {
	return s.db.Close()
}

func loadOrCreateSalt(db *badger.DB, kp KeyProvider) ([]byte, error) {
	var salt []byte
	err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(saltKey))
		if err != nil {
			return err
		}
		salt, err = item.ValueCopy(nil)
		return err
	})
	if err == nil {
		return salt, nil
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("loading salt: %w", err)
	}

	salt, err = kp.GenerateSalt()
	if err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	err = db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(saltKey), salt)
	})
	if err != nil {
		return nil, fmt.Errorf("persisting salt: %w", err)
	}
	return salt, nil
}

// DecryptChunk implements vaultstream.Engine.
func (s *Store) DecryptChunk(ctx context.Context, handle vaultstream.FileHandle, index uint32) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if index >= handle.ChunkCount {
		return nil, fmt.Errorf("chunk index %d out of range (file has %d chunks)", index, handle.ChunkCount)
	}
	return s.readChunkBlob(chunkPath(filesDir, handle.ID, index))
}

func (s *Store) readChunkBlob(path string) ([]byte, error) {
	f, err := s.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening chunk blob: %w", err)
	}
	defer f.Close()

	var header chunkHeader
	if _, err := header.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("reading chunk header: %w", err)
	}
	ciphertext := make([]byte, int(header.PlaintextSize)+s.engine.overhead())
	if _, err := io.ReadFull(f, ciphertext); err != nil {
		return nil, fmt.Errorf("reading ciphertext: %w", err)
	}

	plaintext, err := s.engine.open(header.Nonce, ciphertext)
	if err != nil {
		return nil, err
	}
	if uint32(len(plaintext)) != header.PlaintextSize {
		vaultstream.Wipe(plaintext)
		return nil, fmt.Errorf("chunk plaintext length %d does not match header %d", len(plaintext), header.PlaintextSize)
	}
	return plaintext, nil
}

// EncryptChunk implements vaultstream.Engine. The chunk is staged under the
// import's directory, synced, and only then reflected in the session's
// committed count, which is persisted before returning.
func (s *Store) EncryptChunk(ctx context.Context, importID string, index uint32, plaintext []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st, err := s.GetImportState(ctx, importID)
	if err != nil {
		return err
	}
	if index != st.CommittedChunks {
		return fmt.Errorf("chunk %d out of order, next expected is %d", index, st.CommittedChunks)
	}

	nonce, ciphertext, err := s.engine.seal(plaintext)
	if err != nil {
		return err
	}
	dir := fmt.Sprintf("%s/%s", importsDir, importID)
	if err := s.fs.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating staging dir: %w", err)
	}
	if err := s.writeChunkBlob(chunkPath(importsDir, importID, index), uint32(len(plaintext)), nonce, ciphertext); err != nil {
		return err
	}

	st.CommittedChunks++
	return s.putImportState(st)
}

func (s *Store) writeChunkBlob(path string, plaintextSize uint32, nonce, ciphertext []byte) error {
	f, err := s.fs.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating chunk blob: %w", err)
	}
	header := chunkHeader{PlaintextSize: plaintextSize, Nonce: nonce}
	if _, err := header.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("writing chunk header: %w", err)
	}
	if _, err := f.Write(ciphertext); err != nil {
		f.Close()
		return fmt.Errorf("writing ciphertext: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing chunk blob: %w", err)
	}
	return f.Close()
}

// Fingerprint implements vaultstream.Engine: SHA-256 over a domain prefix,
// the head sample, the tail sample and the declared size.
func (s *Store) Fingerprint(head, tail []byte, totalSize int64) []byte {
	h := sha256.New()
	h.Write([]byte("vaultstream-fp-v1"))
	h.Write(head)
	h.Write(tail)
	var size [8]byte
	binary.LittleEndian.PutUint64(size[:], uint64(totalSize))
	h.Write(size[:])
	return h.Sum(nil)
}

// StartImport implements vaultstream.Engine.
func (s *Store) StartImport(ctx context.Context, state vaultstream.ImportState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if state.ID == "" {
		return errors.New("import id cannot be empty")
	}
	exists := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(importPrefix + state.ID))
		if err == nil {
			exists = true
			return nil
		}
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("checking session: %w", err)
	}
	if exists {
		return fmt.Errorf("import session %s already exists", state.ID)
	}
	return s.putImportState(state)
}

func (s *Store) putImportState(state vaultstream.ImportState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(importPrefix+state.ID), raw)
	})
	if err != nil {
		return fmt.Errorf("persisting session: %w", err)
	}
	return nil
}

// GetImportState implements vaultstream.Engine.
func (s *Store) GetImportState(ctx context.Context, importID string) (vaultstream.ImportState, error) {
	if err := ctx.Err(); err != nil {
		return vaultstream.ImportState{}, err
	}
	var st vaultstream.ImportState
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(importPrefix + importID))
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, &st)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return vaultstream.ImportState{}, vaultstream.ErrUnknownImport
	}
	if err != nil {
		return vaultstream.ImportState{}, fmt.Errorf("loading session: %w", err)
	}
	return st, nil
}

// PendingImports implements vaultstream.Engine.
func (s *Store) PendingImports(ctx context.Context) ([]vaultstream.ImportState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var pending []vaultstream.ImportState
	err := s.db.View(func(txn *badger.Txn) error {
		iopts := badger.DefaultIteratorOptions
		iopts.Prefix = []byte(importPrefix)
		it := txn.NewIterator(iopts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var st vaultstream.ImportState
			if err := json.Unmarshal(raw, &st); err != nil {
				return err
			}
			pending = append(pending, st)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return pending, nil
}

// FinishImport implements vaultstream.Engine. Staged chunks are renamed into
// the files tree, the file record is registered and the session removed. A
// session with uncommitted chunks fails closed here too.
func (s *Store) FinishImport(ctx context.Context, importID string) (vaultstream.FileHandle, error) {
	st, err := s.GetImportState(ctx, importID)
	if err != nil {
		return vaultstream.FileHandle{}, err
	}
	if st.CommittedChunks < st.TotalChunks {
		return vaultstream.FileHandle{}, vaultstream.ErrFinishBeforeComplete
	}

	fileID := uuid.NewString()
	dir := fmt.Sprintf("%s/%s", filesDir, fileID)
	if err := s.fs.MkdirAll(dir, 0700); err != nil {
		return vaultstream.FileHandle{}, fmt.Errorf("creating file dir: %w", err)
	}
	for i := uint32(0); i < st.TotalChunks; i++ {
		src := chunkPath(importsDir, importID, i)
		dst := chunkPath(filesDir, fileID, i)
		if err := s.fs.Rename(src, dst); err != nil {
			return vaultstream.FileHandle{}, fmt.Errorf("promoting chunk %d: %w", i, err)
		}
	}

	rec := fileRecord{
		ID:         fileID,
		Name:       st.TargetName,
		Size:       st.TotalBytes,
		ChunkSize:  st.ChunkSize,
		ChunkCount: st.TotalChunks,
		ImportedAt: time.Now(),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return vaultstream.FileHandle{}, fmt.Errorf("encoding file record: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(filePrefix+fileID), raw); err != nil {
			return err
		}
		return txn.Delete([]byte(importPrefix + importID))
	})
	if err != nil {
		return vaultstream.FileHandle{}, fmt.Errorf("registering file: %w", err)
	}
	s.fs.RemoveAll(fmt.Sprintf("%s/%s", importsDir, importID))

	s.log.WithFields(logrus.Fields{
		"file":   fileID,
		"name":   rec.Name,
		"chunks": rec.ChunkCount,
	}).Info("import promoted to file")
	return rec.handle(), nil
}

// AbortImport implements vaultstream.Engine. Staged chunk blobs are
// overwritten with random bytes before unlinking, so aborting really removes
// the partial ciphertext rather than just the directory entries.
func (s *Store) AbortImport(ctx context.Context, importID string) error {
	st, err := s.GetImportState(ctx, importID)
	if err != nil {
		return err
	}
	for i := uint32(0); i < st.CommittedChunks; i++ {
		path := chunkPath(importsDir, importID, i)
		if err := s.shredFile(path); err != nil {
			s.log.WithField("path", path).WithError(err).Warn("shredding staged chunk failed")
		}
	}
	s.fs.RemoveAll(fmt.Sprintf("%s/%s", importsDir, importID))

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(importPrefix + importID))
	})
	if err != nil {
		return fmt.Errorf("removing session: %w", err)
	}
	s.log.WithField("import", importID).Info("import aborted and staged chunks shredded")
	return nil
}

// shredFile overwrites a file's full length with random bytes, syncs, and
// removes it.
func (s *Store) shredFile(path string) error {
	info, err := s.fs.Stat(path)
	if err != nil {
		return err
	}
	f, err := s.fs.OpenFile(path, os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	junk := make([]byte, info.Size())
	rand.Read(junk)
	if _, err := f.Write(junk); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return s.fs.Remove(path)
}

// Files lists all stored files.
func (s *Store) Files(ctx context.Context) ([]vaultstream.FileHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var handles []vaultstream.FileHandle
	err := s.db.View(func(txn *badger.Txn) error {
		iopts := badger.DefaultIteratorOptions
		iopts.Prefix = []byte(filePrefix)
		it := txn.NewIterator(iopts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var rec fileRecord
			if err := json.Unmarshal(raw, &rec); err != nil {
				return err
			}
			handles = append(handles, rec.handle())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	return handles, nil
}

// File returns the handle of one stored file.
func (s *Store) File(ctx context.Context, fileID string) (vaultstream.FileHandle, error) {
	if err := ctx.Err(); err != nil {
		return vaultstream.FileHandle{}, err
	}
	var rec fileRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(filePrefix + fileID))
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, &rec)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return vaultstream.FileHandle{}, vaultstream.ErrUnknownFile
	}
	if err != nil {
		return vaultstream.FileHandle{}, fmt.Errorf("loading file record: %w", err)
	}
	return rec.handle(), nil
}

// RemoveFile shreds a stored file's chunks and drops its record.
func (s *Store) RemoveFile(ctx context.Context, fileID string) error {
	handle, err := s.File(ctx, fileID)
	if err != nil {
		return err
	}
	for i := uint32(0); i < handle.ChunkCount; i++ {
		path := chunkPath(filesDir, fileID, i)
		if err := s.shredFile(path); err != nil {
			s.log.WithField("path", path).WithError(err).Warn("shredding chunk failed")
		}
	}
	s.fs.RemoveAll(fmt.Sprintf("%s/%s", filesDir, fileID))

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(filePrefix + fileID))
	})
	if err != nil {
		return fmt.Errorf("removing file record: %w", err)
	}
	return nil
}

func (r fileRecord) handle() vaultstream.FileHandle {
	return vaultstream.FileHandle{
		ID:         r.ID,
		Name:       r.Name,
		Size:       r.Size,
		ChunkCount: r.ChunkCount,
	}
}

func chunkPath(root, id string, index uint32) string {
	return fmt.Sprintf("%s/%s/%08d.chk", root, id, index)
}
