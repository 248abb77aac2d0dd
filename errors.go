package vaultstream

import (
	"errors"
	"fmt"
)

// ChunkLoadError reports a failed chunk load after all retry attempts were
// exhausted. It wraps the last engine error; a deadline error from the
// per-attempt timeout indicates the load timed out rather than failed.
type ChunkLoadError struct {
	FileID   string // Identifier of the file being read
	ChunkIdx uint32 // Index of the chunk that failed to load
	Attempts int    // Number of attempts made
	Err      error  // Last underlying error
}

func (e *ChunkLoadError) Error() string {
	return fmt.Sprintf("chunk load error: file %s chunk %d failed after %d attempts: %v",
		e.FileID, e.ChunkIdx, e.Attempts, e.Err)
}

func (e *ChunkLoadError) Unwrap() error {
	return e.Err
}

// OversizeError reports a file whose declared size exceeds the configured
// hard ceiling. It is returned at open time; no allocation is attempted.
type OversizeError struct {
	Size  int64
	Limit int64
}

func (e *OversizeError) Error() string {
	return fmt.Sprintf("oversize error: declared size %d exceeds limit %d", e.Size, e.Limit)
}

// ImportError reports a failure in the streaming import pipeline.
type ImportError struct {
	Operation string // "start", "write", "finish", "abort"
	ImportID  string
	ChunkIdx  uint32 // Chunk index, if applicable
	Message   string
	Err       error
}

func (e *ImportError) Error() string {
	if e.Operation == "write" {
		return fmt.Sprintf("import error: %s %s (chunk %d): %s", e.Operation, e.ImportID, e.ChunkIdx, e.Message)
	}
	if e.ImportID != "" {
		return fmt.Sprintf("import error: %s %s: %s", e.Operation, e.ImportID, e.Message)
	}
	return fmt.Sprintf("import error: %s: %s", e.Operation, e.Message)
}

func (e *ImportError) Unwrap() error {
	return e.Err
}

// ValidationError represents a configuration or parameter validation error.
type ValidationError struct {
	Field   string // The field or parameter that failed validation
	Value   any    // The invalid value
	Message string // Human-readable error message
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// Common sentinel errors.
var (
	ErrReaderClosed          = errors.New("reader is closed")
	ErrImportClosed          = errors.New("import session is finished or aborted")
	ErrFingerprintMismatch   = errors.New("resume fingerprint does not match source")
	ErrFinishBeforeComplete  = errors.New("finish requested before all chunks were committed")
	ErrChunkLengthMismatch   = errors.New("chunk plaintext has wrong length")
	ErrNilEngine             = errors.New("engine cannot be nil")
	ErrNilBuffer             = errors.New("buffer cannot be nil")
	ErrNegativeOffset        = errors.New("negative offset not allowed")
	ErrUnknownImport         = errors.New("unknown import session")
	ErrUnknownFile           = errors.New("unknown file")
)

// NewValidationError creates a new validation error.
func NewValidationError(field string, value any, message string) error {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// IsChunkLoadError checks if an error is a chunk load error.
func IsChunkLoadError(err error) bool {
	var ce *ChunkLoadError
	return errors.As(err, &ce)
}

// IsOversizeError checks if an error is an oversize rejection.
func IsOversizeError(err error) bool {
	var oe *OversizeError
	return errors.As(err, &oe)
}

// IsImportError checks if an error is an import pipeline error.
func IsImportError(err error) bool {
	var ie *ImportError
	return errors.As(err, &ie)
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
