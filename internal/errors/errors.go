package errors

import "fmt"

// ErrorCode represents a murmur error code.
type ErrorCode string

const (
	ErrInvalidRequest           ErrorCode = "INVALID_REQUEST"            // 400
	ErrNotFound                 ErrorCode = "NOT_FOUND"                  // 404
	ErrStaleTask                ErrorCode = "STALE_TASK"                 // 409
	ErrInvalidTransition        ErrorCode = "INVALID_TRANSITION"         // 409
	ErrEncryptionKeyUnavailable ErrorCode = "ENCRYPTION_KEY_UNAVAILABLE" // 500, fatal to encrypted ops
	ErrStorageCorruption        ErrorCode = "STORAGE_CORRUPTION"         // 500
	ErrMigrationFailure         ErrorCode = "MIGRATION_FAILURE"          // 500
	ErrTranscriptionFailure     ErrorCode = "TRANSCRIPTION_FAILURE"      // 502, retryable up to bound
	ErrRefinementFailure        ErrorCode = "REFINEMENT_FAILURE"         // 502, retryable up to bound
	ErrAudioUnavailable         ErrorCode = "AUDIO_UNAVAILABLE"          // 410, terminal
	ErrBackupRestoreFailure     ErrorCode = "BACKUP_RESTORE_FAILURE"     // 500
	ErrInternal                 ErrorCode = "INTERNAL"                   // 500
)

// JournalError represents a structured error with code, status, and details.
type JournalError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *JournalError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *JournalError {
	return &JournalError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for when an entry cannot be found.
func NewNotFound(id string) *JournalError {
	return &JournalError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("entry not found: %s", id),
		Details: map[string]any{"id": id},
	}
}

// NewStaleTask creates a 409 error for a task whose target entry was deleted
// or moved to a different stage after the task was queued.
func NewStaleTask(id, expectedStage string) *JournalError {
	return &JournalError{
		Code:    ErrStaleTask,
		Status:  409,
		Message: fmt.Sprintf("entry %s is no longer in stage %q", id, expectedStage),
		Details: map[string]any{"id": id, "expected_stage": expectedStage},
	}
}

// NewInvalidTransition creates a 409 error for a processing-stage transition
// not permitted by the entry state machine.
func NewInvalidTransition(from, to string) *JournalError {
	return &JournalError{
		Code:    ErrInvalidTransition,
		Status:  409,
		Message: fmt.Sprintf("cannot transition processing stage from %q to %q", from, to),
		Details: map[string]any{"from": from, "to": to},
	}
}

// NewEncryptionKeyUnavailable creates a fatal error for when the credential
// vault cannot produce the entry key. Never retried silently.
func NewEncryptionKeyUnavailable(err error) *JournalError {
	msg := "encryption key unavailable"
	if err != nil {
		msg = fmt.Sprintf("encryption key unavailable: %v", err)
	}
	return &JournalError{
		Code:    ErrEncryptionKeyUnavailable,
		Status:  500,
		Message: msg,
	}
}

// NewStorageCorruption creates an error for structural corruption detected in
// the store. The caller is expected to recommend a restore, not perform one.
func NewStorageCorruption(detail string) *JournalError {
	return &JournalError{
		Code:    ErrStorageCorruption,
		Status:  500,
		Message: fmt.Sprintf("storage corruption detected: %s", detail),
	}
}

// NewMigrationFailure creates an error carrying partial migration progress so
// the caller can decide whether to re-run or alert.
func NewMigrationFailure(version int, err error, columnsAdded []string) *JournalError {
	return &JournalError{
		Code:    ErrMigrationFailure,
		Status:  500,
		Message: fmt.Sprintf("migration to version %d failed: %v", version, err),
		Details: map[string]any{"failed_version": version, "columns_added": columnsAdded},
	}
}

// NewTranscriptionFailure creates a retryable transcription error.
func NewTranscriptionFailure(err error) *JournalError {
	return &JournalError{
		Code:    ErrTranscriptionFailure,
		Status:  502,
		Message: fmt.Sprintf("transcription failed: %v", err),
	}
}

// NewRefinementFailure creates a retryable refinement error.
func NewRefinementFailure(err error) *JournalError {
	return &JournalError{
		Code:    ErrRefinementFailure,
		Status:  502,
		Message: fmt.Sprintf("refinement failed: %v", err),
	}
}

// NewAudioUnavailable creates a terminal error for missing or unreadable audio.
func NewAudioUnavailable(audioURI string) *JournalError {
	return &JournalError{
		Code:    ErrAudioUnavailable,
		Status:  410,
		Message: fmt.Sprintf("audio unavailable: %s", audioURI),
		Details: map[string]any{"audio_uri": audioURI},
	}
}

// NewBackupRestoreFailure creates an error for a failed restore. The original
// store state is intact when this is returned.
func NewBackupRestoreFailure(path string, err error) *JournalError {
	return &JournalError{
		Code:    ErrBackupRestoreFailure,
		Status:  500,
		Message: fmt.Sprintf("restore from %s failed: %v", path, err),
		Details: map[string]any{"backup_path": path},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *JournalError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &JournalError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// Is checks if an error is a JournalError with the given code.
func Is(err error, code ErrorCode) bool {
	if jErr, ok := err.(*JournalError); ok {
		return jErr.Code == code
	}
	return false
}
