package errors

import (
	"fmt"
	"testing"
)

func TestJournalError_Error(t *testing.T) {
	err := &JournalError{
		Code:    ErrNotFound,
		Status:  404,
		Message: "entry not found: 01A",
	}

	expected := "NOT_FOUND: entry not found: 01A"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("01A")

	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Status != 404 {
		t.Errorf("Status = %d, want 404", err.Status)
	}
	if err.Details["id"] != "01A" {
		t.Errorf("Details[id] = %v, want 01A", err.Details["id"])
	}
}

func TestNewStaleTask(t *testing.T) {
	err := NewStaleTask("01A", "transcribing")

	if err.Code != ErrStaleTask {
		t.Errorf("Code = %q, want %q", err.Code, ErrStaleTask)
	}
	if err.Status != 409 {
		t.Errorf("Status = %d, want 409", err.Status)
	}
	if err.Details["expected_stage"] != "transcribing" {
		t.Errorf("Details[expected_stage] = %v", err.Details["expected_stage"])
	}
}

func TestNewInvalidTransition(t *testing.T) {
	err := NewInvalidTransition("completed", "refining")

	if err.Code != ErrInvalidTransition {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidTransition)
	}
	if err.Details["from"] != "completed" || err.Details["to"] != "refining" {
		t.Errorf("Details = %v", err.Details)
	}
}

func TestNewMigrationFailure_CarriesPartialProgress(t *testing.T) {
	err := NewMigrationFailure(2, fmt.Errorf("disk full"), []string{"entries.last_error"})

	if err.Code != ErrMigrationFailure {
		t.Errorf("Code = %q, want %q", err.Code, ErrMigrationFailure)
	}
	cols, ok := err.Details["columns_added"].([]string)
	if !ok || len(cols) != 1 || cols[0] != "entries.last_error" {
		t.Errorf("Details[columns_added] = %v", err.Details["columns_added"])
	}
}

func TestNewEncryptionKeyUnavailable_NilError(t *testing.T) {
	err := NewEncryptionKeyUnavailable(nil)
	if err.Message != "encryption key unavailable" {
		t.Errorf("Message = %q", err.Message)
	}
}

func TestIs(t *testing.T) {
	err := NewAudioUnavailable("audio/x.m4a")

	if !Is(err, ErrAudioUnavailable) {
		t.Error("Is should match the error's own code")
	}
	if Is(err, ErrNotFound) {
		t.Error("Is should not match a different code")
	}
	if Is(fmt.Errorf("plain"), ErrInternal) {
		t.Error("Is should not match plain errors")
	}
	if Is(nil, ErrInternal) {
		t.Error("Is should not match nil")
	}
}
