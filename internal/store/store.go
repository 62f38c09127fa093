// Package store implements the encrypted journal entry store over SQLite.
// All mutations serialize through a single write lock; the same lock is
// shared with the schema migrator and backup manager via RunExclusive.
package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/nreeve/murmur/internal/cipher"
	"github.com/nreeve/murmur/internal/errors"
	"github.com/nreeve/murmur/internal/journal"
	"github.com/nreeve/murmur/internal/paths"
)

// Pagination limits for ListEntries.
const (
	DefaultListLimit = 20
	MaxListLimit     = 200
)

// Store provides SQLite-backed persistence for journal entries and app
// state. Title, text, raw text and backup text are encrypted at rest;
// audio paths are stored relative and resolved only at the point of use.
type Store struct {
	db     *sql.DB
	cipher *cipher.Cipher
	paths  *paths.Resolver
	logger *slog.Logger

	// mu is the single-writer lock. Readers go straight to SQLite and see
	// a consistent WAL snapshot.
	mu sync.Mutex

	now func() time.Time
}

// New returns a Store bound to an initialized database handle.
func New(database *sql.DB, ciph *cipher.Cipher, resolver *paths.Resolver, logger *slog.Logger) *Store {
	return &Store{
		db:     database,
		cipher: ciph,
		paths:  resolver,
		logger: logger,
		now:    time.Now,
	}
}

// DB exposes the underlying handle for the migrator and health monitor.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Resolver exposes the path resolver for collaborators that need absolute
// audio paths at the point of use.
func (s *Store) Resolver() *paths.Resolver {
	return s.paths
}

// RunExclusive runs fn while holding the write lock. Used by the schema
// migrator and backup manager so migrations, backups and restores never
// interleave with entry writes or each other.
func (s *Store) RunExclusive(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

// CreateEntry inserts a new entry stub in the transcribing stage and
// maintains the consecutive-day streak in the same transaction.
func (s *Store) CreateEntry(draft journal.Draft) (*journal.Entry, error) {
	if draft.AudioURI == "" {
		return nil, errors.NewInvalidRequest("audio_uri is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry := &journal.Entry{
		ID:          ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		Date:        now,
		Title:       draft.Title,
		AudioURI:    s.paths.ToRelative(draft.AudioURI),
		Duration:    draft.Duration,
		AudioLevels: draft.AudioLevels,
		Stage:       journal.StageTranscribing,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer tx.Rollback()

	if err := s.insertEntry(tx, entry); err != nil {
		return nil, err
	}

	state, err := readAppState(tx)
	if err != nil {
		return nil, err
	}
	streak := journal.NextStreak(*state, now)
	if err := writeAppState(tx, journal.AppState{Streak: streak, LastEntryDate: &now}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.NewInternal(err)
	}

	s.logger.Info("entry created",
		slog.String("id", entry.ID),
		slog.String("audio_uri", entry.AudioURI),
	)
	return entry, nil
}

// GetEntry retrieves and decrypts one entry.
func (s *Store) GetEntry(id string) (*journal.Entry, error) {
	row := s.db.QueryRow(selectEntryColumns+" FROM entries WHERE id = ?", id)
	entry, err := s.scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ListEntries returns entries ordered by date descending.
func (s *Store) ListEntries(limit, offset int) ([]journal.Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(
		selectEntryColumns+" FROM entries ORDER BY date DESC, id DESC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	return s.collectEntries(rows)
}

// UpdateEntry applies a typed partial update atomically. Stage changes are
// validated against the entry state machine.
func (s *Store) UpdateEntry(id string, patch journal.Patch) error {
	if patch.IsZero() {
		return errors.NewInvalidRequest("no fields provided")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(id, nil, patch)
}

// UpdateEntryIfStage applies a patch only if the entry still exists and its
// stage matches expect. A mismatch returns a STALE_TASK error; this is the
// guard that makes results from deleted or superseded tasks harmless.
func (s *Store) UpdateEntryIfStage(id string, expect journal.Stage, patch journal.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(id, &expect, patch)
}

func (s *Store) updateLocked(id string, expect *journal.Stage, patch journal.Patch) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.NewInternal(err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(selectEntryColumns+" FROM entries WHERE id = ?", id)
	entry, err := s.scanEntry(row)
	if err == sql.ErrNoRows {
		if expect != nil {
			return errors.NewStaleTask(id, string(*expect))
		}
		return errors.NewNotFound(id)
	}
	if err != nil {
		return err
	}

	if expect != nil && entry.Stage != *expect {
		return errors.NewStaleTask(id, string(*expect))
	}

	if patch.Stage != nil && *patch.Stage != entry.Stage {
		if !journal.CanTransition(entry.Stage, *patch.Stage) {
			return errors.NewInvalidTransition(string(entry.Stage), string(*patch.Stage))
		}
	}

	applyPatch(entry, patch)

	if entry.RetryCount < 0 {
		return errors.NewInvalidRequest("retry_count must not be negative")
	}

	if err := s.writeEntry(tx, entry); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// DeleteEntry removes an entry and its audio file. Deletion at any stage is
// permitted; queued pipeline tasks for the id become stale and discard
// themselves on execution.
func (s *Store) DeleteEntry(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.GetEntry(id)
	if err != nil {
		return err
	}

	if _, err := s.db.Exec("DELETE FROM entries WHERE id = ?", id); err != nil {
		return errors.NewInternal(err)
	}

	if entry.AudioURI != "" {
		abs := s.paths.ToAbsolute(entry.AudioURI)
		if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
			// Row is gone; audio cleanup is best-effort.
			s.logger.Warn("failed to remove audio file",
				slog.String("id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.Info("entry deleted", slog.String("id", id))
	return nil
}

// GetAppState returns the singleton app state row.
func (s *Store) GetAppState() (*journal.AppState, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer tx.Rollback()
	state, err := readAppState(tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return state, nil
}

// SetAppState applies a partial update to the app state row.
func (s *Store) SetAppState(patch journal.AppStatePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return errors.NewInternal(err)
	}
	defer tx.Rollback()

	state, err := readAppState(tx)
	if err != nil {
		return err
	}
	if patch.Streak != nil {
		state.Streak = *patch.Streak
	}
	if patch.LastEntryDate != nil {
		state.LastEntryDate = patch.LastEntryDate
	}
	if err := writeAppState(tx, *state); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// applyPatch copies the non-nil patch fields onto the entry.
func applyPatch(entry *journal.Entry, patch journal.Patch) {
	if patch.Title != nil {
		entry.Title = *patch.Title
	}
	if patch.Text != nil {
		entry.Text = *patch.Text
	}
	if patch.RawText != nil {
		entry.RawText = *patch.RawText
	}
	if patch.Duration != nil {
		entry.Duration = *patch.Duration
	}
	if patch.AudioLevels != nil {
		entry.AudioLevels = *patch.AudioLevels
	}
	if patch.Stage != nil {
		entry.Stage = *patch.Stage
	}
	if patch.RetryCount != nil {
		entry.RetryCount = *patch.RetryCount
	}
	if patch.ExternalJobID != nil {
		entry.ExternalJobID = *patch.ExternalJobID
	}
	if patch.LastError != nil {
		entry.LastError = *patch.LastError
	}
	if patch.BackupText != nil {
		entry.BackupText = *patch.BackupText
	}
}

// readAppState reads the singleton row, defaulting to the zero state.
func readAppState(tx *sql.Tx) (*journal.AppState, error) {
	var (
		streak int
		last   sql.NullInt64
	)
	err := tx.QueryRow("SELECT streak, last_entry_date FROM app_state WHERE id = 1").
		Scan(&streak, &last)
	if err == sql.ErrNoRows {
		return &journal.AppState{}, nil
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	state := &journal.AppState{Streak: streak}
	if last.Valid {
		t := time.Unix(last.Int64, 0).UTC()
		state.LastEntryDate = &t
	}
	return state, nil
}

// writeAppState upserts the singleton row.
func writeAppState(tx *sql.Tx, state journal.AppState) error {
	var last sql.NullInt64
	if state.LastEntryDate != nil {
		last = sql.NullInt64{Int64: state.LastEntryDate.Unix(), Valid: true}
	}
	_, err := tx.Exec(`
		INSERT INTO app_state (id, streak, last_entry_date) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET streak = excluded.streak, last_entry_date = excluded.last_entry_date`,
		state.Streak, last,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// marshalLevels encodes audio levels as JSON for the TEXT column.
func marshalLevels(levels []float64) (sql.NullString, error) {
	if len(levels) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(levels)
	if err != nil {
		return sql.NullString{}, errors.NewInternal(err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalLevels(raw sql.NullString) ([]float64, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var levels []float64
	if err := json.Unmarshal([]byte(raw.String), &levels); err != nil {
		return nil, errors.NewStorageCorruption(fmt.Sprintf("malformed audio levels: %v", err))
	}
	return levels, nil
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
