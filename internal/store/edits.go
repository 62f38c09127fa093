package store

import (
	"log/slog"

	"github.com/nreeve/murmur/internal/errors"
	"github.com/nreeve/murmur/internal/journal"
)

// ApplyUserEdit updates title and/or text of an entry the user owns, keeping
// the prior text in backupText for a single-level undo. Entries still owned
// by the pipeline (transcribing/refining) cannot be edited.
func (s *Store) ApplyUserEdit(id string, title, text *string) error {
	if title == nil && text == nil {
		return errors.NewInvalidRequest("no fields provided")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.GetEntry(id)
	if err != nil {
		return err
	}
	if entry.Stage == journal.StageTranscribing || entry.Stage == journal.StageRefining {
		return errors.NewInvalidRequest("entry is still processing; wait for it to finish or fail")
	}

	patch := journal.Patch{Title: title, Text: text}
	if text != nil && *text != entry.Text {
		prior := entry.Text
		patch.BackupText = &prior
	}
	return s.updateLocked(id, nil, patch)
}

// UndoEdit restores the previous text of an entry after a manual edit.
func (s *Store) UndoEdit(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.GetEntry(id)
	if err != nil {
		return err
	}
	if entry.BackupText == "" {
		return errors.NewInvalidRequest("nothing to undo")
	}

	restored := entry.BackupText
	cleared := ""
	return s.updateLocked(id, nil, journal.Patch{
		Text:       &restored,
		BackupText: &cleared,
	})
}

// RetryStage moves a *_failed entry back into its active stage with the
// retry counter reset. audio_unavailable is terminal and cannot be retried.
func (s *Store) RetryStage(id string) (*journal.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.GetEntry(id)
	if err != nil {
		return nil, err
	}

	var next journal.Stage
	switch entry.Stage {
	case journal.StageTranscribingFailed:
		next = journal.StageTranscribing
	case journal.StageRefiningFailed:
		next = journal.StageRefining
	case journal.StageAudioUnavailable:
		return nil, errors.NewAudioUnavailable(entry.AudioURI)
	default:
		return nil, errors.NewInvalidTransition(string(entry.Stage), "retry")
	}

	zero := 0
	clear := ""
	if err := s.updateLocked(id, nil, journal.Patch{
		Stage:      &next,
		RetryCount: &zero,
		LastError:  &clear,
	}); err != nil {
		return nil, err
	}

	s.logger.Info("entry retried by user",
		slog.String("id", id),
		slog.String("stage", string(next)),
	)
	return s.GetEntry(id)
}

// AllEntries returns every entry decrypted, date descending. Used by export,
// backup snapshots and the health monitor.
func (s *Store) AllEntries() ([]journal.Entry, error) {
	rows, err := s.db.Query(selectEntryColumns + " FROM entries ORDER BY date DESC, id DESC")
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()
	return s.collectEntries(rows)
}

// EntriesInStages returns entries currently in any of the given stages,
// oldest first. The orchestrator uses this to resume in-flight work after a
// restart.
func (s *Store) EntriesInStages(stages ...journal.Stage) ([]journal.Entry, error) {
	if len(stages) == 0 {
		return nil, nil
	}
	query := selectEntryColumns + " FROM entries WHERE processing_stage IN (?"
	args := []any{string(stages[0])}
	for _, st := range stages[1:] {
		query += ", ?"
		args = append(args, string(st))
	}
	query += ") ORDER BY date ASC, id ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()
	return s.collectEntries(rows)
}

// ReplaceAll swaps the full store contents for the given entries and app
// state in one transaction. Only the backup manager calls this, inside
// RunExclusive, during a restore.
func (s *Store) ReplaceAll(entries []journal.Entry, state journal.AppState) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.NewInternal(err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM entries"); err != nil {
		return errors.NewInternal(err)
	}
	for i := range entries {
		entry := entries[i]
		entry.AudioURI = s.paths.ToRelative(entry.AudioURI)
		if err := s.insertEntry(tx, &entry); err != nil {
			return err
		}
	}
	if err := writeAppState(tx, state); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}
