package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/nreeve/murmur/internal/cipher"
	"github.com/nreeve/murmur/internal/errors"
	"github.com/nreeve/murmur/internal/journal"
)

const selectEntryColumns = `SELECT id, date, title, text, raw_text, audio_uri,
	duration, audio_levels, processing_stage, retry_count,
	external_job_id, last_error, backup_text`

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanEntry reads one row and decrypts the protected fields. A decrypt
// failure here means the row was written under a different key or the
// ciphertext is damaged; both surface as storage corruption.
func (s *Store) scanEntry(row rowScanner) (*journal.Entry, error) {
	var (
		id, stage     string
		date          int64
		title         []byte
		text          []byte
		rawText       []byte
		backupText    []byte
		audioURI      sql.NullString
		duration      float64
		levelsRaw     sql.NullString
		retryCount    int
		externalJobID sql.NullString
		lastError     sql.NullString
	)

	err := row.Scan(&id, &date, &title, &text, &rawText, &audioURI,
		&duration, &levelsRaw, &stage, &retryCount,
		&externalJobID, &lastError, &backupText)
	if err != nil {
		return nil, err
	}

	entry := &journal.Entry{
		ID:            id,
		Date:          time.Unix(date, 0).UTC(),
		AudioURI:      audioURI.String,
		Duration:      duration,
		Stage:         journal.Stage(stage),
		RetryCount:    retryCount,
		ExternalJobID: externalJobID.String,
		LastError:     lastError.String,
	}

	entry.AudioLevels, err = unmarshalLevels(levelsRaw)
	if err != nil {
		return nil, err
	}

	for _, f := range []struct {
		name string
		src  []byte
		dst  *string
	}{
		{"title", title, &entry.Title},
		{"text", text, &entry.Text},
		{"raw_text", rawText, &entry.RawText},
		{"backup_text", backupText, &entry.BackupText},
	} {
		plain, err := s.cipher.DecryptString(f.src)
		if err == cipher.ErrDecryptFailed {
			return nil, errors.NewStorageCorruption(
				fmt.Sprintf("entry %s: cannot decrypt %s", id, f.name))
		}
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		*f.dst = plain
	}

	return entry, nil
}

// collectEntries drains rows into decrypted entries.
func (s *Store) collectEntries(rows *sql.Rows) ([]journal.Entry, error) {
	var entries []journal.Entry
	for rows.Next() {
		entry, err := s.scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return entries, nil
}

// execer covers *sql.Tx and *sql.DB.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// insertEntry encrypts and inserts a full entry row.
func (s *Store) insertEntry(tx execer, entry *journal.Entry) error {
	cols, err := s.encryptColumns(entry)
	if err != nil {
		return err
	}
	levels, err := marshalLevels(entry.AudioLevels)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
		INSERT INTO entries (
			id, date, title, text, raw_text, audio_uri,
			duration, audio_levels, processing_stage, retry_count,
			external_job_id, last_error, backup_text
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Date.Unix(), cols.title, cols.text, cols.rawText,
		toNullString(entry.AudioURI), entry.Duration, levels,
		string(entry.Stage), entry.RetryCount,
		toNullString(entry.ExternalJobID), toNullString(entry.LastError),
		cols.backupText,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// writeEntry encrypts and rewrites the mutable columns of an entry row.
// The id, date and audio_uri columns are immutable after creation.
func (s *Store) writeEntry(tx execer, entry *journal.Entry) error {
	cols, err := s.encryptColumns(entry)
	if err != nil {
		return err
	}
	levels, err := marshalLevels(entry.AudioLevels)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
		UPDATE entries SET
			title = ?, text = ?, raw_text = ?,
			duration = ?, audio_levels = ?, processing_stage = ?, retry_count = ?,
			external_job_id = ?, last_error = ?, backup_text = ?
		WHERE id = ?`,
		cols.title, cols.text, cols.rawText,
		entry.Duration, levels, string(entry.Stage), entry.RetryCount,
		toNullString(entry.ExternalJobID), toNullString(entry.LastError),
		cols.backupText, entry.ID,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// encryptedColumns holds the ciphertext for the protected fields.
type encryptedColumns struct {
	title      []byte
	text       []byte
	rawText    []byte
	backupText []byte
}

func (s *Store) encryptColumns(entry *journal.Entry) (*encryptedColumns, error) {
	cols := &encryptedColumns{}
	for _, f := range []struct {
		src string
		dst *[]byte
	}{
		{entry.Title, &cols.title},
		{entry.Text, &cols.text},
		{entry.RawText, &cols.rawText},
		{entry.BackupText, &cols.backupText},
	} {
		sealed, err := s.cipher.EncryptString(f.src)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		*f.dst = sealed
	}
	return cols, nil
}
