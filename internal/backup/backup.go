// Package backup produces point-in-time snapshots of the journal store and
// restores from them. Snapshot documents are encrypted under the entry key
// so a backup never holds plaintext the store itself would not.
package backup

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/nreeve/murmur/internal/cipher"
	"github.com/nreeve/murmur/internal/config"
	"github.com/nreeve/murmur/internal/errors"
	"github.com/nreeve/murmur/internal/journal"
	"github.com/nreeve/murmur/internal/paths"
	"github.com/nreeve/murmur/internal/store"
)

// Kind selects how much a snapshot captures.
type Kind string

const (
	// KindLightweight is a single metadata document, no audio.
	KindLightweight Kind = "lightweight"
	// KindComplete additionally bundles the audio files.
	KindComplete Kind = "complete"
)

// Trigger records who asked for the backup; retention differs per trigger.
type Trigger string

const (
	TriggerAuto   Trigger = "auto"
	TriggerManual Trigger = "manual"
)

// SnapshotVersion identifies the snapshot document format.
const SnapshotVersion = 1

const (
	snapshotExt      = ".snap"
	snapshotFileName = "snapshot" + snapshotExt
	timestampLayout  = "20060102-150405"
)

// Record describes one backup on disk.
type Record struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"createdAt"`
	Kind      Kind      `json:"kind"`
	Trigger   Trigger   `json:"trigger"`
}

// snapshot is the on-disk document, encrypted as a whole.
type snapshot struct {
	CreatedAt time.Time        `json:"createdAt"`
	Kind      Kind             `json:"kind"`
	Version   int              `json:"version"`
	AppState  journal.AppState `json:"appState"`
	Entries   []journal.Entry  `json:"entries"`
}

// Manager creates, lists, restores and prunes backups.
type Manager struct {
	store  *store.Store
	cipher *cipher.Cipher
	cfg    *config.Config
	logger *slog.Logger

	baseDir string
	now     func() time.Time
}

// NewManager returns a Manager writing under baseDir/backups.
func NewManager(st *store.Store, ciph *cipher.Cipher, cfg *config.Config, baseDir string, logger *slog.Logger) *Manager {
	return &Manager{
		store:   st,
		cipher:  ciph,
		cfg:     cfg,
		logger:  logger,
		baseDir: baseDir,
		now:     time.Now,
	}
}

// Create takes a snapshot of the current store state and prunes old backups
// past the retention limit. It holds the store write lock for the duration,
// so a backup can never capture a half-applied migration or transaction.
func (m *Manager) Create(kind Kind, trigger Trigger) (string, error) {
	if kind != KindLightweight && kind != KindComplete {
		return "", errors.NewInvalidRequest("kind must be one of: lightweight, complete")
	}
	if trigger != TriggerAuto && trigger != TriggerManual {
		return "", errors.NewInvalidRequest("trigger must be one of: auto, manual")
	}

	var path string
	err := m.store.RunExclusive(func() error {
		var err error
		path, err = m.createLocked(kind, trigger, "")
		return err
	})
	if err != nil {
		return "", err
	}

	m.logger.Info("backup created",
		slog.String("path", path),
		slog.String("kind", string(kind)),
		slog.String("trigger", string(trigger)),
	)
	return path, nil
}

// createLocked writes the snapshot and prunes old backups. keep, when
// non-empty, names a backup path that pruning must leave alone.
func (m *Manager) createLocked(kind Kind, trigger Trigger, keep string) (string, error) {
	entries, err := m.store.AllEntries()
	if err != nil {
		return "", err
	}
	state, err := m.store.GetAppState()
	if err != nil {
		return "", err
	}

	doc := snapshot{
		CreatedAt: m.now().UTC(),
		Kind:      kind,
		Version:   SnapshotVersion,
		AppState:  *state,
		Entries:   entries,
	}
	sealed, err := m.sealSnapshot(doc)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(m.baseDir, "backups", string(trigger))
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", errors.NewInternal(err)
	}
	// The timestamp keeps names listable at a glance; the ULID keeps them
	// unique when two backups land within the same second.
	stamp := doc.CreatedAt.Format(timestampLayout)
	id := ulid.MustNew(ulid.Timestamp(doc.CreatedAt), rand.Reader).String()

	var path string
	switch kind {
	case KindLightweight:
		path = filepath.Join(dir, fmt.Sprintf("%s-%s-%s%s", kind, stamp, id, snapshotExt))
		if err := os.WriteFile(path, sealed, 0600); err != nil {
			return "", errors.NewInternal(err)
		}
	case KindComplete:
		path = filepath.Join(dir, fmt.Sprintf("%s-%s-%s", kind, stamp, id))
		if err := os.MkdirAll(filepath.Join(path, paths.AudioDir), 0700); err != nil {
			return "", errors.NewInternal(err)
		}
		if err := os.WriteFile(filepath.Join(path, snapshotFileName), sealed, 0600); err != nil {
			return "", errors.NewInternal(err)
		}
		for _, entry := range entries {
			if entry.AudioURI == "" {
				continue
			}
			src := m.store.Resolver().ToAbsolute(entry.AudioURI)
			dst := filepath.Join(path, paths.AudioDir, filepath.Base(entry.AudioURI))
			if err := copyFile(src, dst); err != nil {
				// A missing audio file is already reflected in the entry's
				// stage; skip it rather than failing the whole snapshot.
				m.logger.Warn("backup skipped audio file",
					slog.String("entry", entry.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if err := m.pruneLocked(trigger, kind, keep); err != nil {
		m.logger.Warn("backup pruning failed", slog.String("error", err.Error()))
	}
	return path, nil
}

// List returns known backups, newest first.
func (m *Manager) List() ([]Record, error) {
	var records []Record
	for _, trigger := range []Trigger{TriggerAuto, TriggerManual} {
		dir := filepath.Join(m.baseDir, "backups", string(trigger))
		found, err := scanDir(dir, trigger)
		if err != nil {
			return nil, err
		}
		records = append(records, found...)
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].ID > records[j].ID
	})
	return records, nil
}

// pruneLocked removes the oldest backups of one trigger+kind beyond the
// configured retention. keep names a backup that must survive regardless of
// age: a restore's safety backup must never prune the snapshot the restore is
// still reading from.
func (m *Manager) pruneLocked(trigger Trigger, kind Kind, keep string) error {
	retention := m.cfg.AutoBackupRetention
	if trigger == TriggerManual {
		retention = m.cfg.ManualBackupRetention
	}
	if retention <= 0 {
		return nil
	}

	records, err := scanDir(filepath.Join(m.baseDir, "backups", string(trigger)), trigger)
	if err != nil {
		return err
	}
	var matching []Record
	for _, r := range records {
		if r.Kind == kind {
			matching = append(matching, r)
		}
	}
	if len(matching) <= retention {
		return nil
	}

	// Oldest first.
	sort.Slice(matching, func(i, j int) bool {
		if !matching[i].CreatedAt.Equal(matching[j].CreatedAt) {
			return matching[i].CreatedAt.Before(matching[j].CreatedAt)
		}
		return matching[i].ID < matching[j].ID
	})
	for _, victim := range matching[:len(matching)-retention] {
		if keep != "" && filepath.Clean(victim.Path) == filepath.Clean(keep) {
			continue
		}
		if err := os.RemoveAll(victim.Path); err != nil {
			return err
		}
		m.logger.Info("backup pruned", slog.String("path", victim.Path))
	}
	return nil
}

func (m *Manager) sealSnapshot(doc snapshot) ([]byte, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	sealed, err := m.cipher.Encrypt(data)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return sealed, nil
}

func (m *Manager) openSnapshot(sealed []byte) (*snapshot, error) {
	data, err := m.cipher.Decrypt(sealed)
	if err != nil {
		return nil, fmt.Errorf("snapshot does not decrypt under the current key: %w", err)
	}
	var doc snapshot
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("malformed snapshot document: %w", err)
	}
	if doc.Version != SnapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", doc.Version)
	}
	return &doc, nil
}

// scanDir parses backup records out of one trigger directory.
func scanDir(dir string, trigger Trigger) ([]Record, error) {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var records []Record
	for _, ent := range dirents {
		name := strings.TrimSuffix(ent.Name(), snapshotExt)
		var kind Kind
		switch {
		case strings.HasPrefix(name, string(KindLightweight)+"-"):
			kind = KindLightweight
		case strings.HasPrefix(name, string(KindComplete)+"-"):
			kind = KindComplete
		default:
			continue
		}
		rest := strings.TrimPrefix(name, string(kind)+"-")
		if len(rest) < len(timestampLayout) {
			continue
		}
		createdAt, err := time.Parse(timestampLayout, rest[:len(timestampLayout)])
		if err != nil {
			continue
		}
		id := strings.TrimPrefix(rest[len(timestampLayout):], "-")
		records = append(records, Record{
			ID:        id,
			Path:      filepath.Join(dir, ent.Name()),
			CreatedAt: createdAt,
			Kind:      kind,
			Trigger:   trigger,
		})
	}
	return records, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
