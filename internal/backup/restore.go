package backup

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/nreeve/murmur/internal/errors"
	"github.com/nreeve/murmur/internal/paths"
)

// Restore fully replaces the store contents with the chosen snapshot. A
// safety backup of the pre-restore state is taken first, so a bad restore
// choice is itself reversible. The original state stays intact unless the
// restore fully succeeds.
func (m *Manager) Restore(path string) error {
	snapFile := path
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		snapFile = filepath.Join(path, snapshotFileName)
	}
	// The prunable unit is the snapshot file, or for a complete backup the
	// directory bundling it.
	source := filepath.Clean(path)
	if filepath.Base(source) == snapshotFileName {
		source = filepath.Dir(source)
	}
	sealed, err := os.ReadFile(snapFile)
	if err != nil {
		return errors.NewBackupRestoreFailure(path, err)
	}
	doc, err := m.openSnapshot(sealed)
	if err != nil {
		return errors.NewBackupRestoreFailure(path, err)
	}

	err = m.store.RunExclusive(func() error {
		// Safety backup of the current state before anything changes. The
		// source backup is exempt from the pruning this triggers; it still
		// has to be read back below.
		safetyPath, err := m.createLocked(KindComplete, TriggerManual, source)
		if err != nil {
			return err
		}
		m.logger.Info("pre-restore safety backup", slog.String("path", safetyPath))

		if err := m.store.ReplaceAll(doc.Entries, doc.AppState); err != nil {
			return err
		}

		// Complete backups bundle audio; copy the files back under the
		// current storage root.
		if doc.Kind == KindComplete {
			if err := m.restoreAudio(source); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errors.ErrBackupRestoreFailure) {
			return err
		}
		return errors.NewBackupRestoreFailure(path, err)
	}

	m.logger.Info("store restored",
		slog.String("path", path),
		slog.Int("entries", len(doc.Entries)),
	)
	return nil
}

// restoreAudio copies bundled audio files from a complete backup back into
// the storage root. Existing files with the same name are left alone; the
// live file is at least as current as the bundled copy.
func (m *Manager) restoreAudio(backupPath string) error {
	audioDir := filepath.Join(backupPath, paths.AudioDir)
	dirents, err := os.ReadDir(audioDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	root := m.store.Resolver().Root()
	for _, ent := range dirents {
		if ent.IsDir() || strings.HasPrefix(ent.Name(), ".") {
			continue
		}
		dst := filepath.Join(root, paths.AudioDir, ent.Name())
		if _, err := os.Stat(dst); err == nil {
			continue
		}
		if err := copyFile(filepath.Join(audioDir, ent.Name()), dst); err != nil {
			return err
		}
	}
	return nil
}
