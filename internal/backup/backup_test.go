package backup

import (
	"bytes"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nreeve/murmur/internal/cipher"
	"github.com/nreeve/murmur/internal/config"
	"github.com/nreeve/murmur/internal/db"
	"github.com/nreeve/murmur/internal/errors"
	"github.com/nreeve/murmur/internal/journal"
	"github.com/nreeve/murmur/internal/logger"
	"github.com/nreeve/murmur/internal/paths"
	"github.com/nreeve/murmur/internal/store"
)

type fixture struct {
	manager *Manager
	store   *store.Store
	baseDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tmpDir := t.TempDir()

	database, err := db.Init(tmpDir)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	key := make([]byte, 32)
	_, err = rand.Read(key)
	require.NoError(t, err)
	ciph, err := cipher.New(key)
	require.NoError(t, err)

	st := store.New(database, ciph, paths.NewResolver(tmpDir), logger.Discard())
	manager := NewManager(st, ciph, config.DefaultConfig(), tmpDir, logger.Discard())
	return &fixture{manager: manager, store: st, baseDir: tmpDir}
}

func (f *fixture) createEntry(t *testing.T, name, text string) *journal.Entry {
	t.Helper()
	audioPath := filepath.Join(f.baseDir, paths.AudioDir, name)
	require.NoError(t, os.WriteFile(audioPath, []byte("audio for "+name), 0600))

	entry, err := f.store.CreateEntry(journal.Draft{Title: "entry " + name, AudioURI: audioPath})
	require.NoError(t, err)

	if text != "" {
		refining := journal.StageRefining
		require.NoError(t, f.store.UpdateEntry(entry.ID, journal.Patch{Stage: &refining}))
		completed := journal.StageCompleted
		require.NoError(t, f.store.UpdateEntry(entry.ID, journal.Patch{Stage: &completed, Text: &text}))
	}
	got, err := f.store.GetEntry(entry.ID)
	require.NoError(t, err)
	return got
}

func TestCreate_Lightweight(t *testing.T) {
	f := newFixture(t)
	f.createEntry(t, "a.m4a", "body a")

	path, err := f.manager.Create(KindLightweight, TriggerManual)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.False(t, info.IsDir())
	require.Equal(t, filepath.Join(f.baseDir, "backups", "manual"), filepath.Dir(path))

	// The snapshot file must not leak plaintext.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.False(t, bytes.Contains(raw, []byte("body a")))
}

func TestCreate_CompleteBundlesAudio(t *testing.T) {
	f := newFixture(t)
	f.createEntry(t, "b.m4a", "body b")

	path, err := f.manager.Create(KindComplete, TriggerManual)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.True(t, info.IsDir())

	_, err = os.Stat(filepath.Join(path, snapshotFileName))
	require.NoError(t, err)

	bundled, err := os.ReadFile(filepath.Join(path, paths.AudioDir, "b.m4a"))
	require.NoError(t, err)
	require.Equal(t, []byte("audio for b.m4a"), bundled)
}

func TestCreate_RejectsUnknownKindAndTrigger(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Create(Kind("weird"), TriggerManual)
	require.True(t, errors.Is(err, errors.ErrInvalidRequest), "got %v", err)

	_, err = f.manager.Create(KindLightweight, Trigger("cron"))
	require.True(t, errors.Is(err, errors.ErrInvalidRequest), "got %v", err)
}

func TestList_NewestFirst(t *testing.T) {
	f := newFixture(t)
	f.createEntry(t, "c.m4a", "")

	when := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	f.manager.now = func() time.Time { return when }
	_, err := f.manager.Create(KindLightweight, TriggerAuto)
	require.NoError(t, err)

	f.manager.now = func() time.Time { return when.Add(time.Hour) }
	_, err = f.manager.Create(KindLightweight, TriggerManual)
	require.NoError(t, err)

	records, err := f.manager.List()
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, TriggerManual, records[0].Trigger)
	require.Equal(t, TriggerAuto, records[1].Trigger)
	require.True(t, records[0].CreatedAt.After(records[1].CreatedAt))
}

func TestCreate_PrunesBeyondRetention(t *testing.T) {
	f := newFixture(t)
	f.manager.cfg = config.Merge(config.DefaultConfig(), &config.Config{AutoBackupRetention: 2})

	when := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		stamp := when.Add(time.Duration(i) * time.Minute)
		f.manager.now = func() time.Time { return stamp }
		_, err := f.manager.Create(KindLightweight, TriggerAuto)
		require.NoError(t, err)
	}

	records, err := f.manager.List()
	require.NoError(t, err)
	require.Len(t, records, 2)
	// The survivors are the two newest.
	require.Equal(t, when.Add(3*time.Minute), records[0].CreatedAt)
	require.Equal(t, when.Add(2*time.Minute), records[1].CreatedAt)
}

func TestPrune_KindsCountedSeparately(t *testing.T) {
	f := newFixture(t)
	f.manager.cfg = config.Merge(config.DefaultConfig(), &config.Config{AutoBackupRetention: 1})

	when := time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC)
	f.manager.now = func() time.Time { return when }
	_, err := f.manager.Create(KindLightweight, TriggerAuto)
	require.NoError(t, err)

	f.manager.now = func() time.Time { return when.Add(time.Minute) }
	_, err = f.manager.Create(KindComplete, TriggerAuto)
	require.NoError(t, err)

	// One of each kind survives a retention of one per kind.
	records, err := f.manager.List()
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestRestore_LightweightReplacesState(t *testing.T) {
	f := newFixture(t)
	keep := f.createEntry(t, "keep.m4a", "text to keep")

	path, err := f.manager.Create(KindLightweight, TriggerManual)
	require.NoError(t, err)

	// Mutate the store after the snapshot.
	f.createEntry(t, "later.m4a", "added later")
	edited := "overwritten"
	require.NoError(t, f.store.ApplyUserEdit(keep.ID, nil, &edited))

	require.NoError(t, f.manager.Restore(path))

	all, err := f.store.AllEntries()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, keep.ID, all[0].ID)
	require.Equal(t, "text to keep", all[0].Text)
}

func TestRestore_TakesSafetyBackupFirst(t *testing.T) {
	f := newFixture(t)
	f.createEntry(t, "d.m4a", "body d")

	path, err := f.manager.Create(KindLightweight, TriggerManual)
	require.NoError(t, err)

	before, err := f.manager.List()
	require.NoError(t, err)

	require.NoError(t, f.manager.Restore(path))

	after, err := f.manager.List()
	require.NoError(t, err)
	require.Greater(t, len(after), len(before), "restore must leave a pre-restore safety backup")

	foundComplete := false
	for _, r := range after {
		if r.Kind == KindComplete && r.Trigger == TriggerManual {
			foundComplete = true
		}
	}
	require.True(t, foundComplete)
}

func TestRestore_CompleteBringsAudioBack(t *testing.T) {
	f := newFixture(t)
	entry := f.createEntry(t, "e.m4a", "body e")

	path, err := f.manager.Create(KindComplete, TriggerManual)
	require.NoError(t, err)

	// Lose the live audio file.
	audioPath := filepath.Join(f.baseDir, paths.AudioDir, "e.m4a")
	require.NoError(t, os.Remove(audioPath))

	require.NoError(t, f.manager.Restore(path))

	restored, err := os.ReadFile(audioPath)
	require.NoError(t, err)
	require.Equal(t, []byte("audio for e.m4a"), restored)

	got, err := f.store.GetEntry(entry.ID)
	require.NoError(t, err)
	require.Equal(t, "audio/e.m4a", got.AudioURI)
}

func TestRestore_SourceSurvivesSafetyBackupPruning(t *testing.T) {
	f := newFixture(t)
	f.manager.cfg = config.Merge(config.DefaultConfig(), &config.Config{ManualBackupRetention: 1})
	f.createEntry(t, "g.m4a", "body g")

	// Backdate the backup so it is the oldest manual complete backup when
	// the restore's own safety backup triggers pruning.
	f.manager.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	path, err := f.manager.Create(KindComplete, TriggerManual)
	require.NoError(t, err)
	f.manager.now = time.Now

	audioPath := filepath.Join(f.baseDir, paths.AudioDir, "g.m4a")
	require.NoError(t, os.Remove(audioPath))

	require.NoError(t, f.manager.Restore(path))

	_, err = os.Stat(path)
	require.NoError(t, err, "restore must not prune its own source backup")
	restored, err := os.ReadFile(audioPath)
	require.NoError(t, err)
	require.Equal(t, []byte("audio for g.m4a"), restored)
}

func TestCreate_SameSecondBackupsDoNotCollide(t *testing.T) {
	f := newFixture(t)
	f.createEntry(t, "h.m4a", "")

	when := time.Date(2026, 6, 3, 12, 0, 0, 0, time.UTC)
	f.manager.now = func() time.Time { return when }

	first, err := f.manager.Create(KindLightweight, TriggerManual)
	require.NoError(t, err)
	second, err := f.manager.Create(KindLightweight, TriggerManual)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	records, err := f.manager.List()
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.NotEqual(t, records[0].ID, records[1].ID)
}

func TestRestore_MissingPath(t *testing.T) {
	f := newFixture(t)
	err := f.manager.Restore(filepath.Join(f.baseDir, "backups", "manual", "nope.snap"))
	require.True(t, errors.Is(err, errors.ErrBackupRestoreFailure), "got %v", err)
}

func TestRestore_CorruptSnapshotLeavesStoreIntact(t *testing.T) {
	f := newFixture(t)
	f.createEntry(t, "f.m4a", "survives")

	bad := filepath.Join(f.baseDir, "backups", "manual", "lightweight-20260101-000000.snap")
	require.NoError(t, os.WriteFile(bad, []byte("garbage"), 0600))

	err := f.manager.Restore(bad)
	require.True(t, errors.Is(err, errors.ErrBackupRestoreFailure), "got %v", err)

	all, err := f.store.AllEntries()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "survives", all[0].Text)
}
