package mcp

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/nreeve/murmur/internal/backup"
	"github.com/nreeve/murmur/internal/cipher"
	"github.com/nreeve/murmur/internal/config"
	"github.com/nreeve/murmur/internal/db"
	"github.com/nreeve/murmur/internal/health"
	"github.com/nreeve/murmur/internal/journal"
	"github.com/nreeve/murmur/internal/logger"
	"github.com/nreeve/murmur/internal/paths"
	"github.com/nreeve/murmur/internal/pipeline"
	"github.com/nreeve/murmur/internal/store"
)

// syncTranscriber completes jobs immediately so handler tests can drive the
// pipeline to completion without real services.
type syncTranscriber struct{}

func (syncTranscriber) Submit(ctx context.Context, audioPath string) (string, error) {
	return "job-test", nil
}

func (syncTranscriber) Poll(ctx context.Context, jobID string) (*pipeline.Transcript, error) {
	return &pipeline.Transcript{Text: "raw transcript"}, nil
}

type syncRefiner struct{}

func (syncRefiner) Refine(ctx context.Context, rawText string) (*pipeline.Refinement, error) {
	return &pipeline.Refinement{Title: "Refined title", FormattedText: "refined " + rawText}, nil
}

// testSetup wires handlers over a temp store with a synchronous pipeline.
func testSetup(t *testing.T) (*Handlers, *store.Store, string) {
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

	cfg := config.DefaultConfig()
	st := store.New(database, ciph, paths.NewResolver(tmpDir), logger.Discard())
	orch := pipeline.New(st, syncTranscriber{}, syncRefiner{}, cfg, logger.Discard())
	backups := backup.NewManager(st, ciph, cfg, tmpDir, logger.Discard())
	monitor := health.NewMonitor(st, ciph, cfg, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	orch.Start(ctx)

	return NewHandlers(st, orch, backups, monitor, cfg), st, tmpDir
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func decodeResult(t *testing.T, result *mcp.CallToolResult, out any) {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text := result.Content[0].(mcp.TextContent).Text
	require.NoError(t, json.Unmarshal([]byte(text), out))
}

func writeAudio(t *testing.T, baseDir, name string) string {
	t.Helper()
	path := filepath.Join(baseDir, paths.AudioDir, name)
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0600))
	return path
}

func waitForStage(t *testing.T, st *store.Store, id string, want journal.Stage) *journal.Entry {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		entry, err := st.GetEntry(id)
		require.NoError(t, err)
		if entry.Stage == want {
			return entry
		}
		select {
		case <-deadline:
			t.Fatalf("entry %s stuck in %q, want %q", id, entry.Stage, want)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestHandleCreate_StartsPipeline(t *testing.T) {
	h, st, baseDir := testSetup(t)

	result, err := h.HandleCreate(context.Background(), makeRequest(map[string]any{
		"audio_uri":    writeAudio(t, baseDir, "h1.m4a"),
		"audio_levels": []any{0.2, 0.8, 0.5},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var entry journal.Entry
	decodeResult(t, result, &entry)
	require.NotEmpty(t, entry.ID)
	require.Equal(t, []float64{0.2, 0.8, 0.5}, entry.AudioLevels)

	done := waitForStage(t, st, entry.ID, journal.StageCompleted)
	require.Equal(t, "refined raw transcript", done.Text)
}

func TestHandleCreate_MissingAudio(t *testing.T) {
	h, _, _ := testSetup(t)

	result, err := h.HandleCreate(context.Background(), makeRequest(map[string]any{}))
	require.NoError(t, err)
	require.True(t, result.IsError)

	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decodeResult(t, result, &payload)
	require.Equal(t, "INVALID_REQUEST", payload.Error.Code)
}

func TestHandleGet_NotFound(t *testing.T) {
	h, _, _ := testSetup(t)

	result, err := h.HandleGet(context.Background(), makeRequest(map[string]any{"id": "nope"}))
	require.NoError(t, err)
	require.True(t, result.IsError)

	var payload struct {
		Error struct {
			Code   string `json:"code"`
			Status int    `json:"status"`
		} `json:"error"`
	}
	decodeResult(t, result, &payload)
	require.Equal(t, "NOT_FOUND", payload.Error.Code)
	require.Equal(t, 404, payload.Error.Status)
}

func TestHandleList(t *testing.T) {
	h, st, baseDir := testSetup(t)
	for _, name := range []string{"l1.m4a", "l2.m4a"} {
		entry, err := st.CreateEntry(journal.Draft{AudioURI: writeAudio(t, baseDir, name)})
		require.NoError(t, err)
		waitForStage(t, st, entry.ID, journal.StageTranscribing)
	}

	result, err := h.HandleList(context.Background(), makeRequest(map[string]any{"limit": 10}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var payload struct {
		Entries []journal.Entry `json:"entries"`
	}
	decodeResult(t, result, &payload)
	require.Len(t, payload.Entries, 2)
}

func TestHandleUpdateAndUndo(t *testing.T) {
	h, st, baseDir := testSetup(t)

	created, err := st.CreateEntry(journal.Draft{AudioURI: writeAudio(t, baseDir, "u1.m4a")})
	require.NoError(t, err)
	h.orchestrator.EnqueueTranscription(created.ID)
	waitForStage(t, st, created.ID, journal.StageCompleted)

	result, err := h.HandleUpdate(context.Background(), makeRequest(map[string]any{
		"id":   created.ID,
		"text": "hand edited",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var edited journal.Entry
	decodeResult(t, result, &edited)
	require.Equal(t, "hand edited", edited.Text)
	require.Equal(t, "refined raw transcript", edited.BackupText)

	result, err = h.HandleUndoEdit(context.Background(), makeRequest(map[string]any{"id": created.ID}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var restored journal.Entry
	decodeResult(t, result, &restored)
	require.Equal(t, "refined raw transcript", restored.Text)
}

func TestHandleDelete(t *testing.T) {
	h, st, baseDir := testSetup(t)
	created, err := st.CreateEntry(journal.Draft{AudioURI: writeAudio(t, baseDir, "d1.m4a")})
	require.NoError(t, err)

	result, err := h.HandleDelete(context.Background(), makeRequest(map[string]any{"id": created.ID}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	result, err = h.HandleGet(context.Background(), makeRequest(map[string]any{"id": created.ID}))
	require.NoError(t, err)
	require.True(t, result.IsError)
}

func TestHandleExport(t *testing.T) {
	h, st, baseDir := testSetup(t)
	created, err := st.CreateEntry(journal.Draft{AudioURI: writeAudio(t, baseDir, "e1.m4a")})
	require.NoError(t, err)
	h.orchestrator.EnqueueTranscription(created.ID)
	waitForStage(t, st, created.ID, journal.StageCompleted)

	result, err := h.HandleExport(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var doc journal.ExportDocument
	decodeResult(t, result, &doc)
	require.Equal(t, journal.ExportVersion, doc.Version)
	require.Len(t, doc.Entries, 1)
}

func TestHandleAppState(t *testing.T) {
	h, st, baseDir := testSetup(t)
	_, err := st.CreateEntry(journal.Draft{AudioURI: writeAudio(t, baseDir, "a1.m4a")})
	require.NoError(t, err)

	result, err := h.HandleAppState(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var state journal.AppState
	decodeResult(t, result, &state)
	require.Equal(t, 1, state.Streak)
}

func TestHandleBackupCreateListRestore(t *testing.T) {
	h, st, baseDir := testSetup(t)
	created, err := st.CreateEntry(journal.Draft{AudioURI: writeAudio(t, baseDir, "b1.m4a")})
	require.NoError(t, err)

	result, err := h.HandleBackupCreate(context.Background(), makeRequest(map[string]any{
		"kind": "lightweight",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var createOut struct {
		Path string `json:"path"`
	}
	decodeResult(t, result, &createOut)
	require.NotEmpty(t, createOut.Path)

	result, err = h.HandleBackupList(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var listOut struct {
		Backups []backup.Record `json:"backups"`
	}
	decodeResult(t, result, &listOut)
	require.Len(t, listOut.Backups, 1)

	// Mutate then restore.
	require.NoError(t, st.DeleteEntry(created.ID))
	result, err = h.HandleBackupRestore(context.Background(), makeRequest(map[string]any{
		"path": createOut.Path,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	restored, err := st.GetEntry(created.ID)
	require.NoError(t, err)
	require.Equal(t, created.ID, restored.ID)
}

func TestHandleBackupRestore_RequiresPath(t *testing.T) {
	h, _, _ := testSetup(t)
	result, err := h.HandleBackupRestore(context.Background(), makeRequest(map[string]any{}))
	require.NoError(t, err)
	require.True(t, result.IsError)
}

func TestHandleHealthScan(t *testing.T) {
	h, st, baseDir := testSetup(t)
	_, err := st.CreateEntry(journal.Draft{AudioURI: writeAudio(t, baseDir, "s1.m4a")})
	require.NoError(t, err)

	result, err := h.HandleHealthScan(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var report health.Report
	decodeResult(t, result, &report)
	require.True(t, report.IsHealthy)
	require.Equal(t, 1, report.EntriesScanned)
}

func TestToolRegistryComplete(t *testing.T) {
	names := AllToolNames()
	require.Len(t, names, len(toolRegistry))
	for _, name := range names {
		entry, ok := toolRegistry[name]
		require.True(t, ok)
		require.NotNil(t, entry.handler)
		require.Equal(t, name, entry.def.Name, "tool %s is registered under a mismatched name", name)
	}
}
