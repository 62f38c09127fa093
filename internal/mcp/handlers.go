package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nreeve/murmur/internal/backup"
	"github.com/nreeve/murmur/internal/config"
	"github.com/nreeve/murmur/internal/errors"
	"github.com/nreeve/murmur/internal/health"
	"github.com/nreeve/murmur/internal/journal"
	"github.com/nreeve/murmur/internal/pipeline"
	"github.com/nreeve/murmur/internal/store"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	store        *store.Store
	orchestrator *pipeline.Orchestrator
	backups      *backup.Manager
	monitor      *health.Monitor
	cfg          *config.Config
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(st *store.Store, orch *pipeline.Orchestrator, backups *backup.Manager, monitor *health.Monitor, cfg *config.Config) *Handlers {
	return &Handlers{
		store:        st,
		orchestrator: orch,
		backups:      backups,
		monitor:      monitor,
		cfg:          cfg,
	}
}

// Request types for each tool

// CreateRequest represents the arguments for journal_create.
type CreateRequest struct {
	AudioURI    string    `json:"audio_uri"`
	Title       string    `json:"title,omitempty"`
	Duration    float64   `json:"duration,omitempty"`
	AudioLevels []float64 `json:"audio_levels,omitempty"`
}

// GetRequest represents the arguments for journal_get.
type GetRequest struct {
	ID string `json:"id"`
}

// ListRequest represents the arguments for journal_list.
type ListRequest struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// UpdateRequest represents the arguments for journal_update.
type UpdateRequest struct {
	ID    string  `json:"id"`
	Title *string `json:"title,omitempty"`
	Text  *string `json:"text,omitempty"`
}

// BackupCreateRequest represents the arguments for backup_create.
type BackupCreateRequest struct {
	Kind string `json:"kind,omitempty"`
}

// BackupRestoreRequest represents the arguments for backup_restore.
type BackupRestoreRequest struct {
	Path string `json:"path"`
}

// decode re-marshals the raw tool arguments into the tool's typed request
// struct, so each handler sees one decode error instead of per-field type
// assertions.
func decode[T any](req mcp.CallToolRequest) (T, error) {
	var out T
	raw, err := json.Marshal(req.GetArguments())
	if err != nil {
		return out, fmt.Errorf("encode arguments: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode arguments: %w", err)
	}
	return out, nil
}

// Handler implementations

// HandleCreate handles the journal_create tool call.
func (h *Handlers) HandleCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CreateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	entry, err := h.store.CreateEntry(journal.Draft{
		Title:       input.Title,
		AudioURI:    input.AudioURI,
		Duration:    input.Duration,
		AudioLevels: input.AudioLevels,
	})
	if err != nil {
		return errorResult(err), nil
	}

	h.orchestrator.EnqueueTranscription(entry.ID)
	return successResult(entry)
}

// HandleGet handles the journal_get tool call.
func (h *Handlers) HandleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[GetRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	entry, err := h.store.GetEntry(input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(entry)
}

// HandleList handles the journal_list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	entries, err := h.store.ListEntries(input.Limit, input.Offset)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"entries": entries})
}

// HandleUpdate handles the journal_update tool call.
func (h *Handlers) HandleUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[UpdateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	if err := h.store.ApplyUserEdit(input.ID, input.Title, input.Text); err != nil {
		return errorResult(err), nil
	}
	entry, err := h.store.GetEntry(input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(entry)
}

// HandleUndoEdit handles the journal_undo_edit tool call.
func (h *Handlers) HandleUndoEdit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[GetRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	if err := h.store.UndoEdit(input.ID); err != nil {
		return errorResult(err), nil
	}
	entry, err := h.store.GetEntry(input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(entry)
}

// HandleDelete handles the journal_delete tool call.
func (h *Handlers) HandleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[GetRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	if err := h.store.DeleteEntry(input.ID); err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"deleted": input.ID})
}

// HandleRetry handles the journal_retry tool call.
func (h *Handlers) HandleRetry(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[GetRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	entry, err := h.store.RetryStage(input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	switch entry.Stage {
	case journal.StageTranscribing:
		h.orchestrator.EnqueueTranscription(entry.ID)
	case journal.StageRefining:
		h.orchestrator.EnqueueRefinement(entry.ID)
	}
	return successResult(entry)
}

// HandleExport handles the journal_export tool call.
func (h *Handlers) HandleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := h.store.AllEntries()
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(journal.BuildExport(entries, time.Now()))
}

// HandleAppState handles the journal_app_state tool call.
func (h *Handlers) HandleAppState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	state, err := h.store.GetAppState()
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(state)
}

// HandleBackupCreate handles the backup_create tool call.
func (h *Handlers) HandleBackupCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[BackupCreateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	kind := backup.KindLightweight
	if input.Kind != "" {
		kind = backup.Kind(input.Kind)
	}
	path, err := h.backups.Create(kind, backup.TriggerManual)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"path": path})
}

// HandleBackupList handles the backup_list tool call.
func (h *Handlers) HandleBackupList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	records, err := h.backups.List()
	if err != nil {
		return errorResult(errors.NewInternal(err)), nil
	}
	return successResult(map[string]any{"backups": records})
}

// HandleBackupRestore handles the backup_restore tool call.
func (h *Handlers) HandleBackupRestore(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[BackupRestoreRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Path == "" {
		return errorResult(errors.NewInvalidRequest("path is required")), nil
	}

	if err := h.backups.Restore(input.Path); err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"restored": input.Path})
}

// HandleHealthScan handles the health_scan tool call.
func (h *Handlers) HandleHealthScan(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := h.monitor.Scan()
	if err != nil {
		return errorResult(errors.NewInternal(err)), nil
	}
	return successResult(report)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Note: Internal error details are not exposed to prevent leaking sensitive info.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if jErr, ok := err.(*errors.JournalError); ok {
		errorObj := map[string]any{
			"code":    jErr.Code,
			"message": jErr.Message,
			"status":  jErr.Status,
		}
		// Only include details for non-internal errors to avoid leaking
		// sensitive info like file paths or SQL errors
		if jErr.Code != errors.ErrInternal && jErr.Details != nil {
			errorObj["details"] = jErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
