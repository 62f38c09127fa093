package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

var createToolDef = mcp.NewTool("journal_create",
	mcp.WithDescription("Create a journal entry stub from a recorded audio file and start transcription."),
	mcp.WithString("audio_uri", mcp.Required(), mcp.Description("Path to the audio file (relative to the storage root, or absolute)")),
	mcp.WithString("title", mcp.Description("Optional title; refinement fills it in when omitted")),
	mcp.WithNumber("duration", mcp.Description("Audio duration in seconds, if known")),
	mcp.WithArray("audio_levels",
		mcp.Description("Waveform peak samples for playback rendering"),
		mcp.Items(map[string]any{"type": "number"}),
	),
)

var getToolDef = mcp.NewTool("journal_get",
	mcp.WithDescription("Fetch one journal entry by id."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Entry id")),
)

var listToolDef = mcp.NewTool("journal_list",
	mcp.WithDescription("List journal entries, newest first."),
	mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 200)")),
	mcp.WithNumber("offset", mcp.Description("Page offset")),
)

var updateToolDef = mcp.NewTool("journal_update",
	mcp.WithDescription("Edit the title and/or text of a finished entry. The previous text is kept for a single-level undo."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Entry id")),
	mcp.WithString("title", mcp.Description("New title")),
	mcp.WithString("text", mcp.Description("New text")),
)

var undoEditToolDef = mcp.NewTool("journal_undo_edit",
	mcp.WithDescription("Restore the previous text of an entry after a manual edit."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Entry id")),
)

var deleteToolDef = mcp.NewTool("journal_delete",
	mcp.WithDescription("Delete an entry, its audio file, and any queued processing for it."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Entry id")),
)

var retryToolDef = mcp.NewTool("journal_retry",
	mcp.WithDescription("Retry a failed entry. Resets the retry counter and re-runs the failed stage."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Entry id")),
)

var exportToolDef = mcp.NewTool("journal_export",
	mcp.WithDescription("Export the journal as a document (audio bytes excluded)."),
)

var appStateToolDef = mcp.NewTool("journal_app_state",
	mcp.WithDescription("Read the app state: current streak and last entry date."),
)

var backupCreateToolDef = mcp.NewTool("backup_create",
	mcp.WithDescription("Take a manual backup of the journal store."),
	mcp.WithString("kind", mcp.Description("lightweight (metadata only, default) or complete (bundles audio)")),
)

var backupListToolDef = mcp.NewTool("backup_list",
	mcp.WithDescription("List known backups, newest first."),
)

var backupRestoreToolDef = mcp.NewTool("backup_restore",
	mcp.WithDescription("Replace the store contents with a chosen backup. A safety backup of the current state is taken first."),
	mcp.WithString("path", mcp.Required(), mcp.Description("Backup path from backup_list")),
)

var healthScanToolDef = mcp.NewTool("health_scan",
	mcp.WithDescription("Scan the store for corruption, applying safe local repairs."),
)
