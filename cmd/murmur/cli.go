package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/nreeve/murmur/internal/backup"
	"github.com/nreeve/murmur/internal/db"
	"github.com/nreeve/murmur/internal/errors"
	"github.com/nreeve/murmur/internal/journal"
)

// processingWaitTimeout bounds how long a CLI invocation waits for the
// pipeline to settle before giving up and leaving entries resumable.
const processingWaitTimeout = 5 * time.Minute

// newCLIApp creates the CLI application with all commands.
func newCLIApp(svc *services) *cli.App {
	app := &cli.App{
		Name:    "murmur",
		Usage:   "Secure local voice journal",
		Version: Version,
		Commands: []*cli.Command{
			createCmd(svc),
			showCmd(svc),
			listCmd(svc),
			editCmd(svc),
			undoCmd(svc),
			deleteCmd(svc),
			retryCmd(svc),
			processCmd(svc),
			exportCmd(svc),
			backupCmd(svc),
			backupsCmd(svc),
			restoreCmd(svc),
			doctorCmd(svc),
			migrateCmd(svc),
			streakCmd(svc),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func createCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Create an entry from an audio file and run it through the pipeline",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "audio", Aliases: []string{"a"}, Required: true, Usage: "Audio file path"},
			&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Usage: "Optional title"},
			&cli.Float64Flag{Name: "duration", Usage: "Audio duration in seconds"},
			&cli.Float64SliceFlag{Name: "level", Usage: "Waveform peak sample for playback rendering (repeatable)"},
			&cli.BoolFlag{Name: "no-wait", Usage: "Return immediately; processing resumes on the next run"},
		},
		Action: func(c *cli.Context) error {
			entry, err := svc.store.CreateEntry(journal.Draft{
				Title:       c.String("title"),
				AudioURI:    c.String("audio"),
				Duration:    c.Float64("duration"),
				AudioLevels: c.Float64Slice("level"),
			})
			if err != nil {
				return outputError(err)
			}

			svc.orchestrator.EnqueueTranscription(entry.ID)
			if !c.Bool("no-wait") {
				if err := waitSettled(svc, entry.ID); err != nil {
					return outputError(err)
				}
			}

			final, err := svc.store.GetEntry(entry.ID)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(final)
		},
	}
}

func showCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show one entry",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewInvalidRequest("entry id is required"))
			}
			entry, err := svc.store.GetEntry(c.Args().First())
			if err != nil {
				return outputError(err)
			}
			return outputJSON(entry)
		},
	}
}

func listCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List entries, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20, Usage: "Page size"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Usage: "Page offset"},
		},
		Action: func(c *cli.Context) error {
			entries, err := svc.store.ListEntries(c.Int("limit"), c.Int("offset"))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{"entries": entries})
		},
	}
}

func editCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:      "edit",
		Usage:     "Edit the title and/or text of a finished entry",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Usage: "New title"},
			&cli.StringFlag{Name: "text", Usage: "New text"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewInvalidRequest("entry id is required"))
			}
			id := c.Args().First()

			var title, text *string
			if c.IsSet("title") {
				v := c.String("title")
				title = &v
			}
			if c.IsSet("text") {
				v := c.String("text")
				text = &v
			}
			if err := svc.store.ApplyUserEdit(id, title, text); err != nil {
				return outputError(err)
			}
			entry, err := svc.store.GetEntry(id)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(entry)
		},
	}
}

func undoCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:      "undo",
		Usage:     "Restore the previous text after a manual edit",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewInvalidRequest("entry id is required"))
			}
			id := c.Args().First()
			if err := svc.store.UndoEdit(id); err != nil {
				return outputError(err)
			}
			entry, err := svc.store.GetEntry(id)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(entry)
		},
	}
}

func deleteCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete an entry and its audio file",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewInvalidRequest("entry id is required"))
			}
			id := c.Args().First()
			if err := svc.store.DeleteEntry(id); err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{"deleted": id})
		},
	}
}

func retryCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:      "retry",
		Usage:     "Retry a failed entry with a fresh retry budget",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "no-wait", Usage: "Return immediately; processing resumes on the next run"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewInvalidRequest("entry id is required"))
			}
			entry, err := svc.store.RetryStage(c.Args().First())
			if err != nil {
				return outputError(err)
			}

			switch entry.Stage {
			case journal.StageTranscribing:
				svc.orchestrator.EnqueueTranscription(entry.ID)
			case journal.StageRefining:
				svc.orchestrator.EnqueueRefinement(entry.ID)
			}
			if !c.Bool("no-wait") {
				if err := waitSettled(svc, entry.ID); err != nil {
					return outputError(err)
				}
			}

			final, err := svc.store.GetEntry(entry.ID)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(final)
		},
	}
}

func processCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:  "process",
		Usage: "Resume and finish any entries still in the pipeline",
		Action: func(c *cli.Context) error {
			pending, err := svc.store.EntriesInStages(journal.StageTranscribing, journal.StageRefining)
			if err != nil {
				return outputError(err)
			}
			if len(pending) == 0 {
				return outputJSON(map[string]any{"processed": 0})
			}

			ids := make([]string, 0, len(pending))
			for _, entry := range pending {
				ids = append(ids, entry.ID)
			}
			if err := svc.orchestrator.Resume(); err != nil {
				return outputError(err)
			}
			if err := waitSettled(svc, ids...); err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{"processed": len(ids)})
		},
	}
}

func exportCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export the journal (audio bytes excluded)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Output file (default: exports/journal-<timestamp>.<ext>)"},
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "json", Usage: "Output format: json|html"},
		},
		Action: func(c *cli.Context) error {
			format := c.String("format")
			if format != "json" && format != "html" {
				return outputError(errors.NewInvalidRequest("format must be one of: json, html"))
			}

			entries, err := svc.store.AllEntries()
			if err != nil {
				return outputError(err)
			}
			doc := journal.BuildExport(entries, time.Now())

			var data []byte
			switch format {
			case "json":
				data, err = doc.Marshal()
			case "html":
				data, err = doc.RenderHTML()
			}
			if err != nil {
				return outputError(errors.NewInternal(err))
			}

			path := c.String("path")
			if path == "" {
				name := fmt.Sprintf("journal-%s.%s", time.Now().Format("20060102-150405"), format)
				path = filepath.Join(svc.baseDir, "exports", name)
			}
			if err := os.WriteFile(path, data, 0600); err != nil {
				return outputError(errors.NewInternal(err))
			}
			return outputJSON(map[string]any{"path": path, "entries": len(doc.Entries)})
		},
	}
}

func backupCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:  "backup",
		Usage: "Take a manual backup",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "complete", Usage: "Bundle audio files (default: metadata only)"},
		},
		Action: func(c *cli.Context) error {
			kind := backup.KindLightweight
			if c.Bool("complete") {
				kind = backup.KindComplete
			}
			path, err := svc.backups.Create(kind, backup.TriggerManual)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{"path": path})
		},
	}
}

func backupsCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:  "backups",
		Usage: "List known backups, newest first",
		Action: func(c *cli.Context) error {
			records, err := svc.backups.List()
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			return outputJSON(map[string]any{"backups": records})
		},
	}
}

func restoreCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:      "restore",
		Usage:     "Replace the store contents with a chosen backup",
		ArgsUsage: "<path>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewInvalidRequest("backup path is required"))
			}
			path := c.Args().First()
			if err := svc.backups.Restore(path); err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{"restored": path})
		},
	}
}

func doctorCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:  "doctor",
		Usage: "Scan the store for corruption, applying safe local repairs",
		Action: func(c *cli.Context) error {
			report, err := svc.monitor.Scan()
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			return outputJSON(report)
		},
	}
}

func migrateCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending schema migrations and report what changed",
		Action: func(c *cli.Context) error {
			// Snapshot the current state before touching the schema.
			if _, err := svc.newBackupScheduler().RunBeforeRiskyOperation(); err != nil {
				return outputError(err)
			}

			var result *db.Result
			err := svc.store.RunExclusive(func() error {
				var err error
				result, err = db.Migrate(svc.db)
				return err
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(result)
		},
	}
}

func streakCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:  "streak",
		Usage: "Show the current consecutive-day streak",
		Action: func(c *cli.Context) error {
			state, err := svc.store.GetAppState()
			if err != nil {
				return outputError(err)
			}
			return outputJSON(state)
		},
	}
}

// waitSettled runs the pipeline until the given entries leave the active
// stages, then stops it.
func waitSettled(svc *services, ids ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), processingWaitTimeout)
	defer cancel()
	svc.orchestrator.Start(ctx)

	for {
		settled := true
		for _, id := range ids {
			entry, err := svc.store.GetEntry(id)
			if err != nil {
				continue // deleted mid-flight; nothing to wait for
			}
			if entry.Stage == journal.StageTranscribing || entry.Stage == journal.StageRefining {
				settled = false
				break
			}
		}
		if settled {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.NewInternal(fmt.Errorf("timed out waiting for processing; run 'murmur process' to resume"))
		case <-time.After(200 * time.Millisecond):
		}
	}
}

// outputJSON prints data as indented JSON to stdout.
func outputJSON(data any) error {
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// outputError prints a structured error to stderr and returns it so the
// process exits non-zero.
func outputError(err error) error {
	if jErr, ok := err.(*errors.JournalError); ok {
		payload, _ := json.MarshalIndent(map[string]any{
			"error": map[string]any{
				"code":    jErr.Code,
				"message": jErr.Message,
				"status":  jErr.Status,
			},
		}, "", "  ")
		fmt.Fprintln(os.Stderr, string(payload))
		return err
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	return err
}
