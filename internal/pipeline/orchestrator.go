package pipeline

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/nreeve/murmur/internal/config"
	"github.com/nreeve/murmur/internal/errors"
	"github.com/nreeve/murmur/internal/journal"
	"github.com/nreeve/murmur/internal/store"
)

type taskKind int

const (
	taskTranscribe taskKind = iota
	taskRefine
)

// task is one unit of pipeline work. expect is the stage the entry must
// still be in for the task to act; anything else means the task is stale
// (entry deleted, already advanced, or manually retried into a fresh task)
// and its result is discarded.
type task struct {
	kind    taskKind
	entryID string
	expect  journal.Stage
}

// Orchestrator drives entries through transcription and refinement on a
// single-consumer queue. Enqueue methods are safe from any goroutine; all
// task execution happens on one background goroutine, so tasks for a given
// entry run in FIFO submission order.
type Orchestrator struct {
	store       *store.Store
	transcriber Transcriber
	refiner     Refiner
	cfg         *config.Config
	logger      *slog.Logger

	tasks chan task
	ctx   context.Context
	wg    sync.WaitGroup

	// pollInterval between async job polls; shortened in tests.
	pollInterval time.Duration
}

// New returns an Orchestrator. Call Start to begin consuming tasks.
func New(st *store.Store, transcriber Transcriber, refiner Refiner, cfg *config.Config, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:        st,
		transcriber:  transcriber,
		refiner:      refiner,
		cfg:          cfg,
		logger:       logger,
		tasks:        make(chan task, 256),
		ctx:          context.Background(),
		pollInterval: cfg.JobPollInterval(),
	}
}

// Start launches the queue consumer. It runs until ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) {
	o.ctx = ctx
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.consume(ctx)
	}()
}

// Wait blocks until the consumer and any pending retry timers have exited.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// EnqueueTranscription queues the transcription stage for an entry.
func (o *Orchestrator) EnqueueTranscription(id string) {
	o.enqueue(task{kind: taskTranscribe, entryID: id, expect: journal.StageTranscribing})
}

// EnqueueRefinement queues the refinement stage for an entry.
func (o *Orchestrator) EnqueueRefinement(id string) {
	o.enqueue(task{kind: taskRefine, entryID: id, expect: journal.StageRefining})
}

// Resume re-enqueues every entry still owned by the pipeline. Called once at
// startup; entries with a persisted external job id pick their job back up
// without resubmitting audio.
func (o *Orchestrator) Resume() error {
	entries, err := o.store.EntriesInStages(journal.StageTranscribing, journal.StageRefining)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		switch entry.Stage {
		case journal.StageTranscribing:
			o.EnqueueTranscription(entry.ID)
		case journal.StageRefining:
			o.EnqueueRefinement(entry.ID)
		}
	}
	if len(entries) > 0 {
		o.logger.Info("resumed in-flight entries", slog.Int("count", len(entries)))
	}
	return nil
}

func (o *Orchestrator) enqueue(t task) {
	select {
	case o.tasks <- t:
	case <-o.ctx.Done():
	}
}

func (o *Orchestrator) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-o.tasks:
			o.run(ctx, t)
		}
	}
}

// run executes one task, guarded against stale targets.
func (o *Orchestrator) run(ctx context.Context, t task) {
	entry, err := o.store.GetEntry(t.entryID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			// Entry deleted after the task was queued; drop the task.
			return
		}
		o.logger.Error("task load failed",
			slog.String("id", t.entryID),
			slog.String("error", err.Error()),
		)
		return
	}
	if entry.Stage != t.expect {
		// Stale: the entry advanced or was retried into a fresh task.
		return
	}

	switch t.kind {
	case taskTranscribe:
		o.transcribe(ctx, entry)
	case taskRefine:
		o.refine(ctx, entry)
	}
}

func (o *Orchestrator) transcribe(ctx context.Context, entry *journal.Entry) {
	audioPath := o.store.Resolver().ToAbsolute(entry.AudioURI)
	if _, err := os.Stat(audioPath); err != nil {
		// The media is gone; terminal, never retried.
		stage := journal.StageAudioUnavailable
		msg := errors.NewAudioUnavailable(entry.AudioURI).Message
		o.applyGuarded(entry.ID, journal.StageTranscribing, journal.Patch{
			Stage:     &stage,
			LastError: &msg,
		})
		return
	}

	jobID := entry.ExternalJobID
	if jobID == "" {
		var err error
		jobID, err = o.transcriber.Submit(ctx, audioPath)
		if err != nil {
			o.failStage(entry, errors.NewTranscriptionFailure(err), false)
			return
		}
		// Persist the job id before waiting so a restart polls the same
		// job instead of resubmitting audio.
		if !o.applyGuarded(entry.ID, journal.StageTranscribing, journal.Patch{ExternalJobID: &jobID}) {
			return
		}
	}

	transcript, err := o.awaitJob(ctx, jobID)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown mid-job; the persisted job id resumes it next run.
			return
		}
		// The job itself failed; a retry must submit a fresh job.
		o.failStage(entry, errors.NewTranscriptionFailure(err), true)
		return
	}

	next := journal.StageRefining
	zero := 0
	clear := ""
	patch := journal.Patch{
		RawText:       &transcript.Text,
		Stage:         &next,
		RetryCount:    &zero,
		ExternalJobID: &clear,
		LastError:     &clear,
	}
	if transcript.Duration > 0 {
		patch.Duration = &transcript.Duration
	}
	if !o.applyGuarded(entry.ID, journal.StageTranscribing, patch) {
		return
	}

	o.logger.Info("entry transcribed", slog.String("id", entry.ID))
	o.EnqueueRefinement(entry.ID)
}

// awaitJob polls an asynchronous transcription job to completion.
func (o *Orchestrator) awaitJob(ctx context.Context, jobID string) (*Transcript, error) {
	for {
		transcript, err := o.transcriber.Poll(ctx, jobID)
		if err == nil {
			return transcript, nil
		}
		if err != ErrJobPending {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(o.pollInterval):
		}
	}
}

func (o *Orchestrator) refine(ctx context.Context, entry *journal.Entry) {
	refinement, err := o.refiner.Refine(ctx, entry.RawText)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		o.failStage(entry, errors.NewRefinementFailure(err), false)
		return
	}

	next := journal.StageCompleted
	zero := 0
	clear := ""
	patch := journal.Patch{
		Text:       &refinement.FormattedText,
		Stage:      &next,
		RetryCount: &zero,
		LastError:  &clear,
	}
	if entry.Title == "" && refinement.Title != "" {
		patch.Title = &refinement.Title
	}
	if !o.applyGuarded(entry.ID, journal.StageRefining, patch) {
		return
	}

	o.logger.Info("entry completed", slog.String("id", entry.ID))
}

// failStage increments the retry counter and either re-enqueues the stage
// with backoff or parks the entry in its *_failed state at the bound.
// clearJobID drops a dead external job so the next attempt submits afresh.
func (o *Orchestrator) failStage(entry *journal.Entry, failure *errors.JournalError, clearJobID bool) {
	attempts := entry.RetryCount + 1
	msg := failure.Message
	var jobID *string
	if clearJobID {
		empty := ""
		jobID = &empty
	}

	if attempts >= o.cfg.RetryLimit {
		failed := journal.StageTranscribingFailed
		if entry.Stage == journal.StageRefining {
			failed = journal.StageRefiningFailed
		}
		o.applyGuarded(entry.ID, entry.Stage, journal.Patch{
			Stage:         &failed,
			RetryCount:    &attempts,
			LastError:     &msg,
			ExternalJobID: jobID,
		})
		o.logger.Warn("stage parked after repeated failures",
			slog.String("id", entry.ID),
			slog.String("stage", string(failed)),
			slog.Int("attempts", attempts),
		)
		return
	}

	if !o.applyGuarded(entry.ID, entry.Stage, journal.Patch{
		RetryCount:    &attempts,
		LastError:     &msg,
		ExternalJobID: jobID,
	}) {
		return
	}

	delay := o.backoff(attempts)
	retry := task{kind: taskTranscribe, entryID: entry.ID, expect: journal.StageTranscribing}
	if entry.Stage == journal.StageRefining {
		retry = task{kind: taskRefine, entryID: entry.ID, expect: journal.StageRefining}
	}

	o.logger.Info("stage retry scheduled",
		slog.String("id", entry.ID),
		slog.Int("attempt", attempts),
		slog.Duration("delay", delay),
	)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		select {
		case <-o.ctx.Done():
		case <-time.After(delay):
			o.enqueue(retry)
		}
	}()
}

// backoff doubles the base delay per consecutive failure, capped.
func (o *Orchestrator) backoff(attempts int) time.Duration {
	delay := o.cfg.RetryBackoffBase()
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay > o.cfg.RetryBackoffMax() {
			return o.cfg.RetryBackoffMax()
		}
	}
	return delay
}

// applyGuarded writes a patch only if the entry is still in the expected
// stage. Returns false when the write was discarded as stale.
func (o *Orchestrator) applyGuarded(id string, expect journal.Stage, patch journal.Patch) bool {
	err := o.store.UpdateEntryIfStage(id, expect, patch)
	if err == nil {
		return true
	}
	if errors.Is(err, errors.ErrStaleTask) {
		return false
	}
	o.logger.Error("pipeline write failed",
		slog.String("id", id),
		slog.String("error", err.Error()),
	)
	return false
}
