// Package pipeline drives journal entries through transcription and
// refinement with bounded retries and idempotent resumption.
package pipeline

import (
	"context"
	"errors"
)

// ErrJobPending is returned by Poll while an asynchronous transcription job
// is still running.
var ErrJobPending = errors.New("pipeline: transcription job still pending")

// Transcript is the result of a finished transcription job.
type Transcript struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration,omitempty"`
}

// Transcriber is the external transcription collaborator. Submit uploads the
// audio and returns a job identifier; Poll fetches the result by that
// identifier. The job id is persisted before polling so a process restart
// resumes the same job instead of resubmitting audio.
type Transcriber interface {
	Submit(ctx context.Context, audioPath string) (jobID string, err error)
	Poll(ctx context.Context, jobID string) (*Transcript, error)
}

// Refinement is the result of refining a raw transcript.
type Refinement struct {
	Title         string `json:"title"`
	FormattedText string `json:"formattedText"`
}

// Refiner is the external refinement collaborator.
type Refiner interface {
	Refine(ctx context.Context, rawText string) (*Refinement, error)
}
