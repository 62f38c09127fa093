package journal

import (
	"time"
)

// Stage represents the position of an entry in the processing pipeline.
type Stage string

const (
	StageTranscribing       Stage = "transcribing"
	StageTranscribingFailed Stage = "transcribing_failed"
	StageRefining           Stage = "refining"
	StageRefiningFailed     Stage = "refining_failed"
	StageCompleted          Stage = "completed"
	StageAudioUnavailable   Stage = "audio_unavailable"
)

// KnownStages lists every valid processing stage.
var KnownStages = []Stage{
	StageTranscribing,
	StageTranscribingFailed,
	StageRefining,
	StageRefiningFailed,
	StageCompleted,
	StageAudioUnavailable,
}

// IsKnown reports whether s is a valid processing stage.
func (s Stage) IsKnown() bool {
	for _, k := range KnownStages {
		if s == k {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the pipeline will never touch an entry in this
// stage again. completed entries belong to the user; audio_unavailable means
// the underlying media is gone.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageAudioUnavailable
}

// transitions is the entry state machine. A self-edge models a retry of the
// same stage.
var transitions = map[Stage][]Stage{
	StageTranscribing:       {StageTranscribing, StageTranscribingFailed, StageRefining, StageAudioUnavailable},
	StageTranscribingFailed: {StageTranscribing},
	StageRefining:           {StageRefining, StageRefiningFailed, StageCompleted},
	StageRefiningFailed:     {StageRefining},
	StageCompleted:          {},
	StageAudioUnavailable:   {},
}

// CanTransition reports whether the state machine permits moving from one
// stage to another.
func CanTransition(from, to Stage) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Entry is one journal record spanning captured audio through final refined
// text. Title, Text, RawText and BackupText are plaintext here; the store
// encrypts them at rest.
type Entry struct {
	ID            string    `json:"id"`
	Date          time.Time `json:"date"`
	Title         string    `json:"title"`
	Text          string    `json:"text"`
	RawText       string    `json:"rawText"`
	AudioURI      string    `json:"audioUri"` // always relative in storage
	Duration      float64   `json:"duration"` // seconds
	AudioLevels   []float64 `json:"audioLevels,omitempty"`
	Stage         Stage     `json:"processingStage"`
	RetryCount    int       `json:"retryCount"`
	ExternalJobID string    `json:"externalJobId,omitempty"`
	LastError     string    `json:"lastError,omitempty"`
	BackupText    string    `json:"backupText,omitempty"`
}

// Draft carries the fields the host supplies when creating an entry stub.
type Draft struct {
	Title       string
	AudioURI    string
	Duration    float64
	AudioLevels []float64
}

// Patch is a typed partial update for an entry. Nil fields are left
// untouched. Stage transitions applied through a patch are validated against
// the state machine by the store.
type Patch struct {
	Title         *string
	Text          *string
	RawText       *string
	Duration      *float64
	AudioLevels   *[]float64
	Stage         *Stage
	RetryCount    *int
	ExternalJobID *string
	LastError     *string
	BackupText    *string
}

// IsZero reports whether the patch carries no changes.
func (p Patch) IsZero() bool {
	return p.Title == nil && p.Text == nil && p.RawText == nil &&
		p.Duration == nil && p.AudioLevels == nil && p.Stage == nil &&
		p.RetryCount == nil && p.ExternalJobID == nil && p.LastError == nil &&
		p.BackupText == nil
}

// AppState is the singleton application state row.
type AppState struct {
	Streak        int        `json:"streak"`
	LastEntryDate *time.Time `json:"lastEntryDate,omitempty"`
}

// AppStatePatch is a typed partial update for the app state row.
type AppStatePatch struct {
	Streak        *int
	LastEntryDate *time.Time
}

// NextStreak computes the consecutive-day streak after an entry created at
// now, given the previous state.
func NextStreak(prev AppState, now time.Time) int {
	if prev.LastEntryDate == nil {
		return 1
	}
	last := prev.LastEntryDate.Truncate(24 * time.Hour)
	today := now.Truncate(24 * time.Hour)
	switch today.Sub(last) {
	case 0:
		if prev.Streak == 0 {
			return 1
		}
		return prev.Streak
	case 24 * time.Hour:
		return prev.Streak + 1
	default:
		return 1
	}
}
