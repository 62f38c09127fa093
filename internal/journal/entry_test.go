package journal

import (
	"testing"
	"time"
)

func TestStage_IsKnown(t *testing.T) {
	for _, s := range KnownStages {
		if !s.IsKnown() {
			t.Errorf("%q.IsKnown() = false, want true", s)
		}
	}
	if Stage("bogus").IsKnown() {
		t.Error(`Stage("bogus").IsKnown() = true, want false`)
	}
}

func TestStage_IsTerminal(t *testing.T) {
	terminal := map[Stage]bool{
		StageCompleted:        true,
		StageAudioUnavailable: true,
	}
	for _, s := range KnownStages {
		if got := s.IsTerminal(); got != terminal[s] {
			t.Errorf("%q.IsTerminal() = %v, want %v", s, got, terminal[s])
		}
	}
}

func TestCanTransition_Allowed(t *testing.T) {
	allowed := []struct{ from, to Stage }{
		{StageTranscribing, StageTranscribing}, // retry of the same stage
		{StageTranscribing, StageTranscribingFailed},
		{StageTranscribing, StageRefining},
		{StageTranscribing, StageAudioUnavailable},
		{StageTranscribingFailed, StageTranscribing},
		{StageRefining, StageRefining},
		{StageRefining, StageRefiningFailed},
		{StageRefining, StageCompleted},
		{StageRefiningFailed, StageRefining},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("CanTransition(%q, %q) = false, want true", tc.from, tc.to)
		}
	}
}

func TestCanTransition_Forbidden(t *testing.T) {
	forbidden := []struct{ from, to Stage }{
		{StageTranscribing, StageCompleted}, // cannot skip refinement
		{StageTranscribingFailed, StageRefining},
		{StageRefining, StageTranscribing},
		{StageRefining, StageAudioUnavailable},
		{StageCompleted, StageRefining},
		{StageCompleted, StageTranscribing},
		{StageAudioUnavailable, StageTranscribing},
	}
	for _, tc := range forbidden {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("CanTransition(%q, %q) = true, want false", tc.from, tc.to)
		}
	}
}

func TestTerminalStagesHaveNoExits(t *testing.T) {
	for _, from := range KnownStages {
		if !from.IsTerminal() {
			continue
		}
		for _, to := range KnownStages {
			if CanTransition(from, to) {
				t.Errorf("terminal stage %q permits transition to %q", from, to)
			}
		}
	}
}

func TestPatch_IsZero(t *testing.T) {
	if !(Patch{}).IsZero() {
		t.Error("empty Patch should be zero")
	}
	title := "x"
	if (Patch{Title: &title}).IsZero() {
		t.Error("Patch with Title should not be zero")
	}
	count := 0
	if (Patch{RetryCount: &count}).IsZero() {
		t.Error("Patch with RetryCount pointer to zero should not be zero")
	}
}

func TestNextStreak_FirstEntry(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	if got := NextStreak(AppState{}, now); got != 1 {
		t.Errorf("NextStreak = %d, want 1", got)
	}
}

func TestNextStreak_SameDay(t *testing.T) {
	last := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	now := time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC)
	if got := NextStreak(AppState{Streak: 4, LastEntryDate: &last}, now); got != 4 {
		t.Errorf("NextStreak = %d, want 4 (unchanged on same day)", got)
	}
}

func TestNextStreak_ConsecutiveDay(t *testing.T) {
	last := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	now := time.Date(2026, 3, 11, 1, 0, 0, 0, time.UTC)
	if got := NextStreak(AppState{Streak: 4, LastEntryDate: &last}, now); got != 5 {
		t.Errorf("NextStreak = %d, want 5", got)
	}
}

func TestNextStreak_GapResets(t *testing.T) {
	last := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	now := time.Date(2026, 3, 13, 9, 0, 0, 0, time.UTC)
	if got := NextStreak(AppState{Streak: 9, LastEntryDate: &last}, now); got != 1 {
		t.Errorf("NextStreak = %d, want 1 after a gap", got)
	}
}
