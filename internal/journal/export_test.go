package journal

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func sampleEntries() []Entry {
	return []Entry{
		{
			ID:       "01A",
			Date:     time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
			Title:    "Morning walk",
			Text:     "Went for a **long** walk.",
			RawText:  "went for a long walk",
			AudioURI: "audio/01A.m4a",
			Duration: 42.5,
			Stage:    StageCompleted,
		},
		{
			ID:      "01B",
			Date:    time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC),
			RawText: "still processing",
			Stage:   StageRefining,
		},
	}
}

func TestBuildExport(t *testing.T) {
	now := time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)
	doc := BuildExport(sampleEntries(), now)

	if doc.Version != ExportVersion {
		t.Errorf("Version = %d, want %d", doc.Version, ExportVersion)
	}
	if !doc.ExportDate.Equal(now) {
		t.Errorf("ExportDate = %v, want %v", doc.ExportDate, now)
	}
	if len(doc.Entries) != 2 {
		t.Fatalf("Entries = %d, want 2", len(doc.Entries))
	}
	if doc.Entries[0].Title != "Morning walk" {
		t.Errorf("Title = %q, want %q", doc.Entries[0].Title, "Morning walk")
	}
}

func TestExportDocument_Marshal_ExcludesAudio(t *testing.T) {
	doc := BuildExport(sampleEntries(), time.Now())
	data, err := doc.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if strings.Contains(string(data), "audioUri") {
		t.Error("export document should not carry audio paths")
	}
	if strings.Contains(string(data), "01A.m4a") {
		t.Error("export document should not carry audio file names")
	}
}

func TestExportDocument_RenderHTML(t *testing.T) {
	doc := BuildExport(sampleEntries(), time.Now())
	out, err := doc.RenderHTML()
	if err != nil {
		t.Fatalf("RenderHTML failed: %v", err)
	}
	page := string(out)

	if !strings.Contains(page, "<strong>long</strong>") {
		t.Error("refined text should render as markdown")
	}
	if !strings.Contains(page, "Morning walk") {
		t.Error("page should contain the entry title")
	}
	// The second entry has no title and is still refining.
	if !strings.Contains(page, "Untitled entry") {
		t.Error("untitled entries should get a placeholder heading")
	}
	if !strings.Contains(page, "processing stage: refining") {
		t.Error("unfinished entries should show their stage")
	}
}

func TestExportDocument_RenderHTML_EscapesMetadata(t *testing.T) {
	entries := []Entry{{
		ID:    "01C",
		Date:  time.Now(),
		Title: `<script>alert("x")</script>`,
		Stage: StageCompleted,
	}}
	out, err := BuildExport(entries, time.Now()).RenderHTML()
	if err != nil {
		t.Fatalf("RenderHTML failed: %v", err)
	}
	if strings.Contains(string(out), `<script>alert`) {
		t.Error("titles must be HTML-escaped")
	}
}
