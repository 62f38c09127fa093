package journal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"time"

	"github.com/yuin/goldmark"
)

// ExportVersion identifies the export document format.
const ExportVersion = 1

// ExportEntry is the per-entry shape of an export document. Audio bytes are
// deliberately excluded.
type ExportEntry struct {
	ID       string    `json:"id"`
	Date     time.Time `json:"date"`
	Title    string    `json:"title"`
	Text     string    `json:"text"`
	RawText  string    `json:"rawText"`
	Duration float64   `json:"duration"`
	Stage    Stage     `json:"processingStage"`
}

// ExportDocument is the journal export consumed by the host.
type ExportDocument struct {
	ExportDate time.Time     `json:"exportDate"`
	Version    int           `json:"version"`
	Entries    []ExportEntry `json:"entries"`
}

// BuildExport assembles an export document from decrypted entries.
func BuildExport(entries []Entry, now time.Time) *ExportDocument {
	doc := &ExportDocument{
		ExportDate: now.UTC(),
		Version:    ExportVersion,
		Entries:    make([]ExportEntry, 0, len(entries)),
	}
	for _, e := range entries {
		doc.Entries = append(doc.Entries, ExportEntry{
			ID:       e.ID,
			Date:     e.Date,
			Title:    e.Title,
			Text:     e.Text,
			RawText:  e.RawText,
			Duration: e.Duration,
			Stage:    e.Stage,
		})
	}
	return doc
}

// Marshal renders the document as indented JSON.
func (d *ExportDocument) Marshal() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// RenderHTML renders the document as a standalone HTML page. Refined entry
// text is treated as markdown.
func (d *ExportDocument) RenderHTML() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("<!DOCTYPE html>\n<html>\n<head><meta charset=\"utf-8\"><title>Journal export</title></head>\n<body>\n")
	fmt.Fprintf(&buf, "<p>Exported %s (%d entries)</p>\n",
		html.EscapeString(d.ExportDate.Format(time.RFC3339)), len(d.Entries))

	for _, e := range d.Entries {
		fmt.Fprintf(&buf, "<article id=%q>\n<h2>%s</h2>\n<p><time>%s</time></p>\n",
			html.EscapeString(e.ID),
			html.EscapeString(entryHeading(e)),
			html.EscapeString(e.Date.Format("2006-01-02 15:04")))

		body := e.Text
		if body == "" {
			body = e.RawText
		}
		if body != "" {
			var md bytes.Buffer
			if err := goldmark.Convert([]byte(body), &md); err != nil {
				return nil, fmt.Errorf("render entry %s: %w", e.ID, err)
			}
			buf.Write(md.Bytes())
		}
		if e.Stage != StageCompleted {
			fmt.Fprintf(&buf, "<p><em>processing stage: %s</em></p>\n", html.EscapeString(string(e.Stage)))
		}
		buf.WriteString("</article>\n")
	}

	buf.WriteString("</body>\n</html>\n")
	return buf.Bytes(), nil
}

func entryHeading(e ExportEntry) string {
	if e.Title != "" {
		return e.Title
	}
	return "Untitled entry"
}
