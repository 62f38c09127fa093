// Package health scans stored rows for structural corruption, repairing
// what it safely can and recommending a backup restore for the rest. It
// never restores automatically; a restore could silently discard edits.
package health

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/nreeve/murmur/internal/cipher"
	"github.com/nreeve/murmur/internal/config"
	"github.com/nreeve/murmur/internal/journal"
	"github.com/nreeve/murmur/internal/store"
)

// Report is the result of a health scan. Repairs applied during the scan
// are reported as recommendations, not issues.
type Report struct {
	IsHealthy       bool     `json:"is_healthy"`
	Issues          []string `json:"issues"`
	Recommendations []string `json:"recommendations"`
	EntriesScanned  int      `json:"entries_scanned"`
}

// Monitor validates the entry store.
type Monitor struct {
	store  *store.Store
	ciph   *cipher.Cipher
	cfg    *config.Config
	logger *slog.Logger
}

// NewMonitor returns a Monitor over the given store.
func NewMonitor(st *store.Store, ciph *cipher.Cipher, cfg *config.Config, logger *slog.Logger) *Monitor {
	return &Monitor{store: st, ciph: ciph, cfg: cfg, logger: logger}
}

// Scan walks every entry row, applies local repairs for fixable issues and
// flags the store unhealthy for anything it cannot repair.
func (m *Monitor) Scan() (*Report, error) {
	report := &Report{
		Issues:          []string{},
		Recommendations: []string{},
	}

	type repair struct {
		query string
		args  []any
		note  string
	}
	var repairs []repair

	rows, err := m.store.DB().Query(`
		SELECT id, title, text, raw_text, backup_text, audio_uri,
			processing_stage, retry_count
		FROM entries`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		report.EntriesScanned++

		var (
			id, stage  string
			title      []byte
			text       []byte
			rawText    []byte
			backupText []byte
			audioURI   sql.NullString
			retryCount int
		)
		if err := rows.Scan(&id, &title, &text, &rawText, &backupText,
			&audioURI, &stage, &retryCount); err != nil {
			report.Issues = append(report.Issues, fmt.Sprintf("unreadable row: %v", err))
			continue
		}

		// Protected fields must decrypt under the current key.
		decryptable := true
		for name, field := range map[string][]byte{
			"title": title, "text": text, "raw_text": rawText, "backup_text": backupText,
		} {
			if len(field) == 0 {
				continue
			}
			if _, err := m.ciph.Decrypt(field); err != nil {
				report.Issues = append(report.Issues,
					fmt.Sprintf("entry %s: field %s does not decrypt under the current key", id, name))
				decryptable = false
			}
		}
		if !decryptable {
			continue
		}

		if !journal.Stage(stage).IsKnown() {
			report.Issues = append(report.Issues,
				fmt.Sprintf("entry %s: unknown processing stage %q", id, stage))
			continue
		}

		if retryCount < 0 || retryCount > m.cfg.RetryLimit {
			clamped := retryCount
			if clamped < 0 {
				clamped = 0
			}
			if clamped > m.cfg.RetryLimit {
				clamped = m.cfg.RetryLimit
			}
			repairs = append(repairs, repair{
				query: "UPDATE entries SET retry_count = ? WHERE id = ?",
				args:  []any{clamped, id},
				note:  fmt.Sprintf("entry %s: repaired out-of-range retry count %d -> %d", id, retryCount, clamped),
			})
		}

		if audioURI.Valid && audioURI.String != "" && !m.store.Resolver().IsRelative(audioURI.String) {
			rel := m.store.Resolver().ToRelative(audioURI.String)
			repairs = append(repairs, repair{
				query: "UPDATE entries SET audio_uri = ? WHERE id = ?",
				args:  []any{rel, id},
				note:  fmt.Sprintf("entry %s: normalized absolute audio path to %q", id, rel),
			})
		}
	}
	if err := rows.Err(); err != nil {
		report.Issues = append(report.Issues, fmt.Sprintf("row iteration failed: %v", err))
	}

	if len(repairs) > 0 {
		err := m.store.RunExclusive(func() error {
			for _, r := range repairs {
				if _, err := m.store.DB().Exec(r.query, r.args...); err != nil {
					return err
				}
				report.Recommendations = append(report.Recommendations, r.note)
				m.logger.Info("health repair applied", slog.String("repair", r.note))
			}
			return nil
		})
		if err != nil {
			report.Issues = append(report.Issues, fmt.Sprintf("repair failed: %v", err))
		}
	}

	report.IsHealthy = len(report.Issues) == 0
	if !report.IsHealthy {
		report.Recommendations = append(report.Recommendations,
			"restore from a recent backup; unrepairable rows were found")
		m.logger.Warn("store unhealthy", slog.Int("issues", len(report.Issues)))
	}
	return report, nil
}
