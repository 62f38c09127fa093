package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/nreeve/murmur/internal/errors"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 3

// columnDef declares one additive column for a migration step.
type columnDef struct {
	table string
	name  string
	decl  string
}

// step is one schema version: additive tables, columns and indexes only.
// Every statement checks existence first, so re-running a step that
// partially succeeded is safe.
type step struct {
	version int
	tables  []string
	columns []columnDef
	indexes []string
}

// steps holds the full migration history in version order.
// Migrations never delete or rename existing data.
var steps = []step{
	{
		version: 1,
		tables: []string{
			`CREATE TABLE IF NOT EXISTS entries (
			  id               TEXT PRIMARY KEY,
			  date             INTEGER NOT NULL,
			  title            BLOB,
			  text             BLOB,
			  raw_text         BLOB,
			  audio_uri        TEXT,
			  duration         REAL NOT NULL DEFAULT 0,
			  audio_levels     TEXT,
			  processing_stage TEXT NOT NULL,
			  retry_count      INTEGER NOT NULL DEFAULT 0
			);`,
			`CREATE TABLE IF NOT EXISTS app_state (
			  id              INTEGER PRIMARY KEY CHECK (id = 1),
			  streak          INTEGER NOT NULL DEFAULT 0,
			  last_entry_date INTEGER
			);`,
		},
		indexes: []string{
			`CREATE INDEX IF NOT EXISTS idx_entries_date ON entries(date DESC);`,
		},
	},
	{
		// Async transcription jobs: resume by job id across restarts
		// instead of re-submitting audio.
		version: 2,
		columns: []columnDef{
			{table: "entries", name: "external_job_id", decl: "TEXT"},
			{table: "entries", name: "last_error", decl: "TEXT"},
		},
		indexes: []string{
			`CREATE INDEX IF NOT EXISTS idx_entries_stage ON entries(processing_stage);`,
		},
	},
	{
		// Single-level undo for manual edits.
		version: 3,
		columns: []columnDef{
			{table: "entries", name: "backup_text", decl: "BLOB"},
		},
	},
}

// Result reports what a migration run did, including partial progress when a
// step fails.
type Result struct {
	FromVersion         int      `json:"from_version"`
	ToVersion           int      `json:"to_version"`
	ColumnsAdded        []string `json:"columns_added"`
	ColumnsAlreadyExist []string `json:"columns_already_exist"`
	Errors              []string `json:"errors,omitempty"`
}

// CurrentVersion returns the highest applied schema version from the
// migrations ledger.
func CurrentVersion(database *sql.DB) (int, error) {
	if err := ensureLedger(database); err != nil {
		return 0, err
	}
	var version sql.NullInt64
	if err := database.QueryRow("SELECT MAX(version) FROM migrations").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return int(version.Int64), nil
}

// Migrate applies all pending migrations up to CurrentSchemaVersion.
func Migrate(database *sql.DB) (*Result, error) {
	return MigrateTo(database, CurrentSchemaVersion)
}

// MigrateTo applies pending migrations in version order up to target.
// A failed step stops the run; the returned Result reports which columns
// were added before the failure so the caller can decide whether to re-run.
func MigrateTo(database *sql.DB, target int) (*Result, error) {
	from, err := CurrentVersion(database)
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	result := &Result{
		FromVersion:         from,
		ToVersion:           from,
		ColumnsAdded:        []string{},
		ColumnsAlreadyExist: []string{},
	}

	for _, s := range steps {
		if s.version <= from || s.version > target {
			continue
		}
		if err := applyStep(database, s, result); err != nil {
			result.Errors = append(result.Errors, err.Error())
			return result, errors.NewMigrationFailure(s.version, err, result.ColumnsAdded)
		}
		if _, err := database.Exec(
			"INSERT OR IGNORE INTO migrations (version, applied_at) VALUES (?, ?)",
			s.version, time.Now().Unix(),
		); err != nil {
			result.Errors = append(result.Errors, err.Error())
			return result, errors.NewMigrationFailure(s.version, err, result.ColumnsAdded)
		}
		result.ToVersion = s.version
	}

	return result, nil
}

// applyStep runs one migration step, checking existence before each change.
func applyStep(database *sql.DB, s step, result *Result) error {
	for _, stmt := range s.tables {
		if _, err := database.Exec(stmt); err != nil {
			return fmt.Errorf("version %d: create table: %w", s.version, err)
		}
	}
	for _, col := range s.columns {
		exists, err := columnExists(database, col.table, col.name)
		if err != nil {
			return fmt.Errorf("version %d: check column %s.%s: %w", s.version, col.table, col.name, err)
		}
		qualified := col.table + "." + col.name
		if exists {
			result.ColumnsAlreadyExist = append(result.ColumnsAlreadyExist, qualified)
			continue
		}
		alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", col.table, col.name, col.decl)
		if _, err := database.Exec(alter); err != nil {
			return fmt.Errorf("version %d: add column %s: %w", s.version, qualified, err)
		}
		result.ColumnsAdded = append(result.ColumnsAdded, qualified)
	}
	for _, stmt := range s.indexes {
		if _, err := database.Exec(stmt); err != nil {
			return fmt.Errorf("version %d: create index: %w", s.version, err)
		}
	}
	return nil
}

// columnExists checks PRAGMA table_info for the named column.
func columnExists(database *sql.DB, table, column string) (bool, error) {
	rows, err := database.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			dfltValue  sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dfltValue, &primaryKey); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// ensureLedger creates the migrations ledger table.
func ensureLedger(database *sql.DB) error {
	_, err := database.Exec(`CREATE TABLE IF NOT EXISTS migrations (
	  version    INTEGER PRIMARY KEY,
	  applied_at INTEGER NOT NULL
	);`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}
