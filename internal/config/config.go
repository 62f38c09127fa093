package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"
)

// Config holds application configuration.
type Config struct {
	// RetryLimit is the number of consecutive failures allowed per processing
	// stage before an entry parks in its *_failed state.
	RetryLimit int `json:"retry_limit"`

	// RetryBackoffBaseSeconds is the initial re-enqueue delay after a stage
	// failure. Doubles on each consecutive failure.
	RetryBackoffBaseSeconds int `json:"retry_backoff_base_seconds"`

	// RetryBackoffMaxSeconds caps the re-enqueue delay.
	RetryBackoffMaxSeconds int `json:"retry_backoff_max_seconds"`

	// AutoBackupRetention is how many automatic backups to keep per kind.
	AutoBackupRetention int `json:"auto_backup_retention"`

	// ManualBackupRetention is how many manual backups to keep per kind.
	ManualBackupRetention int `json:"manual_backup_retention"`

	// LightweightBackupIntervalMinutes is the scheduler period for
	// metadata-only snapshots.
	LightweightBackupIntervalMinutes int `json:"lightweight_backup_interval_minutes"`

	// CompleteBackupIntervalMinutes is the scheduler period for snapshots
	// that also bundle audio files.
	CompleteBackupIntervalMinutes int `json:"complete_backup_interval_minutes"`

	// TranscriptionURL is the base URL of the transcription service.
	TranscriptionURL string `json:"transcription_url,omitempty"`

	// RefinementURL is the base URL of the refinement service.
	RefinementURL string `json:"refinement_url,omitempty"`

	// CollaboratorTimeoutSeconds bounds each network call to an external
	// collaborator.
	CollaboratorTimeoutSeconds int `json:"collaborator_timeout_seconds"`

	// JobPollIntervalSeconds is how often an asynchronous transcription job
	// is polled for completion.
	JobPollIntervalSeconds int `json:"job_poll_interval_seconds"`

	// CollaboratorRequestsPerSecond rate-limits calls to external services.
	// Keeps a resume storm after restart from hammering the APIs.
	CollaboratorRequestsPerSecond float64 `json:"collaborator_requests_per_second"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// If set to 1, all database access is serialized (reduces "database is
	// locked" errors). 0 means use sql.DB default.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	// 0 means use sql.DB default. Typically set equal to DBMaxOpenConns.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		RetryLimit:                       3,
		RetryBackoffBaseSeconds:          2,
		RetryBackoffMaxSeconds:           300,
		AutoBackupRetention:              7,
		ManualBackupRetention:            20,
		LightweightBackupIntervalMinutes: 60,
		CompleteBackupIntervalMinutes:    1440,
		CollaboratorTimeoutSeconds:       45,
		JobPollIntervalSeconds:           5,
		CollaboratorRequestsPerSecond:    2,
	}
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.murmur.
func Load(baseDir string) (*Config, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars when non-zero.
func Merge(base, overlay *Config) *Config {
	result := *overlay

	if result.RetryLimit == 0 {
		result.RetryLimit = base.RetryLimit
	}
	if result.RetryBackoffBaseSeconds == 0 {
		result.RetryBackoffBaseSeconds = base.RetryBackoffBaseSeconds
	}
	if result.RetryBackoffMaxSeconds == 0 {
		result.RetryBackoffMaxSeconds = base.RetryBackoffMaxSeconds
	}
	if result.AutoBackupRetention == 0 {
		result.AutoBackupRetention = base.AutoBackupRetention
	}
	if result.ManualBackupRetention == 0 {
		result.ManualBackupRetention = base.ManualBackupRetention
	}
	if result.LightweightBackupIntervalMinutes == 0 {
		result.LightweightBackupIntervalMinutes = base.LightweightBackupIntervalMinutes
	}
	if result.CompleteBackupIntervalMinutes == 0 {
		result.CompleteBackupIntervalMinutes = base.CompleteBackupIntervalMinutes
	}
	if result.TranscriptionURL == "" {
		result.TranscriptionURL = base.TranscriptionURL
	}
	if result.RefinementURL == "" {
		result.RefinementURL = base.RefinementURL
	}
	if result.CollaboratorTimeoutSeconds == 0 {
		result.CollaboratorTimeoutSeconds = base.CollaboratorTimeoutSeconds
	}
	if result.JobPollIntervalSeconds == 0 {
		result.JobPollIntervalSeconds = base.JobPollIntervalSeconds
	}
	if result.CollaboratorRequestsPerSecond == 0 {
		result.CollaboratorRequestsPerSecond = base.CollaboratorRequestsPerSecond
	}
	if result.DBMaxOpenConns == 0 {
		result.DBMaxOpenConns = base.DBMaxOpenConns
	}
	if result.DBMaxIdleConns == 0 {
		result.DBMaxIdleConns = base.DBMaxIdleConns
	}

	return &result
}

// RetryBackoffBase returns the configured base backoff as a duration.
func (c *Config) RetryBackoffBase() time.Duration {
	return time.Duration(c.RetryBackoffBaseSeconds) * time.Second
}

// RetryBackoffMax returns the configured backoff cap as a duration.
func (c *Config) RetryBackoffMax() time.Duration {
	return time.Duration(c.RetryBackoffMaxSeconds) * time.Second
}

// CollaboratorTimeout returns the per-call network timeout as a duration.
func (c *Config) CollaboratorTimeout() time.Duration {
	return time.Duration(c.CollaboratorTimeoutSeconds) * time.Second
}

// JobPollInterval returns the async job poll period as a duration.
func (c *Config) JobPollInterval() time.Duration {
	return time.Duration(c.JobPollIntervalSeconds) * time.Second
}

// LightweightBackupInterval returns the lightweight snapshot period.
func (c *Config) LightweightBackupInterval() time.Duration {
	return time.Duration(c.LightweightBackupIntervalMinutes) * time.Minute
}

// CompleteBackupInterval returns the complete snapshot period.
func (c *Config) CompleteBackupInterval() time.Duration {
	return time.Duration(c.CompleteBackupIntervalMinutes) * time.Minute
}
