package main

import (
	"database/sql"
	"log/slog"

	"github.com/nreeve/murmur/internal/backup"
	"github.com/nreeve/murmur/internal/cipher"
	"github.com/nreeve/murmur/internal/config"
	"github.com/nreeve/murmur/internal/db"
	"github.com/nreeve/murmur/internal/health"
	"github.com/nreeve/murmur/internal/keys"
	"github.com/nreeve/murmur/internal/paths"
	"github.com/nreeve/murmur/internal/pipeline"
	"github.com/nreeve/murmur/internal/store"
)

// services holds the explicitly constructed application singletons. They are
// built once here and passed down; nothing reaches for global state.
type services struct {
	baseDir string
	cfg     *config.Config
	logger  *slog.Logger

	db           *sql.DB
	store        *store.Store
	monitor      *health.Monitor
	backups      *backup.Manager
	orchestrator *pipeline.Orchestrator
}

// buildServices wires the full dependency graph rooted at baseDir.
func buildServices(baseDir string, logger *slog.Logger) (*services, error) {
	cfg, err := config.Load(baseDir)
	if err != nil {
		return nil, err
	}

	key, err := keys.NewManager().GetOrCreateKey()
	if err != nil {
		return nil, err
	}
	ciph, err := cipher.New(key)
	if err != nil {
		return nil, err
	}

	database, err := db.Init(baseDir)
	if err != nil {
		return nil, err
	}
	db.ConfigurePool(database, cfg)

	resolver := paths.NewResolver(baseDir)
	st := store.New(database, ciph, resolver, logger)

	return &services{
		baseDir: baseDir,
		cfg:     cfg,
		logger:  logger,
		db:      database,
		store:   st,
		monitor: health.NewMonitor(st, ciph, cfg, logger),
		backups: backup.NewManager(st, ciph, cfg, baseDir, logger),
		orchestrator: pipeline.New(st,
			pipeline.NewHTTPTranscriber(cfg),
			pipeline.NewHTTPRefiner(cfg),
			cfg, logger),
	}, nil
}

// newBackupScheduler builds the automatic backup timers over the manager.
func (s *services) newBackupScheduler() *backup.Scheduler {
	return backup.NewScheduler(s.backups, s.logger)
}

// Close releases the database handle.
func (s *services) Close() {
	if s.db != nil {
		s.db.Close()
	}
}
