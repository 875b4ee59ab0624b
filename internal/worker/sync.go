package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lobby-presence/internal/config"
	"github.com/lobby-presence/internal/directory"
	"github.com/lobby-presence/internal/domain"
	"github.com/lobby-presence/internal/postgres"
	"github.com/lobby-presence/internal/redis"
)

// SyncWorker periodically flushes directory snapshots to PostgreSQL and the
// Redis presence mirror.
type SyncWorker struct {
	directory *directory.Directory
	postgres  *postgres.Repository
	cache     *redis.PresenceCache
	config    *config.SyncConfig
	logger    *slog.Logger
	stopCh    chan struct{}
	doneCh    chan struct{}
	mu        sync.Mutex
	running   bool
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(
	dir *directory.Directory,
	pg *postgres.Repository,
	cache *redis.PresenceCache,
	cfg *config.SyncConfig,
	logger *slog.Logger,
) *SyncWorker {
	return &SyncWorker{
		directory: dir,
		postgres:  pg,
		cache:     cache,
		config:    cfg,
		logger:    logger,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the background sync process
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("sync worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background sync process
func (w *SyncWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("sync worker stopped")
	return nil
}

// run is the main worker loop
func (w *SyncWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.syncAll(ctx)
		}
	}
}

// syncAll flushes every known player to both stores
func (w *SyncWorker) syncAll(ctx context.Context) {
	startTime := time.Now()
	snapshots := w.directory.Snapshots()
	if len(snapshots) == 0 {
		return
	}

	batchSize := w.config.BatchSize
	if batchSize == 0 {
		batchSize = 500
	}

	errorCount := 0
	for start := 0; start < len(snapshots); start += batchSize {
		end := start + batchSize
		if end > len(snapshots) {
			end = len(snapshots)
		}
		batch := snapshots[start:end]

		if err := w.postgres.BatchUpsertPlayers(ctx, batch); err != nil {
			w.logger.Error("failed to sync players to postgres", "error", err)
			errorCount++
		}
		if err := w.cache.BatchSetPresence(ctx, batch); err != nil {
			w.logger.Error("failed to sync presence to redis", "error", err)
			errorCount++
		}
	}

	w.logger.Info("sync cycle completed",
		"duration", time.Since(startTime),
		"players", len(snapshots),
		"errors", errorCount,
	)
}

// IsRunning returns whether the worker is currently running
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single sync cycle (useful for manual triggers)
func (w *SyncWorker) RunOnce(ctx context.Context) {
	w.syncAll(ctx)
}

// SyncPlayer flushes one snapshot immediately, bypassing the interval.
func (w *SyncWorker) SyncPlayer(ctx context.Context, snapshot domain.PlayerSnapshot) {
	if err := w.cache.SetPresence(ctx, snapshot); err != nil {
		w.logger.Warn("failed to mirror player presence", "username", snapshot.Username, "error", err)
	}
}
