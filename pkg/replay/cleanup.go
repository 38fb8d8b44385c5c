package replay

import (
	"context"
	"log/slog"
	"time"
)

// PurgeFunc is extra cleanup run once per pass, for collaborating stores
// with their own expiry semantics (escalation counters, aged security
// events). It returns how many rows it removed.
type PurgeFunc func(ctx context.Context) (int64, error)

// CleanupWorker periodically deletes expired nonces in bounded batches with
// a pause between batches, so cleanup never holds the table against live
// inserts for long.
type CleanupWorker struct {
	nonces   NonceStore
	interval time.Duration
	batch    int
	pause    time.Duration
	purges   []PurgeFunc
	logger   *slog.Logger
}

// NewCleanupWorker creates a cleanup worker from the replay configuration.
func NewCleanupWorker(nonces NonceStore, cfg *Config, logger *slog.Logger) *CleanupWorker {
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	batch := cfg.CleanupBatchSize
	if batch <= 0 {
		batch = DefaultCleanupBatchSize
	}
	pause := cfg.CleanupPause
	if pause < 0 {
		pause = DefaultCleanupPause
	}
	return &CleanupWorker{
		nonces:   nonces,
		interval: interval,
		batch:    batch,
		pause:    pause,
		logger:   logger,
	}
}

// AddPurge registers extra cleanup to run after each nonce pass.
func (w *CleanupWorker) AddPurge(fn PurgeFunc) {
	w.purges = append(w.purges, fn)
}

// Run loops until the context is canceled, cleaning once per interval.
func (w *CleanupWorker) Run(ctx context.Context) {
	w.logger.Info("nonce cleanup worker started",
		"interval", w.interval, "batch_size", w.batch)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("nonce cleanup worker stopped")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// runOnce deletes expired nonces batch by batch until a short batch signals
// the backlog is drained, then runs the registered purges.
func (w *CleanupWorker) runOnce(ctx context.Context) {
	var total int64
	for {
		n, err := w.nonces.DeleteExpired(ctx, w.batch)
		if err != nil {
			w.logger.Error("nonce cleanup failed", "error", err)
			break
		}
		total += n
		if n < int64(w.batch) {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.pause):
		}
	}
	if total > 0 {
		w.logger.Info("expired nonces deleted", "count", total)
	}

	for _, purge := range w.purges {
		n, err := purge(ctx)
		if err != nil {
			w.logger.Error("cleanup purge failed", "error", err)
			continue
		}
		if n > 0 {
			w.logger.Info("cleanup purge removed rows", "count", n)
		}
	}
}
