package service

import (
	"context"
	"log/slog"
	"time"

	"task-assistant/internal/repository"
	"task-assistant/internal/storage"
)

// DefaultOrphanGrace protects uploads whose row is still being written.
const DefaultOrphanGrace = 15 * time.Minute

// SweepStats counts what one sweep looked at.
type SweepStats struct {
	Scanned int
	Removed int
	Failed  int
}

// Sweeper deletes stored objects that no attachment row refers to. Objects
// younger than the grace period are left alone.
type Sweeper struct {
	attachments *repository.AttachmentRepository
	store       storage.ContentStore
	grace       time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

func NewSweeper(attachments *repository.AttachmentRepository, store storage.ContentStore, grace time.Duration, logger *slog.Logger) *Sweeper {
	if grace <= 0 {
		grace = DefaultOrphanGrace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{attachments: attachments, store: store, grace: grace, logger: logger, now: time.Now}
}

func (s *Sweeper) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	objects, err := s.store.List(ctx)
	if err != nil {
		return stats, storageErr("list stored objects", err)
	}
	stats.Scanned = len(objects)

	cutoff := s.now().Add(-s.grace)
	var candidates []string
	for _, obj := range objects {
		if obj.ModTime.Before(cutoff) {
			candidates = append(candidates, obj.Key)
		}
	}
	if len(candidates) == 0 {
		return stats, nil
	}

	referenced, err := s.attachments.ReferencedKeys(ctx, candidates)
	if err != nil {
		return stats, err
	}
	for _, key := range candidates {
		if _, ok := referenced[key]; ok {
			continue
		}
		if err := s.store.Delete(ctx, key); err != nil {
			stats.Failed++
			s.logger.Warn("remove orphaned object", "key", key, "error", err)
			continue
		}
		stats.Removed++
	}
	if stats.Removed > 0 || stats.Failed > 0 {
		s.logger.Info("orphan sweep", "scanned", stats.Scanned, "removed", stats.Removed, "failed", stats.Failed)
	}
	return stats, nil
}

// Run adapts Sweep to the scheduler's Job signature.
func (s *Sweeper) Run(ctx context.Context) error {
	_, err := s.Sweep(ctx)
	return err
}
