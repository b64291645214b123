// Package sweeper expires completed attempts whose kind has a finite
// retention window: blob first, row second, each attempt on its own.
package sweeper

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/UnendingLoop/PhotoRevive/internal/model"
	"github.com/wb-go/wbf/config"
)

type SweeperRepo interface {
	ExpiredAttempts(ctx context.Context, kind model.Kind, cutoff time.Time, limit int) ([]model.Attempt, error)
	DeleteAttempt(ctx context.Context, id string) error
}

type BlobDeleter interface {
	Delete(ctx context.Context, key string) error
}

type Sweeper struct {
	repo    SweeperRepo
	storage BlobDeleter
	windows map[model.Kind]time.Duration
	batch   int
}

func New(repo SweeperRepo, storage BlobDeleter, windows map[model.Kind]time.Duration, batch int) *Sweeper {
	if batch <= 0 {
		batch = 100
	}
	return &Sweeper{repo: repo, storage: storage, windows: windows, batch: batch}
}

// WindowsFromConfig reads RETENTION_<KIND> durations; an empty value means
// the kind's artifacts are kept forever.
func WindowsFromConfig(cfg *config.Config) (map[model.Kind]time.Duration, error) {
	keys := map[model.Kind]string{
		model.KindRestore:  "RETENTION_RESTORE",
		model.KindColorize: "RETENTION_COLORIZE",
		model.KindAnimate:  "RETENTION_ANIMATE",
	}

	windows := make(map[model.Kind]time.Duration, len(keys))
	for kind, key := range keys {
		raw := cfg.GetString(key)
		if raw == "" {
			continue
		}
		window, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("bad retention window in %s: %w", key, err)
		}
		windows[kind] = window
	}

	return windows, nil
}

// Run sweeps on a fixed schedule until the context is canceled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			log.Println("Retention sweep loop crashed:", r)
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(context.Background())
		}
	}
}

// SweepOnce processes every kind with a finite window. A failed attempt stays
// in place and is retried on the next scheduled run; it never aborts the batch.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	now := time.Now().UTC()

	for kind, window := range s.windows {
		if window <= 0 {
			continue
		}

		expired, err := s.repo.ExpiredAttempts(ctx, kind, now.Add(-window), s.batch)
		if err != nil {
			log.Printf("Failed to load expired %q attempts from DB: %v", kind, err)
			continue
		}

		for _, attempt := range expired {
			s.sweepAttempt(ctx, attempt)
		}
	}
}

// sweepAttempt deletes the blob before the row so a half-swept attempt never
// points at a missing artifact; absent blobs count as already deleted.
func (s *Sweeper) sweepAttempt(ctx context.Context, attempt model.Attempt) {
	if attempt.ArtifactKey != "" {
		if err := s.storage.Delete(ctx, attempt.ArtifactKey); err != nil {
			log.Printf("Failed to delete expired artifact %q from Storage: %v", attempt.ArtifactKey, err)
			return
		}
	}

	if err := s.repo.DeleteAttempt(ctx, attempt.UID.String()); err != nil {
		log.Printf("Failed to delete expired attempt %q from DB: %v", attempt.UID, err)
	}
}
