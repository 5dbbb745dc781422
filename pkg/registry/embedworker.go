package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// EmbedWorkerOptions tunes the embedding outbox drain.
type EmbedWorkerOptions struct {
	BatchSize    int
	PollInterval time.Duration
	// MaxAttempts bounds passes per job before it is marked failed.
	MaxAttempts int
}

// EmbedWorker drains the embed-job outbox that publish enqueues. Embedding
// is best-effort: a failed job is retried on later passes and eventually
// marked failed, never surfaced to the publisher.
type EmbedWorker struct {
	store    Store
	embedder Embedder
	logger   *slog.Logger
	opts     EmbedWorkerOptions
}

// NewEmbedWorker creates a worker over the given store and provider.
func NewEmbedWorker(store Store, embedder Embedder, logger *slog.Logger, opts EmbedWorkerOptions) *EmbedWorker {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	return &EmbedWorker{store: store, embedder: embedder, logger: logger, opts: opts}
}

// ProcessOnce drains one batch of pending jobs and returns how many
// completed.
func (w *EmbedWorker) ProcessOnce(ctx context.Context) (int, error) {
	jobs, err := w.store.ListPendingEmbedJobs(ctx, w.opts.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list pending embed jobs: %w", err)
	}

	done := 0
	for _, job := range jobs {
		if err := w.processJob(ctx, job); err != nil {
			if ctx.Err() != nil {
				return done, ctx.Err()
			}
			continue
		}
		done++
	}
	return done, nil
}

func (w *EmbedWorker) processJob(ctx context.Context, job *EmbedJob) error {
	now := time.Now().UTC()
	job.Attempts++

	vector, err := w.embedder.Embed(ctx, job.Text)
	if err != nil {
		job.LastError = err.Error()
		if job.Attempts >= w.opts.MaxAttempts {
			job.Status = EmbedJobFailed
			w.logger.Error("embed job failed permanently",
				"job", job.ID, "item", job.ItemID, "attempts", job.Attempts, "err", err)
		} else {
			w.logger.Warn("embed job attempt failed",
				"job", job.ID, "item", job.ItemID, "attempt", job.Attempts, "err", err)
		}
		job.UpdatedAt = now
		if uerr := w.store.UpdateEmbedJob(ctx, job); uerr != nil {
			return uerr
		}
		return err
	}

	// The store keys the is_latest flip on version recency, so this call
	// is safe even when an older publish's job completes after a newer
	// one: the stale vector lands with is_latest=false.
	emb := &Embedding{
		ID:         uuid.New(),
		ItemID:     job.ItemID,
		VersionID:  job.VersionID,
		OwnerID:    job.OwnerID,
		Vector:     vector,
		IsLatest:   true,
		IsApproved: true,
		Visibility: VisibilityLatest,
		UpdatedAt:  now,
	}
	if err := w.store.MarkEmbeddingLatest(ctx, emb); err != nil {
		job.LastError = err.Error()
		job.UpdatedAt = now
		_ = w.store.UpdateEmbedJob(ctx, job)
		return fmt.Errorf("mark embedding latest: %w", err)
	}

	job.Status = EmbedJobDone
	job.LastError = ""
	job.UpdatedAt = now
	return w.store.UpdateEmbedJob(ctx, job)
}

// Run drains the outbox until ctx is cancelled.
func (w *EmbedWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.ProcessOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("embed worker pass failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
