// Package outbox drains the search outbox into the search index. Each record
// only says which listing changed; the relay re-reads the listing and
// projects its current state, so replaying a record is harmless.
package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"classifieds-catalog/internal/domain"
	"classifieds-catalog/internal/platform/metrics"
	"classifieds-catalog/internal/projection"
	"classifieds-catalog/internal/search"
	"classifieds-catalog/internal/store"
)

// Options tunes the relay.
type Options struct {
	BatchSize    int
	PollInterval time.Duration
	// RetryBase is the first in-pass retry delay and the unit of the
	// between-pass delay, which doubles with every failed attempt.
	RetryBase time.Duration
	// MaxRetries bounds the in-pass retries of a single record.
	MaxRetries uint64
	// MaxRetryDelay caps the between-pass delay.
	MaxRetryDelay time.Duration
	// Retention is how long processed records are kept before Purge removes them.
	Retention time.Duration
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 100 * time.Millisecond
	}
	if o.MaxRetryDelay <= 0 {
		o.MaxRetryDelay = 5 * time.Minute
	}
	if o.Retention <= 0 {
		o.Retention = 7 * 24 * time.Hour
	}
	return o
}

// Relay projects outbox records into a search.Index.
type Relay struct {
	store   store.OutboxStorer
	index   search.Index
	opts    Options
	logger  *zap.Logger
	metrics *metrics.MetricsManager
	tracer  trace.Tracer
	now     func() time.Time
}

func NewRelay(s store.OutboxStorer, index search.Index, opts Options, logger *zap.Logger, m *metrics.MetricsManager) *Relay {
	return &Relay{
		store:   s,
		index:   index,
		opts:    opts.withDefaults(),
		logger:  logger.Named("outbox"),
		metrics: m,
		tracer:  otel.Tracer("classifieds-catalog/outbox"),
		now:     time.Now,
	}
}

// Drain processes one batch of due records and returns how many were
// projected. It returns 0 without error when another instance holds the
// relay lock. Index failures are recorded on the record and retried on a
// later pass; only store failures are returned.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "outbox.Drain")
	defer span.End()

	processed := 0
	err := r.store.InOutboxTx(ctx, func(tx store.OutboxTx) error {
		locked, err := tx.TryLockRelay(ctx)
		if err != nil {
			return err
		}
		if !locked {
			r.logger.Debug("relay lock held elsewhere, skipping pass")
			return nil
		}

		now := r.now()
		records, err := tx.PendingOutbox(ctx, r.opts.BatchSize, now)
		if err != nil {
			return err
		}

		done := make([]int64, 0, len(records))
		projected := make(map[string]bool, len(records))
		failed := make(map[string]string)
		for _, rec := range records {
			if reason, ok := failed[rec.ListingID]; ok {
				if err := tx.MarkFailed(ctx, rec.ID, reason, r.retryAt(now, rec.Attempts)); err != nil {
					return err
				}
				r.metrics.OutboxProcessedTotal.WithLabelValues(string(rec.Op), "deferred").Inc()
				continue
			}
			if projected[rec.ListingID] {
				done = append(done, rec.ID)
				r.metrics.OutboxProcessedTotal.WithLabelValues(string(rec.Op), "coalesced").Inc()
				continue
			}

			if err := r.project(ctx, tx, rec.ListingID, now); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				reason := err.Error()
				failed[rec.ListingID] = reason
				retryAt := r.retryAt(now, rec.Attempts)
				if err := tx.MarkFailed(ctx, rec.ID, reason, retryAt); err != nil {
					return err
				}
				r.metrics.OutboxProcessedTotal.WithLabelValues(string(rec.Op), "failed").Inc()
				r.logger.Warn("projection failed, will retry",
					zap.Int64("record_id", rec.ID),
					zap.String("listing_id", rec.ListingID),
					zap.Int("attempts", rec.Attempts+1),
					zap.Time("retry_at", retryAt),
					zap.Error(err))
				continue
			}

			projected[rec.ListingID] = true
			done = append(done, rec.ID)
			r.metrics.OutboxProcessedTotal.WithLabelValues(string(rec.Op), "ok").Inc()
		}

		if len(done) > 0 {
			if err := tx.MarkProcessed(ctx, done, now); err != nil {
				return err
			}
		}
		processed = len(done)
		span.SetAttributes(attribute.Int("outbox.batch", len(records)), attribute.Int("outbox.processed", processed))
		return nil
	})
	r.metrics.OutboxBatchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, domain.SyncError(err, "drain search outbox")
	}
	return processed, nil
}

// project makes the index agree with the current state of one listing.
func (r *Relay) project(ctx context.Context, tx store.OutboxTx, listingID string, now time.Time) error {
	l, err := tx.GetListing(ctx, listingID)
	if err != nil && !errors.Is(err, store.ErrListingNotFound) {
		return err
	}

	op := func() error {
		if l == nil || !l.IsVisible(now) {
			return r.index.Delete(ctx, listingID)
		}
		return r.index.Upsert(ctx, projection.FromListing(l))
	}
	return backoff.Retry(op, r.retryPolicy(ctx))
}

func (r *Relay) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(r.opts.RetryBase),
		backoff.WithMaxInterval(r.opts.MaxRetryDelay),
		backoff.WithMaxElapsedTime(0),
	)
	return backoff.WithContext(backoff.WithMaxRetries(b, r.opts.MaxRetries), ctx)
}

// retryAt schedules the next pass for a record that has failed attempts
// times before this one.
func (r *Relay) retryAt(now time.Time, attempts int) time.Time {
	delay := r.opts.RetryBase
	for i := 0; i < attempts && delay < r.opts.MaxRetryDelay; i++ {
		delay *= 2
	}
	if delay > r.opts.MaxRetryDelay {
		delay = r.opts.MaxRetryDelay
	}
	return now.Add(delay)
}

// Run drains until ctx is cancelled. A full batch is followed immediately by
// another pass; otherwise the relay waits PollInterval.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("outbox relay started",
		zap.Int("batch_size", r.opts.BatchSize),
		zap.Duration("poll_interval", r.opts.PollInterval))

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return nil
		case <-timer.C:
		}

		n, err := r.Drain(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.Error("outbox drain failed", zap.Error(err))
		}
		if err == nil && n == r.opts.BatchSize {
			timer.Reset(0)
			continue
		}
		timer.Reset(r.opts.PollInterval)
	}
}

// Resync enqueues every listing for re-projection, repairing any divergence
// between the store and the index.
func (r *Relay) Resync(ctx context.Context) (int64, error) {
	n, err := r.store.EnqueueAllListings(ctx)
	if err != nil {
		return 0, domain.SyncError(err, "enqueue resync")
	}
	r.logger.Info("resync enqueued", zap.Int64("listings", n))
	return n, nil
}

// Purge removes processed records older than the retention period.
func (r *Relay) Purge(ctx context.Context) (int64, error) {
	n, err := r.store.PurgeProcessedOutbox(ctx, r.now().Add(-r.opts.Retention))
	if err != nil {
		return 0, domain.SyncError(err, "purge processed outbox")
	}
	if n > 0 {
		r.logger.Info("purged processed outbox records", zap.Int64("records", n))
	}
	return n, nil
}
