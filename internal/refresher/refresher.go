package refresher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/satview/internal/imagery"
	"github.com/JakeFAU/satview/internal/metrics"
	"github.com/JakeFAU/satview/internal/storage"
	"github.com/JakeFAU/satview/internal/store"
)

const (
	// DefaultInterval is the wait between the end of one attempt and the start of the next.
	DefaultInterval = 4 * time.Hour
	// DefaultObjectName is the blob path of the persisted copy.
	DefaultObjectName = "satellite_image.jpg"
	// DefaultSideEffectTimeout bounds each persist, publish and record step.
	DefaultSideEffectTimeout = 30 * time.Second
)

// Config controls Refresher behavior.
type Config struct {
	Interval          time.Duration
	SideEffectTimeout time.Duration
	ObjectName        string
	Topic             string
	Layer             string
	BBox              imagery.BoundingBox
}

// Refresher owns the only write path into the image store.
type Refresher struct {
	fetcher   imagery.Fetcher
	store     *store.ImageStore
	blobStore imagery.BlobStore
	publisher imagery.Publisher
	fetchLog  imagery.FetchLog
	hasher    imagery.Hasher
	clock     imagery.Clock
	ids       imagery.IDGenerator
	cfg       Config
	logger    *zap.Logger

	status statusTracker
}

// New constructs a Refresher. blobStore, publisher and fetchLog may be nil.
func New(
	fetcher imagery.Fetcher,
	imageStore *store.ImageStore,
	blobStore imagery.BlobStore,
	publisher imagery.Publisher,
	fetchLog imagery.FetchLog,
	hasher imagery.Hasher,
	clock imagery.Clock,
	ids imagery.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Refresher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.SideEffectTimeout <= 0 {
		cfg.SideEffectTimeout = DefaultSideEffectTimeout
	}
	if cfg.ObjectName == "" {
		cfg.ObjectName = DefaultObjectName
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Refresher{
		fetcher:   fetcher,
		store:     imageStore,
		blobStore: blobStore,
		publisher: publisher,
		fetchLog:  fetchLog,
		hasher:    hasher,
		clock:     clock,
		ids:       ids,
		cfg:       cfg,
		logger:    logger,
	}
}

// Interval returns the configured wait between attempts.
func (r *Refresher) Interval() time.Duration {
	return r.cfg.Interval
}

// Status returns a copy of the current loop status.
func (r *Refresher) Status() Status {
	return r.status.snapshot()
}

// Run fetches immediately, then again after each interval, until ctx is done.
func (r *Refresher) Run(ctx context.Context) {
	r.logger.Info("refresh loop started", zap.Duration("interval", r.cfg.Interval))
	for {
		r.RefreshOnce(ctx)
		if ctx.Err() != nil {
			r.logger.Info("refresh loop stopped")
			return
		}

		r.status.scheduled(r.clock.Now().Add(r.cfg.Interval))
		select {
		case <-ctx.Done():
			r.logger.Info("refresh loop stopped")
			return
		case <-r.clock.After(r.cfg.Interval):
		}
	}
}

// RefreshOnce performs a single attempt and reports whether the store was replaced.
func (r *Refresher) RefreshOnce(ctx context.Context) (imagery.Attempt, bool) {
	started := r.clock.Now()
	attempt := imagery.Attempt{ID: r.newAttemptID(started), StartedAt: started}
	r.status.begin(started)

	ctx, span := otel.Tracer("satview/refresher").Start(ctx, "refresh")
	defer span.End()
	span.SetAttributes(attribute.String("attempt.id", attempt.ID))

	outcome := r.fetcher.Fetch(ctx)
	attempt.Duration = outcome.Duration
	attempt.StatusCode = outcome.StatusCode
	metrics.ObserveFetch(outcome.URL, outcome.OK(), outcome.Duration)

	if !outcome.OK() {
		attempt.Reason = outcome.Reason
		if attempt.Reason == "" {
			attempt.Reason = "unusable response"
		}
		span.SetStatus(codes.Error, attempt.Reason)
		failures := r.status.fail(attempt.Reason, outcome.StatusCode)
		metrics.SetConsecutiveFailures(failures)
		r.logger.Warn("image fetch failed",
			zap.String("attempt_id", attempt.ID),
			zap.String("url", outcome.URL),
			zap.Int("status", outcome.StatusCode),
			zap.String("reason", attempt.Reason),
			zap.Duration("duration", outcome.Duration),
			zap.Int("consecutive_failures", failures),
		)
		r.record(ctx, attempt)
		return attempt, false
	}

	digest, err := r.hasher.Hash(outcome.Body)
	if err != nil {
		r.logger.Warn("hash image failed", zap.String("attempt_id", attempt.ID), zap.Error(err))
	}
	fetchedAt := r.clock.Now()
	r.store.Replace(store.Snapshot{
		Bytes:       outcome.Body,
		ContentType: imagery.ContentTypeJPEG,
		FetchedAt:   fetchedAt,
		Digest:      digest,
		Source:      outcome.URL,
	})
	r.status.succeed(fetchedAt)
	metrics.ObserveImage(len(outcome.Body), fetchedAt)
	metrics.SetConsecutiveFailures(0)

	attempt.Success = true
	attempt.Bytes = len(outcome.Body)
	attempt.Digest = digest
	span.SetAttributes(attribute.Int("image.bytes", attempt.Bytes), attribute.String("image.digest", digest))
	r.logger.Info("image refreshed",
		zap.String("attempt_id", attempt.ID),
		zap.Int("bytes", attempt.Bytes),
		zap.String("digest", digest),
		zap.Duration("duration", outcome.Duration),
	)

	attempt.BlobURI = r.persist(ctx, attempt.ID, outcome.Body)
	r.publish(ctx, attempt, fetchedAt)
	r.record(ctx, attempt)
	return attempt, true
}

// Seed loads the persisted copy into an empty store. A missing copy is not an error.
func (r *Refresher) Seed(ctx context.Context) error {
	if r.blobStore == nil {
		return nil
	}
	if _, ok := r.store.Read(); ok {
		return nil
	}
	data, err := r.blobStore.GetObject(ctx, r.cfg.ObjectName)
	if errors.Is(err, storage.ErrNotFound) {
		r.logger.Info("no persisted image to seed from", zap.String("object", r.cfg.ObjectName))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load persisted image: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	digest, err := r.hasher.Hash(data)
	if err != nil {
		return fmt.Errorf("hash persisted image: %w", err)
	}
	loadedAt := r.clock.Now()
	r.store.Replace(store.Snapshot{
		Bytes:       data,
		ContentType: imagery.ContentTypeJPEG,
		FetchedAt:   loadedAt,
		Digest:      digest,
		Source:      r.cfg.ObjectName,
	})
	metrics.ObserveImage(len(data), loadedAt)
	r.logger.Info("seeded image from persisted copy",
		zap.String("object", r.cfg.ObjectName),
		zap.Int("bytes", len(data)),
	)
	return nil
}

func (r *Refresher) newAttemptID(started time.Time) string {
	if r.ids != nil {
		id, err := r.ids.NewID()
		if err == nil {
			return id
		}
		r.logger.Warn("generate attempt id failed", zap.Error(err))
	}
	return fmt.Sprintf("attempt-%d", started.UnixNano())
}

func (r *Refresher) persist(ctx context.Context, attemptID string, body []byte) string {
	if r.blobStore == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.SideEffectTimeout)
	defer cancel()
	uri, err := r.blobStore.PutObject(ctx, r.cfg.ObjectName, imagery.ContentTypeJPEG, body)
	if err != nil {
		metrics.ObserveSideEffectError("persist")
		r.logger.Warn("persist image failed",
			zap.String("attempt_id", attemptID),
			zap.String("object", r.cfg.ObjectName),
			zap.Error(err),
		)
		return ""
	}
	r.logger.Debug("image persisted", zap.String("attempt_id", attemptID), zap.String("blob_uri", uri))
	return uri
}

func (r *Refresher) publish(ctx context.Context, attempt imagery.Attempt, fetchedAt time.Time) {
	if r.cfg.Topic == "" || r.publisher == nil {
		return
	}
	event := imagery.RefreshEvent{
		AttemptID: attempt.ID,
		FetchedAt: fetchedAt,
		Bytes:     attempt.Bytes,
		Digest:    attempt.Digest,
		BlobURI:   attempt.BlobURI,
		Layer:     r.cfg.Layer,
		BBox:      r.cfg.BBox,
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.SideEffectTimeout)
	defer cancel()
	id, err := r.publisher.Publish(ctx, r.cfg.Topic, event)
	if err != nil {
		metrics.ObserveSideEffectError("publish")
		r.logger.Warn("publish refresh event failed",
			zap.String("attempt_id", attempt.ID),
			zap.String("topic", r.cfg.Topic),
			zap.Error(err),
		)
		return
	}
	r.logger.Debug("refresh event published", zap.String("attempt_id", attempt.ID), zap.String("message_id", id))
}

func (r *Refresher) record(ctx context.Context, attempt imagery.Attempt) {
	if r.fetchLog == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.SideEffectTimeout)
	defer cancel()
	if err := r.fetchLog.Record(ctx, attempt); err != nil {
		metrics.ObserveSideEffectError("history")
		r.logger.Warn("record attempt failed", zap.String("attempt_id", attempt.ID), zap.Error(err))
	}
}
