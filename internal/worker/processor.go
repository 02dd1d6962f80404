package worker

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"confianza-backend/internal/config"
	"confianza-backend/internal/models"
	"confianza-backend/internal/telemetry"
)

// EvidenceStore is the persistence surface the worker needs.
type EvidenceStore interface {
	GetEvidence(ctx context.Context, id string) (models.Evidence, error)
	ListOrphanedEvidence(ctx context.Context, olderThan time.Time, limit int) ([]models.Evidence, error)
	MarkEvidenceProcessing(ctx context.Context, id string) error
	MarkEvidenceProcessed(ctx context.Context, id, storedKey, thumbnailKey string) error
	MarkEvidenceRetry(ctx context.Context, id string, attempts int, lastErr string) error
	MarkEvidenceFailed(ctx context.Context, id, lastErr string) error
}

// Queue is the job coordination surface backed by Redis.
type Queue interface {
	Enqueue(ctx context.Context, evidenceID string) error
	DequeueWithLease(ctx context.Context) (string, error)
	Ack(ctx context.Context, evidenceID string) error
	Schedule(ctx context.Context, evidenceID string, runAt time.Time) error
	PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error)
	RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error)
	DLQPush(ctx context.Context, evidenceID string) error
	ReadyDepth(ctx context.Context) (int64, error)
}

// Handler processes one evidence photo and returns the stored object keys.
type Handler func(ctx context.Context, ev models.Evidence) (storedKey, thumbnailKey string, err error)

// orphanAfter is how long a never-attempted pending row may sit before the
// sweep assumes its initial enqueue was lost and re-enqueues it.
const orphanAfter = 5 * time.Minute

// Processor drives the evidence worker loop.
type Processor struct {
	cfg     config.Config
	queue   Queue
	store   EvidenceStore
	handler Handler
	log     *logrus.Logger

	lastSweep time.Time
}

// NewProcessor wires the worker loop.
func NewProcessor(cfg config.Config, q Queue, st EvidenceStore, handler Handler, log *logrus.Logger) *Processor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Processor{
		cfg:     cfg,
		queue:   q,
		store:   st,
		handler: handler,
		log:     log,
	}
}

// Run polls the queue until context cancellation.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		now := time.Now()
		if interval := p.cfg.OrphanSweepInterval; interval > 0 && now.Sub(p.lastSweep) >= interval {
			p.lastSweep = now
			p.sweepOrphans(ctx, now)
		}

		_, _ = p.queue.PromoteScheduled(ctx, time.Now(), 100)
		if reclaimed, _ := p.queue.RequeueExpired(ctx, time.Now(), 100); len(reclaimed) > 0 {
			telemetry.InFlightGauge.Sub(float64(len(reclaimed)))
			p.log.WithField("count", len(reclaimed)).Warn("reclaimed expired evidence leases")
		}
		if depth, err := p.queue.ReadyDepth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}

		evidenceID, err := p.queue.DequeueWithLease(ctx)
		if err != nil || evidenceID == "" {
			sleep(ctx, p.cfg.WorkerPollInterval)
			continue
		}

		p.processOne(ctx, evidenceID)
	}
}

// sweepOrphans re-enqueues pending rows whose initial enqueue was lost, for
// example when Redis was down right after the API inserted the row. A row
// still waiting in the ready queue may be enqueued twice during a backlog;
// that is safe, processOne acks rows that are already processed.
func (p *Processor) sweepOrphans(ctx context.Context, now time.Time) {
	orphans, err := p.store.ListOrphanedEvidence(ctx, now.Add(-orphanAfter), 100)
	if err != nil {
		p.log.WithError(err).Warn("orphan sweep query failed")
		return
	}
	if len(orphans) == 0 {
		return
	}
	for _, ev := range orphans {
		if err := p.queue.Enqueue(ctx, ev.ID); err != nil {
			p.log.WithError(err).WithField("evidence_id", ev.ID).Warn("orphan re-enqueue failed")
		}
	}
	p.log.WithField("count", len(orphans)).Warn("re-enqueued orphaned evidence rows")
}

func (p *Processor) processOne(ctx context.Context, evidenceID string) {
	ev, err := p.store.GetEvidence(ctx, evidenceID)
	if err != nil {
		// Row vanished or Postgres is down; drop the lease so the job is not
		// stuck in-flight forever.
		_ = p.queue.Ack(ctx, evidenceID)
		p.log.WithError(err).WithField("evidence_id", evidenceID).Warn("evidence lookup failed, dropping job")
		return
	}
	if ev.Status == models.EvidenceProcessed {
		_ = p.queue.Ack(ctx, evidenceID)
		return
	}

	_ = p.store.MarkEvidenceProcessing(ctx, ev.ID)
	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	storedKey, thumbKey, err := p.handler(ctx, ev)
	if err == nil {
		_ = p.queue.Ack(ctx, ev.ID)
		if err := p.store.MarkEvidenceProcessed(ctx, ev.ID, storedKey, thumbKey); err != nil {
			p.log.WithError(err).WithField("evidence_id", ev.ID).Error("mark processed failed")
			return
		}
		telemetry.EvidenceProcessed.Inc()
		p.log.WithFields(logrus.Fields{
			"evidence_id": ev.ID,
			"request_id":  ev.RequestID,
			"stored_key":  storedKey,
		}).Info("evidence processed")
		return
	}

	attempts := ev.Attempts + 1
	maxAttempts := ev.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = p.cfg.MaxAttempts
	}

	if attempts >= maxAttempts {
		_ = p.store.MarkEvidenceFailed(ctx, ev.ID, err.Error())
		_ = p.queue.Ack(ctx, ev.ID)
		_ = p.queue.DLQPush(ctx, ev.ID)
		telemetry.EvidenceDeadLetter.Inc()
		p.log.WithError(err).WithFields(logrus.Fields{
			"evidence_id": ev.ID,
			"attempts":    attempts,
		}).Error("evidence job dead-lettered")
		return
	}

	backoff := backoffWithJitter(p.cfg.BackoffInitial, p.cfg.BackoffMax, attempts)
	_ = p.store.MarkEvidenceRetry(ctx, ev.ID, attempts, err.Error())
	_ = p.queue.Ack(ctx, ev.ID)
	_ = p.queue.Schedule(ctx, ev.ID, time.Now().Add(backoff))
	telemetry.EvidenceFailures.Inc()
	p.log.WithError(err).WithFields(logrus.Fields{
		"evidence_id": ev.ID,
		"attempts":    attempts,
		"backoff":     backoff.String(),
	}).Warn("evidence job failed, retry scheduled")
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
