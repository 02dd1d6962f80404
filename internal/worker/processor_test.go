package worker

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"confianza-backend/internal/config"
	"confianza-backend/internal/models"
)

type memStore struct {
	evidence map[string]models.Evidence

	processed map[string][2]string // id -> stored, thumb keys
	retries   map[string]int
	failed    map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		evidence:  map[string]models.Evidence{},
		processed: map[string][2]string{},
		retries:   map[string]int{},
		failed:    map[string]string{},
	}
}

func (m *memStore) GetEvidence(_ context.Context, id string) (models.Evidence, error) {
	ev, ok := m.evidence[id]
	if !ok {
		return models.Evidence{}, errors.New("not found")
	}
	return ev, nil
}

func (m *memStore) ListOrphanedEvidence(_ context.Context, olderThan time.Time, limit int) ([]models.Evidence, error) {
	var out []models.Evidence
	for _, ev := range m.evidence {
		if ev.Status == models.EvidencePending && ev.Attempts == 0 && ev.CreatedAt.Before(olderThan) {
			out = append(out, ev)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) MarkEvidenceProcessing(_ context.Context, id string) error {
	ev := m.evidence[id]
	ev.Status = models.EvidenceProcessing
	m.evidence[id] = ev
	return nil
}

func (m *memStore) MarkEvidenceProcessed(_ context.Context, id, storedKey, thumbnailKey string) error {
	ev := m.evidence[id]
	ev.Status = models.EvidenceProcessed
	m.evidence[id] = ev
	m.processed[id] = [2]string{storedKey, thumbnailKey}
	return nil
}

func (m *memStore) MarkEvidenceRetry(_ context.Context, id string, attempts int, _ string) error {
	ev := m.evidence[id]
	ev.Status = models.EvidencePending
	ev.Attempts = attempts
	m.evidence[id] = ev
	m.retries[id] = attempts
	return nil
}

func (m *memStore) MarkEvidenceFailed(_ context.Context, id, lastErr string) error {
	ev := m.evidence[id]
	ev.Status = models.EvidenceFailed
	m.evidence[id] = ev
	m.failed[id] = lastErr
	return nil
}

type memQueue struct {
	enqueued  []string
	acked     []string
	scheduled []string
	dlq       []string
}

func (m *memQueue) Enqueue(_ context.Context, id string) error {
	m.enqueued = append(m.enqueued, id)
	return nil
}
func (m *memQueue) DequeueWithLease(context.Context) (string, error) { return "", nil }
func (m *memQueue) Ack(_ context.Context, id string) error {
	m.acked = append(m.acked, id)
	return nil
}
func (m *memQueue) Schedule(_ context.Context, id string, _ time.Time) error {
	m.scheduled = append(m.scheduled, id)
	return nil
}
func (m *memQueue) PromoteScheduled(context.Context, time.Time, int64) (int, error) { return 0, nil }
func (m *memQueue) RequeueExpired(context.Context, time.Time, int64) ([]string, error) {
	return nil, nil
}
func (m *memQueue) DLQPush(_ context.Context, id string) error {
	m.dlq = append(m.dlq, id)
	return nil
}
func (m *memQueue) ReadyDepth(context.Context) (int64, error) { return 0, nil }

func testProcessor(st *memStore, q *memQueue, handler Handler) *Processor {
	cfg := config.Config{
		MaxAttempts:    3,
		BackoffInitial: 10 * time.Millisecond,
		BackoffMax:     time.Second,
	}
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewProcessor(cfg, q, st, handler, log)
}

func TestProcessOneSuccess(t *testing.T) {
	st := newMemStore()
	st.evidence["ev_1"] = models.Evidence{ID: "ev_1", RequestID: "req_1", Status: models.EvidencePending}
	q := &memQueue{}

	p := testProcessor(st, q, func(context.Context, models.Evidence) (string, string, error) {
		return "evidence/req_1/ev_1.jpg", "evidence/req_1/ev_1_thumb.jpg", nil
	})
	p.processOne(context.Background(), "ev_1")

	if st.evidence["ev_1"].Status != models.EvidenceProcessed {
		t.Fatalf("status = %q", st.evidence["ev_1"].Status)
	}
	if keys := st.processed["ev_1"]; keys[0] != "evidence/req_1/ev_1.jpg" || keys[1] != "evidence/req_1/ev_1_thumb.jpg" {
		t.Fatalf("stored keys = %v", keys)
	}
	if len(q.acked) != 1 || len(q.scheduled) != 0 || len(q.dlq) != 0 {
		t.Fatalf("queue state: acked=%v scheduled=%v dlq=%v", q.acked, q.scheduled, q.dlq)
	}
}

func TestProcessOneSchedulesRetry(t *testing.T) {
	st := newMemStore()
	st.evidence["ev_1"] = models.Evidence{ID: "ev_1", Status: models.EvidencePending, MaxAttempts: 3}
	q := &memQueue{}

	p := testProcessor(st, q, func(context.Context, models.Evidence) (string, string, error) {
		return "", "", errors.New("download timeout")
	})
	p.processOne(context.Background(), "ev_1")

	if st.retries["ev_1"] != 1 {
		t.Fatalf("attempts = %d, want 1", st.retries["ev_1"])
	}
	if len(q.scheduled) != 1 || q.scheduled[0] != "ev_1" {
		t.Fatalf("scheduled = %v", q.scheduled)
	}
	if len(q.dlq) != 0 {
		t.Fatalf("dead-lettered on first failure: %v", q.dlq)
	}
	if st.evidence["ev_1"].Status == models.EvidenceFailed {
		t.Fatal("marked failed with retries remaining")
	}
}

func TestProcessOneDeadLettersAfterMaxAttempts(t *testing.T) {
	st := newMemStore()
	st.evidence["ev_1"] = models.Evidence{ID: "ev_1", Status: models.EvidencePending, Attempts: 2, MaxAttempts: 3}
	q := &memQueue{}

	p := testProcessor(st, q, func(context.Context, models.Evidence) (string, string, error) {
		return "", "", errors.New("corrupt image")
	})
	p.processOne(context.Background(), "ev_1")

	if st.evidence["ev_1"].Status != models.EvidenceFailed {
		t.Fatalf("status = %q, want failed", st.evidence["ev_1"].Status)
	}
	if st.failed["ev_1"] != "corrupt image" {
		t.Fatalf("last error = %q", st.failed["ev_1"])
	}
	if len(q.dlq) != 1 || q.dlq[0] != "ev_1" {
		t.Fatalf("dlq = %v", q.dlq)
	}
	if len(q.scheduled) != 0 {
		t.Fatalf("scheduled a retry for an exhausted job: %v", q.scheduled)
	}
}

func TestProcessOneSkipsAlreadyProcessed(t *testing.T) {
	st := newMemStore()
	st.evidence["ev_1"] = models.Evidence{ID: "ev_1", Status: models.EvidenceProcessed}
	q := &memQueue{}

	called := false
	p := testProcessor(st, q, func(context.Context, models.Evidence) (string, string, error) {
		called = true
		return "", "", nil
	})
	p.processOne(context.Background(), "ev_1")

	if called {
		t.Fatal("handler invoked for already-processed evidence")
	}
	if len(q.acked) != 1 {
		t.Fatalf("acked = %v", q.acked)
	}
}

func TestProcessOneDropsMissingRow(t *testing.T) {
	st := newMemStore()
	q := &memQueue{}

	p := testProcessor(st, q, func(context.Context, models.Evidence) (string, string, error) {
		t.Fatal("handler should not run")
		return "", "", nil
	})
	p.processOne(context.Background(), "ghost")

	if len(q.acked) != 1 || q.acked[0] != "ghost" {
		t.Fatalf("lease not released: acked=%v", q.acked)
	}
}

func TestSweepOrphansReenqueuesLostRows(t *testing.T) {
	now := time.Now()
	st := newMemStore()
	// Insert succeeded but the enqueue was lost.
	st.evidence["ev_lost"] = models.Evidence{
		ID: "ev_lost", Status: models.EvidencePending, CreatedAt: now.Add(-time.Hour),
	}
	// Fresh row, presumably still in the ready queue.
	st.evidence["ev_fresh"] = models.Evidence{
		ID: "ev_fresh", Status: models.EvidencePending, CreatedAt: now,
	}
	// Retry row: attempts > 0, waiting in the scheduled set.
	st.evidence["ev_retry"] = models.Evidence{
		ID: "ev_retry", Status: models.EvidencePending, Attempts: 2, CreatedAt: now.Add(-time.Hour),
	}
	st.evidence["ev_done"] = models.Evidence{
		ID: "ev_done", Status: models.EvidenceProcessed, CreatedAt: now.Add(-time.Hour),
	}
	q := &memQueue{}

	p := testProcessor(st, q, func(context.Context, models.Evidence) (string, string, error) {
		return "", "", nil
	})
	p.sweepOrphans(context.Background(), now)

	if len(q.enqueued) != 1 || q.enqueued[0] != "ev_lost" {
		t.Fatalf("enqueued = %v, want only the lost row", q.enqueued)
	}
}

func TestBackoffWithJitter(t *testing.T) {
	base := 100 * time.Millisecond
	max := time.Second

	for attempt := 1; attempt <= 10; attempt++ {
		for i := 0; i < 20; i++ {
			d := backoffWithJitter(base, max, attempt)
			if d < base/2 {
				t.Fatalf("attempt %d: backoff %v below half the base", attempt, d)
			}
			if d > max {
				t.Fatalf("attempt %d: backoff %v exceeds max %v", attempt, d, max)
			}
		}
	}
}
