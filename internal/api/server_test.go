package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"confianza-backend/internal/config"
	"confianza-backend/internal/mercadopago"
	"confianza-backend/internal/models"
	"confianza-backend/internal/store"
)

// fakeStore is an in-memory Store mirroring the real overwrite semantics so
// idempotency behavior is exercised for real.
type fakeStore struct {
	requests map[string]models.Request
	evidence map[string][]models.Evidence
	payouts  []models.CommissionPayout

	paymentUpdates     int
	failPaymentUpdates int
	createPayoutErr    error
	settledTaskIDs     map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		requests:       map[string]models.Request{},
		evidence:       map[string][]models.Evidence{},
		settledTaskIDs: map[string]bool{},
	}
}

func (f *fakeStore) CreateRequest(_ context.Context, p store.CreateRequestParams) (models.Request, error) {
	req := models.Request{
		ID:        fmt.Sprintf("req_%d", len(f.requests)+1),
		Title:     p.Title,
		Type:      p.Type,
		ClientID:  p.ClientID,
		Budget:    p.Budget,
		Status:    models.StatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	f.requests[req.ID] = req
	return req, nil
}

func (f *fakeStore) GetRequest(_ context.Context, id string) (models.Request, error) {
	req, ok := f.requests[id]
	if !ok {
		return models.Request{}, store.ErrNotFound
	}
	return req, nil
}

func (f *fakeStore) ListRequests(_ context.Context, filter store.ListRequestsFilter) ([]models.Request, error) {
	var out []models.Request
	for _, req := range f.requests {
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		if filter.RepID != "" && (req.RepID == nil || *req.RepID != filter.RepID) {
			continue
		}
		if filter.ClientID != "" && req.ClientID != filter.ClientID {
			continue
		}
		out = append(out, req)
	}
	return out, nil
}

func (f *fakeStore) ClaimRequest(_ context.Context, id, repID, repName string) (models.Request, error) {
	req, ok := f.requests[id]
	if !ok {
		return models.Request{}, store.ErrNotFound
	}
	if req.Status != models.StatusPending {
		return models.Request{}, store.ErrConflict
	}
	now := time.Now()
	req.RepID = &repID
	req.RepName = &repName
	req.Status = models.StatusAssigned
	req.AssignedAt = &now
	f.requests[id] = req
	return req, nil
}

func (f *fakeStore) TransitionRequest(_ context.Context, id string, from []string, to string) (models.Request, error) {
	req, ok := f.requests[id]
	if !ok {
		return models.Request{}, store.ErrNotFound
	}
	allowed := false
	for _, s := range from {
		if req.Status == s {
			allowed = true
		}
	}
	if !allowed {
		return models.Request{}, store.ErrConflict
	}
	req.Status = to
	f.requests[id] = req
	return req, nil
}

func (f *fakeStore) ApplyPaymentUpdate(_ context.Context, requestID string, u store.PaymentUpdate) error {
	req, ok := f.requests[requestID]
	if !ok {
		return store.ErrNotFound
	}
	if f.failPaymentUpdates > 0 {
		f.failPaymentUpdates--
		return errors.New("connection reset")
	}
	f.paymentUpdates++
	req.PaymentID = &u.PaymentID
	req.PaymentStatus = &u.Status
	req.PaymentStatusDetail = &u.StatusDetail
	req.PaymentMethod = &u.Method
	amount := u.Amount
	req.PaymentAmount = &amount
	if u.RequestStatus != nil {
		req.Status = *u.RequestStatus
	}
	if u.PaidAt != nil {
		req.PaidAt = u.PaidAt
	}
	f.requests[requestID] = req
	return nil
}

func (f *fakeStore) CreateEvidence(_ context.Context, requestID, sourceURL string, maxAttempts int) (models.Evidence, error) {
	ev := models.Evidence{
		ID:          fmt.Sprintf("ev_%d", len(f.evidence[requestID])+1),
		RequestID:   requestID,
		SourceURL:   sourceURL,
		Status:      models.EvidencePending,
		MaxAttempts: maxAttempts,
		CreatedAt:   time.Now(),
	}
	f.evidence[requestID] = append(f.evidence[requestID], ev)
	return ev, nil
}

func (f *fakeStore) ListEvidenceByRequest(_ context.Context, requestID string) ([]models.Evidence, error) {
	return f.evidence[requestID], nil
}

func (f *fakeStore) CreatePayout(_ context.Context, p store.CreatePayoutParams) (models.CommissionPayout, error) {
	if f.createPayoutErr != nil {
		return models.CommissionPayout{}, f.createPayoutErr
	}
	for _, taskID := range p.TaskIDs {
		if f.settledTaskIDs[taskID] {
			return models.CommissionPayout{}, fmt.Errorf("task %s: %w", taskID, store.ErrTaskAlreadySettled)
		}
	}
	for _, taskID := range p.TaskIDs {
		f.settledTaskIDs[taskID] = true
	}
	payout := models.CommissionPayout{
		ID:      fmt.Sprintf("payout_%d", len(f.payouts)+1),
		RepID:   p.RepID,
		RepName: p.RepName,
		Amount:  p.Amount,
		RatePct: p.RatePct,
		TaskIDs: p.TaskIDs,
		Status:  models.PayoutPaid,
		PaidAt:  time.Now(),
	}
	f.payouts = append(f.payouts, payout)
	return payout, nil
}

func (f *fakeStore) ListPayouts(_ context.Context) ([]models.CommissionPayout, error) {
	return f.payouts, nil
}

// fakePayments stubs the processor.
type fakePayments struct {
	preference    mercadopago.Preference
	preferenceErr error
	payments      map[string]mercadopago.Payment
	paymentErr    error

	lastParams mercadopago.CreatePreferenceParams
}

func (f *fakePayments) CreatePreference(_ context.Context, p mercadopago.CreatePreferenceParams) (mercadopago.Preference, error) {
	f.lastParams = p
	if f.preferenceErr != nil {
		return mercadopago.Preference{}, f.preferenceErr
	}
	return f.preference, nil
}

func (f *fakePayments) GetPayment(_ context.Context, id string) (mercadopago.Payment, error) {
	if f.paymentErr != nil {
		return mercadopago.Payment{}, f.paymentErr
	}
	payment, ok := f.payments[id]
	if !ok {
		return mercadopago.Payment{}, f.paymentErr
	}
	return payment, nil
}

// fakeDedup mirrors the real semantics: Seen is read-only, Mark records.
type fakeDedup struct {
	marked map[string]bool
}

func (f *fakeDedup) Seen(_ context.Context, paymentID, status string) (bool, error) {
	return f.marked[paymentID+":"+status], nil
}

func (f *fakeDedup) Mark(_ context.Context, paymentID, status string) error {
	if f.marked == nil {
		f.marked = map[string]bool{}
	}
	f.marked[paymentID+":"+status] = true
	return nil
}

type fakeQueue struct {
	enqueued []string
}

func (f *fakeQueue) Enqueue(_ context.Context, id string) error {
	f.enqueued = append(f.enqueued, id)
	return nil
}

func testConfig() config.Config {
	return config.Config{
		CommissionRatePct: 15,
		MaxAttempts:       5,
	}
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestServer(st Store, payments PaymentClient, dedup Deduper, queue Enqueuer) *Server {
	if queue == nil {
		queue = &fakeQueue{}
	}
	return New(testConfig(), st, payments, nil, dedup, queue, quietLogger())
}
