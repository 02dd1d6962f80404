package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"confianza-backend/internal/commission"
	"confianza-backend/internal/httperr"
	"confianza-backend/internal/models"
	"confianza-backend/internal/store"
	"confianza-backend/internal/telemetry"
)

// handleCommissions returns the per-representative settlement view. The
// aggregate is recomputed from scratch on every call.
func (s *Server) handleCommissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	completed, err := s.store.ListRequests(ctx, store.ListRequestsFilter{Status: models.StatusCompleted})
	if err != nil {
		s.writeError(w, &httperr.PersistenceError{Op: "list completed requests", Err: err})
		return
	}
	disputed, err := s.store.ListRequests(ctx, store.ListRequestsFilter{Status: models.StatusDisputed})
	if err != nil {
		s.writeError(w, &httperr.PersistenceError{Op: "list disputed requests", Err: err})
		return
	}
	payouts, err := s.store.ListPayouts(ctx)
	if err != nil {
		s.writeError(w, &httperr.PersistenceError{Op: "list payouts", Err: err})
		return
	}

	rate := decimal.NewFromFloat(s.cfg.CommissionRatePct)
	view := commission.Aggregate(completed, disputed, payouts, rate)
	if view == nil {
		view = []models.RepCommission{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rate_percent": rate,
		"reps":         view,
	})
}

type releasePaymentBody struct {
	RepID   string          `json:"rep_id" validate:"required"`
	RepName string          `json:"rep_name" validate:"required"`
	TaskIDs []string        `json:"task_ids" validate:"required,min=1"`
	Amount  decimal.Decimal `json:"amount"`
}

// handleReleasePayment records one settlement for a representative's batch.
// Disputes block payout for the rep's entire pending batch until resolved,
// not just the disputed tasks.
func (s *Server) handleReleasePayment(w http.ResponseWriter, r *http.Request) {
	var body releasePaymentBody
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, err)
		return
	}

	missing := missingFields(validate.Struct(body))
	if !body.Amount.IsPositive() {
		missing = append(missing, "amount")
	}
	if len(missing) > 0 {
		s.writeError(w, &httperr.ValidationError{Fields: missing})
		return
	}

	disputed, err := s.store.ListRequests(r.Context(), store.ListRequestsFilter{
		Status: models.StatusDisputed,
		RepID:  body.RepID,
	})
	if err != nil {
		s.writeError(w, &httperr.PersistenceError{Op: "list disputed requests", Err: err})
		return
	}
	if len(disputed) > 0 {
		s.writeError(w, &httperr.ConflictError{Reason: "representative has disputed tasks, payout is blocked until resolved"})
		return
	}

	payout, err := s.releasePayment(r.Context(), body.RepID, body.RepName, body.TaskIDs, body.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}

	telemetry.PayoutsRecorded.Inc()
	s.log.WithFields(logrus.Fields{
		"payout_id": payout.ID,
		"rep_id":    payout.RepID,
		"amount":    payout.Amount,
		"tasks":     len(payout.TaskIDs),
	}).Info("commission payout recorded")
	writeJSON(w, http.StatusCreated, payout)
}

// releasePayment creates exactly one payout record. It performs no dispute
// check itself; callers gate on dispute status. Request rows are never
// touched: coverage is always recomputed from payout task-id lists.
func (s *Server) releasePayment(ctx context.Context, repID, repName string, taskIDs []string, amount decimal.Decimal) (models.CommissionPayout, error) {
	payout, err := s.store.CreatePayout(ctx, store.CreatePayoutParams{
		RepID:   repID,
		RepName: repName,
		Amount:  amount,
		RatePct: decimal.NewFromFloat(s.cfg.CommissionRatePct),
		TaskIDs: taskIDs,
	})
	if err != nil {
		if errors.Is(err, store.ErrTaskAlreadySettled) {
			return models.CommissionPayout{}, &httperr.ConflictError{Reason: err.Error()}
		}
		return models.CommissionPayout{}, &httperr.PersistenceError{Op: "create payout", Err: err}
	}
	return payout, nil
}
