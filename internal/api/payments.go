package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"confianza-backend/internal/httperr"
	"confianza-backend/internal/mercadopago"
	"confianza-backend/internal/store"
	"confianza-backend/internal/telemetry"
)

type createPreferenceBody struct {
	RequestID   string          `json:"request_id" validate:"required"`
	Title       string          `json:"title" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	ClientEmail string          `json:"client_email" validate:"required,email"`
	ClientName  string          `json:"client_name" validate:"required"`
}

func (s *Server) handleCreatePreference(w http.ResponseWriter, r *http.Request) {
	var body createPreferenceBody
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

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(r.Context(), body.ClientEmail)
		if err != nil {
			s.writeError(w, &httperr.PersistenceError{Op: "rate limit check", Err: err})
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many payment attempts, retry later"})
			return
		}
	}

	pref, err := s.payments.CreatePreference(r.Context(), mercadopago.CreatePreferenceParams{
		RequestID:  body.RequestID,
		Title:      body.Title,
		Amount:     body.Amount,
		PayerEmail: body.ClientEmail,
		PayerName:  body.ClientName,
	})
	if err != nil {
		telemetry.PreferenceErrors.Inc()
		var up *httperr.UpstreamPaymentError
		if errors.As(err, &up) {
			s.log.WithFields(logrus.Fields{
				"request_id":      body.RequestID,
				"upstream_status": up.StatusCode,
				"upstream_body":   up.Body,
			}).Error("preference creation rejected by processor")
		}
		s.writeError(w, err)
		return
	}

	telemetry.PreferencesCreated.Inc()
	s.log.WithFields(logrus.Fields{
		"request_id":    body.RequestID,
		"preference_id": pref.ID,
	}).Info("checkout preference created")
	writeJSON(w, http.StatusOK, pref)
}

type webhookEvent struct {
	Type string      `json:"type"`
	Data webhookData `json:"data"`
}

// webhookData tolerates both string and numeric payment ids; the processor
// has sent both shapes.
type webhookData struct {
	ID string
}

func (d *webhookData) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID any `json:"id"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch v := raw.ID.(type) {
	case string:
		d.ID = v
	case float64:
		d.ID = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return nil
}

// handleWebhook receives asynchronous payment notifications. The webhook body
// is only a trigger: financial fields come from a fresh detail fetch, and the
// resulting update is an overwrite, so replays and races are safe.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	telemetry.WebhooksReceived.Inc()

	var event webhookEvent
	if err := decodeJSON(r, &event); err != nil {
		s.writeError(w, err)
		return
	}

	if event.Type != "payment" {
		telemetry.WebhooksIgnored.Inc()
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	if event.Data.ID == "" {
		s.writeError(w, &httperr.BadRequestError{Reason: "payment event missing data.id"})
		return
	}

	payment, err := s.payments.GetPayment(r.Context(), event.Data.ID)
	if err != nil {
		var up *httperr.UpstreamPaymentError
		if errors.As(err, &up) {
			s.log.WithFields(logrus.Fields{
				"payment_id":      event.Data.ID,
				"upstream_status": up.StatusCode,
				"upstream_body":   up.Body,
			}).Error("payment detail fetch failed")
		}
		s.writeError(w, err)
		return
	}

	if payment.ExternalReference == "" {
		s.writeError(w, &httperr.BadRequestError{Reason: "payment has no external_reference"})
		return
	}

	paymentID := strconv.FormatInt(payment.ID, 10)

	if s.dedup != nil {
		seen, err := s.dedup.Seen(r.Context(), paymentID, payment.Status)
		if err != nil {
			// Reprocessing is safe; dedup is only an optimization.
			s.log.WithError(err).Warn("webhook dedup check failed, processing anyway")
		} else if seen {
			telemetry.WebhooksReplayed.Inc()
			writeJSON(w, http.StatusOK, map[string]bool{"success": true})
			return
		}
	}

	update := store.PaymentUpdate{
		PaymentID:    paymentID,
		Status:       payment.Status,
		StatusDetail: payment.StatusDetail,
		Method:       payment.PaymentMethodID,
		Amount:       payment.TransactionAmount,
	}

	mapped, ok := mercadopago.MapStatus(payment.Status)
	if ok {
		update.RequestStatus = &mapped
		if payment.Status == mercadopago.StatusApproved {
			now := time.Now().UTC()
			update.PaidAt = &now
		}
	} else {
		s.log.WithFields(logrus.Fields{
			"payment_id": paymentID,
			"status":     payment.Status,
			"request_id": payment.ExternalReference,
		}).Warn("unmapped payment status, persisting metadata only")
	}

	if err := s.store.ApplyPaymentUpdate(r.Context(), payment.ExternalReference, update); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, &httperr.NotFoundError{Entity: "request", ID: payment.ExternalReference})
			return
		}
		s.writeError(w, &httperr.PersistenceError{Op: "apply payment update", Err: err})
		return
	}

	if s.dedup != nil {
		// Marked only now that the update is committed: a delivery whose
		// write failed stays unmarked and the redelivery applies it.
		if err := s.dedup.Mark(r.Context(), paymentID, payment.Status); err != nil {
			s.log.WithError(err).Warn("webhook dedup mark failed")
		}
	}

	switch payment.Status {
	case mercadopago.StatusApproved:
		telemetry.PaymentsApproved.Inc()
	case mercadopago.StatusRejected, mercadopago.StatusCancelled:
		telemetry.PaymentsFailed.Inc()
	}

	s.log.WithFields(logrus.Fields{
		"payment_id": paymentID,
		"status":     payment.Status,
		"request_id": payment.ExternalReference,
	}).Info("payment update applied")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleWebhookReady answers the processor's endpoint validation probe.
func (s *Server) handleWebhookReady(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "Webhook endpoint ready"})
}

// handleFailureReason resolves a status_detail code into the message shown on
// the payment failure page.
func (s *Server) handleFailureReason(w http.ResponseWriter, r *http.Request) {
	detail := r.URL.Query().Get("status_detail")
	writeJSON(w, http.StatusOK, map[string]string{
		"status_detail": detail,
		"reason":        mercadopago.StatusDetailReason(detail),
	})
}
