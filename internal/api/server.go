package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"confianza-backend/internal/config"
	"confianza-backend/internal/httperr"
	"confianza-backend/internal/mercadopago"
	"confianza-backend/internal/models"
	"confianza-backend/internal/store"
	"confianza-backend/internal/telemetry"
)

// Store is the persistence surface the HTTP handlers need. *store.Store
// satisfies it; tests use in-memory fakes.
type Store interface {
	CreateRequest(ctx context.Context, p store.CreateRequestParams) (models.Request, error)
	GetRequest(ctx context.Context, id string) (models.Request, error)
	ListRequests(ctx context.Context, f store.ListRequestsFilter) ([]models.Request, error)
	ClaimRequest(ctx context.Context, id, repID, repName string) (models.Request, error)
	TransitionRequest(ctx context.Context, id string, from []string, to string) (models.Request, error)
	ApplyPaymentUpdate(ctx context.Context, requestID string, u store.PaymentUpdate) error
	CreateEvidence(ctx context.Context, requestID, sourceURL string, maxAttempts int) (models.Evidence, error)
	ListEvidenceByRequest(ctx context.Context, requestID string) ([]models.Evidence, error)
	CreatePayout(ctx context.Context, p store.CreatePayoutParams) (models.CommissionPayout, error)
	ListPayouts(ctx context.Context) ([]models.CommissionPayout, error)
}

// PaymentClient is the outbound processor surface.
type PaymentClient interface {
	CreatePreference(ctx context.Context, p mercadopago.CreatePreferenceParams) (mercadopago.Preference, error)
	GetPayment(ctx context.Context, paymentID string) (mercadopago.Payment, error)
}

// Limiter throttles preference creation. Nil disables limiting.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Deduper short-circuits replayed webhook deliveries. Seen is a read-only
// check; Mark is called only after the payment update is committed, so a
// failed write is retried on redelivery. Nil disables dedup.
type Deduper interface {
	Seen(ctx context.Context, paymentID, status string) (bool, error)
	Mark(ctx context.Context, paymentID, status string) error
}

// Enqueuer hands evidence jobs to the worker queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, evidenceID string) error
}

// Server wires HTTP handlers for the backend API.
type Server struct {
	cfg      config.Config
	store    Store
	payments PaymentClient
	limiter  Limiter
	dedup    Deduper
	queue    Enqueuer
	log      *logrus.Logger
}

// New constructs the API server.
func New(cfg config.Config, st Store, payments PaymentClient, limiter Limiter, dedup Deduper, queue Enqueuer, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		cfg:      cfg,
		store:    st,
		payments: payments,
		limiter:  limiter,
		dedup:    dedup,
		queue:    queue,
		log:      log,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Route("/requests", func(r chi.Router) {
		r.Post("/", s.handleCreateRequest)
		r.Get("/", s.handleListRequests)
		r.Get("/{id}", s.handleGetRequest)
		r.Post("/{id}/claim", s.handleClaimRequest)
		r.Post("/{id}/start", s.handleStartRequest)
		r.Post("/{id}/complete", s.handleCompleteRequest)
		r.Post("/{id}/close", s.handleCloseRequest)
		r.Post("/{id}/dispute", s.handleDisputeRequest)
		r.Post("/{id}/evidence", s.handleCreateEvidence)
		r.Get("/{id}/evidence", s.handleListEvidence)
	})

	r.Route("/payments", func(r chi.Router) {
		r.Post("/preferences", s.handleCreatePreference)
		r.Post("/webhook", s.handleWebhook)
		r.Get("/webhook", s.handleWebhookReady)
		r.Get("/failure-reason", s.handleFailureReason)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Get("/commissions", s.handleCommissions)
		r.Post("/commissions/release", s.handleReleasePayment)
	})

	return r
}

var validate = newValidator()

// newValidator reports field names from json tags so validation errors match
// the wire format.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// missingFields collects the failing field names from a validator error.
func missingFields(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return fields
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := httperr.Status(err)
	entry := s.log.WithField("status", status)
	if status >= http.StatusInternalServerError {
		entry.WithError(err).Error("request failed")
	} else {
		entry.WithError(err).Warn("request rejected")
	}

	payload := map[string]any{"error": err.Error()}
	if details := httperr.Details(err); details != nil {
		payload["details"] = details
	}
	writeJSON(w, status, payload)
}

func decodeJSON(r *http.Request, out any) error {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return &httperr.BadRequestError{Reason: "invalid json body"}
	}
	return nil
}
