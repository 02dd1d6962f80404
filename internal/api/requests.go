package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"confianza-backend/internal/httperr"
	"confianza-backend/internal/models"
	"confianza-backend/internal/store"
)

type createRequestBody struct {
	Title       string           `json:"title" validate:"required"`
	Description string           `json:"description"`
	Type        string           `json:"type" validate:"required"`
	ClientID    string           `json:"client_id" validate:"required"`
	Budget      *decimal.Decimal `json:"budget"`
	City        string           `json:"city"`
	Address     string           `json:"address"`
	Lat         *float64         `json:"lat"`
	Lng         *float64         `json:"lng"`
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	if err := validate.Struct(body); err != nil {
		s.writeError(w, &httperr.ValidationError{Fields: missingFields(err)})
		return
	}
	if !models.ValidType(body.Type) {
		s.writeError(w, &httperr.BadRequestError{Reason: fmt.Sprintf("unknown request type %q", body.Type)})
		return
	}
	if body.Budget != nil && !body.Budget.IsPositive() {
		s.writeError(w, &httperr.BadRequestError{Reason: "budget must be positive"})
		return
	}

	req, err := s.store.CreateRequest(r.Context(), store.CreateRequestParams{
		Title:       body.Title,
		Description: body.Description,
		Type:        body.Type,
		ClientID:    body.ClientID,
		Budget:      body.Budget,
		City:        body.City,
		Address:     body.Address,
		Lat:         body.Lat,
		Lng:         body.Lng,
	})
	if err != nil {
		s.writeError(w, &httperr.PersistenceError{Op: "create request", Err: err})
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	reqs, err := s.store.ListRequests(r.Context(), store.ListRequestsFilter{
		Status:   q.Get("status"),
		RepID:    q.Get("rep_id"),
		ClientID: q.Get("client_id"),
	})
	if err != nil {
		s.writeError(w, &httperr.PersistenceError{Op: "list requests", Err: err})
		return
	}
	if reqs == nil {
		reqs = []models.Request{}
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	req, err := s.store.GetRequest(r.Context(), id)
	if err != nil {
		s.writeError(w, mapStoreErr(err, id, "get request"))
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type claimBody struct {
	RepID   string `json:"rep_id" validate:"required"`
	RepName string `json:"rep_name" validate:"required"`
}

func (s *Server) handleClaimRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body claimBody
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	if err := validate.Struct(body); err != nil {
		s.writeError(w, &httperr.ValidationError{Fields: missingFields(err)})
		return
	}

	req, err := s.store.ClaimRequest(r.Context(), id, body.RepID, body.RepName)
	if err != nil {
		s.writeError(w, mapStoreErr(err, id, "claim request"))
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleStartRequest(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, []string{models.StatusAssigned}, models.StatusInProgress)
}

func (s *Server) handleCompleteRequest(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, []string{models.StatusInProgress}, models.StatusCompleted)
}

func (s *Server) handleCloseRequest(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, []string{models.StatusCompleted}, models.StatusClosed)
}

func (s *Server) handleDisputeRequest(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, []string{models.StatusAssigned, models.StatusInProgress, models.StatusCompleted}, models.StatusDisputed)
}

func (s *Server) transition(w http.ResponseWriter, r *http.Request, from []string, to string) {
	id := chi.URLParam(r, "id")
	req, err := s.store.TransitionRequest(r.Context(), id, from, to)
	if err != nil {
		s.writeError(w, mapStoreErr(err, id, "transition request"))
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type createEvidenceBody struct {
	SourceURL string `json:"source_url" validate:"required,url"`
}

func (s *Server) handleCreateEvidence(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body createEvidenceBody
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	if err := validate.Struct(body); err != nil {
		s.writeError(w, &httperr.ValidationError{Fields: missingFields(err)})
		return
	}

	if _, err := s.store.GetRequest(r.Context(), id); err != nil {
		s.writeError(w, mapStoreErr(err, id, "get request"))
		return
	}

	ev, err := s.store.CreateEvidence(r.Context(), id, body.SourceURL, s.cfg.MaxAttempts)
	if err != nil {
		s.writeError(w, &httperr.PersistenceError{Op: "create evidence", Err: err})
		return
	}
	if err := s.queue.Enqueue(r.Context(), ev.ID); err != nil {
		// The row stays pending and the worker's orphan sweep will re-enqueue
		// it; surface the failure so the caller knows processing is delayed.
		s.writeError(w, &httperr.PersistenceError{Op: "enqueue evidence", Err: err})
		return
	}
	writeJSON(w, http.StatusAccepted, ev)
}

func (s *Server) handleListEvidence(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetRequest(r.Context(), id); err != nil {
		s.writeError(w, mapStoreErr(err, id, "get request"))
		return
	}
	evs, err := s.store.ListEvidenceByRequest(r.Context(), id)
	if err != nil {
		s.writeError(w, &httperr.PersistenceError{Op: "list evidence", Err: err})
		return
	}
	if evs == nil {
		evs = []models.Evidence{}
	}
	writeJSON(w, http.StatusOK, evs)
}

// mapStoreErr translates store sentinels into the HTTP error taxonomy.
func mapStoreErr(err error, id, op string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return &httperr.NotFoundError{Entity: "request", ID: id}
	case errors.Is(err, store.ErrConflict):
		return &httperr.ConflictError{Reason: "request is not in a valid state for this action"}
	default:
		return &httperr.PersistenceError{Op: op, Err: err}
	}
}
