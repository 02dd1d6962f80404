package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"confianza-backend/internal/models"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an update is rejected by a lifecycle guard,
// for example claiming a request that is no longer pending.
var ErrConflict = errors.New("conflict")

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateRequestParams collects inputs required to insert a request.
type CreateRequestParams struct {
	Title       string
	Description string
	Type        string
	ClientID    string
	Budget      *decimal.Decimal
	City        string
	Address     string
	Lat         *float64
	Lng         *float64
}

// CreateRequest inserts a new request in the pending state.
func (s *Store) CreateRequest(ctx context.Context, p CreateRequestParams) (models.Request, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO requests (id, title, description, type, client_id, budget, status, city, address, lat, lng, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
	`, id, p.Title, p.Description, p.Type, p.ClientID, decString(p.Budget), models.StatusPending, p.City, p.Address, p.Lat, p.Lng, now)
	if err != nil {
		return models.Request{}, fmt.Errorf("insert request: %w", err)
	}

	return models.Request{
		ID:          id,
		Title:       p.Title,
		Description: p.Description,
		Type:        p.Type,
		ClientID:    p.ClientID,
		Budget:      p.Budget,
		Status:      models.StatusPending,
		City:        p.City,
		Address:     p.Address,
		Lat:         p.Lat,
		Lng:         p.Lng,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

const requestColumns = `
	id, title, description, type, client_id, rep_id, rep_name, budget::text,
	status, city, address, lat, lng,
	payment_id, payment_status, payment_status_detail, payment_method, payment_amount::text, paid_at,
	created_at, assigned_at, updated_at
`

// GetRequest fetches a request by id.
func (s *Store) GetRequest(ctx context.Context, id string) (models.Request, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1`, id)
	req, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Request{}, ErrNotFound
	}
	if err != nil {
		return models.Request{}, fmt.Errorf("scan request: %w", err)
	}
	return req, nil
}

// ListRequestsFilter narrows a request listing. Zero values mean no filter.
type ListRequestsFilter struct {
	Status   string
	RepID    string
	ClientID string
}

// ListRequests returns requests matching the filter, newest first.
func (s *Store) ListRequests(ctx context.Context, f ListRequestsFilter) ([]models.Request, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+requestColumns+`
		FROM requests
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR rep_id = $2)
		  AND ($3 = '' OR client_id = $3)
		ORDER BY created_at DESC
	`, f.Status, f.RepID, f.ClientID)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	defer rows.Close()

	var out []models.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// ClaimRequest assigns a pending request to a representative. The status
// guard makes concurrent claims race-safe: exactly one wins.
func (s *Store) ClaimRequest(ctx context.Context, id, repID, repName string) (models.Request, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE requests
		SET rep_id = $2, rep_name = $3, status = $4, assigned_at = $5, updated_at = $5
		WHERE id = $1 AND status = $6
	`, id, repID, repName, models.StatusAssigned, now, models.StatusPending)
	if err != nil {
		return models.Request{}, fmt.Errorf("claim request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetRequest(ctx, id); errors.Is(err, ErrNotFound) {
			return models.Request{}, ErrNotFound
		}
		return models.Request{}, ErrConflict
	}
	return s.GetRequest(ctx, id)
}

// TransitionRequest moves a request from one of the allowed statuses to the
// target status. ErrConflict means the request exists but is not in an
// allowed state.
func (s *Store) TransitionRequest(ctx context.Context, id string, from []string, to string) (models.Request, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE requests SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
	`, id, to, from)
	if err != nil {
		return models.Request{}, fmt.Errorf("transition request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetRequest(ctx, id); errors.Is(err, ErrNotFound) {
			return models.Request{}, ErrNotFound
		}
		return models.Request{}, ErrConflict
	}
	return s.GetRequest(ctx, id)
}

// PaymentUpdate is the fixed field set the webhook handler overwrites on
// every delivery. The overwrite is a single statement so racing deliveries
// for the same payment resolve last-write-wins.
type PaymentUpdate struct {
	PaymentID    string
	Status       string
	StatusDetail string
	Method       string
	Amount       decimal.Decimal

	// RequestStatus, when non-nil, also moves the request's payment
	// sub-state. Unmapped processor statuses leave it nil.
	RequestStatus *string
	PaidAt        *time.Time
}

// ApplyPaymentUpdate overwrites the payment fields on a request.
func (s *Store) ApplyPaymentUpdate(ctx context.Context, requestID string, u PaymentUpdate) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE requests
		SET payment_id = $2,
		    payment_status = $3,
		    payment_status_detail = $4,
		    payment_method = $5,
		    payment_amount = $6,
		    status = COALESCE($7, status),
		    paid_at = COALESCE($8, paid_at),
		    updated_at = NOW()
		WHERE id = $1
	`, requestID, u.PaymentID, u.Status, u.StatusDetail, u.Method, u.Amount.String(), u.RequestStatus, u.PaidAt)
	if err != nil {
		return fmt.Errorf("apply payment update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRequest(row pgx.Row) (models.Request, error) {
	var (
		req                   models.Request
		repID, repName        pgtype.Text
		budget, paymentAmount pgtype.Text
		payID, payStatus      pgtype.Text
		payDetail, payMethod  pgtype.Text
		paidAt, assignedAt    pgtype.Timestamptz
	)
	if err := row.Scan(
		&req.ID, &req.Title, &req.Description, &req.Type, &req.ClientID, &repID, &repName, &budget,
		&req.Status, &req.City, &req.Address, &req.Lat, &req.Lng,
		&payID, &payStatus, &payDetail, &payMethod, &paymentAmount, &paidAt,
		&req.CreatedAt, &assignedAt, &req.UpdatedAt,
	); err != nil {
		return models.Request{}, err
	}

	req.RepID = textPtr(repID)
	req.RepName = textPtr(repName)
	req.PaymentID = textPtr(payID)
	req.PaymentStatus = textPtr(payStatus)
	req.PaymentStatusDetail = textPtr(payDetail)
	req.PaymentMethod = textPtr(payMethod)
	req.PaidAt = timePtr(paidAt)
	req.AssignedAt = timePtr(assignedAt)

	var err error
	if req.Budget, err = decPtr(budget); err != nil {
		return models.Request{}, fmt.Errorf("parse budget: %w", err)
	}
	if req.PaymentAmount, err = decPtr(paymentAmount); err != nil {
		return models.Request{}, fmt.Errorf("parse payment amount: %w", err)
	}
	return req, nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if t.Valid {
		return &t.Time
	}
	return nil
}

func decPtr(t pgtype.Text) (*decimal.Decimal, error) {
	if !t.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(t.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func decString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}
