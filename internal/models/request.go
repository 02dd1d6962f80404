package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Request lifecycle states persisted in Postgres.
const (
	StatusPending    = "pending"
	StatusAssigned   = "assigned"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusClosed     = "closed"
	StatusDisputed   = "disputed"
)

// Payment sub-states. These are driven only by processor webhooks, never by
// user action, and live alongside the request status.
const (
	PaymentPending = "payment_pending"
	PaymentPaid    = "paid"
	PaymentFailed  = "payment_failed"
)

// Request types accepted at creation.
const (
	TypePaperwork           = "paperwork"
	TypeVehicleVerification = "vehicle_verification"
	TypePickup              = "pickup"
	TypeOther               = "other"
)

// ValidType reports whether t is one of the accepted request types.
func ValidType(t string) bool {
	switch t {
	case TypePaperwork, TypeVehicleVerification, TypePickup, TypeOther:
		return true
	}
	return false
}

// Request represents one unit of work a client wants a representative to
// perform. RepID stays nil while the request is pending; once a payment is
// approved the budget is immutable.
type Request struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Type        string           `json:"type"`
	ClientID    string           `json:"client_id"`
	RepID       *string          `json:"rep_id,omitempty"`
	RepName     *string          `json:"rep_name,omitempty"`
	Budget      *decimal.Decimal `json:"budget,omitempty"`
	Status      string           `json:"status"`
	City        string           `json:"city"`
	Address     string           `json:"address"`
	Lat         *float64         `json:"lat,omitempty"`
	Lng         *float64         `json:"lng,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	AssignedAt  *time.Time       `json:"assigned_at,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at"`

	// Payment fields copied from the processor's view of the payment.
	PaymentID           *string          `json:"payment_id,omitempty"`
	PaymentStatus       *string          `json:"payment_status,omitempty"`
	PaymentStatusDetail *string          `json:"payment_status_detail,omitempty"`
	PaymentMethod       *string          `json:"payment_method,omitempty"`
	PaymentAmount       *decimal.Decimal `json:"payment_amount,omitempty"`
	PaidAt              *time.Time       `json:"paid_at,omitempty"`
}

// Evidence is a photo attachment a representative uploads as proof of work.
// Processing (thumbnailing, upload to object storage) happens asynchronously.
type Evidence struct {
	ID           string     `json:"id"`
	RequestID    string     `json:"request_id"`
	SourceURL    string     `json:"source_url"`
	Status       string     `json:"status"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"max_attempts"`
	StoredKey    *string    `json:"stored_key,omitempty"`
	ThumbnailKey *string    `json:"thumbnail_key,omitempty"`
	LastError    *string    `json:"last_error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
}

// Evidence processing states.
const (
	EvidencePending    = "pending"
	EvidenceProcessing = "processing"
	EvidenceProcessed  = "processed"
	EvidenceFailed     = "failed"
)
