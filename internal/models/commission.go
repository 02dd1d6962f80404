package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CommissionPayout records one settled payout event to a representative.
// Rows are append-only: created by the settlement action, never mutated.
type CommissionPayout struct {
	ID      string          `json:"id"`
	RepID   string          `json:"rep_id"`
	RepName string          `json:"rep_name"`
	Amount  decimal.Decimal `json:"amount"`
	RatePct decimal.Decimal `json:"rate_percent"`
	TaskIDs []string        `json:"task_ids"`
	Status  string          `json:"status"`
	PaidAt  time.Time       `json:"paid_at"`
}

// PayoutPaid is the only status a payout row ever carries.
const PayoutPaid = "paid"

// RepCommission is the per-representative settlement view derived from
// completed requests and prior payouts. It is recomputed on every query and
// never persisted.
type RepCommission struct {
	RepID            string            `json:"rep_id"`
	RepName          string            `json:"rep_name"`
	CompletedTasks   []Request         `json:"completed_tasks"`
	DisputedTasks    []Request         `json:"disputed_tasks"`
	GrossAmount      decimal.Decimal   `json:"gross_amount"`
	CommissionAmount decimal.Decimal   `json:"commission_amount"`
	IsPaid           bool              `json:"is_paid"`
	Payout           *CommissionPayout `json:"payout,omitempty"`
}
