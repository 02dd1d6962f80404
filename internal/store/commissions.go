package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"confianza-backend/internal/models"
)

// ErrTaskAlreadySettled is returned when a payout would cover a task id that
// a prior payout already covers.
var ErrTaskAlreadySettled = errors.New("task already covered by a prior payout")

// CreatePayoutParams collects inputs for recording one settlement event.
type CreatePayoutParams struct {
	RepID   string
	RepName string
	Amount  decimal.Decimal
	RatePct decimal.Decimal
	TaskIDs []string
}

// CreatePayout records a settlement as one payout row plus one coverage row
// per task id. The unique index on coverage task ids rejects double payouts,
// including concurrent duplicate settlement clicks for the same batch.
func (s *Store) CreatePayout(ctx context.Context, p CreatePayoutParams) (models.CommissionPayout, error) {
	if len(p.TaskIDs) == 0 {
		return models.CommissionPayout{}, errors.New("payout requires at least one task id")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.CommissionPayout{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	id := uuid.New().String()
	now := time.Now().UTC()

	_, err = tx.Exec(ctx, `
		INSERT INTO commission_payouts (id, rep_id, rep_name, amount, rate_percent, status, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, p.RepID, p.RepName, p.Amount.String(), p.RatePct.String(), models.PayoutPaid, now)
	if err != nil {
		return models.CommissionPayout{}, fmt.Errorf("insert payout: %w", err)
	}

	for _, taskID := range p.TaskIDs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO commission_payout_tasks (payout_id, task_id)
			VALUES ($1, $2)
		`, id, taskID); err != nil {
			if isUniqueViolation(err) {
				return models.CommissionPayout{}, fmt.Errorf("task %s: %w", taskID, ErrTaskAlreadySettled)
			}
			return models.CommissionPayout{}, fmt.Errorf("insert payout task: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return models.CommissionPayout{}, fmt.Errorf("commit: %w", err)
	}

	return models.CommissionPayout{
		ID:      id,
		RepID:   p.RepID,
		RepName: p.RepName,
		Amount:  p.Amount,
		RatePct: p.RatePct,
		TaskIDs: p.TaskIDs,
		Status:  models.PayoutPaid,
		PaidAt:  now,
	}, nil
}

// ListPayouts returns all payout records with their covered task ids, oldest
// first.
func (s *Store) ListPayouts(ctx context.Context) ([]models.CommissionPayout, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.rep_id, p.rep_name, p.amount::text, p.rate_percent::text, p.status, p.paid_at,
		       COALESCE(array_agg(t.task_id) FILTER (WHERE t.task_id IS NOT NULL), '{}')
		FROM commission_payouts p
		LEFT JOIN commission_payout_tasks t ON t.payout_id = p.id
		GROUP BY p.id
		ORDER BY p.paid_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query payouts: %w", err)
	}
	defer rows.Close()

	var out []models.CommissionPayout
	for rows.Next() {
		var (
			payout       models.CommissionPayout
			amount, rate string
		)
		if err := rows.Scan(&payout.ID, &payout.RepID, &payout.RepName, &amount, &rate, &payout.Status, &payout.PaidAt, &payout.TaskIDs); err != nil {
			return nil, fmt.Errorf("scan payout: %w", err)
		}
		if payout.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse payout amount: %w", err)
		}
		if payout.RatePct, err = decimal.NewFromString(rate); err != nil {
			return nil, fmt.Errorf("parse payout rate: %w", err)
		}
		out = append(out, payout)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
