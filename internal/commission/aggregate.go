// Package commission derives the per-representative settlement view from
// completed requests and prior payout records. The aggregate is ephemeral:
// recomputed on every query, never persisted.
package commission

import (
	"github.com/shopspring/decimal"

	"confianza-backend/internal/models"
)

var hundred = decimal.NewFromInt(100)

// Aggregate groups completed requests by representative, sums gross budgets,
// applies the platform commission rate, attaches disputes, and marks groups
// already covered by a prior payout.
//
// Output order is the order reps first appear in completed; sorting and
// filtering are presentation concerns. Representatives with zero completed
// requests never appear, even if they have disputes.
func Aggregate(completed, disputed []models.Request, payouts []models.CommissionPayout, ratePct decimal.Decimal) []models.RepCommission {
	groups := make(map[string]*models.RepCommission)
	order := make([]string, 0, len(completed))

	for _, req := range completed {
		if req.RepID == nil {
			continue
		}
		repID := *req.RepID
		group, ok := groups[repID]
		if !ok {
			group = &models.RepCommission{
				RepID:       repID,
				GrossAmount: decimal.Zero,
			}
			if req.RepName != nil {
				group.RepName = *req.RepName
			}
			groups[repID] = group
			order = append(order, repID)
		}
		group.CompletedTasks = append(group.CompletedTasks, req)
		if req.Budget != nil {
			group.GrossAmount = group.GrossAmount.Add(*req.Budget)
		}
	}

	for _, group := range groups {
		group.CommissionAmount = group.GrossAmount.Mul(ratePct).Div(hundred).Round(2)
	}

	// Disputes only attach to reps that already have completed work.
	for _, req := range disputed {
		if req.RepID == nil {
			continue
		}
		if group, ok := groups[*req.RepID]; ok {
			group.DisputedTasks = append(group.DisputedTasks, req)
		}
	}

	for repID, group := range groups {
		for i := range payouts {
			if payouts[i].RepID != repID {
				continue
			}
			if coversAll(payouts[i].TaskIDs, group.CompletedTasks) {
				group.IsPaid = true
				group.Payout = &payouts[i]
				break
			}
		}
	}

	out := make([]models.RepCommission, 0, len(order))
	for _, repID := range order {
		out = append(out, *groups[repID])
	}
	return out
}

// coversAll reports whether every completed task id is present in the payout
// task id set. Coverage is all-or-nothing per payout: a payout covering only
// part of the current batch does not mark the group paid.
func coversAll(payoutTaskIDs []string, completed []models.Request) bool {
	covered := make(map[string]struct{}, len(payoutTaskIDs))
	for _, id := range payoutTaskIDs {
		covered[id] = struct{}{}
	}
	for _, req := range completed {
		if _, ok := covered[req.ID]; !ok {
			return false
		}
	}
	return len(completed) > 0
}
