package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"confianza-backend/internal/models"
)

func TestReleasePaymentCreatesPayout(t *testing.T) {
	st := newFakeStore()
	st.requests["t1"] = completedRequest("t1", "rep1", "Ana")
	s := newTestServer(st, &fakePayments{}, nil, nil)

	rec := post(t, s, "/admin/commissions/release", `{
		"rep_id": "rep1", "rep_name": "Ana",
		"task_ids": ["t1"], "amount": 750
	}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(st.payouts) != 1 {
		t.Fatalf("payouts = %d, want 1", len(st.payouts))
	}
	payout := st.payouts[0]
	if payout.Status != models.PayoutPaid {
		t.Fatalf("payout status = %q", payout.Status)
	}
	if payout.Amount.String() != "750" || payout.RatePct.String() != "15" {
		t.Fatalf("payout amount/rate = %s/%s", payout.Amount, payout.RatePct)
	}
}

func TestReleasePaymentBlockedByDispute(t *testing.T) {
	st := newFakeStore()
	st.requests["t1"] = completedRequest("t1", "rep1", "Ana")
	disputed := completedRequest("t2", "rep1", "Ana")
	disputed.Status = models.StatusDisputed
	st.requests["t2"] = disputed

	s := newTestServer(st, &fakePayments{}, nil, nil)
	rec := post(t, s, "/admin/commissions/release", `{
		"rep_id": "rep1", "rep_name": "Ana",
		"task_ids": ["t1"], "amount": 750
	}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if len(st.payouts) != 0 {
		t.Fatal("payout must not be created while a dispute is open")
	}
}

func TestReleasePaymentRejectsDoubleSettlement(t *testing.T) {
	st := newFakeStore()
	st.requests["t1"] = completedRequest("t1", "rep1", "Ana")
	s := newTestServer(st, &fakePayments{}, nil, nil)

	body := `{"rep_id": "rep1", "rep_name": "Ana", "task_ids": ["t1"], "amount": 750}`
	if rec := post(t, s, "/admin/commissions/release", body); rec.Code != http.StatusCreated {
		t.Fatalf("first release status = %d", rec.Code)
	}
	rec := post(t, s, "/admin/commissions/release", body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second release status = %d, want 409", rec.Code)
	}
	if len(st.payouts) != 1 {
		t.Fatalf("payouts = %d, want 1", len(st.payouts))
	}
}

func TestReleasePaymentValidation(t *testing.T) {
	s := newTestServer(newFakeStore(), &fakePayments{}, nil, nil)
	rec := post(t, s, "/admin/commissions/release", `{"rep_id": "rep1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCommissionsView(t *testing.T) {
	st := newFakeStore()
	st.requests["t1"] = completedRequest("t1", "rep1", "Ana")
	s := newTestServer(st, &fakePayments{}, nil, nil)

	rec := get(t, s, "/admin/commissions")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var payload struct {
		Reps []struct {
			RepID            string `json:"rep_id"`
			GrossAmount      string `json:"gross_amount"`
			CommissionAmount string `json:"commission_amount"`
			IsPaid           bool   `json:"is_paid"`
		} `json:"reps"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Reps) != 1 {
		t.Fatalf("reps = %d, want 1", len(payload.Reps))
	}
	rep := payload.Reps[0]
	if rep.RepID != "rep1" || rep.IsPaid {
		t.Fatalf("unexpected rep: %+v", rep)
	}
	// $5000 at 15% commission.
	if !strings.HasPrefix(rep.CommissionAmount, "750") {
		t.Fatalf("commission = %s, want 750", rep.CommissionAmount)
	}
}

func TestCommissionsViewMarksPaidBatches(t *testing.T) {
	st := newFakeStore()
	st.requests["t1"] = completedRequest("t1", "rep1", "Ana")
	s := newTestServer(st, &fakePayments{}, nil, nil)

	if rec := post(t, s, "/admin/commissions/release", `{
		"rep_id": "rep1", "rep_name": "Ana", "task_ids": ["t1"], "amount": 750
	}`); rec.Code != http.StatusCreated {
		t.Fatalf("release status = %d", rec.Code)
	}

	rec := get(t, s, "/admin/commissions")
	var payload struct {
		Reps []struct {
			IsPaid bool `json:"is_paid"`
		} `json:"reps"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Reps) != 1 || !payload.Reps[0].IsPaid {
		t.Fatalf("expected settled batch marked paid: %+v", payload.Reps)
	}
}
