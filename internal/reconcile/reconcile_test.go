package reconcile

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"taxline/internal/domain"
	"taxline/internal/providers"
)

type statusRecorder struct {
	calls []string
	err   error
}

func (r *statusRecorder) UpdateAgreementStatus(_ context.Context, agreementID, status string) error {
	r.calls = append(r.calls, agreementID+":"+status)
	return r.err
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func agreementWithEnvelope(status, envelopeID string) domain.Agreement {
	ag := domain.Agreement{ID: "ag-1", ClientID: "cl-1", Status: status}
	if envelopeID != "" {
		ag.EnvelopeID = &envelopeID
	}
	return ag
}

func TestCheckEnvelopeAdvancesOnCompletion(t *testing.T) {
	ctx := context.Background()
	sigs := providers.NewMemorySignatures()
	envID := sigs.CreateEnvelope("ag-1")
	rec := &statusRecorder{}
	s := Signing{Envelopes: sigs, Status: rec, Logger: quietLogger()}

	ag := agreementWithEnvelope(domain.StatusPendingSignature, envID)
	reload, err := s.CheckEnvelope(ctx, ag)
	if err != nil || reload {
		t.Fatalf("incomplete envelope should be a no-op: %v %v", reload, err)
	}
	if err := sigs.Sign(envID, true); err != nil {
		t.Fatal(err)
	}
	if err := sigs.Sign(envID, false); err != nil {
		t.Fatal(err)
	}
	reload, err = s.CheckEnvelope(ctx, ag)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !reload {
		t.Fatal("completed envelope should request a reload")
	}
	if len(rec.calls) != 1 || rec.calls[0] != "ag-1:"+domain.StatusPendingPayment {
		t.Fatalf("expected one advance to PENDING_PAYMENT, got %v", rec.calls)
	}
	// already-signed local state does not re-advance
	ag.Status = domain.StatusPendingPayment
	reload, err = s.CheckEnvelope(ctx, ag)
	if err != nil || reload {
		t.Fatalf("signed state should not reload: %v %v", reload, err)
	}
}

func TestCheckEnvelopeNoEnvelope(t *testing.T) {
	s := Signing{Envelopes: providers.NewMemorySignatures(), Logger: quietLogger()}
	reload, err := s.CheckEnvelope(context.Background(), domain.Agreement{ID: "ag-2", Status: domain.StatusDraft})
	if err != nil || reload {
		t.Fatalf("agreements without envelope are skipped: %v %v", reload, err)
	}
}

func TestSigningInfoFallbackURL(t *testing.T) {
	ctx := context.Background()
	sigs := providers.NewMemorySignatures()
	envID := sigs.CreateEnvelope("ag-1")
	_ = sigs.Sign(envID, true)
	_ = sigs.Sign(envID, false)
	s := Signing{Envelopes: sigs, Logger: quietLogger()}

	ag := agreementWithEnvelope(domain.StatusPendingPayment, envID)
	info, err := s.SigningInfo(ctx, ag)
	if err != nil {
		t.Fatalf("signing info: %v", err)
	}
	if !info.StrategistHasSigned || !info.ClientHasSigned {
		t.Fatalf("expected both signed: %+v", info)
	}
	if info.SignedDocumentURL == nil || *info.SignedDocumentURL == "" {
		t.Fatal("expected signed document url")
	}

	// provider has no record for this agreement id: unsigned agreements
	// surface the error, signed ones fall back to the envelope lookup
	orphan := agreementWithEnvelope(domain.StatusPendingSignature, envID)
	orphan.ID = "ag-unknown"
	if _, err := s.SigningInfo(ctx, orphan); err == nil {
		t.Fatal("expected error for unsigned agreement with failing info call")
	}
	orphan.Status = domain.StatusPendingTodosCompletion
	info, err = s.SigningInfo(ctx, orphan)
	if err != nil {
		t.Fatalf("fallback should swallow the info error: %v", err)
	}
	if info.SignedDocumentURL == nil {
		t.Fatal("fallback should recover the signed url by envelope id")
	}
}

func TestPaymentReconcileAdvances(t *testing.T) {
	ctx := context.Background()
	pays := providers.NewMemoryPayments()
	c, err := pays.CreateCharge(ctx, "ag-1", 250000, "usd", "retainer")
	if err != nil {
		t.Fatal(err)
	}
	rec := &statusRecorder{}
	p := Payment{Charges: pays, Status: rec, Logger: quietLogger()}

	ag := domain.Agreement{ID: "ag-1", Status: domain.StatusPendingPayment}
	st, err := p.Reconcile(ctx, ag)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if st.Paid || st.ReloadNeeded {
		t.Fatalf("pending charge should not advance: %+v", st)
	}
	if st.Active == nil || st.Active.ID != c.ID {
		t.Fatalf("first pending charge should be active: %+v", st.Active)
	}

	if err := pays.MarkPaid(c.ID); err != nil {
		t.Fatal(err)
	}
	st, err = p.Reconcile(ctx, ag)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !st.Paid || !st.ReloadNeeded {
		t.Fatalf("paid charge in PENDING_PAYMENT must advance: %+v", st)
	}
	if len(rec.calls) != 1 || rec.calls[0] != "ag-1:"+domain.StatusPendingTodosCompletion {
		t.Fatalf("expected advance to PENDING_TODOS_COMPLETION, got %v", rec.calls)
	}
	// paid charge with no pending sibling is still displayed
	if st.Active == nil || st.Active.ID != c.ID {
		t.Fatalf("first charge should be active when none pending: %+v", st.Active)
	}
}

func TestPaymentReconcileAdvanceFailureIsLoggedNotRaised(t *testing.T) {
	ctx := context.Background()
	pays := providers.NewMemoryPayments()
	c, _ := pays.CreateCharge(ctx, "ag-1", 100, "usd", "")
	_ = pays.MarkPaid(c.ID)
	rec := &statusRecorder{err: errors.New("boom")}
	p := Payment{Charges: pays, Status: rec, Logger: quietLogger()}
	st, err := p.Reconcile(ctx, domain.Agreement{ID: "ag-1", Status: domain.StatusPendingPayment})
	if err != nil {
		t.Fatalf("advance failure must not surface: %v", err)
	}
	if !st.ReloadNeeded {
		t.Fatal("reload still requested after failed advance")
	}
}

func TestPaymentReconcileAlreadyPaidStatus(t *testing.T) {
	ctx := context.Background()
	pays := providers.NewMemoryPayments()
	c, _ := pays.CreateCharge(ctx, "ag-1", 100, "usd", "")
	_ = pays.MarkPaid(c.ID)
	rec := &statusRecorder{}
	p := Payment{Charges: pays, Status: rec, Logger: quietLogger()}
	st, err := p.Reconcile(ctx, domain.Agreement{ID: "ag-1", Status: domain.StatusPendingTodosCompletion})
	if err != nil {
		t.Fatal(err)
	}
	if st.ReloadNeeded || len(rec.calls) != 0 {
		t.Fatalf("no advance once the status already reflects payment: %+v %v", st, rec.calls)
	}
	if !st.Paid {
		t.Fatal("paid flag should still be set")
	}
}
