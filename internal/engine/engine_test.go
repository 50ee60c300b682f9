package engine_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"taxline/internal/config"
	"taxline/internal/db"
	"taxline/internal/domain"
	"taxline/internal/engine"
	"taxline/internal/metadata"
	"taxline/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Client domain.Client
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	c, err := eng.CreateClient(ctx, "Acme Holdings", "cfo@acme.test", "strategist")
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Client: c}
}

// signedAgreement walks an agreement to PENDING_TODOS_COMPLETION.
func signedAgreement(t *testing.T, env testEnv) domain.Agreement {
	t.Helper()
	a, err := env.Engine.CreateAgreement(env.Ctx, env.Client.ID, "FY25 engagement", "strategist")
	if err != nil {
		t.Fatalf("create agreement: %v", err)
	}
	a, err = env.Engine.SendAgreement(env.Ctx, a.ID, "env-1", 250000, "strategist")
	if err != nil {
		t.Fatalf("send agreement: %v", err)
	}
	a, err = env.Engine.UpdateAgreementStatus(env.Ctx, a.ID, domain.StatusPendingPayment, "reconciler")
	if err != nil {
		t.Fatalf("to pending payment: %v", err)
	}
	a, err = env.Engine.UpdateAgreementStatus(env.Ctx, a.ID, domain.StatusPendingTodosCompletion, "reconciler")
	if err != nil {
		t.Fatalf("to pending todos: %v", err)
	}
	return a
}

func TestAgreementStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.CreateAgreement(env.Ctx, env.Client.ID, "", "strategist")
	if err != nil {
		t.Fatalf("create agreement: %v", err)
	}
	if a.Status != domain.StatusDraft {
		t.Fatalf("new agreement should be DRAFT, got %s", a.Status)
	}
	// direct jump must be rejected
	if _, err := env.Engine.UpdateAgreementStatus(env.Ctx, a.ID, domain.StatusCompleted, "strategist"); err == nil {
		t.Fatal("expected transition error for DRAFT -> COMPLETED")
	}
	if _, err := env.Engine.UpdateAgreementStatus(env.Ctx, a.ID, domain.StatusPendingPayment, "strategist"); err == nil {
		t.Fatal("expected transition error for DRAFT -> PENDING_PAYMENT")
	}
	a, err = env.Engine.SendAgreement(env.Ctx, a.ID, "env-7", 0, "strategist")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if a.Status != domain.StatusPendingSignature {
		t.Fatalf("expected PENDING_SIGNATURE, got %s", a.Status)
	}
	if a.EnvelopeID == nil || *a.EnvelopeID != "env-7" {
		t.Fatalf("envelope not recorded: %+v", a.EnvelopeID)
	}
	meta := metadata.Extract(a.Description)
	if meta == nil || meta.EnvelopeID != "env-7" || meta.Price == nil {
		t.Fatalf("metadata not embedded: %+v", meta)
	}
	// zero price falls back to the billing default
	if *meta.Price != env.Engine.Config.Billing.DefaultPrice {
		t.Fatalf("price = %d, want default", *meta.Price)
	}
	// cancel from a non-terminal state
	a, err = env.Engine.CancelAgreement(env.Ctx, a.ID, "strategist")
	if err != nil || a.Status != domain.StatusCancelled {
		t.Fatalf("cancel: %v (%s)", err, a.Status)
	}
	if _, err := env.Engine.CancelAgreement(env.Ctx, a.ID, "strategist"); err == nil {
		t.Fatal("expected cancel of cancelled agreement to fail")
	}
}

func TestAdvanceToStrategyGatedOnDocuments(t *testing.T) {
	env := newTestEnv(t)
	a := signedAgreement(t, env)
	todo, err := env.Engine.RequestDocument(env.Ctx, a.ID, "Prior year return", "strategist")
	if err != nil {
		t.Fatalf("request document: %v", err)
	}
	if _, err := env.Engine.AdvanceToStrategy(env.Ctx, a.ID, "strategist"); err == nil {
		t.Fatal("expected gate while document unaccepted")
	}
	if _, err := env.Engine.MarkDocumentUploaded(env.Ctx, *todo.DocumentID, "", "client"); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if _, err := env.Engine.AdvanceToStrategy(env.Ctx, a.ID, "strategist"); err == nil {
		t.Fatal("uploaded but unaccepted document must still gate")
	}
	if _, err := env.Engine.UpdateDocumentAcceptance(env.Ctx, *todo.DocumentID, domain.AcceptedByStrategist, "strategist"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	a, err = env.Engine.AdvanceToStrategy(env.Ctx, a.ID, "strategist")
	if err != nil || a.Status != domain.StatusPendingStrategy {
		t.Fatalf("advance: %v (%s)", err, a.Status)
	}
}

func TestAdvanceToStrategyWithNoDocuments(t *testing.T) {
	env := newTestEnv(t)
	a := signedAgreement(t, env)
	// nothing requested counts as satisfied
	a, err := env.Engine.AdvanceToStrategy(env.Ctx, a.ID, "strategist")
	if err != nil || a.Status != domain.StatusPendingStrategy {
		t.Fatalf("advance with zero document todos: %v (%s)", err, a.Status)
	}
}

func TestStrategyReviewLoop(t *testing.T) {
	env := newTestEnv(t)
	a := signedAgreement(t, env)
	if _, err := env.Engine.AdvanceToStrategy(env.Ctx, a.ID, "strategist"); err != nil {
		t.Fatalf("advance: %v", err)
	}
	doc, err := env.Engine.SendStrategy(env.Ctx, a.ID, "Strategy v1", "strategist")
	if err != nil {
		t.Fatalf("send strategy: %v", err)
	}
	a, err = env.Engine.Repo.GetAgreement(env.Ctx, a.ID)
	if err != nil || a.Status != domain.StatusPendingStrategyReview {
		t.Fatalf("expected review status: %v (%s)", err, a.Status)
	}
	// finalize blocked until both approvals
	if _, err := env.Engine.FinalizeAgreement(env.Ctx, a.ID, "strategist"); err == nil {
		t.Fatal("expected finalize gate before approvals")
	}
	if _, err := env.Engine.UpdateDocumentAcceptance(env.Ctx, doc.ID, domain.RejectedByCompliance, "compliance"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	// rejection never reverts the top-level status
	a, _ = env.Engine.Repo.GetAgreement(env.Ctx, a.ID)
	if a.Status != domain.StatusPendingStrategyReview {
		t.Fatalf("rejection must not change status, got %s", a.Status)
	}
	// revision resets the sub-phase via a fresh pending document
	rev, err := env.Engine.SendStrategy(env.Ctx, a.ID, "Strategy v2", "strategist")
	if err != nil {
		t.Fatalf("revise: %v", err)
	}
	a, _ = env.Engine.Repo.GetAgreement(env.Ctx, a.ID)
	meta := metadata.Extract(a.Description)
	if meta == nil || meta.StrategyDocumentID != rev.ID {
		t.Fatalf("metadata should point at the revision: %+v", meta)
	}
	if _, err := env.Engine.FinalizeAgreement(env.Ctx, a.ID, "strategist"); err == nil {
		t.Fatal("finalize must be gated after revision")
	}
	if _, err := env.Engine.UpdateDocumentAcceptance(env.Ctx, rev.ID, domain.AcceptedByClient, "client"); err != nil {
		t.Fatalf("client accept: %v", err)
	}
	a, err = env.Engine.FinalizeAgreement(env.Ctx, a.ID, "strategist")
	if err != nil || a.Status != domain.StatusCompleted {
		t.Fatalf("finalize: %v (%s)", err, a.Status)
	}
}

func TestChargeLifecycle(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.CreateAgreement(env.Ctx, env.Client.ID, "", "strategist")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateCharge(env.Ctx, a.ID, 1000, "", "", "strategist"); err == nil {
		t.Fatal("charging an unsigned agreement must fail")
	}
	a, _ = env.Engine.SendAgreement(env.Ctx, a.ID, "env-2", 1000, "strategist")
	a, _ = env.Engine.UpdateAgreementStatus(env.Ctx, a.ID, domain.StatusPendingPayment, "reconciler")
	c, err := env.Engine.CreateCharge(env.Ctx, a.ID, 1000, "", "FY25 retainer", "strategist")
	if err != nil {
		t.Fatalf("create charge: %v", err)
	}
	if c.Currency != env.Engine.Config.Billing.Currency {
		t.Fatalf("currency default not applied: %s", c.Currency)
	}
	link, err := env.Engine.GeneratePaymentLink(env.Ctx, c.ID, "strategist")
	if err != nil || !strings.Contains(link, c.ID) {
		t.Fatalf("payment link: %v %q", err, link)
	}
	again, err := env.Engine.GeneratePaymentLink(env.Ctx, c.ID, "strategist")
	if err != nil || again != link {
		t.Fatalf("link should be stable: %v %q", err, again)
	}
	c, err = env.Engine.MarkChargePaid(env.Ctx, c.ID, "provider")
	if err != nil || c.Status != domain.ChargePaid {
		t.Fatalf("mark paid: %v (%s)", err, c.Status)
	}
	// idempotent
	if _, err := env.Engine.MarkChargePaid(env.Ctx, c.ID, "provider"); err != nil {
		t.Fatalf("repeat mark paid: %v", err)
	}
	if _, err := env.Engine.GeneratePaymentLink(env.Ctx, c.ID, "strategist"); err == nil {
		t.Fatal("paid charges should not get new links")
	}
}

func TestEventAppendOnStateChanges(t *testing.T) {
	env := newTestEnv(t)
	a := signedAgreement(t, env)
	evts, err := env.Engine.Repo.EventsAfter(env.Ctx, 0, 0, a.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) < 3 {
		t.Fatalf("expected created+sent+status events, got %d", len(evts))
	}
}
