package session_test

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"taxline/internal/derive"
	"taxline/internal/domain"
	"taxline/internal/reconcile"
	"taxline/internal/session"
)

// fakeAPI is an in-memory transport. Per-method gates let a test hold a
// load open while another pass runs to completion.
type fakeAPI struct {
	mu         sync.Mutex
	client     domain.Client
	agreements []domain.Agreement
	todos      map[string][]domain.Todo
	documents  map[string][]domain.Document
	compliance []domain.ComplianceLink

	todoGate     map[string]chan struct{}
	acceptGate   chan struct{}
	chargesErr   error
	statusWrites []string
}

func newFakeAPI(client domain.Client, agreements ...domain.Agreement) *fakeAPI {
	return &fakeAPI{
		client:     client,
		agreements: agreements,
		todos:      map[string][]domain.Todo{},
		documents:  map[string][]domain.Document{},
		todoGate:   map[string]chan struct{}{},
	}
}

func (f *fakeAPI) GetClient(ctx context.Context, clientID string) (domain.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.client, nil
}

func (f *fakeAPI) ListAgreements(ctx context.Context, clientID string) ([]domain.Agreement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Agreement(nil), f.agreements...), nil
}

func (f *fakeAPI) ListTodos(ctx context.Context, agreementID string) ([]domain.Todo, error) {
	f.mu.Lock()
	gate := f.todoGate[agreementID]
	todos := append([]domain.Todo(nil), f.todos[agreementID]...)
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return todos, nil
}

func (f *fakeAPI) ListDocuments(ctx context.Context, agreementID string) ([]domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Document(nil), f.documents[agreementID]...), nil
}

func (f *fakeAPI) ListComplianceLinks(ctx context.Context, clientID string) ([]domain.ComplianceLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ComplianceLink(nil), f.compliance...), nil
}

func (f *fakeAPI) UpdateAgreementStatus(ctx context.Context, agreementID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusWrites = append(f.statusWrites, agreementID+":"+status)
	for i := range f.agreements {
		if f.agreements[i].ID == agreementID {
			f.agreements[i].Status = status
			return nil
		}
	}
	return errors.New("agreement not found")
}

func (f *fakeAPI) UpdateDocumentAcceptance(ctx context.Context, documentID, status string) error {
	f.mu.Lock()
	gate := f.acceptGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for agID, docs := range f.documents {
		for i := range docs {
			if docs[i].ID == documentID {
				f.documents[agID][i].AcceptanceStatus = status
				return nil
			}
		}
	}
	return errors.New("document not found")
}

// fakeSignatures answers envelope polls and counts them.
type fakeSignatures struct {
	mu          sync.Mutex
	status      string
	pollCount   int
	infoErr     error
	signedURL   string
	ceremonyURL string
}

func (f *fakeSignatures) GetEnvelopeStatus(ctx context.Context, agreementID, envelopeID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollCount++
	return f.status, nil
}

func (f *fakeSignatures) GetStrategistSigningInfo(ctx context.Context, agreementID string) (domain.EnvelopeSigningInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.infoErr != nil {
		return domain.EnvelopeSigningInfo{}, f.infoErr
	}
	info := domain.EnvelopeSigningInfo{}
	if f.ceremonyURL != "" {
		url := f.ceremonyURL
		info.StrategistCeremonyURL = &url
	}
	return info, nil
}

func (f *fakeSignatures) GetSignedDocumentURL(ctx context.Context, envelopeID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signedURL, nil
}

// fakeCharges serves a fixed charge list; creation paths are unused here.
type fakeCharges struct {
	api     *fakeAPI
	charges map[string][]domain.Charge
}

func (f *fakeCharges) CreateCharge(ctx context.Context, agreementID string, amount int64, currency, description string) (domain.Charge, error) {
	return domain.Charge{}, errors.New("not supported")
}

func (f *fakeCharges) GeneratePaymentLink(ctx context.Context, chargeID string) (string, error) {
	return "", errors.New("not supported")
}

func (f *fakeCharges) GetChargesForAgreement(ctx context.Context, agreementID string) ([]domain.Charge, error) {
	f.api.mu.Lock()
	defer f.api.mu.Unlock()
	if f.api.chargesErr != nil {
		return nil, f.api.chargesErr
	}
	return append([]domain.Charge(nil), f.charges[agreementID]...), nil
}

func strptr(s string) *string { return &s }

func newController(api *fakeAPI, sigs *fakeSignatures, charges *fakeCharges) *session.Controller {
	logger := log.New(io.Discard, "", 0)
	return session.NewController(
		api,
		reconcile.Signing{Envelopes: sigs, Status: api, Logger: logger},
		reconcile.Payment{Charges: charges, Status: api, Logger: logger},
		logger,
	)
}

func TestInitSelectsMostRecentAgreement(t *testing.T) {
	client := domain.Client{ID: "c1", Name: "Acme Holdings"}
	newer := domain.Agreement{ID: "a2", ClientID: "c1", Status: domain.StatusPendingPayment, EnvelopeID: strptr("env-2")}
	older := domain.Agreement{ID: "a1", ClientID: "c1", Status: domain.StatusCompleted}
	api := newFakeAPI(client, newer, older)
	api.todos["a2"] = []domain.Todo{{ID: "t1", AgreementID: "a2", Title: "Sign the agreement", Category: domain.TodoCategorySignature, Status: domain.TodoCompleted}}
	api.compliance = []domain.ComplianceLink{{ClientID: "c1", ReviewerID: "rev-1", Name: "Compliance One"}}
	sigs := &fakeSignatures{status: "in_progress"}
	charges := &fakeCharges{api: api, charges: map[string][]domain.Charge{
		"a2": {{ID: "ch1", AgreementID: "a2", Status: domain.ChargePending, Amount: 250000, Currency: "usd"}},
	}}
	ctrl := newController(api, sigs, charges)

	if err := ctrl.Init(context.Background(), "c1"); err != nil {
		t.Fatalf("init: %v", err)
	}
	st := ctrl.Snapshot()
	if st.Loading {
		t.Fatal("expected loading to be cleared")
	}
	if st.Selected == nil || st.Selected.ID != "a2" {
		t.Fatalf("expected most recent agreement selected, got %+v", st.Selected)
	}
	if len(st.Agreements) != 2 {
		t.Fatalf("expected 2 agreements, got %d", len(st.Agreements))
	}
	if st.Client.Name != "Acme Holdings" {
		t.Fatalf("client not loaded: %+v", st.Client)
	}
	if len(st.Todos) != 1 || len(st.Compliance) != 1 {
		t.Fatalf("dependent sections not loaded: todos=%d compliance=%d", len(st.Todos), len(st.Compliance))
	}
	if st.ActiveCharge == nil || st.ActiveCharge.ID != "ch1" {
		t.Fatalf("expected pending charge active, got %+v", st.ActiveCharge)
	}
	if st.PaymentReceived {
		t.Fatal("no charge is paid")
	}
	if st.StatusKey != derive.KeyAwaitingPayment {
		t.Fatalf("status key = %q, want %q", st.StatusKey, derive.KeyAwaitingPayment)
	}
	if st.WorkflowGroup != derive.GroupWaitingOnClient {
		t.Fatalf("workflow group = %q, want %q", st.WorkflowGroup, derive.GroupWaitingOnClient)
	}
	if len(st.Errors) != 0 {
		t.Fatalf("unexpected section errors: %v", st.Errors)
	}
}

func TestSelectUnknownAgreementFallsBack(t *testing.T) {
	client := domain.Client{ID: "c1"}
	newest := domain.Agreement{ID: "a3", ClientID: "c1", Status: domain.StatusDraft}
	api := newFakeAPI(client, newest, domain.Agreement{ID: "a1", ClientID: "c1", Status: domain.StatusCompleted})
	sigs := &fakeSignatures{status: "processing"}
	charges := &fakeCharges{api: api, charges: map[string][]domain.Charge{}}
	ctrl := newController(api, sigs, charges)

	if err := ctrl.Init(context.Background(), "c1"); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := ctrl.SelectAgreement(context.Background(), "deleted-elsewhere"); err != nil {
		t.Fatalf("select: %v", err)
	}
	st := ctrl.Snapshot()
	if st.Selected == nil || st.Selected.ID != "a3" {
		t.Fatalf("expected fallback to most recent agreement, got %+v", st.Selected)
	}
}

func TestStaleLoadNeverCommits(t *testing.T) {
	client := domain.Client{ID: "c1"}
	agA := domain.Agreement{ID: "a-slow", ClientID: "c1", Status: domain.StatusPendingTodosCompletion}
	agB := domain.Agreement{ID: "b-fast", ClientID: "c1", Status: domain.StatusPendingStrategy}
	api := newFakeAPI(client, agA, agB)
	api.todos["a-slow"] = []domain.Todo{{ID: "ta", AgreementID: "a-slow", Title: "Upload W-2", Category: domain.TodoCategoryDocument, Status: domain.TodoPending}}
	api.todos["b-fast"] = []domain.Todo{{ID: "tb", AgreementID: "b-fast", Title: "Upload K-1", Category: domain.TodoCategoryDocument, Status: domain.TodoCompleted}}
	gate := make(chan struct{})
	api.todoGate["a-slow"] = gate
	sigs := &fakeSignatures{status: "processing"}
	charges := &fakeCharges{api: api, charges: map[string][]domain.Charge{}}
	ctrl := newController(api, sigs, charges)

	done := make(chan error, 1)
	go func() { done <- ctrl.SelectAgreement(context.Background(), "a-slow") }()

	// Give the slow pass time to park inside its todos load, then switch.
	time.Sleep(20 * time.Millisecond)
	if err := ctrl.SelectAgreement(context.Background(), "b-fast"); err != nil {
		t.Fatalf("select b: %v", err)
	}
	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("select a: %v", err)
	}

	st := ctrl.Snapshot()
	if st.Selected == nil || st.Selected.ID != "b-fast" {
		t.Fatalf("selection = %+v, want b-fast", st.Selected)
	}
	if len(st.Todos) != 1 || st.Todos[0].ID != "tb" {
		t.Fatalf("stale todos leaked into state: %+v", st.Todos)
	}
}

func TestSectionFailureDoesNotBlockOthers(t *testing.T) {
	client := domain.Client{ID: "c1"}
	ag := domain.Agreement{ID: "a1", ClientID: "c1", Status: domain.StatusPendingTodosCompletion}
	api := newFakeAPI(client, ag)
	api.todos["a1"] = []domain.Todo{{ID: "t1", AgreementID: "a1", Title: "Upload 1099", Category: domain.TodoCategoryDocument, Status: domain.TodoPending}}
	api.chargesErr = errors.New("billing host unreachable")
	sigs := &fakeSignatures{status: "processing"}
	charges := &fakeCharges{api: api}
	ctrl := newController(api, sigs, charges)

	if err := ctrl.Init(context.Background(), "c1"); err != nil {
		t.Fatalf("init: %v", err)
	}
	st := ctrl.Snapshot()
	if st.Errors[session.SectionCharges] == "" {
		t.Fatal("expected charges section error")
	}
	if len(st.Todos) != 1 {
		t.Fatalf("todos should load despite charges failure, got %d", len(st.Todos))
	}
	// Payment state falls back to what the agreement status implies.
	if !st.PaymentReceived {
		t.Fatal("status past payment should imply payment received")
	}
	if st.StatusKey != derive.KeyAwaitingDocuments {
		t.Fatalf("status key = %q, want %q", st.StatusKey, derive.KeyAwaitingDocuments)
	}
}

func TestPaidChargeAdvancesAndReloads(t *testing.T) {
	client := domain.Client{ID: "c1"}
	ag := domain.Agreement{ID: "a1", ClientID: "c1", Status: domain.StatusPendingPayment, EnvelopeID: strptr("env-1")}
	api := newFakeAPI(client, ag)
	sigs := &fakeSignatures{status: "completed"}
	charges := &fakeCharges{api: api, charges: map[string][]domain.Charge{
		"a1": {{ID: "ch1", AgreementID: "a1", Status: domain.ChargePaid, Amount: 250000, Currency: "usd"}},
	}}
	ctrl := newController(api, sigs, charges)

	if err := ctrl.Init(context.Background(), "c1"); err != nil {
		t.Fatalf("init: %v", err)
	}
	st := ctrl.Snapshot()
	if st.Selected.Status != domain.StatusPendingTodosCompletion {
		t.Fatalf("agreement status = %q, want advance to %q", st.Selected.Status, domain.StatusPendingTodosCompletion)
	}
	if !st.PaymentReceived {
		t.Fatal("expected payment received")
	}
	if st.StatusKey != derive.KeyReadyForStrategy {
		t.Fatalf("status key = %q, want %q (no document todos)", st.StatusKey, derive.KeyReadyForStrategy)
	}
}

func TestEnvelopePolledOncePerSession(t *testing.T) {
	client := domain.Client{ID: "c1"}
	ag := domain.Agreement{ID: "a1", ClientID: "c1", Status: domain.StatusPendingStrategy, EnvelopeID: strptr("env-1")}
	api := newFakeAPI(client, ag)
	sigs := &fakeSignatures{status: "completed"}
	charges := &fakeCharges{api: api, charges: map[string][]domain.Charge{}}
	ctrl := newController(api, sigs, charges)

	ctx := context.Background()
	if err := ctrl.Init(ctx, "c1"); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := ctrl.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if err := ctrl.SelectAgreement(ctx, "a1"); err != nil {
		t.Fatalf("select: %v", err)
	}
	sigs.mu.Lock()
	polls := sigs.pollCount
	sigs.mu.Unlock()
	if polls != 1 {
		t.Fatalf("envelope polled %d times, want once per session", polls)
	}

	if err := ctrl.Init(ctx, "c1"); err != nil {
		t.Fatalf("second init: %v", err)
	}
	sigs.mu.Lock()
	polls = sigs.pollCount
	sigs.mu.Unlock()
	if polls != 2 {
		t.Fatalf("envelope polled %d times after new session, want 2", polls)
	}
}

func TestAcceptDocumentRejectsConcurrentCall(t *testing.T) {
	client := domain.Client{ID: "c1"}
	ag := domain.Agreement{ID: "a1", ClientID: "c1", Status: domain.StatusPendingTodosCompletion}
	api := newFakeAPI(client, ag)
	api.documents["a1"] = []domain.Document{{ID: "d1", AgreementID: "a1", UploadStatus: domain.UploadComplete, AcceptanceStatus: domain.AcceptancePending}}
	gate := make(chan struct{})
	api.acceptGate = gate
	sigs := &fakeSignatures{status: "processing"}
	charges := &fakeCharges{api: api, charges: map[string][]domain.Charge{}}
	ctrl := newController(api, sigs, charges)

	if err := ctrl.Init(context.Background(), "c1"); err != nil {
		t.Fatalf("init: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- ctrl.AcceptDocument(context.Background(), "d1") }()
	time.Sleep(20 * time.Millisecond)

	if err := ctrl.AcceptDocument(context.Background(), "d1"); !errors.Is(err, session.ErrActionPending) {
		t.Fatalf("second accept err = %v, want ErrActionPending", err)
	}
	api.mu.Lock()
	api.acceptGate = nil
	api.mu.Unlock()
	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("accept: %v", err)
	}
	st := ctrl.Snapshot()
	if got := st.Documents["d1"].AcceptanceStatus; got != domain.AcceptedByStrategist {
		t.Fatalf("document acceptance = %q after reload, want %q", got, domain.AcceptedByStrategist)
	}
}
