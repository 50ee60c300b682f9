package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taxline/internal/config"
	"taxline/internal/derive"
	"taxline/internal/domain"
	"taxline/internal/events"
	"taxline/internal/metadata"
	"taxline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) CreateClient(ctx context.Context, name, email, actorID string) (domain.Client, error) {
	if name == "" {
		return domain.Client{}, errors.New("name is required")
	}
	c := domain.Client{
		ID:        uuid.New().String(),
		Name:      name,
		Email:     email,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertClient(ctx, c); err != nil {
		return domain.Client{}, fmt.Errorf("insert client: %w", err)
	}
	return c, nil
}

func (e Engine) LinkComplianceReviewer(ctx context.Context, clientID, reviewerID, name, actorID string) (domain.ComplianceLink, error) {
	if reviewerID == "" {
		return domain.ComplianceLink{}, errors.New("reviewer is required")
	}
	if _, err := e.Repo.GetClient(ctx, clientID); err != nil {
		return domain.ComplianceLink{}, err
	}
	l := domain.ComplianceLink{
		ClientID:   clientID,
		ReviewerID: reviewerID,
		Name:       name,
		CreatedAt:  e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return l, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertComplianceLinkTx(ctx, tx, l); err != nil {
		return l, err
	}
	if err := e.Events.Append(ctx, tx, "compliance.linked", "", "client", clientID, actorID, events.EventPayload{"reviewer_id": reviewerID}); err != nil {
		return l, err
	}
	return l, tx.Commit()
}

// CreateAgreement creates a new agreement in DRAFT.
func (e Engine) CreateAgreement(ctx context.Context, clientID, description, actorID string) (domain.Agreement, error) {
	if clientID == "" {
		return domain.Agreement{}, errors.New("client is required")
	}
	if _, err := e.Repo.GetClient(ctx, clientID); err != nil {
		return domain.Agreement{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	a := domain.Agreement{
		ID:          uuid.New().String(),
		ClientID:    clientID,
		Status:      domain.StatusDraft,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAgreementTx(ctx, tx, a); err != nil {
		return a, fmt.Errorf("insert agreement: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "agreement.created", a.ID, "agreement", a.ID, actorID, events.EventPayload{"status": a.Status}); err != nil {
		return a, err
	}
	return a, tx.Commit()
}

func ensureAgreementTransition(oldStatus, newStatus string) error {
	if !domain.ValidStatus(newStatus) {
		return fmt.Errorf("unknown agreement status %s", newStatus)
	}
	if !domain.CanTransition(oldStatus, newStatus) {
		return fmt.Errorf("invalid agreement status transition %s -> %s", oldStatus, newStatus)
	}
	return nil
}

// UpdateAgreementStatus moves an agreement along a legal edge. Every
// caller, including the reconcilers' auto-advance, goes through here.
func (e Engine) UpdateAgreementStatus(ctx context.Context, id, status, actorID string) (domain.Agreement, error) {
	a, err := e.Repo.GetAgreement(ctx, id)
	if err != nil {
		return a, err
	}
	if err := ensureAgreementTransition(a.Status, status); err != nil {
		return a, err
	}
	from := a.Status
	a.Status = status
	a.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateAgreementTx(ctx, tx, a); err != nil {
		return a, err
	}
	if err := e.Events.Append(ctx, tx, "agreement.status", a.ID, "agreement", a.ID, actorID, events.EventPayload{
		"from_status": from,
		"to_status":   status,
	}); err != nil {
		return a, err
	}
	return a, tx.Commit()
}

// SendAgreement moves a draft to PENDING_SIGNATURE, records the envelope
// and embeds the agreed price into the description metadata.
func (e Engine) SendAgreement(ctx context.Context, id, envelopeID string, price int64, actorID string) (domain.Agreement, error) {
	a, err := e.Repo.GetAgreement(ctx, id)
	if err != nil {
		return a, err
	}
	if err := ensureAgreementTransition(a.Status, domain.StatusPendingSignature); err != nil {
		return a, err
	}
	if envelopeID == "" {
		return a, errors.New("envelope is required")
	}
	if price <= 0 {
		price = e.Config.Billing.DefaultPrice
	}
	now := e.now().UTC().Format(time.RFC3339)
	a.Status = domain.StatusPendingSignature
	a.EnvelopeID = &envelopeID
	a.Description = metadata.Embed(a.Description, metadata.StrategyMetadata{
		Price:      &price,
		EnvelopeID: envelopeID,
		SentAt:     now,
	})
	a.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateAgreementTx(ctx, tx, a); err != nil {
		return a, err
	}
	signTodo := domain.Todo{
		ID:          uuid.New().String(),
		AgreementID: a.ID,
		Title:       "Sign the agreement",
		Category:    domain.TodoCategorySignature,
		Status:      domain.TodoPending,
		CreatedAt:   now,
	}
	if err := e.Repo.InsertTodoTx(ctx, tx, signTodo); err != nil {
		return a, err
	}
	if err := e.Events.Append(ctx, tx, "agreement.sent", a.ID, "agreement", a.ID, actorID, events.EventPayload{
		"envelope_id": envelopeID,
		"price":       price,
	}); err != nil {
		return a, err
	}
	return a, tx.Commit()
}

// CancelAgreement cancels any non-terminal agreement.
func (e Engine) CancelAgreement(ctx context.Context, id, actorID string) (domain.Agreement, error) {
	return e.UpdateAgreementStatus(ctx, id, domain.StatusCancelled, actorID)
}

// RequestDocument creates a document todo plus its pending document record.
func (e Engine) RequestDocument(ctx context.Context, agreementID, title, actorID string) (domain.Todo, error) {
	if title == "" {
		return domain.Todo{}, errors.New("title is required")
	}
	a, err := e.Repo.GetAgreement(ctx, agreementID)
	if err != nil {
		return domain.Todo{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	doc := domain.Document{
		ID:               uuid.New().String(),
		AgreementID:      a.ID,
		Name:             title,
		UploadStatus:     domain.UploadPending,
		AcceptanceStatus: domain.AcceptancePending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	t := domain.Todo{
		ID:          uuid.New().String(),
		AgreementID: a.ID,
		Title:       title,
		Category:    domain.TodoCategoryDocument,
		Status:      domain.TodoPending,
		DocumentID:  &doc.ID,
		CreatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertDocumentTx(ctx, tx, doc); err != nil {
		return t, err
	}
	if err := e.Repo.InsertTodoTx(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Events.Append(ctx, tx, "document.requested", a.ID, "todo", t.ID, actorID, events.EventPayload{"title": title}); err != nil {
		return t, err
	}
	return t, tx.Commit()
}

// MarkDocumentUploaded records a completed client upload.
func (e Engine) MarkDocumentUploaded(ctx context.Context, documentID, name, actorID string) (domain.Document, error) {
	d, err := e.Repo.GetDocument(ctx, documentID)
	if err != nil {
		return d, err
	}
	d.UploadStatus = domain.UploadComplete
	if name != "" {
		d.Name = name
	}
	d.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return d, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateDocumentTx(ctx, tx, d); err != nil {
		return d, err
	}
	if err := e.Events.Append(ctx, tx, "document.uploaded", d.AgreementID, "document", d.ID, actorID, nil); err != nil {
		return d, err
	}
	return d, tx.Commit()
}

var acceptanceStatuses = map[string]bool{
	domain.AcceptancePending:    true,
	domain.AcceptedByStrategist: true,
	domain.RejectedByStrategist: true,
	domain.AcceptedByCompliance: true,
	domain.RejectedByCompliance: true,
	domain.AcceptedByClient:     true,
	domain.DeclinedByClient:     true,
}

// UpdateDocumentAcceptance records a review decision on a document.
func (e Engine) UpdateDocumentAcceptance(ctx context.Context, documentID, status, actorID string) (domain.Document, error) {
	if !acceptanceStatuses[status] {
		return domain.Document{}, fmt.Errorf("unknown acceptance status %s", status)
	}
	d, err := e.Repo.GetDocument(ctx, documentID)
	if err != nil {
		return d, err
	}
	from := d.AcceptanceStatus
	d.AcceptanceStatus = status
	d.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return d, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateDocumentTx(ctx, tx, d); err != nil {
		return d, err
	}
	if err := e.Events.Append(ctx, tx, "document.acceptance", d.AgreementID, "document", d.ID, actorID, events.EventPayload{
		"from": from,
		"to":   status,
	}); err != nil {
		return d, err
	}
	return d, tx.Commit()
}

// AdvanceToStrategy moves PENDING_TODOS_COMPLETION to PENDING_STRATEGY
// once every requested document has been accepted by the strategist.
func (e Engine) AdvanceToStrategy(ctx context.Context, agreementID, actorID string) (domain.Agreement, error) {
	a, err := e.Repo.GetAgreement(ctx, agreementID)
	if err != nil {
		return a, err
	}
	if err := ensureAgreementTransition(a.Status, domain.StatusPendingStrategy); err != nil {
		return a, err
	}
	counts, err := e.documentCounts(ctx, a.ID)
	if err != nil {
		return a, err
	}
	if !counts.AllAccepted() {
		return a, fmt.Errorf("documents outstanding: %d of %d accepted", counts.Accepted, counts.Total)
	}
	return e.UpdateAgreementStatus(ctx, a.ID, domain.StatusPendingStrategy, actorID)
}

// SendStrategy publishes a strategy document for review. From
// PENDING_STRATEGY it advances to PENDING_STRATEGY_REVIEW; from within
// review it records a revision, which resets the sub-phase because the new
// document starts with a pending acceptance status.
func (e Engine) SendStrategy(ctx context.Context, agreementID, name, actorID string) (domain.Document, error) {
	a, err := e.Repo.GetAgreement(ctx, agreementID)
	if err != nil {
		return domain.Document{}, err
	}
	if a.Status != domain.StatusPendingStrategy && a.Status != domain.StatusPendingStrategyReview {
		return domain.Document{}, fmt.Errorf("cannot send strategy in status %s", a.Status)
	}
	if name == "" {
		name = "Strategy"
	}
	now := e.now().UTC().Format(time.RFC3339)
	doc := domain.Document{
		ID:               uuid.New().String(),
		AgreementID:      a.ID,
		Name:             name,
		UploadStatus:     domain.UploadComplete,
		AcceptanceStatus: domain.AcceptancePending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	revision := a.Status == domain.StatusPendingStrategyReview
	a.Description = metadata.Embed(a.Description, metadata.StrategyMetadata{
		StrategyDocumentID: doc.ID,
		SentAt:             now,
	})
	if !revision {
		a.Status = domain.StatusPendingStrategyReview
	}
	a.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return doc, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertDocumentTx(ctx, tx, doc); err != nil {
		return doc, err
	}
	if err := e.Repo.UpdateAgreementTx(ctx, tx, a); err != nil {
		return doc, err
	}
	if err := e.Events.Append(ctx, tx, "strategy.sent", a.ID, "document", doc.ID, actorID, events.EventPayload{
		"revision": revision,
	}); err != nil {
		return doc, err
	}
	return doc, tx.Commit()
}

// FinalizeAgreement completes an agreement once both compliance and the
// client have approved the strategy.
func (e Engine) FinalizeAgreement(ctx context.Context, agreementID, actorID string) (domain.Agreement, error) {
	a, err := e.Repo.GetAgreement(ctx, agreementID)
	if err != nil {
		return a, err
	}
	if err := ensureAgreementTransition(a.Status, domain.StatusCompleted); err != nil {
		return a, err
	}
	step5, err := e.resolveStep5(ctx, a)
	if err != nil {
		return a, err
	}
	if !step5.IsComplete {
		return a, fmt.Errorf("strategy not approved by both compliance and client (phase %s)", step5.Phase)
	}
	return e.UpdateAgreementStatus(ctx, a.ID, domain.StatusCompleted, actorID)
}

// CreateCharge records a charge and its payment todo.
func (e Engine) CreateCharge(ctx context.Context, agreementID string, amount int64, currency, description, actorID string) (domain.Charge, error) {
	a, err := e.Repo.GetAgreement(ctx, agreementID)
	if err != nil {
		return domain.Charge{}, err
	}
	if !domain.StatusSigned(a.Status) {
		return domain.Charge{}, fmt.Errorf("cannot charge unsigned agreement (status %s)", a.Status)
	}
	if amount <= 0 {
		return domain.Charge{}, errors.New("amount must be positive")
	}
	if currency == "" {
		currency = e.Config.Billing.Currency
	}
	now := e.now().UTC().Format(time.RFC3339)
	c := domain.Charge{
		ID:          uuid.New().String(),
		AgreementID: a.ID,
		Status:      domain.ChargePending,
		Amount:      amount,
		Currency:    currency,
		Description: description,
		CreatedAt:   now,
	}
	payTodo := domain.Todo{
		ID:          uuid.New().String(),
		AgreementID: a.ID,
		Title:       "Pay the invoice",
		Category:    domain.TodoCategoryPayment,
		Status:      domain.TodoPending,
		CreatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertChargeTx(ctx, tx, c); err != nil {
		return c, err
	}
	if err := e.Repo.InsertTodoTx(ctx, tx, payTodo); err != nil {
		return c, err
	}
	if err := e.Events.Append(ctx, tx, "charge.created", a.ID, "charge", c.ID, actorID, events.EventPayload{
		"amount":   amount,
		"currency": currency,
	}); err != nil {
		return c, err
	}
	return c, tx.Commit()
}

// GeneratePaymentLink creates (or returns) the hosted checkout link for a
// pending charge.
func (e Engine) GeneratePaymentLink(ctx context.Context, chargeID, actorID string) (string, error) {
	c, err := e.Repo.GetCharge(ctx, chargeID)
	if err != nil {
		return "", err
	}
	if c.Status == domain.ChargePaid {
		return "", errors.New("charge already paid")
	}
	if c.PaymentLink != nil && *c.PaymentLink != "" {
		return *c.PaymentLink, nil
	}
	link := "https://pay.taxline.test/checkout/" + c.ID
	c.PaymentLink = &link
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateChargeTx(ctx, tx, c); err != nil {
		return "", err
	}
	if err := e.Events.Append(ctx, tx, "charge.link", c.AgreementID, "charge", c.ID, actorID, nil); err != nil {
		return "", err
	}
	return link, tx.Commit()
}

// MarkChargePaid records the payment provider's asynchronous payment
// notification.
func (e Engine) MarkChargePaid(ctx context.Context, chargeID, actorID string) (domain.Charge, error) {
	c, err := e.Repo.GetCharge(ctx, chargeID)
	if err != nil {
		return c, err
	}
	if c.Status == domain.ChargePaid {
		return c, nil
	}
	c.Status = domain.ChargePaid
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateChargeTx(ctx, tx, c); err != nil {
		return c, err
	}
	if err := e.Events.Append(ctx, tx, "charge.paid", c.AgreementID, "charge", c.ID, actorID, nil); err != nil {
		return c, err
	}
	return c, tx.Commit()
}

func (e Engine) documentCounts(ctx context.Context, agreementID string) (derive.DocumentCounts, error) {
	todos, err := e.Repo.ListTodos(ctx, agreementID)
	if err != nil {
		return derive.DocumentCounts{}, err
	}
	docs, err := e.Repo.ListDocuments(ctx, agreementID)
	if err != nil {
		return derive.DocumentCounts{}, err
	}
	byID := make(map[string]domain.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}
	return derive.CountDocuments(todos, byID), nil
}

func (e Engine) resolveStep5(ctx context.Context, a domain.Agreement) (derive.Step5State, error) {
	var strategyDoc *domain.Document
	if meta := metadata.Extract(a.Description); meta != nil && meta.StrategyDocumentID != "" {
		d, err := e.Repo.GetDocument(ctx, meta.StrategyDocumentID)
		if err == nil {
			strategyDoc = &d
		} else if !errors.Is(err, repo.ErrNotFound) {
			return derive.Step5State{}, err
		}
	}
	return derive.ResolveStep5(a.Status, strategyDoc), nil
}
