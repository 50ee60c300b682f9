package app

import (
	"context"

	"taxline/internal/domain"
	"taxline/internal/engine"
)

// EngineAPI is the in-process session transport: it serves the same
// surface the HTTP SDK client does, but straight off the engine. Writes
// carry the CLI actor id.
type EngineAPI struct {
	Engine  engine.Engine
	ActorID string
}

func (a EngineAPI) GetClient(ctx context.Context, clientID string) (domain.Client, error) {
	return a.Engine.Repo.GetClient(ctx, clientID)
}

func (a EngineAPI) ListAgreements(ctx context.Context, clientID string) ([]domain.Agreement, error) {
	return a.Engine.Repo.ListAgreements(ctx, clientID)
}

func (a EngineAPI) ListTodos(ctx context.Context, agreementID string) ([]domain.Todo, error) {
	return a.Engine.Repo.ListTodos(ctx, agreementID)
}

func (a EngineAPI) ListDocuments(ctx context.Context, agreementID string) ([]domain.Document, error) {
	return a.Engine.Repo.ListDocuments(ctx, agreementID)
}

func (a EngineAPI) ListComplianceLinks(ctx context.Context, clientID string) ([]domain.ComplianceLink, error) {
	return a.Engine.Repo.ListComplianceLinks(ctx, clientID)
}

func (a EngineAPI) UpdateAgreementStatus(ctx context.Context, agreementID, status string) error {
	_, err := a.Engine.UpdateAgreementStatus(ctx, agreementID, status, a.ActorID)
	return err
}

func (a EngineAPI) UpdateDocumentAcceptance(ctx context.Context, documentID, status string) error {
	_, err := a.Engine.UpdateDocumentAcceptance(ctx, documentID, status, a.ActorID)
	return err
}

// EngineCharges adapts the engine's persisted charges to the payment
// provider surface so the reconciler can run against the local database.
type EngineCharges struct {
	Engine  engine.Engine
	ActorID string
}

func (c EngineCharges) CreateCharge(ctx context.Context, agreementID string, amount int64, currency, description string) (domain.Charge, error) {
	return c.Engine.CreateCharge(ctx, agreementID, amount, currency, description, c.ActorID)
}

func (c EngineCharges) GeneratePaymentLink(ctx context.Context, chargeID string) (string, error) {
	return c.Engine.GeneratePaymentLink(ctx, chargeID, c.ActorID)
}

func (c EngineCharges) GetChargesForAgreement(ctx context.Context, agreementID string) ([]domain.Charge, error) {
	return c.Engine.Repo.ListCharges(ctx, agreementID)
}
