// Package providers defines the external collaborator interfaces for the
// e-signature and payment services. The real provider integrations live
// outside this repo; in-memory implementations back dev mode and tests.
package providers

import (
	"context"

	"taxline/internal/domain"
)

// Envelope statuses as reported by the signing provider.
const (
	EnvelopeProcessing = "processing"
	EnvelopeInProgress = "in_progress"
	EnvelopeCompleted  = "completed"
	EnvelopeDeclined   = "declined"
	EnvelopeVoided     = "voided"
)

// SignatureProvider wraps the e-signature service.
type SignatureProvider interface {
	// GetEnvelopeStatus returns the envelope's current signing status.
	GetEnvelopeStatus(ctx context.Context, agreementID, envelopeID string) (string, error)
	// GetStrategistSigningInfo returns the per-party signing snapshot for
	// an agreement, including the strategist's ceremony URL while signing
	// is still open.
	GetStrategistSigningInfo(ctx context.Context, agreementID string) (domain.EnvelopeSigningInfo, error)
	// GetSignedDocumentURL fetches the executed document URL directly by
	// envelope id. Returns "" when the envelope is not yet complete.
	GetSignedDocumentURL(ctx context.Context, envelopeID string) (string, error)
}

// PaymentProvider wraps the payment service.
type PaymentProvider interface {
	CreateCharge(ctx context.Context, agreementID string, amount int64, currency, description string) (domain.Charge, error)
	GeneratePaymentLink(ctx context.Context, chargeID string) (string, error)
	GetChargesForAgreement(ctx context.Context, agreementID string) ([]domain.Charge, error)
}
