package session

import (
	"context"

	"taxline/internal/derive"
	"taxline/internal/domain"
)

// API is the transport the controller loads and mutates engagement state
// through. The in-process engine adapter and the HTTP SDK client both
// implement it.
type API interface {
	GetClient(ctx context.Context, clientID string) (domain.Client, error)
	ListAgreements(ctx context.Context, clientID string) ([]domain.Agreement, error)
	ListTodos(ctx context.Context, agreementID string) ([]domain.Todo, error)
	ListDocuments(ctx context.Context, agreementID string) ([]domain.Document, error)
	ListComplianceLinks(ctx context.Context, clientID string) ([]domain.ComplianceLink, error)
	UpdateAgreementStatus(ctx context.Context, agreementID, status string) error
	UpdateDocumentAcceptance(ctx context.Context, documentID, status string) error
}

// Load section names, used as keys into State.Errors.
const (
	SectionClient     = "client"
	SectionAgreements = "agreements"
	SectionDocuments  = "documents"
	SectionCharges    = "charges"
	SectionSigning    = "signing"
	SectionCompliance = "compliance"
)

// State is the controller's read-only projection. Every field is
// recomputed from raw signals on each reconciliation pass; none of the
// derived values are ever the source of truth.
type State struct {
	ClientID   string
	Client     domain.Client
	Agreements []domain.Agreement
	// Selected is a copy of the currently-selected agreement, nil while
	// nothing has loaded yet.
	Selected        *domain.Agreement
	Todos           []domain.Todo
	Documents       map[string]domain.Document
	Charges         []domain.Charge
	ActiveCharge    *domain.Charge
	PaymentReceived bool
	SigningInfo     *domain.EnvelopeSigningInfo
	Compliance      []domain.ComplianceLink

	Counts        derive.DocumentCounts
	Step5         derive.Step5State
	StatusKey     string
	WorkflowGroup string

	// Errors holds per-section load failures; a failed section never
	// clears another section's data.
	Errors  map[string]string
	Loading bool
}

func (s State) clone() State {
	out := s
	out.Agreements = append([]domain.Agreement(nil), s.Agreements...)
	out.Todos = append([]domain.Todo(nil), s.Todos...)
	out.Charges = append([]domain.Charge(nil), s.Charges...)
	out.Compliance = append([]domain.ComplianceLink(nil), s.Compliance...)
	if s.Selected != nil {
		ag := *s.Selected
		out.Selected = &ag
	}
	if s.ActiveCharge != nil {
		ch := *s.ActiveCharge
		out.ActiveCharge = &ch
	}
	if s.SigningInfo != nil {
		info := *s.SigningInfo
		out.SigningInfo = &info
	}
	out.Documents = make(map[string]domain.Document, len(s.Documents))
	for k, v := range s.Documents {
		out.Documents[k] = v
	}
	out.Errors = make(map[string]string, len(s.Errors))
	for k, v := range s.Errors {
		out.Errors[k] = v
	}
	return out
}
