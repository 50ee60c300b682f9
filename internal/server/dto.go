package server

import (
	"encoding/json"

	"taxline/internal/derive"
	"taxline/internal/domain"
)

// Request payloads

type CreateClientRequest struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

type LinkComplianceReviewerRequest struct {
	ReviewerID string `json:"reviewer_id"`
	Name       string `json:"name,omitempty"`
}

type CreateAgreementRequest struct {
	Description *string `json:"description,omitempty"`
}

type SendAgreementRequest struct {
	EnvelopeID string `json:"envelope_id,omitempty"`
	Price      int64  `json:"price,omitempty"`
}

type SetAgreementStatusRequest struct {
	Status string `json:"status" enum:"DRAFT,CANCELLED,PENDING_SIGNATURE,PENDING_PAYMENT,PENDING_TODOS_COMPLETION,PENDING_STRATEGY,PENDING_STRATEGY_REVIEW,COMPLETED"`
}

type RequestDocumentRequest struct {
	Title string `json:"title"`
}

type UploadDocumentRequest struct {
	Name string `json:"name,omitempty"`
}

type SetAcceptanceRequest struct {
	Status string `json:"status" enum:"pending,accepted-by-strategist,rejected-by-strategist,accepted-by-compliance,rejected-by-compliance,accepted-by-client,declined-by-client"`
}

type SendStrategyRequest struct {
	Name string `json:"name,omitempty"`
}

type CreateChargeRequest struct {
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency,omitempty"`
	Description string `json:"description,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Response payloads

type ClientResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type AgreementResponse struct {
	ID                 string  `json:"id"`
	ClientID           string  `json:"client_id"`
	Status             string  `json:"status" enum:"DRAFT,CANCELLED,PENDING_SIGNATURE,PENDING_PAYMENT,PENDING_TODOS_COMPLETION,PENDING_STRATEGY,PENDING_STRATEGY_REVIEW,COMPLETED"`
	Description        string  `json:"description,omitempty"`
	ContractDocumentID *string `json:"contract_document_id,omitempty"`
	EnvelopeID         *string `json:"envelope_id,omitempty"`
	CreatedAt          string  `json:"created_at" format:"date-time"`
	UpdatedAt          string  `json:"updated_at" format:"date-time"`
}

type TodoResponse struct {
	ID          string  `json:"id"`
	AgreementID string  `json:"agreement_id"`
	Title       string  `json:"title"`
	Category    string  `json:"category,omitempty" enum:"document,signature,payment"`
	Status      string  `json:"status" enum:"pending,completed"`
	DocumentID  *string `json:"document_id,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type DocumentResponse struct {
	ID               string `json:"id"`
	AgreementID      string `json:"agreement_id"`
	Name             string `json:"name,omitempty"`
	UploadStatus     string `json:"upload_status" enum:"pending,file_uploaded"`
	AcceptanceStatus string `json:"acceptance_status" enum:"pending,accepted-by-strategist,rejected-by-strategist,accepted-by-compliance,rejected-by-compliance,accepted-by-client,declined-by-client"`
	CreatedAt        string `json:"created_at" format:"date-time"`
	UpdatedAt        string `json:"updated_at" format:"date-time"`
}

type ChargeResponse struct {
	ID          string  `json:"id"`
	AgreementID string  `json:"agreement_id"`
	Status      string  `json:"status" enum:"pending,paid"`
	Amount      int64   `json:"amount"`
	Currency    string  `json:"currency"`
	Description string  `json:"description,omitempty"`
	PaymentLink *string `json:"payment_link,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type PaymentLinkResponse struct {
	ChargeID string `json:"charge_id"`
	URL      string `json:"url"`
}

type ComplianceLinkResponse struct {
	ClientID   string `json:"client_id"`
	ReviewerID string `json:"reviewer_id"`
	Name       string `json:"name,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type SigningInfoResponse struct {
	StrategistHasSigned   bool    `json:"strategist_has_signed"`
	ClientHasSigned       bool    `json:"client_has_signed"`
	StrategistCeremonyURL *string `json:"strategist_ceremony_url,omitempty"`
	SignedDocumentURL     *string `json:"signed_document_url,omitempty"`
	ReloadNeeded          bool    `json:"reload_needed"`
}

// AgreementProjection carries the derived view of one agreement. All
// fields are recomputed per request from raw records.
type AgreementProjection struct {
	AgreementID     string            `json:"agreement_id"`
	Status          string            `json:"status"`
	StatusKey       string            `json:"status_key" enum:"awaiting_agreement,awaiting_payment,awaiting_documents,ready_for_strategy,awaiting_compliance,awaiting_approval,active"`
	WorkflowGroup   string            `json:"workflow_group" enum:"action_required,waiting_on_client,waiting_on_compliance,active_clients,archived"`
	PaymentReceived bool              `json:"payment_received"`
	Documents       DocumentsProgress `json:"documents"`
	Step5           derive.Step5State `json:"step5"`
}

type DocumentsProgress struct {
	Total     int  `json:"total"`
	Uploaded  int  `json:"uploaded"`
	Accepted  int  `json:"accepted"`
	Satisfied bool `json:"satisfied"`
}

type ClientStatusResponse struct {
	ClientID   string                `json:"client_id"`
	Agreements []AgreementProjection `json:"agreements"`
}

type EventResponse struct {
	ID          int64          `json:"id"`
	TS          string         `json:"ts" format:"date-time"`
	Type        string         `json:"type"`
	AgreementID string         `json:"agreement_id,omitempty"`
	EntityKind  string         `json:"entity_kind"`
	EntityID    string         `json:"entity_id,omitempty"`
	ActorID     string         `json:"actor_id"`
	Payload     map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func clientResponse(c domain.Client) ClientResponse {
	return ClientResponse(c)
}

func agreementResponse(a domain.Agreement) AgreementResponse {
	return AgreementResponse(a)
}

func todoResponse(t domain.Todo) TodoResponse {
	return TodoResponse(t)
}

func documentResponse(d domain.Document) DocumentResponse {
	return DocumentResponse(d)
}

func chargeResponse(c domain.Charge) ChargeResponse {
	return ChargeResponse(c)
}

func complianceLinkResponse(l domain.ComplianceLink) ComplianceLinkResponse {
	return ComplianceLinkResponse(l)
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:          e.ID,
		TS:          e.TS,
		Type:        e.Type,
		AgreementID: e.AgreementID,
		EntityKind:  e.EntityKind,
		EntityID:    e.EntityID,
		ActorID:     e.ActorID,
		Payload:     decodeJSONMap(e.Payload),
	}
}

func mapClients(items []domain.Client) []ClientResponse {
	res := make([]ClientResponse, 0, len(items))
	for _, c := range items {
		res = append(res, clientResponse(c))
	}
	return res
}

func mapAgreements(items []domain.Agreement) []AgreementResponse {
	res := make([]AgreementResponse, 0, len(items))
	for _, a := range items {
		res = append(res, agreementResponse(a))
	}
	return res
}

func mapTodos(items []domain.Todo) []TodoResponse {
	res := make([]TodoResponse, 0, len(items))
	for _, t := range items {
		res = append(res, todoResponse(t))
	}
	return res
}

func mapDocuments(items []domain.Document) []DocumentResponse {
	res := make([]DocumentResponse, 0, len(items))
	for _, d := range items {
		res = append(res, documentResponse(d))
	}
	return res
}

func mapCharges(items []domain.Charge) []ChargeResponse {
	res := make([]ChargeResponse, 0, len(items))
	for _, c := range items {
		res = append(res, chargeResponse(c))
	}
	return res
}

func mapComplianceLinks(items []domain.ComplianceLink) []ComplianceLinkResponse {
	res := make([]ComplianceLinkResponse, 0, len(items))
	for _, l := range items {
		res = append(res, complianceLinkResponse(l))
	}
	return res
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}
