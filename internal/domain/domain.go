package domain

type Client struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Agreement is the contractual record driving one client's pipeline.
// Description is free text; strategy metadata may be embedded at its tail
// (see internal/metadata).
type Agreement struct {
	ID                 string  `json:"id"`
	ClientID           string  `json:"client_id"`
	Status             string  `json:"status" enum:"DRAFT,CANCELLED,PENDING_SIGNATURE,PENDING_PAYMENT,PENDING_TODOS_COMPLETION,PENDING_STRATEGY,PENDING_STRATEGY_REVIEW,COMPLETED"`
	Description        string  `json:"description,omitempty"`
	ContractDocumentID *string `json:"contract_document_id,omitempty"`
	EnvelopeID         *string `json:"envelope_id,omitempty"`
	CreatedAt          string  `json:"created_at" format:"date-time"`
	UpdatedAt          string  `json:"updated_at" format:"date-time"`
}

type Todo struct {
	ID          string  `json:"id"`
	AgreementID string  `json:"agreement_id"`
	Title       string  `json:"title"`
	Category    string  `json:"category,omitempty" enum:"document,signature,payment"`
	Status      string  `json:"status" enum:"pending,completed"`
	DocumentID  *string `json:"document_id,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

const (
	TodoCategoryDocument  = "document"
	TodoCategorySignature = "signature"
	TodoCategoryPayment   = "payment"
)

const (
	TodoPending   = "pending"
	TodoCompleted = "completed"
)

const (
	UploadPending  = "pending"
	UploadComplete = "file_uploaded"
)

// Document acceptance statuses, in pipeline order.
const (
	AcceptancePending    = "pending"
	AcceptedByStrategist = "accepted-by-strategist"
	RejectedByStrategist = "rejected-by-strategist"
	AcceptedByCompliance = "accepted-by-compliance"
	RejectedByCompliance = "rejected-by-compliance"
	AcceptedByClient     = "accepted-by-client"
	DeclinedByClient     = "declined-by-client"
)

type Document struct {
	ID               string `json:"id"`
	AgreementID      string `json:"agreement_id"`
	Name             string `json:"name,omitempty"`
	UploadStatus     string `json:"upload_status" enum:"pending,file_uploaded"`
	AcceptanceStatus string `json:"acceptance_status" enum:"pending,accepted-by-strategist,rejected-by-strategist,accepted-by-compliance,rejected-by-compliance,accepted-by-client,declined-by-client"`
	CreatedAt        string `json:"created_at" format:"date-time"`
	UpdatedAt        string `json:"updated_at" format:"date-time"`
}

const (
	ChargePending = "pending"
	ChargePaid    = "paid"
)

type Charge struct {
	ID          string  `json:"id"`
	AgreementID string  `json:"agreement_id"`
	Status      string  `json:"status" enum:"pending,paid"`
	Amount      int64   `json:"amount"`
	Currency    string  `json:"currency"`
	Description string  `json:"description,omitempty"`
	PaymentLink *string `json:"payment_link,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

// EnvelopeSigningInfo is a snapshot pulled from the signing provider; it is
// never persisted beyond the current session.
type EnvelopeSigningInfo struct {
	StrategistHasSigned   bool    `json:"strategist_has_signed"`
	ClientHasSigned       bool    `json:"client_has_signed"`
	StrategistCeremonyURL *string `json:"strategist_ceremony_url,omitempty"`
	SignedDocumentURL     *string `json:"signed_document_url,omitempty"`
}

// ComplianceLink associates a compliance reviewer with a client.
type ComplianceLink struct {
	ClientID   string `json:"client_id"`
	ReviewerID string `json:"reviewer_id"`
	Name       string `json:"name,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts" format:"date-time"`
	Type        string `json:"type"`
	AgreementID string `json:"agreement_id,omitempty"`
	EntityKind  string `json:"entity_kind"`
	EntityID    string `json:"entity_id,omitempty"`
	ActorID     string `json:"actor_id"`
	Payload     string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
