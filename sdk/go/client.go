package taxlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"taxline/internal/domain"
)

// Client is a minimal Taxline HTTP API client. It carries the full
// engagement surface and doubles as the remote session transport.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// SigningInfo is the signing endpoint's response.
type SigningInfo struct {
	StrategistHasSigned   bool    `json:"strategist_has_signed"`
	ClientHasSigned       bool    `json:"client_has_signed"`
	StrategistCeremonyURL *string `json:"strategist_ceremony_url,omitempty"`
	SignedDocumentURL     *string `json:"signed_document_url,omitempty"`
	ReloadNeeded          bool    `json:"reload_needed"`
}

// Event is an event-log entry.
type Event struct {
	ID          int64          `json:"id"`
	TS          string         `json:"ts"`
	Type        string         `json:"type"`
	AgreementID string         `json:"agreement_id"`
	EntityKind  string         `json:"entity_kind"`
	EntityID    string         `json:"entity_id"`
	ActorID     string         `json:"actor_id"`
	Payload     map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// Identity is the authenticated principal reported by the server.
type Identity struct {
	ActorID string `json:"actor_id"`
	Source  string `json:"source"`
}

// CreateClient creates a client record.
func (c *Client) CreateClient(ctx context.Context, name, email string) (domain.Client, error) {
	body := map[string]any{"name": name, "email": email}
	var resp domain.Client
	err := c.do(ctx, http.MethodPost, "v0/clients", body, &resp)
	return resp, err
}

// GetClient fetches one client.
func (c *Client) GetClient(ctx context.Context, clientID string) (domain.Client, error) {
	var resp domain.Client
	err := c.do(ctx, http.MethodGet, "v0/clients/"+url.PathEscape(clientID), nil, &resp)
	return resp, err
}

// ListClients returns all clients.
func (c *Client) ListClients(ctx context.Context) ([]domain.Client, error) {
	var resp []domain.Client
	err := c.do(ctx, http.MethodGet, "v0/clients", nil, &resp)
	return resp, err
}

// LinkComplianceReviewer attaches a compliance reviewer to a client.
func (c *Client) LinkComplianceReviewer(ctx context.Context, clientID, reviewerID, name string) (domain.ComplianceLink, error) {
	body := map[string]any{"reviewer_id": reviewerID, "name": name}
	var resp domain.ComplianceLink
	endpoint := fmt.Sprintf("v0/clients/%s/compliance-reviewers", url.PathEscape(clientID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ListComplianceLinks returns a client's compliance reviewers.
func (c *Client) ListComplianceLinks(ctx context.Context, clientID string) ([]domain.ComplianceLink, error) {
	var resp []domain.ComplianceLink
	endpoint := fmt.Sprintf("v0/clients/%s/compliance-reviewers", url.PathEscape(clientID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CreateAgreement opens a draft agreement for a client.
func (c *Client) CreateAgreement(ctx context.Context, clientID, description string) (domain.Agreement, error) {
	body := map[string]any{"description": description}
	var resp domain.Agreement
	endpoint := fmt.Sprintf("v0/clients/%s/agreements", url.PathEscape(clientID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ListAgreements returns a client's agreements, most recent first.
func (c *Client) ListAgreements(ctx context.Context, clientID string) ([]domain.Agreement, error) {
	var resp []domain.Agreement
	endpoint := fmt.Sprintf("v0/clients/%s/agreements", url.PathEscape(clientID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetAgreement fetches one agreement.
func (c *Client) GetAgreement(ctx context.Context, agreementID string) (domain.Agreement, error) {
	var resp domain.Agreement
	err := c.do(ctx, http.MethodGet, "v0/agreements/"+url.PathEscape(agreementID), nil, &resp)
	return resp, err
}

// SendAgreement sends the agreement out for signature.
func (c *Client) SendAgreement(ctx context.Context, agreementID, envelopeID string, price int64) (domain.Agreement, error) {
	body := map[string]any{"envelope_id": envelopeID, "price": price}
	var resp domain.Agreement
	endpoint := fmt.Sprintf("v0/agreements/%s/send", url.PathEscape(agreementID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// UpdateAgreementStatus moves the agreement one pipeline step.
func (c *Client) UpdateAgreementStatus(ctx context.Context, agreementID, status string) error {
	body := map[string]any{"status": status}
	endpoint := fmt.Sprintf("v0/agreements/%s/status", url.PathEscape(agreementID))
	return c.do(ctx, http.MethodPatch, endpoint, body, nil)
}

// CancelAgreement cancels a non-terminal agreement.
func (c *Client) CancelAgreement(ctx context.Context, agreementID string) (domain.Agreement, error) {
	var resp domain.Agreement
	endpoint := fmt.Sprintf("v0/agreements/%s/cancel", url.PathEscape(agreementID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// AdvanceToStrategy moves a fully-documented agreement into strategy
// preparation.
func (c *Client) AdvanceToStrategy(ctx context.Context, agreementID string) (domain.Agreement, error) {
	var resp domain.Agreement
	endpoint := fmt.Sprintf("v0/agreements/%s/advance", url.PathEscape(agreementID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// SendStrategy submits the strategy document for review.
func (c *Client) SendStrategy(ctx context.Context, agreementID, name string) (domain.Document, error) {
	body := map[string]any{"name": name}
	var resp domain.Document
	endpoint := fmt.Sprintf("v0/agreements/%s/strategy", url.PathEscape(agreementID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// FinalizeAgreement completes a fully-approved engagement.
func (c *Client) FinalizeAgreement(ctx context.Context, agreementID string) (domain.Agreement, error) {
	var resp domain.Agreement
	endpoint := fmt.Sprintf("v0/agreements/%s/finalize", url.PathEscape(agreementID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Signing returns the reconciled signing snapshot for an agreement.
func (c *Client) Signing(ctx context.Context, agreementID string) (SigningInfo, error) {
	var resp SigningInfo
	endpoint := fmt.Sprintf("v0/agreements/%s/signing", url.PathEscape(agreementID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ListTodos returns the agreement's client checklist.
func (c *Client) ListTodos(ctx context.Context, agreementID string) ([]domain.Todo, error) {
	var resp []domain.Todo
	endpoint := fmt.Sprintf("v0/agreements/%s/todos", url.PathEscape(agreementID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// RequestDocument asks the client for a document; the returned todo
// carries the created document's id.
func (c *Client) RequestDocument(ctx context.Context, agreementID, title string) (domain.Todo, error) {
	body := map[string]any{"title": title}
	var resp domain.Todo
	endpoint := fmt.Sprintf("v0/agreements/%s/documents", url.PathEscape(agreementID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ListDocuments returns the agreement's documents.
func (c *Client) ListDocuments(ctx context.Context, agreementID string) ([]domain.Document, error) {
	var resp []domain.Document
	endpoint := fmt.Sprintf("v0/agreements/%s/documents", url.PathEscape(agreementID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// UploadDocument records a completed upload for a requested document.
func (c *Client) UploadDocument(ctx context.Context, documentID, name string) (domain.Document, error) {
	body := map[string]any{"name": name}
	var resp domain.Document
	endpoint := fmt.Sprintf("v0/documents/%s/upload", url.PathEscape(documentID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// UpdateDocumentAcceptance sets a document's acceptance status.
func (c *Client) UpdateDocumentAcceptance(ctx context.Context, documentID, status string) error {
	body := map[string]any{"status": status}
	endpoint := fmt.Sprintf("v0/documents/%s/acceptance", url.PathEscape(documentID))
	return c.do(ctx, http.MethodPatch, endpoint, body, nil)
}

// CreateCharge raises an invoice against a signed agreement.
func (c *Client) CreateCharge(ctx context.Context, agreementID string, amount int64, currency, description string) (domain.Charge, error) {
	body := map[string]any{"amount": amount, "currency": currency, "description": description}
	var resp domain.Charge
	endpoint := fmt.Sprintf("v0/agreements/%s/charges", url.PathEscape(agreementID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ListCharges returns the agreement's charges.
func (c *Client) ListCharges(ctx context.Context, agreementID string) ([]domain.Charge, error) {
	var resp []domain.Charge
	endpoint := fmt.Sprintf("v0/agreements/%s/charges", url.PathEscape(agreementID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GeneratePaymentLink returns the hosted checkout link for a charge.
func (c *Client) GeneratePaymentLink(ctx context.Context, chargeID string) (string, error) {
	var resp struct {
		ChargeID string `json:"charge_id"`
		URL      string `json:"url"`
	}
	endpoint := fmt.Sprintf("v0/charges/%s/payment-link", url.PathEscape(chargeID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp.URL, err
}

// MarkChargePaid records a settled payment.
func (c *Client) MarkChargePaid(ctx context.Context, chargeID string) (domain.Charge, error) {
	var resp domain.Charge
	endpoint := fmt.Sprintf("v0/charges/%s/paid", url.PathEscape(chargeID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "", "")
	return page.Items, err
}

// EventsPage returns a paginated event listing, optionally filtered by
// agreement.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor, agreementID string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if agreementID != "" {
		q.Set("agreement_id", agreementID)
	}
	endpoint := "v0/events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Me returns the authenticated identity.
func (c *Client) Me(ctx context.Context) (Identity, error) {
	var resp Identity
	err := c.do(ctx, http.MethodGet, "v0/me", nil, &resp)
	return resp, err
}

// DevLogin mints a development bearer token and installs it on the
// client.
func (c *Client) DevLogin(ctx context.Context, actorID string) (string, error) {
	body := map[string]any{"actor_id": actorID}
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "v0/auth/dev/login", body, &resp); err != nil {
		return "", err
	}
	c.BearerToken = resp.Token
	return resp.Token, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
