package providers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"taxline/internal/domain"
)

var ErrEnvelopeNotFound = errors.New("envelope not found")

// MemorySignatures is an in-memory SignatureProvider for dev mode and
// tests. Envelope state is advanced explicitly via the setter methods.
type MemorySignatures struct {
	mu        sync.Mutex
	envelopes map[string]*memEnvelope
	byAgree   map[string]string
}

type memEnvelope struct {
	status           string
	strategistSigned bool
	clientSigned     bool
	ceremonyURL      string
	signedURL        string
}

func NewMemorySignatures() *MemorySignatures {
	return &MemorySignatures{
		envelopes: make(map[string]*memEnvelope),
		byAgree:   make(map[string]string),
	}
}

// CreateEnvelope registers a new envelope for an agreement and returns its id.
func (m *MemorySignatures) CreateEnvelope(agreementID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	m.envelopes[id] = &memEnvelope{
		status:      EnvelopeProcessing,
		ceremonyURL: "https://sign.example.test/ceremony/" + id,
	}
	m.byAgree[agreementID] = id
	return id
}

// Sign records a party's signature; when both have signed the envelope
// completes and a signed-document URL becomes available.
func (m *MemorySignatures) Sign(envelopeID string, asStrategist bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	env, ok := m.envelopes[envelopeID]
	if !ok {
		return ErrEnvelopeNotFound
	}
	if asStrategist {
		env.strategistSigned = true
	} else {
		env.clientSigned = true
	}
	env.status = EnvelopeInProgress
	if env.strategistSigned && env.clientSigned {
		env.status = EnvelopeCompleted
		env.signedURL = "https://sign.example.test/executed/" + envelopeID + ".pdf"
	}
	return nil
}

func (m *MemorySignatures) GetEnvelopeStatus(_ context.Context, _, envelopeID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	env, ok := m.envelopes[envelopeID]
	if !ok {
		return "", ErrEnvelopeNotFound
	}
	return env.status, nil
}

func (m *MemorySignatures) GetStrategistSigningInfo(_ context.Context, agreementID string) (domain.EnvelopeSigningInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byAgree[agreementID]
	if !ok {
		return domain.EnvelopeSigningInfo{}, fmt.Errorf("agreement %s: %w", agreementID, ErrEnvelopeNotFound)
	}
	env := m.envelopes[id]
	info := domain.EnvelopeSigningInfo{
		StrategistHasSigned: env.strategistSigned,
		ClientHasSigned:     env.clientSigned,
	}
	if env.ceremonyURL != "" && !env.strategistSigned {
		u := env.ceremonyURL
		info.StrategistCeremonyURL = &u
	}
	if env.signedURL != "" {
		u := env.signedURL
		info.SignedDocumentURL = &u
	}
	return info, nil
}

func (m *MemorySignatures) GetSignedDocumentURL(_ context.Context, envelopeID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	env, ok := m.envelopes[envelopeID]
	if !ok {
		return "", ErrEnvelopeNotFound
	}
	return env.signedURL, nil
}

// MemoryPayments is an in-memory PaymentProvider.
type MemoryPayments struct {
	mu      sync.Mutex
	charges map[string][]domain.Charge
	Now     func() time.Time
}

func NewMemoryPayments() *MemoryPayments {
	return &MemoryPayments{charges: make(map[string][]domain.Charge), Now: time.Now}
}

func (m *MemoryPayments) CreateCharge(_ context.Context, agreementID string, amount int64, currency, description string) (domain.Charge, error) {
	if amount <= 0 {
		return domain.Charge{}, errors.New("amount must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := domain.Charge{
		ID:          uuid.New().String(),
		AgreementID: agreementID,
		Status:      domain.ChargePending,
		Amount:      amount,
		Currency:    currency,
		Description: description,
		CreatedAt:   m.Now().UTC().Format(time.RFC3339),
	}
	m.charges[agreementID] = append(m.charges[agreementID], c)
	return c, nil
}

func (m *MemoryPayments) GeneratePaymentLink(_ context.Context, chargeID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for agID, list := range m.charges {
		for i, c := range list {
			if c.ID == chargeID {
				link := "https://pay.example.test/checkout/" + chargeID
				m.charges[agID][i].PaymentLink = &link
				return link, nil
			}
		}
	}
	return "", fmt.Errorf("charge %s not found", chargeID)
}

func (m *MemoryPayments) GetChargesForAgreement(_ context.Context, agreementID string) ([]domain.Charge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Charge, len(m.charges[agreementID]))
	copy(out, m.charges[agreementID])
	return out, nil
}

// MarkPaid flips a charge to paid, simulating the provider's async
// payment notification.
func (m *MemoryPayments) MarkPaid(chargeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for agID, list := range m.charges {
		for i, c := range list {
			if c.ID == chargeID {
				m.charges[agID][i].Status = domain.ChargePaid
				return nil
			}
		}
	}
	return fmt.Errorf("charge %s not found", chargeID)
}
