package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"taxline/internal/derive"
	"taxline/internal/domain"
	"taxline/internal/metadata"
	"taxline/internal/reconcile"
)

// ErrActionPending is returned when a mutating command is invoked while
// an earlier invocation of the same command is still in flight.
var ErrActionPending = errors.New("action already in progress")

// ErrNoAgreement is returned by commands that need a selected agreement
// before any agreement has loaded.
var ErrNoAgreement = errors.New("no agreement selected")

// Controller owns the per-client engagement session: the selected
// agreement, all data loaded for it, and the projections derived from
// that data. All loads for one pass share a generation number; a pass
// whose generation is no longer current commits nothing.
type Controller struct {
	api      API
	signing  reconcile.Signing
	payments reconcile.Payment
	logger   *log.Logger

	mu         sync.Mutex
	generation uint64
	selectedID string
	state      State
	// envelopePolled tracks which agreements had their envelope status
	// polled this session. Cleared by Init, never by Refresh.
	envelopePolled map[string]bool
	inflight       map[string]bool
}

// NewController wires a controller over a transport and the two
// provider reconcilers. The logger must not be nil.
func NewController(api API, signing reconcile.Signing, payments reconcile.Payment, logger *log.Logger) *Controller {
	return &Controller{
		api:            api,
		signing:        signing,
		payments:       payments,
		logger:         logger,
		envelopePolled: map[string]bool{},
		inflight:       map[string]bool{},
	}
}

// Snapshot returns a copy of the current state. The copy shares nothing
// with the controller's internal state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Init starts a session for clientID. Any previous session state is
// discarded and the one-shot envelope poll guard is reset.
func (c *Controller) Init(ctx context.Context, clientID string) error {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.selectedID = ""
	c.envelopePolled = map[string]bool{}
	c.state = State{ClientID: clientID, Loading: true, Errors: map[string]string{}}
	c.mu.Unlock()
	return c.load(ctx, gen, true)
}

// SelectAgreement switches the session to agreementID. State belonging
// to the previously-selected agreement is cleared before the new loads
// start, so a snapshot taken mid-switch never mixes agreements.
func (c *Controller) SelectAgreement(ctx context.Context, agreementID string) error {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.selectedID = agreementID
	clientID := c.state.ClientID
	c.state = State{
		ClientID:   clientID,
		Client:     c.state.Client,
		Agreements: c.state.Agreements,
		Compliance: c.state.Compliance,
		Loading:    true,
		Errors:     map[string]string{},
	}
	c.mu.Unlock()
	return c.load(ctx, gen, true)
}

// Refresh re-runs a full reconciliation pass for the current selection.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.state.Loading = true
	c.state.Errors = map[string]string{}
	c.mu.Unlock()
	return c.load(ctx, gen, true)
}

// AcceptDocument records the strategist's acceptance of a document and
// reloads. The command is rejected while a previous acceptance call for
// the same document is still running; the local state is never mutated
// optimistically.
func (c *Controller) AcceptDocument(ctx context.Context, documentID string) error {
	return c.reviewDocument(ctx, documentID, domain.AcceptedByStrategist)
}

// DeclineDocument records the strategist's rejection of a document and
// reloads.
func (c *Controller) DeclineDocument(ctx context.Context, documentID string) error {
	return c.reviewDocument(ctx, documentID, domain.RejectedByStrategist)
}

func (c *Controller) reviewDocument(ctx context.Context, documentID, status string) error {
	key := "review:" + documentID
	c.mu.Lock()
	if c.inflight[key] {
		c.mu.Unlock()
		return ErrActionPending
	}
	c.inflight[key] = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.inflight, key)
		c.mu.Unlock()
	}()

	if err := c.api.UpdateDocumentAcceptance(ctx, documentID, status); err != nil {
		return fmt.Errorf("update document acceptance: %w", err)
	}
	return c.Refresh(ctx)
}

// load runs one reconciliation pass for generation gen. The agreement
// list always lands before any dependent load starts; the dependent
// sections then load in parallel and each commits only while gen is
// still current. allowReload bounds reconciler-triggered reloads to one
// extra pass.
func (c *Controller) load(ctx context.Context, gen uint64, allowReload bool) error {
	c.mu.Lock()
	clientID := c.state.ClientID
	selectedID := c.selectedID
	c.mu.Unlock()

	agreements, err := c.api.ListAgreements(ctx, clientID)
	if err != nil {
		c.commit(gen, func(s *State) {
			s.Errors[SectionAgreements] = err.Error()
			s.Loading = false
		})
		return fmt.Errorf("list agreements: %w", err)
	}

	// Resolve the selection against the fresh list. A selection that no
	// longer resolves falls back to the most recently created agreement;
	// the list arrives newest first.
	var selected *domain.Agreement
	for i := range agreements {
		if agreements[i].ID == selectedID {
			selected = &agreements[i]
			break
		}
	}
	if selected == nil && len(agreements) > 0 {
		selected = &agreements[0]
	}
	if !c.commit(gen, func(s *State) {
		s.Agreements = agreements
		if selected != nil {
			ag := *selected
			s.Selected = &ag
		} else {
			s.Selected = nil
			s.Loading = false
		}
	}) {
		return nil
	}
	if selected == nil {
		return nil
	}
	c.mu.Lock()
	c.selectedID = selected.ID
	c.mu.Unlock()
	ag := *selected

	var reloadNeeded bool
	var reloadMu sync.Mutex
	noteReload := func(v bool) {
		if v {
			reloadMu.Lock()
			reloadNeeded = true
			reloadMu.Unlock()
		}
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		client, err := c.api.GetClient(ctx, clientID)
		c.commit(gen, func(s *State) {
			if err != nil {
				s.Errors[SectionClient] = err.Error()
				return
			}
			s.Client = client
		})
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		todos, err := c.api.ListTodos(ctx, ag.ID)
		if err == nil {
			var docs []domain.Document
			docs, err = c.api.ListDocuments(ctx, ag.ID)
			if err == nil {
				byID := make(map[string]domain.Document, len(docs))
				for _, d := range docs {
					byID[d.ID] = d
				}
				c.commit(gen, func(s *State) {
					s.Todos = todos
					s.Documents = byID
				})
				return
			}
		}
		c.commit(gen, func(s *State) { s.Errors[SectionDocuments] = err.Error() })
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		pay, err := c.payments.Reconcile(ctx, ag)
		if err != nil {
			c.commit(gen, func(s *State) { s.Errors[SectionCharges] = err.Error() })
			return
		}
		noteReload(pay.ReloadNeeded)
		c.commit(gen, func(s *State) {
			s.Charges = pay.Charges
			s.ActiveCharge = pay.Active
			s.PaymentReceived = pay.Paid
		})
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, other := range agreements {
			reload, err := c.pollEnvelope(ctx, gen, other)
			if err != nil {
				c.logger.Printf("session: envelope poll agreement=%s: %v", other.ID, err)
				continue
			}
			noteReload(reload)
		}
		info, err := c.signing.SigningInfo(ctx, ag)
		if err != nil {
			c.commit(gen, func(s *State) { s.Errors[SectionSigning] = err.Error() })
			return
		}
		c.commit(gen, func(s *State) { s.SigningInfo = &info })
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		links, err := c.api.ListComplianceLinks(ctx, clientID)
		c.commit(gen, func(s *State) {
			if err != nil {
				s.Errors[SectionCompliance] = err.Error()
				return
			}
			s.Compliance = links
		})
	}()

	wg.Wait()

	if !c.commit(gen, func(s *State) {
		c.derive(s, ag)
		s.Loading = false
	}) {
		return nil
	}

	if reloadNeeded && allowReload {
		c.mu.Lock()
		current := gen == c.generation
		if current {
			c.generation++
			gen = c.generation
			c.state.Loading = true
		}
		c.mu.Unlock()
		if current {
			return c.load(ctx, gen, false)
		}
	}
	return nil
}

// pollEnvelope runs the one-shot envelope check for one agreement. The
// polled flag is claimed before the network call so concurrent passes
// never double-poll.
func (c *Controller) pollEnvelope(ctx context.Context, gen uint64, ag domain.Agreement) (bool, error) {
	if metadata.EnvelopeID(ag) == "" {
		return false, nil
	}
	c.mu.Lock()
	if gen != c.generation || c.envelopePolled[ag.ID] {
		c.mu.Unlock()
		return false, nil
	}
	c.envelopePolled[ag.ID] = true
	c.mu.Unlock()
	return c.signing.CheckEnvelope(ctx, ag)
}

// derive recomputes every projection from the raw signals currently in
// s. Called with the controller lock held.
func (c *Controller) derive(s *State, ag domain.Agreement) {
	s.Counts = derive.CountDocuments(s.Todos, s.Documents)

	var strategyDoc *domain.Document
	if meta := metadata.Extract(ag.Description); meta != nil && meta.StrategyDocumentID != "" {
		if doc, ok := s.Documents[meta.StrategyDocumentID]; ok {
			strategyDoc = &doc
		}
	}
	s.Step5 = derive.ResolveStep5(ag.Status, strategyDoc)

	paid := s.PaymentReceived || domain.StatusPaid(ag.Status)
	s.PaymentReceived = paid
	s.StatusKey = derive.ComputeStatusKey(ag, paid, s.Counts, s.Step5)
	s.WorkflowGroup = derive.ComputeWorkflowGroup(ag, s.Step5)
}

// commit applies fn to the state only while gen is still the current
// generation. Returns whether the write landed.
func (c *Controller) commit(gen uint64, fn func(*State)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return false
	}
	if c.state.Errors == nil {
		c.state.Errors = map[string]string{}
	}
	fn(&c.state)
	return true
}
