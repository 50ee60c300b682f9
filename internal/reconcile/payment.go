package reconcile

import (
	"context"
	"log"

	"taxline/internal/domain"
	"taxline/internal/providers"
)

type Payment struct {
	Charges providers.PaymentProvider
	Status  StatusUpdater
	Logger  *log.Logger
}

func (p Payment) logger() *log.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return log.Default()
}

// PaymentState is the charge snapshot for one agreement.
type PaymentState struct {
	Charges []domain.Charge
	// Active is the charge shown to the user: the first pending charge,
	// or the first charge overall when none is pending.
	Active *domain.Charge
	// Paid reports whether any charge has settled.
	Paid bool
	// ReloadNeeded is set when the reconciler advanced the agreement and
	// the caller should refetch dependent state.
	ReloadNeeded bool
}

// Reconcile fetches the agreement's charges and classifies them. When a
// paid charge exists while the agreement still reads PENDING_PAYMENT, it
// advances the status as a safety net for missed provider notifications;
// that write is fire-and-forget and its failure is only logged.
func (p Payment) Reconcile(ctx context.Context, ag domain.Agreement) (PaymentState, error) {
	charges, err := p.Charges.GetChargesForAgreement(ctx, ag.ID)
	if err != nil {
		return PaymentState{}, err
	}
	st := PaymentState{Charges: charges}
	for i := range charges {
		if charges[i].Status == domain.ChargePaid {
			st.Paid = true
		}
		if st.Active == nil && charges[i].Status == domain.ChargePending {
			st.Active = &charges[i]
		}
	}
	if st.Active == nil && len(charges) > 0 {
		st.Active = &charges[0]
	}
	if st.Paid && ag.Status == domain.StatusPendingPayment {
		if p.Status != nil {
			if err := p.Status.UpdateAgreementStatus(ctx, ag.ID, domain.StatusPendingTodosCompletion); err != nil {
				p.logger().Printf("payment: advance agreement %s failed: %v", ag.ID, err)
			}
		}
		st.ReloadNeeded = true
	}
	return st, nil
}
