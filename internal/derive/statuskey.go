package derive

import "taxline/internal/domain"

// Canonical client status keys. Pure derived values, never stored.
const (
	KeyAwaitingAgreement  = "awaiting_agreement"
	KeyAwaitingPayment    = "awaiting_payment"
	KeyAwaitingDocuments  = "awaiting_documents"
	KeyReadyForStrategy   = "ready_for_strategy"
	KeyAwaitingCompliance = "awaiting_compliance"
	KeyAwaitingApproval   = "awaiting_approval"
	KeyActive             = "active"
)

// Workflow groups describe whose turn it is to act, distinct from the
// status key which describes progress.
const (
	GroupActionRequired      = "action_required"
	GroupWaitingOnClient     = "waiting_on_client"
	GroupWaitingOnCompliance = "waiting_on_compliance"
	GroupActiveClients       = "active_clients"
	GroupArchived            = "archived"
)

// ComputeStatusKey reduces the raw signals to one canonical status key.
// Rules are evaluated in strict priority order; the first match wins.
func ComputeStatusKey(ag domain.Agreement, paymentReceived bool, docs DocumentCounts, step5 Step5State) string {
	switch {
	case !domain.StatusSigned(ag.Status):
		return KeyAwaitingAgreement
	case !paymentReceived:
		return KeyAwaitingPayment
	case !docs.AllAccepted():
		return KeyAwaitingDocuments
	case step5.IsComplete:
		return KeyActive
	case step5.Phase == PhaseClientReview:
		return KeyAwaitingApproval
	case step5.Phase == PhaseComplianceReview:
		return KeyAwaitingCompliance
	case step5.StrategySent:
		// rejected/declined sub-phases still sit with the reviewers until
		// the strategist resends
		return KeyAwaitingCompliance
	default:
		return KeyReadyForStrategy
	}
}

// ComputeWorkflowGroup classifies who acts next from the raw agreement
// status plus the strategy sub-phase.
func ComputeWorkflowGroup(ag domain.Agreement, step5 Step5State) string {
	switch ag.Status {
	case domain.StatusDraft, domain.StatusCancelled, domain.StatusPendingStrategy:
		return GroupActionRequired
	case domain.StatusPendingSignature, domain.StatusPendingPayment, domain.StatusPendingTodosCompletion:
		return GroupWaitingOnClient
	case domain.StatusPendingStrategyReview:
		switch {
		case step5.ComplianceRejected || step5.ClientDeclined:
			return GroupActionRequired
		case step5.IsComplete:
			// both approved; only the strategist's finalize action remains
			return GroupActionRequired
		case step5.Phase == PhaseClientReview:
			return GroupWaitingOnClient
		case step5.Phase == PhaseComplianceReview:
			return GroupWaitingOnCompliance
		default:
			return GroupActionRequired
		}
	case domain.StatusCompleted:
		return GroupActiveClients
	}
	return GroupArchived
}
