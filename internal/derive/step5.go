package derive

import "taxline/internal/domain"

// Strategy sub-phases within PENDING_STRATEGY_REVIEW.
const (
	PhaseComplianceReview   = "compliance_review"
	PhaseComplianceRejected = "compliance_rejected"
	PhaseClientReview       = "client_review"
	PhaseClientDeclined     = "client_declined"
	PhaseComplete           = "complete"
)

// Step5State is the fine-grained approval state inside the single
// PENDING_STRATEGY_REVIEW top-level status. A rejection never reverts the
// top-level status; it only resets this sub-phase until a revised strategy
// document is sent.
type Step5State struct {
	Phase              string `json:"phase,omitempty" enum:"compliance_review,compliance_rejected,client_review,client_declined,complete"`
	StrategySent       bool   `json:"strategy_sent"`
	ComplianceApproved bool   `json:"compliance_approved"`
	ComplianceRejected bool   `json:"compliance_rejected"`
	ClientApproved     bool   `json:"client_approved"`
	ClientDeclined     bool   `json:"client_declined"`
	IsComplete         bool   `json:"is_complete"`
}

// ResolveStep5 derives the sub-phase from the agreement status and the
// strategy document's acceptance status. strategyDoc is nil when no
// strategy document has been sent (or its record failed to load).
//
// Client review is only reachable once compliance has approved, so a
// client-side acceptance status implies the compliance approval flag.
func ResolveStep5(status string, strategyDoc *domain.Document) Step5State {
	var st Step5State
	if status == domain.StatusCompleted {
		return Step5State{
			Phase:              PhaseComplete,
			StrategySent:       true,
			ComplianceApproved: true,
			ClientApproved:     true,
			IsComplete:         true,
		}
	}
	if status != domain.StatusPendingStrategyReview {
		return st
	}
	st.StrategySent = true
	st.Phase = PhaseComplianceReview
	if strategyDoc == nil {
		return st
	}
	switch strategyDoc.AcceptanceStatus {
	case domain.AcceptedByCompliance:
		st.ComplianceApproved = true
		st.Phase = PhaseClientReview
	case domain.RejectedByCompliance:
		st.ComplianceRejected = true
		st.Phase = PhaseComplianceRejected
	case domain.AcceptedByClient:
		st.ComplianceApproved = true
		st.ClientApproved = true
		st.Phase = PhaseComplete
		st.IsComplete = true
	case domain.DeclinedByClient:
		st.ComplianceApproved = true
		st.ClientDeclined = true
		st.Phase = PhaseClientDeclined
	}
	return st
}
