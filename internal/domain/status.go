package domain

// Agreement statuses. The pipeline is strictly ordered; CANCELLED is the
// only exit reachable from every non-terminal state.
const (
	StatusDraft                  = "DRAFT"
	StatusCancelled              = "CANCELLED"
	StatusPendingSignature       = "PENDING_SIGNATURE"
	StatusPendingPayment         = "PENDING_PAYMENT"
	StatusPendingTodosCompletion = "PENDING_TODOS_COMPLETION"
	StatusPendingStrategy        = "PENDING_STRATEGY"
	StatusPendingStrategyReview  = "PENDING_STRATEGY_REVIEW"
	StatusCompleted              = "COMPLETED"
)

var statusRank = map[string]int{
	StatusDraft:                  0,
	StatusPendingSignature:       1,
	StatusPendingPayment:         2,
	StatusPendingTodosCompletion: 3,
	StatusPendingStrategy:        4,
	StatusPendingStrategyReview:  5,
	StatusCompleted:              6,
}

// StatusRank returns the pipeline position of a status, or -1 for
// CANCELLED and unknown values.
func StatusRank(status string) int {
	if r, ok := statusRank[status]; ok {
		return r
	}
	return -1
}

// StatusSigned reports whether both parties have signed the agreement,
// i.e. the status has moved past PENDING_SIGNATURE.
func StatusSigned(status string) bool {
	return StatusRank(status) >= statusRank[StatusPendingPayment]
}

// StatusPaid reports whether payment has been recorded on the agreement
// itself, i.e. the status has moved past PENDING_PAYMENT.
func StatusPaid(status string) bool {
	return StatusRank(status) >= statusRank[StatusPendingTodosCompletion]
}

// CanTransition reports whether old -> new is a legal agreement edge.
// No edge skips an intermediate state; strategy revisions happen inside
// PENDING_STRATEGY_REVIEW and never revert the top-level status.
func CanTransition(oldStatus, newStatus string) bool {
	if newStatus == StatusCancelled {
		return oldStatus != StatusCancelled && oldStatus != StatusCompleted
	}
	switch oldStatus {
	case StatusDraft:
		return newStatus == StatusPendingSignature
	case StatusPendingSignature:
		return newStatus == StatusPendingPayment
	case StatusPendingPayment:
		return newStatus == StatusPendingTodosCompletion
	case StatusPendingTodosCompletion:
		return newStatus == StatusPendingStrategy
	case StatusPendingStrategy:
		return newStatus == StatusPendingStrategyReview
	case StatusPendingStrategyReview:
		return newStatus == StatusCompleted
	}
	return false
}

// ValidStatus reports whether s names a known agreement status.
func ValidStatus(s string) bool {
	return s == StatusCancelled || StatusRank(s) >= 0
}
