package domain

import "testing"

func TestCanTransitionPipelineOrder(t *testing.T) {
	path := []string{
		StatusDraft,
		StatusPendingSignature,
		StatusPendingPayment,
		StatusPendingTodosCompletion,
		StatusPendingStrategy,
		StatusPendingStrategyReview,
		StatusCompleted,
	}
	for i := 0; i < len(path)-1; i++ {
		if !CanTransition(path[i], path[i+1]) {
			t.Fatalf("expected %s -> %s to be legal", path[i], path[i+1])
		}
	}
	// no edge may skip an intermediate state
	for i := 0; i < len(path); i++ {
		for j := i + 2; j < len(path); j++ {
			if CanTransition(path[i], path[j]) {
				t.Fatalf("expected %s -> %s to be illegal", path[i], path[j])
			}
		}
	}
}

func TestCanTransitionCancel(t *testing.T) {
	for _, s := range []string{StatusDraft, StatusPendingSignature, StatusPendingPayment, StatusPendingTodosCompletion, StatusPendingStrategy, StatusPendingStrategyReview} {
		if !CanTransition(s, StatusCancelled) {
			t.Fatalf("expected %s -> CANCELLED to be legal", s)
		}
	}
	if CanTransition(StatusCompleted, StatusCancelled) {
		t.Fatalf("completed agreements cannot be cancelled")
	}
	if CanTransition(StatusCancelled, StatusCancelled) {
		t.Fatalf("cancel is not repeatable")
	}
	if CanTransition(StatusCancelled, StatusPendingSignature) {
		t.Fatalf("cancelled agreements cannot resume")
	}
}

func TestStatusHelpers(t *testing.T) {
	if StatusSigned(StatusPendingSignature) {
		t.Fatalf("PENDING_SIGNATURE is not signed")
	}
	if !StatusSigned(StatusPendingPayment) {
		t.Fatalf("PENDING_PAYMENT implies signed")
	}
	if StatusPaid(StatusPendingPayment) {
		t.Fatalf("PENDING_PAYMENT is not paid")
	}
	if !StatusPaid(StatusCompleted) {
		t.Fatalf("COMPLETED implies paid")
	}
	if StatusRank(StatusCancelled) != -1 {
		t.Fatalf("cancelled has no pipeline rank")
	}
	if !ValidStatus(StatusCancelled) || ValidStatus("NOPE") {
		t.Fatalf("ValidStatus mismatch")
	}
}
