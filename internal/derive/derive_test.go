package derive

import (
	"testing"

	"taxline/internal/domain"
)

func strptr(s string) *string { return &s }

func TestIsDocumentTodoCategoryWins(t *testing.T) {
	if IsDocumentTodo(domain.Todo{Title: "Upload W-2", Category: domain.TodoCategorySignature}) {
		t.Fatal("category should override title")
	}
	if !IsDocumentTodo(domain.Todo{Title: "Sign-off sheet", Category: domain.TodoCategoryDocument}) {
		t.Fatal("category document should classify as document todo")
	}
	// legacy rows without category fall back to the title heuristic
	if IsDocumentTodo(domain.Todo{Title: "Sign the agreement"}) {
		t.Fatal("title heuristic should exclude signing step")
	}
	if IsDocumentTodo(domain.Todo{Title: "Pay the invoice"}) {
		t.Fatal("title heuristic should exclude payment step")
	}
	if !IsDocumentTodo(domain.Todo{Title: "Upload prior year return"}) {
		t.Fatal("plain titles classify as document todos")
	}
}

func TestCountDocumentsInvariant(t *testing.T) {
	todos := []domain.Todo{
		{ID: "t1", Title: "Upload W-2", Category: domain.TodoCategoryDocument, Status: domain.TodoPending, DocumentID: strptr("d1")},
		{ID: "t2", Title: "Upload 1099", Category: domain.TodoCategoryDocument, Status: domain.TodoCompleted, DocumentID: strptr("d2")},
		{ID: "t3", Title: "Upload K-1", Category: domain.TodoCategoryDocument, Status: domain.TodoPending},
		{ID: "t4", Title: "Sign agreement", Category: domain.TodoCategorySignature},
	}
	documents := map[string]domain.Document{
		"d1": {ID: "d1", UploadStatus: domain.UploadComplete, AcceptanceStatus: domain.AcceptedByStrategist},
		"d2": {ID: "d2", UploadStatus: domain.UploadPending, AcceptanceStatus: domain.AcceptancePending},
	}
	c := CountDocuments(todos, documents)
	if c.Total != 3 {
		t.Fatalf("total = %d, want 3", c.Total)
	}
	if c.Uploaded != 2 {
		t.Fatalf("uploaded = %d, want 2", c.Uploaded)
	}
	if c.Accepted != 1 {
		t.Fatalf("accepted = %d, want 1", c.Accepted)
	}
	if !(c.Accepted <= c.Uploaded && c.Uploaded <= c.Total) {
		t.Fatalf("invariant violated: %+v", c)
	}
	if c.AllAccepted() {
		t.Fatal("not all accepted")
	}
}

func TestCountDocumentsEmpty(t *testing.T) {
	c := CountDocuments(nil, nil)
	if c.Total != 0 || c.Uploaded != 0 || c.Accepted != 0 {
		t.Fatalf("empty set should be all zeros: %+v", c)
	}
	if !c.AllAccepted() {
		t.Fatal("nothing requested counts as satisfied")
	}
}

func TestResolveStep5(t *testing.T) {
	if st := ResolveStep5(domain.StatusPendingStrategy, nil); st.StrategySent || st.Phase != "" {
		t.Fatalf("nothing sent before review: %+v", st)
	}
	st := ResolveStep5(domain.StatusPendingStrategyReview, nil)
	if !st.StrategySent || st.Phase != PhaseComplianceReview {
		t.Fatalf("review without doc record = compliance review: %+v", st)
	}
	st = ResolveStep5(domain.StatusPendingStrategyReview, &domain.Document{AcceptanceStatus: domain.AcceptedByCompliance})
	if st.Phase != PhaseClientReview || !st.ComplianceApproved || st.IsComplete {
		t.Fatalf("compliance approval should open client review: %+v", st)
	}
	st = ResolveStep5(domain.StatusPendingStrategyReview, &domain.Document{AcceptanceStatus: domain.RejectedByCompliance})
	if st.Phase != PhaseComplianceRejected || !st.ComplianceRejected || st.IsComplete {
		t.Fatalf("compliance rejection: %+v", st)
	}
	st = ResolveStep5(domain.StatusPendingStrategyReview, &domain.Document{AcceptanceStatus: domain.DeclinedByClient})
	if st.Phase != PhaseClientDeclined || !st.ClientDeclined || !st.ComplianceApproved || st.IsComplete {
		t.Fatalf("client decline implies prior compliance approval: %+v", st)
	}
	st = ResolveStep5(domain.StatusPendingStrategyReview, &domain.Document{AcceptanceStatus: domain.AcceptedByClient})
	if !st.IsComplete || st.Phase != PhaseComplete || !st.ClientApproved || !st.ComplianceApproved {
		t.Fatalf("dual approval completes: %+v", st)
	}
	st = ResolveStep5(domain.StatusCompleted, nil)
	if !st.IsComplete || st.Phase != PhaseComplete {
		t.Fatalf("completed agreement: %+v", st)
	}
}

func TestComputeStatusKeyPriorityOrder(t *testing.T) {
	ag := domain.Agreement{Status: domain.StatusPendingSignature}
	if got := ComputeStatusKey(ag, false, DocumentCounts{}, Step5State{}); got != KeyAwaitingAgreement {
		t.Fatalf("unsigned = %s", got)
	}
	ag.Status = domain.StatusCancelled
	if got := ComputeStatusKey(ag, false, DocumentCounts{}, Step5State{}); got != KeyAwaitingAgreement {
		t.Fatalf("cancelled maps to awaiting_agreement, got %s", got)
	}
	ag.Status = domain.StatusPendingPayment
	if got := ComputeStatusKey(ag, false, DocumentCounts{}, Step5State{}); got != KeyAwaitingPayment {
		t.Fatalf("signed unpaid = %s", got)
	}
	ag.Status = domain.StatusPendingTodosCompletion
	docs := DocumentCounts{Total: 2, Uploaded: 1, Accepted: 1}
	if got := ComputeStatusKey(ag, true, docs, Step5State{}); got != KeyAwaitingDocuments {
		t.Fatalf("documents outstanding = %s", got)
	}
	// zero requested documents must not block progression
	ag.Status = domain.StatusPendingStrategy
	if got := ComputeStatusKey(ag, true, DocumentCounts{}, Step5State{}); got != KeyReadyForStrategy {
		t.Fatalf("empty todo set should pass documents gate, got %s", got)
	}
	ag.Status = domain.StatusPendingStrategyReview
	step5 := ResolveStep5(ag.Status, &domain.Document{AcceptanceStatus: domain.AcceptedByCompliance})
	if got := ComputeStatusKey(ag, true, DocumentCounts{}, step5); got != KeyAwaitingApproval {
		t.Fatalf("client review = %s", got)
	}
	step5 = ResolveStep5(ag.Status, nil)
	if got := ComputeStatusKey(ag, true, DocumentCounts{}, step5); got != KeyAwaitingCompliance {
		t.Fatalf("compliance review = %s", got)
	}
	step5 = ResolveStep5(ag.Status, &domain.Document{AcceptanceStatus: domain.RejectedByCompliance})
	if got := ComputeStatusKey(ag, true, DocumentCounts{}, step5); got != KeyAwaitingCompliance {
		t.Fatalf("rejected sub-phase still reads awaiting_compliance, got %s", got)
	}
	step5 = ResolveStep5(ag.Status, &domain.Document{AcceptanceStatus: domain.AcceptedByClient})
	if got := ComputeStatusKey(ag, true, DocumentCounts{}, step5); got != KeyActive {
		t.Fatalf("dual approval = %s", got)
	}
}

func TestComputeStatusKeyPure(t *testing.T) {
	ag := domain.Agreement{Status: domain.StatusPendingStrategyReview}
	step5 := ResolveStep5(ag.Status, &domain.Document{AcceptanceStatus: domain.AcceptedByCompliance})
	docs := DocumentCounts{Total: 1, Uploaded: 1, Accepted: 1}
	first := ComputeStatusKey(ag, true, docs, step5)
	for i := 0; i < 10; i++ {
		if got := ComputeStatusKey(ag, true, docs, step5); got != first {
			t.Fatalf("identical inputs produced %s then %s", first, got)
		}
	}
}

func TestComputeWorkflowGroup(t *testing.T) {
	cases := []struct {
		status string
		doc    *domain.Document
		want   string
	}{
		{domain.StatusDraft, nil, GroupActionRequired},
		{domain.StatusCancelled, nil, GroupActionRequired},
		{domain.StatusPendingStrategy, nil, GroupActionRequired},
		{domain.StatusPendingSignature, nil, GroupWaitingOnClient},
		{domain.StatusPendingPayment, nil, GroupWaitingOnClient},
		{domain.StatusPendingTodosCompletion, nil, GroupWaitingOnClient},
		{domain.StatusPendingStrategyReview, nil, GroupWaitingOnCompliance},
		{domain.StatusPendingStrategyReview, &domain.Document{AcceptanceStatus: domain.AcceptedByCompliance}, GroupWaitingOnClient},
		{domain.StatusPendingStrategyReview, &domain.Document{AcceptanceStatus: domain.RejectedByCompliance}, GroupActionRequired},
		{domain.StatusPendingStrategyReview, &domain.Document{AcceptanceStatus: domain.DeclinedByClient}, GroupActionRequired},
		{domain.StatusPendingStrategyReview, &domain.Document{AcceptanceStatus: domain.AcceptedByClient}, GroupActionRequired},
		{domain.StatusCompleted, nil, GroupActiveClients},
	}
	for _, tc := range cases {
		ag := domain.Agreement{Status: tc.status}
		step5 := ResolveStep5(tc.status, tc.doc)
		if got := ComputeWorkflowGroup(ag, step5); got != tc.want {
			t.Fatalf("%s doc=%v: got %s, want %s", tc.status, tc.doc, got, tc.want)
		}
	}
}
