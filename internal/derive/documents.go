// Package derive holds the pure projections computed on every
// reconciliation pass: document acceptance counts, the strategy sub-phase,
// and the canonical status key / workflow group. Nothing here performs I/O
// or is ever the source of truth.
package derive

import (
	"strings"

	"taxline/internal/domain"
)

// DocumentCounts aggregates per-document review state for an agreement.
// Invariant: Accepted <= Uploaded <= Total.
type DocumentCounts struct {
	Total    int `json:"total"`
	Uploaded int `json:"uploaded"`
	Accepted int `json:"accepted"`
}

// AllAccepted reports whether every requested document has been accepted
// by the strategist. Zero requested documents count as satisfied.
func (c DocumentCounts) AllAccepted() bool {
	return c.Accepted >= c.Total
}

// IsDocumentTodo classifies a todo. The category column is authoritative;
// the title heuristic only covers rows created before it existed.
func IsDocumentTodo(t domain.Todo) bool {
	switch t.Category {
	case domain.TodoCategoryDocument:
		return true
	case domain.TodoCategorySignature, domain.TodoCategoryPayment:
		return false
	}
	title := strings.ToLower(t.Title)
	if strings.Contains(title, "sign") || strings.Contains(title, "pay") {
		return false
	}
	return true
}

// CountDocuments computes the acceptance aggregate over an agreement's
// todos. documents maps document id to its current record; a todo whose
// document is missing from the map still counts toward Total.
func CountDocuments(todos []domain.Todo, documents map[string]domain.Document) DocumentCounts {
	var c DocumentCounts
	for _, t := range todos {
		if !IsDocumentTodo(t) {
			continue
		}
		c.Total++
		uploaded := t.Status == domain.TodoCompleted
		accepted := false
		if t.DocumentID != nil {
			if doc, ok := documents[*t.DocumentID]; ok {
				if doc.UploadStatus == domain.UploadComplete {
					uploaded = true
				}
				if doc.AcceptanceStatus == domain.AcceptedByStrategist {
					accepted = true
				}
			}
		}
		if accepted {
			// an accepted document is necessarily uploaded
			uploaded = true
			c.Accepted++
		}
		if uploaded {
			c.Uploaded++
		}
	}
	return c
}
