// Package metadata embeds and extracts strategy metadata stored at the
// tail of an agreement's free-text description. This is a compatibility
// adapter for rows that predate dedicated columns; every call site goes
// through this package so the codec can be replaced in one place.
package metadata

import (
	"encoding/json"
	"strings"

	"taxline/internal/domain"
)

// Marker separates free text from the serialized metadata blob.
const Marker = "__SIGNATURE_METADATA__:"

// StrategyMetadata is the optional blob appended to a description.
// Absence of any field, or of the whole blob, is not an error.
type StrategyMetadata struct {
	Price              *int64 `json:"price,omitempty"`
	EnvelopeID         string `json:"envelopeId,omitempty"`
	StrategyDocumentID string `json:"strategyDocumentId,omitempty"`
	SentAt             string `json:"sentAt,omitempty"`
}

// Extract returns the metadata embedded in description, or nil when the
// marker is absent or the remainder is not valid JSON.
func Extract(description string) *StrategyMetadata {
	idx := strings.Index(description, Marker)
	if idx < 0 {
		return nil
	}
	raw := strings.TrimSpace(description[idx+len(Marker):])
	var meta StrategyMetadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil
	}
	return &meta
}

// Embed writes meta into description, merging with any metadata already
// present. Fields left zero in meta keep their prior value, so partial
// writers do not erase each other. The free text ahead of the marker is
// preserved untouched.
func Embed(description string, meta StrategyMetadata) string {
	free := description
	merged := meta
	if idx := strings.Index(description, Marker); idx >= 0 {
		free = description[:idx]
		if old := Extract(description); old != nil {
			merged = merge(*old, meta)
		}
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		// StrategyMetadata contains only marshalable fields; keep the
		// description intact rather than corrupt it.
		return description
	}
	return free + Marker + string(raw)
}

func merge(old, next StrategyMetadata) StrategyMetadata {
	out := old
	if next.Price != nil {
		out.Price = next.Price
	}
	if next.EnvelopeID != "" {
		out.EnvelopeID = next.EnvelopeID
	}
	if next.StrategyDocumentID != "" {
		out.StrategyDocumentID = next.StrategyDocumentID
	}
	if next.SentAt != "" {
		out.SentAt = next.SentAt
	}
	return out
}

// EnvelopeID resolves the e-signature envelope for an agreement: the
// dedicated column wins, embedded metadata is the fallback. Returns ""
// when neither is set.
func EnvelopeID(ag domain.Agreement) string {
	if ag.EnvelopeID != nil && *ag.EnvelopeID != "" {
		return *ag.EnvelopeID
	}
	if meta := Extract(ag.Description); meta != nil {
		return meta.EnvelopeID
	}
	return ""
}
