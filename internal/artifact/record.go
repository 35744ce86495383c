// Package artifact holds the records the generation pipeline produces for a
// user. The aggregation engine only reads them.
package artifact

import (
	"encoding/json"
	"time"
)

// Record is one artifact a user has produced. Output is JSON: either a string
// or a structured document.
type Record struct {
	UserID        string          `json:"user_id"`
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	ProducedAt    time.Time       `json:"produced_at"`
	Output        json.RawMessage `json:"output"`
	OutputSummary string          `json:"output_summary,omitempty"`
}

// IDs returns the ids of records in order.
func IDs(records []Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

// Index maps records by id. When an id repeats, the most recently produced
// record wins.
func Index(records []Record) map[string]Record {
	m := make(map[string]Record, len(records))
	for _, r := range records {
		if prev, ok := m[r.ID]; ok && prev.ProducedAt.After(r.ProducedAt) {
			continue
		}
		m[r.ID] = r
	}
	return m
}
