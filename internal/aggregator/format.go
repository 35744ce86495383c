package aggregator

import (
	"strings"

	"github.com/nidhogg/artifact-context/internal/budget"
)

// Section headings, in presentation order.
const (
	headingCritical = "## Critical Context"
	headingRequired = "## Required Context"
	headingOptional = "## Supporting Context (Summarized)"
)

// formatContext renders the prefix and the three tiers in their fixed order.
// Empty sections are omitted.
func formatContext(prefix string, t1, t2, t3 []budget.Entry) string {
	var sections []string
	if p := strings.TrimSpace(prefix); p != "" {
		sections = append(sections, p)
	}
	for _, s := range []struct {
		heading string
		entries []budget.Entry
	}{
		{headingCritical, t1},
		{headingRequired, t2},
		{headingOptional, t3},
	} {
		if len(s.entries) == 0 {
			continue
		}
		var b strings.Builder
		b.WriteString(s.heading)
		for _, e := range s.entries {
			b.WriteString("\n\n### ")
			b.WriteString(e.Name)
			b.WriteString("\n")
			b.WriteString(e.Content)
		}
		sections = append(sections, b.String())
	}
	return strings.Join(sections, "\n\n")
}
