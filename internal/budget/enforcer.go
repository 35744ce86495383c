// Package budget builds tier content blocks and keeps them within their
// token budgets.
package budget

import (
	"encoding/json"
	"sort"

	"go.uber.org/zap"
)

// Tier identifies a content block.
type Tier int

const (
	TierCritical Tier = 1 // verbatim, never dropped
	TierRequired Tier = 2 // verbatim, never dropped
	TierOptional Tier = 3 // summarized, evicted under pressure
)

func (t Tier) String() string {
	switch t {
	case TierCritical:
		return "tier1"
	case TierRequired:
		return "tier2"
	case TierOptional:
		return "tier3"
	}
	return "unknown"
}

// DefaultSummaryTarget is the per-item token target for the summarized tier.
const DefaultSummaryTarget = 200

// Source is one dependency's raw material.
type Source struct {
	ID      string
	Name    string
	Output  json.RawMessage
	Summary string // optional pre-computed summary
}

// Entry is one artifact as it appears in the aggregated context.
type Entry struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
	TokenCount int    `json:"token_count"`
	Summarized bool   `json:"summarized"`
}

// Block is the content of one tier after budgeting.
type Block struct {
	Tier       Tier     `json:"tier"`
	Entries    []Entry  `json:"entries"`
	Tokens     int      `json:"tokens"`
	Budget     int      `json:"budget"`
	OverBudget bool     `json:"over_budget,omitempty"`
	Evicted    []string `json:"evicted,omitempty"`
}

// Enforcer turns sources into tier blocks.
type Enforcer struct {
	estimator     SizeEstimator
	summarizer    Summarizer
	summaryTarget int
	logger        *zap.Logger
}

// NewEnforcer creates an Enforcer. A non-positive summaryTarget uses
// DefaultSummaryTarget.
func NewEnforcer(est SizeEstimator, sum Summarizer, summaryTarget int, logger *zap.Logger) *Enforcer {
	if summaryTarget <= 0 {
		summaryTarget = DefaultSummaryTarget
	}
	return &Enforcer{
		estimator:     est,
		summarizer:    sum,
		summaryTarget: summaryTarget,
		logger:        logger,
	}
}

// Estimator returns the size estimator shared by all blocks.
func (e *Enforcer) Estimator() SizeEstimator { return e.estimator }

// BuildHard includes every source verbatim. Exceeding the budget is logged
// but nothing is dropped or truncated.
func (e *Enforcer) BuildHard(tier Tier, sources []Source, budget int) Block {
	b := Block{Tier: tier, Budget: budget, Entries: make([]Entry, 0, len(sources))}
	for _, s := range sources {
		content := Serialize(s.Output)
		n := e.estimator.Estimate(content)
		b.Entries = append(b.Entries, Entry{ID: s.ID, Name: s.Name, Content: content, TokenCount: n})
		b.Tokens += n
	}
	if b.Tokens > budget {
		b.OverBudget = true
		e.logger.Warn("tier exceeds token budget, keeping all entries",
			zap.Stringer("tier", tier),
			zap.Int("tokens", b.Tokens),
			zap.Int("budget", budget),
			zap.Int("entries", len(b.Entries)))
	}
	return b
}

// BuildLossy summarizes every source and, if the block is still over budget,
// evicts the largest entries first until it fits.
func (e *Enforcer) BuildLossy(sources []Source, budget int) Block {
	b := Block{Tier: TierOptional, Budget: budget, Entries: make([]Entry, 0, len(sources))}
	for _, s := range sources {
		input := s.Output
		if s.Summary != "" {
			input, _ = json.Marshal(s.Summary)
		}
		sum := e.summarizer.Summarize(input, e.summaryTarget)
		n := e.estimator.Estimate(sum.Text)
		b.Entries = append(b.Entries, Entry{
			ID:         s.ID,
			Name:       s.Name,
			Content:    sum.Text,
			TokenCount: n,
			Summarized: sum.Summarized || s.Summary != "",
		})
		b.Tokens += n
	}
	if b.Tokens <= budget {
		return b
	}

	before := b.Tokens
	b.Entries, b.Evicted, b.Tokens = evictLargest(b.Entries, b.Tokens, budget)
	e.logger.Info("evicted summarized entries to fit budget",
		zap.Int("before", before),
		zap.Int("after", b.Tokens),
		zap.Int("budget", budget),
		zap.Strings("evicted", b.Evicted))
	return b
}

// evictLargest drops entries in descending size order until total fits
// budget. Survivors keep their original relative order.
func evictLargest(entries []Entry, total, budget int) ([]Entry, []string, int) {
	order := make([]int, len(entries))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return entries[order[a]].TokenCount > entries[order[b]].TokenCount
	})

	dropped := make(map[int]bool)
	var evicted []string
	for _, i := range order {
		if total <= budget {
			break
		}
		dropped[i] = true
		evicted = append(evicted, entries[i].ID)
		total -= entries[i].TokenCount
	}

	kept := make([]Entry, 0, len(entries)-len(dropped))
	for i, en := range entries {
		if !dropped[i] {
			kept = append(kept, en)
		}
	}
	return kept, evicted, total
}
