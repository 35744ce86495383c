package aggregator

import (
	"context"
	"time"

	"github.com/nidhogg/artifact-context/internal/artifact"
	"github.com/nidhogg/artifact-context/internal/budget"
)

// ArtifactStore is the read side of the artifact persistence layer.
type ArtifactStore interface {
	// ListArtifactIDs returns the ids of everything the user has produced.
	ListArtifactIDs(ctx context.Context, userID string) ([]string, error)
	// ListArtifacts returns the user's records, oldest first.
	ListArtifacts(ctx context.Context, userID string) ([]artifact.Record, error)
}

// PrefixProvider supplies an opaque, pre-formatted section that is always
// placed first in the formatted context. An empty string means no section.
type PrefixProvider interface {
	Prefix(ctx context.Context, userID, targetID string) (string, error)
}

// PrefixFunc adapts a function to PrefixProvider.
type PrefixFunc func(ctx context.Context, userID, targetID string) (string, error)

// Prefix implements PrefixProvider.
func (f PrefixFunc) Prefix(ctx context.Context, userID, targetID string) (string, error) {
	return f(ctx, userID, targetID)
}

// TokenBreakdown is the estimated size of each section.
type TokenBreakdown struct {
	Tier1    int `json:"tier1"`
	Tier2    int `json:"tier2"`
	Tier3    int `json:"tier3"`
	External int `json:"external"`
}

// Total sums every section.
func (b TokenBreakdown) Total() int {
	return b.Tier1 + b.Tier2 + b.Tier3 + b.External
}

// AggregatedContext is the budgeted context for one target and user. Values
// served from the cache are snapshots; only CacheHit and ComputeLatency
// describe the current call.
type AggregatedContext struct {
	RequestID       string         `json:"request_id"`
	UserID          string         `json:"user_id"`
	TargetID        string         `json:"target_id"`
	ArtifactSetHash string         `json:"artifact_set_hash"`
	ExplicitTiers   bool           `json:"explicit_tiers"`
	Tier1           []budget.Entry `json:"tier1"`
	Tier2           []budget.Entry `json:"tier2"`
	Tier3           []budget.Entry `json:"tier3"`
	TotalTokens     int            `json:"total_tokens"`
	Breakdown       TokenBreakdown `json:"token_breakdown"`
	FormattedText   string         `json:"formatted_text"`
	Skipped         []string       `json:"skipped,omitempty"`
	Evicted         []string       `json:"evicted,omitempty"`
	ComputedAt      time.Time      `json:"computed_at"`
	ComputeLatency  time.Duration  `json:"compute_latency"`
	CacheHit        bool           `json:"cache_hit"`
}

// cacheEntry is the stored form of a result.
type cacheEntry struct {
	Context  *AggregatedContext `json:"context"`
	StoredAt time.Time          `json:"stored_at"`
}

// Optimization compares the budgeted context with sending everything.
type Optimization struct {
	NaiveTotalTokens int     `json:"naive_total_tokens"`
	OptimizedTokens  int     `json:"optimized_tokens"`
	TokensSaved      int     `json:"tokens_saved"`
	SavingsPercent   float64 `json:"savings_percent"`
}

// Analytics summarizes what an aggregation costs and saves.
type Analytics struct {
	UserID          string         `json:"user_id"`
	TargetID        string         `json:"target_id"`
	EstimatedTokens int            `json:"estimated_tokens"`
	EstimatedCost   int            `json:"estimated_cost"`
	Breakdown       TokenBreakdown `json:"breakdown"`
	Optimization    Optimization   `json:"optimization"`
}
