package catalog

import (
	"errors"
	"fmt"
)

// ErrUnknownResource is returned when a lookup names an artifact type the
// catalog does not define.
var ErrUnknownResource = errors.New("unknown resource")

// UnknownResource wraps ErrUnknownResource with the offending id.
func UnknownResource(id string) error {
	return fmt.Errorf("%w: %s", ErrUnknownResource, id)
}

// ResourceNode describes one artifact type the generation pipeline can produce.
type ResourceNode struct {
	ID              string   `yaml:"id" json:"id"`
	Name            string   `yaml:"name" json:"name"`
	Tier            int      `yaml:"tier" json:"tier"`
	Category        string   `yaml:"category" json:"category"`
	Required        []string `yaml:"required" json:"required_dependencies"`
	Optional        []string `yaml:"optional" json:"optional_dependencies"`
	EstimatedTokens int      `yaml:"estimated_tokens" json:"estimated_tokens"`
	GenerationCost  int      `yaml:"generation_cost" json:"generation_cost"`
	Impact          string   `yaml:"impact" json:"impact_statement"`
}

// TokenBudget caps the estimated size of each tier. Total is always the sum
// of the three included tiers.
type TokenBudget struct {
	Tier1 int `yaml:"tier1" json:"tier1"`
	Tier2 int `yaml:"tier2" json:"tier2"`
	Tier3 int `yaml:"tier3" json:"tier3"`
	Total int `yaml:"total" json:"total"`
}

// TierAssignment buckets a target's dependencies by how much of their content
// is included in the aggregated context.
type TierAssignment struct {
	Critical []string    `yaml:"tier1" json:"tier1_critical"`
	Required []string    `yaml:"tier2" json:"tier2_required"`
	Optional []string    `yaml:"tier3" json:"tier3_optional"`
	Skip     []string    `yaml:"tier4" json:"tier4_skip"`
	Budget   TokenBudget `yaml:"budget" json:"token_budget"`
}

// DefaultBudget applies to targets without an explicit tier assignment.
var DefaultBudget = TokenBudget{Tier1: 500, Tier2: 2000, Tier3: 1000, Total: 3500}

// Input placeholder ids always placed in the critical tier of a default
// assignment.
const (
	ProductNameID        = "product-name"
	ProductDescriptionID = "product-description"
	ICPAnalysisID        = "icp-analysis"
)

// defaultOptionalSlots is how many optional dependencies a default
// assignment keeps in the summarized tier.
const defaultOptionalSlots = 3

// IDSet is a set of artifact ids.
type IDSet map[string]struct{}

// NewIDSet builds a set from ids.
func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set. A nil set is empty.
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}
