// Package planner answers read-only questions about the artifact catalog:
// which dependencies are missing, what it costs to produce a target from
// scratch, and in which order the missing artifacts should be generated.
package planner

import (
	"container/heap"

	"github.com/nidhogg/artifact-context/internal/catalog"
)

// Planner runs dependency queries against a catalog.
type Planner struct {
	reg *catalog.Registry
}

// New creates a Planner over reg.
func New(reg *catalog.Registry) *Planner {
	return &Planner{reg: reg}
}

// Validation reports which dependencies of a target are not yet available.
type Validation struct {
	Valid           bool     `json:"valid"`
	MissingRequired []string `json:"missing_required"`
	MissingOptional []string `json:"missing_optional"`
}

// ValidateDependencies checks id membership only; content is never inspected.
func (p *Planner) ValidateDependencies(target string, available catalog.IDSet) (*Validation, error) {
	node, err := p.reg.MustLookup(target)
	if err != nil {
		return nil, err
	}
	v := &Validation{MissingRequired: []string{}, MissingOptional: []string{}}
	for _, dep := range node.Required {
		if !available.Has(dep) {
			v.MissingRequired = append(v.MissingRequired, dep)
		}
	}
	for _, dep := range node.Optional {
		if !available.Has(dep) {
			v.MissingOptional = append(v.MissingOptional, dep)
		}
	}
	v.Valid = len(v.MissingRequired) == 0
	return v, nil
}

// CostItem is one artifact that would have to be generated.
type CostItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Cost int    `json:"cost"`
}

// CostEstimate is the price of producing a target given what already exists.
type CostEstimate struct {
	TotalCost           int        `json:"total_cost"`
	ResourceCount       int        `json:"resource_count"`
	MissingDependencies []string   `json:"missing_dependencies"`
	Breakdown           []CostItem `json:"breakdown"`
}

// CalculateGenerationCost sums the generation cost of every missing
// transitive required dependency plus the target itself.
func (p *Planner) CalculateGenerationCost(target string, available catalog.IDSet) (*CostEstimate, error) {
	order, err := p.SuggestedOrder(target, available)
	if err != nil {
		return nil, err
	}
	est := &CostEstimate{MissingDependencies: []string{}}
	for _, id := range order {
		n, _ := p.reg.Lookup(id)
		est.TotalCost += n.GenerationCost
		est.Breakdown = append(est.Breakdown, CostItem{ID: n.ID, Name: n.Name, Cost: n.GenerationCost})
		if id != target {
			est.MissingDependencies = append(est.MissingDependencies, id)
		}
	}
	est.ResourceCount = len(order)
	return est, nil
}

// SuggestedOrder returns the missing part of target's required closure in a
// valid generation order, ending with target. Ties are broken by catalog
// insertion order so the result is stable across runs.
func (p *Planner) SuggestedOrder(target string, available catalog.IDSet) ([]string, error) {
	closure, err := p.Closure(target, available)
	if err != nil {
		return nil, err
	}
	return p.topoOrder(closure, target), nil
}

// Closure returns the set of catalog resources reachable from target through
// required edges, target included. Traversal stops at ids in available:
// an artifact that already exists needs none of its prerequisites rebuilt.
// Input placeholders are never part of the closure.
func (p *Planner) Closure(target string, available catalog.IDSet) (catalog.IDSet, error) {
	if _, err := p.reg.MustLookup(target); err != nil {
		return nil, err
	}
	closure := catalog.NewIDSet(target)
	stack := []string{target}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n, _ := p.reg.Lookup(id)
		for _, dep := range n.Required {
			if closure.Has(dep) || available.Has(dep) {
				continue
			}
			if _, ok := p.reg.Lookup(dep); !ok {
				continue // input placeholder
			}
			closure[dep] = struct{}{}
			stack = append(stack, dep)
		}
	}
	return closure, nil
}

type posHeap []int

func (h posHeap) Len() int           { return len(h) }
func (h posHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h posHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *posHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *posHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topoOrder runs Kahn's algorithm over the subgraph induced by ids. The ready
// queue is a min-heap on catalog position. target, having no dependents in
// its own closure, is forced last.
func (p *Planner) topoOrder(ids catalog.IDSet, target string) []string {
	indeg := make(map[string]int, len(ids))
	dependents := make(map[string][]string, len(ids))
	for id := range ids {
		n, _ := p.reg.Lookup(id)
		for _, dep := range n.Required {
			if ids.Has(dep) {
				indeg[id]++
				dependents[dep] = append(dependents[dep], id)
			}
		}
	}

	ready := &posHeap{}
	for id := range ids {
		if indeg[id] == 0 && id != target {
			heap.Push(ready, p.reg.Position(id))
		}
	}

	nodes := p.reg.Nodes()
	out := make([]string, 0, len(ids))
	for ready.Len() > 0 {
		id := nodes[heap.Pop(ready).(int)].ID
		out = append(out, id)
		for _, d := range dependents[id] {
			indeg[d]--
			if indeg[d] == 0 && d != target {
				heap.Push(ready, p.reg.Position(d))
			}
		}
	}
	return append(out, target)
}

// Dependents returns every resource whose required closure contains id, in
// catalog order. It answers "what goes stale if id is regenerated".
func (p *Planner) Dependents(id string) ([]string, error) {
	if !p.reg.Known(id) {
		return nil, catalog.UnknownResource(id)
	}
	reverse := make(map[string][]string)
	for _, n := range p.reg.Nodes() {
		for _, dep := range n.Required {
			reverse[dep] = append(reverse[dep], n.ID)
		}
	}
	seen := catalog.NewIDSet()
	stack := []string{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, d := range reverse[cur] {
			if !seen.Has(d) {
				seen[d] = struct{}{}
				stack = append(stack, d)
			}
		}
	}
	out := []string{}
	for _, n := range p.reg.Nodes() {
		if seen.Has(n.ID) {
			out = append(out, n.ID)
		}
	}
	return out, nil
}
