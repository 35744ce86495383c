package catalog

import (
	"fmt"
	"strings"
)

// validate checks the structural invariants of a freshly parsed catalog.
func (r *Registry) validate() error {
	for _, n := range r.nodes {
		if n.Tier < 1 {
			return fmt.Errorf("resource %q: tier must be >= 1, got %d", n.ID, n.Tier)
		}
		seen := NewIDSet()
		for _, dep := range n.Required {
			if err := r.checkEdge(n, dep, seen); err != nil {
				return err
			}
			d, ok := r.Lookup(dep)
			if ok && d.Tier > n.Tier {
				return fmt.Errorf("resource %q (tier %d) requires %q from later tier %d", n.ID, n.Tier, dep, d.Tier)
			}
		}
		for _, dep := range n.Optional {
			if err := r.checkEdge(n, dep, seen); err != nil {
				return err
			}
		}
	}

	if cycle := r.findCycle(); cycle != nil {
		return fmt.Errorf("dependency cycle: %s", strings.Join(cycle, " -> "))
	}

	for target, ta := range r.tiers {
		if _, ok := r.Lookup(target); !ok {
			return fmt.Errorf("tier assignment for %w: %s", ErrUnknownResource, target)
		}
		if err := r.checkAssignment(target, ta); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) checkEdge(n *ResourceNode, dep string, seen IDSet) error {
	if dep == n.ID {
		return fmt.Errorf("resource %q depends on itself", n.ID)
	}
	if !r.Known(dep) {
		return fmt.Errorf("resource %q depends on %w: %s", n.ID, ErrUnknownResource, dep)
	}
	if seen.Has(dep) {
		return fmt.Errorf("resource %q lists dependency %q twice", n.ID, dep)
	}
	seen[dep] = struct{}{}
	return nil
}

// checkAssignment enforces disjoint tier lists and a consistent budget total.
func (r *Registry) checkAssignment(target string, ta TierAssignment) error {
	b := ta.Budget
	if b.Tier1 < 0 || b.Tier2 < 0 || b.Tier3 < 0 {
		return fmt.Errorf("tier assignment %q: negative budget", target)
	}
	if b.Total != b.Tier1+b.Tier2+b.Tier3 {
		return fmt.Errorf("tier assignment %q: budget total %d != %d+%d+%d",
			target, b.Total, b.Tier1, b.Tier2, b.Tier3)
	}

	placed := make(map[string]string)
	lists := []struct {
		name string
		ids  []string
	}{
		{"tier1", ta.Critical},
		{"tier2", ta.Required},
		{"tier3", ta.Optional},
		{"tier4", ta.Skip},
	}
	for _, l := range lists {
		for _, id := range l.ids {
			if !r.Known(id) {
				return fmt.Errorf("tier assignment %q %s: %w: %s", target, l.name, ErrUnknownResource, id)
			}
			if prev, dup := placed[id]; dup {
				return fmt.Errorf("tier assignment %q: %q appears in both %s and %s", target, id, prev, l.name)
			}
			placed[id] = l.name
		}
	}
	return nil
}

// findCycle runs a DFS over required and optional edges in insertion order
// and returns one cycle path, or nil when the graph is acyclic.
func (r *Registry) findCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make([]int, len(r.nodes))
	parent := make([]int, len(r.nodes))
	for i := range parent {
		parent[i] = -1
	}

	var cycle []int
	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		n := r.nodes[u]
		deps := append(append([]string(nil), n.Required...), n.Optional...)
		for _, dep := range deps {
			v, ok := r.index[dep]
			if !ok {
				continue // input placeholder
			}
			switch color[v] {
			case white:
				parent[v] = u
				if dfs(v) {
					return true
				}
			case gray:
				cycle = append(cycle, v)
				for cur := u; cur != -1 && cur != v; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}

	for i := range r.nodes {
		if color[i] == white && dfs(i) {
			break
		}
	}
	if cycle == nil {
		return nil
	}

	out := make([]string, len(cycle))
	for i, idx := range cycle {
		out[len(cycle)-1-i] = r.nodes[idx].ID
	}
	return out
}
