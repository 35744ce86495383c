package catalog

// TierConfig resolves the tier assignment for target. The second return is
// true when the assignment is registered explicitly and false when a default
// was synthesized from the node's dependencies.
func (r *Registry) TierConfig(target string) (TierAssignment, bool, error) {
	node, err := r.MustLookup(target)
	if err != nil {
		return TierAssignment{}, false, err
	}
	if ta, ok := r.tiers[target]; ok {
		return ta.clone(), true, nil
	}
	return defaultAssignment(node), false, nil
}

// HasTierConfig reports whether target has an explicit assignment.
func (r *Registry) HasTierConfig(target string) bool {
	_, ok := r.tiers[target]
	return ok
}

// defaultAssignment places the product fields (and the ICP when required) in
// tier 1, remaining required deps in tier 2, the first few optional deps in
// tier 3 and the rest in tier 4.
func defaultAssignment(n *ResourceNode) TierAssignment {
	placed := NewIDSet()
	ta := TierAssignment{Budget: DefaultBudget}

	ta.Critical = []string{ProductNameID, ProductDescriptionID}
	for _, dep := range n.Required {
		if dep == ICPAnalysisID {
			ta.Critical = append(ta.Critical, ICPAnalysisID)
			break
		}
	}
	for _, id := range ta.Critical {
		placed[id] = struct{}{}
	}

	for _, dep := range n.Required {
		if !placed.Has(dep) {
			ta.Required = append(ta.Required, dep)
			placed[dep] = struct{}{}
		}
	}

	for _, dep := range n.Optional {
		if placed.Has(dep) {
			continue
		}
		placed[dep] = struct{}{}
		if len(ta.Optional) < defaultOptionalSlots {
			ta.Optional = append(ta.Optional, dep)
		} else {
			ta.Skip = append(ta.Skip, dep)
		}
	}
	return ta
}

func (ta TierAssignment) clone() TierAssignment {
	cp := func(s []string) []string {
		if s == nil {
			return nil
		}
		return append([]string(nil), s...)
	}
	return TierAssignment{
		Critical: cp(ta.Critical),
		Required: cp(ta.Required),
		Optional: cp(ta.Optional),
		Skip:     cp(ta.Skip),
		Budget:   ta.Budget,
	}
}
