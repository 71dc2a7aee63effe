package plan

// Components splits the plan into independent sub-plans: the weakly connected
// components of the dependency graph. Operations in different components
// share no dependencies, so components can execute in isolation. Components
// are ordered by the plan position of their first operation; operations keep
// plan order within each component.
func (p *Plan) Components() [][]Operation {
	if len(p.Operations) == 0 {
		return nil
	}

	index := make(map[string]int, len(p.Operations))
	for i, op := range p.Operations {
		index[op.ID] = i
	}

	// Union-find over operation positions.
	parent := make([]int, len(p.Operations))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}
	for i, op := range p.Operations {
		for _, dep := range op.DependsOn {
			if j, ok := index[dep]; ok {
				union(i, j)
			}
		}
	}

	// First-seen root order is the plan position of each component's first
	// operation.
	groups := make(map[int][]Operation)
	var roots []int
	for i, op := range p.Operations {
		root := find(i)
		if _, seen := groups[root]; !seen {
			roots = append(roots, root)
		}
		groups[root] = append(groups[root], op)
	}

	out := make([][]Operation, 0, len(roots))
	for _, root := range roots {
		out = append(out, groups[root])
	}
	return out
}
