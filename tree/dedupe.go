package tree

// Dedupe hoists nodes of a fully expanded tree as high as they can go and
// drops copies made redundant by an identical ancestor copy. Passes run
// pre-order in lexical child order until one makes no change. It returns the
// number of moves and removals performed.
//
// A move or removal is only kept if every requirement that resolved before
// still resolves afterwards, so hoisting never shadows a copy some other
// node depends on.
func Dedupe(t *Tree) int {
	total := 0
	for {
		changed := dedupePass(t)
		if changed == 0 {
			return total
		}
		total += changed
	}
}

func dedupePass(t *Tree) int {
	changes := 0
	for _, id := range t.Subtree(RootID) {
		n := t.nodes[id]
		if id == RootID || n.removed || n.Parent == RootID {
			continue
		}
		changes += t.hoist(id)
	}
	return changes
}

// hoist walks the ancestors above id's parent.
func (t *Tree) hoist(id NodeID) int {
	n := t.nodes[id]
	changes := 0

	for anc := t.nodes[n.Parent].Parent; anc != NoNode; anc = t.nodes[anc].Parent {
		existing, ok := t.Child(anc, n.Name)
		if ok {
			if existing.Version != n.Version {
				return changes
			}
			parent := n.Parent
			removed := t.preserves(id, anc,
				func() { t.Remove(id) },
				func() {
					t.nodes[parent].Children[n.Name] = id
					t.markRemoved(id, false)
				})
			if removed {
				changes++
			}
			return changes
		}

		parent := n.Parent
		moved := t.preserves(id, anc,
			func() { _ = t.Move(id, anc) },
			func() { _ = t.Move(id, parent) })
		if !moved {
			return changes
		}
		changes++
	}

	return changes
}

// preserves applies change and keeps it if no requirement that held before
// is broken by it. Otherwise undo runs and it returns false.
//
// The nodes that can observe a change to id's position are id's own subtree
// and the nodes under anc that depend on id's name.
func (t *Tree) preserves(id, anc NodeID, change, undo func()) bool {
	name := t.nodes[id].Name
	own := t.Subtree(id)

	inOwn := make(map[NodeID]bool, len(own))
	for _, o := range own {
		inOwn[o] = true
	}

	var dependents []NodeID
	for _, d := range t.requirers(anc, name) {
		if !inOwn[d] {
			dependents = append(dependents, d)
		}
	}

	check := func() []Violation {
		out := t.unsatisfied(own, "")
		return append(out, t.unsatisfied(dependents, name)...)
	}

	before := make(map[Violation]bool)
	for _, v := range check() {
		before[v] = true
	}

	change()

	for _, v := range check() {
		if !before[v] {
			undo()
			return false
		}
	}
	return true
}

// requirers lists the nodes under pos, pos included, that require name.
func (t *Tree) requirers(pos NodeID, name string) []NodeID {
	var out []NodeID
	for _, d := range t.Subtree(pos) {
		if _, ok := t.nodes[d].Requires[name]; ok {
			out = append(out, d)
		}
	}
	return out
}

// Shadows reports whether adding name@ver as a child of pos would hide the
// copy some node under pos currently resolves name to from above pos.
func (t *Tree) Shadows(pos NodeID, name, ver string) bool {
	under := make(map[NodeID]bool)
	for _, id := range t.Subtree(pos) {
		under[id] = true
	}
	for _, d := range t.requirers(pos, name) {
		want := t.nodes[d].Requires[name]
		if want == ver {
			continue
		}
		found, ok := t.Lookup(d, name)
		if ok && found.Version == want && !under[found.Parent] {
			return true
		}
	}
	return false
}
