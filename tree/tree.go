package tree

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
)

// NodeID indexes a node in the tree arena.
type NodeID int

const (
	RootID NodeID = 0
	NoNode NodeID = -1
)

// Node is one installed package. Parent is only used for lookups; ownership
// goes through Children.
type Node struct {
	ID       NodeID
	Name     string
	Version  string
	Source   string
	Depth    int
	Parent   NodeID
	Children map[string]NodeID
	Bundled  []string
	// Requires maps each dependency name to the version this node was bound to.
	Requires map[string]string

	removed bool
}

// Identity returns name@version.
func (n *Node) Identity() string {
	return n.Name + "@" + n.Version
}

// IsBundled reports whether name ships inside this node's tarball.
func (n *Node) IsBundled(name string) bool {
	i := sort.SearchStrings(n.Bundled, name)
	return i < len(n.Bundled) && n.Bundled[i] == name
}

// Tree is an arena of nodes. Node 0 is the root. Removed nodes stay in the
// arena but are no longer reachable.
type Tree struct {
	nodes []*Node
}

func New(rootName, rootVersion string) *Tree {
	t := &Tree{}
	t.nodes = append(t.nodes, &Node{
		ID:       RootID,
		Name:     rootName,
		Version:  rootVersion,
		Parent:   NoNode,
		Children: make(map[string]NodeID),
		Requires: make(map[string]string),
	})
	return t
}

func (t *Tree) Root() *Node {
	return t.nodes[RootID]
}

func (t *Tree) Node(id NodeID) *Node {
	return t.nodes[id]
}

// Add creates name@version under parent. Adding a name the parent already
// holds is a programming error.
func (t *Tree) Add(parent NodeID, name, ver string) (*Node, error) {
	p := t.nodes[parent]
	if existing, ok := p.Children[name]; ok {
		return nil, fmt.Errorf("%s already contains %s", t.describe(parent), t.nodes[existing].Identity())
	}

	n := &Node{
		ID:       NodeID(len(t.nodes)),
		Name:     name,
		Version:  ver,
		Depth:    p.Depth + 1,
		Parent:   parent,
		Children: make(map[string]NodeID),
		Requires: make(map[string]string),
	}
	t.nodes = append(t.nodes, n)
	p.Children[name] = n.ID
	return n, nil
}

// Child returns the child called name, if any.
func (t *Tree) Child(id NodeID, name string) (*Node, bool) {
	c, ok := t.nodes[id].Children[name]
	if !ok {
		return nil, false
	}
	return t.nodes[c], true
}

// ChildNames returns the child names of id in lexical order.
func (t *Tree) ChildNames(id NodeID) []string {
	children := t.nodes[id].Children
	names := make([]string, 0, len(children))
	for name := range children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Remove detaches the subtree rooted at id.
func (t *Tree) Remove(id NodeID) {
	t.detach(id)
	t.markRemoved(id, true)
}

// Move re-parents the subtree rooted at id under newParent.
func (t *Tree) Move(id, newParent NodeID) error {
	n := t.nodes[id]
	if _, ok := t.nodes[newParent].Children[n.Name]; ok {
		return fmt.Errorf("%s already contains %s", t.describe(newParent), n.Name)
	}
	t.detach(id)
	t.attach(id, newParent)
	return nil
}

func (t *Tree) detach(id NodeID) {
	n := t.nodes[id]
	if n.Parent == NoNode {
		return
	}
	delete(t.nodes[n.Parent].Children, n.Name)
}

func (t *Tree) attach(id, parent NodeID) {
	n := t.nodes[id]
	n.Parent = parent
	t.nodes[parent].Children[n.Name] = id
	t.setDepth(id, t.nodes[parent].Depth+1)
}

func (t *Tree) setDepth(id NodeID, depth int) {
	n := t.nodes[id]
	n.Depth = depth
	for _, c := range n.Children {
		t.setDepth(c, depth+1)
	}
}

func (t *Tree) markRemoved(id NodeID, removed bool) {
	n := t.nodes[id]
	n.removed = removed
	for _, c := range n.Children {
		t.markRemoved(c, removed)
	}
}

// Reachable reports whether id is still part of the tree.
func (t *Tree) Reachable(id NodeID) bool {
	return !t.nodes[id].removed
}

// Ancestors returns the chain from id's parent up to the root.
func (t *Tree) Ancestors(id NodeID) []NodeID {
	var out []NodeID
	for p := t.nodes[id].Parent; p != NoNode; p = t.nodes[p].Parent {
		out = append(out, p)
	}
	return out
}

// Path returns the names from the root's child down to id.
func (t *Tree) Path(id NodeID) []string {
	var names []string
	for cur := id; cur != RootID && cur != NoNode; cur = t.nodes[cur].Parent {
		names = append(names, t.nodes[cur].Name)
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return names
}

// InstallPath returns base/node_modules/a/node_modules/b for id.
func (t *Tree) InstallPath(base string, id NodeID) string {
	p := base
	for _, name := range t.Path(id) {
		p = filepath.Join(p, "node_modules", name)
	}
	return p
}

func (t *Tree) describe(id NodeID) string {
	if id == RootID {
		return "root"
	}
	return fmt.Sprintf("%v", t.Path(id))
}

// Walk visits reachable nodes pre-order, children in lexical order. The root
// is visited first. Returning false skips the node's children.
func (t *Tree) Walk(fn func(n *Node) bool) {
	t.walk(RootID, fn)
}

func (t *Tree) walk(id NodeID, fn func(n *Node) bool) {
	if !fn(t.nodes[id]) {
		return
	}
	for _, name := range t.ChildNames(id) {
		t.walk(t.nodes[id].Children[name], fn)
	}
}

// Subtree returns id and all its descendants pre-order.
func (t *Tree) Subtree(id NodeID) []NodeID {
	var out []NodeID
	t.walk(id, func(n *Node) bool {
		out = append(out, n.ID)
		return true
	})
	return out
}

// Len is the number of reachable nodes excluding the root.
func (t *Tree) Len() int {
	return len(t.Subtree(RootID)) - 1
}

// Lookup resolves name as seen from id: id's own children first, then the
// children of each ancestor up to the root.
func (t *Tree) Lookup(id NodeID, name string) (*Node, bool) {
	for cur := id; cur != NoNode; cur = t.nodes[cur].Parent {
		if c, ok := t.nodes[cur].Children[name]; ok {
			return t.nodes[c], true
		}
	}
	return nil, false
}

// Violation is a requirement of Node that resolves to the wrong version or
// to nothing.
type Violation struct {
	Node NodeID
	Name string
}

// Unsatisfied checks the requirements of every reachable node.
func (t *Tree) Unsatisfied() []Violation {
	return t.unsatisfied(t.Subtree(RootID), "")
}

// unsatisfied checks the given nodes. A non-empty only restricts the check
// to that dependency name.
func (t *Tree) unsatisfied(ids []NodeID, only string) []Violation {
	var out []Violation
	for _, id := range ids {
		n := t.nodes[id]
		if n.removed {
			continue
		}
		names := make([]string, 0, len(n.Requires))
		for name := range n.Requires {
			if only == "" || name == only {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		for _, name := range names {
			if !t.bound(id, name, n.Requires[name]) {
				out = append(out, Violation{Node: id, Name: name})
			}
		}
	}
	return out
}

func (t *Tree) bound(id NodeID, name, want string) bool {
	found, ok := t.Lookup(id, name)
	return ok && found.Version == want
}

// Identities returns the distinct name@version pairs in the tree, sorted.
func (t *Tree) Identities() []string {
	seen := make(map[string]bool)
	t.Walk(func(n *Node) bool {
		if n.ID != RootID {
			seen[n.Identity()] = true
		}
		return true
	})
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

type exportNode struct {
	Version      string                 `json:"version"`
	Resolved     string                 `json:"resolved,omitempty"`
	Dependencies map[string]*exportNode `json:"dependencies,omitempty"`
}

func (t *Tree) export(id NodeID) *exportNode {
	n := t.nodes[id]
	out := &exportNode{Version: n.Version, Resolved: n.Source}
	if len(n.Children) > 0 {
		out.Dependencies = make(map[string]*exportNode, len(n.Children))
		for name, c := range n.Children {
			out.Dependencies[name] = t.export(c)
		}
	}
	return out
}

// MarshalJSON renders the tree in npm-shrinkwrap shape.
func (t *Tree) MarshalJSON() ([]byte, error) {
	root := t.export(RootID)
	if root.Dependencies == nil {
		root.Dependencies = map[string]*exportNode{}
	}
	return json.Marshal(struct {
		Name         string                 `json:"name"`
		Version      string                 `json:"version"`
		Dependencies map[string]*exportNode `json:"dependencies"`
	}{
		Name:         t.Root().Name,
		Version:      t.Root().Version,
		Dependencies: root.Dependencies,
	})
}
