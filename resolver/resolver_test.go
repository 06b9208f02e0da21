package resolver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ernesto27/npm-bazel/packagejson"
	"github.com/ernesto27/npm-bazel/tree"
	"github.com/ernesto27/npm-bazel/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pkg(name, ver string, deps map[string]string) *packagejson.PackageJSON {
	return &packagejson.PackageJSON{Name: name, Version: ver, Dependencies: deps}
}

type fakeRegistry struct {
	packages      map[string]map[string]*packagejson.PackageJSON
	internal      map[string]*packagejson.PackageJSON
	tarballs      map[string]*packagejson.PackageJSON
	tags          map[string]map[string]string
	catalogCalls  map[string]int
	manifestCalls map[string]int
}

func newFakeRegistry(manifests ...*packagejson.PackageJSON) *fakeRegistry {
	f := &fakeRegistry{
		packages:      make(map[string]map[string]*packagejson.PackageJSON),
		internal:      make(map[string]*packagejson.PackageJSON),
		tarballs:      make(map[string]*packagejson.PackageJSON),
		tags:          make(map[string]map[string]string),
		catalogCalls:  make(map[string]int),
		manifestCalls: make(map[string]int),
	}
	for _, m := range manifests {
		f.add(m)
	}
	return f
}

func (f *fakeRegistry) add(m *packagejson.PackageJSON) {
	if f.packages[m.Name] == nil {
		f.packages[m.Name] = make(map[string]*packagejson.PackageJSON)
	}
	f.packages[m.Name][m.GetVersion()] = m
}

func (f *fakeRegistry) Catalog(_ context.Context, name string) (*version.Catalog, error) {
	f.catalogCalls[name]++
	c := &version.Catalog{Name: name, DistTags: map[string]string{}}
	for tag, v := range f.tags[name] {
		c.DistTags[tag] = v
	}
	for v := range f.packages[name] {
		c.Versions = append(c.Versions, v)
	}
	return c, nil
}

func (f *fakeRegistry) Manifest(_ context.Context, id Identity) (*packagejson.PackageJSON, error) {
	f.manifestCalls[id.String()]++
	switch id.Version {
	case version.Internal:
		return f.internal[id.Name], nil
	case version.Tarball:
		return f.tarballs[id.Source], nil
	}
	return f.packages[id.Name][id.Version], nil
}

func (f *fakeRegistry) IsInternal(name string) bool {
	_, ok := f.internal[name]
	return ok
}

func build(t *testing.T, strategy Strategy, reg *fakeRegistry, root *packagejson.PackageJSON) (*tree.Tree, *version.Oracle, error) {
	t.Helper()
	oracle := version.NewOracle(reg, nil)
	tr, err := Build(context.Background(), strategy, oracle, reg, reg, root)
	return tr, oracle, err
}

func treeJSON(t *testing.T, tr *tree.Tree) string {
	t.Helper()
	data, err := json.Marshal(tr)
	require.NoError(t, err)
	return string(data)
}

func conflictRegistry() *fakeRegistry {
	return newFakeRegistry(
		pkg("A", "1.0.0", map[string]string{"C": "^2.0.0"}),
		pkg("B", "1.0.0", map[string]string{"C": "^1.0.0"}),
		pkg("C", "1.0.0", nil),
		pkg("C", "1.5.0", nil),
		pkg("C", "2.0.0", nil),
		pkg("C", "2.1.0", nil),
	)
}

// shadowRegistry has N@1 under A resolving X@1 from the root, so its
// sibling R@1 must keep its own X@2 rather than put it at A.
func shadowRegistry() *fakeRegistry {
	return newFakeRegistry(
		pkg("A", "1.0.0", map[string]string{"N": "^1.0.0", "R": "^1.0.0"}),
		pkg("N", "1.0.0", map[string]string{"X": "^1.0.0"}),
		pkg("N", "2.0.0", nil),
		pkg("R", "1.0.0", map[string]string{"X": "^2.0.0"}),
		pkg("R", "2.0.0", nil),
		pkg("X", "1.0.0", nil),
		pkg("X", "2.0.0", nil),
	)
}

var shadowRoot = pkg("app", "1.0.0", map[string]string{"A": "^1.0.0", "N": "^2.0.0", "R": "^2.0.0", "X": "^1.0.0"})

// tagRegistry serves X through the next dist-tag.
func tagRegistry() *fakeRegistry {
	reg := newFakeRegistry(
		pkg("A", "1.0.0", map[string]string{"X": "next"}),
		pkg("X", "1.0.0", nil),
		pkg("X", "2.0.0-beta.1", nil),
	)
	reg.tags["X"] = map[string]string{"latest": "1.0.0", "next": "2.0.0-beta.1"}
	return reg
}

var tagRoot = pkg("app", "1.0.0", map[string]string{"A": "^1.0.0", "X": "next"})

func TestBuild_Scenarios(t *testing.T) {
	testCases := []struct {
		name     string
		registry func() *fakeRegistry
		root     *packagejson.PackageJSON
		expected string
		validate func(t *testing.T, reg *fakeRegistry, oracle *version.Oracle)
	}{
		{
			name:     "Conflicting versions nest below the dependent",
			registry: conflictRegistry,
			root:     pkg("app", "1.0.0", map[string]string{"A": "^1.0.0", "B": "^1.0.0"}),
			expected: `{"name":"app","version":"1.0.0","dependencies":{
				"A":{"version":"1.0.0"},
				"B":{"version":"1.0.0","dependencies":{"C":{"version":"1.5.0"}}},
				"C":{"version":"2.1.0"}}}`,
		},
		{
			name:     "Shared dependency is placed once at the root",
			registry: conflictRegistry,
			root:     pkg("app", "1.0.0", map[string]string{"A": "^1.0.0", "C": "^2.0.0"}),
			expected: `{"name":"app","version":"1.0.0","dependencies":{
				"A":{"version":"1.0.0"},
				"C":{"version":"2.1.0"}}}`,
		},
		{
			name: "Internal package needs no version lookup",
			registry: func() *fakeRegistry {
				reg := newFakeRegistry(pkg("left-pad", "1.3.0", nil))
				reg.internal["X"] = pkg("X", "0.0.1", map[string]string{"left-pad": "^1.0.0"})
				return reg
			},
			root: pkg("app", "1.0.0", map[string]string{"X": "whatever"}),
			expected: `{"name":"app","version":"1.0.0","dependencies":{
				"X":{"version":"INTERNAL"},
				"left-pad":{"version":"1.3.0"}}}`,
			validate: func(t *testing.T, reg *fakeRegistry, oracle *version.Oracle) {
				assert.Zero(t, reg.catalogCalls["X"])
				assert.Equal(t, 1, oracle.Lookups())
			},
		},
		{
			name: "Cycles are broken",
			registry: func() *fakeRegistry {
				return newFakeRegistry(
					pkg("A", "1.0.0", map[string]string{"B": "^1.0.0"}),
					pkg("B", "1.0.0", map[string]string{"A": "^1.0.0"}),
				)
			},
			root: pkg("app", "1.0.0", map[string]string{"A": "^1.0.0"}),
			expected: `{"name":"app","version":"1.0.0","dependencies":{
				"A":{"version":"1.0.0"},
				"B":{"version":"1.0.0"}}}`,
		},
		{
			name: "Tarball dependency keeps its URL",
			registry: func() *fakeRegistry {
				reg := newFakeRegistry(pkg("left-pad", "1.3.0", nil))
				reg.tarballs["https://example.com/u.tgz"] = pkg("u", "0.1.0", map[string]string{"left-pad": "1.3.0"})
				return reg
			},
			root: pkg("app", "1.0.0", map[string]string{"u": "https://example.com/u.tgz"}),
			expected: `{"name":"app","version":"1.0.0","dependencies":{
				"left-pad":{"version":"1.3.0"},
				"u":{"version":"tarball","resolved":"https://example.com/u.tgz"}}}`,
			validate: func(t *testing.T, reg *fakeRegistry, oracle *version.Oracle) {
				assert.Equal(t, 0, oracle.Lookups())
			},
		},
		{
			name:     "New copy does not shadow one a sibling already resolved",
			registry: shadowRegistry,
			root:     shadowRoot,
			expected: `{"name":"app","version":"1.0.0","dependencies":{
				"A":{"version":"1.0.0","dependencies":{
					"N":{"version":"1.0.0"},
					"R":{"version":"1.0.0","dependencies":{"X":{"version":"2.0.0"}}}}},
				"N":{"version":"2.0.0"},
				"R":{"version":"2.0.0"},
				"X":{"version":"1.0.0"}}}`,
		},
		{
			name:     "Dist-tag range reuses the copy resolved from the same tag",
			registry: tagRegistry,
			root:     tagRoot,
			expected: `{"name":"app","version":"1.0.0","dependencies":{
				"A":{"version":"1.0.0"},
				"X":{"version":"2.0.0-beta.1"}}}`,
		},
		{
			name: "Bundled dependencies are not resolved",
			registry: func() *fakeRegistry {
				a := pkg("A", "1.0.0", map[string]string{"D": "^1.0.0", "E": "^1.0.0"})
				a.BundledDependencies = []any{"D"}
				return newFakeRegistry(
					a,
					pkg("E", "1.0.0", map[string]string{"D": "^1.0.0"}),
					pkg("D", "1.0.0", nil),
				)
			},
			root: pkg("app", "1.0.0", map[string]string{"A": "^1.0.0"}),
			expected: `{"name":"app","version":"1.0.0","dependencies":{
				"A":{"version":"1.0.0"},
				"E":{"version":"1.0.0"}}}`,
			validate: func(t *testing.T, reg *fakeRegistry, oracle *version.Oracle) {
				assert.Zero(t, reg.catalogCalls["D"])
			},
		},
	}

	for _, tc := range testCases {
		for _, strategy := range []Strategy{StrategyHoist, StrategyDedupe} {
			t.Run(tc.name+"/"+string(strategy), func(t *testing.T) {
				reg := tc.registry()
				tr, oracle, err := build(t, strategy, reg, tc.root)
				require.NoError(t, err)
				assert.JSONEq(t, tc.expected, treeJSON(t, tr))
				assert.Empty(t, tr.Unsatisfied())
				if tc.validate != nil {
					tc.validate(t, reg, oracle)
				}
			})
		}
	}
}

func TestEngine_DevDependencies(t *testing.T) {
	reg := newFakeRegistry(
		pkg("A", "1.0.0", nil),
		pkg("J", "1.0.0", nil),
		pkg("J", "2.0.0", nil),
	)
	reg.packages["A"]["1.0.0"].DevDependencies = map[string]string{"never": "^1.0.0"}

	root := pkg("app", "1.0.0", map[string]string{"A": "^1.0.0", "J": "^1.0.0"})
	root.DevDependencies = map[string]string{"J": "^2.0.0"}

	tr, _, err := build(t, StrategyHoist, reg, root)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"app","version":"1.0.0","dependencies":{
		"A":{"version":"1.0.0"},
		"J":{"version":"1.0.0"}}}`, treeJSON(t, tr))
	assert.Zero(t, reg.catalogCalls["never"])

	root.DevDependencies = map[string]string{"K": "^1.0.0"}
	reg.add(pkg("K", "1.2.0", nil))
	tr, _, err = build(t, StrategyHoist, reg, root)
	require.NoError(t, err)
	_, ok := tr.Child(tree.RootID, "K")
	assert.True(t, ok)
}

func TestBuild_Errors(t *testing.T) {
	testCases := []struct {
		name        string
		registry    func() *fakeRegistry
		root        *packagejson.PackageJSON
		expectError error
	}{
		{
			name:        "Unsatisfiable range",
			registry:    conflictRegistry,
			root:        pkg("app", "1.0.0", map[string]string{"C": "^9.0.0"}),
			expectError: version.ErrUnsatisfiableRange,
		},
		{
			name:        "Transitive unsatisfiable range",
			registry:    func() *fakeRegistry { return newFakeRegistry(pkg("A", "1.0.0", map[string]string{"Z": "^1.0.0"})) },
			root:        pkg("app", "1.0.0", map[string]string{"A": "^1.0.0"}),
			expectError: version.ErrUnsatisfiableRange,
		},
		{
			name: "Missing manifest",
			registry: func() *fakeRegistry {
				reg := newFakeRegistry()
				reg.internal["X"] = nil
				return reg
			},
			root:        pkg("app", "1.0.0", map[string]string{"X": "*"}),
			expectError: ErrMissingArtifact,
		},
	}

	for _, tc := range testCases {
		for _, strategy := range []Strategy{StrategyHoist, StrategyDedupe} {
			t.Run(tc.name+"/"+string(strategy), func(t *testing.T) {
				_, _, err := build(t, strategy, tc.registry(), tc.root)
				assert.ErrorIs(t, err, tc.expectError)
			})
		}
	}
}

// largeRegistry is a graph with diamonds, conflicts and a cycle.
func largeRegistry() *fakeRegistry {
	return newFakeRegistry(
		pkg("a", "1.0.0", map[string]string{"b": "^1.0.0", "c": "^1.0.0", "d": "^2.0.0"}),
		pkg("b", "1.0.0", map[string]string{"d": "^1.0.0", "e": "^1.0.0"}),
		pkg("b", "2.0.0", map[string]string{"e": "^2.0.0"}),
		pkg("c", "1.0.0", map[string]string{"b": "^2.0.0", "f": "^1.0.0"}),
		pkg("d", "1.0.0", map[string]string{"f": "^1.0.0"}),
		pkg("d", "2.0.0", map[string]string{"a": "^1.0.0"}),
		pkg("e", "1.0.0", nil),
		pkg("e", "2.0.0", map[string]string{"f": "^2.0.0"}),
		pkg("f", "1.0.0", nil),
		pkg("f", "2.0.0", nil),
		pkg("g", "1.0.0", map[string]string{"b": "^1.0.0", "e": "^2.0.0"}),
	)
}

type graph struct {
	name     string
	registry func() *fakeRegistry
	root     *packagejson.PackageJSON
}

// propertyGraphs are the graphs the tree properties are checked against.
func propertyGraphs() []graph {
	return []graph{
		{name: "large", registry: largeRegistry, root: pkg("app", "1.0.0", map[string]string{"a": "^1.0.0", "g": "^1.0.0"})},
		{name: "shadow", registry: shadowRegistry, root: shadowRoot},
		{name: "tag", registry: tagRegistry, root: tagRoot},
		{name: "conflict", registry: conflictRegistry, root: pkg("app", "1.0.0", map[string]string{"A": "^1.0.0", "B": "^1.0.0"})},
	}
}

func TestEngine_Properties(t *testing.T) {
	for _, g := range propertyGraphs() {
		for _, strategy := range []Strategy{StrategyHoist, StrategyDedupe} {
			t.Run(g.name+"/"+string(strategy), func(t *testing.T) {
				reg := g.registry()
				first, oracle, err := build(t, strategy, reg, g.root)
				require.NoError(t, err)
				second, _, err := build(t, strategy, g.registry(), g.root)
				require.NoError(t, err)

				// determinism
				assert.Equal(t, treeJSON(t, first), treeJSON(t, second))

				// every declared range is met by what the node resolves to
				first.Walk(func(n *tree.Node) bool {
					declared := g.root.GetDependencies()
					if n.ID != tree.RootID {
						declared = reg.packages[n.Name][n.Version].GetDependencies()
					}
					for name, rng := range declared {
						found, ok := first.Lookup(n.ID, name)
						if assert.True(t, ok, "%s cannot see %s", n.Identity(), name) {
							assert.True(t, oracle.Satisfies(name, found.Version, rng), "%s needs %s@%s, sees %s", n.Identity(), name, rng, found.Version)
						}
					}
					return true
				})
				assert.Empty(t, first.Unsatisfied())
			})
		}
	}
}

// Every nested node is either blocked by a different version one level up
// or would break a requirement if moved there.
func TestEngine_HoistingMaximality(t *testing.T) {
	for _, g := range propertyGraphs() {
		for _, strategy := range []Strategy{StrategyHoist, StrategyDedupe} {
			t.Run(g.name+"/"+string(strategy), func(t *testing.T) {
				tr, _, err := build(t, strategy, g.registry(), g.root)
				require.NoError(t, err)

				for _, id := range tr.Subtree(tree.RootID) {
					n := tr.Node(id)
					if n.ID == tree.RootID || n.Parent == tree.RootID {
						continue
					}
					parent := n.Parent
					grandparent := tr.Node(parent).Parent
					if blocker, ok := tr.Child(grandparent, n.Name); ok {
						assert.NotEqual(t, n.Version, blocker.Version, "%s at %v duplicates an ancestor copy", n.Identity(), tr.Path(id))
						continue
					}

					require.NoError(t, tr.Move(id, grandparent))
					assert.NotEmpty(t, tr.Unsatisfied(), "%s at %v could move up", n.Identity(), tr.Path(id))
					require.NoError(t, tr.Move(id, parent))
				}
			})
		}
	}
}
