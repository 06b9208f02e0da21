package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ernesto27/npm-bazel/packagejson"
	"github.com/ernesto27/npm-bazel/tree"
	"github.com/ernesto27/npm-bazel/version"
)

// ErrMissingArtifact means a version was resolved but its manifest or files
// cannot be produced.
var ErrMissingArtifact = errors.New("missing dependency artifact")

// Identity is a concrete package: a semver version, INTERNAL or tarball.
// Tarball identities keep their URL in Source.
type Identity struct {
	Name    string
	Version string
	Source  string
}

func (i Identity) String() string {
	return i.Name + "@" + i.Version
}

// VersionOracle maps a (name, range) pair to a concrete version.
type VersionOracle interface {
	Resolve(ctx context.Context, name, rng string) (string, error)
	Satisfies(name, resolvedVersion, rng string) bool
}

// ManifestSource returns the manifest of a concrete identity.
type ManifestSource interface {
	Manifest(ctx context.Context, id Identity) (*packagejson.PackageJSON, error)
}

// InternalSet knows which names are workspace packages.
type InternalSet interface {
	IsInternal(name string) bool
}

// Strategy selects how duplicate packages are avoided.
type Strategy string

const (
	// StrategyHoist places each dependency at its insertion point while building.
	StrategyHoist Strategy = "hoist"
	// StrategyDedupe expands the full tree and deduplicates it afterwards.
	StrategyDedupe Strategy = "dedupe"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategyHoist:
		return StrategyHoist, nil
	case StrategyDedupe:
		return StrategyDedupe, nil
	default:
		return "", fmt.Errorf("unknown strategy %q (want hoist or dedupe)", s)
	}
}

// Build resolves root with the chosen strategy.
func Build(ctx context.Context, strategy Strategy, oracle VersionOracle, manifests ManifestSource, internal InternalSet, root *packagejson.PackageJSON) (*tree.Tree, error) {
	switch strategy {
	case StrategyDedupe:
		t, err := NewExpander(oracle, manifests, internal).Expand(ctx, root)
		if err != nil {
			return nil, err
		}
		tree.Dedupe(t)
		return t, nil
	default:
		return NewEngine(oracle, manifests, internal).Resolve(ctx, root)
	}
}

type requirement struct {
	name string
	rng  string
}

// rootRequirements lists dependencies then devDependencies, each in lexical
// order. Dev entries already declared as dependencies are dropped.
func rootRequirements(root *packagejson.PackageJSON) []requirement {
	deps := root.GetDependencies()
	reqs := requirements(deps)
	dev := root.GetDevDependencies()
	for _, name := range packagejson.SortedNames(dev) {
		if _, ok := deps[name]; ok {
			continue
		}
		reqs = append(reqs, requirement{name: name, rng: dev[name]})
	}
	return reqs
}

func requirements(deps map[string]string) []requirement {
	reqs := make([]requirement, 0, len(deps))
	for _, name := range packagejson.SortedNames(deps) {
		reqs = append(reqs, requirement{name: name, rng: deps[name]})
	}
	return reqs
}

// skipSet is the set of names a node does not resolve because they ship
// inside a tarball: the node's inherited bundle plus its own.
func skipSet(n *tree.Node, m *packagejson.PackageJSON) map[string]bool {
	skip := make(map[string]bool)
	for _, name := range n.Bundled {
		skip[name] = true
	}
	if n.ID != tree.RootID {
		for _, name := range m.GetBundledDependencies() {
			skip[name] = true
		}
	}
	return skip
}

// resolveIdentity turns a requirement into an identity without touching the
// oracle for workspace packages.
func resolveIdentity(ctx context.Context, oracle VersionOracle, internal InternalSet, req requirement) (Identity, error) {
	if internal != nil && internal.IsInternal(req.name) {
		return Identity{Name: req.name, Version: version.Internal}, nil
	}
	v, err := oracle.Resolve(ctx, req.name, req.rng)
	if err != nil {
		return Identity{}, err
	}
	id := Identity{Name: req.name, Version: v}
	if v == version.Tarball {
		id.Source = req.rng
	}
	return id, nil
}

func fetchManifest(ctx context.Context, manifests ManifestSource, id Identity) (*packagejson.PackageJSON, error) {
	m, err := manifests.Manifest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("manifest of %s: %w", id, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingArtifact, id)
	}
	return m, nil
}

func nodeIdentity(n *tree.Node) Identity {
	return Identity{Name: n.Name, Version: n.Version, Source: n.Source}
}

func sortedCopy(names []string) []string {
	out := append([]string(nil), names...)
	sort.Strings(out)
	return out
}
