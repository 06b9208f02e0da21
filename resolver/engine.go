package resolver

import (
	"context"
	"strings"

	"github.com/ernesto27/npm-bazel/logging"
	"github.com/ernesto27/npm-bazel/packagejson"
	"github.com/ernesto27/npm-bazel/tree"
	"github.com/ernesto27/npm-bazel/version"
)

// Engine builds a hoisted tree by choosing an insertion point for every
// dependency as it is declared.
type Engine struct {
	oracle    VersionOracle
	manifests ManifestSource
	internal  InternalSet
}

func NewEngine(oracle VersionOracle, manifests ManifestSource, internal InternalSet) *Engine {
	return &Engine{oracle: oracle, manifests: manifests, internal: internal}
}

// Resolve builds the tree for root. Root dependencies and devDependencies
// are placed first; every other node only contributes its dependencies.
func (e *Engine) Resolve(ctx context.Context, root *packagejson.PackageJSON) (*tree.Tree, error) {
	t := tree.New(root.GetName(), root.GetVersion())

	created, err := e.place(ctx, t, tree.RootID, root, rootRequirements(root))
	if err != nil {
		return nil, err
	}
	if err := e.descend(ctx, t, created); err != nil {
		return nil, err
	}
	return t, nil
}

func (e *Engine) descend(ctx context.Context, t *tree.Tree, created []tree.NodeID) error {
	for _, id := range created {
		if err := ctx.Err(); err != nil {
			return err
		}
		m, err := fetchManifest(ctx, e.manifests, nodeIdentity(t.Node(id)))
		if err != nil {
			return err
		}
		children, err := e.place(ctx, t, id, m, requirements(m.GetDependencies()))
		if err != nil {
			return err
		}
		if err := e.descend(ctx, t, children); err != nil {
			return err
		}
	}
	return nil
}

// place binds every requirement of node and returns the nodes it created,
// in creation order.
func (e *Engine) place(ctx context.Context, t *tree.Tree, id tree.NodeID, m *packagejson.PackageJSON, reqs []requirement) ([]tree.NodeID, error) {
	logger := logging.FromContext(ctx)
	node := t.Node(id)
	skip := skipSet(node, m)
	bundled := m.GetBundledDependencies()

	var created []tree.NodeID
	for _, req := range reqs {
		if skip[req.name] {
			logger.Debug("bundled, skipping", "package", req.name, "in", node.Identity())
			continue
		}

		if version.IsTag(req.rng) && (e.internal == nil || !e.internal.IsInternal(req.name)) {
			// tag ranges are only comparable once the tag is resolved
			if _, err := e.oracle.Resolve(ctx, req.name, req.rng); err != nil {
				return nil, err
			}
		}

		existing, ip := e.insertionPoint(t, id, req)
		if existing != nil {
			node.Requires[req.name] = existing.Version
			logger.Debug("reusing", "package", req.name+"@"+req.rng, "version", existing.Version, "at", strings.Join(t.Path(existing.ID), "/"))
			continue
		}

		ident, err := resolveIdentity(ctx, e.oracle, e.internal, req)
		if err != nil {
			return nil, err
		}

		ip = e.unshadowed(t, id, ip, ident)

		child, err := t.Add(ip, ident.Name, ident.Version)
		if err != nil {
			return nil, err
		}
		child.Source = ident.Source
		child.Bundled = sortedCopy(bundled)
		node.Requires[req.name] = ident.Version
		created = append(created, child.ID)

		logger.Debug("placed", "package", req.name+"@"+req.rng, "version", ident.Version, "at", strings.Join(t.Path(child.ID), "/"))
	}
	return created, nil
}

// insertionPoint walks from id's parent upward. A satisfying copy on the way
// is returned for reuse. The first conflicting copy stops the walk and the
// new node goes just below that ancestor; with no copy at all it goes to the
// root. The root's own children are checked when id is the root.
func (e *Engine) insertionPoint(t *tree.Tree, id tree.NodeID, req requirement) (*tree.Node, tree.NodeID) {
	if id == tree.RootID {
		if c, ok := t.Child(tree.RootID, req.name); ok && e.oracle.Satisfies(req.name, c.Version, req.rng) {
			return c, tree.NoNode
		}
		return nil, tree.RootID
	}

	below := id
	for anc := t.Node(id).Parent; anc != tree.NoNode; anc = t.Node(anc).Parent {
		if c, ok := t.Child(anc, req.name); ok {
			if e.oracle.Satisfies(req.name, c.Version, req.rng) {
				return c, tree.NoNode
			}
			return nil, below
		}
		below = anc
	}
	return nil, tree.RootID
}

// unshadowed moves ip down the chain towards id until a new copy there would
// not hide the copy an already placed node resolves to. id itself is always
// safe: nothing below it has been resolved yet.
func (e *Engine) unshadowed(t *tree.Tree, id, ip tree.NodeID, ident Identity) tree.NodeID {
	chain := append([]tree.NodeID{id}, t.Ancestors(id)...)
	i := 0
	for i < len(chain) && chain[i] != ip {
		i++
	}
	if i == len(chain) {
		return ip
	}
	for i > 0 && t.Shadows(chain[i], ident.Name, ident.Version) {
		i--
	}
	return chain[i]
}
