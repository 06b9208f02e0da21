package resolver

import (
	"context"

	"github.com/ernesto27/npm-bazel/logging"
	"github.com/ernesto27/npm-bazel/packagejson"
	"github.com/ernesto27/npm-bazel/tree"
)

// Expander builds the fully expanded tree: every dependency of every node
// becomes its own child. The result is meant to be passed to tree.Dedupe.
type Expander struct {
	oracle    VersionOracle
	manifests ManifestSource
	internal  InternalSet
}

func NewExpander(oracle VersionOracle, manifests ManifestSource, internal InternalSet) *Expander {
	return &Expander{oracle: oracle, manifests: manifests, internal: internal}
}

func (x *Expander) Expand(ctx context.Context, root *packagejson.PackageJSON) (*tree.Tree, error) {
	t := tree.New(root.GetName(), root.GetVersion())
	if err := x.expand(ctx, t, tree.RootID, root, rootRequirements(root)); err != nil {
		return nil, err
	}
	return t, nil
}

// expand adds id's requirements as children and recurses into each in
// lexical order. An identity already on the path from the root is recorded
// as a requirement but not expanded again, which breaks cycles.
func (x *Expander) expand(ctx context.Context, t *tree.Tree, id tree.NodeID, m *packagejson.PackageJSON, reqs []requirement) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	node := t.Node(id)
	skip := skipSet(node, m)
	bundled := m.GetBundledDependencies()

	onPath := map[string]bool{node.Identity(): true}
	for _, anc := range t.Ancestors(id) {
		onPath[t.Node(anc).Identity()] = true
	}

	var created []tree.NodeID
	for _, req := range reqs {
		if skip[req.name] {
			continue
		}

		ident, err := resolveIdentity(ctx, x.oracle, x.internal, req)
		if err != nil {
			return err
		}
		node.Requires[req.name] = ident.Version

		if onPath[ident.String()] {
			logging.FromContext(ctx).Debug("cycle, not expanding", "package", ident.String(), "in", node.Identity())
			continue
		}

		child, err := t.Add(id, ident.Name, ident.Version)
		if err != nil {
			return err
		}
		child.Source = ident.Source
		child.Bundled = sortedCopy(bundled)
		created = append(created, child.ID)
	}

	for _, c := range created {
		cm, err := fetchManifest(ctx, x.manifests, nodeIdentity(t.Node(c)))
		if err != nil {
			return err
		}
		if err := x.expand(ctx, t, c, cm, requirements(cm.GetDependencies())); err != nil {
			return err
		}
	}
	return nil
}
