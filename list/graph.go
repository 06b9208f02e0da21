package list

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-graphviz"

	"github.com/ernesto27/npm-bazel/tree"
)

// ToDOT renders the requirement edges of t as a Graphviz digraph. Each
// placed node is its own vertex, so a package nested in two places shows up
// twice.
func ToDOT(t *tree.Tree) string {
	var buf bytes.Buffer
	buf.WriteString("digraph G {\n")
	buf.WriteString("  rankdir=LR;\n")
	buf.WriteString("  node [shape=box, style=\"rounded,filled\", fillcolor=white];\n")
	buf.WriteString("\n")

	var edges []string
	t.Walk(func(n *tree.Node) bool {
		attrs := []string{fmt.Sprintf("label=%q", n.Identity())}
		if n.ID == tree.RootID {
			attrs = append(attrs, "fillcolor=lightgrey")
		} else if n.Depth > 1 {
			attrs = append(attrs, fmt.Sprintf("tooltip=%q", strings.Join(t.Path(n.ID), " > ")))
		}
		fmt.Fprintf(&buf, "  %q [%s];\n", vertex(n), strings.Join(attrs, ", "))

		names := make([]string, 0, len(n.Requires))
		for name := range n.Requires {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if dep, ok := t.Lookup(n.ID, name); ok {
				edges = append(edges, fmt.Sprintf("  %q -> %q;\n", vertex(n), vertex(dep)))
			}
		}
		return true
	})

	buf.WriteString("\n")
	for _, e := range edges {
		buf.WriteString(e)
	}
	buf.WriteString("}\n")
	return buf.String()
}

func vertex(n *tree.Node) string {
	return fmt.Sprintf("n%d", n.ID)
}

// RenderSVG lays out a DOT document with the embedded Graphviz.
func RenderSVG(ctx context.Context, dot string) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("init graphviz: %w", err)
	}
	defer gv.Close()

	g, err := graphviz.ParseBytes([]byte(dot))
	if err != nil {
		return nil, fmt.Errorf("parse DOT: %w", err)
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, graphviz.SVG, &buf); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return buf.Bytes(), nil
}
