package list

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ernesto27/npm-bazel/tree"
	"github.com/ernesto27/npm-bazel/version"
)

// Lister prints a resolved tree the way it is laid out in node_modules.
type Lister struct {
	Tree    *tree.Tree
	ShowAll bool
	// Dev holds root requirements that come only from devDependencies.
	Dev map[string]bool
	Out io.Writer

	name    lipgloss.Style
	version lipgloss.Style
	muted   lipgloss.Style
}

func New(t *tree.Tree, dev []string) *Lister {
	l := &Lister{Tree: t, Dev: make(map[string]bool)}
	for _, name := range dev {
		l.Dev[name] = true
	}
	return l
}

func (l *Lister) Print() {
	out := l.Out
	if out == nil {
		out = os.Stdout
	}
	r := lipgloss.NewRenderer(out)
	l.name = r.NewStyle().Bold(true)
	l.version = r.NewStyle().Foreground(lipgloss.Color("35"))
	l.muted = r.NewStyle().Foreground(lipgloss.Color("240"))

	root := l.Tree.Root()
	if root.Version != "" {
		fmt.Fprintf(out, "%s@%s\n", l.name.Render(root.Name), l.version.Render(root.Version))
	} else {
		fmt.Fprintln(out, l.name.Render(root.Name))
	}

	l.printChildren(out, tree.RootID, "", 0)
	fmt.Fprintf(out, "\n%d packages\n", l.Tree.Len())
}

func (l *Lister) printChildren(out io.Writer, id tree.NodeID, indent string, depth int) {
	names := l.Tree.ChildNames(id)
	for i, name := range names {
		child, _ := l.Tree.Child(id, name)

		prefix := "├──"
		newIndent := indent + "│   "
		if i == len(names)-1 {
			prefix = "└──"
			newIndent = indent + "    "
		}

		fmt.Fprintf(out, "%s%s %s\n", indent, prefix, l.label(child, depth))

		if l.ShowAll {
			l.printChildren(out, child.ID, newIndent, depth+1)
		}
	}
}

func (l *Lister) label(n *tree.Node, depth int) string {
	var b strings.Builder
	b.WriteString(n.Name)
	b.WriteString("@")
	switch n.Version {
	case version.Tarball:
		b.WriteString(l.version.Render(n.Source))
	default:
		b.WriteString(l.version.Render(n.Version))
	}
	if depth == 0 && l.Dev[n.Name] {
		b.WriteString(l.muted.Render(" (dev)"))
	}
	return b.String()
}
