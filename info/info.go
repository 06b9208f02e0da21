package info

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/charmbracelet/lipgloss"

	"github.com/ernesto27/npm-bazel/buildgen"
	"github.com/ernesto27/npm-bazel/packagejson"
	"github.com/ernesto27/npm-bazel/registry"
	"github.com/ernesto27/npm-bazel/version"
)

// Source is the registry view the report is built from.
type Source interface {
	Catalog(ctx context.Context, name string) (*version.Catalog, error)
	Manifest(ctx context.Context, name, ver string) (*packagejson.PackageJSON, error)
	Dist(ctx context.Context, name, ver string) (registry.Dist, error)
}

// Resolver maps a range to a version, usually a *version.Oracle.
type Resolver interface {
	Resolve(ctx context.Context, name, rng string) (string, error)
}

// Report is what the version oracle picked for one (name, range) pair.
type Report struct {
	Name         string
	Range        string
	Version      string
	Versions     int
	DistTags     map[string]string
	Dist         registry.Dist
	Dependencies map[string]string
	Bundled      []string
	Rule         string
}

// Info resolves a requirement the same way install does and describes the
// result.
type Info struct {
	source   Source
	resolver Resolver
	Out      io.Writer
}

func New(source Source, resolver Resolver) *Info {
	return &Info{source: source, resolver: resolver}
}

// Lookup builds the report for name@rng. An empty range means latest.
func (i *Info) Lookup(ctx context.Context, name, rng string) (*Report, error) {
	if rng == "" {
		rng = "latest"
	}
	if version.IsURL(rng) {
		return nil, fmt.Errorf("%s@%s: tarball dependencies have no registry entry", name, rng)
	}

	catalog, err := i.source.Catalog(ctx, name)
	if err != nil {
		return nil, err
	}
	v, err := i.resolver.Resolve(ctx, name, rng)
	if err != nil {
		return nil, err
	}
	m, err := i.source.Manifest(ctx, name, v)
	if err != nil {
		return nil, err
	}
	dist, err := i.source.Dist(ctx, name, v)
	if err != nil {
		return nil, err
	}

	return &Report{
		Name:         name,
		Range:        rng,
		Version:      v,
		Versions:     len(catalog.Versions),
		DistTags:     catalog.DistTags,
		Dist:         dist,
		Dependencies: m.GetDependencies(),
		Bundled:      m.GetBundledDependencies(),
		Rule:         buildgen.RuleName(name, v),
	}, nil
}

// Show looks up name@rng and prints the report.
func (i *Info) Show(ctx context.Context, name, rng string) error {
	r, err := i.Lookup(ctx, name, rng)
	if err != nil {
		return err
	}
	out := i.Out
	if out == nil {
		out = os.Stdout
	}
	Print(out, r)
	return nil
}

// Print writes r in the same layout as `npm view`.
func Print(out io.Writer, r *Report) {
	re := lipgloss.NewRenderer(out)
	nameStyle := re.NewStyle().Bold(true).Foreground(lipgloss.Color("cyan"))
	versionStyle := re.NewStyle().Foreground(lipgloss.Color("green"))
	headerStyle := re.NewStyle().Bold(true).Foreground(lipgloss.Color("magenta"))
	keyStyle := re.NewStyle().Foreground(lipgloss.Color("240"))
	urlStyle := re.NewStyle().Foreground(lipgloss.Color("blue")).Underline(true)

	fmt.Fprintf(out, "%s@%s | %s %s | %s %d | %s %d\n",
		nameStyle.Render(r.Name),
		versionStyle.Render(r.Version),
		keyStyle.Render("range:"), r.Range,
		keyStyle.Render("deps:"), len(r.Dependencies),
		keyStyle.Render("versions:"), r.Versions)
	fmt.Fprintf(out, "%s %s\n", keyStyle.Render("rule:"), r.Rule)
	fmt.Fprintln(out)

	fmt.Fprintln(out, headerStyle.Render("dist"))
	fmt.Fprintf(out, " %s %s\n", keyStyle.Render(".tarball:"), urlStyle.Render(r.Dist.Tarball))
	if r.Dist.Shasum != "" {
		fmt.Fprintf(out, " %s %s\n", keyStyle.Render(".shasum:"), r.Dist.Shasum)
	}
	if r.Dist.Integrity != "" {
		fmt.Fprintf(out, " %s %s\n", keyStyle.Render(".integrity:"), r.Dist.Integrity)
	}
	fmt.Fprintln(out)

	if len(r.DistTags) > 0 {
		fmt.Fprintln(out, headerStyle.Render("dist-tags:"))
		for _, k := range sortedKeys(r.DistTags) {
			fmt.Fprintf(out, "%s %s\n", keyStyle.Render(k+":"), versionStyle.Render(r.DistTags[k]))
		}
		fmt.Fprintln(out)
	}

	if len(r.Dependencies) > 0 {
		bundled := make(map[string]bool)
		for _, b := range r.Bundled {
			bundled[b] = true
		}
		fmt.Fprintln(out, headerStyle.Render("dependencies:"))
		for _, name := range sortedKeys(r.Dependencies) {
			suffix := ""
			if bundled[name] {
				suffix = " " + keyStyle.Render("(bundled)")
			}
			fmt.Fprintf(out, "%s: %s%s\n", name, r.Dependencies[name], suffix)
		}
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
