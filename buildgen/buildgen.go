package buildgen

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"text/template"

	"github.com/ernesto27/npm-bazel/logging"
	"github.com/ernesto27/npm-bazel/registry"
	"github.com/ernesto27/npm-bazel/resolver"
	"github.com/ernesto27/npm-bazel/version"
	"github.com/ernesto27/npm-bazel/workspace"
)

const (
	DefaultThirdPartyDir = "build_tools/npm-thirdparty"
	DefaultRulesFile     = "//build_tools:npm.bzl"
)

// DistSource supplies the published tarball location and checksum of a
// registry version. It is optional; without one the conventional registry
// path is used and no integrity is emitted.
type DistSource interface {
	Dist(ctx context.Context, name, ver string) (registry.Dist, error)
}

type Options struct {
	ThirdPartyDir string
	RulesFile     string
	RegistryURL   string
}

// Result lists the files that were rewritten and those already up to date.
type Result struct {
	Written   []string
	Unchanged []string
}

// Generator writes Bazel declarations for a workspace: one BUILD file for all
// third-party packages, a WORKSPACE with their archives and one BUILD per
// internal package.
type Generator struct {
	oracle    resolver.VersionOracle
	manifests resolver.ManifestSource
	dists     DistSource
	ws        *workspace.Registry
	opts      Options

	closures map[string][]resolver.Identity
}

func New(oracle resolver.VersionOracle, manifests resolver.ManifestSource, dists DistSource, ws *workspace.Registry, opts Options) *Generator {
	if opts.ThirdPartyDir == "" {
		opts.ThirdPartyDir = DefaultThirdPartyDir
	}
	if opts.RulesFile == "" {
		opts.RulesFile = DefaultRulesFile
	}
	if opts.RegistryURL == "" {
		opts.RegistryURL = registry.DefaultURL
	}
	return &Generator{
		oracle:    oracle,
		manifests: manifests,
		dists:     dists,
		ws:        ws,
		opts:      opts,
		closures:  make(map[string][]resolver.Identity),
	}
}

var ruleNameRe = regexp.MustCompile(`[^A-Za-z0-9_]+`)

// RuleName is the external repository name of a package identity.
func RuleName(name, ver string) string {
	raw := name + "_" + ver
	if ver == version.Tarball || version.IsURL(ver) {
		raw = name + "_tarball"
	}
	return strings.TrimLeft(ruleNameRe.ReplaceAllString(raw, "_"), "_")
}

type external struct {
	Label     string
	Rule      string
	URL       string
	Integrity string
	Deps      []string
}

type internalModule struct {
	Name      string
	RulesFile string
	Deps      []string
	DevDeps   []string
}

// Generate resolves every external dependency of the workspace packages and
// writes the Bazel files under rootDir.
func (g *Generator) Generate(ctx context.Context, rootDir string) (Result, error) {
	logger := logging.FromContext(ctx)

	direct := make(map[string]resolver.Identity)
	for _, name := range g.ws.Names() {
		pkg, _ := g.ws.Get(name)
		for _, deps := range []map[string]string{pkg.Manifest.GetDependencies(), pkg.Manifest.GetDevDependencies()} {
			for _, dep := range sortedKeys(deps) {
				if g.ws.IsInternal(dep) {
					continue
				}
				id, err := g.resolve(ctx, dep, deps[dep])
				if err != nil {
					return Result{}, fmt.Errorf("%s: %w", pkg.ManifestPath, err)
				}
				direct[id.String()] = id
			}
		}
	}

	all := make(map[string]resolver.Identity)
	var externals []external
	for _, key := range sortedKeys(direct) {
		id := direct[key]
		closure, err := g.closure(ctx, id)
		if err != nil {
			return Result{}, err
		}
		all[key] = id
		ext := external{Label: key, Rule: RuleName(id.Name, id.Version)}
		for _, dep := range closure {
			all[dep.String()] = dep
			ext.Deps = append(ext.Deps, RuleName(dep.Name, dep.Version))
		}
		externals = append(externals, ext)
		logger.Debug("external module", "package", key, "runtime_deps", len(ext.Deps))
	}

	var archives []external
	seenRules := make(map[string]bool)
	for _, key := range sortedKeys(all) {
		id := all[key]
		rule := RuleName(id.Name, id.Version)
		if seenRules[rule] {
			continue
		}
		seenRules[rule] = true
		a, err := g.archive(ctx, id)
		if err != nil {
			return Result{}, err
		}
		archives = append(archives, a)
	}
	sort.Slice(archives, func(i, j int) bool { return archives[i].Rule < archives[j].Rule })

	var res Result
	record := func(path string, changed bool) {
		if changed {
			res.Written = append(res.Written, path)
		} else {
			res.Unchanged = append(res.Unchanged, path)
		}
	}

	content, err := render(thirdPartyTemplate, map[string]any{"RulesFile": g.opts.RulesFile, "Modules": externals})
	if err != nil {
		return Result{}, err
	}
	path := filepath.Join(rootDir, filepath.FromSlash(g.opts.ThirdPartyDir), "BUILD")
	changed, err := WriteIfChanged(path, content)
	if err != nil {
		return Result{}, err
	}
	record(path, changed)

	content, err = render(workspaceTemplate, archives)
	if err != nil {
		return Result{}, err
	}
	path = filepath.Join(rootDir, "WORKSPACE")
	if changed, err = WriteIfChanged(path, content); err != nil {
		return Result{}, err
	}
	record(path, changed)

	for _, name := range g.ws.Names() {
		pkg, _ := g.ws.Get(name)
		mod, err := g.internalModule(ctx, rootDir, pkg)
		if err != nil {
			return Result{}, err
		}
		content, err := render(internalTemplate, mod)
		if err != nil {
			return Result{}, err
		}
		path := filepath.Join(pkg.Dir, "BUILD")
		changed, err := WriteIfChanged(path, content)
		if err != nil {
			return Result{}, err
		}
		record(path, changed)
	}

	logger.Info("generated bazel files", "written", len(res.Written), "unchanged", len(res.Unchanged), "externals", len(externals))
	return res, nil
}

func (g *Generator) resolve(ctx context.Context, name, rng string) (resolver.Identity, error) {
	v, err := g.oracle.Resolve(ctx, name, rng)
	if err != nil {
		return resolver.Identity{}, err
	}
	id := resolver.Identity{Name: name, Version: v}
	if v == version.Tarball {
		id.Source = rng
	}
	return id, nil
}

// closure returns every identity reachable from id's dependencies, sorted
// and without id itself unless a cycle leads back to it.
func (g *Generator) closure(ctx context.Context, root resolver.Identity) ([]resolver.Identity, error) {
	if c, ok := g.closures[root.String()]; ok {
		return c, nil
	}

	seen := make(map[string]resolver.Identity)
	stack := []resolver.Identity{root}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		m, err := g.manifests.Manifest(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("manifest of %s: %w", id, err)
		}
		if m == nil {
			return nil, fmt.Errorf("%w: %s", resolver.ErrMissingArtifact, id)
		}

		bundled := make(map[string]bool)
		for _, name := range m.GetBundledDependencies() {
			bundled[name] = true
		}
		deps := m.GetDependencies()
		for _, name := range sortedKeys(deps) {
			if bundled[name] || g.ws.IsInternal(name) {
				continue
			}
			dep, err := g.resolve(ctx, name, deps[name])
			if err != nil {
				return nil, fmt.Errorf("%s of %s: %w", name, id, err)
			}
			if _, ok := seen[dep.String()]; ok {
				continue
			}
			seen[dep.String()] = dep
			stack = append(stack, dep)
		}
	}

	out := make([]resolver.Identity, 0, len(seen))
	for _, key := range sortedKeys(seen) {
		out = append(out, seen[key])
	}
	g.closures[root.String()] = out
	return out, nil
}

func (g *Generator) archive(ctx context.Context, id resolver.Identity) (external, error) {
	a := external{Label: id.String(), Rule: RuleName(id.Name, id.Version)}
	if id.Version == version.Tarball {
		a.URL = id.Source
		return a, nil
	}
	a.URL = registry.TarballURL(g.opts.RegistryURL, id.Name, id.Version)
	if g.dists == nil {
		return a, nil
	}
	d, err := g.dists.Dist(ctx, id.Name, id.Version)
	if err != nil {
		return external{}, fmt.Errorf("dist of %s: %w", id, err)
	}
	a.URL = d.Tarball
	a.Integrity = d.Integrity
	return a, nil
}

func (g *Generator) internalModule(ctx context.Context, rootDir string, pkg *workspace.Package) (internalModule, error) {
	mod := internalModule{Name: filepath.Base(pkg.Dir), RulesFile: g.opts.RulesFile}

	labels := func(deps map[string]string) ([]string, error) {
		var out []string
		for _, name := range sortedKeys(deps) {
			if dep, ok := g.ws.Get(name); ok {
				out = append(out, internalLabel(rootDir, dep.Dir))
				continue
			}
			id, err := g.resolve(ctx, name, deps[name])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", pkg.ManifestPath, err)
			}
			out = append(out, "//"+g.opts.ThirdPartyDir+":"+id.String())
		}
		return out, nil
	}

	var err error
	if mod.Deps, err = labels(pkg.Manifest.GetDependencies()); err != nil {
		return mod, err
	}
	if mod.DevDeps, err = labels(pkg.Manifest.GetDevDependencies()); err != nil {
		return mod, err
	}
	return mod, nil
}

func internalLabel(rootDir, dir string) string {
	rel, err := filepath.Rel(rootDir, dir)
	if err != nil || rel == "." {
		return "//:" + filepath.Base(dir)
	}
	return "//" + filepath.ToSlash(rel)
}

// WriteIfChanged writes content to path unless the file already holds it.
func WriteIfChanged(path string, content []byte) (bool, error) {
	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, content) {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return true, nil
}

func render(tmpl *template.Template, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", tmpl.Name(), err)
	}
	return buf.Bytes(), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
