package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/tidwall/gjson"

	"github.com/ernesto27/npm-bazel/packagejson"
)

// DefaultPatterns finds every package.json below the workspace root.
var DefaultPatterns = []string{"**/package.json"}

// Package is a workspace package that is never fetched from the registry.
type Package struct {
	Name         string
	Version      string
	Dir          string
	ManifestPath string
	// Tarball is a packed copy of the package, if one was built.
	Tarball  string
	Manifest *packagejson.PackageJSON
}

// Registry is the set of internal packages of a monorepo, keyed by name.
type Registry struct {
	Packages map[string]*Package
	RootDir  string

	duplicates []error
}

func NewRegistry(rootDir string) *Registry {
	return &Registry{
		Packages: make(map[string]*Package),
		RootDir:  rootDir,
	}
}

// Discover registers every package.json matched by patterns, relative to
// the root directory. Anything inside node_modules is ignored.
func (r *Registry) Discover(patterns []string) error {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}

	paths, err := r.expandGlobPatterns(patterns)
	if err != nil {
		return fmt.Errorf("failed to expand workspace patterns: %w", err)
	}

	for _, p := range paths {
		if err := r.add(p, ""); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) expandGlobPatterns(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var paths []string

	for _, pattern := range patterns {
		hits, err := doublestar.FilepathGlob(filepath.Join(r.RootDir, filepath.FromSlash(pattern)))
		if err != nil {
			return nil, fmt.Errorf("invalid glob pattern %s: %w", pattern, err)
		}
		for _, hit := range hits {
			if inNodeModules(hit) {
				continue
			}
			if info, err := os.Stat(hit); err == nil && info.IsDir() {
				hit = filepath.Join(hit, "package.json")
				if _, err := os.Stat(hit); err != nil {
					continue
				}
			}
			abs, err := filepath.Abs(hit)
			if err != nil {
				continue
			}
			if !seen[abs] {
				seen[abs] = true
				paths = append(paths, abs)
			}
		}
	}

	sort.Strings(paths)
	return paths, nil
}

func inNodeModules(p string) bool {
	return slices.Contains(strings.Split(filepath.ToSlash(p), "/"), "node_modules")
}

// LoadMapping reads a JSON object from package.json paths to either a packed
// tarball path (empty when none) or {"internal": bool, "tarball": path}.
// Entries marked as not internal are ignored.
func (r *Registry) LoadMapping(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read mapping %s: %w", path, err)
	}
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("%w: %s", packagejson.ErrMalformedManifest, path)
	}

	base := filepath.Dir(path)
	var addErr error
	gjson.ParseBytes(data).ForEach(func(key, value gjson.Result) bool {
		tarball := value.String()
		if value.IsObject() {
			if v := value.Get("internal"); v.Exists() && !v.Bool() {
				return true
			}
			tarball = value.Get("tarball").String()
		}

		manifestPath := key.String()
		if !filepath.IsAbs(manifestPath) {
			manifestPath = filepath.Join(base, manifestPath)
		}
		if tarball != "" && !filepath.IsAbs(tarball) {
			tarball = filepath.Join(base, tarball)
		}

		addErr = r.add(manifestPath, tarball)
		return addErr == nil
	})
	return addErr
}

func (r *Registry) add(manifestPath, tarball string) error {
	pkgJSON, err := packagejson.Parse(manifestPath)
	if err != nil {
		return err
	}

	name := pkgJSON.GetName()
	if name == "" {
		return fmt.Errorf("workspace package at %s has no name field", manifestPath)
	}

	pkg := &Package{
		Name:         name,
		Version:      pkgJSON.GetVersion(),
		Dir:          filepath.Dir(manifestPath),
		ManifestPath: manifestPath,
		Tarball:      tarball,
		Manifest:     pkgJSON,
	}

	if existing, ok := r.Packages[name]; ok && existing.Dir != pkg.Dir {
		r.duplicates = append(r.duplicates, fmt.Errorf(
			"package %s is defined in both %s and %s", name, existing.Dir, pkg.Dir))
		return nil
	}
	r.Packages[name] = pkg
	return nil
}

// IsInternal reports whether name is a workspace package.
func (r *Registry) IsInternal(name string) bool {
	_, exists := r.Packages[name]
	return exists
}

func (r *Registry) Get(name string) (*Package, bool) {
	pkg, exists := r.Packages[name]
	return pkg, exists
}

// Names returns the internal package names in lexical order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.Packages))
	for name := range r.Packages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate reports packages declared more than once.
func (r *Registry) Validate() []error {
	return r.duplicates
}
