package manager

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ernesto27/npm-bazel/buildgen"
	"github.com/ernesto27/npm-bazel/cache"
	"github.com/ernesto27/npm-bazel/config"
	"github.com/ernesto27/npm-bazel/logging"
	"github.com/ernesto27/npm-bazel/materialize"
	"github.com/ernesto27/npm-bazel/packagejson"
	"github.com/ernesto27/npm-bazel/prefetch"
	"github.com/ernesto27/npm-bazel/progress"
	"github.com/ernesto27/npm-bazel/registry"
	"github.com/ernesto27/npm-bazel/resolver"
	"github.com/ernesto27/npm-bazel/tarball"
	"github.com/ernesto27/npm-bazel/tree"
	"github.com/ernesto27/npm-bazel/version"
	"github.com/ernesto27/npm-bazel/workspace"
)

// ErrUnsatisfiedTree is returned when a built tree fails verification.
var ErrUnsatisfiedTree = errors.New("resolved tree does not satisfy every requirement")

type Dependencies struct {
	Config     *config.Config
	Registry   *registry.Client
	HTTPClient *http.Client
	Versions   cache.Store
	DepCache   cache.Store
	Progress   *progress.Progress
}

// BuildDependencies opens the caches and registry client described by cfg.
func BuildDependencies(cfg *config.Config) (*Dependencies, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	versions, err := cache.Open(cfg.CacheOptions(), cache.VersionCacheName)
	if err != nil {
		return nil, fmt.Errorf("failed to open version cache: %w", err)
	}
	depCache, err := cache.Open(cfg.CacheOptions(), cache.DependencyCacheName)
	if err != nil {
		versions.Close()
		return nil, fmt.Errorf("failed to open dependency cache: %w", err)
	}

	httpClient := &http.Client{Timeout: 60 * time.Second}
	return &Dependencies{
		Config:     cfg,
		Registry:   registry.New(cfg.Registry, registry.WithHTTPClient(httpClient)),
		HTTPClient: httpClient,
		Versions:   versions,
		DepCache:   depCache,
	}, nil
}

func (d *Dependencies) Close() error {
	return errors.Join(d.Versions.Close(), d.DepCache.Close())
}

// Options controls a single run.
type Options struct {
	// ManifestPath is the root package.json.
	ManifestPath string
	// RootDir is where internal packages are discovered. Defaults to the
	// directory of ManifestPath.
	RootDir  string
	OutDir   string
	Strategy resolver.Strategy
	// SkipPrefetch resolves directly against the registry without warming
	// the caches first.
	SkipPrefetch bool
	// Clean removes OutDir/node_modules before materializing.
	Clean bool
}

type PackageManager struct {
	config     *config.Config
	registry   *registry.Client
	httpClient *http.Client
	oracle     *version.Oracle
	depCache   cache.Store
	tarball    *tarball.Tarball
	workspace  *workspace.Registry
	manifests  *Manifests
	progress   *progress.Progress
}

func New(deps *Dependencies) (*PackageManager, error) {
	if deps.Config == nil || deps.Registry == nil {
		return nil, errors.New("manager needs a config and a registry client")
	}
	return &PackageManager{
		config:     deps.Config,
		registry:   deps.Registry,
		httpClient: deps.HTTPClient,
		oracle:     version.NewOracle(deps.Registry, deps.Versions),
		depCache:   deps.DepCache,
		progress:   deps.Progress,
	}, nil
}

// Oracle exposes the version oracle, mostly for lookup statistics.
func (pm *PackageManager) Oracle() *version.Oracle {
	return pm.oracle
}

// LoadWorkspace discovers the internal packages below rootDir, from the
// configured mapping file when one is set and by glob otherwise.
func (pm *PackageManager) LoadWorkspace(ctx context.Context, rootDir string) (*workspace.Registry, error) {
	rootDir, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, err
	}

	ws := workspace.NewRegistry(rootDir)
	if mapping := pm.config.Workspace.Mapping; mapping != "" {
		if !filepath.IsAbs(mapping) {
			mapping = filepath.Join(rootDir, mapping)
		}
		err = ws.LoadMapping(mapping)
	} else {
		err = ws.Discover(pm.config.Workspace.Patterns)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workspace: %w", err)
	}

	logger := logging.FromContext(ctx)
	for _, e := range ws.Validate() {
		logger.Warn("workspace", "err", e)
	}
	logger.Debug("workspace loaded", "root", rootDir, "packages", len(ws.Packages))

	pm.workspace = ws
	pm.tarball = tarball.NewTarball(pm.config.TarballDir, pm.httpClient, pm.registry, ws)
	pm.manifests = NewManifests(pm.registry, pm.tarball, ws, pm.depCache)
	return ws, nil
}

func (pm *PackageManager) setStatus(msg string) {
	if pm.progress != nil {
		pm.progress.SetStatus(msg)
	}
}

// Prefetch warms the version and dependency caches for reqs.
func (pm *PackageManager) Prefetch(ctx context.Context, reqs []prefetch.Requirement) (prefetch.Stats, error) {
	p := prefetch.New(pm.oracle, pm.manifests, pm.workspace, pm.config.Workers)
	p.OnResolve = func(id resolver.Identity) {
		pm.setStatus("Resolving " + id.String())
	}
	return p.Run(ctx, reqs)
}

// Resolve parses the root manifest and builds its verified tree.
func (pm *PackageManager) Resolve(ctx context.Context, opts Options) (*tree.Tree, *packagejson.PackageJSON, error) {
	logger := logging.FromContext(ctx)

	root, err := packagejson.Parse(opts.ManifestPath)
	if err != nil {
		return nil, nil, err
	}

	rootDir := opts.RootDir
	if rootDir == "" {
		rootDir = filepath.Dir(opts.ManifestPath)
	}
	if _, err := pm.LoadWorkspace(ctx, rootDir); err != nil {
		return nil, nil, err
	}

	if !opts.SkipPrefetch {
		pm.setStatus("Fetching metadata...")
		stats, err := pm.Prefetch(ctx, rootRequirements(root))
		if err != nil {
			return nil, nil, err
		}
		logger.Debug("prefetched", "requirements", stats.Requirements, "packages", stats.Identities)
	}

	strategy := opts.Strategy
	if strategy == "" {
		if strategy, err = resolver.ParseStrategy(pm.config.Strategy); err != nil {
			return nil, nil, err
		}
	}

	pm.setStatus("Building dependency tree...")
	t, err := resolver.Build(ctx, strategy, pm.oracle, pm.manifests, pm.workspace, root)
	if err != nil {
		return nil, nil, err
	}

	if violations := t.Unsatisfied(); len(violations) > 0 {
		parts := make([]string, 0, len(violations))
		for _, v := range violations {
			parts = append(parts, t.Node(v.Node).Identity()+" -> "+v.Name)
		}
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsatisfiedTree, strings.Join(parts, ", "))
	}

	logger.Info("resolved", "root", root.GetName(), "packages", t.Len(), "strategy", strategy, "lookups", pm.oracle.Lookups())
	return t, root, nil
}

// Install resolves the root manifest and materializes the tree under
// opts.OutDir.
func (pm *PackageManager) Install(ctx context.Context, opts Options) (*tree.Tree, materialize.Stats, error) {
	t, _, err := pm.Resolve(ctx, opts)
	if err != nil {
		return nil, materialize.Stats{}, err
	}

	outDir := opts.OutDir
	if outDir == "" {
		outDir = filepath.Dir(opts.ManifestPath)
	}
	if opts.Clean {
		if err := os.RemoveAll(filepath.Join(outDir, "node_modules")); err != nil {
			return nil, materialize.Stats{}, fmt.Errorf("failed to clean node_modules: %w", err)
		}
	}

	pm.setStatus("Installing packages...")
	stats, err := materialize.New(pm.tarball, pm.config.Concurrency).Materialize(ctx, t, outDir)
	if err != nil {
		return nil, stats, err
	}

	if pm.progress != nil {
		for _, name := range t.ChildNames(tree.RootID) {
			child, _ := t.Child(tree.RootID, name)
			pm.progress.AddTopLevel(child.Name, child.Version)
		}
		pm.progress.SetCount(stats.Installed)
	}
	return t, stats, nil
}

// Generate writes the Bazel files for every internal package below rootDir.
func (pm *PackageManager) Generate(ctx context.Context, rootDir string) (buildgen.Result, error) {
	ws, err := pm.LoadWorkspace(ctx, rootDir)
	if err != nil {
		return buildgen.Result{}, err
	}

	var reqs []prefetch.Requirement
	for _, name := range ws.Names() {
		pkg, _ := ws.Get(name)
		reqs = append(reqs, rootRequirements(pkg.Manifest)...)
	}

	pm.setStatus("Fetching metadata...")
	stats, err := pm.Prefetch(ctx, reqs)
	if err != nil {
		return buildgen.Result{}, err
	}
	if pm.progress != nil {
		pm.progress.SetCount(stats.Identities)
	}

	pm.setStatus("Writing BUILD files...")
	g := buildgen.New(pm.oracle, pm.manifests, pm.registry, ws, buildgen.Options{
		ThirdPartyDir: pm.config.Bazel.ThirdPartyDir,
		RulesFile:     pm.config.Bazel.RulesFile,
		RegistryURL:   pm.registry.BaseURL(),
	})
	return g.Generate(ctx, ws.RootDir)
}

func rootRequirements(m *packagejson.PackageJSON) []prefetch.Requirement {
	var reqs []prefetch.Requirement
	for _, deps := range []map[string]string{m.GetDependencies(), m.GetDevDependencies()} {
		for _, name := range packagejson.SortedNames(deps) {
			reqs = append(reqs, prefetch.Requirement{Name: name, Range: deps[name]})
		}
	}
	return reqs
}
