package materialize

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ernesto27/npm-bazel/logging"
	"github.com/ernesto27/npm-bazel/tree"
)

// ErrInstallerFailure wraps an installer error with the failing node's path.
var ErrInstallerFailure = errors.New("installer failure")

const DefaultConcurrency = 8

// Installer places the files of one package at target.
type Installer interface {
	Install(ctx context.Context, target string, node *tree.Node) error
}

// InstallerFunc adapts a function to Installer.
type InstallerFunc func(ctx context.Context, target string, node *tree.Node) error

func (f InstallerFunc) Install(ctx context.Context, target string, node *tree.Node) error {
	return f(ctx, target, node)
}

type Stats struct {
	Installed int
	Skipped   int
}

// Materializer lays a resolved tree out as nested node_modules directories.
type Materializer struct {
	installer Installer
	sem       *semaphore.Weighted

	dirMu sync.Mutex
}

func New(installer Installer, concurrency int) *Materializer {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Materializer{
		installer: installer,
		sem:       semaphore.NewWeighted(int64(concurrency)),
	}
}

type pass struct {
	*Materializer
	t         *tree.Tree
	g         *errgroup.Group
	installed atomic.Int64
	skipped   atomic.Int64
}

// Materialize installs every node of t under outDir/node_modules. Targets
// that already exist are skipped but their dependencies are still visited,
// so a rerun after a failure only installs what is missing.
func (m *Materializer) Materialize(ctx context.Context, t *tree.Tree, outDir string) (Stats, error) {
	g, ctx := errgroup.WithContext(ctx)
	p := &pass{Materializer: m, t: t, g: g}

	p.children(ctx, tree.RootID, filepath.Join(outDir, "node_modules"))
	err := g.Wait()

	stats := Stats{Installed: int(p.installed.Load()), Skipped: int(p.skipped.Load())}
	logging.FromContext(ctx).Debug("materialized", "dir", outDir, "installed", stats.Installed, "skipped", stats.Skipped)
	return stats, err
}

func (p *pass) children(ctx context.Context, id tree.NodeID, base string) {
	parent := p.t.Node(id)
	for _, name := range p.t.ChildNames(id) {
		child := p.t.Node(parent.Children[name])
		p.g.Go(func() error {
			return p.node(ctx, child, base)
		})
	}
}

func (p *pass) node(ctx context.Context, n *tree.Node, base string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target := filepath.Join(base, filepath.FromSlash(n.Name))

	if _, err := os.Stat(target); err == nil {
		p.skipped.Add(1)
		logging.FromContext(ctx).Debug("already present", "package", n.Identity(), "path", target)
	} else {
		if err := p.ensureDir(filepath.Dir(target)); err != nil {
			return err
		}
		if err := p.install(ctx, target, n); err != nil {
			return fmt.Errorf("%w: %s at %s: %w", ErrInstallerFailure, n.Identity(), strings.Join(p.t.Path(n.ID), " > "), err)
		}
		p.installed.Add(1)
	}

	p.children(ctx, n.ID, filepath.Join(target, "node_modules"))
	return nil
}

func (p *pass) install(ctx context.Context, target string, n *tree.Node) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return p.installer.Install(ctx, target, n)
}

// ensureDir creates dir. Siblings share parent directories such as
// node_modules or an @scope folder.
func (m *Materializer) ensureDir(dir string) error {
	m.dirMu.Lock()
	defer m.dirMu.Unlock()
	return os.MkdirAll(dir, 0755)
}
