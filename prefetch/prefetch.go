package prefetch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/ernesto27/npm-bazel/logging"
	"github.com/ernesto27/npm-bazel/resolver"
	"github.com/ernesto27/npm-bazel/version"
)

// DefaultWorkers is the size of the worker pool.
const DefaultWorkers = 16

// Requirement is one unresolved (name, range) edge of the graph.
type Requirement struct {
	Name  string
	Range string
}

// Stats summarizes a run.
type Stats struct {
	Requirements int
	Identities   int
}

// Prefetcher walks the unresolved dependency graph breadth first so the
// version and dependency caches are warm before the tree is built.
type Prefetcher struct {
	oracle    resolver.VersionOracle
	manifests resolver.ManifestSource
	internal  resolver.InternalSet
	workers   int

	// OnResolve is called from worker goroutines for every new identity.
	OnResolve func(id resolver.Identity)
}

func New(oracle resolver.VersionOracle, manifests resolver.ManifestSource, internal resolver.InternalSet, workers int) *Prefetcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Prefetcher{
		oracle:    oracle,
		manifests: manifests,
		internal:  internal,
		workers:   workers,
	}
}

type run struct {
	*Prefetcher

	jobs     chan Requirement
	inflight sync.WaitGroup

	mu   sync.Mutex
	seen map[string]bool

	processed atomic.Int64
}

// Run returns once every reachable requirement has been resolved and no work
// is in flight. The first error cancels the run and is returned.
func (p *Prefetcher) Run(ctx context.Context, reqs []Requirement) (Stats, error) {
	g, ctx := errgroup.WithContext(ctx)

	r := &run{
		Prefetcher: p,
		jobs:       make(chan Requirement),
		seen:       make(map[string]bool),
	}

	for _, req := range reqs {
		r.enqueue(ctx, req)
	}

	go func() {
		r.inflight.Wait()
		close(r.jobs)
	}()

	for range p.workers {
		g.Go(func() error {
			for req := range r.jobs {
				err := r.process(ctx, req)
				r.inflight.Done()
				if err != nil {
					return err
				}
			}
			return nil
		})
	}

	err := g.Wait()

	r.mu.Lock()
	stats := Stats{Requirements: int(r.processed.Load()), Identities: len(r.seen)}
	r.mu.Unlock()

	if err != nil {
		return stats, err
	}
	logging.FromContext(ctx).Debug("prefetch finished", "requirements", stats.Requirements, "packages", stats.Identities)
	return stats, nil
}

func (r *run) enqueue(ctx context.Context, req Requirement) {
	r.inflight.Add(1)
	go func() {
		select {
		case r.jobs <- req:
		case <-ctx.Done():
			r.inflight.Done()
		}
	}()
}

// markSeen reports whether key was new.
func (r *run) markSeen(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen[key] {
		return false
	}
	r.seen[key] = true
	return true
}

func (r *run) process(ctx context.Context, req Requirement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.processed.Add(1)

	id := resolver.Identity{Name: req.Name}
	if r.internal != nil && r.internal.IsInternal(req.Name) {
		id.Version = version.Internal
	} else {
		v, err := r.oracle.Resolve(ctx, req.Name, req.Range)
		if err != nil {
			return err
		}
		id.Version = v
		if v == version.Tarball {
			id.Source = req.Range
		}
	}

	key := id.String()
	if id.Source != "" {
		key = id.Name + "@" + id.Source
	}
	if !r.markSeen(key) {
		return nil
	}
	if r.OnResolve != nil {
		r.OnResolve(id)
	}

	m, err := r.manifests.Manifest(ctx, id)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("%w: %s", resolver.ErrMissingArtifact, id)
	}

	bundled := make(map[string]bool)
	for _, name := range m.GetBundledDependencies() {
		bundled[name] = true
	}
	for name, rng := range m.GetDependencies() {
		if bundled[name] {
			continue
		}
		r.enqueue(ctx, Requirement{Name: name, Range: rng})
	}
	return nil
}
