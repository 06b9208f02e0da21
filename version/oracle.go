package version

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/ernesto27/npm-bazel/logging"
)

// ErrUnsatisfiableRange means no published version matches a declared range.
var ErrUnsatisfiableRange = errors.New("unsatisfiable version range")

// CatalogSource returns the published versions of a package.
type CatalogSource interface {
	Catalog(ctx context.Context, name string) (*Catalog, error)
}

// Cache persists name@range -> version entries between runs.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
}

// Oracle maps (name, range) to a concrete version, consulting the cache
// before going upstream.
type Oracle struct {
	source CatalogSource
	cache  Cache

	group   singleflight.Group
	mu      sync.Mutex
	memo    map[string]string
	lookups atomic.Int64
}

func NewOracle(source CatalogSource, cache Cache) *Oracle {
	return &Oracle{
		source: source,
		cache:  cache,
		memo:   make(map[string]string),
	}
}

// CacheKey is the key used for a (name, range) pair.
func CacheKey(name, rng string) string {
	return name + "@" + rng
}

// Resolve returns the version rng selects for name.
func (o *Oracle) Resolve(ctx context.Context, name, rng string) (string, error) {
	if IsExact(rng) {
		return rng, nil
	}
	if IsURL(rng) {
		return Tarball, nil
	}

	key := CacheKey(name, rng)

	if v, ok := o.lookupMemo(key); ok {
		return v, nil
	}

	// concurrent callers for the same key share one lookup
	v, err, _ := o.group.Do(key, func() (any, error) {
		return o.lookup(ctx, name, rng, key)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (o *Oracle) lookup(ctx context.Context, name, rng, key string) (string, error) {
	if v, ok := o.lookupMemo(key); ok {
		return v, nil
	}

	if o.cache != nil {
		v, ok, err := o.cache.Get(ctx, key)
		if err != nil {
			return "", fmt.Errorf("version cache lookup %s: %w", key, err)
		}
		if ok {
			o.remember(key, v)
			return v, nil
		}
	}

	o.lookups.Add(1)
	catalog, err := o.source.Catalog(ctx, name)
	if err != nil {
		return "", fmt.Errorf("fetching versions of %s: %w", name, err)
	}

	resolved, ok := MaxSatisfying(rng, catalog)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsatisfiableRange, key)
	}

	logging.FromContext(ctx).Debug("resolved range", "package", key, "version", resolved)

	if o.remember(key, resolved) && o.cache != nil {
		if err := o.cache.Put(ctx, key, resolved); err != nil {
			return "", fmt.Errorf("version cache write %s: %w", key, err)
		}
	}

	return resolved, nil
}

func (o *Oracle) lookupMemo(key string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v, ok := o.memo[key]
	return v, ok
}

// remember stores key and reports whether it was new.
func (o *Oracle) remember(key, value string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.memo[key]; ok {
		return false
	}
	o.memo[key] = value
	return true
}

// Satisfies is the oracle's view of Satisfies. A dist-tag range this oracle
// has already resolved for name is satisfied only by the tagged version.
func (o *Oracle) Satisfies(name, resolvedVersion, rng string) bool {
	if IsTag(rng) && resolvedVersion != Internal && resolvedVersion != Tarball {
		if tagged, ok := o.lookupMemo(CacheKey(name, rng)); ok {
			return resolvedVersion == tagged
		}
	}
	return Satisfies(resolvedVersion, rng)
}

// Lookups is the number of catalog fetches the oracle has made.
func (o *Oracle) Lookups() int {
	return int(o.lookups.Load())
}
