package manager

import (
	"context"
	"fmt"

	"github.com/ernesto27/npm-bazel/cache"
	"github.com/ernesto27/npm-bazel/logging"
	"github.com/ernesto27/npm-bazel/packagejson"
	"github.com/ernesto27/npm-bazel/resolver"
	"github.com/ernesto27/npm-bazel/version"
	"github.com/ernesto27/npm-bazel/workspace"
)

// RegistryManifests returns published manifests.
type RegistryManifests interface {
	Manifest(ctx context.Context, name, ver string) (*packagejson.PackageJSON, error)
}

// TarballManifests reads the manifest packed inside a tarball URL.
type TarballManifests interface {
	Manifest(ctx context.Context, url string) (*packagejson.PackageJSON, error)
}

// Manifests answers resolver.ManifestSource for every identity kind and
// keeps the dependency declarations of external packages in the dependency
// cache, keyed name@version (name@url for tarballs).
type Manifests struct {
	registry  RegistryManifests
	tarballs  TarballManifests
	workspace *workspace.Registry
	cache     cache.Store
}

func NewManifests(reg RegistryManifests, tarballs TarballManifests, ws *workspace.Registry, store cache.Store) *Manifests {
	return &Manifests{registry: reg, tarballs: tarballs, workspace: ws, cache: store}
}

func (m *Manifests) Manifest(ctx context.Context, id resolver.Identity) (*packagejson.PackageJSON, error) {
	if id.Version == version.Internal {
		if m.workspace == nil {
			return nil, nil
		}
		pkg, ok := m.workspace.Get(id.Name)
		if !ok {
			return nil, nil
		}
		return pkg.Manifest, nil
	}

	key := id.String()
	if id.Version == version.Tarball {
		key = id.Name + "@" + id.Source
	}

	if m.cache != nil {
		value, ok, err := m.cache.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			rec, err := cache.DecodeDependencies(value)
			if err != nil {
				return nil, fmt.Errorf("dependency cache entry %s: %w", key, err)
			}
			return fromRecord(id, rec), nil
		}
	}

	var (
		pkg *packagejson.PackageJSON
		err error
	)
	if id.Version == version.Tarball {
		pkg, err = m.tarballs.Manifest(ctx, id.Source)
	} else {
		pkg, err = m.registry.Manifest(ctx, id.Name, id.Version)
	}
	if err != nil {
		return nil, err
	}

	if m.cache != nil {
		value, err := cache.EncodeDependencies(cache.DependencyRecord{
			Dependencies:        pkg.GetDependencies(),
			BundledDependencies: pkg.GetBundledDependencies(),
		})
		if err != nil {
			return nil, err
		}
		if err := m.cache.Put(ctx, key, value); err != nil {
			return nil, err
		}
		logging.FromContext(ctx).Debug("recorded dependencies", "package", key)
	}
	return pkg, nil
}

func fromRecord(id resolver.Identity, rec cache.DependencyRecord) *packagejson.PackageJSON {
	pkg := &packagejson.PackageJSON{Name: id.Name, Version: id.Version}
	if len(rec.Dependencies) > 0 {
		pkg.Dependencies = rec.Dependencies
	}
	if len(rec.BundledDependencies) > 0 {
		pkg.BundledDependencies = rec.BundledDependencies
	}
	return pkg
}
