package tarball

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/ernesto27/npm-bazel/integrity"
	"github.com/ernesto27/npm-bazel/logging"
	"github.com/ernesto27/npm-bazel/packagejson"
	"github.com/ernesto27/npm-bazel/registry"
	"github.com/ernesto27/npm-bazel/tree"
	"github.com/ernesto27/npm-bazel/utils"
	"github.com/ernesto27/npm-bazel/version"
	"github.com/ernesto27/npm-bazel/workspace"
)

var ErrUnknownInternal = errors.New("internal package not in workspace")

// DistSource returns where a registry version's tarball is published.
type DistSource interface {
	Dist(ctx context.Context, name, ver string) (registry.Dist, error)
}

// Workspace looks up internal packages by name.
type Workspace interface {
	Get(name string) (*workspace.Package, bool)
}

// Tarball downloads package archives into TarballPath and unpacks them into
// node_modules. It implements materialize.Installer.
type Tarball struct {
	TarballPath string

	client    *http.Client
	dists     DistSource
	workspace Workspace
	downloads singleflight.Group
}

func NewTarball(tarballPath string, client *http.Client, dists DistSource, ws Workspace) *Tarball {
	if client == nil {
		client = http.DefaultClient
	}
	return &Tarball{
		TarballPath: tarballPath,
		client:      client,
		dists:       dists,
		workspace:   ws,
	}
}

// Install places node n at target.
func (d *Tarball) Install(ctx context.Context, target string, n *tree.Node) error {
	switch n.Version {
	case version.Internal:
		return d.installInternal(ctx, target, n.Name)
	case version.Tarball:
		file, err := d.Download(ctx, n.Source, URLFilename(n.Source))
		if err != nil {
			return err
		}
		return Extract(file, target)
	default:
		return d.installRegistry(ctx, target, n.Name, n.Version)
	}
}

func (d *Tarball) installInternal(ctx context.Context, target, name string) error {
	if d.workspace == nil {
		return fmt.Errorf("%w: %s", ErrUnknownInternal, name)
	}
	pkg, ok := d.workspace.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInternal, name)
	}
	if pkg.Tarball != "" {
		logging.FromContext(ctx).Debug("extracting packed internal package", "package", name, "tarball", pkg.Tarball)
		return Extract(pkg.Tarball, target)
	}
	logging.FromContext(ctx).Debug("copying internal package", "package", name, "dir", pkg.Dir)
	return CopyDir(pkg.Dir, target)
}

func (d *Tarball) installRegistry(ctx context.Context, target, name, ver string) error {
	dist, err := d.dists.Dist(ctx, name, ver)
	if err != nil {
		return err
	}

	file, err := d.Download(ctx, dist.Tarball, Filename(name, ver))
	if err != nil {
		return err
	}

	if err := integrity.Verify(file, dist.Integrity, dist.Shasum); err != nil {
		if !errors.Is(err, integrity.ErrNoIntegrity) {
			os.Remove(file)
			return fmt.Errorf("%s@%s: %w", name, ver, err)
		}
		logging.FromContext(ctx).Warn("no checksum published", "package", name+"@"+ver)
	}
	return Extract(file, target)
}

// Download fetches url into TarballPath/filename unless a valid archive is
// already there. Concurrent calls for the same file share one download.
func (d *Tarball) Download(ctx context.Context, url, filename string) (string, error) {
	filePath := filepath.Join(d.TarballPath, filename)

	_, err, _ := d.downloads.Do(filePath, func() (any, error) {
		if utils.ValidateTarball(filePath) {
			return nil, nil
		}
		logging.FromContext(ctx).Debug("downloading", "url", url, "file", filePath)
		return nil, utils.DownloadFile(ctx, d.client, url, filePath)
	})
	if err != nil {
		return "", err
	}
	return filePath, nil
}

// Manifest reads package.json from the archive at url.
func (d *Tarball) Manifest(ctx context.Context, url string) (*packagejson.PackageJSON, error) {
	file, err := d.Download(ctx, url, URLFilename(url))
	if err != nil {
		return nil, err
	}
	return ReadManifest(file)
}

// Filename is the cache file name of a registry tarball.
func Filename(name, ver string) string {
	return strings.ReplaceAll(name, "/", "-") + "-" + ver + ".tgz"
}

// URLFilename derives a stable cache file name from a tarball URL.
func URLFilename(url string) string {
	base := strings.TrimSuffix(path.Base(url), ".tgz")
	base = strings.TrimSuffix(base, ".tar.gz")
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(url)).String() + "-" + base + ".tgz"
}
