package version

import (
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

const (
	// Internal marks a workspace package that is never looked up upstream.
	Internal = "INTERNAL"
	// Tarball marks a dependency pinned to a tarball URL.
	Tarball = "tarball"
)

// Catalog is the list of published versions for a package plus its dist-tags.
type Catalog struct {
	Name     string
	Versions []string
	DistTags map[string]string
}

// IsURL reports whether a range is a direct tarball reference.
func IsURL(rng string) bool {
	return strings.HasPrefix(rng, "http://") || strings.HasPrefix(rng, "https://")
}

// IsExact reports whether rng is a plain x.y.z version rather than a range.
func IsExact(rng string) bool {
	_, err := semver.StrictNewVersion(rng)
	return err == nil
}

// IsTag reports whether rng names a dist-tag such as latest or next rather
// than a semver range.
func IsTag(rng string) bool {
	rng = strings.TrimSpace(rng)
	if rng == "" || IsURL(rng) {
		return false
	}
	_, err := semver.NewConstraint(rng)
	return err != nil
}

// MaxSatisfying returns the highest version of the catalog that matches rng.
// Empty and "latest" resolve through the latest dist-tag, other tag names
// through their own tag. "*" is the highest published release. The result is
// the version string exactly as the registry publishes it.
func MaxSatisfying(rng string, catalog *Catalog) (string, bool) {
	rng = strings.TrimSpace(rng)

	if rng == "" || rng == "latest" {
		latest, ok := catalog.DistTags["latest"]
		return latest, ok && latest != ""
	}

	if tagged, ok := catalog.DistTags[rng]; ok && tagged != "" {
		return tagged, true
	}

	constraint, err := semver.NewConstraint(rng)
	if err != nil {
		for _, v := range catalog.Versions {
			if v == rng {
				return v, true
			}
		}
		return "", false
	}

	var matching []*semver.Version
	for _, vStr := range catalog.Versions {
		semverVersion, err := semver.NewVersion(vStr)
		if err != nil {
			continue
		}
		if constraint.Check(semverVersion) {
			matching = append(matching, semverVersion)
		}
	}

	if len(matching) == 0 {
		return "", false
	}

	sort.Sort(semver.Collection(matching))
	return matching[len(matching)-1].Original(), true
}

// Satisfies checks if a resolved version satisfies a range.
// INTERNAL and tarball identities satisfy anything, as do URL ranges.
func Satisfies(resolvedVersion, rng string) bool {
	if resolvedVersion == Internal || resolvedVersion == Tarball {
		return true
	}
	if rng == "" || rng == "latest" || rng == "*" || IsURL(rng) {
		return true
	}

	semverVersion, err := semver.NewVersion(resolvedVersion)
	if err != nil {
		return resolvedVersion == rng
	}

	constraint, err := semver.NewConstraint(rng)
	if err != nil {
		return resolvedVersion == rng
	}

	return constraint.Check(semverVersion)
}
