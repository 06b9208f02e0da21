package packagejson

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
)

// ErrMalformedManifest is returned when a package descriptor cannot be read
// as JSON. The wrapping error names the offending file.
var ErrMalformedManifest = errors.New("malformed manifest")

// PackageJSON is the subset of a package descriptor the resolver cares about.
// Dependency fields are kept as any because old registry documents sometimes
// carry arrays where maps are expected.
type PackageJSON struct {
	Name                string `json:"name"`
	BazelName           string `json:"bazel_name,omitempty"`
	Version             any    `json:"version"`
	Dependencies        any    `json:"dependencies,omitempty"`
	DevDependencies     any    `json:"devDependencies,omitempty"`
	BundledDependencies any    `json:"bundledDependencies,omitempty"`
	BundleDependencies  any    `json:"bundleDependencies,omitempty"`
}

// GetName returns name, falling back to bazel_name for workspace packages
// that are not meant to be published.
func (p *PackageJSON) GetName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.BazelName
}

// GetVersion returns the version field as a string.
func (p *PackageJSON) GetVersion() string {
	switch v := p.Version.(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%g", v)
	default:
		return "0.0.0"
	}
}

func (p *PackageJSON) GetDependencies() map[string]string {
	return extractDependencyMap(p.Dependencies)
}

func (p *PackageJSON) GetDevDependencies() map[string]string {
	return extractDependencyMap(p.DevDependencies)
}

// GetBundledDependencies returns the sorted bundled dependency names.
// Both spellings are accepted; the value true means every dependency is bundled.
func (p *PackageJSON) GetBundledDependencies() []string {
	raw := p.BundledDependencies
	if raw == nil {
		raw = p.BundleDependencies
	}

	var names []string
	switch v := raw.(type) {
	case bool:
		if v {
			names = SortedNames(p.GetDependencies())
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				names = append(names, s)
			}
		}
	case []string:
		names = append(names, v...)
	}

	sort.Strings(names)
	return names
}

func extractDependencyMap(deps any) map[string]string {
	if deps == nil {
		return make(map[string]string)
	}

	if m, ok := deps.(map[string]any); ok {
		result := make(map[string]string, len(m))
		for k, v := range m {
			if str, ok := v.(string); ok {
				result[k] = str
			}
		}
		return result
	}

	if m, ok := deps.(map[string]string); ok {
		return m
	}

	return make(map[string]string)
}

// SortedNames returns the keys of deps in lexical order.
func SortedNames(deps map[string]string) []string {
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Parse reads and decodes the package descriptor at filePath.
func Parse(filePath string) (*PackageJSON, error) {
	fileContent, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filePath, err)
	}
	return ParseBytes(fileContent, filePath)
}

// ParseBytes decodes a package descriptor. source is only used in errors.
func ParseBytes(data []byte, source string) (*PackageJSON, error) {
	var packageJSON PackageJSON
	if err := json.Unmarshal(data, &packageJSON); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedManifest, source, err)
	}
	return &packageJSON, nil
}
