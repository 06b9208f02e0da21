package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func createTestCatalog(versions []string, latest string) *Catalog {
	return &Catalog{
		Name:     "test",
		Versions: versions,
		DistTags: map[string]string{"latest": latest},
	}
}

func TestMaxSatisfying(t *testing.T) {
	testCases := []struct {
		name     string
		rng      string
		versions []string
		latest   string
		expected string
		found    bool
	}{
		{
			name:     "Empty range returns latest",
			rng:      "",
			versions: []string{"1.0.0", "1.1.0", "2.0.0"},
			latest:   "1.1.0",
			expected: "1.1.0",
			found:    true,
		},
		{
			name:     "Latest keyword",
			rng:      "latest",
			versions: []string{"1.0.0", "1.5.0", "2.3.1"},
			latest:   "2.3.1",
			expected: "2.3.1",
			found:    true,
		},
		{
			name:     "Asterisk wildcard picks highest",
			rng:      "*",
			versions: []string{"1.0.0", "1.5.0", "2.3.1"},
			latest:   "2.3.1",
			expected: "2.3.1",
			found:    true,
		},
		{
			name:     "Exact version does not exist",
			rng:      "1.2.4",
			versions: []string{"1.0.0", "1.2.3", "2.0.0"},
			latest:   "2.0.0",
			found:    false,
		},

		// Caret ranges (^)
		{
			name:     "Caret allows minor and patch updates",
			rng:      "^1.2.3",
			versions: []string{"1.0.0", "1.2.3", "1.2.5", "1.3.0", "1.9.9", "2.0.0", "2.1.0"},
			latest:   "2.1.0",
			expected: "1.9.9",
			found:    true,
		},
		{
			name:     "Caret with major version 0",
			rng:      "^0.2.3",
			versions: []string{"0.1.0", "0.2.3", "0.2.5", "0.3.0", "1.0.0"},
			latest:   "1.0.0",
			expected: "0.2.5",
			found:    true,
		},
		{
			name:     "Caret with no matching versions",
			rng:      "^5.0.0",
			versions: []string{"1.0.0", "2.0.0", "3.0.0", "4.0.0"},
			latest:   "4.0.0",
			found:    false,
		},

		// Tilde ranges (~)
		{
			name:     "Tilde allows patch updates only",
			rng:      "~1.2.3",
			versions: []string{"1.2.3", "1.2.5", "1.2.9", "1.3.0"},
			latest:   "1.3.0",
			expected: "1.2.9",
			found:    true,
		},
		{
			name:     "Tilde with multiple patch versions",
			rng:      "~3.0.0",
			versions: []string{"3.0.0", "3.0.2", "3.0.10", "3.1.0"},
			latest:   "3.1.0",
			expected: "3.0.10",
			found:    true,
		},

		// Comparison ranges
		{
			name:     "Range with >= and <",
			rng:      ">= 2.1.2 < 3.0.0",
			versions: []string{"2.0.0", "2.1.2", "2.9.9", "3.0.0"},
			latest:   "3.0.0",
			expected: "2.9.9",
			found:    true,
		},
		{
			name:     "Less than excludes exact match",
			rng:      "<2.0.0",
			versions: []string{"1.0.0", "1.5.0", "2.0.0"},
			latest:   "2.0.0",
			expected: "1.5.0",
			found:    true,
		},

		// Wildcards and alternatives
		{
			name:     "Major.x matches any minor and patch",
			rng:      "1.x",
			versions: []string{"1.0.0", "1.5.9", "2.0.0"},
			latest:   "2.0.0",
			expected: "1.5.9",
			found:    true,
		},
		{
			name:     "OR with one matching constraint",
			rng:      "^1.0.0 || ^5.0.0",
			versions: []string{"1.0.0", "1.5.0", "2.0.0"},
			latest:   "2.0.0",
			expected: "1.5.0",
			found:    true,
		},
		{
			name:     "Hyphen range inclusive on both ends",
			rng:      "1.0.0 - 2.0.0",
			versions: []string{"0.9.0", "1.0.0", "2.0.0", "2.0.1"},
			latest:   "2.0.1",
			expected: "2.0.0",
			found:    true,
		},
		{
			name:     "Invalid registry versions are ignored",
			rng:      "^1.0.0",
			versions: []string{"not-a-version", "1.0.0", "1.1.0"},
			latest:   "1.1.0",
			expected: "1.1.0",
			found:    true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, ok := MaxSatisfying(tc.rng, createTestCatalog(tc.versions, tc.latest))
			assert.Equal(t, tc.found, ok)
			if tc.found {
				assert.Equal(t, tc.expected, result)
			}
		})
	}
}

func TestMaxSatisfying_DistTag(t *testing.T) {
	catalog := createTestCatalog([]string{"1.0.0", "2.0.0-beta.1"}, "1.0.0")
	catalog.DistTags["next"] = "2.0.0-beta.1"

	result, ok := MaxSatisfying("next", catalog)
	assert.True(t, ok)
	assert.Equal(t, "2.0.0-beta.1", result)
}

func TestSatisfies(t *testing.T) {
	testCases := []struct {
		name     string
		version  string
		rng      string
		expected bool
	}{
		{name: "Caret match", version: "1.4.0", rng: "^1.2.0", expected: true},
		{name: "Caret mismatch", version: "2.0.0", rng: "^1.2.0", expected: false},
		{name: "Empty range", version: "3.1.4", rng: "", expected: true},
		{name: "Latest", version: "3.1.4", rng: "latest", expected: true},
		{name: "Star", version: "3.1.4", rng: "*", expected: true},
		{name: "Internal always satisfies", version: Internal, rng: "^9.0.0", expected: true},
		{name: "Tarball always satisfies", version: Tarball, rng: "^9.0.0", expected: true},
		{name: "URL range", version: "1.0.0", rng: "https://example.com/a.tgz", expected: true},
		{name: "Unparseable constraint falls back to equality", version: "1.0.0", rng: "1.0.0 garbage", expected: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Satisfies(tc.version, tc.rng))
		})
	}
}

func TestIsExact(t *testing.T) {
	assert.True(t, IsExact("1.2.3"))
	assert.True(t, IsExact("1.2.3-beta.1"))
	assert.False(t, IsExact("^1.2.3"))
	assert.False(t, IsExact("1.2"))
	assert.False(t, IsExact("latest"))
}

func TestIsTag(t *testing.T) {
	testCases := []struct {
		rng      string
		expected bool
	}{
		{rng: "latest", expected: true},
		{rng: "next", expected: true},
		{rng: "beta", expected: true},
		{rng: "", expected: false},
		{rng: "*", expected: false},
		{rng: "^1.2.0", expected: false},
		{rng: "1.2.3", expected: false},
		{rng: ">=1.0.0 <2.0.0", expected: false},
		{rng: "https://example.com/a.tgz", expected: false},
	}

	for _, tc := range testCases {
		t.Run(tc.rng, func(t *testing.T) {
			assert.Equal(t, tc.expected, IsTag(tc.rng))
		})
	}
}
