package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernesto27/npm-bazel/cache"
	"github.com/ernesto27/npm-bazel/registry"
)

func TestNew(t *testing.T) {
	testCases := []struct {
		name        string
		configFile  string
		expectError bool
		validate    func(t *testing.T, cfg *Config)
	}{
		{
			name: "Defaults",
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, registry.DefaultURL, cfg.Registry)
				assert.Equal(t, 16, cfg.Workers)
				assert.Equal(t, "hoist", cfg.Strategy)
				assert.Equal(t, cache.BackendFile, cfg.Cache.Backend)
				assert.Equal(t, filepath.Join(cfg.BaseDir, "cache"), cfg.Cache.Dir)
				assert.Equal(t, "build_tools/npm-thirdparty", cfg.Bazel.ThirdPartyDir)
			},
		},
		{
			name: "Config file in base dir",
			configFile: `
registry = "https://mirror.example/"
workers = 4
strategy = "dedupe"

[cache]
backend = "redis"
redis_url = "redis://localhost:6379/0"

[workspace]
patterns = ["packages/*"]
`,
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "https://mirror.example/", cfg.Registry)
				assert.Equal(t, 4, cfg.Workers)
				assert.Equal(t, "dedupe", cfg.Strategy)
				assert.Equal(t, cache.BackendRedis, cfg.Cache.Backend)
				assert.Equal(t, []string{"packages/*"}, cfg.Workspace.Patterns)
				assert.Equal(t, filepath.Join(cfg.BaseDir, "cache"), cfg.Cache.Dir, "unset keys keep their default")
			},
		},
		{
			name:        "Malformed config file",
			configFile:  `workers = "many`,
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			home := t.TempDir()
			t.Setenv("NPM_BAZEL_HOME", home)
			if tc.configFile != "" {
				require.NoError(t, os.WriteFile(filepath.Join(home, FileName), []byte(tc.configFile), 0644))
			}

			cfg, err := New()
			if tc.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, home, cfg.BaseDir)
			tc.validate(t, cfg)
		})
	}
}

func TestLoad_ProjectOverride(t *testing.T) {
	t.Setenv("NPM_BAZEL_HOME", t.TempDir())
	cfg, err := New()
	require.NoError(t, err)

	project := t.TempDir()
	path := filepath.Join(project, FileName)
	require.NoError(t, os.WriteFile(path, []byte("concurrency = 2\n[bazel]\nrules_file = \"//tools:npm.bzl\"\n"), 0644))

	require.NoError(t, cfg.Load(path))
	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, "//tools:npm.bzl", cfg.Bazel.RulesFile)
	assert.Equal(t, "build_tools/npm-thirdparty", cfg.Bazel.ThirdPartyDir)

	assert.NoError(t, cfg.Load(filepath.Join(project, "missing.toml")))
}

func TestApplyEnv(t *testing.T) {
	testCases := []struct {
		name        string
		env         map[string]string
		expectError bool
		validate    func(t *testing.T, cfg *Config)
	}{
		{
			name: "Registry override",
			env:  map[string]string{"NPM_BAZEL_REGISTRY": "http://localhost:4873/"},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "http://localhost:4873/", cfg.Registry)
			},
		},
		{
			name: "Redis URL selects redis backend",
			env:  map[string]string{"NPM_BAZEL_REDIS_URL": "redis://cache:6379/1"},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, cache.BackendRedis, cfg.Cache.Backend)
				assert.Equal(t, "redis://cache:6379/1", cfg.CacheOptions().RedisURL)
			},
		},
		{
			name: "Explicit backend wins",
			env: map[string]string{
				"NPM_BAZEL_REDIS_URL":     "redis://cache:6379/1",
				"NPM_BAZEL_CACHE_BACKEND": "file",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, cache.BackendFile, cfg.Cache.Backend)
			},
		},
		{
			name: "Workers",
			env:  map[string]string{"NPM_BAZEL_WORKERS": "32"},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 32, cfg.Workers)
			},
		},
		{
			name:        "Invalid workers",
			env:         map[string]string{"NPM_BAZEL_WORKERS": "zero"},
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("NPM_BAZEL_HOME", t.TempDir())
			for _, k := range []string{"NPM_BAZEL_REGISTRY", "NPM_BAZEL_REDIS_URL", "NPM_BAZEL_CACHE_BACKEND", "NPM_BAZEL_WORKERS"} {
				t.Setenv(k, "")
			}
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cfg, err := New()
			require.NoError(t, err)
			err = cfg.ApplyEnv()
			if tc.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tc.validate(t, cfg)
		})
	}
}

func TestEnsureDirectoriesAndClearCache(t *testing.T) {
	t.Setenv("NPM_BAZEL_HOME", t.TempDir())
	cfg, err := New()
	require.NoError(t, err)

	require.NoError(t, cfg.EnsureDirectories())
	assert.DirExists(t, cfg.TarballDir)
	assert.DirExists(t, cfg.Cache.Dir)

	require.NoError(t, os.WriteFile(filepath.Join(cfg.TarballDir, "a-1.0.0.tgz"), []byte("x"), 0644))
	require.NoError(t, cfg.ClearCache())
	assert.NoDirExists(t, cfg.TarballDir)
	assert.NoDirExists(t, cfg.Cache.Dir)
	assert.DirExists(t, cfg.BaseDir)
}
