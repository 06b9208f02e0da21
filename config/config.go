package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"

	"github.com/ernesto27/npm-bazel/buildgen"
	"github.com/ernesto27/npm-bazel/cache"
	"github.com/ernesto27/npm-bazel/materialize"
	"github.com/ernesto27/npm-bazel/prefetch"
	"github.com/ernesto27/npm-bazel/registry"
)

// FileName is looked up in the base directory and then in the project root;
// later files override earlier ones.
const FileName = "npm-bazel.toml"

type CacheConfig struct {
	Backend  string `toml:"backend"`
	Dir      string `toml:"dir"`
	RedisURL string `toml:"redis_url"`
}

type WorkspaceConfig struct {
	Patterns []string `toml:"patterns"`
	Mapping  string   `toml:"mapping"`
}

type BazelConfig struct {
	ThirdPartyDir string `toml:"thirdparty_dir"`
	RulesFile     string `toml:"rules_file"`
}

type Config struct {
	// Base directories
	BaseDir    string `toml:"-"`
	TarballDir string `toml:"-"`

	Registry    string          `toml:"registry"`
	Strategy    string          `toml:"strategy"`
	Workers     int             `toml:"workers"`
	Concurrency int             `toml:"concurrency"`
	Cache       CacheConfig     `toml:"cache"`
	Workspace   WorkspaceConfig `toml:"workspace"`
	Bazel       BazelConfig     `toml:"bazel"`
}

func New() (*Config, error) {
	baseDir := os.Getenv("NPM_BAZEL_HOME")
	if baseDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		baseDir = filepath.Join(homeDir, ".config", "npm-bazel")
	}

	cfg := &Config{
		BaseDir:     baseDir,
		TarballDir:  filepath.Join(baseDir, "tarball"),
		Registry:    registry.DefaultURL,
		Strategy:    "hoist",
		Workers:     prefetch.DefaultWorkers,
		Concurrency: materialize.DefaultConcurrency,
		Cache: CacheConfig{
			Backend: cache.BackendFile,
			Dir:     filepath.Join(baseDir, "cache"),
		},
		Bazel: BazelConfig{
			ThirdPartyDir: buildgen.DefaultThirdPartyDir,
			RulesFile:     buildgen.DefaultRulesFile,
		},
	}

	if err := cfg.Load(filepath.Join(baseDir, FileName)); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load merges a TOML file into c. A missing file is not an error.
func (c *Config) Load(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv lets environment variables override file settings.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("NPM_BAZEL_REGISTRY"); v != "" {
		c.Registry = v
	}
	if v := os.Getenv("NPM_BAZEL_CACHE_BACKEND"); v != "" {
		c.Cache.Backend = v
	}
	if v := os.Getenv("NPM_BAZEL_REDIS_URL"); v != "" {
		c.Cache.RedisURL = v
		if os.Getenv("NPM_BAZEL_CACHE_BACKEND") == "" {
			c.Cache.Backend = cache.BackendRedis
		}
	}
	if v := os.Getenv("NPM_BAZEL_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid NPM_BAZEL_WORKERS %q", v)
		}
		c.Workers = n
	}
	return nil
}

func (c *Config) CacheOptions() cache.Options {
	return cache.Options{
		Backend:  c.Cache.Backend,
		Dir:      c.Cache.Dir,
		RedisURL: c.Cache.RedisURL,
	}
}

func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.BaseDir,
		c.TarballDir,
	}
	if c.Cache.Backend == cache.BackendFile {
		dirs = append(dirs, c.Cache.Dir)
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// ClearCache removes downloaded tarballs and the file caches.
func (c *Config) ClearCache() error {
	cacheDirs := []string{
		c.TarballDir,
		c.Cache.Dir,
	}

	for _, dir := range cacheDirs {
		if err := os.RemoveAll(dir); err != nil {
			if !os.IsNotExist(err) {
				return fmt.Errorf("failed to remove %s: %w", dir, err)
			}
		}
	}

	return nil
}
