package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/tidwall/gjson"
)

const (
	BackendFile  = "file"
	BackendRedis = "redis"

	VersionCacheName    = "npm_version_cache"
	DependencyCacheName = "npm_dependency_cache"
)

// Store is a persisted string map. Keys are name@range for the version cache
// and name@version for the dependency cache.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Backend  string
	Dir      string
	RedisURL string
}

// Open returns the store called name for the configured backend.
func Open(opts Options, name string) (Store, error) {
	switch opts.Backend {
	case "", BackendFile:
		return NewFileStore(filepath.Join(opts.Dir, name))
	case BackendRedis:
		return NewRedisStore(opts.RedisURL, "npm-bazel:"+name)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}
}

// DependencyRecord is the cached dependency declaration of one name@version.
type DependencyRecord struct {
	Dependencies        map[string]string `json:"dependencies"`
	BundledDependencies []string          `json:"bundledDependencies"`
}

func EncodeDependencies(rec DependencyRecord) (string, error) {
	if rec.Dependencies == nil {
		rec.Dependencies = map[string]string{}
	}
	if rec.BundledDependencies == nil {
		rec.BundledDependencies = []string{}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func DecodeDependencies(value string) (DependencyRecord, error) {
	if !gjson.Valid(value) {
		return DependencyRecord{}, fmt.Errorf("invalid dependency record %q", value)
	}

	doc := gjson.Parse(value)
	rec := DependencyRecord{Dependencies: make(map[string]string)}
	doc.Get("dependencies").ForEach(func(key, val gjson.Result) bool {
		rec.Dependencies[key.String()] = val.String()
		return true
	})
	doc.Get("bundledDependencies").ForEach(func(_, val gjson.Result) bool {
		rec.BundledDependencies = append(rec.BundledDependencies, val.String())
		return true
	})
	sort.Strings(rec.BundledDependencies)
	return rec, nil
}
