package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ernesto27/npm-bazel/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the version, dependency and tarball caches",
}

var cacheRmCmd = &cobra.Command{
	Use:   "rm",
	Short: "Remove all cached versions, dependencies and tarballs",
	Long:  `Remove the downloaded tarballs and the version and dependency caches, including a shared Redis cache when one is configured.`,
	Args:  cobra.NoArgs,
	RunE:  runCacheRm,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheRmCmd)
}

type clearer interface {
	Clear(ctx context.Context) error
}

func runCacheRm(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(".")
	if err != nil {
		return err
	}

	if cfg.Cache.Backend == cache.BackendRedis {
		for _, name := range []string{cache.VersionCacheName, cache.DependencyCacheName} {
			store, err := cache.Open(cfg.CacheOptions(), name)
			if err != nil {
				return err
			}
			if c, ok := store.(clearer); ok {
				err = c.Clear(cmd.Context())
			}
			store.Close()
			if err != nil {
				return fmt.Errorf("failed to clear %s: %w", name, err)
			}
		}
	}

	if err := cfg.ClearCache(); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared successfully")
	return nil
}
