package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ernesto27/npm-bazel/config"
	"github.com/ernesto27/npm-bazel/manager"
	"github.com/ernesto27/npm-bazel/progress"
)

// projectDir returns the absolute directory named by the first argument,
// defaulting to the working directory.
func projectDir(args []string) (string, error) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	return filepath.Abs(dir)
}

// loadConfig layers the base config, the project's npm-bazel.toml, an
// explicit --config file and the environment, in that order.
func loadConfig(dir string) (*config.Config, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create config: %w", err)
	}
	if err := cfg.Load(filepath.Join(dir, config.FileName)); err != nil {
		return nil, err
	}
	if configFlag != "" {
		if err := cfg.Load(configFlag); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newManager(cmd *cobra.Command, cfg *config.Config, withProgress bool) (*manager.PackageManager, *manager.Dependencies, error) {
	deps, err := manager.BuildDependencies(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("error building dependencies: %w", err)
	}
	if withProgress {
		deps.Progress = progress.NewWithWriter(cmd.OutOrStdout(), getVersion(), verboseFlag)
	}

	pm, err := manager.New(deps)
	if err != nil {
		deps.Close()
		return nil, nil, fmt.Errorf("error creating package manager: %w", err)
	}
	return pm, deps, nil
}
