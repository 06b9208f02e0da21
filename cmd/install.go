package cmd

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ernesto27/npm-bazel/manager"
	"github.com/ernesto27/npm-bazel/resolver"
)

var (
	outFlag        string
	rootFlag       string
	strategyFlag   string
	cleanFlag      bool
	noPrefetchFlag bool
)

var installCmd = &cobra.Command{
	Use:     "install [dir]",
	Aliases: []string{"i"},
	Short:   "Install the dependencies of a package into node_modules",
	Long: `Resolve the package.json in dir (default: current directory) and install
the resulting tree as a nested node_modules layout. Packages already present
are left alone, so an interrupted install can simply be run again.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInstall,
}

func init() {
	rootCmd.AddCommand(installCmd)
	addResolveFlags(installCmd)
	installCmd.Flags().StringVarP(&outFlag, "out", "o", "", "Directory that receives node_modules (default: the package directory)")
	installCmd.Flags().BoolVar(&cleanFlag, "clean", false, "Remove the existing node_modules first")
}

func addResolveFlags(c *cobra.Command) {
	c.Flags().StringVar(&rootFlag, "root", "", "Workspace root used to discover internal packages (default: the package directory)")
	c.Flags().StringVar(&strategyFlag, "strategy", "", "Resolution strategy: hoist or dedupe")
	c.Flags().BoolVar(&noPrefetchFlag, "no-prefetch", false, "Skip the concurrent metadata prefetch")
}

// resolveOptions builds manager options from the shared resolve flags.
func resolveOptions(dir string) (manager.Options, error) {
	opts := manager.Options{
		ManifestPath: filepath.Join(dir, "package.json"),
		RootDir:      rootFlag,
		SkipPrefetch: noPrefetchFlag,
	}
	if strategyFlag != "" {
		s, err := resolver.ParseStrategy(strategyFlag)
		if err != nil {
			return opts, err
		}
		opts.Strategy = s
	}
	return opts, nil
}

func runInstall(cmd *cobra.Command, args []string) error {
	dir, err := projectDir(args)
	if err != nil {
		return err
	}
	opts, err := resolveOptions(dir)
	if err != nil {
		return err
	}
	opts.OutDir = outFlag
	opts.Clean = cleanFlag

	cfg, err := loadConfig(dir)
	if err != nil {
		return err
	}
	pm, deps, err := newManager(cmd, cfg, true)
	if err != nil {
		return err
	}
	defer deps.Close()

	deps.Progress.Start("install")
	if _, _, err := pm.Install(cmd.Context(), opts); err != nil {
		deps.Progress.Stop()
		return err
	}
	deps.Progress.Finish("installed")
	return nil
}
