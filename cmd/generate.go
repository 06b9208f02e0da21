package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var generateCmd = &cobra.Command{
	Use:   "generate [root]",
	Short: "Generate Bazel BUILD and WORKSPACE files for a monorepo",
	Long: `Discover the internal packages below root, resolve all of their external
dependencies and write a third-party BUILD file, a WORKSPACE with one archive
per external package and a BUILD file next to every internal package.
Files whose content did not change are not rewritten.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	dir, err := projectDir(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(dir)
	if err != nil {
		return err
	}
	pm, deps, err := newManager(cmd, cfg, true)
	if err != nil {
		return err
	}
	defer deps.Close()

	deps.Progress.Start("generate")
	res, err := pm.Generate(cmd.Context(), dir)
	if err != nil {
		deps.Progress.Stop()
		return err
	}
	deps.Progress.Finish("resolved")

	for _, path := range res.Written {
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d files written, %d unchanged\n", len(res.Written), len(res.Unchanged))
	return nil
}
