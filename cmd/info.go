package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/ernesto27/npm-bazel/info"
)

var infoCmd = &cobra.Command{
	Use:   "info <package>[@range]",
	Short: "Show what a range resolves to",
	Long:  `Resolve a package range through the version cache and the registry and show the chosen version, its dist and its dependencies.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

// splitSpec splits name@range, keeping the leading @ of scoped names.
func splitSpec(spec string) (string, string) {
	if i := strings.LastIndex(spec, "@"); i > 0 {
		return spec[:i], spec[i+1:]
	}
	return spec, ""
}

func runInfo(cmd *cobra.Command, args []string) error {
	dir, err := projectDir(nil)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(dir)
	if err != nil {
		return err
	}
	pm, deps, err := newManager(cmd, cfg, false)
	if err != nil {
		return err
	}
	defer deps.Close()

	name, rng := splitSpec(args[0])
	i := info.New(deps.Registry, pm.Oracle())
	i.Out = cmd.OutOrStdout()
	return i.Show(cmd.Context(), name, rng)
}
