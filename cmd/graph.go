package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ernesto27/npm-bazel/list"
)

var svgFlag string

var graphCmd = &cobra.Command{
	Use:   "graph [dir]",
	Short: "Render the resolved tree as a Graphviz graph",
	Long:  `Print the requirement graph of the resolved tree in DOT format, or render it to an SVG file with --svg.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runGraph,
}

func init() {
	rootCmd.AddCommand(graphCmd)
	addResolveFlags(graphCmd)
	graphCmd.Flags().StringVar(&svgFlag, "svg", "", "Write an SVG rendering to this file")
}

func runGraph(cmd *cobra.Command, args []string) error {
	dir, err := projectDir(args)
	if err != nil {
		return err
	}
	opts, err := resolveOptions(dir)
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

	t, _, err := pm.Resolve(cmd.Context(), opts)
	if err != nil {
		return err
	}

	dot := list.ToDOT(t)
	if svgFlag == "" {
		_, err := fmt.Fprint(cmd.OutOrStdout(), dot)
		return err
	}

	svg, err := list.RenderSVG(cmd.Context(), dot)
	if err != nil {
		return err
	}
	if err := os.WriteFile(svgFlag, svg, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", svgFlag, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", svgFlag)
	return nil
}
