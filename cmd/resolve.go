package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ernesto27/npm-bazel/list"
)

var (
	outputFlag string
	treeFlag   bool
	allFlag    bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve [dir]",
	Short: "Print the resolved dependency tree without installing it",
	Long: `Resolve the package.json in dir and print the tree as JSON, or as a
node_modules style listing with --tree.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)
	addResolveFlags(resolveCmd)
	resolveCmd.Flags().StringVarP(&outputFlag, "output", "o", "", "Write the JSON tree to a file instead of stdout")
	resolveCmd.Flags().BoolVar(&treeFlag, "tree", false, "Print a tree listing instead of JSON")
	resolveCmd.Flags().BoolVar(&allFlag, "all", false, "With --tree, show nested packages too")
}

func runResolve(cmd *cobra.Command, args []string) error {
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

	t, root, err := pm.Resolve(cmd.Context(), opts)
	if err != nil {
		return err
	}

	if treeFlag {
		var dev []string
		prod := root.GetDependencies()
		for name := range root.GetDevDependencies() {
			if _, ok := prod[name]; !ok {
				dev = append(dev, name)
			}
		}
		l := list.New(t, dev)
		l.ShowAll = allFlag
		l.Out = cmd.OutOrStdout()
		l.Print()
		return nil
	}

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode tree: %w", err)
	}
	data = append(data, '\n')

	if outputFlag != "" {
		return os.WriteFile(outputFlag, data, 0644)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
