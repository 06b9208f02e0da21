package cmd

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ernesto27/npm-bazel/logging"
)

//go:embed version.json
var versionFile []byte

type VersionInfo struct {
	Version string `json:"version"`
}

func getVersion() string {
	var versionInfo VersionInfo
	if err := json.Unmarshal(versionFile, &versionInfo); err != nil {
		return "unknown"
	}
	return versionInfo.Version
}

var (
	verboseFlag bool
	configFlag  string
)

var rootCmd = &cobra.Command{
	Use:   "npm-bazel",
	Short: "Resolve npm dependencies into node_modules trees and Bazel rules",
	Long: `npm-bazel resolves the dependency ranges of a package.json into a
deduplicated tree, installs it as a nested node_modules layout and generates
Bazel BUILD and WORKSPACE declarations for monorepo builds.`,
	Version:           getVersion(),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupLogging,
}

func setupLogging(cmd *cobra.Command, args []string) error {
	// .env is optional
	_ = godotenv.Load()

	level := log.InfoLevel
	if verboseFlag {
		level = log.DebugLevel
	}
	logger := logging.New(cmd.ErrOrStderr(), level)
	cmd.SetContext(logging.WithLogger(cmd.Context(), logger))
	return nil
}

// Execute runs the CLI and exits with 130 when interrupted and 1 on any
// other error.
func Execute(ctx context.Context) {
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		return 130
	default:
		return 1
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Path to an npm-bazel.toml file")
}
