package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/thomasjiangcy/pkgrep/pkg/config"
	"github.com/thomasjiangcy/pkgrep/pkg/logging"
	"github.com/thomasjiangcy/pkgrep/pkg/version"
)

var (
	verboseFlag bool
	versionFlag bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pkgrep",
	Short: "Dependency source cache helper for developers and coding agents",
	Long: `pkgrep materializes dependency source code into a content-addressed
local cache and exposes each dependency as a stable, human-readable
symlink inside your project.

Dependencies come from explicit git specs, npm/PyPI registry metadata,
or project lockfiles (package-lock.json, uv.lock); every one ends up as
a git checkout pinned to a specific commit.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Setup(verboseFlag)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if versionFlag {
			fmt.Println(version.GetVersion())
			return nil
		}
		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose logging (debug level)")
	rootCmd.Flags().BoolVar(&versionFlag, "version", false, "Show version information")
}

// commandContext resolves the working directory and configuration every
// command operates on. Both are derived per invocation; nothing is hoisted
// into process-wide state.
func commandContext() (cwd string, cfg *config.Config, err error) {
	cwd, err = os.Getwd()
	if err != nil {
		return "", nil, fmt.Errorf("failed to get current working directory: %w", err)
	}
	cfg, err = config.Load(cwd)
	if err != nil {
		return "", nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	slog.Info("starting command",
		"cwd", cwd,
		"backend", cfg.Backend.String(),
		"worker_pool_size", cfg.WorkerPoolSize)
	slog.Debug("resolved object store settings", "settings", cfg.Describe())

	return cwd, cfg, nil
}
