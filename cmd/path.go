package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/thomasjiangcy/pkgrep/pkg/depspec"
)

// pathCmd represents the path command
var pathCmd = &cobra.Command{
	Use:   "path <spec>",
	Short: "Resolve linked path for a dependency in the current project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current working directory: %w", err)
		}
		return runPath(cwd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(pathCmd)
}

func runPath(cwd, rawSpec string) error {
	parsed, err := parseDepSpecs([]string{rawSpec})
	if err != nil {
		return err
	}
	spec := parsed[0]

	if spec.Kind != depspec.SourceGit {
		return fmt.Errorf("path currently supports git-backed dependency specs only; use 'git:<url>@<revision>' or 'git:<url>#<revision>'")
	}

	linkPath := filepath.Join(cwd, depspec.LinkPath(spec.Ecosystem, spec.GitURL, spec.RequestedRevision))
	if _, err := os.Lstat(linkPath); err == nil {
		fmt.Println(linkPath)
		return nil
	}

	return fmt.Errorf("dependency is not linked in this project: %s (expected path: %s)", rawSpec, linkPath)
}
