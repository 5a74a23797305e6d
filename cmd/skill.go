package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/thomasjiangcy/pkgrep/pkg/skill"
)

var (
	skillInstallModeFlag   string
	skillInstallTargetFlag string
	skillInstallForceFlag  bool
)

// skillCmd represents the skill command
var skillCmd = &cobra.Command{
	Use:   "skill",
	Short: "Skill operations",
}

var skillInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the bundled pkgrep usage skill",
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current working directory: %w", err)
		}

		mode := skill.InstallMode(skillInstallModeFlag)
		if mode != skill.ModeProject && mode != skill.ModeGlobal {
			return fmt.Errorf("invalid --mode %q (expected project or global)", skillInstallModeFlag)
		}

		installed, err := skill.Install(cwd, mode, skillInstallTargetFlag, skillInstallForceFlag)
		if err != nil {
			return err
		}

		fmt.Printf("Installed skill: %s\n", installed)
		fmt.Println("Restart your agent runtime to load new skills")
		return nil
	},
}

func init() {
	skillInstallCmd.Flags().StringVar(&skillInstallModeFlag, "mode", "project", "Install target mode (project or global)")
	skillInstallCmd.Flags().StringVar(&skillInstallTargetFlag, "target", "", "Explicit skills directory; overrides the mode default")
	skillInstallCmd.Flags().BoolVar(&skillInstallForceFlag, "force", false, "Replace an existing installed skill directory")
	skillCmd.AddCommand(skillInstallCmd)
	rootCmd.AddCommand(skillCmd)
}
