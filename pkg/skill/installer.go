// Package skill installs the bundled pkgrep usage skill into an agent
// skills directory.
package skill

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/thomasjiangcy/pkgrep/pkg/frontmatter"
)

//go:embed skills/pkgrep-usage
var embeddedSkill embed.FS

const (
	// Name is the installed skill directory name.
	Name = "pkgrep-usage"

	embeddedRoot = "skills/pkgrep-usage"
)

// InstallMode selects the default target root.
type InstallMode string

const (
	ModeProject InstallMode = "project"
	ModeGlobal  InstallMode = "global"
)

// Install writes the bundled skill under targetRoot (or the mode's default
// root when targetRoot is empty) and returns the installed directory.
// An existing installation is replaced only with force.
func Install(cwd string, mode InstallMode, targetRoot string, force bool) (string, error) {
	if targetRoot == "" {
		var err error
		targetRoot, err = defaultTargetRoot(cwd, mode)
		if err != nil {
			return "", err
		}
	}

	if err := os.MkdirAll(targetRoot, 0755); err != nil {
		return "", fmt.Errorf("failed to create skills directory %s: %w", targetRoot, err)
	}

	destination := filepath.Join(targetRoot, Name)
	if _, err := os.Stat(destination); err == nil {
		if !force {
			return "", fmt.Errorf("skill destination already exists: %s (rerun with --force to replace)", destination)
		}
		if err := os.RemoveAll(destination); err != nil {
			return "", fmt.Errorf("failed to remove existing installed skill at %s: %w", destination, err)
		}
	}

	if err := validateEmbeddedSkill(); err != nil {
		return "", err
	}
	if err := installEmbeddedSkill(destination); err != nil {
		return "", err
	}
	return destination, nil
}

func defaultTargetRoot(cwd string, mode InstallMode) (string, error) {
	switch mode {
	case ModeProject:
		return filepath.Join(cwd, ".agents", "skills"), nil
	case ModeGlobal:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("unable to resolve home directory for --mode global: %w", err)
		}
		return filepath.Join(home, ".agents", "skills"), nil
	default:
		return "", fmt.Errorf("unknown skill install mode: %s", mode)
	}
}

// validateEmbeddedSkill checks the bundled SKILL.md frontmatter names this
// skill. A mismatch means the embedded payload is broken.
func validateEmbeddedSkill() error {
	content, err := embeddedSkill.ReadFile(embeddedRoot + "/SKILL.md")
	if err != nil {
		return fmt.Errorf("bundled skill is missing SKILL.md: %w", err)
	}
	fm, err := frontmatter.Parse(content)
	if err != nil {
		return fmt.Errorf("bundled SKILL.md has invalid frontmatter: %w", err)
	}
	if fm.GetString("name") != Name {
		return fmt.Errorf("bundled SKILL.md frontmatter name %q does not match %q", fm.GetString("name"), Name)
	}
	return nil
}

func installEmbeddedSkill(destination string) error {
	return fs.WalkDir(embeddedSkill, embeddedRoot, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(embeddedRoot, path)
		if err != nil {
			return err
		}
		target := filepath.Join(destination, rel)

		if entry.IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("failed to create skill subdirectory %s: %w", target, err)
			}
			return nil
		}

		content, err := embeddedSkill.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read embedded skill file %s: %w", path, err)
		}
		if err := os.WriteFile(target, content, 0644); err != nil {
			return fmt.Errorf("failed to write embedded skill file %s: %w", target, err)
		}
		return nil
	})
}
