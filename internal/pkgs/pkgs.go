package pkgs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Installer provides OS package operations
type Installer interface {
	// Update refreshes the package index
	Update(ctx context.Context) error
	// Install installs the named packages
	Install(ctx context.Context, packages ...string) error
}

// AptInstaller implements Installer over apt-get
type AptInstaller struct {
	logger *slog.Logger

	// run executes an external command; tests substitute this.
	run func(ctx context.Context, env []string, name string, args ...string) error
}

// NewAptInstaller creates an apt-based package installer
func NewAptInstaller(logger *slog.Logger) *AptInstaller {
	return &AptInstaller{
		logger: logger,
		run: func(ctx context.Context, env []string, name string, args ...string) error {
			cmd := exec.CommandContext(ctx, name, args...)
			cmd.Env = append(os.Environ(), env...)
			output, err := cmd.CombinedOutput()
			if err != nil {
				return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
			}
			return nil
		},
	}
}

// Update refreshes the apt package index
func (a *AptInstaller) Update(ctx context.Context) error {
	a.logger.Info("updating package index")
	if err := a.run(ctx, aptEnv(), "apt-get", "update"); err != nil {
		return fmt.Errorf("apt-get update failed: %w", err)
	}
	return nil
}

// Install installs the given packages non-interactively
func (a *AptInstaller) Install(ctx context.Context, packages ...string) error {
	if len(packages) == 0 {
		return nil
	}

	a.logger.Info("installing packages", "packages", packages)
	args := append([]string{"install", "-y"}, packages...)
	if err := a.run(ctx, aptEnv(), "apt-get", args...); err != nil {
		return fmt.Errorf("apt-get install failed: %w", err)
	}
	return nil
}

func aptEnv() []string {
	return []string{"DEBIAN_FRONTEND=noninteractive"}
}
