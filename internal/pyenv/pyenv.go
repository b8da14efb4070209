package pyenv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/azaanpi/azaanctl/internal/identity"
)

// ErrNoManifest is returned when the working copy has no requirements.txt.
var ErrNoManifest = errors.New("requirements.txt not found in working copy")

// Builder materializes an isolated Python environment for the working copy
type Builder struct {
	id     identity.Identity
	logger *slog.Logger
}

// NewBuilder creates an environment builder running as the identity
func NewBuilder(id identity.Identity, logger *slog.Logger) *Builder {
	return &Builder{id: id, logger: logger}
}

// Build creates a virtualenv under the working copy and installs the
// dependency manifest into it. Unlike the fetch step there is no partial
// tolerance here: a missing manifest or a failed install propagates.
func (b *Builder) Build(ctx context.Context, workDir string) error {
	manifest := filepath.Join(workDir, "requirements.txt")
	if _, err := os.Stat(manifest); err != nil {
		return fmt.Errorf("%w: %s", ErrNoManifest, manifest)
	}

	venvDir := filepath.Join(workDir, "venv")

	b.logger.Info("creating virtualenv", "dir", venvDir)
	if err := b.runAsIdentity(ctx, workDir, "python3", "-m", "venv", venvDir); err != nil {
		return fmt.Errorf("failed to create virtualenv: %w", err)
	}

	b.logger.Info("installing dependencies", "manifest", manifest)
	pip := filepath.Join(venvDir, "bin", "pip")
	if err := b.runAsIdentity(ctx, workDir, pip, "install", "-r", manifest); err != nil {
		return fmt.Errorf("failed to install dependencies: %w", err)
	}

	return nil
}

func (b *Builder) runAsIdentity(ctx context.Context, dir, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = []string{
		"HOME=" + b.id.Home,
		"USER=" + b.id.Username,
		"PATH=" + os.Getenv("PATH"),
	}
	if os.Geteuid() == 0 && b.id.UID != 0 {
		cmd.SysProcAttr = &syscall.SysProcAttr{
			Credential: &syscall.Credential{
				Uid: uint32(b.id.UID),
				Gid: uint32(b.id.GID),
			},
		}
	}

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}
