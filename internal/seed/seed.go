package seed

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Seeder copies the default config into place exactly once
type Seeder struct {
	logger *slog.Logger
}

// NewSeeder creates a config seeder
func NewSeeder(logger *slog.Logger) *Seeder {
	return &Seeder{logger: logger}
}

// Seed copies template to dest on first install only. Once dest exists,
// every later run is a guaranteed no-op: operator edits always win over
// redeployment. A missing template is a warning, not an error — the
// service falls back to its own defaults.
func (s *Seeder) Seed(template, dest string) (bool, error) {
	if _, err := os.Stat(dest); err == nil {
		s.logger.Info("config already present, leaving untouched", "path", dest)
		return false, nil
	}

	if _, err := os.Stat(template); err != nil {
		s.logger.Warn("no default config in working copy, skipping seed", "template", template)
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return false, fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := copyFile(template, dest); err != nil {
		return false, fmt.Errorf("failed to seed config: %w", err)
	}

	s.logger.Info("seeded default config", "from", template, "to", dest)
	return true, nil
}

// copyFile copies a file from src to dst with atomic write
func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = srcFile.Close()
	}()

	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".azaanctl-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	if _, err := io.Copy(tmpFile, srcFile); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Chmod(0o644); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, dst)
}
