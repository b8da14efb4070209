package hostname

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
)

var (
	directivePattern   = regexp.MustCompile(`(?m)^hostname\s*=.*$`)
	systemTablePattern = regexp.MustCompile(`(?m)^\[system\][ \t]*$`)
)

// Configurator persists a hostname into the first-boot firmware config
type Configurator struct {
	logger *slog.Logger
}

// NewConfigurator creates a hostname configurator
func NewConfigurator(logger *slog.Logger) *Configurator {
	return &Configurator{logger: logger}
}

// Set rewrites the hostname directive in firmwareFile, appending one when
// no directive exists yet. The change only takes effect after a reboot,
// so the returned flag tells the caller to surface that to the operator.
// A missing firmware file is tolerated: not every image uses this boot
// mechanism.
func (c *Configurator) Set(firmwareFile, name string) (bool, error) {
	data, err := os.ReadFile(firmwareFile)
	if err != nil {
		if os.IsNotExist(err) {
			c.logger.Warn("firmware config not found, hostname not persisted", "file", firmwareFile)
			return false, nil
		}
		return false, fmt.Errorf("failed to read %s: %w", firmwareFile, err)
	}

	directive := fmt.Sprintf("hostname = %q", name)
	content := string(data)

	switch {
	case directivePattern.MatchString(content):
		content = directivePattern.ReplaceAllString(content, directive)
	case systemTablePattern.MatchString(content):
		// A [system] table exists without the directive: slot it in
		// right after the header instead of opening a second table.
		loc := systemTablePattern.FindStringIndex(content)
		insert := loc[1]
		content = content[:insert] + "\n" + directive + content[insert:]
	default:
		if content != "" && content[len(content)-1] != '\n' {
			content += "\n"
		}
		content += "[system]\n" + directive + "\n"
	}

	if err := atomicWrite(firmwareFile, []byte(content)); err != nil {
		return false, fmt.Errorf("failed to update %s: %w", firmwareFile, err)
	}

	c.logger.Info("hostname persisted, takes effect after reboot", "hostname", name, "file", firmwareFile)
	return true, nil
}

func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".azaanctl-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
