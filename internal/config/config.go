package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the complete azaanctl configuration
type Config struct {
	Repo     RepoConfig     `yaml:"repo"`
	Install  InstallConfig  `yaml:"install"`
	Service  ServiceConfig  `yaml:"service"`
	Hostname HostnameConfig `yaml:"hostname"`
}

// RepoConfig configures the Git repository source
type RepoConfig struct {
	URL string `yaml:"url"`
	Ref string `yaml:"ref"`
}

// InstallConfig configures the target user and filesystem layout
type InstallConfig struct {
	// User is the non-root account that owns the deploy key and runs the
	// service. Empty means "resolve from SUDO_USER".
	User string `yaml:"user"`
	// RootDir is the application root; the working copy lives beneath it.
	RootDir string `yaml:"root_dir"`
	// ConfigDir is the system-wide config directory seeded on first install.
	ConfigDir string `yaml:"config_dir"`
	// BinLink is where the management script is symlinked to.
	BinLink string `yaml:"bin_link"`
	// Packages are installed via apt before anything else.
	Packages []string `yaml:"packages"`
}

// ServiceConfig configures the generated systemd unit
type ServiceConfig struct {
	Name string `yaml:"name"`
	// EntryPoint is the script (relative to the working copy) started by
	// the unit through the virtualenv interpreter.
	EntryPoint string `yaml:"entry_point"`
	// ManageScript is the script (relative to the working copy) exposed
	// through BinLink.
	ManageScript string `yaml:"manage_script"`
	// EnvFile is an optional dotenv file whose entries are rendered into
	// the unit as Environment= lines.
	EnvFile string `yaml:"env_file"`
}

// HostnameConfig configures the first-boot hostname change
type HostnameConfig struct {
	// Name is the hostname to persist. Empty disables the step.
	Name string `yaml:"name"`
	// FirmwareFile is the first-boot configuration file to edit. Its
	// absence is tolerated (not every image uses this boot mechanism).
	FirmwareFile string `yaml:"firmware_file"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Repo.URL = os.ExpandEnv(c.Repo.URL)
	c.Repo.Ref = os.ExpandEnv(c.Repo.Ref)
	c.Install.User = os.ExpandEnv(c.Install.User)
	c.Install.RootDir = os.ExpandEnv(c.Install.RootDir)
	c.Install.ConfigDir = os.ExpandEnv(c.Install.ConfigDir)
	c.Install.BinLink = os.ExpandEnv(c.Install.BinLink)
	c.Service.EnvFile = os.ExpandEnv(c.Service.EnvFile)
	c.Hostname.FirmwareFile = os.ExpandEnv(c.Hostname.FirmwareFile)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Repo.Ref == "" {
		c.Repo.Ref = "master"
	}
	if c.Install.RootDir == "" {
		c.Install.RootDir = "/opt/azaan"
	}
	if c.Install.ConfigDir == "" {
		c.Install.ConfigDir = "/etc/azaan"
	}
	if c.Install.BinLink == "" {
		c.Install.BinLink = "/usr/local/bin/azaan"
	}
	if len(c.Install.Packages) == 0 {
		c.Install.Packages = []string{
			"git", "python3-venv", "python3-pip", "mpg123", "alsa-utils",
		}
	}
	if c.Service.Name == "" {
		c.Service.Name = "azaan"
	}
	if c.Service.EntryPoint == "" {
		c.Service.EntryPoint = "azaan.py"
	}
	if c.Service.ManageScript == "" {
		c.Service.ManageScript = "azaan"
	}
	if c.Hostname.FirmwareFile == "" {
		c.Hostname.FirmwareFile = "/boot/firmware/custom.toml"
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Repo.URL == "" {
		return fmt.Errorf("repo.url is required")
	}
	if c.Repo.Ref == "" {
		return fmt.Errorf("repo.ref is required")
	}

	if !filepath.IsAbs(c.Install.RootDir) {
		return fmt.Errorf("install.root_dir must be an absolute path: %s", c.Install.RootDir)
	}
	if !filepath.IsAbs(c.Install.ConfigDir) {
		return fmt.Errorf("install.config_dir must be an absolute path: %s", c.Install.ConfigDir)
	}
	if !filepath.IsAbs(c.Install.BinLink) {
		return fmt.Errorf("install.bin_link must be an absolute path: %s", c.Install.BinLink)
	}
	if c.Service.EnvFile != "" && !filepath.IsAbs(c.Service.EnvFile) {
		return fmt.Errorf("service.env_file must be an absolute path: %s", c.Service.EnvFile)
	}

	return nil
}

// WorkDir returns the path of the repository working copy
func (c *Config) WorkDir() string {
	return filepath.Join(c.Install.RootDir, "app")
}

// VenvDir returns the path of the virtualenv inside the working copy
func (c *Config) VenvDir() string {
	return filepath.Join(c.WorkDir(), "venv")
}

// SystemConfigPath returns the seeded system-wide config file path
func (c *Config) SystemConfigPath() string {
	return filepath.Join(c.Install.ConfigDir, "config.yml")
}

// ConfigTemplatePath returns the default config shipped in the working copy
func (c *Config) ConfigTemplatePath() string {
	return filepath.Join(c.WorkDir(), "config.yml")
}

// UnitPath returns the systemd unit file path for the service
func (c *Config) UnitPath() string {
	return filepath.Join("/etc/systemd/system", c.Service.Name+".service")
}
