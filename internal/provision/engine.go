package provision

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/azaanpi/azaanctl/internal/gitrepo"
	"github.com/azaanpi/azaanctl/internal/identity"
	"github.com/azaanpi/azaanctl/internal/pkgs"
	"github.com/azaanpi/azaanctl/internal/sshkey"
	"github.com/azaanpi/azaanctl/internal/systemd"
	"github.com/azaanpi/azaanctl/internal/unit"
)

// Credentials provisions the deploy keypair for an identity
type Credentials interface {
	Provision(ctx context.Context, id identity.Identity, gitHost string) (sshkey.Keypair, error)
}

// EnvBuilder builds the Python runtime environment inside a working copy
type EnvBuilder interface {
	Build(ctx context.Context, workDir string) error
}

// ConfigSeeder installs the initial system configuration
type ConfigSeeder interface {
	Seed(template, dest string) (bool, error)
}

// HostnameWriter persists a hostname into the first-boot firmware config
type HostnameWriter interface {
	Set(firmwareFile, name string) (bool, error)
}

// Report summarizes the outcome of a provisioning run for the operator
type Report struct {
	// KeyGenerated reports whether this run created a new deploy key.
	KeyGenerated bool
	// ConfigSeeded reports whether the system config was installed fresh.
	ConfigSeeded bool
	// HostnamePending reports that a hostname change was written and
	// takes effect on the next reboot.
	HostnamePending bool
	// Healthy is advisory only: it reflects the post-install service
	// check and never changes the process exit code.
	Healthy bool
}

// Engine runs the provisioning steps in their fixed order
type Engine struct {
	run      *Context
	packages pkgs.Installer
	creds    Credentials
	fetcher  *Fetcher
	venv     EnvBuilder
	seeder   ConfigSeeder
	hostname HostnameWriter
	systemd  systemd.Manager
	logger   *slog.Logger
	out      io.Writer
	dryRun   bool

	// settle is how long the service gets to settle before the health
	// check looks at it.
	settle time.Duration
}

// NewEngine wires a provisioning engine from its step implementations
func NewEngine(run *Context, packages pkgs.Installer, creds Credentials, fetcher *Fetcher,
	venv EnvBuilder, seeder ConfigSeeder, hostname HostnameWriter, sd systemd.Manager,
	logger *slog.Logger, dryRun bool) *Engine {
	return &Engine{
		run:      run,
		packages: packages,
		creds:    creds,
		fetcher:  fetcher,
		venv:     venv,
		seeder:   seeder,
		hostname: hostname,
		systemd:  sd,
		logger:   logger.With("run_id", run.RunID),
		out:      os.Stdout,
		dryRun:   dryRun,
		settle:   3 * time.Second,
	}
}

// Run executes the complete install. The order is fixed: system packages,
// deploy credential, working copy, Python environment, system config,
// management CLI, systemd unit, hostname, health check. Steps are
// individually idempotent so a failed run can simply be re-run.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	cfg := e.run.Cfg
	e.logger.Info("starting install",
		"repo", cfg.Repo.URL,
		"ref", cfg.Repo.Ref,
		"user", e.run.ID.Username,
		"dry_run", e.dryRun)

	if e.dryRun {
		e.logPlan()
		e.logger.Info("dry-run complete, no changes applied")
		return &Report{Healthy: true}, nil
	}

	report := &Report{}

	e.logger.Info("installing system packages", "packages", cfg.Install.Packages)
	if err := e.packages.Update(ctx); err != nil {
		return nil, fmt.Errorf("failed to update package index: %w", err)
	}
	if err := e.packages.Install(ctx, cfg.Install.Packages...); err != nil {
		return nil, fmt.Errorf("failed to install packages: %w", err)
	}

	gitHost := gitrepo.HostFromURL(cfg.Repo.URL)
	keypair, err := e.creds.Provision(ctx, e.run.ID, gitHost)
	if err != nil {
		return nil, fmt.Errorf("failed to provision deploy key: %w", err)
	}
	report.KeyGenerated = keypair.Generated
	if keypair.Generated {
		fmt.Fprintf(e.out, "\nGenerated a new deploy key. Register it with read access on the forge:\n\n  %s\n\n", keypair.AuthorizedKey)
	}

	// The clone and venv build run as the target user, so the install
	// root must belong to them.
	if err := os.MkdirAll(cfg.Install.RootDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create install root: %w", err)
	}
	if os.Geteuid() == 0 {
		if err := os.Chown(cfg.Install.RootDir, e.run.ID.UID, e.run.ID.GID); err != nil {
			return nil, fmt.Errorf("failed to chown install root: %w", err)
		}
	}
	if err := e.fetcher.Fetch(ctx, cfg.Repo.URL, cfg.Repo.Ref, e.run.WorkDir, keypair.AuthorizedKey); err != nil {
		return nil, err
	}

	if err := e.venv.Build(ctx, e.run.WorkDir); err != nil {
		return nil, fmt.Errorf("failed to build python environment: %w", err)
	}

	seeded, err := e.seeder.Seed(e.run.ConfigTemplate, e.run.SystemConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to seed configuration: %w", err)
	}
	report.ConfigSeeded = seeded

	if err := e.installCLI(); err != nil {
		return nil, err
	}

	if err := e.installUnit(ctx); err != nil {
		return nil, err
	}

	if cfg.Hostname.Name != "" {
		applied, err := e.hostname.Set(cfg.Hostname.FirmwareFile, cfg.Hostname.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to configure hostname: %w", err)
		}
		report.HostnamePending = applied
	}

	report.Healthy = e.checkHealth(ctx)

	e.logger.Info("install completed",
		"config_seeded", report.ConfigSeeded,
		"hostname_pending", report.HostnamePending,
		"healthy", report.Healthy)
	return report, nil
}

// installCLI makes the repository's management script executable and links
// it into the system path. The link is replaced, never duplicated.
func (e *Engine) installCLI() error {
	cfg := e.run.Cfg
	if cfg.Service.ManageScript == "" || cfg.Install.BinLink == "" {
		return nil
	}

	script := filepath.Join(e.run.WorkDir, cfg.Service.ManageScript)
	if err := os.Chmod(script, 0o755); err != nil {
		return fmt.Errorf("failed to mark management script executable: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Install.BinLink), 0o755); err != nil {
		return fmt.Errorf("failed to create bin directory: %w", err)
	}
	if err := os.Remove(cfg.Install.BinLink); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to replace existing link: %w", err)
	}
	if err := os.Symlink(script, cfg.Install.BinLink); err != nil {
		return fmt.Errorf("failed to link management script: %w", err)
	}

	e.logger.Info("management CLI linked", "link", cfg.Install.BinLink, "target", script)
	return nil
}

// installUnit regenerates the service unit and (re)starts the service.
// The unit file is overwritten every run so changes to the layout or env
// file always reach systemd.
func (e *Engine) installUnit(ctx context.Context) error {
	cfg := e.run.Cfg

	text, err := unit.Render(unit.Definition{
		Name:        cfg.Service.Name,
		Description: fmt.Sprintf("%s service", cfg.Service.Name),
		User:        e.run.ID.Username,
		WorkDir:     e.run.WorkDir,
		Exec: fmt.Sprintf("%s %s",
			filepath.Join(e.run.VenvDir, "bin", "python"),
			filepath.Join(e.run.WorkDir, cfg.Service.EntryPoint)),
		EnvFile: cfg.Service.EnvFile,
	})
	if err != nil {
		return fmt.Errorf("failed to render unit: %w", err)
	}

	if err := os.WriteFile(e.run.UnitPath, []byte(text), 0o644); err != nil {
		return fmt.Errorf("failed to write unit file: %w", err)
	}

	unitName := cfg.Service.Name + ".service"
	e.logger.Info("installing service", "unit", unitName, "path", e.run.UnitPath)
	if err := e.systemd.DaemonReload(ctx); err != nil {
		return fmt.Errorf("failed to reload systemd: %w", err)
	}
	if err := e.systemd.Enable(ctx, unitName); err != nil {
		return fmt.Errorf("failed to enable service: %w", err)
	}
	if err := e.systemd.Restart(ctx, unitName); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	return nil
}

// checkHealth reports whether the service came up. An unhealthy service
// gets its status and recent journal printed for the operator, but the
// install itself still counts as successful: the usual cause is a config
// the operator has yet to fill in.
func (e *Engine) checkHealth(ctx context.Context) bool {
	unitName := e.run.Cfg.Service.Name + ".service"

	select {
	case <-ctx.Done():
		return false
	case <-time.After(e.settle):
	}

	if e.systemd.IsActive(ctx, unitName) {
		e.logger.Info("service is up", "unit", unitName)
		return true
	}

	e.logger.Warn("service did not come up", "unit", unitName)
	fmt.Fprintf(e.out, "\n%s\n\nRecent log output:\n%s\n",
		e.systemd.Status(ctx, unitName),
		e.systemd.Journal(ctx, unitName, 50))
	return false
}

func (e *Engine) logPlan() {
	cfg := e.run.Cfg
	e.logger.Info("[dry-run] would install packages", "packages", cfg.Install.Packages)
	e.logger.Info("[dry-run] would ensure deploy key", "user", e.run.ID.Username, "host", gitrepo.HostFromURL(cfg.Repo.URL))
	e.logger.Info("[dry-run] would deploy working copy", "repo", cfg.Repo.URL, "ref", cfg.Repo.Ref, "dest", e.run.WorkDir)
	e.logger.Info("[dry-run] would build python environment", "venv", e.run.VenvDir)
	e.logger.Info("[dry-run] would seed config if absent", "dest", e.run.SystemConfig)
	e.logger.Info("[dry-run] would install service", "unit", e.run.UnitPath)
	if cfg.Hostname.Name != "" {
		e.logger.Info("[dry-run] would set hostname", "hostname", cfg.Hostname.Name, "file", cfg.Hostname.FirmwareFile)
	}
}
