package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"os/user"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/azaanpi/azaanctl/internal/config"
	"github.com/azaanpi/azaanctl/internal/gitrepo"
	"github.com/azaanpi/azaanctl/internal/hostname"
	"github.com/azaanpi/azaanctl/internal/identity"
	"github.com/azaanpi/azaanctl/internal/pkgs"
	"github.com/azaanpi/azaanctl/internal/provision"
	"github.com/azaanpi/azaanctl/internal/pyenv"
	"github.com/azaanpi/azaanctl/internal/seed"
	"github.com/azaanpi/azaanctl/internal/sshkey"
	"github.com/azaanpi/azaanctl/internal/systemd"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	dryRun    bool
	assumeYes bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "azaanctl",
	Short: "Install and supervise the azaan service on a Raspberry Pi",
	Long: `azaanctl turns a stock Raspberry Pi into an azaan appliance: it installs
the required system packages, provisions a deploy key for the application
repository, fetches and deploys the application into a Python virtualenv,
and supervises it through systemd.

Every step is idempotent; re-running the installer deploys the latest
application version without touching operator-edited configuration.`,
	SilenceUsage: true,
}

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Run the full install (packages, deploy key, app, service)",
	Long: `Provision runs the complete install as root: system packages via apt,
an ed25519 deploy key for the target user, a fresh working copy of the
application repository, a Python virtualenv, the seeded configuration,
the management CLI symlink, and the systemd service.

If cloning fails because the deploy key is not yet registered with the
forge, the installer shows the public key and waits for confirmation
before retrying.`,
	RunE: runProvision,
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check an existing install without changing anything",
	RunE:  runDoctor,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("azaanctl %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/azaanctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	// Provision command flags
	provisionCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")
	provisionCmd.Flags().BoolVar(&assumeYes, "yes", false, "retry a failed clone immediately instead of prompting")

	// Add commands
	rootCmd.AddCommand(provisionCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(versionCmd)
}

func runProvision(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	id, err := identity.NewSystemResolver().Resolve(cfg.Install.User)
	if err != nil {
		return err
	}

	run := provision.NewContext(cfg, id)

	confirm := provision.TTYConfirmer
	if assumeYes {
		// Unattended mode: print the key, wait a bit, retry on its own.
		confirm = func(confirmCtx context.Context, prompt string) error {
			fmt.Println(prompt)
			fmt.Println("Retrying in 30s...")
			select {
			case <-confirmCtx.Done():
				return confirmCtx.Err()
			case <-time.After(30 * time.Second):
				return nil
			}
		}
	}

	keyFile := fmt.Sprintf("%s/.ssh/id_ed25519", id.Home)
	engine := provision.NewEngine(run,
		pkgs.NewAptInstaller(logger),
		sshkey.NewProvisioner(logger),
		provision.NewFetcher(gitrepo.NewShellClient(id, keyFile), confirm, logger),
		pyenv.NewBuilder(id, logger),
		seed.NewSeeder(logger),
		hostname.NewConfigurator(logger),
		systemd.NewClient(),
		logger, dryRun)

	logger.Info("starting provision", "run_id", run.RunID)
	report, err := engine.Run(ctx)
	if err != nil {
		logger.Error("provision failed", "error", err)
		return err
	}

	if report.HostnamePending {
		fmt.Println("Hostname change is pending; reboot to apply it.")
	}
	if !report.Healthy {
		fmt.Println("The service is installed but not running yet; check the output above.")
	}
	return nil
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Doctor inspects the target user's files but never writes, so it
	// does not need root: resolve the identity without the root gate.
	username := cfg.Install.User
	if username == "" {
		username = os.Getenv("SUDO_USER")
	}
	if username == "" {
		current, err := user.Current()
		if err != nil {
			return fmt.Errorf("failed to determine current user: %w", err)
		}
		username = current.Username
	}
	id, err := identity.Lookup(username)
	if err != nil {
		return err
	}

	run := provision.NewContext(cfg, id)
	failed := provision.NewDoctor(run, systemd.NewClient()).Run(ctx, os.Stdout)
	if failed > 0 {
		return fmt.Errorf("doctor found %d issue(s)", failed)
	}
	return nil
}

func setupLogger() *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	configPath := cfgFile
	if configPath == "" {
		configPath = "/etc/azaanctl/config.yaml"
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"repo", cfg.Repo.URL,
		"ref", cfg.Repo.Ref,
		"root_dir", cfg.Install.RootDir,
		"service", cfg.Service.Name)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
