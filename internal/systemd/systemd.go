package systemd

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Manager provides the supervisor operations the installer needs
type Manager interface {
	// DaemonReload reloads systemd configuration
	DaemonReload(ctx context.Context) error
	// Enable enables a unit so it starts on boot
	Enable(ctx context.Context, unit string) error
	// Restart (re)starts a unit
	Restart(ctx context.Context, unit string) error
	// IsActive reports whether a unit is in the active/running state
	IsActive(ctx context.Context, unit string) bool
	// Status returns the human-readable unit status output
	Status(ctx context.Context, unit string) string
	// Journal returns the last n journal lines for a unit
	Journal(ctx context.Context, unit string, n int) string
}

// Client implements Manager by shelling out to systemctl and journalctl
type Client struct{}

// NewClient creates a new systemd client
func NewClient() *Client {
	return &Client{}
}

// IsAvailable checks whether systemctl can be reached at all
func (c *Client) IsAvailable() bool {
	_, err := exec.LookPath("systemctl")
	return err == nil
}

// DaemonReload reloads systemd daemon configuration
func (c *Client) DaemonReload(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "systemctl", "daemon-reload")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("systemctl daemon-reload failed: %w: %s", err, string(output))
	}
	return nil
}

// Enable enables the unit for boot-time start
func (c *Client) Enable(ctx context.Context, unit string) error {
	cmd := exec.CommandContext(ctx, "systemctl", "enable", unit)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("systemctl enable %s failed: %w: %s", unit, err, string(output))
	}
	return nil
}

// Restart restarts the unit, starting it if it was not running
func (c *Client) Restart(ctx context.Context, unit string) error {
	cmd := exec.CommandContext(ctx, "systemctl", "restart", unit)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("systemctl restart %s failed: %w: %s", unit, err, string(output))
	}
	return nil
}

// IsActive reports whether the unit is active. A non-zero exit simply
// means "not active", never an error.
func (c *Client) IsActive(ctx context.Context, unit string) bool {
	cmd := exec.CommandContext(ctx, "systemctl", "is-active", "--quiet", unit)
	return cmd.Run() == nil
}

// Status returns the full status output for diagnostics. Exit status is
// ignored: systemctl status exits non-zero for inactive units and the
// output is still what we want to show.
func (c *Client) Status(ctx context.Context, unit string) string {
	cmd := exec.CommandContext(ctx, "systemctl", "status", "--no-pager", "--full", unit)
	output, _ := cmd.CombinedOutput()
	return strings.TrimSpace(string(output))
}

// Journal returns the last n journal lines for the unit
func (c *Client) Journal(ctx context.Context, unit string, n int) string {
	cmd := exec.CommandContext(ctx, "journalctl", "-u", unit, "-n", fmt.Sprintf("%d", n), "--no-pager")
	output, _ := cmd.CombinedOutput()
	return strings.TrimSpace(string(output))
}
