package gitrepo

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/azaanpi/azaanctl/internal/identity"
)

// SourceControl provides the repository operations the installer needs
type SourceControl interface {
	// Clone creates a fresh working copy at destDir
	Clone(ctx context.Context, url, destDir string) error
	// Checkout switches the working copy to the given ref
	Checkout(ctx context.Context, destDir, ref string) error
}

// ShellClient implements SourceControl by shelling out to the git command
// as the target identity, with the deploy key pinned via GIT_SSH_COMMAND.
type ShellClient struct {
	id      identity.Identity
	keyFile string
}

// NewShellClient creates a git client that runs as the given identity
func NewShellClient(id identity.Identity, keyFile string) *ShellClient {
	return &ShellClient{id: id, keyFile: keyFile}
}

// Clone clones the repository into destDir. The directory must not exist;
// callers are expected to have removed any previous working copy first.
func (c *ShellClient) Clone(ctx context.Context, url, destDir string) error {
	cmd := exec.CommandContext(ctx, "git", "clone", url, destDir)
	c.configure(cmd)
	if err := c.runCommand(cmd); err != nil {
		return fmt.Errorf("git clone failed: %w", err)
	}
	return nil
}

// Checkout checks out the given ref in destDir
func (c *ShellClient) Checkout(ctx context.Context, destDir, ref string) error {
	cmd := exec.CommandContext(ctx, "git", "-C", destDir, "checkout", ref)
	c.configure(cmd)
	if err := c.runCommand(cmd); err != nil {
		return fmt.Errorf("git checkout %q failed: %w", ref, err)
	}
	return nil
}

// configure drops privileges to the target identity and forces git to use
// exactly the deploy key. IdentitiesOnly stops ssh from offering other
// keys that happen to live on the system.
func (c *ShellClient) configure(cmd *exec.Cmd) {
	env := []string{
		"HOME=" + c.id.Home,
		"USER=" + c.id.Username,
		"LOGNAME=" + c.id.Username,
		"PATH=" + os.Getenv("PATH"),
	}
	if c.keyFile != "" {
		sshCmd := fmt.Sprintf("ssh -i %s -o IdentitiesOnly=yes -o StrictHostKeyChecking=accept-new", shellQuote(c.keyFile))
		env = append(env, "GIT_SSH_COMMAND="+sshCmd)
	}
	cmd.Env = env

	if os.Geteuid() == 0 && c.id.UID != 0 {
		cmd.SysProcAttr = &syscall.SysProcAttr{
			Credential: &syscall.Credential{
				Uid: uint32(c.id.UID),
				Gid: uint32(c.id.GID),
			},
		}
	}
}

// shellQuote wraps s in single quotes, escaping any embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// runCommand executes a command and returns an error with output on failure
func (c *ShellClient) runCommand(cmd *exec.Cmd) error {
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// HostFromURL extracts the remote hostname from an ssh-style git URL.
// Supported forms: git@host:path, ssh://git@host/path, ssh://host/path.
func HostFromURL(url string) string {
	if rest, ok := strings.CutPrefix(url, "ssh://"); ok {
		if at := strings.Index(rest, "@"); at >= 0 {
			rest = rest[at+1:]
		}
		if slash := strings.IndexAny(rest, "/:"); slash >= 0 {
			rest = rest[:slash]
		}
		return rest
	}

	if at := strings.Index(url, "@"); at >= 0 {
		rest := url[at+1:]
		if colon := strings.Index(rest, ":"); colon >= 0 {
			return rest[:colon]
		}
		return rest
	}

	return ""
}
