package sshkey

import (
	"context"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/azaanpi/azaanctl/internal/identity"
)

// Keypair references the deploy key on disk
type Keypair struct {
	PrivateKeyPath string
	PublicKeyPath  string
	// AuthorizedKey is the single-line public key suitable for pasting
	// into the forge's deploy-key settings.
	AuthorizedKey string
	// Generated reports whether this run created the keypair.
	Generated bool
}

// Provisioner ensures a deploy keypair and host trust exist for an identity
type Provisioner struct {
	logger *slog.Logger

	// run executes an external command and returns its stdout. Tests
	// substitute this to avoid real ssh-keyscan invocations.
	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewProvisioner creates a credential provisioner
func NewProvisioner(logger *slog.Logger) *Provisioner {
	return &Provisioner{
		logger: logger,
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		},
	}
}

// Provision ensures an ed25519 deploy keypair exists for the identity and
// that the git host is trusted and aliased to it.
//
// Presence of the private key file is the sole idempotence check: an
// existing key is never regenerated, and a missing .pub next to an
// existing private key is tolerated rather than repaired.
func (p *Provisioner) Provision(ctx context.Context, id identity.Identity, gitHost string) (Keypair, error) {
	sshDir := filepath.Join(id.Home, ".ssh")
	kp := Keypair{
		PrivateKeyPath: filepath.Join(sshDir, "id_ed25519"),
		PublicKeyPath:  filepath.Join(sshDir, "id_ed25519.pub"),
	}

	if err := ensureDir(sshDir, 0o700, id); err != nil {
		return Keypair{}, err
	}

	if _, err := os.Stat(kp.PrivateKeyPath); err == nil {
		authorized, err := p.loadAuthorizedKey(kp)
		if err != nil {
			return Keypair{}, err
		}
		kp.AuthorizedKey = authorized
		p.logger.Info("deploy key already present", "path", kp.PrivateKeyPath)
	} else {
		authorized, err := p.generate(kp, id)
		if err != nil {
			return Keypair{}, err
		}
		kp.AuthorizedKey = authorized
		kp.Generated = true
		p.logger.Info("generated deploy key", "path", kp.PrivateKeyPath)
	}

	// No host means a non-SSH repo URL; the key still gets provisioned so
	// switching to SSH later needs no extra step.
	if gitHost != "" {
		// Trust failures are tolerated: connecting still works if the host
		// is already trusted or host checking is lenient.
		if err := p.ensureKnownHost(ctx, sshDir, gitHost, id); err != nil {
			p.logger.Warn("failed to record host key (continuing)", "host", gitHost, "error", err)
		}

		if err := p.writeHostAlias(sshDir, gitHost, kp.PrivateKeyPath, id); err != nil {
			return Keypair{}, fmt.Errorf("failed to write ssh host alias: %w", err)
		}
	}

	return kp, nil
}

// generate creates a fresh passphrase-less ed25519 keypair, private key
// mode 0600 and public key mode 0644, both owned by the identity.
func (p *Provisioner) generate(kp Keypair, id identity.Identity) (string, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("failed to generate ed25519 key: %w", err)
	}

	comment := keyComment(id)

	block, err := ssh.MarshalPrivateKey(priv, comment)
	if err != nil {
		return "", fmt.Errorf("failed to marshal private key: %w", err)
	}
	if err := writeOwnedFile(kp.PrivateKeyPath, pem.EncodeToMemory(block), 0o600, id); err != nil {
		return "", fmt.Errorf("failed to write private key: %w", err)
	}

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("failed to convert public key: %w", err)
	}

	authorized := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPub))) + " " + comment
	if err := writeOwnedFile(kp.PublicKeyPath, []byte(authorized+"\n"), 0o644, id); err != nil {
		return "", fmt.Errorf("failed to write public key: %w", err)
	}

	p.logger.Info("deploy key fingerprint", "fingerprint", ssh.FingerprintSHA256(sshPub))
	return authorized, nil
}

// loadAuthorizedKey returns the public key line for an existing keypair.
// It prefers the .pub file; when that is missing the public half is
// derived in memory from the private key so the operator can still be
// shown the deploy key, but the missing file is not recreated.
func (p *Provisioner) loadAuthorizedKey(kp Keypair) (string, error) {
	if data, err := os.ReadFile(kp.PublicKeyPath); err == nil {
		return strings.TrimSpace(string(data)), nil
	}

	data, err := os.ReadFile(kp.PrivateKeyPath)
	if err != nil {
		return "", fmt.Errorf("failed to read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return "", fmt.Errorf("failed to parse existing private key %s: %w", kp.PrivateKeyPath, err)
	}
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(signer.PublicKey()))), nil
}

// ensureKnownHost appends the host's public keys to known_hosts unless an
// entry for it already exists.
func (p *Provisioner) ensureKnownHost(ctx context.Context, sshDir, host string, id identity.Identity) error {
	knownHosts := filepath.Join(sshDir, "known_hosts")

	if hostAlreadyKnown(knownHosts, host) {
		p.logger.Debug("host already trusted", "host", host)
		return nil
	}

	out, err := p.run(ctx, "ssh-keyscan", "-H", host)
	if err != nil {
		return fmt.Errorf("ssh-keyscan %s: %w", host, err)
	}
	if len(strings.TrimSpace(string(out))) == 0 {
		return fmt.Errorf("ssh-keyscan %s returned no keys", host)
	}

	f, err := os.OpenFile(knownHosts, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()

	if _, err := f.Write(out); err != nil {
		return err
	}
	if err := os.Chown(knownHosts, id.UID, id.GID); err != nil {
		return err
	}

	p.logger.Info("recorded host keys", "host", host, "file", knownHosts)
	return nil
}

// hostAlreadyKnown reports whether known_hosts has any entry for host,
// matching plain names as well as the hashed entries ssh-keyscan -H
// writes.
func hostAlreadyKnown(knownHostsPath, host string) bool {
	data, err := os.ReadFile(knownHostsPath)
	if err != nil {
		return false
	}

	rest := data
	for len(rest) > 0 {
		_, hosts, _, _, remaining, err := ssh.ParseKnownHosts(rest)
		if err != nil {
			break
		}
		rest = remaining
		for _, h := range hosts {
			if h == host || h == "["+host+"]:22" || hashedHostMatches(h, host) {
				return true
			}
		}
	}
	return false
}

// hashedHostMatches checks a hashed known_hosts pattern against host.
// The format is |1|base64(salt)|base64(hmac-sha1(salt, host)).
func hashedHostMatches(entry, host string) bool {
	parts := strings.Split(entry, "|")
	if len(parts) != 4 || parts[0] != "" || parts[1] != "1" {
		return false
	}
	salt, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return false
	}
	digest, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil {
		return false
	}
	mac := hmac.New(sha1.New, salt)
	mac.Write([]byte(host))
	return hmac.Equal(mac.Sum(nil), digest)
}

const aliasBegin = "# azaanctl managed block begin"
const aliasEnd = "# azaanctl managed block end"

// writeHostAlias upserts a managed Host block in ~/.ssh/config binding the
// git host exclusively to the deploy key. IdentitiesOnly prevents other
// keys on the system from being offered for this host.
func (p *Provisioner) writeHostAlias(sshDir, host, keyPath string, id identity.Identity) error {
	configPath := filepath.Join(sshDir, "config")

	block := strings.Join([]string{
		aliasBegin,
		"Host " + host,
		"    IdentityFile " + keyPath,
		"    IdentitiesOnly yes",
		"    StrictHostKeyChecking accept-new",
		aliasEnd,
		"",
	}, "\n")

	existing, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	content := replaceManagedBlock(string(existing), block)
	if err := writeOwnedFile(configPath, []byte(content), 0o600, id); err != nil {
		return err
	}

	p.logger.Info("wrote ssh host alias", "host", host, "file", configPath)
	return nil
}

// replaceManagedBlock swaps out the previous managed block, or appends the
// block when none exists yet.
func replaceManagedBlock(existing, block string) string {
	begin := strings.Index(existing, aliasBegin)
	end := strings.Index(existing, aliasEnd)

	if begin >= 0 && end > begin {
		after := existing[end+len(aliasEnd):]
		after = strings.TrimPrefix(after, "\n")
		return existing[:begin] + block + after
	}

	if existing != "" && !strings.HasSuffix(existing, "\n") {
		existing += "\n"
	}
	return existing + block
}

// keyComment tags the key with service, user, and device hostname.
func keyComment(id identity.Identity) string {
	host, err := os.Hostname()
	if err != nil {
		host = "raspberrypi"
	}
	return fmt.Sprintf("azaan-deploy@%s@%s", id.Username, host)
}

func ensureDir(path string, mode os.FileMode, id identity.Identity) error {
	if err := os.MkdirAll(path, mode); err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := os.Chmod(path, mode); err != nil {
		return err
	}
	return os.Chown(path, id.UID, id.GID)
}

func writeOwnedFile(path string, data []byte, mode os.FileMode, id identity.Identity) error {
	if err := os.WriteFile(path, data, mode); err != nil {
		return err
	}
	if err := os.Chmod(path, mode); err != nil {
		return err
	}
	return os.Chown(path, id.UID, id.GID)
}
