package sshkey

import (
	"context"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/azaanpi/azaanctl/internal/identity"
)

func testIdentity(t *testing.T, home string) identity.Identity {
	t.Helper()
	u, err := user.Current()
	require.NoError(t, err)
	uid, _ := strconv.Atoi(u.Uid)
	gid, _ := strconv.Atoi(u.Gid)
	return identity.Identity{Username: u.Username, UID: uid, GID: gid, Home: home}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// hashKnownHost produces the hashed host pattern ssh-keyscan -H emits:
// |1|base64(salt)|base64(hmac-sha1(salt, host)).
func hashKnownHost(t *testing.T, host string) string {
	t.Helper()
	salt := make([]byte, 20)
	_, err := rand.Read(salt)
	require.NoError(t, err)
	mac := hmac.New(sha1.New, salt)
	mac.Write([]byte(host))
	return "|1|" + base64.StdEncoding.EncodeToString(salt) + "|" +
		base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// keyscanLine builds a hashed known_hosts line for host, as the real
// ssh-keyscan -H would print it.
func keyscanLine(t *testing.T, host string) string {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return hashKnownHost(t, host) + " " + strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPub))) + "\n"
}

// fakeKeyscan returns a provisioner whose ssh-keyscan produces a hashed
// known_hosts line for the given host, counting invocations.
func fakeKeyscan(t *testing.T, host string) (*Provisioner, *int) {
	t.Helper()
	line := keyscanLine(t, host)

	calls := new(int)
	p := NewProvisioner(testLogger())
	p.run = func(_ context.Context, name string, args ...string) ([]byte, error) {
		require.Equal(t, "ssh-keyscan", name)
		*calls++
		return []byte(line), nil
	}
	return p, calls
}

func TestProvision_GeneratesKeypair(t *testing.T) {
	home := t.TempDir()
	id := testIdentity(t, home)
	p, _ := fakeKeyscan(t, "github.com")

	kp, err := p.Provision(context.Background(), id, "github.com")
	require.NoError(t, err)

	assert.True(t, kp.Generated)
	assert.FileExists(t, kp.PrivateKeyPath)
	assert.FileExists(t, kp.PublicKeyPath)
	assert.True(t, strings.HasPrefix(kp.AuthorizedKey, "ssh-ed25519 "))
	assert.Contains(t, kp.AuthorizedKey, "azaan-deploy@"+id.Username)

	st, err := os.Stat(kp.PrivateKeyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())

	st, err = os.Stat(kp.PublicKeyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), st.Mode().Perm())

	st, err = os.Stat(filepath.Join(home, ".ssh"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), st.Mode().Perm())

	// Private key must round-trip through the ssh parser.
	data, err := os.ReadFile(kp.PrivateKeyPath)
	require.NoError(t, err)
	_, err = ssh.ParsePrivateKey(data)
	require.NoError(t, err)
}

func TestProvision_Idempotent(t *testing.T) {
	home := t.TempDir()
	id := testIdentity(t, home)
	p, _ := fakeKeyscan(t, "github.com")

	first, err := p.Provision(context.Background(), id, "github.com")
	require.NoError(t, err)
	firstPriv, err := os.ReadFile(first.PrivateKeyPath)
	require.NoError(t, err)

	second, err := p.Provision(context.Background(), id, "github.com")
	require.NoError(t, err)

	assert.False(t, second.Generated)
	secondPriv, err := os.ReadFile(second.PrivateKeyPath)
	require.NoError(t, err)
	assert.Equal(t, firstPriv, secondPriv, "existing keypair must not be regenerated")
	assert.Equal(t, first.AuthorizedKey, second.AuthorizedKey)
}

func TestProvision_MissingPublicKeyNotRepaired(t *testing.T) {
	home := t.TempDir()
	id := testIdentity(t, home)
	p, _ := fakeKeyscan(t, "github.com")

	kp, err := p.Provision(context.Background(), id, "github.com")
	require.NoError(t, err)
	require.NoError(t, os.Remove(kp.PublicKeyPath))

	again, err := p.Provision(context.Background(), id, "github.com")
	require.NoError(t, err)

	// The public half is derived in memory for display but the file is
	// deliberately not recreated.
	assert.True(t, strings.HasPrefix(again.AuthorizedKey, "ssh-ed25519 "))
	assert.NoFileExists(t, kp.PublicKeyPath)
}

func TestProvision_KeyscanFailureTolerated(t *testing.T) {
	home := t.TempDir()
	id := testIdentity(t, home)

	p := NewProvisioner(testLogger())
	p.run = func(_ context.Context, _ string, _ ...string) ([]byte, error) {
		return nil, fmt.Errorf("network unreachable")
	}

	_, err := p.Provision(context.Background(), id, "github.com")
	require.NoError(t, err, "trust-store failure must not abort provisioning")

	assert.NoFileExists(t, filepath.Join(home, ".ssh", "known_hosts"))
	assert.FileExists(t, filepath.Join(home, ".ssh", "config"))
}

func TestProvision_KnownHostsNotDuplicated(t *testing.T) {
	home := t.TempDir()
	id := testIdentity(t, home)
	p, keyscans := fakeKeyscan(t, "github.com")

	_, err := p.Provision(context.Background(), id, "github.com")
	require.NoError(t, err)
	first, err := os.ReadFile(filepath.Join(home, ".ssh", "known_hosts"))
	require.NoError(t, err)

	// The recorded entry is hashed; the second run must still recognize
	// it and not scan or append again.
	_, err = p.Provision(context.Background(), id, "github.com")
	require.NoError(t, err)
	second, err := os.ReadFile(filepath.Join(home, ".ssh", "known_hosts"))
	require.NoError(t, err)

	assert.Equal(t, first, second, "known_hosts entry must be upserted, not duplicated")
	assert.Equal(t, 1, *keyscans, "second run must not scan an already-trusted host")
}

func TestHashedHostMatches(t *testing.T) {
	entry := hashKnownHost(t, "github.com")

	assert.True(t, hashedHostMatches(entry, "github.com"))
	assert.False(t, hashedHostMatches(entry, "gitlab.com"))
	assert.False(t, hashedHostMatches("github.com", "github.com"))
	assert.False(t, hashedHostMatches("|1|notbase64", "github.com"))
}

func TestProvision_HostAliasUpserted(t *testing.T) {
	home := t.TempDir()
	id := testIdentity(t, home)
	p, _ := fakeKeyscan(t, "github.com")

	// Pre-existing operator config must survive the upsert.
	sshDir := filepath.Join(home, ".ssh")
	require.NoError(t, os.MkdirAll(sshDir, 0o700))
	operator := "Host backup\n    User fred\n"
	require.NoError(t, os.WriteFile(filepath.Join(sshDir, "config"), []byte(operator), 0o600))

	_, err := p.Provision(context.Background(), id, "github.com")
	require.NoError(t, err)
	_, err = p.Provision(context.Background(), id, "github.com")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(sshDir, "config"))
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, operator)
	assert.Equal(t, 1, strings.Count(content, "Host github.com"))
	assert.Contains(t, content, "IdentitiesOnly yes")
	assert.Contains(t, content, filepath.Join(sshDir, "id_ed25519"))

	st, err := os.Stat(filepath.Join(sshDir, "config"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())
}

func TestReplaceManagedBlock(t *testing.T) {
	block := aliasBegin + "\nHost example.com\n" + aliasEnd + "\n"

	t.Run("append to empty", func(t *testing.T) {
		got := replaceManagedBlock("", block)
		assert.Equal(t, block, got)
	})

	t.Run("append preserves existing", func(t *testing.T) {
		got := replaceManagedBlock("Host other\n", block)
		assert.Equal(t, "Host other\n"+block, got)
	})

	t.Run("replace existing block", func(t *testing.T) {
		old := "Host other\n" + aliasBegin + "\nHost stale.example\n" + aliasEnd + "\ntrailing\n"
		got := replaceManagedBlock(old, block)
		assert.Contains(t, got, "Host example.com")
		assert.NotContains(t, got, "stale.example")
		assert.Contains(t, got, "Host other\n")
		assert.Contains(t, got, "trailing\n")
	})
}
