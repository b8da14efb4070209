package identity

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"strconv"
)

// ErrNotRoot is returned when the installer is run without root privileges.
var ErrNotRoot = errors.New("root privileges are required (run via sudo)")

// ErrNoUser is returned when no non-root target user can be resolved.
var ErrNoUser = errors.New("cannot resolve the target user (set install.user or run via sudo)")

// Identity describes the non-root account that owns the deploy key and
// runs the installed service. Resolved once at startup and never mutated.
type Identity struct {
	Username string
	UID      int
	GID      int
	Home     string
}

// Resolver resolves the invoking identity. The default implementation
// inspects the real process environment; tests substitute their own.
type Resolver interface {
	Resolve(username string) (Identity, error)
}

// SystemResolver implements Resolver against the local user database
type SystemResolver struct{}

// NewSystemResolver creates a resolver backed by os/user
func NewSystemResolver() *SystemResolver {
	return &SystemResolver{}
}

// Resolve gates on root privilege and resolves the target user. When
// username is empty, SUDO_USER is consulted; a root target is rejected
// because the deploy key and working copy must belong to a login user.
func (r *SystemResolver) Resolve(username string) (Identity, error) {
	if os.Geteuid() != 0 {
		return Identity{}, ErrNotRoot
	}

	if username == "" {
		username = os.Getenv("SUDO_USER")
	}
	if username == "" || username == "root" {
		return Identity{}, ErrNoUser
	}

	return Lookup(username)
}

// Lookup resolves an Identity from the user database without any
// privilege gating.
func Lookup(username string) (Identity, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return Identity{}, fmt.Errorf("failed to look up user %q: %w", username, err)
	}

	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return Identity{}, fmt.Errorf("non-numeric uid %q for user %q: %w", u.Uid, username, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return Identity{}, fmt.Errorf("non-numeric gid %q for user %q: %w", u.Gid, username, err)
	}

	return Identity{
		Username: username,
		UID:      uid,
		GID:      gid,
		Home:     u.HomeDir,
	}, nil
}
