// Package privdrop switches a root process to an unprivileged user and
// group once its privileged sockets are bound.
package privdrop

import (
	"errors"
	"fmt"
	"sync"

	"github.com/semihalev/adns/logging"
)

var (
	// ErrUnknownPrincipal is returned when the user or group does not exist.
	ErrUnknownPrincipal = errors.New("unknown principal")

	// ErrPrivilegeDropFailed is returned when the OS refuses the switch.
	ErrPrivilegeDropFailed = errors.New("privilege drop failed")

	// ErrAlreadyDropped is returned by every call after the first.
	ErrAlreadyDropped = errors.New("privilege drop already attempted")
)

// Identity is who the process runs as.
type Identity struct {
	UID, GID   int
	EUID, EGID int
}

func (id Identity) String() string {
	return fmt.Sprintf("uid: %d gid: %d euid: %d egid: %d", id.UID, id.GID, id.EUID, id.EGID)
}

// Root reports whether the identity carries root privileges.
func (id Identity) Root() bool { return id.UID == 0 || id.EUID == 0 }

// system is the part of the OS the manager touches.
type system interface {
	Identity() Identity
	LookupUser(name string) (uid int, err error)
	LookupGroup(name string) (gid int, err error)
	SetGroup(gid int) error
	SetUser(uid int) error
}

// Manager performs the one-way switch. The zero value is not usable; use
// New.
type Manager struct {
	sys system
	log logging.Logger

	mu        sync.Mutex
	attempted bool
}

// New returns a manager acting on the running process.
func New(log logging.Logger) *Manager {
	if log == nil {
		log = logging.Default()
	}
	return &Manager{sys: osSystem{}, log: log}
}

// Drop switches to user and group when running as root and reports the
// identity afterwards. The group is set first; if that fails the user is
// left alone. Only the first call does anything.
func (m *Manager) Drop(user, group string) (Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.attempted {
		return m.sys.Identity(), ErrAlreadyDropped
	}
	m.attempted = true

	id := m.sys.Identity()
	if !id.Root() {
		m.log.Info("Not running as root, privileges unchanged", "identity", id.String())
		return id, nil
	}

	m.log.Info("Running as root, dropping privileges", "identity", id.String(), "user", user, "group", group)

	uid, err := m.sys.LookupUser(user)
	if err != nil {
		return id, fmt.Errorf("%w: user %q: %w", ErrUnknownPrincipal, user, err)
	}

	gid, err := m.sys.LookupGroup(group)
	if err != nil {
		return id, fmt.Errorf("%w: group %q: %w", ErrUnknownPrincipal, group, err)
	}

	if err := m.sys.SetGroup(gid); err != nil {
		return m.sys.Identity(), fmt.Errorf("%w: set gid %d: %w", ErrPrivilegeDropFailed, gid, err)
	}

	if err := m.sys.SetUser(uid); err != nil {
		return m.sys.Identity(), fmt.Errorf("%w: set uid %d: %w", ErrPrivilegeDropFailed, uid, err)
	}

	id = m.sys.Identity()
	m.log.Info("Privileges dropped", "identity", id.String())

	return id, nil
}
