//go:build unix

package privdrop

import (
	"os"
	"os/user"
	"strconv"
	"syscall"
)

// osSystem uses the syscall package, whose set calls apply to every thread
// of the process.
type osSystem struct{}

func (osSystem) Identity() Identity {
	return Identity{UID: os.Getuid(), GID: os.Getgid(), EUID: os.Geteuid(), EGID: os.Getegid()}
}

func (osSystem) LookupUser(name string) (int, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(u.Uid)
}

func (osSystem) LookupGroup(name string) (int, error) {
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(g.Gid)
}

// SetGroup also drops the supplementary groups inherited from root.
func (osSystem) SetGroup(gid int) error {
	if err := syscall.Setgroups([]int{gid}); err != nil {
		return err
	}
	return syscall.Setgid(gid)
}

func (osSystem) SetUser(uid int) error {
	return syscall.Setuid(uid)
}
