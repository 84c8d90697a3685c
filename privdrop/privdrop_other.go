//go:build !unix

package privdrop

import "errors"

var errUnsupported = errors.New("not supported on this platform")

// osSystem never reports root, so Drop leaves the process alone.
type osSystem struct{}

func (osSystem) Identity() Identity {
	return Identity{UID: -1, GID: -1, EUID: -1, EGID: -1}
}

func (osSystem) LookupUser(string) (int, error)  { return 0, errUnsupported }
func (osSystem) LookupGroup(string) (int, error) { return 0, errUnsupported }
func (osSystem) SetGroup(int) error              { return errUnsupported }
func (osSystem) SetUser(int) error               { return errUnsupported }
