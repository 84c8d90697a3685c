//go:build nosqlite

package authority

import (
	"context"
)

// JournalSupported reports whether the journaled store is compiled in.
const JournalSupported = false

// JournalAuthority is not available in builds without sqlite.
type JournalAuthority struct {
	*FileAuthority
}

// NewJournalAuthority always fails in builds without sqlite.
func NewJournalAuthority(context.Context, ZoneInfo, string, string, bool) (*JournalAuthority, error) {
	return nil, ErrNotSupported
}

// Close is a no-op.
func (a *JournalAuthority) Close() error { return nil }
