// Package authority holds the zone backends a catalog serves from. Every
// backend answers queries; backends holding local zone data can also be
// signed and, for the journaled store, updated.
package authority

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/miekg/dns"
	"github.com/semihalev/adns/config"
)

var (
	// ErrNotSupported is returned when a backend kind is not compiled in.
	ErrNotSupported = errors.New("backend not supported in this build")

	errNotInZone = errors.New("name is not in zone")
)

// ZoneInfo is what every backend is keyed by.
type ZoneInfo struct {
	Origin    string
	Type      config.ZoneType
	AllowAXFR bool
	DNSSEC    bool
	// Dir is the directory relative store paths are resolved against.
	Dir string
}

// Path resolves a store path against the zone directory.
func (z ZoneInfo) Path(p string) string {
	if p == "" || filepath.IsAbs(p) || z.Dir == "" {
		return p
	}
	return filepath.Join(z.Dir, p)
}

// Authority is a servable backend for one zone.
type Authority interface {
	Origin() string
	ZoneType() config.ZoneType
	// Search answers req. A nil message without error means the backend
	// has nothing to say and the next authority of the zone is asked.
	Search(ctx context.Context, req *dns.Msg, do bool) (*dns.Msg, error)
}

// Signable is implemented by authorities that can be DNSSEC signed.
type Signable interface {
	Authority
	AddZoneSigningKey(ctx context.Context, signer *Signer) error
	AddUpdateAuthKey(ctx context.Context, name string, key *dns.KEY) error
	SecureZone(ctx context.Context) error
}

// Updater is implemented by authorities accepting dynamic updates.
type Updater interface {
	Authority
	Update(ctx context.Context, req *dns.Msg, wire []byte) int
}
