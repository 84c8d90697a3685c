// Package zones turns configured zones into the authorities a catalog serves.
package zones

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/semihalev/adns/authority"
	"github.com/semihalev/adns/config"
	"github.com/semihalev/adns/logging"
)

var (
	// ErrConfigResolution is returned for zones whose configuration cannot
	// be turned into stores.
	ErrConfigResolution = errors.New("config resolution failed")

	// ErrMissingZoneFile is returned when a zone needs its legacy file but
	// has none.
	ErrMissingZoneFile = fmt.Errorf("%w: missing zone file", ErrConfigResolution)

	// ErrBackendConstruction wraps failures of a store constructor.
	ErrBackendConstruction = errors.New("backend construction failed")

	// ErrKeyProvisioning wraps key loading and zone signing failures.
	ErrKeyProvisioning = errors.New("key provisioning failed")
)

const journalExt = ".jrnl"

// Features are the optional backends compiled into the binary.
type Features struct {
	Journal bool
	DNSSEC  bool
}

// DefaultFeatures reports what this build supports.
func DefaultFeatures() Features {
	return Features{Journal: authority.JournalSupported, DNSSEC: authority.DNSSECSupported}
}

// Resolver resolves zones one at a time.
type Resolver struct {
	ZoneDir  string
	Features Features
	Factory  Factory
	Keys     *KeyProvisioner

	log logging.Logger
}

// NewResolver returns a resolver for zones under zoneDir.
func NewResolver(zoneDir string, log logging.Logger) *Resolver {
	if log == nil {
		log = logging.Default()
	}

	features := DefaultFeatures()

	return &Resolver{
		ZoneDir:  zoneDir,
		Features: features,
		Factory:  Backends{},
		Keys:     NewKeyProvisioner(zoneDir, features.DNSSEC, log),
		log:      log,
	}
}

// Resolve returns the authorities of a zone in store declaration order. Any
// store failure fails the whole zone.
func (r *Resolver) Resolve(ctx context.Context, zc *config.ZoneConfig) ([]authority.Authority, error) {
	name, err := zc.Name()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigResolution, err)
	}

	stores, err := r.plan(name, zc)
	if err != nil {
		return nil, err
	}

	info := authority.ZoneInfo{
		Origin:    name,
		Type:      zc.ZoneType,
		AllowAXFR: zc.AllowAXFR,
		DNSSEC:    zc.EnableDNSSEC,
		Dir:       r.ZoneDir,
	}

	var auths []authority.Authority
	for _, store := range stores {
		a, err := r.construct(ctx, info, store)
		if err != nil {
			r.release(name, auths)
			return nil, fmt.Errorf("%w: zone %s: %s store: %w", ErrBackendConstruction, name, store.Kind(), err)
		}

		if a == nil {
			continue
		}

		if zc.EnableDNSSEC {
			if s, ok := a.(authority.Signable); ok {
				if err := r.Keys.Provision(ctx, s, name, zc.Keys); err != nil {
					r.release(name, append(auths, a))
					return nil, err
				}
			}
		}

		r.log.Debug("Zone store loaded", "zone", name, "store", store.Kind())
		auths = append(auths, a)
	}

	if len(auths) == 0 {
		return nil, fmt.Errorf("%w: zone %s: none of %d stores can be served by this build", ErrConfigResolution, name, len(stores))
	}

	if again, err := zc.Name(); err != nil || again != name {
		r.release(name, auths)
		return nil, fmt.Errorf("%w: zone %s changed name during resolution", ErrConfigResolution, name)
	}

	return auths, nil
}

// release closes the authorities of a zone that failed part way.
func (r *Resolver) release(name string, auths []authority.Authority) {
	for _, a := range auths {
		if c, ok := a.(io.Closer); ok {
			if err := c.Close(); err != nil {
				r.log.Warn("Closing authority failed", "zone", name, "error", err.Error())
			}
		}
	}
}

// plan picks the stores of a zone: the declared ones, or one synthesized
// from the legacy top-level settings.
func (r *Resolver) plan(name string, zc *config.ZoneConfig) ([]config.Store, error) {
	if len(zc.Stores) > 0 {
		if zc.File != "" {
			r.log.Warn("Zone file ignored, explicit stores take precedence", "zone", name, "file", zc.File)
		}
		return zc.Stores, nil
	}

	if zc.File == "" {
		return nil, fmt.Errorf("%w: zone %s", ErrMissingZoneFile, name)
	}

	if zc.AllowUpdate && r.Features.Journal {
		journal := JournalPath(zc.File)
		r.log.Warn("Zone level allow_update is deprecated, declare a sqlite store instead",
			"zone", name, "file", zc.File, "journal", journal)

		return []config.Store{config.LegacySqliteStore{ZoneFilePath: zc.File, JournalFilePath: journal}}, nil
	}

	return []config.Store{config.LegacyFileStore{ZoneFilePath: zc.File}}, nil
}

// JournalPath derives the journal of a zone file by replacing its extension.
func JournalPath(zoneFile string) string {
	return strings.TrimSuffix(zoneFile, filepath.Ext(zoneFile)) + journalExt
}

// construct builds the authority of one store. A nil authority without error
// means the store kind is not compiled in and was skipped.
func (r *Resolver) construct(ctx context.Context, info authority.ZoneInfo, store config.Store) (authority.Authority, error) {
	switch s := store.(type) {
	case config.FileStore:
		return r.Factory.File(ctx, info, s.ZoneFilePath)

	case config.LegacyFileStore:
		return r.Factory.File(ctx, info, s.ZoneFilePath)

	case config.SqliteStore:
		if !r.Features.Journal {
			r.log.Warn("Sqlite store skipped, not supported by this build", "zone", info.Origin, "file", s.ZoneFilePath)
			return nil, nil
		}
		return r.Factory.Journal(ctx, info, s.ZoneFilePath, s.JournalFilePath, s.AllowUpdate)

	case config.LegacySqliteStore:
		return r.Factory.Journal(ctx, info, s.ZoneFilePath, s.JournalFilePath, true)

	case config.ForwardStore:
		return r.Factory.Forward(ctx, info, s)

	case config.RecursorStore:
		return r.Factory.Recursor(ctx, info, s)

	case config.BlocklistStore:
		return r.Factory.Blocklist(ctx, info, s)
	}

	return nil, fmt.Errorf("unknown store kind %q", store.Kind())
}
