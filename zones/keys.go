package zones

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/semihalev/adns/authority"
	"github.com/semihalev/adns/config"
	"github.com/semihalev/adns/logging"
)

// KeyProvisioner registers the configured keys of a zone on its authority
// and signs the zone once they are all in place.
type KeyProvisioner struct {
	ZoneDir string
	Enabled bool
	// Load reads a key pair; authority.LoadSigner by default.
	Load func(path, signerName string) (*authority.Signer, error)

	log logging.Logger
}

// NewKeyProvisioner returns a provisioner resolving key paths under zoneDir.
// A disabled provisioner accepts every zone without touching it.
func NewKeyProvisioner(zoneDir string, enabled bool, log logging.Logger) *KeyProvisioner {
	if log == nil {
		log = logging.Default()
	}

	return &KeyProvisioner{
		ZoneDir: zoneDir,
		Enabled: enabled,
		Load:    authority.LoadSigner,
		log:     log,
	}
}

// Provision registers every zone signing and update authorization key, then
// calls SecureZone exactly once. Nothing is signed if any key fails.
func (p *KeyProvisioner) Provision(ctx context.Context, a authority.Signable, zone string, keys []config.KeyConfig) error {
	if !p.Enabled {
		return nil
	}

	for _, key := range keys {
		path := key.KeyPath
		if path != "" && !filepath.IsAbs(path) && p.ZoneDir != "" {
			path = filepath.Join(p.ZoneDir, path)
		}

		signerName := key.SignerName
		if signerName == "" {
			signerName = zone
		}

		if key.IsZoneSigningKey {
			p.log.Info("Adding zone signing key", "zone", zone, "key", path)

			signer, err := p.Load(path, signerName)
			if err != nil {
				return fmt.Errorf("%w: zone %s: signing key %s: %w", ErrKeyProvisioning, zone, path, err)
			}

			if err := a.AddZoneSigningKey(ctx, signer); err != nil {
				return fmt.Errorf("%w: zone %s: signing key %s: %w", ErrKeyProvisioning, zone, path, err)
			}
		}

		if key.IsZoneUpdateAuth {
			p.log.Info("Adding update authorization key", "zone", zone, "key", path)

			signer, err := p.Load(path, signerName)
			if err != nil {
				return fmt.Errorf("%w: zone %s: update key %s: %w", ErrKeyProvisioning, zone, path, err)
			}

			sig0, err := signer.SIG0Key(zone)
			if err != nil {
				return fmt.Errorf("%w: zone %s: update key %s: %w", ErrKeyProvisioning, zone, path, err)
			}

			if err := a.AddUpdateAuthKey(ctx, zone, sig0); err != nil {
				return fmt.Errorf("%w: zone %s: update key %s: %w", ErrKeyProvisioning, zone, path, err)
			}
		}
	}

	p.log.Info("Signing zone", "zone", zone)

	if err := a.SecureZone(ctx); err != nil {
		return fmt.Errorf("%w: zone %s: %w", ErrKeyProvisioning, zone, err)
	}

	return nil
}
