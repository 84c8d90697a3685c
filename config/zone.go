package config

import (
	"fmt"
	"strings"

	"github.com/miekg/dns"
)

// ZoneType is the role this server plays for a zone.
type ZoneType int

const (
	// Primary zones are loaded from local data and answered authoritatively.
	Primary ZoneType = iota
	// Secondary zones are copies of a primary elsewhere.
	Secondary
	// External zones are answered by some other server, forward or recursor.
	External
)

func (t ZoneType) String() string {
	switch t {
	case Primary:
		return "Primary"
	case Secondary:
		return "Secondary"
	case External:
		return "External"
	}
	return fmt.Sprintf("ZoneType(%d)", int(t))
}

// UnmarshalText accepts the current names and the older master/slave/hint/forward ones.
func (t *ZoneType) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "primary", "master":
		*t = Primary
	case "secondary", "slave":
		*t = Secondary
	case "external", "hint", "forward":
		*t = External
	default:
		return fmt.Errorf("unknown zone type %q", string(text))
	}
	return nil
}

// ZoneConfig is a single [[zones]] entry.
type ZoneConfig struct {
	Zone         string
	ZoneType     ZoneType
	File         string
	AllowAXFR    bool
	AllowUpdate  bool
	EnableDNSSEC bool
	Keys         []KeyConfig
	Stores       []Store
}

// Name returns the canonical zone name, which is also the catalog key.
func (z *ZoneConfig) Name() (string, error) {
	if z.Zone == "" {
		return "", fmt.Errorf("zone name is empty")
	}

	name := dns.CanonicalName(z.Zone)
	if _, ok := dns.IsDomainName(name); !ok {
		return "", fmt.Errorf("invalid zone name %q", z.Zone)
	}

	return name, nil
}

// KeyConfig is a [[zones.keys]] entry.
type KeyConfig struct {
	KeyPath          string `toml:"key_path"`
	SignerName       string `toml:"signer_name"`
	IsZoneSigningKey bool   `toml:"is_zone_signing_key"`
	IsZoneUpdateAuth bool   `toml:"is_zone_update_auth"`
}

type zoneDocument struct {
	Zone         string          `toml:"zone"`
	ZoneType     ZoneType        `toml:"zone_type"`
	File         string          `toml:"file"`
	AllowAXFR    bool            `toml:"allow_axfr"`
	AllowUpdate  bool            `toml:"allow_update"`
	EnableDNSSEC bool            `toml:"enable_dnssec"`
	Keys         []KeyConfig     `toml:"keys"`
	Stores       []storeDocument `toml:"stores"`
}

func (d *zoneDocument) build() (ZoneConfig, error) {
	zone := ZoneConfig{
		Zone:         d.Zone,
		ZoneType:     d.ZoneType,
		File:         d.File,
		AllowAXFR:    d.AllowAXFR,
		AllowUpdate:  d.AllowUpdate,
		EnableDNSSEC: d.EnableDNSSEC,
		Keys:         d.Keys,
	}

	for i := range d.Stores {
		store, err := d.Stores[i].build()
		if err != nil {
			return ZoneConfig{}, fmt.Errorf("zone %s stores[%d]: %w", d.Zone, i, err)
		}
		zone.Stores = append(zone.Stores, store)
	}

	return zone, nil
}
