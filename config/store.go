package config

import (
	"fmt"
	"net"
	"strings"
)

// Store is one backend descriptor of a zone. The set of implementations is
// closed; the resolver dispatches over it with a single type switch.
type Store interface {
	Kind() string
	store()
}

// FileStore serves a zone from a master file.
type FileStore struct {
	ZoneFilePath string
}

// SqliteStore serves a zone from a master file with updates persisted to a
// journal database next to it.
type SqliteStore struct {
	ZoneFilePath    string
	JournalFilePath string
	AllowUpdate     bool
}

// ForwardStore forwards every query to upstream name servers.
type ForwardStore struct {
	NameServers []NameServer
	Timeout     Duration
}

// NameServer is an upstream of a forward store.
type NameServer struct {
	SocketAddr string `toml:"socket_addr"`
	Protocol   string `toml:"protocol"`
}

// RecursorStore resolves iteratively starting from a root hints file.
type RecursorStore struct {
	Roots    string
	MaxDepth int
	Timeout  Duration
}

// BlocklistStore answers names found in block lists with a sinkhole address.
type BlocklistStore struct {
	Lists            []string
	WildcardMatch    bool
	MinWildcardDepth int
	SinkholeIPv4     net.IP
	SinkholeIPv6     net.IP
	TTL              uint32
	BlockMessage     string
}

// LegacySqliteStore is synthesized for zones that set allow_update at the zone
// level without declaring stores. The journal sits next to the zone file.
type LegacySqliteStore struct {
	ZoneFilePath    string
	JournalFilePath string
}

// LegacyFileStore is synthesized for zones that only set the top-level file.
type LegacyFileStore struct {
	ZoneFilePath string
}

func (FileStore) Kind() string         { return "file" }
func (SqliteStore) Kind() string       { return "sqlite" }
func (ForwardStore) Kind() string      { return "forward" }
func (RecursorStore) Kind() string     { return "recursor" }
func (BlocklistStore) Kind() string    { return "blocklist" }
func (LegacySqliteStore) Kind() string { return "legacy-sqlite" }
func (LegacyFileStore) Kind() string   { return "legacy-file" }

func (FileStore) store()         {}
func (SqliteStore) store()       {}
func (ForwardStore) store()      {}
func (RecursorStore) store()     {}
func (BlocklistStore) store()    {}
func (LegacySqliteStore) store() {}
func (LegacyFileStore) store()   {}

type storeDocument struct {
	Type string `toml:"type"`

	ZoneFilePath    string `toml:"zone_file_path"`
	JournalFilePath string `toml:"journal_file_path"`
	AllowUpdate     bool   `toml:"allow_update"`

	NameServers []NameServer `toml:"name_servers"`
	Timeout     Duration     `toml:"timeout"`

	Roots    string `toml:"roots"`
	MaxDepth int    `toml:"max_depth"`

	Lists            []string `toml:"lists"`
	WildcardMatch    bool     `toml:"wildcard_match"`
	MinWildcardDepth int      `toml:"min_wildcard_depth"`
	SinkholeIPv4     string   `toml:"sinkhole_ipv4"`
	SinkholeIPv6     string   `toml:"sinkhole_ipv6"`
	TTL              uint32   `toml:"ttl"`
	BlockMessage     string   `toml:"block_message"`
}

func (d *storeDocument) build() (Store, error) {
	switch strings.ToLower(d.Type) {
	case "file":
		if d.ZoneFilePath == "" {
			return nil, fmt.Errorf("file store requires zone_file_path")
		}
		return FileStore{ZoneFilePath: d.ZoneFilePath}, nil

	case "sqlite":
		if d.ZoneFilePath == "" || d.JournalFilePath == "" {
			return nil, fmt.Errorf("sqlite store requires zone_file_path and journal_file_path")
		}
		return SqliteStore{
			ZoneFilePath:    d.ZoneFilePath,
			JournalFilePath: d.JournalFilePath,
			AllowUpdate:     d.AllowUpdate,
		}, nil

	case "forward":
		for _, ns := range d.NameServers {
			if _, _, err := net.SplitHostPort(ns.SocketAddr); err != nil {
				return nil, fmt.Errorf("forward name server %q: %w", ns.SocketAddr, err)
			}
		}
		return ForwardStore{NameServers: d.NameServers, Timeout: d.Timeout}, nil

	case "recursor":
		if d.Roots == "" {
			return nil, fmt.Errorf("recursor store requires roots")
		}
		return RecursorStore{Roots: d.Roots, MaxDepth: d.MaxDepth, Timeout: d.Timeout}, nil

	case "blocklist":
		store := BlocklistStore{
			Lists:            d.Lists,
			WildcardMatch:    d.WildcardMatch,
			MinWildcardDepth: d.MinWildcardDepth,
			TTL:              d.TTL,
			BlockMessage:     d.BlockMessage,
			SinkholeIPv4:     net.IPv4zero,
			SinkholeIPv6:     net.IPv6zero,
		}
		if d.SinkholeIPv4 != "" {
			if store.SinkholeIPv4 = net.ParseIP(d.SinkholeIPv4).To4(); store.SinkholeIPv4 == nil {
				return nil, fmt.Errorf("invalid sinkhole_ipv4 %q", d.SinkholeIPv4)
			}
		}
		if d.SinkholeIPv6 != "" {
			if store.SinkholeIPv6 = net.ParseIP(d.SinkholeIPv6); store.SinkholeIPv6 == nil {
				return nil, fmt.Errorf("invalid sinkhole_ipv6 %q", d.SinkholeIPv6)
			}
		}
		return store, nil

	case "":
		return nil, fmt.Errorf("store type is missing")
	}

	return nil, fmt.Errorf("unknown store type %q", d.Type)
}
