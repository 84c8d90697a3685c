package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/semihalev/zlog/v2"
)

// Defaults for values that are not set in the config file.
const (
	DefaultConfigPath     = "/etc/named.toml"
	DefaultDirectory      = "/var/named"
	DefaultPort           = 53
	DefaultTLSPort        = 853
	DefaultHTTPSPort      = 443
	DefaultQUICPort       = 853
	DefaultHTTPEndpoint   = "/dns-query"
	DefaultUser           = "nobody"
	DefaultGroup          = "nobody"
	DefaultRequestTimeout = 5 * time.Second
)

// Config type
type Config struct {
	Directory string `toml:"directory"`
	LogLevel  string `toml:"log_level"`

	ListenAddrsIPv4 []string `toml:"listen_addrs_ipv4"`
	ListenAddrsIPv6 []string `toml:"listen_addrs_ipv6"`

	ListenPort      *uint16 `toml:"listen_port"`
	TLSListenPort   *uint16 `toml:"tls_listen_port"`
	HTTPSListenPort *uint16 `toml:"https_listen_port"`
	QUICListenPort  *uint16 `toml:"quic_listen_port"`

	DisableUDP   bool `toml:"disable_udp"`
	DisableTCP   bool `toml:"disable_tcp"`
	DisableTLS   bool `toml:"disable_tls"`
	DisableHTTPS bool `toml:"disable_https"`
	DisableQUIC  bool `toml:"disable_quic"`

	TCPRequestTimeout Duration `toml:"tcp_request_timeout"`
	HTTPEndpoint      string   `toml:"http_endpoint"`

	User  string `toml:"user"`
	Group string `toml:"group"`

	TLSCert *TLSCertConfig `toml:"tls_cert"`

	AllowNetworks   []string `toml:"allow_networks"`
	DenyNetworks    []string `toml:"deny_networks"`
	ClientRateLimit int      `toml:"client_rate_limit"`
	Metrics         string   `toml:"metrics"`
	AccessLog       string   `toml:"access_log"`
	Chaos           bool     `toml:"chaos"`

	Zones []ZoneConfig `toml:"-"`

	sVersion string
}

// TLSCertConfig describes where the certificate material for the encrypted
// transports comes from.
type TLSCertConfig struct {
	Path         string `toml:"path"`
	PrivateKey   string `toml:"private_key"`
	EndpointName string `toml:"endpoint_name"`
}

// Duration type
type Duration struct {
	time.Duration
}

// UnmarshalText for duration type
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// ServerVersion return current server version
func (c *Config) ServerVersion() string {
	return c.sVersion
}

// Port returns the plain DNS port.
func (c *Config) Port() uint16 { return portOr(c.ListenPort, DefaultPort) }

// TLSPort returns the DNS-over-TLS port.
func (c *Config) TLSPort() uint16 { return portOr(c.TLSListenPort, DefaultTLSPort) }

// HTTPSPort returns the DNS-over-HTTPS port.
func (c *Config) HTTPSPort() uint16 { return portOr(c.HTTPSListenPort, DefaultHTTPSPort) }

// QUICPort returns the DNS-over-QUIC port.
func (c *Config) QUICPort() uint16 { return portOr(c.QUICListenPort, DefaultQUICPort) }

// RequestTimeout returns the request timeout shared by the stream transports.
func (c *Config) RequestTimeout() time.Duration {
	if c.TCPRequestTimeout.Duration <= 0 {
		return DefaultRequestTimeout
	}
	return c.TCPRequestTimeout.Duration
}

// Endpoint returns the HTTP path DNS-over-HTTPS is served on.
func (c *Config) Endpoint() string {
	if c.HTTPEndpoint == "" {
		return DefaultHTTPEndpoint
	}
	return c.HTTPEndpoint
}

// ListenAddrs parses the configured IPv4 and IPv6 listen addresses, v4 first.
func (c *Config) ListenAddrs() ([]net.IP, error) {
	var addrs []net.IP

	for _, s := range c.ListenAddrsIPv4 {
		ip := net.ParseIP(s)
		if ip == nil || ip.To4() == nil {
			return nil, fmt.Errorf("invalid ipv4 listen address %q", s)
		}
		addrs = append(addrs, ip.To4())
	}

	for _, s := range c.ListenAddrsIPv6 {
		ip := net.ParseIP(s)
		if ip == nil || ip.To4() != nil {
			return nil, fmt.Errorf("invalid ipv6 listen address %q", s)
		}
		addrs = append(addrs, ip)
	}

	return addrs, nil
}

func portOr(p *uint16, def uint16) uint16 {
	if p == nil {
		return def
	}
	return *p
}

// document mirrors the file layout; zones are converted afterwards so the
// store list becomes a closed sum type.
type document struct {
	Config
	Zones []zoneDocument `toml:"zones"`
}

// Load loads the given config file
func Load(cfgfile, version string) (*Config, error) {
	zlog.Info("Loading config file", "path", cfgfile)

	data, err := os.ReadFile(cfgfile)
	if err != nil {
		return nil, fmt.Errorf("could not load config: %w", err)
	}

	config, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("could not load config %s: %w", cfgfile, err)
	}

	config.sVersion = version

	return config, nil
}

// Parse decodes a TOML document into a Config with defaults applied.
func Parse(data string) (*Config, error) {
	doc := new(document)

	md, err := toml.Decode(data, doc)
	if err != nil {
		return nil, err
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		zlog.Warn("Unknown config keys ignored", "keys", fmt.Sprint(undecoded))
	}

	config := &doc.Config

	for i := range doc.Zones {
		zone, err := doc.Zones[i].build()
		if err != nil {
			return nil, fmt.Errorf("zones[%d]: %w", i, err)
		}
		config.Zones = append(config.Zones, zone)
	}

	if config.Directory == "" {
		config.Directory = DefaultDirectory
	}

	if config.User == "" {
		config.User = DefaultUser
	}

	if config.Group == "" {
		config.Group = DefaultGroup
	}

	if config.LogLevel == "" {
		config.LogLevel = "info"
	}

	return config, nil
}
