package startup

import (
	"net"
	"strconv"
	"time"

	"github.com/semihalev/adns/config"
)

// Transport is a listener kind. Transports are bound in declaration order.
type Transport int

// Transports in bind order.
const (
	UDP Transport = iota
	TCP
	TLS
	HTTPS
	QUIC
)

// Transports lists every transport in bind order.
var Transports = []Transport{UDP, TCP, TLS, HTTPS, QUIC}

func (t Transport) String() string {
	switch t {
	case UDP:
		return "UDP"
	case TCP:
		return "TCP"
	case TLS:
		return "TLS"
	case HTTPS:
		return "HTTPS"
	case QUIC:
		return "QUIC"
	}
	return "Transport(" + strconv.Itoa(int(t)) + ")"
}

// Encrypted reports whether the transport needs certificate material.
func (t Transport) Encrypted() bool { return t >= TLS }

// Options are the command line settings that take precedence over the
// config file.
type Options struct {
	ValidateOnly bool

	// ZoneDir replaces the configured directory when set.
	ZoneDir string

	// Ports overrides the configured port of a transport.
	Ports map[Transport]uint16

	// Disabled turns a transport off regardless of the config.
	Disabled map[Transport]bool
}

// Plan is where and how every transport listens.
type Plan struct {
	Addrs   []net.IP
	Ports   map[Transport]uint16
	Enabled map[Transport]bool

	Timeout  time.Duration
	Endpoint string

	// TLSCert is nil when no certificate is configured.
	TLSCert *config.TLSCertConfig
	CertDir string
}

// NewPlan merges cfg with opts.
func NewPlan(cfg *config.Config, opts Options) (*Plan, error) {
	addrs, err := cfg.ListenAddrs()
	if err != nil {
		return nil, err
	}

	if len(addrs) == 0 {
		addrs = []net.IP{net.IPv4zero.To4(), net.IPv6unspecified}
	}

	configured := map[Transport]uint16{
		UDP:   cfg.Port(),
		TCP:   cfg.Port(),
		TLS:   cfg.TLSPort(),
		HTTPS: cfg.HTTPSPort(),
		QUIC:  cfg.QUICPort(),
	}

	disabled := map[Transport]bool{
		UDP:   cfg.DisableUDP,
		TCP:   cfg.DisableTCP,
		TLS:   cfg.DisableTLS,
		HTTPS: cfg.DisableHTTPS,
		QUIC:  cfg.DisableQUIC,
	}

	p := &Plan{
		Addrs:    addrs,
		Ports:    make(map[Transport]uint16, len(Transports)),
		Enabled:  make(map[Transport]bool, len(Transports)),
		Timeout:  cfg.RequestTimeout(),
		Endpoint: cfg.Endpoint(),
		TLSCert:  cfg.TLSCert,
		CertDir:  ZoneDir(cfg, opts),
	}

	for _, t := range Transports {
		p.Ports[t] = configured[t]
		if port, ok := opts.Ports[t]; ok {
			p.Ports[t] = port
		}

		p.Enabled[t] = !opts.Disabled[t] && !disabled[t]
	}

	return p, nil
}

// Active reports whether t gets listeners: it is enabled and, when
// encrypted, a certificate is configured.
func (p *Plan) Active(t Transport) bool {
	if !p.Enabled[t] {
		return false
	}
	return !t.Encrypted() || p.TLSCert != nil
}

// ZoneDir is the directory zone files, keys and certificates are read from.
func ZoneDir(cfg *config.Config, opts Options) string {
	if opts.ZoneDir != "" {
		return opts.ZoneDir
	}
	return cfg.Directory
}
