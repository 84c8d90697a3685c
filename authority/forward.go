package authority

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/semihalev/adns/config"
	"github.com/semihalev/zlog/v2"
)

const defaultForwardTimeout = 2 * time.Second

var errNoUpstream = errors.New("no upstream answered")

type upstream struct {
	addr   string
	client *dns.Client
}

// ForwardAuthority relays every query to upstream name servers, in order.
type ForwardAuthority struct {
	info      ZoneInfo
	upstreams []upstream
}

// NewForwardAuthority builds a forwarder from the store's name servers.
func NewForwardAuthority(_ context.Context, info ZoneInfo, store config.ForwardStore) (*ForwardAuthority, error) {
	if len(store.NameServers) == 0 {
		return nil, fmt.Errorf("zone %s: forward store has no name servers", info.Origin)
	}

	timeout := store.Timeout.Duration
	if timeout <= 0 {
		timeout = defaultForwardTimeout
	}

	a := &ForwardAuthority{info: info}
	a.info.Origin = dns.CanonicalName(info.Origin)

	for _, ns := range store.NameServers {
		proto := strings.ToLower(ns.Protocol)
		switch proto {
		case "", "udp":
			proto = "udp"
		case "tcp":
		case "tls", "tcp-tls":
			proto = "tcp-tls"
		default:
			return nil, fmt.Errorf("zone %s: name server %s: unknown protocol %q", info.Origin, ns.SocketAddr, ns.Protocol)
		}

		a.upstreams = append(a.upstreams, upstream{
			addr:   ns.SocketAddr,
			client: &dns.Client{Net: proto, Timeout: timeout},
		})
	}

	return a, nil
}

// Origin implements Authority.
func (a *ForwardAuthority) Origin() string { return a.info.Origin }

// ZoneType implements Authority.
func (a *ForwardAuthority) ZoneType() config.ZoneType { return a.info.Type }

// Search implements Authority.
func (a *ForwardAuthority) Search(ctx context.Context, req *dns.Msg, _ bool) (*dns.Msg, error) {
	for _, u := range a.upstreams {
		resp, _, err := u.client.ExchangeContext(ctx, req, u.addr)
		if err == nil && resp.Truncated && u.client.Net == "udp" {
			tcp := &dns.Client{Net: "tcp", Timeout: u.client.Timeout}
			resp, _, err = tcp.ExchangeContext(ctx, req, u.addr)
		}

		if err != nil {
			zlog.Debug("Forward query failed", "zone", a.info.Origin, "upstream", u.addr, "error", err.Error())
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}

		resp.Id = req.Id
		return resp, nil
	}

	return nil, fmt.Errorf("zone %s: %w", a.info.Origin, errNoUpstream)
}
