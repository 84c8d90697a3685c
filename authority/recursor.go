package authority

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
	"github.com/semihalev/adns/config"
	"github.com/semihalev/zlog/v2"
)

const (
	defaultRecursorDepth   = 16
	defaultRecursorTimeout = 2 * time.Second
)

var (
	errMaxDepth  = errors.New("maximum recursion depth reached")
	errNoServers = errors.New("no name servers reachable")
)

// RecursorAuthority resolves queries iteratively, starting at the root
// servers listed in a hints file.
type RecursorAuthority struct {
	info     ZoneInfo
	roots    []string
	maxDepth int
	udp      *dns.Client
	tcp      *dns.Client
}

// NewRecursorAuthority loads the root hints of the store.
func NewRecursorAuthority(_ context.Context, info ZoneInfo, store config.RecursorStore) (*RecursorAuthority, error) {
	path := info.Path(store.Roots)

	rrs, err := readZoneFile(".", path)
	if err != nil {
		return nil, fmt.Errorf("root hints %s: %w", path, err)
	}

	var roots []string
	for _, rr := range rrs {
		switch r := rr.(type) {
		case *dns.A:
			roots = append(roots, net.JoinHostPort(r.A.String(), "53"))
		case *dns.AAAA:
			roots = append(roots, net.JoinHostPort(r.AAAA.String(), "53"))
		}
	}

	if len(roots) == 0 {
		return nil, fmt.Errorf("root hints %s: no root server addresses", path)
	}

	depth := store.MaxDepth
	if depth <= 0 {
		depth = defaultRecursorDepth
	}

	timeout := store.Timeout.Duration
	if timeout <= 0 {
		timeout = defaultRecursorTimeout
	}

	a := &RecursorAuthority{
		info:     info,
		roots:    roots,
		maxDepth: depth,
		udp:      &dns.Client{Net: "udp", Timeout: timeout},
		tcp:      &dns.Client{Net: "tcp", Timeout: timeout},
	}
	a.info.Origin = dns.CanonicalName(info.Origin)

	return a, nil
}

// Origin implements Authority.
func (a *RecursorAuthority) Origin() string { return a.info.Origin }

// ZoneType implements Authority.
func (a *RecursorAuthority) ZoneType() config.ZoneType { return a.info.Type }

// Roots returns the root server addresses.
func (a *RecursorAuthority) Roots() []string { return append([]string(nil), a.roots...) }

// Search implements Authority.
func (a *RecursorAuthority) Search(ctx context.Context, req *dns.Msg, do bool) (*dns.Msg, error) {
	resp, err := a.resolve(ctx, req.Question[0], do, 0)
	if err != nil {
		return nil, err
	}

	m := new(dns.Msg)
	m.SetReply(req)
	m.Rcode = resp.Rcode
	m.RecursionAvailable = true
	m.Answer = resp.Answer
	m.Ns = resp.Ns
	for _, rr := range resp.Extra {
		if rr.Header().Rrtype != dns.TypeOPT {
			m.Extra = append(m.Extra, rr)
		}
	}

	return m, nil
}

func (a *RecursorAuthority) resolve(ctx context.Context, q dns.Question, do bool, depth int) (*dns.Msg, error) {
	servers := a.roots

	for ; depth < a.maxDepth; depth++ {
		msg := new(dns.Msg)
		msg.SetQuestion(q.Name, q.Qtype)
		msg.RecursionDesired = false
		msg.SetEdns0(dns.DefaultMsgSize, do)

		resp, err := a.exchange(ctx, msg, servers)
		if err != nil {
			return nil, err
		}

		if resp.Rcode != dns.RcodeSuccess || resp.Authoritative || len(resp.Answer) > 0 {
			return a.chase(ctx, q, resp, do, depth)
		}

		var nsNames []string
		for _, rr := range resp.Ns {
			if ns, ok := rr.(*dns.NS); ok {
				nsNames = append(nsNames, ns.Ns)
			}
		}

		if len(nsNames) == 0 {
			return resp, nil
		}

		next := glue(resp, nsNames)
		if len(next) == 0 {
			for _, name := range nsNames {
				addrs, err := a.resolve(ctx, dns.Question{Name: name, Qtype: dns.TypeA, Qclass: dns.ClassINET}, false, depth+1)
				if err != nil {
					continue
				}
				next = append(next, glue(addrs, []string{name})...)
				if len(next) > 0 {
					break
				}
			}
		}

		if len(next) == 0 {
			return nil, fmt.Errorf("%s: %w", q.Name, errNoServers)
		}

		servers = next
	}

	return nil, fmt.Errorf("%s: %w", q.Name, errMaxDepth)
}

// chase follows a CNAME that ends the answer without the requested type.
func (a *RecursorAuthority) chase(ctx context.Context, q dns.Question, resp *dns.Msg, do bool, depth int) (*dns.Msg, error) {
	if len(resp.Answer) == 0 || q.Qtype == dns.TypeCNAME {
		return resp, nil
	}

	for _, rr := range resp.Answer {
		if rr.Header().Rrtype == q.Qtype {
			return resp, nil
		}
	}

	cname, ok := resp.Answer[len(resp.Answer)-1].(*dns.CNAME)
	if !ok {
		return resp, nil
	}

	target, err := a.resolve(ctx, dns.Question{Name: cname.Target, Qtype: q.Qtype, Qclass: q.Qclass}, do, depth+1)
	if err != nil {
		return nil, err
	}

	resp.Answer = append(resp.Answer, target.Answer...)
	resp.Rcode = target.Rcode

	return resp, nil
}

func (a *RecursorAuthority) exchange(ctx context.Context, msg *dns.Msg, servers []string) (*dns.Msg, error) {
	for _, server := range servers {
		resp, _, err := a.udp.ExchangeContext(ctx, msg, server)
		if err == nil && resp.Truncated {
			resp, _, err = a.tcp.ExchangeContext(ctx, msg, server)
		}

		if err != nil {
			zlog.Debug("Recursor exchange failed", "server", server, "query", formatQuestion(msg.Question[0]), "error", err.Error())
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}

		return resp, nil
	}

	return nil, errNoServers
}

func glue(resp *dns.Msg, names []string) []string {
	var out []string
	for _, name := range names {
		name = dns.CanonicalName(name)
		for _, rr := range append(append([]dns.RR(nil), resp.Answer...), resp.Extra...) {
			if dns.CanonicalName(rr.Header().Name) != name {
				continue
			}
			switch r := rr.(type) {
			case *dns.A:
				out = append(out, net.JoinHostPort(r.A.String(), "53"))
			case *dns.AAAA:
				out = append(out, net.JoinHostPort(r.AAAA.String(), "53"))
			}
		}
	}
	return out
}
