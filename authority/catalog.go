package authority

import (
	"context"
	"errors"
	"strings"

	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"
)

// ErrCatalogSealed is returned by Upsert once serving has begun.
var ErrCatalogSealed = errors.New("catalog is sealed")

// Catalog maps zone names to their authorities, in configuration order.
// It is written by a single goroutine during startup and only read once
// sealed, so lookups take no locks.
type Catalog struct {
	zones  map[string][]Authority
	order  []string
	sealed bool
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{zones: make(map[string][]Authority)}
}

// Upsert sets the authorities of a zone, replacing any earlier set.
func (c *Catalog) Upsert(name string, authorities []Authority) error {
	if c.sealed {
		return ErrCatalogSealed
	}

	name = dns.CanonicalName(name)
	if _, ok := c.zones[name]; !ok {
		c.order = append(c.order, name)
	}
	c.zones[name] = authorities

	return nil
}

// Seal ends the write phase.
func (c *Catalog) Seal() { c.sealed = true }

// Sealed reports whether Seal was called.
func (c *Catalog) Sealed() bool { return c.sealed }

// Zones returns the zone names in the order they were first inserted.
func (c *Catalog) Zones() []string {
	return append([]string(nil), c.order...)
}

// Get returns the authorities of exactly the zone name.
func (c *Catalog) Get(name string) []Authority {
	return c.zones[dns.CanonicalName(name)]
}

// Len returns the number of zones.
func (c *Catalog) Len() int { return len(c.zones) }

// Find returns the closest enclosing zone of qname.
func (c *Catalog) Find(qname string) (string, []Authority) {
	name := dns.CanonicalName(qname)

	for off, end := 0, false; !end; off, end = dns.NextLabel(name, off) {
		zone := name[off:]
		if auths, ok := c.zones[zone]; ok {
			return zone, auths
		}
	}

	if auths, ok := c.zones["."]; ok {
		return ".", auths
	}

	return "", nil
}

// Resolve answers req from the catalog. wire is the packed request, kept for
// signature checks on updates; it may be nil.
func (c *Catalog) Resolve(ctx context.Context, req *dns.Msg, wire []byte) *dns.Msg {
	if len(req.Question) != 1 {
		return rcodeReply(req, dns.RcodeFormatError)
	}

	var resp *dns.Msg

	switch req.Opcode {
	case dns.OpcodeQuery:
		resp = c.query(ctx, req)
	case dns.OpcodeUpdate:
		resp = c.update(ctx, req, wire)
	default:
		resp = rcodeReply(req, dns.RcodeNotImplemented)
	}

	if opt := req.IsEdns0(); opt != nil && resp.IsEdns0() == nil {
		resp.SetEdns0(dns.DefaultMsgSize, opt.Do())
	}

	return resp
}

func (c *Catalog) query(ctx context.Context, req *dns.Msg) *dns.Msg {
	q := req.Question[0]

	zone, auths := c.Find(q.Name)
	if auths == nil {
		return rcodeReply(req, dns.RcodeRefused)
	}

	do := false
	if opt := req.IsEdns0(); opt != nil {
		do = opt.Do()
	}

	for _, a := range auths {
		resp, err := a.Search(ctx, req, do)
		if err != nil {
			zlog.Warn("Authority search failed", "zone", zone, "query", formatQuestion(q), "error", err.Error())
			return rcodeReply(req, dns.RcodeServerFailure)
		}

		if resp != nil {
			return resp
		}
	}

	return rcodeReply(req, dns.RcodeRefused)
}

func (c *Catalog) update(ctx context.Context, req *dns.Msg, wire []byte) *dns.Msg {
	zone := dns.CanonicalName(req.Question[0].Name)

	auths, ok := c.zones[zone]
	if !ok {
		return rcodeReply(req, dns.RcodeNotAuth)
	}

	for _, a := range auths {
		if u, ok := a.(Updater); ok {
			return rcodeReply(req, u.Update(ctx, req, wire))
		}
	}

	return rcodeReply(req, dns.RcodeNotImplemented)
}

func rcodeReply(req *dns.Msg, rcode int) *dns.Msg {
	m := new(dns.Msg)
	m.SetRcode(req, rcode)
	return m
}

func formatQuestion(q dns.Question) string {
	return strings.ToLower(q.Name) + " " + dns.Class(q.Qclass).String() + " " + dns.Type(q.Qtype).String()
}
