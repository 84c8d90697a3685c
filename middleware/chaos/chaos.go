// Package chaos answers the CHAOS class identity queries operators use to
// ask a name server what it is.
package chaos

import (
	"context"
	"os"

	"github.com/miekg/dns"
	"github.com/semihalev/adns/config"
	"github.com/semihalev/adns/middleware"
)

// Chaos type
type Chaos struct {
	enabled bool
	answers map[string]string
}

// New returns the handler; it passes everything on unless cfg enables it.
func New(cfg *config.Config) *Chaos {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	version := "adns v" + cfg.ServerVersion()

	return &Chaos{
		enabled: cfg.Chaos,
		answers: map[string]string{
			"version.bind.":   version,
			"version.server.": version,
			"hostname.bind.":  limitTXTLength(hostname),
			"id.server.":      limitTXTLength(hostname),
		},
	}
}

// Name return middleware name
func (c *Chaos) Name() string { return name }

// ServeDNS implements the Handle interface.
func (c *Chaos) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	req := ch.Request

	if !c.enabled || len(req.Question) != 1 {
		ch.Next(ctx)
		return
	}

	q := req.Question[0]
	if q.Qclass != dns.ClassCHAOS || q.Qtype != dns.TypeTXT {
		ch.Next(ctx)
		return
	}

	txt, ok := c.answers[dns.CanonicalName(q.Name)]
	if !ok {
		ch.CancelWithRcode(dns.RcodeRefused, false)
		return
	}

	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.Authoritative = true
	resp.Answer = []dns.RR{&dns.TXT{
		Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeTXT, Class: dns.ClassCHAOS},
		Txt: []string{txt},
	}}

	_ = ch.Writer.WriteMsg(resp)
	ch.Cancel()
}

// a TXT character string holds at most 255 octets
func limitTXTLength(s string) string {
	if len(s) < 256 {
		return s
	}
	return s[:255]
}

const name = "chaos"
