package authority

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/miekg/dns"
	"github.com/semihalev/adns/config"
	"github.com/semihalev/zlog/v2"
)

const (
	defaultBlockTTL         = 86400
	defaultMinWildcardDepth = 2
)

// BlocklistAuthority answers listed names with sinkhole addresses. Names
// that are not listed are left to the next authority of the zone.
type BlocklistAuthority struct {
	info  ZoneInfo
	store config.BlocklistStore

	// set is read only once loaded
	set map[uint64]struct{}
}

// NewBlocklistAuthority reads every list of the store. Lines are either a
// domain or a hosts file entry; # starts a comment.
func NewBlocklistAuthority(_ context.Context, info ZoneInfo, store config.BlocklistStore) (*BlocklistAuthority, error) {
	a := &BlocklistAuthority{
		info:  info,
		store: store,
		set:   make(map[uint64]struct{}),
	}
	a.info.Origin = dns.CanonicalName(info.Origin)

	if a.store.TTL == 0 {
		a.store.TTL = defaultBlockTTL
	}
	if a.store.MinWildcardDepth <= 0 {
		a.store.MinWildcardDepth = defaultMinWildcardDepth
	}
	if a.store.SinkholeIPv4 == nil {
		a.store.SinkholeIPv4 = net.IPv4zero
	}
	if a.store.SinkholeIPv6 == nil {
		a.store.SinkholeIPv6 = net.IPv6zero
	}

	for _, list := range store.Lists {
		if err := a.readList(info.Path(list)); err != nil {
			return nil, err
		}
	}

	zlog.Info("Blocked domains loaded", "zone", a.info.Origin, "lists", len(store.Lists), "total", len(a.set))

	return a, nil
}

func (a *BlocklistAuthority) readList(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("blocklist %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		name := fields[0]
		if len(fields) > 1 {
			name = fields[1]
		}

		if _, ok := dns.IsDomainName(name); !ok {
			continue
		}

		a.set[key(name)] = struct{}{}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("blocklist %s: %w", path, err)
	}

	return nil
}

func key(name string) uint64 {
	return xxhash.Sum64String(strings.ToLower(dns.CanonicalName(name)))
}

// Origin implements Authority.
func (a *BlocklistAuthority) Origin() string { return a.info.Origin }

// ZoneType implements Authority.
func (a *BlocklistAuthority) ZoneType() config.ZoneType { return a.info.Type }

// Len returns the number of listed names.
func (a *BlocklistAuthority) Len() int { return len(a.set) }

// Blocked reports whether name is listed, either itself or, with wildcard
// matching, through a parent at least MinWildcardDepth labels deep.
func (a *BlocklistAuthority) Blocked(name string) bool {
	name = dns.CanonicalName(name)
	if _, ok := a.set[key(name)]; ok {
		return true
	}

	if !a.store.WildcardMatch {
		return false
	}

	for off, end := dns.NextLabel(name, 0); !end; off, end = dns.NextLabel(name, off) {
		parent := name[off:]
		if dns.CountLabel(parent) < a.store.MinWildcardDepth {
			break
		}
		if _, ok := a.set[key(parent)]; ok {
			return true
		}
	}

	return false
}

// Search implements Authority.
func (a *BlocklistAuthority) Search(_ context.Context, req *dns.Msg, _ bool) (*dns.Msg, error) {
	q := req.Question[0]
	if !a.Blocked(q.Name) {
		return nil, nil
	}

	m := new(dns.Msg)
	m.SetReply(req)
	m.Authoritative = true

	hdr := dns.RR_Header{Name: q.Name, Rrtype: q.Qtype, Class: dns.ClassINET, Ttl: a.store.TTL}

	switch q.Qtype {
	case dns.TypeA:
		m.Answer = append(m.Answer, &dns.A{Hdr: hdr, A: a.store.SinkholeIPv4})
	case dns.TypeAAAA:
		m.Answer = append(m.Answer, &dns.AAAA{Hdr: hdr, AAAA: a.store.SinkholeIPv6})
	}

	if a.store.BlockMessage != "" {
		hdr.Rrtype = dns.TypeTXT
		m.Extra = append(m.Extra, &dns.TXT{Hdr: hdr, Txt: []string{a.store.BlockMessage}})
	}

	return m, nil
}
