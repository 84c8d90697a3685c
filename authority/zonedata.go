package authority

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/miekg/dns"
)

// zoneData is the in-memory record set of a zone loaded from local data.
type zoneData struct {
	mu sync.RWMutex

	origin  string
	records map[string]map[uint16][]dns.RR
	// sigs holds RRSIGs by owner and covered type.
	sigs map[string]map[uint16][]dns.RR
}

func newZoneData(origin string) *zoneData {
	return &zoneData{
		origin:  dns.CanonicalName(origin),
		records: make(map[string]map[uint16][]dns.RR),
		sigs:    make(map[string]map[uint16][]dns.RR),
	}
}

// readZoneFile parses a master file with origin as the default origin.
func readZoneFile(origin, path string) ([]dns.RR, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zp := dns.NewZoneParser(f, origin, path)
	zp.SetIncludeAllowed(true)

	var rrs []dns.RR
	for rr, ok := zp.Next(); ok; rr, ok = zp.Next() {
		rrs = append(rrs, rr)
	}

	if err := zp.Err(); err != nil {
		return nil, err
	}

	return rrs, nil
}

// load replaces the zone content. The zone must have a SOA at its origin and
// no records outside of it.
func (z *zoneData) load(rrs []dns.RR) error {
	z.mu.Lock()
	defer z.mu.Unlock()

	z.records = make(map[string]map[uint16][]dns.RR)
	z.sigs = make(map[string]map[uint16][]dns.RR)

	for _, rr := range rrs {
		if !dns.IsSubDomain(z.origin, dns.CanonicalName(rr.Header().Name)) {
			return fmt.Errorf("record %s is outside of zone %s", rr.Header().Name, z.origin)
		}
		z.insert(rr)
	}

	if z.soaLocked() == nil {
		return fmt.Errorf("zone %s has no SOA record", z.origin)
	}

	return nil
}

func (z *zoneData) insert(rr dns.RR) bool {
	h := rr.Header()
	name := dns.CanonicalName(h.Name)
	h.Name = name

	target := z.records
	rrtype := h.Rrtype
	if sig, ok := rr.(*dns.RRSIG); ok {
		target = z.sigs
		rrtype = sig.TypeCovered
	}

	types, ok := target[name]
	if !ok {
		types = make(map[uint16][]dns.RR)
		target[name] = types
	}

	for _, existing := range types[rrtype] {
		if dns.IsDuplicate(existing, rr) {
			return false
		}
	}

	if rrtype == dns.TypeSOA || rrtype == dns.TypeCNAME {
		types[rrtype] = []dns.RR{rr}
		return true
	}

	types[rrtype] = append(types[rrtype], rr)
	return true
}

func (z *zoneData) delete(rr dns.RR) bool {
	name := dns.CanonicalName(rr.Header().Name)
	types, ok := z.records[name]
	if !ok {
		return false
	}

	rrs := types[rr.Header().Rrtype]
	for i, existing := range rrs {
		if dns.IsDuplicate(existing, rr) {
			types[rr.Header().Rrtype] = append(rrs[:i:i], rrs[i+1:]...)
			z.prune(name, rr.Header().Rrtype)
			return true
		}
	}

	return false
}

// deleteRRset removes a whole RRset, or every RRset of name for TypeANY.
func (z *zoneData) deleteRRset(name string, rrtype uint16) bool {
	name = dns.CanonicalName(name)
	types, ok := z.records[name]
	if !ok {
		return false
	}

	if rrtype == dns.TypeANY {
		soa := types[dns.TypeSOA]
		ns := types[dns.TypeNS]
		delete(z.records, name)
		// the apex keeps its SOA and NS
		if name == z.origin {
			z.records[name] = map[uint16][]dns.RR{dns.TypeSOA: soa, dns.TypeNS: ns}
		}
		return true
	}

	if _, ok := types[rrtype]; !ok {
		return false
	}
	delete(types, rrtype)
	z.prune(name, rrtype)

	return true
}

func (z *zoneData) prune(name string, rrtype uint16) {
	types := z.records[name]
	if len(types[rrtype]) == 0 {
		delete(types, rrtype)
	}
	if len(types) == 0 {
		delete(z.records, name)
	}
}

func (z *zoneData) soaLocked() *dns.SOA {
	rrs := z.records[z.origin][dns.TypeSOA]
	if len(rrs) == 0 {
		return nil
	}
	return rrs[0].(*dns.SOA)
}

// serial returns the SOA serial of the zone.
func (z *zoneData) serial() uint32 {
	z.mu.RLock()
	defer z.mu.RUnlock()

	if soa := z.soaLocked(); soa != nil {
		return soa.Serial
	}
	return 0
}

// all returns every record with the SOA first, names in canonical order.
func (z *zoneData) all(withSigs bool) []dns.RR {
	z.mu.RLock()
	defer z.mu.RUnlock()

	return z.allLocked(withSigs)
}

func (z *zoneData) allLocked(withSigs bool) []dns.RR {
	var out []dns.RR
	if soa := z.soaLocked(); soa != nil {
		out = append(out, soa)
	}

	for _, name := range z.namesLocked() {
		for _, rrtype := range sortedTypes(z.records[name]) {
			if name == z.origin && rrtype == dns.TypeSOA {
				continue
			}
			out = append(out, z.records[name][rrtype]...)
		}
		if withSigs {
			for _, rrtype := range sortedTypes(z.sigs[name]) {
				out = append(out, z.sigs[name][rrtype]...)
			}
		}
	}

	return out
}

func (z *zoneData) namesLocked() []string {
	names := make([]string, 0, len(z.records))
	for name := range z.records {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return canonicalLess(names[i], names[j]) })
	return names
}

// cut returns the closest delegation point above or at name, excluding the apex.
func (z *zoneData) cut(name string) string {
	for off, end := 0, false; !end; off, end = dns.NextLabel(name, off) {
		owner := name[off:]
		if owner == z.origin || !dns.IsSubDomain(z.origin, owner) {
			return ""
		}
		if len(z.records[owner][dns.TypeNS]) > 0 {
			return owner
		}
	}
	return ""
}

// search answers a query for a name inside the zone.
func (z *zoneData) search(req *dns.Msg, do, allowAXFR bool) *dns.Msg {
	q := req.Question[0]
	name := dns.CanonicalName(q.Name)

	if !dns.IsSubDomain(z.origin, name) {
		return nil
	}

	z.mu.RLock()
	defer z.mu.RUnlock()

	m := new(dns.Msg)
	m.SetReply(req)
	m.Authoritative = true

	switch q.Qtype {
	case dns.TypeAXFR, dns.TypeIXFR:
		if !allowAXFR || name != z.origin {
			m.Rcode = dns.RcodeRefused
			return m
		}
		m.Answer = z.allLocked(do)
		if soa := z.soaLocked(); soa != nil {
			m.Answer = append(m.Answer, soa)
		}
		return m
	}

	if cut := z.cut(name); cut != "" && !(cut == name && q.Qtype == dns.TypeDS) {
		m.Authoritative = false
		m.Ns = append(m.Ns, z.records[cut][dns.TypeNS]...)
		for _, rr := range z.records[cut][dns.TypeNS] {
			target := dns.CanonicalName(rr.(*dns.NS).Ns)
			m.Extra = append(m.Extra, z.records[target][dns.TypeA]...)
			m.Extra = append(m.Extra, z.records[target][dns.TypeAAAA]...)
		}
		return m
	}

	types, ok := z.records[name]
	if !ok {
		m.Rcode = dns.RcodeNameError
		z.negative(m, name, do)
		return m
	}

	switch {
	case q.Qtype == dns.TypeANY:
		for _, rrtype := range sortedTypes(types) {
			m.Answer = append(m.Answer, z.rrset(name, rrtype, do)...)
		}

	case len(types[q.Qtype]) > 0:
		m.Answer = z.rrset(name, q.Qtype, do)

	case len(types[dns.TypeCNAME]) > 0:
		z.chase(m, name, q.Qtype, do)

	default:
		z.negative(m, name, do)
	}

	return m
}

// chase follows a CNAME chain while it stays inside the zone.
func (z *zoneData) chase(m *dns.Msg, name string, qtype uint16, do bool) {
	seen := make(map[string]bool)

	for !seen[name] {
		seen[name] = true

		types, ok := z.records[name]
		if !ok {
			return
		}

		if rrs := z.rrset(name, qtype, do); len(types[qtype]) > 0 {
			m.Answer = append(m.Answer, rrs...)
			return
		}

		cname := types[dns.TypeCNAME]
		if len(cname) == 0 {
			return
		}
		m.Answer = append(m.Answer, z.rrset(name, dns.TypeCNAME, do)...)

		name = dns.CanonicalName(cname[0].(*dns.CNAME).Target)
		if !dns.IsSubDomain(z.origin, name) {
			return
		}
	}
}

func (z *zoneData) negative(m *dns.Msg, name string, do bool) {
	m.Ns = append(m.Ns, z.rrset(z.origin, dns.TypeSOA, do)...)
	if !do {
		return
	}

	if len(z.records[name][dns.TypeNSEC]) > 0 {
		m.Ns = append(m.Ns, z.rrset(name, dns.TypeNSEC, do)...)
		return
	}

	// the covering NSEC is the one of the closest name before this one
	var cover string
	for _, owner := range z.namesLocked() {
		if canonicalLess(name, owner) {
			break
		}
		if len(z.records[owner][dns.TypeNSEC]) > 0 {
			cover = owner
		}
	}
	if cover != "" {
		m.Ns = append(m.Ns, z.rrset(cover, dns.TypeNSEC, do)...)
	}
}

func (z *zoneData) rrset(name string, rrtype uint16, do bool) []dns.RR {
	out := append([]dns.RR(nil), z.records[name][rrtype]...)
	if do && len(out) > 0 {
		out = append(out, z.sigs[name][rrtype]...)
	}
	return out
}

func sortedTypes(types map[uint16][]dns.RR) []uint16 {
	out := make([]uint16, 0, len(types))
	for t := range types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// canonicalLess orders names as RFC 4034 section 6.1 does.
func canonicalLess(a, b string) bool {
	la := dns.SplitDomainName(strings.ToLower(a))
	lb := dns.SplitDomainName(strings.ToLower(b))

	for i, j := len(la)-1, len(lb)-1; i >= 0 && j >= 0; i, j = i-1, j-1 {
		if la[i] != lb[j] {
			return la[i] < lb[j]
		}
	}

	return len(la) < len(lb)
}
