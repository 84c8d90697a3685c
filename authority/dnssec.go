package authority

import (
	"crypto"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const (
	// KeyUsageHost is the KEY flags value of a host key (RFC 2535 NAMTYP 10).
	KeyUsageHost = 0x0200
	// KeyProtocolDNSSEC is the only KEY protocol value in use.
	KeyProtocolDNSSEC = 3

	defaultSignatureValidity = 30 * 24 * time.Hour
	signatureSkew            = time.Hour
)

// Signer is a DNSSEC key pair loaded from disk.
type Signer struct {
	Key        *dns.DNSKEY
	Private    crypto.Signer
	SignerName string
	Validity   time.Duration
}

// LoadSigner reads a BIND style key pair. path may name either the .key or the
// .private file; the other one is found next to it. The signer name is the
// zone the key signs for.
func LoadSigner(path, signerName string) (*Signer, error) {
	base := strings.TrimSuffix(strings.TrimSuffix(path, ".private"), ".key")
	pubfile, privfile := base+".key", base+".private"

	pub, err := os.ReadFile(pubfile)
	if err != nil {
		return nil, err
	}

	rr, err := dns.NewRR(string(pub))
	if err != nil {
		return nil, fmt.Errorf("public key %s: %w", pubfile, err)
	}

	var key *dns.DNSKEY
	switch k := rr.(type) {
	case *dns.DNSKEY:
		key = k
	case *dns.KEY:
		key = &k.DNSKEY
	default:
		return nil, fmt.Errorf("public key %s: unexpected %s record", pubfile, dns.TypeToString[rr.Header().Rrtype])
	}

	f, err := os.Open(privfile)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	priv, err := key.ReadPrivateKey(f, privfile)
	if err != nil {
		return nil, fmt.Errorf("private key %s: %w", privfile, err)
	}

	signer, ok := priv.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("private key %s: algorithm %d cannot sign", privfile, key.Algorithm)
	}

	if signerName == "" {
		signerName = key.Hdr.Name
	}

	return &Signer{
		Key:        key,
		Private:    signer,
		SignerName: dns.CanonicalName(signerName),
		Validity:   defaultSignatureValidity,
	}, nil
}

// PublicKey returns the base64 public key of the pair.
func (s *Signer) PublicKey() (string, error) {
	if s.Key == nil || s.Key.PublicKey == "" {
		return "", errors.New("signer has no public key")
	}
	return s.Key.PublicKey, nil
}

// SIG0Key builds the host KEY record that verifies SIG(0) signed updates
// made with this key pair.
func (s *Signer) SIG0Key(owner string) (*dns.KEY, error) {
	pub, err := s.PublicKey()
	if err != nil {
		return nil, err
	}

	key := &dns.KEY{}
	key.Hdr = dns.RR_Header{Name: dns.CanonicalName(owner), Rrtype: dns.TypeKEY, Class: dns.ClassINET, Ttl: 3600}
	key.Flags = KeyUsageHost
	key.Protocol = KeyProtocolDNSSEC
	key.Algorithm = s.Key.Algorithm
	key.PublicKey = pub

	return key, nil
}

// Sign produces the RRSIG of one RRset.
func (s *Signer) Sign(rrset []dns.RR, now time.Time) (*dns.RRSIG, error) {
	validity := s.Validity
	if validity <= 0 {
		validity = defaultSignatureValidity
	}

	sig := &dns.RRSIG{}
	sig.Hdr = dns.RR_Header{Ttl: rrset[0].Header().Ttl}
	sig.Algorithm = s.Key.Algorithm
	sig.KeyTag = s.Key.KeyTag()
	sig.SignerName = s.SignerName
	sig.Inception = uint32(now.Add(-signatureSkew).Unix())
	sig.Expiration = uint32(now.Add(validity).Unix())

	if err := sig.Sign(s.Private, rrset); err != nil {
		return nil, err
	}

	return sig, nil
}

// sign publishes the DNSKEYs, rebuilds the NSEC chain and signs every
// authoritative RRset of the zone. Without signers the zone is left as is.
func (z *zoneData) sign(signers []*Signer, now time.Time) error {
	if len(signers) == 0 {
		return nil
	}

	z.mu.Lock()
	defer z.mu.Unlock()

	soa := z.soaLocked()
	if soa == nil {
		return fmt.Errorf("zone %s has no SOA record", z.origin)
	}

	z.sigs = make(map[string]map[uint16][]dns.RR)
	z.deleteRRset(z.origin, dns.TypeDNSKEY)
	for _, name := range z.namesLocked() {
		z.deleteRRset(name, dns.TypeNSEC)
	}

	for _, s := range signers {
		key := *s.Key
		key.Hdr = dns.RR_Header{Name: z.origin, Rrtype: dns.TypeDNSKEY, Class: dns.ClassINET, Ttl: soa.Hdr.Ttl}
		z.insert(&key)
	}

	var names []string
	for _, name := range z.namesLocked() {
		if cut := z.cut(name); cut != "" && cut != name {
			// glue below a delegation is not signed
			continue
		}
		names = append(names, name)
	}

	for i, name := range names {
		next := names[(i+1)%len(names)]

		types := sortedTypes(z.records[name])
		types = append(types, dns.TypeNSEC, dns.TypeRRSIG)
		slices.Sort(types)

		nsec := &dns.NSEC{
			Hdr:        dns.RR_Header{Name: name, Rrtype: dns.TypeNSEC, Class: dns.ClassINET, Ttl: soa.Minttl},
			NextDomain: next,
			TypeBitMap: types,
		}
		z.insert(nsec)
	}

	for _, name := range names {
		delegation := z.cut(name) == name

		for _, rrtype := range sortedTypes(z.records[name]) {
			if delegation && rrtype != dns.TypeDS && rrtype != dns.TypeNSEC {
				continue
			}

			for _, s := range signers {
				sig, err := s.Sign(z.records[name][rrtype], now)
				if err != nil {
					return fmt.Errorf("sign %s %s: %w", name, dns.TypeToString[rrtype], err)
				}
				z.insert(sig)
			}
		}
	}

	return nil
}
