package authority

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/semihalev/adns/config"
)

// FileAuthority serves a zone loaded from a master file.
type FileAuthority struct {
	info ZoneInfo
	path string
	data *zoneData

	mu         sync.Mutex
	signers    []*Signer
	updateKeys map[string][]*dns.KEY
	secured    bool
}

// NewFileAuthority loads the master file at path for the zone.
func NewFileAuthority(ctx context.Context, info ZoneInfo, path string) (*FileAuthority, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info.Origin = dns.CanonicalName(info.Origin)
	path = info.Path(path)

	rrs, err := readZoneFile(info.Origin, path)
	if err != nil {
		return nil, fmt.Errorf("zone file %s: %w", path, err)
	}

	data := newZoneData(info.Origin)
	if err := data.load(rrs); err != nil {
		return nil, fmt.Errorf("zone file %s: %w", path, err)
	}

	return &FileAuthority{
		info:       info,
		path:       path,
		data:       data,
		updateKeys: make(map[string][]*dns.KEY),
	}, nil
}

// Origin implements Authority.
func (a *FileAuthority) Origin() string { return a.info.Origin }

// ZoneType implements Authority.
func (a *FileAuthority) ZoneType() config.ZoneType { return a.info.Type }

// Path returns the master file the zone was loaded from.
func (a *FileAuthority) Path() string { return a.path }

// Serial returns the current SOA serial.
func (a *FileAuthority) Serial() uint32 { return a.data.serial() }

// Search implements Authority.
func (a *FileAuthority) Search(ctx context.Context, req *dns.Msg, do bool) (*dns.Msg, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return a.data.search(req, do && a.isSecured(), a.info.AllowAXFR), nil
}

// AddZoneSigningKey implements Signable.
func (a *FileAuthority) AddZoneSigningKey(_ context.Context, signer *Signer) error {
	if signer == nil || signer.Key == nil || signer.Private == nil {
		return fmt.Errorf("zone %s: incomplete signing key", a.info.Origin)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.signers = append(a.signers, signer)
	return nil
}

// AddUpdateAuthKey implements Signable.
func (a *FileAuthority) AddUpdateAuthKey(_ context.Context, name string, key *dns.KEY) error {
	if key == nil {
		return fmt.Errorf("zone %s: nil update key", a.info.Origin)
	}

	name = dns.CanonicalName(name)
	if !dns.IsSubDomain(a.info.Origin, name) {
		return fmt.Errorf("update key %s: %w %s", name, errNotInZone, a.info.Origin)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.updateKeys[name] = append(a.updateKeys[name], key)
	return nil
}

// SecureZone implements Signable.
func (a *FileAuthority) SecureZone(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	signers := append([]*Signer(nil), a.signers...)
	a.mu.Unlock()

	if err := a.data.sign(signers, time.Now()); err != nil {
		return fmt.Errorf("zone %s: %w", a.info.Origin, err)
	}

	a.mu.Lock()
	a.secured = len(signers) > 0
	a.mu.Unlock()

	return nil
}

func (a *FileAuthority) isSecured() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.secured
}

func (a *FileAuthority) keysFor(name string) []*dns.KEY {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]*dns.KEY(nil), a.updateKeys[dns.CanonicalName(name)]...)
}

func (a *FileAuthority) resign() error {
	a.mu.Lock()
	signers := append([]*Signer(nil), a.signers...)
	secured := a.secured
	a.mu.Unlock()

	if !secured {
		return nil
	}

	return a.data.sign(signers, time.Now())
}
