package authority

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/miekg/dns"
	"github.com/semihalev/adns/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exampleZone = `$ORIGIN example.com.
$TTL 3600
@       IN SOA ns1.example.com. hostmaster.example.com. 1 7200 3600 1209600 300
@       IN NS  ns1
ns1     IN A   192.0.2.53
www     IN A   192.0.2.1
alias   IN CNAME www
sub     IN NS  ns.sub
ns.sub  IN A   192.0.2.54
`

func writeZone(t *testing.T, dir, content string) string {
	t.Helper()

	path := filepath.Join(dir, "example.com.zone")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func query(name string, qtype uint16) *dns.Msg {
	req := new(dns.Msg)
	req.SetQuestion(name, qtype)
	return req
}

type fakeAuthority struct {
	origin string
	resp   *dns.Msg
	err    error
	calls  int
}

func (f *fakeAuthority) Origin() string            { return f.origin }
func (f *fakeAuthority) ZoneType() config.ZoneType { return config.Primary }

func (f *fakeAuthority) Search(_ context.Context, req *dns.Msg, _ bool) (*dns.Msg, error) {
	f.calls++
	if f.resp == nil {
		return nil, f.err
	}
	m := f.resp.Copy()
	m.SetReply(req)
	return m, f.err
}

type fakeUpdater struct {
	fakeAuthority
	rcode int
}

func (f *fakeUpdater) Update(context.Context, *dns.Msg, []byte) int { return f.rcode }

func Test_CatalogFind(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Upsert("example.com", []Authority{&fakeAuthority{origin: "example.com."}}))
	require.NoError(t, c.Upsert("sub.example.com.", []Authority{&fakeAuthority{origin: "sub.example.com."}}))

	zone, auths := c.Find("www.SUB.example.com.")
	assert.Equal(t, "sub.example.com.", zone)
	assert.Len(t, auths, 1)

	zone, _ = c.Find("www.example.com.")
	assert.Equal(t, "example.com.", zone)

	zone, auths = c.Find("example.org.")
	assert.Empty(t, zone)
	assert.Nil(t, auths)

	require.NoError(t, c.Upsert(".", []Authority{&fakeAuthority{origin: "."}}))
	zone, _ = c.Find("example.org.")
	assert.Equal(t, ".", zone)

	assert.Equal(t, []string{"example.com.", "sub.example.com.", "."}, c.Zones())
	assert.Equal(t, 3, c.Len())
}

func Test_CatalogUpsertSealed(t *testing.T) {
	c := NewCatalog()
	first := &fakeAuthority{origin: "example.com."}
	second := &fakeAuthority{origin: "example.com."}

	require.NoError(t, c.Upsert("example.com.", []Authority{first}))
	require.NoError(t, c.Upsert("example.com.", []Authority{second}))
	assert.Equal(t, []Authority{second}, c.Get("example.com"))
	assert.Equal(t, []string{"example.com."}, c.Zones())

	c.Seal()
	assert.True(t, c.Sealed())
	assert.ErrorIs(t, c.Upsert("example.org.", nil), ErrCatalogSealed)
}

func Test_CatalogResolve(t *testing.T) {
	answer := new(dns.Msg)
	answer.Answer = []dns.RR{&dns.A{Hdr: dns.RR_Header{Name: "www.example.com.", Rrtype: dns.TypeA, Class: dns.ClassINET}}}

	pass := &fakeAuthority{origin: "example.com."}
	hit := &fakeAuthority{origin: "example.com.", resp: answer}

	c := NewCatalog()
	require.NoError(t, c.Upsert("example.com.", []Authority{pass, hit}))
	require.NoError(t, c.Upsert("broken.com.", []Authority{&fakeAuthority{origin: "broken.com.", err: errors.New("boom")}}))
	require.NoError(t, c.Upsert("empty.com.", []Authority{&fakeAuthority{origin: "empty.com."}}))
	c.Seal()

	ctx := context.Background()

	req := query("www.example.com.", dns.TypeA)
	req.SetEdns0(4096, true)
	resp := c.Resolve(ctx, req, nil)
	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
	assert.Len(t, resp.Answer, 1)
	assert.NotNil(t, resp.IsEdns0())
	assert.Equal(t, 1, pass.calls)
	assert.Equal(t, 1, hit.calls)

	resp = c.Resolve(ctx, query("www.example.org.", dns.TypeA), nil)
	assert.Equal(t, dns.RcodeRefused, resp.Rcode)

	resp = c.Resolve(ctx, query("www.broken.com.", dns.TypeA), nil)
	assert.Equal(t, dns.RcodeServerFailure, resp.Rcode)

	resp = c.Resolve(ctx, query("www.empty.com.", dns.TypeA), nil)
	assert.Equal(t, dns.RcodeRefused, resp.Rcode)

	req = query("www.example.com.", dns.TypeA)
	req.Question = append(req.Question, req.Question[0])
	resp = c.Resolve(ctx, req, nil)
	assert.Equal(t, dns.RcodeFormatError, resp.Rcode)

	req = query("www.example.com.", dns.TypeA)
	req.Opcode = dns.OpcodeNotify
	resp = c.Resolve(ctx, req, nil)
	assert.Equal(t, dns.RcodeNotImplemented, resp.Rcode)
}

func Test_CatalogUpdate(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Upsert("example.com.", []Authority{&fakeAuthority{origin: "example.com."}, &fakeUpdater{rcode: dns.RcodeYXRrset}}))
	require.NoError(t, c.Upsert("static.com.", []Authority{&fakeAuthority{origin: "static.com."}}))

	ctx := context.Background()

	req := new(dns.Msg)
	req.SetUpdate("example.com.")
	assert.Equal(t, dns.RcodeYXRrset, c.Resolve(ctx, req, nil).Rcode)

	req.SetUpdate("www.example.com.")
	assert.Equal(t, dns.RcodeNotAuth, c.Resolve(ctx, req, nil).Rcode)

	req.SetUpdate("static.com.")
	assert.Equal(t, dns.RcodeNotImplemented, c.Resolve(ctx, req, nil).Rcode)
}

func Test_FileAuthority(t *testing.T) {
	dir := t.TempDir()
	writeZone(t, dir, exampleZone)

	ctx := context.Background()
	info := ZoneInfo{Origin: "example.com", Type: config.Primary, Dir: dir}

	a, err := NewFileAuthority(ctx, info, "example.com.zone")
	require.NoError(t, err)
	assert.Equal(t, "example.com.", a.Origin())
	assert.Equal(t, config.Primary, a.ZoneType())
	assert.Equal(t, filepath.Join(dir, "example.com.zone"), a.Path())
	assert.Equal(t, uint32(1), a.Serial())

	resp, err := a.Search(ctx, query("WWW.example.com.", dns.TypeA), false)
	require.NoError(t, err)
	assert.True(t, resp.Authoritative)
	require.Len(t, resp.Answer, 1)
	assert.Equal(t, "192.0.2.1", resp.Answer[0].(*dns.A).A.String())

	resp, err = a.Search(ctx, query("alias.example.com.", dns.TypeA), false)
	require.NoError(t, err)
	require.Len(t, resp.Answer, 2)
	assert.Equal(t, dns.TypeCNAME, resp.Answer[0].Header().Rrtype)
	assert.Equal(t, dns.TypeA, resp.Answer[1].Header().Rrtype)

	resp, err = a.Search(ctx, query("missing.example.com.", dns.TypeA), false)
	require.NoError(t, err)
	assert.Equal(t, dns.RcodeNameError, resp.Rcode)
	require.Len(t, resp.Ns, 1)
	assert.Equal(t, dns.TypeSOA, resp.Ns[0].Header().Rrtype)

	resp, err = a.Search(ctx, query("www.example.com.", dns.TypeMX), false)
	require.NoError(t, err)
	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
	assert.Empty(t, resp.Answer)
	require.Len(t, resp.Ns, 1)

	resp, err = a.Search(ctx, query("host.sub.example.com.", dns.TypeA), false)
	require.NoError(t, err)
	assert.False(t, resp.Authoritative)
	require.Len(t, resp.Ns, 1)
	assert.Equal(t, "ns.sub.example.com.", resp.Ns[0].(*dns.NS).Ns)
	require.Len(t, resp.Extra, 1)

	resp, err = a.Search(ctx, query("example.com.", dns.TypeAXFR), false)
	require.NoError(t, err)
	assert.Equal(t, dns.RcodeRefused, resp.Rcode)

	resp, err = a.Search(ctx, query("www.example.org.", dns.TypeA), false)
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func Test_FileAuthorityAXFR(t *testing.T) {
	dir := t.TempDir()
	path := writeZone(t, dir, exampleZone)

	ctx := context.Background()
	a, err := NewFileAuthority(ctx, ZoneInfo{Origin: "example.com.", AllowAXFR: true}, path)
	require.NoError(t, err)

	resp, err := a.Search(ctx, query("example.com.", dns.TypeAXFR), false)
	require.NoError(t, err)
	require.Len(t, resp.Answer, 8)
	assert.Equal(t, dns.TypeSOA, resp.Answer[0].Header().Rrtype)
	assert.Equal(t, dns.TypeSOA, resp.Answer[len(resp.Answer)-1].Header().Rrtype)
}

func Test_FileAuthorityErrors(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	info := ZoneInfo{Origin: "example.com.", Dir: dir}

	_, err := NewFileAuthority(ctx, info, "missing.zone")
	assert.Error(t, err)

	writeZone(t, dir, "www.example.com. 300 IN A 192.0.2.1\n")
	_, err = NewFileAuthority(ctx, info, "example.com.zone")
	assert.ErrorContains(t, err, "no SOA")

	writeZone(t, dir, exampleZone+"www.example.org. 300 IN A 192.0.2.1\n")
	_, err = NewFileAuthority(ctx, info, "example.com.zone")
	assert.ErrorContains(t, err, "outside of zone")

	writeZone(t, dir, exampleZone)
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = NewFileAuthority(cancelled, info, "example.com.zone")
	assert.ErrorIs(t, err, context.Canceled)
}

func Test_FileAuthorityUpdateKeys(t *testing.T) {
	dir := t.TempDir()
	path := writeZone(t, dir, exampleZone)

	ctx := context.Background()
	a, err := NewFileAuthority(ctx, ZoneInfo{Origin: "example.com."}, path)
	require.NoError(t, err)

	key := &dns.KEY{}
	assert.NoError(t, a.AddUpdateAuthKey(ctx, "example.com", key))
	assert.Len(t, a.keysFor("example.com."), 1)

	assert.Error(t, a.AddUpdateAuthKey(ctx, "example.org.", key))
	assert.Error(t, a.AddUpdateAuthKey(ctx, "example.com.", nil))
	assert.Error(t, a.AddZoneSigningKey(ctx, &Signer{}))
}

func Test_canonicalLess(t *testing.T) {
	assert.True(t, canonicalLess("example.com.", "a.example.com."))
	assert.True(t, canonicalLess("a.example.com.", "B.example.com."))
	assert.True(t, canonicalLess("z.a.example.com.", "b.example.com."))
	assert.False(t, canonicalLess("b.example.com.", "a.example.com."))
}
