package server

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/quic-go/quic-go"
	"github.com/semihalev/adns/authority"
	"github.com/semihalev/adns/config"
	"github.com/semihalev/adns/middleware"
	"github.com/semihalev/adns/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testZone = `$ORIGIN example.com.
$TTL 3600
@   IN SOA ns1.example.com. hostmaster.example.com. 1 7200 3600 1209600 300
@   IN NS  ns1
ns1 IN A   192.0.2.53
www IN A   192.0.2.1
`

var loopback = net.IPv4(127, 0, 0, 1)

func newCatalog(t *testing.T) *authority.Catalog {
	t.Helper()

	path := filepath.Join(t.TempDir(), "example.com.zone")
	require.NoError(t, os.WriteFile(path, []byte(testZone), 0o600))

	a, err := authority.NewFileAuthority(context.Background(), authority.ZoneInfo{Origin: "example.com.", Type: config.Primary}, path)
	require.NoError(t, err)

	c := authority.NewCatalog()
	require.NoError(t, c.Upsert("example.com.", []authority.Authority{a}))
	c.Seal()

	return c
}

func newServer(t *testing.T, handlers ...middleware.Handler) *Server {
	t.Helper()

	s, err := New(newCatalog(t), handlers, prometheus.NewRegistry())
	require.NoError(t, err)

	return s
}

func newCert(t *testing.T, endpoint string) *CertManager {
	t.Helper()

	certPath, keyPath, err := mock.WriteCertificate(t.TempDir(), "dns.example.com")
	require.NoError(t, err)

	cm, err := NewCertManager(certPath, keyPath)
	require.NoError(t, err)
	cm.EndpointName = endpoint

	return cm
}

// run starts s and stops it when the test ends.
func run(t *testing.T, s *Server) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("server did not stop")
		}
	})
}

func query(name string, qtype uint16) *dns.Msg {
	req := new(dns.Msg)
	req.SetQuestion(name, qtype)
	return req
}

func exchange(t *testing.T, c *dns.Client, addr string, req *dns.Msg) *dns.Msg {
	t.Helper()

	var (
		resp *dns.Msg
		err  error
	)

	// listeners come up asynchronously
	require.Eventually(t, func() bool {
		resp, _, err = c.Exchange(req, addr)
		return err == nil
	}, 5*time.Second, 50*time.Millisecond, "exchange with %s", addr)

	return resp
}

func Test_ServerPlainTransports(t *testing.T) {
	s := newServer(t)

	pc, err := ListenUDP(loopback, 0)
	require.NoError(t, err)
	require.NoError(t, s.RegisterSocket(pc))

	ln, err := ListenTCP(loopback, 0)
	require.NoError(t, err)
	require.NoError(t, s.RegisterListener(ln, time.Second))

	assert.Equal(t, []string{"udp " + pc.LocalAddr().String(), "tcp " + ln.Addr().String()}, s.Listeners())

	run(t, s)

	resp := exchange(t, &dns.Client{Net: "udp"}, pc.LocalAddr().String(), query("www.example.com.", dns.TypeA))
	assert.True(t, resp.Authoritative)
	require.Len(t, resp.Answer, 1)

	resp = exchange(t, &dns.Client{Net: "tcp"}, ln.Addr().String(), query("missing.example.com.", dns.TypeA))
	assert.Equal(t, dns.RcodeNameError, resp.Rcode)

	resp = exchange(t, &dns.Client{Net: "udp"}, pc.LocalAddr().String(), query("example.org.", dns.TypeA))
	assert.Equal(t, dns.RcodeRefused, resp.Rcode)
}

func Test_ServerEncryptedTransports(t *testing.T) {
	s := newServer(t)
	cm := newCert(t, "dns.example.com")

	tlsLn, err := ListenTCP(loopback, 0)
	require.NoError(t, err)
	require.NoError(t, s.RegisterTLSListener(tlsLn, time.Second, cm))

	httpsLn, err := ListenTCP(loopback, 0)
	require.NoError(t, err)
	require.NoError(t, s.RegisterHTTPSListener(httpsLn, time.Second, cm, "/dns-query"))

	quicPC, err := ListenUDP(loopback, 0)
	require.NoError(t, err)
	require.NoError(t, s.RegisterQUICListener(quicPC, time.Second, cm))

	run(t, s)

	tlsConf := &tls.Config{InsecureSkipVerify: true, ServerName: "dns.example.com"}

	resp := exchange(t, &dns.Client{Net: "tcp-tls", TLSConfig: tlsConf}, tlsLn.Addr().String(), query("www.example.com.", dns.TypeA))
	require.Len(t, resp.Answer, 1)

	// https
	client := &http.Client{Transport: &http.Transport{TLSClientConfig: tlsConf}, Timeout: 5 * time.Second}

	data, err := query("www.example.com.", dns.TypeA).Pack()
	require.NoError(t, err)

	url := "https://" + httpsLn.Addr().String() + "/dns-query?dns=" + base64.RawURLEncoding.EncodeToString(data)

	var httpResp *http.Response
	require.Eventually(t, func() bool {
		httpResp, err = client.Get(url)
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)

	body, err := io.ReadAll(httpResp.Body)
	require.NoError(t, err)
	httpResp.Body.Close()
	require.Equal(t, http.StatusOK, httpResp.StatusCode)

	msg := new(dns.Msg)
	require.NoError(t, msg.Unpack(body))
	assert.Len(t, msg.Answer, 1)

	// a different endpoint name gets nothing
	other := &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true, ServerName: "other.example.com"}}}
	httpResp, err = other.Post("https://"+httpsLn.Addr().String()+"/dns-query", "application/dns-message", bytes.NewReader(data))
	require.NoError(t, err)
	httpResp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, httpResp.StatusCode)

	// quic
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := quic.DialAddr(ctx, quicPC.LocalAddr().String(), &tls.Config{
		InsecureSkipVerify: true,
		ServerName:         "dns.example.com",
		NextProtos:         []string{"doq"},
	}, nil)
	require.NoError(t, err)
	defer conn.CloseWithError(0, "")

	stream, err := conn.OpenStreamSync(ctx)
	require.NoError(t, err)

	req := query("www.example.com.", dns.TypeA)
	req.Id = 0
	data, err = req.Pack()
	require.NoError(t, err)

	_, err = stream.Write(append([]byte{byte(len(data) >> 8), byte(len(data))}, data...))
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	body, err = io.ReadAll(stream)
	require.NoError(t, err)
	require.Greater(t, len(body), 2)

	msg = new(dns.Msg)
	require.NoError(t, msg.Unpack(body[2:]))
	assert.Len(t, msg.Answer, 1)
}

type drop struct{}

func (drop) Name() string                                { return "drop" }
func (drop) ServeDNS(context.Context, *middleware.Chain) {}

func Test_ServerMiddleware(t *testing.T) {
	s := newServer(t, drop{})

	mw := mock.NewWriter("udp", "127.0.0.1:0")
	s.ServeDNS(mw, query("www.example.com.", dns.TypeA))
	assert.False(t, mw.Written())

	s = newServer(t)
	mw = mock.NewWriter("udp", "127.0.0.1:0")
	s.ServeDNS(mw, query("www.example.com.", dns.TypeA))
	require.True(t, mw.Written())
	assert.Equal(t, dns.RcodeSuccess, mw.Rcode())
}

func Test_ServerRefusesTransfer(t *testing.T) {
	s := newServer(t)

	mw := mock.NewWriter("udp", "127.0.0.1:0")
	req := query("example.com.", dns.TypeAXFR)
	s.ServeDNS(mw, req)
	require.True(t, mw.Written())
	assert.Equal(t, dns.RcodeRefused, mw.Rcode())
}

func Test_ServerRegistrationErrors(t *testing.T) {
	s := newServer(t)

	assert.ErrorIs(t, s.RegisterSocket(nil), ErrRegistration)
	assert.ErrorIs(t, s.RegisterListener(nil, time.Second), ErrRegistration)

	ln, err := ListenTCP(loopback, 0)
	require.NoError(t, err)
	defer ln.Close()

	assert.ErrorIs(t, s.RegisterTLSListener(ln, time.Second, nil), ErrRegistration)
	assert.ErrorIs(t, s.RegisterQUICListener(nil, time.Second, nil), ErrRegistration)
	assert.ErrorIs(t, s.RegisterHTTPHandler(ln, nil), ErrRegistration)

	cm := newCert(t, "")
	defer cm.Stop()
	assert.ErrorIs(t, s.RegisterHTTPSListener(ln, time.Second, cm, "dns-query"), ErrRegistration)

	assert.Empty(t, s.Listeners())

	// nothing can be added once running
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.running
	}, 5*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, s.RegisterListener(ln, time.Second), ErrRegistration)

	cancel()
	assert.NoError(t, <-done)

	assert.Error(t, s.Run(context.Background()))
}

func Test_ServerRejectedHTTPSStartsNothing(t *testing.T) {
	s := newServer(t)
	s.Close()

	ln, err := ListenTCP(loopback, 0)
	require.NoError(t, err)
	defer ln.Close()

	cm := newCert(t, "")
	defer cm.Stop()

	before := runtime.NumGoroutine()
	for range 10 {
		assert.ErrorIs(t, s.RegisterHTTPSListener(ln, time.Second, cm, "/dns-query"), ErrRegistration)
	}

	// the log reader only runs for registered listeners
	assert.LessOrEqual(t, runtime.NumGoroutine(), before)
}

func Test_ServerClose(t *testing.T) {
	s := newServer(t)

	ln, err := ListenTCP(loopback, 0)
	require.NoError(t, err)
	require.NoError(t, s.RegisterListener(ln, time.Second))

	s.Close()

	// the port is free again
	ln2, err := ListenTCP(loopback, port(ln.Addr()))
	require.NoError(t, err)
	ln2.Close()

	assert.Error(t, s.Run(context.Background()))
}

func Test_ServerListenerFailure(t *testing.T) {
	s := newServer(t)

	ln, err := ListenTCP(loopback, 0)
	require.NoError(t, err)
	require.NoError(t, s.RegisterHTTPHandler(ln, http.NotFoundHandler()))

	// closing the socket under a running engine stops it with an error
	require.NoError(t, ln.Close())

	err = s.Run(context.Background())
	assert.ErrorContains(t, err, "http listener")
}
