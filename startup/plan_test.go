package startup

import (
	"net"
	"testing"
	"time"

	"github.com/semihalev/adns/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_PlanDefaults(t *testing.T) {
	cfg, err := config.Parse("")
	require.NoError(t, err)

	p, err := NewPlan(cfg, Options{})
	require.NoError(t, err)

	require.Len(t, p.Addrs, 2)
	assert.True(t, p.Addrs[0].Equal(net.IPv4zero))
	assert.True(t, p.Addrs[1].Equal(net.IPv6unspecified))
	assert.NotNil(t, p.Addrs[0].To4())

	assert.Equal(t, map[Transport]uint16{UDP: 53, TCP: 53, TLS: 853, HTTPS: 443, QUIC: 853}, p.Ports)
	assert.Equal(t, 5*time.Second, p.Timeout)
	assert.Equal(t, "/dns-query", p.Endpoint)
	assert.Equal(t, config.DefaultDirectory, p.CertDir)

	for _, tr := range Transports {
		assert.True(t, p.Enabled[tr], tr.String())
	}

	// encrypted transports need a certificate
	assert.True(t, p.Active(UDP))
	assert.True(t, p.Active(TCP))
	assert.False(t, p.Active(TLS))
	assert.False(t, p.Active(HTTPS))
	assert.False(t, p.Active(QUIC))
}

func Test_PlanOverrides(t *testing.T) {
	cfg, err := config.Parse(`
directory = "/srv/dns"
listen_addrs_ipv4 = ["192.0.2.1"]
listen_addrs_ipv6 = ["2001:db8::1"]
listen_port = 5353
tls_listen_port = 8853
disable_tcp = true
disable_quic = true
tcp_request_timeout = "2s"
http_endpoint = "/q"

[tls_cert]
path = "cert.pem"
private_key = "key.pem"
`)
	require.NoError(t, err)

	p, err := NewPlan(cfg, Options{
		ZoneDir:  "/tmp/zones",
		Ports:    map[Transport]uint16{UDP: 1053, HTTPS: 8443},
		Disabled: map[Transport]bool{TLS: true},
	})
	require.NoError(t, err)

	require.Len(t, p.Addrs, 2)
	assert.Equal(t, "192.0.2.1", p.Addrs[0].String())
	assert.Equal(t, "2001:db8::1", p.Addrs[1].String())

	assert.Equal(t, uint16(1053), p.Ports[UDP])
	assert.Equal(t, uint16(5353), p.Ports[TCP])
	assert.Equal(t, uint16(8853), p.Ports[TLS])
	assert.Equal(t, uint16(8443), p.Ports[HTTPS])
	assert.Equal(t, uint16(853), p.Ports[QUIC])

	assert.True(t, p.Active(UDP))
	assert.False(t, p.Active(TCP))
	assert.False(t, p.Active(TLS))
	assert.True(t, p.Active(HTTPS))
	assert.False(t, p.Active(QUIC))

	assert.Equal(t, 2*time.Second, p.Timeout)
	assert.Equal(t, "/q", p.Endpoint)
	assert.Equal(t, "/tmp/zones", p.CertDir)
}

func Test_PlanBadAddress(t *testing.T) {
	cfg, err := config.Parse(`listen_addrs_ipv4 = ["::1"]`)
	require.NoError(t, err)

	_, err = NewPlan(cfg, Options{})
	assert.Error(t, err)
}

func Test_TransportString(t *testing.T) {
	assert.Equal(t, "UDP", UDP.String())
	assert.Equal(t, "QUIC", QUIC.String())
	assert.Equal(t, "Transport(9)", Transport(9).String())
	assert.False(t, TCP.Encrypted())
	assert.True(t, HTTPS.Encrypted())
}
