package server

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func port(addr net.Addr) uint16 {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return uint16(a.Port)
	case *net.TCPAddr:
		return uint16(a.Port)
	}
	return 0
}

func Test_ListenUDP(t *testing.T) {
	pc, err := ListenUDP(net.IPv4(127, 0, 0, 1), 0)
	require.NoError(t, err)
	defer pc.Close()

	client, err := net.Dial("udp", pc.LocalAddr().String())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)

	require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))

	buf := make([]byte, 16)
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))
}

func Test_ListenTCP(t *testing.T) {
	ln, err := ListenTCP(net.IPv4(127, 0, 0, 1), 0)
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		c, err := net.Dial("tcp", ln.Addr().String())
		if err == nil {
			_ = c.Close()
		}
	}()

	c, err := ln.Accept()
	require.NoError(t, err)
	_ = c.Close()

	// the port is taken now
	_, err = ListenTCP(net.IPv4(127, 0, 0, 1), port(ln.Addr()))
	assert.ErrorIs(t, err, ErrBind)
	assert.ErrorContains(t, err, ln.Addr().String())
}

func Test_ListenDualStackIsolation(t *testing.T) {
	v6, err := ListenUDP(net.IPv6unspecified, 0)
	if err != nil {
		t.Skip("ipv6 not available:", err)
	}
	defer v6.Close()

	v4, err := ListenUDP(net.IPv4zero, port(v6.LocalAddr()))
	require.NoError(t, err, "ipv6 wildcard must not hold the ipv4 port")
	defer v4.Close()

	client, err := net.Dial("udp", SocketAddr(net.IPv4(127, 0, 0, 1), port(v4.LocalAddr())))
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("v4"))
	require.NoError(t, err)

	buf := make([]byte, 16)

	require.NoError(t, v4.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := v4.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "v4", string(buf[:n]))

	// ipv4 traffic never reaches the ipv6 socket
	require.NoError(t, v6.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err = v6.ReadFrom(buf)
	var nerr net.Error
	require.ErrorAs(t, err, &nerr)
	assert.True(t, nerr.Timeout())

	ln6, err := ListenTCP(net.IPv6unspecified, 0)
	require.NoError(t, err)
	defer ln6.Close()

	ln4, err := ListenTCP(net.IPv4zero, port(ln6.Addr()))
	require.NoError(t, err)
	defer ln4.Close()
}

func Test_SocketAddr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:53", SocketAddr(net.IPv4(127, 0, 0, 1), 53))
	assert.Equal(t, "[::1]:853", SocketAddr(net.IPv6loopback, 853))
}
