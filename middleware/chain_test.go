package middleware

import (
	"context"
	"crypto/tls"
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/semihalev/adns/mock"
	"github.com/stretchr/testify/assert"
)

func Test_Chain(t *testing.T) {
	w := mock.NewWriter("tcp", "127.0.0.1:0")
	ch := NewChain([]Handler{&dummy{}})
	req := new(dns.Msg)
	req.SetQuestion("test.com.", dns.TypeA)
	req.SetEdns0(512, true)
	ch.Reset(w, req)

	ch.Next(context.Background())

	req.Rcode = dns.RcodeSuccess
	err := ch.Writer.WriteMsg(req)
	assert.NoError(t, err)

	data, err := req.Pack()
	assert.NoError(t, err)

	assert.Equal(t, true, ch.Writer.Written())
	assert.Equal(t, dns.RcodeSuccess, ch.Writer.Rcode())

	_, err = ch.Writer.Write(data)
	assert.Equal(t, errAlreadyWritten, err)

	ch.Reset(mock.NewWriter("tcp", "127.0.0.1:0"), req)
	size, err := ch.Writer.Write(data)
	assert.NoError(t, err)
	assert.Equal(t, len(data), size)
	assert.NotNil(t, ch.Writer.Msg())

	err = ch.Writer.WriteMsg(req)
	assert.Equal(t, errAlreadyWritten, err)

	ch.Reset(mock.NewWriter("tcp", "127.0.0.1:0"), req)
	_, err = ch.Writer.Write([]byte{})
	assert.Error(t, err)

	assert.Equal(t, "tcp", ch.Writer.Proto())
	assert.Equal(t, "127.0.0.1", ch.Writer.RemoteIP().String())

	ch.Cancel()
	assert.Equal(t, 0, ch.count)

	ch.Reset(mock.NewWriter("udp", "127.0.0.1:0"), req)
	assert.Equal(t, "udp", ch.Writer.Proto())

	ch.CancelWithRcode(dns.RcodeServerFailure, true)
	assert.True(t, ch.Writer.Written())
	assert.Equal(t, dns.RcodeServerFailure, ch.Writer.Rcode())
	assert.True(t, ch.Writer.Msg().IsEdns0().Do())
	assert.Equal(t, 0, ch.count)
}

func Test_ChainOrder(t *testing.T) {
	var seen []string
	ch := NewChain([]Handler{&recorder{"a", &seen}, &recorder{"b", &seen}, &recorder{"c", &seen}})

	req := new(dns.Msg)
	req.SetQuestion("test.com.", dns.TypeA)
	ch.Reset(mock.NewWriter("doh", "127.0.0.1:0"), req)
	ch.Next(context.Background())

	assert.Equal(t, []string{"a", "b", "c"}, seen)
	assert.Equal(t, "doh", ch.Writer.Proto())

	// a second request starts from the head again
	seen = nil
	ch.Reset(mock.NewWriter("udp", "127.0.0.1:0"), req)
	ch.Next(context.Background())
	assert.Equal(t, []string{"a", "b", "c"}, seen)
}

// tlsWriter is a stream writer on a TLS connection.
type tlsWriter struct {
	dns.ResponseWriter
	state *tls.ConnectionState
}

func (w tlsWriter) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(192, 0, 2, 1), Port: 4000}
}

func (w tlsWriter) ConnectionState() *tls.ConnectionState { return w.state }

func Test_ResponseWriterTransport(t *testing.T) {
	req := new(dns.Msg)
	req.SetQuestion("test.com.", dns.TypeA)

	ch := NewChain(nil)

	ch.Reset(tlsWriter{state: &tls.ConnectionState{}}, req)
	assert.Equal(t, "tls", ch.Writer.Proto())
	assert.Equal(t, "192.0.2.1", ch.Writer.RemoteIP().String())

	ch.Reset(tlsWriter{}, req)
	assert.Equal(t, "tcp", ch.Writer.Proto())

	assert.False(t, ch.Writer.Written())
	assert.Equal(t, dns.RcodeSuccess, ch.Writer.Rcode())
}
