package server

import (
	"errors"
	"net"
	"net/http"

	"github.com/miekg/dns"
)

var errNotSupported = errors.New("not supported over https")

// httpWriter collects the response of a DoH request so the HTTP handler
// can encode it.
type httpWriter struct {
	msg *dns.Msg

	localAddr  net.Addr
	remoteAddr net.Addr
}

func newHTTPWriter(r *http.Request) *httpWriter {
	w := &httpWriter{
		localAddr:  &net.TCPAddr{},
		remoteAddr: &net.TCPAddr{},
	}

	if addr, ok := r.Context().Value(http.LocalAddrContextKey).(net.Addr); ok {
		w.localAddr = addr
	}

	if addr, err := net.ResolveTCPAddr("tcp", r.RemoteAddr); err == nil {
		w.remoteAddr = addr
	}

	return w
}

func (w *httpWriter) Proto() string { return "doh" }

func (w *httpWriter) LocalAddr() net.Addr  { return w.localAddr }
func (w *httpWriter) RemoteAddr() net.Addr { return w.remoteAddr }

func (w *httpWriter) WriteMsg(m *dns.Msg) error {
	w.msg = m
	return nil
}

func (w *httpWriter) Write(b []byte) (int, error) {
	m := new(dns.Msg)
	if err := m.Unpack(b); err != nil {
		return 0, err
	}
	w.msg = m
	return len(b), nil
}

func (w *httpWriter) Close() error        { return nil }
func (w *httpWriter) TsigStatus() error   { return errNotSupported }
func (w *httpWriter) TsigTimersOnly(bool) {}
func (w *httpWriter) Hijack()             {}
