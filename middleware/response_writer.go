package middleware

import (
	"errors"
	"net"

	"github.com/miekg/dns"
)

// ResponseWriter is the writer handlers of a chain share. It keeps the
// response so later handlers can look at what was answered.
type ResponseWriter interface {
	dns.ResponseWriter
	Msg() *dns.Msg
	Rcode() int
	Written() bool
	Reset(dns.ResponseWriter)
	Proto() string
	RemoteIP() net.IP
}

// protoWriter is implemented by writers whose transport cannot be told
// from their addresses, DoH and DoQ.
type protoWriter interface {
	Proto() string
}

var errAlreadyWritten = errors.New("msg already written")

type responseWriter struct {
	dns.ResponseWriter

	msg      *dns.Msg
	proto    string
	remoteip net.IP
}

var _ ResponseWriter = (*responseWriter)(nil)

func (w *responseWriter) Reset(rw dns.ResponseWriter) {
	*w = responseWriter{ResponseWriter: rw, proto: transport(rw)}

	switch addr := rw.RemoteAddr().(type) {
	case *net.TCPAddr:
		w.remoteip = addr.IP
	case *net.UDPAddr:
		w.remoteip = addr.IP
	}
}

// transport names the protocol rw answers on: udp, tcp, tls or what the
// writer reports itself.
func transport(rw dns.ResponseWriter) string {
	if p, ok := rw.(protoWriter); ok {
		return p.Proto()
	}

	if cs, ok := rw.(dns.ConnectionStater); ok && cs.ConnectionState() != nil {
		return "tls"
	}

	if _, ok := rw.RemoteAddr().(*net.UDPAddr); ok {
		return "udp"
	}

	return "tcp"
}

func (w *responseWriter) Msg() *dns.Msg    { return w.msg }
func (w *responseWriter) Written() bool    { return w.msg != nil }
func (w *responseWriter) Proto() string    { return w.proto }
func (w *responseWriter) RemoteIP() net.IP { return w.remoteip }

// Rcode is NOERROR until a response is written.
func (w *responseWriter) Rcode() int {
	if w.msg == nil {
		return dns.RcodeSuccess
	}
	return w.msg.Rcode
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if w.Written() {
		return 0, errAlreadyWritten
	}

	m := new(dns.Msg)
	if err := m.Unpack(b); err != nil {
		return 0, err
	}
	w.msg = m

	return w.ResponseWriter.Write(b)
}

func (w *responseWriter) WriteMsg(m *dns.Msg) error {
	if w.Written() {
		return errAlreadyWritten
	}
	w.msg = m

	return w.ResponseWriter.WriteMsg(m)
}
