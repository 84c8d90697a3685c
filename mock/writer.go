package mock

import (
	"net"

	"github.com/miekg/dns"
)

// Writer is a dns.ResponseWriter that records every message handlers
// write to it.
type Writer struct {
	proto  string
	local  net.Addr
	remote net.Addr

	msgs []*dns.Msg
}

// NewWriter returns a writer serving the client at addr over proto, which
// is udp, tcp or a name such as doh the writer reports as its transport.
func NewWriter(proto, addr string) *Writer {
	w := &Writer{proto: proto}

	if proto == "udp" {
		w.local = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 53}
		if raddr, err := net.ResolveUDPAddr("udp", addr); err == nil {
			w.remote = raddr
		}
		return w
	}

	w.local = &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 53}
	if raddr, err := net.ResolveTCPAddr("tcp", addr); err == nil {
		w.remote = raddr
	}

	return w
}

// Msg returns the last message written, nil if none was.
func (w *Writer) Msg() *dns.Msg {
	if len(w.msgs) == 0 {
		return nil
	}
	return w.msgs[len(w.msgs)-1]
}

// Msgs returns every message written, oldest first.
func (w *Writer) Msgs() []*dns.Msg { return w.msgs }

// Written reports whether anything was written.
func (w *Writer) Written() bool { return len(w.msgs) > 0 }

// Rcode returns the code of the last message, SERVFAIL before any.
func (w *Writer) Rcode() int {
	if m := w.Msg(); m != nil {
		return m.Rcode
	}
	return dns.RcodeServerFailure
}

func (w *Writer) Write(b []byte) (int, error) {
	m := new(dns.Msg)
	if err := m.Unpack(b); err != nil {
		return 0, err
	}
	w.msgs = append(w.msgs, m)
	return len(b), nil
}

func (w *Writer) WriteMsg(m *dns.Msg) error {
	w.msgs = append(w.msgs, m)
	return nil
}

// Proto reports the transport given to NewWriter.
func (w *Writer) Proto() string { return w.proto }

func (w *Writer) LocalAddr() net.Addr  { return w.local }
func (w *Writer) RemoteAddr() net.Addr { return w.remote }
func (w *Writer) Close() error         { return nil }
func (w *Writer) TsigStatus() error    { return nil }
func (w *Writer) TsigTimersOnly(bool)  {}
func (w *Writer) Hijack()              {}
