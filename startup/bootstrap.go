package startup

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/semihalev/adns/config"
	"github.com/semihalev/adns/logging"
	"github.com/semihalev/adns/server"
)

// ErrCertificate is returned when the certificate of an encrypted listener
// cannot be loaded.
var ErrCertificate = errors.New("certificate load failed")

// Registrar takes ownership of bound sockets.
type Registrar interface {
	RegisterSocket(pc net.PacketConn) error
	RegisterListener(ln net.Listener, timeout time.Duration) error
	RegisterTLSListener(ln net.Listener, timeout time.Duration, cm *server.CertManager) error
	RegisterHTTPSListener(ln net.Listener, timeout time.Duration, cm *server.CertManager, path string) error
	RegisterQUICListener(pc net.PacketConn, timeout time.Duration, cm *server.CertManager) error
}

// Bootstrapper binds the sockets of a plan and hands them to a Registrar.
type Bootstrapper struct {
	ListenUDP       func(ip net.IP, port uint16) (net.PacketConn, error)
	ListenTCP       func(ip net.IP, port uint16) (net.Listener, error)
	LoadCertificate func(cfg *config.TLSCertConfig, dir string) (*server.CertManager, error)

	log logging.Logger
}

// NewBootstrapper returns a bootstrapper using the server socket builders.
func NewBootstrapper(log logging.Logger) *Bootstrapper {
	if log == nil {
		log = logging.Default()
	}

	return &Bootstrapper{
		ListenUDP:       server.ListenUDP,
		ListenTCP:       server.ListenTCP,
		LoadCertificate: server.LoadCertificate,
		log:             log,
	}
}

// Bootstrap binds every active transport on every address of plan, one at
// a time in transport order, and returns how many listeners were
// registered. The first failure stops it; sockets registered before that
// belong to reg.
func (b *Bootstrapper) Bootstrap(plan *Plan, reg Registrar) (int, error) {
	var bound int

	for _, t := range Transports {
		if t.Encrypted() && plan.TLSCert == nil {
			b.log.Info("TLS certificates are not provided")
			b.log.Info("TLS related protocols (TLS, HTTPS and QUIC) are disabled")
			break
		}

		if !plan.Active(t) {
			b.log.Info(t.String() + " protocol is disabled")
			continue
		}

		if t.Encrypted() && len(plan.Addrs) == 0 {
			b.log.Warn("A tls certificate was specified, but no "+t.String()+" addresses configured to listen on", "transport", t.String())
			continue
		}

		for _, ip := range plan.Addrs {
			if err := b.bind(t, ip, plan, reg); err != nil {
				return bound, err
			}
			bound++
		}
	}

	return bound, nil
}

func (b *Bootstrapper) bind(t Transport, ip net.IP, plan *Plan, reg Registrar) error {
	port := plan.Ports[t]
	addr := server.SocketAddr(ip, port)

	b.log.Info("Binding "+t.String(), "addr", addr)

	var cm *server.CertManager
	if t.Encrypted() {
		var err error
		if cm, err = b.LoadCertificate(plan.TLSCert, plan.CertDir); err != nil {
			return fmt.Errorf("%w: %s %s: %w", ErrCertificate, t, addr, err)
		}
	}

	var (
		sock  io.Closer
		local net.Addr
		err   error
	)

	switch t {
	case UDP, QUIC:
		var pc net.PacketConn
		if pc, err = b.ListenUDP(ip, port); err == nil {
			sock, local = pc, pc.LocalAddr()
			if t == UDP {
				err = reg.RegisterSocket(pc)
			} else {
				err = reg.RegisterQUICListener(pc, plan.Timeout, cm)
			}
		}

	case TCP, TLS, HTTPS:
		var ln net.Listener
		if ln, err = b.ListenTCP(ip, port); err == nil {
			sock, local = ln, ln.Addr()
			switch t {
			case TCP:
				err = reg.RegisterListener(ln, plan.Timeout)
			case TLS:
				err = reg.RegisterTLSListener(ln, plan.Timeout, cm)
			default:
				err = reg.RegisterHTTPSListener(ln, plan.Timeout, cm, plan.Endpoint)
			}
		}
	}

	if err != nil {
		// the registrar did not take the socket
		if sock != nil {
			_ = sock.Close()
		}
		if cm != nil {
			cm.Stop()
		}
		return fmt.Errorf("%s listener %s: %w", t, addr, err)
	}

	b.log.Info("Listening for "+t.String(), "addr", local.String())

	return nil
}
