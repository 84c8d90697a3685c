// Package server is the engine every listener of the process is registered
// with. Requests from all transports run through the same middleware chain
// and end at the authority catalog.
package server

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	l "log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/quic-go/quic-go"
	"github.com/semihalev/adns/authority"
	"github.com/semihalev/adns/middleware"
	"github.com/semihalev/adns/server/doh"
	"github.com/semihalev/adns/server/doq"
	"github.com/semihalev/zlog/v2"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrBind is returned when a listening socket cannot be created.
	ErrBind = errors.New("bind failed")

	// ErrRegistration is returned when the engine refuses a listener.
	ErrRegistration = errors.New("listener registration failed")
)

const maxTCPQueries = 2048

// listener is one registered socket with its serve loop.
type listener struct {
	transport string
	addr      net.Addr

	serve    func() error
	shutdown func(context.Context) error
	closer   io.Closer
	cm       *CertManager
}

// Server type
type Server struct {
	catalog  *authority.Catalog
	handlers []middleware.Handler

	chainPool sync.Pool

	active *prometheus.GaugeVec

	mu        sync.Mutex
	listeners []*listener
	running   bool
	closed    bool
}

// New returns an engine answering from catalog after running handlers.
// reg may be nil.
func New(catalog *authority.Catalog, handlers []middleware.Handler, reg prometheus.Registerer) (*Server, error) {
	s := &Server{
		catalog:  catalog,
		handlers: handlers,
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dns_listeners",
			Help: "Listeners registered with the server",
		}, []string{"transport"}),
	}

	if reg != nil {
		if err := reg.Register(s.active); err != nil {
			return nil, err
		}
	}

	chain := append(append([]middleware.Handler(nil), handlers...), &resolve{catalog: catalog})

	s.chainPool.New = func() any {
		return middleware.NewChain(chain)
	}

	return s, nil
}

// ServeDNS implements the Handle interface.
func (s *Server) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	s.serve(context.Background(), w, r, nil)
}

func (s *Server) serve(ctx context.Context, w dns.ResponseWriter, r *dns.Msg, wire []byte) {
	ch := s.chainPool.Get().(*middleware.Chain)

	ch.Reset(w, r)
	ch.Wire = wire

	ch.Next(ctx)

	s.chainPool.Put(ch)
}

func (s *Server) handleDoH(endpoint string) doh.Handle {
	return func(r *http.Request, req *dns.Msg, wire []byte) *dns.Msg {
		if endpoint != "" && r.TLS != nil && r.TLS.ServerName != "" &&
			!strings.EqualFold(dns.Fqdn(r.TLS.ServerName), dns.Fqdn(endpoint)) {
			zlog.Debug("Unknown endpoint name", "sni", r.TLS.ServerName, "remote", r.RemoteAddr)
			return nil
		}

		w := newHTTPWriter(r)
		s.serve(r.Context(), w, req, wire)

		return w.msg
	}
}

// register adds a listener unless the engine already runs.
func (s *Server) register(ln *listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running || s.closed {
		return fmt.Errorf("%w: %s %s: server already started", ErrRegistration, ln.transport, ln.addr)
	}

	s.listeners = append(s.listeners, ln)
	s.active.WithLabelValues(ln.transport).Inc()

	return nil
}

// RegisterSocket serves plain DNS on a bound UDP socket.
func (s *Server) RegisterSocket(pc net.PacketConn) error {
	if pc == nil {
		return fmt.Errorf("%w: udp: nil socket", ErrRegistration)
	}

	srv := &dns.Server{PacketConn: pc, Net: "udp", Handler: s}

	return s.register(&listener{
		transport: "udp",
		addr:      pc.LocalAddr(),
		closer:    pc,
		serve:     srv.ActivateAndServe,
		shutdown:  srv.ShutdownContext,
	})
}

// RegisterListener serves plain DNS on a TCP listener.
func (s *Server) RegisterListener(ln net.Listener, timeout time.Duration) error {
	if ln == nil {
		return fmt.Errorf("%w: tcp: nil listener", ErrRegistration)
	}

	srv := s.streamServer(ln, "tcp", timeout)

	return s.register(&listener{
		transport: "tcp",
		addr:      ln.Addr(),
		closer:    ln,
		serve:     srv.ActivateAndServe,
		shutdown:  srv.ShutdownContext,
	})
}

// RegisterTLSListener serves DNS over TLS on a TCP listener.
func (s *Server) RegisterTLSListener(ln net.Listener, timeout time.Duration, cm *CertManager) error {
	if ln == nil || cm == nil {
		return fmt.Errorf("%w: tls: listener and certificate required", ErrRegistration)
	}

	srv := s.streamServer(tls.NewListener(ln, cm.GetTLSConfig()), "tcp-tls", timeout)

	return s.register(&listener{
		transport: "tls",
		addr:      ln.Addr(),
		closer:    ln,
		serve:     srv.ActivateAndServe,
		shutdown:  srv.ShutdownContext,
		cm:        cm,
	})
}

func (s *Server) streamServer(ln net.Listener, network string, timeout time.Duration) *dns.Server {
	return &dns.Server{
		Listener:      ln,
		Net:           network,
		Handler:       s,
		ReadTimeout:   timeout,
		WriteTimeout:  timeout,
		IdleTimeout:   func() time.Duration { return timeout },
		MaxTCPQueries: maxTCPQueries,
	}
}

// RegisterHTTPSListener serves DNS over HTTPS on path. The endpoint name
// of cm, when set, must match the name clients ask for.
func (s *Server) RegisterHTTPSListener(ln net.Listener, timeout time.Duration, cm *CertManager, path string) error {
	if ln == nil || cm == nil {
		return fmt.Errorf("%w: https: listener and certificate required", ErrRegistration)
	}

	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("%w: https %s: endpoint path %q must start with /", ErrRegistration, ln.Addr(), path)
	}

	logReader, logWriter := io.Pipe()

	srv := &http.Server{
		Handler:      doh.NewHandler(path, s.handleDoH(cm.EndpointName)),
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		TLSConfig:    cm.HTTPSConfig(),
		ErrorLog:     l.New(logWriter, "", 0),
	}

	err := s.register(&listener{
		transport: "https",
		addr:      ln.Addr(),
		closer:    ln,
		serve: func() error {
			err := srv.ServeTLS(ln, "", "")
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		},
		shutdown: func(ctx context.Context) error {
			defer logWriter.Close()
			return srv.Shutdown(ctx)
		},
		cm: cm,
	})
	if err != nil {
		logWriter.Close()
		return err
	}

	go readlogs(logReader, "https")

	return nil
}

// RegisterQUICListener serves DNS over QUIC on a bound UDP socket.
func (s *Server) RegisterQUICListener(pc net.PacketConn, timeout time.Duration, cm *CertManager) error {
	if pc == nil || cm == nil {
		return fmt.Errorf("%w: quic: socket and certificate required", ErrRegistration)
	}

	srv := &doq.Server{Handler: s, EndpointName: cm.EndpointName, IdleTimeout: timeout}

	return s.register(&listener{
		transport: "quic",
		addr:      pc.LocalAddr(),
		closer:    pc,
		serve: func() error {
			err := srv.Serve(pc, cm.GetTLSConfig())
			if errors.Is(err, quic.ErrServerClosed) {
				return nil
			}
			return err
		},
		shutdown: func(context.Context) error {
			return srv.Shutdown()
		},
		cm: cm,
	})
}

// RegisterHTTPHandler serves h in plain HTTP on ln, used for metrics.
func (s *Server) RegisterHTTPHandler(ln net.Listener, h http.Handler) error {
	if ln == nil || h == nil {
		return fmt.Errorf("%w: http: listener and handler required", ErrRegistration)
	}

	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}

	return s.register(&listener{
		transport: "http",
		addr:      ln.Addr(),
		closer:    ln,
		serve: func() error {
			err := srv.Serve(ln)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		},
		shutdown: srv.Shutdown,
	})
}

// Listeners describes the registered listeners, "transport addr" each.
func (s *Server) Listeners() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for _, ln := range s.listeners {
		out = append(out, ln.transport+" "+ln.addr.String())
	}
	return out
}

// Run serves every registered listener until ctx is done or one of them
// fails. It returns the first serve error, nil on a clean stop.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running || s.closed {
		s.mu.Unlock()
		return errors.New("server already started")
	}
	s.running = true
	listeners := append([]*listener(nil), s.listeners...)
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	for _, ln := range listeners {
		g.Go(func() error {
			zlog.Info("DNS server listening...", "net", ln.transport, "addr", ln.addr.String())

			err := ln.serve()
			if gctx.Err() != nil {
				// errors of a closing socket are expected now
				return nil
			}

			if err != nil {
				return fmt.Errorf("%s listener %s: %w", ln.transport, ln.addr, err)
			}

			return fmt.Errorf("%s listener %s stopped unexpectedly", ln.transport, ln.addr)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.shutdown(listeners)
		return nil
	})

	return g.Wait()
}

// Close releases the listeners of an engine that never ran.
func (s *Server) Close() {
	s.mu.Lock()
	if s.running || s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	listeners := s.listeners
	s.mu.Unlock()

	s.shutdown(listeners)
}

func (s *Server) shutdown(listeners []*listener) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, ln := range listeners {
		if err := ln.shutdown(ctx); err != nil {
			zlog.Debug("Listener shutdown failed", "net", ln.transport, "addr", ln.addr.String(), "error", err.Error())
		}

		// a serve loop that had not started yet sees the socket go away
		_ = ln.closer.Close()

		if ln.cm != nil {
			ln.cm.Stop()
		}

		s.active.WithLabelValues(ln.transport).Dec()
	}

	// handlers holding files, the access log
	for _, h := range s.handlers {
		if c, ok := h.(io.Closer); ok {
			if err := c.Close(); err != nil {
				zlog.Warn("Middleware close failed", "name", h.Name(), "error", err.Error())
			}
		}
	}
}

// readlogs forwards the error log of an http.Server to zlog.
func readlogs(rd io.Reader, network string) {
	buf := bufio.NewReader(rd)
	for {
		line, err := buf.ReadBytes('\n')
		if err != nil {
			return
		}

		parts := strings.SplitN(strings.TrimSpace(string(line)), " ", 2)
		if len(parts) > 1 {
			zlog.Warn("Client http socket failed", "net", network, "error", parts[1])
		}
	}
}
