// Package doq serves DNS over QUIC (RFC 9250).
package doq

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/quic-go/quic-go"
	"github.com/semihalev/zlog/v2"
)

var doqProtos = []string{"doq", "doq-i02", "dq", "doq-i00", "doq-i01", "doq-i11"}

const (
	minMsgHeaderSize = 14 // fixed msg header size 12 + quic prefix size 2
	ProtocolError    = 0x2
	NoError          = 0x0
	maxMsgSize       = 65535            // Maximum DNS message size
	tlsMinVersion    = tls.VersionTLS13 // DoQ requires TLS 1.3+
)

// Server implements DNS-over-QUIC server
type Server struct {
	Handler dns.Handler

	// EndpointName, when set, must match the server name a client asks for.
	EndpointName string

	// IdleTimeout closes connections without traffic; 5s when zero.
	IdleTimeout time.Duration

	mu sync.Mutex
	ln *quic.Listener
}

// Message pool for better memory management
var msgPool = sync.Pool{
	New: func() any {
		return new(dns.Msg)
	},
}

func acquireMsg() *dns.Msg {
	return msgPool.Get().(*dns.Msg)
}

func releaseMsg(m *dns.Msg) {
	m.Question = nil
	m.Answer = nil
	m.Ns = nil
	m.Extra = nil
	msgPool.Put(m)
}

// TLSConfig returns a copy of base fit for DoQ.
func TLSConfig(base *tls.Config) *tls.Config {
	conf := base.Clone()
	conf.NextProtos = doqProtos
	conf.MinVersion = tlsMinVersion

	return conf
}

// Serve accepts connections on pc until Shutdown. tlsConf supplies the
// certificate; protocols and version are set here.
func (s *Server) Serve(pc net.PacketConn, tlsConf *tls.Config) error {
	idle := s.IdleTimeout
	if idle <= 0 {
		idle = 5 * time.Second
	}

	quicConfig := &quic.Config{
		MaxIdleTimeout:         idle,
		MaxStreamReceiveWindow: maxMsgSize,
		KeepAlivePeriod:        30 * time.Second,
	}

	listener, err := quic.Listen(pc, TLSConfig(tlsConf), quicConfig)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.ln = listener
	s.mu.Unlock()

	for {
		conn, err := listener.Accept(context.Background())
		if err != nil {
			return err
		}

		go s.handleConnection(conn)
	}
}

// Shutdown closes the listener; Serve then returns quic.ErrServerClosed.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()

	if ln == nil {
		return nil
	}

	err := ln.Close()

	// quic.ErrServerClosed is expected when closing
	if err != nil && !errors.Is(err, quic.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *Server) handleConnection(conn *quic.Conn) {
	if s.EndpointName != "" {
		sni := conn.ConnectionState().TLS.ServerName
		if sni != "" && !strings.EqualFold(dns.Fqdn(sni), dns.Fqdn(s.EndpointName)) {
			zlog.Debug("Unknown endpoint name", "sni", sni, "remote", conn.RemoteAddr().String())
			_ = conn.CloseWithError(ProtocolError, "unknown endpoint")
			return
		}
	}

	for {
		stream, err := conn.AcceptStream(context.Background())
		if err != nil {
			if errors.Is(err, quic.ErrServerClosed) {
				return
			}
			zlog.Debug("Failed to accept stream", "error", err)
			_ = conn.CloseWithError(NoError, "")
			return
		}

		go s.handleStream(conn, stream)
	}
}

func (s *Server) handleStream(conn *quic.Conn, stream *quic.Stream) {
	defer stream.Close()

	// Limit read size to prevent DoS
	limitedReader := io.LimitReader(stream, maxMsgSize)
	buf, err := io.ReadAll(limitedReader)
	if err != nil {
		zlog.Debug("Failed to read stream", "error", err)
		return
	}

	if len(buf) < minMsgHeaderSize {
		zlog.Debug("Message too small", "size", len(buf))
		_ = conn.CloseWithError(ProtocolError, "message too small")
		return
	}

	// Extract message length prefix
	msgLen := binary.BigEndian.Uint16(buf[:2])
	if int(msgLen) != len(buf)-2 {
		zlog.Debug("Message length mismatch", "expected", msgLen, "actual", len(buf)-2)
		_ = conn.CloseWithError(ProtocolError, "length mismatch")
		return
	}

	req := acquireMsg()
	defer releaseMsg(req)

	if err := req.Unpack(buf[2:]); err != nil {
		zlog.Debug("Failed to unpack DNS message", "error", err)
		_ = conn.CloseWithError(ProtocolError, "malformed message")
		return
	}

	// DoQ requests carry id 0, give the handler a real one
	req.Id = dns.Id()

	w := &ResponseWriter{Conn: conn, Stream: stream}
	s.Handler.ServeDNS(w, req)
}
