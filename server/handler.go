package server

import (
	"context"

	"github.com/miekg/dns"
	"github.com/semihalev/adns/authority"
	"github.com/semihalev/adns/middleware"
	"github.com/semihalev/zlog/v2"
)

// resolve is the last handler of every chain.
type resolve struct {
	catalog *authority.Catalog
}

func (r *resolve) Name() string { return "resolve" }

func (r *resolve) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	w, req := ch.Writer, ch.Request

	wire := ch.Wire
	if wire == nil && req.Opcode == dns.OpcodeUpdate {
		// update signatures cover the request as sent; clients do not
		// compress updates so packing again gives the same bytes
		packed, err := req.Pack()
		if err == nil {
			wire = packed
		}
	}

	resp := r.catalog.Resolve(ctx, req, wire)

	if w.Proto() == "udp" {
		size := dns.MinMsgSize
		if opt := req.IsEdns0(); opt != nil && int(opt.UDPSize()) > size {
			size = int(opt.UDPSize())
		}
		resp.Truncate(size)
	}

	if err := w.WriteMsg(resp); err != nil {
		zlog.Debug("Response write failed", "net", w.Proto(), "client", w.RemoteAddr().String(), "error", err.Error())
	}
}
