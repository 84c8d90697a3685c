package middleware

import (
	"context"

	"github.com/miekg/dns"
)

// Chain type.
type Chain struct {
	Writer  ResponseWriter
	Request *dns.Msg

	// Wire is the packed request when the transport kept it.
	Wire []byte

	handlers []Handler

	head  int
	count int
}

// NewChain return new fresh chain.
func NewChain(handlers []Handler) *Chain {
	return &Chain{
		Writer:   &responseWriter{},
		handlers: handlers,
		count:    len(handlers),
	}
}

// Next calls the next handler in the chain.
func (ch *Chain) Next(ctx context.Context) {
	if ch.count == 0 {
		return
	}

	handler := ch.handlers[ch.head]
	ch.head = (ch.head + 1) % len(ch.handlers)
	ch.count--

	handler.ServeDNS(ctx, ch)
}

// Cancel stops the chain without a reply.
func (ch *Chain) Cancel() {
	ch.count = 0
}

// CancelWithRcode stops the chain and replies with rcode.
func (ch *Chain) CancelWithRcode(rcode int, do bool) {
	m := new(dns.Msg)
	m.SetRcode(ch.Request, rcode)

	if opt := ch.Request.IsEdns0(); opt != nil {
		m.SetEdns0(dns.DefaultMsgSize, do)
	}

	_ = ch.Writer.WriteMsg(m)

	ch.count = 0
}

// Reset prepares the chain for the next request.
func (ch *Chain) Reset(w dns.ResponseWriter, r *dns.Msg) {
	ch.Writer.Reset(w)
	ch.Request = r
	ch.Wire = nil
	ch.count = len(ch.handlers)
	ch.head = 0
}
