package recovery

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/miekg/dns"
	"github.com/semihalev/adns/config"
	"github.com/semihalev/adns/middleware"
	"github.com/semihalev/zlog/v2"
)

// Recovery turns a panic further down the chain into SERVFAIL.
type Recovery struct{}

// New return recovery.
func New(*config.Config) *Recovery {
	return &Recovery{}
}

// Name return middleware name.
func (r *Recovery) Name() string { return name }

// ServeDNS implements the Handle interface.
func (r *Recovery) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	defer func() {
		if rec := recover(); rec != nil {
			if !ch.Writer.Written() {
				ch.CancelWithRcode(dns.RcodeServerFailure, false)
			}

			zlog.Error("Recovered in ServeDNS", "recover", rec)

			_, _ = os.Stderr.WriteString(fmt.Sprintf("panic: %v\n\n", rec))
			debug.PrintStack()
		}
	}()

	ch.Next(ctx)
}

const name = "recovery"
