package ratelimit

import (
	"context"
	"net"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/semihalev/adns/config"
	"github.com/semihalev/adns/middleware"
	"golang.org/x/time/rate"
)

type limiter struct {
	rl *rate.Limiter
}

// RateLimit drops queries of clients above client_rate_limit queries per
// minute. Loopback clients are never limited.
type RateLimit struct {
	store *LimiterStore
	rate  int
}

// New return ratelimit
func New(cfg *config.Config) *RateLimit {
	return &RateLimit{
		store: NewLimiterStore(storeSize, cfg.ClientRateLimit),
		rate:  cfg.ClientRateLimit,
	}
}

// Name return middleware name
func (r *RateLimit) Name() string { return name }

// ServeDNS implements the Handle interface.
func (r *RateLimit) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	ip := ch.Writer.RemoteIP()

	if r.rate <= 0 || ip == nil || ip.IsLoopback() {
		ch.Next(ctx)
		return
	}

	if !r.limiter(ip).rl.Allow() {
		// no reply to client
		ch.Cancel()
		return
	}

	ch.Next(ctx)
}

func (r *RateLimit) limiter(ip net.IP) *limiter {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}

	return r.store.Get(xxhash.Sum64(ip))
}

// Cleanup forgets clients idle for longer than olderThan.
func (r *RateLimit) Cleanup(olderThan time.Duration) {
	r.store.Cleanup(olderThan)
}

const (
	storeSize = 256 * 100

	name = "ratelimit"
)
