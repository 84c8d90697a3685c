package startup

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/semihalev/adns/config"
	"github.com/semihalev/adns/middleware"
	"github.com/semihalev/adns/middleware/accesslist"
	"github.com/semihalev/adns/middleware/accesslog"
	"github.com/semihalev/adns/middleware/chaos"
	"github.com/semihalev/adns/middleware/metrics"
	"github.com/semihalev/adns/middleware/ratelimit"
	"github.com/semihalev/adns/middleware/recovery"
)

// Middlewares returns the registry of the request chain, in serving order.
// Query metrics are registered on reg.
func Middlewares(reg prometheus.Registerer) *middleware.Registry {
	r := new(middleware.Registry)

	r.Register("recovery", func(cfg *config.Config) (middleware.Handler, error) {
		return recovery.New(cfg), nil
	})
	r.Register("metrics", func(*config.Config) (middleware.Handler, error) {
		return metrics.New(reg)
	})
	r.Register("accesslog", func(cfg *config.Config) (middleware.Handler, error) {
		return accesslog.New(cfg)
	})
	r.Register("accesslist", func(cfg *config.Config) (middleware.Handler, error) {
		return accesslist.New(cfg)
	})
	r.Register("ratelimit", func(cfg *config.Config) (middleware.Handler, error) {
		return ratelimit.New(cfg), nil
	})
	r.Register("chaos", func(cfg *config.Config) (middleware.Handler, error) {
		return chaos.New(cfg), nil
	})

	return r
}
