package metrics

import (
	"context"

	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/semihalev/adns/middleware"
)

// Metrics counts answered queries.
type Metrics struct {
	queries *prometheus.CounterVec
}

// New registers the query counter on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dns_queries_total",
				Help: "How many DNS queries processed",
			},
			[]string{"proto", "qtype", "rcode"},
		),
	}

	if err := reg.Register(m.queries); err != nil {
		return nil, err
	}

	return m, nil
}

// Name return middleware name
func (m *Metrics) Name() string { return name }

// ServeDNS implements the Handle interface.
func (m *Metrics) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	ch.Next(ctx)

	if !ch.Writer.Written() || len(ch.Request.Question) == 0 {
		return
	}

	m.queries.With(
		prometheus.Labels{
			"proto": ch.Writer.Proto(),
			"qtype": dns.TypeToString[ch.Request.Question[0].Qtype],
			"rcode": dns.RcodeToString[ch.Writer.Rcode()],
		}).Inc()
}

const name = "metrics"
