package metrics

import (
	"context"
	"testing"

	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/semihalev/adns/middleware"
	"github.com/semihalev/adns/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type refuse struct{}

func (refuse) Name() string { return "refuse" }
func (refuse) ServeDNS(_ context.Context, ch *middleware.Chain) {
	ch.CancelWithRcode(dns.RcodeRefused, false)
}

func counter(t *testing.T, m *Metrics, labels ...string) float64 {
	t.Helper()

	var metric dto.Metric
	require.NoError(t, m.queries.WithLabelValues(labels...).Write(&metric))

	return metric.GetCounter().GetValue()
}

func Test_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()

	m, err := New(reg)
	require.NoError(t, err)
	assert.Equal(t, "metrics", m.Name())

	_, err = New(reg)
	assert.Error(t, err)

	req := new(dns.Msg)
	req.SetQuestion("test.com.", dns.TypeA)

	// nothing written, nothing counted
	ch := middleware.NewChain([]middleware.Handler{m})
	ch.Reset(mock.NewWriter("udp", "127.0.0.1:0"), req)
	ch.Next(context.Background())

	ch = middleware.NewChain([]middleware.Handler{m, refuse{}})
	for i := 0; i < 3; i++ {
		ch.Reset(mock.NewWriter("tcp", "127.0.0.1:0"), req)
		ch.Next(context.Background())
	}

	assert.Equal(t, float64(3), counter(t, m, "tcp", "A", "REFUSED"))
	assert.Equal(t, float64(0), counter(t, m, "udp", "A", "REFUSED"))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "dns_queries_total", families[0].GetName())
}
