package middleware

import (
	"context"
	"errors"
	"testing"

	"github.com/semihalev/adns/config"
	"github.com/stretchr/testify/assert"
)

type dummy struct{}

func (d *dummy) ServeDNS(ctx context.Context, ch *Chain) { ch.Next(ctx) }
func (d *dummy) Name() string                             { return "dummy" }

type recorder struct {
	name string
	seen *[]string
}

func (r *recorder) Name() string { return r.name }
func (r *recorder) ServeDNS(ctx context.Context, ch *Chain) {
	*r.seen = append(*r.seen, r.name)
	ch.Next(ctx)
}

func Test_Middleware(t *testing.T) {
	r := new(Registry)
	r.Register("dummy", func(*config.Config) (Handler, error) {
		return &dummy{}, nil
	})

	d := r.Get("dummy")
	assert.Nil(t, d)

	assert.Error(t, r.Setup(nil))

	cfg := &config.Config{}

	err := r.Setup(cfg)
	assert.NoError(t, err)

	err = r.Setup(cfg)
	assert.Error(t, err)

	assert.Equal(t, []string{"dummy"}, r.List())
	assert.Len(t, r.Handlers(), 1)

	d = r.Get("dummy")
	assert.NotNil(t, d)

	d = r.Get("none")
	assert.Nil(t, d)
}

func Test_MiddlewareSetupError(t *testing.T) {
	r := new(Registry)
	r.Register("dummy", func(*config.Config) (Handler, error) { return &dummy{}, nil })
	r.Register("broken", func(*config.Config) (Handler, error) { return nil, errors.New("bad config") })

	assert.EqualError(t, r.Setup(&config.Config{}), "bad config")
	assert.Empty(t, r.Handlers())
}
