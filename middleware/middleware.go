// Package middleware runs every request through an ordered chain of
// handlers ending at the authority catalog.
package middleware

import (
	"context"
	"errors"
	"sync"

	"github.com/semihalev/adns/config"
	"github.com/semihalev/zlog/v2"
)

// Handler is one step of the chain.
type Handler interface {
	Name() string
	ServeDNS(context.Context, *Chain)
}

type handler struct {
	name string
	new  func(*config.Config) (Handler, error)
}

// Registry builds the handlers of a server from the config, in
// registration order.
type Registry struct {
	mu sync.RWMutex

	handlers []handler
	built    []Handler
	setup    bool
}

// Register a middleware
func (r *Registry) Register(name string, new func(*config.Config) (Handler, error)) {
	zlog.Debug("Register middleware", "name", name)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, handler{name: name, new: new})
}

// Setup handlers
func (r *Registry) Setup(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.setup {
		return errors.New("setup already done")
	}

	for _, h := range r.handlers {
		built, err := h.new(cfg)
		if err != nil {
			r.built = nil
			return err
		}
		r.built = append(r.built, built)
	}

	r.setup = true

	return nil
}

// Handlers return built handlers
func (r *Registry) Handlers() []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]Handler(nil), r.built...)
}

// List return names of handlers
func (r *Registry) List() (list []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, h := range r.handlers {
		list = append(list, h.name)
	}

	return list
}

// Get return a handler by name
func (r *Registry) Get(name string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i, h := range r.handlers {
		if h.name == name {
			if len(r.built) <= i {
				return nil
			}
			return r.built[i]
		}
	}

	return nil
}
