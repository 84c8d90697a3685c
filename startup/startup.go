// Package startup brings the name server up: zones are resolved into the
// catalog, the transports are bound, privileges are dropped and the engine
// serves until the context ends.
package startup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/semihalev/adns/authority"
	"github.com/semihalev/adns/config"
	"github.com/semihalev/adns/logging"
	"github.com/semihalev/adns/privdrop"
	"github.com/semihalev/adns/server"
	"github.com/semihalev/adns/zones"
)

// ErrEngineRuntime wraps a failure of the engine after serving began.
var ErrEngineRuntime = errors.New("engine runtime error")

// State is a step of the startup lifecycle.
type State int

// Lifecycle states, in the order they are reached.
const (
	Configured State = iota
	ZonesResolved
	CatalogPopulated
	TransportsBound
	PrivilegesDropped
	Serving
	Stopped
	Fatal
)

var stateNames = [...]string{
	Configured:        "configured",
	ZonesResolved:     "zones resolved",
	CatalogPopulated:  "catalog populated",
	TransportsBound:   "transports bound",
	PrivilegesDropped: "privileges dropped",
	Serving:           "serving",
	Stopped:           "stopped",
	Fatal:             "fatal",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// ZoneResolver turns one configured zone into its authorities.
type ZoneResolver interface {
	Resolve(ctx context.Context, zc *config.ZoneConfig) ([]authority.Authority, error)
}

// Engine serves the registered listeners.
type Engine interface {
	Registrar
	RegisterHTTPHandler(ln net.Listener, h http.Handler) error
	Listeners() []string
	Run(ctx context.Context) error
	Close()
}

// Dropper performs the one-way privilege transition.
type Dropper interface {
	Drop(user, group string) (privdrop.Identity, error)
}

// Orchestrator drives a single startup. It is not reusable.
type Orchestrator struct {
	Resolver     ZoneResolver
	Bootstrapper *Bootstrapper
	Privileges   Dropper

	// NewEngine builds the engine serving catalog.
	NewEngine func(cfg *config.Config, catalog *authority.Catalog, reg prometheus.Registerer) (Engine, error)

	// ListenMetrics binds the metrics address.
	ListenMetrics func(addr string) (net.Listener, error)

	cfg      *config.Config
	opts     Options
	log      logging.Logger
	registry *prometheus.Registry

	mu      sync.Mutex
	state   State
	catalog *authority.Catalog
	started bool
	dropped bool
}

// New returns an orchestrator for cfg with the production collaborators.
func New(cfg *config.Config, opts Options, log logging.Logger) *Orchestrator {
	if log == nil {
		log = logging.Default()
	}

	return &Orchestrator{
		Resolver:      zones.NewResolver(ZoneDir(cfg, opts), log),
		Bootstrapper:  NewBootstrapper(log),
		Privileges:    privdrop.New(log),
		NewEngine:     NewEngine,
		ListenMetrics: listenMetrics,

		cfg:      cfg,
		opts:     opts,
		log:      log,
		registry: prometheus.NewRegistry(),
		catalog:  authority.NewCatalog(),
	}
}

// NewEngine builds the server with the middleware chain of cfg.
func NewEngine(cfg *config.Config, catalog *authority.Catalog, reg prometheus.Registerer) (Engine, error) {
	mw := Middlewares(reg)
	if err := mw.Setup(cfg); err != nil {
		return nil, err
	}

	return server.New(catalog, mw.Handlers(), reg)
}

func listenMetrics(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: metrics %s: %w", server.ErrBind, addr, err)
	}
	return ln, nil
}

// State returns the state reached so far.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()

	o.log.Debug("Startup state changed", "state", s.String())
}

// Catalog returns the catalog being populated.
func (o *Orchestrator) Catalog() *authority.Catalog {
	return o.catalog
}

// Run goes through the whole lifecycle. It returns nil after a validate
// only run or a clean stop when ctx ends. Errors before serving are startup
// failures; an engine failure afterwards is wrapped in ErrEngineRuntime.
func (o *Orchestrator) Run(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			o.setState(Fatal)
		}
	}()

	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return errors.New("startup already run")
	}
	o.started = true
	o.mu.Unlock()

	defer o.closeAuthorities()

	if err := o.populateCatalog(ctx); err != nil {
		return err
	}

	plan, err := NewPlan(o.cfg, o.opts)
	if err != nil {
		return fmt.Errorf("failed to parse listen addresses: %w", err)
	}

	if o.opts.ValidateOnly {
		o.log.Info("Configuration files are validated", "zones", o.catalog.Len())
		o.setState(Stopped)
		return nil
	}

	engine, err := o.NewEngine(o.cfg, o.catalog, o.registry)
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}

	if err := o.bind(plan, engine); err != nil {
		engine.Close()
		return err
	}

	if err := o.dropPrivileges(); err != nil {
		engine.Close()
		return err
	}

	o.banner()
	o.log.Info("Server starting up, awaiting connections...", "version", o.cfg.ServerVersion(), "listeners", len(engine.Listeners()))
	o.setState(Serving)

	if err := engine.Run(ctx); err != nil {
		o.log.Error("Server has encountered an error", "version", o.cfg.ServerVersion(), "error", err.Error())
		return fmt.Errorf("%w: %w", ErrEngineRuntime, err)
	}

	o.log.Info("Server stopping", "version", o.cfg.ServerVersion())
	o.setState(Stopped)

	return nil
}

// populateCatalog resolves the zones one after the other, in config order,
// and seals the catalog. The first failing zone fails startup.
func (o *Orchestrator) populateCatalog(ctx context.Context) error {
	for i := range o.cfg.Zones {
		zc := &o.cfg.Zones[i]

		name, err := zc.Name()
		if err != nil {
			return fmt.Errorf("%w: zones[%d]: %w", zones.ErrConfigResolution, i, err)
		}

		auths, err := o.Resolver.Resolve(ctx, zc)
		if err != nil {
			return fmt.Errorf("could not load zone %s: %w", name, err)
		}

		if err := o.catalog.Upsert(name, auths); err != nil {
			return err
		}

		o.log.Info("Zone loaded", "zone", name, "authorities", len(auths))
	}

	o.setState(ZonesResolved)

	o.catalog.Seal()
	o.setState(CatalogPopulated)

	return nil
}

// bind registers every listener of plan and the metrics endpoint.
func (o *Orchestrator) bind(plan *Plan, engine Engine) error {
	if _, err := o.Bootstrapper.Bootstrap(plan, engine); err != nil {
		return err
	}

	if o.cfg.Metrics != "" {
		ln, err := o.ListenMetrics(o.cfg.Metrics)
		if err != nil {
			return err
		}

		h := promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{})
		if err := engine.RegisterHTTPHandler(ln, h); err != nil {
			ln.Close()
			return err
		}

		o.log.Info("Metrics listening", "addr", ln.Addr().String())
	}

	o.setState(TransportsBound)

	return nil
}

// dropPrivileges is the only caller of Privileges.Drop.
func (o *Orchestrator) dropPrivileges() error {
	o.mu.Lock()
	if o.dropped {
		o.mu.Unlock()
		return privdrop.ErrAlreadyDropped
	}
	o.dropped = true
	o.mu.Unlock()

	id, err := o.Privileges.Drop(o.cfg.User, o.cfg.Group)
	if err != nil {
		return err
	}

	o.log.Info("Running as", "identity", id.String())
	o.setState(PrivilegesDropped)

	return nil
}

const logo = `            _
   __ _  __| |_ __  ___
  / _' |/ _' | '_ \/ __|
 | (_| | (_| | | | \__ \
  \__,_|\__,_|_| |_|___/`

func (o *Orchestrator) banner() {
	o.log.Info("")
	for _, line := range strings.Split(logo, "\n") {
		o.log.Info(" " + line)
	}
	o.log.Info("")
}

func (o *Orchestrator) closeAuthorities() {
	for _, name := range o.catalog.Zones() {
		for _, a := range o.catalog.Get(name) {
			if c, ok := a.(io.Closer); ok {
				if err := c.Close(); err != nil {
					o.log.Warn("Closing authority failed", "zone", name, "error", err.Error())
				}
			}
		}
	}
}
