package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/semihalev/adns/config"
	"github.com/semihalev/adns/logging"
	"github.com/semihalev/adns/startup"
	"github.com/semihalev/zlog/v2"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

type flags struct {
	validate bool
	workers  int
	quiet    bool
	debug    bool
	config   string
	zonedir  string

	port      uint16
	tlsPort   uint16
	httpsPort uint16
	quicPort  uint16

	disableUDP   bool
	disableTCP   bool
	disableTLS   bool
	disableHTTPS bool
	disableQUIC  bool
}

func newRootCmd(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "adns",
		Short:         "Authoritative DNS server",
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f, f.options(cmd))
		},
	}

	fl := cmd.Flags()
	fl.BoolVar(&f.validate, "validate", false, "Test validation of configuration files")
	fl.IntVar(&f.workers, "workers", 0, "Number of runtime workers, defaults to the number of CPU cores")
	fl.BoolVarP(&f.quiet, "quiet", "q", false, "Disable INFO messages, WARN and ERROR will remain")
	fl.BoolVarP(&f.debug, "debug", "d", false, "Turn on DEBUG messages (default is only INFO)")
	fl.StringVarP(&f.config, "config", "c", config.DefaultConfigPath, "Path to configuration file of named server")
	fl.StringVarP(&f.zonedir, "zonedir", "z", "", "Path to the root directory for all zone files, see also config toml")

	fl.Uint16VarP(&f.port, "port", "p", config.DefaultPort, "Listening port for DNS queries, overrides any value in config file")
	fl.Uint16Var(&f.tlsPort, "tls-port", config.DefaultTLSPort, "Listening port for DNS over TLS queries, overrides any value in config file")
	fl.Uint16Var(&f.httpsPort, "https-port", config.DefaultHTTPSPort, "Listening port for DNS over HTTPS queries, overrides any value in config file")
	fl.Uint16Var(&f.quicPort, "quic-port", config.DefaultQUICPort, "Listening port for DNS over QUIC queries, overrides any value in config file")

	fl.BoolVar(&f.disableUDP, "disable-udp", false, "Disable UDP protocol, overrides any value in config file")
	fl.BoolVar(&f.disableTCP, "disable-tcp", false, "Disable TCP protocol, overrides any value in config file")
	fl.BoolVar(&f.disableTLS, "disable-tls", false, "Disable TLS protocol, overrides any value in config file")
	fl.BoolVar(&f.disableHTTPS, "disable-https", false, "Disable HTTPS protocol, overrides any value in config file")
	fl.BoolVar(&f.disableQUIC, "disable-quic", false, "Disable QUIC protocol, overrides any value in config file")

	cmd.MarkFlagsMutuallyExclusive("quiet", "debug")
	cmd.MarkFlagsMutuallyExclusive("disable-tls", "tls-port")
	cmd.MarkFlagsMutuallyExclusive("disable-https", "https-port")
	cmd.MarkFlagsMutuallyExclusive("disable-quic", "quic-port")

	return cmd
}

// options turns the flags into startup options. Ports only override the
// config when given on the command line.
func (f *flags) options(cmd *cobra.Command) startup.Options {
	opts := startup.Options{
		ValidateOnly: f.validate,
		ZoneDir:      f.zonedir,
		Ports:        make(map[startup.Transport]uint16),
		Disabled: map[startup.Transport]bool{
			startup.UDP:   f.disableUDP,
			startup.TCP:   f.disableTCP,
			startup.TLS:   f.disableTLS,
			startup.HTTPS: f.disableHTTPS,
			startup.QUIC:  f.disableQUIC,
		},
	}

	changed := cmd.Flags().Changed

	if changed("port") {
		opts.Ports[startup.UDP] = f.port
		opts.Ports[startup.TCP] = f.port
	}
	if changed("tls-port") {
		opts.Ports[startup.TLS] = f.tlsPort
	}
	if changed("https-port") {
		opts.Ports[startup.HTTPS] = f.httpsPort
	}
	if changed("quic-port") {
		opts.Ports[startup.QUIC] = f.quicPort
	}

	return opts
}

// logLevel prefers the command line over the config file.
func (f *flags) logLevel(cfg *config.Config) string {
	switch {
	case f.quiet:
		return "error"
	case f.debug:
		return "debug"
	}
	return cfg.LogLevel
}

func run(ctx context.Context, f *flags, opts startup.Options) error {
	if f.workers > 0 {
		runtime.GOMAXPROCS(f.workers)
	}

	cfg, err := config.Load(f.config, version)
	if err != nil {
		return err
	}

	if err := logging.Setup(f.logLevel(cfg)); err != nil {
		return err
	}

	zlog.Info("Starting adns...", "version", version, "workers", runtime.GOMAXPROCS(0))

	err = startup.New(cfg, opts, logging.Default()).Run(ctx)
	if errors.Is(err, startup.ErrEngineRuntime) {
		// no degraded mode once serving
		panic(err.Error())
	}

	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	if err := newRootCmd(new(flags)).ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	stop()
}
