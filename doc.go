/*
Package main implements adns, an authoritative DNS server.

adns loads its zones from a TOML configuration, answers them over plain UDP
and TCP and, when a certificate is configured, over DNS-over-TLS,
DNS-over-HTTPS and DNS-over-QUIC on every listen address. Privileged ports
are bound as root before the process switches to an unprivileged user.

Zone stores:

  - file: a master file
  - sqlite: a master file with a journal accepting dynamic updates (SIG(0))
  - forward: queries are forwarded to other name servers
  - recursor: iterative resolution from root hints
  - blocklist: names from block lists are answered with a sinkhole

Startup:

 1. Every zone is resolved into its stores, in order; the first failure stops the server.
 2. Keys are loaded and zones signed when DNSSEC is enabled.
 3. UDP, TCP, TLS, HTTPS and QUIC listeners are bound, in that order.
 4. Privileges are dropped to the configured user and group.
 5. The server runs until interrupted.

Every request runs through the middleware chain before the zones answer:

 1. Recovery - Panic recovery
 2. Metrics - Prometheus query counters
 3. AccessLog - Query logging
 4. AccessList - Allowed and denied client networks
 5. RateLimit - Query rate limiting per client
 6. Chaos - Chaos TXT query responses

Usage:

	adns [flags]

Flags:

	    --validate           Test validation of configuration files
	    --workers int        Number of runtime workers
	-q, --quiet              Disable INFO messages
	-d, --debug              Turn on DEBUG messages
	-c, --config string      Path to configuration file (default "/etc/named.toml")
	-z, --zonedir string     Path to the root directory for all zone files
	-p, --port uint16        Listening port for DNS queries
	    --tls-port uint16    Listening port for DNS over TLS queries
	    --https-port uint16  Listening port for DNS over HTTPS queries
	    --quic-port uint16   Listening port for DNS over QUIC queries
	    --disable-udp        Disable UDP protocol (also tcp, tls, https, quic)

Example:

	# Check a configuration without binding anything
	adns --validate -c /etc/named.toml

	# Serve on an unprivileged port
	adns -c ./named.toml -p 5353
*/
package main // import "github.com/semihalev/adns"
