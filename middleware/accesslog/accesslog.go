// Package accesslog writes one line per answered query in a common log
// like format.
package accesslog

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/semihalev/adns/config"
	"github.com/semihalev/adns/middleware"
	"github.com/semihalev/zlog/v2"
)

// AccessLog type
type AccessLog struct {
	enabled bool

	mu  sync.Mutex
	out io.WriteCloser

	now func() time.Time
}

// New opens the access log of cfg. Without one configured every request
// passes through untouched.
func New(cfg *config.Config) (*AccessLog, error) {
	a := &AccessLog{now: time.Now}

	if cfg.AccessLog == "" {
		return a, nil
	}

	f, err := os.OpenFile(cfg.AccessLog, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("access_log: %w", err)
	}
	a.out, a.enabled = f, true

	return a, nil
}

// Name return middleware name
func (a *AccessLog) Name() string { return name }

// ServeDNS implements the Handle interface.
func (a *AccessLog) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	ch.Next(ctx)

	w := ch.Writer
	if !a.enabled || !w.Written() {
		return
	}

	resp := w.Msg()
	if resp == nil || len(resp.Question) == 0 {
		return
	}

	cd := "-cd"
	if resp.CheckingDisabled {
		cd = "+cd"
	}

	record := []string{
		w.RemoteIP().String() + " -",
		"[" + a.now().Format("02/Jan/2006:15:04:05 -0700") + "]",
		formatQuestion(resp.Question[0]),
		w.Proto(),
		cd,
		dns.RcodeToString[resp.Rcode],
		strconv.Itoa(resp.Len()),
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.out == nil {
		return
	}

	if _, err := io.WriteString(a.out, strings.Join(record, " ")+"\n"); err != nil {
		zlog.Error("Access log write failed", "error", strings.TrimSpace(err.Error()))
	}
}

// Close closes the log file; later requests are not logged.
func (a *AccessLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.out == nil {
		return nil
	}

	err := a.out.Close()
	a.out = nil

	return err
}

func formatQuestion(q dns.Question) string {
	return "\"" + strings.ToLower(q.Name) + " " + dns.ClassToString[q.Qclass] + " " + dns.TypeToString[q.Qtype] + "\""
}

const name = "accesslog"
