package accesslist

import (
	"context"
	"fmt"
	"net"

	"github.com/miekg/dns"
	"github.com/semihalev/adns/config"
	"github.com/semihalev/adns/middleware"
	"github.com/semihalev/zlog/v2"
	"github.com/yl2chen/cidranger"
)

// AccessList refuses clients from denied networks unless an allowed
// network also contains them.
type AccessList struct {
	allow cidranger.Ranger
	deny  cidranger.Ranger
}

// New return accesslist
func New(cfg *config.Config) (*AccessList, error) {
	a := &AccessList{
		allow: cidranger.NewPCTrieRanger(),
		deny:  cidranger.NewPCTrieRanger(),
	}

	if err := insert(a.allow, cfg.AllowNetworks); err != nil {
		return nil, fmt.Errorf("allow_networks: %w", err)
	}

	if err := insert(a.deny, cfg.DenyNetworks); err != nil {
		return nil, fmt.Errorf("deny_networks: %w", err)
	}

	return a, nil
}

func insert(ranger cidranger.Ranger, cidrs []string) error {
	for _, cidr := range cidrs {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			return err
		}

		if err := ranger.Insert(cidranger.NewBasicRangerEntry(*ipnet)); err != nil {
			return err
		}
	}

	return nil
}

// Name return middleware name
func (a *AccessList) Name() string { return name }

// Allowed reports whether ip may query the server.
func (a *AccessList) Allowed(ip net.IP) bool {
	if ip == nil {
		return true
	}

	if ok, _ := a.allow.Contains(ip); ok {
		return true
	}

	denied, _ := a.deny.Contains(ip)
	return !denied
}

// ServeDNS implements the Handle interface.
func (a *AccessList) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	if !a.Allowed(ch.Writer.RemoteIP()) {
		zlog.Debug("Client refused by access list", "client", ch.Writer.RemoteIP().String())
		ch.CancelWithRcode(dns.RcodeRefused, false)
		return
	}

	ch.Next(ctx)
}

const name = "accesslist"
