// Package bootstrap provides the addresses a node contacts when it first
// joins, and which monitors probe to find a live peer.
package bootstrap

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/hashicorp/go-multierror"
	"github.com/rfratto/tally/peer"
)

// Provider returns candidate peer addresses. Addresses are not guaranteed
// to be reachable.
type Provider interface {
	Addresses(ctx context.Context) ([]string, error)
}

// ProviderFunc implements Provider.
type ProviderFunc func(ctx context.Context) ([]string, error)

// Addresses implements Provider.
func (f ProviderFunc) Addresses(ctx context.Context) ([]string, error) { return f(ctx) }

// Default ports probed by DefaultPortRange.
const (
	DefaultFirstPort = 5000
	DefaultLastPort  = 5009
)

// PortRange returns http://Host:port for every port in [First, Last].
type PortRange struct {
	Host        string
	First, Last int
}

// DefaultPortRange is the well-known port range used when no other provider
// is configured.
var DefaultPortRange = PortRange{Host: "localhost", First: DefaultFirstPort, Last: DefaultLastPort}

// Addresses implements Provider.
func (pr PortRange) Addresses(_ context.Context) ([]string, error) {
	if pr.First <= 0 || pr.Last < pr.First || pr.Last > 65535 {
		return nil, fmt.Errorf("invalid port range %d-%d", pr.First, pr.Last)
	}
	host := pr.Host
	if host == "" {
		host = "localhost"
	}

	res := make([]string, 0, pr.Last-pr.First+1)
	for port := pr.First; port <= pr.Last; port++ {
		res = append(res, "http://"+net.JoinHostPort(host, strconv.Itoa(port)))
	}
	return res, nil
}

// Static returns a fixed list of addresses. Every address is normalized;
// invalid addresses are reported together, and valid ones are still
// returned.
type Static []string

// Addresses implements Provider.
func (s Static) Addresses(_ context.Context) ([]string, error) {
	var (
		res  = make([]string, 0, len(s))
		errs *multierror.Error
	)
	for _, addr := range s {
		norm, err := peer.Normalize(addr)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		res = append(res, norm)
	}
	return res, errs.ErrorOrNil()
}

// Resolver resolves host names. *net.Resolver implements Resolver.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// DNS resolves Name to a set of hosts and returns http://host:Port for each.
type DNS struct {
	Name     string
	Port     int
	Resolver Resolver // net.DefaultResolver when nil.
}

// Addresses implements Provider.
func (d DNS) Addresses(ctx context.Context) ([]string, error) {
	r := d.Resolver
	if r == nil {
		r = net.DefaultResolver
	}

	hosts, err := r.LookupHost(ctx, d.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", d.Name, err)
	}

	port := strconv.Itoa(d.Port)
	res := make([]string, 0, len(hosts))
	for _, h := range hosts {
		res = append(res, "http://"+net.JoinHostPort(h, port))
	}
	return res, nil
}

// Multi merges the addresses of several providers. Errors from individual
// providers are collected; addresses from providers which succeeded are
// still returned.
func Multi(providers ...Provider) Provider {
	return ProviderFunc(func(ctx context.Context) ([]string, error) {
		var (
			res  []string
			seen = make(map[string]struct{})
			errs *multierror.Error
		)
		for _, p := range providers {
			addrs, err := p.Addresses(ctx)
			if err != nil {
				errs = multierror.Append(errs, err)
			}
			for _, a := range addrs {
				if _, ok := seen[a]; ok {
					continue
				}
				seen[a] = struct{}{}
				res = append(res, a)
			}
		}
		return res, errs.ErrorOrNil()
	})
}
