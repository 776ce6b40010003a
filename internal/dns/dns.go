// Package dns resolves the broker host, falling back to public resolvers
// when the system resolver is broken, as on some captive or VPN networks.
package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

var publicServers = []string{
	"1.1.1.1",
	"1.0.0.1",
	"[2606:4700:4700::1111]",
	"8.8.8.8",
	"8.8.4.4",
	"[2001:4860:4860::8888]",
	"9.9.9.9",
	"149.112.112.112",
	"208.67.222.222",
	"208.67.220.220",
}

var ErrNoAddress = errors.New("no addresses found")

// LookupFunc resolves host using one resolver. server is empty for the
// system resolver.
type LookupFunc func(ctx context.Context, host, server string) ([]string, error)

// Resolver tries the system resolver first and then races the public ones.
type Resolver struct {
	Servers      []string
	LocalTimeout time.Duration
	RaceTimeout  time.Duration
	Lookup       LookupFunc
}

func NewResolver() *Resolver {
	return &Resolver{
		Servers:      publicServers,
		LocalTimeout: time.Second,
		RaceTimeout:  2 * time.Second,
		Lookup:       lookupHost,
	}
}

// Resolve returns one address for host, preferring IPv4. IP literals and
// localhost are returned without a query.
func (r *Resolver) Resolve(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil {
		return ip.String(), nil
	}
	if strings.EqualFold(host, "localhost") {
		return "127.0.0.1", nil
	}

	local, cancel := context.WithTimeout(ctx, r.LocalTimeout)
	addrs, err := r.Lookup(local, host, "")
	cancel()
	if err == nil {
		if ip, ok := prefer(addrs); ok {
			return ip, nil
		}
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return r.race(ctx, host)
}

func (r *Resolver) race(ctx context.Context, host string) (string, error) {
	if len(r.Servers) == 0 {
		return "", fmt.Errorf("resolve %s: %w", host, ErrNoAddress)
	}

	ctx, cancel := context.WithTimeout(ctx, r.RaceTimeout)
	defer cancel()

	found := make(chan string, len(r.Servers))
	failed := make(chan error, len(r.Servers))
	for _, server := range r.Servers {
		go func(server string) {
			addrs, err := r.Lookup(ctx, host, server)
			if err == nil {
				if ip, ok := prefer(addrs); ok {
					found <- ip
					return
				}
				err = ErrNoAddress
			}
			failed <- err
		}(server)
	}

	var last error
	for range r.Servers {
		select {
		case ip := <-found:
			return ip, nil
		case last = <-failed:
		case <-ctx.Done():
			return "", fmt.Errorf("resolve %s: %w", host, ctx.Err())
		}
	}
	return "", fmt.Errorf("resolve %s: all %d public resolvers failed: %w", host, len(r.Servers), last)
}

// DialContext resolves the host part of addr with r before dialing. It fits
// websocket.Dialer.NetDialContext.
func (r *Resolver) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	ip, err := r.Resolve(ctx, host)
	if err != nil {
		return nil, err
	}
	var d net.Dialer
	return d.DialContext(ctx, network, net.JoinHostPort(ip, port))
}

func prefer(addrs []string) (string, bool) {
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
			return a, true
		}
	}
	if len(addrs) == 0 {
		return "", false
	}
	return addrs[0], true
}

func lookupHost(ctx context.Context, host, server string) ([]string, error) {
	r := net.DefaultResolver
	if server != "" {
		r = &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, net.JoinHostPort(strings.Trim(server, "[]"), "53"))
			},
		}
	}
	return r.LookupHost(ctx, host)
}
