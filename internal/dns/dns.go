package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"
)

// publicDNS are queried when the system resolver fails.
var publicDNS = []string{
	"1.1.1.1",                // Cloudflare
	"1.0.0.1",                // Cloudflare
	"[2606:4700:4700::1111]", // Cloudflare
	"8.8.8.8",                // Google
	"8.8.4.4",                // Google
	"[2001:4860:4860::8888]", // Google
	"9.9.9.9",                // Quad9
	"149.112.112.112",        // Quad9
	"208.67.222.222",         // Cisco OpenDNS
	"208.67.220.220",         // Cisco OpenDNS
}

// LookupFunc resolves host to a single address.
type LookupFunc func(ctx context.Context, host string) ([]string, error)

// Resolver resolves hostnames with the system resolver and races public
// resolvers when that fails.
type Resolver struct {
	// Local defaults to the system resolver.
	Local LookupFunc
	// Remote are fallback lookups raced against each other.
	Remote []LookupFunc

	LocalTimeout  time.Duration
	RemoteTimeout time.Duration
}

// NewResolver returns a resolver using the system resolver and the built-in
// public DNS list.
func NewResolver() *Resolver {
	remote := make([]LookupFunc, 0, len(publicDNS))
	for _, server := range publicDNS {
		remote = append(remote, serverLookup(server))
	}
	return &Resolver{
		Local:         net.DefaultResolver.LookupHost,
		Remote:        remote,
		LocalTimeout:  time.Second,
		RemoteTimeout: 2 * time.Second,
	}
}

// Lookup resolves a hostname to one IP address, preferring IPv4.
// IP literals are returned unchanged.
func (r *Resolver) Lookup(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}

	lctx, cancel := context.WithTimeout(ctx, r.LocalTimeout)
	ips, err := r.Local(lctx, host)
	cancel()
	if err == nil {
		if ip, perr := pick(ips); perr == nil {
			return ip, nil
		}
	}

	log.Warn().Str("module", "dns").Str("host", host).Err(err).Msg("system DNS lookup failed, racing public resolvers")
	return r.race(ctx, host)
}

func (r *Resolver) race(ctx context.Context, host string) (string, error) {
	if len(r.Remote) == 0 {
		return "", fmt.Errorf("failed to resolve %s: no fallback resolvers", host)
	}

	type result struct {
		ip  string
		err error
	}

	ctx, cancel := context.WithTimeout(ctx, r.RemoteTimeout)
	defer cancel()

	results := make(chan result, len(r.Remote))
	for _, lookup := range r.Remote {
		go func(lookup LookupFunc) {
			ips, err := lookup(ctx, host)
			if err != nil {
				results <- result{err: err}
				return
			}
			ip, err := pick(ips)
			results <- result{ip: ip, err: err}
		}(lookup)
	}

	failures := 0
	for range r.Remote {
		select {
		case res := <-results:
			if res.err == nil {
				return res.ip, nil
			}
			failures++
		case <-ctx.Done():
			return "", fmt.Errorf("DNS lookup for %s timed out during public DNS race", host)
		}
	}
	return "", fmt.Errorf("failed to resolve %s: all %d public DNS servers failed", host, failures)
}

// DialContext resolves addr through Lookup and dials the result. It has the
// signature expected by websocket.Dialer.NetDialContext.
func (r *Resolver) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	ip, err := r.Lookup(ctx, host)
	if err != nil {
		return nil, err
	}
	var d net.Dialer
	return d.DialContext(ctx, network, net.JoinHostPort(ip, port))
}

func pick(ips []string) (string, error) {
	if len(ips) == 0 {
		return "", errors.New("no IP addresses found")
	}
	for _, ip := range ips {
		if parsed := net.ParseIP(ip); parsed != nil && parsed.To4() != nil {
			return ip, nil
		}
	}
	return ips[0], nil
}

// serverLookup queries one DNS server directly on port 53.
func serverLookup(server string) LookupFunc {
	r := &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(server, "53"))
		},
	}
	return r.LookupHost
}
