// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package discover is used to look up the network endpoints of XMPP-based
// services.
package discover // import "mellium.im/xmppconn/internal/discover"

import (
	"context"
	"errors"
	"net"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Errors returned by this package.
var (
	ErrInvalidService = errors.New("discover: service must be one of xmpp[s]-client or xmpp[s]-server")
)

// cacheSize bounds the number of (service, domain) lookup results retained
// between connection attempts so that aggressive reconnect cycles do not
// hammer DNS.
const cacheSize = 64

// FallbackRecords returns fake SRV records based on the service that can be
// used if no actual SRV records can be found but we believe that an XMPP
// service exists at the given domain.
func FallbackRecords(service, domain string) []*net.SRV {
	switch service {
	case "xmpp-client":
		return []*net.SRV{{
			Target: domain,
			Port:   5222,
		}}
	case "xmpps-client":
		return []*net.SRV{{
			Target: domain,
			Port:   5223,
		}}
	case "xmpp-server":
		return []*net.SRV{{
			Target: domain,
			Port:   5269,
		}}
	case "xmpps-server":
		return []*net.SRV{{
			Target: domain,
			Port:   5270,
		}}
	}
	return nil
}

// Resolver wraps a net.Resolver with XMPP service lookup rules and a small
// bounded cache of successful lookups. Each dialer owns its own Resolver; no
// process wide lookup state is shared.
type Resolver struct {
	resolver *net.Resolver
	cache    *lru.Cache[string, []*net.SRV]
}

// NewResolver returns a Resolver backed by the provided net.Resolver, or the
// default resolver if it is nil.
func NewResolver(r *net.Resolver) *Resolver {
	if r == nil {
		r = &net.Resolver{}
	}
	// New only fails for non-positive sizes.
	cache, err := lru.New[string, []*net.SRV](cacheSize)
	if err != nil {
		panic("discover: " + err.Error())
	}
	return &Resolver{resolver: r, cache: cache}
}

// LookupService looks for an XMPP service of the given type hosted at the
// given domain.
// It returns addresses from SRV records; if the domain publishes no records
// the returned list is empty and the caller is expected to fall back to
// FallbackRecords. A published target of "." means the service is explicitly
// not offered and an empty list is returned with no error.
// Service must be one of "xmpp[s]-client" or "xmpp[s]-server".
func (r *Resolver) LookupService(ctx context.Context, service, domain string) ([]*net.SRV, error) {
	switch service {
	case "xmpp-client", "xmpp-server", "xmpps-client", "xmpps-server":
	default:
		return nil, ErrInvalidService
	}

	key := service + "\x00" + domain
	if addrs, ok := r.cache.Get(key); ok {
		return addrs, nil
	}

	_, addrs, err := r.resolver.LookupSRV(ctx, service, "tcp", domain)
	if err != nil {
		if isNotFound(err) {
			// NXDOMAIN for an individual record is non-fatal: the caller simply
			// moves on to the next candidate source.
			return nil, nil
		}
		return nil, err
	}

	// RFC 6120 §3.2.1: a single "." target means the service is decidedly not
	// available at this domain.
	if len(addrs) == 1 && addrs[0].Target == "." {
		return nil, nil
	}

	r.cache.Add(key, addrs)
	return addrs, nil
}

func isNotFound(err error) bool {
	var dnsErr *net.DNSError
	ok := errors.As(err, &dnsErr)
	return ok && dnsErr.IsNotFound
}

// Service returns the SRV service name for the given connection flavor.
func Service(useTLS, s2s bool) string {
	switch {
	case useTLS && s2s:
		return "xmpps-server"
	case !useTLS && s2s:
		return "xmpp-server"
	case useTLS && !s2s:
		return "xmpps-client"
	}
	return "xmpp-client"
}

// JoinHostPort formats an SRV record as a dialable address.
func JoinHostPort(rec *net.SRV) string {
	return net.JoinHostPort(rec.Target, strconv.FormatUint(uint64(rec.Port), 10))
}
