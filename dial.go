// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppconn

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strconv"
	"sync"

	"mellium.im/xmppconn/internal/discover"
	"mellium.im/xmppconn/jid"
)

// DialClient discovers and connects to the address on the named network
// with a client-to-server (c2s) connection.
//
// For more information see the Dialer type.
func DialClient(ctx context.Context, network string, addr *jid.JID) (net.Conn, error) {
	var d Dialer
	return d.Dial(ctx, network, addr)
}

// DialServer discovers and connects to the address on the named network
// with a server-to-server connection (s2s).
//
// For more information see the Dialer type.
func DialServer(ctx context.Context, network string, addr *jid.JID) (net.Conn, error) {
	d := Dialer{S2S: true}
	return d.Dial(ctx, network, addr)
}

// An endpoint is one dialable candidate for a connection attempt. The
// resolved list is ordered by preference: an explicit override first, then
// direct TLS service records, then plaintext records that will be upgraded
// with STARTTLS, then a fallback record at the default port.
type endpoint struct {
	hostport string
	tls      bool
}

// A Dialer contains options for connecting to an XMPP address. After a
// connection is established the Dial method does not attempt to negotiate
// an XMPP session on the connection.
//
// The zero value for each field is equivalent to dialing without that
// option. Dialing with the zero value of Dialer is equivalent to calling
// the DialClient function.
type Dialer struct {
	net.Dialer

	// Resolver changes options related to resolving DNS.
	Resolver *net.Resolver

	// NoLookup stops the dialer from looking up SRV records for the given
	// domain. Instead it connects to the domain directly on the default
	// port, or to the Host/Port override if one is set.
	NoLookup bool

	// Host and Port explicitly override service discovery. When set, the
	// dialer connects here first and only here.
	Host string
	Port uint16

	// S2S causes the dialer to dial a server-to-server connection.
	S2S bool

	// NoTLS disables the direct TLS records entirely (eg. when relying on
	// STARTTLS against a server that does not offer implicit TLS).
	NoTLS bool

	// TLSConfig is used when dialing direct TLS endpoints. The nil value is
	// interpreted as a tls.Config with the expected host set to the
	// domainpart of the dialed address.
	TLSConfig *tls.Config

	once     sync.Once
	discover *discover.Resolver
}

// Dial discovers and connects to the address on the named network.
//
// If the context expires before the connection is complete, an error is
// returned. Once successfully connected, any expiration of the context will
// not affect the connection.
//
// Network may be any of the tcp connection types supported by net.Dial
// ("tcp", "tcp4", or "tcp6").
func (d *Dialer) Dial(ctx context.Context, network string, addr *jid.JID) (net.Conn, error) {
	endpoints, err := d.resolve(ctx, addr)
	if err != nil {
		return nil, err
	}

	// Try dialing all of the endpoints we know about, stopping as soon as a
	// connection is established.
	var lastErr error
	for _, ep := range endpoints {
		var conn net.Conn
		var err error
		if ep.tls {
			cfg := d.TLSConfig
			if cfg == nil {
				cfg = &tls.Config{ServerName: addr.Domainpart()}
			}
			tlsDialer := &tls.Dialer{NetDialer: &d.Dialer, Config: cfg}
			conn, err = tlsDialer.DialContext(ctx, network, ep.hostport)
		} else {
			conn, err = d.Dialer.DialContext(ctx, network, ep.hostport)
		}
		if err != nil {
			lastErr = err
			continue
		}
		return conn, nil
	}
	return nil, newErr(KindConnect, lastErr)
}

// resolve produces the preference ordered endpoint list for the address.
// Failures of individual lookups are skipped; only an empty final list is
// an error.
func (d *Dialer) resolve(ctx context.Context, addr *jid.JID) ([]*endpoint, error) {
	if d.Host != "" {
		port := d.Port
		if port == 0 {
			port = 5222
		}
		return []*endpoint{{
			hostport: net.JoinHostPort(d.Host, strconv.FormatUint(uint64(port), 10)),
			tls:      false,
		}}, nil
	}

	domain := addr.Domainpart()
	plainService := discover.Service(false, d.S2S)

	if d.NoLookup {
		rec := discover.FallbackRecords(plainService, domain)[0]
		return []*endpoint{{hostport: discover.JoinHostPort(rec), tls: false}}, nil
	}

	d.once.Do(func() {
		d.discover = discover.NewResolver(d.Resolver)
	})

	var endpoints []*endpoint
	var lastErr error

	// Direct TLS records are preferred over the STARTTLS capable ones.
	if !d.NoTLS {
		tlsService := discover.Service(true, d.S2S)
		addrs, err := d.discover.LookupService(ctx, tlsService, domain)
		if err != nil {
			lastErr = err
		}
		for _, rec := range addrs {
			endpoints = append(endpoints, &endpoint{hostport: discover.JoinHostPort(rec), tls: true})
		}
	}

	addrs, err := d.discover.LookupService(ctx, plainService, domain)
	if err != nil {
		lastErr = err
	}
	for _, rec := range addrs {
		endpoints = append(endpoints, &endpoint{hostport: discover.JoinHostPort(rec), tls: false})
	}

	// If there aren't any records, fall back to connecting at the default
	// port on the domain itself.
	if len(endpoints) == 0 && lastErr == nil {
		for _, rec := range discover.FallbackRecords(plainService, domain) {
			endpoints = append(endpoints, &endpoint{hostport: discover.JoinHostPort(rec), tls: false})
		}
	}

	if len(endpoints) == 0 {
		if lastErr == nil {
			lastErr = errors.New("no service records and no fallback available")
		}
		return nil, newErr(KindResolution, lastErr)
	}
	return endpoints, nil
}
