// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppconn

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/language"
)

// An Option configures a session.
type Option func(*config)

type config struct {
	lang        language.Tag
	tlsConfig   *tls.Config
	features    []StreamFeature
	reconnect   *Reconnect
	queueSize   int
	queuePolicy OverflowPolicy
	timeout     time.Duration
	logger      *zap.Logger
	dialer      *Dialer
	dial        func(ctx context.Context) (net.Conn, error)
}

func newConfig(opts ...Option) config {
	cfg := config{
		timeout: 30 * time.Second,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	return cfg
}

// Lang sets the default language of the stream.
func Lang(l language.Tag) Option {
	return func(cfg *config) {
		cfg.lang = l
	}
}

// TLSConfig sets the TLS configuration used for direct TLS connections and
// for the STARTTLS upgrade. The nil value is interpreted as a tls.Config
// with the expected host set to the domainpart of the session address.
func TLSConfig(c *tls.Config) Option {
	return func(cfg *config) {
		cfg.tlsConfig = c
	}
}

// Features replaces the default stream feature set (STARTTLS, SASL, bind)
// negotiated by the session.
func Features(features ...StreamFeature) Option {
	return func(cfg *config) {
		cfg.features = features
	}
}

// WithReconnect enables automatic reconnection with the given policy.
func WithReconnect(r Reconnect) Option {
	return func(cfg *config) {
		cfg.reconnect = &r
	}
}

// OutboundQueue bounds the queue of outbound elements and selects the
// behavior when it overflows. The default is a queue of 256 elements that
// rejects new submissions when full.
func OutboundQueue(size int, policy OverflowPolicy) Option {
	return func(cfg *config) {
		cfg.queueSize = size
		cfg.queuePolicy = policy
	}
}

// NegotiationTimeout bounds the wait for each phase of stream negotiation
// (TLS handshake, SASL round trip, bind request). Exceeding it fails the
// connection attempt with KindTimeout. The default is 30 seconds.
func NegotiationTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.timeout = d
	}
}

// Logger sets the logger used for session lifecycle and negotiation
// logging. The default discards all output.
func Logger(l *zap.Logger) Option {
	return func(cfg *config) {
		cfg.logger = l
	}
}

// WithDialer sets the dialer used to establish (and re-establish) the
// underlying connection.
func WithDialer(d *Dialer) Option {
	return func(cfg *config) {
		cfg.dialer = d
	}
}

// DialFunc overrides connection establishment entirely. It is used instead
// of the dialer for the initial connection and every reconnect attempt.
func DialFunc(dial func(ctx context.Context) (net.Conn, error)) Option {
	return func(cfg *config) {
		cfg.dial = dial
	}
}
