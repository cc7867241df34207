// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package xmppconn establishes and maintains XMPP connections.
//
// It covers the connection lifecycle up to the point where stanzas can
// flow: endpoint discovery over DNS SRV, TCP and TLS transport
// establishment, the stream open handshake, feature-driven negotiation
// (STARTTLS, SASL authentication, resource binding), and a session engine
// that routes inbound elements, queues outbound elements, and transparently
// reconnects with exponential backoff when a connection is lost.
//
// # Session Negotiation
//
// The simplest way to establish a session is NewClientSession, which
// resolves the origin address and negotiates the default feature set:
//
//	addr := jid.MustParse("feste@example.net/laptop")
//	session, err := xmppconn.NewClientSession(ctx, addr, password,
//		xmppconn.WithReconnect(xmppconn.Reconnect{}),
//	)
//
// The feature set may be replaced with the Features option, and handshakes
// that do not use feature negotiation at all (such as the XEP-0114
// component protocol in the component package) are supported by passing a
// custom Negotiator to NegotiateSession.
//
// # Serving
//
// A negotiated session does not read from the connection until Serve is
// called. Serve routes each top-level element through the given handler and
// drains the outbound queue populated by Send; it returns once the session
// closes cleanly or fails permanently. Lifecycle transitions are reported
// on the channel returned by Events.
package xmppconn // import "mellium.im/xmppconn"
