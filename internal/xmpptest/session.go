// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package xmpptest provides utilities for testing the connection engine.
package xmpptest // import "mellium.im/xmppconn/internal/xmpptest"

import (
	"context"
	"io"
	"strings"

	"mellium.im/xmppconn"
	"mellium.im/xmppconn/internal/ns"
	intstream "mellium.im/xmppconn/internal/stream"
	"mellium.im/xmppconn/jid"
	"mellium.im/xmppconn/stream"
)

// NopNegotiator marks the state as ready (by returning state|xmppconn.Ready)
// and pops the first token (likely <stream:stream>) but does not transmit
// any data over the wire or perform any other session negotiation.
func NopNegotiator(state xmppconn.SessionState) xmppconn.Negotiator {
	return func(ctx context.Context, in, out *stream.Info, s *xmppconn.Session, data interface{}) (xmppconn.SessionState, io.ReadWriter, interface{}, error) {
		info, err := intstream.Expect(ctx, s.Codec(), false)
		*in = info
		return state | xmppconn.Ready, nil, nil, err
	}
}

// NewClientSession returns a new client XMPP session with the state bits
// set to finalState|xmppconn.Ready, the origin JID set to
// "test@example.net" and the location JID set to "example.net". The input
// stream is framed with a synthetic stream header so that tokens read from
// rw appear as top-level stream elements.
//
// NewClientSession panics on error for ease of use in testing, where a
// panic is acceptable.
func NewClientSession(finalState xmppconn.SessionState, rw io.ReadWriter) *xmppconn.Session {
	location := jid.MustParse("example.net")
	origin := jid.MustParse("test@example.net")

	s, err := xmppconn.NegotiateSession(
		context.Background(), location, origin,
		struct {
			io.Reader
			io.Writer
		}{
			Reader: io.MultiReader(
				strings.NewReader(`<stream:stream from="`+location.String()+`" to="`+origin.String()+`" id="123" version="1.0" xmlns="`+ns.Client+`" xmlns:stream="`+stream.NS+`">`),
				rw,
				strings.NewReader(`</stream:stream>`),
			),
			Writer: rw,
		},
		0,
		NopNegotiator(finalState),
	)
	if err != nil {
		panic(err)
	}
	return s
}
