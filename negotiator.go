// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppconn

import (
	"context"
	"io"

	"golang.org/x/text/language"
	intstream "mellium.im/xmppconn/internal/stream"
	"mellium.im/xmppconn/stream"
)

// A Negotiator is a function that drives the session handshake. It is
// called repeatedly by the session until a mask is returned with the Ready
// bit set. Each time it is called, any bits set in the returned mask are
// set on the session state, and any cache value returned is passed back in
// on the next call. If a new io.ReadWriter is returned the codec state is
// reset and the stream restarts on it.
//
// Most users will use the negotiator built from StreamConfig; custom
// negotiators exist to support handshakes that do not use feature
// negotiation, such as the component protocol.
type Negotiator func(ctx context.Context, in, out *stream.Info, s *Session, data interface{}) (mask SessionState, rw io.ReadWriter, cache interface{}, err error)

// StreamConfig contains options for configuring the default Negotiator.
type StreamConfig struct {
	// Lang is the native language of the stream.
	Lang language.Tag

	// S2S causes the negotiator to negotiate a server-to-server (s2s)
	// stream.
	S2S bool

	// Features is the list of stream features to negotiate.
	Features []StreamFeature
}

// NewNegotiator creates a Negotiator that drives the opening handshake and
// then negotiates the configured collection of stream features, restarting
// the stream whenever a feature requires it.
func NewNegotiator(cfg StreamConfig) Negotiator {
	return negotiator(cfg)
}

func negotiator(cfg StreamConfig) Negotiator {
	lang := cfg.Lang.String()
	if lang == "und" {
		lang = ""
	}
	return func(ctx context.Context, in, out *stream.Info, s *Session, data interface{}) (mask SessionState, rw io.ReadWriter, restartNext interface{}, err error) {
		// On the first call and after every security transition the stream
		// starts over: send a fresh stream open and wait for the server's.
		if rst, ok := data.(bool); ok && rst {
			*out, err = intstream.Send(s.rw, cfg.S2S, stream.DefaultVersion, lang, s.location.String(), s.origin.String(), "")
			if err != nil {
				return mask, nil, false, err
			}
			*in, err = intstream.Expect(ctx, s.codec, false)
			if err != nil {
				return mask, nil, false, err
			}
		}

		mask, rw, err = negotiateFeatures(ctx, s, cfg.Features)
		return mask, rw, rw != nil, err
	}
}
