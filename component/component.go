// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package component is used to establish XEP-0114: Jabber Component Protocol
// connections.
package component // import "mellium.im/xmppconn/component"

import (
	"context"
	/* #nosec */
	"crypto/sha1"
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"mellium.im/xmppconn"
	"mellium.im/xmppconn/internal/ns"
	"mellium.im/xmppconn/jid"
	"mellium.im/xmppconn/stream"
)

// NSAccept is the namespace of component connections from the perspective
// of the component, provided as a convenience.
const NSAccept = ns.Component

// NewSession initiates an XMPP session on the given io.ReadWriter using the
// component protocol from the perspective of the component.
func NewSession(ctx context.Context, addr *jid.JID, secret []byte, rw io.ReadWriter, opts ...xmppconn.Option) (*xmppconn.Session, error) {
	addr = addr.Domain()
	return xmppconn.NegotiateSession(ctx, addr, addr, rw, 0, Negotiator(addr, secret), opts...)
}

// Negotiator returns a new function that can be used to negotiate a
// component protocol connection when passed to xmppconn.NegotiateSession.
// Component streams have no version and no feature negotiation, so the
// returned negotiator completes in a single call.
func Negotiator(addr *jid.JID, secret []byte) xmppconn.Negotiator {
	return func(ctx context.Context, in, out *stream.Info, s *xmppconn.Session, _ interface{}) (mask xmppconn.SessionState, _ io.ReadWriter, _ interface{}, err error) {
		d := s.Codec()

		_, err = fmt.Fprintf(s.Conn(), `<stream:stream xmlns='`+NSAccept+`' xmlns:stream='`+stream.NS+`' to='%s'>`, addr)
		if err != nil {
			return mask, nil, nil, err
		}
		out.To = addr
		out.XMLNS = NSAccept

		foundProc := false
		var start xml.StartElement
	procloop:
		for {
			tok, err := d.Token()
			if err != nil {
				return mask, nil, nil, err
			}
			switch t := tok.(type) {
			case xml.ProcInst:
				if !foundProc {
					foundProc = true
					continue
				}
				return mask, nil, nil, errors.New("component: received unexpected proc inst from server")
			case xml.CharData:
				continue
			case xml.StartElement:
				start = t
				break procloop
			default:
				return mask, nil, nil, errors.New("component: received unexpected token from server")
			}
		}

		if start.Name.Local != "stream" || start.Name.Space != stream.NS {
			return mask, nil, nil, errors.New("component: expected stream:stream from server")
		}

		err = in.FromStartElement(start)
		if err != nil {
			return mask, nil, nil, err
		}
		if in.ID == "" {
			return mask, nil, nil, errors.New("component: expected server stream to contain stream ID")
		}

		/* #nosec */
		h := sha1.New()

		// hash.Write never returns an error per the documentation.
		/* #nosec */
		_, _ = h.Write([]byte(in.ID))

		// hash.Write never returns an error per the documentation.
		/* #nosec */
		_, _ = h.Write(secret)

		_, err = fmt.Fprintf(s.Conn(), `<handshake>%x</handshake>`, h.Sum(nil))
		if err != nil {
			return mask, nil, nil, err
		}

		tok, err := d.Token()
		if err != nil {
			return mask, nil, nil, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			return mask, nil, nil, errors.New("component: expected acknowledgement or error start token from server")
		}

		switch start.Name.Local {
		case "error":
			e := stream.Error{}
			err := d.DecodeElement(&e, &start)
			if err != nil {
				return mask, nil, nil, err
			}
			return mask, nil, nil, e
		case "handshake":
			err = d.Skip()
			return xmppconn.Ready | xmppconn.Authn, nil, nil, err
		}

		return mask, nil, nil, fmt.Errorf("component: unknown start element: %v", start.Name)
	}
}
