// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppconn

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"mellium.im/xmppconn/codec"
	"mellium.im/xmppconn/internal/ns"
	"mellium.im/xmppconn/stream"
)

// StartTLS returns a new stream feature that upgrades the connection to TLS
// in place. The nil config is interpreted as a tls.Config with the expected
// host set to the domainpart of the session address; certificate validation
// always uses the configured root pool (the system trust store by default)
// and is never downgraded on failure.
func StartTLS(cfg *tls.Config) StreamFeature {
	return StreamFeature{
		Name:       xml.Name{Space: ns.StartTLS, Local: "starttls"},
		Prohibited: Secure,
		Parse: func(ctx context.Context, d codec.Decoder, start *xml.StartElement) (bool, interface{}, error) {
			parsed := struct {
				XMLName  xml.Name `xml:"urn:ietf:params:xml:ns:xmpp-tls starttls"`
				Required struct {
					XMLName xml.Name `xml:"urn:ietf:params:xml:ns:xmpp-tls required"`
				}
			}{}
			err := d.DecodeElement(&parsed, start)
			req := parsed.Required.XMLName.Local == "required" && parsed.Required.XMLName.Space == ns.StartTLS
			return req, req, err
		},
		Negotiate: func(ctx context.Context, s *Session, data interface{}) (mask SessionState, rw io.ReadWriter, err error) {
			required, _ := data.(bool)
			// Distinguish a refused upgrade from a failed handshake: refusing
			// a mandatory upgrade is a policy failure, everything else is a
			// TLS failure.
			kind := KindTLS
			if required {
				kind = KindPolicy
			}

			conn := s.Conn()
			if conn == nil {
				return mask, nil, newErr(KindTLS, errors.New("xmppconn: STARTTLS requires a net.Conn"))
			}

			if _, err = fmt.Fprint(conn, `<starttls xmlns='`+ns.StartTLS+`'/>`); err != nil {
				return mask, nil, err
			}

			// Receive a <proceed/> or <failure/> response from the server.
			t, err := s.codec.Token()
			if err != nil {
				return mask, nil, err
			}
			switch tok := t.(type) {
			case xml.StartElement:
				switch {
				case tok.Name.Space != ns.StartTLS:
					return mask, nil, stream.UnsupportedStanzaType
				case tok.Name.Local == "proceed":
					if err = s.codec.Skip(); err != nil {
						return mask, nil, stream.InvalidXML
					}
				case tok.Name.Local == "failure":
					if err = s.codec.Skip(); err != nil {
						return mask, nil, stream.InvalidXML
					}
					return mask, nil, newErr(kind, errors.New("xmppconn: server refused STARTTLS"))
				default:
					return mask, nil, stream.UnsupportedStanzaType
				}
			default:
				return mask, nil, stream.RestrictedXML
			}

			if cfg == nil {
				cfg = &tls.Config{ServerName: s.RemoteAddr().Domainpart()}
			}
			tlsConn := tls.Client(conn, cfg)
			if err = tlsConn.HandshakeContext(ctx); err != nil {
				return mask, nil, newErr(kind, err)
			}

			return Secure, tlsConn, nil
		},
	}
}
