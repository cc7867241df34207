// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppconn

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"

	"mellium.im/sasl"
	"mellium.im/xmppconn/codec"
	"mellium.im/xmppconn/internal/ns"
	"mellium.im/xmppconn/internal/saslerr"
	"mellium.im/xmppconn/stream"
)

// SASL returns a stream feature for performing authentication using the
// Simple Authentication and Security Layer (SASL) as defined in RFC 4422.
// It panics if no mechanisms are specified.
// The order in which mechanisms are specified is the preference order, so
// stronger mechanisms should be listed first.
//
// Identity is used when a user wants to act on behalf of another user;
// normally it is left blank and the localpart of the session address is used
// as the username.
//
// Mechanism selection happens exactly once per connection attempt: an
// authentication failure is terminal for the attempt and is never retried
// with a weaker mechanism on the same connection.
func SASL(identity, password string, mechanisms ...sasl.Mechanism) StreamFeature {
	if len(mechanisms) == 0 {
		panic("xmppconn: Must specify at least 1 SASL mechanism")
	}
	return StreamFeature{
		Name:       xml.Name{Space: ns.SASL, Local: "mechanisms"},
		Prohibited: Authn,
		Parse: func(ctx context.Context, d codec.Decoder, start *xml.StartElement) (bool, interface{}, error) {
			parsed := struct {
				XMLName xml.Name `xml:"urn:ietf:params:xml:ns:xmpp-sasl mechanisms"`
				List    []string `xml:"urn:ietf:params:xml:ns:xmpp-sasl mechanism"`
			}{}
			err := d.DecodeElement(&parsed, start)
			return true, parsed.List, err
		},
		Negotiate: func(ctx context.Context, s *Session, data interface{}) (mask SessionState, rw io.ReadWriter, err error) {
			offered, _ := data.([]string)

			// Select a mechanism, preferring the client order.
			var selected sasl.Mechanism
		selectmechanism:
			for _, m := range mechanisms {
				for _, name := range offered {
					if name == m.Name {
						selected = m
						break selectmechanism
					}
				}
			}
			if selected.Name == "" {
				return mask, nil, newErr(KindNoMechanism, fmt.Errorf("xmppconn: no matching mechanism in %v", offered))
			}

			// Create a new SASL client and give it access to credentials,
			// other mechanisms advertised by the server, and the TLS state if
			// available (for the SCRAM-PLUS channel binding variants).
			opts := []sasl.Option{
				sasl.Credentials(func() ([]byte, []byte, []byte) {
					return []byte(s.origin.Localpart()), []byte(password), []byte(identity)
				}),
				sasl.RemoteMechanisms(offered...),
			}
			if connState, ok := s.ConnectionState(); ok {
				opts = append(opts, sasl.TLSState(connState))
			}
			client := sasl.NewClient(selected, opts...)

			more, resp, err := client.Step(nil)
			if err != nil {
				return mask, nil, newErr(KindAuth, err)
			}

			// Send <auth/> and the initial payload to start SASL auth.
			if _, err = fmt.Fprintf(s.rw,
				`<auth xmlns='`+ns.SASL+`' mechanism='%s'>%s</auth>`,
				selected.Name, encodeSASLPayload(resp),
			); err != nil {
				return mask, nil, err
			}

			for {
				select {
				case <-ctx.Done():
					return mask, nil, ctx.Err()
				default:
				}
				challenge, success, err := decodeSASLChallenge(s)
				if err != nil {
					return mask, nil, err
				}
				if success && !more {
					break
				}
				if more, resp, err = client.Step(challenge); err != nil {
					return mask, nil, newErr(KindAuth, err)
				}
				if success {
					// The server accepted the exchange and the final
					// verification step succeeded.
					if !more {
						break
					}
					return mask, nil, newErr(KindAuth, fmt.Errorf("xmppconn: mechanism %s expected more steps after success", selected.Name))
				}
				if _, err = fmt.Fprintf(s.rw,
					`<response xmlns='`+ns.SASL+`'>%s</response>`, encodeSASLPayload(resp),
				); err != nil {
					return mask, nil, err
				}
			}

			// Auth succeeded: RFC 6120 §6.4.6 requires a stream restart, so
			// hand the existing byte stream back to trigger one.
			return Authn, s.rw, nil
		},
	}
}

// encodeSASLPayload base64 encodes a mechanism response for transmission.
//
// RFC 6120 §6.4.2:
//
//	If the initiating entity needs to send a zero-length initial response,
//	it MUST transmit the response as a single equals sign character ("="),
//	which indicates that the response is present but contains no data.
func encodeSASLPayload(resp []byte) []byte {
	if len(resp) == 0 {
		return []byte{'='}
	}
	out := make([]byte, base64.StdEncoding.EncodedLen(len(resp)))
	base64.StdEncoding.Encode(out, resp)
	return out
}

// decodeSASLPayload reverses encodeSASLPayload for server challenge and
// success data.
func decodeSASLPayload(data []byte) ([]byte, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte{'='}) {
		return nil, nil
	}
	out := make([]byte, base64.StdEncoding.DecodedLen(len(data)))
	n, err := base64.StdEncoding.Decode(out, data)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

func decodeSASLChallenge(s *Session) (challenge []byte, success bool, err error) {
	t, err := s.codec.Token()
	if err != nil {
		return nil, false, err
	}
	start, ok := t.(xml.StartElement)
	if !ok {
		return nil, false, stream.BadFormat
	}

	switch start.Name {
	case xml.Name{Space: ns.SASL, Local: "challenge"}, xml.Name{Space: ns.SASL, Local: "success"}:
		parsed := struct {
			Data []byte `xml:",chardata"`
		}{}
		if err = s.codec.DecodeElement(&parsed, &start); err != nil {
			return nil, false, err
		}
		challenge, err = decodeSASLPayload(parsed.Data)
		if err != nil {
			return nil, false, newErr(KindAuth, err)
		}
		return challenge, start.Name.Local == "success", nil
	case xml.Name{Space: ns.SASL, Local: "failure"}:
		fail := saslerr.Failure{}
		if err = s.codec.DecodeElement(&fail, &start); err != nil {
			return nil, false, err
		}
		return nil, false, newErr(KindAuth, fail)
	default:
		return nil, false, stream.UnsupportedStanzaType
	}
}
