// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppconn

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"

	"github.com/google/uuid"
	"mellium.im/xmppconn/codec"
	"mellium.im/xmppconn/internal/ns"
	"mellium.im/xmppconn/jid"
	"mellium.im/xmppconn/stream"
)

const (
	bindIQServerGeneratedRP = `<iq id='%s' type='set'><bind xmlns='` + ns.Bind + `'/></iq>`
	bindIQClientRequestedRP = `<iq id='%s' type='set'><bind xmlns='` + ns.Bind + `'><resource>%s</resource></bind></iq>`
)

// BindResource returns a stream feature that binds the resourcepart of the
// session address, completing the full address for the session. If the
// session address has no resourcepart the server generates one.
func BindResource() StreamFeature {
	return StreamFeature{
		Name:       xml.Name{Space: ns.Bind, Local: "bind"},
		Necessary:  Authn,
		Prohibited: Bound,
		Parse: func(ctx context.Context, d codec.Decoder, start *xml.StartElement) (bool, interface{}, error) {
			parsed := struct {
				XMLName xml.Name `xml:"urn:ietf:params:xml:ns:xmpp-bind bind"`
			}{}
			err := d.DecodeElement(&parsed, start)
			return true, nil, err
		},
		Negotiate: func(ctx context.Context, s *Session, data interface{}) (mask SessionState, rw io.ReadWriter, err error) {
			reqID := uuid.NewString()
			if resource := s.origin.Resourcepart(); resource == "" {
				// Send a request for the server to generate the resourcepart.
				_, err = fmt.Fprintf(s.rw, bindIQServerGeneratedRP, reqID)
			} else {
				// Request the configured resourcepart.
				var buf []byte
				if buf, err = escapeXML(resource); err != nil {
					return mask, nil, err
				}
				_, err = fmt.Fprintf(s.rw, bindIQClientRequestedRP, reqID, buf)
			}
			if err != nil {
				return mask, nil, err
			}

			start, err := nextStartElement(ctx, s)
			if err != nil {
				return mask, nil, err
			}
			if start.Name.Local != "iq" {
				return mask, nil, stream.BadFormat
			}

			resp := struct {
				ID   string `xml:"id,attr"`
				Type string `xml:"type,attr"`
				Bind struct {
					JID *jid.JID `xml:"jid"`
				} `xml:"urn:ietf:params:xml:ns:xmpp-bind bind"`
				Error struct {
					XMLName   xml.Name
					Condition struct {
						XMLName xml.Name
					} `xml:",any"`
				} `xml:"error"`
			}{}
			if err = s.codec.DecodeElement(&resp, &start); err != nil {
				return mask, nil, err
			}

			switch {
			case resp.ID != reqID:
				return mask, nil, newErr(KindBind, fmt.Errorf("xmppconn: bind response id %q does not match request id %q", resp.ID, reqID))
			case resp.Type == "error":
				return mask, nil, newErr(KindBind, fmt.Errorf("xmppconn: server returned bind error %s", resp.Error.Condition.XMLName.Local))
			case resp.Type != "result":
				return mask, nil, newErr(KindBind, fmt.Errorf("xmppconn: unexpected bind response type %q", resp.Type))
			case resp.Bind.JID == nil:
				return mask, nil, newErr(KindBind, fmt.Errorf("xmppconn: bind result contained no address"))
			}

			s.slock.Lock()
			s.bound = resp.Bind.JID
			s.slock.Unlock()
			return Bound, nil, nil
		},
	}
}

func escapeXML(s string) ([]byte, error) {
	var buf bytes.Buffer
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
