// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package stream contains internal stream handshake parsing and handling
// behavior.
package stream // import "mellium.im/xmppconn/internal/stream"

import (
	"bufio"
	"context"
	"encoding/xml"
	"fmt"
	"io"

	"mellium.im/xmppconn/codec"
	"mellium.im/xmppconn/internal/ns"
	"mellium.im/xmppconn/stream"
)

// XMLHeader is the XML declaration sent before the stream open element. The
// default xml.Header constant includes a newline, which is disallowed at the
// top level of an XMPP stream.
const XMLHeader = `<?xml version="1.0" encoding="UTF-8"?>`

// Send writes a new XML header followed by a stream start element to the
// given io.Writer.
// We don't use an xml.Encoder both because Go's standard library xml package
// really doesn't like the namespaced stream:stream attribute and because we
// can guarantee well-formedness of the XML with a print in this case and
// printing is much faster than encoding.
func Send(w io.Writer, s2s bool, version stream.Version, lang, location, origin, id string) (stream.Info, error) {
	info := stream.Info{}
	switch s2s {
	case true:
		info.XMLNS = ns.Server
	case false:
		info.XMLNS = ns.Client
	}

	info.ID = id
	if id == "" {
		id = " "
	} else {
		id = ` id='` + id + `' `
	}

	b := bufio.NewWriter(w)
	_, err := fmt.Fprintf(b,
		XMLHeader+`<stream:stream%sto='%s' from='%s' version='%s' `,
		id,
		location,
		origin,
		version,
	)
	if err != nil {
		return info, err
	}

	if len(lang) > 0 {
		if _, err = b.WriteString("xml:lang='"); err != nil {
			return info, err
		}
		if err = xml.EscapeText(b, []byte(lang)); err != nil {
			return info, err
		}
		if _, err = b.WriteString("' "); err != nil {
			return info, err
		}
		info.Lang = lang
	}

	_, err = fmt.Fprintf(b, `xmlns='%s' xmlns:stream='`+stream.NS+`'>`, info.XMLNS)
	if err != nil {
		return info, err
	}

	return info, b.Flush()
}

// Expect reads tokens from d until a stream start element is found, then
// parses and validates it.
// If the server responds with a stream error before (or instead of) the
// stream open, the decoded stream.Error is returned.
// If recv is false the initiating entity is reading the response stream and
// the server-generated ID is required.
func Expect(ctx context.Context, d codec.Decoder, recv bool) (stream.Info, error) {
	info := stream.Info{}
	var foundHeader bool

	for {
		select {
		case <-ctx.Done():
			return info, ctx.Err()
		default:
		}
		t, err := d.Token()
		if err != nil {
			return info, err
		}
		switch tok := t.(type) {
		case xml.StartElement:
			switch {
			case tok.Name.Local == "error" && tok.Name.Space == ns.Stream:
				se := stream.Error{}
				if err := d.DecodeElement(&se, &tok); err != nil {
					return info, err
				}
				return info, se
			case tok.Name.Local != "stream":
				return info, stream.BadFormat
			case tok.Name.Space != ns.Stream:
				return info, stream.InvalidNamespace
			}

			err = info.FromStartElement(tok)
			switch {
			case err != nil:
				return info, err
			case info.Version != stream.DefaultVersion:
				return info, stream.UnsupportedVersion
			}

			if !recv && info.ID == "" {
				// The server must assign an ID to the response stream.
				return info, stream.BadFormat
			}
			return info, nil
		case xml.ProcInst:
			if !foundHeader && tok.Target == "xml" {
				foundHeader = true
				continue
			}
			return info, stream.RestrictedXML
		case xml.CharData:
			// Whitespace keepalives are legal between top level elements.
			for _, b := range tok {
				switch b {
				case ' ', '\t', '\r', '\n':
				default:
					return info, stream.BadFormat
				}
			}
		case xml.EndElement:
			return info, stream.NotWellFormed
		default:
			return info, stream.RestrictedXML
		}
	}
}
