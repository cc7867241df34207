// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stream

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"mellium.im/xmppconn/codec"
	"mellium.im/xmppconn/internal/ns"
	"mellium.im/xmppconn/stream"
)

// Errors related to stream handling.
var (
	ErrUnknownStreamElement = errors.New("xmppconn: unknown stream level element")
	ErrUnexpectedRestart    = errors.New("xmppconn: unexpected stream restart")
)

type reader struct {
	d codec.Decoder
}

func (r reader) Token() (xml.Token, error) {
	tok, err := r.d.Token()
	if err != nil {
		return nil, err
	}

	switch t := tok.(type) {
	case xml.StartElement:
		if t.Name.Space != ns.Stream {
			return tok, err
		}

		// Handle stream errors and unknown stream namespaced tokens first,
		// before delegating to the normal handler.
		switch t.Name.Local {
		case "error":
			e := stream.Error{}
			err = r.d.DecodeElement(&e, &t)
			if err != nil {
				return nil, err
			}
			return nil, e
		case "stream":
			return nil, ErrUnexpectedRestart
		default:
			return nil, ErrUnknownStreamElement
		}
	case xml.EndElement:
		if t.Name.Space != ns.Stream {
			return tok, err
		}

		// If this is a stream end element, we're done.
		if t.Name.Local == "stream" {
			return nil, io.EOF
		}

		// If this is a stream level end element but not </stream:stream>,
		// something is really weird.
		return nil, stream.BadFormat
	case xml.CharData:
		// Pass chardata through. Any non-whitespace chardata at the top level
		// of the stream is rejected by the element handler.
		return tok, err
	}
	// Other XML tokens are forbidden.
	return tok, fmt.Errorf("xmppconn: invalid token type: %T", tok)
}

// Reader returns a token reader that handles stream level tokens on an
// already established stream: stream errors become typed errors and the
// closing of the stream root becomes io.EOF. The stream error body is
// decoded through d, which must be the decoder the tokens come from.
func Reader(d codec.Decoder) xml.TokenReader {
	return reader{d: d}
}
