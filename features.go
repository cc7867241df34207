// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppconn

import (
	"context"
	"encoding/xml"
	"io"

	"mellium.im/xmppconn/codec"
	"mellium.im/xmppconn/internal/ns"
	"mellium.im/xmppconn/stream"
)

// A StreamFeature represents a feature that may be selected during stream
// negotiation. Features should be stateless and usable from multiple
// goroutines unless otherwise specified.
type StreamFeature struct {
	// The XML name of the feature in the <stream:features/> list. If a start
	// element with this name is seen while reading the features list, it
	// triggers this StreamFeature's Parse function as a callback.
	Name xml.Name

	// Bits that are required before this feature may be negotiated. For
	// instance, resource binding only makes sense after authentication, so
	// its Necessary bits are set to Authn.
	Necessary SessionState

	// Bits that must be off for this feature to be negotiated. For instance,
	// a feature that creates a security layer should set Prohibited to
	// Secure so that it is not negotiated twice.
	Prohibited SessionState

	// Parse reads the feature advertisement that begins with the given start
	// element. It reports whether the server marked the feature as required,
	// and returns any data needed if the feature is selected for
	// negotiation (eg. the list of mechanism names for SASL). The start
	// element was read from d, so the advertisement must be decoded through
	// d as well.
	Parse func(ctx context.Context, d codec.Decoder, start *xml.StartElement) (req bool, data interface{}, err error)

	// Negotiate takes over the session to negotiate the feature. The
	// returned mask is OR'ed into the session state on success. If a new
	// io.ReadWriter is returned the stream is restarted on it, discarding
	// all codec state.
	Negotiate func(ctx context.Context, s *Session, data interface{}) (mask SessionState, rw io.ReadWriter, err error)
}

type sfData struct {
	req     bool
	done    bool
	data    interface{}
	feature StreamFeature
}

type streamFeaturesList struct {
	total int
	// cache preserves the server's advertisement order.
	cache []sfData
	// requiredUnhandled records features the server marked required that no
	// configured StreamFeature can negotiate.
	requiredUnhandled []xml.Name
}

// negotiateFeatures reads one features advertisement from the stream and
// negotiates as many of the advertised features as possible. It returns a
// non-nil rw when a negotiated feature requires a stream restart; it sets
// the Ready bit on the returned mask once no feature remains that needs
// negotiating.
func negotiateFeatures(ctx context.Context, s *Session, features []StreamFeature) (mask SessionState, rw io.ReadWriter, err error) {
	start, err := nextStartElement(ctx, s)
	if err != nil {
		return mask, nil, err
	}
	list, err := readStreamFeatures(ctx, s, start, features)
	if err != nil {
		return mask, nil, err
	}

	for _, name := range list.requiredUnhandled {
		// Refusing to continue without a mandatory feature we cannot
		// negotiate. Failing to secure the stream is a policy violation, not
		// a generic protocol mismatch.
		if name.Space == ns.StartTLS {
			return mask, nil, newErr(KindPolicy, stream.PolicyViolation)
		}
		return mask, nil, newErr(KindPolicy, stream.UnsupportedStanzaType)
	}

	if list.total == 0 {
		// An empty advertisement means negotiation is complete.
		return Ready, nil, nil
	}

	for {
		sel := selectFeature(list, s.State()|mask)
		if sel == nil {
			return mask | Ready, nil, nil
		}

		m, frw, err := sel.feature.Negotiate(ctx, s, sel.data)
		mask |= m
		if err != nil {
			return mask, nil, err
		}
		sel.done = true
		if frw != nil {
			// The feature replaced or reset the byte stream; restart before
			// negotiating anything else.
			return mask, frw, nil
		}
	}
}

// selectFeature picks the next advertised feature whose state bits permit
// negotiation, preferring required features.
func selectFeature(list *streamFeaturesList, state SessionState) *sfData {
	// An unmet TLS mandate outranks advertisement order: while the server
	// requires STARTTLS and the stream is not secure, nothing else may be
	// negotiated, so that credentials never cross the plaintext stream.
	if state&Secure == 0 {
		for i := range list.cache {
			candidate := &list.cache[i]
			if !candidate.done && candidate.req && candidate.feature.Name.Space == ns.StartTLS {
				return candidate
			}
		}
	}

	var optional *sfData
	for i := range list.cache {
		candidate := &list.cache[i]
		if candidate.done {
			continue
		}
		f := candidate.feature
		if state&f.Necessary != f.Necessary || state&f.Prohibited != 0 {
			continue
		}
		if candidate.req {
			return candidate
		}
		if optional == nil {
			optional = candidate
		}
	}
	return optional
}

// nextStartElement reads tokens until a start element is found, skipping
// whitespace keepalives, and decodes a stream error if one arrives instead.
func nextStartElement(ctx context.Context, s *Session) (xml.StartElement, error) {
	for {
		select {
		case <-ctx.Done():
			return xml.StartElement{}, ctx.Err()
		default:
		}
		t, err := s.codec.Token()
		if err != nil {
			return xml.StartElement{}, err
		}
		switch tok := t.(type) {
		case xml.StartElement:
			if tok.Name.Space == ns.Stream && tok.Name.Local == "error" {
				se := stream.Error{}
				if err := s.codec.DecodeElement(&se, &tok); err != nil {
					return xml.StartElement{}, err
				}
				return xml.StartElement{}, se
			}
			return tok, nil
		case xml.CharData:
			if len(trimWhitespace(tok)) > 0 {
				return xml.StartElement{}, stream.BadFormat
			}
		default:
			return xml.StartElement{}, stream.RestrictedXML
		}
	}
}

func trimWhitespace(b []byte) []byte {
	for len(b) > 0 {
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			b = b[1:]
		default:
			return b
		}
	}
	return b
}

func readStreamFeatures(ctx context.Context, s *Session, start xml.StartElement, features []StreamFeature) (*streamFeaturesList, error) {
	switch {
	case start.Name.Local != "features":
		return nil, stream.InvalidXML
	case start.Name.Space != ns.Stream:
		return nil, stream.BadNamespacePrefix
	}

	sf := &streamFeaturesList{}

parsefeatures:
	for {
		t, err := s.codec.Token()
		if err != nil {
			return nil, err
		}
		switch tok := t.(type) {
		case xml.StartElement:
			// If the token is a new feature, see if it's one we handle. If
			// so, parse it. Increment the total features count regardless.
			sf.total++
			s.setFeature(tok.Name.Space, nil)
			for _, feature := range features {
				if feature.Name != tok.Name {
					continue
				}
				if s.State()&feature.Necessary != feature.Necessary || s.State()&feature.Prohibited != 0 {
					break
				}
				req, data, err := feature.Parse(ctx, s.codec, &tok)
				if err != nil {
					return nil, err
				}
				s.setFeature(tok.Name.Space, data)
				sf.cache = append(sf.cache, sfData{
					req:     req,
					data:    data,
					feature: feature,
				})
				continue parsefeatures
			}
			// We cannot handle the feature: note it if the server requires
			// it, then skip it.
			req, err := skipUnknownFeature(s, &tok)
			if err != nil {
				return nil, err
			}
			if req {
				sf.requiredUnhandled = append(sf.requiredUnhandled, tok.Name)
			}
		case xml.EndElement:
			if tok.Name.Local == "features" && tok.Name.Space == ns.Stream {
				// We've reached the end of the features list.
				return sf, nil
			}
			// We shouldn't have been able to hit an end element that wasn't
			// the </stream:features> token.
			return nil, stream.InvalidXML
		case xml.CharData:
			if len(trimWhitespace(tok)) > 0 {
				return nil, stream.BadFormat
			}
		default:
			return nil, stream.RestrictedXML
		}
	}
}

// skipUnknownFeature consumes an unhandled feature advertisement and reports
// whether it contained a <required/> child.
func skipUnknownFeature(s *Session, start *xml.StartElement) (req bool, err error) {
	depth := 1
	for depth > 0 {
		t, err := s.codec.Token()
		if err != nil {
			return req, err
		}
		switch tok := t.(type) {
		case xml.StartElement:
			if depth == 1 && tok.Name.Local == "required" {
				req = true
			}
			depth++
		case xml.EndElement:
			depth--
		}
	}
	return req, nil
}
