// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stream

import (
	"encoding/xml"

	"mellium.im/xmlstream"
	"mellium.im/xmppconn/internal/ns"
)

// NSError is the namespace of stream error conditions as defined by RFC 6120
// §4.9.
const NSError = "urn:ietf:params:xml:ns:xmpp-streams"

// A list of stream errors defined in RFC 6120 §4.9.3. The engine only ever
// receives these from the server; it reports protocol violations of its own
// by tearing down the connection.
var (
	// BadFormat is used when the entity has sent XML that cannot be processed.
	BadFormat = Error{Err: "bad-format"}

	// BadNamespacePrefix is sent when an entity has sent a namespace prefix
	// that is unsupported on an element that needs such a prefix.
	BadNamespacePrefix = Error{Err: "bad-namespace-prefix"}

	// Conflict is sent when the server is closing or refusing a stream because
	// it conflicts with another stream for the same entity.
	Conflict = Error{Err: "conflict"}

	// ConnectionTimeout results when one party believes the other has
	// permanently lost the ability to communicate over the stream.
	ConnectionTimeout = Error{Err: "connection-timeout"}

	// HostGone is sent when the 'to' address names an FQDN that is no longer
	// serviced by the receiving entity.
	HostGone = Error{Err: "host-gone"}

	// HostUnknown is sent when the 'to' address names an FQDN that is not
	// serviced by the receiving entity.
	HostUnknown = Error{Err: "host-unknown"}

	// ImproperAddressing is used when a stanza lacks a 'to' or 'from'
	// attribute or the value violates the address format.
	ImproperAddressing = Error{Err: "improper-addressing"}

	// InternalServerError is sent when the server has experienced an internal
	// error that prevents it from servicing the stream.
	InternalServerError = Error{Err: "internal-server-error"}

	// InvalidNamespace may be sent when the stream or content namespace is not
	// one the receiving entity supports.
	InvalidNamespace = Error{Err: "invalid-namespace"}

	// InvalidXML may be sent when the entity has sent invalid XML over the
	// stream.
	InvalidXML = Error{Err: "invalid-xml"}

	// NotAuthorized may be sent when an entity attempts to send data before
	// the stream is authenticated.
	NotAuthorized = Error{Err: "not-authorized"}

	// NotWellFormed may be sent when the XML sent violates the
	// well-formedness rules of XML or XML namespaces.
	NotWellFormed = Error{Err: "not-well-formed"}

	// PolicyViolation may be sent when an entity has violated a local service
	// policy.
	PolicyViolation = Error{Err: "policy-violation"}

	// RestrictedXML may be sent when the entity has attempted to send
	// restricted XML features such as a comment, processing instruction, DTD
	// subset, or XML entity reference.
	RestrictedXML = Error{Err: "restricted-xml"}

	// SystemShutdown may be sent when the server is being shut down.
	SystemShutdown = Error{Err: "system-shutdown"}

	// UndefinedCondition may be sent when the error condition is not one of
	// the defined conditions.
	UndefinedCondition = Error{Err: "undefined-condition"}

	// UnsupportedStanzaType may be sent when the initiating entity has sent a
	// first-level child of the stream that is not supported by the server.
	UnsupportedStanzaType = Error{Err: "unsupported-stanza-type"}

	// UnsupportedVersion may be sent when the 'version' attribute specifies a
	// version of XMPP that is not supported.
	UnsupportedVersion = Error{Err: "unsupported-version"}
)

// An Error represents an unrecoverable stream-level error received from the
// other side of the connection.
type Error struct {
	// Err is the defined condition, eg. "conflict".
	Err string

	// Text is the optional descriptive text accompanying the condition.
	Text string
}

// Error satisfies the builtin error interface and returns the name of the
// stream error, eg. "conflict".
func (s Error) Error() string {
	return "stream error: " + s.Err
}

// Is compares the condition of two stream errors, ignoring descriptive text,
// so that errors.Is(err, stream.Conflict) matches any conflict error.
func (s Error) Is(target error) bool {
	t, ok := target.(Error)
	return ok && t.Err == s.Err
}

// UnmarshalXML satisfies the xml package's Unmarshaler interface.
func (s *Error) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	se := struct {
		XMLName xml.Name
		Text    string `xml:"urn:ietf:params:xml:ns:xmpp-streams text"`
		Err     struct {
			XMLName xml.Name
		} `xml:",any"`
	}{}
	err := d.DecodeElement(&se, &start)
	if err != nil {
		return err
	}
	s.Err = se.Err.XMLName.Local
	s.Text = se.Text
	return nil
}

// MarshalXML satisfies the xml package's Marshaler interface.
func (s Error) MarshalXML(e *xml.Encoder, _ xml.StartElement) error {
	err := s.WriteXML(e)
	if err != nil {
		return err
	}
	return e.Flush()
}

// WriteXML writes an encoding of the error to w. It is like MarshalXML
// except it writes tokens directly.
func (s Error) WriteXML(w xmlstream.TokenWriter) error {
	_, err := xmlstream.Copy(w, s.TokenReader())
	return err
}

// TokenReader returns a new xml.TokenReader that returns an encoding of the
// error.
func (s Error) TokenReader() xml.TokenReader {
	inner := xmlstream.Wrap(nil, xml.StartElement{
		Name: xml.Name{Local: s.Err, Space: NSError},
	})
	if s.Text != "" {
		inner = xmlstream.MultiReader(inner, xmlstream.Wrap(
			xmlstream.Token(xml.CharData(s.Text)),
			xml.StartElement{Name: xml.Name{Local: "text", Space: NSError}},
		))
	}
	return xmlstream.Wrap(inner, xml.StartElement{
		Name: xml.Name{Local: "error", Space: ns.Stream},
	})
}
