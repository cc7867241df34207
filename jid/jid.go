// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package jid implements the XMPP address format.
//
// Addresses take the form localpart@domainpart/resourcepart where the
// localpart and resourcepart are optional. The connection engine only
// needs a validated, opaque address; full PRECIS enforcement of the
// local and resource parts is the business of a complete stringprep
// implementation and is not performed here.
package jid // import "mellium.im/xmppconn/jid"

import (
	"encoding/xml"
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
)

// Errors returned by the jid package.
var (
	ErrNoDomain     = errors.New("jid: address must contain a domainpart")
	ErrInvalidPart  = errors.New("jid: localpart or resourcepart is invalid")
	ErrLongPart     = errors.New("jid: localpart or resourcepart exceeds 1023 bytes")
	ErrInvalidUTF8  = errors.New("jid: address is not valid UTF-8")
	ErrNoResource   = errors.New("jid: resourcepart must not be empty if a slash is present")
	ErrEmptyLocal   = errors.New("jid: localpart must not be empty if an at sign is present")
	ErrInvalidIDNA  = errors.New("jid: domainpart failed IDNA validation")
	ErrLongDomain   = errors.New("jid: domainpart exceeds 1023 bytes")
	errEmptyAddress = errors.New("jid: address is empty")
)

// JID represents an XMPP address comprising a localpart, domainpart, and
// resourcepart. The zero value is invalid; use Parse or New.
type JID struct {
	localpart    string
	domainpart   string
	resourcepart string
}

// Parse constructs a new JID from the given string representation.
func Parse(s string) (*JID, error) {
	localpart, domainpart, resourcepart, err := SplitString(s)
	if err != nil {
		return nil, err
	}
	return New(localpart, domainpart, resourcepart)
}

// MustParse is like Parse but panics if the address cannot be parsed.
// It simplifies safe initialization of static addresses.
func MustParse(s string) *JID {
	j, err := Parse(s)
	if err != nil {
		panic(`jid: Parse(` + s + `): ` + err.Error())
	}
	return j
}

// New constructs a new JID from the given localpart, domainpart, and
// resourcepart.
func New(localpart, domainpart, resourcepart string) (*JID, error) {
	if err := commonChecks(localpart, domainpart, resourcepart); err != nil {
		return nil, err
	}
	domain, err := prepDomain(domainpart)
	if err != nil {
		return nil, err
	}
	return &JID{
		localpart:    localpart,
		domainpart:   domain,
		resourcepart: resourcepart,
	}, nil
}

// WithResource returns a copy of the JID with the resourcepart replaced.
func (j *JID) WithResource(resourcepart string) (*JID, error) {
	return New(j.localpart, j.domainpart, resourcepart)
}

// Bare returns a copy of the JID without its resourcepart. This is sometimes
// called a "bare" JID.
func (j *JID) Bare() *JID {
	return &JID{
		localpart:  j.localpart,
		domainpart: j.domainpart,
	}
}

// Domain returns a copy of the JID with no localpart or resourcepart.
func (j *JID) Domain() *JID {
	return &JID{domainpart: j.domainpart}
}

// Localpart gets the localpart of a JID (eg "username").
func (j *JID) Localpart() string {
	return j.localpart
}

// Domainpart gets the domainpart of a JID (eg. "example.net").
func (j *JID) Domainpart() string {
	return j.domainpart
}

// Resourcepart gets the resourcepart of a JID.
func (j *JID) Resourcepart() string {
	return j.resourcepart
}

// String converts a JID to its string representation.
func (j *JID) String() string {
	var b strings.Builder
	if j.localpart != "" {
		b.WriteString(j.localpart)
		b.WriteByte('@')
	}
	b.WriteString(j.domainpart)
	if j.resourcepart != "" {
		b.WriteByte('/')
		b.WriteString(j.resourcepart)
	}
	return b.String()
}

// Equal performs an octet-for-octet comparison with the given JID.
func (j *JID) Equal(j2 *JID) bool {
	if j == nil || j2 == nil {
		return j == j2
	}
	return j.localpart == j2.localpart &&
		j.domainpart == j2.domainpart &&
		j.resourcepart == j2.resourcepart
}

// MarshalXML satisfies the xml.Marshaler interface and marshals the JID as
// XML chardata.
func (j *JID) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	if err := e.EncodeToken(xml.CharData(j.String())); err != nil {
		return err
	}
	return e.EncodeToken(start.End())
}

// UnmarshalXML satisfies the xml.Unmarshaler interface and unmarshals the JID
// from the elements chardata.
func (j *JID) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var data struct {
		CharData string `xml:",chardata"`
	}
	if err := d.DecodeElement(&data, &start); err != nil {
		return err
	}
	parsed, err := Parse(data.CharData)
	if err != nil {
		return err
	}
	*j = *parsed
	return nil
}

// MarshalXMLAttr satisfies the xml.MarshalerAttr interface and marshals the
// JID as an XML attribute.
func (j *JID) MarshalXMLAttr(name xml.Name) (xml.Attr, error) {
	if j == nil {
		return xml.Attr{}, nil
	}
	return xml.Attr{Name: name, Value: j.String()}, nil
}

// UnmarshalXMLAttr satisfies the xml.UnmarshalerAttr interface and
// unmarshals an XML attribute into a valid JID (or returns an error).
func (j *JID) UnmarshalXMLAttr(attr xml.Attr) error {
	jid, err := Parse(attr.Value)
	if err != nil {
		return err
	}
	*j = *jid
	return nil
}

// SplitString splits out the localpart, domainpart, and resourcepart from a
// string representation of a JID. The parts are not guaranteed to be valid,
// and each part must be 1023 bytes or less.
func SplitString(s string) (localpart, domainpart, resourcepart string, err error) {
	if s == "" {
		return "", "", "", errEmptyAddress
	}
	if !utf8.ValidString(s) {
		return "", "", "", ErrInvalidUTF8
	}

	// RFC 7622 §3.1. Fundamentals:
	//
	//    Implementation Note: When dividing a JID into its component parts,
	//    an implementation needs to match the separator characters '@' and
	//    '/' before applying any transformation algorithms, which might
	//    decompose certain Unicode code points to the separator characters.
	sep := strings.IndexByte(s, '@')

	if sep == -1 {
		localpart = ""
	} else {
		localpart = s[:sep]
		if localpart == "" {
			return "", "", "", ErrEmptyLocal
		}
		s = s[sep+1:]
	}

	sep = strings.IndexByte(s, '/')
	if sep == -1 {
		domainpart = s
		resourcepart = ""
	} else {
		domainpart = s[:sep]
		resourcepart = s[sep+1:]
		if resourcepart == "" {
			return "", "", "", ErrNoResource
		}
	}

	if domainpart == "" {
		return "", "", "", ErrNoDomain
	}

	return localpart, domainpart, resourcepart, nil
}

func prepDomain(domainpart string) (string, error) {
	if l := len(domainpart); l < 1 || l > 1023 {
		return "", ErrLongDomain
	}
	// IP literals pass through; everything else must survive an IDNA
	// round trip.
	if strings.HasPrefix(domainpart, "[") && strings.HasSuffix(domainpart, "]") {
		return domainpart, nil
	}
	prepped, err := idna.Lookup.ToUnicode(domainpart)
	if err != nil {
		return "", ErrInvalidIDNA
	}
	return prepped, nil
}

func commonChecks(localpart, domainpart, resourcepart string) error {
	if len(localpart) > 1023 || len(resourcepart) > 1023 {
		return ErrLongPart
	}
	if domainpart == "" {
		return ErrNoDomain
	}
	// RFC 7622 §3.3.1 forbids these characters in the localpart even before
	// full profile enforcement.
	if strings.ContainsAny(localpart, "\"&'/:<>@") {
		return ErrInvalidPart
	}
	return nil
}
