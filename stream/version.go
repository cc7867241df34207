// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stream

import (
	"encoding/xml"
	"errors"
	"strconv"
	"strings"
)

// DefaultVersion is the latest version of XMPP as defined by RFC 6120.
var DefaultVersion = Version{Major: 1, Minor: 0}

// Version is a version of XMPP.
type Version struct {
	Major uint8
	Minor uint8
}

// ParseVersion parses a string of the form "Major.Minor" into a Version
// struct or returns an error.
func ParseVersion(s string) (Version, error) {
	v := Version{}

	major, minor, ok := strings.Cut(s, ".")
	if !ok {
		return v, errors.New("stream: XMPP version must have a single separator")
	}

	m, err := strconv.ParseUint(major, 10, 8)
	if err != nil {
		return v, err
	}
	v.Major = uint8(m)

	m, err = strconv.ParseUint(minor, 10, 8)
	if err != nil {
		return v, err
	}
	v.Minor = uint8(m)

	return v, nil
}

// String prints a string representation of the XMPP version in the form
// "Major.Minor".
func (v Version) String() string {
	return strconv.FormatUint(uint64(v.Major), 10) + "." + strconv.FormatUint(uint64(v.Minor), 10)
}

// MarshalXMLAttr satisfies the xml.MarshalerAttr interface and marshals the
// version as an XML attribute using its string representation.
func (v Version) MarshalXMLAttr(name xml.Name) (xml.Attr, error) {
	return xml.Attr{Name: name, Value: v.String()}, nil
}

// UnmarshalXMLAttr satisfies the xml.UnmarshalerAttr interface and
// unmarshals an XML attribute into a valid XMPP version (or returns an
// error).
func (v *Version) UnmarshalXMLAttr(attr xml.Attr) error {
	parsed, err := ParseVersion(attr.Value)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
