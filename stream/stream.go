// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package stream contains XMPP stream metadata and errors.
//
// Most users will want to use the facilities of the mellium.im/xmppconn
// package and will not need to interact with this package directly.
package stream // import "mellium.im/xmppconn/stream"

import (
	"encoding/xml"

	"mellium.im/xmppconn/internal/ns"
	"mellium.im/xmppconn/jid"
)

// NS is the namespace of the stream root element.
const NS = "http://etherx.jabber.org/streams"

// Info contains metadata extracted from a stream start token.
type Info struct {
	Name    xml.Name
	XMLNS   string
	To      *jid.JID
	From    *jid.JID
	ID      string
	Version Version
	Lang    string
}

// FromStartElement sets the data in Info from the provided stream start
// element. Addressing, version, and namespace problems are reported as the
// stream errors that the engine should respond with.
func (i *Info) FromStartElement(start xml.StartElement) error {
	i.Name = start.Name
	for _, attr := range start.Attr {
		switch attr.Name {
		case xml.Name{Space: "", Local: "to"}:
			i.To = &jid.JID{}
			if err := i.To.UnmarshalXMLAttr(attr); err != nil {
				return ImproperAddressing
			}
		case xml.Name{Space: "", Local: "from"}:
			i.From = &jid.JID{}
			if err := i.From.UnmarshalXMLAttr(attr); err != nil {
				return ImproperAddressing
			}
		case xml.Name{Space: "", Local: "id"}:
			i.ID = attr.Value
		case xml.Name{Space: "", Local: "version"}:
			if err := (&i.Version).UnmarshalXMLAttr(attr); err != nil {
				return BadFormat
			}
		case xml.Name{Space: "", Local: "xmlns"}:
			switch attr.Value {
			case ns.Client, ns.Server, ns.Component:
			default:
				return InvalidNamespace
			}
			i.XMLNS = attr.Value
		case xml.Name{Space: "xmlns", Local: "stream"}:
			if attr.Value != NS {
				return InvalidNamespace
			}
		case xml.Name{Space: "xml", Local: "lang"}:
			i.Lang = attr.Value
		}
	}
	return nil
}
