// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package codec implements the XML framing layer of an XMPP stream.
//
// An XMPP stream is a single XML document whose root element does not close
// until the session ends, so the codec can never buffer the whole document:
// it tokenizes incrementally and yields one token at a time. The codec is
// restartable: after STARTTLS and after SASL authentication the protocol
// requires the XML stream to start over from a fresh root element while the
// underlying byte stream is retained, so Reset discards every piece of
// parser and serializer state (open tag nesting, partial token buffers,
// declared namespaces) without touching the connection.
package codec // import "mellium.im/xmppconn/codec"

import (
	"encoding/xml"
	"io"
)

// A Decoder is anything that can be used to decode an XML token stream
// (including an *xml.Decoder).
type Decoder interface {
	DecodeElement(v interface{}, start *xml.StartElement) error
	Decode(v interface{}) error
	Skip() error
	Token() (xml.Token, error)
}

// An Encoder is anything that can be used to encode an XML token stream
// (including an *xml.Encoder).
type Encoder interface {
	EncodeElement(v interface{}, start xml.StartElement) error
	EncodeToken(t xml.Token) error
	Encode(v interface{}) error
	Flush() error
}

// A Codec wraps a duplex byte stream with an incremental XML tokenizer and
// serializer. It implements both Decoder and Encoder.
//
// A Codec is not safe for concurrent use: the session engine guarantees that
// a single goroutine drives the decode side and a single goroutine drives
// the encode side.
type Codec struct {
	rw io.ReadWriter
	d  *xml.Decoder
	e  *xml.Encoder
}

// New returns a Codec framing the given byte stream.
func New(rw io.ReadWriter) *Codec {
	c := &Codec{}
	c.Reset(rw)
	return c
}

// Reset discards all parser and serializer state and begins a new XML
// document on rw. If rw is nil the current byte stream is retained: this is
// the stream restart performed after STARTTLS and after authentication,
// where the same socket carries a brand new document.
func (c *Codec) Reset(rw io.ReadWriter) {
	if rw != nil {
		c.rw = rw
	}
	c.d = xml.NewDecoder(c.rw)
	c.e = xml.NewEncoder(c.rw)
}

// Conn returns the byte stream the codec is framing.
func (c *Codec) Conn() io.ReadWriter {
	return c.rw
}

// Token returns the next XML token from the stream. Malformed XML is
// reported as an *xml.SyntaxError; the codec performs no mid-document
// recovery, so after any error the stream must be torn down or Reset.
func (c *Codec) Token() (xml.Token, error) {
	return c.d.Token()
}

// DecodeElement decodes the element starting at start into v.
func (c *Codec) DecodeElement(v interface{}, start *xml.StartElement) error {
	return c.d.DecodeElement(v, start)
}

// Decode works like xml.Decoder.Decode.
func (c *Codec) Decode(v interface{}) error {
	return c.d.Decode(v)
}

// Skip reads tokens until it reaches the end element matching the most
// recent start element already consumed.
func (c *Codec) Skip() error {
	return c.d.Skip()
}

// EncodeToken writes the given token to the stream. Tokens are buffered
// until Flush is called.
func (c *Codec) EncodeToken(t xml.Token) error {
	return c.e.EncodeToken(t)
}

// EncodeElement encodes v, wrapped in the given start element.
func (c *Codec) EncodeElement(v interface{}, start xml.StartElement) error {
	return c.e.EncodeElement(v, start)
}

// Encode works like xml.Encoder.Encode.
func (c *Codec) Encode(v interface{}) error {
	return c.e.Encode(v)
}

// Flush writes any buffered output to the byte stream.
func (c *Codec) Flush() error {
	return c.e.Flush()
}
