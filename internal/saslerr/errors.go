// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package saslerr provides error conditions for the XMPP profile of SASL as
// defined by RFC 6120 §6.5.
package saslerr // import "mellium.im/xmppconn/internal/saslerr"

import (
	"encoding/xml"
)

// Condition represents a SASL error condition that can be encapsulated by a
// <failure/> element.
type Condition string

// Standard SASL error conditions.
const (
	Aborted              Condition = "aborted"
	AccountDisabled      Condition = "account-disabled"
	CredentialsExpired   Condition = "credentials-expired"
	EncryptionRequired   Condition = "encryption-required"
	IncorrectEncoding    Condition = "incorrect-encoding"
	InvalidAuthzID       Condition = "invalid-authzid"
	InvalidMechanism     Condition = "invalid-mechanism"
	MalformedRequest     Condition = "malformed-request"
	MechanismTooWeak     Condition = "mechanism-too-weak"
	NotAuthorized        Condition = "not-authorized"
	TemporaryAuthFailure Condition = "temporary-auth-failure"
)

// Failure represents a SASL <failure/> element received from the server.
type Failure struct {
	Condition Condition
	Text      string
}

// Error satisfies the error interface for a Failure. It returns the text
// string if set, or the condition otherwise.
func (f Failure) Error() string {
	if f.Text != "" {
		return f.Text
	}
	return string(f.Condition)
}

// UnmarshalXML satisfies the xml.Unmarshaler interface for a Failure.
func (f *Failure) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	decoded := struct {
		Text string `xml:"urn:ietf:params:xml:ns:xmpp-sasl text"`
		Err  struct {
			XMLName xml.Name
		} `xml:",any"`
	}{}
	if err := d.DecodeElement(&decoded, &start); err != nil {
		return err
	}
	f.Condition = Condition(decoded.Err.XMLName.Local)
	f.Text = decoded.Text
	return nil
}
