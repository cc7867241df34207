// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppconn

import (
	"context"
	"encoding/xml"
	"errors"
	"net"

	"mellium.im/xmppconn/internal/saslerr"
	"mellium.im/xmppconn/stream"
)

// Kind classifies the failures that the connection engine can report so that
// callers can branch on the cause of an error instead of matching strings.
type Kind int

// The failure classes reported by the engine.
const (
	// KindResolution indicates that no usable endpoint could be discovered
	// for the target domain.
	KindResolution Kind = 1 + iota

	// KindConnect indicates a transport level connection failure.
	KindConnect

	// KindTLS indicates a TLS handshake or certificate validation failure.
	KindTLS

	// KindParse indicates malformed XML on the stream.
	KindParse

	// KindPolicy indicates that a required security property was not met,
	// eg. the server mandates STARTTLS but the upgrade failed or was refused.
	KindPolicy

	// KindNoMechanism indicates that no server offered SASL mechanism is
	// compatible with the configured credentials.
	KindNoMechanism

	// KindAuth indicates that SASL authentication failed.
	KindAuth

	// KindTimeout indicates that a negotiation phase exceeded its bounded
	// wait.
	KindTimeout

	// KindBind indicates that resource binding failed.
	KindBind

	// KindStreamProtocol indicates a stream level error sent by the server;
	// the original condition is preserved as a wrapped stream.Error.
	KindStreamProtocol
)

var kindNames = map[Kind]string{
	KindResolution:     "resolution failed",
	KindConnect:        "connection failed",
	KindTLS:            "TLS failed",
	KindParse:          "parse error",
	KindPolicy:         "security policy unmet",
	KindNoMechanism:    "no compatible auth mechanism",
	KindAuth:           "authentication failed",
	KindTimeout:        "negotiation timed out",
	KindBind:           "resource binding failed",
	KindStreamProtocol: "stream error",
}

// String returns a human readable name for the failure class.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown error"
}

// Error satisfies the error interface so that a bare Kind can be used as a
// target for errors.Is.
func (k Kind) Error() string {
	return k.String()
}

// An Error associates a failure class with its underlying cause. All errors
// returned by the engine during connection establishment and negotiation are
// of this type.
type Error struct {
	Kind Kind
	Err  error
}

// Error satisfies the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return "xmppconn: " + e.Kind.String()
	}
	return "xmppconn: " + e.Kind.String() + ": " + e.Err.Error()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target matches this error's Kind, allowing
// errors.Is(err, xmppconn.KindAuth) style branching.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// KindOf extracts the failure class from an error chain, or zero if the
// chain contains no engine error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func newErr(k Kind, err error) *Error {
	return &Error{Kind: k, Err: err}
}

// wrapNegotiationError classifies errors that bubble up from the negotiation
// machinery into the engine taxonomy. Errors that are already classified
// pass through untouched.
func wrapNegotiationError(err error) error {
	if err == nil {
		return nil
	}
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return err
	}
	var streamErr stream.Error
	if errors.As(err, &streamErr) {
		return newErr(KindStreamProtocol, err)
	}
	var saslFail saslerr.Failure
	if errors.As(err, &saslFail) {
		return newErr(KindAuth, err)
	}
	var syntaxErr *xml.SyntaxError
	if errors.As(err, &syntaxErr) {
		return newErr(KindParse, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newErr(KindTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newErr(KindTimeout, err)
	}
	return err
}
