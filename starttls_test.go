// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppconn

import (
	"context"
	"encoding/xml"
	"errors"
	"strings"
	"testing"
)

func parseStartTLS(t *testing.T, advert string) (bool, interface{}) {
	t.Helper()
	feature := StartTLS(nil)
	d := xml.NewDecoder(strings.NewReader(advert))
	tok, err := d.Token()
	if err != nil {
		t.Fatalf("unexpected error reading start token: %v", err)
	}
	start := tok.(xml.StartElement)
	req, data, err := feature.Parse(context.Background(), d, &start)
	if err != nil {
		t.Fatalf("unexpected error parsing advertisement: %v", err)
	}
	return req, data
}

func TestStartTLSParse(t *testing.T) {
	req, _ := parseStartTLS(t, `<starttls xmlns="urn:ietf:params:xml:ns:xmpp-tls"/>`)
	if req {
		t.Error("expected optional starttls advertisement")
	}
	req, _ = parseStartTLS(t, `<starttls xmlns="urn:ietf:params:xml:ns:xmpp-tls"><required/></starttls>`)
	if !req {
		t.Error("expected required starttls advertisement")
	}
}

func TestStartTLSRefused(t *testing.T) {
	feature := StartTLS(nil)
	s, out := testSession(`<failure xmlns="urn:ietf:params:xml:ns:xmpp-tls"/>`)

	_, _, err := feature.Negotiate(context.Background(), s, false)
	if !errors.Is(err, KindTLS) {
		t.Errorf("expected KindTLS for refused optional upgrade, got %v", err)
	}
	if !strings.Contains(out.String(), "<starttls") {
		t.Errorf("expected a starttls command on the wire, got %q", out.String())
	}
}

func TestStartTLSRequiredRefused(t *testing.T) {
	feature := StartTLS(nil)
	s, _ := testSession(`<failure xmlns="urn:ietf:params:xml:ns:xmpp-tls"/>`)

	_, _, err := feature.Negotiate(context.Background(), s, true)
	if !errors.Is(err, KindPolicy) {
		t.Errorf("expected KindPolicy for refused mandatory upgrade, got %v", err)
	}
}

func TestStartTLSProhibitedWhenSecure(t *testing.T) {
	feature := StartTLS(nil)
	if feature.Prohibited&Secure != Secure {
		t.Error("starttls must not be negotiated twice on the same connection")
	}
}
