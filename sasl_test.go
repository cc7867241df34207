// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppconn

import (
	"context"
	"encoding/xml"
	"errors"
	"reflect"
	"strconv"
	"strings"
	"testing"

	"mellium.im/sasl"
	"mellium.im/xmppconn/internal/saslerr"
)

func TestSASLPanicsWithNoMechanisms(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected SASL to panic with no mechanisms")
		}
	}()
	SASL("", "password")
}

func TestSASLParseMechanisms(t *testing.T) {
	feature := SASL("", "password", sasl.Plain)
	d := xml.NewDecoder(strings.NewReader(`<mechanisms xmlns="urn:ietf:params:xml:ns:xmpp-sasl"><mechanism>SCRAM-SHA-1</mechanism><mechanism>PLAIN</mechanism></mechanisms>`))
	tok, err := d.Token()
	if err != nil {
		t.Fatalf("unexpected error reading start token: %v", err)
	}
	start := tok.(xml.StartElement)

	req, data, err := feature.Parse(context.Background(), d, &start)
	if err != nil {
		t.Fatalf("unexpected error parsing mechanisms: %v", err)
	}
	if !req {
		t.Error("expected SASL to always be required")
	}
	list, ok := data.([]string)
	if !ok {
		t.Fatalf("wrong data type: %T", data)
	}
	if want := []string{"SCRAM-SHA-1", "PLAIN"}; !reflect.DeepEqual(list, want) {
		t.Errorf("wrong mechanism list: want=%v, got=%v", want, list)
	}
}

func TestSASLNoMatchingMechanism(t *testing.T) {
	feature := SASL("", "password", sasl.ScramSha256, sasl.ScramSha1)
	s, out := testSession(``)
	_, _, err := feature.Negotiate(context.Background(), s, []string{"X-OAUTH2", "EXTERNAL"})
	if !errors.Is(err, KindNoMechanism) {
		t.Errorf("expected KindNoMechanism, got %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("expected nothing on the wire after mechanism mismatch, got %q", out.String())
	}
}

// Mechanism selection follows the client preference order even when the
// server advertises its own order.
func TestSASLSelectionPrefersClientOrder(t *testing.T) {
	feature := SASL("", "password", sasl.ScramSha1, sasl.Plain)
	// The server rejects the exchange immediately so that negotiation stops
	// after the <auth/> is written.
	s, out := testSession(`<failure xmlns="urn:ietf:params:xml:ns:xmpp-sasl"><not-authorized/></failure>`)
	_, _, err := feature.Negotiate(context.Background(), s, []string{"PLAIN", "SCRAM-SHA-1"})
	if !errors.Is(err, KindAuth) {
		t.Fatalf("expected KindAuth from rejected exchange, got %v", err)
	}
	if !strings.Contains(out.String(), `mechanism='SCRAM-SHA-1'`) {
		t.Errorf("expected the stronger client-preferred mechanism, got %q", out.String())
	}
}

func TestSASLFailureCondition(t *testing.T) {
	feature := SASL("", "password", sasl.Plain)
	s, _ := testSession(`<failure xmlns="urn:ietf:params:xml:ns:xmpp-sasl"><account-disabled/><text>no more</text></failure>`)
	_, _, err := feature.Negotiate(context.Background(), s, []string{"PLAIN"})
	if !errors.Is(err, KindAuth) {
		t.Fatalf("expected KindAuth, got %v", err)
	}
	var fail saslerr.Failure
	if !errors.As(err, &fail) {
		t.Fatalf("expected a SASL failure in the chain, got %v", err)
	}
	if fail.Condition != saslerr.AccountDisabled {
		t.Errorf("wrong condition: %q", fail.Condition)
	}
}

func TestSASLSuccessRequestsRestart(t *testing.T) {
	feature := SASL("", "password", sasl.Plain)
	s, out := testSession(`<success xmlns="urn:ietf:params:xml:ns:xmpp-sasl"/>`)
	mask, rw, err := feature.Negotiate(context.Background(), s, []string{"PLAIN"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mask&Authn != Authn {
		t.Errorf("expected Authn bit, got %d", mask)
	}
	if rw == nil {
		t.Error("expected a stream restart after authentication")
	}
	if !strings.Contains(out.String(), `mechanism='PLAIN'`) {
		t.Errorf("expected a PLAIN auth element, got %q", out.String())
	}
	// The PLAIN message for test@example.net/password, base64 encoded per
	// RFC 6120 §6.4.2. Raw mechanism output contains NUL bytes and would be
	// rejected by any compliant server.
	if !strings.Contains(out.String(), `>AHRlc3QAcGFzc3dvcmQ=</auth>`) {
		t.Errorf("expected a base64 encoded initial response, got %q", out.String())
	}
}

func TestSASLChallengeDecoded(t *testing.T) {
	s, _ := testSession(`<challenge xmlns="urn:ietf:params:xml:ns:xmpp-sasl">dGVzdA==</challenge>`)
	challenge, success, err := decodeSASLChallenge(s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if success {
		t.Error("expected a challenge, not success")
	}
	if string(challenge) != "test" {
		t.Errorf("wrong challenge payload: %q", challenge)
	}
}

var saslPayloadTests = [...]struct {
	in   string
	want string
}{
	0: {in: "", want: ""},
	1: {in: "=", want: ""},
	2: {in: " dGVzdA== ", want: "test"},
}

func TestSASLPayloadDecoding(t *testing.T) {
	for i, tc := range saslPayloadTests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			got, err := decodeSASLPayload([]byte(tc.in))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tc.want {
				t.Errorf("wrong payload: want=%q, got=%q", tc.want, got)
			}
		})
	}
	if _, err := decodeSASLPayload([]byte("not base64!")); err == nil {
		t.Error("expected an error decoding a corrupt payload")
	}
}
