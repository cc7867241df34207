// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppconn

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"strings"
	"testing"

	"mellium.im/xmppconn/codec"
	"mellium.im/xmppconn/jid"
	"mellium.im/xmppconn/stream"
)

type testRW struct {
	io.Reader
	io.Writer
}

// ReadByte keeps the decoder from buffering past the tokens it has returned.
func (rw testRW) ReadByte() (byte, error) {
	if br, ok := rw.Reader.(io.ByteReader); ok {
		return br.ReadByte()
	}
	var b [1]byte
	_, err := io.ReadFull(rw.Reader, b[:])
	return b[0], err
}

func testSession(in string) (*Session, *strings.Builder) {
	var out strings.Builder
	s := newSession(
		jid.MustParse("example.net"),
		jid.MustParse("test@example.net"),
		testRW{Reader: strings.NewReader(in), Writer: &out},
		newConfig(),
	)
	return s, &out
}

// parseConsume is a Parse implementation for stub features that discards the
// advertisement.
func parseConsume(ctx context.Context, d codec.Decoder, start *xml.StartElement) (bool, interface{}, error) {
	v := struct{}{}
	return false, nil, d.DecodeElement(&v, start)
}

const featuresNS = `xmlns:stream="http://etherx.jabber.org/streams"`

func TestNegotiateEmptyFeatures(t *testing.T) {
	s, _ := testSession(`<stream:features ` + featuresNS + `></stream:features>`)
	mask, rw, err := negotiateFeatures(context.Background(), s, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rw != nil {
		t.Error("expected no stream restart")
	}
	if mask&Ready != Ready {
		t.Errorf("expected Ready after empty advertisement, got %d", mask)
	}
}

func TestMandatoryTLSUnhandled(t *testing.T) {
	s, _ := testSession(`<stream:features ` + featuresNS + `><starttls xmlns="urn:ietf:params:xml:ns:xmpp-tls"><required/></starttls></stream:features>`)
	mask, _, err := negotiateFeatures(context.Background(), s, nil)
	if mask&Ready == Ready {
		t.Error("session must never become ready with an unmet TLS mandate")
	}
	if !errors.Is(err, KindPolicy) {
		t.Errorf("expected a policy error, got %v", err)
	}
	if !errors.Is(err, stream.PolicyViolation) {
		t.Errorf("expected policy-violation condition, got %v", err)
	}
}

func TestMandatoryFeatureUnhandled(t *testing.T) {
	s, _ := testSession(`<stream:features ` + featuresNS + `><compression xmlns="http://jabber.org/features/compress"><required/></compression></stream:features>`)
	mask, _, err := negotiateFeatures(context.Background(), s, nil)
	if mask&Ready == Ready {
		t.Error("session must never become ready with a mandatory feature unhandled")
	}
	if !errors.Is(err, KindPolicy) || !errors.Is(err, stream.UnsupportedStanzaType) {
		t.Errorf("wrong error for unhandled mandatory feature: %v", err)
	}
}

func TestOptionalUnknownSkipped(t *testing.T) {
	s, _ := testSession(`<stream:features ` + featuresNS + `><register xmlns="http://jabber.org/features/iq-register"/></stream:features>`)
	mask, _, err := negotiateFeatures(context.Background(), s, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mask&Ready != Ready {
		t.Errorf("expected Ready when only optional unknown features remain, got %d", mask)
	}
	if _, ok := s.Feature("http://jabber.org/features/iq-register"); !ok {
		t.Error("expected the advertised namespace to be recorded")
	}
}

func TestNegotiateConfiguredFeature(t *testing.T) {
	s, _ := testSession(`<stream:features ` + featuresNS + `><test xmlns="urn:example:test"/></stream:features>`)
	var negotiated bool
	features := []StreamFeature{{
		Name:  xml.Name{Space: "urn:example:test", Local: "test"},
		Parse: parseConsume,
		Negotiate: func(ctx context.Context, s *Session, data interface{}) (SessionState, io.ReadWriter, error) {
			negotiated = true
			return 0, nil, nil
		},
	}}
	mask, rw, err := negotiateFeatures(context.Background(), s, features)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !negotiated {
		t.Error("expected the configured feature to be negotiated")
	}
	if rw != nil {
		t.Error("expected no stream restart")
	}
	if mask&Ready != Ready {
		t.Errorf("expected Ready once every feature is negotiated, got %d", mask)
	}
}

func TestRestartSuppressesReady(t *testing.T) {
	s, _ := testSession(`<stream:features ` + featuresNS + `><test xmlns="urn:example:test"/></stream:features>`)
	features := []StreamFeature{{
		Name:  xml.Name{Space: "urn:example:test", Local: "test"},
		Parse: parseConsume,
		Negotiate: func(ctx context.Context, s *Session, data interface{}) (SessionState, io.ReadWriter, error) {
			return Secure, s.rw, nil
		},
	}}
	mask, rw, err := negotiateFeatures(context.Background(), s, features)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rw == nil {
		t.Fatal("expected a stream restart")
	}
	if mask&Ready == Ready {
		t.Error("Ready must not be set when a restart is pending")
	}
	if mask&Secure != Secure {
		t.Error("expected the feature's mask to be propagated")
	}
}

func TestRequiredFeatureNegotiatedFirst(t *testing.T) {
	s, _ := testSession(`<stream:features ` + featuresNS + `><opt xmlns="urn:example:opt"/><req xmlns="urn:example:req"><required/></req></stream:features>`)
	var order []string
	stub := func(name string, req bool) StreamFeature {
		return StreamFeature{
			Name: xml.Name{Space: "urn:example:" + name, Local: name},
			Parse: func(ctx context.Context, d codec.Decoder, start *xml.StartElement) (bool, interface{}, error) {
				v := struct {
					Required *struct{} `xml:"required"`
				}{}
				err := d.DecodeElement(&v, start)
				return v.Required != nil, nil, err
			},
			Negotiate: func(ctx context.Context, s *Session, data interface{}) (SessionState, io.ReadWriter, error) {
				order = append(order, name)
				return 0, nil, nil
			},
		}
	}
	mask, _, err := negotiateFeatures(context.Background(), s, []StreamFeature{stub("opt", false), stub("req", true)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mask&Ready != Ready {
		t.Errorf("expected Ready, got %d", mask)
	}
	if len(order) != 2 || order[0] != "req" || order[1] != "opt" {
		t.Errorf("wrong negotiation order: %v", order)
	}
}

// A mandated TLS upgrade must be negotiated before anything else no matter
// where the server places it in the advertisement: credentials must never
// cross the plaintext stream.
func TestAuthDeferredUntilSecure(t *testing.T) {
	s, out := testSession(`<stream:features ` + featuresNS + `><mechanisms xmlns="urn:ietf:params:xml:ns:xmpp-sasl"><mechanism>PLAIN</mechanism></mechanisms><starttls xmlns="urn:ietf:params:xml:ns:xmpp-tls"><required/></starttls></stream:features><failure xmlns="urn:ietf:params:xml:ns:xmpp-tls"/>`)
	var authenticated bool
	auth := StreamFeature{
		Name: xml.Name{Space: "urn:ietf:params:xml:ns:xmpp-sasl", Local: "mechanisms"},
		Parse: func(ctx context.Context, d codec.Decoder, start *xml.StartElement) (bool, interface{}, error) {
			v := struct{}{}
			return true, nil, d.DecodeElement(&v, start)
		},
		Negotiate: func(ctx context.Context, s *Session, data interface{}) (SessionState, io.ReadWriter, error) {
			authenticated = true
			return Authn, nil, nil
		},
	}
	mask, _, err := negotiateFeatures(context.Background(), s, []StreamFeature{auth, StartTLS(nil)})
	if authenticated {
		t.Error("authentication must not run before a mandated TLS upgrade")
	}
	if mask&Ready == Ready {
		t.Error("session must never become ready with an unmet TLS mandate")
	}
	if !errors.Is(err, KindPolicy) {
		t.Errorf("expected a policy error from the refused mandatory upgrade, got %v", err)
	}
	if !strings.Contains(out.String(), "<starttls") {
		t.Errorf("expected a starttls command on the wire, got %q", out.String())
	}
	if strings.Contains(out.String(), "<auth") {
		t.Errorf("expected no auth element on the plaintext wire, got %q", out.String())
	}
}

// Feature is safe to call from application goroutines while a reconnect
// renegotiates the advertisement.
func TestFeatureConcurrentAccess(t *testing.T) {
	s, _ := testSession(`<stream:features ` + featuresNS + `><register xmlns="http://jabber.org/features/iq-register"/></stream:features>`)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			s.Feature("http://jabber.org/features/iq-register")
		}
	}()
	if _, _, err := negotiateFeatures(context.Background(), s, nil); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	<-done
	if _, ok := s.Feature("http://jabber.org/features/iq-register"); !ok {
		t.Error("expected the advertised namespace to be recorded")
	}
}

func TestStreamErrorInsteadOfFeatures(t *testing.T) {
	s, _ := testSession(`<stream:error ` + featuresNS + `><conflict xmlns="urn:ietf:params:xml:ns:xmpp-streams"/></stream:error>`)
	_, _, err := negotiateFeatures(context.Background(), s, nil)
	if !errors.Is(err, stream.Conflict) {
		t.Errorf("expected conflict stream error, got %v", err)
	}
}
