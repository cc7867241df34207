// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stream_test

import (
	"encoding/xml"
	"errors"
	"strconv"
	"testing"

	"mellium.im/xmppconn/stream"
)

var unmarshalTests = [...]struct {
	xml string
	err stream.Error
}{
	0: {
		xml: `<stream:error xmlns:stream="http://etherx.jabber.org/streams"><conflict xmlns="urn:ietf:params:xml:ns:xmpp-streams"/></stream:error>`,
		err: stream.Conflict,
	},
	1: {
		xml: `<stream:error xmlns:stream="http://etherx.jabber.org/streams"><system-shutdown xmlns="urn:ietf:params:xml:ns:xmpp-streams"/><text xmlns="urn:ietf:params:xml:ns:xmpp-streams">going down</text></stream:error>`,
		err: stream.Error{Err: "system-shutdown", Text: "going down"},
	},
	2: {
		xml: `<stream:error xmlns:stream="http://etherx.jabber.org/streams"><wobbly xmlns="urn:example:wat"/></stream:error>`,
		err: stream.Error{Err: "wobbly"},
	},
}

func TestUnmarshal(t *testing.T) {
	for i, tc := range unmarshalTests {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			se := stream.Error{}
			if err := xml.Unmarshal([]byte(tc.xml), &se); err != nil {
				t.Fatalf("unexpected error unmarshaling stream error: %v", err)
			}
			if se != tc.err {
				t.Errorf("wrong stream error: want=%+v, got=%+v", tc.err, se)
			}
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	in := stream.Error{Err: "policy-violation", Text: "too many connections"}
	b, err := xml.Marshal(in)
	if err != nil {
		t.Fatalf("unexpected error marshaling stream error: %v", err)
	}
	out := stream.Error{}
	if err := xml.Unmarshal(b, &out); err != nil {
		t.Fatalf("unexpected error unmarshaling stream error: %v", err)
	}
	if out != in {
		t.Errorf("round trip failed: want=%+v, got=%+v", in, out)
	}
}

func TestIsIgnoresText(t *testing.T) {
	err := stream.Error{Err: "conflict", Text: "replaced by new connection"}
	if !errors.Is(err, stream.Conflict) {
		t.Error("expected conflict with text to match stream.Conflict")
	}
	if errors.Is(err, stream.BadFormat) {
		t.Error("expected conflict not to match stream.BadFormat")
	}
}

func TestErrorString(t *testing.T) {
	if s := stream.Conflict.Error(); s != "stream error: conflict" {
		t.Errorf("wrong error string: %q", s)
	}
}
