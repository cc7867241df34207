// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package component_test

import (
	"context"
	/* #nosec */
	"crypto/sha1"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"mellium.im/xmppconn"
	"mellium.im/xmppconn/component"
	"mellium.im/xmppconn/jid"
	"mellium.im/xmppconn/stream"
)

const (
	componentHeader = `<stream:stream xmlns="jabber:component:accept" xmlns:stream="http://etherx.jabber.org/streams" from="component.example.net" id="1234">`
	componentSecret = "shared-secret"
)

func expectLocal(t *testing.T, d *xml.Decoder, local string) (xml.StartElement, bool) {
	t.Helper()
	for {
		tok, err := d.Token()
		if err != nil {
			t.Errorf("server: error waiting for <%s>: %v", local, err)
			return xml.StartElement{}, false
		}
		if start, ok := tok.(xml.StartElement); ok {
			if start.Name.Local != local {
				t.Errorf("server: expected <%s>, got <%s>", local, start.Name.Local)
				return xml.StartElement{}, false
			}
			return start, true
		}
	}
}

func TestComponentHandshake(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		defer serverConn.Close()
		d := xml.NewDecoder(serverConn)

		start, ok := expectLocal(t, d, "stream")
		if !ok {
			return
		}
		var to string
		for _, attr := range start.Attr {
			if attr.Name.Local == "to" {
				to = attr.Value
			}
		}
		if to != "component.example.net" {
			t.Errorf("server: wrong to address: %q", to)
			return
		}
		io.WriteString(serverConn, componentHeader)

		start, ok = expectLocal(t, d, "handshake")
		if !ok {
			return
		}
		var hs struct {
			Data string `xml:",chardata"`
		}
		if err := d.DecodeElement(&hs, &start); err != nil {
			t.Errorf("server: error decoding handshake: %v", err)
			return
		}
		/* #nosec */
		want := fmt.Sprintf("%x", sha1.Sum([]byte("1234"+componentSecret)))
		if hs.Data != want {
			t.Errorf("server: wrong handshake: want=%q, got=%q", want, hs.Data)
			return
		}
		io.WriteString(serverConn, `<handshake/>`)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	session, err := component.NewSession(ctx, jid.MustParse("component.example.net"), []byte(componentSecret), clientConn)
	if err != nil {
		t.Fatalf("unexpected error negotiating component session: %v", err)
	}
	defer session.Close()

	state := session.State()
	if state&xmppconn.Ready != xmppconn.Ready || state&xmppconn.Authn != xmppconn.Authn {
		t.Errorf("expected Ready|Authn, got %d", state)
	}
	if addr := session.RemoteAddr().String(); addr != "component.example.net" {
		t.Errorf("wrong remote address: %q", addr)
	}
	<-serverDone
}

func TestComponentHandshakeRejected(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		defer serverConn.Close()
		d := xml.NewDecoder(serverConn)

		if _, ok := expectLocal(t, d, "stream"); !ok {
			return
		}
		io.WriteString(serverConn, componentHeader)
		start, ok := expectLocal(t, d, "handshake")
		if !ok {
			return
		}
		if err := d.DecodeElement(&struct{}{}, &start); err != nil {
			return
		}
		io.WriteString(serverConn, `<stream:error><not-authorized xmlns="urn:ietf:params:xml:ns:xmpp-streams"/></stream:error>`)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := component.NewSession(ctx, jid.MustParse("component.example.net"), []byte("wrong"), clientConn)
	if !errors.Is(err, stream.NotAuthorized) {
		t.Errorf("expected not-authorized stream error, got %v", err)
	}
	<-serverDone
}
