// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppconn

import (
	"errors"
	"io"
	"net"
	"time"
)

var errSetDeadline = errors.New("xmppconn: cannot set deadline: not using a net.Conn")

// conn lifts an arbitrary io.ReadWriter into a net.Conn so that the rest of
// the engine can treat every byte stream uniformly. Deadlines silently
// degrade to no-ops for streams that do not support them (in-memory pipes
// in tests, pre-wrapped readers, etc.).
type conn struct {
	rw io.ReadWriter
	c  net.Conn
}

// newConn wraps rw, unwrapping it first if it is already a *conn so that
// repeated stream restarts never stack wrappers.
func newConn(rw io.ReadWriter) *conn {
	if c, ok := rw.(*conn); ok {
		return c
	}
	nc := &conn{rw: rw}
	if c, ok := rw.(net.Conn); ok {
		nc.c = c
	}
	return nc
}

func (c *conn) Read(b []byte) (int, error) {
	return c.rw.Read(b)
}

func (c *conn) Write(b []byte) (int, error) {
	return c.rw.Write(b)
}

func (c *conn) Close() error {
	if closer, ok := c.rw.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (c *conn) LocalAddr() net.Addr {
	if c.c != nil {
		return c.c.LocalAddr()
	}
	return nil
}

func (c *conn) RemoteAddr() net.Addr {
	if c.c != nil {
		return c.c.RemoteAddr()
	}
	return nil
}

func (c *conn) SetDeadline(t time.Time) error {
	if c.c != nil {
		return c.c.SetDeadline(t)
	}
	return errSetDeadline
}

func (c *conn) SetReadDeadline(t time.Time) error {
	if c.c != nil {
		return c.c.SetReadDeadline(t)
	}
	return errSetDeadline
}

func (c *conn) SetWriteDeadline(t time.Time) error {
	if c.c != nil {
		return c.c.SetWriteDeadline(t)
	}
	return errSetDeadline
}
