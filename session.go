// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppconn

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"mellium.im/sasl"
	"mellium.im/xmlstream"

	"mellium.im/xmppconn/codec"
	intstream "mellium.im/xmppconn/internal/stream"
	"mellium.im/xmppconn/jid"
	"mellium.im/xmppconn/stream"
)

// SessionState is a bitmask that holds the current state of a session.
type SessionState uint8

const (
	// Secure indicates that the underlying connection has been secured. For
	// instance, after STARTTLS has been performed or if the session was
	// initially created over a TLS connection.
	Secure SessionState = 1 << iota

	// Authn indicates that the session has been authenticated (probably with
	// SASL).
	Authn

	// Bound indicates that the session has negotiated an address for itself.
	Bound

	// Ready indicates that the session is fully negotiated and that stanzas
	// may be sent and received over it.
	Ready

	// OutputStreamClosed indicates that the output stream has been closed
	// with a stream end tag. No further writes are possible.
	OutputStreamClosed

	// InputStreamClosed indicates that the remote entity closed its half of
	// the stream. No further reads are possible.
	InputStreamClosed
)

var (
	// ErrInputStreamClosed is returned when reading from a stream after the
	// remote entity has closed it.
	ErrInputStreamClosed = errors.New("xmppconn: attempted to read token from closed stream")

	// ErrOutputStreamClosed is returned when writing to a stream after it
	// has been closed locally.
	ErrOutputStreamClosed = errors.New("xmppconn: attempted to write token to closed stream")

	// ErrNotConnected is returned by Send when the session is disconnected
	// and no reconnect policy is configured to bring it back.
	ErrNotConnected = errors.New("xmppconn: session is not connected")
)

// A Session represents an XMPP session comprising an input and an output
// XML stream over a single connection.
type Session struct {
	origin   *jid.JID
	location *jid.JID

	conn  *conn
	rw    io.ReadWriter
	codec *codec.Codec

	state SessionState
	bound *jid.JID
	slock sync.RWMutex

	// The features map is populated from the most recent features
	// advertisement, keyed by namespace.
	features map[string]interface{}

	in struct {
		sync.Mutex
		info stream.Info
		r    xml.TokenReader
	}
	out struct {
		sync.Mutex
		info stream.Info
	}

	queue  *sendQueue
	events chan Event

	cfg           config
	logger        *zap.Logger
	newNegotiator func() Negotiator
	redial        func(ctx context.Context) (net.Conn, error)

	lifetime context.Context
	stop     context.CancelFunc

	writerMu   sync.Mutex
	writerStop chan struct{}

	initialState SessionState
}

var _ xmlstream.TokenReadWriter = (*Session)(nil)

func newSession(location, origin *jid.JID, rw io.ReadWriter, cfg config) *Session {
	s := &Session{
		origin:   origin,
		location: location,
		features: make(map[string]interface{}),
		queue:    newSendQueue(cfg.queueSize, cfg.queuePolicy),
		events:   make(chan Event, 16),
		cfg:      cfg,
		logger:   cfg.logger,
	}
	s.lifetime, s.stop = context.WithCancel(context.Background())
	s.setRW(rw)
	return s
}

// setRW points the session at a new byte stream, discarding all codec state.
func (s *Session) setRW(rw io.ReadWriter) {
	s.conn = newConn(rw)
	s.rw = s.conn
	if s.codec == nil {
		s.codec = codec.New(s.conn)
		return
	}
	s.codec.Reset(s.conn)
}

// NewClientSession resolves the domainpart of the origin address, connects,
// and negotiates a client-to-server session: STARTTLS, SASL authentication
// with the given password, and resource binding. The default feature set
// may be replaced with the Features option, and connection establishment
// may be customized with WithDialer or DialFunc.
//
// The returned session is negotiated but not yet serving: call Serve to
// start routing inbound elements and draining the outbound queue events.
func NewClientSession(ctx context.Context, origin *jid.JID, password string, opts ...Option) (*Session, error) {
	cfg := newConfig(opts...)
	features := cfg.features
	if features == nil {
		features = []StreamFeature{
			StartTLS(cfg.tlsConfig),
			SASL("", password, sasl.ScramSha256, sasl.ScramSha1, sasl.Plain),
			BindResource(),
		}
	}
	negotiate := NewNegotiator(StreamConfig{
		Lang:     cfg.lang,
		Features: features,
	})

	dial := cfg.dial
	if dial == nil {
		dialer := cfg.dialer
		if dialer == nil {
			dialer = &Dialer{TLSConfig: cfg.tlsConfig}
		}
		dial = func(ctx context.Context) (net.Conn, error) {
			return dialer.Dial(ctx, "tcp", origin)
		}
	}

	nc, err := dial(ctx)
	if err != nil {
		return nil, err
	}

	s := newSession(origin.Domain(), origin, nc, cfg)
	s.newNegotiator = func() Negotiator { return negotiate }
	s.redial = dial
	if err := s.resetAndNegotiate(ctx, nc); err != nil {
		nc.Close()
		s.stop()
		return nil, err
	}
	s.emit(Event{Kind: EventConnected})
	s.logger.Info("session established",
		zap.String("origin", s.origin.String()),
		zap.String("location", s.location.String()))
	return s, nil
}

// NegotiateSession creates a session over rw using a custom negotiator. The
// state bitmask seeds the session state before the negotiator runs; for
// instance, pass Secure for a stream that is already running over TLS.
//
// If the initial negotiation fails the session is returned along with the
// error so that the stream state can be inspected.
func NegotiateSession(ctx context.Context, location, origin *jid.JID, rw io.ReadWriter, state SessionState, negotiate Negotiator, opts ...Option) (*Session, error) {
	if negotiate == nil {
		panic("xmppconn: attempted to negotiate session with nil negotiator")
	}
	cfg := newConfig(opts...)
	s := newSession(location, origin, rw, cfg)
	s.initialState = state
	s.newNegotiator = func() Negotiator { return negotiate }
	if err := s.resetAndNegotiate(ctx, rw); err != nil {
		return s, err
	}
	s.emit(Event{Kind: EventConnected})
	return s, nil
}

// resetAndNegotiate throws away all stream state, rebinds the session to rw,
// and drives a full negotiation on it. It is used for the initial handshake
// and again on every reconnect.
func (s *Session) resetAndNegotiate(ctx context.Context, rw io.ReadWriter) error {
	s.slock.Lock()
	s.state = s.initialState
	if _, ok := rw.(*tls.Conn); ok {
		s.state |= Secure
	}
	s.bound = nil
	for k := range s.features {
		delete(s.features, k)
	}
	s.slock.Unlock()

	s.setRW(rw)
	s.in.Lock()
	s.in.info = stream.Info{}
	s.in.r = nil
	s.in.Unlock()
	s.out.Lock()
	s.out.info = stream.Info{}
	s.out.Unlock()

	return s.negotiate(ctx, s.newNegotiator())
}

// negotiate runs the negotiator until the Ready bit is set, restarting the
// stream whenever the negotiator hands back a new io.ReadWriter. Each call
// into the negotiator runs under the configured negotiation deadline.
func (s *Session) negotiate(ctx context.Context, negotiate Negotiator) error {
	var data interface{} = true
	for s.State()&Ready == 0 {
		select {
		case <-ctx.Done():
			return wrapNegotiationError(ctx.Err())
		default:
		}

		if s.cfg.timeout > 0 {
			// Deadlines degrade to no-ops on streams that cannot carry them.
			_ = s.conn.SetDeadline(time.Now().Add(s.cfg.timeout))
		}
		mask, rw, cache, err := negotiate(ctx, &s.in.info, &s.out.info, s, data)
		if err != nil {
			return wrapNegotiationError(err)
		}
		data = cache

		s.slock.Lock()
		s.state |= mask
		s.slock.Unlock()
		if rw != nil {
			s.setRW(rw)
		}
	}
	_ = s.conn.SetDeadline(time.Time{})

	s.in.Lock()
	s.in.r = intstream.Reader(s.codec)
	s.in.Unlock()
	s.startWriter()
	return nil
}

// Serve decodes incoming XML tokens from the connection and routes each
// top-level element through the handler. If the session disconnects and a
// reconnect policy is configured, Serve re-establishes the session and
// continues; otherwise it returns the error that ended the stream. Serve
// returns nil after a clean close handshake.
//
// For the purposes of handler dispatch the complete element is buffered by
// the decoder, so handlers may read from the stream without racing Serve.
func (s *Session) Serve(h Handler) error {
	if h == nil {
		h = nopHandler{}
	}
	defer func() {
		s.stop()
		s.queue.close()
		s.conn.Close()
	}()

	for {
		err := s.handleInputStream(h)
		s.stopWriter()
		s.slock.Lock()
		s.state = s.state&^Ready | InputStreamClosed
		s.slock.Unlock()
		s.conn.Close()

		if err == nil && s.State()&OutputStreamClosed == OutputStreamClosed {
			s.logger.Debug("session closed")
			return nil
		}
		err = wrapNegotiationError(err)
		s.emit(Event{Kind: EventDisconnected, Err: err})
		s.logger.Info("session disconnected", zap.Error(err))

		if s.cfg.reconnect == nil || s.redial == nil {
			if err != nil {
				s.emit(Event{Kind: EventFailed, Err: err})
			}
			return err
		}
		if rerr := s.reconnectLoop(err); rerr != nil {
			s.emit(Event{Kind: EventFailed, Err: rerr})
			return rerr
		}
	}
}

// handleInputStream reads top-level elements until the input stream ends.
// It returns nil if the remote entity closed the stream cleanly and the
// error that broke the stream otherwise.
func (s *Session) handleInputStream(h Handler) error {
	discard := xmlstream.Discard()
	for {
		select {
		case <-s.lifetime.Done():
			return s.lifetime.Err()
		default:
		}

		tok, err := s.Token()
		switch {
		case err == io.EOF:
			return nil
		case err != nil:
			var streamErr stream.Error
			if errors.As(err, &streamErr) {
				// The remote entity reported a stream error; it will close
				// the stream, so don't try to answer it.
				return streamErr
			}
			return s.sendError(err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			if cd, isChar := tok.(xml.CharData); isChar && len(trimWhitespace(cd)) == 0 {
				// Whitespace keepalive.
				continue
			}
			return s.sendError(stream.RestrictedXML)
		}

		inner := xmlstream.Inner(s)
		if err := h.HandleXMPP(struct {
			xml.TokenReader
			xmlstream.TokenWriter
		}{
			TokenReader: inner,
			TokenWriter: s,
		}, &start); err != nil {
			return s.sendError(err)
		}
		// Advance past anything the handler left unconsumed.
		if _, err := xmlstream.Copy(discard, inner); err != nil {
			return s.sendError(err)
		}
	}
}

// sendError transmits a stream error, closes the output stream, and returns
// the original error. Errors that are not already stream errors are sent as
// undefined-condition.
func (s *Session) sendError(err error) error {
	streamErr, ok := err.(stream.Error)
	if !ok {
		streamErr = stream.UndefinedCondition
	}
	if werr := streamErr.WriteXML(s); werr == nil {
		_ = s.Flush()
	}
	_ = s.Close()
	return err
}

// Send buffers the element read from r and queues it for transmission. The
// element is written in order by the session's writer once the session is
// ready; if the session is reconnecting, queued elements are flushed after
// the next successful negotiation. Send fails with ErrNotConnected when the
// session is disconnected and no reconnect policy is configured, and with
// ErrQueueFull when the outbound queue overflows under the RejectNew
// policy.
func (s *Session) Send(ctx context.Context, r xml.TokenReader) error {
	state := s.State()
	if state&Ready == 0 && (s.cfg.reconnect == nil || state&(OutputStreamClosed|InputStreamClosed) == OutputStreamClosed|InputStreamClosed) {
		return ErrNotConnected
	}

	var tokens []xml.Token
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		tok, err := r.Token()
		if tok != nil {
			tokens = append(tokens, xml.CopyToken(tok))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	if len(tokens) == 0 {
		return nil
	}
	return s.queue.push(tokens)
}

// Close ends the output stream by writing the stream end tag and leaves the
// input stream open so that the remote entity can finish sending us
// elements before closing its half of the close handshake. Close is
// idempotent.
func (s *Session) Close() error {
	s.slock.Lock()
	if s.state&OutputStreamClosed == OutputStreamClosed {
		s.slock.Unlock()
		return nil
	}
	s.state |= OutputStreamClosed
	s.slock.Unlock()

	s.stopWriter()
	s.logger.Debug("closing output stream")
	// The stream open was written directly instead of through the encoder,
	// so write the matching end tag the same way.
	_, err := s.conn.Write([]byte(`</stream:stream>`))
	return err
}

// Token satisfies the xml.TokenReader interface for the session's input
// stream.
func (s *Session) Token() (xml.Token, error) {
	s.in.Lock()
	defer s.in.Unlock()
	if s.State()&InputStreamClosed == InputStreamClosed || s.in.r == nil {
		return nil, ErrInputStreamClosed
	}
	return s.in.r.Token()
}

// EncodeToken satisfies the xmlstream.TokenWriter interface.
func (s *Session) EncodeToken(t xml.Token) error {
	if s.State()&OutputStreamClosed == OutputStreamClosed {
		return ErrOutputStreamClosed
	}
	return s.codec.EncodeToken(t)
}

// Flush satisfies the xmlstream.TokenWriter interface.
func (s *Session) Flush() error {
	if s.State()&OutputStreamClosed == OutputStreamClosed {
		return ErrOutputStreamClosed
	}
	return s.codec.Flush()
}

// State returns the session's current state.
func (s *Session) State() SessionState {
	s.slock.RLock()
	defer s.slock.RUnlock()
	return s.state
}

// LocalAddr returns the address the session is bound to, falling back to
// the origin address before resource binding completes.
func (s *Session) LocalAddr() *jid.JID {
	s.slock.RLock()
	defer s.slock.RUnlock()
	if s.bound != nil {
		return s.bound
	}
	return s.origin
}

// RemoteAddr returns the address of the remote entity.
func (s *Session) RemoteAddr() *jid.JID {
	return s.location
}

// Conn returns the connection the session is running over. For sessions
// negotiated over a plain io.ReadWriter the returned net.Conn reports nil
// addresses and does not support deadlines.
func (s *Session) Conn() net.Conn {
	return s.conn
}

// ConnectionState returns the TLS state of the connection, if any.
func (s *Session) ConnectionState() (tls.ConnectionState, bool) {
	if tc, ok := s.conn.rw.(*tls.Conn); ok {
		return tc.ConnectionState(), true
	}
	return tls.ConnectionState{}, false
}

// Codec returns the codec framing the session's XML streams. It exists for
// custom negotiators that need direct decode access during the handshake;
// using it on a fully negotiated session will corrupt stream state.
func (s *Session) Codec() *codec.Codec {
	return s.codec
}

// Feature reports whether the namespace was advertised in the most recent
// features list and returns any data parsed from the advertisement.
func (s *Session) Feature(namespace string) (data interface{}, ok bool) {
	s.slock.RLock()
	defer s.slock.RUnlock()
	data, ok = s.features[namespace]
	return data, ok
}

func (s *Session) setFeature(namespace string, data interface{}) {
	s.slock.Lock()
	s.features[namespace] = data
	s.slock.Unlock()
}

// In returns metadata about the most recent input stream open.
func (s *Session) In() stream.Info {
	s.in.Lock()
	defer s.in.Unlock()
	return s.in.info
}

// Out returns metadata about the most recent output stream open.
func (s *Session) Out() stream.Info {
	s.out.Lock()
	defer s.out.Unlock()
	return s.out.info
}

func (s *Session) startWriter() {
	stop := make(chan struct{})
	s.writerMu.Lock()
	s.writerStop = stop
	s.writerMu.Unlock()
	go s.writeLoop(stop)
}

func (s *Session) stopWriter() {
	s.writerMu.Lock()
	if s.writerStop != nil {
		close(s.writerStop)
		s.writerStop = nil
	}
	s.writerMu.Unlock()
	s.queue.wake()
}

// writeLoop drains the outbound queue onto the stream, one element at a
// time, until it is stopped or a write fails.
func (s *Session) writeLoop(stop chan struct{}) {
	for {
		tokens, ok := s.queue.pop(stop)
		if !ok {
			return
		}
		if err := s.writeElement(tokens); err != nil {
			s.logger.Warn("outbound write failed", zap.Error(err))
			return
		}
	}
}

func (s *Session) writeElement(tokens []xml.Token) error {
	s.out.Lock()
	defer s.out.Unlock()
	for _, tok := range tokens {
		if err := s.EncodeToken(tok); err != nil {
			return err
		}
	}
	return s.Flush()
}
