// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppconn

import (
	"time"

	"go.uber.org/zap"
)

// Reconnect configures automatic re-establishment of a session after an
// unexpected disconnect. The delay before attempt n is
// Initial*2^(n-1), capped at Max.
type Reconnect struct {
	// Initial is the delay before the first attempt. It defaults to 500ms.
	Initial time.Duration

	// Max caps the delay between attempts. It defaults to 30s.
	Max time.Duration

	// MaxAttempts bounds the number of consecutive failed attempts before
	// the session is reported as failed. Zero means unlimited.
	MaxAttempts int
}

func (r Reconnect) backoff(attempt int) time.Duration {
	d := r.Initial
	if d <= 0 {
		d = 500 * time.Millisecond
	}
	max := r.Max
	if max <= 0 {
		max = 30 * time.Second
	}
	for i := 0; i < attempt; i++ {
		if d >= max {
			break
		}
		d *= 2
	}
	if d > max {
		d = max
	}
	return d
}

// reconnectLoop re-establishes the session after a disconnect, walking the
// full resolve, dial, negotiate pipeline with capped exponential backoff
// between attempts. It returns nil once the session is ready again; queued
// outbound elements are then flushed by the restarted writer in submission
// order.
func (s *Session) reconnectLoop(lastErr error) error {
	policy := *s.cfg.reconnect
	for attempt := 0; policy.MaxAttempts <= 0 || attempt < policy.MaxAttempts; attempt++ {
		delay := policy.backoff(attempt)
		s.emit(Event{Kind: EventReconnecting, Attempt: attempt + 1, Err: lastErr})
		s.logger.Info("reconnecting",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(lastErr),
		)

		select {
		case <-time.After(delay):
		case <-s.lifetime.Done():
			return s.lifetime.Err()
		}

		conn, err := s.redial(s.lifetime)
		if err != nil {
			lastErr = err
			s.logger.Warn("redial failed", zap.Error(err))
			continue
		}

		err = s.resetAndNegotiate(s.lifetime, conn)
		if err != nil {
			conn.Close()
			lastErr = err
			s.logger.Warn("renegotiation failed", zap.Error(err))
			continue
		}

		s.emit(Event{Kind: EventConnected, Attempt: attempt + 1})
		s.logger.Info("reconnected",
			zap.Int("attempt", attempt+1),
			zap.Int("queued", s.queue.len()),
		)
		return nil
	}
	return lastErr
}
