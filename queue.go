// Copyright 2024 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmppconn

import (
	"encoding/xml"
	"errors"
	"sync"
)

// OverflowPolicy selects what happens when an element is submitted while the
// outbound queue is full.
type OverflowPolicy int

const (
	// RejectNew refuses the new element with ErrQueueFull, preserving
	// everything already queued.
	RejectNew OverflowPolicy = iota

	// DropOldest evicts the oldest queued element to make room.
	DropOldest
)

// Errors returned when submitting outbound elements.
var (
	ErrQueueFull     = errors.New("xmppconn: outbound queue is full")
	ErrSessionClosed = errors.New("xmppconn: session is closed")
)

// sendQueue is the bounded FIFO between element producers and the single
// goroutine that owns the write side of the connection. Elements survive
// disconnects and are flushed in submission order once a reconnect
// succeeds.
//
// A channel cannot express the DropOldest policy, so the queue is an
// explicitly synchronized slice.
type sendQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  [][]xml.Token
	max    int
	policy OverflowPolicy
	closed bool
}

func newSendQueue(max int, policy OverflowPolicy) *sendQueue {
	if max <= 0 {
		max = 256
	}
	q := &sendQueue{max: max, policy: policy}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *sendQueue) push(tokens []xml.Token) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrSessionClosed
	}
	if len(q.items) >= q.max {
		if q.policy == RejectNew {
			return ErrQueueFull
		}
		q.items = q.items[1:]
	}
	q.items = append(q.items, tokens)
	q.cond.Broadcast()
	return nil
}

// pop blocks until an element is available or the queue is woken with no
// work to do (writer shutdown, see wake). The second return is false when
// the caller should stop.
func (q *sendQueue) pop(stop <-chan struct{}) ([]xml.Token, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		select {
		case <-stop:
			return nil, false
		default:
		}
		if q.closed {
			return nil, false
		}
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			return item, true
		}
		q.cond.Wait()
	}
}

// wake unblocks any pop so it can observe its stop channel.
func (q *sendQueue) wake() {
	q.cond.Broadcast()
}

func (q *sendQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

func (q *sendQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
