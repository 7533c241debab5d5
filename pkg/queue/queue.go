// Package queue provides the point-to-point delivery queue that decouples
// agent event production from the websocket write path. One producer pushes
// protocol messages, one consumer loop drains them; delivery is exactly-once
// per item.
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Push/PushNoWait after Close, and by Recv once the
// buffer has drained after a graceful Close.
var ErrClosed = errors.New("queue: closed")

type entry[T any] struct {
	val T
	// ack is closed when a consumer receives the item. Nil for PushNoWait.
	ack chan struct{}
}

// MessageQueue is an unbounded FIFO with two push modes: Push blocks until a
// consumer has received the item (backpressure), PushNoWait buffers and
// returns immediately. A queue has a single terminal state: once closed, with
// or without error, it cannot be reopened.
type MessageQueue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []entry[T]
	closed bool
	err    error
	// failed is closed by CloseWithError so blocked Push calls can bail out.
	failed chan struct{}
}

func New[T any]() *MessageQueue[T] {
	q := &MessageQueue[T]{failed: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends v and blocks until a consumer receives it, the context is
// canceled, or the queue is closed with an error.
func (q *MessageQueue[T]) Push(ctx context.Context, v T) error {
	q.mu.Lock()
	if q.closed {
		err := q.err
		q.mu.Unlock()
		if err == nil {
			err = ErrClosed
		}
		return err
	}
	ack := make(chan struct{})
	q.buf = append(q.buf, entry[T]{val: v, ack: ack})
	q.cond.Broadcast()
	q.mu.Unlock()

	select {
	case <-ack:
		return nil
	case <-q.failed:
		q.mu.Lock()
		err := q.err
		q.mu.Unlock()
		return err
	case <-ctx.Done():
		q.remove(ack)
		// The consumer may have taken the item between ctx firing and the
		// removal attempt; delivered wins over cancellation.
		select {
		case <-ack:
			return nil
		default:
			return ctx.Err()
		}
	}
}

// PushNoWait appends v without waiting for delivery.
func (q *MessageQueue[T]) PushNoWait(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		if q.err != nil {
			return q.err
		}
		return ErrClosed
	}
	q.buf = append(q.buf, entry[T]{val: v})
	q.cond.Broadcast()
	return nil
}

// Recv blocks until an item is available and removes it. After a graceful
// Close it keeps returning buffered items until the queue is drained, then
// returns ErrClosed. After CloseWithError every call returns that error.
func (q *MessageQueue[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.err != nil {
			return zero, q.err
		}
		if len(q.buf) > 0 {
			e := q.buf[0]
			q.buf = q.buf[1:]
			if e.ack != nil {
				close(e.ack)
			}
			return e.val, nil
		}
		if q.closed {
			return zero, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		q.cond.Wait()
	}
}

// Close ends iteration gracefully: buffered items are still delivered, then
// consumers see ErrClosed. No-op if already closed.
func (q *MessageQueue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

// CloseWithError fails every pending and future operation with err. Buffered
// items are discarded. No-op if already closed.
func (q *MessageQueue[T]) CloseWithError(err error) {
	if err == nil {
		q.Close()
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.err = err
	q.buf = nil
	close(q.failed)
	q.cond.Broadcast()
}

// Len reports the number of buffered, undelivered items.
func (q *MessageQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// remove drops the entry identified by its ack channel, if still buffered.
func (q *MessageQueue[T]) remove(ack chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.buf {
		if e.ack == ack {
			q.buf = append(q.buf[:i], q.buf[i+1:]...)
			return
		}
	}
}
