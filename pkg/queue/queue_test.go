package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushNoWaitThenRecv(t *testing.T) {
	q := New[int]()
	require.NoError(t, q.PushNoWait(1))
	require.NoError(t, q.PushNoWait(2))

	v, err := q.Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = q.Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestPushBlocksUntilDelivered(t *testing.T) {
	q := New[string]()
	delivered := make(chan struct{})

	go func() {
		if err := q.Push(context.Background(), "hello"); err == nil {
			close(delivered)
		}
	}()

	select {
	case <-delivered:
		t.Fatal("push returned before a consumer received the item")
	case <-time.After(20 * time.Millisecond):
	}

	v, err := q.Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello", v)

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("push did not return after delivery")
	}
}

func TestCloseDrainsBufferedItems(t *testing.T) {
	q := New[int]()
	require.NoError(t, q.PushNoWait(7))
	q.Close()

	v, err := q.Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	_, err = q.Recv(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	assert.ErrorIs(t, q.PushNoWait(8), ErrClosed)
	assert.ErrorIs(t, q.Push(context.Background(), 9), ErrClosed)
}

func TestCloseWithErrorFailsPendingReads(t *testing.T) {
	q := New[int]()
	boom := errors.New("agent stream broke")

	got := make(chan error, 1)
	go func() {
		_, err := q.Recv(context.Background())
		got <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.CloseWithError(boom)

	select {
	case err := <-got:
		assert.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("pending read was not failed")
	}

	// Future reads and pushes fail with the same error.
	_, err := q.Recv(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, q.PushNoWait(1), boom)
}

func TestCloseWithErrorUnblocksPush(t *testing.T) {
	q := New[int]()
	boom := errors.New("consumer gone")

	got := make(chan error, 1)
	go func() { got <- q.Push(context.Background(), 1) }()

	time.Sleep(10 * time.Millisecond)
	q.CloseWithError(boom)

	select {
	case err := <-got:
		assert.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("blocked push was not failed")
	}
}

func TestCloseIsTerminal(t *testing.T) {
	q := New[int]()
	q.Close()
	q.CloseWithError(errors.New("late"))

	_, err := q.Recv(context.Background())
	// The first close wins; a later CloseWithError must not change the state.
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRecvContextCancel(t *testing.T) {
	q := New[int]()
	ctx, cancel := context.WithCancel(context.Background())

	got := make(chan error, 1)
	go func() {
		_, err := q.Recv(ctx)
		got <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-got:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("recv did not observe cancellation")
	}
}

func TestPushContextCancelRemovesItem(t *testing.T) {
	q := New[int]()
	ctx, cancel := context.WithCancel(context.Background())

	got := make(chan error, 1)
	go func() { got <- q.Push(ctx, 42) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-got:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("blocked push was not canceled")
	}
	assert.Equal(t, 0, q.Len())
}

func TestExactlyOnceDeliveryAcrossConsumers(t *testing.T) {
	q := New[int]()
	const n = 200

	var mu sync.Mutex
	seen := make(map[int]int)

	var wg sync.WaitGroup
	for c := 0; c < 4; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v, err := q.Recv(context.Background())
				if err != nil {
					return
				}
				mu.Lock()
				seen[v]++
				mu.Unlock()
			}
		}()
	}

	for i := 0; i < n; i++ {
		require.NoError(t, q.PushNoWait(i))
	}
	q.Close()
	wg.Wait()

	require.Len(t, seen, n)
	for v, count := range seen {
		assert.Equal(t, 1, count, "item %d delivered %d times", v, count)
	}
}
