package pagerender

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/mailru/easyjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, s *cdpServer) *Client {
	t.Helper()
	client, err := NewClient(context.Background(), s.pageWSURL(), NullLogger())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestSendCommandRoundTrip(t *testing.T) {
	t.Parallel()

	s := newCDPServer(t)
	s.handleResult("Test.echo", map[string]int{"value": 42})
	client := newTestClient(t, s)

	var res struct {
		Value int `json:"value"`
	}
	err := client.SendCommand(context.Background(), "Test.echo", map[string]string{"in": "x"}, &res, time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, 42, res.Value)

	// correlation survives consecutive commands
	err = client.SendCommand(context.Background(), "Test.echo", nil, &res, time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, 42, res.Value)
}

func TestSendCommandProtocolError(t *testing.T) {
	t.Parallel()

	s := newCDPServer(t)
	s.handle("Test.boom", func(int64, json.RawMessage) (interface{}, *wireError, bool) {
		return nil, &wireError{Code: -32000, Message: "boom"}, true
	})
	client := newTestClient(t, s)

	err := client.SendCommand(context.Background(), "Test.boom", nil, nil, time.Second, nil)
	var cdpErr *cdproto.Error
	require.ErrorAs(t, err, &cdpErr)
	assert.Equal(t, int64(-32000), cdpErr.Code)
	assert.Equal(t, "boom", cdpErr.Message)
}

func TestUnknownReplyIDDropped(t *testing.T) {
	t.Parallel()

	s := newCDPServer(t)
	s.handle("Test.late", func(id int64, _ json.RawMessage) (interface{}, *wireError, bool) {
		// a reply nobody asked for must not resolve, or crash, anything
		s.sendRaw(map[string]interface{}{"id": id + 1000, "result": map[string]string{"who": "nobody"}})
		return map[string]string{"who": "me"}, nil, true
	})
	client := newTestClient(t, s)

	var res struct {
		Who string `json:"who"`
	}
	err := client.SendCommand(context.Background(), "Test.late", nil, &res, time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, "me", res.Who)

	// the receive loop is still healthy
	err = client.SendCommand(context.Background(), "Test.late", nil, &res, time.Second, nil)
	require.NoError(t, err)
}

func TestSendCommandTimeout(t *testing.T) {
	t.Parallel()

	s := newCDPServer(t)
	s.silence("Test.never")
	client := newTestClient(t, s)

	err := client.SendCommand(context.Background(), "Test.never", nil, nil, 50*time.Millisecond, nil)
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "Test.never", te.What)

	// the stale registration is removed
	client.mu.Lock()
	pending := len(client.pending)
	client.mu.Unlock()
	assert.Zero(t, pending)
}

func TestSendCommandConversionTimeout(t *testing.T) {
	t.Parallel()

	s := newCDPServer(t)
	s.silence("Test.never")
	client := newTestClient(t, s)

	timer := NewCountdownTimer(30 * time.Millisecond)
	timer.Start()
	err := client.SendCommand(context.Background(), "Test.never", nil, nil, time.Minute, timer)
	assert.ErrorIs(t, err, ErrConversionTimeout)

	// an already-expired timer fails fast
	err = client.SendCommand(context.Background(), "Test.never", nil, nil, time.Minute, timer)
	assert.ErrorIs(t, err, ErrConversionTimeout)
}

func TestWaitForEvent(t *testing.T) {
	t.Parallel()

	s := newCDPServer(t)
	s.handle("Test.trigger", func(int64, json.RawMessage) (interface{}, *wireError, bool) {
		s.sendEvent("Test.fired", map[string]string{"name": "first"})
		s.sendEvent("Test.fired", map[string]string{"name": "second"})
		return struct{}{}, nil, true
	})
	client := newTestClient(t, s)

	// only the matching event resolves the wait
	match := func(params easyjson.RawMessage) bool {
		var p struct {
			Name string `json:"name"`
		}
		return json.Unmarshal(params, &p) == nil && p.Name == "second"
	}
	w, err := client.ExpectEvent("Test.fired", match)
	require.NoError(t, err)
	require.NoError(t, client.SendCommand(context.Background(), "Test.trigger", nil, nil, time.Second, nil))

	params, err := w.Wait(context.Background(), time.Second, nil)
	require.NoError(t, err)
	var p struct {
		Name string `json:"name"`
	}
	require.NoError(t, json.Unmarshal(params, &p))
	assert.Equal(t, "second", p.Name)
}

func TestWaitForEventTimeout(t *testing.T) {
	t.Parallel()

	s := newCDPServer(t)
	client := newTestClient(t, s)

	_, err := client.WaitForEvent(context.Background(), "Test.silent", nil, 50*time.Millisecond, nil)
	var te *TimeoutError
	require.ErrorAs(t, err, &te)

	// the expired subscription is gone, a new one may be registered
	_, err = client.ExpectEvent("Test.silent", nil)
	assert.NoError(t, err)
}

func TestDuplicateSubscriptionRejected(t *testing.T) {
	t.Parallel()

	s := newCDPServer(t)
	client := newTestClient(t, s)

	w, err := client.ExpectEvent("Test.once", nil)
	require.NoError(t, err)
	defer w.Cancel()

	_, err = client.ExpectEvent("Test.once", nil)
	assert.ErrorIs(t, err, ErrSubscriptionExists)

	// cancellation frees the slot
	w.Cancel()
	_, err = client.ExpectEvent("Test.once", nil)
	assert.NoError(t, err)
}

func TestListen(t *testing.T) {
	t.Parallel()

	s := newCDPServer(t)
	s.handle("Test.trigger", func(int64, json.RawMessage) (interface{}, *wireError, bool) {
		s.sendEvent("Test.stream", map[string]int{"n": 1})
		s.sendEvent("Test.stream", map[string]int{"n": 2})
		return struct{}{}, nil, true
	})
	client := newTestClient(t, s)

	got := make(chan int, 4)
	remove := client.Listen("Test.stream", func(params easyjson.RawMessage) {
		var p struct {
			N int `json:"n"`
		}
		if json.Unmarshal(params, &p) == nil {
			got <- p.N
		}
	})
	defer remove()

	require.NoError(t, client.SendCommand(context.Background(), "Test.trigger", nil, nil, time.Second, nil))

	for want := 1; want <= 2; want++ {
		select {
		case n := <-got:
			assert.Equal(t, want, n)
		case <-time.After(time.Second):
			t.Fatalf("event %d not delivered", want)
		}
	}
}

func TestConnectionClosedFailsPending(t *testing.T) {
	t.Parallel()

	s := newCDPServer(t)
	s.handle("Test.never", func(int64, json.RawMessage) (interface{}, *wireError, bool) {
		go s.closeConn()
		return nil, nil, false
	})
	client := newTestClient(t, s)

	err := client.SendCommand(context.Background(), "Test.never", nil, nil, time.Minute, nil)
	assert.ErrorIs(t, err, ErrConnectionClosed)

	// after closure, new commands fail immediately
	select {
	case <-client.Done():
	case <-time.After(time.Second):
		t.Fatal("receive loop did not stop")
	}
	err = client.SendCommand(context.Background(), "Test.any", nil, nil, time.Second, nil)
	assert.ErrorIs(t, err, ErrConnectionClosed)
}
