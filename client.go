package pagerender

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/mailru/easyjson"
)

// defaultCommandTimeout bounds a single command round-trip when the caller
// does not supply a tighter bound.
const defaultCommandTimeout = time.Minute

// Client is the protocol driver for one control endpoint. A background
// receive loop continuously drains the websocket for the lifetime of the
// client; commands are issued from caller goroutines that block, with a
// bounded wait, on a per-request result slot.
type Client struct {
	conn   Transport
	logger *Logger

	// next is the next correlation id.
	next int64

	writeMu sync.Mutex

	mu        sync.Mutex
	pending   map[int64]chan *cdproto.Message
	waiters   map[string]*eventWaiter
	listeners map[string]*eventListener
	closed    bool

	// done is closed when the receive loop stops.
	done      chan struct{}
	closeOnce sync.Once
}

// eventWaiter is a one-shot subscription for a single matching event. At most
// one waiter per method name is active at a time.
type eventWaiter struct {
	match func(easyjson.RawMessage) bool
	ch    chan easyjson.RawMessage
}

// eventListener is a persistent handler for every event of one method. The
// handler runs on its own goroutine so that it may itself issue commands
// without blocking the receive loop.
type eventListener struct {
	ch chan easyjson.RawMessage
}

// NewClient dials the websocket control endpoint and starts the receive loop.
func NewClient(ctx context.Context, wsURL string, logger *Logger) (*Client, error) {
	conn, err := DialContext(ctx, ForceIP(wsURL))
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = NullLogger()
	}
	c := &Client{
		conn:      conn,
		logger:    logger,
		pending:   make(map[int64]chan *cdproto.Message),
		waiters:   make(map[string]*eventWaiter),
		listeners: make(map[string]*eventListener),
		done:      make(chan struct{}),
	}
	go c.run()
	return c, nil
}

// run drains the connection, classifying every inbound message as either a
// correlated reply or an event.
func (c *Client) run() {
	for {
		msg, err := c.conn.Read()
		if err != nil {
			c.fail()
			return
		}
		switch {
		case msg.ID != 0:
			c.deliverReply(msg)
		case msg.Method != "":
			c.deliverEvent(msg)
		default:
			c.logger.Errorf("protocol", "ignoring malformed message without id or method")
		}
	}
}

// deliverReply resolves exactly one pending request. Replies with unknown ids
// are logged and dropped, never fatal.
func (c *Client) deliverReply(msg *cdproto.Message) {
	c.mu.Lock()
	ch, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.mu.Unlock()
	if !ok {
		c.logger.Debugf("protocol", "dropping reply with unknown id %d", msg.ID)
		return
	}
	ch <- msg
}

// deliverEvent resolves at most one matching waiter; otherwise the event goes
// to a persistent listener if one is registered, and is dropped if not.
func (c *Client) deliverEvent(msg *cdproto.Message) {
	method := string(msg.Method)
	c.mu.Lock()
	if w, ok := c.waiters[method]; ok && (w.match == nil || w.match(msg.Params)) {
		delete(c.waiters, method)
		c.mu.Unlock()
		w.ch <- msg.Params
		return
	}
	l := c.listeners[method]
	c.mu.Unlock()
	if l == nil {
		return
	}
	select {
	case l.ch <- msg.Params:
	default:
		c.logger.Warnf("protocol", "dropping %s event, listener queue full", method)
	}
}

// fail aborts all pending requests and event waits with a connection-closed
// error and stops the loop.
func (c *Client) fail() {
	c.mu.Lock()
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	for method, w := range c.waiters {
		close(w.ch)
		delete(c.waiters, method)
	}
	for method, l := range c.listeners {
		close(l.ch)
		delete(c.listeners, method)
	}
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) write(msg *cdproto.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.Write(msg)
}

func (c *Client) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// SendCommand issues one correlated command and blocks until its reply
// arrives or the combined bound of timeout and the countdown timer elapses.
// params is marshaled as the command's params object; when res is non-nil the
// reply's result object is unmarshaled into it.
func (c *Client) SendCommand(ctx context.Context, method string, params, res interface{}, timeout time.Duration, timer *CountdownTimer) error {
	if timer.Expired() {
		return ErrConversionTimeout
	}

	var raw easyjson.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return err
		}
		raw = b
	}

	id := atomic.AddInt64(&c.next, 1)
	ch := make(chan *cdproto.Message, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	msg := &cdproto.Message{
		ID:     id,
		Method: cdproto.MethodType(method),
		Params: raw,
	}
	if err := c.write(msg); err != nil {
		c.forget(id)
		return ErrConnectionClosed
	}

	bound, fromTimer := waitBound(timeout, timer)
	t := time.NewTimer(bound)
	defer t.Stop()
	select {
	case reply, ok := <-ch:
		if !ok || reply == nil {
			return ErrConnectionClosed
		}
		if reply.Error != nil {
			return reply.Error
		}
		if res != nil {
			return json.Unmarshal(reply.Result, res)
		}
		return nil
	case <-t.C:
		c.forget(id)
		if fromTimer {
			return ErrConversionTimeout
		}
		return &TimeoutError{What: method, Wait: bound}
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	}
}

// EventWaiter is a registered one-shot wait for a single event, created with
// ExpectEvent. It must be resolved with Wait or released with Cancel.
type EventWaiter struct {
	c      *Client
	method string
	ch     chan easyjson.RawMessage
}

// ExpectEvent registers a one-shot subscription for the next event of the
// given method for which match returns true (a nil match accepts any).
// Registering the subscription before issuing the command that triggers the
// event avoids losing an event that fires before the wait begins. An active
// subscription for the same method is never overwritten; attempting to do so
// returns ErrSubscriptionExists.
func (c *Client) ExpectEvent(method string, match func(easyjson.RawMessage) bool) (*EventWaiter, error) {
	ch := make(chan easyjson.RawMessage, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrConnectionClosed
	}
	if _, ok := c.waiters[method]; ok {
		return nil, ErrSubscriptionExists
	}
	c.waiters[method] = &eventWaiter{match: match, ch: ch}
	return &EventWaiter{c: c, method: method, ch: ch}, nil
}

// Wait blocks until the subscribed event arrives or the combined bound of
// timeout and the countdown timer elapses, returning the event's params.
func (w *EventWaiter) Wait(ctx context.Context, timeout time.Duration, timer *CountdownTimer) (easyjson.RawMessage, error) {
	bound, fromTimer := waitBound(timeout, timer)
	t := time.NewTimer(bound)
	defer t.Stop()
	select {
	case params, ok := <-w.ch:
		if !ok {
			return nil, ErrConnectionClosed
		}
		return params, nil
	case <-t.C:
		w.Cancel()
		if fromTimer {
			return nil, ErrConversionTimeout
		}
		return nil, &TimeoutError{What: w.method, Wait: bound}
	case <-ctx.Done():
		w.Cancel()
		return nil, ctx.Err()
	}
}

// Cancel removes the subscription if it is still registered.
func (w *EventWaiter) Cancel() {
	w.c.mu.Lock()
	if cur, ok := w.c.waiters[w.method]; ok && cur.ch == w.ch {
		delete(w.c.waiters, w.method)
	}
	w.c.mu.Unlock()
}

// WaitForEvent registers a subscription for the given method and blocks until
// a matching event arrives or the wait bound elapses.
func (c *Client) WaitForEvent(ctx context.Context, method string, match func(easyjson.RawMessage) bool, timeout time.Duration, timer *CountdownTimer) (easyjson.RawMessage, error) {
	w, err := c.ExpectEvent(method, match)
	if err != nil {
		return nil, err
	}
	return w.Wait(ctx, timeout, timer)
}

// Listen installs a persistent handler for every event of the given method,
// replacing any previous handler. The handler runs on a dedicated goroutine,
// so it may issue commands itself; events arriving faster than the handler
// drains them are dropped with a warning. The returned func removes the
// handler.
func (c *Client) Listen(method string, fn func(easyjson.RawMessage)) func() {
	l := &eventListener{ch: make(chan easyjson.RawMessage, 256)}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return func() {}
	}
	c.listeners[method] = l
	c.mu.Unlock()

	go func() {
		for params := range l.ch {
			fn(params)
		}
	}()

	return func() {
		c.mu.Lock()
		if cur, ok := c.listeners[method]; ok && cur == l {
			delete(c.listeners, method)
			close(l.ch)
		}
		c.mu.Unlock()
	}
}

// Detach closes the socket without asking the browser to shut down, for
// clients attached to a browser they do not own. Idempotent.
func (c *Client) Detach() error {
	err := c.conn.Close()
	c.fail()
	return err
}

// Close performs a best-effort graceful browser shutdown and closes the
// socket. It never blocks for more than a couple of seconds and is safe to
// call multiple times.
func (c *Client) Close() error {
	c.mu.Lock()
	alreadyClosed := c.closed
	c.mu.Unlock()
	if !alreadyClosed {
		// best-effort; the browser may already be gone
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.SendCommand(ctx, string(cdproto.CommandBrowserClose), nil, nil, 2*time.Second, nil); err != nil {
			c.logger.Debugf("protocol", "browser close: %v", err)
		}
	}
	err := c.conn.Close()
	c.fail()
	return err
}

// Done returns a channel that is closed once the receive loop has stopped.
func (c *Client) Done() <-chan struct{} { return c.done }
