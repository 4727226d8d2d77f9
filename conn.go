package pagerender

import (
	"context"
	"io"
	"net"
	"strings"

	"github.com/chromedp/cdproto"
	"github.com/gorilla/websocket"
)

// Socket buffer sizes. A single print-to-PDF or screenshot reply carries the
// whole rendered document base64-encoded in one frame, so the read side is
// sized for multi-megabyte messages; writes are small commands plus the
// occasional inline markup payload.
const (
	readBufferSize  = 25 * 1024 * 1024
	writeBufferSize = 10 * 1024 * 1024
)

// Transport carries protocol messages between the client and the browser's
// control endpoint.
type Transport interface {
	Read() (*cdproto.Message, error)
	Write(*cdproto.Message) error
	io.Closer
}

// Conn is the websocket Transport used for a locally launched or remote
// browser.
type Conn struct {
	*websocket.Conn
}

// Read decodes the next inbound message.
func (c *Conn) Read() (*cdproto.Message, error) {
	msg := new(cdproto.Message)
	if err := c.ReadJSON(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Write encodes and sends one message.
func (c *Conn) Write(msg *cdproto.Message) error {
	return c.WriteJSON(msg)
}

// DialContext connects to the browser's websocket control endpoint.
func DialContext(ctx context.Context, urlstr string) (*Conn, error) {
	d := &websocket.Dialer{
		ReadBufferSize:  readBufferSize,
		WriteBufferSize: writeBufferSize,
	}
	conn, _, err := d.DialContext(ctx, urlstr, nil)
	if err != nil {
		return nil, err
	}
	return &Conn{conn}, nil
}

// ForceIP resolves the host component of urlstr to an IP address. Chromium
// rejects control connections whose Host header is neither an IP address nor
// "localhost", so endpoints discovered under other hostnames are rewritten
// before dialing.
func ForceIP(urlstr string) string {
	if i := strings.Index(urlstr, "://"); i != -1 {
		scheme := urlstr[:i+3]
		host, port, path := urlstr[len(scheme):], "", ""
		if i := strings.Index(host, "/"); i != -1 {
			host, path = host[:i], host[i:]
		}
		if i := strings.Index(host, ":"); i != -1 {
			host, port = host[:i], host[i:]
		}
		if addr, err := net.ResolveIPAddr("ip", host); err == nil {
			urlstr = scheme + addr.IP.String() + port + path
		}
	}
	return urlstr
}
