package pagerender

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// cdpServer is a fake control endpoint for tests: it serves the target list
// over HTTP and speaks the command/reply/event wire protocol over a
// websocket. Commands without a registered handler get an empty result, so
// domain-enable round-trips always succeed.
type cdpServer struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	conn     *websocket.Conn
	upgrades int
	handlers map[string]cdpHandler
	seen     []string
}

// cdpHandler produces the reply for one command. respond=false suppresses
// the reply entirely, to exercise timeouts.
type cdpHandler func(id int64, params json.RawMessage) (result interface{}, errResp *wireError, respond bool)

type wireError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

type wireRequest struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func newCDPServer(t *testing.T) *cdpServer {
	s := &cdpServer{t: t, handlers: make(map[string]cdpHandler)}
	mux := http.NewServeMux()
	mux.HandleFunc("/json/list", s.serveList)
	mux.HandleFunc("/page", s.serveWS)
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

// URL returns the HTTP control endpoint, as accepted by WithRemoteEndpoint.
func (s *cdpServer) URL() string { return s.srv.URL }

// pageWSURL returns the page target's websocket URL.
func (s *cdpServer) pageWSURL() string {
	return "ws://" + strings.TrimPrefix(s.srv.URL, "http://") + "/page"
}

func (s *cdpServer) serveList(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, `[{"type":"page","webSocketDebuggerUrl":%q}]`, s.pageWSURL())
}

func (s *cdpServer) serveWS(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conn = conn
	s.upgrades++
	s.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req wireRequest
		if err := json.Unmarshal(data, &req); err != nil {
			s.t.Errorf("fake server: bad request %s: %v", data, err)
			continue
		}
		s.mu.Lock()
		s.seen = append(s.seen, req.Method)
		h := s.handlers[req.Method]
		s.mu.Unlock()

		if h == nil {
			s.reply(req.ID, struct{}{}, nil)
			continue
		}
		result, errResp, respond := h(req.ID, req.Params)
		if respond {
			s.reply(req.ID, result, errResp)
		}
	}
}

func (s *cdpServer) reply(id int64, result interface{}, errResp *wireError) {
	msg := map[string]interface{}{"id": id}
	if errResp != nil {
		msg["error"] = errResp
	} else {
		msg["result"] = result
	}
	s.writeJSON(msg)
}

// sendEvent pushes an out-of-band event to the connected client.
func (s *cdpServer) sendEvent(method string, params interface{}) {
	s.writeJSON(map[string]interface{}{"method": method, "params": params})
}

// sendRaw pushes an arbitrary message, e.g. a reply with a bogus id.
func (s *cdpServer) sendRaw(msg interface{}) {
	s.writeJSON(msg)
}

func (s *cdpServer) writeJSON(msg interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		s.t.Errorf("fake server: no client connected")
		return
	}
	if err := s.conn.WriteJSON(msg); err != nil {
		s.t.Logf("fake server: write: %v", err)
	}
}

// handle registers the reply for a method.
func (s *cdpServer) handle(method string, h cdpHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// handleResult registers a fixed successful result for a method.
func (s *cdpServer) handleResult(method string, result interface{}) {
	s.handle(method, func(int64, json.RawMessage) (interface{}, *wireError, bool) {
		return result, nil, true
	})
}

// silence registers a handler that never replies.
func (s *cdpServer) silence(method string) {
	s.handle(method, func(int64, json.RawMessage) (interface{}, *wireError, bool) {
		return nil, nil, false
	})
}

// sawMethod reports whether the server received the given command.
func (s *cdpServer) sawMethod(method string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.seen {
		if m == method {
			return true
		}
	}
	return false
}

// methodIndex returns the position of the first occurrence of method in the
// received command sequence, or -1.
func (s *cdpServer) methodIndex(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.seen {
		if m == method {
			return i
		}
	}
	return -1
}

// connCount returns how many websocket connections the server has accepted.
func (s *cdpServer) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upgrades
}

// closeConn drops the websocket from the server side.
func (s *cdpServer) closeConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
	}
}

// buildTestPDF constructs a minimal valid one-page PDF, computing the xref
// offsets as it goes.
func buildTestPDF() []byte {
	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, 4)
	obj := func(n int, body string) {
		offsets[n] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", n, body)
	}
	obj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	obj(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	obj(3, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> >>")
	xref := b.Len()
	b.WriteString("xref\n0 4\n")
	b.WriteString("0000000000 65535 f \n")
	for n := 1; n <= 3; n++ {
		fmt.Fprintf(&b, "%010d 00000 n \n", offsets[n])
	}
	fmt.Fprintf(&b, "trailer\n<< /Size 4 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", xref)
	return b.Bytes()
}
