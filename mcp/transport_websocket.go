package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
)

var errWSClosed = errors.New("websocket closed")

type wsDialer struct {
	cfg WebSocketConfig
}

func (d *wsDialer) dial(ctx context.Context, _ func(error)) (*mcpclient.Client, *mcpgo.InitializeResult, error) {
	tr := newWSTransport(d.cfg.URL, withAuth(d.cfg.Headers, d.cfg.AuthToken))
	cl := mcpclient.NewClient(tr)
	if err := cl.Start(ctx); err != nil {
		return nil, nil, err
	}
	return cl, nil, nil
}

// The transport owns the socket and the client closes it.
func (d *wsDialer) release() {}

// wsTransport carries JSON-RPC messages as WebSocket text frames, one
// message per frame.
type wsTransport struct {
	url    string
	header http.Header

	connMu sync.Mutex
	conn   *websocket.Conn

	pendingMu sync.Mutex
	pending   map[string]chan *transport.JSONRPCResponse
	broken    error

	handlerMu sync.RWMutex
	notify    func(mcpgo.JSONRPCNotification)
	lost      func(error)

	closeOnce sync.Once
	done      chan struct{}
}

var _ transport.Interface = (*wsTransport)(nil)

func newWSTransport(url string, headers map[string]string) *wsTransport {
	h := make(http.Header, len(headers))
	for k, v := range headers {
		h.Set(k, v)
	}
	return &wsTransport{
		url:     url,
		header:  h,
		pending: make(map[string]chan *transport.JSONRPCResponse),
		done:    make(chan struct{}),
	}
}

func (t *wsTransport) Start(ctx context.Context) error {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	if t.conn != nil {
		return nil
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.url, t.header)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}
	conn.SetReadLimit(64 << 20)
	t.conn = conn
	go t.readLoop(conn)
	return nil
}

func (t *wsTransport) SendRequest(ctx context.Context, req transport.JSONRPCRequest) (*transport.JSONRPCResponse, error) {
	key := req.ID.String()
	ch := make(chan *transport.JSONRPCResponse, 1)
	t.pendingMu.Lock()
	if t.broken != nil {
		t.pendingMu.Unlock()
		return nil, t.broken
	}
	t.pending[key] = ch
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, key)
		t.pendingMu.Unlock()
	}()

	if err := t.write(req); err != nil {
		return nil, err
	}
	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, errWSClosed
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *wsTransport) SendNotification(_ context.Context, n mcpgo.JSONRPCNotification) error {
	return t.write(n)
}

func (t *wsTransport) SetNotificationHandler(fn func(mcpgo.JSONRPCNotification)) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.notify = fn
}

// SetConnectionLostHandler is picked up by mcpclient.Client.OnConnectionLost.
func (t *wsTransport) SetConnectionLostHandler(fn func(error)) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.lost = fn
}

func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		t.connMu.Lock()
		conn := t.conn
		t.connMu.Unlock()
		if conn == nil {
			return
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = conn.Close()
		t.failPending(errWSClosed)
	})
	return err
}

func (t *wsTransport) GetSessionId() string { return "" }

func (t *wsTransport) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	t.connMu.Lock()
	defer t.connMu.Unlock()
	if t.conn == nil {
		return errWSClosed
	}
	select {
	case <-t.done:
		return errWSClosed
	default:
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// wsEnvelope tells responses, notifications and server requests apart.
type wsEnvelope struct {
	ID     *mcpgo.RequestId `json:"id"`
	Method string           `json:"method"`
}

func (t *wsTransport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.failPending(fmt.Errorf("%w: %v", errWSClosed, err))
			select {
			case <-t.done:
			default:
				t.handlerMu.RLock()
				lost := t.lost
				t.handlerMu.RUnlock()
				if lost != nil {
					lost(err)
				}
			}
			return
		}

		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch {
		case env.Method != "" && (env.ID == nil || env.ID.IsNil()):
			var n mcpgo.JSONRPCNotification
			if json.Unmarshal(data, &n) != nil {
				continue
			}
			t.handlerMu.RLock()
			fn := t.notify
			t.handlerMu.RUnlock()
			if fn != nil {
				fn(n)
			}
		case env.Method == "" && env.ID != nil:
			var resp transport.JSONRPCResponse
			if json.Unmarshal(data, &resp) != nil {
				continue
			}
			t.pendingMu.Lock()
			ch, ok := t.pending[resp.ID.String()]
			delete(t.pending, resp.ID.String())
			t.pendingMu.Unlock()
			if ok {
				ch <- &resp
			}
		}
		// Server-initiated requests (sampling, roots) are not supported.
	}
}

// failPending wakes every waiting request and fails later ones with err.
func (t *wsTransport) failPending(err error) {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	if t.broken == nil {
		t.broken = err
	}
	for k, ch := range t.pending {
		close(ch)
		delete(t.pending, k)
	}
}
