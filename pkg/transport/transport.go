// Package transport moves JSON-RPC messages between the session and
// the connected client. The session consumes an abstract full-duplex
// message sequence; this package provides the stdio implementation the
// protocol is usually paired with and an in-memory pipe for tests and
// embedding.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ajitpratap0/mcp-server-go/pkg/logging"
	"github.com/ajitpratap0/mcp-server-go/pkg/protocol"
)

// Handler consumes the inbound message sequence. HandleRequest must
// return exactly one response for every request; HandleNotification is
// fire-and-forget.
type Handler interface {
	HandleRequest(ctx context.Context, req *protocol.Request) *protocol.Response
	HandleNotification(ctx context.Context, n *protocol.Notification)
}

// Transport is a duplex message channel. Implementations serialize
// writes; inbound requests and notifications are delivered to the
// registered Handler, each on its own goroutine so a handler may issue
// outbound calls without stalling the read loop.
type Transport interface {
	// Initialize prepares the transport for use.
	Initialize(ctx context.Context) error

	// Start runs the inbound read loop. It blocks until the context is
	// canceled, Stop is called, or the peer goes away.
	Start(ctx context.Context) error

	// Stop halts the transport and releases its resources.
	Stop(ctx context.Context) error

	// SendRequest sends a request and waits for the correlated response.
	SendRequest(ctx context.Context, method string, params interface{}) (*protocol.Response, error)

	// SendNotification sends a one-way notification.
	SendNotification(ctx context.Context, method string, params interface{}) error

	// SetHandler installs the consumer of inbound messages. It must be
	// called before Start.
	SetHandler(h Handler)
}

// ErrTransportClosed is returned by outbound calls after the transport
// has stopped.
var ErrTransportClosed = errors.New("transport closed")

// BaseTransport provides the request/response correlation and message
// classification shared by all transport implementations.
type BaseTransport struct {
	mu       sync.RWMutex
	handler  Handler
	pending  map[string]chan *protocol.Response
	idPrefix string
	logger   logging.Logger
	closed   bool
}

// NewBaseTransport creates the shared transport state. A nil logger
// discards transport diagnostics.
func NewBaseTransport(logger logging.Logger) *BaseTransport {
	if logger == nil {
		logger = logging.Discard()
	}
	return &BaseTransport{
		pending:  make(map[string]chan *protocol.Response),
		idPrefix: "srv",
		logger:   logger,
	}
}

// SetHandler installs the consumer of inbound messages.
func (t *BaseTransport) SetHandler(h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// Handler returns the installed message consumer.
func (t *BaseTransport) Handler() Handler {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.handler
}

// Logger returns the transport's logger.
func (t *BaseTransport) Logger() logging.Logger {
	return t.logger
}

// GenerateID produces a unique outbound request ID.
func (t *BaseTransport) GenerateID() string {
	return fmt.Sprintf("%s-%s", t.idPrefix, uuid.NewString())
}

// RegisterPending allocates the response channel for an outbound
// request ID. It must be called before the request is written so the
// response cannot race the registration.
func (t *BaseTransport) RegisterPending(id string) (<-chan *protocol.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTransportClosed
	}
	ch := make(chan *protocol.Response, 1)
	t.pending[id] = ch
	return ch, nil
}

// CancelPending releases the response channel of an abandoned request.
func (t *BaseTransport) CancelPending(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, id)
}

// WaitForResponse blocks until the correlated response arrives, the
// context is done, or the transport closes.
func (t *BaseTransport) WaitForResponse(ctx context.Context, id string, ch <-chan *protocol.Response) (*protocol.Response, error) {
	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrTransportClosed
		}
		return resp, nil
	case <-ctx.Done():
		t.CancelPending(id)
		return nil, ctx.Err()
	}
}

// HandleResponse routes an inbound response to its waiting caller.
// Responses with no pending request are logged and dropped.
func (t *BaseTransport) HandleResponse(resp *protocol.Response) {
	id := fmt.Sprintf("%v", resp.ID)

	t.mu.Lock()
	ch, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()

	if !ok {
		t.logger.Warn("dropping response with no pending request", logging.String("id", id))
		return
	}
	ch <- resp
}

// Cleanup closes every pending response channel so blocked callers
// observe the shutdown.
func (t *BaseTransport) Cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
}

// DispatchData classifies one framed message and routes it: requests
// and notifications go to the handler (each on its own goroutine),
// responses resolve pending outbound calls. The send callback writes a
// serialized response back to the peer.
func (t *BaseTransport) DispatchData(ctx context.Context, data []byte, send func([]byte) error) {
	switch {
	case protocol.IsResponse(data):
		var resp protocol.Response
		if err := json.Unmarshal(data, &resp); err != nil {
			t.logger.Error("failed to unmarshal response", logging.ErrorField(err))
			return
		}
		t.HandleResponse(&resp)

	case protocol.IsRequest(data):
		var req protocol.Request
		if err := json.Unmarshal(data, &req); err != nil {
			t.logger.Error("failed to unmarshal request", logging.ErrorField(err))
			return
		}
		handler := t.Handler()
		if handler == nil {
			t.logger.Error("request received before a handler was installed", logging.String("method", req.Method))
			return
		}
		go func() {
			resp := handler.HandleRequest(ctx, &req)
			if resp == nil {
				return
			}
			out, err := json.Marshal(resp)
			if err != nil {
				t.logger.Error("failed to marshal response", logging.ErrorField(err))
				return
			}
			if err := send(out); err != nil {
				t.logger.Error("failed to send response", logging.ErrorField(err))
			}
		}()

	case protocol.IsNotification(data):
		var n protocol.Notification
		if err := json.Unmarshal(data, &n); err != nil {
			t.logger.Error("failed to unmarshal notification", logging.ErrorField(err))
			return
		}
		handler := t.Handler()
		if handler == nil {
			return
		}
		go handler.HandleNotification(ctx, &n)

	default:
		t.logger.Warn("dropping unclassifiable message", logging.String("data", string(data)))
	}
}
