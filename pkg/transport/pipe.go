package transport

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ajitpratap0/mcp-server-go/pkg/logging"
	"github.com/ajitpratap0/mcp-server-go/pkg/protocol"
)

// PipeTransport is one endpoint of an in-memory duplex channel. Tests
// and in-process embeddings use a pipe pair instead of real pipes; both
// ends speak the same framed message sequence as the stdio transport.
type PipeTransport struct {
	*BaseTransport

	in  chan []byte
	out chan []byte

	done     chan struct{}
	stopOnce sync.Once
}

// NewPipe creates a connected transport pair. Messages sent on one end
// are delivered to the other.
func NewPipe(logger logging.Logger) (*PipeTransport, *PipeTransport) {
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)

	a := &PipeTransport{
		BaseTransport: NewBaseTransport(logger),
		in:            ba,
		out:           ab,
		done:          make(chan struct{}),
	}
	b := &PipeTransport{
		BaseTransport: NewBaseTransport(logger),
		in:            ab,
		out:           ba,
		done:          make(chan struct{}),
	}
	return a, b
}

// Initialize is a no-op for pipes.
func (t *PipeTransport) Initialize(ctx context.Context) error {
	return nil
}

// Start delivers inbound messages until the pipe is stopped or the
// context is canceled.
func (t *PipeTransport) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.done:
			return nil
		case data, ok := <-t.in:
			if !ok {
				return nil
			}
			t.DispatchData(ctx, data, t.send)
		}
	}
}

// Stop halts the endpoint and fails all pending outbound calls.
func (t *PipeTransport) Stop(ctx context.Context) error {
	t.stopOnce.Do(func() {
		close(t.done)
		t.Cleanup()
	})
	return nil
}

func (t *PipeTransport) send(data []byte) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	case t.out <- data:
		return nil
	}
}

// SendRequest sends a request and waits for the correlated response.
func (t *PipeTransport) SendRequest(ctx context.Context, method string, params interface{}) (*protocol.Response, error) {
	id := t.GenerateID()

	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	ch, err := t.RegisterPending(id)
	if err != nil {
		return nil, err
	}
	if err := t.send(data); err != nil {
		t.CancelPending(id)
		return nil, err
	}

	return t.WaitForResponse(ctx, id, ch)
}

// SendNotification sends a one-way notification.
func (t *PipeTransport) SendNotification(ctx context.Context, method string, params interface{}) error {
	n, err := protocol.NewNotification(method, params)
	if err != nil {
		return err
	}
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return t.send(data)
}
