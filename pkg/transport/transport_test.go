package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/ajitpratap0/mcp-server-go/pkg/logging"
	"github.com/ajitpratap0/mcp-server-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-server-go/pkg/utils"
)

// echoHandler answers every request with its method name and records
// notifications.
type echoHandler struct {
	notifications chan *protocol.Notification
}

func newEchoHandler() *echoHandler {
	return &echoHandler{notifications: make(chan *protocol.Notification, 8)}
}

func (h *echoHandler) HandleRequest(ctx context.Context, req *protocol.Request) *protocol.Response {
	resp, _ := protocol.NewResponse(req.ID, map[string]string{"method": req.Method})
	return resp
}

func (h *echoHandler) HandleNotification(ctx context.Context, n *protocol.Notification) {
	h.notifications <- n
}

func TestPipeTransportRequestResponse(t *testing.T) {
	detector := utils.NewGoroutineLeakDetector(t)
	detector.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, b := NewPipe(logging.Discard())
	a.SetHandler(newEchoHandler())
	b.SetHandler(newEchoHandler())

	go func() { _ = a.Start(ctx) }()
	go func() { _ = b.Start(ctx) }()

	resp, err := a.SendRequest(ctx, "test/method", map[string]int{"x": 1})
	if err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}
	var result map[string]string
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("result did not decode: %v", err)
	}
	if result["method"] != "test/method" {
		t.Errorf("result = %v", result)
	}

	_ = a.Stop(ctx)
	_ = b.Stop(ctx)
	cancel()

	detector.Check()
}

func TestPipeTransportNotification(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, b := NewPipe(logging.Discard())
	handler := newEchoHandler()
	b.SetHandler(handler)
	a.SetHandler(newEchoHandler())

	go func() { _ = a.Start(ctx) }()
	go func() { _ = b.Start(ctx) }()
	defer func() {
		_ = a.Stop(ctx)
		_ = b.Stop(ctx)
	}()

	if err := a.SendNotification(ctx, "notifications/test", nil); err != nil {
		t.Fatalf("SendNotification failed: %v", err)
	}

	select {
	case n := <-handler.notifications:
		if n.Method != "notifications/test" {
			t.Errorf("notification method = %q", n.Method)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestPipeTransportStopFailsPending(t *testing.T) {
	ctx := context.Background()

	a, b := NewPipe(logging.Discard())
	a.SetHandler(newEchoHandler())
	// b never starts, so the request can never be answered.
	_ = b

	go func() { _ = a.Start(ctx) }()

	errCh := make(chan error, 1)
	go func() {
		_, err := a.SendRequest(ctx, "test/blocked", nil)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	_ = a.Stop(ctx)

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("pending request succeeded after Stop")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending request did not fail after Stop")
	}
}

func TestStdioTransportRequestResponse(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	tr := NewStdioTransport(StdioConfig{Reader: inR, Writer: outW, Logger: logging.Discard()})
	tr.SetHandler(newEchoHandler())

	started := make(chan error, 1)
	go func() { started <- tr.Start(ctx) }()

	req, err := protocol.NewRequest(1, "tools/list", nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	data, _ := json.Marshal(req)
	go func() {
		_, _ = inW.Write(append(data, '\n'))
	}()

	line, err := bufio.NewReader(outR).ReadBytes('\n')
	if err != nil {
		t.Fatalf("failed to read response line: %v", err)
	}

	var resp protocol.Response
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatalf("response did not decode: %v (%s)", err, line)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error response: %v", resp.Error)
	}
	var result map[string]string
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("result did not decode: %v", err)
	}
	if result["method"] != "tools/list" {
		t.Errorf("result = %v", result)
	}

	_ = tr.Stop(ctx)
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestStdioTransportEOFEndsStart(t *testing.T) {
	ctx := context.Background()

	inR, inW := io.Pipe()
	tr := NewStdioTransport(StdioConfig{Reader: inR, Writer: io.Discard, Logger: logging.Discard()})
	tr.SetHandler(newEchoHandler())

	started := make(chan error, 1)
	go func() { started <- tr.Start(ctx) }()

	_ = inW.Close()

	select {
	case err := <-started:
		if err != nil && err != io.EOF {
			t.Errorf("Start returned %v, want nil on EOF", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return on EOF")
	}
}
