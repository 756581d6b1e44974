package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/mcp-server-go/pkg/logging"
	"github.com/ajitpratap0/mcp-server-go/pkg/protocol"
)

// StdioConfig configures a stdio transport. Zero values serve on the
// process's stdin and stdout, which is the arrangement the MCP
// specification recommends for subprocess servers.
type StdioConfig struct {
	Reader io.Reader
	Writer io.Writer
	Logger logging.Logger
}

// StdioTransport frames messages by newline over a reader/writer pair.
// The host process typically launches the server through a login shell
// and wires these to pipes.
type StdioTransport struct {
	*BaseTransport

	reader    io.Reader
	rawWriter *bufio.Writer

	writeMu  sync.Mutex
	done     chan struct{}
	stopOnce sync.Once
}

// NewStdioTransport creates a stdio transport from config.
func NewStdioTransport(config StdioConfig) *StdioTransport {
	reader := config.Reader
	writer := config.Writer
	if reader == nil {
		reader = os.Stdin
	}
	if writer == nil {
		writer = os.Stdout
	}

	return &StdioTransport{
		BaseTransport: NewBaseTransport(config.Logger),
		reader:        reader,
		rawWriter:     bufio.NewWriter(writer),
		done:          make(chan struct{}),
	}
}

// Initialize prepares the transport for use. The stdio pipes already
// exist, so this is a no-op.
func (t *StdioTransport) Initialize(ctx context.Context) error {
	return nil
}

// Start reads newline-framed messages until EOF, Stop, or context
// cancellation.
func (t *StdioTransport) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	scanner := bufio.NewScanner(t.reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	scannerDone := make(chan struct{})

	g.Go(func() error {
		defer close(scannerDone)

		for scanner.Scan() {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-t.done:
				return nil
			default:
			}

			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			data := make([]byte, len(line))
			copy(data, line)

			t.DispatchData(gctx, data, t.send)
		}

		if err := scanner.Err(); err != nil && err != io.EOF {
			return err
		}
		return nil
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
			t.closeReader()
			return gctx.Err()
		case <-t.done:
			t.closeReader()
			return nil
		case <-scannerDone:
			return nil
		}
	})

	return g.Wait()
}

// closeReader unblocks a pending Scan by closing the underlying reader
// when it supports closing.
func (t *StdioTransport) closeReader() {
	if closer, ok := t.reader.(io.Closer); ok {
		_ = closer.Close()
	}
}

// Stop halts the transport, flushes buffered output and fails all
// pending outbound calls.
func (t *StdioTransport) Stop(ctx context.Context) error {
	var flushErr error
	t.stopOnce.Do(func() {
		close(t.done)

		t.writeMu.Lock()
		flushErr = t.rawWriter.Flush()
		t.writeMu.Unlock()

		t.Cleanup()
	})
	return flushErr
}

// send writes one framed message. Writes are serialized so concurrent
// responses cannot interleave on the stream.
func (t *StdioTransport) send(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}

	if _, err := t.rawWriter.Write(data); err != nil {
		return err
	}
	if err := t.rawWriter.WriteByte('\n'); err != nil {
		return err
	}
	return t.rawWriter.Flush()
}

// SendRequest sends a request and waits for the correlated response.
func (t *StdioTransport) SendRequest(ctx context.Context, method string, params interface{}) (*protocol.Response, error) {
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
func (t *StdioTransport) SendNotification(ctx context.Context, method string, params interface{}) error {
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
