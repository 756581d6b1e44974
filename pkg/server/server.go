package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	mcperrors "github.com/ajitpratap0/mcp-server-go/pkg/errors"
	"github.com/ajitpratap0/mcp-server-go/pkg/logging"
	"github.com/ajitpratap0/mcp-server-go/pkg/observability"
	"github.com/ajitpratap0/mcp-server-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-server-go/pkg/transport"
)

// State is the lifecycle state of a session.
type State int

const (
	// StateNew is the state before construction completes.
	StateNew State = iota
	// StateConnecting is the window between construction and a
	// successful initialize handshake.
	StateConnecting
	// StateReady is the normal serving state.
	StateReady
	// StateClosing is entered when the disconnect event fires.
	StateClosing
	// StateClosed is terminal.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// defaultPingInterval is the liveness probe period.
const defaultPingInterval = 30 * time.Second

// InitializeHook runs while the initialize request is being handled.
// A non-nil error fails the handshake and closes the session.
type InitializeHook func(ctx context.Context, params *protocol.InitializeParams) error

// Server is one MCP session. It consumes the transport's inbound
// message sequence, dispatches requests against its registries, and
// exposes the client's capabilities (sampling, roots) to user code.
type Server struct {
	transport    transport.Transport
	info         protocol.Implementation
	instructions string
	sessionID    string

	initializeHook InitializeHook
	pingInterval   time.Duration

	logger  logging.Logger
	metrics *observability.Metrics
	tracing *observability.TracingProvider

	// mu guards every field below. Registration and dispatch serialize
	// through it, so a registration cannot race a concurrent list.
	mu           sync.Mutex
	state        State
	capabilities protocol.ServerCapabilities
	clientInfo   *protocol.ClientInfo

	tools     map[string]*registeredTool
	toolOrder []string

	resources     map[string]*registeredResource
	resourceOrder []string

	templates     map[string]*registeredTemplate
	templateOrder []string

	prompts     map[string]*registeredPrompt
	promptOrder []string

	subscriptions map[string]bool

	inflight map[string]context.CancelFunc

	clientLogLevel protocol.LogLevel

	rootsValue *RootsStatus
	rootsSubs  []chan RootsStatus

	pingCancel context.CancelFunc

	disconnectOnce sync.Once
	disconnected   chan struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithName sets the server name advertised during the handshake.
func WithName(name string) Option {
	return func(s *Server) { s.info.Name = name }
}

// WithVersion sets the server version advertised during the handshake.
func WithVersion(version string) Option {
	return func(s *Server) { s.info.Version = version }
}

// WithInstructions sets the optional instructions returned from
// initialize.
func WithInstructions(instructions string) Option {
	return func(s *Server) { s.instructions = instructions }
}

// WithCapabilities sets the server capability record. It is immutable
// after construction except for the tools group, which UpdateTools may
// atomically replace.
func WithCapabilities(caps protocol.ServerCapabilities) Option {
	return func(s *Server) { s.capabilities = caps }
}

// WithInitializeHook installs a hook that runs while initialize is
// handled. A hook error fails the entire handshake.
func WithInitializeHook(hook InitializeHook) Option {
	return func(s *Server) { s.initializeHook = hook }
}

// WithLogger sets the structured logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics attaches Prometheus dispatch metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithTracing attaches an OpenTelemetry tracing provider; every
// dispatched request gets a span.
func WithTracing(tp *observability.TracingProvider) Option {
	return func(s *Server) { s.tracing = tp }
}

// WithPingInterval overrides the 30 s liveness probe period.
func WithPingInterval(d time.Duration) Option {
	return func(s *Server) { s.pingInterval = d }
}

// New creates a server bound to a transport and installs itself as the
// transport's message handler. The session starts in the Connecting
// state and becomes Ready when the client completes the initialize
// handshake.
func New(t transport.Transport, options ...Option) *Server {
	s := &Server{
		transport: t,
		info: protocol.Implementation{
			Name:    "mcp-server-go",
			Version: "0.1.0",
		},
		sessionID:    uuid.NewString(),
		pingInterval: defaultPingInterval,
		logger:       logging.New(nil, nil),
		state:        StateConnecting,

		tools:         make(map[string]*registeredTool),
		resources:     make(map[string]*registeredResource),
		templates:     make(map[string]*registeredTemplate),
		prompts:       make(map[string]*registeredPrompt),
		subscriptions: make(map[string]bool),
		inflight:      make(map[string]context.CancelFunc),

		clientLogLevel: protocol.LogLevelDebug,
		disconnected:   make(chan struct{}),
	}

	for _, option := range options {
		option(s)
	}

	s.logger = s.logger.WithFields(logging.String("session_id", s.sessionID))
	t.SetHandler(s)
	return s
}

// Serve initializes and runs the transport until the peer goes away or
// the context is canceled, then closes the session.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.transport.Initialize(ctx); err != nil {
		return mcperrors.WrapInternal("transport initialization", err)
	}

	s.logger.Info("session serving", logging.String("server", s.info.Name))

	err := s.transport.Start(ctx)
	s.disconnect("transport closed")
	return err
}

// Stop closes the session and the transport.
func (s *Server) Stop() error {
	s.disconnect("server stopped")
	return s.transport.Stop(context.Background())
}

// State returns the session state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionID returns the unique ID of this session.
func (s *Server) SessionID() string {
	return s.sessionID
}

// ClientInfo returns the client identity and capabilities captured by
// the handshake, or nil before the handshake completes.
func (s *Server) ClientInfo() *protocol.ClientInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientInfo
}

// Capabilities returns the server capability record.
func (s *Server) Capabilities() protocol.ServerCapabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capabilities
}

// WaitForDisconnection blocks until the session disconnects or the
// context is done.
func (s *Server) WaitForDisconnection(ctx context.Context) error {
	select {
	case <-s.disconnected:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// disconnect fires the disconnect event exactly once: the ping task is
// cancelled, in-flight handlers are cancelled, and waiters unblock.
func (s *Server) disconnect(reason string) {
	s.disconnectOnce.Do(func() {
		s.mu.Lock()
		wasReady := s.state == StateReady
		s.state = StateClosing
		pingCancel := s.pingCancel
		cancels := make([]context.CancelFunc, 0, len(s.inflight))
		for _, cancel := range s.inflight {
			cancels = append(cancels, cancel)
		}
		s.inflight = make(map[string]context.CancelFunc)
		for _, ch := range s.rootsSubs {
			close(ch)
		}
		s.rootsSubs = nil
		s.state = StateClosed
		s.mu.Unlock()

		if pingCancel != nil {
			pingCancel()
		}
		for _, cancel := range cancels {
			cancel()
		}

		if s.metrics != nil && wasReady {
			s.metrics.SessionEnded()
		}

		s.logger.Info("session disconnected", logging.String("reason", reason))
		close(s.disconnected)
	})
}

// startPingLoop launches the liveness probe. Any ping failure triggers
// disconnect.
func (s *Server) startPingLoop() {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.pingCancel = cancel
	interval := s.pingInterval
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				resp, err := s.transport.SendRequest(ctx, protocol.MethodPing, protocol.PingParams{})
				if err == nil && resp.Error != nil {
					err = resp.Error
				}
				if err != nil {
					s.logger.Warn("ping failed", logging.ErrorField(err))
					s.disconnect("ping failed")
					return
				}
			}
		}
	}()
}

// handleInitialize performs the handshake. It is only reachable in the
// Connecting state.
func (s *Server) handleInitialize(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params protocol.InitializeParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, mcperrors.NewError(mcperrors.CodeInvalidParams,
			fmt.Sprintf("malformed initialize params: %v", err),
			mcperrors.CategoryValidation, mcperrors.SeverityError)
	}

	if s.initializeHook != nil {
		if err := s.initializeHook(ctx, &params); err != nil {
			s.logger.Error("initialize hook failed", logging.ErrorField(err))
			s.disconnect("initialize hook failed")
			if mcpErr, ok := mcperrors.AsMCPError(err); ok {
				return nil, mcpErr
			}
			return nil, mcperrors.WrapInternal("initialize hook", err)
		}
	}

	s.mu.Lock()
	s.clientInfo = &protocol.ClientInfo{
		Info:         params.ClientInfo,
		Capabilities: params.Capabilities,
	}
	s.state = StateReady
	caps := s.capabilities
	s.mu.Unlock()

	s.logger.Info("session initialized",
		logging.String("client", params.ClientInfo.Name),
		logging.String("client_version", params.ClientInfo.Version),
		logging.String("protocol_version", params.ProtocolVersion))

	if s.metrics != nil {
		s.metrics.SessionStarted()
	}
	s.startPingLoop()

	return &protocol.InitializeResult{
		ProtocolVersion: protocol.ProtocolRevision,
		Capabilities:    caps,
		ServerInfo:      s.info,
		Instructions:    s.instructions,
	}, nil
}

// trackRequest registers the cancel function of an in-flight request
// so notifications/cancelled can reach it.
func (s *Server) trackRequest(id string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight[id] = cancel
}

// completeRequest drops a finished request from the in-flight map.
func (s *Server) completeRequest(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, id)
}

// cancelRequest cancels a specific in-flight request by ID.
func (s *Server) cancelRequest(id string) bool {
	s.mu.Lock()
	cancel, ok := s.inflight[id]
	if ok {
		delete(s.inflight, id)
	}
	s.mu.Unlock()

	if ok {
		cancel()
		s.logger.Info("cancelled request", logging.String("request_id", id))
	}
	return ok
}
