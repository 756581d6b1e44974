package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	mcperrors "github.com/ajitpratap0/mcp-server-go/pkg/errors"
	"github.com/ajitpratap0/mcp-server-go/pkg/logging"
	"github.com/ajitpratap0/mcp-server-go/pkg/observability"
	"github.com/ajitpratap0/mcp-server-go/pkg/protocol"
)

// progressTokenKey carries the _meta.progressToken of the request being
// handled.
type progressTokenKey struct{}

// ProgressTokenFromContext returns the progress token of the request
// being handled, if the client supplied one.
func ProgressTokenFromContext(ctx context.Context) (interface{}, bool) {
	token := ctx.Value(progressTokenKey{})
	return token, token != nil
}

// HandleRequest implements transport.Handler. Every inbound request
// produces exactly one response.
func (s *Server) HandleRequest(ctx context.Context, req *protocol.Request) *protocol.Response {
	reqID := fmt.Sprintf("%v", req.ID)
	start := time.Now()

	var span trace.Span
	if s.tracing != nil {
		ctx, span = s.tracing.StartRequestSpan(ctx, req.Method, reqID)
	}

	result, err := s.dispatch(ctx, req, reqID)

	status := "ok"
	if err != nil {
		status = "error"
	}
	if s.metrics != nil {
		s.metrics.RecordRequest(req.Method, status, time.Since(start))
		if mcpErr, ok := mcperrors.AsMCPError(err); ok {
			s.metrics.RecordError(req.Method, mcpErr.Code())
		}
	}
	if span != nil {
		observability.EndRequestSpan(span, err)
	}

	if err != nil {
		s.logger.Debug("request failed",
			logging.String("method", req.Method),
			logging.String("request_id", reqID),
			logging.ErrorField(err))
		return errorResponse(req.ID, err)
	}

	resp, merr := protocol.NewResponse(req.ID, result)
	if merr != nil {
		return errorResponse(req.ID, mcperrors.WrapInternal("marshal result", merr))
	}
	return resp
}

// dispatch routes one request through the session state machine and on
// to its handler.
func (s *Server) dispatch(ctx context.Context, req *protocol.Request, reqID string) (interface{}, error) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	switch state {
	case StateClosing, StateClosed:
		return nil, mcperrors.ClientDisconnected()
	case StateConnecting:
		if req.Method != protocol.MethodInitialize {
			// A non-initialize request before the handshake fails the
			// whole session, not just the request.
			defer s.disconnect("request before handshake")
			return nil, mcperrors.ServerNotReady(
				fmt.Sprintf("expected %q, got %q", protocol.MethodInitialize, req.Method))
		}
		return s.handleInitialize(ctx, req.Params)
	}

	if req.Method == protocol.MethodInitialize {
		return nil, mcperrors.InvalidSequence("session is already initialized")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.trackRequest(reqID, cancel)
	defer s.completeRequest(reqID)

	switch req.Method {
	case protocol.MethodPing:
		return protocol.PingResult{}, nil

	case protocol.MethodListTools:
		if err := s.requireCapability(capabilityTools); err != nil {
			return nil, err
		}
		return s.handleListTools(ctx)

	case protocol.MethodCallTool:
		if err := s.requireCapability(capabilityTools); err != nil {
			return nil, err
		}
		return s.handleCallTool(ctx, req.Params)

	case protocol.MethodListResources:
		if err := s.requireCapability(capabilityResources); err != nil {
			return nil, err
		}
		return s.handleListResources(ctx)

	case protocol.MethodReadResource:
		if err := s.requireCapability(capabilityResources); err != nil {
			return nil, err
		}
		return s.handleReadResource(ctx, req.Params)

	case protocol.MethodListResourceTemplates:
		if err := s.requireCapability(capabilityResources); err != nil {
			return nil, err
		}
		return s.handleListResourceTemplates(ctx)

	case protocol.MethodSubscribeResource:
		return s.handleSubscribeResource(ctx, req.Params)

	case protocol.MethodUnsubscribeResource:
		return s.handleUnsubscribeResource(ctx, req.Params)

	case protocol.MethodListPrompts:
		if err := s.requireCapability(capabilityPrompts); err != nil {
			return nil, err
		}
		return s.handleListPrompts(ctx)

	case protocol.MethodGetPrompt:
		if err := s.requireCapability(capabilityPrompts); err != nil {
			return nil, err
		}
		return s.handleGetPrompt(ctx, req.Params)

	case protocol.MethodComplete:
		return s.handleComplete(ctx, req.Params)

	case protocol.MethodSetLogLevel:
		if err := s.requireCapability(capabilityLogging); err != nil {
			return nil, err
		}
		return s.handleSetLogLevel(ctx, req.Params)

	default:
		return nil, mcperrors.NewErrorf(mcperrors.CodeMethodNotFound,
			mcperrors.CategoryProtocol, mcperrors.SeverityError,
			"method not found: %q", req.Method)
	}
}

// HandleNotification implements transport.Handler.
func (s *Server) HandleNotification(ctx context.Context, n *protocol.Notification) {
	if s.metrics != nil {
		s.metrics.RecordNotification(n.Method)
	}

	switch n.Method {
	case protocol.NotificationInitialized:
		s.logger.Debug("client reported initialized")

	case protocol.NotificationCancelled:
		var params protocol.CancelledParams
		if err := json.Unmarshal(n.Params, &params); err != nil {
			s.logger.Warn("malformed cancelled notification", logging.ErrorField(err))
			return
		}
		s.cancelRequest(fmt.Sprintf("%v", params.RequestID))

	case protocol.NotificationProgress:
		// Observed only; a hook point is reserved here.
		s.logger.Debug("progress notification received")

	case protocol.NotificationRootsListChanged:
		go s.refreshRoots(context.Background())

	default:
		s.logger.Debug("unhandled notification", logging.String("method", n.Method))
	}
}

// handleListTools snapshots the tool registry in registration order.
func (s *Server) handleListTools(ctx context.Context) (interface{}, error) {
	s.mu.Lock()
	tools := make([]protocol.Tool, 0, len(s.toolOrder))
	for _, name := range s.toolOrder {
		tools = append(tools, s.tools[name].tool)
	}
	s.mu.Unlock()

	return &protocol.ListToolsResult{Tools: tools}, nil
}

// handleCallTool invokes a tool. Handler failures become results with
// IsError set, not JSON-RPC errors, so the client can tell tool
// semantic failures from protocol failures.
func (s *Server) handleCallTool(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params protocol.CallToolParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, mcperrors.NewErrorf(mcperrors.CodeInvalidParams,
			mcperrors.CategoryValidation, mcperrors.SeverityError,
			"malformed tools/call params: %v", err)
	}

	s.mu.Lock()
	rt, ok := s.tools[params.Name]
	s.mu.Unlock()
	if !ok {
		return nil, mcperrors.ToolNotFound(params.Name)
	}

	if params.Meta != nil && params.Meta.ProgressToken != nil {
		ctx = context.WithValue(ctx, progressTokenKey{}, params.Meta.ProgressToken)
	}

	start := time.Now()
	content, err := invokeTool(ctx, rt.handler, params.Arguments)

	status := "ok"
	if err != nil {
		status = "error"
	}
	if s.metrics != nil {
		s.metrics.RecordToolCall(params.Name, status, time.Since(start))
	}

	if err != nil {
		if ctx.Err() == context.Canceled {
			err = mcperrors.ToolCallError(err).WithDetail("tool call was cancelled")
		}
		return &protocol.CallToolResult{
			Content: []protocol.Content{protocol.NewTextContent(err.Error())},
			IsError: true,
		}, nil
	}

	return &protocol.CallToolResult{Content: content, IsError: false}, nil
}

// invokeTool runs a tool handler with panic recovery.
func invokeTool(ctx context.Context, handler ToolHandler, args json.RawMessage) (content []protocol.Content, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = mcperrors.Internal(fmt.Sprintf("tool handler panicked: %v", r))
		}
	}()
	return handler(ctx, args)
}

// handleListResources unions the static resources with each template
// lister's output. A failing lister is logged and skipped rather than
// failing the aggregation.
func (s *Server) handleListResources(ctx context.Context) (interface{}, error) {
	s.mu.Lock()
	resources := make([]protocol.Resource, 0, len(s.resourceOrder))
	for _, uri := range s.resourceOrder {
		resources = append(resources, s.resources[uri].resource)
	}
	type namedLister struct {
		name   string
		lister TemplateLister
	}
	listers := make([]namedLister, 0, len(s.templateOrder))
	for _, name := range s.templateOrder {
		if l := s.templates[name].lister; l != nil {
			listers = append(listers, namedLister{name: name, lister: l})
		}
	}
	s.mu.Unlock()

	for _, nl := range listers {
		listed, err := nl.lister(ctx)
		if err != nil {
			s.logger.Error("resource template lister failed",
				logging.String("template", nl.name),
				logging.ErrorField(err))
			continue
		}
		resources = append(resources, listed...)
	}

	return &protocol.ListResourcesResult{Resources: resources}, nil
}

// handleReadResource resolves a URI: the static map wins over
// templates; templates are tried in registration order and the first
// match is used.
func (s *Server) handleReadResource(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params protocol.ReadResourceParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, mcperrors.NewErrorf(mcperrors.CodeInvalidParams,
			mcperrors.CategoryValidation, mcperrors.SeverityError,
			"malformed resources/read params: %v", err)
	}

	s.mu.Lock()
	static, isStatic := s.resources[params.URI]
	var matched *registeredTemplate
	var bindings map[string]string
	if !isStatic {
		for _, name := range s.templateOrder {
			rt := s.templates[name]
			if vars, ok := rt.template.Match(params.URI); ok {
				matched = rt
				bindings = vars
				break
			}
		}
	}
	s.mu.Unlock()

	switch {
	case isStatic:
		contents, err := static.reader(ctx, params.URI)
		if err != nil {
			return nil, readError(params.URI, err)
		}
		return &protocol.ReadResourceResult{Contents: contents}, nil

	case matched != nil:
		contents, err := matched.reader(ctx, params.URI, bindings)
		if err != nil {
			return nil, readError(params.URI, err)
		}
		return &protocol.ReadResourceResult{Contents: contents}, nil

	default:
		return nil, mcperrors.ResourceNotFound(params.URI)
	}
}

// readError preserves domain errors raised by readers and wraps
// anything else.
func readError(uri string, err error) error {
	if mcpErr, ok := mcperrors.AsMCPError(err); ok {
		return mcpErr
	}
	return mcperrors.WrapInternal(fmt.Sprintf("read of %q", uri), err)
}

// handleListResourceTemplates enumerates the registered templates.
func (s *Server) handleListResourceTemplates(ctx context.Context) (interface{}, error) {
	s.mu.Lock()
	templates := make([]protocol.ResourceTemplate, 0, len(s.templateOrder))
	for _, name := range s.templateOrder {
		templates = append(templates, s.templates[name].descriptor)
	}
	s.mu.Unlock()

	return &protocol.ListResourceTemplatesResult{ResourceTemplates: templates}, nil
}

// handleSubscribeResource records a subscription for targeted
// resource-updated notifications.
func (s *Server) handleSubscribeResource(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	if err := s.requireSubscribeCapability(); err != nil {
		return nil, err
	}

	var params protocol.SubscribeResourceParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, mcperrors.NewErrorf(mcperrors.CodeInvalidParams,
			mcperrors.CategoryValidation, mcperrors.SeverityError,
			"malformed resources/subscribe params: %v", err)
	}

	s.mu.Lock()
	s.subscriptions[params.URI] = true
	s.mu.Unlock()

	s.logger.Debug("resource subscribed", logging.String("uri", params.URI))
	return struct{}{}, nil
}

// handleUnsubscribeResource removes a subscription.
func (s *Server) handleUnsubscribeResource(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	if err := s.requireSubscribeCapability(); err != nil {
		return nil, err
	}

	var params protocol.UnsubscribeResourceParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, mcperrors.NewErrorf(mcperrors.CodeInvalidParams,
			mcperrors.CategoryValidation, mcperrors.SeverityError,
			"malformed resources/unsubscribe params: %v", err)
	}

	s.mu.Lock()
	delete(s.subscriptions, params.URI)
	s.mu.Unlock()

	return struct{}{}, nil
}

// handleListPrompts snapshots the prompt registry in registration
// order.
func (s *Server) handleListPrompts(ctx context.Context) (interface{}, error) {
	s.mu.Lock()
	prompts := make([]protocol.Prompt, 0, len(s.promptOrder))
	for _, name := range s.promptOrder {
		prompts = append(prompts, s.prompts[name].prompt)
	}
	s.mu.Unlock()

	return &protocol.ListPromptsResult{Prompts: prompts}, nil
}

// handleGetPrompt validates required arguments and executes the prompt.
func (s *Server) handleGetPrompt(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params protocol.GetPromptParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, mcperrors.NewErrorf(mcperrors.CodeInvalidParams,
			mcperrors.CategoryValidation, mcperrors.SeverityError,
			"malformed prompts/get params: %v", err)
	}

	s.mu.Lock()
	rp, ok := s.prompts[params.Name]
	s.mu.Unlock()
	if !ok {
		return nil, mcperrors.PromptNotFound(params.Name)
	}

	for _, arg := range rp.prompt.Arguments {
		if !arg.Required {
			continue
		}
		if _, present := params.Arguments[arg.Name]; !present {
			return nil, mcperrors.InvalidPromptArguments(params.Name,
				fmt.Errorf("missing required argument %q", arg.Name))
		}
	}

	result, err := rp.handler(ctx, params.Arguments)
	if err != nil {
		if mcpErr, ok := mcperrors.AsMCPError(err); ok {
			return nil, mcpErr
		}
		return nil, mcperrors.WrapInternal(fmt.Sprintf("prompt %q", params.Name), err)
	}
	return result, nil
}

// handleSetLogLevel records the minimum severity the client wants to
// receive through notifications/message.
func (s *Server) handleSetLogLevel(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params protocol.SetLogLevelParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, mcperrors.NewErrorf(mcperrors.CodeInvalidParams,
			mcperrors.CategoryValidation, mcperrors.SeverityError,
			"malformed logging/setLevel params: %v", err)
	}

	s.mu.Lock()
	s.clientLogLevel = params.Level
	s.mu.Unlock()

	s.logger.Info("client log level set", logging.String("level", string(params.Level)))
	return protocol.SetLogLevelResult{}, nil
}

// errorResponse builds the error response for a failed request.
func errorResponse(id interface{}, err error) *protocol.Response {
	code := mcperrors.CodeInternalError
	message := err.Error()
	var data interface{}

	if mcpErr, ok := mcperrors.AsMCPError(err); ok {
		code = mcpErr.Code()
		message = mcpErr.Error()
		data = mcpErr.Data()
	}

	resp, merr := protocol.NewErrorResponse(id, protocol.ErrorCode(code), message, data)
	if merr != nil {
		resp, _ = protocol.NewErrorResponse(id, protocol.InternalError, message, nil)
	}
	return resp
}
