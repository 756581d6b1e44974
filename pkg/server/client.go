package server

import (
	"context"
	"encoding/json"
	"reflect"

	mcperrors "github.com/ajitpratap0/mcp-server-go/pkg/errors"
	"github.com/ajitpratap0/mcp-server-go/pkg/logging"
	"github.com/ajitpratap0/mcp-server-go/pkg/protocol"
)

// This file is the outbound half of the session: the calls and
// notifications user code sends to the connected client.

// requireReady rejects outbound operations outside the Ready state.
func (s *Server) requireReady() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateReady:
		return nil
	case StateClosing, StateClosed:
		return mcperrors.ClientDisconnected()
	default:
		return mcperrors.ServerNotReady("handshake has not completed")
	}
}

// CreateMessage asks the client to run an LLM sampling request. It
// fails unless the client advertised the sampling capability.
func (s *Server) CreateMessage(ctx context.Context, params *protocol.CreateMessageParams) (*protocol.CreateMessageResult, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	supported := s.clientInfo != nil && s.clientInfo.Capabilities.Sampling != nil
	s.mu.Unlock()
	if !supported {
		return nil, mcperrors.CapabilityNotSupported("sampling")
	}

	resp, err := s.transport.SendRequest(ctx, protocol.MethodCreateMessage, params)
	if err != nil {
		return nil, mcperrors.WrapInternal("sampling/createMessage", err)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}

	var result protocol.CreateMessageResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, mcperrors.DecodingError(resp.Result, nil).
			WithDetail("sampling/createMessage result did not decode")
	}
	return &result, nil
}

// ListRoots asks the client for its current filesystem roots. It fails
// unless the client advertised the roots capability.
func (s *Server) ListRoots(ctx context.Context) ([]protocol.Root, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	supported := s.clientInfo != nil && s.clientInfo.Capabilities.Roots != nil
	s.mu.Unlock()
	if !supported {
		return nil, mcperrors.CapabilityNotSupported("roots")
	}

	resp, err := s.transport.SendRequest(ctx, protocol.MethodListRoots, protocol.ListRootsParams{})
	if err != nil {
		return nil, mcperrors.WrapInternal("roots/list", err)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}

	var result protocol.ListRootsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, mcperrors.DecodingError(resp.Result, nil).
			WithDetail("roots/list result did not decode")
	}
	return result.Roots, nil
}

// logLevelRank orders protocol log levels for setLevel filtering.
var logLevelRank = map[protocol.LogLevel]int{
	protocol.LogLevelDebug:     0,
	protocol.LogLevelInfo:      1,
	protocol.LogLevelNotice:    2,
	protocol.LogLevelWarning:   3,
	protocol.LogLevelError:     4,
	protocol.LogLevelCritical:  5,
	protocol.LogLevelAlert:     6,
	protocol.LogLevelEmergency: 7,
}

// Log sends a one-way log notification to the client. It requires the
// logging capability and honors the minimum level the client set via
// logging/setLevel.
func (s *Server) Log(ctx context.Context, level protocol.LogLevel, loggerName string, data interface{}) error {
	s.mu.Lock()
	enabled := s.capabilities.Logging != nil
	minLevel := s.clientLogLevel
	s.mu.Unlock()
	if !enabled {
		return mcperrors.CapabilityNotSupported(capabilityLogging)
	}
	if logLevelRank[level] < logLevelRank[minLevel] {
		return nil
	}

	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return mcperrors.WrapInternal("marshal log data", err)
		}
		raw = encoded
	}

	return s.transport.SendNotification(ctx, protocol.NotificationMessage, &protocol.LoggingMessageParams{
		Level:  level,
		Logger: loggerName,
		Data:   raw,
	})
}

// NotifyProgress reports progress for a request whose client supplied a
// progress token. It is not capability-gated.
func (s *Server) NotifyProgress(ctx context.Context, token interface{}, progress float64, total *float64) error {
	return s.transport.SendNotification(ctx, protocol.NotificationProgress, &protocol.ProgressParams{
		ProgressToken: token,
		Progress:      progress,
		Total:         total,
	})
}

// NotifyResourceUpdated tells the client a resource changed. It
// requires the resources capability; when subscriptions are enabled the
// notification is only sent for URIs the client subscribed to.
func (s *Server) NotifyResourceUpdated(ctx context.Context, uri string) error {
	s.mu.Lock()
	enabled := s.capabilities.Resources != nil
	gated := enabled && s.capabilities.Resources.Subscribe
	subscribed := s.subscriptions[uri]
	s.mu.Unlock()

	if !enabled {
		return mcperrors.CapabilityNotSupported(capabilityResources)
	}
	if gated && !subscribed {
		return nil
	}

	return s.transport.SendNotification(ctx, protocol.NotificationResourceUpdated,
		&protocol.ResourceUpdatedParams{URI: uri})
}

// NotifyResourceListChanged emits notifications/resources/list_changed.
// It requires resources.listChanged.
func (s *Server) NotifyResourceListChanged(ctx context.Context) error {
	s.mu.Lock()
	enabled := s.capabilities.Resources != nil && s.capabilities.Resources.ListChanged
	s.mu.Unlock()
	if !enabled {
		return mcperrors.CapabilityNotSupported("resources.listChanged")
	}
	return s.transport.SendNotification(ctx, protocol.NotificationResourceListChanged, nil)
}

// NotifyToolListChanged emits notifications/tools/list_changed. It
// requires tools.listChanged.
func (s *Server) NotifyToolListChanged(ctx context.Context) error {
	s.mu.Lock()
	enabled := s.capabilities.Tools != nil && s.capabilities.Tools.ListChanged
	s.mu.Unlock()
	if !enabled {
		return mcperrors.CapabilityNotSupported("tools.listChanged")
	}
	return s.transport.SendNotification(ctx, protocol.NotificationToolListChanged, nil)
}

// NotifyPromptListChanged emits notifications/prompts/list_changed. It
// requires prompts.listChanged.
func (s *Server) NotifyPromptListChanged(ctx context.Context) error {
	s.mu.Lock()
	enabled := s.capabilities.Prompts != nil && s.capabilities.Prompts.ListChanged
	s.mu.Unlock()
	if !enabled {
		return mcperrors.CapabilityNotSupported("prompts.listChanged")
	}
	return s.transport.SendNotification(ctx, protocol.NotificationPromptListChanged, nil)
}

// RootsStatus is the roots cache value: either the client's current
// root list, or a record that the client does not support roots.
type RootsStatus struct {
	Supported bool
	Roots     []protocol.Root
}

// Roots returns the latest cached roots value. The second return is
// false until the first notifications/roots/list_changed round-trip
// has populated the cache.
func (s *Server) Roots() (RootsStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rootsValue == nil {
		return RootsStatus{}, false
	}
	return *s.rootsValue, true
}

// WatchRoots subscribes to roots cache updates. The channel conflates:
// a slow consumer observes the newest value, not every intermediate
// one. Updates equal to the previous published value are suppressed.
// The cancel function releases the subscription; the channel closes
// when the session disconnects.
func (s *Server) WatchRoots() (<-chan RootsStatus, func()) {
	ch := make(chan RootsStatus, 1)

	s.mu.Lock()
	if s.state == StateClosing || s.state == StateClosed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	if s.rootsValue != nil {
		ch <- *s.rootsValue
	}
	s.rootsSubs = append(s.rootsSubs, ch)
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		for i, sub := range s.rootsSubs {
			if sub == ch {
				s.rootsSubs = append(s.rootsSubs[:i], s.rootsSubs[i+1:]...)
				close(ch)
				break
			}
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// refreshRoots performs the roots/list round-trip triggered by a
// notifications/roots/list_changed and publishes the result to the
// cache.
func (s *Server) refreshRoots(ctx context.Context) {
	s.mu.Lock()
	info := s.clientInfo
	s.mu.Unlock()
	if info == nil {
		return
	}

	if info.Capabilities.Roots == nil {
		s.publishRoots(RootsStatus{Supported: false})
		return
	}

	roots, err := s.ListRoots(ctx)
	if err != nil {
		s.logger.Warn("roots/list round-trip failed", logging.ErrorField(err))
		return
	}
	s.publishRoots(RootsStatus{Supported: true, Roots: roots})
}

// publishRoots stores a roots value and fans it out to watchers,
// deduplicating consecutive equal values and conflating slow
// subscribers (drop oldest, keep newest).
func (s *Server) publishRoots(status RootsStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rootsValue != nil && reflect.DeepEqual(*s.rootsValue, status) {
		return
	}
	value := status
	s.rootsValue = &value

	// Sends stay under the mutex: they are non-blocking, and holding
	// the lock means a concurrent unsubscribe or disconnect cannot
	// close a channel mid-send.
	for _, ch := range s.rootsSubs {
		select {
		case ch <- status:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- status:
			default:
			}
		}
	}
}
