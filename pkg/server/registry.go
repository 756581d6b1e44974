package server

import (
	"context"
	"encoding/json"
	"fmt"

	mcperrors "github.com/ajitpratap0/mcp-server-go/pkg/errors"
	"github.com/ajitpratap0/mcp-server-go/pkg/logging"
	"github.com/ajitpratap0/mcp-server-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-server-go/pkg/schema"
	"github.com/ajitpratap0/mcp-server-go/pkg/uritemplate"
)

// Capability group names used in capability errors.
const (
	capabilityTools     = "tools"
	capabilityResources = "resources"
	capabilityPrompts   = "prompts"
	capabilityLogging   = "logging"
)

// ToolHandler executes a tool call. The raw arguments are the
// client-supplied argument object; the returned content list becomes
// the call result.
type ToolHandler func(ctx context.Context, args json.RawMessage) ([]protocol.Content, error)

// ResourceReader reads a static resource.
type ResourceReader func(ctx context.Context, uri string) ([]protocol.ResourceContents, error)

// TemplateReader reads a templated resource given the concrete URI and
// the variable bindings matched out of it.
type TemplateReader func(ctx context.Context, uri string, bindings map[string]string) ([]protocol.ResourceContents, error)

// TemplateLister enumerates the concrete resources a template family
// currently contains, for resources/list aggregation.
type TemplateLister func(ctx context.Context) ([]protocol.Resource, error)

// Completer produces argument suggestions for a partial value.
type Completer func(ctx context.Context, value string) ([]string, error)

// PromptHandler executes a prompt with its decoded arguments.
type PromptHandler func(ctx context.Context, args map[string]string) (*protocol.GetPromptResult, error)

type registeredTool struct {
	tool    protocol.Tool
	handler ToolHandler
}

type registeredResource struct {
	resource protocol.Resource
	reader   ResourceReader
}

type registeredTemplate struct {
	descriptor  protocol.ResourceTemplate
	template    *uritemplate.Template
	reader      TemplateReader
	lister      TemplateLister
	completions map[string]Completer
}

type registeredPrompt struct {
	prompt      protocol.Prompt
	handler     PromptHandler
	completions map[string]Completer
}

// ToolRegistration pairs a tool descriptor with its handler, for
// UpdateTools.
type ToolRegistration struct {
	Tool    protocol.Tool
	Handler ToolHandler
}

// ResourceTemplateRegistration describes a resource template: its wire
// descriptor (whose URITemplate is the pattern), the reader invoked on
// matching resources/read requests, an optional lister for
// resources/list aggregation, and per-variable completion providers.
type ResourceTemplateRegistration struct {
	Template    protocol.ResourceTemplate
	Reader      TemplateReader
	Lister      TemplateLister
	Completions map[string]Completer
}

// PromptRegistration describes a prompt. When ArgumentSchema is set,
// the prompt's argument list is derived from it. Completion requests
// are answered from the Completions entries alone; the schema's
// x-completable markers are not read at registration.
type PromptRegistration struct {
	Prompt         protocol.Prompt
	ArgumentSchema json.RawMessage
	Handler        PromptHandler
	Completions    map[string]Completer
}

// requireCapability rejects an operation whose capability group the
// server did not declare.
func (s *Server) requireCapability(group string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requireCapabilityLocked(group)
}

func (s *Server) requireCapabilityLocked(group string) error {
	var enabled bool
	switch group {
	case capabilityTools:
		enabled = s.capabilities.Tools != nil
	case capabilityResources:
		enabled = s.capabilities.Resources != nil
	case capabilityPrompts:
		enabled = s.capabilities.Prompts != nil
	case capabilityLogging:
		enabled = s.capabilities.Logging != nil
	}
	if !enabled {
		return mcperrors.CapabilityNotSupported(group)
	}
	return nil
}

// requireSubscribeCapability rejects subscription operations unless the
// resources group declares subscribe support.
func (s *Server) requireSubscribeCapability() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capabilities.Resources == nil {
		return mcperrors.CapabilityNotSupported(capabilityResources)
	}
	if !s.capabilities.Resources.Subscribe {
		return mcperrors.CapabilityNotSupported("resources.subscribe")
	}
	return nil
}

// RegisterTool adds a tool to the registry. The tool name must be
// unique; the registry is append-only for the session's lifetime. When
// the tools capability declares listChanged and the session is Ready, a
// change notification is emitted after the registration commits.
func (s *Server) RegisterTool(tool protocol.Tool, handler ToolHandler) error {
	if handler == nil {
		return mcperrors.Internal(fmt.Sprintf("tool %q registered without a handler", tool.Name))
	}

	s.mu.Lock()
	if err := s.requireCapabilityLocked(capabilityTools); err != nil {
		s.mu.Unlock()
		return err
	}
	if _, exists := s.tools[tool.Name]; exists {
		s.mu.Unlock()
		return mcperrors.AlreadyRegistered("tool", tool.Name)
	}
	s.tools[tool.Name] = &registeredTool{tool: tool, handler: handler}
	s.toolOrder = append(s.toolOrder, tool.Name)
	notify := s.capabilities.Tools.ListChanged && s.state == StateReady
	s.mu.Unlock()

	s.logger.Info("tool registered", logging.String("tool", tool.Name))
	if notify {
		s.notifyChange(protocol.NotificationToolListChanged)
	}
	return nil
}

// UpdateTools atomically replaces the whole tool set. It requires the
// tools capability to declare listChanged, and emits the change
// notification after the swap commits when the session is Ready; a swap
// made before the handshake completes sends no notification.
func (s *Server) UpdateTools(regs ...ToolRegistration) error {
	tools := make(map[string]*registeredTool, len(regs))
	order := make([]string, 0, len(regs))
	for _, reg := range regs {
		if reg.Handler == nil {
			return mcperrors.Internal(fmt.Sprintf("tool %q registered without a handler", reg.Tool.Name))
		}
		if _, dup := tools[reg.Tool.Name]; dup {
			return mcperrors.AlreadyRegistered("tool", reg.Tool.Name)
		}
		tools[reg.Tool.Name] = &registeredTool{tool: reg.Tool, handler: reg.Handler}
		order = append(order, reg.Tool.Name)
	}

	s.mu.Lock()
	if s.capabilities.Tools == nil || !s.capabilities.Tools.ListChanged {
		s.mu.Unlock()
		return mcperrors.CapabilityNotSupported("tools.listChanged")
	}
	s.tools = tools
	s.toolOrder = order
	notify := s.state == StateReady
	s.mu.Unlock()

	s.logger.Info("tool set replaced", logging.Int("tools", len(order)))
	if notify {
		s.notifyChange(protocol.NotificationToolListChanged)
	}
	return nil
}

// RegisterResource adds a static resource keyed by URI. Static
// resources take precedence over templates for identical URIs.
func (s *Server) RegisterResource(resource protocol.Resource, reader ResourceReader) error {
	if reader == nil {
		return mcperrors.Internal(fmt.Sprintf("resource %q registered without a reader", resource.URI))
	}

	s.mu.Lock()
	if err := s.requireCapabilityLocked(capabilityResources); err != nil {
		s.mu.Unlock()
		return err
	}
	if _, exists := s.resources[resource.URI]; exists {
		s.mu.Unlock()
		return mcperrors.AlreadyRegistered("resource", resource.URI)
	}
	s.resources[resource.URI] = &registeredResource{resource: resource, reader: reader}
	s.resourceOrder = append(s.resourceOrder, resource.URI)
	notify := s.capabilities.Resources.ListChanged && s.state == StateReady
	s.mu.Unlock()

	s.logger.Info("resource registered", logging.String("uri", resource.URI))
	if notify {
		s.notifyChange(protocol.NotificationResourceListChanged)
	}
	return nil
}

// RegisterResourceTemplate adds a resource template keyed by its name.
// The pattern is compiled at registration; resources/read tries
// templates in registration order, first match wins.
func (s *Server) RegisterResourceTemplate(reg ResourceTemplateRegistration) error {
	if reg.Reader == nil {
		return mcperrors.Internal(fmt.Sprintf("template %q registered without a reader", reg.Template.Name))
	}

	tmpl, err := uritemplate.Parse(reg.Template.URITemplate)
	if err != nil {
		return err
	}

	known := make(map[string]bool)
	for _, v := range tmpl.Variables() {
		known[v.Name] = true
	}
	for varName := range reg.Completions {
		if !known[varName] {
			return mcperrors.InvalidTemplate(reg.Template.URITemplate,
				fmt.Sprintf("completion provider for unknown variable %q", varName))
		}
	}

	s.mu.Lock()
	if err := s.requireCapabilityLocked(capabilityResources); err != nil {
		s.mu.Unlock()
		return err
	}
	if _, exists := s.templates[reg.Template.Name]; exists {
		s.mu.Unlock()
		return mcperrors.AlreadyRegistered("resource template", reg.Template.Name)
	}
	s.templates[reg.Template.Name] = &registeredTemplate{
		descriptor:  reg.Template,
		template:    tmpl,
		reader:      reg.Reader,
		lister:      reg.Lister,
		completions: reg.Completions,
	}
	s.templateOrder = append(s.templateOrder, reg.Template.Name)
	notify := s.capabilities.Resources.ListChanged && s.state == StateReady
	s.mu.Unlock()

	s.logger.Info("resource template registered",
		logging.String("template", reg.Template.Name),
		logging.String("pattern", reg.Template.URITemplate))
	if notify {
		s.notifyChange(protocol.NotificationResourceListChanged)
	}
	return nil
}

// RegisterPrompt adds a prompt keyed by name. A supplied argument
// schema overrides the descriptor's argument list.
func (s *Server) RegisterPrompt(reg PromptRegistration) error {
	if reg.Handler == nil {
		return mcperrors.Internal(fmt.Sprintf("prompt %q registered without a handler", reg.Prompt.Name))
	}

	prompt := reg.Prompt
	if len(reg.ArgumentSchema) > 0 {
		args, err := schema.PromptArguments(reg.ArgumentSchema)
		if err != nil {
			return mcperrors.InvalidPromptArguments(prompt.Name, err)
		}
		prompt.Arguments = args
	}

	s.mu.Lock()
	if err := s.requireCapabilityLocked(capabilityPrompts); err != nil {
		s.mu.Unlock()
		return err
	}
	if _, exists := s.prompts[prompt.Name]; exists {
		s.mu.Unlock()
		return mcperrors.AlreadyRegistered("prompt", prompt.Name)
	}
	s.prompts[prompt.Name] = &registeredPrompt{
		prompt:      prompt,
		handler:     reg.Handler,
		completions: reg.Completions,
	}
	s.promptOrder = append(s.promptOrder, prompt.Name)
	notify := s.capabilities.Prompts.ListChanged && s.state == StateReady
	s.mu.Unlock()

	s.logger.Info("prompt registered", logging.String("prompt", prompt.Name))
	if notify {
		s.notifyChange(protocol.NotificationPromptListChanged)
	}
	return nil
}

// notifyChange emits a list-changed notification after a registry
// mutation has committed. Send failures are logged, not surfaced: the
// mutation itself already succeeded.
func (s *Server) notifyChange(method string) {
	if err := s.transport.SendNotification(context.Background(), method, nil); err != nil {
		s.logger.Warn("failed to send change notification",
			logging.String("method", method),
			logging.ErrorField(err))
	}
}
