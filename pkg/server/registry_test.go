package server_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/ajitpratap0/mcp-server-go/pkg/errors"
	"github.com/ajitpratap0/mcp-server-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-server-go/pkg/server"
)

func nopToolHandler(ctx context.Context, args json.RawMessage) ([]protocol.Content, error) {
	return nil, nil
}

func nopReader(ctx context.Context, uri string) ([]protocol.ResourceContents, error) {
	return nil, nil
}

func nopTemplateReader(ctx context.Context, uri string, vars map[string]string) ([]protocol.ResourceContents, error) {
	return nil, nil
}

func nopPromptHandler(ctx context.Context, args map[string]string) (*protocol.GetPromptResult, error) {
	return &protocol.GetPromptResult{}, nil
}

func TestDuplicateRegistrationsRejected(t *testing.T) {
	srv, _ := newSession(t, server.WithCapabilities(protocol.ServerCapabilities{
		Tools:     &protocol.ToolsCapability{},
		Resources: &protocol.ResourcesCapability{},
		Prompts:   &protocol.PromptsCapability{},
	}))

	require.NoError(t, srv.RegisterTool(protocol.Tool{Name: "a"}, nopToolHandler))
	err := srv.RegisterTool(protocol.Tool{Name: "a"}, nopToolHandler)
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeAlreadyRegistered))

	require.NoError(t, srv.RegisterResource(protocol.Resource{URI: "/r", Name: "r"}, nopReader))
	err = srv.RegisterResource(protocol.Resource{URI: "/r", Name: "r"}, nopReader)
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeAlreadyRegistered))

	tmpl := server.ResourceTemplateRegistration{
		Template: protocol.ResourceTemplate{URITemplate: "/t/{x}", Name: "t"},
		Reader:   nopTemplateReader,
	}
	require.NoError(t, srv.RegisterResourceTemplate(tmpl))
	err = srv.RegisterResourceTemplate(tmpl)
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeAlreadyRegistered))

	prompt := server.PromptRegistration{
		Prompt:  protocol.Prompt{Name: "p"},
		Handler: nopPromptHandler,
	}
	require.NoError(t, srv.RegisterPrompt(prompt))
	err = srv.RegisterPrompt(prompt)
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeAlreadyRegistered))
}

func TestTemplateRegistrationValidatesPattern(t *testing.T) {
	srv, _ := newSession(t, server.WithCapabilities(protocol.ServerCapabilities{
		Resources: &protocol.ResourcesCapability{},
	}))

	err := srv.RegisterResourceTemplate(server.ResourceTemplateRegistration{
		Template: protocol.ResourceTemplate{URITemplate: "/broken/{", Name: "broken"},
		Reader:   nopTemplateReader,
	})
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeInvalidTemplate))
}

func TestTemplateCompletionsMustNameKnownVariables(t *testing.T) {
	srv, _ := newSession(t, server.WithCapabilities(protocol.ServerCapabilities{
		Resources: &protocol.ResourcesCapability{},
	}))

	err := srv.RegisterResourceTemplate(server.ResourceTemplateRegistration{
		Template: protocol.ResourceTemplate{URITemplate: "/u/{id}", Name: "u"},
		Reader:   nopTemplateReader,
		Completions: map[string]server.Completer{
			"nonexistent": func(ctx context.Context, value string) ([]string, error) { return nil, nil },
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonexistent")
}

func TestUpdateToolsRequiresListChanged(t *testing.T) {
	srv, _ := newSession(t, server.WithCapabilities(protocol.ServerCapabilities{
		Tools: &protocol.ToolsCapability{ListChanged: false},
	}))

	err := srv.UpdateTools(server.ToolRegistration{
		Tool:    protocol.Tool{Name: "x"},
		Handler: nopToolHandler,
	})
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeCapabilityRequired))
}

func TestUpdateToolsReplacesAtomically(t *testing.T) {
	srv, client := newSession(t, server.WithCapabilities(protocol.ServerCapabilities{
		Tools: &protocol.ToolsCapability{ListChanged: true},
	}))
	require.NoError(t, srv.RegisterTool(protocol.Tool{Name: "old"}, nopToolHandler))
	client.initialize(t)

	require.NoError(t, srv.UpdateTools(
		server.ToolRegistration{Tool: protocol.Tool{Name: "new1"}, Handler: nopToolHandler},
		server.ToolRegistration{Tool: protocol.Tool{Name: "new2"}, Handler: nopToolHandler},
	))

	client.waitNotification(t, protocol.NotificationToolListChanged)

	resp := client.call(t, protocol.MethodListTools, protocol.ListToolsParams{})
	var result protocol.ListToolsResult
	decodeResult(t, resp, &result)

	names := make([]string, 0, len(result.Tools))
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{"new1", "new2"}, names)
}

func TestRegisterEmitsListChangedWhenEnabled(t *testing.T) {
	srv, client := newSession(t, server.WithCapabilities(protocol.ServerCapabilities{
		Tools:     &protocol.ToolsCapability{ListChanged: true},
		Resources: &protocol.ResourcesCapability{ListChanged: true},
		Prompts:   &protocol.PromptsCapability{ListChanged: true},
	}))
	client.initialize(t)

	require.NoError(t, srv.RegisterTool(protocol.Tool{Name: "late"}, nopToolHandler))
	client.waitNotification(t, protocol.NotificationToolListChanged)

	require.NoError(t, srv.RegisterResource(protocol.Resource{URI: "/late", Name: "late"}, nopReader))
	client.waitNotification(t, protocol.NotificationResourceListChanged)

	require.NoError(t, srv.RegisterPrompt(server.PromptRegistration{
		Prompt:  protocol.Prompt{Name: "late"},
		Handler: nopPromptHandler,
	}))
	client.waitNotification(t, protocol.NotificationPromptListChanged)
}

func TestRegisterDoesNotEmitWhenListChangedDisabled(t *testing.T) {
	srv, client := newSession(t, server.WithCapabilities(protocol.ServerCapabilities{
		Tools: &protocol.ToolsCapability{ListChanged: false},
	}))
	client.initialize(t)

	require.NoError(t, srv.RegisterTool(protocol.Tool{Name: "quiet"}, nopToolHandler))

	select {
	case n := <-client.notifications:
		t.Fatalf("unexpected notification %q", n.Method)
	case <-time.After(200 * time.Millisecond):
	}
}
