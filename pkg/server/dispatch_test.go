package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/ajitpratap0/mcp-server-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-server-go/pkg/server"
)

func toolsCaps() protocol.ServerCapabilities {
	return protocol.ServerCapabilities{Tools: &protocol.ToolsCapability{}}
}

func resourcesCaps() protocol.ServerCapabilities {
	return protocol.ServerCapabilities{Resources: &protocol.ResourcesCapability{}}
}

func promptsCaps() protocol.ServerCapabilities {
	return protocol.ServerCapabilities{Prompts: &protocol.PromptsCapability{}}
}

func decodeResult(t *testing.T, resp *protocol.Response, out interface{}) {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected error response: %v", resp.Error)
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		t.Fatalf("result did not decode: %v", err)
	}
}

type echoArgs struct {
	Msg string `json:"msg" jsonschema:"required"`
}

func registerEcho(t *testing.T, srv *server.Server) {
	t.Helper()
	reg, err := server.NewTool("echo", "Echo a message",
		func(ctx context.Context, args echoArgs) ([]protocol.Content, error) {
			return []protocol.Content{protocol.NewTextContent(args.Msg)}, nil
		})
	if err != nil {
		t.Fatalf("NewTool failed: %v", err)
	}
	if err := srv.RegisterTool(reg.Tool, reg.Handler); err != nil {
		t.Fatalf("RegisterTool failed: %v", err)
	}
}

func TestToolDispatch(t *testing.T) {
	srv, client := newSession(t, server.WithCapabilities(toolsCaps()))
	registerEcho(t, srv)
	client.initialize(t)

	resp := client.call(t, protocol.MethodCallTool, protocol.CallToolParams{
		Name:      "echo",
		Arguments: json.RawMessage(`{"msg":"hi"}`),
	})

	var result protocol.CallToolResult
	decodeResult(t, resp, &result)

	if result.IsError {
		t.Error("isError = true for a successful call")
	}
	if len(result.Content) != 1 || result.Content[0].Type != protocol.ContentTypeText || result.Content[0].Text != "hi" {
		t.Errorf("content = %+v, want single text item %q", result.Content, "hi")
	}
}

func TestToolListSnapshot(t *testing.T) {
	srv, client := newSession(t, server.WithCapabilities(toolsCaps()))
	registerEcho(t, srv)
	client.initialize(t)

	resp := client.call(t, protocol.MethodListTools, protocol.ListToolsParams{})

	var result protocol.ListToolsResult
	decodeResult(t, resp, &result)

	if len(result.Tools) != 1 || result.Tools[0].Name != "echo" {
		t.Errorf("tools = %+v", result.Tools)
	}
	if len(result.Tools[0].InputSchema) == 0 {
		t.Error("tool is missing its inferred input schema")
	}
}

func TestToolHandlerErrorBecomesIsErrorResult(t *testing.T) {
	srv, client := newSession(t, server.WithCapabilities(toolsCaps()))
	client.initialize(t)

	err := srv.RegisterTool(protocol.Tool{Name: "failing"},
		func(ctx context.Context, args json.RawMessage) ([]protocol.Content, error) {
			return nil, fmt.Errorf("the disk is on fire")
		})
	if err != nil {
		t.Fatalf("RegisterTool failed: %v", err)
	}

	resp := client.call(t, protocol.MethodCallTool, protocol.CallToolParams{Name: "failing"})

	// A tool failure is a successful response with isError, never a
	// JSON-RPC error.
	var result protocol.CallToolResult
	decodeResult(t, resp, &result)
	if !result.IsError {
		t.Error("isError = false for a failing tool")
	}
	if len(result.Content) != 1 || !strings.Contains(result.Content[0].Text, "the disk is on fire") {
		t.Errorf("content = %+v", result.Content)
	}
}

func TestToolHandlerPanicBecomesIsErrorResult(t *testing.T) {
	srv, client := newSession(t, server.WithCapabilities(toolsCaps()))
	client.initialize(t)

	err := srv.RegisterTool(protocol.Tool{Name: "panicky"},
		func(ctx context.Context, args json.RawMessage) ([]protocol.Content, error) {
			panic("boom")
		})
	if err != nil {
		t.Fatalf("RegisterTool failed: %v", err)
	}

	resp := client.call(t, protocol.MethodCallTool, protocol.CallToolParams{Name: "panicky"})

	var result protocol.CallToolResult
	decodeResult(t, resp, &result)
	if !result.IsError {
		t.Error("isError = false after a panicking tool")
	}
}

func TestToolInvalidInputBecomesIsErrorResult(t *testing.T) {
	srv, client := newSession(t, server.WithCapabilities(toolsCaps()))
	registerEcho(t, srv)
	client.initialize(t)

	resp := client.call(t, protocol.MethodCallTool, protocol.CallToolParams{
		Name:      "echo",
		Arguments: json.RawMessage(`{"msg":42}`),
	})

	var result protocol.CallToolResult
	decodeResult(t, resp, &result)
	if !result.IsError {
		t.Error("isError = false for undecodable arguments")
	}
	if len(result.Content) != 1 || !strings.Contains(result.Content[0].Text, "echo") {
		t.Errorf("content = %+v, want the tool name in the message", result.Content)
	}
}

func TestMissingToolIsProtocolError(t *testing.T) {
	_, client := newSession(t, server.WithCapabilities(toolsCaps()))
	client.initialize(t)

	resp := client.call(t, protocol.MethodCallTool, protocol.CallToolParams{Name: "ghost"})
	if resp.Error == nil {
		t.Fatal("call of a missing tool succeeded")
	}
	if !strings.Contains(resp.Error.Message, `"ghost"`) {
		t.Errorf("error message %q does not name the tool", resp.Error.Message)
	}
}

func TestCapabilityGate(t *testing.T) {
	// Server constructed without the tools group.
	srv, client := newSession(t)
	client.initialize(t)

	err := srv.RegisterTool(protocol.Tool{Name: "echo"},
		func(ctx context.Context, args json.RawMessage) ([]protocol.Content, error) {
			return nil, nil
		})
	if err == nil {
		t.Fatal("RegisterTool succeeded without the tools capability")
	}
	if !strings.Contains(err.Error(), `"tools"`) {
		t.Errorf("error %q does not name the capability", err.Error())
	}

	resp := client.call(t, protocol.MethodListTools, protocol.ListToolsParams{})
	if resp.Error == nil {
		t.Fatal("tools/list succeeded without the tools capability")
	}
}

func TestResourceReadViaTemplate(t *testing.T) {
	srv, client := newSession(t, server.WithCapabilities(resourcesCaps()))
	client.initialize(t)

	err := srv.RegisterResourceTemplate(server.ResourceTemplateRegistration{
		Template: protocol.ResourceTemplate{
			URITemplate: "/users/{id}/posts/{post}",
			Name:        "user-post",
		},
		Reader: func(ctx context.Context, uri string, vars map[string]string) ([]protocol.ResourceContents, error) {
			return []protocol.ResourceContents{{
				URI:  uri,
				Text: vars["id"] + "/" + vars["post"],
			}}, nil
		},
	})
	if err != nil {
		t.Fatalf("RegisterResourceTemplate failed: %v", err)
	}

	resp := client.call(t, protocol.MethodReadResource, protocol.ReadResourceParams{
		URI: "/users/42/posts/7",
	})

	var result protocol.ReadResourceResult
	decodeResult(t, resp, &result)
	if len(result.Contents) != 1 || result.Contents[0].Text != "42/7" {
		t.Errorf("contents = %+v, want text 42/7", result.Contents)
	}
}

func TestStaticResourcePrecedesTemplate(t *testing.T) {
	srv, client := newSession(t, server.WithCapabilities(resourcesCaps()))
	client.initialize(t)

	err := srv.RegisterResourceTemplate(server.ResourceTemplateRegistration{
		Template: protocol.ResourceTemplate{URITemplate: "/docs/{name}", Name: "docs"},
		Reader: func(ctx context.Context, uri string, vars map[string]string) ([]protocol.ResourceContents, error) {
			return []protocol.ResourceContents{{URI: uri, Text: "from template"}}, nil
		},
	})
	if err != nil {
		t.Fatalf("RegisterResourceTemplate failed: %v", err)
	}

	err = srv.RegisterResource(protocol.Resource{URI: "/docs/readme", Name: "readme"},
		func(ctx context.Context, uri string) ([]protocol.ResourceContents, error) {
			return []protocol.ResourceContents{{URI: uri, Text: "from static"}}, nil
		})
	if err != nil {
		t.Fatalf("RegisterResource failed: %v", err)
	}

	resp := client.call(t, protocol.MethodReadResource, protocol.ReadResourceParams{URI: "/docs/readme"})

	var result protocol.ReadResourceResult
	decodeResult(t, resp, &result)
	if result.Contents[0].Text != "from static" {
		t.Errorf("static resource did not take precedence: %+v", result.Contents)
	}
}

func TestResourceNotFound(t *testing.T) {
	_, client := newSession(t, server.WithCapabilities(resourcesCaps()))
	client.initialize(t)

	resp := client.call(t, protocol.MethodReadResource, protocol.ReadResourceParams{URI: "/other"})
	if resp.Error == nil {
		t.Fatal("read of an unknown URI succeeded")
	}
	if !strings.Contains(resp.Error.Message, `"/other"`) {
		t.Errorf("error message %q does not name the URI", resp.Error.Message)
	}
}

func TestResourcesListAggregatesListers(t *testing.T) {
	srv, client := newSession(t, server.WithCapabilities(resourcesCaps()))
	client.initialize(t)

	err := srv.RegisterResource(protocol.Resource{URI: "/static", Name: "static"},
		func(ctx context.Context, uri string) ([]protocol.ResourceContents, error) {
			return nil, nil
		})
	if err != nil {
		t.Fatalf("RegisterResource failed: %v", err)
	}

	err = srv.RegisterResourceTemplate(server.ResourceTemplateRegistration{
		Template: protocol.ResourceTemplate{URITemplate: "/good/{id}", Name: "good"},
		Reader: func(ctx context.Context, uri string, vars map[string]string) ([]protocol.ResourceContents, error) {
			return nil, nil
		},
		Lister: func(ctx context.Context) ([]protocol.Resource, error) {
			return []protocol.Resource{{URI: "/good/1", Name: "one"}}, nil
		},
	})
	if err != nil {
		t.Fatalf("RegisterResourceTemplate failed: %v", err)
	}

	// A failing lister is logged and skipped, never propagated.
	err = srv.RegisterResourceTemplate(server.ResourceTemplateRegistration{
		Template: protocol.ResourceTemplate{URITemplate: "/bad/{id}", Name: "bad"},
		Reader: func(ctx context.Context, uri string, vars map[string]string) ([]protocol.ResourceContents, error) {
			return nil, nil
		},
		Lister: func(ctx context.Context) ([]protocol.Resource, error) {
			return nil, fmt.Errorf("backend unavailable")
		},
	})
	if err != nil {
		t.Fatalf("RegisterResourceTemplate failed: %v", err)
	}

	resp := client.call(t, protocol.MethodListResources, protocol.ListResourcesParams{})

	var result protocol.ListResourcesResult
	decodeResult(t, resp, &result)

	uris := make([]string, 0, len(result.Resources))
	for _, r := range result.Resources {
		uris = append(uris, r.URI)
	}
	if len(uris) != 2 || uris[0] != "/static" || uris[1] != "/good/1" {
		t.Errorf("resources = %v, want [/static /good/1]", uris)
	}
}

func TestListResourceTemplates(t *testing.T) {
	srv, client := newSession(t, server.WithCapabilities(resourcesCaps()))
	client.initialize(t)

	err := srv.RegisterResourceTemplate(server.ResourceTemplateRegistration{
		Template: protocol.ResourceTemplate{URITemplate: "/users/{id}", Name: "user"},
		Reader: func(ctx context.Context, uri string, vars map[string]string) ([]protocol.ResourceContents, error) {
			return nil, nil
		},
	})
	if err != nil {
		t.Fatalf("RegisterResourceTemplate failed: %v", err)
	}

	resp := client.call(t, protocol.MethodListResourceTemplates, protocol.ListResourceTemplatesParams{})

	var result protocol.ListResourceTemplatesResult
	decodeResult(t, resp, &result)
	if len(result.ResourceTemplates) != 1 || result.ResourceTemplates[0].URITemplate != "/users/{id}" {
		t.Errorf("templates = %+v", result.ResourceTemplates)
	}
}

func TestPromptGet(t *testing.T) {
	srv, client := newSession(t, server.WithCapabilities(promptsCaps()))
	client.initialize(t)

	err := srv.RegisterPrompt(server.PromptRegistration{
		Prompt: protocol.Prompt{
			Name:      "greet",
			Arguments: []protocol.PromptArgument{{Name: "who", Required: true}},
		},
		Handler: func(ctx context.Context, args map[string]string) (*protocol.GetPromptResult, error) {
			return &protocol.GetPromptResult{
				Messages: []protocol.PromptMessage{{
					Role:    "user",
					Content: protocol.NewTextContent("Hello " + args["who"]),
				}},
			}, nil
		},
	})
	if err != nil {
		t.Fatalf("RegisterPrompt failed: %v", err)
	}

	resp := client.call(t, protocol.MethodGetPrompt, protocol.GetPromptParams{
		Name:      "greet",
		Arguments: map[string]string{"who": "world"},
	})

	var result protocol.GetPromptResult
	decodeResult(t, resp, &result)
	if len(result.Messages) != 1 || result.Messages[0].Content.Text != "Hello world" {
		t.Errorf("messages = %+v", result.Messages)
	}

	// Missing required argument.
	resp = client.call(t, protocol.MethodGetPrompt, protocol.GetPromptParams{Name: "greet"})
	if resp.Error == nil {
		t.Fatal("prompts/get succeeded without a required argument")
	}
	if !strings.Contains(resp.Error.Message, `"who"`) {
		t.Errorf("error message %q does not name the argument", resp.Error.Message)
	}

	// Unknown prompt.
	resp = client.call(t, protocol.MethodGetPrompt, protocol.GetPromptParams{Name: "ghost"})
	if resp.Error == nil {
		t.Fatal("prompts/get of an unknown prompt succeeded")
	}
}

func TestPromptArgumentsFromSchema(t *testing.T) {
	srv, client := newSession(t, server.WithCapabilities(promptsCaps()))
	client.initialize(t)

	err := srv.RegisterPrompt(server.PromptRegistration{
		Prompt: protocol.Prompt{Name: "summarize"},
		ArgumentSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"text": {"type": "string", "description": "Text to summarize"},
				"style": {"type": "string", "x-completable": true}
			},
			"required": ["text"]
		}`),
		Handler: func(ctx context.Context, args map[string]string) (*protocol.GetPromptResult, error) {
			return &protocol.GetPromptResult{Messages: []protocol.PromptMessage{}}, nil
		},
	})
	if err != nil {
		t.Fatalf("RegisterPrompt failed: %v", err)
	}

	resp := client.call(t, protocol.MethodListPrompts, protocol.ListPromptsParams{})

	var result protocol.ListPromptsResult
	decodeResult(t, resp, &result)
	if len(result.Prompts) != 1 {
		t.Fatalf("prompts = %+v", result.Prompts)
	}

	byName := make(map[string]protocol.PromptArgument)
	for _, arg := range result.Prompts[0].Arguments {
		byName[arg.Name] = arg
	}
	if arg, ok := byName["text"]; !ok || !arg.Required || arg.Description != "Text to summarize" {
		t.Errorf("text argument = %+v", byName["text"])
	}
	if arg, ok := byName["style"]; !ok || arg.Required {
		t.Errorf("style argument = %+v", arg)
	}
}
