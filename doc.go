// Package mcp provides the server side of the Model Context Protocol:
// a JSON-RPC 2.0 session that exposes tools, resources, resource
// templates and prompts to a connected client while consuming the
// client's sampling and filesystem-roots capabilities.
//
// A minimal server:
//
//	t := transport.NewStdioTransport(transport.StdioConfig{})
//	srv := server.New(t,
//	    server.WithName("example"),
//	    server.WithVersion("1.0.0"),
//	    server.WithCapabilities(protocol.ServerCapabilities{
//	        Tools: &protocol.ToolsCapability{ListChanged: true},
//	    }),
//	)
//
//	echo, _ := server.NewTool("echo", "Echo a message",
//	    func(ctx context.Context, args struct {
//	        Msg string `json:"msg" jsonschema:"required"`
//	    }) ([]protocol.Content, error) {
//	        return []protocol.Content{protocol.NewTextContent(args.Msg)}, nil
//	    })
//	_ = srv.RegisterTool(echo.Tool, echo.Handler)
//
//	_ = srv.Serve(context.Background())
//
// The sub-packages split the work: protocol holds the wire types,
// server the session/dispatch/registry core, transport the stdio and
// in-memory channels, uritemplate the RFC 6570 subset used to route
// templated resources, schema the argument-schema adapter, errors the
// structured error taxonomy, logging and observability the ambient
// concerns.
package mcp
