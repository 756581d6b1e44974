package server

import (
	"context"
	"encoding/json"

	mcperrors "github.com/ajitpratap0/mcp-server-go/pkg/errors"
	"github.com/ajitpratap0/mcp-server-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-server-go/pkg/schema"
)

// NewTool builds a registration for a tool with a typed argument
// struct: the input schema is inferred from T's exported fields, and
// the wire arguments are decoded into T before the handler runs. A
// payload that does not decode surfaces as InvalidToolInput carrying
// both the raw payload and the expected schema.
func NewTool[T any](name, description string, handler func(ctx context.Context, args T) ([]protocol.Content, error)) (*ToolRegistration, error) {
	inputSchema, err := schema.Infer[T]()
	if err != nil {
		return nil, mcperrors.WrapInternal("schema inference", err)
	}

	tool := protocol.Tool{
		Name:        name,
		Description: description,
		InputSchema: inputSchema,
	}

	decode := func(raw json.RawMessage) (T, error) {
		var args T
		if len(raw) == 0 {
			raw = json.RawMessage("{}")
		}
		if err := json.Unmarshal(raw, &args); err != nil {
			return args, mcperrors.InvalidToolInput(name, mcperrors.DecodingError(raw, inputSchema))
		}
		return args, nil
	}

	wrapped := func(ctx context.Context, raw json.RawMessage) ([]protocol.Content, error) {
		args, err := decode(raw)
		if err != nil {
			return nil, err
		}
		return handler(ctx, args)
	}

	return &ToolRegistration{Tool: tool, Handler: wrapped}, nil
}
