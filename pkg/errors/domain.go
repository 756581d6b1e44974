package errors

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// NotFoundData carries the offending identifier of a lookup failure.
type NotFoundData struct {
	Kind string `json:"kind"`
	Name string `json:"name,omitempty"`
	URI  string `json:"uri,omitempty"`
}

// TemplateErrorData carries the pattern that failed to parse.
type TemplateErrorData struct {
	Pattern string `json:"pattern"`
	Reason  string `json:"reason"`
}

// CapabilityErrorData names the capability a rejected call required.
type CapabilityErrorData struct {
	Capability string `json:"capability"`
}

// RegistryErrorData carries the duplicate key of a rejected registration.
type RegistryErrorData struct {
	Kind string `json:"kind"`
	Key  string `json:"key"`
}

// ToolNotFound creates an error for a tools/call naming an unknown tool.
func ToolNotFound(name string) MCPError {
	return NewError(
		CodeInternalError,
		fmt.Sprintf("tool %q not found", name),
		CategoryNotFound,
		SeverityError,
	).WithData(&NotFoundData{Kind: "tool", Name: name})
}

// ResourceNotFound creates an error for a URI that matches neither a
// static resource nor any registered template.
func ResourceNotFound(uri string) MCPError {
	return NewError(
		CodeInternalError,
		fmt.Sprintf("resource %q not found", uri),
		CategoryNotFound,
		SeverityError,
	).WithData(&NotFoundData{Kind: "resource", URI: uri})
}

// PromptNotFound creates an error for a prompts/get naming an unknown
// prompt.
func PromptNotFound(name string) MCPError {
	return NewError(
		CodeInternalError,
		fmt.Sprintf("prompt %q not found", name),
		CategoryNotFound,
		SeverityError,
	).WithData(&NotFoundData{Kind: "prompt", Name: name})
}

// InvalidTemplate creates an error for a URI template pattern that
// failed to parse.
func InvalidTemplate(pattern, reason string) MCPError {
	return NewError(
		CodeInvalidTemplate,
		fmt.Sprintf("invalid URI template %q: %s", pattern, reason),
		CategoryValidation,
		SeverityError,
	).WithData(&TemplateErrorData{Pattern: pattern, Reason: reason})
}

// CapabilityNotSupported creates an error for an operation requiring a
// capability that the relevant peer did not declare.
func CapabilityNotSupported(capability string) MCPError {
	return NewError(
		CodeCapabilityRequired,
		fmt.Sprintf("capability %q is not supported", capability),
		CategoryCapability,
		SeverityError,
	).WithData(&CapabilityErrorData{Capability: capability})
}

// ClientDisconnected creates an error for operations attempted after
// the session disconnected.
func ClientDisconnected() MCPError {
	return NewError(
		CodeClientDisconnected,
		"client disconnected: session is closed",
		CategoryTransport,
		SeverityError,
	)
}

// AlreadyRegistered creates an error for a duplicate registry key.
func AlreadyRegistered(kind, key string) MCPError {
	return NewError(
		CodeAlreadyRegistered,
		fmt.Sprintf("%s %q is already registered", kind, key),
		CategoryValidation,
		SeverityError,
	).WithData(&RegistryErrorData{Kind: kind, Key: key})
}

// InvalidToolInput creates an error for tool arguments that failed to
// decode or validate.
func InvalidToolInput(toolName string, cause error) MCPError {
	return WrapError(
		cause,
		CodeInvalidParams,
		fmt.Sprintf("invalid input for tool %q", toolName),
		CategoryValidation,
		SeverityError,
	).WithDetail(cause.Error())
}

// InvalidPromptArguments creates an error for prompt arguments that
// failed to decode or validate.
func InvalidPromptArguments(promptName string, cause error) MCPError {
	return WrapError(
		cause,
		CodeInvalidParams,
		fmt.Sprintf("invalid arguments for prompt %q", promptName),
		CategoryValidation,
		SeverityError,
	).WithDetail(cause.Error())
}

// DecodingError creates an error for a payload that does not match its
// expected schema. The detail pretty-prints both the received payload
// and the schema so the mismatch can be diagnosed from the error alone.
func DecodingError(raw []byte, schema json.RawMessage) MCPError {
	return NewError(
		CodeInvalidParams,
		"payload does not match the expected schema",
		CategoryValidation,
		SeverityError,
	).WithDetail(fmt.Sprintf("received %s, expected schema %s", indentJSON(raw), indentJSON(schema)))
}

// ToolCallError aggregates one or more tool handler failures.
func ToolCallError(causes ...error) MCPError {
	msgs := make([]string, 0, len(causes))
	for _, c := range causes {
		if c != nil {
			msgs = append(msgs, c.Error())
		}
	}
	return WrapError(
		errors.Join(causes...),
		CodeToolCallFailed,
		fmt.Sprintf("tool call failed: %s", strings.Join(msgs, "; ")),
		CategoryInternal,
		SeverityError,
	)
}

// Internal creates a catch-all internal error.
func Internal(message string) MCPError {
	return NewError(
		CodeInternalError,
		message,
		CategoryInternal,
		SeverityError,
	)
}

// WrapInternal wraps an unexpected failure of a named operation.
func WrapInternal(operation string, cause error) MCPError {
	return WrapError(
		cause,
		CodeInternalError,
		fmt.Sprintf("internal error during %s: %v", operation, cause),
		CategoryInternal,
		SeverityError,
	)
}

// ServerNotReady creates an error for requests received before the
// initialize handshake completed.
func ServerNotReady(reason string) MCPError {
	return NewError(
		CodeServerNotReady,
		fmt.Sprintf("server not ready: %s", reason),
		CategoryProtocol,
		SeverityError,
	)
}

// InvalidSequence creates an error for a message that is not valid in
// the session's current state.
func InvalidSequence(reason string) MCPError {
	return NewError(
		CodeInvalidSequence,
		fmt.Sprintf("invalid message sequence: %s", reason),
		CategoryProtocol,
		SeverityError,
	)
}

// indentJSON renders raw JSON with indentation where possible, falling
// back to the raw text for non-JSON payloads.
func indentJSON(raw []byte) string {
	if len(raw) == 0 {
		return "<empty>"
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
