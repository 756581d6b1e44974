package errors

// JSON-RPC 2.0 standard error codes.
const (
	// CodeParseError indicates invalid JSON was received by the server
	CodeParseError int = -32700

	// CodeInvalidRequest indicates the JSON sent is not a valid Request object
	CodeInvalidRequest int = -32600

	// CodeMethodNotFound indicates the method does not exist / is not available
	CodeMethodNotFound int = -32601

	// CodeInvalidParams indicates invalid method parameter(s)
	CodeInvalidParams int = -32602

	// CodeInternalError indicates internal JSON-RPC error
	CodeInternalError int = -32603
)

// Implementation-defined error codes, grouped by concern.
const (
	// Session errors (-32000 to -32099)
	CodeServerNotReady     int = -32000 // Request received before the handshake completed
	CodeClientDisconnected int = -32001 // Session already disconnected
	CodeInvalidSequence    int = -32002 // Message arrived in an invalid session state

	// Registry errors (-32200 to -32299)
	CodeAlreadyRegistered int = -32200 // Duplicate key in a registry
	CodeInvalidTemplate   int = -32201 // Malformed URI template pattern

	// Capability errors (-32400 to -32499)
	CodeCapabilityRequired int = -32400 // Required capability not declared

	// Tool errors (-32500 to -32599)
	CodeToolCallFailed int = -32500 // Aggregated tool handler failure
)
