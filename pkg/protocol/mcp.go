package protocol

import "encoding/json"

const (
	// ProtocolRevision is the MCP protocol revision advertised during
	// the initialize handshake.
	ProtocolRevision = "2024-11-05"
)

// MCP method names as they appear on the wire.
const (
	MethodInitialize            = "initialize"
	MethodPing                  = "ping"
	MethodListTools             = "tools/list"
	MethodCallTool              = "tools/call"
	MethodListResources         = "resources/list"
	MethodReadResource          = "resources/read"
	MethodListResourceTemplates = "resources/templates/list"
	MethodSubscribeResource     = "resources/subscribe"
	MethodUnsubscribeResource   = "resources/unsubscribe"
	MethodListPrompts           = "prompts/list"
	MethodGetPrompt             = "prompts/get"
	MethodComplete              = "completion/complete"
	MethodSetLogLevel           = "logging/setLevel"
	MethodCreateMessage         = "sampling/createMessage"
	MethodListRoots             = "roots/list"
)

// MCP notification names as they appear on the wire.
const (
	NotificationInitialized         = "notifications/initialized"
	NotificationCancelled           = "notifications/cancelled"
	NotificationProgress            = "notifications/progress"
	NotificationMessage             = "notifications/message"
	NotificationToolListChanged     = "notifications/tools/list_changed"
	NotificationPromptListChanged   = "notifications/prompts/list_changed"
	NotificationResourceListChanged = "notifications/resources/list_changed"
	NotificationResourceUpdated     = "notifications/resources/updated"
	NotificationRootsListChanged    = "notifications/roots/list_changed"
)

// Implementation identifies either peer of a session. It is immutable
// for the lifetime of the session.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientCapabilities enumerates the feature groups the client
// advertised during the handshake. An absent group means the client
// does not support it.
type ClientCapabilities struct {
	Sampling     *SamplingCapability        `json:"sampling,omitempty"`
	Roots        *RootsCapability           `json:"roots,omitempty"`
	Experimental map[string]json.RawMessage `json:"experimental,omitempty"`
}

// SamplingCapability marks client-side support for sampling/createMessage.
type SamplingCapability struct{}

// RootsCapability marks client-side support for roots/list.
type RootsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ServerCapabilities enumerates the feature groups the server enables.
// An absent group causes all requests of that group to be rejected with
// a capability error.
type ServerCapabilities struct {
	Logging   *LoggingCapability   `json:"logging,omitempty"`
	Prompts   *PromptsCapability   `json:"prompts,omitempty"`
	Resources *ResourcesCapability `json:"resources,omitempty"`
	Tools     *ToolsCapability     `json:"tools,omitempty"`
}

// LoggingCapability marks server-side support for logging/setLevel and
// notifications/message.
type LoggingCapability struct{}

// PromptsCapability marks server-side support for the prompts group.
type PromptsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ResourcesCapability marks server-side support for the resources group.
type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

// ToolsCapability marks server-side support for the tools group.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// InitializeParams defines the parameters of the initialize request.
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Implementation     `json:"clientInfo"`
}

// InitializeResult defines the response to the initialize request.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// ClientInfo bundles the client identity and capabilities captured by
// the handshake; it is immutable thereafter.
type ClientInfo struct {
	Info         Implementation
	Capabilities ClientCapabilities
}

// PingParams defines the (empty) parameters of the ping request.
type PingParams struct{}

// PingResult is the (empty) response to a ping.
type PingResult struct{}

// RequestMeta carries the reserved _meta field of a request.
type RequestMeta struct {
	ProgressToken interface{} `json:"progressToken,omitempty"`
}

// CancelledParams defines the parameters of notifications/cancelled.
type CancelledParams struct {
	RequestID interface{} `json:"requestId"`
	Reason    string      `json:"reason,omitempty"`
}

// ProgressParams defines the parameters of notifications/progress.
type ProgressParams struct {
	ProgressToken interface{} `json:"progressToken"`
	Progress      float64     `json:"progress"`
	Total         *float64    `json:"total,omitempty"`
}

// LogLevel specifies the severity of a log message, ordered per the
// syslog severities used by MCP.
type LogLevel string

const (
	LogLevelDebug     LogLevel = "debug"
	LogLevelInfo      LogLevel = "info"
	LogLevelNotice    LogLevel = "notice"
	LogLevelWarning   LogLevel = "warning"
	LogLevelError     LogLevel = "error"
	LogLevelCritical  LogLevel = "critical"
	LogLevelAlert     LogLevel = "alert"
	LogLevelEmergency LogLevel = "emergency"
)

// SetLogLevelParams defines the parameters of logging/setLevel.
type SetLogLevelParams struct {
	Level LogLevel `json:"level"`
}

// SetLogLevelResult is the (empty) response to logging/setLevel.
type SetLogLevelResult struct{}

// LoggingMessageParams defines the parameters of notifications/message.
type LoggingMessageParams struct {
	Level  LogLevel        `json:"level"`
	Logger string          `json:"logger,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}
