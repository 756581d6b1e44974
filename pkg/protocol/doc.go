// Package protocol defines the wire-level types of the Model Context
// Protocol: JSON-RPC 2.0 message envelopes, the MCP method names, and
// the request, result and notification payloads exchanged between a
// server and a connected client.
//
// The types here are deliberately free of behavior. Sessions, dispatch
// and registries live in the server package; transports frame and move
// these values in the transport package.
package protocol
