// Package server implements the server side of an MCP session: the
// initialization handshake and session state machine, the mutable
// registries of tools, resources, resource templates and prompts, the
// request dispatcher, the completion subsystem, and the outbound API
// (sampling, logging, roots, progress and list-changed notifications)
// exposed to user code.
//
// One Server owns one session. All registry and session state is
// guarded by a single mutex, so registrations may occur while requests
// are being served without races between "register tool X" and "list
// tools". Handlers run outside the lock and may block freely.
package server
