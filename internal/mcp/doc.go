// Package mcp implements MCP (Model Context Protocol) client support,
// allowing Magpie to connect to external MCP servers and expose their
// tools to the conversation loop.
//
// MCP uses JSON-RPC 2.0 over two transports: stdio (subprocess) and
// HTTP (JSON-RPC over POST). The client discovers tools via tools/list
// and invokes them via tools/call. Discovered tools are bridged into
// Magpie's tool registry so they appear as native tools to the LLM,
// namespaced by server so that two servers exposing the same tool name
// never collide.
//
// Each stdio transport serializes wire access with a capacity-one
// semaphore: the protocol assumes one outstanding request per transport,
// and the semaphore enforces it. Response correlation is still by
// JSON-RPC id, so servers that emit notifications between a request and
// its response are handled correctly.
//
// The HTTP transport is request/response only. Server-initiated SSE
// streaming is not implemented; servers that answer with an event-stream
// body are rejected with an explicit error rather than misparsed.
//
// This implementation covers the client/host side only — Magpie does not
// act as an MCP server.
package mcp
